package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output
type TensorInfo struct {
	Name       string
	Dimensions []int64
	DataType   string
}

// ModelInfo summarises an ONNX model without creating a session
type ModelInfo struct {
	Inputs      []TensorInfo
	Outputs     []TensorInfo
	Producer    string
	Version     int64
	Domain      string
	Description string
}

// Inspect reads input/output descriptions and metadata from modelPath.
// The environment must be initialized.
func Inspect(modelPath string) (*ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}

	info := &ModelInfo{}
	for _, in := range inputs {
		info.Inputs = append(info.Inputs, TensorInfo{
			Name:       in.Name,
			Dimensions: in.Dimensions,
			DataType:   fmt.Sprint(in.DataType),
		})
	}
	for _, out := range outputs {
		info.Outputs = append(info.Outputs, TensorInfo{
			Name:       out.Name,
			Dimensions: out.Dimensions,
			DataType:   fmt.Sprint(out.DataType),
		})
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return info, nil
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if version, err := metadata.GetVersion(); err == nil {
		info.Version = version
	}
	if domain, err := metadata.GetDomain(); err == nil {
		info.Domain = domain
	}
	if desc, err := metadata.GetDescription(); err == nil {
		info.Description = desc
	}
	return info, nil
}
