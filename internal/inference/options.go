package inference

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Provider names an ONNX Runtime execution provider
type Provider string

const (
	ProviderCoreML Provider = "coreml"
	ProviderCUDA   Provider = "cuda"
	ProviderCPU    Provider = "cpu"
)

// Accelerated reports whether the provider runs on dedicated hardware
func (p Provider) Accelerated() bool {
	return p == ProviderCoreML || p == ProviderCUDA
}

// DefaultAccelerated returns the hardware provider for the current platform
func DefaultAccelerated() Provider {
	if runtime.GOOS == "darwin" {
		return ProviderCoreML
	}
	return ProviderCUDA
}

// ParseProvider validates a provider name from configuration
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case ProviderCoreML, ProviderCUDA, ProviderCPU:
		return p, nil
	case "", "auto":
		return DefaultAccelerated(), nil
	default:
		return "", fmt.Errorf("unknown execution provider %q (use coreml, cuda, cpu or auto)", name)
	}
}

// Options are session options bound to one execution provider
type Options struct {
	options  *ort.SessionOptions
	provider Provider
}

// NewOptions builds session options for provider. Appending a hardware
// provider fails when the runtime was built without it.
func NewOptions(provider Provider, threads int) (*Options, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	switch provider {
	case ProviderCoreML:
		// Flag 0 = default settings, use Neural Engine + GPU
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("coreml execution provider: %w", err)
		}
	case ProviderCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("cuda execution provider: %w", err)
		}
	case ProviderCPU:
	default:
		options.Destroy()
		return nil, fmt.Errorf("unknown execution provider %q", provider)
	}

	return &Options{options: options, provider: provider}, nil
}

// Provider returns the execution provider of the options
func (o *Options) Provider() Provider {
	return o.provider
}

// Destroy releases the options. Sessions created from them stay valid.
func (o *Options) Destroy() error {
	if o.options != nil {
		err := o.options.Destroy()
		o.options = nil
		return err
	}
	return nil
}
