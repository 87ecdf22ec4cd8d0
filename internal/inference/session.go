package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	refs   int
	initMu sync.Mutex
)

// Initialize sets up the ONNX Runtime environment. Calls are reference
// counted; every successful Initialize must be paired with Shutdown.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if refs > 0 {
		refs++
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	refs = 1
	return nil
}

// Shutdown releases one reference and destroys the environment with the last one
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if refs == 0 {
		return nil
	}
	refs--
	if refs > 0 {
		return nil
	}

	return ort.DestroyEnvironment()
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	provider    Provider
	inputNames  []string
	outputNames []string
}

// NewSession creates a session for modelPath on the execution provider held by opts
func NewSession(modelPath string, inputNames, outputNames []string, opts *Options) (*Session, error) {
	initMu.Lock()
	ready := refs > 0
	initMu.Unlock()
	if !ready {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		opts.options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session for %s: %w", opts.provider, modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		provider:    opts.provider,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Provider returns the execution provider the session runs on
func (s *Session) Provider() Provider {
	return s.provider
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
