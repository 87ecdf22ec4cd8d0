package scrfd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dudu/facecap/internal/detector"
	"github.com/dudu/facecap/internal/inference"
)

// Config holds detector configuration
type Config struct {
	ModelPath     string
	LibraryPath   string
	Accelerated   inference.Provider
	Threads       int
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
}

// Provider creates SCRFD detectors on ONNX Runtime
type Provider struct {
	config Config
	logger *slog.Logger
}

// NewProvider creates a provider. The ONNX Runtime environment is
// initialized lazily by InitBackend.
func NewProvider(config Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.InputSize <= 0 {
		config.InputSize = 640
	}
	if config.Accelerated == "" {
		config.Accelerated = inference.DefaultAccelerated()
	}
	return &Provider{config: config, logger: logger}
}

// InitBackend initializes the runtime and binds session options to the
// accelerated provider or to the CPU
func (p *Provider) InitBackend(ctx context.Context, accelerated bool) (detector.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	provider := inference.ProviderCPU
	if accelerated {
		provider = p.config.Accelerated
		if !provider.Accelerated() {
			return nil, fmt.Errorf("%q is not a hardware execution provider", provider)
		}
	}

	if err := inference.Initialize(p.config.LibraryPath); err != nil {
		return nil, err
	}

	opts, err := inference.NewOptions(provider, p.config.Threads)
	if err != nil {
		inference.Shutdown()
		return nil, err
	}

	p.logger.Debug("execution provider configured", "provider", provider)
	return &backend{provider: p, opts: opts}, nil
}

// backend holds one runtime reference until the model is loaded
type backend struct {
	provider *Provider
	opts     *inference.Options
	released bool
}

func (b *backend) Name() string      { return string(b.opts.Provider()) }
func (b *backend) Accelerated() bool { return b.opts.Provider().Accelerated() }

// LoadModel creates the SCRFD session. The returned detector keeps its own
// runtime reference.
func (b *backend) LoadModel(ctx context.Context) (detector.Detector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := b.provider.config
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	if err := inference.Initialize(cfg.LibraryPath); err != nil {
		return nil, err
	}
	det, err := NewSCRFD(cfg.ModelPath, b.opts, cfg.InputSize, cfg.ConfThreshold, cfg.NMSThreshold)
	if err != nil {
		inference.Shutdown()
		return nil, err
	}
	return &ownedDetector{SCRFD: det}, nil
}

// Release destroys the session options and drops the backend's runtime reference
func (b *backend) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	err := b.opts.Destroy()
	inference.Shutdown()
	return err
}

// ownedDetector drops the runtime reference when closed
type ownedDetector struct {
	*SCRFD
	closed bool
}

func (d *ownedDetector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.SCRFD.Close()
	inference.Shutdown()
	return err
}
