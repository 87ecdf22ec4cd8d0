package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// NegotiateBackend initializes the accelerated backend and falls back to the
// software backend when that fails. It returns ErrBackendUnavailable only
// when both fail.
func NegotiateBackend(ctx context.Context, p Provider, logger *slog.Logger) (Backend, error) {
	logger = orDiscard(logger)

	b, accelErr := p.InitBackend(ctx, true)
	if accelErr == nil {
		logger.Info("compute backend ready", "backend", b.Name(), "accelerated", b.Accelerated())
		return b, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Warn("accelerated backend unavailable, falling back to software",
		"error", accelErr)

	b, softErr := p.InitBackend(ctx, false)
	if softErr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, errors.Join(accelErr, softErr))
	}
	logger.Info("compute backend ready", "backend", b.Name(), "accelerated", b.Accelerated())
	return b, nil
}

// Materialize loads the model on b. A model that fails to load on an
// accelerated backend is retried once on the software backend. The backend
// handed in is always released.
func Materialize(ctx context.Context, p Provider, b Backend, logger *slog.Logger) (Detector, error) {
	logger = orDiscard(logger)

	det, err := b.LoadModel(ctx)
	b.Release()
	if err == nil {
		logger.Info("detector model loaded", "backend", b.Name())
		return det, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !b.Accelerated() {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	logger.Warn("model failed on accelerated backend, retrying on software",
		"backend", b.Name(),
		"error", err)

	soft, softErr := p.InitBackend(ctx, false)
	if softErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, errors.Join(err, softErr))
	}
	det, softErr = soft.LoadModel(ctx)
	soft.Release()
	if softErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, errors.Join(err, softErr))
	}
	logger.Info("detector model loaded", "backend", soft.Name())
	return det, nil
}

// Load negotiates a backend and materializes the model in one call
func Load(ctx context.Context, p Provider, logger *slog.Logger) (Detector, error) {
	b, err := NegotiateBackend(ctx, p, logger)
	if err != nil {
		return nil, err
	}
	return Materialize(ctx, p, b, logger)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
