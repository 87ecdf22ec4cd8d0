package config

import (
	"fmt"
	"regexp"
)

var deviceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in derived defaults
func Validate(cfg *Config) error {
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must match pattern [a-z0-9-]+")
	}

	// Camera values are ideals, only reject what no device could satisfy
	if cfg.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be >= 0")
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 || cfg.Camera.FPS < 0 {
		return fmt.Errorf("camera width, height and fps must be >= 0")
	}
	switch cfg.Camera.Facing {
	case "user", "environment":
	case "":
		cfg.Camera.Facing = "user"
	default:
		return fmt.Errorf("camera.facing must be user or environment, got %q", cfg.Camera.Facing)
	}

	if cfg.Detector.ModelPath == "" {
		return fmt.Errorf("detector.model_path is required")
	}
	switch cfg.Detector.Backend {
	case "", "auto", "coreml", "cuda":
	default:
		return fmt.Errorf("detector.backend must be auto, coreml or cuda, got %q", cfg.Detector.Backend)
	}
	if cfg.Detector.InputSize <= 0 || cfg.Detector.InputSize%32 != 0 {
		return fmt.Errorf("detector.input_size must be a positive multiple of 32")
	}
	if cfg.Detector.ConfThreshold <= 0 || cfg.Detector.ConfThreshold >= 1 {
		return fmt.Errorf("detector.conf_threshold must be in (0,1)")
	}
	if cfg.Detector.NMSThreshold <= 0 || cfg.Detector.NMSThreshold >= 1 {
		return fmt.Errorf("detector.nms_threshold must be in (0,1)")
	}

	if cfg.Capture.StabilityFrames <= 0 {
		cfg.Capture.StabilityFrames = 6 // default
	}
	if cfg.Capture.TickInterval < 0 {
		return fmt.Errorf("capture.tick_interval must be >= 0")
	}
	if cfg.Capture.MaxInferenceFailures < 0 {
		return fmt.Errorf("capture.max_inference_failures must be >= 0")
	}
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		cfg.Capture.JPEGQuality = 90
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Broker == "" {
			return fmt.Errorf("telemetry.broker is required when telemetry is enabled")
		}
		if cfg.Telemetry.QoS > 2 {
			return fmt.Errorf("telemetry.qos must be 0, 1 or 2")
		}
	}
	if cfg.Telemetry.Topic == "" {
		cfg.Telemetry.Topic = fmt.Sprintf("facecap/%s/status", cfg.DeviceID)
	}
	if cfg.Telemetry.ClientID == "" {
		cfg.Telemetry.ClientID = fmt.Sprintf("facecap-%s", cfg.DeviceID)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = "info"
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	case "":
		cfg.Log.Format = "text"
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}
