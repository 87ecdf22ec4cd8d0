package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FACECAP_"

// Config represents the complete facecap configuration
type Config struct {
	DeviceID  string          `yaml:"device_id"`
	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	Capture   CaptureConfig   `yaml:"capture"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Device int    `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Facing string `yaml:"facing"` // user, environment
}

// DetectorConfig contains face detector settings
type DetectorConfig struct {
	ModelPath     string  `yaml:"model_path"`
	LibraryPath   string  `yaml:"library_path"` // onnxruntime shared library, empty uses the default search path
	Backend       string  `yaml:"backend"`      // auto, coreml, cuda
	Threads       int     `yaml:"threads"`
	InputSize     int     `yaml:"input_size"`
	ConfThreshold float32 `yaml:"conf_threshold"`
	NMSThreshold  float32 `yaml:"nms_threshold"`
}

// CaptureConfig contains capture loop settings
type CaptureConfig struct {
	StabilityFrames      int           `yaml:"stability_frames"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	MaxInferenceFailures int           `yaml:"max_inference_failures"` // 0 retries until cancelled
	JPEGQuality          int           `yaml:"jpeg_quality"`
	MaxDimension         int           `yaml:"max_dimension"` // 0 keeps the camera resolution
	Timeout              time.Duration `yaml:"timeout"`       // 0 waits forever
}

// TelemetryConfig contains MQTT status publishing settings
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		DeviceID: "kiosk",
		Camera: CameraConfig{
			Device: 0,
			Width:  1280,
			Height: 720,
			FPS:    30,
			Facing: "user",
		},
		Detector: DetectorConfig{
			ModelPath:     "models/det_10g.onnx",
			Backend:       "auto",
			InputSize:     640,
			ConfThreshold: 0.5,
			NMSThreshold:  0.4,
		},
		Capture: CaptureConfig{
			StabilityFrames: 6,
			TickInterval:    time.Second / 30,
			JPEGQuality:     90,
		},
		Telemetry: TelemetryConfig{
			Broker: "tcp://localhost:1883",
			QoS:    1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and FACECAP_* variables, in
// that order of precedence from lowest to highest.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DeviceID = envString("DEVICE_ID", cfg.DeviceID)

	cfg.Camera.Device = envInt("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.Width = envInt("CAMERA_WIDTH", cfg.Camera.Width)
	cfg.Camera.Height = envInt("CAMERA_HEIGHT", cfg.Camera.Height)
	cfg.Camera.FPS = envInt("CAMERA_FPS", cfg.Camera.FPS)
	cfg.Camera.Facing = envString("CAMERA_FACING", cfg.Camera.Facing)

	cfg.Detector.ModelPath = envString("MODEL_PATH", cfg.Detector.ModelPath)
	cfg.Detector.LibraryPath = envString("ORT_LIBRARY_PATH", cfg.Detector.LibraryPath)
	cfg.Detector.Backend = envString("BACKEND", cfg.Detector.Backend)
	cfg.Detector.Threads = envInt("THREADS", cfg.Detector.Threads)

	cfg.Capture.StabilityFrames = envInt("STABILITY_FRAMES", cfg.Capture.StabilityFrames)
	cfg.Capture.MaxInferenceFailures = envInt("MAX_INFERENCE_FAILURES", cfg.Capture.MaxInferenceFailures)
	cfg.Capture.Timeout = envDuration("TIMEOUT", cfg.Capture.Timeout)

	cfg.Telemetry.Enabled = envBool("TELEMETRY", cfg.Telemetry.Enabled)
	cfg.Telemetry.Broker = envString("MQTT_BROKER", cfg.Telemetry.Broker)
	cfg.Telemetry.Username = envString("MQTT_USERNAME", cfg.Telemetry.Username)
	cfg.Telemetry.Password = envString("MQTT_PASSWORD", cfg.Telemetry.Password)

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(EnvPrefix + key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads a non-negative integer, falling back to defaultVal when the
// variable is unset or invalid
func envInt(key string, defaultVal int) int {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}
