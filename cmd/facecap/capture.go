package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/camera/webcam"
	"github.com/dudu/facecap/internal/capture"
	"github.com/dudu/facecap/internal/config"
	"github.com/dudu/facecap/internal/detector/scrfd"
	"github.com/dudu/facecap/internal/inference"
	"github.com/dudu/facecap/internal/telemetry"
	"github.com/dudu/facecap/internal/ui"
)

type captureOptions struct {
	OutPath string
	Timeout time.Duration
	Preview bool
	Encoder string
	Camera  int
	Model   string
}

var captureOpts captureOptions

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one enrollment image once a single face holds still",
	Long: `Opens the camera, loads the face detector and scans until exactly one
centered face of sufficient size has been seen on consecutive frames. The
snapshot is written as JPEG to --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("camera") {
			cfg.Camera.Device = captureOpts.Camera
		}
		if cmd.Flags().Changed("model") {
			cfg.Detector.ModelPath = captureOpts.Model
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Capture.Timeout = captureOpts.Timeout
		}
		return runCapture(cmd.Context(), cfg, captureOpts)
	},
}

func runCapture(ctx context.Context, cfg *config.Config, opts captureOptions) error {
	if cfg.Capture.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Capture.Timeout)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	accelerated, err := inference.ParseProvider(cfg.Detector.Backend)
	if err != nil {
		return err
	}

	provider := scrfd.NewProvider(scrfd.Config{
		ModelPath:     cfg.Detector.ModelPath,
		LibraryPath:   cfg.Detector.LibraryPath,
		Accelerated:   accelerated,
		Threads:       cfg.Detector.Threads,
		InputSize:     cfg.Detector.InputSize,
		ConfThreshold: cfg.Detector.ConfThreshold,
		NMSThreshold:  cfg.Detector.NMSThreshold,
	}, logger)

	sessionOpts := []capture.Option{
		capture.WithLogger(logger),
		capture.WithConstraints(camera.Constraints{
			Device: cfg.Camera.Device,
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			FPS:    cfg.Camera.FPS,
			Facing: camera.Facing(cfg.Camera.Facing),
		}),
		capture.WithStabilityFrames(cfg.Capture.StabilityFrames),
		capture.WithMaxInferenceFailures(cfg.Capture.MaxInferenceFailures),
		capture.WithScheduler(capture.NewPacedScheduler(cfg.Capture.TickInterval)),
	}

	switch opts.Encoder {
	case "gocv":
		sessionOpts = append(sessionOpts, capture.WithEncoder(webcam.Encoder{
			Quality:      cfg.Capture.JPEGQuality,
			MaxDimension: cfg.Capture.MaxDimension,
		}))
	case "jpeg", "":
		sessionOpts = append(sessionOpts, capture.WithEncoder(capture.JPEGEncoder{
			Quality:      cfg.Capture.JPEGQuality,
			MaxDimension: cfg.Capture.MaxDimension,
		}))
	default:
		return fmt.Errorf("unknown encoder %q (use jpeg or gocv)", opts.Encoder)
	}

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.Connect(ctx, cfg.Telemetry, cfg.DeviceID, logger)
		if err != nil {
			// Status reporting is best effort, the capture still runs
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer pub.Close()
			sessionOpts = append(sessionOpts, capture.WithTransitionListener(pub.OnTransition))
		}
	}

	if opts.Preview {
		window := ui.NewWindow("facecap")
		defer window.Close()
		sessionOpts = append(sessionOpts, capture.WithTickListener(func(r capture.TickReport) {
			if key := window.Show(r); key == ui.KeyEsc || key == ui.KeyQ {
				stop()
			}
		}))
	} else {
		bar := progressbar.NewOptions(cfg.Capture.StabilityFrames,
			progressbar.OptionSetDescription("Looking for a face"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		sessionOpts = append(sessionOpts, capture.WithTickListener(func(r capture.TickReport) {
			bar.Describe(r.Hint())
			bar.Set(r.Count)
		}))
	}

	var captured capture.ImageBuffer
	session := capture.New(webcam.NewSource(logger), provider, func(buf capture.ImageBuffer) {
		captured = buf
	}, sessionOpts...)

	logger.Info("capture session starting",
		"session", session.ID(),
		"device", cfg.Camera.Device,
		"model", cfg.Detector.ModelPath)

	if err := session.Run(ctx); err != nil {
		return err
	}

	if err := os.WriteFile(opts.OutPath, captured.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.OutPath, err)
	}
	fmt.Printf("Captured %dx%d image (%d bytes) to %s\n",
		captured.Width, captured.Height, len(captured.Data), opts.OutPath)
	return nil
}

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureOpts.OutPath, "out", "o", "capture.jpg", "Output JPEG path")
	f.DurationVar(&captureOpts.Timeout, "timeout", 0, "Give up after this long (overrides config, 0 waits forever)")
	f.BoolVarP(&captureOpts.Preview, "preview", "p", false, "Show a preview window with face boxes")
	f.StringVar(&captureOpts.Encoder, "encoder", "jpeg", "Snapshot encoder: jpeg or gocv")
	f.IntVarP(&captureOpts.Camera, "camera", "c", 0, "Camera device index (overrides config)")
	f.StringVarP(&captureOpts.Model, "model", "m", "", "SCRFD model path (overrides config)")
	rootCmd.AddCommand(captureCmd)
}
