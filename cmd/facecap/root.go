package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dudu/facecap/internal/capture"
	"github.com/dudu/facecap/internal/config"
)

var (
	// cfg is loaded once by the root command for every subcommand
	cfg    *config.Config
	logger *slog.Logger

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "facecap",
	Short:         "Hands-free face enrollment capture for kiosks",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger = NewLogger(parseLevel(cfg.Log.Level), cfg.Log.Format)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the CLI and exits with a code derived from the failure reason
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps capture failures to distinct process exit codes
func exitCode(err error) int {
	var ce *capture.Error
	if !errors.As(err, &ce) {
		return 1
	}
	switch ce.Reason {
	case capture.ReasonPermissionDenied:
		return 3
	case capture.ReasonDeviceUnavailable:
		return 4
	case capture.ReasonBackendUnavailable:
		return 5
	case capture.ReasonModelLoadFailed:
		return 6
	case capture.ReasonInferenceFailed:
		return 7
	case capture.ReasonEncodingFailed:
		return 8
	case capture.ReasonCancelled:
		return 130
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
}
