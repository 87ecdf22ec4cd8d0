package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudu/facecap/internal/detector"
	"github.com/dudu/facecap/internal/detector/scrfd"
	"github.com/dudu/facecap/internal/inference"
)

var probeCmd = &cobra.Command{
	Use:   "probe [model.onnx]",
	Short: "Check that the detector model loads on this machine",
	Long: `Prints the model's inputs, outputs and metadata, then negotiates a
compute backend the same way a capture session does and loads the model on it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := cfg.Detector.ModelPath
		if len(args) == 1 {
			modelPath = args[0]
		}
		return runProbe(cmd.Context(), cmd.OutOrStdout(), modelPath)
	},
}

func runProbe(ctx context.Context, out io.Writer, modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	fmt.Fprintf(out, "Model: %s\n", modelPath)

	if err := inference.Initialize(cfg.Detector.LibraryPath); err != nil {
		return err
	}
	info, err := inference.Inspect(modelPath)
	inference.Shutdown()
	if err != nil {
		return err
	}

	if info.Producer != "" {
		fmt.Fprintf(out, "Producer: %s (version %d)\n", info.Producer, info.Version)
	}
	fmt.Fprintln(out, "\nInputs:")
	for _, in := range info.Inputs {
		fmt.Fprintf(out, "  %s: %v (%s)\n", in.Name, in.Dimensions, in.DataType)
	}
	fmt.Fprintln(out, "\nOutputs:")
	for _, o := range info.Outputs {
		fmt.Fprintf(out, "  %s: %v (%s)\n", o.Name, o.Dimensions, o.DataType)
	}

	accelerated, err := inference.ParseProvider(cfg.Detector.Backend)
	if err != nil {
		return err
	}
	provider := scrfd.NewProvider(scrfd.Config{
		ModelPath:     modelPath,
		LibraryPath:   cfg.Detector.LibraryPath,
		Accelerated:   accelerated,
		Threads:       cfg.Detector.Threads,
		InputSize:     cfg.Detector.InputSize,
		ConfThreshold: cfg.Detector.ConfThreshold,
		NMSThreshold:  cfg.Detector.NMSThreshold,
	}, logger)

	fmt.Fprintln(out, "\nBackend:")
	backend, err := detector.NegotiateBackend(ctx, provider, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  negotiated %s (accelerated: %v)\n", backend.Name(), backend.Accelerated())

	det, err := detector.Materialize(ctx, provider, backend, logger)
	if err != nil {
		return err
	}
	defer det.Close()
	fmt.Fprintln(out, "  model loaded")

	probeMetal(out, modelPath)
	return nil
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
