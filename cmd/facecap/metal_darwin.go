package main

import (
	"fmt"
	"io"

	"github.com/tsawler/go-metal/checkpoints"
)

// probeMetal reports whether the model imports into a go-metal graph
func probeMetal(out io.Writer, modelPath string) {
	fmt.Fprintln(out, "\ngo-metal:")

	importer := checkpoints.NewONNXImporter()
	checkpoint, err := importer.ImportFromONNX(modelPath)
	if err != nil {
		fmt.Fprintf(out, "  import failed: %v\n", err)
		fmt.Fprintln(out, "  the model uses operations go-metal does not support")
		return
	}

	fmt.Fprintf(out, "  imported %d layers, %d weight tensors\n",
		len(checkpoint.ModelSpec.Layers), len(checkpoint.Weights))
	for i, layer := range checkpoint.ModelSpec.Layers {
		fmt.Fprintf(out, "  %d: %s (%s)\n", i+1, layer.Name, layer.Type)
	}
}
