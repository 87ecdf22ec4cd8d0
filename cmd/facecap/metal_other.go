//go:build !darwin

package main

import "io"

// go-metal needs Apple's Metal framework
func probeMetal(out io.Writer, modelPath string) {}
