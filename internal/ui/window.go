package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/facecap/internal/capture"
	"github.com/dudu/facecap/internal/stability"
)

var (
	green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Key codes returned by WaitKey that stop a capture
const (
	KeyEsc = 27
	KeyQ   = 'q'
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow creates a new preview window
func NewWindow(name string) *Window {
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(1280, 720)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		lastFrame: time.Now(),
	}
}

// Show draws the tick on its frame and returns the key pressed, or -1.
// It must run on the main thread.
func (w *Window) Show(r capture.TickReport) int {
	if !r.HasFrame {
		return w.window.WaitKey(1)
	}

	mat, err := gocv.ImageToMatRGB(r.Frame.Image)
	if err != nil {
		return w.window.WaitKey(1)
	}
	defer mat.Close()

	w.updateFPS()

	boxColor := red
	if r.Outcome == stability.OutcomeAccepted {
		boxColor = green
	}
	for _, f := range r.Faces {
		rect := image.Rect(int(f.XMin), int(f.YMin), int(f.XMax), int(f.YMax))
		gocv.Rectangle(&mat, rect, boxColor, 2)
	}

	gocv.PutText(&mat, fmt.Sprintf("FPS: %.1f", w.fps), image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, green, 2)
	gocv.PutText(&mat, r.State.String(), image.Pt(10, 60),
		gocv.FontHersheyPlain, 2, white, 2)
	if hint := r.Hint(); hint != "" {
		gocv.PutText(&mat, hint, image.Pt(10, 90),
			gocv.FontHersheyPlain, 2, yellow, 2)
	}
	w.drawProgress(&mat, r.Count, r.Threshold)

	w.window.IMShow(mat)
	return w.window.WaitKey(1)
}

// drawProgress renders the hold progress along the bottom edge
func (w *Window) drawProgress(mat *gocv.Mat, count, threshold int) {
	if threshold <= 0 {
		return
	}
	width, height := mat.Cols(), mat.Rows()
	frame := image.Rect(10, height-30, width-10, height-10)
	gocv.Rectangle(mat, frame, white, 1)

	filled := frame.Dx() * min(count, threshold) / threshold
	if filled > 0 {
		bar := image.Rect(frame.Min.X, frame.Min.Y, frame.Min.X+filled, frame.Max.Y)
		gocv.Rectangle(mat, bar, green, -1)
	}
}

func (w *Window) updateFPS() {
	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current preview frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
