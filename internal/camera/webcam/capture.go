package webcam

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/facecap/internal/camera"
)

// Source opens local webcams through OpenCV
type Source struct {
	logger *slog.Logger

	mu   sync.Mutex
	open map[int]bool
}

// NewSource creates a webcam source
func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{logger: logger, open: make(map[int]bool)}
}

// Open acquires the device named by c.Device. Only one handle per device may
// be open at a time.
func (s *Source) Open(ctx context.Context, c camera.Constraints) (camera.Handle, error) {
	if err := probeDevice(c.Device); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.open[c.Device] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: camera %d is already in use", camera.ErrDeviceUnavailable, c.Device)
	}
	s.open[c.Device] = true
	s.mu.Unlock()

	capture, err := newCapture(c, s.logger)
	if err != nil {
		s.release(c.Device)
		return nil, err
	}
	capture.onClose = func() { s.release(c.Device) }

	if err := ctx.Err(); err != nil {
		capture.Close()
		return nil, err
	}
	return capture, nil
}

func (s *Source) release(device int) {
	s.mu.Lock()
	delete(s.open, device)
	s.mu.Unlock()
}

// probeDevice maps OS level access errors before OpenCV hides them
func probeDevice(device int) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	path := fmt.Sprintf("/dev/video%d", device)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", camera.ErrPermissionDenied, path, err)
		}
		return fmt.Errorf("%w: %s: %v", camera.ErrDeviceUnavailable, path, err)
	}
	return f.Close()
}

// Capture is an open webcam. A reader goroutine keeps the latest frame so
// CurrentFrame never blocks on the device.
type Capture struct {
	webcam  *gocv.VideoCapture
	device  int
	mirror  bool
	width   int
	height  int
	logger  *slog.Logger
	onClose func()

	mu     sync.Mutex
	latest gocv.Mat
	seq    uint64
	stamp  time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newCapture(c camera.Constraints, logger *slog.Logger) (*Capture, error) {
	webcam, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open camera %d: %v", camera.ErrDeviceUnavailable, c.Device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("%w: camera %d did not open", camera.ErrDeviceUnavailable, c.Device)
	}

	// Requested values are hints, the driver picks the closest mode
	if c.Width > 0 && c.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(c.FPS))
	}

	actualWidth := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	actualHeight := int(webcam.Get(gocv.VideoCaptureFrameHeight))

	capture := &Capture{
		webcam: webcam,
		device: c.Device,
		mirror: c.Facing == camera.FacingUser,
		width:  actualWidth,
		height: actualHeight,
		logger: logger,
		latest: gocv.NewMat(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	logger.Info("camera opened",
		"device", c.Device,
		"width", actualWidth,
		"height", actualHeight,
		"mirror", capture.mirror)

	go capture.readLoop()
	return capture, nil
}

func (c *Capture) readLoop() {
	defer close(c.done)

	frame := gocv.NewMat()
	defer frame.Close()
	flipped := gocv.NewMat()
	defer flipped.Close()

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if !c.webcam.Read(&frame) || frame.Empty() {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		src := frame
		if c.mirror {
			gocv.Flip(frame, &flipped, 1)
			src = flipped
		}

		c.mu.Lock()
		src.CopyTo(&c.latest)
		c.seq++
		c.stamp = time.Now()
		c.mu.Unlock()
	}
}

// CurrentFrame returns a copy of the most recent frame
func (c *Capture) CurrentFrame() (camera.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == 0 || c.latest.Empty() {
		return camera.Frame{}, false
	}

	img, err := c.latest.ToImage()
	if err != nil {
		c.logger.Warn("frame conversion failed", "device", c.device, "error", err)
		return camera.Frame{}, false
	}

	return camera.Frame{
		Image:     img,
		Width:     c.latest.Cols(),
		Height:    c.latest.Rows(),
		Timestamp: c.stamp,
		Seq:       c.seq,
	}, true
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Close stops the reader and releases the camera
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		c.latest.Close()
		c.mu.Unlock()

		c.closeErr = c.webcam.Close()
		if c.onClose != nil {
			c.onClose()
		}
		c.logger.Info("camera released", "device", c.device)
	})
	return c.closeErr
}
