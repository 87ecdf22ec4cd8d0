package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/dudu/facecap/internal/camera"
)

// MIMETypeJPEG is the MIME type of JPEG encoded buffers
const MIMETypeJPEG = "image/jpeg"

// ImageBuffer is an encoded still image. It is owned by whoever receives it.
type ImageBuffer struct {
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether the buffer holds no image data
func (b ImageBuffer) Empty() bool {
	return len(b.Data) == 0
}

// Encoder turns the final snapshot into an ImageBuffer
type Encoder interface {
	Encode(frame camera.Frame) (ImageBuffer, error)
}

// JPEGEncoder encodes frames as baseline JPEG
type JPEGEncoder struct {
	// Quality is the JPEG quality in [1,100]. Zero uses jpeg.DefaultQuality.
	Quality int
	// MaxDimension bounds the longest side of the output. Zero keeps the
	// frame size.
	MaxDimension int
}

// Encode implements Encoder
func (e JPEGEncoder) Encode(frame camera.Frame) (ImageBuffer, error) {
	if frame.Empty() {
		return ImageBuffer{}, fmt.Errorf("%w: empty frame", ErrEncodingFailed)
	}

	img := Downscale(frame.Image, e.MaxDimension)

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return ImageBuffer{}, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	bounds := img.Bounds()
	return ImageBuffer{
		Data:       buf.Bytes(),
		MIMEType:   MIMETypeJPEG,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: capturedAt(frame),
	}, nil
}

// Downscale resizes img so its longest side is at most maxDim, keeping the
// aspect ratio. Images already within bounds are returned as is.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = max(1, h*maxDim/w)
	} else {
		nh = maxDim
		nw = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func capturedAt(frame camera.Frame) time.Time {
	if frame.Timestamp.IsZero() {
		return time.Now()
	}
	return frame.Timestamp
}
