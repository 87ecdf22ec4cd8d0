package webcam

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/capture"
)

// Encoder encodes snapshots with OpenCV's JPEG codec. It is faster than
// image/jpeg on large frames.
type Encoder struct {
	Quality      int
	MaxDimension int
}

// Encode implements capture.Encoder
func (e Encoder) Encode(frame camera.Frame) (capture.ImageBuffer, error) {
	if frame.Empty() {
		return capture.ImageBuffer{}, fmt.Errorf("%w: empty frame", capture.ErrEncodingFailed)
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return capture.ImageBuffer{}, fmt.Errorf("%w: %w", capture.ErrEncodingFailed, err)
	}
	defer mat.Close()

	src := mat
	if e.MaxDimension > 0 && max(mat.Cols(), mat.Rows()) > e.MaxDimension {
		scale := float64(e.MaxDimension) / float64(max(mat.Cols(), mat.Rows()))
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Point{}, scale, scale, gocv.InterpolationArea)
		src = resized
	}

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = capture.DefaultJPEGQuality
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return capture.ImageBuffer{}, fmt.Errorf("%w: %w", capture.ErrEncodingFailed, err)
	}
	defer buf.Close()

	// NativeByteBuffer memory belongs to OpenCV, copy before closing
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return capture.ImageBuffer{
		Data:       data,
		MIMEType:   capture.MIMETypeJPEG,
		Width:      src.Cols(),
		Height:     src.Rows(),
		CapturedAt: frame.Timestamp,
	}, nil
}
