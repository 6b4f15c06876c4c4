// Package encoder turns raw RGB captures into JPEG frames sized for the
// MJPEG stream.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// Encoder converts high-resolution RGB frames to JPEG. It is stateless:
// every frame is encoded on its own, so a viewer can attach mid-stream
// and decode from the next frame on.
type Encoder struct {
	quality   int
	outWidth  int
	outHeight int
}

// New creates an encoder producing outWidth x outHeight JPEGs at the
// given quality (1-100).
func New(quality, outWidth, outHeight int) *Encoder {
	return &Encoder{
		quality:   quality,
		outWidth:  outWidth,
		outHeight: outHeight,
	}
}

// Encode compresses one high-resolution RGB frame to JPEG, downscaling
// to the configured output size when it differs from the capture size.
func (e *Encoder) Encode(frame *types.Frame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("encoder: nil frame: %w", types.ErrInvalidInput)
	}
	if frame.Class != types.ClassHigh || frame.Format != types.FormatRGB {
		return nil, fmt.Errorf("encoder: want %s/%s frame, got %s/%s: %w",
			types.ClassHigh, types.FormatRGB, frame.Class, frame.Format, types.ErrInvalidInput)
	}
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) < frame.Width*frame.Height*3 {
		return nil, fmt.Errorf("encoder: frame %dx%d with %d bytes is not packed RGB: %w",
			frame.Width, frame.Height, len(frame.Data), types.ErrInvalidInput)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		src := y * frame.Width * 3
		dst := y * img.Stride
		for x := 0; x < frame.Width; x++ {
			img.Pix[dst+0] = frame.Data[src+0]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}

	out := image.Image(img)
	if frame.Width != e.outWidth || frame.Height != e.outHeight {
		scaled := image.NewRGBA(image.Rect(0, 0, e.outWidth, e.outHeight))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("encoder: jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
