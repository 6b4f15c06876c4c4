package types

import (
	"fmt"
	"time"
)

// FrameClass identifies the resolution class a frame was captured at.
type FrameClass string

const (
	// ClassLow is the low-resolution class used for motion sampling.
	ClassLow FrameClass = "low"
	// ClassHigh is the high-resolution class used for streaming.
	ClassHigh FrameClass = "high"
)

// PixelFormat identifies the raw buffer layout of a frame.
type PixelFormat string

const (
	// FormatYUV420 is planar YUV 4:2:0 (luma plane first, then chroma).
	FormatYUV420 PixelFormat = "I420"
	// FormatRGB is packed RGB, 3 bytes per pixel.
	FormatRGB PixelFormat = "RGB"
)

// CaptureMode selects what the camera is tuned for.
type CaptureMode int

const (
	// ModeIdle captures low-res YUV frames for motion sampling.
	ModeIdle CaptureMode = iota
	// ModeActive captures high-res RGB frames for streaming.
	ModeActive
)

func (m CaptureMode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeActive:
		return "active"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Frame represents a single captured video frame. Frames are immutable
// once captured; ownership passes from the camera to exactly one
// consumer per tick (the detector or the encoder, never both).
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Class is the resolution class the frame was captured at
	Class FrameClass
	// Format describes the layout of Data
	Format PixelFormat
	// Data contains the raw frame bytes
	Data []byte
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// Luma returns the luma (Y) plane of a YUV420 frame. In planar 4:2:0 the
// first Width*Height bytes are the full-resolution luma samples.
func (f *Frame) Luma() []byte {
	n := f.Width * f.Height
	if n <= 0 || len(f.Data) < n {
		return f.Data
	}
	return f.Data[:n]
}

// MotionState is the per-tick result of motion detection. Ephemeral:
// recomputed every idle tick from the current and preceding low-res frame.
type MotionState struct {
	Changed bool
	Score   float64
	At      time.Time
}

// CaptureStats contains capture statistics for a frame source.
type CaptureStats struct {
	Mode         string  `json:"mode"`
	FrameCount   uint64  `json:"frame_count"`
	FPSTarget    int     `json:"fps_target"`
	FPSReal      float64 `json:"fps_real"`
	Resolution   string  `json:"resolution"`
	ModeSwitches uint32  `json:"mode_switches"`
	Rebuilds     uint32  `json:"rebuilds"`
	BytesRead    uint64  `json:"bytes_read"`
	IsRunning    bool    `json:"is_running"`
	Errors       uint64  `json:"errors"`
}
