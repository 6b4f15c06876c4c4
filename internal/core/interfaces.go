package core

import (
	"context"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// FrameSource is an exclusive capture device serving one mode at a time.
// The coordinator is the single caller of SetMode and CaptureFrame; no
// other component talks to the hardware.
type FrameSource interface {
	// Start brings the device up in its current mode
	Start(ctx context.Context) error
	// SetMode retunes the device for the given mode
	SetMode(mode types.CaptureMode) error
	// CaptureFrame returns the next frame for the current mode
	CaptureFrame(ctx context.Context) (*types.Frame, error)
	// Mode returns the current capture mode
	Mode() types.CaptureMode
	// Stop releases the device
	Stop() error
	// Stats returns capture statistics
	Stats() types.CaptureStats
}

// EventSink receives activity events inside the process. Emit must not
// block; a slow consumer drops events rather than stalling the tick loop.
type EventSink interface {
	Emit(ev types.Event)
}
