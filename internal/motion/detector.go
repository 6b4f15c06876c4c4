// Package motion implements frame-differencing motion detection on the
// low-resolution luma plane.
//
// Scoring is the mean absolute per-pixel luma difference between two
// consecutive frames, so scores live on a 0-255 scale regardless of
// resolution. A score at or above the configured threshold counts as
// motion.
package motion

import (
	"fmt"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// Detector scores consecutive low-resolution frames for scene change.
// It holds no state between calls; the caller keeps the previous frame.
type Detector struct {
	threshold float64
}

// New creates a detector with the given threshold on the 0-255 score scale.
func New(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// Threshold returns the configured motion threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Detect compares current against previous and reports whether the scene
// changed. A nil previous frame (startup, or the first frame after a mode
// switch) always reports no motion so a fresh baseline never wakes the
// display. Both frames must be low-resolution YUV with matching geometry.
func (d *Detector) Detect(previous, current *types.Frame) (types.MotionState, error) {
	if current == nil {
		return types.MotionState{}, fmt.Errorf("motion: nil current frame: %w", types.ErrInvalidInput)
	}
	if err := checkFrame(current); err != nil {
		return types.MotionState{}, err
	}
	if previous == nil {
		return types.MotionState{At: current.Timestamp}, nil
	}
	if err := checkFrame(previous); err != nil {
		return types.MotionState{}, err
	}
	if previous.Width != current.Width || previous.Height != current.Height {
		return types.MotionState{}, fmt.Errorf("motion: frame geometry changed %dx%d -> %dx%d: %w",
			previous.Width, previous.Height, current.Width, current.Height, types.ErrInvalidInput)
	}

	prev := previous.Luma()
	cur := current.Luma()
	if len(cur) == 0 || len(prev) != len(cur) {
		return types.MotionState{}, fmt.Errorf("motion: luma plane size mismatch %d vs %d: %w",
			len(prev), len(cur), types.ErrInvalidInput)
	}

	var sum uint64
	for i := range cur {
		diff := int(cur[i]) - int(prev[i])
		if diff < 0 {
			diff = -diff
		}
		sum += uint64(diff)
	}
	score := float64(sum) / float64(len(cur))

	return types.MotionState{
		Changed: score >= d.threshold,
		Score:   score,
		At:      current.Timestamp,
	}, nil
}

func checkFrame(f *types.Frame) error {
	if f.Class != types.ClassLow || f.Format != types.FormatYUV420 {
		return fmt.Errorf("motion: want %s/%s frame, got %s/%s: %w",
			types.ClassLow, types.FormatYUV420, f.Class, f.Format, types.ErrInvalidInput)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height {
		return fmt.Errorf("motion: frame %dx%d with %d bytes has no full luma plane: %w",
			f.Width, f.Height, len(f.Data), types.ErrInvalidInput)
	}
	return nil
}
