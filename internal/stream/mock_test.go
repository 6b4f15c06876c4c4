package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

func testConfig() CameraConfig {
	return CameraConfig{
		CaptureTimeout: 2 * time.Second,
		Idle:           ModeCaps{Width: 32, Height: 18, FPS: 50},
		Active:         ModeCaps{Width: 64, Height: 36, FPS: 50},
	}
}

// TestMockLifecycle verifies start, capture, and stop.
func TestMockLifecycle(t *testing.T) {
	m := NewMock(testConfig())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("Expected error on double start")
	}

	frame, err := m.CaptureFrame(ctx)
	if err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}
	if frame.Class != types.ClassLow || frame.Format != types.FormatYUV420 {
		t.Errorf("Expected low/I420 frame, got %s/%s", frame.Class, frame.Format)
	}
	if frame.Width != 32 || frame.Height != 18 {
		t.Errorf("Expected 32x18, got %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Data) != 32*18*3/2 {
		t.Errorf("Expected %d bytes of YUV420, got %d", 32*18*3/2, len(frame.Data))
	}
	if frame.TraceID == "" {
		t.Error("Expected a trace id")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := m.CaptureFrame(ctx); !errors.Is(err, types.ErrDevice) {
		t.Errorf("Expected ErrDevice after stop, got %v", err)
	}
}

// TestMockModeSwitch verifies the generator swaps geometry and format.
func TestMockModeSwitch(t *testing.T) {
	m := NewMock(testConfig())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.SetMode(types.ModeActive); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if m.Mode() != types.ModeActive {
		t.Errorf("Expected active mode, got %v", m.Mode())
	}

	frame, err := m.CaptureFrame(ctx)
	if err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}
	if frame.Class != types.ClassHigh || frame.Format != types.FormatRGB {
		t.Errorf("Expected high/RGB frame, got %s/%s", frame.Class, frame.Format)
	}
	if frame.Width != 64 || frame.Height != 36 {
		t.Errorf("Expected 64x36, got %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Data) != 64*36*3 {
		t.Errorf("Expected %d bytes of RGB, got %d", 64*36*3, len(frame.Data))
	}

	// Switching to the current mode is a no-op.
	if err := m.SetMode(types.ModeActive); err != nil {
		t.Fatalf("SetMode no-op failed: %v", err)
	}
	if got := m.Stats().ModeSwitches; got != 1 {
		t.Errorf("Expected 1 mode switch, got %d", got)
	}

	if err := m.SetMode(types.CaptureMode(42)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown mode, got %v", err)
	}
}

// TestMockSetLuma verifies the luma knob reaches generated frames, which
// is what lets a dev box fake motion.
func TestMockSetLuma(t *testing.T) {
	m := NewMock(testConfig())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	m.SetLuma(200)

	// Frames generated before the change may still be buffered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		frame, err := m.CaptureFrame(ctx)
		if err != nil {
			t.Fatalf("CaptureFrame failed: %v", err)
		}
		if frame.Data[0] == 200 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Luma change never reached frames, last level %d", frame.Data[0])
		}
	}
}

// TestMockRestart verifies the source can be started again after a stop.
func TestMockRestart(t *testing.T) {
	m := NewMock(testConfig())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := m.CaptureFrame(ctx); err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer m.Stop()

	frame, err := m.CaptureFrame(ctx)
	if err != nil {
		t.Fatalf("CaptureFrame after restart failed: %v", err)
	}
	if frame.Class != types.ClassLow {
		t.Errorf("Expected low-res frame after restart, got %s", frame.Class)
	}
}
