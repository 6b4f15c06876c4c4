package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// Mock generates synthetic frames for development machines without a
// camera. It honors the same mode contract as Camera: one geometry at a
// time, fresh channel per mode switch. SetLuma fakes scene changes for
// exercising the motion path end to end.
type Mock struct {
	idle    profile
	active  profile
	timeout time.Duration

	mu        sync.RWMutex
	mode      types.CaptureMode
	framesCh  chan *types.Frame
	stopCh    chan struct{}
	baseCtx   context.Context
	wg        sync.WaitGroup
	isRunning bool
	startTime time.Time

	// Touched from the generator goroutine while mu may be held by a
	// stopper, so these stay atomic like the camera's counters.
	seq           uint64
	framesEmitted uint64
	modeSwitches  uint32
	luma          uint32
}

// NewMock creates a mock source with the same caps a camera would use.
func NewMock(cfg CameraConfig) *Mock {
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mock{
		idle: profile{
			width:  cfg.Idle.Width,
			height: cfg.Idle.Height,
			fps:    cfg.Idle.FPS,
			format: types.FormatYUV420,
			class:  types.ClassLow,
		},
		active: profile{
			width:  cfg.Active.Width,
			height: cfg.Active.Height,
			fps:    cfg.Active.FPS,
			format: types.FormatRGB,
			class:  types.ClassHigh,
		},
		timeout:  timeout,
		mode:     types.ModeIdle,
		framesCh: make(chan *types.Frame, frameBuffer),
		stopCh:   make(chan struct{}),
		luma:     100,
	}
}

func (m *Mock) profileFor(mode types.CaptureMode) profile {
	if mode == types.ModeActive {
		return m.active
	}
	return m.idle
}

// Start begins generating frames for the current mode.
func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("mock source already running")
	}
	m.isRunning = true
	m.baseCtx = ctx
	m.startTime = time.Now()

	prof := m.profileFor(m.mode)
	slog.Info("mock source starting",
		"mode", m.mode.String(),
		"resolution", fmt.Sprintf("%dx%d", prof.width, prof.height),
		"target_fps", prof.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx, prof, m.stopCh, m.framesCh)

	return nil
}

// SetMode switches the generator to the other geometry. Pending frames
// from the old mode are discarded with the old channel.
func (m *Mock) SetMode(mode types.CaptureMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mode != types.ModeIdle && mode != types.ModeActive {
		return fmt.Errorf("unknown capture mode %v: %w", mode, types.ErrInvalidInput)
	}
	if mode == m.mode {
		return nil
	}
	if !m.isRunning {
		m.mode = mode
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()

	m.mode = mode
	atomic.AddUint32(&m.modeSwitches, 1)
	m.framesCh = make(chan *types.Frame, frameBuffer)
	m.stopCh = make(chan struct{})

	prof := m.profileFor(mode)
	m.wg.Add(1)
	go m.generateFrames(m.baseCtx, prof, m.stopCh, m.framesCh)

	slog.Info("mock capture mode switched", "mode", mode.String())
	return nil
}

// Mode returns the current capture mode.
func (m *Mock) Mode() types.CaptureMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// CaptureFrame returns the next synthetic frame.
func (m *Mock) CaptureFrame(ctx context.Context) (*types.Frame, error) {
	m.mu.RLock()
	frames := m.framesCh
	running := m.isRunning
	m.mu.RUnlock()

	if !running {
		return nil, fmt.Errorf("mock source not started: %w", types.ErrDevice)
	}

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, fmt.Errorf("mock source gone: %w", types.ErrDevice)
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.timeout):
		return nil, fmt.Errorf("no frame within %s: %w", m.timeout, types.ErrDevice)
	}
}

// SetLuma sets the synthetic luma level. Jumping the level between
// captures simulates motion; holding it steady simulates a still scene.
func (m *Mock) SetLuma(v uint8) {
	atomic.StoreUint32(&m.luma, uint32(v))
}

// Stop halts frame generation.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)
	m.isRunning = false

	slog.Info("mock source stopped",
		"frames_emitted", atomic.LoadUint64(&m.framesEmitted),
		"duration", time.Since(m.startTime),
	)

	// Fresh channels so a later Start works.
	m.framesCh = make(chan *types.Frame, frameBuffer)
	m.stopCh = make(chan struct{})
	return nil
}

// Stats returns current capture statistics.
func (m *Mock) Stats() types.CaptureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prof := m.profileFor(m.mode)
	emitted := atomic.LoadUint64(&m.framesEmitted)

	var fpsReal float64
	if m.isRunning && emitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(emitted) / elapsed
		}
	}

	return types.CaptureStats{
		Mode:         m.mode.String(),
		FrameCount:   emitted,
		FPSTarget:    prof.fps,
		FPSReal:      fpsReal,
		Resolution:   fmt.Sprintf("%dx%d", prof.width, prof.height),
		ModeSwitches: atomic.LoadUint32(&m.modeSwitches),
		IsRunning:    m.isRunning,
	}
}

// generateFrames emits frames at the profile's target rate.
func (m *Mock) generateFrames(ctx context.Context, prof profile, stopCh <-chan struct{}, frames chan<- *types.Frame) {
	defer m.wg.Done()

	fps := prof.fps
	if fps <= 0 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame(prof)
			select {
			case frames <- frame:
				atomic.AddUint64(&m.framesEmitted, 1)
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}
}

// createFrame builds one synthetic frame for the given profile.
func (m *Mock) createFrame(prof profile) *types.Frame {
	seq := atomic.AddUint64(&m.seq, 1)
	luma := uint8(atomic.LoadUint32(&m.luma))

	var data []byte
	if prof.class == types.ClassLow {
		// Planar YUV420: flat luma plane, neutral chroma.
		data = make([]byte, prof.width*prof.height*3/2)
		n := prof.width * prof.height
		for i := 0; i < n; i++ {
			data[i] = luma
		}
		for i := n; i < len(data); i++ {
			data[i] = 128
		}
	} else {
		// Packed RGB gradient with the luma level as the blue channel,
		// so streamed frames visibly track SetLuma.
		data = make([]byte, prof.width*prof.height*3)
		for y := 0; y < prof.height; y++ {
			for x := 0; x < prof.width; x++ {
				i := (y*prof.width + x) * 3
				data[i+0] = byte(x * 255 / prof.width)
				data[i+1] = byte(y * 255 / prof.height)
				data[i+2] = luma
			}
		}
	}

	return &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     prof.width,
		Height:    prof.height,
		Class:     prof.class,
		Format:    prof.format,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}
