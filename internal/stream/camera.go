// Package stream provides frame sources backed by the local camera
// module, plus a synthetic source for development machines.
//
// The camera serves exactly one capture mode at a time: low-resolution
// YUV for motion sampling or high-resolution RGB for streaming. A mode
// switch tears the GStreamer pipeline down and rebuilds it with the new
// caps, because the sensor cannot deliver both geometries at once.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

const frameBuffer = 10

// CameraConfig contains camera capture configuration.
type CameraConfig struct {
	Device         string // libcamera camera name; empty selects the first camera
	VFlip          bool
	CaptureTimeout time.Duration
	Idle           ModeCaps
	Active         ModeCaps
}

// ModeCaps is the geometry and rate for one capture mode.
type ModeCaps struct {
	Width  int
	Height int
	FPS    int
}

// profile is the full negotiation target for one mode.
type profile struct {
	width  int
	height int
	fps    int
	format types.PixelFormat
	class  types.FrameClass
}

// Camera captures frames from the local camera through GStreamer.
//
// SetMode and CaptureFrame have a single caller, the activity
// coordinator; Stats may be read from any goroutine.
type Camera struct {
	device  string
	vflip   bool
	timeout time.Duration
	idle    profile
	active  profile

	mu      sync.RWMutex
	mode    types.CaptureMode
	frames  chan *types.Frame
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	started time.Time

	// Rebuild policy
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	// currentRetries is touched only by the pipeline goroutine.
	currentRetries int

	// Stats
	frameCount   uint64
	bytesRead    uint64
	pipelineErrs uint64
	modeSwitches uint32
	rebuilds     uint32
	lastFrameNS  int64
}

// NewCamera creates a camera source. The hardware is not touched until
// Start, so construction is safe on machines without a camera.
func NewCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.Idle.Width <= 0 || cfg.Idle.Height <= 0 || cfg.Idle.FPS <= 0 {
		return nil, fmt.Errorf("invalid idle caps: %dx%d@%d", cfg.Idle.Width, cfg.Idle.Height, cfg.Idle.FPS)
	}
	if cfg.Active.Width <= 0 || cfg.Active.Height <= 0 || cfg.Active.FPS <= 0 {
		return nil, fmt.Errorf("invalid active caps: %dx%d@%d", cfg.Active.Width, cfg.Active.Height, cfg.Active.FPS)
	}
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Camera{
		device:  cfg.Device,
		vflip:   cfg.VFlip,
		timeout: timeout,
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
		mode:          types.ModeIdle,
		frames:        make(chan *types.Frame, frameBuffer),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}, nil
}

func (c *Camera) profileFor(mode types.CaptureMode) profile {
	if mode == types.ModeActive {
		return c.active
	}
	return c.idle
}

// Start initializes GStreamer and brings up the pipeline for the current
// mode.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("camera already started")
	}

	gst.Init(nil)

	c.baseCtx = ctx
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.started = time.Now()
	c.currentRetries = 0

	prof := c.profileFor(c.mode)
	c.wg.Add(1)
	go c.runPipeline(runCtx, prof, c.frames)

	device := c.device
	if device == "" {
		device = "auto"
	}
	slog.Info("camera starting",
		"device", device,
		"mode", c.mode.String(),
		"resolution", fmt.Sprintf("%dx%d", prof.width, prof.height),
		"target_fps", prof.fps,
	)
	return nil
}

// SetMode switches the capture mode, rebuilding the pipeline when the
// camera is running. Switching to the current mode is a no-op.
func (c *Camera) SetMode(mode types.CaptureMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode != types.ModeIdle && mode != types.ModeActive {
		return fmt.Errorf("unknown capture mode %v: %w", mode, types.ErrInvalidInput)
	}
	if mode == c.mode {
		return nil
	}
	if !c.running {
		c.mode = mode
		return nil
	}

	c.stopPipelineLocked()

	c.mode = mode
	atomic.AddUint32(&c.modeSwitches, 1)

	prof := c.profileFor(mode)
	c.frames = make(chan *types.Frame, frameBuffer)
	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.currentRetries = 0

	c.wg.Add(1)
	go c.runPipeline(runCtx, prof, c.frames)

	slog.Info("capture mode switched",
		"mode", mode.String(),
		"resolution", fmt.Sprintf("%dx%d", prof.width, prof.height),
		"target_fps", prof.fps,
	)
	return nil
}

// Mode returns the current capture mode.
func (c *Camera) Mode() types.CaptureMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// CaptureFrame returns the next frame from the pipeline. It blocks until
// a frame arrives, the context ends, or the capture timeout fires.
func (c *Camera) CaptureFrame(ctx context.Context) (*types.Frame, error) {
	c.mu.RLock()
	frames := c.frames
	running := c.running
	c.mu.RUnlock()

	if !running {
		return nil, fmt.Errorf("camera not started: %w", types.ErrDevice)
	}

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, fmt.Errorf("camera pipeline gone: %w", types.ErrDevice)
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("no frame within %s: %w", c.timeout, types.ErrDevice)
	}
}

// runPipeline keeps one pipeline alive with exponential-backoff rebuilds.
func (c *Camera) runPipeline(ctx context.Context, prof profile, frames chan *types.Frame) {
	defer c.wg.Done()
	defer close(frames)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("camera pipeline context cancelled")
			return
		default:
		}

		err := c.buildAndStream(ctx, prof, frames)
		if err != nil {
			atomic.AddUint64(&c.pipelineErrs, 1)
			slog.Error("camera pipeline error", "mode", prof.class, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.currentRetries++
		atomic.AddUint32(&c.rebuilds, 1)

		if c.currentRetries > c.maxRetries {
			slog.Error("max pipeline rebuilds exceeded, camera stopped",
				"rebuilds", c.currentRetries,
				"max_rebuilds", c.maxRetries,
				"action", "check the camera ribbon cable and restart the daemon",
			)
			return
		}

		delay := c.retryDelay * time.Duration(1<<uint(c.currentRetries-1))
		if delay > c.maxRetryDelay {
			delay = c.maxRetryDelay
		}

		slog.Warn("rebuilding camera pipeline",
			"retry", c.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return
		}
	}
}

// buildAndStream constructs the pipeline for one mode and pumps its bus
// until the context ends or the pipeline fails.
func (c *Camera) buildAndStream(ctx context.Context, prof profile, frames chan<- *types.Frame) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("libcamerasrc")
	if err != nil {
		return fmt.Errorf("failed to create libcamerasrc: %w", err)
	}
	if c.device != "" {
		src.SetProperty("camera-name", c.device)
	}

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		prof.format, prof.width, prof.height, prof.fps,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink, prof, frames)
		},
	})

	elements := []*gst.Element{src}
	if c.vflip {
		videoflip, err := gst.NewElement("videoflip")
		if err != nil {
			return fmt.Errorf("failed to create videoflip: %w", err)
		}
		videoflip.SetProperty("method", 5) // vertical-flip
		elements = append(elements, videoflip)
	}
	elements = append(elements, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	pipeline.AddMany(elements...)
	gst.ElementLinkMany(elements...)

	slog.Debug("setting pipeline to playing", "mode", prof.class)
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("context cancelled, stopping pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("camera end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				slog.Debug("pipeline state changed", "from", oldState, "to", newState)

				if newState == gst.StatePlaying {
					c.currentRetries = 0
					slog.Info("camera pipeline live",
						"mode", prof.class,
						"resolution", fmt.Sprintf("%dx%d", prof.width, prof.height),
					)
				}
			}
		}
	}
}

// onNewSample copies one sample out of the pipeline into a typed frame.
func (c *Camera) onNewSample(sink *app.Sink, prof profile, frames chan<- *types.Frame) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := &types.Frame{
		Seq:       atomic.AddUint64(&c.frameCount, 1),
		Timestamp: time.Now(),
		Width:     prof.width,
		Height:    prof.height,
		Class:     prof.class,
		Format:    prof.format,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	atomic.StoreInt64(&c.lastFrameNS, frame.Timestamp.UnixNano())
	atomic.AddUint64(&c.bytesRead, uint64(len(data)))

	select {
	case frames <- frame:
		slog.Debug("frame captured",
			"seq", frame.Seq,
			"size_bytes", len(data),
			"trace_id", frame.TraceID)
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID)
	}

	return gst.FlowOK
}

// stopPipelineLocked cancels the pipeline goroutine and waits for it.
// Callers hold c.mu.
func (c *Camera) stopPipelineLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("camera pipeline stop timeout, pipeline may still be running")
	}
	c.cancel = nil
}

// Stop tears down the pipeline and releases the camera.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("camera not started")
	}

	slog.Info("stopping camera")
	c.stopPipelineLocked()
	c.running = false
	c.baseCtx = nil

	slog.Info("camera stopped",
		"frames_captured", atomic.LoadUint64(&c.frameCount),
		"mode_switches", atomic.LoadUint32(&c.modeSwitches),
		"rebuilds", atomic.LoadUint32(&c.rebuilds),
		"uptime", time.Since(c.started),
	)

	// Fresh channel so a later Start delivers frames again.
	c.frames = make(chan *types.Frame, frameBuffer)
	return nil
}

// Stats returns current capture statistics.
func (c *Camera) Stats() types.CaptureStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prof := c.profileFor(c.mode)
	frameCount := atomic.LoadUint64(&c.frameCount)

	var fpsReal float64
	if c.running {
		if uptime := time.Since(c.started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	return types.CaptureStats{
		Mode:         c.mode.String(),
		FrameCount:   frameCount,
		FPSTarget:    prof.fps,
		FPSReal:      fpsReal,
		Resolution:   fmt.Sprintf("%dx%d", prof.width, prof.height),
		ModeSwitches: atomic.LoadUint32(&c.modeSwitches),
		Rebuilds:     atomic.LoadUint32(&c.rebuilds),
		BytesRead:    atomic.LoadUint64(&c.bytesRead),
		IsRunning:    c.running,
		Errors:       atomic.LoadUint64(&c.pipelineErrs),
	}
}
