// Package core contains the activity coordinator, the single owner of
// the camera and the clock that drives the sense-decide-act loop.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/config"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/display"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/emitter"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/encoder"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/fanout"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/journal"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/motion"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/stream"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// maxTracePoints caps the per-episode score trace so a week of waving
// at the camera cannot balloon one journal row.
const maxTracePoints = 1024

// Coordinator owns the camera and runs the per-tick control loop: pick
// the capture mode, grab a frame, and route it to motion detection or
// the stream encoder. Exactly one goroutine runs ticks, which is what
// makes the mode state machine race-free.
type Coordinator struct {
	cfg *config.Config

	source   FrameSource
	detector *motion.Detector
	display  *display.Controller
	encoder  *encoder.Encoder
	hub      *fanout.Hub
	emitter  *emitter.MQTTEmitter
	journal  *journal.Journal
	sinks    []EventSink

	settle time.Duration

	// Tick-loop state, touched only by the run loop goroutine.
	prev        *types.Frame
	settleUntil time.Time

	// Lifecycle
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc

	// Shared with health and web readers, guarded by mu.
	viewers      int
	motionActive bool
	episode      *types.MotionEpisode
	consecErrs   int
	degraded     bool
	deviceErrors uint64
	ticks        uint64
}

// New creates a coordinator from the config at configPath.
func New(configPath string) (*Coordinator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"motion_threshold", cfg.Motion.Threshold,
		"inactivity_timeout_s", cfg.Display.InactivityTimeoutS,
	)

	c := &Coordinator{
		cfg:      cfg,
		detector: motion.New(cfg.Motion.Threshold),
		encoder:  encoder.New(cfg.Stream.Quality, cfg.Stream.OutputWidth, cfg.Stream.OutputHeight),
		hub:      fanout.NewHub(cfg.Stream.ViewerBuffer),
		settle:   time.Duration(cfg.Motion.SettlePeriodS * float64(time.Second)),
	}

	initial := display.On
	if cfg.Display.Initial == "off" {
		initial = display.Off
	}
	c.display = display.NewController(
		display.NewSysfsBacklight(cfg.Display.BacklightPath),
		time.Duration(cfg.Display.InactivityTimeoutS*float64(time.Second)),
		initial,
	)
	c.display.SetNotify(c.onDisplayTransition)

	if cfg.Camera.Device == "mock" {
		c.source = stream.NewMock(sourceConfig(cfg))
		slog.Info("using mock frame source")
	} else {
		cam, err := stream.NewCamera(sourceConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create camera: %w", err)
		}
		c.source = cam
	}

	if cfg.MQTT.Broker != "" {
		c.emitter = emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID)
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		c.journal = j
	}

	return c, nil
}

func sourceConfig(cfg *config.Config) stream.CameraConfig {
	device := cfg.Camera.Device
	if device == "mock" {
		device = ""
	}
	return stream.CameraConfig{
		Device:         device,
		VFlip:          cfg.Camera.VFlip,
		CaptureTimeout: time.Duration(cfg.Camera.CaptureTimeoutS) * time.Second,
		Idle: stream.ModeCaps{
			Width:  cfg.Camera.Idle.Width,
			Height: cfg.Camera.Idle.Height,
			FPS:    cfg.Camera.Idle.FPS,
		},
		Active: stream.ModeCaps{
			Width:  cfg.Camera.Active.Width,
			Height: cfg.Camera.Active.Height,
			FPS:    cfg.Camera.Active.FPS,
		},
	}
}

// Hub returns the stream fanout hub.
func (c *Coordinator) Hub() *fanout.Hub {
	return c.hub
}

// Config returns the loaded configuration.
func (c *Coordinator) Config() *config.Config {
	return c.cfg
}

// Journal returns the episode journal, nil when disabled.
func (c *Coordinator) Journal() *journal.Journal {
	return c.journal
}

// MotionActive reports whether a motion episode is currently open.
func (c *Coordinator) MotionActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.motionActive
}

// AddSink registers an in-process event consumer. Register before Run.
func (c *Coordinator) AddSink(s EventSink) {
	c.sinks = append(c.sinks, s)
}

// Run starts the control loop and blocks until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	c.isRunning = true
	c.started = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelCtx = cancel
	c.mu.Unlock()

	slog.Info("wakeonpi service starting", "instance_id", c.cfg.InstanceID)

	if err := c.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame source: %w", err)
	}

	// Drive the panel to its configured startup state and arm the
	// inactivity clock.
	c.display.Sync(time.Now())

	if c.emitter != nil {
		if err := c.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.StartStatsLogger(ctx, 10*time.Second)
	}()

	if c.emitter != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.healthBeacon(ctx)
		}()
	}

	slog.Info("wakeonpi service running",
		"mode", c.source.Mode().String(),
		"display", c.display.State().String(),
	)

	<-ctx.Done()

	slog.Info("wakeonpi service run loop exiting")
	return nil
}

// runLoop fires ticks at the idle or active cadence depending on mode.
func (c *Coordinator) runLoop(ctx context.Context) {
	defer c.wg.Done()

	idleInterval := time.Duration(c.cfg.Motion.CheckIntervalS * float64(time.Second))
	activeInterval := time.Duration(c.cfg.Stream.ActiveIntervalMS) * time.Millisecond

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.tick(ctx, time.Now())

		interval := idleInterval
		if c.source.Mode() == types.ModeActive {
			interval = activeInterval
		}
		timer.Reset(interval)
	}
}

// tick runs one pass of the control loop.
//
// Order matters: the mode decision reads the viewer count and display
// state first, so a power-off committed later in this same tick takes
// effect at the next tick, never mid-capture.
func (c *Coordinator) tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.ticks++
	// Latest viewer count, if the hub pushed one since the last tick.
	select {
	case n := <-c.hub.Counts():
		c.viewers = n
	default:
	}
	viewers := c.viewers
	c.mu.Unlock()

	desired := types.ModeIdle
	if viewers > 0 || c.display.State() == display.On {
		desired = types.ModeActive
	}

	if desired != c.source.Mode() {
		if err := c.source.SetMode(desired); err != nil {
			c.deviceFailure("set_mode", err)
			return
		}
		// Fresh sensor settings make the first diff meaningless.
		c.prev = nil
		c.settleUntil = now.Add(c.settle)
	}

	frame, err := c.source.CaptureFrame(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.deviceFailure("capture", err)
		return
	}
	c.deviceSuccess()

	switch frame.Class {
	case types.ClassLow:
		st, err := c.detector.Detect(c.prev, frame)
		if err != nil {
			slog.Error("motion detection failed",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
			c.prev = nil
			return
		}
		c.prev = frame

		if st.Changed && now.Before(c.settleUntil) {
			slog.Debug("motion suppressed during settle period",
				"score", st.Score,
				"settle_remaining", c.settleUntil.Sub(now),
			)
			st.Changed = false
		}
		c.handleMotion(st, now)

	case types.ClassHigh:
		payload, err := c.encoder.Encode(frame)
		if err != nil {
			slog.Error("frame encode failed",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
		} else {
			c.hub.Publish(payload)
		}
		// The inactivity clock keeps running while streaming; a panel
		// nobody moves in front of blanks even with viewers attached.
		c.display.OnMotion(false, now)
	}
}

// handleMotion updates the episode ledger and feeds the display.
func (c *Coordinator) handleMotion(st types.MotionState, now time.Time) {
	if st.Changed {
		c.noteMotion(st, now)
	}
	c.display.OnMotion(st.Changed, now)
}

// noteMotion opens a new episode or extends the current one.
func (c *Coordinator) noteMotion(st types.MotionState, now time.Time) {
	c.mu.Lock()
	if !c.motionActive {
		c.motionActive = true
		c.episode = &types.MotionEpisode{
			ID:        uuid.New().String(),
			StartedAt: now,
			PeakScore: st.Score,
			Samples:   1,
			Trace:     []types.TracePoint{{At: now, Score: st.Score}},
		}
		id := c.episode.ID
		c.mu.Unlock()

		slog.Info("motion detected",
			"score", st.Score,
			"episode_id", id,
		)
		c.emit(types.Event{Kind: types.EventMotionStarted, At: now, Score: st.Score})
		return
	}

	ep := c.episode
	ep.Samples++
	if st.Score > ep.PeakScore {
		ep.PeakScore = st.Score
	}
	if len(ep.Trace) < maxTracePoints {
		ep.Trace = append(ep.Trace, types.TracePoint{At: now, Score: st.Score})
	}
	c.mu.Unlock()
}

// onDisplayTransition maps committed display changes to events. A
// power-off also closes the open motion episode: the panel sleeping is
// the signal that the room has been still for the full timeout.
func (c *Coordinator) onDisplayTransition(tr display.Transition) {
	switch tr.To {
	case display.On:
		c.emit(types.Event{Kind: types.EventDisplayOn, At: tr.At})
	case display.Off:
		c.emit(types.Event{Kind: types.EventDisplayOff, At: tr.At})
		c.finishEpisode(tr.At)
	}
}

// finishEpisode closes the open episode, if any, and journals it.
func (c *Coordinator) finishEpisode(now time.Time) {
	c.mu.Lock()
	if !c.motionActive {
		c.mu.Unlock()
		return
	}
	c.motionActive = false
	ep := c.episode
	c.episode = nil
	c.mu.Unlock()

	if ep == nil {
		return
	}
	ep.EndedAt = now

	slog.Info("motion episode ended",
		"episode_id", ep.ID,
		"duration_s", ep.Duration().Seconds(),
		"peak_score", ep.PeakScore,
		"samples", ep.Samples,
	)
	c.emit(types.Event{Kind: types.EventMotionStopped, At: now, Score: ep.PeakScore, Detail: ep.ID})

	if c.journal != nil {
		if err := c.journal.RecordEpisode(*ep); err != nil {
			slog.Error("failed to record episode",
				"episode_id", ep.ID,
				"error", err,
				"action", "check journal database path and disk space",
			)
		}
	}
}

// emit delivers an event to the broker and all in-process sinks.
func (c *Coordinator) emit(ev types.Event) {
	if c.emitter != nil {
		if err := c.emitter.PublishEvent(ev); err != nil {
			slog.Warn("failed to publish event", "kind", ev.Kind, "error", err)
		}
	}
	for _, s := range c.sinks {
		s.Emit(ev)
	}
}

// deviceFailure records a failed camera operation. The tick is skipped;
// sustained failures flip health to degraded.
func (c *Coordinator) deviceFailure(op string, err error) {
	c.mu.Lock()
	c.consecErrs++
	c.deviceErrors++
	consec := c.consecErrs
	threshold := c.cfg.Health.MaxConsecutiveErrors
	justDegraded := false
	if consec >= threshold && !c.degraded {
		c.degraded = true
		justDegraded = true
	}
	c.mu.Unlock()

	slog.Error("device error, skipping tick",
		"op", op,
		"consecutive", consec,
		"error", err,
		"action", "check camera connection",
	)

	if justDegraded {
		slog.Warn("sustained device errors, health degraded",
			"consecutive", consec,
			"threshold", threshold,
		)
		c.emit(types.Event{
			Kind:   types.EventHealthDegraded,
			At:     time.Now(),
			Detail: fmt.Sprintf("%d consecutive device errors", consec),
		})
	}
}

// deviceSuccess resets the failure streak and clears degraded health.
func (c *Coordinator) deviceSuccess() {
	c.mu.Lock()
	wasDegraded := c.degraded
	c.consecErrs = 0
	c.degraded = false
	c.mu.Unlock()

	if wasDegraded {
		slog.Info("device recovered, health restored")
		c.emit(types.Event{Kind: types.EventHealthRecovered, At: time.Now()})
	}
}

// ShutdownTimeout returns the configured graceful-shutdown window.
func (c *Coordinator) ShutdownTimeout() time.Duration {
	if c.cfg.ShutdownTimeoutS > 0 {
		return time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
	}
	return 5 * time.Second
}

// Shutdown stops the loop and releases all resources in dependency
// order: tick loop, camera, episode ledger, fanout, broker last so the
// final events still go out.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancelCtx
	c.mu.Unlock()

	slog.Info("shutting down wakeonpi service")

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all goroutines finished")
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	if err := c.source.Stop(); err != nil {
		slog.Error("failed to stop frame source", "error", err)
	}

	c.finishEpisode(time.Now())
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			slog.Error("failed to close journal", "error", err)
		}
	}

	if err := c.hub.Close(); err != nil {
		slog.Error("failed to close fanout hub", "error", err)
	}

	if c.emitter != nil {
		if err := c.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("wakeonpi service shutdown complete", "uptime", uptime)
	return nil
}
