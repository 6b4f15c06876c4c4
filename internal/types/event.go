package types

import "time"

// EventKind labels a pipeline event.
type EventKind string

const (
	// EventMotionStarted marks the first motion tick after a quiet period.
	EventMotionStarted EventKind = "motion_started"
	// EventMotionStopped marks the end of an activity period (the display
	// inactivity timeout elapsed).
	EventMotionStopped EventKind = "motion_stopped"
	// EventDisplayOn marks a backlight power-on transition.
	EventDisplayOn EventKind = "display_on"
	// EventDisplayOff marks a backlight power-off transition.
	EventDisplayOff EventKind = "display_off"
	// EventHealthDegraded marks sustained camera failure.
	EventHealthDegraded EventKind = "health_degraded"
	// EventHealthRecovered marks the first successful capture after a
	// degraded period.
	EventHealthRecovered EventKind = "health_recovered"
)

// Event is a pipeline event published to MQTT, the websocket feed and the
// motion journal.
type Event struct {
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Score  float64   `json:"score,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// TracePoint is one motion-score sample inside an episode trace.
type TracePoint struct {
	At    time.Time `json:"at" msgpack:"at"`
	Score float64   `json:"score" msgpack:"score"`
}

// MotionEpisode is one contiguous activity period, from the first motion
// tick to the inactivity timeout that ended it.
type MotionEpisode struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	PeakScore float64      `json:"peak_score"`
	Samples   int          `json:"samples"`
	Trace     []TracePoint `json:"trace,omitempty"`
}

// Duration returns the episode length.
func (e *MotionEpisode) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}
