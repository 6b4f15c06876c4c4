// Package fanout distributes encoded JPEG frames to attached stream
// viewers without ever blocking the capture loop.
//
// Delivery uses a drop policy: a viewer whose channel is full loses the
// frame rather than queueing it, so slow clients watch a choppier stream
// instead of a stale one. The hub also feeds the activity coordinator a
// single-slot viewer-count mailbox where the latest count always wins.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrHubClosed is returned when operations are attempted on a closed hub.
	ErrHubClosed = errors.New("fanout hub is closed")

	// ErrViewerExists is returned when Attach is called with a duplicate id.
	ErrViewerExists = errors.New("viewer id already exists")

	// ErrViewerNotFound is returned when Detach is called with an unknown id.
	ErrViewerNotFound = errors.New("viewer id not found")
)

// Viewer is one attached stream consumer. The hub owns the delivery
// channel and never closes it; a consumer leaves by detaching.
type Viewer struct {
	id      string
	ch      chan []byte
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ID returns the viewer id.
func (v *Viewer) ID() string {
	return v.id
}

// Frames returns the delivery channel. Payloads are shared across
// viewers; treat them as read-only.
func (v *Viewer) Frames() <-chan []byte {
	return v.ch
}

// ViewerStats tracks delivery metrics for a single viewer.
type ViewerStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats contains global and per-viewer hub metrics.
type Stats struct {
	Viewers   int                    `json:"viewers"`
	Published uint64                 `json:"published"`
	Sent      uint64                 `json:"sent"`
	Dropped   uint64                 `json:"dropped"`
	PerViewer map[string]ViewerStats `json:"per_viewer,omitempty"`
}

// Hub fans encoded frames out to viewers.
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]*Viewer
	buffer  int
	closed  bool
	counts  chan int

	published atomic.Uint64
}

// NewHub creates a hub whose viewers buffer up to buffer frames each.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		viewers: make(map[string]*Viewer),
		buffer:  buffer,
		counts:  make(chan int, 1),
	}
}

// Attach registers a new viewer and publishes the updated count.
func (h *Hub) Attach(id string) (*Viewer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if _, exists := h.viewers[id]; exists {
		return nil, ErrViewerExists
	}

	v := &Viewer{
		id: id,
		ch: make(chan []byte, h.buffer),
	}
	h.viewers[id] = v
	h.pushCountLocked()

	slog.Info("viewer attached",
		"viewer_id", id,
		"total_viewers", len(h.viewers),
	)
	return v, nil
}

// Detach removes a viewer and publishes the updated count. The viewer's
// channel stays open; pending frames may still be drained.
func (h *Hub) Detach(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	v, exists := h.viewers[id]
	if !exists {
		return ErrViewerNotFound
	}

	delete(h.viewers, id)
	h.pushCountLocked()

	slog.Info("viewer detached",
		"viewer_id", id,
		"total_viewers", len(h.viewers),
		"sent", v.sent.Load(),
		"dropped", v.dropped.Load(),
	)
	return nil
}

// Publish delivers payload to every attached viewer without blocking.
// Full viewers drop the frame. Publishing on a closed hub is a no-op, so
// shutdown ordering between the capture loop and the hub never matters.
func (h *Hub) Publish(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	h.published.Add(1)

	for _, v := range h.viewers {
		select {
		case v.ch <- payload:
			v.sent.Add(1)
		default:
			v.dropped.Add(1)
		}
	}
}

// ViewerCount returns the number of attached viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Counts returns the viewer-count mailbox. The slot holds at most one
// value and newer counts replace unread ones, so a reader that drains it
// always sees the current figure, never a backlog of history.
func (h *Hub) Counts() <-chan int {
	return h.counts
}

// Stats returns a snapshot of hub metrics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := Stats{
		Viewers:   len(h.viewers),
		Published: h.published.Load(),
		PerViewer: make(map[string]ViewerStats),
	}

	var totalSent, totalDropped uint64
	for id, v := range h.viewers {
		sent := v.sent.Load()
		dropped := v.dropped.Load()
		totalSent += sent
		totalDropped += dropped
		result.PerViewer[id] = ViewerStats{Sent: sent, Dropped: dropped}
	}
	result.Sent = totalSent
	result.Dropped = totalDropped

	return result
}

// Close detaches all viewers and stops the hub. Idempotent. Viewer
// channels are left open for the same reason Detach leaves them open.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.viewers = make(map[string]*Viewer)
	h.pushCountLocked()

	return nil
}

// pushCountLocked replaces the mailbox value with the current count.
// Callers hold h.mu, so there is exactly one writer at a time.
func (h *Hub) pushCountLocked() {
	n := len(h.viewers)
	for {
		select {
		case h.counts <- n:
			return
		default:
			select {
			case <-h.counts:
			default:
			}
		}
	}
}

// StartStatsLogger logs hub stats periodically and alerts on sustained
// per-viewer drop rates. Blocks until ctx is cancelled.
func (h *Hub) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevStats := h.Stats()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.Stats()

			deltaPublished := stats.Published - prevStats.Published

			for id, vs := range stats.PerViewer {
				deltaDropped := vs.Dropped - prevStats.PerViewer[id].Dropped

				if deltaPublished > 0 {
					dropRate := float64(deltaDropped) / float64(deltaPublished)

					if dropRate > 0.80 {
						slog.Warn("viewer high drop rate detected",
							"viewer_id", id,
							"drop_rate_pct", int(dropRate*100),
							"dropped_last_interval", deltaDropped,
							"frames_last_interval", deltaPublished,
							"action", "check viewer network connection")
					}
				}
			}

			if stats.Viewers > 0 || deltaPublished > 0 {
				slog.Debug("fanout stats",
					"viewers", stats.Viewers,
					"published", stats.Published,
					"sent", stats.Sent,
					"dropped", stats.Dropped,
				)
			}

			prevStats = stats
		}
	}
}
