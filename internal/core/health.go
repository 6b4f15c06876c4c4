package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/display"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/emitter"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/fanout"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/journal"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// HealthStatus represents the health state of the daemon.
type HealthStatus struct {
	Status            string             `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID        string             `json:"instance_id"`
	UptimeSeconds     int64              `json:"uptime_seconds"`
	Mode              string             `json:"mode"`
	Display           string             `json:"display"`
	MotionActive      bool               `json:"motion_active"`
	Viewers           int                `json:"viewers"`
	ConsecutiveErrors int                `json:"consecutive_errors"`
	DeviceErrors      uint64             `json:"device_errors"`
	Ticks             uint64             `json:"ticks"`
	MQTTConnected     bool               `json:"mqtt_connected"`
	Capture           types.CaptureStats `json:"capture"`
	Fanout            fanout.Stats       `json:"fanout"`
	DisplayStats      display.Stats      `json:"display_stats"`
	Emitter           *emitter.Stats     `json:"emitter,omitempty"`
	Journal           *journal.Stats     `json:"journal,omitempty"`
}

// HealthCheck returns the current health status.
//
// "degraded" means the loop is alive but the camera is failing
// repeatedly or the broker is unreachable; "unhealthy" means the loop
// is not running at all.
func (c *Coordinator) HealthCheck() HealthStatus {
	c.mu.RLock()
	status := HealthStatus{
		Status:            "healthy",
		InstanceID:        c.cfg.InstanceID,
		UptimeSeconds:     int64(time.Since(c.started).Seconds()),
		MotionActive:      c.motionActive,
		Viewers:           c.viewers,
		ConsecutiveErrors: c.consecErrs,
		DeviceErrors:      c.deviceErrors,
		Ticks:             c.ticks,
	}
	degraded := c.degraded
	running := c.isRunning
	c.mu.RUnlock()

	status.Mode = c.source.Mode().String()
	status.Display = c.display.State().String()
	status.Capture = c.source.Stats()
	status.Fanout = c.hub.Stats()
	status.DisplayStats = c.display.Stats()

	if c.emitter != nil {
		es := c.emitter.Stats()
		status.Emitter = &es
		status.MQTTConnected = es.Connected
	}
	if c.journal != nil {
		js := c.journal.Stats()
		status.Journal = &js
	}

	if !running {
		status.Status = "unhealthy"
	} else if degraded || (c.emitter != nil && !status.MQTTConnected) {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check).
func (c *Coordinator) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(c.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check).
func (c *Coordinator) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics with counters in Prometheus text
// format, hand-rolled the same way the health payload is.
func (c *Coordinator) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	health := c.HealthCheck()
	instance := c.cfg.InstanceID

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "wakeonpi_uptime_seconds{instance=%q} %d\n", instance, health.UptimeSeconds)
	fmt.Fprintf(w, "wakeonpi_ticks_total{instance=%q} %d\n", instance, health.Ticks)
	fmt.Fprintf(w, "wakeonpi_device_errors_total{instance=%q} %d\n", instance, health.DeviceErrors)
	fmt.Fprintf(w, "wakeonpi_viewers{instance=%q} %d\n", instance, health.Viewers)
	fmt.Fprintf(w, "wakeonpi_frames_published_total{instance=%q} %d\n", instance, health.Fanout.Published)
	fmt.Fprintf(w, "wakeonpi_display_power_ons_total{instance=%q} %d\n", instance, health.DisplayStats.PowerOns)
	fmt.Fprintf(w, "wakeonpi_motion_active{instance=%q} %d\n", instance, boolToInt(health.MotionActive))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// StartHealthServer starts the HTTP health server on addr. Non-blocking.
func (c *Coordinator) StartHealthServer(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", c.LivenessHandler)
	mux.HandleFunc("/readiness", c.ReadinessHandler)
	mux.HandleFunc("/metrics", c.MetricsHandler)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

// healthBeacon periodically publishes the health snapshot to the broker.
func (c *Coordinator) healthBeacon(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(c.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health beacon", "error", err)
				continue
			}
			if err := c.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health beacon publish failed", "error", err)
			}
		}
	}
}
