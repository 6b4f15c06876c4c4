// Package web is the viewer-facing HTTP server: the MJPEG stream, a
// minimal index page, the plaintext motion poll endpoint, a websocket
// event feed, and recent journaled episodes.
package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/config"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/fanout"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// Status exposes the live flags the plaintext endpoints report.
type Status interface {
	MotionActive() bool
}

// EpisodeStore exposes read access to journaled motion episodes.
type EpisodeStore interface {
	RecentEpisodes(limit int) ([]types.MotionEpisode, error)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>WakeOnPi</title></head>
<body style="margin:0;background:#000">
<img src="/stream" style="width:100%;height:auto" alt="live stream">
</body>
</html>
`

// Server serves viewers. Stream handlers attach hub viewers and hold
// their connections open until the client goes away.
type Server struct {
	cfg      config.WebConfig
	hub      *fanout.Hub
	status   Status
	episodes EpisodeStore
	events   *EventHub
	httpSrv  *http.Server
}

// NewServer wires the routes. episodes may be nil when the journal is
// disabled; /episodes then answers 404.
func NewServer(cfg config.WebConfig, hub *fanout.Hub, status Status, episodes EpisodeStore) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		status:   status,
		episodes: episodes,
		events:   NewEventHub(),
	}

	if cfg.Username == "" {
		slog.Warn("web credentials not configured, serving without auth",
			"action", "set MOTION_USERNAME and MOTION_PASSWORD",
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.requireAuth(s.handleIndex))
	mux.HandleFunc("/stream", s.requireAuth(s.handleStream))
	mux.HandleFunc("/motion_alerts", s.handleMotionAlerts)
	mux.HandleFunc("/events", s.requireAuth(s.events.Handle))
	mux.HandleFunc("/episodes", s.requireAuth(s.handleEpisodes))

	// No WriteTimeout: /stream keeps writing for the life of the viewer.
	s.httpSrv = &http.Server{
		Addr:        cfg.Listen,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Events returns the websocket event hub so it can be registered as a
// coordinator event sink.
func (s *Server) Events() *EventHub {
	return s.events
}

// Start begins serving. Non-blocking.
func (s *Server) Start() {
	slog.Info("starting web server", "addr", s.cfg.Listen)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web server failed", "error", err)
		}
	}()
}

// Shutdown stops the server. Stream handlers only return when their
// client disconnects, so connections still open at the deadline are
// force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")
	s.events.Close()
	err := s.httpSrv.Shutdown(ctx)
	if err != nil {
		s.httpSrv.Close()
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleStream attaches a hub viewer and relays JPEG frames as a
// multipart stream until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	viewer, err := s.hub.Attach(uuid.New().String())
	if err != nil {
		http.Error(w, "Stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Detach(viewer.ID())

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	flusher.Flush()

	slog.Info("stream viewer connected", "viewer_id", viewer.ID(), "remote", r.RemoteAddr)
	defer slog.Info("stream viewer disconnected", "viewer_id", viewer.ID(), "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-viewer.Frames():
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleMotionAlerts reports motion as plaintext for external pollers.
// Unauthenticated.
func (s *Server) handleMotionAlerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if s.status.MotionActive() {
		fmt.Fprint(w, "motion")
	} else {
		fmt.Fprint(w, "nomotion")
	}
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if s.episodes == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	eps, err := s.episodes.RecentEpisodes(limit)
	if err != nil {
		slog.Error("failed to read episodes", "error", err)
		http.Error(w, "Journal read failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eps)
}

// requireAuth wraps h with HTTP basic auth when credentials are
// configured. Comparison runs on digests so timing reveals nothing
// about either value.
func (s *Server) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Username == "" {
		return h
	}
	wantUser := sha256.Sum256([]byte(s.cfg.Username))
	wantPass := sha256.Sum256([]byte(s.cfg.Password))

	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			gotUser := sha256.Sum256([]byte(user))
			gotPass := sha256.Sum256([]byte(pass))
			userOK := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
			passOK := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
			if userOK && passOK {
				h(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	}
}
