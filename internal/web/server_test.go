package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/config"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/fanout"
	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

type fakeStatus struct {
	mu     sync.Mutex
	motion bool
}

func (f *fakeStatus) MotionActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.motion
}

func (f *fakeStatus) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motion = v
}

type fakeStore struct {
	eps []types.MotionEpisode
}

func (f *fakeStore) RecentEpisodes(limit int) ([]types.MotionEpisode, error) {
	if limit < len(f.eps) {
		return f.eps[:limit], nil
	}
	return f.eps, nil
}

func newTestServer(t *testing.T, hub *fanout.Hub, status *fakeStatus, store EpisodeStore) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.WebConfig{Listen: ":0", Username: "pi", Password: "secret"}
	srv := NewServer(cfg, hub, status, store)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func authGet(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.SetBasicAuth("pi", "secret")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// TestMotionAlertsNoAuth verifies the poll endpoint answers without
// credentials and tracks the motion flag.
func TestMotionAlertsNoAuth(t *testing.T) {
	status := &fakeStatus{}
	_, ts := newTestServer(t, fanout.NewHub(4), status, nil)

	resp, err := http.Get(ts.URL + "/motion_alerts")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if string(body) != "nomotion" {
		t.Errorf("Expected nomotion, got %q", body)
	}

	status.set(true)
	resp, err = http.Get(ts.URL + "/motion_alerts")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "motion" {
		t.Errorf("Expected motion, got %q", body)
	}
}

// TestBasicAuth verifies credentials gate every route except the poll
// endpoint.
func TestBasicAuth(t *testing.T) {
	_, ts := newTestServer(t, fanout.NewHub(4), &fakeStatus{}, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("Expected a WWW-Authenticate challenge")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.SetBasicAuth("pi", "wrong")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad password, got %d", resp.StatusCode)
	}

	resp = authGet(t, ts.Client(), ts.URL+"/")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "/stream") {
		t.Error("Expected the index to embed the stream")
	}
}

// TestAuthDisabled verifies empty credentials turn auth off.
func TestAuthDisabled(t *testing.T) {
	srv := NewServer(config.WebConfig{Listen: ":0"}, fanout.NewHub(1), &fakeStatus{}, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 without auth configured, got %d", resp.StatusCode)
	}
}

// TestStreamDelivery verifies the stream handler attaches a viewer,
// frames published to the hub arrive as multipart JPEG parts, and the
// viewer detaches when the client hangs up.
func TestStreamDelivery(t *testing.T) {
	hub := fanout.NewHub(4)
	_, ts := newTestServer(t, hub, &fakeStatus{}, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/stream", nil)
	req.SetBasicAuth("pi", "secret")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("bad content type: %v", err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] != "frame" {
		t.Fatalf("Expected multipart/x-mixed-replace with boundary frame, got %s %v", mediaType, params)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ViewerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	frameA := []byte{0xff, 0xd8, 0xff, 0xee, 0x01, 0x02, 0xff, 0xd9}
	frameB := []byte{0xff, 0xd8, 0xff, 0xee, 0x03, 0x04, 0xff, 0xd9}
	hub.Publish(frameA)
	hub.Publish(frameB)

	type partResult struct {
		contentType string
		payload     []byte
		err         error
	}
	got := make(chan partResult, 1)
	go func() {
		mr := multipart.NewReader(resp.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil {
			got <- partResult{err: err}
			return
		}
		payload, err := io.ReadAll(part)
		got <- partResult{contentType: part.Header.Get("Content-Type"), payload: payload, err: err}
	}()

	select {
	case res := <-got:
		if res.err != nil {
			t.Fatalf("reading part failed: %v", res.err)
		}
		if res.contentType != "image/jpeg" {
			t.Errorf("Expected image/jpeg part, got %s", res.contentType)
		}
		if !bytes.Equal(res.payload, frameA) {
			t.Errorf("Expected first published frame, got % x", res.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a stream part")
	}

	resp.Body.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never detached after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestEpisodesEndpoint verifies the journal read surface: JSON listing,
// the limit parameter, and 404 when the journal is disabled.
func TestEpisodesEndpoint(t *testing.T) {
	started := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{eps: []types.MotionEpisode{
		{ID: "ep-a", StartedAt: started, EndedAt: started.Add(30 * time.Second), PeakScore: 42.5, Samples: 3},
		{ID: "ep-b", StartedAt: started.Add(-time.Hour), EndedAt: started.Add(-time.Hour + 10*time.Second), PeakScore: 12.0, Samples: 1},
	}}
	_, ts := newTestServer(t, fanout.NewHub(4), &fakeStatus{}, store)

	resp := authGet(t, ts.Client(), ts.URL+"/episodes")
	var eps []types.MotionEpisode
	if err := json.NewDecoder(resp.Body).Decode(&eps); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if len(eps) != 2 {
		t.Fatalf("Expected 2 episodes, got %d", len(eps))
	}
	if eps[0].ID != "ep-a" || eps[0].PeakScore != 42.5 {
		t.Errorf("Unexpected first episode: %+v", eps[0])
	}

	resp = authGet(t, ts.Client(), ts.URL+"/episodes?limit=1")
	eps = nil
	if err := json.NewDecoder(resp.Body).Decode(&eps); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if len(eps) != 1 {
		t.Errorf("Expected 1 episode with limit=1, got %d", len(eps))
	}

	resp = authGet(t, ts.Client(), ts.URL+"/episodes?limit=0")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for limit=0, got %d", resp.StatusCode)
	}
}

func TestEpisodesWithoutJournal(t *testing.T) {
	_, ts := newTestServer(t, fanout.NewHub(4), &fakeStatus{}, nil)

	resp := authGet(t, ts.Client(), ts.URL+"/episodes")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without a journal, got %d", resp.StatusCode)
	}
}

// TestEventsWebsocket verifies the event feed delivers emitted events
// as JSON and rejects unauthenticated handshakes.
func TestEventsWebsocket(t *testing.T) {
	srv, ts := newTestServer(t, fanout.NewHub(4), &fakeStatus{}, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"

	_, badResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected handshake rejection without credentials")
	}
	if badResp == nil || badResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 handshake response, got %+v", badResp)
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("pi:secret")))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Events().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv.Events().Emit(types.Event{Kind: types.EventMotionStarted, At: time.Now().UTC(), Score: 33.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev types.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Kind != types.EventMotionStarted {
		t.Errorf("Expected motion_started, got %s", ev.Kind)
	}
	if ev.Score != 33.5 {
		t.Errorf("Expected score 33.5, got %v", ev.Score)
	}

	srv.Events().Close()
	deadline = time.Now().Add(2 * time.Second)
	for srv.Events().ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("clients never dropped on close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
