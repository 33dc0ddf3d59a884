package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solttila/rotation/internal/catalog"
	"github.com/solttila/rotation/internal/metrics"
	"github.com/solttila/rotation/internal/queue"
)

// stubCatalog is an in-memory catalog for handler tests.
type stubCatalog struct {
	songs map[int64]catalog.Song
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{songs: map[int64]catalog.Song{
		1: {ID: 1, Artist: "Queen", Title: "Bohemian Rhapsody", Duration: 6 * time.Minute},
		2: {ID: 2, Artist: "Toto", Title: "Africa", Duration: 4 * time.Minute},
		3: {ID: 3, Artist: "a-ha", Title: "Take On Me", Duration: 3 * time.Minute},
	}}
}

func (c *stubCatalog) Resolve(_ context.Context, ids []int64) (map[int64]catalog.Song, error) {
	out := make(map[int64]catalog.Song, len(ids))
	for _, id := range ids {
		if song, ok := c.songs[id]; ok {
			out[id] = song
		}
	}
	return out, nil
}

func (c *stubCatalog) Search(_ context.Context, query string, limit int) ([]catalog.Song, error) {
	var out []catalog.Song
	needle := strings.ToLower(query)
	for _, song := range c.songs {
		if strings.Contains(strings.ToLower(song.Artist+" "+song.Title), needle) {
			out = append(out, song)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *stubCatalog) AllIDs(context.Context) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(c.songs))
	for id := range c.songs {
		out[id] = struct{}{}
	}
	return out, nil
}

func (c *stubCatalog) Ping(context.Context) error { return nil }
func (c *stubCatalog) Close() error               { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cat := newStubCatalog()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	valid, err := cat.AllIDs(context.Background())
	if err != nil {
		t.Fatalf("failed to enumerate songs: %v", err)
	}
	store, err := queue.Load(filepath.Join(t.TempDir(), "queue.json"), cat, valid, logger, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("failed to load store: %v", err)
	}

	ts := httptest.NewServer(New(store, cat, logger).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(store.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func submitEntry(t *testing.T, ts *httptest.Server, song int64, singer, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"song": %d, "singer": %q, "password": %q}`, song, singer, password)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, err := uuid.Parse(out["id"]); err != nil {
		t.Fatalf("invalid id %q: %v", out["id"], err)
	}
	return out["id"]
}

func getState(t *testing.T, ts *httptest.Server) queue.State {
	t.Helper()
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/queue", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var state queue.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	return state
}

// TestSubmitEndpoint verifies the status codes of POST /api/queue.
func TestSubmitEndpoint(t *testing.T) {
	ts := newTestServer(t)

	submitEntry(t, ts, 1, "Alice", "pw")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue", `{"song": 99, "singer": "Mallory"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown song, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue", `{"singer": "Alice"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing song, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue", `{"song":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", resp.StatusCode)
	}

	state := getState(t, ts)
	if len(state.List) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(state.List))
	}
}

// TestQueueEndpoint verifies the state snapshot response.
func TestQueueEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := submitEntry(t, ts, 2, "Bob", "")

	state := getState(t, ts)
	if len(state.List) != 1 || state.List[0].ID.String() != id {
		t.Fatalf("expected the submitted entry, got %+v", state.List)
	}
	if state.List[0].Song != 2 || state.List[0].Singer != "Bob" {
		t.Fatalf("unexpected entry: %+v", state.List[0])
	}
	if state.List[0].PredictedEnd.IsZero() {
		t.Fatal("expected a predicted end time")
	}
}

// TestPlayEndpoint verifies advancing an entry over HTTP.
func TestPlayEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := submitEntry(t, ts, 1, "Alice", "")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+id+"/play", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+id+"/play", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for replay, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/not-a-uuid/play", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad id, got %d", resp.StatusCode)
	}

	state := getState(t, ts)
	if len(state.List) != 0 || len(state.PlayHistory) != 1 {
		t.Fatalf("expected empty list and one played entry, got list=%d history=%d", len(state.List), len(state.PlayHistory))
	}
}

// TestRemoveEndpoint verifies unconditional removal over HTTP.
func TestRemoveEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := submitEntry(t, ts, 1, "Alice", "")

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/queue/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/queue/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for repeat, got %d", resp.StatusCode)
	}
}

// TestWithdrawEndpoint verifies password-checked removal.
func TestWithdrawEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := submitEntry(t, ts, 1, "Alice", "hunter2")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+id+"/withdraw", `{"password": "wrong"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for wrong password, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+id+"/withdraw", `{"password": "hunter2"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	if state := getState(t, ts); len(state.List) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(state.List))
	}
}

// TestFrontEndpoint verifies moving an entry to the head.
func TestFrontEndpoint(t *testing.T) {
	ts := newTestServer(t)
	submitEntry(t, ts, 1, "Alice", "")
	second := submitEntry(t, ts, 2, "Bob", "")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+second+"/front", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	state := getState(t, ts)
	if state.List[0].ID.String() != second {
		t.Fatalf("expected the second entry at the head, got %+v", state.List)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+uuid.NewString()+"/front", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown id, got %d", resp.StatusCode)
	}
}

// TestSwapEndpoint verifies position exchange over HTTP.
func TestSwapEndpoint(t *testing.T) {
	ts := newTestServer(t)
	first := submitEntry(t, ts, 1, "Alice", "")
	second := submitEntry(t, ts, 2, "Bob", "")

	body := fmt.Sprintf(`{"a": %q, "b": %q}`, first, second)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/swap", body)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	state := getState(t, ts)
	if state.List[0].ID.String() != second || state.List[1].ID.String() != first {
		t.Fatalf("expected swapped order, got %+v", state.List)
	}

	// Swapping an entry with itself is not a change.
	body = fmt.Sprintf(`{"a": %q, "b": %q}`, first, first)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/swap", body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for self swap, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/swap", `{"a": "x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", resp.StatusCode)
	}
}

// TestMoveEndpoint verifies relocation over HTTP.
func TestMoveEndpoint(t *testing.T) {
	ts := newTestServer(t)
	first := submitEntry(t, ts, 1, "Alice", "")
	second := submitEntry(t, ts, 2, "Bob", "")
	third := submitEntry(t, ts, 3, "Carol", "")

	body := fmt.Sprintf(`{"id": %q, "after": %q}`, first, third)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/move", body)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	state := getState(t, ts)
	got := []string{state.List[0].ID.String(), state.List[1].ID.String(), state.List[2].ID.String()}
	if got[0] != second || got[1] != third || got[2] != first {
		t.Fatalf("expected order [second third first], got %v", got)
	}

	body = fmt.Sprintf(`{"id": %q, "after": %q}`, first, uuid.NewString())
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/queue/move", body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown anchor, got %d", resp.StatusCode)
	}
}

// TestBugEndpoint verifies that well-formed reports are accepted.
func TestBugEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/bugs", `{"song": 1, "text": "audio cuts out"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.StatusCode)
	}

	// Reports against unknown songs are accepted and dropped.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/bugs", `{"song": 99, "text": "ghost song"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/bugs", `{"song": 1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty text, got %d", resp.StatusCode)
	}
}

// TestSearchEndpoint verifies the catalog search passthrough.
func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/songs/search?q=africa", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var results []songResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if len(results) != 1 || results[0].ID != 2 {
		t.Fatalf("expected song 2, got %v", results)
	}
	if results[0].DurationMs != 240000 {
		t.Fatalf("expected durationMs 240000, got %d", results[0].DurationMs)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/songs/search?q=x&limit=abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", resp.StatusCode)
	}
}

// TestWebSocketStreamsSnapshots verifies the live feed: one snapshot
// on connect and one per mutation.
func TestWebSocketStreamsSnapshots(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readState := func() queue.State {
		t.Helper()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read snapshot: %v", err)
		}
		var state queue.State
		if err := json.Unmarshal(data, &state); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		return state
	}

	state := readState()
	if len(state.List) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d entries", len(state.List))
	}

	id := submitEntry(t, ts, 1, "Alice", "")
	state = readState()
	if len(state.List) != 1 || state.List[0].ID.String() != id {
		t.Fatalf("expected snapshot with the new entry, got %+v", state.List)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/"+id+"/play", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}
	state = readState()
	if len(state.List) != 0 || len(state.PlayHistory) != 1 {
		t.Fatalf("expected played snapshot, got list=%d history=%d", len(state.List), len(state.PlayHistory))
	}
}
