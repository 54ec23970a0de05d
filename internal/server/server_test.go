package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hailam/abnnue/internal/config"
	"github.com/hailam/abnnue/internal/nnue"
	"github.com/hailam/abnnue/internal/storage"
)

func newTestServer(t *testing.T, withStore bool) (*Server, *httptest.Server) {
	t.Helper()
	eval, err := nnue.NewEvaluator("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.CacheBits = 16
	cfg.RequestCacheBits = 14
	cfg.MoveTimeMs = 10000

	var store *storage.Storage
	if withStore {
		store, err = storage.Open("", zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
	}

	s := New(config.NewStore(cfg), eval, store, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, target string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(target, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestAnalyze(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/api/analyze", AnalyzeRequest{
		FEN:   "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1",
		Depth: 2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var a storage.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatal(err)
	}
	if a.Move != "a1a8" {
		t.Errorf("move = %s, want a1a8", a.Move)
	}
	if len(a.PV) == 0 || a.PV[0] != "a1a8" {
		t.Errorf("pv = %v", a.PV)
	}

	// The result is stored under its FEN and counted in the stats.
	get, err := http.Get(ts.URL + "/api/analysis?fen=" + url.QueryEscape(a.FEN))
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("stored analysis status = %d", get.StatusCode)
	}

	stats, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer stats.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(stats.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["searches"] != float64(1) {
		t.Errorf("stats = %v", body)
	}
}

func TestAnalyzeWithMoves(t *testing.T) {
	_, ts := newTestServer(t, false)
	resp := postJSON(t, ts.URL+"/api/analyze", AnalyzeRequest{Moves: []string{"e2e4", "e7e5"}, Depth: 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var a storage.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a.FEN, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w") {
		t.Errorf("root FEN = %s", a.FEN)
	}
	if a.Depth != 1 || a.Move == "" {
		t.Errorf("analysis = %+v", a)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	_, ts := newTestServer(t, false)
	tests := []struct {
		name string
		req  AnalyzeRequest
		want int
	}{
		{"bad fen", AnalyzeRequest{FEN: "nonsense"}, http.StatusBadRequest},
		{"illegal move", AnalyzeRequest{Moves: []string{"e2e5"}}, http.StatusBadRequest},
		{"negative time", AnalyzeRequest{MoveTimeMs: -1}, http.StatusBadRequest},
		{"checkmate", AnalyzeRequest{FEN: "R6k/6pp/8/8/8/8/8/K7 b - - 0 1"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := postJSON(t, ts.URL+"/api/analyze", tt.req); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Post(ts.URL+"/api/analyze", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

func TestStorageDisabled(t *testing.T) {
	_, ts := newTestServer(t, false)
	for _, path := range []string{"/api/analysis?fen=x", "/api/analyses", "/api/stats"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestConfigEndpoints(t *testing.T) {
	s, ts := newTestServer(t, false)

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/config", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := put(`{"quiescence": true}`); got != http.StatusOK {
		t.Fatalf("PUT status = %d", got)
	}
	if !s.cfg.Get().Quiescence {
		t.Error("quiescence not enabled")
	}
	if got := put(`{"cache_bits": 99}`); got != http.StatusBadRequest {
		t.Errorf("invalid config status = %d", got)
	}
	if s.cfg.Get().CacheBits != 16 {
		t.Errorf("invalid config was applied: %d", s.cfg.Get().CacheBits)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	return conn
}

// readUntil reads messages until one of type typ arrives and returns the
// messages seen, including it.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []wsMessage {
	t.Helper()
	var seen []wsMessage
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %d messages)", err, len(seen))
		}
		seen = append(seen, msg)
		if msg.Type == typ {
			return seen
		}
	}
}

func TestWebsocketStreamsPasses(t *testing.T) {
	_, ts := newTestServer(t, false)
	conn := dialWS(t, ts)

	req := wsMessage{Type: msgAnalyze, Payload: mustMarshal(AnalyzeRequest{Depth: 3})}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}
	msgs := readUntil(t, conn, msgResult)

	var depths []int
	for _, m := range msgs {
		if m.Type != msgInfo {
			continue
		}
		var info Info
		if err := json.Unmarshal(m.Payload, &info); err != nil {
			t.Fatal(err)
		}
		depths = append(depths, info.Depth)
	}
	if len(depths) != 3 || depths[0] != 1 || depths[2] != 3 {
		t.Errorf("info depths = %v, want [1 2 3]", depths)
	}
}

func TestWebsocketStop(t *testing.T) {
	s, ts := newTestServer(t, false)
	cfg := s.cfg.Get()
	cfg.MoveTimeMs = 0
	cfg.MaxMoveTimeMs = 0
	if err := s.cfg.Update(cfg); err != nil {
		t.Fatal(err)
	}
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(wsMessage{Type: msgAnalyze}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := conn.WriteJSON(wsMessage{Type: msgAnalyze}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, msgError)

	if err := conn.WriteJSON(wsMessage{Type: msgStop}); err != nil {
		t.Fatal(err)
	}
	msgs := readUntil(t, conn, msgResult)
	var a storage.Analysis
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &a); err != nil {
		t.Fatal(err)
	}
	if len(a.Move) < 4 {
		t.Errorf("stopped analysis move = %q", a.Move)
	}
}
