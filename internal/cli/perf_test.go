package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfReplaysTurns(t *testing.T) {
	var turns, ended atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["session_id"] != "s1" {
			http.Error(w, "wrong session", http.StatusBadRequest)
			return
		}
		if turns.Add(1) == 2 {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	})
	mux.HandleFunc("POST /v1/sessions/s1/end", func(w http.ResponseWriter, r *http.Request) {
		ended.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ended"})
	})
	mux.HandleFunc("GET /v1/perf/latency", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"window_size": 512})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out, err := run(t, "perf", "--base-url", ts.URL, "--turns", "3", "--inter-turn", "0s", "--format", "json")
	require.NoError(t, err)

	var report perfReport
	require.NoError(t, json.Unmarshal([]byte(out[indexJSON(out):]), &report))
	assert.Equal(t, "s1", report.SessionID)
	assert.Equal(t, 3, report.Turns)
	assert.Equal(t, 1, report.Failures)
	assert.Contains(t, string(report.Server), "window_size")
	assert.Equal(t, int32(3), turns.Load())
	assert.Equal(t, int32(1), ended.Load())
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.5))
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 5.0, percentile(vals, 0.5))
	assert.Equal(t, 10.0, percentile(vals, 0.95))
}

// indexJSON skips progress lines that share the buffer with the report.
func indexJSON(s string) int {
	for i, r := range s {
		if r == '{' {
			return i
		}
	}
	return 0
}
