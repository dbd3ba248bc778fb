package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratorAutoFallsBackToMock(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "auto"})
	require.NoError(t, err)
	_, ok := g.(*MockGenerator)
	assert.True(t, ok)

	resp, err := g.Generate(context.Background(), Request{UserTurn: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "I hear you: hello", resp.Text)
}

func TestNewGeneratorRejectsMissingSettings(t *testing.T) {
	_, err := NewGenerator(Config{Mode: "http"})
	assert.Error(t, err)
	_, err = NewGenerator(Config{Mode: "anthropic"})
	assert.Error(t, err)
	_, err = NewGenerator(Config{Mode: "telepathy"})
	assert.Error(t, err)
}

func TestMockGeneratorHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockGenerator().Generate(ctx, Request{UserTurn: "x"})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPGeneratorJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system", req.SystemPrompt)
		assert.Len(t, req.History, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"hello back"}`)
	}))
	defer srv.Close()

	resp, err := NewHTTPGenerator(srv.URL, false).Generate(context.Background(), Request{
		SystemPrompt: "system",
		History:      []Message{{Role: "user", Content: "earlier"}},
		UserTurn:     "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Text)
}

func TestHTTPGeneratorSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, strings.Join([]string{
			": keepalive",
			"",
			`data: {"delta":"Hel"}`,
			"",
			`data: {"delta":"lo"}`,
			"",
			"data: [DONE]",
			"",
		}, "\n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPGenerator(srv.URL, false).Generate(context.Background(), Request{UserTurn: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
}

func TestHTTPGeneratorNDJSON(t *testing.T) {
	g := NewHTTPGenerator("http://example.test", false)
	resp, err := g.consumeStream(strings.NewReader("{\"delta\":\"Hi\"}\n there\n[DONE]\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)

	strict := NewHTTPGenerator("http://example.test", true)
	_, err = strict.consumeStream(strings.NewReader("not-json\n"), false)
	assert.Error(t, err)
}

func TestHTTPGeneratorStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL, false).Generate(context.Background(), Request{UserTurn: "x"})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.Equal(t, "http", ue.Provider)
}

func TestHTTPGeneratorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPGenerator(srv.URL, false).Generate(ctx, Request{UserTurn: "x"})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.Timeout())
}

type stubGenerator struct {
	text  string
	err   error
	calls int
}

func (s *stubGenerator) Generate(context.Context, Request) (Response, error) {
	s.calls++
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Text: s.text}, nil
}

func TestFallbackGenerator(t *testing.T) {
	primary := &stubGenerator{err: errors.New("boom")}
	secondary := &stubGenerator{text: "fallback"}
	resp, err := NewFallbackGenerator(primary, secondary).Generate(context.Background(), Request{UserTurn: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)

	both := NewFallbackGenerator(&stubGenerator{err: errors.New("a")}, &stubGenerator{err: errors.New("b")})
	_, err = both.Generate(context.Background(), Request{UserTurn: "x"})
	var ue *UpstreamError
	assert.True(t, errors.As(err, &ue))
}

func TestFallbackGeneratorSkipsSecondaryOnCancel(t *testing.T) {
	secondary := &stubGenerator{text: "fallback"}
	g := NewFallbackGenerator(&stubGenerator{err: context.Canceled}, secondary)
	_, err := g.Generate(context.Background(), Request{UserTurn: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, secondary.calls)
}

func TestAnthropicGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		msgs, _ := body["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "It sounds heavy."}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	g := NewAnthropicGenerator("test-key", "", 256, option.WithBaseURL(srv.URL))
	resp, err := g.Generate(context.Background(), Request{
		SystemPrompt: "be kind",
		History:      []Message{{Role: "assistant", Content: "hi"}},
		UserTurn:     "rough day",
	})
	require.NoError(t, err)
	assert.Equal(t, "It sounds heavy.", resp.Text)
}

func TestAnthropicGeneratorErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	g := NewAnthropicGenerator("test-key", "", 0, option.WithBaseURL(srv.URL))
	_, err := g.Generate(context.Background(), Request{UserTurn: "x"})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
}

func TestAnthropicGeneratorMakesSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	g := NewAnthropicGenerator("test-key", "", 0, option.WithBaseURL(srv.URL))
	_, err := g.Generate(context.Background(), Request{UserTurn: "x"})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
