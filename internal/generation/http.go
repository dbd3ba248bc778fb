package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGenerator forwards requests to a JSON/SSE/NDJSON text generation endpoint.
type HTTPGenerator struct {
	url          string
	client       *http.Client
	strictStream bool
}

func NewHTTPGenerator(url string, strictStream bool) *HTTPGenerator {
	return &HTTPGenerator{
		url:          strings.TrimSpace(url),
		strictStream: strictStream,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, upstream("http", 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, upstream("http", 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, upstream("http", 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, upstream("http", res.StatusCode, fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	var resp Response
	switch {
	case strings.Contains(ct, "text/event-stream"):
		resp, err = g.consumeStream(res.Body, true)
	case strings.Contains(ct, "application/x-ndjson"):
		resp, err = g.consumeStream(res.Body, false)
	default:
		resp, err = consumeBody(res.Body)
	}
	if err != nil {
		return Response{}, upstream("http", res.StatusCode, err)
	}
	return resp, nil
}

func consumeBody(body io.Reader) (Response, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Response{Text: strings.TrimSpace(string(raw))}, nil
	}
	return Response{Text: extractText(obj)}, nil
}

// consumeStream accumulates SSE "data:" lines or NDJSON lines into one reply.
func (g *HTTPGenerator) consumeStream(body io.Reader, sse bool) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if sse {
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		} else if g.strictStream {
			return Response{}, fmt.Errorf("invalid stream payload %q: %w", line, err)
		} else if !sse {
			delta = " " + line
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: strings.TrimSpace(out.String())}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
