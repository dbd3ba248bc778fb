package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type perfOptions struct {
	baseURL        string
	userID         string
	personaID      string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"I've been feeling anxious before work every morning.",
	"I tried box breathing yesterday and it helped a little.",
	"I realize now that my anger comes from fear.",
	"My goal is to sleep before midnight this week.",
}

type perfReport struct {
	SessionID string          `json:"session_id"`
	Turns     int             `json:"turns"`
	Failures  int             `json:"failures"`
	P50MS     float64         `json:"p50_ms"`
	P95MS     float64         `json:"p95_ms"`
	MaxMS     float64         `json:"max_ms"`
	Server    json.RawMessage `json:"server_stages,omitempty"`
}

func newPerfCmd() *cobra.Command {
	var (
		opts     perfOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Replay synthetic turns against a running server and report latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(); err != nil {
				return err
			}
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			if opts.turns <= 0 {
				return fmt.Errorf("--turns must be > 0")
			}
			if opts.turnTimeout < time.Second {
				opts.turnTimeout = time.Second
			}
			opts.texts = splitTexts(textsRaw)
			report, err := runPerf(cmd.Context(), cmd.ErrOrStderr(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if formatFlag == "json" {
				return writeJSON(out, report)
			}
			fmt.Fprintf(out, "session=%s turns=%d failures=%d p50=%.1fms p95=%.1fms max=%.1fms\n",
				report.SessionID, report.Turns, report.Failures, report.P50MS, report.P95MS, report.MaxMS)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "solace base URL")
	cmd.Flags().StringVar(&opts.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	cmd.Flags().StringVar(&opts.personaID, "persona-id", "concise", "persona_id used for synthetic turns")
	cmd.Flags().IntVar(&opts.turns, "turns", 10, "number of turns to replay")
	cmd.Flags().DurationVar(&opts.interTurnDelay, "inter-turn", 100*time.Millisecond, "delay between turns")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 15*time.Second, "timeout per turn request")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print replay progress")
	return cmd
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultUtterances...)
	}
	return out
}

func runPerf(ctx context.Context, progress io.Writer, opts perfOptions) (perfReport, error) {
	client := &http.Client{Timeout: opts.turnTimeout}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := postJSON(ctx, client, opts.baseURL+"/v1/sessions", map[string]string{
		"user_id":    opts.userID,
		"persona_id": opts.personaID,
	}, http.StatusCreated, &created); err != nil {
		return perfReport{}, fmt.Errorf("create session: %w", err)
	}
	if created.SessionID == "" {
		return perfReport{}, fmt.Errorf("create session: missing session_id in response")
	}
	defer func() {
		_ = postJSON(context.Background(), client, opts.baseURL+"/v1/sessions/"+url.PathEscape(created.SessionID)+"/end", nil, http.StatusOK, nil)
	}()

	report := perfReport{SessionID: created.SessionID, Turns: opts.turns}
	latencies := make([]float64, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		if err := ctx.Err(); err != nil {
			return perfReport{}, err
		}
		text := opts.texts[i%len(opts.texts)]
		started := time.Now()
		err := postJSON(ctx, client, opts.baseURL+"/v1/turns", map[string]string{
			"user_id":    opts.userID,
			"session_id": created.SessionID,
			"text":       text,
		}, http.StatusOK, nil)
		ms := float64(time.Since(started).Microseconds()) / 1000
		if err != nil {
			report.Failures++
			fmt.Fprintf(progress, "perf: turn %d/%d failed: %v\n", i+1, opts.turns, err)
		} else {
			latencies = append(latencies, ms)
		}
		if opts.verbose {
			fmt.Fprintf(progress, "perf: turn %d/%d %.1fms text=%q\n", i+1, opts.turns, ms, text)
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	sort.Float64s(latencies)
	report.P50MS = percentile(latencies, 0.50)
	report.P95MS = percentile(latencies, 0.95)
	if n := len(latencies); n > 0 {
		report.MaxMS = latencies[n-1]
	}

	var stages json.RawMessage
	if err := getJSON(ctx, client, opts.baseURL+"/v1/perf/latency", &stages); err == nil {
		report.Server = stages
	}
	return report, nil
}

// percentile uses nearest rank on sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body any, want int, out any) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, want, out)
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, http.StatusOK, out)
}

func doJSON(client *http.Client, req *http.Request, want int, out any) error {
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != want {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
