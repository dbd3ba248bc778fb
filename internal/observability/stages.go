package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Stage names one step of turn processing.
type Stage string

const (
	StageAssemble  Stage = "assemble"
	StageGenerate  Stage = "generate"
	StageExtract   Stage = "extract"
	StageWrites    Stage = "writes"
	StageRisk      Stage = "risk"
	StageTurnTotal Stage = "turn_total"
)

// StageBudget is the p95 latency a stage should stay under.
type StageBudget struct {
	Stage     Stage
	TargetP95 time.Duration
}

// PipelineStages lists the turn stages in execution order.
var PipelineStages = []StageBudget{
	{StageAssemble, 50 * time.Millisecond},
	{StageGenerate, 8 * time.Second},
	{StageExtract, 10 * time.Millisecond},
	{StageWrites, 150 * time.Millisecond},
	{StageRisk, 5 * time.Millisecond},
	{StageTurnTotal, 9 * time.Second},
}

func stageBudget(s Stage) (time.Duration, int) {
	for i, b := range PipelineStages {
		if b.Stage == s {
			return b.TargetP95, i
		}
	}
	return 0, len(PipelineStages)
}

type StageStats struct {
	Stage       Stage   `json:"stage"`
	Samples     int     `json:"samples"`
	Observed    int     `json:"observed"`
	LastMS      float64 `json:"last_ms"`
	MeanMS      float64 `json:"mean_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

// LatencyReport summarizes the recent window of turn stage latencies plus
// counts of notable turn events such as write retries.
type LatencyReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Counts      map[string]int `json:"counts,omitempty"`
}

// stageWindow keeps the last size durations per stage.
type stageWindow struct {
	mu     sync.Mutex
	size   int
	rings  map[Stage]*durationRing
	counts map[string]int
}

type durationRing struct {
	buf      []time.Duration
	observed int
}

func (r *durationRing) add(d time.Duration) {
	r.buf[r.observed%len(r.buf)] = d
	r.observed++
}

func (r *durationRing) last() time.Duration {
	return r.buf[(r.observed-1)%len(r.buf)]
}

func (r *durationRing) sorted() []time.Duration {
	out := slices.Clone(r.buf[:min(r.observed, len(r.buf))])
	slices.Sort(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:   size,
		rings:  make(map[Stage]*durationRing),
		counts: make(map[string]int),
	}
}

func (w *stageWindow) observe(stage Stage, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &durationRing{buf: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *stageWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[name]++
}

// report lists pipeline stages in execution order, then any other stage by name.
func (w *stageWindow) report() LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := LatencyReport{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for stage, r := range w.rings {
		out.Stages = append(out.Stages, summarize(stage, r))
	}
	slices.SortFunc(out.Stages, func(a, b StageStats) int {
		_, ai := stageBudget(a.Stage)
		_, bi := stageBudget(b.Stage)
		if ai != bi {
			return ai - bi
		}
		return strings.Compare(string(a.Stage), string(b.Stage))
	})
	if len(w.counts) > 0 {
		out.Counts = make(map[string]int, len(w.counts))
		for k, v := range w.counts {
			out.Counts[k] = v
		}
	}
	return out
}

func summarize(stage Stage, r *durationRing) StageStats {
	samples := r.sorted()
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	target, _ := stageBudget(stage)
	stats := StageStats{
		Stage:       stage,
		Samples:     len(samples),
		Observed:    r.observed,
		LastMS:      millis(r.last()),
		MeanMS:      millis(sum / time.Duration(len(samples))),
		P50MS:       millis(nearestRank(samples, 0.50)),
		P95MS:       millis(nearestRank(samples, 0.95)),
		MaxMS:       millis(samples[len(samples)-1]),
		TargetP95MS: millis(target),
	}
	if target > 0 {
		for _, d := range samples {
			if d > target {
				stats.OverTarget++
			}
		}
	}
	return stats
}

// nearestRank expects sorted input with at least one sample.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
