package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowReport(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageGenerate, 500*time.Millisecond)
	w.observe(StageGenerate, 9*time.Second)
	w.observe(StageGenerate, 700*time.Millisecond)
	w.observe(StageAssemble, 2*time.Millisecond)
	w.count("write_retry_insert_memory")
	w.count("write_retry_insert_memory")
	w.count("  ")

	report := w.report()
	if report.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", report.WindowSize)
	}
	if len(report.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(report.Stages))
	}
	if report.Stages[0].Stage != StageAssemble || report.Stages[1].Stage != StageGenerate {
		t.Fatalf("stage order = %q, %q; want pipeline order", report.Stages[0].Stage, report.Stages[1].Stage)
	}
	gen := report.Stages[1]
	if gen.Samples != 3 || gen.Observed != 3 {
		t.Fatalf("Samples/Observed = %d/%d, want 3/3", gen.Samples, gen.Observed)
	}
	if gen.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700", gen.LastMS)
	}
	if gen.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", gen.P50MS)
	}
	if gen.P95MS != 9000 || gen.MaxMS != 9000 {
		t.Fatalf("P95MS/MaxMS = %.2f/%.2f, want 9000/9000", gen.P95MS, gen.MaxMS)
	}
	if gen.TargetP95MS != 8000 {
		t.Fatalf("TargetP95MS = %.2f, want 8000", gen.TargetP95MS)
	}
	if gen.OverTarget != 1 {
		t.Fatalf("OverTarget = %d, want 1", gen.OverTarget)
	}
	if len(report.Counts) != 1 || report.Counts["write_retry_insert_memory"] != 2 {
		t.Fatalf("Counts = %+v, want write_retry_insert_memory=2", report.Counts)
	}
}

func TestStageWindowKeepsLatestSamples(t *testing.T) {
	w := newStageWindow(2)
	w.observe(StageRisk, 1*time.Millisecond)
	w.observe(StageRisk, 2*time.Millisecond)
	w.observe(StageRisk, 3*time.Millisecond)
	w.observe("", 10*time.Millisecond)
	w.observe(StageRisk, -time.Millisecond)

	report := w.report()
	if len(report.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(report.Stages))
	}
	risk := report.Stages[0]
	if risk.Samples != 2 || risk.Observed != 3 {
		t.Fatalf("Samples/Observed = %d/%d, want 2/3", risk.Samples, risk.Observed)
	}
	if risk.MeanMS != 2.5 {
		t.Fatalf("MeanMS = %.2f, want 2.5", risk.MeanMS)
	}
	if risk.LastMS != 3 {
		t.Fatalf("LastMS = %.2f, want 3", risk.LastMS)
	}
}

func TestStageWindowUnknownStageSortsLast(t *testing.T) {
	w := newStageWindow(4)
	w.observe("warmup", time.Millisecond)
	w.observe(StageTurnTotal, time.Second)

	report := w.report()
	if len(report.Stages) != 2 || report.Stages[1].Stage != "warmup" {
		t.Fatalf("stages = %+v, want warmup last", report.Stages)
	}
	if report.Stages[1].TargetP95MS != 0 {
		t.Fatalf("warmup target = %.2f, want 0", report.Stages[1].TargetP95MS)
	}
}

func TestMetricsLatencyReport(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("solace_test_stage_%d", time.Now().UnixNano()))
	m.ObserveStage(StageAssemble, 3*time.Millisecond)
	m.CountTurnEvent("resources_without_escalation")
	report := m.LatencyReport()
	if len(report.Stages) != 1 || report.Stages[0].LastMS != 3 {
		t.Fatalf("report = %+v, want one assemble sample of 3ms", report)
	}
	if report.Counts["resources_without_escalation"] != 1 {
		t.Fatalf("Counts = %+v", report.Counts)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TurnOutcome("ok")
	m.ObserveStage(StageRisk, time.Millisecond)
	m.CountTurnEvent("x")
	m.FatalEscalationConfig()
	if got := len(m.LatencyReport().Stages); got != 0 {
		t.Fatalf("nil metrics stages = %d, want 0", got)
	}
}
