package perf

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeMetrics struct {
	persona []Metric
	global  []Metric
	err     error
}

func (f *fakeMetrics) RecentMetrics(ctx context.Context, persona string, limit int) ([]Metric, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.persona, nil
}

func (f *fakeMetrics) RecentGlobalMetrics(ctx context.Context, limit int) ([]Metric, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.global, nil
}

type fakeFailures struct {
	counts map[string]int
	err    error
}

func (f *fakeFailures) FailureCounts(ctx context.Context, persona string) (map[string]int, error) {
	return f.counts, f.err
}

func metric(name string, value float64) Metric {
	return Metric{Name: name, Value: value, CreatedAt: time.Now()}
}

func globalSample(successMean, latencyMean float64, n int) []Metric {
	var out []Metric
	for i := 0; i < n; i++ {
		out = append(out, metric(MetricSuccessRate, successMean))
		out = append(out, metric(MetricLatency, latencyMean))
	}
	return out
}

func TestAnalyzeFallbackBaseline(t *testing.T) {
	a := NewAnalyst(&fakeMetrics{global: globalSample(0.5, 100, 2)}, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !report.Baseline.Fallback {
		t.Error("baseline fallback = false, want true below 10 global samples")
	}
	if report.Baseline.SuccessMean != 0.9 || report.Baseline.LatencyMean != 500 {
		t.Errorf("fallback baseline = %+v, want success 0.9 / latency 500", report.Baseline)
	}
}

func TestAnalyzeNoPersonaMetricsMaintains(t *testing.T) {
	a := NewAnalyst(&fakeMetrics{global: globalSample(0.9, 200, 10)}, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.SampleSize != 0 {
		t.Errorf("sample size = %d, want 0", report.SampleSize)
	}
	if report.Recommendation != RecommendMaintain {
		t.Errorf("recommendation = %s, want maintain", report.Recommendation)
	}
	if report.AvgSuccessRate != report.Baseline.SuccessMean {
		t.Errorf("avg success = %.3f, want baseline returned as the report", report.AvgSuccessRate)
	}
}

func TestAnalyzeCriticalIntervention(t *testing.T) {
	// Fallback baseline: success mean 0.9, stddev 0.1. 0.6 is 3 sigma below.
	m := &fakeMetrics{
		global:  nil,
		persona: []Metric{metric(MetricSuccessRate, 0.6), metric(MetricLatency, 100)},
	}
	a := NewAnalyst(m, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.Recommendation != RecommendCritical {
		t.Errorf("recommendation = %s, want critical_intervention", report.Recommendation)
	}
}

func TestAnalyzeOptimizeAccuracy(t *testing.T) {
	// 0.75 is 1.5 sigma below the fallback mean, between the tiers.
	m := &fakeMetrics{
		persona: []Metric{metric(MetricSuccessRate, 0.75), metric(MetricLatency, 100)},
	}
	a := NewAnalyst(m, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.Recommendation != RecommendAccuracy {
		t.Errorf("recommendation = %s, want optimize_accuracy", report.Recommendation)
	}
}

func TestAnalyzeOptimizeEfficiency(t *testing.T) {
	// Healthy success rate, latency far above the fallback mean of 500.
	m := &fakeMetrics{
		persona: []Metric{metric(MetricSuccessRate, 0.95), metric(MetricLatency, 900)},
	}
	a := NewAnalyst(m, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.Recommendation != RecommendEfficiency {
		t.Errorf("recommendation = %s, want optimize_efficiency", report.Recommendation)
	}
}

func TestAnalyzeMissingMetricFallsBackToBaseline(t *testing.T) {
	// Persona reports only latency; success rate falls back to baseline.
	m := &fakeMetrics{
		persona: []Metric{metric(MetricLatency, 100)},
	}
	a := NewAnalyst(m, nil)

	report, err := a.Analyze(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.AvgSuccessRate != report.Baseline.SuccessMean {
		t.Errorf("avg success = %.3f, want baseline fallback", report.AvgSuccessRate)
	}
	if report.Recommendation != RecommendMaintain {
		t.Errorf("recommendation = %s, want maintain", report.Recommendation)
	}
}

func TestAnalyzePropagatesMetricSourceError(t *testing.T) {
	a := NewAnalyst(&fakeMetrics{err: errors.New("db down")}, nil)

	if _, err := a.Analyze(context.Background(), "p1"); err == nil {
		t.Fatal("Analyze() error = nil, want store failure propagated")
	}
}

func TestAnalyzeFailurePatterns(t *testing.T) {
	a := NewAnalyst(&fakeMetrics{}, &fakeFailures{counts: map[string]int{
		"grep": 3,
		"sed":  1,
		"awk":  2,
	}})

	patterns := a.AnalyzeFailurePatterns(context.Background(), "p1")
	want := []string{"tool_failure_awk", "tool_failure_grep"}
	if len(patterns) != len(want) {
		t.Fatalf("patterns = %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Errorf("patterns[%d] = %s, want %s", i, patterns[i], want[i])
		}
	}
}

func TestAnalyzeFailurePatternsSwallowsErrors(t *testing.T) {
	a := NewAnalyst(&fakeMetrics{}, &fakeFailures{err: errors.New("db down")})

	if patterns := a.AnalyzeFailurePatterns(context.Background(), "p1"); patterns != nil {
		t.Errorf("patterns = %v, want empty on collaborator failure", patterns)
	}
}

func TestMeanStdDev(t *testing.T) {
	mean, std := meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Errorf("mean = %v, want 5", mean)
	}
	if std != 2 {
		t.Errorf("stddev = %v, want 2", std)
	}
}
