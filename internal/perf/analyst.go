// Package perf computes rolling per-persona performance baselines and
// recommends an intervention tier.
package perf

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"hivemind/internal/logging"
)

// Metric is one named sample, consumed read-only.
type Metric struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Persona   string    `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metric names the analyst understands.
const (
	MetricSuccessRate = "success_rate"
	MetricLatency     = "latency"
)

// Intervention tiers, most to least severe.
const (
	RecommendCritical   = "critical_intervention"
	RecommendAccuracy   = "optimize_accuracy"
	RecommendEfficiency = "optimize_efficiency"
	RecommendMaintain   = "maintain"
)

// Sample and baseline bounds.
const (
	personaSampleLimit  = 50
	globalSampleLimit   = 200
	minBaselineSamples  = 10
	fallbackSuccessMean = 0.9
	fallbackLatencyMean = 500
	fallbackStdDev      = 0.1
)

// MetricSource yields recent metric samples, most recent first.
type MetricSource interface {
	RecentMetrics(ctx context.Context, persona string, limit int) ([]Metric, error)
	RecentGlobalMetrics(ctx context.Context, limit int) ([]Metric, error)
}

// FailureReporter yields per-tool failure counts for a persona.
type FailureReporter interface {
	FailureCounts(ctx context.Context, persona string) (map[string]int, error)
}

// Baseline is the rolling reference distribution per metric.
type Baseline struct {
	SuccessMean   float64 `json:"success_mean"`
	SuccessStdDev float64 `json:"success_std_dev"`
	LatencyMean   float64 `json:"latency_mean"`
	LatencyStdDev float64 `json:"latency_std_dev"`
	Samples       int     `json:"samples"`
	Fallback      bool    `json:"fallback"`
}

// Report is the analysis result for one persona.
type Report struct {
	Persona        string   `json:"persona"`
	AvgSuccessRate float64  `json:"avg_success_rate"`
	AvgLatency     float64  `json:"avg_latency"`
	SampleSize     int      `json:"sample_size"`
	Baseline       Baseline `json:"baseline"`
	Recommendation string   `json:"recommendation"`
}

// Analyst classifies persona performance against a global baseline.
type Analyst struct {
	metrics  MetricSource
	failures FailureReporter
	log      *logging.Logger
}

// NewAnalyst creates an analyst over the given sources. failures may be nil;
// AnalyzeFailurePatterns then returns empty results.
func NewAnalyst(metrics MetricSource, failures FailureReporter) *Analyst {
	return &Analyst{
		metrics:  metrics,
		failures: failures,
		log:      logging.Get(logging.CategoryPerformance),
	}
}

// Analyze computes the persona's averages against the global baseline and
// classifies the intervention tier.
func (a *Analyst) Analyze(ctx context.Context, persona string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryPerformance, "Analyst.Analyze")
	defer timer.Stop()

	global, err := a.metrics.RecentGlobalMetrics(ctx, globalSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("load global baseline metrics: %w", err)
	}
	baseline := computeBaseline(global)

	recent, err := a.metrics.RecentMetrics(ctx, persona, personaSampleLimit)
	if err != nil {
		return nil, fmt.Errorf("load metrics for persona %s: %w", persona, err)
	}

	report := &Report{
		Persona:        persona,
		Baseline:       baseline,
		SampleSize:     len(recent),
		AvgSuccessRate: baseline.SuccessMean,
		AvgLatency:     baseline.LatencyMean,
		Recommendation: RecommendMaintain,
	}
	if len(recent) == 0 {
		a.log.Debug("Persona %s has no recent metrics; reporting baseline", persona)
		return report, nil
	}

	if avg, ok := average(recent, MetricSuccessRate); ok {
		report.AvgSuccessRate = avg
	}
	if avg, ok := average(recent, MetricLatency); ok {
		report.AvgLatency = avg
	}

	switch {
	case report.AvgSuccessRate < baseline.SuccessMean-2.5*baseline.SuccessStdDev:
		report.Recommendation = RecommendCritical
	case report.AvgSuccessRate < baseline.SuccessMean-1.0*baseline.SuccessStdDev:
		report.Recommendation = RecommendAccuracy
	case report.AvgLatency > baseline.LatencyMean+2.0*baseline.LatencyStdDev:
		report.Recommendation = RecommendEfficiency
	}

	a.log.Info("Persona %s: success=%.3f latency=%.1f samples=%d -> %s",
		persona, report.AvgSuccessRate, report.AvgLatency, report.SampleSize, report.Recommendation)
	return report, nil
}

// AnalyzeFailurePatterns tags tools with repeated failures. Collaborator
// failures are swallowed to an empty result, never propagated.
func (a *Analyst) AnalyzeFailurePatterns(ctx context.Context, persona string) []string {
	if a.failures == nil {
		return nil
	}
	counts, err := a.failures.FailureCounts(ctx, persona)
	if err != nil {
		a.log.Debug("Failure pattern collection for %s failed (best-effort): %v", persona, err)
		return nil
	}

	var patterns []string
	for tool, n := range counts {
		if n > 1 {
			patterns = append(patterns, "tool_failure_"+tool)
		}
	}
	sort.Strings(patterns)
	return patterns
}

// computeBaseline derives mean/stddev per metric name from the global sample,
// falling back to hardcoded values when the sample is too thin.
func computeBaseline(global []Metric) Baseline {
	if len(global) < minBaselineSamples {
		return Baseline{
			SuccessMean:   fallbackSuccessMean,
			SuccessStdDev: fallbackStdDev,
			LatencyMean:   fallbackLatencyMean,
			LatencyStdDev: fallbackStdDev,
			Samples:       len(global),
			Fallback:      true,
		}
	}

	b := Baseline{Samples: len(global)}
	b.SuccessMean, b.SuccessStdDev = meanStdDev(values(global, MetricSuccessRate))
	b.LatencyMean, b.LatencyStdDev = meanStdDev(values(global, MetricLatency))
	if b.SuccessMean == 0 && b.SuccessStdDev == 0 {
		b.SuccessMean, b.SuccessStdDev = fallbackSuccessMean, fallbackStdDev
	}
	if b.LatencyMean == 0 && b.LatencyStdDev == 0 {
		b.LatencyMean, b.LatencyStdDev = fallbackLatencyMean, fallbackStdDev
	}
	return b
}

func values(metrics []Metric, name string) []float64 {
	var out []float64
	for i := range metrics {
		if metrics[i].Name == name {
			out = append(out, metrics[i].Value)
		}
	}
	return out
}

func average(metrics []Metric, name string) (float64, bool) {
	vals := values(metrics, name)
	if len(vals) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), true
}

// meanStdDev returns the population mean and standard deviation.
func meanStdDev(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return mean, math.Sqrt(variance)
}
