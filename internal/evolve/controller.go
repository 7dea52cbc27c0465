// Package evolve runs the periodic self-tuning cycle: observe latency
// metrics, decide whether structural adaptation is warranted, apply
// store-level changes, then audit health.
package evolve

import (
	"context"
	"fmt"
	"math"

	"hivemind/internal/logging"
)

// Cycle thresholds.
const (
	// sampleWindow latency samples feed the baseline; at least minSamples are
	// required before any decision is made.
	sampleWindow = 20
	minSamples   = 5

	// Evolution triggers when the latest sample's z-score exceeds
	// zScoreThreshold or the window mean exceeds meanLatencyThreshold.
	zScoreThreshold      = 1.5
	meanLatencyThreshold = 500

	// indexLatencyThreshold gates creation of the message-table composite
	// index.
	indexLatencyThreshold = 200
)

// Store is the schema-level surface the controller adapts.
type Store interface {
	// RecentLatencies returns up to limit latency samples, most recent first.
	RecentLatencies(ctx context.Context, limit int) ([]float64, error)

	// TablesWithoutPrimaryKey lists tables missing a primary key.
	TablesWithoutPrimaryKey(ctx context.Context) ([]string, error)

	// EnsureMessageIndex creates the (session, time) composite index on the
	// message table if absent. Returns true when it was created by this call.
	EnsureMessageIndex(ctx context.Context) (bool, error)
}

// SelfOptimizer is the capability a store declares when it supports a
// lightweight self-optimization pass. The controller never inspects the
// store's concrete type beyond this interface.
type SelfOptimizer interface {
	SupportsSelfOptimize() bool
	Optimize(ctx context.Context) error
}

// HealthAuditor verifies store health after an evolution attempt.
type HealthAuditor interface {
	// Audit returns whether the store is healthy plus detail text.
	Audit(ctx context.Context) (bool, string, error)
}

// CycleReport describes one controller cycle.
type CycleReport struct {
	Evolved bool    `json:"evolved"`
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	ZScore  float64 `json:"z_score"`

	Optimized          bool     `json:"optimized"`
	MissingPrimaryKeys []string `json:"missing_primary_keys,omitempty"`
	IndexCreated       bool     `json:"index_created"`

	Healthy bool   `json:"healthy"`
	Warning string `json:"warning,omitempty"`
}

// Controller orchestrates the evolution cycle.
type Controller struct {
	store   Store
	auditor HealthAuditor
	log     *logging.Logger
}

// NewController creates a controller over the given store. auditor may be
// nil; the post-evolution audit is then skipped and reported healthy.
func NewController(store Store, auditor HealthAuditor) *Controller {
	return &Controller{
		store:   store,
		auditor: auditor,
		log:     logging.Get(logging.CategoryEvolution),
	}
}

// RunCycle executes one observe-decide-apply-audit cycle.
func (c *Controller) RunCycle(ctx context.Context) (*CycleReport, error) {
	timer := logging.StartTimer(logging.CategoryEvolution, "Controller.RunCycle")
	defer timer.StopWithInfo()

	report := &CycleReport{Healthy: true}

	samples, err := c.store.RecentLatencies(ctx, sampleWindow)
	if err != nil {
		return nil, fmt.Errorf("load latency samples: %w", err)
	}
	report.Samples = len(samples)
	if len(samples) < minSamples {
		c.log.Debug("Evolution skipped: %d latency samples, need %d", len(samples), minSamples)
		return report, nil
	}

	report.Mean, report.StdDev = meanStdDev(samples)
	latest := samples[0]
	if report.StdDev > 0 {
		report.ZScore = (latest - report.Mean) / report.StdDev
	}

	if report.ZScore <= zScoreThreshold && report.Mean <= meanLatencyThreshold {
		c.log.Debug("Evolution not warranted: mean=%.1f z=%.2f", report.Mean, report.ZScore)
		return report, nil
	}
	report.Evolved = true
	c.log.Info("Evolution triggered: mean=%.1f stddev=%.1f z=%.2f over %d samples",
		report.Mean, report.StdDev, report.ZScore, report.Samples)

	if so, ok := c.store.(SelfOptimizer); ok && so.SupportsSelfOptimize() {
		if err := so.Optimize(ctx); err != nil {
			return report, fmt.Errorf("store self-optimization: %w", err)
		}
		report.Optimized = true
		c.log.Info("Store self-optimization complete")
	}

	missing, err := c.store.TablesWithoutPrimaryKey(ctx)
	if err != nil {
		return report, fmt.Errorf("inspect table metadata: %w", err)
	}
	report.MissingPrimaryKeys = missing
	for _, table := range missing {
		// Flagged only; schema repair is not automatic.
		c.log.Error("Table %s has no primary key", table)
	}

	if report.Mean > indexLatencyThreshold {
		created, err := c.store.EnsureMessageIndex(ctx)
		if err != nil {
			return report, fmt.Errorf("ensure message index: %w", err)
		}
		report.IndexCreated = created
		if created {
			c.log.Info("Created composite (session, time) index on message table")
		}
	}

	if c.auditor != nil {
		healthy, detail, err := c.auditor.Audit(ctx)
		if err != nil {
			return report, fmt.Errorf("post-evolution health audit: %w", err)
		}
		report.Healthy = healthy
		if !healthy {
			// Reported, never rolled back.
			report.Warning = fmt.Sprintf("post-evolution audit unhealthy: %s", detail)
			c.log.Error("%s", report.Warning)
		}
	}

	return report, nil
}

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
