package store

import (
	"context"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/perf"
)

// RecordMetric appends one named sample.
func (s *LocalStore) RecordMetric(ctx context.Context, name string, value float64, persona string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_metrics (name, value, persona, created_at)
		 VALUES (?, ?, ?, ?)`,
		name, value, persona, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record metric %s: %w", name, err)
	}
	return nil
}

// RecentMetrics returns up to limit samples for a persona, most recent first.
func (s *LocalStore) RecentMetrics(ctx context.Context, persona string, limit int) ([]perf.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, persona, created_at FROM agent_metrics
		 WHERE persona = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		persona, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for persona %s: %w", persona, err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

// RecentGlobalMetrics returns up to limit samples across all personas, most
// recent first.
func (s *LocalStore) RecentGlobalMetrics(ctx context.Context, limit int) ([]perf.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, persona, created_at FROM agent_metrics
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query global metrics: %w", err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

// RecentLatencies returns up to limit latency samples, most recent first.
func (s *LocalStore) RecentLatencies(ctx context.Context, limit int) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM agent_metrics
		 WHERE name = 'latency' ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latency samples: %w", err)
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			logging.StoreDebug("Failed to scan latency row: %v", err)
			continue
		}
		samples = append(samples, v)
	}
	return samples, rows.Err()
}

type metricRows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}

func collectMetrics(rows metricRows) ([]perf.Metric, error) {
	var metrics []perf.Metric
	for rows.Next() {
		var m perf.Metric
		if err := rows.Scan(&m.Name, &m.Value, &m.Persona, &m.CreatedAt); err != nil {
			logging.StoreDebug("Failed to scan metric row: %v", err)
			continue
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
