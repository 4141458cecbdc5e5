// Package athlete aggregates recorded performance metrics for the
// analyze_data tool.
package athlete

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// ErrNotFound indicates an unknown athlete ID.
var ErrNotFound = errors.New("athlete not found")

// MetricSummary aggregates one metric's recorded values.
type MetricSummary struct {
	Count  int64   `json:"count"`
	Latest float64 `json:"latest"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Unit   string  `json:"unit"`
}

// Summary is the aggregated view of an athlete's recorded data.
type Summary struct {
	EntityID string                   `json:"entity_id"`
	Name     string                   `json:"name"`
	Sport    string                   `json:"sport"`
	Metrics  map[string]MetricSummary `json:"metrics"`
}

// Service reads athlete data from PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewService creates a Service. The pool is owned by the caller.
func NewService(pool *pgxpool.Pool, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{pool: pool, logger: logger.With("component", "athlete")}
}

// Analyze aggregates recorded metrics for one athlete. metric restricts the
// aggregation to a single metric name; empty means all metrics. An athlete
// with no recorded metrics yields an empty Metrics map, not an error.
func (s *Service) Analyze(ctx context.Context, entityID, metric string) (*Summary, error) {
	summary := &Summary{EntityID: entityID, Metrics: map[string]MetricSummary{}}

	err := s.pool.QueryRow(ctx, `
		SELECT name, sport FROM athletes WHERE id = $1`, entityID).
		Scan(&summary.Name, &summary.Sport)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching athlete %s: %w", entityID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT metric,
		       count(*),
		       (array_agg(value ORDER BY recorded_at DESC))[1] AS latest,
		       avg(value),
		       min(value),
		       max(value),
		       (array_agg(unit ORDER BY recorded_at DESC))[1] AS unit
		FROM performance_metrics
		WHERE athlete_id = $1 AND ($2 = '' OR metric = $2)
		GROUP BY metric`,
		entityID, metric)
	if err != nil {
		return nil, fmt.Errorf("aggregating metrics for %s: %w", entityID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var m MetricSummary
		if err := rows.Scan(&name, &m.Count, &m.Latest, &m.Mean, &m.Min, &m.Max, &m.Unit); err != nil {
			return nil, fmt.Errorf("scanning metric row: %w", err)
		}
		summary.Metrics[name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregating metrics for %s: %w", entityID, err)
	}

	s.logger.Debug("analyzed athlete", "entity_id", entityID, "metrics", len(summary.Metrics))
	return summary, nil
}
