// Package store implements the SQLite-backed persistence layer:
// daily metrics rollups (C12) and the one-time JSONL-to-database
// backfill migration status.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccodaemon/ccod/pkg/metrics"
)

// MetricsStore persists per-(date, model) token and cost rollups.
// Upserts sum into existing rows rather than replacing them, so
// repeated partial flushes of the same underlying data accumulate
// correctly as long as each source line is only ever counted once.
type MetricsStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMetricsStore opens the schema, creating tables if absent.
func NewMetricsStore(db *sql.DB) (*MetricsStore, error) {
	s := &MetricsStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MetricsStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_metrics (
			date TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			input_cost REAL NOT NULL DEFAULT 0,
			output_cost REAL NOT NULL DEFAULT 0,
			cache_creation_cost REAL NOT NULL DEFAULT 0,
			cache_read_cost REAL NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			conversation_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (date, model)
		);
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			jsonl_backfill_done INTEGER NOT NULL DEFAULT 0,
			jsonl_backfill_at TEXT
		);
	`)
	return err
}

// UpsertBatch applies a batch of write events as a single transaction,
// summing each (date, model) pair's columns on conflict.
func (s *MetricsStore) UpsertBatch(ctx context.Context, events []metrics.WriteEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_metrics (
			date, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			input_cost, output_cost, cache_creation_cost, cache_read_cost,
			message_count, conversation_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cache_creation_tokens = cache_creation_tokens + excluded.cache_creation_tokens,
			cache_read_tokens = cache_read_tokens + excluded.cache_read_tokens,
			input_cost = input_cost + excluded.input_cost,
			output_cost = output_cost + excluded.output_cost,
			cache_creation_cost = cache_creation_cost + excluded.cache_creation_cost,
			cache_read_cost = cache_read_cost + excluded.cache_read_cost,
			message_count = message_count + excluded.message_count,
			conversation_count = conversation_count + excluded.conversation_count,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.Date, e.Model,
			e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CacheCreationInputTokens, e.Usage.CacheReadInputTokens,
			e.Cost.InputCost, e.Cost.OutputCost, e.Cost.CacheCreationCost, e.Cost.CacheReadCost,
			e.MessageCount, e.ConversationCount,
			now,
		); err != nil {
			return fmt.Errorf("store: upsert %s/%s: %w", e.Date, e.Model, err)
		}
	}

	return tx.Commit()
}

// DateModelMetrics is one persisted (date, model) row.
type DateModelMetrics struct {
	Date              string
	Model             string
	Usage             metrics.Usage
	Cost              metrics.Cost
	MessageCount      int
	ConversationCount int
}

// GetMetricsForDate returns every model's rollup for a single date.
func (s *MetricsStore) GetMetricsForDate(ctx context.Context, date string) ([]DateModelMetrics, error) {
	return s.queryRange(ctx, date, date)
}

// GetMetricsRange returns every (date, model) row with date in
// [start, end] inclusive.
func (s *MetricsStore) GetMetricsRange(ctx context.Context, start, end string) ([]DateModelMetrics, error) {
	return s.queryRange(ctx, start, end)
}

func (s *MetricsStore) queryRange(ctx context.Context, start, end string) ([]DateModelMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			input_cost, output_cost, cache_creation_cost, cache_read_cost,
			message_count, conversation_count
		FROM daily_metrics
		WHERE date >= ? AND date <= ?
		ORDER BY date, model
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DateModelMetrics
	for rows.Next() {
		var m DateModelMetrics
		if err := rows.Scan(&m.Date, &m.Model,
			&m.Usage.InputTokens, &m.Usage.OutputTokens, &m.Usage.CacheCreationInputTokens, &m.Usage.CacheReadInputTokens,
			&m.Cost.InputCost, &m.Cost.OutputCost, &m.Cost.CacheCreationCost, &m.Cost.CacheReadCost,
			&m.MessageCount, &m.ConversationCount,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DailyTotal aggregates across all models for one date.
type DailyTotal struct {
	Date           string
	Totals         metrics.Totals
	ModelBreakdown map[string]*metrics.ModelBreakdown
}

// GetDailyTotals aggregates daily_metrics rows across models per date
// for dates in [start, end].
func (s *MetricsStore) GetDailyTotals(ctx context.Context, start, end string) ([]DailyTotal, error) {
	rows, err := s.queryRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*DailyTotal)
	var order []string
	for _, r := range rows {
		dt, ok := byDate[r.Date]
		if !ok {
			dt = &DailyTotal{Date: r.Date, ModelBreakdown: make(map[string]*metrics.ModelBreakdown)}
			byDate[r.Date] = dt
			order = append(order, r.Date)
		}
		dt.Totals.Usage.InputTokens += r.Usage.InputTokens
		dt.Totals.Usage.OutputTokens += r.Usage.OutputTokens
		dt.Totals.Usage.CacheCreationInputTokens += r.Usage.CacheCreationInputTokens
		dt.Totals.Usage.CacheReadInputTokens += r.Usage.CacheReadInputTokens
		dt.Totals.Cost.InputCost += r.Cost.InputCost
		dt.Totals.Cost.OutputCost += r.Cost.OutputCost
		dt.Totals.Cost.CacheCreationCost += r.Cost.CacheCreationCost
		dt.Totals.Cost.CacheReadCost += r.Cost.CacheReadCost
		dt.Totals.MessageCount += r.MessageCount
		dt.Totals.ConversationCount += r.ConversationCount

		dt.ModelBreakdown[r.Model] = &metrics.ModelBreakdown{
			Model:             r.Model,
			Usage:             r.Usage,
			Cost:              r.Cost,
			MessageCount:      r.MessageCount,
			ConversationCount: r.ConversationCount,
		}
	}

	out := make([]DailyTotal, 0, len(order))
	for _, date := range order {
		out = append(out, *byDate[date])
	}
	return out, nil
}

// ErrBackfillAlreadyDone is returned by MarkBackfillDone when the
// one-time migration has already run.
var ErrBackfillAlreadyDone = errors.New("store: jsonl backfill already completed")

// IsBackfillDone reports whether the one-time JSONL-to-database
// backfill has already run.
func (s *MetricsStore) IsBackfillDone(ctx context.Context) (bool, error) {
	var done int
	err := s.db.QueryRowContext(ctx, `SELECT jsonl_backfill_done FROM schema_migrations WHERE id = 'jsonl_backfill'`).Scan(&done)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return done == 1, nil
}

// MarkBackfillDone records that the one-time JSONL-to-database
// backfill completed. It fails if already marked done, since the
// backfill is only safe to run once per spec.
func (s *MetricsStore) MarkBackfillDone(ctx context.Context) error {
	done, err := s.IsBackfillDone(ctx)
	if err != nil {
		return err
	}
	if done {
		return ErrBackfillAlreadyDone
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schema_migrations (id, jsonl_backfill_done, jsonl_backfill_at)
		VALUES ('jsonl_backfill', 1, ?)
		ON CONFLICT(id) DO UPDATE SET jsonl_backfill_done = 1, jsonl_backfill_at = excluded.jsonl_backfill_at
	`, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Backfill performs the one-time JSONL-to-database migration: every
// project directory directly under projectsRoot (one level deep, each
// holding that project's .jsonl logs) is parsed in full, the
// resulting (date, model) totals are upserted, and the migration is
// marked done. It is a no-op if the migration already ran, and a
// missing projectsRoot is treated as an empty migration rather than an
// error (a fresh daemon with no project logs yet has nothing to
// backfill).
func (s *MetricsStore) Backfill(ctx context.Context, projectsRoot string, pricing metrics.PricingLookup) error {
	done, err := s.IsBackfillDone(ctx)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	entries, err := os.ReadDir(projectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return s.MarkBackfillDone(ctx)
		}
		return fmt.Errorf("store: backfill: list %s: %w", projectsRoot, err)
	}

	var events []metrics.WriteEvent
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(projectsRoot, e.Name())
		result, err := metrics.ParseProjectDir(dir, pricing)
		if err != nil {
			return fmt.Errorf("store: backfill: parse %s: %w", dir, err)
		}
		events = append(events, writeEventsFromResult(result)...)
	}

	if err := s.UpsertBatch(ctx, events); err != nil {
		return fmt.Errorf("store: backfill: upsert: %w", err)
	}
	return s.MarkBackfillDone(ctx)
}

// writeEventsFromResult flattens a parse result's (date, model)
// breakdown into write events carrying the full per-bucket totals,
// suitable for a one-shot backfill upsert (not for the incremental
// live path, which must send deltas instead).
func writeEventsFromResult(result *metrics.ParseResult) []metrics.WriteEvent {
	var events []metrics.WriteEvent
	for date, models := range result.ByDateModel {
		for model, b := range models {
			events = append(events, metrics.WriteEvent{
				Date:              date,
				Model:             model,
				Usage:             b.Usage,
				Cost:              b.Cost,
				MessageCount:      b.MessageCount,
				ConversationCount: b.ConversationCount,
			})
		}
	}
	return events
}
