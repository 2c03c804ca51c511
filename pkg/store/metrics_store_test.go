package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ccodaemon/ccod/pkg/metrics"
)

func writeProjectJSONL(t *testing.T, projectsRoot, project, file string, lines []string) {
	t.Helper()
	dir := filepath.Join(projectsRoot, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetricsStore_UpsertSumsOnConflict(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	event := metrics.WriteEvent{
		Date:  "2026-01-01",
		Model: "claude-3-5-sonnet",
		Usage: metrics.Usage{InputTokens: 100, OutputTokens: 50},
		Cost:  metrics.Cost{InputCost: 1.0, OutputCost: 2.0},
	}
	require.NoError(t, s.UpsertBatch(ctx, []metrics.WriteEvent{event}))
	require.NoError(t, s.UpsertBatch(ctx, []metrics.WriteEvent{event}))

	rows, err := s.GetMetricsForDate(ctx, "2026-01-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 200, rows[0].Usage.InputTokens)
	require.Equal(t, 100, rows[0].Usage.OutputTokens)
	require.InDelta(t, 2.0, rows[0].Cost.InputCost, 0.0001)
}

func TestMetricsStore_GetMetricsRange(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []metrics.WriteEvent{
		{Date: "2026-01-01", Model: "m1", Usage: metrics.Usage{InputTokens: 10}},
		{Date: "2026-01-02", Model: "m1", Usage: metrics.Usage{InputTokens: 20}},
		{Date: "2026-01-05", Model: "m1", Usage: metrics.Usage{InputTokens: 30}},
	}))

	rows, err := s.GetMetricsRange(ctx, "2026-01-01", "2026-01-02")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestMetricsStore_GetDailyTotals_AggregatesAcrossModels(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []metrics.WriteEvent{
		{Date: "2026-01-01", Model: "m1", Usage: metrics.Usage{InputTokens: 10}},
		{Date: "2026-01-01", Model: "m2", Usage: metrics.Usage{InputTokens: 20}},
	}))

	totals, err := s.GetDailyTotals(ctx, "2026-01-01", "2026-01-01")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.Equal(t, 30, totals[0].Totals.Usage.InputTokens)
	require.Len(t, totals[0].ModelBreakdown, 2)
}

func TestMetricsStore_BackfillMarkedOnce(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	done, err := s.IsBackfillDone(ctx)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, s.MarkBackfillDone(ctx))

	done, err = s.IsBackfillDone(ctx)
	require.NoError(t, err)
	require.True(t, done)

	err = s.MarkBackfillDone(ctx)
	require.ErrorIs(t, err, ErrBackfillAlreadyDone)
}

func TestMetricsStore_Backfill_EnumeratesAndMarksDone(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	root := t.TempDir()
	writeProjectJSONL(t, root, "proj-a", "a.jsonl", []string{
		`{"type":"assistant","timestamp":"2026-01-01T10:00:00Z","message":{"model":"claude-3-5-sonnet","usage":{"input_tokens":10,"output_tokens":5}}}`,
		`{"type":"assistant","timestamp":"2026-01-02T10:00:00Z","message":{"model":"claude-3-haiku","usage":{"input_tokens":20,"output_tokens":10}}}`,
	})
	writeProjectJSONL(t, root, "proj-b", "b.jsonl", []string{
		`{"type":"assistant","timestamp":"2026-01-01T11:00:00Z","message":{"model":"claude-3-opus","usage":{"input_tokens":30,"output_tokens":15}}}`,
		`{"type":"assistant","timestamp":"2026-01-02T11:00:00Z","message":{"model":"claude-3-5-sonnet","usage":{"input_tokens":40,"output_tokens":20}}}`,
	})

	require.NoError(t, s.Backfill(ctx, root, metrics.LookupDefaultPricing))

	rows, err := s.GetMetricsRange(ctx, "2026-01-01", "2026-01-02")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	done, err := s.IsBackfillDone(ctx)
	require.NoError(t, err)
	require.True(t, done)

	require.NoError(t, s.Backfill(ctx, root, metrics.LookupDefaultPricing))
	rowsAfter, err := s.GetMetricsRange(ctx, "2026-01-01", "2026-01-02")
	require.NoError(t, err)
	require.Len(t, rowsAfter, 4, "re-running backfill must be a no-op")
}

func TestMetricsStore_Backfill_MissingRootIsNoop(t *testing.T) {
	db := setupTestDB(t)
	s, err := NewMetricsStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Backfill(ctx, filepath.Join(t.TempDir(), "does-not-exist"), nil))

	done, err := s.IsBackfillDone(ctx)
	require.NoError(t, err)
	require.True(t, done)
}
