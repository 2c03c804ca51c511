package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, dir, name string, lines []string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCanonicalizeModel_StripsDateSuffix(t *testing.T) {
	require.Equal(t, "claude-3-5-sonnet", CanonicalizeModel("claude-3-5-sonnet-20241022"))
	require.Equal(t, "claude-3-opus", CanonicalizeModel("claude-3-opus"))
}

func TestParseProjectDir_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeJSONL(t, dir, "a.jsonl", []string{
		`not json at all`,
		`{"type":"user","message":{"content":"hi"}}`,
		`{"type":"assistant","timestamp":"2026-01-02T10:00:00Z","message":{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":100,"output_tokens":50}}}`,
	})

	result, err := ParseProjectDir(dir, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Totals.MessageCount)
	require.Equal(t, 100, result.Totals.Usage.InputTokens)
	require.Equal(t, 50, result.Totals.Usage.OutputTokens)

	breakdown, ok := result.ModelBreakdown["claude-3-5-sonnet"]
	require.True(t, ok)
	require.Equal(t, 1, breakdown.MessageCount)
}

func TestParseProjectDir_ComputesCostFromPricing(t *testing.T) {
	dir := t.TempDir()
	writeJSONL(t, dir, "a.jsonl", []string{
		`{"type":"assistant","timestamp":"2026-01-02T10:00:00Z","message":{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":1000000,"output_tokens":1000000,"cache_creation_input_tokens":1000000,"cache_read_input_tokens":1000000}}}`,
	})

	pricing := func(model string) (Pricing, bool) {
		if model == "claude-3-5-sonnet" {
			return Pricing{InputPerM: 3, OutputPerM: 15, CacheWritePerM: 3.75, CacheReadPerM: 0.3}, true
		}
		return Pricing{}, false
	}

	result, err := ParseProjectDir(dir, pricing)
	require.NoError(t, err)
	require.InDelta(t, 3.0, result.Totals.Cost.InputCost, 0.0001)
	require.InDelta(t, 15.0, result.Totals.Cost.OutputCost, 0.0001)
	require.InDelta(t, 3.75, result.Totals.Cost.CacheCreationCost, 0.0001)
	require.InDelta(t, 0.3, result.Totals.Cost.CacheReadCost, 0.0001)
}

func TestParseProjectDir_ByDateIndex(t *testing.T) {
	dir := t.TempDir()
	writeJSONL(t, dir, "a.jsonl", []string{
		`{"type":"assistant","timestamp":"2026-01-02T10:00:00Z","message":{"model":"claude-3-haiku","usage":{"input_tokens":10,"output_tokens":5}}}`,
		`{"type":"assistant","timestamp":"2026-01-03T10:00:00Z","message":{"model":"claude-3-haiku","usage":{"input_tokens":20,"output_tokens":10}}}`,
	})

	result, err := ParseProjectDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, result.ByDate, 2)
	require.Equal(t, 10, result.ByDate["2026-01-02"].Usage.InputTokens)
	require.Equal(t, 20, result.ByDate["2026-01-03"].Usage.InputTokens)
}

func TestParseProjectDir_IgnoresNonAssistantLines(t *testing.T) {
	dir := t.TempDir()
	writeJSONL(t, dir, "a.jsonl", []string{
		`{"type":"system","message":{}}`,
		`{"type":"assistant","message":{}}`, // no model, no usage
	})

	result, err := ParseProjectDir(dir, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.Totals.MessageCount)
}
