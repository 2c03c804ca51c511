package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Usage holds the token counts extracted from a single assistant
// message. Absent counts are zero.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// Cost holds the dollar cost for each token category of a single
// message, computed from a Pricing lookup.
type Cost struct {
	InputCost         float64
	OutputCost        float64
	CacheCreationCost float64
	CacheReadCost     float64
}

func (c Cost) Total() float64 {
	return c.InputCost + c.OutputCost + c.CacheCreationCost + c.CacheReadCost
}

// Pricing is dollars per million tokens for one canonical model.
type Pricing struct {
	InputPerM      float64
	OutputPerM     float64
	CacheWritePerM float64
	CacheReadPerM  float64
}

// ModelBreakdown aggregates usage and cost for one canonical model (or
// one (date, model) pair, when held in ParseResult.ByDateModel).
// ConversationCount counts distinct source files that contributed at
// least one message to this bucket; MessageCount counts the messages
// themselves.
type ModelBreakdown struct {
	Model             string
	Usage             Usage
	MessageCount      int
	ConversationCount int
	Cost              Cost
}

// Totals is the sum across all models in a parse run, or across all
// models for one date when held in ParseResult.ByDate.
type Totals struct {
	Usage             Usage
	MessageCount      int
	ConversationCount int
	Cost              Cost
}

// ParseResult is the output of parsing one project directory's JSONL
// files. Each JSONL file is treated as one conversation.
type ParseResult struct {
	Totals         Totals
	ModelBreakdown map[string]*ModelBreakdown
	ByDate         map[string]*Totals
	// ByDateModel indexes the same data by date and then canonical
	// model, for callers that need the (date, model) cross-product
	// directly (the persistence layer's write granularity).
	ByDateModel map[string]map[string]*ModelBreakdown
}

type assistantLine struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// PricingLookup resolves a canonical model name to its per-million
// token pricing. A missing model yields the zero Pricing (no cost
// attributed, never an error — logs should surface unknown models
// separately).
type PricingLookup func(canonicalModel string) (Pricing, bool)

var modelDateSuffix = regexp.MustCompile(`-\d{8}$`)

// CanonicalizeModel strips a trailing training-date suffix
// (e.g. "claude-3-5-sonnet-20241022" -> "claude-3-5-sonnet").
func CanonicalizeModel(model string) string {
	return modelDateSuffix.ReplaceAllString(model, "")
}

// ParseProjectDir enumerates .jsonl files directly under dir (not
// recursively — each project directory is flat) and aggregates token
// usage and cost.
func ParseProjectDir(dir string, pricing PricingLookup) (*ParseResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		ModelBreakdown: make(map[string]*ModelBreakdown),
		ByDate:         make(map[string]*Totals),
		ByDateModel:    make(map[string]map[string]*ModelBreakdown),
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if err := parseFile(filepath.Join(dir, e.Name()), pricing, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// fileTouch tracks which aggregation buckets a single JSONL file
// contributed to, so each file is counted as exactly one conversation
// per bucket rather than once per message line.
type fileTouch struct {
	any        bool
	models     map[string]bool
	dates      map[string]bool
	dateModels map[string]map[string]bool
}

func newFileTouch() *fileTouch {
	return &fileTouch{
		models:     make(map[string]bool),
		dates:      make(map[string]bool),
		dateModels: make(map[string]map[string]bool),
	}
}

func (t *fileTouch) mark(date, model string) {
	t.any = true
	t.models[model] = true
	if date != "" {
		t.dates[date] = true
		if t.dateModels[date] == nil {
			t.dateModels[date] = make(map[string]bool)
		}
		t.dateModels[date][model] = true
	}
}

func parseFile(path string, pricing PricingLookup, result *ParseResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	touch := newFileTouch()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var entry assistantLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed line: skip, never abort the file
		}
		if entry.Type != "assistant" || entry.Message.Model == "" {
			continue
		}

		accumulate(result, entry, pricing, touch)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}

	finalizeFileTouch(result, touch)
	return nil
}

func finalizeFileTouch(result *ParseResult, touch *fileTouch) {
	for model := range touch.models {
		result.ModelBreakdown[model].ConversationCount++
	}
	for date := range touch.dates {
		result.ByDate[date].ConversationCount++
	}
	for date, models := range touch.dateModels {
		for model := range models {
			result.ByDateModel[date][model].ConversationCount++
		}
	}
	if touch.any {
		result.Totals.ConversationCount++
	}
}

func accumulate(result *ParseResult, entry assistantLine, pricing PricingLookup, touch *fileTouch) {
	canonical := CanonicalizeModel(entry.Message.Model)

	usage := Usage{
		InputTokens:              entry.Message.Usage.InputTokens,
		OutputTokens:             entry.Message.Usage.OutputTokens,
		CacheCreationInputTokens: entry.Message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     entry.Message.Usage.CacheReadInputTokens,
	}

	var cost Cost
	if pricing != nil {
		if p, ok := pricing(canonical); ok {
			cost = Cost{
				InputCost:         float64(usage.InputTokens) / 1_000_000 * p.InputPerM,
				OutputCost:        float64(usage.OutputTokens) / 1_000_000 * p.OutputPerM,
				CacheCreationCost: float64(usage.CacheCreationInputTokens) / 1_000_000 * p.CacheWritePerM,
				CacheReadCost:     float64(usage.CacheReadInputTokens) / 1_000_000 * p.CacheReadPerM,
			}
		}
	}

	breakdown, ok := result.ModelBreakdown[canonical]
	if !ok {
		breakdown = &ModelBreakdown{Model: canonical}
		result.ModelBreakdown[canonical] = breakdown
	}
	addUsage(&breakdown.Usage, usage)
	addCost(&breakdown.Cost, cost)
	breakdown.MessageCount++

	addUsage(&result.Totals.Usage, usage)
	addCost(&result.Totals.Cost, cost)
	result.Totals.MessageCount++

	date := extractDate(entry.Timestamp)
	if date != "" {
		dayTotals, ok := result.ByDate[date]
		if !ok {
			dayTotals = &Totals{}
			result.ByDate[date] = dayTotals
		}
		addUsage(&dayTotals.Usage, usage)
		addCost(&dayTotals.Cost, cost)
		dayTotals.MessageCount++

		if result.ByDateModel[date] == nil {
			result.ByDateModel[date] = make(map[string]*ModelBreakdown)
		}
		dayModel, ok := result.ByDateModel[date][canonical]
		if !ok {
			dayModel = &ModelBreakdown{Model: canonical}
			result.ByDateModel[date][canonical] = dayModel
		}
		addUsage(&dayModel.Usage, usage)
		addCost(&dayModel.Cost, cost)
		dayModel.MessageCount++
	}

	touch.mark(date, canonical)
}

func extractDate(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func addUsage(dst *Usage, src Usage) {
	dst.InputTokens += src.InputTokens
	dst.OutputTokens += src.OutputTokens
	dst.CacheCreationInputTokens += src.CacheCreationInputTokens
	dst.CacheReadInputTokens += src.CacheReadInputTokens
}

func addCost(dst *Cost, src Cost) {
	dst.InputCost += src.InputCost
	dst.OutputCost += src.OutputCost
	dst.CacheCreationCost += src.CacheCreationCost
	dst.CacheReadCost += src.CacheReadCost
}
