// Package classifier maps shell commands to a CRUD bucket
// ({READ,CREATE,UPDATE,DELETE}) via an embedded language model, with a
// hot-reloadable few-shot correction file and a keyword-heuristic
// fallback for when the model is unavailable.
package classifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ccodaemon/ccod/pkg/hookengine"
)

// Engine is the interface an embedded model runtime must satisfy. The
// classifier's public contract is stable independent of which engine
// implementation backs it.
type Engine interface {
	// Infer returns the raw model completion text for prompt.
	Infer(prompt string) (string, error)
	// Available reports whether the engine is currently usable.
	Available() bool
}

var (
	ErrModelNotLoaded      = errors.New("classifier: model not loaded")
	ErrUnparseableResponse = errors.New("classifier: unparseable model response")
)

// UnparseableResponseError carries the raw model output that failed to parse.
type UnparseableResponseError struct{ Raw string }

func (e *UnparseableResponseError) Error() string {
	return fmt.Sprintf("classifier: unparseable response: %q", e.Raw)
}
func (e *UnparseableResponseError) Unwrap() error { return ErrUnparseableResponse }

// Classifier performs deterministic command -> ClassificationResult
// mapping.
type Classifier struct {
	engine      Engine
	corrections *CorrectionStore
}

// New creates a Classifier. engine may be nil, in which case every
// classification falls back to the keyword heuristic.
func New(engine Engine, corrections *CorrectionStore) *Classifier {
	return &Classifier{engine: engine, corrections: corrections}
}

// Classify returns the CRUD classification for command.
func (c *Classifier) Classify(command string) (hookengine.ClassificationResult, error) {
	if c.engine == nil || !c.engine.Available() {
		return c.heuristic(command), nil
	}

	prompt := c.buildPrompt(command)
	raw, err := c.engine.Infer(prompt)
	if err != nil {
		// Inference failure degrades to heuristic rather than failing
		// the caller outright — the permission gate must still see a
		// result to decide on.
		return c.heuristic(command), nil
	}

	class, err := ParseClassification(raw)
	if err != nil {
		return c.heuristic(command), nil
	}

	return hookengine.ClassificationResult{
		Class:      class,
		Confidence: 0.9,
		Reasoning:  raw,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *Classifier) buildPrompt(command string) string {
	var b strings.Builder
	if c.corrections != nil {
		for _, corr := range c.corrections.Load() {
			fmt.Fprintf(&b, "Command: %s\nWRONG: %s\nCORRECT: %s\n\n", corr.Command, corr.Predicted, corr.Expected)
		}
	}
	fmt.Fprintf(&b, "Command: %s", command)
	return b.String()
}

var canonicalTokens = []hookengine.ClassificationClass{
	hookengine.ClassRead, hookengine.ClassCreate, hookengine.ClassUpdate, hookengine.ClassDelete,
}

// ParseClassification scans raw for one of the canonical CRUD tokens,
// tolerant of leading prose like "Classification:" or "Answer:".
func ParseClassification(raw string) (hookengine.ClassificationClass, error) {
	upper := strings.ToUpper(raw)
	for _, tok := range canonicalTokens {
		if strings.Contains(upper, string(tok)) {
			return tok, nil
		}
	}
	return "", &UnparseableResponseError{Raw: raw}
}
