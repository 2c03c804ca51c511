package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ccodaemon/ccod/pkg/hookengine"
)

// Correction is a user-supplied few-shot correction persisted at
// ~/.cco/classifier-corrections.json.
type Correction struct {
	Command    string                         `json:"command"`
	Predicted  hookengine.ClassificationClass `json:"predicted"`
	Expected   hookengine.ClassificationClass `json:"expected"`
	Confidence float32                        `json:"confidence"`
	Timestamp  time.Time                      `json:"timestamp"`
}

// CorrectionStore reads corrections fresh from disk on every Load call.
// Caching is deliberately omitted: the file system cannot reliably signal
// invalidation cross-platform, and a stat+parse is cheap.
type CorrectionStore struct {
	path string
}

// NewCorrectionStore creates a store backed by path.
func NewCorrectionStore(path string) *CorrectionStore {
	return &CorrectionStore{path: path}
}

// DefaultCorrectionsPath returns ~/.cco/classifier-corrections.json.
func DefaultCorrectionsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cco/classifier-corrections.json"
	}
	return filepath.Join(home, ".cco", "classifier-corrections.json")
}

// Load reads and parses the corrections file, tolerating a missing or
// corrupt file by returning an empty slice.
func (s *CorrectionStore) Load() []Correction {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var corrections []Correction
	if err := json.Unmarshal(b, &corrections); err != nil {
		return nil
	}
	return corrections
}

// Append adds a new correction to the file, creating it (and its parent
// directory) if necessary.
func (s *CorrectionStore) Append(c Correction) error {
	corrections := s.Load()
	corrections = append(corrections, c)

	b, err := json.MarshalIndent(corrections, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
