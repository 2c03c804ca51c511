package classifier

import (
	"strings"
	"time"

	"github.com/ccodaemon/ccod/pkg/hookengine"
)

var (
	deletePatterns = []string{"rm ", "rm\t", "rmdir"}
	createPatterns = []string{"touch ", "mkdir", "init", "docker run"}
	updatePatterns = []string{">>", "sed -i", "commit", "chmod"}
	readPatterns   = []string{"ls", "cat ", "git status", "grep", "ps"}
)

// heuristic implements the keyword classifier used when the embedded
// model is unavailable. CREATE is the safe non-READ default because any
// non-READ class triggers confirmation.
func (c *Classifier) heuristic(command string) hookengine.ClassificationResult {
	trimmed := strings.TrimSpace(command)
	lower := strings.ToLower(trimmed)

	class := hookengine.ClassCreate
	switch {
	case matchesAny(lower, readPatterns) && !matchesAny(lower, deletePatterns):
		class = hookengine.ClassRead
	case matchesAny(lower, deletePatterns) || hasDeleteFlag(lower):
		class = hookengine.ClassDelete
	case matchesAny(lower, updatePatterns):
		class = hookengine.ClassUpdate
	case matchesAny(lower, createPatterns):
		class = hookengine.ClassCreate
	}

	return hookengine.ClassificationResult{
		Class:      class,
		Confidence: 0.5,
		Reasoning:  "heuristic: embedded model unavailable",
		Timestamp:  time.Now().UTC(),
	}
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// hasDeleteFlag matches a standalone "-d" flag token, e.g. "docker rm -d".
func hasDeleteFlag(s string) bool {
	for _, tok := range strings.Fields(s) {
		if tok == "-d" {
			return true
		}
	}
	return false
}
