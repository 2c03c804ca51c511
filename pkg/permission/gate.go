// Package permission implements the permission gate (C4): mapping a
// command classification plus policy to an approval decision.
package permission

import (
	"fmt"
	"time"

	"github.com/ccodaemon/ccod/pkg/hookengine"
	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
)

// Decision is one of the four permission outcomes.
type Decision string

const (
	Approved Decision = "Approved"
	Denied   Decision = "Denied"
	Pending  Decision = "Pending"
	Skipped  Decision = "Skipped"
)

// Policy configures gate evaluation.
type Policy struct {
	DangerouslySkipConfirmations bool
	AutoApproveRead               bool
	DefaultTimeoutMS               int
	// CELExpression, if set, is evaluated against variables `command`
	// (string) and `class` (string) after the three built-in rules would
	// otherwise yield Pending; returning true denies the command. This is
	// additive — it can only add a Denied outcome, never bypass Approved
	// or Skipped.
	CELExpression string
}

// PermissionResult is the outcome returned to the caller. DecisionID
// is only set for Pending results; it identifies the decision for
// POST /api/hooks/decisions/{id}/resolve and is what the accompanying
// resolution token is scoped to.
type PermissionResult struct {
	Decision   Decision  `json:"decision"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
	DecisionID string    `json:"decision_id,omitempty"`
}

// Gate evaluates classification + policy into a PermissionResult.
type Gate struct {
	policy Policy
	celPrg cel.Program
}

// NewGate builds a Gate for policy. If policy.CELExpression is set and
// fails to compile, NewGate returns an error — a broken policy expression
// must fail closed at startup, not silently disable the optional layer.
func NewGate(policy Policy) (*Gate, error) {
	g := &Gate{policy: policy}
	if policy.CELExpression == "" {
		return g, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("command", cel.StringType),
		cel.Variable("class", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("permission: cel env: %w", err)
	}
	ast, issues := env.Compile(policy.CELExpression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("permission: cel compile: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("permission: cel program: %w", err)
	}
	g.celPrg = prg
	return g, nil
}

// Evaluate applies the gate's rules, in order, to command and its
// classification.
func (g *Gate) Evaluate(command string, classification hookengine.ClassificationResult) PermissionResult {
	now := time.Now().UTC()

	if classification.Class == hookengine.ClassRead && g.policy.AutoApproveRead {
		return PermissionResult{
			Decision:   Approved,
			Reasoning:  "READ operation - safe to execute",
			Timestamp:  now,
			Confidence: classification.Confidence,
		}
	}

	if g.policy.DangerouslySkipConfirmations {
		return PermissionResult{
			Decision:   Skipped,
			Reasoning:  "confirmations disabled by policy",
			Timestamp:  now,
			Confidence: classification.Confidence,
		}
	}

	if g.celPrg != nil {
		denied, reason := g.evaluateCEL(command, string(classification.Class))
		if denied {
			return PermissionResult{
				Decision:   Denied,
				Reasoning:  reason,
				Timestamp:  now,
				Confidence: classification.Confidence,
			}
		}
	}

	return PermissionResult{
		Decision:   Pending,
		Reasoning:  fmt.Sprintf("%s operation requires user confirmation", classification.Class),
		Timestamp:  now,
		Confidence: classification.Confidence,
		DecisionID: uuid.NewString(),
	}
}

func (g *Gate) evaluateCEL(command, class string) (denied bool, reason string) {
	out, _, err := g.celPrg.Eval(map[string]interface{}{"command": command, "class": class})
	if err != nil {
		return false, ""
	}
	b, ok := out.Value().(bool)
	if !ok || !b {
		return false, ""
	}
	return true, "denied by policy expression"
}
