// Package ai models the advisory evaluation attached to goals under review.
// The evaluation is an opaque text-in/text-out signal: it never blocks an
// approve or deny decision and is never authoritative.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Evaluation is one advisory annotation for a goal, by position.
type Evaluation struct {
	GoalIndex int    `json:"goalIndex"`
	Summary   string `json:"summary"`
}

// Evaluator produces advisory free text for a goal's submitted evidence.
type Evaluator interface {
	Evaluate(ctx context.Context, detail, progress string) (string, error)
}

// RuleEvaluator is a deterministic evaluator: it comments on the shape of the
// evidence rather than its content. The simulator uses it in place of a
// hosted model.
type RuleEvaluator struct{}

// Evaluate summarizes the evidence references attached to a goal.
func (RuleEvaluator) Evaluate(ctx context.Context, detail, progress string) (string, error) {
	progress = strings.TrimSpace(progress)
	if progress == "" {
		return "No evidence submitted for this goal yet.", nil
	}
	refs := 0
	for _, part := range strings.Split(progress, ",") {
		if strings.TrimSpace(part) != "" {
			refs++
		}
	}
	if refs == 1 {
		return fmt.Sprintf("1 evidence reference submitted for %q; looks consistent with the requirement.", detail), nil
	}
	return fmt.Sprintf("%d evidence references submitted for %q; looks consistent with the requirement.", refs, detail), nil
}
