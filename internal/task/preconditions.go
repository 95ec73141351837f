package task

import (
	"strconv"
	"strings"
)

// Actor is the operator attempting a transition, as claimed by the access
// credential. The authority re-checks every rule; these checks only fail
// fast, before a request is issued.
type Actor struct {
	ID   string
	Role string
}

// activeStates are the assignee-actionable states: progress may be saved and
// the task re-submitted from any of them. Overdue is a display classification
// of these, not a separate authoritative state.
func activeState(s State) bool {
	return s == StateInProgress || s == StateDenied
}

func checkEdit(op string, t *Task, a Actor) error {
	if t == nil {
		return violation(op, "task is required")
	}
	if t.State != StateDraft {
		return violation(op, "only legal while Draft, state is "+t.State.String())
	}
	if a.ID == "" || a.ID != t.CreatorID {
		return violation(op, "caller is not the creator")
	}
	return nil
}

func checkPublish(t *Task, a Actor) error {
	const op = "publish"
	if err := checkEdit(op, t, a); err != nil {
		return err
	}
	if len(t.Goals) == 0 {
		return violation(op, "task must have at least one goal")
	}
	if strings.TrimSpace(t.AssigneeID) == "" {
		return violation(op, "assignee is required")
	}
	return nil
}

func checkSaveProgress(t *Task, a Actor, progress []string) error {
	const op = "save progress"
	if t == nil {
		return violation(op, "task is required")
	}
	if !activeState(t.State) {
		return violation(op, "task is not active, state is "+t.State.String())
	}
	if a.ID == "" || a.ID != t.AssigneeID {
		return violation(op, "caller is not the assignee")
	}
	if len(progress) != len(t.Goals) {
		return violation(op, "progress values must match goals one-to-one")
	}
	return nil
}

func checkSubmit(t *Task, a Actor) error {
	const op = "submit for review"
	if t == nil {
		return violation(op, "task is required")
	}
	if !activeState(t.State) {
		return violation(op, "task is not active, state is "+t.State.String())
	}
	if a.ID == "" || a.ID != t.AssigneeID {
		return violation(op, "caller is not the assignee")
	}
	if len(t.Goals) == 0 {
		return violation(op, "task must have at least one goal")
	}
	for i, g := range t.Goals {
		if strings.TrimSpace(g.Progress) == "" {
			return violation(op, "goal "+goalLabel(i, g)+" has no progress value")
		}
	}
	return nil
}

func checkReview(op string, t *Task, a Actor) error {
	if t == nil {
		return violation(op, "task is required")
	}
	if t.State != StateWaitReview {
		return violation(op, "only legal from WaitReview, state is "+t.State.String())
	}
	if a.Role != RoleCoordinator && a.Role != RoleAdmin {
		return violation(op, "caller is not a reviewer")
	}
	if a.ID != "" && a.ID == t.AssigneeID {
		return violation(op, "assignee cannot review their own task")
	}
	return nil
}

func checkRestore(a Actor) error {
	if a.Role != RoleAdmin {
		return violation("restore", "caller is not an administrator")
	}
	return nil
}

func checkDraft(d Draft) error {
	const op = "create"
	if strings.TrimSpace(d.Name) == "" {
		return violation(op, "name is required")
	}
	if d.EndAt != nil && !d.StartAt.IsZero() && d.EndAt.Before(d.StartAt) {
		return violation(op, "end bound precedes start bound")
	}
	for i, g := range d.Goals {
		if g.Point < 0 {
			return violation(op, "goal "+goalLabel(i, g)+" has a negative point value")
		}
	}
	return nil
}

func goalLabel(i int, g Goal) string {
	if strings.TrimSpace(g.Detail) != "" {
		return `"` + g.Detail + `"`
	}
	return "#" + strconv.Itoa(i+1)
}

