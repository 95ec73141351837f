// Package task defines the work item entity and its lifecycle state machine.
// The authority is the single source of truth; this package enforces
// client-side legality checks before a transition request is issued and
// interprets the authority's response.
package task

import (
	"fmt"
	"time"
)

// State is the authoritative lifecycle state. Values outside the known set
// decode and re-encode verbatim for forward compatibility.
type State int

const (
	StateDraft      State = 1
	StateInProgress State = 2
	StateWaitReview State = 3
	StateComplete   State = 4
	StateDenied     State = 5
	StateDeleted    State = 6
)

// Known reports whether the value belongs to the closed set.
func (s State) Known() bool {
	return s >= StateDraft && s <= StateDeleted
}

func (s State) String() string {
	switch s {
	case StateDraft:
		return "Draft"
	case StateInProgress:
		return "InProgress"
	case StateWaitReview:
		return "WaitReview"
	case StateComplete:
		return "Complete"
	case StateDenied:
		return "Denied"
	case StateDeleted:
		return "Deleted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Priority orders tasks: Low < Medium < High. Unknown values pass through.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// Known reports whether the value belongs to the closed set.
func (p Priority) Known() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// GoalType identifies the kind of evidence a goal requires. Image evidence is
// the only specified type; others are authority-defined and pass through.
type GoalType int

// GoalImageEvidence requires photographic evidence references.
const GoalImageEvidence GoalType = 1

// Known reports whether the value belongs to the closed set.
func (g GoalType) Known() bool { return g == GoalImageEvidence }

func (g GoalType) String() string {
	if g == GoalImageEvidence {
		return "ImageEvidence"
	}
	return fmt.Sprintf("Unknown(%d)", int(g))
}

// Goal is one measurable evidence requirement within a task. Goals have no
// identity outside their task and are replaced as a whole list on update.
type Goal struct {
	Type     GoalType `json:"type"`
	Detail   string   `json:"detail"`
	Template string   `json:"template,omitempty"`
	Point    int      `json:"point"`
	// Progress is supplied by the assignee during execution, e.g.
	// comma-joined evidence references.
	Progress string `json:"progress,omitempty"`
}

// Task is a unit of assigned field work.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CreatorID   string     `json:"creatorId"`
	Priority    Priority   `json:"priority"`
	StartAt     time.Time  `json:"startAt"`
	EndAt       *time.Time `json:"endAt,omitempty"` // absent means no deadline
	State       State      `json:"state"`
	Goals       []Goal     `json:"goals"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	DeniedAt    *time.Time `json:"deniedAt,omitempty"`
}

// Roles recognized by the lifecycle engine.
const (
	RoleCoordinator = "coordinator"
	RoleAgent       = "agent"
	RoleAdmin       = "admin"
)
