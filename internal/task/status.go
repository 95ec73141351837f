package task

import "time"

// DisplayState is the derived, non-authoritative classification shown to
// callers. Permission checks never use it; they use the authoritative State.
type DisplayState string

const (
	DisplayDraft      DisplayState = "Draft"
	DisplayInProgress DisplayState = "InProgress"
	DisplayWaitReview DisplayState = "WaitReview"
	DisplayComplete   DisplayState = "Complete"
	DisplayOverdue    DisplayState = "Overdue"
	DisplayDenied     DisplayState = "Denied"
	DisplayDeleted    DisplayState = "Deleted"
	DisplayUnknown    DisplayState = "Unknown"
)

// EffectiveStatus classifies a task for display. Overdue is a read-time
// classification: an assignee-actionable task whose end bound elapsed shows
// as Overdue while its authoritative state is unchanged until the assignee
// acts. Pure function; never mutates anything.
func EffectiveStatus(state State, end *time.Time, now time.Time) DisplayState {
	if end != nil && now.After(*end) {
		switch state {
		case StateInProgress, StateDenied:
			return DisplayOverdue
		}
	}
	switch state {
	case StateDraft:
		return DisplayDraft
	case StateInProgress:
		return DisplayInProgress
	case StateWaitReview:
		return DisplayWaitReview
	case StateComplete:
		return DisplayComplete
	case StateDenied:
		return DisplayDenied
	case StateDeleted:
		return DisplayDeleted
	default:
		return DisplayUnknown
	}
}

// Effective is EffectiveStatus over the task's own fields.
func (t *Task) Effective(now time.Time) DisplayState {
	return EffectiveStatus(t.State, t.EndAt, now)
}
