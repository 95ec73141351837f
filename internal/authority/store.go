package authority

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldops.org/internal/review"
	"fieldops.org/internal/task"
)

// Store holds tasks and notes in memory with in-process concurrency safety.
// It is the authority's source of truth for the simulator and for tests.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*record
	order []string // creation order, for stable listings
	notes map[string][]review.Note
	idem  map[string]string // Idempotency-Key -> task id
	now   func() time.Time
}

type record struct {
	task    task.Task
	deleted bool
	prior   task.State // state held before soft delete
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*record),
		notes: make(map[string][]review.Note),
		idem:  make(map[string]string),
		now:   time.Now,
	}
}

// SetClock overrides the time source (useful for tests).
func (s *Store) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Create registers a new Draft task. A repeated idempotency key replays the
// originally created task.
func (s *Store) Create(d task.Draft, creatorID, idemKey string) (task.Task, error) {
	if strings.TrimSpace(d.Name) == "" {
		return task.Task{}, reject(http.StatusBadRequest, "name is required")
	}
	for _, g := range d.Goals {
		if g.Point < 0 {
			return task.Task{}, reject(http.StatusBadRequest, "goal point value must be >= 0")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if id, ok := s.idem[idemKey]; ok {
			return s.tasks[id].task, nil
		}
	}

	now := s.now().UTC()
	t := task.Task{
		ID:          uuid.NewString(),
		Name:        d.Name,
		Description: d.Description,
		AssigneeID:  d.AssigneeID,
		CreatorID:   creatorID,
		Priority:    d.Priority,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
		State:       task.StateDraft,
		Goals:       cloneGoals(d.Goals),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = &record{task: t}
	s.order = append(s.order, t.ID)
	if idemKey != "" {
		s.idem[idemKey] = t.ID
	}
	return t, nil
}

// Get returns the task, deleted ones included (they read as Deleted).
func (s *Store) Get(id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return task.Task{}, reject(http.StatusNotFound, "task not found")
	}
	out := rec.task
	if rec.deleted {
		out.State = task.StateDeleted
	}
	out.Goals = cloneGoals(out.Goals)
	return out, nil
}

// Replace applies a full edit while Draft, or a progress-only edit while the
// task is assignee-actionable. Structural goal fields are frozen after Draft.
func (s *Store) Replace(id string, payload task.Task, actorID string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok || rec.deleted {
		return task.Task{}, reject(http.StatusNotFound, "task not found")
	}
	now := s.now().UTC()

	switch rec.task.State {
	case task.StateDraft:
		if actorID != rec.task.CreatorID {
			return task.Task{}, reject(http.StatusForbidden, "only the creator may edit a draft")
		}
		if strings.TrimSpace(payload.Name) == "" {
			return task.Task{}, reject(http.StatusBadRequest, "name is required")
		}
		rec.task.Name = payload.Name
		rec.task.Description = payload.Description
		rec.task.AssigneeID = payload.AssigneeID
		rec.task.Priority = payload.Priority
		rec.task.StartAt = payload.StartAt
		rec.task.EndAt = payload.EndAt
		rec.task.Goals = cloneGoals(payload.Goals)

	case task.StateInProgress, task.StateDenied:
		if actorID != rec.task.AssigneeID {
			return task.Task{}, reject(http.StatusForbidden, "only the assignee may save progress")
		}
		if len(payload.Goals) != len(rec.task.Goals) {
			return task.Task{}, reject(http.StatusBadRequest, "goal list structure is frozen after publish")
		}
		for i, g := range payload.Goals {
			held := rec.task.Goals[i]
			if g.Type != held.Type || g.Detail != held.Detail || g.Point != held.Point || g.Template != held.Template {
				return task.Task{}, reject(http.StatusBadRequest, "goal list structure is frozen after publish")
			}
			rec.task.Goals[i].Progress = g.Progress
		}

	default:
		return task.Task{}, reject(http.StatusConflict, "task is not editable in state %s", rec.task.State)
	}

	rec.task.UpdatedAt = now
	out := rec.task
	out.Goals = cloneGoals(out.Goals)
	return out, nil
}

// Transition runs one zero-body lifecycle action.
func (s *Store) Transition(id, action, actorID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return reject(http.StatusNotFound, "task not found")
	}
	if rec.deleted && action != "Restore" {
		return reject(http.StatusNotFound, "task not found")
	}
	now := s.now().UTC()

	switch action {
	case "Publish":
		if rec.task.State != task.StateDraft {
			return reject(http.StatusConflict, "task already published")
		}
		if actorID != rec.task.CreatorID {
			return reject(http.StatusForbidden, "only the creator may publish")
		}
		if len(rec.task.Goals) == 0 {
			return reject(http.StatusBadRequest, "task must have at least one goal")
		}
		if strings.TrimSpace(rec.task.AssigneeID) == "" {
			return reject(http.StatusBadRequest, "assignee is required")
		}
		rec.task.State = task.StateInProgress

	case "Submit":
		if rec.task.State != task.StateInProgress && rec.task.State != task.StateDenied {
			return reject(http.StatusConflict, "task is not submittable in state %s", rec.task.State)
		}
		if actorID != rec.task.AssigneeID {
			return reject(http.StatusForbidden, "only the assignee may submit")
		}
		for _, g := range rec.task.Goals {
			if strings.TrimSpace(g.Progress) == "" {
				return reject(http.StatusBadRequest, "every goal needs a progress value before submission")
			}
		}
		rec.task.State = task.StateWaitReview
		rec.task.SubmittedAt = &now

	case "Approve":
		if rec.task.State != task.StateWaitReview {
			return reject(http.StatusConflict, "task is not awaiting review, state is %s", rec.task.State)
		}
		if role != task.RoleCoordinator && role != task.RoleAdmin {
			return reject(http.StatusForbidden, "only a reviewer may approve")
		}
		if actorID == rec.task.AssigneeID {
			return reject(http.StatusForbidden, "assignee cannot review their own task")
		}
		rec.task.State = task.StateComplete
		rec.task.ApprovedAt = &now

	case "Deny":
		if rec.task.State != task.StateWaitReview {
			return reject(http.StatusConflict, "task is not awaiting review, state is %s", rec.task.State)
		}
		if role != task.RoleCoordinator && role != task.RoleAdmin {
			return reject(http.StatusForbidden, "only a reviewer may deny")
		}
		if actorID == rec.task.AssigneeID {
			return reject(http.StatusForbidden, "assignee cannot review their own task")
		}
		rec.task.State = task.StateDenied
		rec.task.DeniedAt = &now

	case "Restore":
		if role != task.RoleAdmin {
			return reject(http.StatusForbidden, "only an administrator may restore")
		}
		if !rec.deleted {
			return reject(http.StatusConflict, "task is not deleted")
		}
		rec.deleted = false
		rec.task.State = rec.prior

	default:
		return reject(http.StatusNotFound, "unknown action %q", action)
	}

	rec.task.UpdatedAt = now
	return nil
}

// Delete soft-deletes a Draft. The record stays; the task becomes
// non-actionable until restored.
func (s *Store) Delete(id, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok || rec.deleted {
		return reject(http.StatusNotFound, "task not found")
	}
	if rec.task.State != task.StateDraft {
		return reject(http.StatusConflict, "only drafts may be deleted")
	}
	if actorID != rec.task.CreatorID {
		return reject(http.StatusForbidden, "only the creator may delete")
	}
	rec.prior = rec.task.State
	rec.deleted = true
	rec.task.UpdatedAt = s.now().UTC()
	return nil
}

// ListFilter narrows a listing.
type ListFilter struct {
	State      *task.State
	Priority   *task.Priority
	AssigneeID string
	Page       int
	Size       int
}

// List returns a page of non-deleted tasks in creation order.
func (s *Store) List(f ListFilter) (items []task.Task, total int) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 200 {
		f.Size = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []task.Task
	for _, id := range s.order {
		rec := s.tasks[id]
		if rec.deleted {
			continue
		}
		t := rec.task
		if f.State != nil && t.State != *f.State {
			continue
		}
		if f.Priority != nil && t.Priority != *f.Priority {
			continue
		}
		if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
			continue
		}
		t.Goals = cloneGoals(t.Goals)
		matched = append(matched, t)
	}

	total = len(matched)
	start := (f.Page - 1) * f.Size
	if start >= total {
		return nil, total
	}
	end := start + f.Size
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// AddNote appends a note. Notes only attach once a task left Draft.
func (s *Store) AddNote(id, authorID, text string) (review.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return review.Note{}, reject(http.StatusBadRequest, "text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok || rec.deleted {
		return review.Note{}, reject(http.StatusNotFound, "task not found")
	}
	if rec.task.State == task.StateDraft {
		return review.Note{}, reject(http.StatusConflict, "notes attach to tasks past Draft")
	}
	note := review.Note{
		ID:        uuid.NewString(),
		TaskID:    id,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	s.notes[id] = append(s.notes[id], note)
	return note, nil
}

// Notes returns the task's notes ordered by creation instant.
func (s *Store) Notes(id string) ([]review.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.tasks[id]; !ok || rec.deleted {
		return nil, reject(http.StatusNotFound, "task not found")
	}
	notes := make([]review.Note, len(s.notes[id]))
	copy(notes, s.notes[id])
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

func cloneGoals(goals []task.Goal) []task.Goal {
	if goals == nil {
		return nil
	}
	out := make([]task.Goal, len(goals))
	copy(out, goals)
	return out
}
