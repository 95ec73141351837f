package task

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"fieldops.org/internal/audit"
	"fieldops.org/internal/ids"
	"fieldops.org/internal/transport"
)

const itemPath = "/TaskItem"

// Doer issues one logical call against the authority.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Identity supplies the operator claimed by the current access credential.
type Identity interface {
	Subject() string
	Role() string
}

// Engine runs the task lifecycle. It holds no durable state: every transition
// runs pure precondition checks first and is only real once the authority
// acknowledges it.
type Engine struct {
	exec Doer
	id   Identity
}

// NewEngine creates a lifecycle engine over the given executor and identity.
func NewEngine(exec Doer, id Identity) *Engine {
	return &Engine{exec: exec, id: id}
}

func (e *Engine) actor() Actor {
	return Actor{ID: e.id.Subject(), Role: e.id.Role()}
}

// Draft carries the fields a coordinator supplies at creation.
type Draft struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	Priority    Priority   `json:"priority"`
	StartAt     time.Time  `json:"startAt"`
	EndAt       *time.Time `json:"endAt,omitempty"`
	Goals       []Goal     `json:"goals"`
}

// Create registers a new task in Draft state and returns it.
func (e *Engine) Create(ctx context.Context, d Draft) (*Task, error) {
	if err := checkDraft(d); err != nil {
		return nil, err
	}
	resp, err := e.exec.Do(ctx, transport.Request{
		Method:  "POST",
		Path:    itemPath,
		Body:    d,
		IdemKey: ids.IdemKey(),
	})
	if err != nil {
		return nil, err
	}
	var t Task
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	e.logTransition(ctx, "task.create", t.ID)
	return &t, nil
}

// Update replaces the editable fields of a Draft task. Once a task is
// InProgress or later, structural fields are frozen; only progress values
// change, through SaveProgress.
func (e *Engine) Update(ctx context.Context, t *Task) (*Task, error) {
	if err := checkEdit("edit", t, e.actor()); err != nil {
		return nil, err
	}
	resp, err := e.exec.Do(ctx, transport.Request{
		Method: "PUT",
		Path:   itemPath + "/" + t.ID,
		Body:   t,
	})
	if err != nil {
		return nil, e.enrichConflict(ctx, t.ID, err)
	}
	var updated Task
	if err := resp.Decode(&updated); err != nil {
		return nil, err
	}
	e.logTransition(ctx, "task.update", t.ID)
	return &updated, nil
}

// SaveProgress updates the goals' progress values without changing state.
// Progress values map to goals by position. Prior values are preserved
// unless overwritten.
func (e *Engine) SaveProgress(ctx context.Context, t *Task, progress []string) (*Task, error) {
	if err := checkSaveProgress(t, e.actor(), progress); err != nil {
		return nil, err
	}
	next := *t
	next.Goals = make([]Goal, len(t.Goals))
	copy(next.Goals, t.Goals)
	for i, p := range progress {
		if p != "" {
			next.Goals[i].Progress = p
		}
	}
	resp, err := e.exec.Do(ctx, transport.Request{
		Method: "PUT",
		Path:   itemPath + "/" + t.ID,
		Body:   next,
	})
	if err != nil {
		return nil, e.enrichConflict(ctx, t.ID, err)
	}
	var updated Task
	if err := resp.Decode(&updated); err != nil {
		return nil, err
	}
	e.logTransition(ctx, "task.progress", t.ID)
	return &updated, nil
}

// Publish moves a Draft into InProgress, handing it to the assignee.
func (e *Engine) Publish(ctx context.Context, t *Task) (*Task, error) {
	if err := checkPublish(t, e.actor()); err != nil {
		return nil, err
	}
	return e.transition(ctx, t.ID, "Publish", "task.publish")
}

// SubmitForReview moves an active task into WaitReview. Every goal must carry
// a non-empty progress value.
func (e *Engine) SubmitForReview(ctx context.Context, t *Task) (*Task, error) {
	if err := checkSubmit(t, e.actor()); err != nil {
		return nil, err
	}
	return e.transition(ctx, t.ID, "Submit", "task.submit")
}

// Approve completes a task under review. Not idempotent: approving an
// already-Complete task yields a Conflict.
func (e *Engine) Approve(ctx context.Context, t *Task) (*Task, error) {
	if err := checkReview("approve", t, e.actor()); err != nil {
		return nil, err
	}
	return e.transition(ctx, t.ID, "Approve", "task.approve")
}

// Deny returns a task under review to the assignee-actionable Denied state.
// Prior progress values survive; the assignee may re-submit.
func (e *Engine) Deny(ctx context.Context, t *Task) (*Task, error) {
	if err := checkReview("deny", t, e.actor()); err != nil {
		return nil, err
	}
	return e.transition(ctx, t.ID, "Deny", "task.deny")
}

// Delete soft-deletes a Draft. The authority keeps the record; the task
// simply becomes non-actionable.
func (e *Engine) Delete(ctx context.Context, t *Task) error {
	if err := checkEdit("delete", t, e.actor()); err != nil {
		return err
	}
	_, err := e.exec.Do(ctx, transport.Request{
		Method: "DELETE",
		Path:   itemPath + "/" + t.ID,
	})
	if err != nil {
		return e.enrichConflict(ctx, t.ID, err)
	}
	e.logTransition(ctx, "task.delete", t.ID)
	return nil
}

// Restore brings a soft-deleted task back to its prior state. Administrators
// only.
func (e *Engine) Restore(ctx context.Context, id string) (*Task, error) {
	if err := checkRestore(e.actor()); err != nil {
		return nil, err
	}
	return e.transition(ctx, id, "Restore", "task.restore")
}

// Get fetches the authority's current snapshot of a task.
func (e *Engine) Get(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, violation("get", "task id is required")
	}
	resp, err := e.exec.Do(ctx, transport.Request{
		Method: "GET",
		Path:   itemPath + "/" + id,
	})
	if err != nil {
		return nil, err
	}
	var t Task
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Filter narrows a task listing.
type Filter struct {
	State      *State
	Priority   *Priority
	AssigneeID string
	Page       int
	Size       int
}

// Page is one page of a filtered listing.
type Page struct {
	Items []Task
	Total int
	Page  int
	Size  int
}

// List fetches a filtered, paginated task listing.
func (e *Engine) List(ctx context.Context, f Filter) (*Page, error) {
	query := url.Values{}
	if f.State != nil {
		query.Set("state", strconv.Itoa(int(*f.State)))
	}
	if f.Priority != nil {
		query.Set("priority", strconv.Itoa(int(*f.Priority)))
	}
	if f.AssigneeID != "" {
		query.Set("assigneeId", f.AssigneeID)
	}
	if f.Page > 0 {
		query.Set("page", strconv.Itoa(f.Page))
	}
	if f.Size > 0 {
		query.Set("size", strconv.Itoa(f.Size))
	}
	resp, err := e.exec.Do(ctx, transport.Request{
		Method: "GET",
		Path:   itemPath,
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	var items []Task
	if err := resp.Decode(&items); err != nil {
		return nil, err
	}
	return &Page{
		Items: items,
		Total: resp.Meta.Total,
		Page:  resp.Meta.Page,
		Size:  resp.Meta.Size,
	}, nil
}

// transition issues a zero-body state transition and returns the refreshed
// snapshot.
func (e *Engine) transition(ctx context.Context, id, action, event string) (*Task, error) {
	_, err := e.exec.Do(ctx, transport.Request{
		Method: "PUT",
		Path:   itemPath + "/" + id + "/" + action,
	})
	if err != nil {
		return nil, e.enrichConflict(ctx, id, err)
	}
	e.logTransition(ctx, event, id)
	return e.Get(ctx, id)
}

// enrichConflict attaches the authority's current snapshot to a conflict so
// the caller can reconcile. Other failures pass through unchanged.
func (e *Engine) enrichConflict(ctx context.Context, id string, err error) error {
	apiErr := transport.AsAPIError(err)
	if apiErr == nil || apiErr.Kind != transport.KindConflict {
		return err
	}
	current, ferr := e.Get(ctx, id)
	if ferr != nil {
		return &Conflict{Err: apiErr}
	}
	return &Conflict{Err: apiErr, Current: current}
}

func (e *Engine) logTransition(ctx context.Context, event, id string) {
	_ = audit.LogEvent(ctx, event, map[string]any{
		"task_id": id,
		"actor":   e.id.Subject(),
		"role":    e.id.Role(),
	})
}
