// Package review covers the submit → approve/deny branch of the lifecycle:
// reading a task under review together with its advisory evaluations, and the
// append-only note exchange between the parties.
package review

import (
	"context"
	"strings"
	"time"

	"fieldops.org/internal/ai"
	"fieldops.org/internal/task"
	"fieldops.org/internal/transport"
)

// Note is a timestamped free-text message attached to a task under review.
// Notes are append-only; there is no edit or delete.
type Note struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Detail is a task under review with its advisory annotations and notes.
// Evaluations are free text and never gate approve/deny.
type Detail struct {
	Task        task.Task
	Evaluations []ai.Evaluation
	Notes       []Note
}

// Workflow runs the review side of the lifecycle.
type Workflow struct {
	engine *task.Engine
	exec   task.Doer
}

// New creates a review workflow sharing the engine's executor.
func New(engine *task.Engine, exec task.Doer) *Workflow {
	return &Workflow{engine: engine, exec: exec}
}

// Detail fetches the task, its advisory evaluations, and its notes. A failure
// to fetch evaluations is swallowed: the advisory signal must never block the
// review.
func (w *Workflow) Detail(ctx context.Context, id string) (*Detail, error) {
	t, err := w.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Task: *t}

	if resp, err := w.exec.Do(ctx, transport.Request{
		Method: "GET",
		Path:   "/TaskItem/" + id + "/Evaluation",
	}); err == nil {
		var evals []ai.Evaluation
		if derr := resp.Decode(&evals); derr == nil {
			detail.Evaluations = evals
		}
	}

	notes, err := w.ListNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Notes = notes
	return detail, nil
}

// AddNote appends a note to the task's exchange.
func (w *Workflow) AddNote(ctx context.Context, id, text string) (*Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &task.PreconditionError{Op: "add note", Reason: "text is required"}
	}
	resp, err := w.exec.Do(ctx, transport.Request{
		Method: "POST",
		Path:   "/TaskItem/" + id + "/Note",
		Body:   map[string]string{"text": text},
	})
	if err != nil {
		return nil, err
	}
	var note Note
	if err := resp.Decode(&note); err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes returns the task's notes ordered by creation instant.
func (w *Workflow) ListNotes(ctx context.Context, id string) ([]Note, error) {
	resp, err := w.exec.Do(ctx, transport.Request{
		Method: "GET",
		Path:   "/TaskItem/" + id + "/Note",
	})
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := resp.Decode(&notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Approve completes the task. Not idempotent at the authority; never retried
// beyond the executor's single authentication-driven retry.
func (w *Workflow) Approve(ctx context.Context, t *task.Task) (*task.Task, error) {
	return w.engine.Approve(ctx, t)
}

// Deny returns the task to the assignee. A non-empty reason is appended as a
// note; a failure to post the note does not undo the denial.
func (w *Workflow) Deny(ctx context.Context, t *task.Task, reason string) (*task.Task, error) {
	denied, err := w.engine.Deny(ctx, t)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) != "" {
		_, _ = w.AddNote(ctx, t.ID, reason)
	}
	return denied, nil
}
