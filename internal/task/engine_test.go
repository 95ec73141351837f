package task

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"fieldops.org/internal/transport"
)

// scriptedDoer records every request and answers from a queue of canned
// responses.
type scriptedDoer struct {
	t    *testing.T
	reqs []transport.Request
	resp []scriptedAnswer
}

type scriptedAnswer struct {
	data any
	meta transport.Meta
	err  error
}

func (d *scriptedDoer) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	d.t.Helper()
	d.reqs = append(d.reqs, req)
	if len(d.resp) == 0 {
		d.t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}
	next := d.resp[0]
	d.resp = d.resp[1:]
	if next.err != nil {
		return nil, next.err
	}
	raw, err := json.Marshal(next.data)
	if err != nil {
		d.t.Fatalf("marshal canned response: %v", err)
	}
	meta := next.meta
	meta.Success = true
	return &transport.Response{Meta: meta, Data: raw, Status: http.StatusOK}, nil
}

func (d *scriptedDoer) answer(data any) { d.resp = append(d.resp, scriptedAnswer{data: data}) }

type staticIdentity struct{ sub, role string }

func (s staticIdentity) Subject() string { return s.sub }
func (s staticIdentity) Role() string    { return s.role }

func coordinator() staticIdentity { return staticIdentity{sub: "u-coord", role: RoleCoordinator} }
func agent() staticIdentity       { return staticIdentity{sub: "u-agent", role: RoleAgent} }

func sampleTask(state State) *Task {
	return &Task{
		ID:         "t-1",
		Name:       "shelf audit",
		CreatorID:  "u-coord",
		AssigneeID: "u-agent",
		Priority:   PriorityHigh,
		State:      state,
		Goals: []Goal{
			{Type: GoalImageEvidence, Detail: "Photo of shelf", Point: 10, Progress: "ref-1"},
		},
	}
}

func TestPreconditionViolationsIssueNoRequests(t *testing.T) {
	tests := []struct {
		name string
		call func(e *Engine) error
	}{
		{"create without name", func(e *Engine) error {
			_, err := e.Create(context.Background(), Draft{})
			return err
		}},
		{"create end before start", func(e *Engine) error {
			start := time.Now()
			end := start.Add(-time.Hour)
			_, err := e.Create(context.Background(), Draft{Name: "x", StartAt: start, EndAt: &end})
			return err
		}},
		{"publish without goals", func(e *Engine) error {
			task := sampleTask(StateDraft)
			task.Goals = nil
			_, err := e.Publish(context.Background(), task)
			return err
		}},
		{"publish without assignee", func(e *Engine) error {
			task := sampleTask(StateDraft)
			task.AssigneeID = ""
			_, err := e.Publish(context.Background(), task)
			return err
		}},
		{"publish outside draft", func(e *Engine) error {
			_, err := e.Publish(context.Background(), sampleTask(StateInProgress))
			return err
		}},
		{"edit by non-creator", func(e *Engine) error {
			task := sampleTask(StateDraft)
			task.CreatorID = "someone-else"
			_, err := e.Update(context.Background(), task)
			return err
		}},
		{"approve outside wait review", func(e *Engine) error {
			_, err := e.Approve(context.Background(), sampleTask(StateComplete))
			return err
		}},
		{"deny outside wait review", func(e *Engine) error {
			_, err := e.Deny(context.Background(), sampleTask(StateInProgress))
			return err
		}},
		{"restore by non-admin", func(e *Engine) error {
			_, err := e.Restore(context.Background(), "t-1")
			return err
		}},
		{"delete outside draft", func(e *Engine) error {
			return e.Delete(context.Background(), sampleTask(StateWaitReview))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doer := &scriptedDoer{t: t}
			engine := NewEngine(doer, coordinator())
			err := tc.call(engine)
			if !IsPrecondition(err) {
				t.Fatalf("got %v, want a precondition violation", err)
			}
			if len(doer.reqs) != 0 {
				t.Fatalf("engine issued %d requests, want 0", len(doer.reqs))
			}
		})
	}
}

func TestSubmitRequiresProgressOnEveryGoal(t *testing.T) {
	doer := &scriptedDoer{t: t}
	engine := NewEngine(doer, agent())

	task := sampleTask(StateInProgress)
	task.Goals = append(task.Goals, Goal{Type: GoalImageEvidence, Detail: "Photo of entrance", Point: 5})

	_, err := engine.SubmitForReview(context.Background(), task)
	if !IsPrecondition(err) {
		t.Fatalf("got %v, want a precondition violation", err)
	}
	if !strings.Contains(err.Error(), "Photo of entrance") {
		t.Fatalf("violation %q does not name the incomplete goal", err)
	}
	if len(doer.reqs) != 0 {
		t.Fatalf("engine issued %d requests, want 0", len(doer.reqs))
	}
}

func TestSubmitWithZeroGoals(t *testing.T) {
	doer := &scriptedDoer{t: t}
	engine := NewEngine(doer, agent())

	task := sampleTask(StateInProgress)
	task.Goals = nil
	_, err := engine.SubmitForReview(context.Background(), task)
	if !IsPrecondition(err) {
		t.Fatalf("got %v, want a precondition violation", err)
	}
	if len(doer.reqs) != 0 {
		t.Fatalf("engine issued %d requests, want 0", len(doer.reqs))
	}
}

func TestSubmitFromDeniedState(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.answer(nil)
	doer.answer(sampleTask(StateWaitReview))
	engine := NewEngine(doer, agent())

	got, err := engine.SubmitForReview(context.Background(), sampleTask(StateDenied))
	if err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if got.State != StateWaitReview {
		t.Fatalf("state = %v, want WaitReview", got.State)
	}
	if doer.reqs[0].Method != "PUT" || doer.reqs[0].Path != "/TaskItem/t-1/Submit" {
		t.Fatalf("first request %s %s", doer.reqs[0].Method, doer.reqs[0].Path)
	}
}

func TestCreateSendsIdempotencyKey(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.answer(sampleTask(StateDraft))
	engine := NewEngine(doer, coordinator())

	_, err := engine.Create(context.Background(), Draft{
		Name:     "shelf audit",
		Priority: PriorityHigh,
		StartAt:  time.Now(),
		Goals:    []Goal{{Type: GoalImageEvidence, Detail: "Photo of shelf", Point: 10}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req := doer.reqs[0]
	if req.Method != "POST" || req.Path != "/TaskItem" {
		t.Fatalf("request %s %s", req.Method, req.Path)
	}
	if !strings.HasPrefix(req.IdemKey, "idem-") {
		t.Fatalf("IdemKey = %q", req.IdemKey)
	}
}

func TestTransitionFetchesFreshSnapshot(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.answer(nil)
	doer.answer(sampleTask(StateInProgress))
	engine := NewEngine(doer, coordinator())

	got, err := engine.Publish(context.Background(), sampleTask(StateDraft))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got.State != StateInProgress {
		t.Fatalf("state = %v, want InProgress", got.State)
	}
	if len(doer.reqs) != 2 {
		t.Fatalf("engine issued %d requests, want transition then fetch", len(doer.reqs))
	}
	if doer.reqs[0].Path != "/TaskItem/t-1/Publish" || doer.reqs[1].Path != "/TaskItem/t-1" {
		t.Fatalf("paths %s, %s", doer.reqs[0].Path, doer.reqs[1].Path)
	}
}

func TestConflictCarriesFreshSnapshot(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.resp = append(doer.resp, scriptedAnswer{err: &transport.APIError{
		Kind:    transport.KindConflict,
		Status:  http.StatusConflict,
		Message: "task is not under review",
	}})
	doer.answer(sampleTask(StateComplete))
	engine := NewEngine(doer, coordinator())

	_, err := engine.Approve(context.Background(), sampleTask(StateWaitReview))
	if !IsConflict(err) {
		t.Fatalf("got %v, want a conflict", err)
	}
	var conflict *Conflict
	if !errors.As(err, &conflict) {
		t.Fatalf("cannot unwrap %v", err)
	}
	if conflict.Current == nil || conflict.Current.State != StateComplete {
		t.Fatalf("conflict snapshot = %+v, want the Complete snapshot", conflict.Current)
	}
}

func TestNonConflictErrorsPassThrough(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.resp = append(doer.resp, scriptedAnswer{err: &transport.APIError{
		Kind:    transport.KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "boom",
	}})
	engine := NewEngine(doer, coordinator())

	_, err := engine.Publish(context.Background(), sampleTask(StateDraft))
	if IsConflict(err) {
		t.Fatalf("got conflict for a non-conflict failure: %v", err)
	}
	if apiErr := transport.AsAPIError(err); apiErr == nil || apiErr.Kind != transport.KindInternal {
		t.Fatalf("got %v, want the untouched internal failure", err)
	}
	// No snapshot fetch for non-conflict failures.
	if len(doer.reqs) != 1 {
		t.Fatalf("engine issued %d requests, want 1", len(doer.reqs))
	}
}

func TestSaveProgressPreservesPriorValues(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.answer(sampleTask(StateInProgress))
	engine := NewEngine(doer, agent())

	task := sampleTask(StateInProgress)
	task.Goals = []Goal{
		{Type: GoalImageEvidence, Detail: "a", Progress: "ref-1"},
		{Type: GoalImageEvidence, Detail: "b"},
	}
	_, err := engine.SaveProgress(context.Background(), task, []string{"", "ref-2"})
	if err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	sent, ok := doer.reqs[0].Body.(Task)
	if !ok {
		t.Fatalf("request body is %T", doer.reqs[0].Body)
	}
	if sent.Goals[0].Progress != "ref-1" {
		t.Fatalf("goal 0 progress = %q, prior value was dropped", sent.Goals[0].Progress)
	}
	if sent.Goals[1].Progress != "ref-2" {
		t.Fatalf("goal 1 progress = %q", sent.Goals[1].Progress)
	}
	// The caller's copy stays untouched.
	if task.Goals[1].Progress != "" {
		t.Fatalf("caller's task mutated: %+v", task.Goals[1])
	}
}

func TestSaveProgressLengthMismatch(t *testing.T) {
	doer := &scriptedDoer{t: t}
	engine := NewEngine(doer, agent())

	_, err := engine.SaveProgress(context.Background(), sampleTask(StateInProgress), []string{"a", "b"})
	if !IsPrecondition(err) {
		t.Fatalf("got %v, want a precondition violation", err)
	}
	if len(doer.reqs) != 0 {
		t.Fatalf("engine issued %d requests, want 0", len(doer.reqs))
	}
}

func TestListBuildsQuery(t *testing.T) {
	doer := &scriptedDoer{t: t}
	doer.resp = append(doer.resp, scriptedAnswer{
		data: []Task{*sampleTask(StateInProgress)},
		meta: transport.Meta{Total: 41, Page: 3, Size: 20},
	})
	engine := NewEngine(doer, coordinator())

	state := StateInProgress
	priority := PriorityHigh
	page, err := engine.List(context.Background(), Filter{
		State:      &state,
		Priority:   &priority,
		AssigneeID: "u-agent",
		Page:       3,
		Size:       20,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	q := doer.reqs[0].Query
	if q.Get("state") != "2" || q.Get("priority") != "3" || q.Get("assigneeId") != "u-agent" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("page") != "3" || q.Get("size") != "20" {
		t.Fatalf("paging query = %v", q)
	}
	if page.Total != 41 || page.Page != 3 || page.Size != 20 || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
}

func TestUnknownEnumValuesRoundTrip(t *testing.T) {
	raw := []byte(`{"id":"t-9","name":"x","creatorId":"u-coord","priority":9,"state":7,` +
		`"startAt":"2026-03-01T00:00:00Z","createdAt":"2026-03-01T00:00:00Z",` +
		`"updatedAt":"2026-03-01T00:00:00Z","goals":[{"type":5,"detail":"d","point":1}]}`)

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.State != State(7) || task.Priority != Priority(9) || task.Goals[0].Type != GoalType(5) {
		t.Fatalf("decoded %+v, unknown values were not preserved", task)
	}

	out, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var echo Task
	if err := json.Unmarshal(out, &echo); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if echo.State != State(7) || echo.Priority != Priority(9) || echo.Goals[0].Type != GoalType(5) {
		t.Fatalf("re-encoded %+v, unknown values were not preserved", echo)
	}
}
