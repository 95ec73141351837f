// Package authority is an in-memory reference implementation of the backend
// of record: identity endpoints issuing and rotating credential pairs, and
// the task lifecycle endpoints behind bearer authentication. It backs the
// simulator binary and the client's integration tests.
package authority

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldops.org/internal/ai"
	"fieldops.org/internal/obs"
	"fieldops.org/internal/task"
)

// ReadyProbe checks readiness, e.g. pinging a database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

// Check reports readiness. Without a DB it always passes.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config assembles a Server.
type Config struct {
	Secret       string
	Accounts     []Account
	Evaluator    ai.Evaluator
	Ready        ReadyProbe
	Version      string
	TokenOptions []TokenOption
}

// Server is the authority's HTTP layer.
type Server struct {
	mux        *http.ServeMux
	store      *Store
	tokens     *TokenService
	byUsername map[string]User
	byID       map[string]User
	eval       ai.Evaluator
	ready      ReadyProbe
	version    string

	// Adjustable before Handler is called.
	RateBurst  int
	RatePerSec int
}

// New creates a Server with the given accounts seeded.
func New(cfg Config) (*Server, error) {
	tokens, err := NewTokenService(cfg.Secret, cfg.TokenOptions...)
	if err != nil {
		return nil, err
	}
	eval := cfg.Evaluator
	if eval == nil {
		eval = ai.RuleEvaluator{}
	}
	s := &Server{
		mux:        http.NewServeMux(),
		store:      NewStore(),
		tokens:     tokens,
		byUsername: make(map[string]User),
		byID:       make(map[string]User),
		eval:       eval,
		ready:      cfg.Ready,
		version:    cfg.Version,
		RateBurst:  100,
		RatePerSec: 50,
	}
	for _, acct := range cfg.Accounts {
		hash, err := HashPassword(acct.Password)
		if err != nil {
			return nil, err
		}
		user := User{ID: acct.ID, Username: acct.Username, PasswordHash: hash, Role: acct.Role}
		s.byUsername[acct.Username] = user
		s.byID[acct.ID] = user
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.Handle("/metrics", obs.Handler())
	s.mux.HandleFunc("/Identity/Login/Password", s.handleLogin)
	s.mux.HandleFunc("/Identity/RefreshToken", s.handleRefresh)
	s.mux.HandleFunc("/TaskItem", s.handleTaskCollection)
	s.mux.HandleFunc("/TaskItem/", s.handleTaskResource)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, r, http.StatusNotFound, "resource not found")
	})
	return s, nil
}

// Store exposes the task store, mainly for test seeding.
func (s *Server) Store() *Store { return s.store }

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withAuth(h)
	h = withTrace(h)
	h = RateLimit(h, s.RateBurst, s.RatePerSec)
	return obs.Instrument(h)
}

// --- health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fieldops-authority",
		"version": s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ready.Check(r.Context()); err != nil {
		writeFail(w, r, http.StatusServiceUnavailable, "not ready: "+err.Error())
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{"status": "ready"})
}

// --- identity ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type credentialResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, ok := s.byUsername[strings.TrimSpace(req.Username)]
	if !ok || VerifyPassword(user.PasswordHash, req.Password) != nil {
		writeFail(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	access, refresh, err := s.tokens.Issue(user)
	if err != nil {
		writeFail(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeOK(w, r, http.StatusOK, credentialResponse{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access, refresh, err := s.tokens.Rotate(req.RefreshToken, func(userID string) (User, bool) {
		user, ok := s.byID[userID]
		return user, ok
	})
	if err != nil {
		writeFail(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeOK(w, r, http.StatusOK, credentialResponse{AccessToken: access, RefreshToken: refresh})
}

// --- tasks ---

func (s *Server) handleTaskCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	who, ok := actorFromContext(r.Context())
	if !ok {
		writeFail(w, r, http.StatusUnauthorized, "missing identity")
		return
	}
	if who.Role != task.RoleCoordinator && who.Role != task.RoleAdmin {
		writeFail(w, r, http.StatusForbidden, "only a coordinator may create tasks")
		return
	}
	var draft task.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeFail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idem) > 128 {
		writeFail(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}
	created, err := s.store.Create(draft, who.UserID, idem)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, created)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ListFilter
	if v := q.Get("state"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeFail(w, r, http.StatusBadRequest, "state must be numeric")
			return
		}
		st := task.State(n)
		filter.State = &st
	}
	if v := q.Get("priority"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeFail(w, r, http.StatusBadRequest, "priority must be numeric")
			return
		}
		p := task.Priority(n)
		filter.Priority = &p
	}
	filter.AssigneeID = q.Get("assigneeId")
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Size, _ = strconv.Atoi(q.Get("size"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size < 1 {
		filter.Size = 20
	}

	items, total := s.store.List(filter)
	if items == nil {
		items = []task.Task{}
	}
	writeList(w, r, items, total, filter.Page, filter.Size)
}

var taskActions = map[string]struct{}{
	"Publish": {}, "Submit": {}, "Approve": {}, "Deny": {}, "Restore": {},
}

func (s *Server) handleTaskResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/TaskItem/")
	if rest == "" {
		writeFail(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(sub, "/") {
		writeFail(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case sub == "":
		s.taskItem(w, r, id)
	case sub == "Note":
		s.taskNotes(w, r, id)
	case sub == "Evaluation":
		s.taskEvaluations(w, r, id)
	default:
		if _, ok := taskActions[sub]; !ok {
			writeFail(w, r, http.StatusNotFound, "resource not found")
			return
		}
		s.taskTransition(w, r, id, sub)
	}
}

func (s *Server) taskItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		t, err := s.store.Get(id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, r, http.StatusOK, t)

	case http.MethodPut:
		who, ok := actorFromContext(r.Context())
		if !ok {
			writeFail(w, r, http.StatusUnauthorized, "missing identity")
			return
		}
		var payload task.Task
		if err := decodeJSON(w, r, &payload); err != nil {
			writeFail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := s.store.Replace(id, payload, who.UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, r, http.StatusOK, updated)

	case http.MethodDelete:
		who, ok := actorFromContext(r.Context())
		if !ok {
			writeFail(w, r, http.StatusUnauthorized, "missing identity")
			return
		}
		if err := s.store.Delete(id, who.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, r, http.StatusOK, true)

	default:
		methodNotAllowed(w, r, "GET, PUT, DELETE")
	}
}

func (s *Server) taskTransition(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	who, ok := actorFromContext(r.Context())
	if !ok {
		writeFail(w, r, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := s.store.Transition(id, action, who.UserID, who.Role); err != nil {
		respondError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, true)
}

func (s *Server) taskNotes(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		notes, err := s.store.Notes(id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, r, http.StatusOK, notes)

	case http.MethodPost:
		who, ok := actorFromContext(r.Context())
		if !ok {
			writeFail(w, r, http.StatusUnauthorized, "missing identity")
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeFail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		note, err := s.store.AddNote(id, who.UserID, body.Text)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeOK(w, r, http.StatusCreated, note)

	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (s *Server) taskEvaluations(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	t, err := s.store.Get(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	evaluations := make([]ai.Evaluation, 0, len(t.Goals))
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	for i, g := range t.Goals {
		summary, err := s.eval.Evaluate(ctx, g.Detail, g.Progress)
		if err != nil {
			// Advisory only; a failed evaluation is simply absent.
			continue
		}
		evaluations = append(evaluations, ai.Evaluation{GoalIndex: i, Summary: summary})
	}
	writeOK(w, r, http.StatusOK, evaluations)
}
