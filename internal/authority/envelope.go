package authority

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// envelope mirrors the uniform response shape every endpoint answers with.
type envelope struct {
	Meta envelopeMeta `json:"meta"`
	Data any          `json:"data,omitempty"`
}

type envelopeMeta struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"traceId,omitempty"`
	Total   int    `json:"total,omitempty"`
	Page    int    `json:"page,omitempty"`
	Size    int    `json:"size,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, envelope{
		Meta: envelopeMeta{Success: true, TraceID: traceIDFromContext(r.Context())},
		Data: data,
	})
}

func writeList(w http.ResponseWriter, r *http.Request, data any, total, page, size int) {
	writeEnvelope(w, http.StatusOK, envelope{
		Meta: envelopeMeta{
			Success: true,
			TraceID: traceIDFromContext(r.Context()),
			Total:   total,
			Page:    page,
			Size:    size,
		},
		Data: data,
	})
}

func writeFail(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeEnvelope(w, status, envelope{
		Meta: envelopeMeta{
			Success: false,
			Message: message,
			TraceID: traceIDFromContext(r.Context()),
		},
	})
}

// respondError maps store rejections onto the envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		writeFail(w, r, rej.Status, rej.Message)
		return
	}
	writeFail(w, r, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeFail(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid request body")
	}
	return nil
}
