package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is a fully-formed description of one logical call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// IdemKey, when set, is sent as the Idempotency-Key header so the
	// authority can deduplicate retried non-idempotent writes.
	IdemKey string
}

// Meta is the uniform response envelope header.
type Meta struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"traceId,omitempty"`
	Total   int    `json:"total,omitempty"`
	Page    int    `json:"page,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// Response is the uniform envelope every authority endpoint answers with.
type Response struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data,omitempty"`

	// Status is the HTTP status the envelope arrived with.
	Status int `json:"-"`
}

// Decode unmarshals the payload into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return io.EOF
	}
	return json.Unmarshal(r.Data, v)
}

// ParseResponse decodes the envelope and classifies failure. Failure is
// signaled either by a non-2xx status or by a 2xx whose meta.success is
// false; both yield an *APIError.
func ParseResponse(res *http.Response) (*Response, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, &APIError{
			Kind:    KindTransport,
			Message: "read response: " + err.Error(),
			Err:     err,
		}
	}

	var envelope Response
	decodeErr := json.Unmarshal(body, &envelope)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(envelope.Meta.Message)
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, &APIError{
			Kind:    kindForStatus(res.StatusCode),
			Status:  res.StatusCode,
			Message: msg,
			TraceID: envelope.Meta.TraceID,
		}
	}

	if decodeErr != nil {
		return nil, &APIError{
			Kind:    KindTransport,
			Message: "malformed response envelope",
			Err:     decodeErr,
		}
	}
	if !envelope.Meta.Success {
		return nil, &APIError{
			Kind:    KindValidation,
			Status:  res.StatusCode,
			Message: envelope.Meta.Message,
			TraceID: envelope.Meta.TraceID,
		}
	}
	envelope.Status = res.StatusCode
	return &envelope, nil
}
