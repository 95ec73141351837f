// Package transport issues authenticated requests against the authority.
// Every read and write of the client passes through the Executor: it attaches
// the current access credential, detects authentication failure, and recovers
// from credential expiry with at most one refresh-and-retry per logical call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fieldops.org/internal/credstore"
	"fieldops.org/internal/obs"
)

// Refresher exchanges the refresh credential for a new pair. Implementations
// must coalesce concurrent refreshes into one in-flight operation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Executor issues logical calls. It only absorbs authentication failures, and
// only once per call; every other failure propagates unchanged.
type Executor struct {
	base      *url.URL
	client    *http.Client
	creds     *credstore.Store
	refresher Refresher
	limiter   *rate.Limiter
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithRefresher enables the single refresh-and-retry on authentication
// failure. Without one, authentication failures propagate immediately.
func WithRefresher(r Refresher) Option {
	return func(e *Executor) { e.refresher = r }
}

// WithRateLimit bounds outbound request rate. Zero perSec disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(e *Executor) {
		if perSec > 0 {
			if burst < 1 {
				burst = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// New creates an Executor for the authority at baseURL.
func New(baseURL string, creds *credstore.Store, opts ...Option) (*Executor, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base url %q must be absolute", baseURL)
	}
	e := &Executor{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		creds:  creds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Do executes one logical call. On an authority-reported authentication
// failure it refreshes the credential exactly once and re-issues the original
// request exactly once; a second authentication failure, or a refresh
// failure, propagates the original error. The caller's context cancels the
// whole sequence; a response arriving after cancellation is not acted upon.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Kind: KindTransport, Message: "rate limit wait: " + err.Error(), Err: err}
		}
	}

	start := time.Now()
	retried := false
	resp, err := e.attempt(ctx, req)
	if IsAuth(err) && e.refresher != nil && ctx.Err() == nil {
		if rerr := e.refresher.Refresh(ctx); rerr == nil {
			retried = true
			resp, err = e.attempt(ctx, req)
		}
		// On refresh failure the original authentication failure stands.
	}

	e.logCall(req, resp, err, start, retried)
	return resp, err
}

// attempt issues the request once with the currently stored credential.
func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	target := *e.base
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body *bytes.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &APIError{Kind: KindTransport, Message: "encode request body", Err: err}
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Message: "build request: " + err.Error(), Err: err}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if req.IdemKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdemKey)
	}
	if pair := e.creds.Current(); pair.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	obs.ClientInFlightAdd(1)
	attemptStart := time.Now()
	httpResp, err := e.client.Do(httpReq)
	obs.ClientInFlightAdd(-1)
	if err != nil {
		obs.ObserveClientRequest(req.Method, obs.CanonicalPath(req.Path), 0, time.Since(attemptStart))
		return nil, &APIError{Kind: KindTransport, Message: "request failed: " + err.Error(), Err: err}
	}
	obs.ObserveClientRequest(req.Method, obs.CanonicalPath(req.Path), httpResp.StatusCode, time.Since(attemptStart))

	resp, perr := ParseResponse(httpResp)

	// A response that lands after the caller signaled cancellation is
	// discarded, whatever it carried.
	if ctx.Err() != nil {
		return nil, &APIError{Kind: KindTransport, Message: "call abandoned: " + ctx.Err().Error(), Err: ctx.Err()}
	}
	return resp, perr
}

func (e *Executor) logCall(req Request, resp *Response, err error, start time.Time, retried bool) {
	entry := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"method":      req.Method,
		"path":        obs.CanonicalPath(req.Path),
		"duration_ms": time.Since(start).Milliseconds(),
		"retried":     retried,
	}
	switch {
	case err != nil:
		apiErr := AsAPIError(err)
		entry["level"] = "error"
		entry["error"] = err.Error()
		if apiErr != nil {
			entry["status"] = apiErr.Status
			if apiErr.TraceID != "" {
				entry["traceId"] = apiErr.TraceID
			}
		}
	default:
		entry["level"] = "info"
		if resp != nil {
			entry["status"] = resp.Status
			if resp.Meta.TraceID != "" {
				entry["traceId"] = resp.Meta.TraceID
			}
		}
	}
	obs.LogRequest(entry)
}
