// Package authn obtains and renews the credential pair. Refresh is the only
// writer path into the credential store besides login; concurrent refresh
// attempts are coalesced into one in-flight operation with a shared result.
package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"fieldops.org/internal/credstore"
	"fieldops.org/internal/obs"
	"fieldops.org/internal/transport"
)

const (
	loginPath   = "/Identity/Login/Password"
	refreshPath = "/Identity/RefreshToken"
)

// ErrNoCredentials means no refresh credential is held; the caller must
// authenticate with username and password.
var ErrNoCredentials = errors.New("authn: no refresh credential held")

// Service logs in, logs out, and refreshes the credential pair.
type Service struct {
	base   *url.URL
	client *http.Client
	store  *credstore.Store
	group  singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// New creates a Service against the authority at baseURL.
func New(baseURL string, store *credstore.Store, opts ...Option) (*Service, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("authn: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authn: base url %q must be absolute", baseURL)
	}
	s := &Service{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		store:  store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type credentialPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges a username/password for a fresh pair and stores it.
func (s *Service) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("authn: username and password are required")
	}
	var payload credentialPayload
	err := s.post(ctx, loginPath, map[string]string{
		"username": username,
		"password": password,
	}, &payload)
	if err != nil {
		return err
	}
	return s.store.Set(credstore.Pair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	})
}

// Logout clears the stored pair.
func (s *Service) Logout() error {
	return s.store.Clear()
}

// Refresh exchanges the refresh credential for a new pair. On success both
// credentials are replaced atomically; on failure both are cleared and the
// failure propagates. Callers arriving while a refresh is in flight share its
// result instead of issuing their own.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Service) refresh(ctx context.Context) error {
	refreshToken := s.store.Current().RefreshToken
	if refreshToken == "" {
		obs.ObserveRefresh("failed")
		return ErrNoCredentials
	}

	var payload credentialPayload
	err := s.post(ctx, refreshPath, map[string]string{
		"refreshToken": refreshToken,
	}, &payload)
	if err != nil {
		obs.ObserveRefresh("failed")
		if cerr := s.store.Clear(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	if err := s.store.Set(credstore.Pair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}); err != nil {
		obs.ObserveRefresh("failed")
		return err
	}
	obs.ObserveRefresh("ok")
	return nil
}

// EnsureValid refreshes pre-emptively when the claimed expiry has elapsed.
// Useful before a batch of calls; never the sole gate for a request, since
// the authority's verdict always wins over the cached expiry.
func (s *Service) EnsureValid(ctx context.Context) error {
	if !s.store.IsExpired(time.Now()) {
		return nil
	}
	if s.store.Current().RefreshToken == "" {
		return ErrNoCredentials
	}
	return s.Refresh(ctx)
}

// post issues a bare, unauthenticated call and decodes the envelope payload.
// Identity calls never go through the executor: the refresher must not
// recurse into the retry path it backs.
func (s *Service) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("authn: encode request: %w", err)
	}
	target := *s.base
	target.Path = strings.TrimRight(target.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("authn: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return &transport.APIError{Kind: transport.KindTransport, Message: "request failed: " + err.Error(), Err: err}
	}
	envelope, err := transport.ParseResponse(res)
	if err != nil {
		return err
	}
	if out != nil {
		if err := envelope.Decode(out); err != nil {
			return &transport.APIError{Kind: transport.KindTransport, Message: "malformed credential payload", Err: err}
		}
	}
	return nil
}
