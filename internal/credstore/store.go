// Package credstore holds the access/refresh credential pair. The store is
// the single place credentials are read or written; the authority remains the
// final arbiter of validity, so the cached expiry is advisory only.
package credstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Pair is an access/refresh credential pair. A zero Pair means logged out.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether no credentials are held.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Persister stores the pair outside process memory. The pair is the only
// durable local state of the client.
type Persister interface {
	Load() (Pair, error)
	Save(Pair) error
	Clear() error
}

// Store keeps the current pair. Writes are serialized; reads return a
// snapshot. Successful updates fan out to subscribers.
type Store struct {
	mu      sync.RWMutex
	pair    Pair
	persist Persister

	subMu sync.RWMutex
	subs  map[int]chan Pair
	next  int
}

// New creates an in-memory store.
func New() *Store {
	return &Store{subs: make(map[int]chan Pair)}
}

// NewPersistent creates a store backed by p and loads any saved pair.
func NewPersistent(p Persister) (*Store, error) {
	s := New()
	s.persist = p
	pair, err := p.Load()
	if err != nil {
		return nil, err
	}
	s.pair = pair
	return s, nil
}

// Current returns a snapshot of the held pair.
func (s *Store) Current() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Authenticated reports whether an access credential is held.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken != ""
}

// Set atomically replaces both credentials and notifies subscribers.
func (s *Store) Set(pair Pair) error {
	if strings.TrimSpace(pair.AccessToken) == "" {
		return errors.New("credstore: access token is required")
	}
	s.mu.Lock()
	s.pair = pair
	if s.persist != nil {
		if err := s.persist.Save(pair); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.publish(pair)
	return nil
}

// Clear drops both credentials, forcing re-authentication.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.pair = Pair{}
	if s.persist != nil {
		if err := s.persist.Clear(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.publish(Pair{})
	return nil
}

// Subscribe registers a subscriber and returns a channel receiving every
// credential update. The channel is closed when the provided context ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Pair {
	ch := make(chan Pair, 4)

	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

// publish fan-outs the new pair to all subscribers.
func (s *Store) publish(pair Pair) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- pair:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
