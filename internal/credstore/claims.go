package credstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Introspection of the cached access token's claims. Claims are decoded
// without signature verification: the client never validates tokens, it only
// pre-reads what the authority put in them. An authority-reported
// authentication failure always wins over these values.

// ExpiresAt returns the claimed expiry of the access token, if present.
func (s *Store) ExpiresAt() (time.Time, bool) {
	claims, ok := s.accessClaims()
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IsExpired reports whether the claimed expiry elapsed. Holding no access
// token counts as expired. Used only as a pre-emptive optimization, never as
// the sole gate for a request.
func (s *Store) IsExpired(now time.Time) bool {
	s.mu.RLock()
	token := s.pair.AccessToken
	s.mu.RUnlock()
	if token == "" {
		return true
	}
	exp, ok := s.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// Subject returns the user identity claim, empty when unavailable.
func (s *Store) Subject() string {
	claims, ok := s.accessClaims()
	if !ok {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Role returns the role claim, empty when unavailable.
func (s *Store) Role() string {
	claims, ok := s.accessClaims()
	if !ok {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

func (s *Store) accessClaims() (jwt.MapClaims, bool) {
	s.mu.RLock()
	token := s.pair.AccessToken
	s.mu.RUnlock()
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
