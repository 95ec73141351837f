package authority

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "fieldops-authority"

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("authority: invalid token")

// accessClaims are the claims minted into access tokens.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues HS256 access tokens and rotates opaque refresh tokens.
// Refresh tokens are stored hashed; the raw value is id.secret and never
// persisted.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]*refreshRecord
}

type refreshRecord struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
}

// TokenOption configures the TokenService.
type TokenOption func(*TokenService)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if fn != nil {
			ts.now = fn
		}
	}
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("authority: token secret is required")
	}
	ts := &TokenService{
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		refresh:    make(map[string]*refreshRecord),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, nil
}

// Issue mints an access/refresh pair for the user.
func (ts *TokenService) Issue(user User) (access, refresh string, err error) {
	now := ts.now().UTC()
	claims := accessClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", "", err
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", err
	}
	rawSecret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := uuid.NewString()
	sum := sha256.Sum256([]byte(rawSecret))

	ts.mu.Lock()
	ts.refresh[tokenID] = &refreshRecord{
		UserID:    user.ID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(ts.refreshTTL),
	}
	ts.mu.Unlock()

	return access, tokenID + "." + rawSecret, nil
}

// Rotate validates a refresh token, revokes it, and issues a fresh pair.
func (ts *TokenService) Rotate(refreshToken string, lookup func(userID string) (User, bool)) (access, refresh string, err error) {
	tokenID, rawSecret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	ts.mu.Lock()
	record, ok := ts.refresh[tokenID]
	if !ok || record.Revoked || ts.now().After(record.ExpiresAt) {
		ts.mu.Unlock()
		return "", "", ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, rawSecret) {
		record.Revoked = true
		ts.mu.Unlock()
		return "", "", ErrInvalidToken
	}
	record.Revoked = true
	userID := record.UserID
	ts.mu.Unlock()

	user, ok := lookup(userID)
	if !ok {
		return "", "", ErrInvalidToken
	}
	return ts.Issue(user)
}

// Verify validates an access token and returns the subject and role.
func (ts *TokenService) Verify(token string) (userID, role string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ts.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(ts.now))
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
