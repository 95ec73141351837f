package credstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, sub, role string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestSetCurrentClear(t *testing.T) {
	s := New()
	if s.Authenticated() {
		t.Fatal("fresh store must not be authenticated")
	}
	pair := Pair{AccessToken: "a", RefreshToken: "r"}
	if err := s.Set(pair); err != nil {
		t.Fatal(err)
	}
	if got := s.Current(); got != pair {
		t.Fatalf("unexpected pair: %+v", got)
	}
	if !s.Authenticated() {
		t.Fatal("expected authenticated")
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if !s.Current().IsZero() {
		t.Fatal("clear must drop both credentials")
	}
}

func TestSetRequiresAccessToken(t *testing.T) {
	s := New()
	if err := s.Set(Pair{RefreshToken: "r"}); err == nil {
		t.Fatal("expected error for missing access token")
	}
}

func TestExpiryIntrospection(t *testing.T) {
	s := New()
	now := time.Now()

	if !s.IsExpired(now) {
		t.Fatal("empty store counts as expired")
	}

	live := signedToken(t, "user-1", "coordinator", now.Add(10*time.Minute))
	if err := s.Set(Pair{AccessToken: live, RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	if s.IsExpired(now) {
		t.Fatal("token should not be expired yet")
	}
	if s.IsExpired(now.Add(time.Hour)) == false {
		t.Fatal("token should be expired after claimed exp")
	}
	if got := s.Subject(); got != "user-1" {
		t.Fatalf("subject = %q", got)
	}
	if got := s.Role(); got != "coordinator" {
		t.Fatalf("role = %q", got)
	}
	exp, ok := s.ExpiresAt()
	if !ok || exp.Before(now) {
		t.Fatalf("expiry not readable: %v %v", exp, ok)
	}
}

func TestIsExpiredPure(t *testing.T) {
	s := New()
	token := signedToken(t, "u", "agent", time.Now().Add(time.Minute))
	if err := s.Set(Pair{AccessToken: token, RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	before := s.Current()
	_ = s.IsExpired(time.Now().Add(time.Hour))
	if s.Current() != before {
		t.Fatal("IsExpired must not mutate the store")
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	pair := Pair{AccessToken: "a2", RefreshToken: "r2"}
	if err := s.Set(pair); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got != pair {
			t.Fatalf("unexpected published pair: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if !got.IsZero() {
			t.Fatalf("expected zero pair on clear, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no clear published")
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(Pair{AccessToken: "a", RefreshToken: "r"})
		}()
		go func() {
			defer wg.Done()
			_ = s.Current()
		}()
	}
	wg.Wait()
	if got := s.Current(); got.AccessToken != "a" {
		t.Fatalf("unexpected final pair: %+v", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	fs := NewFileStore(path)

	s, err := NewPersistent(fs)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Current().IsZero() {
		t.Fatal("missing file must load as zero pair")
	}

	pair := Pair{AccessToken: "acc", RefreshToken: "ref"}
	if err := s.Set(pair); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewPersistent(NewFileStore(path))
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Current(); got != pair {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("clear must remove the file")
	}
}
