package authority

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testUser() User {
	return User{ID: "u-coord", Username: "coordinator", Role: "coordinator"}
}

func lookupUser(u User) func(string) (User, bool) {
	return func(id string) (User, bool) {
		if id == u.ID {
			return u, true
		}
		return User{}, false
	}
}

func TestIssueAndVerify(t *testing.T) {
	ts, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	access, refresh, err := ts.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.Contains(refresh, ".") {
		t.Fatalf("refresh token %q is not id.secret shaped", refresh)
	}
	userID, role, err := ts.Verify(access)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "u-coord" || role != "coordinator" {
		t.Fatalf("verified %q/%q", userID, role)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ts, _ := NewTokenService("test-secret")
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, _, err := ts.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	mint, _ := NewTokenService("secret-a")
	check, _ := NewTokenService("secret-b")
	access, _, err := mint.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := check.Verify(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	ts, _ := NewTokenService("test-secret",
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return clock }),
	)
	access, _, err := ts.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := ts.Verify(access); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
	clock = now.Add(2 * time.Minute)
	if _, _, err := ts.Verify(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify after expiry = %v, want ErrInvalidToken", err)
	}
}

func TestRotateRevokesOldToken(t *testing.T) {
	ts, _ := NewTokenService("test-secret")
	user := testUser()
	_, refresh, err := ts.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	access2, refresh2, err := ts.Rotate(refresh, lookupUser(user))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if refresh2 == refresh {
		t.Fatal("rotation returned the same refresh token")
	}
	if _, _, err := ts.Verify(access2); err != nil {
		t.Fatalf("Verify rotated access: %v", err)
	}

	// The consumed token is dead.
	if _, _, err := ts.Rotate(refresh, lookupUser(user)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused refresh token = %v, want ErrInvalidToken", err)
	}
	// The replacement still works.
	if _, _, err := ts.Rotate(refresh2, lookupUser(user)); err != nil {
		t.Fatalf("Rotate replacement: %v", err)
	}
}

func TestRotateWrongSecretRevokesRecord(t *testing.T) {
	ts, _ := NewTokenService("test-secret")
	user := testUser()
	_, refresh, err := ts.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, _, _ := splitRefreshToken(refresh)

	if _, _, err := ts.Rotate(id+".forged", lookupUser(user)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged secret = %v, want ErrInvalidToken", err)
	}
	// A failed guess burns the record; the genuine token no longer works.
	if _, _, err := ts.Rotate(refresh, lookupUser(user)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("genuine token after forgery attempt = %v, want ErrInvalidToken", err)
	}
}

func TestRotateExpiredRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	ts, _ := NewTokenService("test-secret",
		WithRefreshTTL(time.Hour),
		WithClock(func() time.Time { return clock }),
	)
	user := testUser()
	_, refresh, err := ts.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock = now.Add(2 * time.Hour)
	if _, _, err := ts.Rotate(refresh, lookupUser(user)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh token = %v, want ErrInvalidToken", err)
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService("   "); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}
