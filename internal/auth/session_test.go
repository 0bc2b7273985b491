package auth

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hominum/launcher/internal/store"
)

func newTestProvider(t *testing.T) (*Provider, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewProvider(s, logger), s
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "steve",
		"exp": exp.Unix(),
	})
	out, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return out
}

func TestSaveAndGetSession(t *testing.T) {
	p, _ := newTestProvider(t)

	if s, err := p.GetSession("steve@example.org"); err != nil || s != nil {
		t.Fatalf("expected no session, got %v, %v", s, err)
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	in := &Session{Username: "Steve", UUID: "069a79f4", AccessToken: signedToken(t, exp)}
	if err := p.SaveSession("Steve@Example.org", in); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := p.GetSession("steve@example.org ")
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v, %v", got, err)
	}
	if got.Username != "Steve" || !got.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected session %+v", got)
	}

	if err := p.Forget("steve@example.org"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if got, _ := p.GetSession("steve@example.org"); got != nil {
		t.Error("expected session to be forgotten")
	}
}

func TestSaveSessionValidates(t *testing.T) {
	p, _ := newTestProvider(t)
	if err := p.SaveSession("a@b.c", &Session{Username: "x"}); err == nil {
		t.Error("expected incomplete session to be rejected")
	}
	if err := p.SaveSession("", &Session{Username: "x", UUID: "u", AccessToken: "t"}); err == nil {
		t.Error("expected empty email to be rejected")
	}
}

func TestRefreshOrValidate(t *testing.T) {
	p, _ := newTestProvider(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	tests := []struct {
		name    string
		session *Session
		valid   bool
	}{
		{"nil", nil, false},
		{"incomplete", &Session{Username: "x"}, false},
		{"jwt valid", &Session{Username: "s", UUID: "u", AccessToken: signedToken(t, now.Add(time.Hour))}, true},
		{"jwt expired", &Session{Username: "s", UUID: "u", AccessToken: signedToken(t, now.Add(-time.Hour))}, false},
		{"jwt within skew", &Session{Username: "s", UUID: "u", AccessToken: signedToken(t, now.Add(30*time.Second))}, false},
		{"opaque no expiry", &Session{Username: "s", UUID: "u", AccessToken: "opaque"}, true},
		{"opaque expired", &Session{Username: "s", UUID: "u", AccessToken: "opaque", ExpiresAt: now.Add(-time.Minute)}, false},
		{"opaque valid", &Session{Username: "s", UUID: "u", AccessToken: "opaque", ExpiresAt: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.RefreshOrValidate(tt.session)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got != nil) != tt.valid {
				t.Errorf("valid = %v, want %v", got != nil, tt.valid)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	p, s := newTestProvider(t)
	if got, err := p.Login("nobody@example.org"); err != nil || got != nil {
		t.Fatalf("expected nil session, got %v, %v", got, err)
	}

	if err := s.Set(store.SectionAuth, "alex@example.org", Session{Username: "Alex", UUID: "u", AccessToken: "opaque"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := p.Login("alex@example.org")
	if err != nil || got == nil || got.Username != "Alex" {
		t.Fatalf("Login = %+v, %v", got, err)
	}
}
