// Package auth supplies game sessions from the settings store. The browser
// login flow lives outside the launcher core; sessions obtained there are
// imported and validated here.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hominum/launcher/internal/store"
)

// ErrNoSession is returned when no usable session exists.
var ErrNoSession = errors.New("no valid session")

// Session is an authenticated game session.
type Session struct {
	Username    string    `json:"username"`
	UUID        string    `json:"uuid"`
	AccessToken string    `json:"access_token"`
	XUID        string    `json:"xuid,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Validate checks the fields every launch needs.
func (s *Session) Validate() error {
	var missing []string
	if s.Username == "" {
		missing = append(missing, "username")
	}
	if s.UUID == "" {
		missing = append(missing, "uuid")
	}
	if s.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("session missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Settings is the part of the store the provider needs.
type Settings interface {
	Get(section, key string, dst any) (bool, error)
	Set(section, key string, value any) error
	Delete(section, key string) error
}

// Provider loads and validates cached sessions.
type Provider struct {
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	// skew is subtracted from expiry so a token is not used seconds before it lapses.
	skew time.Duration
}

// NewProvider creates a Provider backed by settings.
func NewProvider(settings Settings, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{settings: settings, logger: logger, now: time.Now, skew: time.Minute}
}

func sessionKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetSession returns the cached session for email, or nil when none exists.
func (p *Provider) GetSession(email string) (*Session, error) {
	key := sessionKey(email)
	if key == "" {
		return nil, nil
	}
	var s Session
	found, err := p.settings.Get(store.SectionAuth, key, &s)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &s, nil
}

// SaveSession stores s for email after validating it.
func (p *Provider) SaveSession(email string, s *Session) error {
	key := sessionKey(email)
	if key == "" {
		return fmt.Errorf("email is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ExpiresAt.IsZero() {
		if exp, ok := tokenExpiry(s.AccessToken); ok {
			s.ExpiresAt = exp
		}
	}
	if err := p.settings.Set(store.SectionAuth, key, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	p.logger.Info("stored session", "user", s.Username)
	return nil
}

// RefreshOrValidate returns s when it is still usable and nil when it has
// expired. Refreshing needs the interactive login flow, so an expired
// session is dropped and the caller must sign in again.
func (p *Provider) RefreshOrValidate(s *Session) (*Session, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		p.logger.Warn("discarding invalid session", "error", err)
		return nil, nil
	}

	exp, ok := tokenExpiry(s.AccessToken)
	if !ok {
		exp = s.ExpiresAt
	}
	if !exp.IsZero() && !p.now().Add(p.skew).Before(exp) {
		p.logger.Info("session expired", "user", s.Username, "expired_at", exp)
		return nil, nil
	}
	return s, nil
}

// Login resolves a usable session for email. A missing or expired session
// yields nil.
func (p *Provider) Login(email string) (*Session, error) {
	s, err := p.GetSession(email)
	if err != nil {
		return nil, err
	}
	if s == nil {
		p.logger.Warn("no cached session", "email", email)
		return nil, nil
	}
	return p.RefreshOrValidate(s)
}

// Forget removes the cached session for email.
func (p *Provider) Forget(email string) error {
	return p.settings.Delete(store.SectionAuth, sessionKey(email))
}

// tokenExpiry reads the exp claim without verifying the signature; the game
// services verify the token, the launcher only avoids sending stale ones.
func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
