package mdr

import (
	"time"

	"github.com/rs/zerolog"
)

// Session is an MDR bearer token. It is never mutated after creation; a new
// login replaces the whole value.
type Session struct {
	Token     string
	TokenType string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// tokenResponse is the body of the oauth token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// newSession fixes ExpiresAt once, at receipt time.
func newSession(resp tokenResponse, now time.Time) *Session {
	return &Session{
		Token:     resp.AccessToken,
		TokenType: resp.TokenType,
		Scope:     resp.Scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
}

func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Session) MarshalZerologObject(e *zerolog.Event) {
	token := s.Token
	if len(token) > 6 {
		token = token[:6]
	}
	e.Str("token", token+"-...").
		Time("expires_at", s.ExpiresAt).
		Str("token_type", s.TokenType).
		Str("scope", s.Scope)
}

// LoginMode selects how Login treats an existing session.
type LoginMode int

const (
	// LoginReuse keeps a valid session and logs in when it is missing or expired.
	LoginReuse LoginMode = iota
	// LoginProbe never logs in and returns whatever session is held, possibly
	// expired or nil. It backs the status endpoint.
	LoginProbe
	// LoginForce always performs a fresh login.
	LoginForce
)

func (m LoginMode) String() string {
	switch m {
	case LoginReuse:
		return "reuse"
	case LoginProbe:
		return "probe"
	case LoginForce:
		return "force"
	default:
		return "unknown"
	}
}

// LoginModeFromForce maps a tri-state force flag: nil probes, false reuses, true forces.
func LoginModeFromForce(force *bool) LoginMode {
	switch {
	case force == nil:
		return LoginProbe
	case *force:
		return LoginForce
	default:
		return LoginReuse
	}
}
