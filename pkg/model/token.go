package model

import "time"

// TokenKind distinguishes the two captured cookie kinds.
type TokenKind string

const (
	// TokenKindPrimary is the API bearer cookie.
	TokenKindPrimary TokenKind = "primary"
	// TokenKindSession is the account/SSO cookie.
	TokenKindSession TokenKind = "session"
)

// Cookie names used by the hosted suite for each token kind.
const (
	PrimaryCookieName = "auth-token"
	SessionCookieName = "account-session"
)

// CookieName returns the suite cookie name for the kind, or "" for an
// unknown kind.
func (k TokenKind) CookieName() string {
	switch k {
	case TokenKindPrimary:
		return PrimaryCookieName
	case TokenKindSession:
		return SessionCookieName
	default:
		return ""
	}
}

// KindOfCookie maps a cookie name back to a token kind.
func KindOfCookie(name string) (TokenKind, bool) {
	switch name {
	case PrimaryCookieName:
		return TokenKindPrimary, true
	case SessionCookieName:
		return TokenKindSession, true
	default:
		return "", false
	}
}

// minTokenValueLength is the sanity gate on captured cookie values.
const minTokenValueLength = 10

// TokenRecord is the captured authentication cookie for one tenant and
// kind. At most one record exists per (tenant, kind).
type TokenRecord struct {
	Kind     TokenKind `json:"kind"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
	SameSite string    `json:"sameSite"`
	// ExpiresAt is unix seconds; 0 means the cookie carries no expiry.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
	// CapturedAt is unix milliseconds of the observation.
	CapturedAt int64 `json:"capturedAt"`
	// SourcePartition is the partition the cookie was observed in.
	SourcePartition string `json:"sourcePartition"`
}

// Valid reports whether the record passes the sanity gate and has not
// expired at the given instant.
func (r *TokenRecord) Valid(now time.Time) bool {
	if r == nil {
		return false
	}
	if len(r.Value) < minTokenValueLength {
		return false
	}
	if r.ExpiresAt != 0 && r.ExpiresAt <= now.Unix() {
		return false
	}
	return true
}
