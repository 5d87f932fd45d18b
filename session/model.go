package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"github.com/MrEthical07/goSession/permission"
)

// Metadata is the client context bound to a session. Only LastActive changes
// after creation, and only through [Store.Touch].
type Metadata struct {
	IP         string
	UserAgent  string
	DeviceID   string
	LastActive time.Time
}

// Session is a server-issued record binding a token to a user, role,
// permission snapshot, and client fingerprint.
//
// Sessions handed out by [Store] are private copies; mutating one has no
// effect on the store.
type Session struct {
	ID     string
	UserID string

	// Token is populated only on the value returned by [Store.Create].
	Token     string
	TokenHash [32]byte

	Role        string
	Permissions permission.Set

	CreatedAt time.Time
	ExpiresAt time.Time

	Metadata Metadata

	// Revision increases on every touch. The cache keeps the higher revision
	// when merging a repository read.
	Revision uint64
}

// Clone returns a copy of s without the plaintext token.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Token = ""
	return &out
}

// ExpiredAt reports whether the session is expired at now. The boundary
// instant counts as expired.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MatchesToken reports whether token hashes to the stored TokenHash.
func (s *Session) MatchesToken(token string) bool {
	if s == nil || token == "" {
		return false
	}
	h := HashToken(token)
	return subtle.ConstantTimeCompare(h[:], s.TokenHash[:]) == 1
}

// HashToken returns the SHA-256 digest persisted in place of a token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
