package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock supplies the current time.
type Clock func() time.Time

// IDGenerator produces session identifiers.
type IDGenerator interface {
	NewSessionID() string
}

// TokenIssuer produces the secret handed to the client for a new session.
// The token must be distinct from the session id and high-entropy.
type TokenIssuer interface {
	Issue(sessionID, userID string, expiresAt time.Time) (string, error)
}

// ULIDGenerator generates lexicographically sortable ULID session ids.
type ULIDGenerator struct{}

func (ULIDGenerator) NewSessionID() string {
	return ulid.Make().String()
}

// RandomTokenIssuer issues opaque 256-bit random tokens.
type RandomTokenIssuer struct{}

func (RandomTokenIssuer) Issue(string, string, time.Time) (string, error) {
	return randomSecret(32)
}

func randomSecret(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
