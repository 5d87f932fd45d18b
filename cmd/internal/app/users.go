package app

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/permission"
)

// dummyHash is compared against when the identifier is unknown so that a
// miss costs the same bcrypt work as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gosession-dummy-password"), bcrypt.DefaultCost)

// UserDirectory is an in-memory goSession.Authenticator over bcrypt hashes.
// Identifiers match case-insensitively.
type UserDirectory struct {
	users map[string]UserEntry
}

func NewUserDirectory(entries []UserEntry) *UserDirectory {
	d := &UserDirectory{users: make(map[string]UserEntry, len(entries))}
	for _, u := range entries {
		d.users[strings.ToLower(strings.TrimSpace(u.Identifier))] = u
	}
	return d
}

func (d *UserDirectory) Verify(ctx context.Context, creds goSession.Credentials) (goSession.User, error) {
	if err := ctx.Err(); err != nil {
		return goSession.User{}, err
	}

	u, ok := d.users[strings.ToLower(strings.TrimSpace(creds.Identifier))]
	hash := dummyHash
	if ok {
		hash = []byte(u.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Secret)); err != nil || !ok {
		return goSession.User{}, goSession.ErrInvalidCredentials
	}

	return goSession.User{
		ID:          u.ID,
		Role:        u.Role,
		Permissions: permission.NewSet(u.Permissions...),
	}, nil
}

// HashPassword returns a bcrypt hash suitable for UserEntry.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
