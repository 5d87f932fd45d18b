package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/security"
	"github.com/MrEthical07/goSession/session"
)

// User is a verified principal. Credential checks happen upstream, in an
// [Authenticator] or the caller's own login flow.
type User struct {
	ID   string
	Role string

	// Permissions are granted in addition to the role's permissions.
	Permissions permission.Set
}

// Credentials is what a client presents to [Engine.Login].
type Credentials struct {
	Identifier string
	Secret     string
}

// Authenticator verifies credentials. It must return [ErrInvalidCredentials]
// (or an error wrapping it) when the credentials are wrong.
type Authenticator interface {
	Verify(ctx context.Context, creds Credentials) (User, error)
}

// AuthenticatorFunc adapts a function to [Authenticator].
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (User, error)

func (f AuthenticatorFunc) Verify(ctx context.Context, creds Credentials) (User, error) {
	return f(ctx, creds)
}

// RequestContext is the client attributes a session is bound to.
type RequestContext = security.RequestContext

// Session is a live session as returned by the engine.
type Session = session.Session

