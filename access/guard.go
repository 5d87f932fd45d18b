package access

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrUnauthorized is returned when no validated session is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the session lacks the required access.
	ErrForbidden = errors.New("forbidden")
)

// Emitter receives access decisions. [*audit.Dispatcher] satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// Decision describes one authorization outcome.
type Decision struct {
	Allowed  bool
	Resource string
	Missing  []string
}

// Guard authorizes sessions. The zero value is usable and audits nothing.
type Guard struct {
	emitter  Emitter
	observer func(Decision)
}

// NewGuard creates a Guard that reports decisions to emitter. observe, when
// non-nil, is called synchronously with every decision.
func NewGuard(emitter Emitter, observe func(Decision)) *Guard {
	return &Guard{emitter: emitter, observer: observe}
}

// Authorize allows sess when it holds every permission in required. An
// empty required set allows any session.
func (g *Guard) Authorize(ctx context.Context, sess *session.Session, required permission.Set) error {
	d := Decision{Resource: required.String()}
	if sess == nil {
		g.record(ctx, nil, d, ErrUnauthorized)
		return ErrUnauthorized
	}

	if !sess.Permissions.ContainsAll(required) {
		d.Missing = sess.Permissions.Missing(required)
		g.record(ctx, sess, d, ErrForbidden)
		return ErrForbidden
	}

	d.Allowed = true
	g.record(ctx, sess, d, nil)
	return nil
}

// AuthorizeRoles allows sess when its role is one of allowed. An empty
// allowed list admits nobody.
func (g *Guard) AuthorizeRoles(ctx context.Context, sess *session.Session, allowed []string) error {
	d := Decision{Resource: "role:" + strings.Join(allowed, "|")}
	if sess == nil {
		g.record(ctx, nil, d, ErrUnauthorized)
		return ErrUnauthorized
	}

	if sess.Role == "" || !slices.Contains(allowed, sess.Role) {
		g.record(ctx, sess, d, ErrForbidden)
		return ErrForbidden
	}

	d.Allowed = true
	g.record(ctx, sess, d, nil)
	return nil
}

func (g *Guard) record(ctx context.Context, sess *session.Session, d Decision, err error) {
	if g == nil {
		return
	}
	if g.observer != nil {
		g.observer(d)
	}
	if g.emitter == nil {
		return
	}

	ev := audit.Event{
		Type:     audit.TypeAccess,
		Resource: d.Resource,
		Allowed:  d.Allowed,
	}
	if sess != nil {
		ev.UserID = sess.UserID
		ev.SessionID = sess.ID
		ev.IP = sess.Metadata.IP
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if len(d.Missing) > 0 {
		ev.Detail = map[string]string{"missing": strings.Join(d.Missing, ",")}
	}
	g.emitter.Emit(ctx, ev)
}
