package role

import (
	"context"
	"errors"
	"iter"

	"github.com/MrEthical07/goSession/permission"
)

// ErrNotFound is returned when a role id is absent from the current snapshot.
var ErrNotFound = errors.New("role not found")

// Role is a named permission bundle.
type Role struct {
	ID          string
	Name        string
	Permissions permission.Set
}

// Repository is the durable source of role definitions.
type Repository interface {
	// ListAll yields every role. The cache replaces its snapshot only when
	// the sequence completes without error.
	ListAll(ctx context.Context) iter.Seq2[Role, error]
}

// StaticRepository serves a fixed role list. It suits tests and deployments
// that define roles in configuration.
type StaticRepository []Role

func (s StaticRepository) ListAll(ctx context.Context) iter.Seq2[Role, error] {
	return func(yield func(Role, error) bool) {
		for _, r := range s {
			if err := ctx.Err(); err != nil {
				yield(Role{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}
