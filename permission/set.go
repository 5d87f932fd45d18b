package permission

import (
	"errors"
	"slices"
	"strings"
)

// MaxNameLength bounds a single permission name. The session codec relies on it.
const MaxNameLength = 255

// ErrInvalidName is returned when a permission name is empty or too long.
var ErrInvalidName = errors.New("invalid permission name")

// Set is an immutable, sorted set of permission names.
//
// The zero value is an empty set.
type Set struct {
	names []string
}

// NewSet builds a [Set] from names. Blank names are skipped, surrounding
// whitespace is trimmed, and duplicates collapse.
func NewSet(names ...string) Set {
	if len(names) == 0 {
		return Set{}
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return Set{}
	}

	return Set{names: out}
}

// ParseSet is like [NewSet] but rejects empty or oversized names instead of
// skipping them.
func ParseSet(names ...string) (Set, error) {
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" || len(trimmed) > MaxNameLength {
			return Set{}, ErrInvalidName
		}
	}
	return NewSet(names...), nil
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := slices.BinarySearch(s.names, name)
	return ok
}

// ContainsAll reports whether every name in required is also in s.
// An empty required set is always contained.
func (s Set) ContainsAll(required Set) bool {
	if len(required.names) > len(s.names) {
		return false
	}

	// Both slices are sorted; walk them once.
	i := 0
	for _, want := range required.names {
		for i < len(s.names) && s.names[i] < want {
			i++
		}
		if i == len(s.names) || s.names[i] != want {
			return false
		}
		i++
	}
	return true
}

// Missing returns the names of required that are not in s, in sorted order.
func (s Set) Missing(required Set) []string {
	var missing []string
	for _, want := range required.names {
		if !s.Has(want) {
			missing = append(missing, want)
		}
	}
	return missing
}

// Union returns a new set with the names of both s and other.
func (s Set) Union(other Set) Set {
	if other.Len() == 0 {
		return s
	}
	if s.Len() == 0 {
		return other
	}
	merged := make([]string, 0, len(s.names)+len(other.names))
	merged = append(merged, s.names...)
	merged = append(merged, other.names...)
	return NewSet(merged...)
}

// Len returns the number of names in the set.
func (s Set) Len() int {
	return len(s.names)
}

// Names returns a copy of the sorted names.
func (s Set) Names() []string {
	if len(s.names) == 0 {
		return nil
	}
	return slices.Clone(s.names)
}

// Equal reports whether both sets hold the same names.
func (s Set) Equal(other Set) bool {
	return slices.Equal(s.names, other.names)
}

func (s Set) String() string {
	return strings.Join(s.names, ",")
}
