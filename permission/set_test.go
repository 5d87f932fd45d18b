package permission

import (
	"errors"
	"strings"
	"testing"
)

func TestNewSetSortsAndDeduplicates(t *testing.T) {
	s := NewSet("docs:write", " docs:read ", "docs:write", "")

	got := s.Names()
	if len(got) != 2 || got[0] != "docs:read" || got[1] != "docs:write" {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestContainsAllIsSubsetTest(t *testing.T) {
	granted := NewSet("read")

	if granted.ContainsAll(NewSet("read", "write")) {
		t.Fatal("{read} must not satisfy {read, write}")
	}
	if !granted.ContainsAll(NewSet("read")) {
		t.Fatal("{read} must satisfy {read}")
	}
	if !granted.ContainsAll(Set{}) {
		t.Fatal("empty requirement must always be satisfied")
	}

	wide := NewSet("a", "b", "c", "d")
	if !wide.ContainsAll(NewSet("b", "d")) {
		t.Fatal("expected {b, d} to be contained")
	}
	if wide.ContainsAll(NewSet("b", "e")) {
		t.Fatal("expected {b, e} not to be contained")
	}
}

func TestMissingListsUncoveredNames(t *testing.T) {
	missing := NewSet("read").Missing(NewSet("write", "read", "admin"))
	if len(missing) != 2 || missing[0] != "admin" || missing[1] != "write" {
		t.Fatalf("unexpected missing names: %v", missing)
	}
}

func TestParseSetRejectsInvalidNames(t *testing.T) {
	if _, err := ParseSet("ok", "  "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for blank name, got %v", err)
	}
	if _, err := ParseSet(strings.Repeat("x", MaxNameLength+1)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for oversized name, got %v", err)
	}
}

func TestNamesReturnsCopy(t *testing.T) {
	s := NewSet("a", "b")
	names := s.Names()
	names[0] = "z"

	if !s.Has("a") || s.Has("z") {
		t.Fatal("mutating Names() result must not affect the set")
	}
}

func TestUnion(t *testing.T) {
	u := NewSet("a", "c").Union(NewSet("b", "c"))
	if !u.Equal(NewSet("a", "b", "c")) {
		t.Fatalf("unexpected union: %v", u)
	}
}
