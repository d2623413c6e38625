// Package entity defines the canonical, structured identity of everything
// attend tracks attention for: people, pairwise relationships, spaces,
// themes and the agent itself.
//
// Keys are two-way parseable. The string form is
//
//	<scope>:<category>:<id>[+<id>]
//
// where scope is either "global" or "space=<id>". Pair keys sort their two
// component ids so that A-B and B-A collide to the same entity.
package entity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	keySep    = ":"
	pairSep   = "+"
	scopeSep  = "="
	globalTag = "global"
	spaceTag  = "space"
)

// ErrInvalidKey is wrapped by every key parsing or construction failure.
var ErrInvalidKey = errors.New("invalid entity key")

// Category is the kind of thing an entity represents.
type Category string

const (
	CategoryPerson Category = "person"
	CategoryPair   Category = "pair"
	CategorySpace  Category = "space"
	CategoryTheme  Category = "theme"
	CategorySelf   Category = "self"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryPerson, CategoryPair, CategorySpace, CategoryTheme, CategorySelf}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories(), c)
}

func (c Category) String() string { return string(c) }

// Scope is either global or bound to a single container (space).
type Scope struct {
	space string
}

// Global is the scope shared across every container.
func Global() Scope { return Scope{} }

// InSpace returns the scope of the given container id.
func InSpace(id string) Scope { return Scope{space: id} }

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s.space == "" }

// Space returns the container id, empty for the global scope.
func (s Scope) Space() string { return s.space }

func (s Scope) String() string {
	if s.IsGlobal() {
		return globalTag
	}
	return spaceTag + scopeSep + s.space
}

// ParseScope parses the string form produced by Scope.String.
func ParseScope(raw string) (Scope, error) {
	if raw == globalTag {
		return Global(), nil
	}
	tag, id, ok := strings.Cut(raw, scopeSep)
	if !ok || tag != spaceTag {
		return Scope{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, raw)
	}
	if err := validateID(id); err != nil {
		return Scope{}, err
	}
	return InSpace(id), nil
}

// Key is the structured identity of an entity. The zero value is invalid.
// Key is comparable and may be used as a map key.
type Key struct {
	scope    Scope
	category Category
	id       string
	other    string // second component of a pair, empty otherwise
}

// New constructs a single-component key.
func New(scope Scope, category Category, id string) (Key, error) {
	if !category.Valid() {
		return Key{}, fmt.Errorf("%w: unknown category %q", ErrInvalidKey, category)
	}
	if category == CategoryPair {
		return Key{}, fmt.Errorf("%w: pair keys need two ids, use PairKey", ErrInvalidKey)
	}
	if err := validateID(id); err != nil {
		return Key{}, err
	}
	return Key{scope: scope, category: category, id: id}, nil
}

// PairKey constructs the canonical key of the relationship between a and
// b. The argument order does not matter.
func PairKey(scope Scope, a, b string) (Key, error) {
	if err := validateID(a); err != nil {
		return Key{}, err
	}
	if err := validateID(b); err != nil {
		return Key{}, err
	}
	if a == b {
		return Key{}, fmt.Errorf("%w: pair of %q with itself", ErrInvalidKey, a)
	}
	if b < a {
		a, b = b, a
	}
	return Key{scope: scope, category: CategoryPair, id: a, other: b}, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(raw string) Key {
	k, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// Parse parses the string form produced by Key.String. Pair keys are
// canonicalized, so "global:pair:b+a" parses to the same key as
// "global:pair:a+b".
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, keySep)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q does not have 3 components", ErrInvalidKey, raw)
	}
	scope, err := ParseScope(parts[0])
	if err != nil {
		return Key{}, err
	}
	category := Category(parts[1])
	if category == CategoryPair {
		a, b, ok := strings.Cut(parts[2], pairSep)
		if !ok {
			return Key{}, fmt.Errorf("%w: pair %q missing %q", ErrInvalidKey, raw, pairSep)
		}
		return PairKey(scope, a, b)
	}
	return New(scope, category, parts[2])
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	if strings.ContainsAny(id, keySep+pairSep+scopeSep) {
		return fmt.Errorf("%w: id %q contains a reserved character", ErrInvalidKey, id)
	}
	return nil
}

// String returns the canonical string form of k.
func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	ids := k.id
	if k.category == CategoryPair {
		ids = k.id + pairSep + k.other
	}
	return k.scope.String() + keySep + string(k.category) + keySep + ids
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text decodes
// to the zero key.
func (k *Key) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*k = Key{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsZero reports whether k is the zero value.
func (k Key) IsZero() bool { return k.category == "" }

// Scope returns the scope of k.
func (k Key) Scope() Scope { return k.scope }

// Category returns the category of k.
func (k Key) Category() Category { return k.category }

// IDs returns the component ids of k: one for most categories, two
// (sorted) for pairs.
func (k Key) IDs() []string {
	if k.category == CategoryPair {
		return []string{k.id, k.other}
	}
	return []string{k.id}
}

// Members returns the person keys of a pair in the pair's scope. It
// returns nil for any other category.
func (k Key) Members() []Key {
	if k.category != CategoryPair {
		return nil
	}
	return []Key{
		{scope: k.scope, category: CategoryPerson, id: k.id},
		{scope: k.scope, category: CategoryPerson, id: k.other},
	}
}

// Involves reports whether the pair k contains the person id.
func (k Key) Involves(id string) bool {
	return k.category == CategoryPair && (k.id == id || k.other == id)
}

// Global returns the global counterpart of a container-scoped key. A key
// that is already global is returned unchanged.
func (k Key) Global() Key {
	k.scope = Global()
	return k
}

// Within returns the counterpart of k scoped to the given container.
func (k Key) Within(space string) Key {
	k.scope = InSpace(space)
	return k
}

// CrossesScope reports whether an edge between a and b spans a scope
// boundary.
func CrossesScope(a, b Key) bool {
	return a.scope != b.scope
}

// Compare orders keys by their string form.
func Compare(a, b Key) int {
	return strings.Compare(a.String(), b.String())
}
