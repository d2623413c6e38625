// Package registry is the entity registry: it creates entities on first
// reference, supplies their budget group and cap, and derives the
// relations the propagation engine walks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
)

// Store persists entity records.
type Store interface {
	// PutEntity inserts the entity if no entity with the same key exists.
	// Returns true if the entity was newly inserted.
	PutEntity(ctx context.Context, e *entity.Entity) (bool, error)

	// GetEntity returns the entity for key or a not-found error.
	GetEntity(ctx context.Context, key entity.Key) (*entity.Entity, error)

	// ListEntities returns every entity ordered by key.
	ListEntities(ctx context.Context) ([]*entity.Entity, error)

	// SetProvisional updates the provisional flag of an existing entity.
	SetProvisional(ctx context.Context, key entity.Key, provisional bool) error
}

// Config is the configuration for a Registry.
type Config struct {
	// Store persists entities.
	Store Store

	// Caps is the balance cap per category.
	Caps map[entity.Category]float64

	// Groups maps every category to its budget group.
	Groups map[entity.Category]string

	// Clock stamps CreatedAt. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Registry is the entity registry. Entities are cached in memory; the
// store remains the source of truth across restarts.
type Registry struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	entities map[entity.Key]*entity.Entity

	// pairsByMember indexes pair keys by scope + person id.
	pairsByMember map[memberRef][]entity.Key

	// scopedBySpace indexes container-scoped person keys by container id.
	scopedBySpace map[string][]entity.Key

	// scopedByGlobal indexes the scoped counterparts of each global key.
	scopedByGlobal map[entity.Key][]entity.Key
}

type memberRef struct {
	scope entity.Scope
	id    string
}

// New creates a Registry and loads every persisted entity into its
// indexes.
func New(ctx context.Context, c Config) (*Registry, error) {
	if c.Store == nil {
		return nil, errors.New("registry store is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	for _, cat := range entity.Categories() {
		if _, ok := c.Groups[cat]; !ok {
			return nil, fmt.Errorf("category %q has no budget group", cat)
		}
	}

	r := &Registry{
		config:         c,
		logger:         c.Logger,
		entities:       make(map[entity.Key]*entity.Entity),
		pairsByMember:  make(map[memberRef][]entity.Key),
		scopedBySpace:  make(map[string][]entity.Key),
		scopedByGlobal: make(map[entity.Key][]entity.Key),
	}

	existing, err := c.Store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	for _, e := range existing {
		r.index(e)
	}

	r.logger.Debug("registry loaded", zap.Int("entities", len(existing)))
	return r, nil
}

// Cap returns the configured balance cap for a category.
func (r *Registry) Cap(category entity.Category) float64 {
	return r.config.Caps[category]
}

// Group returns the budget group of a category.
func (r *Registry) Group(category entity.Category) string {
	return r.config.Groups[category]
}

// Ensure returns the entity for key, creating it on first reference. A
// direct reference (provisional=false) kindles a provisional entity.
func (r *Registry) Ensure(ctx context.Context, key entity.Key, provisional bool) (*entity.Entity, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: zero key", entity.ErrInvalidKey)
	}

	r.mu.RLock()
	e, ok := r.entities[key]
	r.mu.RUnlock()

	if ok {
		if e.Provisional && !provisional {
			return r.kindle(ctx, e)
		}
		return e, nil
	}

	e = &entity.Entity{
		Key:         key,
		Category:    key.Category(),
		Group:       r.Group(key.Category()),
		Cap:         r.Cap(key.Category()),
		Provisional: provisional,
		CreatedAt:   r.config.Clock.Now(),
	}

	isNew, err := r.config.Store.PutEntity(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("storing entity %s: %w", key, err)
	}
	if !isNew {
		// Another writer got there first; the stored record wins.
		e, err = r.config.Store.GetEntity(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reloading entity %s: %w", key, err)
		}
	}

	r.mu.Lock()
	if cached, ok := r.entities[key]; ok {
		e = cached
	} else {
		r.index(e)
	}
	r.mu.Unlock()

	if isNew {
		r.logger.Debug("entity created",
			zap.String("key", key.String()),
			zap.Bool("provisional", provisional),
		)
	}

	if e.Provisional && !provisional {
		return r.kindle(ctx, e)
	}
	return e, nil
}

// EnsureProvisional records an entity referenced by a pipeline output.
func (r *Registry) EnsureProvisional(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	return r.Ensure(ctx, key, true)
}

func (r *Registry) kindle(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if err := r.config.Store.SetProvisional(ctx, e.Key, false); err != nil {
		return nil, fmt.Errorf("kindling entity %s: %w", e.Key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kindled := *e
	kindled.Provisional = false
	r.entities[e.Key] = &kindled

	r.logger.Debug("entity kindled", zap.String("key", e.Key.String()))
	return &kindled, nil
}

// Get returns a known entity. The boolean is false for unknown keys.
func (r *Registry) Get(key entity.Key) (*entity.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[key]
	return e, ok
}

// List returns every known entity ordered by key.
func (r *Registry) List() []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entity.Entity) int {
		return entity.Compare(a.Key, b.Key)
	})
	return out
}

// index adds e to the cache and relation indexes. Callers hold r.mu.
func (r *Registry) index(e *entity.Entity) {
	r.entities[e.Key] = e
	key := e.Key

	if key.Category() == entity.CategoryPair {
		for _, id := range key.IDs() {
			ref := memberRef{scope: key.Scope(), id: id}
			r.pairsByMember[ref] = append(r.pairsByMember[ref], key)
		}
	}

	if !key.Scope().IsGlobal() {
		global := key.Global()
		r.scopedByGlobal[global] = append(r.scopedByGlobal[global], key)
		if key.Category() == entity.CategoryPerson {
			space := key.Scope().Space()
			r.scopedBySpace[space] = append(r.scopedBySpace[space], key)
		}
	}
}
