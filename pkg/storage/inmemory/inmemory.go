// Package inmemory provides a map-backed storage driver for tests and
// ephemeral runs.
package inmemory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu is a read write sync mutex guarding every map below
	mu sync.RWMutex

	// entries is the append-only ledger log per entity, oldest first
	entries map[entity.Key][]*ledger.Entry

	// balances caches the running sum of each entity's entries
	balances map[entity.Key]float64

	// lastDirect tracks the newest direct entry per entity
	lastDirect map[entity.Key]time.Time

	// tokens is the set of idempotency tokens already written
	tokens map[string]bool

	entities map[entity.Key]*entity.Entity
	runs     map[string]*pipeline.RunRecord
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		entries:    make(map[entity.Key][]*ledger.Entry),
		balances:   make(map[entity.Key]float64),
		lastDirect: make(map[entity.Key]time.Time),
		tokens:     make(map[string]bool),
		entities:   make(map[entity.Key]*entity.Entity),
		runs:       make(map[string]*pipeline.RunRecord),
	}
}

// Append stores an entry. Returns false if its token was already written.
func (s *Driver) Append(_ context.Context, e *ledger.Entry) (bool, error) {
	if e == nil {
		return false, errors.New("cannot append nil entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Token != "" {
		if s.tokens[e.Token] {
			return false, nil
		}
		s.tokens[e.Token] = true
	}

	stored := *e
	s.entries[e.EntityKey] = append(s.entries[e.EntityKey], &stored)
	s.balances[e.EntityKey] += e.Amount
	if e.Type.Direct() && e.CreatedAt.After(s.lastDirect[e.EntityKey]) {
		s.lastDirect[e.EntityKey] = e.CreatedAt
	}
	return true, nil
}

// HasToken checks if an entry with the token exists.
func (s *Driver) HasToken(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token], nil
}

// Balance returns the sum of the entity's entries.
func (s *Driver) Balance(_ context.Context, key entity.Key) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[key], nil
}

// Entries returns up to limit entries for the entity, newest first.
func (s *Driver) Entries(_ context.Context, key entity.Key, limit int) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[key]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*ledger.Entry, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		e := *log[i]
		out = append(out, &e)
	}
	return out, nil
}

// Accounts returns every entity with entries, ordered by key. The read
// lock makes the view consistent across entities.
func (s *Driver) Accounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Account, 0, len(s.entries))
	for key, log := range s.entries {
		out = append(out, ledger.Account{
			Key:          key,
			Balance:      s.balances[key],
			LastActivity: s.lastDirect[key],
			Entries:      len(log),
		})
	}
	slices.SortFunc(out, func(a, b ledger.Account) int {
		return entity.Compare(a.Key, b.Key)
	})
	return out, nil
}

// PutEntity stores an entity. Returns false if one with the key exists.
func (s *Driver) PutEntity(_ context.Context, e *entity.Entity) (bool, error) {
	if e == nil {
		return false, errors.New("cannot store nil entity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.Key]; ok {
		return false, nil
	}
	stored := *e
	s.entities[e.Key] = &stored
	return true, nil
}

// GetEntity retrieves an entity by key.
func (s *Driver) GetEntity(_ context.Context, key entity.Key) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[key]
	if !ok {
		return nil, storage.NotFoundError{Kind: "entity", ID: key.String()}
	}
	out := *e
	return &out, nil
}

// ListEntities returns every entity ordered by key.
func (s *Driver) ListEntities(_ context.Context) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		c := *e
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *entity.Entity) int {
		return entity.Compare(a.Key, b.Key)
	})
	return out, nil
}

// SetProvisional updates the provisional flag of an entity.
func (s *Driver) SetProvisional(_ context.Context, key entity.Key, provisional bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[key]
	if !ok {
		return storage.NotFoundError{Kind: "entity", ID: key.String()}
	}
	e.Provisional = provisional
	return nil
}

// CreateRun stores a new run record.
func (s *Driver) CreateRun(_ context.Context, run *pipeline.RunRecord) error {
	if run == nil {
		return errors.New("cannot store nil run")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return errors.New("run already exists: " + run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// FinishRun writes the terminal state of a run that is still running.
func (s *Driver) FinishRun(_ context.Context, run *pipeline.RunRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return false, storage.NotFoundError{Kind: "run", ID: run.ID}
	}
	if existing.Status != pipeline.StatusRunning {
		return false, nil
	}
	s.runs[run.ID] = cloneRun(run)
	return true, nil
}

// GetRun retrieves a run record by id.
func (s *Driver) GetRun(_ context.Context, id string) (*pipeline.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: "run", ID: id}
	}
	return cloneRun(run), nil
}

// ListRuns returns matching run records, newest first.
func (s *Driver) ListRuns(_ context.Context, filter pipeline.RunFilter) ([]*pipeline.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pipeline.RunRecord
	for _, run := range s.runs {
		if filter.Pipeline != "" && run.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, cloneRun(run))
	}

	slices.SortFunc(out, func(a, b *pipeline.RunRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory driver.
func (s *Driver) Close() error {
	return nil
}

func cloneRun(run *pipeline.RunRecord) *pipeline.RunRecord {
	c := *run
	c.Errors = slices.Clone(run.Errors)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
