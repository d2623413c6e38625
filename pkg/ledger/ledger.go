// Package ledger is the attention ledger: an append-only log of
// balance-changing transactions per entity. Balances are always derived
// by summing an entity's entries and are never stored directly.
//
// Operations on the same entity serialize on a per-entity lock so that
// the non-negative balance and cap invariants hold under concurrent
// ingestion. Operations on different entities proceed independently.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
)

var (
	defaultDecayCadence = 24 * time.Hour
	defaultMaxHops      = 1
)

// Store is the append-only persistence of ledger entries.
type Store interface {
	// Append writes an entry. Returns false, without writing, when the
	// entry carries a token that is already present in the ledger.
	Append(ctx context.Context, e *Entry) (bool, error)

	// HasToken reports whether an entry with the token exists.
	HasToken(ctx context.Context, token string) (bool, error)

	// Balance returns the sum of the entity's entry amounts.
	Balance(ctx context.Context, key entity.Key) (float64, error)

	// Entries returns up to limit entries for the entity, newest first.
	// A limit <= 0 returns every entry.
	Entries(ctx context.Context, key entity.Key, limit int) ([]*Entry, error)

	// Accounts returns a consistent point-in-time view of every entity
	// that has at least one entry, ordered by key.
	Accounts(ctx context.Context) ([]Account, error)
}

// Entities is the slice of the entity registry the ledger depends on.
type Entities interface {
	Ensure(ctx context.Context, key entity.Key, provisional bool) (*entity.Entity, error)
	Get(key entity.Key) (*entity.Entity, bool)
	Related(key entity.Key) []entity.Relation
}

// Config is the configuration for a Ledger.
type Config struct {
	Store    Store
	Entities Entities

	// PropagationFactor scales an earn onto each warm related entity in
	// the same scope.
	PropagationFactor float64

	// GlobalPropagationFactor replaces PropagationFactor for edges that
	// cross a scope boundary.
	GlobalPropagationFactor float64

	// SpilloverFactor scales the capped-out overflow onto each warm
	// related entity.
	SpilloverFactor float64

	// WarmThreshold is the balance an entity must exceed to receive
	// propagated credit.
	WarmThreshold float64

	// MaxHops bounds propagation depth. Values above 1 enable the
	// multi-hop extension; 0 defaults to a single hop.
	MaxHops int

	// DecayThreshold is how long an entity may go without direct
	// activity before it decays.
	DecayThreshold time.Duration

	// DecayRate is the fraction of balance removed per decay tick.
	DecayRate float64

	// DecayCadence is the length of one decay tick (defaults to 24h).
	DecayCadence time.Duration

	// RetentionRate is the fraction of a spend credited back by Retain.
	RetentionRate float64

	// Weights maps activity kinds to earn amounts for Record.
	Weights map[string]float64

	// Focus multiplies Record amounts for entities scoped to a container.
	Focus map[string]float64

	Clock  clock.Clock
	Logger *zap.Logger
}

// Ledger is the attention ledger service.
type Ledger struct {
	config Config
	locks  *keyedMutex
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Ledger.
func New(c Config) (*Ledger, error) {
	if c.Store == nil {
		return nil, errors.New("ledger store is required")
	}
	if c.Entities == nil {
		return nil, errors.New("entity registry is required")
	}
	if c.DecayCadence <= 0 {
		c.DecayCadence = defaultDecayCadence
	}
	if c.MaxHops <= 0 {
		c.MaxHops = defaultMaxHops
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Ledger{
		config: c,
		locks:  newKeyedMutex(),
		clock:  c.Clock,
		logger: c.Logger,
	}, nil
}

// Earn credits amount to the entity, creating it on first reference. The
// portion that would push the balance above the entity's cap is not
// applied; it is routed to the entity's warm neighbours as spillover.
// An earn with a token already present in the ledger is a no-op.
func (l *Ledger) Earn(ctx context.Context, key entity.Key, amount float64, reason, token string) error {
	if invalidAmount(amount) {
		return ErrNegativeAmount
	}

	e, err := l.config.Entities.Ensure(ctx, key, false)
	if err != nil {
		return err
	}

	applied, overflow, inserted, err := l.earn(ctx, e, amount, reason, token)
	if err != nil {
		return err
	}
	if !inserted {
		l.logger.Debug("duplicate earn ignored",
			zap.String("key", key.String()),
			zap.String("token", token),
		)
		return nil
	}

	l.logger.Debug("earned",
		zap.String("key", key.String()),
		zap.Float64("amount", amount),
		zap.Float64("applied", applied),
		zap.Float64("overflow", overflow),
	)

	// Propagation runs after the source lock is released; each secondary
	// credit takes its own lock.
	l.propagate(ctx, key, amount, overflow)
	return nil
}

func (l *Ledger) earn(ctx context.Context, e *entity.Entity, amount float64, reason, token string) (float64, float64, bool, error) {
	unlock := l.locks.Lock(e.Key.String())
	defer unlock()

	if token != "" {
		seen, err := l.config.Store.HasToken(ctx, token)
		if err != nil {
			return 0, 0, false, fmt.Errorf("checking token: %w", err)
		}
		if seen {
			return 0, 0, false, nil
		}
	}

	balance, err := l.config.Store.Balance(ctx, e.Key)
	if err != nil {
		return 0, 0, false, fmt.Errorf("reading balance of %s: %w", e.Key, err)
	}

	applied := headroom(balance, amount, e.Cap)
	overflow := amount - applied

	inserted, err := l.config.Store.Append(ctx, l.newEntry(e.Key, TypeEarn, applied, reason, token))
	if err != nil {
		return 0, 0, false, fmt.Errorf("appending earn for %s: %w", e.Key, err)
	}
	return applied, overflow, inserted, nil
}

// Activity is one weighted ingestion event.
type Activity struct {
	Key    entity.Key
	Kind   string
	Reason string
	Token  string
}

// Record earns the configured weight of an activity kind, multiplied by
// the focus of the entity's container.
func (l *Ledger) Record(ctx context.Context, a Activity) error {
	weight, ok := l.config.Weights[a.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActivity, a.Kind)
	}

	amount := weight
	if scope := a.Key.Scope(); !scope.IsGlobal() {
		if focus, ok := l.config.Focus[scope.Space()]; ok {
			amount *= focus
		}
	}

	reason := a.Reason
	if reason == "" {
		reason = a.Kind
	}
	return l.Earn(ctx, a.Key, amount, reason, a.Token)
}

// Spend debits up to amount from the entity and returns what was actually
// spent. Spends are clamped so the balance never goes negative.
func (l *Ledger) Spend(ctx context.Context, key entity.Key, amount float64, reason, runID string) (float64, error) {
	if invalidAmount(amount) {
		return 0, ErrNegativeAmount
	}
	if _, ok := l.config.Entities.Get(key); !ok {
		return 0, UnknownEntityError{Key: key}
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", key, err)
	}

	actual := math.Min(amount, math.Max(balance, 0))
	entry := l.newEntry(key, TypeSpend, -actual, reason, "")
	entry.RunID = runID

	if _, err := l.config.Store.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("appending spend for %s: %w", key, err)
	}

	l.logger.Debug("spent",
		zap.String("key", key.String()),
		zap.Float64("requested", amount),
		zap.Float64("actual", actual),
		zap.String("run_id", runID),
	)
	return actual, nil
}

// Retain credits back spent * RetentionRate, tagged to the same run. The
// credit is bounded by the entity's cap and never propagates.
func (l *Ledger) Retain(ctx context.Context, key entity.Key, spent float64, runID string) (float64, error) {
	if invalidAmount(spent) {
		return 0, ErrNegativeAmount
	}
	e, ok := l.config.Entities.Get(key)
	if !ok {
		return 0, UnknownEntityError{Key: key}
	}

	amount := spent * l.config.RetentionRate
	if amount <= 0 {
		return 0, nil
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", key, err)
	}

	applied := headroom(balance, amount, e.Cap)
	entry := l.newEntry(key, TypeRetain, applied, "retention", "")
	entry.RunID = runID

	if _, err := l.config.Store.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("appending retain for %s: %w", key, err)
	}
	return applied, nil
}

// Warm kindles an entity with an operator-supplied amount. It counts as
// direct activity but does not propagate.
func (l *Ledger) Warm(ctx context.Context, key entity.Key, amount float64, reason string) (float64, error) {
	if invalidAmount(amount) {
		return 0, ErrNegativeAmount
	}
	e, err := l.config.Entities.Ensure(ctx, key, false)
	if err != nil {
		return 0, err
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", key, err)
	}

	applied := headroom(balance, amount, e.Cap)
	if _, err := l.config.Store.Append(ctx, l.newEntry(key, TypeWarm, applied, reason, "")); err != nil {
		return 0, fmt.Errorf("appending warm for %s: %w", key, err)
	}
	return applied, nil
}

// Reset appends a compensating entry that brings the balance to zero.
func (l *Ledger) Reset(ctx context.Context, key entity.Key, reason string) (float64, error) {
	if _, ok := l.config.Entities.Get(key); !ok {
		return 0, UnknownEntityError{Key: key}
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", key, err)
	}
	if balance == 0 {
		return 0, nil
	}

	if _, err := l.config.Store.Append(ctx, l.newEntry(key, TypeReset, -balance, reason, "")); err != nil {
		return 0, fmt.Errorf("appending reset for %s: %w", key, err)
	}
	return balance, nil
}

// Balance returns the derived balance of an entity. Unknown entities have
// a zero balance.
func (l *Ledger) Balance(ctx context.Context, key entity.Key) (float64, error) {
	return l.config.Store.Balance(ctx, key)
}

// History returns up to limit entries for the entity, newest first.
func (l *Ledger) History(ctx context.Context, key entity.Key, limit int) ([]*Entry, error) {
	return l.config.Store.Entries(ctx, key, limit)
}

// Accounts returns a point-in-time view of every funded entity.
func (l *Ledger) Accounts(ctx context.Context) ([]Account, error) {
	return l.config.Store.Accounts(ctx)
}

func (l *Ledger) newEntry(key entity.Key, typ EntryType, amount float64, reason, token string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		EntityKey: key,
		Type:      typ,
		Amount:    amount,
		Reason:    reason,
		Token:     token,
		CreatedAt: l.clock.Now(),
	}
}

// headroom returns the part of amount that fits under limit given the
// current balance. A non-positive limit means uncapped.
func headroom(balance, amount, limit float64) float64 {
	if limit <= 0 {
		return amount
	}
	room := math.Max(limit-balance, 0)
	return math.Min(amount, room)
}

func invalidAmount(amount float64) bool {
	return amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0)
}
