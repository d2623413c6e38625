package budget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
)

// Accounts supplies the point-in-time ledger snapshot selection reads.
type Accounts interface {
	Accounts(ctx context.Context) ([]ledger.Account, error)
}

// Entities looks up registry records for the provisional flag.
type Entities interface {
	Get(key entity.Key) (*entity.Entity, bool)
}

// Target is one entity admitted for processing.
type Target struct {
	Key         entity.Key      `json:"key"`
	Category    entity.Category `json:"category"`
	Pipeline    string          `json:"pipeline"`
	Balance     float64         `json:"balance"`
	Provisional bool            `json:"provisional,omitempty"`
}

// Selection is the outcome of one group's allocation.
type Selection struct {
	Group    string  `json:"group"`
	Pipeline string  `json:"pipeline"`
	Budget   float64 `json:"budget"`
	Used     float64 `json:"used"`
	Eligible int     `json:"eligible"`

	// Limited is true when the budget, not the supply of eligible
	// entities, bounded the selection.
	Limited bool `json:"limited"`

	Targets []Target `json:"targets"`
}

// Config is the configuration for a Selector.
type Config struct {
	// Total is the shared per-cycle budget.
	Total float64

	// SelfPool is the absolute budget of the self group.
	SelfPool float64

	Groups   []Group
	Accounts Accounts

	// Entities is optional; without it no target is marked provisional.
	Entities Entities

	Logger *zap.Logger
}

// Selector allocates the budget and picks targets.
type Selector struct {
	config Config
	byCat  map[entity.Category]string
	logger *zap.Logger
}

// NewSelector creates a Selector after validating the groups.
func NewSelector(c Config) (*Selector, error) {
	if c.Accounts == nil {
		return nil, errors.New("account source is required")
	}
	if err := ValidateGroups(c.Groups); err != nil {
		return nil, err
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Selector{
		config: c,
		byCat:  CategoryGroups(c.Groups),
		logger: c.Logger,
	}, nil
}

// Groups returns the configured groups.
func (s *Selector) Groups() []Group {
	return slices.Clone(s.config.Groups)
}

// Select allocates the budget against the current ledger snapshot and
// returns the selection of the named group, or of every group when name
// is empty. Shared groups come first in configuration order, the self
// group last. Identical ledger state yields identical output.
func (s *Selector) Select(ctx context.Context, name string) ([]Selection, error) {
	if name != "" && !s.hasGroup(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}

	accounts, err := s.config.Accounts.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting ledger: %w", err)
	}

	eligible := s.eligible(accounts)

	var (
		shared []*Selection
		self   *Selection
	)

	// First pass: every group against its initial allocation.
	for _, g := range s.config.Groups {
		budget := s.config.Total * g.Fraction
		if g.Name == SelfGroup {
			budget = s.config.SelfPool
		}
		sel := admit(g, eligible[g.Name], budget)
		if g.Name == SelfGroup {
			self = sel
			continue
		}
		shared = append(shared, sel)
	}

	s.redistribute(shared, eligible)

	out := make([]Selection, 0, len(shared)+1)
	for _, sel := range shared {
		if name == "" || sel.Group == name {
			out = append(out, *sel)
		}
	}
	if self != nil && (name == "" || name == SelfGroup) {
		out = append(out, *self)
	}

	for _, sel := range out {
		s.logger.Debug("group selected",
			zap.String("group", sel.Group),
			zap.Float64("budget", sel.Budget),
			zap.Int("eligible", sel.Eligible),
			zap.Int("selected", len(sel.Targets)),
			zap.Bool("limited", sel.Limited),
		)
	}
	return out, nil
}

// redistribute pools the unused budget of demand-limited groups and
// hands it to budget-limited groups in proportion to their fractions,
// then re-admits those groups once.
func (s *Selector) redistribute(shared []*Selection, eligible map[string][]Target) {
	pool := 0.0
	limitedFraction := 0.0
	for i, sel := range shared {
		if sel.Limited {
			limitedFraction += s.sharedGroup(i).Fraction
			continue
		}
		pool += sel.Budget - sel.Used
	}
	if pool <= 0 || limitedFraction <= 0 {
		return
	}

	for i, sel := range shared {
		if !sel.Limited {
			continue
		}
		g := s.sharedGroup(i)
		extra := pool * g.Fraction / limitedFraction
		shared[i] = admit(g, eligible[g.Name], sel.Budget+extra)
	}
}

// sharedGroup returns the i-th non-self group.
func (s *Selector) sharedGroup(i int) Group {
	n := 0
	for _, g := range s.config.Groups {
		if g.Name == SelfGroup {
			continue
		}
		if n == i {
			return g
		}
		n++
	}
	return Group{}
}

func (s *Selector) hasGroup(name string) bool {
	return slices.ContainsFunc(s.config.Groups, func(g Group) bool { return g.Name == name })
}

// eligible buckets every positively funded account by group, sorted by
// balance descending with ties broken by key.
func (s *Selector) eligible(accounts []ledger.Account) map[string][]Target {
	out := make(map[string][]Target)
	pipelines := make(map[string]string)
	for _, g := range s.config.Groups {
		pipelines[g.Name] = g.Pipeline
	}

	for _, acct := range accounts {
		if acct.Balance <= 0 {
			continue
		}
		group, ok := s.byCat[acct.Key.Category()]
		if !ok {
			continue
		}

		t := Target{
			Key:      acct.Key,
			Category: acct.Key.Category(),
			Pipeline: pipelines[group],
			Balance:  acct.Balance,
		}
		if s.config.Entities != nil {
			if e, ok := s.config.Entities.Get(acct.Key); ok {
				t.Provisional = e.Provisional
			}
		}
		out[group] = append(out[group], t)
	}

	for _, targets := range out {
		slices.SortFunc(targets, func(a, b Target) int {
			switch {
			case a.Balance > b.Balance:
				return -1
			case a.Balance < b.Balance:
				return 1
			}
			return strings.Compare(a.Key.String(), b.Key.String())
		})
	}
	return out
}

// admit takes targets in order while their cumulative cost fits the
// budget, stopping at the first that does not.
func admit(g Group, eligible []Target, budget float64) *Selection {
	sel := &Selection{
		Group:    g.Name,
		Pipeline: g.Pipeline,
		Budget:   budget,
		Eligible: len(eligible),
	}

	for _, t := range eligible {
		if g.EstimatedCost > 0 && sel.Used+g.EstimatedCost > budget+1e-9 {
			sel.Limited = true
			break
		}
		sel.Used += g.EstimatedCost
		sel.Targets = append(sel.Targets, t)
	}
	return sel
}
