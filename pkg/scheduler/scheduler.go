// Package scheduler drives the attention loop: on every tick it sweeps
// decay, allocates the budget and runs the pipelines whose interval has
// elapsed. Pipelines can also be triggered on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const defaultTick = time.Minute

var (
	// ErrUnknownPipeline is returned when triggering a pipeline that is
	// not loaded.
	ErrUnknownPipeline = errors.New("unknown pipeline")

	// ErrAlreadyRunning is returned when triggering a pipeline that has a
	// run in flight.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// Selector allocates the budget.
type Selector interface {
	Select(ctx context.Context, group string) ([]budget.Selection, error)
}

// Executor runs pipelines.
type Executor interface {
	Run(ctx context.Context, p *pipeline.Pipeline, targets []budget.Target) (*pipeline.RunRecord, error)
}

// Decayer sweeps inactive balances.
type Decayer interface {
	DecayTick(ctx context.Context, now time.Time) (ledger.DecayReport, error)
}

// RunLister reads past runs to resume schedules after a restart.
type RunLister interface {
	ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.RunRecord, error)
}

// Config is the configuration for a Scheduler.
type Config struct {
	Selector Selector
	Executor Executor

	// Decay is swept on every tick when set.
	Decay Decayer

	// Runs seeds the last run time of each pipeline on Start. Optional.
	Runs RunLister

	Pipelines []*pipeline.Pipeline

	// Tick is how often due pipelines are looked for. Defaults to a minute.
	Tick time.Duration

	// OnTick is called after every tick. Optional.
	OnTick func(TickReport)

	Clock  clock.Clock
	Logger *zap.Logger
}

// TickReport summarizes one tick.
type TickReport struct {
	At    time.Time             `json:"at"`
	Decay *ledger.DecayReport   `json:"decay,omitempty"`
	Runs  []*pipeline.RunRecord `json:"runs"`
}

// Scheduler owns the tick loop.
type Scheduler struct {
	config Config
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	pipelines []*pipeline.Pipeline
	lastRun   map[string]time.Time
	running   map[string]bool
}

// New creates a Scheduler.
func New(c Config) (*Scheduler, error) {
	if c.Selector == nil {
		return nil, errors.New("selector is required")
	}
	if c.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	s := &Scheduler{
		config:  c,
		clock:   c.Clock,
		logger:  c.Logger,
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
	}
	s.SetPipelines(c.Pipelines)
	return s, nil
}

// SetPipelines swaps the loaded pipeline set. Schedules of pipelines that
// keep their name carry over.
func (s *Scheduler) SetPipelines(ps []*pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines = slices.Clone(ps)
}

// Pipelines returns the loaded pipelines.
func (s *Scheduler) Pipelines() []*pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pipelines)
}

// LastRun returns when the named pipeline last started from this
// scheduler, or the zero time.
func (s *Scheduler) LastRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}

// Start seeds schedules from the run history and ticks until ctx is done.
// Interrupted runs must be reconciled before Start and before anything
// else can trigger a run.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return err
	}

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.config.Tick),
		zap.Int("pipelines", len(s.Pipelines())),
	)

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) seed(ctx context.Context) error {
	if s.config.Runs == nil {
		return nil
	}
	for _, p := range s.Pipelines() {
		runs, err := s.config.Runs.ListRuns(ctx, pipeline.RunFilter{Pipeline: p.Name, Limit: 1})
		if err != nil {
			return fmt.Errorf("reading last run of %s: %w", p.Name, err)
		}
		if len(runs) == 0 {
			continue
		}
		s.mu.Lock()
		s.lastRun[p.Name] = runs[0].StartedAt
		s.mu.Unlock()
	}
	return nil
}

// Tick sweeps decay and runs every scheduled pipeline whose interval has
// elapsed since its last run. One allocation is shared by all pipelines
// due in the same tick. Run failures are logged and do not stop the
// remaining pipelines.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	now := s.clock.Now()
	report := TickReport{At: now}
	defer func() {
		if s.config.OnTick != nil {
			s.config.OnTick(report)
		}
	}()

	if s.config.Decay != nil {
		dr, err := s.config.Decay.DecayTick(ctx, now)
		if err != nil {
			s.logger.Error("decay sweep failed", zap.Error(err))
		} else {
			report.Decay = &dr
			if dr.Decayed > 0 {
				s.logger.Info("decay sweep",
					zap.Int("decayed", dr.Decayed),
					zap.Float64("removed", dr.Removed),
				)
			}
		}
	}

	due := s.due(now)
	if len(due) == 0 {
		return report, nil
	}

	selections, err := s.config.Selector.Select(ctx, "")
	if err != nil {
		return report, fmt.Errorf("allocating budget: %w", err)
	}

	for _, p := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		run, err := s.run(ctx, p, now, selections)
		if err != nil {
			s.logger.Error("scheduled run failed", zap.String("pipeline", p.Name), zap.Error(err))
		}
		if run != nil {
			report.Runs = append(report.Runs, run)
		}
	}
	return report, nil
}

// Trigger runs the named pipeline now against a fresh allocation,
// regardless of its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*pipeline.RunRecord, error) {
	p := s.lookup(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}

	selections, err := s.config.Selector.Select(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("allocating budget: %w", err)
	}
	return s.run(ctx, p, s.clock.Now(), selections)
}

func (s *Scheduler) run(ctx context.Context, p *pipeline.Pipeline, now time.Time, selections []budget.Selection) (*pipeline.RunRecord, error) {
	s.mu.Lock()
	if s.running[p.Name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRunning, p.Name)
	}
	s.running[p.Name] = true
	s.lastRun[p.Name] = now
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, p.Name)
		s.mu.Unlock()
	}()

	return s.config.Executor.Run(ctx, p, TargetsFor(p, selections))
}

func (s *Scheduler) due(now time.Time) []*pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pipeline.Pipeline
	for _, p := range s.pipelines {
		interval, err := p.Interval()
		if err != nil || interval == 0 {
			continue
		}
		if s.running[p.Name] {
			continue
		}
		last, ok := s.lastRun[p.Name]
		if ok && now.Sub(last) < interval {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Scheduler) lookup(name string) *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pipelines {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// TargetsFor returns the selected targets a pipeline runs on: those of the
// groups naming it, or, when no group names it, every selected target
// (the executor keeps only the pipeline's category).
func TargetsFor(p *pipeline.Pipeline, selections []budget.Selection) []budget.Target {
	var named, all []budget.Target
	found := false
	for _, sel := range selections {
		all = append(all, sel.Targets...)
		if sel.Pipeline == p.Name {
			found = true
			named = append(named, sel.Targets...)
		}
	}
	if found {
		return named
	}
	return all
}
