package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/eventstream"
)

// ErrRunResolved is returned by Run when its record was already resolved,
// typically by Reconcile, before the run could close it.
var ErrRunResolved = errors.New("run record already resolved")

// Spender is the slice of the ledger the executor charges against.
type Spender interface {
	Spend(ctx context.Context, key entity.Key, amount float64, reason, runID string) (float64, error)
	Retain(ctx context.Context, key entity.Key, spent float64, runID string) (float64, error)
}

// Provisioner records entities first seen in pipeline outputs.
type Provisioner interface {
	EnsureProvisional(ctx context.Context, key entity.Key) (*entity.Entity, error)
}

// ExecutorConfig is the configuration for an Executor.
type ExecutorConfig struct {
	Runs   RunStore
	Ledger Spender
	Nodes  *Registry

	// Sink receives artifacts. Optional.
	Sink ArtifactSink

	// Entities records output references as provisional. Optional.
	Entities Provisioner

	// Publisher announces finished runs and artifacts. Optional.
	Publisher eventstream.Publisher

	// Concurrency bounds how many targets run at once. Values below 2 run
	// targets sequentially.
	Concurrency int

	Clock  clock.Clock
	Logger *zap.Logger
}

// Executor runs pipelines over selected targets.
type Executor struct {
	config ExecutorConfig
	clock  clock.Clock
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(c ExecutorConfig) (*Executor, error) {
	if c.Runs == nil {
		return nil, errors.New("run store is required")
	}
	if c.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if c.Nodes == nil {
		return nil, errors.New("node registry is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Executor{
		config: c,
		clock:  c.Clock,
		logger: c.Logger,
	}, nil
}

// outcome is the result of one target.
type outcome struct {
	target    budget.Target
	processed bool
	err       *RunError
	tokens    int64
	spent     float64
	retained  float64
	artifacts int
}

// Run executes p over targets and returns the finished run record.
//
// Targets outside the pipeline's category or filter are dropped and the
// rest capped at MaxTargets. Each target runs every node in order; a
// failing node skips the target without spending against it and the run
// continues with the next target. Artifacts leave the executor only after
// the target's spend has landed. On cancellation the remaining targets
// are skipped, the record is still closed and the context error is
// returned alongside it. If the record was resolved elsewhere in the
// meantime, Run returns ErrRunResolved.
func (x *Executor) Run(ctx context.Context, p *Pipeline, targets []budget.Target) (*RunRecord, error) {
	hash, err := p.ContentHash()
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(p.Nodes))
	for _, spec := range p.Nodes {
		n, err := x.config.Nodes.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
		nodes = append(nodes, n)
	}

	matched := x.match(p, targets)
	run := &RunRecord{
		ID:          uuid.NewString(),
		Pipeline:    p.Name,
		ContentHash: hash,
		StartedAt:   x.clock.Now(),
		Status:      StatusRunning,
		Matched:     len(matched),
	}
	if err := x.config.Runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("opening run for %s: %w", p.Name, err)
	}

	logger := x.logger.With(
		zap.String("run_id", run.ID),
		zap.String("pipeline", p.Name),
		zap.String("content_hash", hash),
	)
	logger.Info("run started", zap.Int("matched", run.Matched))

	outcomes := x.process(ctx, p, run, nodes, matched)

	for _, o := range outcomes {
		if o.processed {
			run.Processed++
		} else {
			run.Skipped++
		}
		if o.err != nil {
			run.Errors = append(run.Errors, *o.err)
		}
		run.Artifacts += o.artifacts
		run.Usage.Tokens += o.tokens
		run.Usage.Spent += o.spent
		run.Usage.Retained += o.retained
	}

	completed := x.clock.Now()
	run.CompletedAt = &completed
	run.Usage.DurationMs = completed.Sub(run.StartedAt).Milliseconds()
	run.Status = deriveStatus(run.Processed, run.Skipped, run.Artifacts)

	// The record is closed even when ctx was cancelled mid-run.
	closeCtx := context.WithoutCancel(ctx)
	closed, err := x.config.Runs.FinishRun(closeCtx, run)
	if err != nil {
		return run, fmt.Errorf("closing run %s: %w", run.ID, err)
	}
	if !closed {
		logger.Error("run record was resolved before the run finished",
			zap.String("status", string(run.Status)),
		)
		return run, fmt.Errorf("%w: %s", ErrRunResolved, run.ID)
	}

	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
		zap.Int("skipped", run.Skipped),
		zap.Int("artifacts", run.Artifacts),
		zap.Float64("spent", run.Usage.Spent),
	)
	x.publishRun(closeCtx, run)

	return run, ctx.Err()
}

// match filters targets to the pipeline's category and filter and applies
// the MaxTargets cap, preserving selection order.
func (x *Executor) match(p *Pipeline, targets []budget.Target) []budget.Target {
	var out []budget.Target
	for _, t := range targets {
		if t.Category != p.Category {
			continue
		}
		if t.Balance < p.Filter.MinBalance {
			continue
		}
		if t.Provisional && !p.Filter.IncludeProvisional {
			continue
		}
		out = append(out, t)
		if p.MaxTargets > 0 && len(out) == p.MaxTargets {
			break
		}
	}
	return out
}

func (x *Executor) process(ctx context.Context, p *Pipeline, run *RunRecord, nodes []Node, targets []budget.Target) []outcome {
	outcomes := make([]outcome, len(targets))

	if x.config.Concurrency < 2 {
		for i, t := range targets {
			outcomes[i] = x.runTarget(ctx, p, run, nodes, t)
		}
		return outcomes
	}

	// Each goroutine writes only its own slot; per-target failures are
	// carried in the outcome, never as group errors.
	var g errgroup.Group
	g.SetLimit(x.config.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = x.runTarget(ctx, p, run, nodes, t)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (x *Executor) runTarget(ctx context.Context, p *Pipeline, run *RunRecord, nodes []Node, t budget.Target) outcome {
	o := outcome{target: t}
	key := t.Key.String()

	fail := func(node string, err error) outcome {
		o.err = &RunError{Target: key, Node: node, Message: err.Error()}
		x.logger.Warn("target skipped",
			zap.String("run_id", run.ID),
			zap.String("target", key),
			zap.String("node", node),
			zap.Error(err),
		)
		return o
	}

	state := &State{
		Target:      t,
		RunID:       run.ID,
		Pipeline:    p.Name,
		ContentHash: run.ContentHash,
		Values:      make(map[string]any),
	}

	for i, n := range nodes {
		if err := ctx.Err(); err != nil {
			return fail("", err)
		}

		next, err := n.Execute(ctx, state)
		if err != nil {
			return fail(p.Nodes[i].Type, err)
		}
		if next != nil {
			state = next
		}
	}

	if err := ctx.Err(); err != nil {
		return fail("", err)
	}

	o.tokens = state.Tokens
	if amount := float64(state.Tokens) * p.SpendPerToken; amount > 0 {
		spent, err := x.config.Ledger.Spend(ctx, t.Key, amount, "pipeline "+p.Name, run.ID)
		if err != nil {
			return fail("spend", err)
		}
		o.spent = spent
	}

	// The spend has landed; everything below belongs to a committed target
	// and finishes even if ctx is cancelled now.
	ctx = context.WithoutCancel(ctx)

	if o.spent > 0 {
		retained, err := x.config.Ledger.Retain(ctx, t.Key, o.spent, run.ID)
		if err != nil {
			x.logger.Error("retain failed",
				zap.String("run_id", run.ID),
				zap.String("target", key),
				zap.Error(err),
			)
		}
		o.retained = retained
	}

	now := x.clock.Now()
	for _, a := range state.Artifacts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.RunID = run.ID
		a.Pipeline = p.Name
		a.ContentHash = run.ContentHash
		a.Target = t.Key
		a.CreatedAt = now

		if x.config.Sink != nil {
			if err := x.config.Sink.Accept(ctx, a); err != nil {
				o.err = &RunError{Target: key, Node: "sink", Message: err.Error()}
				x.logger.Error("artifact rejected by sink",
					zap.String("run_id", run.ID),
					zap.String("target", key),
					zap.String("artifact_id", a.ID),
					zap.Error(err),
				)
				continue
			}
		}
		x.publishArtifact(ctx, a)
		o.artifacts++
	}

	if x.config.Entities != nil {
		for _, ref := range state.References {
			if _, err := x.config.Entities.EnsureProvisional(ctx, ref); err != nil {
				x.logger.Error("recording reference failed",
					zap.String("run_id", run.ID),
					zap.String("reference", ref.String()),
					zap.Error(err),
				)
			}
		}
	}

	o.processed = true
	return o
}

// Reconcile resolves every record left running by an interrupted process
// to failed. It returns the number of records resolved.
func (x *Executor) Reconcile(ctx context.Context) (int, error) {
	running, err := x.config.Runs.ListRuns(ctx, RunFilter{Status: StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("listing running runs: %w", err)
	}

	resolved := 0
	for _, run := range running {
		now := x.clock.Now()
		run.Status = StatusFailed
		run.CompletedAt = &now
		run.Usage.DurationMs = now.Sub(run.StartedAt).Milliseconds()
		run.Errors = append(run.Errors, RunError{Message: "interrupted before completion"})

		ok, err := x.config.Runs.FinishRun(ctx, run)
		if err != nil {
			return resolved, fmt.Errorf("resolving run %s: %w", run.ID, err)
		}
		if ok {
			resolved++
			x.logger.Warn("reconciled interrupted run",
				zap.String("run_id", run.ID),
				zap.String("pipeline", run.Pipeline),
			)
		}
	}
	return resolved, nil
}

func (x *Executor) publishRun(ctx context.Context, run *RunRecord) {
	if x.config.Publisher == nil {
		return
	}

	meta := eventstream.RunMeta{
		ID:          run.ID,
		Pipeline:    run.Pipeline,
		ContentHash: run.ContentHash,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		DurationMs:  run.Usage.DurationMs,
		Matched:     run.Matched,
		Processed:   run.Processed,
		Skipped:     run.Skipped,
		Artifacts:   run.Artifacts,
		Tokens:      run.Usage.Tokens,
		Spent:       run.Usage.Spent,
		Retained:    run.Usage.Retained,
	}
	if run.CompletedAt != nil {
		meta.CompletedAt = *run.CompletedAt
	}

	err := x.config.Publisher.PublishRun(ctx, &eventstream.RunCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeRunCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     x.clock.Now(),
		Run:           meta,
	})
	if err != nil {
		x.logger.Error("publishing run event failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (x *Executor) publishArtifact(ctx context.Context, a *Artifact) {
	if x.config.Publisher == nil {
		return
	}

	err := x.config.Publisher.PublishArtifact(ctx, &eventstream.ArtifactEmittedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeArtifactEmitted,
		EventID:       uuid.NewString(),
		EmittedAt:     x.clock.Now(),
		Artifact: eventstream.ArtifactMeta{
			ID:          a.ID,
			RunID:       a.RunID,
			Pipeline:    a.Pipeline,
			ContentHash: a.ContentHash,
			Target:      a.Target.String(),
			Kind:        a.Kind,
			Data:        a.Data,
		},
	})
	if err != nil {
		x.logger.Error("publishing artifact event failed", zap.String("artifact_id", a.ID), zap.Error(err))
	}
}
