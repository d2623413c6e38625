package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/eventstream"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/registry"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
)

type memorySink struct {
	mu        sync.Mutex
	artifacts []*pipeline.Artifact
}

func (s *memorySink) Accept(_ context.Context, a *pipeline.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []*eventstream.RunCompletedEvent
}

func (p *recordingPublisher) PublishRun(_ context.Context, e *eventstream.RunCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, e)
	return nil
}

func (p *recordingPublisher) PublishArtifact(context.Context, *eventstream.ArtifactEmittedEvent) error {
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// hookedSpender wraps a ledger so tests can fail or interrupt a spend.
type hookedSpender struct {
	*ledger.Ledger
	onSpend  func(ctx context.Context) error
	retained []string
}

func (h *hookedSpender) Spend(ctx context.Context, key entity.Key, amount float64, reason, runID string) (float64, error) {
	if h.onSpend != nil {
		if err := h.onSpend(ctx); err != nil {
			return 0, err
		}
	}
	return h.Ledger.Spend(ctx, key, amount, reason, runID)
}

func (h *hookedSpender) Retain(ctx context.Context, key entity.Key, spent float64, runID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.retained = append(h.retained, key.String())
	return h.Ledger.Retain(ctx, key, spent, runID)
}

var _ = Describe("Executor", func() {
	var (
		ctx       context.Context
		store     *inmemory.Driver
		reg       *registry.Registry
		led       *ledger.Ledger
		nodes     *pipeline.Registry
		sink      *memorySink
		publisher *recordingPublisher
		fake      *clock.Fake
		failOn    string
	)

	people := []string{"p1", "p2", "p3", "p4", "p5"}

	newExecutorWith := func(spender pipeline.Spender) *pipeline.Executor {
		x, err := pipeline.NewExecutor(pipeline.ExecutorConfig{
			Runs:      store,
			Ledger:    spender,
			Nodes:     nodes,
			Sink:      sink,
			Entities:  reg,
			Publisher: publisher,
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())
		return x
	}

	newExecutor := func(concurrency int) *pipeline.Executor {
		x, err := pipeline.NewExecutor(pipeline.ExecutorConfig{
			Runs:        store,
			Ledger:      led,
			Nodes:       nodes,
			Sink:        sink,
			Entities:    reg,
			Publisher:   publisher,
			Concurrency: concurrency,
			Clock:       fake,
		})
		Expect(err).NotTo(HaveOccurred())
		return x
	}

	targets := func() []budget.Target {
		var out []budget.Target
		for i, id := range people {
			key := entity.MustParse("global:person:" + id)
			out = append(out, budget.Target{
				Key:      key,
				Category: entity.CategoryPerson,
				Pipeline: "social-reflect",
				Balance:  float64(50 - i),
			})
		}
		return out
	}

	spendEntries := func(id string) []*ledger.Entry {
		entries, err := led.History(ctx, entity.MustParse("global:person:"+id), 0)
		Expect(err).NotTo(HaveOccurred())
		var out []*ledger.Entry
		for _, e := range entries {
			if e.Type == ledger.TypeSpend {
				out = append(out, e)
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		fake = clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		sink = &memorySink{}
		publisher = &recordingPublisher{}
		failOn = ""

		var err error
		reg, err = registry.New(ctx, registry.Config{
			Store: store,
			Caps:  map[entity.Category]float64{entity.CategoryPerson: 100},
			Groups: map[entity.Category]string{
				entity.CategoryPerson: "social",
				entity.CategoryPair:   "social",
				entity.CategorySpace:  "spaces",
				entity.CategoryTheme:  "themes",
				entity.CategorySelf:   "self",
			},
			Clock: fake,
		})
		Expect(err).NotTo(HaveOccurred())

		led, err = ledger.New(ledger.Config{
			Store:         store,
			Entities:      reg,
			RetentionRate: 0.1,
			Clock:         fake,
		})
		Expect(err).NotTo(HaveOccurred())

		for i, id := range people {
			_, err := led.Warm(ctx, entity.MustParse("global:person:"+id), float64(50-i), "seed")
			Expect(err).NotTo(HaveOccurred())
		}

		nodes = pipeline.NewRegistry()
		nodes.Register("work", func(params map[string]any) (pipeline.Node, error) {
			tokens, _ := params["tokens"].(int64)
			return pipeline.NodeFunc(func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
				if s.Target.Key.String() == failOn {
					return nil, errors.New("model unavailable")
				}
				s.Tokens += tokens
				s.Reference(entity.MustParse("global:theme:mentioned"))
				return s, nil
			}), nil
		})
		nodes.Register("emit", func(map[string]any) (pipeline.Node, error) {
			return pipeline.NodeFunc(func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
				s.Emit("note", map[string]any{"target": s.Target.Key.String()})
				return s, nil
			}), nil
		})
		nodes.Register("noop", func(map[string]any) (pipeline.Node, error) {
			return pipeline.NodeFunc(func(_ context.Context, s *pipeline.State) (*pipeline.State, error) {
				return s, nil
			}), nil
		})
	})

	It("runs every target and spends per token", func() {
		run, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		Expect(run.Status).To(Equal(pipeline.StatusSuccess))
		Expect(run.Matched).To(Equal(5))
		Expect(run.Processed).To(Equal(5))
		Expect(run.Artifacts).To(Equal(5))
		Expect(run.Usage.Tokens).To(Equal(int64(500)))
		Expect(run.Usage.Spent).To(BeNumerically("~", 5, 1e-9))
		Expect(run.Usage.Retained).To(BeNumerically("~", 0.5, 1e-9))

		balance, err := led.Balance(ctx, entity.MustParse("global:person:p1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(balance).To(BeNumerically("~", 50-1+0.1, 1e-9))

		stored, err := store.GetRun(ctx, run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(pipeline.StatusSuccess))
		Expect(stored.ContentHash).To(Equal(run.ContentHash))
	})

	It("skips a failing target and reports a partial run", func() {
		failOn = "global:person:p3"

		run, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		Expect(run.Status).To(Equal(pipeline.StatusPartial))
		Expect(run.Processed).To(Equal(4))
		Expect(run.Skipped).To(Equal(1))
		Expect(run.Errors).To(HaveLen(1))
		Expect(run.Errors[0].Target).To(Equal("global:person:p3"))
		Expect(run.Errors[0].Node).To(Equal("work"))

		Expect(spendEntries("p3")).To(BeEmpty())
		for _, id := range []string{"p1", "p2", "p4", "p5"} {
			spends := spendEntries(id)
			Expect(spends).To(HaveLen(1))
			Expect(spends[0].RunID).To(Equal(run.ID))
		}
	})

	It("reports failed when every target is skipped", func() {
		p := basePipeline()
		p.Nodes = []pipeline.NodeSpec{{Type: "work"}}
		failOn = "global:person:p1"

		run, err := newExecutor(0).Run(ctx, p, targets()[:1])
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(pipeline.StatusFailed))
	})

	It("reports dry when nothing is produced", func() {
		p := basePipeline()
		p.Nodes = []pipeline.NodeSpec{{Type: "noop"}}

		run, err := newExecutor(0).Run(ctx, p, targets())
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(pipeline.StatusDry))

		empty, err := newExecutor(0).Run(ctx, basePipeline(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(empty.Status).To(Equal(pipeline.StatusDry))
		Expect(empty.Matched).To(BeZero())
	})

	It("filters by category, balance and the target cap", func() {
		p := basePipeline()
		p.Filter.MinBalance = 47
		p.MaxTargets = 2

		ts := append(targets(), budget.Target{Key: entity.MustParse("global:theme:go"), Category: entity.CategoryTheme, Balance: 99})
		run, err := newExecutor(0).Run(ctx, p, ts)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Matched).To(Equal(2))
	})

	It("excludes provisional targets unless the filter allows them", func() {
		ts := targets()
		ts[0].Provisional = true

		run, err := newExecutor(0).Run(ctx, basePipeline(), ts)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Matched).To(Equal(4))

		p := basePipeline()
		p.Filter.IncludeProvisional = true
		run, err = newExecutor(0).Run(ctx, p, ts)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Matched).To(Equal(5))
	})

	It("stamps artifacts with the run id and content hash", func() {
		run, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		Expect(sink.artifacts).To(HaveLen(5))
		for _, a := range sink.artifacts {
			Expect(a.ID).NotTo(BeEmpty())
			Expect(a.RunID).To(Equal(run.ID))
			Expect(a.ContentHash).To(Equal(run.ContentHash))
			Expect(a.Pipeline).To(Equal("social-reflect"))
		}
	})

	It("records output references as provisional entities", func() {
		_, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		e, ok := reg.Get(entity.MustParse("global:theme:mentioned"))
		Expect(ok).To(BeTrue())
		Expect(e.Provisional).To(BeTrue())
	})

	It("publishes the finished run", func() {
		run, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		Expect(publisher.runs).To(HaveLen(1))
		Expect(publisher.runs[0].Run.ID).To(Equal(run.ID))
		Expect(publisher.runs[0].Run.Status).To(Equal("success"))
	})

	It("runs targets in parallel with the same outcome", func() {
		failOn = "global:person:p3"

		run, err := newExecutor(3).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(pipeline.StatusPartial))
		Expect(run.Processed).To(Equal(4))
		Expect(spendEntries("p3")).To(BeEmpty())
	})

	It("closes the record and spends nothing when cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		run, err := newExecutor(0).Run(cancelled, basePipeline(), targets())
		Expect(err).To(MatchError(context.Canceled))
		Expect(run.Status).To(Equal(pipeline.StatusFailed))
		Expect(run.Skipped).To(Equal(5))

		for _, id := range people {
			Expect(spendEntries(id)).To(BeEmpty())
		}

		stored, err := store.GetRun(ctx, run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status.Terminal()).To(BeTrue())
	})

	It("runs pipelines whose definitions differ under different hashes", func() {
		first, err := newExecutor(0).Run(ctx, basePipeline(), targets())
		Expect(err).NotTo(HaveOccurred())

		p := basePipeline()
		p.SpendPerToken = 0.02
		second, err := newExecutor(0).Run(ctx, p, targets())
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ContentHash).NotTo(Equal(first.ContentHash))
	})

	It("keeps artifacts of a target whose spend fails out of the sink", func() {
		spender := &hookedSpender{
			Ledger:  led,
			onSpend: func(context.Context) error { return errors.New("ledger offline") },
		}

		run, err := newExecutorWith(spender).Run(ctx, basePipeline(), targets()[:1])
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Status).To(Equal(pipeline.StatusFailed))
		Expect(run.Skipped).To(Equal(1))
		Expect(run.Artifacts).To(BeZero())
		Expect(run.Errors).To(HaveLen(1))
		Expect(run.Errors[0].Node).To(Equal("spend"))

		Expect(sink.artifacts).To(BeEmpty())
		Expect(spender.retained).To(BeEmpty())
	})

	It("finishes a committed target when cancelled after its spend", func() {
		cancellable, cancel := context.WithCancel(ctx)
		defer cancel()

		spender := &hookedSpender{
			Ledger: led,
			onSpend: func(context.Context) error {
				cancel()
				return nil
			},
		}

		run, err := newExecutorWith(spender).Run(cancellable, basePipeline(), targets()[:1])
		Expect(err).To(MatchError(context.Canceled))
		Expect(run.Processed).To(Equal(1))
		Expect(run.Artifacts).To(Equal(1))
		Expect(run.Usage.Retained).To(BeNumerically("~", 0.1, 1e-9))

		Expect(spender.retained).To(ConsistOf("global:person:p1"))
		Expect(sink.artifacts).To(HaveLen(1))
		Expect(spendEntries("p1")).To(HaveLen(1))
	})

	It("reports a run whose record was resolved while it was running", func() {
		var x *pipeline.Executor
		nodes.Register("interrupt", func(map[string]any) (pipeline.Node, error) {
			return pipeline.NodeFunc(func(ctx context.Context, s *pipeline.State) (*pipeline.State, error) {
				_, err := x.Reconcile(ctx)
				return s, err
			}), nil
		})
		p := basePipeline()
		p.Nodes = append(p.Nodes, pipeline.NodeSpec{Type: "interrupt"})

		x = newExecutor(0)
		run, err := x.Run(ctx, p, targets()[:1])
		Expect(err).To(MatchError(pipeline.ErrRunResolved))
		Expect(run.Status).To(Equal(pipeline.StatusSuccess))

		stored, err := store.GetRun(ctx, run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(pipeline.StatusFailed))
	})

	Describe("Reconcile", func() {
		It("resolves interrupted runs to failed", func() {
			for i := range 2 {
				Expect(store.CreateRun(ctx, &pipeline.RunRecord{
					ID:        fmt.Sprintf("stale-%d", i),
					Pipeline:  "social-reflect",
					StartedAt: fake.Now(),
					Status:    pipeline.StatusRunning,
				})).To(Succeed())
			}
			fake.Advance(time.Minute)

			n, err := newExecutor(0).Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			run, err := store.GetRun(ctx, "stale-0")
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(pipeline.StatusFailed))
			Expect(run.CompletedAt).NotTo(BeNil())
			Expect(run.Usage.DurationMs).To(Equal(int64(60000)))

			n, err = newExecutor(0).Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
