package scheduler_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/scheduler"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
)

type fakeSelector struct {
	selections []budget.Selection
	calls      int
}

func (f *fakeSelector) Select(context.Context, string) ([]budget.Selection, error) {
	f.calls++
	return f.selections, nil
}

type call struct {
	pipeline string
	targets  []budget.Target
}

type fakeExecutor struct {
	mu         sync.Mutex
	calls   []call
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExecutor) Run(_ context.Context, p *pipeline.Pipeline, targets []budget.Target) (*pipeline.RunRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{pipeline: p.Name, targets: targets})
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return &pipeline.RunRecord{ID: "run-" + p.Name, Pipeline: p.Name, Status: pipeline.StatusSuccess}, nil
}

func (f *fakeExecutor) pipelines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.pipeline)
	}
	return out
}

type fakeDecayer struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (f *fakeDecayer) DecayTick(_ context.Context, now time.Time) (ledger.DecayReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, now)
	return ledger.DecayReport{Tick: now}, nil
}

func target(category entity.Category, id string) budget.Target {
	return budget.Target{Key: entity.MustParse("global:" + string(category) + ":" + id), Category: category}
}

var _ = Describe("Scheduler", func() {
	var (
		ctx      context.Context
		fake     *clock.Fake
		selector *fakeSelector
		executor *fakeExecutor
		decayer  *fakeDecayer
		social   *pipeline.Pipeline
		manual   *pipeline.Pipeline
		sched    *scheduler.Scheduler
		t0       = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = clock.NewFake(t0)
		selector = &fakeSelector{selections: []budget.Selection{
			{Group: "social", Pipeline: "social_digest", Targets: []budget.Target{target(entity.CategoryPerson, "alice")}},
			{Group: "themes", Pipeline: "theme_digest", Targets: []budget.Target{target(entity.CategoryTheme, "go")}},
		}}
		executor = &fakeExecutor{}
		decayer = &fakeDecayer{}
		social = &pipeline.Pipeline{Name: "social_digest", Category: entity.CategoryPerson, Schedule: "6h"}
		manual = &pipeline.Pipeline{Name: "deep_dive", Category: entity.CategoryTheme, Trigger: "manual"}

		var err error
		sched, err = scheduler.New(scheduler.Config{
			Selector:  selector,
			Executor:  executor,
			Decay:     decayer,
			Pipelines: []*pipeline.Pipeline{social, manual},
			Clock:     fake,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Tick", func() {
		It("runs a scheduled pipeline once per interval", func() {
			report, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Runs).To(HaveLen(1))
			Expect(executor.pipelines()).To(Equal([]string{"social_digest"}))

			fake.Advance(time.Hour)
			report, err = sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Runs).To(BeEmpty())

			fake.Advance(5 * time.Hour)
			_, err = sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(executor.pipelines()).To(Equal([]string{"social_digest", "social_digest"}))
			Expect(sched.LastRun("social_digest")).To(Equal(t0.Add(6 * time.Hour)))
		})

		It("never schedules trigger-only pipelines", func() {
			for range 3 {
				_, err := sched.Tick(ctx)
				Expect(err).NotTo(HaveOccurred())
				fake.Advance(24 * time.Hour)
			}
			Expect(executor.pipelines()).NotTo(ContainElement("deep_dive"))
		})

		It("runs a pipeline on the targets of the groups naming it", func() {
			_, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(executor.calls).To(HaveLen(1))
			Expect(executor.calls[0].targets).To(ConsistOf(target(entity.CategoryPerson, "alice")))
		})

		It("sweeps decay on every tick", func() {
			_, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			fake.Advance(time.Minute)
			report, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(decayer.ticks).To(Equal([]time.Time{t0, t0.Add(time.Minute)}))
			Expect(report.Decay).NotTo(BeNil())
		})

		It("skips the allocation when nothing is due", func() {
			_, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(selector.calls).To(Equal(1))

			_, err = sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(selector.calls).To(Equal(1))
		})

		It("keeps schedules across a pipeline reload", func() {
			_, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())

			edited := *social
			edited.MaxTargets = 3
			sched.SetPipelines([]*pipeline.Pipeline{&edited})

			fake.Advance(time.Hour)
			report, err := sched.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Runs).To(BeEmpty())
			Expect(sched.Pipelines()).To(HaveLen(1))
		})
	})

	Describe("Trigger", func() {
		It("runs a trigger-only pipeline on demand", func() {
			run, err := sched.Trigger(ctx, "deep_dive")
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Pipeline).To(Equal("deep_dive"))

			By("falling back to every selected target when no group names it")
			Expect(executor.calls[0].targets).To(HaveLen(2))
		})

		It("rejects unknown pipelines", func() {
			_, err := sched.Trigger(ctx, "nope")
			Expect(err).To(MatchError(scheduler.ErrUnknownPipeline))
		})

		It("rejects a pipeline that is already running", func() {
			executor.block = make(chan struct{})
			executor.started = make(chan struct{}, 1)

			first := make(chan error, 1)
			go func() {
				_, err := sched.Trigger(ctx, "deep_dive")
				first <- err
			}()
			Eventually(executor.started).Should(Receive())

			_, err := sched.Trigger(ctx, "deep_dive")
			Expect(err).To(MatchError(scheduler.ErrAlreadyRunning))

			close(executor.block)
			Eventually(first).Should(Receive(BeNil()))
		})
	})

	Describe("Start", func() {
		It("resumes schedules from history and stops with ctx", func() {
			store := inmemory.NewDriver()
			completed := t0.Add(-time.Hour)
			Expect(store.CreateRun(ctx, &pipeline.RunRecord{
				ID:        "earlier",
				Pipeline:  "social_digest",
				StartedAt: t0.Add(-2 * time.Hour),
				Status:    pipeline.StatusRunning,
			})).To(Succeed())
			_, err := store.FinishRun(ctx, &pipeline.RunRecord{
				ID:          "earlier",
				Pipeline:    "social_digest",
				StartedAt:   t0.Add(-2 * time.Hour),
				CompletedAt: &completed,
				Status:      pipeline.StatusSuccess,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.CreateRun(ctx, &pipeline.RunRecord{
				ID:        "live",
				Pipeline:  "deep_dive",
				StartedAt: t0,
				Status:    pipeline.StatusRunning,
			})).To(Succeed())

			ticks := make(chan scheduler.TickReport, 8)
			s, err := scheduler.New(scheduler.Config{
				Selector:  selector,
				Executor:  executor,
				Runs:      store,
				Pipelines: []*pipeline.Pipeline{social},
				Tick:      10 * time.Millisecond,
				OnTick: func(r scheduler.TickReport) {
					select {
					case ticks <- r:
					default:
					}
				},
				Clock: fake,
			})
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- s.Start(runCtx) }()

			Eventually(ticks).Should(Receive())
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			live, err := store.GetRun(ctx, "live")
			Expect(err).NotTo(HaveOccurred())
			Expect(live.Status).To(Equal(pipeline.StatusRunning))
			Expect(executor.pipelines()).To(BeEmpty())
			Expect(s.LastRun("social_digest")).To(Equal(t0.Add(-2 * time.Hour)))
		})
	})
})

var _ = Describe("TargetsFor", func() {
	It("returns nothing when the naming group selected nothing", func() {
		p := &pipeline.Pipeline{Name: "social_digest"}
		selections := []budget.Selection{
			{Pipeline: "social_digest"},
			{Pipeline: "theme_digest", Targets: []budget.Target{target(entity.CategoryTheme, "go")}},
		}
		Expect(scheduler.TargetsFor(p, selections)).To(BeEmpty())
	})
})
