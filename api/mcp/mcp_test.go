package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	attendlogger "github.com/papercomputeco/attend/pkg/logger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/registry"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx      context.Context
		store    *inmemory.Driver
		reg      *registry.Registry
		led      *ledger.Ledger
		selector *budget.Selector
		server   *Server
		t0       = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		fake := clock.NewFake(t0)
		groups := []budget.Group{
			{Name: "social", Fraction: 1, Categories: []entity.Category{entity.CategoryPerson, entity.CategoryPair, entity.CategorySpace, entity.CategoryTheme}, Pipeline: "social_digest", EstimatedCost: 10},
			{Name: "self", Categories: []entity.Category{entity.CategorySelf}, Pipeline: "self_reflection", EstimatedCost: 10},
		}

		var err error
		reg, err = registry.New(ctx, registry.Config{
			Store:  store,
			Caps:   map[entity.Category]float64{entity.CategoryPerson: 100},
			Groups: budget.CategoryGroups(groups),
			Clock:  fake,
		})
		Expect(err).NotTo(HaveOccurred())

		led, err = ledger.New(ledger.Config{Store: store, Entities: reg, Clock: fake})
		Expect(err).NotTo(HaveOccurred())

		selector, err = budget.NewSelector(budget.Config{Total: 100, SelfPool: 10, Groups: groups, Accounts: led, Entities: reg})
		Expect(err).NotTo(HaveOccurred())

		server, err = NewServer(Config{
			Ledger:   led,
			Entities: reg,
			Runs:     store,
			Selector: selector,
			Logger:   attendlogger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(led.Earn(ctx, entity.MustParse("global:person:alice"), 12, "message", "")).To(Succeed())
	})

	Describe("NewServer", func() {
		It("returns an error when ledger is nil", func() {
			_, err := NewServer(Config{Entities: reg, Runs: store, Logger: attendlogger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("ledger is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Ledger: led, Entities: reg, Runs: store})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("creates an empty server in noop mode", func() {
			noop, err := NewServer(Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(noop.Handler()).NotTo(BeNil())
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("balance tool", func() {
		It("reports the balance and mirrors it as text", func() {
			result, output, err := server.handleBalance(ctx, nil, KeyInput{Key: "global:person:alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Balance).To(Equal(12.0))
			Expect(output.Cap).To(Equal(100.0))
			Expect(output.Group).To(Equal("social"))

			text, ok := result.Content[0].(*mcp.TextContent)
			Expect(ok).To(BeTrue())
			var decoded BalanceOutput
			Expect(json.Unmarshal([]byte(text.Text), &decoded)).To(Succeed())
			Expect(decoded.Key).To(Equal("global:person:alice"))
		})

		It("returns a tool error for unknown entities", func() {
			result, _, err := server.handleBalance(ctx, nil, KeyInput{Key: "global:person:nobody"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})

	Describe("ledger tool", func() {
		It("lists entries newest first", func() {
			Expect(led.Earn(ctx, entity.MustParse("global:person:alice"), 1, "reply", "")).To(Succeed())

			result, output, err := server.handleLedger(ctx, nil, KeyInput{Key: "global:person:alice", Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Entries).To(HaveLen(1))
			Expect(output.Entries[0].Reason).To(Equal("reply"))
			Expect(output.Entries[0].Type).To(Equal("earn"))
			Expect(output.Balance).To(Equal(13.0))
		})
	})

	Describe("runs tool", func() {
		It("lists runs and rejects unknown statuses", func() {
			Expect(store.CreateRun(ctx, &pipeline.RunRecord{
				ID: "r1", Pipeline: "social_digest", StartedAt: t0, Status: pipeline.StatusSuccess,
			})).To(Succeed())

			_, output, err := server.handleRuns(ctx, nil, RunsInput{Pipeline: "social_digest"})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Count).To(Equal(1))
			Expect(output.Runs[0].Status).To(Equal("success"))

			result, _, err := server.handleRuns(ctx, nil, RunsInput{Status: "exploded"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})

	Describe("select tool", func() {
		It("reports the admitted targets per group", func() {
			_, output, err := server.handleSelect(ctx, nil, SelectInput{Group: "social"})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Groups).To(HaveLen(1))
			Expect(output.Groups[0].Targets).To(ConsistOf(TargetOutput{Key: "global:person:alice", Balance: 12}))
		})

		It("returns a tool error for unknown groups", func() {
			result, _, err := server.handleSelect(ctx, nil, SelectInput{Group: "nope"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})
})
