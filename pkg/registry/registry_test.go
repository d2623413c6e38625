package registry_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/registry"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
)

func groups() map[entity.Category]string {
	return map[entity.Category]string{
		entity.CategoryPerson: "social",
		entity.CategoryPair:   "social",
		entity.CategorySpace:  "spaces",
		entity.CategoryTheme:  "themes",
		entity.CategorySelf:   "self",
	}
}

func keysOf(rels []entity.Relation) []string {
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.Key.String())
	}
	return out
}

var _ = Describe("Registry", func() {
	var (
		ctx   context.Context
		store *inmemory.Driver
		reg   *registry.Registry
		fake  *clock.Fake
	)

	newRegistry := func() *registry.Registry {
		r, err := registry.New(ctx, registry.Config{
			Store:  store,
			Caps:   map[entity.Category]float64{entity.CategoryPerson: 100, entity.CategoryPair: 150},
			Groups: groups(),
			Clock:  fake,
		})
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	ensure := func(raw string) *entity.Entity {
		e, err := reg.Ensure(ctx, entity.MustParse(raw), false)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		fake = clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		reg = newRegistry()
	})

	It("requires a group for every category", func() {
		g := groups()
		delete(g, entity.CategoryTheme)
		_, err := registry.New(ctx, registry.Config{Store: store, Groups: g})
		Expect(err).To(HaveOccurred())
	})

	Describe("Ensure", func() {
		It("creates an entity with its group and cap", func() {
			e := ensure("global:pair:alice+bob")
			Expect(e.Group).To(Equal("social"))
			Expect(e.Cap).To(Equal(150.0))
			Expect(e.CreatedAt).To(Equal(fake.Now()))

			stored, err := store.GetEntity(ctx, e.Key)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Key).To(Equal(e.Key))
		})

		It("returns the existing entity on later references", func() {
			first := ensure("global:person:alice")
			fake.Advance(time.Hour)
			second := ensure("global:person:alice")
			Expect(second.CreatedAt).To(Equal(first.CreatedAt))
		})

		It("kindles a provisional entity on a direct reference", func() {
			key := entity.MustParse("global:theme:rust")
			e, err := reg.EnsureProvisional(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Provisional).To(BeTrue())

			e = ensure("global:theme:rust")
			Expect(e.Provisional).To(BeFalse())

			stored, err := store.GetEntity(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Provisional).To(BeFalse())
		})

		It("does not make a known entity provisional again", func() {
			ensure("global:theme:rust")
			e, err := reg.EnsureProvisional(ctx, entity.MustParse("global:theme:rust"))
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Provisional).To(BeFalse())
		})

		It("reloads persisted entities into a new registry", func() {
			ensure("space=1:person:alice")
			ensure("space=1:pair:alice+bob")

			reloaded := newRegistry()
			Expect(reloaded.List()).To(HaveLen(2))
			Expect(keysOf(reloaded.Related(entity.MustParse("space=1:person:alice")))).
				To(Equal([]string{"space=1:pair:alice+bob"}))
		})
	})

	Describe("Related", func() {
		BeforeEach(func() {
			for _, raw := range []string{
				"global:person:alice",
				"global:person:bob",
				"global:pair:alice+bob",
				"global:pair:alice+carol",
				"space=42:person:alice",
				"space=42:person:dave",
				"space=42:pair:alice+dave",
				"space=7:person:alice",
				"global:space:42",
				"global:theme:rust",
				"space=42:theme:rust",
				"global:self:agent",
			} {
				ensure(raw)
			}
		})

		It("links a global person to their pairs and scoped forms", func() {
			rels := reg.Related(entity.MustParse("global:person:alice"))
			Expect(keysOf(rels)).To(Equal([]string{
				"global:pair:alice+bob",
				"global:pair:alice+carol",
				"space=42:person:alice",
				"space=7:person:alice",
			}))
			Expect(rels[0].Kind).To(Equal(entity.RelationMember))
			Expect(rels[0].CrossScope).To(BeFalse())
			Expect(rels[2].Kind).To(Equal(entity.RelationCounterpart))
			Expect(rels[2].CrossScope).To(BeTrue())
		})

		It("links a scoped person to pairs in the same scope only", func() {
			rels := reg.Related(entity.MustParse("space=42:person:alice"))
			Expect(keysOf(rels)).To(Equal([]string{
				"global:person:alice",
				"space=42:pair:alice+dave",
			}))
		})

		It("links a pair to its existing members", func() {
			rels := reg.Related(entity.MustParse("global:pair:alice+carol"))
			Expect(keysOf(rels)).To(Equal([]string{"global:person:alice"}))
		})

		It("links a space to the people scoped to it", func() {
			rels := reg.Related(entity.MustParse("global:space:42"))
			Expect(keysOf(rels)).To(Equal([]string{
				"space=42:person:alice",
				"space=42:person:dave",
			}))
			Expect(rels[0].Kind).To(Equal(entity.RelationContainer))
		})

		It("links themes across scopes", func() {
			Expect(keysOf(reg.Related(entity.MustParse("global:theme:rust")))).
				To(Equal([]string{"space=42:theme:rust"}))
			Expect(keysOf(reg.Related(entity.MustParse("space=42:theme:rust")))).
				To(Equal([]string{"global:theme:rust"}))
		})

		It("gives self no relations", func() {
			Expect(reg.Related(entity.MustParse("global:self:agent"))).To(BeEmpty())
		})
	})
})
