package entity_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/entity"
)

var _ = Describe("Key", func() {
	Describe("PairKey", func() {
		It("is independent of argument order", func() {
			ab, err := entity.PairKey(entity.Global(), "alice", "bob")
			Expect(err).NotTo(HaveOccurred())
			ba, err := entity.PairKey(entity.Global(), "bob", "alice")
			Expect(err).NotTo(HaveOccurred())

			Expect(ab).To(Equal(ba))
			Expect(ab.String()).To(Equal("global:pair:alice+bob"))
		})

		It("rejects a pair of someone with themselves", func() {
			_, err := entity.PairKey(entity.Global(), "alice", "alice")
			Expect(err).To(MatchError(entity.ErrInvalidKey))
		})

		It("exposes both members in the pair's scope", func() {
			pair, err := entity.PairKey(entity.InSpace("42"), "bob", "alice")
			Expect(err).NotTo(HaveOccurred())

			members := pair.Members()
			Expect(members).To(HaveLen(2))
			Expect(members[0].String()).To(Equal("space=42:person:alice"))
			Expect(members[1].String()).To(Equal("space=42:person:bob"))
			Expect(pair.Involves("bob")).To(BeTrue())
			Expect(pair.Involves("carol")).To(BeFalse())
		})
	})

	Describe("Parse", func() {
		DescribeTable("round-trips the string form",
			func(raw string) {
				k, err := entity.Parse(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(k.String()).To(Equal(raw))
			},
			Entry("global person", "global:person:alice"),
			Entry("scoped person", "space=42:person:alice"),
			Entry("scoped pair", "space=42:pair:alice+bob"),
			Entry("space", "global:space:42"),
			Entry("theme", "global:theme:rust"),
			Entry("self", "global:self:agent"),
		)

		It("canonicalizes unsorted pair ids", func() {
			k, err := entity.Parse("global:pair:bob+alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(k.String()).To(Equal("global:pair:alice+bob"))
		})

		DescribeTable("rejects malformed keys",
			func(raw string) {
				_, err := entity.Parse(raw)
				Expect(err).To(MatchError(entity.ErrInvalidKey))
			},
			Entry("too few components", "global:person"),
			Entry("unknown scope", "room=1:person:alice"),
			Entry("unknown category", "global:robot:r2"),
			Entry("empty id", "global:person:"),
			Entry("pair without separator", "global:pair:alice"),
			Entry("reserved character", "global:theme:a=b"),
		)
	})

	Describe("scope helpers", func() {
		It("derives the global counterpart of a scoped key", func() {
			scoped := entity.MustParse("space=7:person:alice")
			Expect(scoped.Global().String()).To(Equal("global:person:alice"))
			Expect(entity.CrossesScope(scoped, scoped.Global())).To(BeTrue())
		})

		It("scopes a global key into a container", func() {
			global := entity.MustParse("global:pair:alice+bob")
			Expect(global.Within("7").String()).To(Equal("space=7:pair:alice+bob"))
		})

		It("leaves a global key unchanged", func() {
			global := entity.MustParse("global:theme:go")
			Expect(global.Global()).To(Equal(global))
			Expect(entity.CrossesScope(global, global.Global())).To(BeFalse())
		})
	})

	Describe("JSON", func() {
		It("encodes keys as their string form", func() {
			k := entity.MustParse("space=1:person:alice")
			data, err := json.Marshal(map[string]any{"key": k})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`{"key":"space=1:person:alice"}`))

			var decoded struct {
				Key entity.Key `json:"key"`
			}
			Expect(json.Unmarshal(data, &decoded)).To(Succeed())
			Expect(decoded.Key).To(Equal(k))
		})
	})
})
