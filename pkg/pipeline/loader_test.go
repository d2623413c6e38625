package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const socialDef = `name = "social_digest"
category = "person"
schedule = "6h"
max_targets = 5
spend_per_token = 0.01

[filter]
min_balance = 2.0

[[nodes]]
type = "work"

[nodes.params]
tokens = 100

[[nodes]]
type = "emit"
`

var _ = Describe("Loader", func() {
	var (
		dir   string
		nodes *pipeline.Registry
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "pipelines-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		nodes = pipeline.NewRegistry()
		nodes.Register("work", nil)
		nodes.Register("emit", nil)
	})

	write := func(name, body string) {
		Expect(os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600)).To(Succeed())
	}

	It("decodes a definition", func() {
		write("social.toml", socialDef)

		ps, err := pipeline.LoadDir(dir, nodes)
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(HaveLen(1))

		p := ps[0]
		Expect(p.Name).To(Equal("social_digest"))
		Expect(p.Category).To(Equal(entity.CategoryPerson))
		Expect(p.MaxTargets).To(Equal(5))
		Expect(p.Filter.MinBalance).To(Equal(2.0))
		Expect(p.Nodes).To(HaveLen(2))
		Expect(p.Nodes[0].Params).To(HaveKeyWithValue("tokens", int64(100)))
	})

	It("hashes a loaded definition the same on every load", func() {
		write("social.toml", socialDef)

		first, err := pipeline.LoadDir(dir, nodes)
		Expect(err).NotTo(HaveOccurred())
		second, err := pipeline.LoadDir(dir, nodes)
		Expect(err).NotTo(HaveOccurred())

		a, err := first[0].ContentHash()
		Expect(err).NotTo(HaveOccurred())
		b, err := second[0].ContentHash()
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("ignores other files and orders by file name", func() {
		write("b.toml", socialDef)
		write("a.toml", `name = "theme_digest"
category = "theme"
trigger = "manual"

[[nodes]]
type = "emit"
`)
		write("README.md", "not a pipeline")

		ps, err := pipeline.LoadDir(dir, nodes)
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(HaveLen(2))
		Expect(ps[0].Name).To(Equal("theme_digest"))
		Expect(ps[1].Name).To(Equal("social_digest"))
	})

	It("returns nothing for a missing directory", func() {
		ps, err := pipeline.LoadDir(filepath.Join(dir, "missing"), nodes)
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(BeEmpty())
	})

	It("rejects duplicate names", func() {
		write("a.toml", socialDef)
		write("b.toml", socialDef)

		_, err := pipeline.LoadDir(dir, nodes)
		Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
		Expect(err.Error()).To(ContainSubstring("a.toml and b.toml"))
	})

	It("rejects unknown node types", func() {
		write("a.toml", `name = "x"
category = "person"
schedule = "1h"

[[nodes]]
type = "mystery"
`)
		_, err := pipeline.LoadDir(dir, nodes)
		Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})

	It("rejects malformed TOML", func() {
		write("a.toml", "name = ")
		_, err := pipeline.LoadDir(dir, nodes)
		Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})

	Describe("Watch", func() {
		It("applies valid reloads and skips invalid ones", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			applied := make(chan []*pipeline.Pipeline, 4)
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- pipeline.Watch(ctx, dir, nodes, nil, func(ps []*pipeline.Pipeline) {
					applied <- ps
				})
			}()

			// Give the watcher time to register the directory.
			time.Sleep(100 * time.Millisecond)

			write("social.toml", socialDef)
			var ps []*pipeline.Pipeline
			Eventually(applied, 5*time.Second).Should(Receive(&ps))
			Expect(ps).To(HaveLen(1))

			write("broken.toml", "name = ")
			Consistently(applied, 600*time.Millisecond).ShouldNot(Receive())

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		})
	})
})
