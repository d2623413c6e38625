package artifacts_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/artifacts"
	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

var _ = Describe("FileSink", func() {
	var (
		ctx  context.Context
		dir  string
		sink *artifacts.FileSink
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		var err error
		sink, err = artifacts.NewFileSink(dir, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("writes under the artifacts directory", func() {
		Expect(sink.Dir()).To(Equal(filepath.Join(dir, "artifacts")))
		Expect(sink.Dir()).To(BeADirectory())
	})

	It("appends artifacts per pipeline and reads them back in order", func() {
		for _, id := range []string{"a1", "a2"} {
			Expect(sink.Accept(ctx, &pipeline.Artifact{
				ID:        id,
				RunID:     "run-1",
				Pipeline:  "social_digest",
				Target:    entity.MustParse("global:person:alice"),
				Kind:      "summary",
				Data:      map[string]any{"entries": 3.0},
				CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			})).To(Succeed())
		}
		Expect(sink.Accept(ctx, &pipeline.Artifact{ID: "b1", Pipeline: "theme_digest"})).To(Succeed())

		got, err := sink.Read("social_digest")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].ID).To(Equal("a1"))
		Expect(got[1].Target.String()).To(Equal("global:person:alice"))
		Expect(got[1].Data).To(HaveKeyWithValue("entries", 3.0))
	})

	It("returns nothing for a pipeline without artifacts", func() {
		got, err := sink.Read("unknown")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("accepts concurrently without interleaving lines", func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(sink.Accept(ctx, &pipeline.Artifact{ID: "x", Pipeline: "busy"})).To(Succeed())
			}()
		}
		wg.Wait()

		got, err := sink.Read("busy")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(20))
	})

	It("rejects nil artifacts", func() {
		Expect(sink.Accept(ctx, nil)).To(HaveOccurred())
	})
})
