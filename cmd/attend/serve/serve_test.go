package servecmder

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

var _ = Describe("NewServeCmd", func() {
	It("registers the serve flags", func() {
		cmd := NewServeCmd()
		for _, key := range serveFlags {
			Expect(cmd.Flags().Lookup(config.Flags[key].Name)).NotTo(BeNil(), key)
		}
	})

	It("rejects arguments", func() {
		cmd := NewServeCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})
})

var _ = Describe("listenURL", func() {
	It("points a bare port at localhost", func() {
		Expect(listenURL(":8081")).To(Equal("http://localhost:8081"))
	})

	It("keeps an explicit host", func() {
		Expect(listenURL("0.0.0.0:9090")).To(Equal("http://0.0.0.0:9090"))
	})
})

var _ = Describe("names", func() {
	It("lists pipeline names in order", func() {
		ps := []*pipeline.Pipeline{{Name: "b"}, {Name: "a"}}
		Expect(names(ps)).To(Equal([]string{"b", "a"}))
	})

	It("returns an empty list for no pipelines", func() {
		Expect(names(nil)).To(BeEmpty())
	})
})
