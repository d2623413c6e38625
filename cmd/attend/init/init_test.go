package initcmder

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/pipeline/nodes"
)

var _ = Describe("runInit", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), dirName)
		out = &bytes.Buffer{}
	})

	It("writes a default config that parses back", func() {
		Expect(runInit(out, dir)).To(Succeed())

		data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		cfg, err := config.ParseConfigTOML(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Validate()).To(Succeed())
		Expect(out.String()).To(ContainSubstring(dir))
	})

	It("writes a sample pipeline the built-in nodes can load", func() {
		Expect(runInit(out, dir)).To(Succeed())

		reg := pipeline.NewRegistry()
		nodes.Register(reg, nodes.Deps{})
		ps, err := pipeline.LoadDir(filepath.Join(dir, pipelinesDir), reg)
		Expect(err).NotTo(HaveOccurred())
		Expect(ps).To(HaveLen(1))
		Expect(ps[0].Name).To(Equal("person_digest"))
	})

	It("leaves existing files untouched", func() {
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		configPath := filepath.Join(dir, "config.toml")
		Expect(os.WriteFile(configPath, []byte("[api]\nlisten = \":9999\"\n"), 0o600)).To(Succeed())

		Expect(runInit(out, dir)).To(Succeed())

		data, err := os.ReadFile(configPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(":9999"))
	})
})
