package credentials_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/credentials"
)

var _ = Describe("Manager", func() {
	var (
		tmpDir string
		mgr    *credentials.Manager
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		mgr, err = credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("targets credentials.toml in the override directory", func() {
		Expect(mgr.GetTarget()).To(Equal(filepath.Join(tmpDir, "credentials.toml")))
	})

	It("loads empty credentials when no file exists", func() {
		creds, err := mgr.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.Providers).To(BeEmpty())
	})

	It("loads an existing file", func() {
		data := "version = 0\n\n[providers.openai]\napi_key = \"sk-test\"\n"
		Expect(os.WriteFile(mgr.GetTarget(), []byte(data), 0o600)).To(Succeed())

		key, err := mgr.GetKey("openai")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("sk-test"))
	})

	It("fails on malformed TOML", func() {
		Expect(os.WriteFile(mgr.GetTarget(), []byte("not valid [[["), 0o600)).To(Succeed())
		_, err := mgr.Load()
		Expect(err).To(HaveOccurred())
	})

	It("stores keys with restricted permissions", func() {
		Expect(mgr.SetKey("anthropic", "sk-ant")).To(Succeed())

		info, err := os.Stat(mgr.GetTarget())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

		providers, err := mgr.ListProviders()
		Expect(err).NotTo(HaveOccurred())
		Expect(providers).To(Equal([]string{"anthropic"}))
	})

	It("rejects providers that take no key", func() {
		Expect(mgr.SetKey("ollama", "x")).To(MatchError(credentials.ErrUnsupportedProvider))
	})

	It("removes keys", func() {
		Expect(mgr.SetKey("openai", "sk-1")).To(Succeed())
		Expect(mgr.RemoveKey("openai")).To(Succeed())

		key, err := mgr.GetKey("openai")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(BeEmpty())
	})

	Describe("Resolve", func() {
		It("prefers the stored key over the environment", func() {
			GinkgoT().Setenv("OPENAI_API_KEY", "from-env")
			Expect(mgr.SetKey("openai", "stored")).To(Succeed())

			key, err := mgr.Resolve("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("stored"))
		})

		It("falls back to the provider's environment variable", func() {
			GinkgoT().Setenv("ANTHROPIC_API_KEY", "from-env")

			key, err := mgr.Resolve("anthropic")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("from-env"))
		})

		It("needs no key for ollama", func() {
			key, err := mgr.Resolve("ollama")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())
		})
	})
})
