package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/attend/cmd/attend/auth"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/credentials"
)

var _ = Describe("Auth command", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	newCmd := func(stdin string, args ...string) *cobra.Command {
		cmd := authcmder.NewAuthCmd()
		cmd.PersistentFlags().String(config.FlagConfigDir, tmpDir, "")
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd
	}

	storedKey := func(provider string) string {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		key, err := mgr.GetKey(provider)
		Expect(err).NotTo(HaveOccurred())
		return key
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("stores a key read from stdin", func() {
		Expect(newCmd("sk-ant-123\n", "anthropic").Execute()).To(Succeed())
		Expect(storedKey("anthropic")).To(Equal("sk-ant-123"))
	})

	It("rejects unsupported providers", func() {
		Expect(newCmd("x\n", "ollama").Execute()).To(MatchError(ContainSubstring("unsupported provider")))
	})

	It("rejects an empty key", func() {
		Expect(newCmd("   \n", "openai").Execute()).To(HaveOccurred())
	})

	It("requires a provider", func() {
		Expect(newCmd("").Execute()).To(MatchError(ContainSubstring("provider argument required")))
	})

	It("lists stored providers", func() {
		Expect(newCmd("sk-1\n", "openai").Execute()).To(Succeed())

		out.Reset()
		Expect(newCmd("", "--list").Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("openai"))
	})

	It("removes a stored key", func() {
		Expect(newCmd("sk-1\n", "openai").Execute()).To(Succeed())
		Expect(newCmd("", "--remove", "openai").Execute()).To(Succeed())
		Expect(storedKey("openai")).To(BeEmpty())
	})
})
