package instance_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/instance"
)

var _ = Describe("Manager", func() {
	var (
		dir     string
		manager *instance.Manager
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		var err error
		manager, err = instance.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("state", func() {
		It("round-trips what serve reports", func() {
			started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			Expect(manager.SaveState(&instance.State{
				PID:       123,
				APIURL:    "http://localhost:8081",
				Storage:   "sqlite",
				Pipelines: []string{"social_digest"},
				StartedAt: started,
			})).To(Succeed())

			loaded, err := manager.LoadState()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).NotTo(BeNil())
			Expect(loaded.Version).To(Equal(1))
			Expect(loaded.PID).To(Equal(123))
			Expect(loaded.Pipelines).To(Equal([]string{"social_digest"}))
			Expect(loaded.StartedAt.Equal(started)).To(BeTrue())
			Expect(loaded.LogPath).To(Equal(filepath.Join(manager.Dir, "serve.log")))
			Expect(loaded.UpdatedAt).NotTo(BeZero())
		})

		It("is absent before serve writes it and after it is cleared", func() {
			loaded, err := manager.LoadState()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeNil())

			Expect(manager.SaveState(&instance.State{PID: 1})).To(Succeed())
			Expect(manager.ClearState()).To(Succeed())
			Expect(manager.ClearState()).To(Succeed())

			loaded, err = manager.LoadState()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeNil())
		})

		It("is owner-only and leaves no staging files behind", func() {
			Expect(manager.SaveState(&instance.State{PID: 1})).To(Succeed())
			Expect(manager.SaveState(&instance.State{PID: 2})).To(Succeed())

			info, err := os.Stat(filepath.Join(manager.Dir, "serve.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

			staged, err := filepath.Glob(filepath.Join(manager.Dir, ".serve-*.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(staged).To(BeEmpty())
		})

		It("rejects a nil state", func() {
			Expect(manager.SaveState(nil)).To(HaveOccurred())
		})
	})

	Describe("lock", func() {
		It("admits one holder at a time", func() {
			held, err := manager.TryLock()
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.TryLock()
			Expect(err).To(MatchError(instance.ErrLocked))

			Expect(held.Release()).To(Succeed())
			Expect(held.Release()).To(Succeed())

			next, err := manager.TryLock()
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Release()).To(Succeed())
		})
	})
})
