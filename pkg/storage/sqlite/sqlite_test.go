package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/storage"
	"github.com/papercomputeco/attend/pkg/storage/sqlite"
	"github.com/papercomputeco/attend/pkg/storage/storagetest"
)

var _ = storagetest.DescribeDriver("sqlite.Driver", func() storage.Driver {
	driver, err := sqlite.NewDriver(context.Background(), ":memory:")
	Expect(err).NotTo(HaveOccurred())
	return driver
})

var _ = Describe("NewDriver", func() {
	It("creates a driver with file database", func() {
		tmpDir := GinkgoT().TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		s, err := sqlite.NewDriver(context.Background(), dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		// Verify file was created
		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("persists the ledger across reopen", func() {
		ctx := context.Background()
		dbPath := filepath.Join(GinkgoT().TempDir(), "attend.db")
		key := entity.MustParse("space=7:person:alice")

		s, err := sqlite.NewDriver(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Append(ctx, &ledger.Entry{
			ID:        "e1",
			EntityKey: key,
			Type:      ledger.TypeEarn,
			Amount:    12.5,
			CreatedAt: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		reopened, err := sqlite.NewDriver(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		balance, err := reopened.Balance(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(balance).To(Equal(12.5))
	})
})
