package inmemory_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/storage"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
	"github.com/papercomputeco/attend/pkg/storage/storagetest"
)

var _ = storagetest.DescribeDriver("inmemory.Driver", func() storage.Driver {
	return inmemory.NewDriver()
})

var _ = Describe("Driver", func() {
	It("keeps the running balance consistent under concurrent appends", func() {
		ctx := context.Background()
		driver := inmemory.NewDriver()
		key := entity.MustParse("global:person:alice")

		var wg sync.WaitGroup
		for i := range 100 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := driver.Append(ctx, &ledger.Entry{
					ID:        fmt.Sprintf("e%d", i),
					EntityKey: key,
					Type:      ledger.TypeEarn,
					Amount:    1,
					CreatedAt: time.Now(),
				})
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		balance, err := driver.Balance(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(balance).To(Equal(100.0))

		entries, err := driver.Entries(ctx, key, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(100))
	})

	It("returns copies that cannot mutate the store", func() {
		ctx := context.Background()
		driver := inmemory.NewDriver()
		key := entity.MustParse("global:theme:go")

		_, err := driver.Append(ctx, &ledger.Entry{ID: "e1", EntityKey: key, Type: ledger.TypeEarn, Amount: 5})
		Expect(err).NotTo(HaveOccurred())

		entries, err := driver.Entries(ctx, key, 0)
		Expect(err).NotTo(HaveOccurred())
		entries[0].Amount = 500

		again, err := driver.Entries(ctx, key, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(again[0].Amount).To(Equal(5.0))
	})
})
