// Package storagetest holds the behaviour every storage.Driver must share.
// Driver packages call DescribeDriver from their own test suites.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/registry"
	"github.com/papercomputeco/attend/pkg/storage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id, key string, typ ledger.EntryType, amount float64, at time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:        id,
		EntityKey: entity.MustParse(key),
		Type:      typ,
		Amount:    amount,
		Reason:    "test",
		CreatedAt: at,
	}
}

// DescribeDriver registers the shared driver specs. newDriver is called
// before each spec and must return an empty store.
func DescribeDriver(name string, newDriver func() storage.Driver) bool {
	return Describe(name+" conformance", func() {
		var (
			driver storage.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = newDriver()
		})

		AfterEach(func() {
			if driver != nil {
				driver.Close()
			}
		})

		Describe("ledger entries", func() {
			It("derives the balance from the entries", func() {
				_, err := driver.Append(ctx, entry("e1", "global:person:alice", ledger.TypeEarn, 10, epoch))
				Expect(err).NotTo(HaveOccurred())
				_, err = driver.Append(ctx, entry("e2", "global:person:alice", ledger.TypeSpend, -4, epoch.Add(time.Minute)))
				Expect(err).NotTo(HaveOccurred())

				balance, err := driver.Balance(ctx, entity.MustParse("global:person:alice"))
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(BeNumerically("~", 6, 1e-9))
			})

			It("returns zero for an entity with no entries", func() {
				balance, err := driver.Balance(ctx, entity.MustParse("global:person:nobody"))
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(BeZero())
			})

			It("rejects a duplicate token without writing", func() {
				first := entry("e1", "global:person:alice", ledger.TypeEarn, 10, epoch)
				first.Token = "msg-1"
				inserted, err := driver.Append(ctx, first)
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeTrue())

				dup := entry("e2", "global:person:alice", ledger.TypeEarn, 10, epoch)
				dup.Token = "msg-1"
				inserted, err = driver.Append(ctx, dup)
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeFalse())

				seen, err := driver.HasToken(ctx, "msg-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(seen).To(BeTrue())

				balance, err := driver.Balance(ctx, entity.MustParse("global:person:alice"))
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(BeNumerically("~", 10, 1e-9))
			})

			It("returns entries newest first with provenance", func() {
				source := entity.MustParse("global:person:bob")
				e := entry("e1", "global:person:alice", ledger.TypePropagate, 3, epoch)
				e.Source = &source
				_, err := driver.Append(ctx, e)
				Expect(err).NotTo(HaveOccurred())

				spend := entry("e2", "global:person:alice", ledger.TypeSpend, -1, epoch.Add(time.Hour))
				spend.RunID = "run-1"
				_, err = driver.Append(ctx, spend)
				Expect(err).NotTo(HaveOccurred())

				entries, err := driver.Entries(ctx, entity.MustParse("global:person:alice"), 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(2))
				Expect(entries[0].ID).To(Equal("e2"))
				Expect(entries[0].RunID).To(Equal("run-1"))
				Expect(entries[1].Source).NotTo(BeNil())
				Expect(*entries[1].Source).To(Equal(source))
				Expect(entries[1].CreatedAt).To(BeTemporally("==", epoch))

				limited, err := driver.Entries(ctx, entity.MustParse("global:person:alice"), 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(limited).To(HaveLen(1))
				Expect(limited[0].ID).To(Equal("e2"))
			})

			It("snapshots accounts with the last direct activity", func() {
				_, err := driver.Append(ctx, entry("e1", "global:theme:rust", ledger.TypeEarn, 5, epoch))
				Expect(err).NotTo(HaveOccurred())
				_, err = driver.Append(ctx, entry("e2", "global:theme:rust", ledger.TypePropagate, 2, epoch.Add(time.Hour)))
				Expect(err).NotTo(HaveOccurred())
				_, err = driver.Append(ctx, entry("e3", "global:person:alice", ledger.TypeWarm, 1, epoch.Add(2*time.Hour)))
				Expect(err).NotTo(HaveOccurred())

				accounts, err := driver.Accounts(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(accounts).To(HaveLen(2))

				Expect(accounts[0].Key.String()).To(Equal("global:person:alice"))
				Expect(accounts[0].LastActivity).To(BeTemporally("==", epoch.Add(2*time.Hour)))

				Expect(accounts[1].Key.String()).To(Equal("global:theme:rust"))
				Expect(accounts[1].Balance).To(BeNumerically("~", 7, 1e-9))
				Expect(accounts[1].Entries).To(Equal(2))
				Expect(accounts[1].LastActivity).To(BeTemporally("==", epoch))
			})
		})

		Describe("concurrent ledger writes", func() {
			It("never overdraws and keeps the balance equal to the entry sum", func() {
				reg, err := registry.New(ctx, registry.Config{
					Store:  driver,
					Caps:   map[entity.Category]float64{entity.CategoryPerson: 1000},
					Groups: map[entity.Category]string{entity.CategoryPerson: "social"},
				})
				Expect(err).NotTo(HaveOccurred())
				led, err := ledger.New(ledger.Config{Store: driver, Entities: reg, RetentionRate: 0.1})
				Expect(err).NotTo(HaveOccurred())

				key := entity.MustParse("global:person:alice")
				Expect(led.Earn(ctx, key, 20, "seed", "")).To(Succeed())

				var wg sync.WaitGroup
				for i := range 12 {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						for range 8 {
							if i%2 == 0 {
								Expect(led.Earn(ctx, key, 1, "message", "")).To(Succeed())
							}
							spent, err := led.Spend(ctx, key, 3, "burst", fmt.Sprintf("run-%d", i))
							Expect(err).NotTo(HaveOccurred())
							_, err = led.Retain(ctx, key, spent, fmt.Sprintf("run-%d", i))
							Expect(err).NotTo(HaveOccurred())
						}
					}()
				}
				wg.Wait()

				balance, err := driver.Balance(ctx, key)
				Expect(err).NotTo(HaveOccurred())
				Expect(balance).To(BeNumerically(">=", 0))

				entries, err := driver.Entries(ctx, key, 0)
				Expect(err).NotTo(HaveOccurred())

				sum := 0.0
				counts := map[ledger.EntryType]int{}
				for _, e := range entries {
					sum += e.Amount
					counts[e.Type]++
				}
				Expect(counts[ledger.TypeEarn]).To(Equal(1 + 6*8))
				Expect(counts[ledger.TypeSpend]).To(Equal(12 * 8))
				Expect(balance).To(BeNumerically("~", sum, 1e-6))
			})
		})

		Describe("entities", func() {
			newEntity := func(raw string) *entity.Entity {
				k := entity.MustParse(raw)
				return &entity.Entity{
					Key:       k,
					Category:  k.Category(),
					Group:     "social",
					Cap:       100,
					CreatedAt: epoch,
				}
			}

			It("inserts once and reports duplicates", func() {
				inserted, err := driver.PutEntity(ctx, newEntity("space=42:person:alice"))
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeTrue())

				inserted, err = driver.PutEntity(ctx, newEntity("space=42:person:alice"))
				Expect(err).NotTo(HaveOccurred())
				Expect(inserted).To(BeFalse())
			})

			It("round-trips an entity", func() {
				e := newEntity("global:pair:alice+bob")
				e.Provisional = true
				_, err := driver.PutEntity(ctx, e)
				Expect(err).NotTo(HaveOccurred())

				got, err := driver.GetEntity(ctx, e.Key)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Key).To(Equal(e.Key))
				Expect(got.Category).To(Equal(entity.CategoryPair))
				Expect(got.Group).To(Equal("social"))
				Expect(got.Cap).To(Equal(100.0))
				Expect(got.Provisional).To(BeTrue())
				Expect(got.CreatedAt).To(BeTemporally("==", epoch))
			})

			It("updates the provisional flag", func() {
				e := newEntity("global:person:carol")
				e.Provisional = true
				_, err := driver.PutEntity(ctx, e)
				Expect(err).NotTo(HaveOccurred())

				Expect(driver.SetProvisional(ctx, e.Key, false)).To(Succeed())
				got, err := driver.GetEntity(ctx, e.Key)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Provisional).To(BeFalse())
			})

			It("returns NotFoundError for unknown entities", func() {
				_, err := driver.GetEntity(ctx, entity.MustParse("global:person:ghost"))
				Expect(err).To(BeAssignableToTypeOf(storage.NotFoundError{}))

				err = driver.SetProvisional(ctx, entity.MustParse("global:person:ghost"), false)
				Expect(err).To(BeAssignableToTypeOf(storage.NotFoundError{}))
			})

			It("lists entities ordered by key", func() {
				for _, raw := range []string{"global:theme:zig", "global:person:alice", "global:space:42"} {
					_, err := driver.PutEntity(ctx, newEntity(raw))
					Expect(err).NotTo(HaveOccurred())
				}

				list, err := driver.ListEntities(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(3))
				Expect(list[0].Key.String()).To(Equal("global:person:alice"))
				Expect(list[2].Key.String()).To(Equal("global:theme:zig"))
			})
		})

		Describe("runs", func() {
			newRun := func(id, name string, started time.Time) *pipeline.RunRecord {
				return &pipeline.RunRecord{
					ID:          id,
					Pipeline:    name,
					ContentHash: "hash-" + name,
					StartedAt:   started,
					Status:      pipeline.StatusRunning,
				}
			}

			It("finishes a running record exactly once", func() {
				run := newRun("r1", "social-reflect", epoch)
				Expect(driver.CreateRun(ctx, run)).To(Succeed())

				done := epoch.Add(time.Minute)
				run.Status = pipeline.StatusPartial
				run.CompletedAt = &done
				run.Processed = 4
				run.Skipped = 1
				run.Errors = []pipeline.RunError{{Target: "global:person:c", Node: "http_model", Message: "boom"}}
				run.Usage = pipeline.Usage{Tokens: 400, Spent: 4, Retained: 0.4, DurationMs: 60000}

				ok, err := driver.FinishRun(ctx, run)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				run.Status = pipeline.StatusSuccess
				ok, err = driver.FinishRun(ctx, run)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())

				got, err := driver.GetRun(ctx, "r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(pipeline.StatusPartial))
				Expect(got.CompletedAt).NotTo(BeNil())
				Expect(*got.CompletedAt).To(BeTemporally("==", done))
				Expect(got.Errors).To(HaveLen(1))
				Expect(got.Errors[0].Node).To(Equal("http_model"))
				Expect(got.Usage.Tokens).To(Equal(int64(400)))
				Expect(got.Usage.Retained).To(BeNumerically("~", 0.4, 1e-9))
			})

			It("returns NotFoundError for unknown runs", func() {
				_, err := driver.GetRun(ctx, "missing")
				Expect(err).To(BeAssignableToTypeOf(storage.NotFoundError{}))

				_, err = driver.FinishRun(ctx, newRun("missing", "x", epoch))
				Expect(err).To(BeAssignableToTypeOf(storage.NotFoundError{}))
			})

			It("lists runs newest first with filters", func() {
				Expect(driver.CreateRun(ctx, newRun("r1", "a", epoch))).To(Succeed())
				Expect(driver.CreateRun(ctx, newRun("r2", "b", epoch.Add(time.Hour)))).To(Succeed())
				Expect(driver.CreateRun(ctx, newRun("r3", "a", epoch.Add(2*time.Hour)))).To(Succeed())

				done := epoch.Add(3 * time.Hour)
				finished := newRun("r3", "a", epoch.Add(2*time.Hour))
				finished.Status = pipeline.StatusDry
				finished.CompletedAt = &done
				_, err := driver.FinishRun(ctx, finished)
				Expect(err).NotTo(HaveOccurred())

				all, err := driver.ListRuns(ctx, pipeline.RunFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(3))
				Expect(all[0].ID).To(Equal("r3"))
				Expect(all[2].ID).To(Equal("r1"))

				byName, err := driver.ListRuns(ctx, pipeline.RunFilter{Pipeline: "a"})
				Expect(err).NotTo(HaveOccurred())
				Expect(byName).To(HaveLen(2))

				running, err := driver.ListRuns(ctx, pipeline.RunFilter{Status: pipeline.StatusRunning})
				Expect(err).NotTo(HaveOccurred())
				Expect(running).To(HaveLen(2))

				limited, err := driver.ListRuns(ctx, pipeline.RunFilter{Limit: 1})
				Expect(err).NotTo(HaveOccurred())
				Expect(limited).To(HaveLen(1))
			})
		})
	})
}
