package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
)

// DecayReport summarizes one decay sweep.
type DecayReport struct {
	Tick    time.Time `json:"tick"`
	Scanned int       `json:"scanned"`
	Decayed int       `json:"decayed"`

	// Removed is the total (positive) credit removed by the sweep.
	Removed float64 `json:"removed"`
}

// DecayTick sweeps every funded entity and, for each one whose last
// direct activity precedes now - DecayThreshold, appends a single decay
// entry of -balance * DecayRate.
//
// Each decay entry carries a token derived from the entity and the tick
// (now truncated to DecayCadence), so repeated sweeps within one tick do
// not compound.
func (l *Ledger) DecayTick(ctx context.Context, now time.Time) (DecayReport, error) {
	tick := now.UTC().Truncate(l.config.DecayCadence)
	report := DecayReport{Tick: tick}

	accounts, err := l.config.Store.Accounts(ctx)
	if err != nil {
		return report, fmt.Errorf("snapshotting accounts: %w", err)
	}

	cutoff := now.Add(-l.config.DecayThreshold)

	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		if acct.Balance <= 0 {
			continue
		}

		last := acct.LastActivity
		if last.IsZero() {
			if e, ok := l.config.Entities.Get(acct.Key); ok {
				last = e.CreatedAt
			}
		}
		if !last.Before(cutoff) {
			continue
		}

		removed, err := l.decayOne(ctx, acct.Key, decayToken(acct.Key, tick))
		if err != nil {
			return report, err
		}
		if removed > 0 {
			report.Decayed++
			report.Removed += removed
		}
	}

	l.logger.Info("decay sweep complete",
		zap.Time("tick", tick),
		zap.Int("scanned", report.Scanned),
		zap.Int("decayed", report.Decayed),
		zap.Float64("removed", report.Removed),
	)
	return report, nil
}

func (l *Ledger) decayOne(ctx context.Context, key entity.Key, token string) (float64, error) {
	unlock := l.locks.Lock(key.String())
	defer unlock()

	seen, err := l.config.Store.HasToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("checking decay token: %w", err)
	}
	if seen {
		return 0, nil
	}

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", key, err)
	}
	if balance <= 0 {
		return 0, nil
	}

	amount := balance * l.config.DecayRate
	if amount <= 0 {
		return 0, nil
	}

	inserted, err := l.config.Store.Append(ctx, l.newEntry(key, TypeDecay, -amount, "inactive", token))
	if err != nil {
		return 0, fmt.Errorf("appending decay for %s: %w", key, err)
	}
	if !inserted {
		return 0, nil
	}
	return amount, nil
}

func decayToken(key entity.Key, tick time.Time) string {
	return "decay:" + key.String() + ":" + tick.Format(time.RFC3339)
}
