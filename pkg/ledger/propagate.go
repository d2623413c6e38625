package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
)

// hop is one frontier entity of a propagation walk and the credit it
// passes on.
type hop struct {
	key      entity.Key
	amount   float64
	overflow float64
}

// propagate issues the secondary credits of an earn on origin. Each warm
// related entity receives amount * factor as a propagate entry and, when
// the earn was capped, overflow * SpilloverFactor as a spillover entry.
//
// With the default MaxHops of 1 secondary credits never propagate
// further. A cold entity cannot be warmed by propagation alone since
// only warm neighbours receive credit.
func (l *Ledger) propagate(ctx context.Context, origin entity.Key, amount, overflow float64) {
	visited := map[entity.Key]bool{origin: true}
	frontier := []hop{{key: origin, amount: amount, overflow: overflow}}

	for depth := 1; depth <= l.config.MaxHops && len(frontier) > 0; depth++ {
		var next []hop

		for _, h := range frontier {
			for _, rel := range l.config.Entities.Related(h.key) {
				if visited[rel.Key] {
					continue
				}
				if ctx.Err() != nil {
					l.logger.Warn("propagation cancelled",
						zap.String("origin", origin.String()),
						zap.Error(ctx.Err()),
					)
					return
				}

				warm, err := l.isWarm(ctx, rel.Key)
				if err != nil {
					l.logger.Error("propagation balance read failed",
						zap.String("origin", origin.String()),
						zap.String("related", rel.Key.String()),
						zap.Error(err),
					)
					continue
				}
				if !warm {
					continue
				}
				visited[rel.Key] = true

				factor := l.config.PropagationFactor
				if rel.CrossScope {
					factor = l.config.GlobalPropagationFactor
				}

				share := h.amount * factor
				if err := l.credit(ctx, rel.Key, share, TypePropagate, h.key); err != nil {
					l.logger.Error("propagate credit failed",
						zap.String("source", h.key.String()),
						zap.String("related", rel.Key.String()),
						zap.Error(err),
					)
				}

				if h.overflow > 0 {
					spill := h.overflow * l.config.SpilloverFactor
					if err := l.credit(ctx, rel.Key, spill, TypeSpillover, h.key); err != nil {
						l.logger.Error("spillover credit failed",
							zap.String("source", h.key.String()),
							zap.String("related", rel.Key.String()),
							zap.Error(err),
						)
					}
				}

				next = append(next, hop{key: rel.Key, amount: share})
			}
		}

		frontier = next
	}
}

func (l *Ledger) isWarm(ctx context.Context, key entity.Key) (bool, error) {
	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return false, err
	}
	return balance > l.config.WarmThreshold, nil
}

// credit applies a secondary earn under the receiving entity's own lock.
// Secondary credit is bounded by the receiver's cap.
func (l *Ledger) credit(ctx context.Context, key entity.Key, amount float64, typ EntryType, source entity.Key) error {
	if amount <= 0 {
		return nil
	}
	e, ok := l.config.Entities.Get(key)
	if !ok {
		return UnknownEntityError{Key: key}
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	balance, err := l.config.Store.Balance(ctx, key)
	if err != nil {
		return fmt.Errorf("reading balance of %s: %w", key, err)
	}

	applied := headroom(balance, amount, e.Cap)
	if applied < amount {
		l.logger.Debug("secondary credit capped",
			zap.String("key", key.String()),
			zap.String("type", string(typ)),
			zap.Float64("requested", amount),
			zap.Float64("applied", applied),
		)
	}

	entry := l.newEntry(key, typ, applied, "from "+source.String(), "")
	entry.Source = &source

	if _, err := l.config.Store.Append(ctx, entry); err != nil {
		return fmt.Errorf("appending %s for %s: %w", typ, key, err)
	}
	return nil
}
