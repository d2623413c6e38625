// Package inspect provides the read-side queries shared by the REST API
// and the MCP server: entity balances, ledger history and run records.
package inspect

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const (
	// DefaultHistoryLimit is used when a history query names no limit.
	DefaultHistoryLimit = 50

	// DefaultRunLimit is used when a run query names no limit.
	DefaultRunLimit = 20
)

// ErrInvalidStatus is returned for a run status filter that is not a
// known status.
var ErrInvalidStatus = errors.New("invalid run status")

// Ledger is the slice of the attention ledger the queries read.
type Ledger interface {
	Balance(ctx context.Context, key entity.Key) (float64, error)
	History(ctx context.Context, key entity.Key, limit int) ([]*ledger.Entry, error)
}

// Entities resolves registry records and their derived relations.
type Entities interface {
	Get(key entity.Key) (*entity.Entity, bool)
	Related(key entity.Key) []entity.Relation
}

// Runs reads pipeline run records.
type Runs interface {
	GetRun(ctx context.Context, id string) (*pipeline.RunRecord, error)
	ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.RunRecord, error)
}

// BalanceOutput is the current state of one entity.
type BalanceOutput struct {
	Key         entity.Key        `json:"key"`
	Category    entity.Category   `json:"category"`
	Group       string            `json:"group"`
	Balance     float64           `json:"balance"`
	Cap         float64           `json:"cap"`
	Provisional bool              `json:"provisional"`
	Related     []entity.Relation `json:"related"`
}

// HistoryOutput is a page of an entity's ledger, newest first.
type HistoryOutput struct {
	Key     entity.Key      `json:"key"`
	Balance float64         `json:"balance"`
	Entries []*ledger.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// RunsOutput is a filtered page of run records, newest first.
type RunsOutput struct {
	Runs  []*pipeline.RunRecord `json:"runs"`
	Count int                   `json:"count"`
}

// resolve parses raw and looks the entity up. Keys the registry has never
// seen yield a ledger.UnknownEntityError.
func resolve(entities Entities, raw string) (*entity.Entity, error) {
	key, err := entity.Parse(raw)
	if err != nil {
		return nil, err
	}
	e, ok := entities.Get(key)
	if !ok {
		return nil, ledger.UnknownEntityError{Key: key}
	}
	return e, nil
}

// Balance reports the balance, cap and relations of the entity named by
// raw.
func Balance(ctx context.Context, raw string, l Ledger, entities Entities, logger *zap.Logger) (*BalanceOutput, error) {
	e, err := resolve(entities, raw)
	if err != nil {
		return nil, err
	}

	balance, err := l.Balance(ctx, e.Key)
	if err != nil {
		logger.Error("failed to read balance", zap.String("key", raw), zap.Error(err))
		return nil, fmt.Errorf("reading balance of %s: %w", e.Key, err)
	}

	related := entities.Related(e.Key)
	if related == nil {
		related = []entity.Relation{}
	}

	return &BalanceOutput{
		Key:         e.Key,
		Category:    e.Category,
		Group:       e.Group,
		Balance:     balance,
		Cap:         e.Cap,
		Provisional: e.Provisional,
		Related:     related,
	}, nil
}

// History returns up to limit ledger entries of the entity named by raw.
func History(ctx context.Context, raw string, limit int, l Ledger, entities Entities, logger *zap.Logger) (*HistoryOutput, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	e, err := resolve(entities, raw)
	if err != nil {
		return nil, err
	}

	entries, err := l.History(ctx, e.Key, limit)
	if err != nil {
		logger.Error("failed to read history", zap.String("key", raw), zap.Error(err))
		return nil, fmt.Errorf("reading history of %s: %w", e.Key, err)
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	balance, err := l.Balance(ctx, e.Key)
	if err != nil {
		return nil, fmt.Errorf("reading balance of %s: %w", e.Key, err)
	}

	return &HistoryOutput{
		Key:     e.Key,
		Balance: balance,
		Entries: entries,
		Count:   len(entries),
	}, nil
}

// ListRuns returns run records matching the filter. An empty status
// matches every status.
func ListRuns(ctx context.Context, name, status string, limit int, runs Runs) (*RunsOutput, error) {
	filter := pipeline.RunFilter{
		Pipeline: name,
		Status:   pipeline.Status(status),
		Limit:    limit,
	}
	if status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultRunLimit
	}

	records, err := runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if records == nil {
		records = []*pipeline.RunRecord{}
	}
	return &RunsOutput{Runs: records, Count: len(records)}, nil
}

// GetRun returns one run record by id.
func GetRun(ctx context.Context, id string, runs Runs) (*pipeline.RunRecord, error) {
	return runs.GetRun(ctx, id)
}
