package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/papercomputeco/attend/pkg/pipeline"
)

const defaultFetchLimit = 50

type ledgerFetch struct {
	ledger History
	limit  int
}

func newLedgerFetch(l History, params map[string]any) (pipeline.Node, error) {
	limit, err := paramInt(params, "limit", defaultFetchLimit)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errors.New("param limit: must not be negative")
	}
	return &ledgerFetch{ledger: l, limit: limit}, nil
}

// Execute loads the target's balance and recent entries into the state.
func (n *ledgerFetch) Execute(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	key := state.Target.Key

	balance, err := n.ledger.Balance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	entries, err := n.ledger.History(ctx, key, n.limit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	state.Values[KeyBalance] = balance
	state.Values[KeyEntries] = entries
	return state, nil
}
