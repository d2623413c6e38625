package nodes

import (
	"context"
	"errors"
	"slices"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const defaultTopSources = 3

type transform struct {
	top int
}

func newTransform(params map[string]any) (pipeline.Node, error) {
	top, err := paramInt(params, "top_sources", defaultTopSources)
	if err != nil {
		return nil, err
	}
	return &transform{top: top}, nil
}

// Execute summarizes fetched entries: totals per entry type and the
// entities that sent the most propagated credit. The top sources are
// recorded as references of the target's output.
func (n *transform) Execute(_ context.Context, state *pipeline.State) (*pipeline.State, error) {
	raw, ok := state.Values[KeyEntries]
	if !ok {
		return nil, errors.New("no entries in state; run ledger_fetch first")
	}
	entries, ok := raw.([]*ledger.Entry)
	if !ok {
		return nil, errors.New("entries in state have an unexpected type")
	}

	totals := make(map[string]float64)
	bySource := make(map[entity.Key]float64)
	for _, e := range entries {
		totals[string(e.Type)] += e.Amount
		if e.Source != nil {
			bySource[*e.Source] += e.Amount
		}
	}

	sources := make([]entity.Key, 0, len(bySource))
	for k := range bySource {
		sources = append(sources, k)
	}
	slices.SortFunc(sources, func(a, b entity.Key) int {
		switch {
		case bySource[a] > bySource[b]:
			return -1
		case bySource[a] < bySource[b]:
			return 1
		}
		return entity.Compare(a, b)
	})
	if len(sources) > n.top {
		sources = sources[:n.top]
	}

	top := make([]string, 0, len(sources))
	for _, k := range sources {
		top = append(top, k.String())
		state.Reference(k)
	}

	state.Values[KeySummary] = map[string]any{
		"target":      state.Target.Key.String(),
		"entries":     len(entries),
		"totals":      totals,
		"top_sources": top,
	}
	return state, nil
}
