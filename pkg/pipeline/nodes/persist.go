package nodes

import (
	"context"

	"github.com/papercomputeco/attend/pkg/pipeline"
)

type persist struct {
	kind string
	keys []string
}

func newPersist(params map[string]any) (pipeline.Node, error) {
	kind, err := paramString(params, "kind", "summary")
	if err != nil {
		return nil, err
	}
	keys, err := paramStrings(params, "keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = []string{KeySummary, KeyOutput}
	}
	return &persist{kind: kind, keys: keys}, nil
}

// Execute emits one artifact built from the configured state keys. A
// target with none of the keys present emits nothing.
func (n *persist) Execute(_ context.Context, state *pipeline.State) (*pipeline.State, error) {
	data := make(map[string]any)
	for _, k := range n.keys {
		if v, ok := state.Values[k]; ok && v != nil {
			data[k] = v
		}
	}
	if len(data) == 0 {
		return state, nil
	}

	state.Emit(n.kind, data)
	return state, nil
}
