package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const defaultModelTimeout = 60 * time.Second

// modelRequest is the body POSTed to the external model endpoint.
type modelRequest struct {
	Model    string         `json:"model,omitempty"`
	Pipeline string         `json:"pipeline"`
	RunID    string         `json:"run_id"`
	Target   string         `json:"target"`
	Summary  map[string]any `json:"summary,omitempty"`
}

type modelResponse struct {
	Output     any      `json:"output"`
	References []string `json:"references,omitempty"`
	Usage      struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
	Error string `json:"error,omitempty"`
}

type httpModel struct {
	client  *http.Client
	logger  *zap.Logger
	url     string
	model   string
	timeout time.Duration
}

func newHTTPModel(client *http.Client, logger *zap.Logger, params map[string]any) (pipeline.Node, error) {
	url, err := paramString(params, "url", "")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("param url is required")
	}
	model, err := paramString(params, "model", "")
	if err != nil {
		return nil, err
	}
	timeout, err := paramDuration(params, "timeout", defaultModelTimeout)
	if err != nil {
		return nil, err
	}
	return &httpModel{client: client, logger: logger, url: url, model: model, timeout: timeout}, nil
}

// Execute sends the target summary to the model endpoint and records the
// output and token usage.
func (n *httpModel) Execute(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	request := modelRequest{
		Model:    n.model,
		Pipeline: state.Pipeline,
		RunID:    state.RunID,
		Target:   state.Target.Key.String(),
	}
	if summary, ok := state.Values[KeySummary].(map[string]any); ok {
		request.Summary = summary
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model status %d: %s", resp.StatusCode, string(body))
	}

	var response modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("model error: %s", response.Error)
	}

	for _, raw := range response.References {
		key, err := entity.Parse(raw)
		if err != nil {
			n.logger.Warn("ignoring malformed model reference",
				zap.String("reference", raw),
				zap.Error(err),
			)
			continue
		}
		state.Reference(key)
	}

	state.Values[KeyOutput] = response.Output
	state.Tokens += response.Usage.TotalTokens
	return state, nil
}
