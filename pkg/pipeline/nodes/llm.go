package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/papercomputeco/attend/pkg/credentials"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const (
	defaultLLMMaxTokens = 1024
	anthropicVersion    = "2023-06-01"

	defaultLLMPrompt = "Write a short digest of the recent attention activity of this entity. " +
		"Name the entities that drove it and anything that changed."
)

// KeyResolver returns the API key of a model provider.
type KeyResolver interface {
	Resolve(provider string) (string, error)
}

// envKeys resolves keys from the provider environment variables only.
type envKeys struct{}

func (envKeys) Resolve(provider string) (string, error) {
	if env := credentials.EnvVarForProvider(provider); env != "" {
		return os.Getenv(env), nil
	}
	return "", nil
}

// llmCaller sends one prompt and returns the completion and the tokens it
// used.
type llmCaller func(ctx context.Context, apiKey, prompt string) (string, int64, error)

type llm struct {
	client   *http.Client
	keys     KeyResolver
	provider string
	prompt   string
	timeout  time.Duration
	call     llmCaller
}

func newLLM(client *http.Client, keys KeyResolver, params map[string]any) (pipeline.Node, error) {
	provider, err := paramString(params, "provider", credentials.ProviderOllama)
	if err != nil {
		return nil, err
	}
	provider = strings.ToLower(provider)
	model, err := paramString(params, "model", "")
	if err != nil {
		return nil, err
	}
	baseURL, err := paramString(params, "base_url", "")
	if err != nil {
		return nil, err
	}
	prompt, err := paramString(params, "prompt", defaultLLMPrompt)
	if err != nil {
		return nil, err
	}
	maxTokens, err := paramInt(params, "max_tokens", defaultLLMMaxTokens)
	if err != nil {
		return nil, err
	}
	timeout, err := paramDuration(params, "timeout", defaultModelTimeout)
	if err != nil {
		return nil, err
	}

	n := &llm{client: client, keys: keys, provider: provider, prompt: prompt, timeout: timeout}

	switch provider {
	case credentials.ProviderOpenAI:
		n.call = n.openAI(orDefault(model, "gpt-4o-mini"), orDefault(baseURL, "https://api.openai.com"))
	case credentials.ProviderAnthropic:
		n.call = n.anthropic(orDefault(model, "claude-haiku-4-5-20251001"), orDefault(baseURL, "https://api.anthropic.com"), maxTokens)
	case credentials.ProviderOllama:
		n.call = n.ollama(orDefault(model, "llama3.2"), orDefault(baseURL, "http://localhost:11434"))
	default:
		return nil, fmt.Errorf("param provider: unsupported provider %q", provider)
	}
	return n, nil
}

// Execute prompts the model with the target's summary and records the
// completion and token usage.
func (n *llm) Execute(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	apiKey, err := n.keys.Resolve(n.provider)
	if err != nil {
		return nil, fmt.Errorf("resolving %s key: %w", n.provider, err)
	}
	if apiKey == "" && n.provider != credentials.ProviderOllama {
		return nil, fmt.Errorf("no API key for %s; run attend auth %s or set %s",
			n.provider, n.provider, credentials.EnvVarForProvider(n.provider))
	}

	prompt, err := n.buildPrompt(state)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	text, tokens, err := n.call(ctx, apiKey, prompt)
	if err != nil {
		return nil, err
	}

	state.Values[KeyOutput] = text
	state.Tokens += tokens
	return state, nil
}

func (n *llm) buildPrompt(state *pipeline.State) (string, error) {
	var b strings.Builder
	b.WriteString(n.prompt)
	fmt.Fprintf(&b, "\n\nEntity: %s\n", state.Target.Key)
	fmt.Fprintf(&b, "Balance: %g\n", state.Target.Balance)

	if summary, ok := state.Values[KeySummary]; ok {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal summary: %w", err)
		}
		b.WriteString("Summary:\n")
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// post sends a JSON body and decodes a JSON response.
func (n *llm) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", n.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error (status %d): %s", n.provider, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiError struct {
	Message string `json:"message"`
}

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

func (n *llm) openAI(model, baseURL string) llmCaller {
	return func(ctx context.Context, apiKey, prompt string) (string, int64, error) {
		var out openAIResponse
		err := n.post(ctx, baseURL+"/v1/chat/completions",
			map[string]string{"Authorization": "Bearer " + apiKey},
			openAIRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}},
			&out,
		)
		if err != nil {
			return "", 0, err
		}
		if out.Error != nil {
			return "", 0, fmt.Errorf("openai error: %s", out.Error.Message)
		}
		if len(out.Choices) == 0 {
			return "", 0, errors.New("openai returned no choices")
		}
		return out.Choices[0].Message.Content, out.Usage.TotalTokens, nil
	}
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

func (n *llm) anthropic(model, baseURL string, maxTokens int) llmCaller {
	return func(ctx context.Context, apiKey, prompt string) (string, int64, error) {
		var out anthropicResponse
		err := n.post(ctx, baseURL+"/v1/messages",
			map[string]string{"x-api-key": apiKey, "anthropic-version": anthropicVersion},
			anthropicRequest{Model: model, MaxTokens: maxTokens, Messages: []chatMessage{{Role: "user", Content: prompt}}},
			&out,
		)
		if err != nil {
			return "", 0, err
		}
		if out.Error != nil {
			return "", 0, fmt.Errorf("anthropic error: %s", out.Error.Message)
		}

		var text strings.Builder
		for _, c := range out.Content {
			if c.Type == "text" {
				text.WriteString(c.Text)
			}
		}
		if text.Len() == 0 {
			return "", 0, errors.New("anthropic returned no content")
		}
		return text.String(), out.Usage.InputTokens + out.Usage.OutputTokens, nil
	}
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaResponse struct {
	Message         chatMessage `json:"message"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

func (n *llm) ollama(model, baseURL string) llmCaller {
	return func(ctx context.Context, _, prompt string) (string, int64, error) {
		var out ollamaResponse
		err := n.post(ctx, baseURL+"/api/chat", nil,
			ollamaRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}},
			&out,
		)
		if err != nil {
			return "", 0, err
		}
		if out.Error != "" {
			return "", 0, fmt.Errorf("ollama error: %s", out.Error)
		}
		return out.Message.Content, out.PromptEvalCount + out.EvalCount, nil
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
