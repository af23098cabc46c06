package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaModel is used when the provider config names no model.
const DefaultOllamaModel = "qwen2.5:7b"

// OllamaProvider talks to Ollama's native /api/generate endpoint.
type OllamaProvider struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(name, baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	// Accept the OpenAI-compatible form of the URL as well.
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	return &OllamaProvider{name: name, baseURL: baseURL, model: model, client: &http.Client{}}
}

func (o *OllamaProvider) Name() string { return o.name }

func (o *OllamaProvider) Kind() Kind { return KindOllama }

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (o *OllamaProvider) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = o.model
	}

	payload, err := json.Marshal(ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			// Ollama defaults to a 2048 window, too small for composed prompts.
			NumCtx: 32768,
		},
	})
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, friendlyProviderError(o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, newStatusError(o.name, resp.StatusCode, resp.Body)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("provider %s: decode response: %w", o.name, err)
	}

	return Response{
		Text:     stripThinking(out.Response),
		Model:    model,
		Provider: o.name,
		Duration: time.Since(start),
		Usage: Usage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// stripThinking removes <think>...</think> blocks emitted by reasoning
// models (DeepSeek-R1, QwQ) so they never reach the learner.
func stripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			return strings.TrimSpace(s[:start])
		}
		s = s[:start] + strings.TrimLeft(s[start+end+len("</think>"):], "\n")
	}
}
