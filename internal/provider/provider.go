package provider

import (
	"context"
	"time"
)

// Kind is the closed set of backend variants a route can resolve to.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai" // OpenAI and any OpenAI-compatible endpoint (vLLM, LM Studio)
	KindGoogle    Kind = "google"
	KindOllama    Kind = "ollama"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAnthropic, KindOpenAI, KindGoogle, KindOllama:
		return true
	}
	return false
}

// Capabilities describe what a backend kind supports.
type Capabilities struct {
	SystemPrompt     bool `json:"system_prompt"`
	MaxContextTokens int  `json:"max_context_tokens"`
	Local            bool `json:"local"`
}

func CapabilitiesFor(k Kind) Capabilities {
	switch k {
	case KindAnthropic:
		return Capabilities{SystemPrompt: true, MaxContextTokens: 200000}
	case KindOpenAI:
		return Capabilities{SystemPrompt: true, MaxContextTokens: 128000}
	case KindGoogle:
		return Capabilities{SystemPrompt: true, MaxContextTokens: 1000000}
	case KindOllama:
		return Capabilities{SystemPrompt: true, MaxContextTokens: 32768, Local: true}
	}
	return Capabilities{}
}

type Request struct {
	Model       string  `json:"model,omitempty"` // empty uses the provider's configured model
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`

	// FallbackFrom names the provider that failed before this one answered.
	FallbackFrom string `json:"fallback_from,omitempty"`
}

// Provider is a hosted text-generation backend.
type Provider interface {
	Name() string
	Kind() Kind
	Complete(ctx context.Context, req Request) (Response, error)
}

const defaultMaxTokens = 4096
