package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request is one generation call. Only sanitized text may be placed in
// System or Prompt.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the generated text.
type Response struct {
	Content    string
	TokensUsed int
	Model      string
}

// Generator is a text-generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

const (
	defaultMaxTokens  = 1024
	defaultMaxRetries = 3
	defaultTimeout    = 120 * time.Second
)

// Options configures a Generator. Zero values select defaults; API keys
// are read from the environment when APIKey is empty.
type Options struct {
	Model      string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

func (o Options) httpClient(fallback time.Duration) *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) retries() int {
	if o.MaxRetries < 0 {
		return 0
	}
	if o.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return o.MaxRetries
}

// New creates a generator by provider name.
func New(provider string, opts Options) (Generator, error) {
	switch provider {
	case "anthropic":
		return NewAnthropic(opts)
	case "openai":
		return NewOpenAI(opts)
	case "gemini", "google":
		return NewGemini(opts)
	case "ollama", "lmstudio":
		return NewOllama(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "openai":
		return "gpt-4o"
	case "gemini", "google":
		return "gemini-2.0-flash"
	case "ollama", "lmstudio":
		return "llama3.1"
	default:
		return ""
	}
}

func maxTokensOr(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
