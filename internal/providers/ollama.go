package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaTimeout = 300 * time.Second
)

// Ollama generates text through a local OpenAI-compatible server such as
// Ollama or LM Studio. It needs no API key by default.
type Ollama struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	retries int
}

// NewOllama creates a local generator. OLLAMA_HOST overrides the server
// address and COMMITGATE_OLLAMA_API_KEY sets a bearer token.
func NewOllama(opts Options) (*Ollama, error) {
	baseURL := firstNonEmpty(opts.BaseURL, os.Getenv("OLLAMA_HOST"), defaultOllamaURL)

	// Accept the bare host as well as /v1 or the full endpoint.
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1/chat/completions")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Ollama{
		apiKey:  firstNonEmpty(opts.APIKey, os.Getenv("COMMITGATE_OLLAMA_API_KEY")),
		model:   opts.Model,
		baseURL: baseURL + "/v1/chat/completions",
		client:  opts.httpClient(defaultOllamaTimeout),
		retries: opts.retries(),
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: maxTokensOr(req.MaxTokens),
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}
	header := http.Header{}
	if o.apiKey != "" {
		header.Set("Authorization", "Bearer "+o.apiKey)
	}

	var resp Response
	err = retryWithBackoff(ctx, o.Name(), o.retries, func() error {
		var result chatResponse
		if err := postJSON(ctx, o.client, o.Name(), o.baseURL, header, payload, &result); err != nil {
			return err
		}
		if len(result.Choices) == 0 {
			return responseError(o.Name(), "no choices in response")
		}
		if result.Choices[0].Message.Content == "" {
			return responseError(o.Name(), "empty text content in API response")
		}
		resp = Response{
			Content:    result.Choices[0].Message.Content,
			TokensUsed: result.Usage.TotalTokens,
			Model:      firstNonEmpty(result.Model, o.model),
		}
		return nil
	})
	return resp, err
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}
