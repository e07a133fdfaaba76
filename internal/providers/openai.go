package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

// OpenAI generates text through the OpenAI chat completions API.
type OpenAI struct {
	client  *openai.Client
	model   string
	retries int
}

// NewOpenAI creates an OpenAI generator. COMMITGATE_OPENAI_BASE_URL points
// it at a compatible endpoint.
func NewOpenAI(opts Options) (*OpenAI, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}
	cfg := openai.DefaultConfig(key)
	if base := firstNonEmpty(opts.BaseURL, os.Getenv("COMMITGATE_OPENAI_BASE_URL")); base != "" {
		cfg.BaseURL = base
	}
	cfg.HTTPClient = opts.httpClient(defaultTimeout)
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		retries: opts.retries(),
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	creq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxCompletionTokens: maxTokensOr(req.MaxTokens),
	}
	if req.Temperature > 0 {
		creq.Temperature = float32(req.Temperature)
	}

	var resp Response
	err := retryWithBackoff(ctx, o.Name(), o.retries, func() error {
		out, err := o.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			return o.classify(ctx, err)
		}
		if len(out.Choices) == 0 {
			return responseError(o.Name(), "no choices in response")
		}
		if out.Choices[0].Message.Content == "" {
			return responseError(o.Name(), "empty text content in API response")
		}
		resp = Response{
			Content:    out.Choices[0].Message.Content,
			TokensUsed: out.Usage.TotalTokens,
			Model:      out.Model,
		}
		return nil
	})
	return resp, err
}

func (o *OpenAI) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(o.Name(), apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return statusError(o.Name(), reqErr.HTTPStatusCode, reqErr.Error())
	}
	return transportError(ctx, o.Name(), err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
