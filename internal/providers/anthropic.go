package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic generates text through the Anthropic Messages API.
type Anthropic struct {
	api     anthropic.Client
	model   string
	retries int
}

// NewAnthropic creates an Anthropic generator. The SDK's own retries are
// disabled so that all providers share one retry policy.
func NewAnthropic(opts Options) (*Anthropic, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithHTTPClient(opts.httpClient(defaultTimeout)),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		api:     anthropic.NewClient(reqOpts...),
		model:   opts.Model,
		retries: opts.retries(),
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokensOr(req.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	var resp Response
	err := retryWithBackoff(ctx, a.Name(), a.retries, func() error {
		msg, err := a.api.Messages.New(ctx, params)
		if err != nil {
			return a.classify(ctx, err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return responseError(a.Name(), "no text content in API response")
		}
		resp = Response{
			Content:    sb.String(),
			TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			Model:      string(msg.Model),
		}
		return nil
	})
	return resp, err
}

func (a *Anthropic) classify(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(a.Name(), apiErr.StatusCode, apiErr.Error())
	}
	return transportError(ctx, a.Name(), err)
}
