// Package llm wraps the Anthropic API behind the minimal "send prompt, get
// text" contract the extraction pipeline consumes.
package llm

import (
	"context"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client sends one completion request and returns the raw response text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single text-completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
	Timeout     time.Duration
}

// TokenUsage tracks token consumption for cost logging.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LogCost logs token usage with structured fields.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("llm usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	model  string
}

// NewClient creates an Anthropic-backed client. An empty API key is allowed
// at construction; calls will fail with an auth error the pipeline swallows.
func NewClient(apiKey, model string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: model,
	}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "llm: create message")
	}

	usage := TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	usage.LogCost(c.model, "extraction")

	var text string
	for _, b := range msg.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text, nil
}
