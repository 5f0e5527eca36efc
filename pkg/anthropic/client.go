// Package anthropic wraps the Anthropic Messages API behind a single-turn
// completion client.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client completes single-turn prompts.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Prompt is a system prompt plus one user turn.
type Prompt struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem marks the system prompt for 5-minute prompt caching.
	CacheSystem bool
	User        string
	// Prefill starts the assistant turn. The completion text includes it.
	Prefill       string
	StopSequences []string
	Temperature   *float64
}

// Completion is the model's reply to a Prompt.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage reports token consumption, including prompt cache traffic.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a client backed by the official SDK. Extra options are
// passed through (base URL, retries, HTTP client).
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(all...)}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	msg, err := c.client.Messages.New(ctx, toParams(p))
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromMessage(msg, p.Prefill), nil
}

func toParams(p Prompt) sdk.MessageNewParams {
	msgs := []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))}
	if p.Prefill != "" {
		msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(p.Prefill)))
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  msgs,
	}
	if p.System != "" {
		block := sdk.TextBlockParam{Text: p.System}
		if p.CacheSystem {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if len(p.StopSequences) > 0 {
		params.StopSequences = p.StopSequences
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}
	return params
}

func fromMessage(msg *sdk.Message, prefill string) *Completion {
	var b strings.Builder
	b.WriteString(prefill)
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       b.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}
}
