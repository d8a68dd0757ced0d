package classifier

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// anthropicProvider adapts the Anthropic Messages API. Its large context
// window makes it the batching-capable variant.
type anthropicProvider struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int64
}

func newAnthropicProvider(apiKey, model string) *anthropicProvider {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicProvider{
		client:    anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropicsdk.Model(model),
		maxTokens: 4096,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) SupportsBatch() bool { return true }

func (p *anthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    []anthropicsdk.TextBlockParam{{Text: system}},
		Messages: []anthropicsdk.MessageParam{{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(user)},
		}},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}
