package classifier

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiProvider adapts the OpenAI chat completions API. It does not get
// the batched path; impact analysis falls back to one call per artifact.
type openaiProvider struct {
	client openai.Client
	model  string
}

func newOpenAIProvider(apiKey, model string) *openaiProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openaiProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) SupportsBatch() bool { return false }

func (p *openaiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai: empty completion")
	}
	return completion.Choices[0].Message.Content, nil
}
