// Package classifier wraps a remote, non-deterministic text-completion
// service behind a provider-selection strategy and offers skill extraction
// plus batched per-artifact impact analysis on top of it.
package classifier

import "context"

// Provider is one text-completion backend. The gateway picks exactly one
// configured provider at construction and binds its request/response
// adapter for the lifetime of the instance.
type Provider interface {
	Name() string
	// SupportsBatch reports whether the provider handles large-context
	// batched requests; without it the gateway falls back to one call per
	// artifact.
	SupportsBatch() bool
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config carries the credentials for every supported provider. Priority
// order is fixed: Anthropic first, then OpenAI.
type Config struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
}

// selectProvider picks the first provider with configured credentials, or
// nil when none is configured. A nil result is not an error here; absence
// of configuration is fatal at first use, not at construction.
func selectProvider(cfg Config) Provider {
	if cfg.AnthropicAPIKey != "" {
		return newAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	if cfg.OpenAIAPIKey != "" {
		return newOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	return nil
}
