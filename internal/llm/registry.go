package llm

import (
	"context"
	"fmt"

	"go-chat-hub/internal/config"

	"go.uber.org/zap"
)

// FromConfig registers the echo provider plus every vendor provider that
// has an API key configured. The configured default must be registered.
func FromConfig(ctx context.Context, cfg config.GenerationConfig, counter TokenCounter, log *zap.Logger) (*Registry, error) {
	r := NewRegistry(cfg.DefaultProvider, counter, log)
	r.Register(NewEchoProvider())

	if cfg.OpenAI.APIKey != "" {
		p, err := NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	if cfg.Google.APIKey != "" {
		p, err := NewGoogleProvider(ctx, cfg.Google.APIKey, cfg.Google.Model)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}

	if _, err := r.lookup(""); err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}
	r.log.Info("generation providers ready",
		zap.Strings("providers", r.Names()),
		zap.String("default", r.defaultProvider))
	return r, nil
}
