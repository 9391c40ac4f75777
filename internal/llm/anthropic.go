package llm

import (
	"context"
	"fmt"
	"strings"

	"go-chat-hub/pkg/chat"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	AnthropicProviderName     = "anthropic"
	defaultAnthropicModel     = "claude-3-5-sonnet-20241022"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) (*AnthropicProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, opts...)...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return AnthropicProviderName }

func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Reply, error) {
	model := p.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	var system []anthropic.TextBlockParam
	if sys := strings.TrimSpace(req.Options.SystemPrompt); sys != "" {
		system = append(system, anthropic.TextBlockParam{Text: sys})
	}

	messages := make([]anthropic.MessageParam, 0, len(req.History))
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: turn.Content})
		case chat.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic completion requires at least one user or assistant message")
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Options.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(block.Text)
	}

	modelID := string(msg.Model)
	if modelID == "" {
		modelID = model
	}
	return &Reply{
		Content:    sb.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		ModelID:    modelID,
		ProviderID: AnthropicProviderName,
	}, nil
}
