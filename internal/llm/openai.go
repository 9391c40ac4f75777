package llm

import (
	"context"
	"fmt"
	"strings"

	"go-chat-hub/pkg/chat"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

const (
	OpenAIProviderName = "openai"
	defaultOpenAIModel = "gpt-4.1-mini"
)

// OpenAIProvider talks to the Responses API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) (*OpenAIProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, opts...)...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return OpenAIProviderName }

func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Reply, error) {
	model := p.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	input := make(responses.ResponseInputParam, 0, len(req.History))
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		role := responses.EasyInputMessageRoleUser
		switch turn.Role {
		case chat.RoleAssistant:
			role = responses.EasyInputMessageRoleAssistant
		case chat.RoleSystem:
			role = responses.EasyInputMessageRoleSystem
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(turn.Content, role))
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}
	if req.Options.SystemPrompt != "" {
		params.Instructions = openai.String(req.Options.SystemPrompt)
	}
	if req.Options.Temperature != 0 {
		params.Temperature = openai.Float(req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.Options.MaxTokens))
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}

	modelID := string(resp.Model)
	if modelID == "" {
		modelID = model
	}
	return &Reply{
		Content:    resp.OutputText(),
		TokensUsed: int(resp.Usage.TotalTokens),
		ModelID:    modelID,
		ProviderID: OpenAIProviderName,
	}, nil
}
