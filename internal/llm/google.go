package llm

import (
	"context"
	"fmt"
	"strings"

	"go-chat-hub/pkg/chat"

	"google.golang.org/genai"
)

const (
	GoogleProviderName = "google"
	defaultGoogleModel = "gemini-2.0-flash"
)

type GoogleProvider struct {
	client *genai.Client
	model  string
}

func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("google provider requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGoogleModel
	}
	return &GoogleProvider{client: client, model: strings.TrimPrefix(model, "models/")}, nil
}

func (p *GoogleProvider) Name() string { return GoogleProviderName }

func (p *GoogleProvider) Generate(ctx context.Context, req *Request) (*Reply, error) {
	model := p.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	contents, cfg := buildGenAIRequest(req)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		Content:    resp.Text(),
		ModelID:    model,
		ProviderID: GoogleProviderName,
	}
	if resp.ModelVersion != "" {
		reply.ModelID = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		reply.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return reply, nil
}

func buildGenAIRequest(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	system := req.Options.SystemPrompt

	contents := make([]*genai.Content, 0, len(req.History))
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += turn.Content
		case chat.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}

	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Options.Temperature > 0 {
		temp := float32(req.Options.Temperature)
		cfg.Temperature = &temp
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	return contents, cfg
}
