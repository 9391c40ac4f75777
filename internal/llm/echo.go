package llm

import (
	"context"
	"strings"

	"go-chat-hub/pkg/chat"
)

const (
	EchoProviderName = "echo"
	echoModel        = "echo-1"
)

// EchoProvider answers with the last user turn. It needs no credentials
// and is the default for development.
type EchoProvider struct{}

func NewEchoProvider() *EchoProvider { return &EchoProvider{} }

func (p *EchoProvider) Name() string { return EchoProviderName }

func (p *EchoProvider) Generate(ctx context.Context, req *Request) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var last string
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == chat.RoleUser {
			last = req.History[i].Content
			break
		}
	}

	model := req.Options.Model
	if model == "" {
		model = echoModel
	}
	return &Reply{
		Content: "echo: " + strings.TrimSpace(last),
		ModelID: model,
	}, nil
}
