package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go-chat-hub/internal/config"
	"go-chat-hub/pkg/chat"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type stubProvider struct {
	name  string
	reply *Reply
	err   error
	got   *Request
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(_ context.Context, req *Request) (*Reply, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	r := *s.reply
	return &r, nil
}

func userHistory(content string) []chat.Turn {
	return []chat.Turn{{Role: chat.RoleUser, Content: content}}
}

func TestRegistry_Generate(t *testing.T) {
	primary := &stubProvider{name: "primary", reply: &Reply{Content: "from primary", TokensUsed: 7, ModelID: "p-1"}}
	secondary := &stubProvider{name: "Secondary", reply: &Reply{Content: "from secondary", ModelID: "s-1"}}
	broken := &stubProvider{name: "broken", err: errors.New("upstream 500")}

	r := NewRegistry("primary", EstimateTokens, nil)
	r.Register(primary)
	r.Register(secondary)
	r.Register(broken)

	tests := []struct {
		name       string
		hint       string
		want       string
		provider   string
		tokens     int
		wantErr    error
		errMessage string
	}{
		{name: "default provider", hint: "", want: "from primary", provider: "primary", tokens: 7},
		{name: "hint is case insensitive", hint: " SECONDARY ", want: "from secondary", provider: "Secondary", tokens: 11},
		{name: "unknown hint", hint: "nope", wantErr: ErrUnknownProvider},
		{name: "provider failure", hint: "broken", errMessage: "broken generation failed: upstream 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := r.Generate(context.Background(), &Request{
				History:      userHistory("hello there"),
				ProviderHint: tt.hint,
			})
			if tt.wantErr != nil || tt.errMessage != "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				if tt.errMessage != "" {
					assert.Equal(t, tt.errMessage, err.Error())
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Content)
			assert.Equal(t, tt.provider, reply.ProviderID)
			assert.Equal(t, tt.tokens, reply.TokensUsed)
		})
	}

	assert.Equal(t, []string{"broken", "primary", "secondary"}, r.Names())
}

func TestRegistry_RejectsEmptyRequests(t *testing.T) {
	r := NewRegistry("echo", nil, nil)
	r.Register(NewEchoProvider())

	_, err := r.Generate(context.Background(), nil)
	assert.Error(t, err)
	_, err = r.Generate(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestEchoProvider(t *testing.T) {
	p := NewEchoProvider()
	reply, err := p.Generate(context.Background(), &Request{History: []chat.Turn{
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleAssistant, Content: "echo: first"},
		{Role: chat.RoleUser, Content: "  second "},
	}})
	require.NoError(t, err)
	assert.Equal(t, "echo: second", reply.Content)
	assert.Equal(t, "echo-1", reply.ModelID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Generate(ctx, &Request{History: userHistory("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"ééééé", 2},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens("any", tt.text))
		})
	}
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig(context.Background(), config.GenerationConfig{DefaultProvider: "echo"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, r.Names())

	r, err = FromConfig(context.Background(), config.GenerationConfig{
		DefaultProvider: "openai",
		OpenAI:          config.ProviderConfig{APIKey: "sk-test"},
		Anthropic:       config.ProviderConfig{APIKey: "ak-test", Model: "claude-test"},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "echo", "openai"}, r.Names())

	_, err = FromConfig(context.Background(), config.GenerationConfig{DefaultProvider: "openai"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/responses"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "resp_1",
			"object": "response",
			"created_at": 1700000000,
			"status": "completed",
			"model": "gpt-4.1-mini-2025",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"role": "assistant",
				"status": "completed",
				"content": [{"type": "output_text", "text": "Hi from openai", "annotations": []}]
			}],
			"usage": {"input_tokens": 9, "output_tokens": 4, "total_tokens": 13}
		}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider("sk-test", "", openaioption.WithBaseURL(server.URL), openaioption.WithMaxRetries(0))
	require.NoError(t, err)

	reply, err := p.Generate(context.Background(), &Request{
		History: []chat.Turn{
			{Role: chat.RoleUser, Content: "hello"},
			{Role: chat.RoleAssistant, Content: "hi"},
			{Role: chat.RoleUser, Content: "how are you"},
		},
		Options: Options{SystemPrompt: "be brief", MaxTokens: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi from openai", reply.Content)
	assert.Equal(t, 13, reply.TokensUsed)
	assert.Equal(t, "gpt-4.1-mini-2025", reply.ModelID)
	assert.Equal(t, OpenAIProviderName, reply.ProviderID)

	assert.Equal(t, "gpt-4.1-mini", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "be brief", gjson.GetBytes(body, "instructions").String())
	assert.Equal(t, int64(64), gjson.GetBytes(body, "max_output_tokens").Int())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "input.#").Int())
	assert.Equal(t, "assistant", gjson.GetBytes(body, "input.1.role").String())
}

func TestAnthropicProvider_Generate(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hi from claude"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	p, err := NewAnthropicProvider("ak-test", "claude-test", anthropicoption.WithBaseURL(server.URL), anthropicoption.WithMaxRetries(0))
	require.NoError(t, err)

	reply, err := p.Generate(context.Background(), &Request{
		History: []chat.Turn{
			{Role: chat.RoleSystem, Content: "you are terse"},
			{Role: chat.RoleUser, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi from claude", reply.Content)
	assert.Equal(t, 15, reply.TokensUsed)
	assert.Equal(t, "claude-test", reply.ModelID)

	assert.Equal(t, int64(defaultAnthropicMaxTokens), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "you are terse", gjson.GetBytes(body, "system.0.text").String())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "messages.#").Int())
}

func TestProvidersRequireKeys(t *testing.T) {
	_, err := NewOpenAIProvider(" ", "")
	assert.Error(t, err)
	_, err = NewAnthropicProvider("", "")
	assert.Error(t, err)
	_, err = NewGoogleProvider(context.Background(), "", "")
	assert.Error(t, err)
}

func TestBuildGenAIRequest(t *testing.T) {
	contents, cfg := buildGenAIRequest(&Request{
		History: []chat.Turn{
			{Role: chat.RoleSystem, Content: "rules"},
			{Role: chat.RoleUser, Content: "q"},
			{Role: chat.RoleAssistant, Content: "a"},
			{Role: chat.RoleUser, Content: ""},
		},
		Options: Options{SystemPrompt: "base", Temperature: 0.5, MaxTokens: 32},
	})

	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "base\nrules", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 0.0001)
	assert.Equal(t, int32(32), cfg.MaxOutputTokens)
}
