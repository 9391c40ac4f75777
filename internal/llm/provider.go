package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go-chat-hub/pkg/chat"

	"go.uber.org/zap"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Options tune a single generation. Zero values mean provider defaults.
type Options struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

type Request struct {
	History      []chat.Turn
	ProviderHint string
	Options      Options
}

type Reply struct {
	Content    string
	TokensUsed int
	ModelID    string
	ProviderID string
}

// Generator produces the assistant reply for a conversation history.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Reply, error)
}

// Provider is one concrete backend registered under Name.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Reply, error)
}

// Registry routes requests to a provider by hint, falling back to the
// default provider when no hint is given.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	counter         TokenCounter
	log             *zap.Logger
}

func NewRegistry(defaultProvider string, counter TokenCounter, log *zap.Logger) *Registry {
	if counter == nil {
		counter = EstimateTokens
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: strings.ToLower(defaultProvider),
		counter:         counter,
		log:             log.With(zap.String("component", "llm")),
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(hint string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(hint))
	if name == "" {
		name = r.defaultProvider
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Generate(ctx context.Context, req *Request) (*Reply, error) {
	if req == nil {
		return nil, errors.New("generation request cannot be nil")
	}
	if len(req.History) == 0 {
		return nil, errors.New("generation request has no history")
	}

	p, err := r.lookup(req.ProviderHint)
	if err != nil {
		return nil, err
	}

	reply, err := p.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", p.Name(), err)
	}
	if reply.ProviderID == "" {
		reply.ProviderID = p.Name()
	}
	if reply.TokensUsed == 0 {
		reply.TokensUsed = r.estimate(reply.ModelID, req, reply.Content)
	}

	r.log.Debug("generation complete",
		zap.String("provider", reply.ProviderID),
		zap.String("model", reply.ModelID),
		zap.Int("tokens", reply.TokensUsed))
	return reply, nil
}

func (r *Registry) estimate(model string, req *Request, content string) int {
	total := r.counter(model, req.Options.SystemPrompt) + r.counter(model, content)
	for _, turn := range req.History {
		total += r.counter(model, turn.Content) + perTurnOverhead
	}
	return total
}
