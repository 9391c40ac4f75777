package websocket

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"go-chat-hub/internal/conversation"
	"go-chat-hub/internal/llm"
	"go-chat-hub/pkg/chat"

	"go.uber.org/zap"
)

// exchange is one outstanding reply. It owns its copy of the history.
type exchange struct {
	subjectID      string
	connectionID   string
	requestID      string
	conversationID string
	title          string
	rooms          []string
	history        []chat.Turn
	providerHint   string
	options        llm.Options
}

// Bridge runs generations off the read loop and routes the result back
// through the registry and the room directory.
type Bridge struct {
	hub       *Hub
	generator llm.Generator
	store     conversation.Store
	timeout   time.Duration
	inFlight  atomic.Int64
	log       *zap.Logger
}

func newBridge(hub *Hub, generator llm.Generator, store conversation.Store, timeout time.Duration) *Bridge {
	return &Bridge{
		hub:       hub,
		generator: generator,
		store:     store,
		timeout:   timeout,
		log:       hub.log.With(zap.String("component", "bridge")),
	}
}

func (b *Bridge) InFlight() int {
	return int(b.inFlight.Load())
}

// Generate starts ex on its own goroutine and returns at once. It reports
// false if the hub is already stopped.
func (b *Bridge) Generate(ex *exchange) bool {
	if !b.hub.track() {
		return false
	}
	b.inFlight.Add(1)
	go func() {
		defer b.hub.wg.Done()
		defer b.inFlight.Add(-1)
		b.run(ex)
	}()
	return true
}

func (b *Bridge) run(ex *exchange) {
	log := b.log.With(
		zap.String("subject_id", ex.subjectID),
		zap.String("conversation_id", ex.conversationID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panicked", zap.Any("panic", r))
			b.fail(ex, errors.New("internal error"))
		}
	}()

	ctx := b.hub.ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := b.generator.Generate(ctx, &llm.Request{
		History:      ex.history,
		ProviderHint: ex.providerHint,
		Options:      ex.options,
	})
	if err != nil {
		log.Warn("generation failed", zap.Error(err))
		b.fail(ex, err)
		return
	}

	history := append(slices.Clone(ex.history), chat.Turn{
		Role:      chat.RoleAssistant,
		Content:   reply.Content,
		CreatedAt: time.Now(),
	})
	id, err := b.store.Save(ctx, conversation.SaveRequest{
		ID:        ex.conversationID,
		SubjectID: ex.subjectID,
		History:   history,
		Title:     ex.title,
		ModelID:   reply.ModelID,
	})
	if err != nil {
		log.Error("failed to save conversation", zap.Error(err))
		b.fail(ex, err)
		return
	}

	response, _ := chat.NewEnvelope(chat.MessageTypeAIResponse, chat.AIResponsePayload{
		ConversationID: id,
		Content:        reply.Content,
		TokensUsed:     reply.TokensUsed,
		ModelID:        reply.ModelID,
		ProviderID:     reply.ProviderID,
	})
	delivered := b.hub.registry.SendTo(ex.subjectID, response.WithRequestID(ex.requestID))

	updated, _ := chat.NewEnvelope(chat.MessageTypeConversationUpdated, chat.ConversationUpdatedPayload{
		ConversationID: id,
		SubjectID:      ex.subjectID,
		Title:          ex.title,
		MessageCount:   len(history),
		UpdatedAt:      chat.Now(),
	})
	notified := b.notifyRooms(ex, updated)

	log.Info("generation complete",
		zap.String("conversation_id", id),
		zap.String("provider", reply.ProviderID),
		zap.Int("tokens", reply.TokensUsed),
		zap.Bool("delivered", delivered),
		zap.Int("listeners", notified),
		zap.Duration("took", time.Since(started)))
}

// notifyRooms sends env once to every member of the exchange's rooms other
// than the originator, even if they share several of those rooms.
func (b *Bridge) notifyRooms(ex *exchange, env chat.Envelope) int {
	if len(ex.rooms) == 1 {
		return b.hub.rooms.Broadcast(ex.rooms[0], env, ex.subjectID)
	}

	seen := make(map[string]struct{})
	notified := 0
	for _, room := range ex.rooms {
		for _, id := range b.hub.rooms.Members(room) {
			if id == ex.subjectID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if b.hub.registry.SendTo(id, env) {
				notified++
			}
		}
	}
	return notified
}

func (b *Bridge) fail(ex *exchange, err error) {
	msg := "generation failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "generation timed out"
	case errors.Is(err, llm.ErrUnknownProvider):
		msg = err.Error()
	case errors.Is(err, context.Canceled):
		msg = "generation cancelled"
	}
	b.hub.registry.SendTo(ex.subjectID, chat.NewErrorEnvelope(chat.ErrorPayload{
		Code:           chat.ErrorCodeGenerationFailed,
		Message:        msg,
		Type:           string(chat.MessageTypeChatMessage),
		ConversationID: ex.conversationID,
	}).WithRequestID(ex.requestID))
}
