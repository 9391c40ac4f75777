package websocket

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go-chat-hub/internal/conversation"
	"go-chat-hub/internal/llm"
	"go-chat-hub/pkg/chat"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrNotMember        = errors.New("not a member of room")
)

// Router dispatches decoded envelopes to their handlers.
type Router struct {
	hub   *Hub
	store conversation.Store
	log   *zap.Logger
}

func newRouter(hub *Hub, store conversation.Store) *Router {
	return &Router{
		hub:   hub,
		store: store,
		log:   hub.log.With(zap.String("component", "router")),
	}
}

// HandleMessage processes one inbound frame. Every failure is answered with
// an error envelope; none of them close the connection.
func (r *Router) HandleMessage(client *Client, raw []byte) {
	env, err := chat.DecodeEnvelope(raw)
	if err != nil {
		var perr *chat.ProtocolError
		p := chat.ErrorPayload{Code: chat.ErrorCodeInvalidMessage, Message: err.Error()}
		if errors.As(err, &perr) {
			p.Code = perr.Code()
			p.Message = perr.Reason
			p.Type = perr.Type
		}
		client.sendError(p, gjson.GetBytes(raw, "requestId").String())
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panicked",
				zap.String("type", string(env.Type)),
				zap.String("subject_id", client.SubjectID()),
				zap.Any("panic", rec))
			r.replyError(client, env, fmt.Errorf("internal error handling %s", env.Type))
		}
	}()

	if client.SubjectID() == "" {
		r.replyError(client, env, ErrNotAuthenticated)
		return
	}

	switch env.Type {
	case chat.MessageTypeJoinRoom:
		err = r.handleJoinRoom(client, env)
	case chat.MessageTypeLeaveRoom:
		err = r.handleLeaveRoom(client, env)
	case chat.MessageTypeChatMessage:
		err = r.handleChatMessage(client, env)
	}
	if err != nil {
		r.log.Debug("handler error",
			zap.String("type", string(env.Type)),
			zap.String("subject_id", client.SubjectID()),
			zap.Error(err))
		r.replyError(client, env, err)
	}
}

func (r *Router) roomFrom(env *chat.Envelope) (string, error) {
	var p chat.RoomPayload
	if err := env.DecodePayload(&p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return NormalizeRoom(p.Room)
}

func (r *Router) handleJoinRoom(client *Client, env *chat.Envelope) error {
	room, err := r.roomFrom(env)
	if err != nil {
		return err
	}
	joined, err := r.hub.rooms.JoinClient(client, room)
	if err != nil {
		return err
	}
	if joined {
		r.hub.journal.LogRoomJoin(client.SubjectID(), client.ID(), room)
	}
	return r.reply(client, env, chat.MessageTypeRoomJoined, chat.RoomStatePayload{
		Room:    room,
		Members: r.hub.rooms.MemberCount(room),
	})
}

func (r *Router) handleLeaveRoom(client *Client, env *chat.Envelope) error {
	room, err := r.roomFrom(env)
	if err != nil {
		return err
	}
	if r.hub.rooms.Leave(client.SubjectID(), room) {
		r.hub.journal.LogRoomLeave(client.SubjectID(), client.ID(), room)
	}
	return r.reply(client, env, chat.MessageTypeRoomLeft, chat.RoomStatePayload{
		Room:    room,
		Members: r.hub.rooms.MemberCount(room),
	})
}

// handleChatMessage loads the history, appends the user turn and hands the
// exchange to the bridge. It never waits for the reply.
func (r *Router) handleChatMessage(client *Client, env *chat.Envelope) error {
	var p chat.ChatMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return ErrEmptyContent
	}

	subjectID := client.SubjectID()
	var rooms []string
	if p.Room != "" {
		room, err := NormalizeRoom(p.Room)
		if err != nil {
			return err
		}
		if !r.hub.rooms.IsMember(subjectID, room) {
			return fmt.Errorf("%w %q", ErrNotMember, room)
		}
		rooms = []string{room}
	} else {
		rooms = r.hub.rooms.RoomsOf(subjectID)
	}

	ex := &exchange{
		subjectID:    subjectID,
		connectionID: client.ID(),
		requestID:    env.RequestID,
		rooms:        rooms,
		providerHint: p.Provider,
		options: llm.Options{
			Model:        p.Model,
			Temperature:  p.Temperature,
			MaxTokens:    p.MaxTokens,
			SystemPrompt: p.SystemPrompt,
		},
	}

	if p.ConversationID != "" {
		conv, err := r.store.Load(r.hub.ctx, p.ConversationID)
		switch {
		case err == nil && conv.SubjectID == subjectID:
			ex.conversationID = conv.ID
			ex.title = conv.Title
			ex.history = append(make([]chat.Turn, 0, len(conv.Turns)+2), conv.Turns...)
		case err == nil, errors.Is(err, conversation.ErrNotFound):
			// Unknown or foreign ids start a new conversation.
		default:
			return fmt.Errorf("load conversation: %w", err)
		}
	}

	ex.history = append(ex.history, chat.Turn{
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if ex.title == "" {
		ex.title = conversation.TitleFrom(ex.history)
	}

	if err := r.reply(client, env, chat.MessageTypeAITyping, chat.TypingPayload{
		ConversationID: ex.conversationID,
		IsTyping:       true,
	}); err != nil {
		return err
	}
	if !r.hub.bridge.Generate(ex) {
		return ErrHubStopped
	}
	return nil
}

func (r *Router) reply(client *Client, req *chat.Envelope, t chat.MessageType, payload any) error {
	env, err := chat.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	client.Send(env.WithRequestID(req.RequestID))
	return nil
}

func (r *Router) replyError(client *Client, req *chat.Envelope, err error) {
	client.sendError(chat.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
		Type:    string(req.Type),
	}, req.RequestID)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return chat.ErrorCodeNotAuthenticated
	case errors.Is(err, ErrInvalidRoom), errors.Is(err, ErrNotMember):
		return chat.ErrorCodeInvalidRoom
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrEmptyContent):
		return chat.ErrorCodeInvalidPayload
	default:
		return chat.ErrorCodeHandlerError
	}
}
