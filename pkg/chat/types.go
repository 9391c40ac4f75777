package chat

import (
	"encoding/json"
	"time"
)

type MessageType string

// Inbound types, sent by clients.
const (
	MessageTypeChatMessage MessageType = "chat_message"
	MessageTypeJoinRoom    MessageType = "join_room"
	MessageTypeLeaveRoom   MessageType = "leave_room"
)

// Outbound types, sent by the hub.
const (
	MessageTypeConnected           MessageType = "connected"
	MessageTypeAITyping            MessageType = "ai_typing"
	MessageTypeAIResponse          MessageType = "ai_response"
	MessageTypeRoomJoined          MessageType = "room_joined"
	MessageTypeRoomLeft            MessageType = "room_left"
	MessageTypeUserJoined          MessageType = "user_joined"
	MessageTypeUserLeft            MessageType = "user_left"
	MessageTypeConversationUpdated MessageType = "conversation_updated"
	MessageTypeError               MessageType = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodeUnknownType       = "unknown_type"
	ErrorCodeNotAuthenticated  = "not_authenticated"
	ErrorCodeInvalidRoom       = "invalid_room"
	ErrorCodeInvalidPayload    = "invalid_payload"
	ErrorCodeHandlerError      = "handler_error"
	ErrorCodeGenerationFailed  = "generation_failed"
	ErrorCodeRateLimited       = "rate_limited"
	ErrorCodeSessionSuperseded = "session_superseded"
)

var inboundTypes = map[MessageType]bool{
	MessageTypeChatMessage: true,
	MessageTypeJoinRoom:    true,
	MessageTypeLeaveRoom:   true,
}

// IsInbound reports whether clients are allowed to send t.
func IsInbound(t MessageType) bool {
	return inboundTypes[t]
}

// Envelope is the unit exchanged over a connection.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// RoomPayload is the payload of join_room and leave_room.
type RoomPayload struct {
	Room string `json:"room"`
}

type ChatMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Content        string  `json:"content"`
	Room           string  `json:"room,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
}

type ConnectedPayload struct {
	SubjectID         string `json:"subjectId"`
	Email             string `json:"email,omitempty"`
	Role              string `json:"role,omitempty"`
	ConnectionID      string `json:"connectionId"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type AIResponsePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	TokensUsed     int    `json:"tokensUsed"`
	ModelID        string `json:"modelId"`
	ProviderID     string `json:"providerId"`
}

// RoomStatePayload answers join_room and leave_room.
type RoomStatePayload struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// PresencePayload is the payload of user_joined and user_left.
type PresencePayload struct {
	Room      string `json:"room"`
	SubjectID string `json:"subjectId"`
	Email     string `json:"email,omitempty"`
}

type ConversationUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
	SubjectID      string `json:"subjectId"`
	Title          string `json:"title"`
	MessageCount   int    `json:"messageCount"`
	UpdatedAt      int64  `json:"updatedAt"`
}

type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Type           string `json:"type,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// RoomStat is one entry of the operator stats surface.
type RoomStat struct {
	Room        string `json:"room"`
	MemberCount int    `json:"memberCount"`
}

type HubStats struct {
	ActiveConnections  int        `json:"activeConnections"`
	TotalRooms         int        `json:"totalRooms"`
	RoomStats          []RoomStat `json:"roomStats"`
	PendingGenerations int        `json:"pendingGenerations"`
}

// Now returns the envelope timestamp for the current instant.
func Now() int64 {
	return time.Now().UnixMilli()
}
