package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	. "go-chat-hub/pkg/chat"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("conversation not found")

// Store is what the hub needs from conversation persistence.
type Store interface {
	Load(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, req SaveRequest) (string, error)
}

// SaveRequest creates a conversation when ID is empty, otherwise replaces
// the history of the existing one.
type SaveRequest struct {
	ID        string
	SubjectID string
	History   []Turn
	Title     string
	ModelID   string
}

type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

var _ Store = (*ConversationService)(nil)

func (s *ConversationService) Load(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *ConversationService) Save(ctx context.Context, req SaveRequest) (string, error) {
	if req.SubjectID == "" {
		return "", errors.New("conversation subject cannot be empty")
	}

	db := s.db.WithContext(ctx)
	if req.ID == "" {
		conv := Conversation{
			SubjectID: req.SubjectID,
			Title:     req.Title,
			ModelID:   req.ModelID,
			Turns:     req.History,
		}
		if err := db.Create(&conv).Error; err != nil {
			return "", fmt.Errorf("create conversation: %w", err)
		}
		return conv.ID, nil
	}

	var existing Conversation
	if err := db.First(&existing, "id = ?", req.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load conversation %s: %w", req.ID, err)
	}
	if existing.SubjectID != req.SubjectID {
		return "", ErrNotFound
	}

	existing.Turns = req.History
	existing.ModelID = req.ModelID
	if existing.Title == "" {
		existing.Title = req.Title
	}
	if err := db.Save(&existing).Error; err != nil {
		return "", fmt.Errorf("update conversation %s: %w", req.ID, err)
	}
	return existing.ID, nil
}

const maxTitleLength = 50

// TitleFrom derives a conversation title from its first user turn.
func TitleFrom(history []Turn) string {
	for _, turn := range history {
		if turn.Role != RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(turn.Content), " ")
		runes := []rune(title)
		if len(runes) > maxTitleLength {
			return string(runes[:maxTitleLength]) + "..."
		}
		return title
	}
	return "New conversation"
}
