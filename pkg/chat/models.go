package chat

import (
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message of a conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID        string `gorm:"primaryKey;size:21"`
	SubjectID string `gorm:"index;not null"`
	Title     string
	ModelID   string
	Turns     []Turn `gorm:"type:text;serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditLog struct {
	ID           string `gorm:"primaryKey;size:12"`
	Action       string `gorm:"index;not null"`
	SubjectID    string `gorm:"index"`
	ConnectionID string
	Room         *string
	Description  string
	Metadata     string
	CreatedAt    time.Time
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID, err = nanoid.New()
	}
	return
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID, err = nanoid.New(12)
	}
	return
}
