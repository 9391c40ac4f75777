package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	. "go-chat-hub/pkg/chat"

	"github.com/gin-gonic/gin"
)

// AuditReader is the read side of the audit journal.
type AuditReader interface {
	Recent(ctx context.Context, action string, limit int) ([]AuditLog, error)
}

type AuditHandlers struct {
	service AuditReader
}

func NewAuditHandlers(service AuditReader) *AuditHandlers {
	return &AuditHandlers{service: service}
}

type AuditLogResponse struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	SubjectID    string         `json:"subject_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Room         *string        `json:"room,omitempty"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"created_at"`
}

type AuditLogsResponse struct {
	Logs  []AuditLogResponse `json:"logs"`
	Limit int                `json:"limit"`
}

// GetAuditLogsHandler lists the newest journal entries, optionally filtered
// by action (CONNECT, DISCONNECT, AUTH_FAILURE, JOIN_ROOM, LEAVE_ROOM).
func (h *AuditHandlers) GetAuditLogsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	logs, err := h.service.Recent(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit logs"})
		return
	}

	response := AuditLogsResponse{
		Logs:  make([]AuditLogResponse, 0, len(logs)),
		Limit: limit,
	}
	for _, entry := range logs {
		metadata := map[string]any{}
		if entry.Metadata != "" {
			_ = json.Unmarshal([]byte(entry.Metadata), &metadata)
		}
		response.Logs = append(response.Logs, AuditLogResponse{
			ID:           entry.ID,
			Action:       entry.Action,
			SubjectID:    entry.SubjectID,
			ConnectionID: entry.ConnectionID,
			Room:         entry.Room,
			Description:  entry.Description,
			Metadata:     metadata,
			CreatedAt:    entry.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, response)
}
