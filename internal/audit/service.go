package audit

import (
	"context"
	"encoding/json"
	"sync"

	. "go-chat-hub/pkg/chat"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Action constants for audit logging
const (
	ActionConnect     = "CONNECT"
	ActionDisconnect  = "DISCONNECT"
	ActionAuthFailure = "AUTH_FAILURE"
	ActionJoinRoom    = "JOIN_ROOM"
	ActionLeaveRoom   = "LEAVE_ROOM"
)

const defaultQueueSize = 256

type AuditMetadata struct {
	Reason     string `json:"reason,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// AuditService journals connection lifecycle events. Writes happen on a
// single background worker so the hub never waits on sqlite.
type AuditService struct {
	db    *gorm.DB
	log   *zap.Logger
	queue chan AuditLog

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAuditService(db *gorm.DB, log *zap.Logger) *AuditService {
	return newAuditService(db, log, defaultQueueSize)
}

func newAuditService(db *gorm.DB, log *zap.Logger, size int) *AuditService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuditService{
		db:    db,
		log:   log.With(zap.String("component", "audit")),
		queue: make(chan AuditLog, size),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AuditService) run() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.db.Create(&entry).Error; err != nil {
			s.log.Error("failed to write audit log",
				zap.String("action", entry.Action),
				zap.String("subject_id", entry.SubjectID),
				zap.Error(err))
		}
	}
}

// record enqueues without blocking; a full queue or a closed journal drops
// the entry.
func (s *AuditService) record(entry AuditLog, metadata AuditMetadata) bool {
	metadataJSON, _ := json.Marshal(metadata)
	entry.Metadata = string(metadataJSON)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- entry:
		return true
	default:
		s.log.Warn("audit queue full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("subject_id", entry.SubjectID))
		return false
	}
}

// LogConnect logs a registered connection
func (s *AuditService) LogConnect(subjectID, connectionID, remoteAddr string) {
	s.record(AuditLog{
		Action:       ActionConnect,
		SubjectID:    subjectID,
		ConnectionID: connectionID,
		Description:  "Connected",
	}, AuditMetadata{RemoteAddr: remoteAddr})
}

// LogDisconnect logs a torn down connection and why it ended
func (s *AuditService) LogDisconnect(subjectID, connectionID, reason string) {
	s.record(AuditLog{
		Action:       ActionDisconnect,
		SubjectID:    subjectID,
		ConnectionID: connectionID,
		Description:  "Disconnected (" + reason + ")",
	}, AuditMetadata{Reason: reason})
}

// LogAuthFailure logs a rejected upgrade attempt
func (s *AuditService) LogAuthFailure(remoteAddr, reason string) {
	s.record(AuditLog{
		Action:      ActionAuthFailure,
		Description: "Authentication failed",
	}, AuditMetadata{Reason: reason, RemoteAddr: remoteAddr})
}

func (s *AuditService) LogRoomJoin(subjectID, connectionID, room string) {
	s.record(AuditLog{
		Action:       ActionJoinRoom,
		SubjectID:    subjectID,
		ConnectionID: connectionID,
		Room:         &room,
		Description:  "Joined room '" + room + "'",
	}, AuditMetadata{})
}

func (s *AuditService) LogRoomLeave(subjectID, connectionID, room string) {
	s.record(AuditLog{
		Action:       ActionLeaveRoom,
		SubjectID:    subjectID,
		ConnectionID: connectionID,
		Room:         &room,
		Description:  "Left room '" + room + "'",
	}, AuditMetadata{})
}

// Recent returns the newest entries first, optionally filtered by action.
func (s *AuditService) Recent(ctx context.Context, action string, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query := s.db.WithContext(ctx).Model(&AuditLog{})
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var logs []AuditLog
	err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// Close stops accepting entries and waits until the queue is flushed.
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}
