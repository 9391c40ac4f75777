package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const closeWriteWait = time.Second

// Verifier is the Identity Gate as seen by the upgrade handler.
type Verifier interface {
	Verify(credential string) (*auth.Claims, error)
}

// AuthJournal records refused upgrade attempts.
type AuthJournal interface {
	LogAuthFailure(remoteAddr, reason string)
}

type WebSocketHandler struct {
	hub      *websocket.Hub
	gate     Verifier
	journal  AuthJournal
	upgrader gorilla.Upgrader
	log      *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, gate Verifier, journal AuthJournal, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{
		hub:     hub,
		gate:    gate,
		journal: journal,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With(zap.String("component", "api")),
	}
}

// originChecker allows every origin when the list is empty. Entries match
// either the full origin or its host.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Host]
		return ok
	}
}

// HandleWebSocket upgrades the request and hands the connection to the hub.
// A missing or invalid credential still upgrades, so the refusal reaches the
// client as a close frame with status 1008.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	claims, authErr := h.gate.Verify(auth.CredentialFromRequest(c.Request))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err))
		return
	}

	if authErr != nil {
		reason := authReason(authErr)
		h.log.Info("connection refused",
			zap.String("remote_addr", c.ClientIP()),
			zap.String("reason", reason),
			zap.Error(authErr))
		if h.journal != nil {
			h.journal.LogAuthFailure(c.ClientIP(), reason)
		}
		closeWith(conn, gorilla.ClosePolicyViolation, reason)
		return
	}

	if _, err := h.hub.Attach(conn, *claims, c.ClientIP()); err != nil {
		h.log.Info("connection refused",
			zap.String("subject_id", claims.SubjectID),
			zap.Error(err))
		closeWith(conn, gorilla.CloseGoingAway, websocket.ReasonShutdown)
	}
}

// GetStats reports the hub's current counters.
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

func authReason(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) && authErr.Err != nil {
		return authErr.Err.Error()
	}
	return "authentication failed"
}

func closeWith(conn *gorilla.Conn, code int, reason string) {
	msg := gorilla.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = conn.Close()
}
