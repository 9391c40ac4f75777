package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/config"
	"go-chat-hub/internal/conversation"
	"go-chat-hub/internal/llm"
	"go-chat-hub/pkg/chat"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrHubStopped = errors.New("hub stopped")

// Journal receives connection lifecycle events. *audit.AuditService
// satisfies it.
type Journal interface {
	LogConnect(subjectID, connectionID, remoteAddr string)
	LogDisconnect(subjectID, connectionID, reason string)
	LogRoomJoin(subjectID, connectionID, room string)
	LogRoomLeave(subjectID, connectionID, room string)
}

type nopJournal struct{}

func (nopJournal) LogConnect(string, string, string)    {}
func (nopJournal) LogDisconnect(string, string, string) {}
func (nopJournal) LogRoomJoin(string, string, string)   {}
func (nopJournal) LogRoomLeave(string, string, string)  {}

type Options struct {
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	GenerationTimeout time.Duration

	Store     conversation.Store
	Generator llm.Generator
	Journal   Journal
	Logger    *zap.Logger
}

// OptionsFromConfig copies the transport, heartbeat, rate limit and
// generation settings out of cfg. Collaborators are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		HeartbeatInterval: cfg.Heartbeat.Interval,
		WriteWait:         cfg.Transport.WriteWait,
		MaxMessageSize:    cfg.Transport.MaxMessageSize,
		SendBuffer:        cfg.Transport.SendBuffer,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
		GenerationTimeout: cfg.Generation.Timeout,
	}
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 1
	}
	if o.Journal == nil {
		o.Journal = nopJournal{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Hub owns the registry, the room directory and every connection pump.
type Hub struct {
	opts     Options
	log      *zap.Logger
	journal  Journal
	registry *Registry
	rooms    *Directory
	router   *Router
	bridge   *Bridge

	// ctx is cancelled by Stop; in-flight generations derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewHub(opts Options) *Hub {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "hub")),
		journal:  opts.Journal,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.rooms = NewDirectory(h.registry)
	h.bridge = newBridge(h, opts.Generator, opts.Store, opts.GenerationTimeout)
	h.router = newRouter(h, opts.Store)
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Rooms() *Directory { return h.rooms }

func (h *Hub) Router() *Router { return h.router }

func (h *Hub) HeartbeatInterval() time.Duration { return h.opts.HeartbeatInterval }

// Run drives the heartbeat monitor until ctx is done, then stops the hub.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info("hub started", zap.Duration("heartbeat_interval", h.opts.HeartbeatInterval))
	h.monitor(ctx)
	h.Stop()
	return nil
}

// Stop closes every connection with 1001 and cancels in-flight
// generations. It is safe to call more than once.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	clients := h.registry.Snapshot()
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, ReasonShutdown)
	}
	h.log.Info("hub stopping", zap.Int("connections", len(clients)))
}

// Wait blocks until every pump and generation has finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// track registers a goroutine with the hub unless it has been stopped.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.wg.Add(1)
	return true
}

// Attach registers an authenticated connection and starts its pumps. A
// previous connection for the same subject is told it was superseded and
// closed; its room memberships carry over.
func (h *Hub) Attach(conn Conn, claims auth.Claims, remoteAddr string) (*Client, error) {
	c := newClient(h, conn, claims, remoteAddr)

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrHubStopped
	}
	prev := h.registry.Register(c)
	h.wg.Add(2)
	h.mu.Unlock()

	log := h.log.With(zap.String("subject_id", c.SubjectID()), zap.String("connection_id", c.ID()))
	if prev != nil {
		prev.sendError(chat.ErrorPayload{
			Code:    chat.ErrorCodeSessionSuperseded,
			Message: "a newer connection was opened for this subject",
		}, "")
		prev.close(CloseSessionSuperseded, ReasonSuperseded)
		log.Info("session superseded", zap.String("previous_connection_id", prev.ID()))
	}

	connected, _ := chat.NewEnvelope(chat.MessageTypeConnected, chat.ConnectedPayload{
		SubjectID:         c.SubjectID(),
		Email:             claims.Email,
		Role:              claims.Role,
		ConnectionID:      c.ID(),
		HeartbeatInterval: h.opts.HeartbeatInterval.Milliseconds(),
	})
	c.Send(connected)

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	h.journal.LogConnect(c.SubjectID(), c.ID(), remoteAddr)
	log.Info("client connected", zap.String("remote_addr", remoteAddr))
	return c, nil
}

// teardown is the single exit path for a connection. Only the first call
// per client has any effect.
func (h *Hub) teardown(c *Client, reason string) {
	if !c.tornDown.CompareAndSwap(false, true) {
		return
	}

	code := websocket.CloseNormalClosure
	if reason == ReasonHeartbeatTimeout || reason == ReasonPingFailed {
		code = websocket.CloseGoingAway
	}
	c.close(code, reason)

	left := h.rooms.Evict(c)
	for _, room := range left {
		h.journal.LogRoomLeave(c.SubjectID(), c.ID(), room)
	}
	h.journal.LogDisconnect(c.SubjectID(), c.ID(), c.closeReason)

	h.log.Info("client disconnected",
		zap.String("subject_id", c.SubjectID()),
		zap.String("connection_id", c.ID()),
		zap.String("reason", c.closeReason),
		zap.Strings("rooms_left", left),
		zap.Duration("connected_for", time.Since(c.connectedAt)))
}

func (h *Hub) Stats() chat.HubStats {
	return chat.HubStats{
		ActiveConnections:  h.registry.Count(),
		TotalRooms:         h.rooms.RoomCount(),
		RoomStats:          h.rooms.Stats(),
		PendingGenerations: h.bridge.InFlight(),
	}
}
