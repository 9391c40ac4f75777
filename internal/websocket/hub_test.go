package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/config"
	"go-chat-hub/pkg/chat"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewHub_Defaults(t *testing.T) {
	h := NewHub(Options{})

	assert.NotNil(t, h.registry)
	assert.NotNil(t, h.rooms)
	assert.NotNil(t, h.router)
	assert.NotNil(t, h.bridge)
	assert.Equal(t, 30*time.Second, h.HeartbeatInterval())
	assert.Equal(t, 256, h.opts.SendBuffer)
	assert.Equal(t, chat.HubStats{RoomStats: []chat.RoomStat{}}, h.Stats())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Heartbeat.Interval = time.Second
	cfg.Transport.WriteWait = 2 * time.Second
	cfg.Transport.MaxMessageSize = 1024
	cfg.Transport.SendBuffer = 8
	cfg.RateLimit.MessagesPerSecond = 3
	cfg.RateLimit.MessageBurst = 4
	cfg.Generation.Timeout = time.Minute

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, time.Second, opts.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, opts.WriteWait)
	assert.Equal(t, int64(1024), opts.MaxMessageSize)
	assert.Equal(t, 8, opts.SendBuffer)
	assert.Equal(t, 3.0, opts.MessagesPerSecond)
	assert.Equal(t, 4, opts.MessageBurst)
	assert.Equal(t, time.Minute, opts.GenerationTimeout)
}

func TestHub_AttachSendsConnected(t *testing.T) {
	h := newTestHub(t, Options{HeartbeatInterval: 15 * time.Second, MaxMessageSize: 4096})
	conn := newFakeConn()

	c, err := h.Attach(conn, auth.Claims{SubjectID: "u1", Email: "u1@example.com", Role: "admin"}, "10.0.0.1:1")
	require.NoError(t, err)

	var p chat.ConnectedPayload
	conn.expect(t, chat.MessageTypeConnected, &p)
	assert.Equal(t, chat.ConnectedPayload{
		SubjectID:         "u1",
		Email:             "u1@example.com",
		Role:              "admin",
		ConnectionID:      c.ID(),
		HeartbeatInterval: 15000,
	}, p)

	got, ok := h.registry.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, c, got)
	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.readLimit == 4096
	})
}

func TestHub_TeardownIsIdempotent(t *testing.T) {
	journal := &mockJournal{}
	journal.On("LogConnect", mock.Anything, mock.Anything, mock.Anything).Return()
	journal.On("LogRoomJoin", mock.Anything, mock.Anything, mock.Anything).Return()
	journal.On("LogRoomLeave", mock.Anything, mock.Anything, mock.Anything).Return()
	journal.On("LogDisconnect", mock.Anything, mock.Anything, mock.Anything).Return()

	h := newTestHub(t, Options{Journal: journal})
	u1, conn1 := connect(t, h, "u1")
	_, conn2 := connect(t, h, "u2")
	joinRoom(t, conn1, "lobby")
	joinRoom(t, conn2, "lobby")
	conn1.expect(t, chat.MessageTypeUserJoined, nil)

	h.teardown(u1, ReasonHeartbeatTimeout)
	h.teardown(u1, ReasonReadError)
	conn1.drop()

	var left chat.PresencePayload
	conn2.expect(t, chat.MessageTypeUserLeft, &left)
	assert.Equal(t, "u1", left.SubjectID)
	conn2.expectSilence(t, 100*time.Millisecond)

	_, ok := h.registry.Lookup("u1")
	assert.False(t, ok)
	assert.Equal(t, []string{"u2"}, h.rooms.Members("lobby"))

	waitFor(t, func() bool {
		code, reason := conn1.closeStatus()
		return code == websocket.CloseGoingAway && reason == ReasonHeartbeatTimeout
	})

	journal.AssertCalled(t, "LogDisconnect", "u1", u1.ID(), ReasonHeartbeatTimeout)
	journal.AssertCalled(t, "LogRoomLeave", "u1", u1.ID(), "lobby")
	journal.AssertNumberOfCalls(t, "LogDisconnect", 1)
}

func TestHub_JoinAfterTeardownIsRefused(t *testing.T) {
	h := newTestHub(t, Options{})
	u1 := detachedClient(h, "u1")
	u2 := detachedClient(h, "u2")
	require.True(t, h.rooms.Join("u2", "lobby"))

	// A join that was already being handled when the heartbeat reaped u1.
	h.teardown(u1, ReasonHeartbeatTimeout)
	join, err := chat.NewEnvelope(chat.MessageTypeJoinRoom, chat.RoomPayload{Room: "lobby"})
	require.NoError(t, err)
	frame, err := join.Encode()
	require.NoError(t, err)
	h.router.HandleMessage(u1, frame)

	_, ok := h.registry.Lookup("u1")
	assert.False(t, ok)
	assert.Equal(t, []string{"u2"}, h.rooms.Members("lobby"))
	assert.Empty(t, h.rooms.RoomsOf("u1"))
	assert.Equal(t, []chat.RoomStat{{Room: "lobby", MemberCount: 1}}, h.Stats().RoomStats)
	assert.Empty(t, drain(t, u2), "no presence for a closed connection")

	reconnected := detachedClient(h, "u1")
	joined, err := h.rooms.JoinClient(reconnected, "lobby")
	require.NoError(t, err)
	assert.True(t, joined)

	got := drain(t, u2)
	require.Len(t, got, 1)
	assert.Equal(t, chat.MessageTypeUserJoined, got[0].Type)
	assert.JSONEq(t, `{"room":"lobby","subjectId":"u1","email":"u1@example.com"}`, string(got[0].Payload))
}

func TestHub_TeardownKeepsReplacementMemberships(t *testing.T) {
	h := newTestHub(t, Options{})
	old := detachedClient(h, "u1")
	_, err := h.rooms.JoinClient(old, "lobby")
	require.NoError(t, err)

	replacement := detachedClient(h, "u1")
	joined, err := h.rooms.JoinClient(replacement, "den")
	require.NoError(t, err)
	assert.True(t, joined)

	_, err = h.rooms.JoinClient(old, "attic")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	h.teardown(old, ReasonReadError)

	got, ok := h.registry.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Equal(t, []string{"den", "lobby"}, h.rooms.RoomsOf("u1"))
}

func TestHub_PerDestinationOrdering(t *testing.T) {
	h := newTestHub(t, Options{SendBuffer: 512})
	_, conn := connect(t, h, "u1")

	const n = 200
	for i := 0; i < n; i++ {
		env, err := chat.NewEnvelope(chat.MessageTypeConversationUpdated, chat.ConversationUpdatedPayload{MessageCount: i})
		require.NoError(t, err)
		require.True(t, h.registry.SendTo("u1", env))
	}

	for i := 0; i < n; i++ {
		var p chat.ConversationUpdatedPayload
		conn.expect(t, chat.MessageTypeConversationUpdated, &p)
		require.Equal(t, i, p.MessageCount)
	}
}

func TestHub_HeartbeatReapsSilentClients(t *testing.T) {
	h := newTestHub(t, Options{})
	_, quiet := connect(t, h, "quiet")
	_, lively := connect(t, h, "lively")
	joinRoom(t, quiet, "lobby")
	joinRoom(t, lively, "lobby")
	quiet.expect(t, chat.MessageTypeUserJoined, nil)

	h.sweep()
	assert.Equal(t, int32(1), quiet.pings.Load())
	assert.Equal(t, int32(1), lively.pings.Load())
	lively.pong()

	h.sweep()
	_, ok := h.registry.Lookup("quiet")
	assert.False(t, ok, "no pong within two sweeps")
	_, ok = h.registry.Lookup("lively")
	assert.True(t, ok)
	assert.Equal(t, int32(2), lively.pings.Load())

	var left chat.PresencePayload
	lively.expect(t, chat.MessageTypeUserLeft, &left)
	assert.Equal(t, "quiet", left.SubjectID)
	waitFor(t, func() bool {
		code, _ := quiet.closeStatus()
		return code == websocket.CloseGoingAway
	})
}

func TestHub_PingFailureTearsDown(t *testing.T) {
	h := newTestHub(t, Options{})
	c, conn := connect(t, h, "u1")
	conn.failPing.Store(true)

	h.sweep()
	_, ok := h.registry.Lookup("u1")
	assert.False(t, ok)
	assert.True(t, c.closed())
	assert.Equal(t, ReasonPingFailed, c.closeReason)
}

func TestHub_RunReapsWithinTwoIntervals(t *testing.T) {
	h := newTestHub(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	connect(t, h, "u1")
	waitFor(t, func() bool {
		_, ok := h.registry.Lookup("u1")
		return !ok
	})

	cancel()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHub_SupersededSession(t *testing.T) {
	h := newTestHub(t, Options{})
	old, oldConn := connect(t, h, "u1")
	_, peer := connect(t, h, "u2")
	joinRoom(t, oldConn, "lobby")
	joinRoom(t, peer, "lobby")
	oldConn.expect(t, chat.MessageTypeUserJoined, nil)

	replacement, newConn := connect(t, h, "u1")

	var p chat.ErrorPayload
	oldConn.expect(t, chat.MessageTypeError, &p)
	assert.Equal(t, chat.ErrorCodeSessionSuperseded, p.Code)
	waitFor(t, func() bool {
		code, _ := oldConn.closeStatus()
		return code == CloseSessionSuperseded
	})
	waitFor(t, func() bool { return old.tornDown.Load() })

	got, ok := h.registry.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.True(t, h.rooms.IsMember("u1", "lobby"), "membership carries over")
	peer.expectSilence(t, 100*time.Millisecond)

	newConn.deliver(t, chat.MessageTypeLeaveRoom, chat.RoomPayload{Room: "lobby"}, "")
	var state chat.RoomStatePayload
	newConn.expect(t, chat.MessageTypeRoomLeft, &state)
	assert.Equal(t, 1, state.Members)
	peer.expect(t, chat.MessageTypeUserLeft, nil)
}

func TestHub_StopClosesEverything(t *testing.T) {
	h := newTestHub(t, Options{})
	conns := make([]*fakeConn, 0, 3)
	for i := 0; i < 3; i++ {
		_, conn := connect(t, h, fmt.Sprintf("u%d", i))
		conns = append(conns, conn)
	}

	h.Stop()
	h.Stop()
	h.Wait()

	for _, conn := range conns {
		code, reason := conn.closeStatus()
		assert.Equal(t, websocket.CloseGoingAway, code)
		assert.Equal(t, ReasonShutdown, reason)
	}
	assert.Equal(t, 0, h.registry.Count())

	_, err := h.Attach(newFakeConn(), auth.Claims{SubjectID: "late"}, "")
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestHub_Stats(t *testing.T) {
	h := newTestHub(t, Options{})
	_, c1 := connect(t, h, "u1")
	_, c2 := connect(t, h, "u2")
	joinRoom(t, c1, "b")
	joinRoom(t, c1, "a")
	joinRoom(t, c2, "a")

	stats := h.Stats()
	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, 2, stats.TotalRooms)
	assert.Equal(t, []chat.RoomStat{{Room: "a", MemberCount: 2}, {Room: "b", MemberCount: 1}}, stats.RoomStats)
	assert.Equal(t, 0, stats.PendingGenerations)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activeConnections":2,"totalRooms":2,"roomStats":[{"room":"a","memberCount":2},{"room":"b","memberCount":1}],"pendingGenerations":0}`, string(raw))
}
