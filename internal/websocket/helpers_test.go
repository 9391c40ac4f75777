package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/conversation"
	"go-chat-hub/internal/llm"
	"go-chat-hub/internal/storage"
	"go-chat-hub/pkg/chat"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory Conn. Data frames written by the hub arrive on
// frames; inbound frames are pushed with deliver.
type fakeConn struct {
	inbound chan []byte
	frames  chan []byte
	gone    chan struct{}
	goneOne sync.Once

	mu          sync.Mutex
	pongHandler func(string) error
	closeCode   int
	closeText   string
	readLimit   int64

	pings     atomic.Int32
	failPing  atomic.Bool
	failWrite atomic.Bool
	closed    atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		frames:  make(chan []byte, 1024),
		gone:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.gone:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	if f.closed.Load() || f.failWrite.Load() {
		return websocket.ErrCloseSent
	}
	f.frames <- data
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	switch messageType {
	case websocket.PingMessage:
		f.pings.Add(1)
		if f.failPing.Load() {
			return errors.New("broken pipe")
		}
	case websocket.CloseMessage:
		f.mu.Lock()
		if len(data) >= 2 {
			f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
			f.closeText = string(data[2:])
		}
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	f.drop()
	return nil
}

// drop makes the peer vanish: reads fail as if the TCP stream was cut.
func (f *fakeConn) drop() {
	f.goneOne.Do(func() { close(f.gone) })
}

func (f *fakeConn) pong() {
	f.mu.Lock()
	h := f.pongHandler
	f.mu.Unlock()
	if h != nil {
		h("")
	}
}

func (f *fakeConn) closeStatus() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeText
}

func (f *fakeConn) deliver(t *testing.T, typ chat.MessageType, payload any, requestID string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(chat.Envelope{Type: typ, Payload: raw, Timestamp: chat.Now(), RequestID: requestID})
	require.NoError(t, err)
	f.inbound <- frame
}

func (f *fakeConn) next(t *testing.T) chat.Envelope {
	t.Helper()
	select {
	case frame := <-f.frames:
		var env chat.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return chat.Envelope{}
	}
}

func (f *fakeConn) expect(t *testing.T, typ chat.MessageType, payload any) chat.Envelope {
	t.Helper()
	env := f.next(t)
	require.Equal(t, typ, env.Type, "payload: %s", env.Payload)
	if payload != nil {
		require.NoError(t, json.Unmarshal(env.Payload, payload))
	}
	return env
}

func (f *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame := <-f.frames:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(d):
	}
}

type generatorFunc func(ctx context.Context, req *llm.Request) (*llm.Reply, error)

func (g generatorFunc) Generate(ctx context.Context, req *llm.Request) (*llm.Reply, error) {
	return g(ctx, req)
}

func echoGenerator() llm.Generator {
	return generatorFunc(func(_ context.Context, req *llm.Request) (*llm.Reply, error) {
		last := req.History[len(req.History)-1]
		return &llm.Reply{Content: "re: " + last.Content, TokensUsed: 3, ModelID: "test-model", ProviderID: "test"}, nil
	})
}

// mockJournal records lifecycle events.
type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) LogConnect(subjectID, connectionID, remoteAddr string) {
	m.Called(subjectID, connectionID, remoteAddr)
}

func (m *mockJournal) LogDisconnect(subjectID, connectionID, reason string) {
	m.Called(subjectID, connectionID, reason)
}

func (m *mockJournal) LogRoomJoin(subjectID, connectionID, room string) {
	m.Called(subjectID, connectionID, room)
}

func (m *mockJournal) LogRoomLeave(subjectID, connectionID, room string) {
	m.Called(subjectID, connectionID, room)
}

func newTestStore(t *testing.T) *conversation.ConversationService {
	t.Helper()
	db, err := storage.Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(db) })
	return conversation.NewConversationService(db)
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newTestStore(t)
	}
	if opts.Generator == nil {
		opts.Generator = echoGenerator()
	}
	h := NewHub(opts)
	t.Cleanup(func() {
		h.Stop()
		h.Wait()
	})
	return h
}

// connect attaches a fake connection for subjectID and consumes the
// connected envelope.
func connect(t *testing.T, h *Hub, subjectID string) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c, err := h.Attach(conn, auth.Claims{SubjectID: subjectID, Email: subjectID + "@example.com", Role: "user"}, "127.0.0.1:1234")
	require.NoError(t, err)
	conn.expect(t, chat.MessageTypeConnected, nil)
	return c, conn
}

func joinRoom(t *testing.T, conn *fakeConn, room string) chat.RoomStatePayload {
	t.Helper()
	conn.deliver(t, chat.MessageTypeJoinRoom, chat.RoomPayload{Room: room}, "")
	var state chat.RoomStatePayload
	conn.expect(t, chat.MessageTypeRoomJoined, &state)
	return state
}

// detachedClient builds a registered client with no pumps running, for
// registry and directory unit tests.
func detachedClient(h *Hub, subjectID string) *Client {
	c := newClient(h, newFakeConn(), auth.Claims{SubjectID: subjectID, Email: subjectID + "@example.com"}, "")
	h.registry.Register(c)
	return c
}

func drain(t *testing.T, c *Client) []chat.Envelope {
	t.Helper()
	var out []chat.Envelope
	for {
		select {
		case frame := <-c.send:
			var env chat.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
