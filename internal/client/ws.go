package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go-chat-hub/pkg/chat"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

type envelopeMsg chat.Envelope

type disconnectedMsg struct {
	err error
}

type WSClient struct {
	conn *websocket.Conn
	ch   chan tea.Msg
}

// Dial connects to the hub's /ws endpoint, presenting token as a bearer
// credential.
func Dial(rawURL, token string, ch chan tea.Msg) (*WSClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &WSClient{conn: conn, ch: ch}, nil
}

// Start forwards every inbound envelope to the program. Reading also answers
// the hub's pings.
func (c *WSClient) Start() {
	go func() {
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.ch <- disconnectedMsg{err: err}
				return
			}
			var env chat.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			c.ch <- envelopeMsg(env)
		}
	}()
}

func (c *WSClient) Send(t chat.MessageType, payload any) error {
	env, err := chat.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
