package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"go-chat-hub/pkg/chat"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLines = 200

type Model struct {
	messages       []string
	input          textinput.Model
	spinner        spinner.Model
	ws             *WSClient
	msgChan        chan tea.Msg
	subjectID      string
	conversationID string
	waiting        bool
	connected      bool
}

// NewModel wraps an already dialled connection. ws may be nil, in which case
// every command reports that the client is offline.
func NewModel(ws *WSClient, ch chan tea.Msg) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, /join <room>, /leave <room>, /new or /quit"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		input:     ti,
		spinner:   sp,
		ws:        ws,
		msgChan:   ch,
		connected: ws != nil,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m Model) listen() tea.Cmd {
	if m.msgChan == nil {
		return nil
	}
	return func() tea.Msg {
		return <-m.msgChan
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m.quit()
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m.submit(parseInput(text))
		default:
			m.input, cmd = m.input.Update(msg)
		}

	case envelopeMsg:
		wasWaiting := m.waiting
		m = m.apply(chat.Envelope(msg))
		if m.waiting && !wasWaiting {
			return m, tea.Batch(m.listen(), m.spinner.Tick)
		}
		return m, m.listen()

	case disconnectedMsg:
		m.connected = false
		m.waiting = false
		m.addLine(fmt.Sprintf("* disconnected: %v", msg.err))
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
	}

	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.ws != nil {
		_ = m.ws.Close()
	}
	return m, tea.Quit
}

func (m Model) submit(in action) (tea.Model, tea.Cmd) {
	switch in.kind {
	case inputQuit:
		return m.quit()
	case inputNew:
		m.conversationID = ""
		m.addLine("* started a new conversation")
		return m, nil
	case inputInvalid:
		m.addLine("* " + in.arg)
		return m, nil
	}

	if !m.connected {
		m.addLine("* not connected")
		return m, nil
	}

	var err error
	switch in.kind {
	case inputJoin:
		err = m.ws.Send(chat.MessageTypeJoinRoom, chat.RoomPayload{Room: in.arg})
	case inputLeave:
		err = m.ws.Send(chat.MessageTypeLeaveRoom, chat.RoomPayload{Room: in.arg})
	case inputChat:
		m.addLine("[you]: " + in.arg)
		err = m.ws.Send(chat.MessageTypeChatMessage, chat.ChatMessagePayload{
			ConversationID: m.conversationID,
			Content:        in.arg,
		})
	}
	if err != nil {
		m.addLine(fmt.Sprintf("* send failed: %v", err))
	}
	return m, nil
}

// apply folds an inbound envelope into the model.
func (m Model) apply(env chat.Envelope) Model {
	switch env.Type {
	case chat.MessageTypeConnected:
		var p chat.ConnectedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.subjectID = p.SubjectID
		}
	case chat.MessageTypeAITyping:
		m.waiting = true
	case chat.MessageTypeAIResponse:
		var p chat.AIResponsePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.conversationID = p.ConversationID
		}
		m.waiting = false
	case chat.MessageTypeError:
		m.waiting = false
	}

	if line := describe(env); line != "" {
		m.addLine(line)
	}
	return m
}

func (m *Model) addLine(line string) {
	m.messages = append(m.messages, line)
	if len(m.messages) > maxLines {
		m.messages = m.messages[len(m.messages)-maxLines:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	status := "offline"
	if m.connected {
		status = "connected as " + m.subjectID
	}
	if m.conversationID != "" {
		status += " | conversation " + m.conversationID
	}
	b.WriteString(status + "\n\n")

	for _, msg := range m.messages {
		b.WriteString(msg + "\n")
	}
	if m.waiting {
		b.WriteString(m.spinner.View() + " assistant is typing\n")
	}

	b.WriteString("\n" + m.input.View())
	b.WriteString("\n[Enter] to send, [Esc] to quit")
	return b.String()
}

type actionKind int

const (
	inputChat actionKind = iota
	inputJoin
	inputLeave
	inputNew
	inputQuit
	inputInvalid
)

type action struct {
	kind actionKind
	arg  string
}

func parseInput(text string) action {
	if !strings.HasPrefix(text, "/") {
		return action{kind: inputChat, arg: text}
	}

	command, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/join", "/leave":
		if arg == "" {
			return action{kind: inputInvalid, arg: "usage: " + command + " <room>"}
		}
		if command == "/join" {
			return action{kind: inputJoin, arg: arg}
		}
		return action{kind: inputLeave, arg: arg}
	case "/new":
		return action{kind: inputNew}
	case "/quit":
		return action{kind: inputQuit}
	default:
		return action{kind: inputInvalid, arg: "unknown command " + command}
	}
}

// describe renders an envelope as a transcript line. Typing notices are
// shown by the spinner instead.
func describe(env chat.Envelope) string {
	switch env.Type {
	case chat.MessageTypeConnected:
		var p chat.ConnectedPayload
		_ = json.Unmarshal(env.Payload, &p)
		return fmt.Sprintf("* connected as %s (%s)", p.SubjectID, p.ConnectionID)
	case chat.MessageTypeAIResponse:
		var p chat.AIResponsePayload
		_ = json.Unmarshal(env.Payload, &p)
		return fmt.Sprintf("[%s/%s]: %s", p.ProviderID, p.ModelID, p.Content)
	case chat.MessageTypeRoomJoined, chat.MessageTypeRoomLeft:
		var p chat.RoomStatePayload
		_ = json.Unmarshal(env.Payload, &p)
		verb := "joined"
		if env.Type == chat.MessageTypeRoomLeft {
			verb = "left"
		}
		return fmt.Sprintf("* %s %s (%d members)", verb, p.Room, p.Members)
	case chat.MessageTypeUserJoined, chat.MessageTypeUserLeft:
		var p chat.PresencePayload
		_ = json.Unmarshal(env.Payload, &p)
		verb := "joined"
		if env.Type == chat.MessageTypeUserLeft {
			verb = "left"
		}
		return fmt.Sprintf("* %s %s %s", p.SubjectID, verb, p.Room)
	case chat.MessageTypeConversationUpdated:
		var p chat.ConversationUpdatedPayload
		_ = json.Unmarshal(env.Payload, &p)
		return fmt.Sprintf("* %s updated %q (%d messages)", p.SubjectID, p.Title, p.MessageCount)
	case chat.MessageTypeError:
		var p chat.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		return fmt.Sprintf("! %s: %s", p.Code, p.Message)
	default:
		return ""
	}
}
