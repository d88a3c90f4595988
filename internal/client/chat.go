package client

import (
	"context"

	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/chat"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ChatManager keeps the local chat log and relays transcriptions.
type ChatManager struct {
	conn *Conn
	bus  *bus.Bus
	log  *chat.Log
}

func NewChatManager(conn *Conn, b *bus.Bus) *ChatManager {
	m := &ChatManager{conn: conn, bus: b, log: chat.NewLog()}
	bus.On(b, m.onChat)
	bus.On(b, m.onTranscription)
	return m
}

// Send shows the message at once as pending and relays it. The relay echo
// replaces the pending copy.
func (m *ChatManager) Send(ctx context.Context, content string) (domain.ChatMessage, error) {
	content, err := domain.NormalizeContent(content)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	ident, ok := m.conn.Identity()
	if !ok {
		return domain.ChatMessage{}, ErrNotJoined
	}
	if !m.conn.Connected() {
		return domain.ChatMessage{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}

	ts := domain.NowMillis()
	msg := domain.ChatMessage{
		ID:        domain.NewTempID(ts),
		UserID:    ident.UserID,
		UserName:  ident.UserName,
		Content:   content,
		Timestamp: ts,
		Channel:   ident.Channel,
	}
	wire := msg
	wire.ID = domain.NewMessageID(ident.UserID, ts)

	m.log.AddOptimistic(msg, wire.ID)
	m.emit()
	if err := m.conn.Send(protocol.ChatMessage, wire); err != nil {
		m.log.Discard(msg.ID)
		m.emit()
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

func (m *ChatManager) Messages() []chat.Entry {
	return m.log.Messages()
}

func (m *ChatManager) onChat(e ChatReceived) {
	if m.log.Confirm(e.Message).Changed() {
		m.emit()
	}
}

func (m *ChatManager) emit() {
	m.bus.Emit(ChatUpdated{Messages: m.log.Messages()})
}

// SendTranscription relays a local fragment in textstream shape.
func (m *ChatManager) SendTranscription(ctx context.Context, frag domain.Fragment) error {
	ident, ok := m.conn.Identity()
	if !ok {
		return ErrNotJoined
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := frag.Textstream()
	return m.conn.Send(protocol.Transcription, protocol.TranscriptionPayload{
		UserID:     ident.UserID,
		UserName:   ident.UserName,
		Textstream: &ts,
		Channel:    ident.Channel,
	})
}

// onTranscription drops our own echoes; local fragments are shown directly.
func (m *ChatManager) onTranscription(e TranscriptionReceived) {
	if e.Textstream == nil {
		return
	}
	if ident, ok := m.conn.Identity(); ok && ident.UserID == e.UserID {
		log.Debug().Str("module", "client.chat").Msg("own transcription echo dropped")
		return
	}
	m.bus.Emit(RemoteFragment{Fragment: domain.FragmentFromTextstream(*e.Textstream, e.UserID, e.UserName)})
}
