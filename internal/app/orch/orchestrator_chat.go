package orch

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	msgEmptyContent    = "Message content cannot be empty"
	msgEmptyTextstream = "Transcription textstream cannot be empty"
	previewLen         = 50
)

// ChatMessage builds the canonical message and sends it to every member,
// the sender included, so the sender can reconcile its optimistic copy.
func (o *Orchestrator) ChatMessage(sid core.SessionID, ref string, m domain.ChatMessage) {
	room, user, ok := o.identity(sid, ref)
	if !ok {
		return
	}
	if !o.checkChannel(sid, ref, room, m.Channel) {
		return
	}
	content, err := domain.NormalizeContent(m.Content)
	if err != nil {
		o.fail(sid, ref, msgEmptyContent, err)
		return
	}

	msg := domain.ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Content:   content,
		Timestamp: m.Timestamp,
		Channel:   room.Room().Name,
	}
	if msg.UserID == "" {
		msg.UserID = user.ID
	}
	if msg.UserName == "" {
		msg.UserName = user.Username
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = domain.NowMillis()
	}
	if msg.ID == "" {
		msg.ID = domain.MessageID(msg.UserID, msg.Timestamp)
	}

	sent := o.broadcast(room, sid, protocol.ChatMessage, msg, true)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(msg.Channel)).Str("id", msg.ID).Str("preview", domain.Preview(content, previewLen)).Int("sent_to", sent).Msg("chat message")
}

// Transcription relays a fragment to every member except the sender.
func (o *Orchestrator) Transcription(sid core.SessionID, ref string, p protocol.TranscriptionPayload) {
	room, user, ok := o.identity(sid, ref)
	if !ok {
		return
	}
	if !o.checkChannel(sid, ref, room, p.Channel) {
		return
	}
	if p.Textstream == nil || len(p.Textstream.Words) == 0 {
		o.fail(sid, ref, msgEmptyTextstream, domain.ErrEmptyTextstream)
		return
	}
	out := protocol.TranscriptionPayload{
		UserID:     p.UserID,
		UserName:   p.UserName,
		Textstream: p.Textstream,
		Channel:    room.Room().Name,
	}
	if out.UserID == "" {
		out.UserID = user.ID
	}
	if out.UserName == "" {
		out.UserName = user.Username
	}
	sent := o.broadcast(room, sid, protocol.Transcription, out, false)
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(out.Channel)).Int("sent_to", sent).Msg("transcription relayed")
}
