package orch

import (
	"errors"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
)

const (
	msgBadPayload   = "Invalid payload"
	msgUnknownEvent = "Unknown event type"
)

// Handle dispatches one decoded client frame.
func (o *Orchestrator) Handle(sid core.SessionID, env protocol.Envelope) {
	switch env.Type {
	case protocol.JoinChannel:
		var p protocol.JoinPayload
		if err := env.Bind(&p); err != nil {
			if errors.Is(err, protocol.ErrEmptyPayload) {
				o.fail(sid, env.Ref, msgMissingFields, domain.ErrMissingField)
				return
			}
			o.fail(sid, env.Ref, msgBadPayload, err)
			return
		}
		o.JoinChannel(sid, env.Ref, p)

	case protocol.LeaveChannel:
		var p protocol.LeavePayload
		if err := env.Bind(&p); err != nil && !errors.Is(err, protocol.ErrEmptyPayload) {
			o.fail(sid, env.Ref, msgBadPayload, err)
			return
		}
		o.LeaveChannel(sid, env.Ref, p)

	case protocol.ChatMessage:
		var m domain.ChatMessage
		if err := env.Bind(&m); err != nil {
			if errors.Is(err, protocol.ErrEmptyPayload) {
				o.fail(sid, env.Ref, msgEmptyContent, domain.ErrEmptyContent)
				return
			}
			o.fail(sid, env.Ref, msgBadPayload, err)
			return
		}
		o.ChatMessage(sid, env.Ref, m)

	case protocol.Transcription:
		var p protocol.TranscriptionPayload
		if err := env.Bind(&p); err != nil {
			if errors.Is(err, protocol.ErrEmptyPayload) {
				o.fail(sid, env.Ref, msgEmptyTextstream, domain.ErrEmptyTextstream)
				return
			}
			o.fail(sid, env.Ref, msgBadPayload, err)
			return
		}
		o.Transcription(sid, env.Ref, p)

	case protocol.AcquireLock:
		o.AcquireLock(sid, env.Ref)

	case protocol.ReleaseLock:
		o.ReleaseLock(sid, env.Ref)

	case protocol.UpdateMetadata:
		var p protocol.MetadataUpdatePayload
		if err := env.Bind(&p); err != nil {
			o.fail(sid, env.Ref, msgBadPayload, err)
			return
		}
		o.UpdateMetadata(sid, env.Ref, p)

	case protocol.Ping:
		o.send(sid, protocol.Pong, env.Ref, nil)

	default:
		o.fail(sid, env.Ref, msgUnknownEvent, nil)
	}
}
