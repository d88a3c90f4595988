// Package protocol defines the wire envelope exchanged over the persistent
// relay connection and the payload of every event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Parley/internal/domain"
)

type EventType string

const (
	JoinChannel     EventType = "joinChannel"
	ChannelJoined   EventType = "channelJoined"
	UserJoined      EventType = "userJoined"
	UserLeft        EventType = "userLeft"
	ChatMessage     EventType = "chatMessage"
	Transcription   EventType = "transcription"
	LeaveChannel    EventType = "leaveChannel"
	Error           EventType = "error"
	AcquireLock     EventType = "acquireLock"
	LockAcquired    EventType = "lockAcquired"
	ReleaseLock     EventType = "releaseLock"
	UpdateMetadata  EventType = "updateMetadata"
	MetadataChanged EventType = "metadataChanged"
	Ack             EventType = "ack"
	Ping            EventType = "ping"
	Pong            EventType = "pong"
)

var ErrEmptyPayload = errors.New("empty payload")

// Envelope is one frame on the wire. Ref correlates a request with its
// ack, lockAcquired or error reply.
type Envelope struct {
	Type EventType       `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(t EventType, ref string, payload any) ([]byte, error) {
	env := Envelope{Type: t, Ref: ref}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode envelope: missing type")
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("bind %s payload: %w", e.Type, err)
	}
	return nil
}

type MemberInfo struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
}

type JoinPayload struct {
	Channel  domain.ChannelName `json:"channel"`
	UserID   domain.UserID      `json:"userId"`
	UserName string             `json:"userName"`
}

type ChannelJoinedPayload struct {
	Channel  domain.ChannelName     `json:"channel"`
	UserID   domain.UserID          `json:"userId"`
	UserName string                 `json:"userName"`
	Members  []MemberInfo           `json:"members"`
	Metadata domain.SessionMetadata `json:"metadata"`
}

// PresencePayload carries userJoined and userLeft notices.
type PresencePayload struct {
	UserID   domain.UserID      `json:"userId"`
	UserName string             `json:"userName,omitempty"`
	Channel  domain.ChannelName `json:"channel"`
}

type TranscriptionPayload struct {
	UserID     domain.UserID      `json:"userId"`
	UserName   string             `json:"userName"`
	Textstream *domain.Textstream `json:"textstream"`
	Channel    domain.ChannelName `json:"channel"`
}

type LeavePayload struct {
	Channel domain.ChannelName `json:"channel"`
	UserID  domain.UserID      `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type LockPayload struct {
	Channel domain.ChannelName `json:"channel"`
}

type MetadataUpdatePayload struct {
	Patch domain.MetadataPatch `json:"patch"`
}

type MetadataChangedPayload struct {
	Channel  domain.ChannelName     `json:"channel"`
	Metadata domain.SessionMetadata `json:"metadata"`
}
