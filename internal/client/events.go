package client

import (
	"github.com/dkeye/Parley/internal/chat"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
)

// Connection lifecycle.

type Connected struct{}

func (Connected) EventName() string { return "connected" }

type Disconnected struct{ Err error }

func (Disconnected) EventName() string { return "disconnected" }

// ConnectFailed is emitted for every failed dial. Final is set when no more
// attempts will be made.
type ConnectFailed struct {
	Attempt int
	Final   bool
	Err     error
}

func (ConnectFailed) EventName() string { return "connectFailed" }

// Relay events, one per wire event.

type ChannelJoined struct{ protocol.ChannelJoinedPayload }

func (ChannelJoined) EventName() string { return "channelJoined" }

type UserJoined struct{ protocol.PresencePayload }

func (UserJoined) EventName() string { return "userJoined" }

type UserLeft struct{ protocol.PresencePayload }

func (UserLeft) EventName() string { return "userLeft" }

type ChatReceived struct{ Message domain.ChatMessage }

func (ChatReceived) EventName() string { return "chatMessageReceived" }

type TranscriptionReceived struct{ protocol.TranscriptionPayload }

func (TranscriptionReceived) EventName() string { return "transcriptionReceived" }

type MetadataChanged struct{ protocol.MetadataChangedPayload }

func (MetadataChanged) EventName() string { return "metadataChanged" }

type ErrorReceived struct {
	Ref string
	protocol.ErrorPayload
}

func (ErrorReceived) EventName() string { return "error" }

// Derived state.

type UsersChanged struct{ Members []protocol.MemberInfo }

func (UsersChanged) EventName() string { return "usersChanged" }

type MetadataUpdated struct {
	Metadata domain.SessionMetadata
	Previous domain.SessionMetadata
}

func (MetadataUpdated) EventName() string { return "metadataUpdated" }

type ChatUpdated struct{ Messages []chat.Entry }

func (ChatUpdated) EventName() string { return "chatUpdated" }

// RemoteFragment is a relayed transcription from another participant.
type RemoteFragment struct{ Fragment domain.Fragment }

func (RemoteFragment) EventName() string { return "remoteFragment" }

type CaptionsUpdated struct{ Lines []domain.Fragment }

func (CaptionsUpdated) EventName() string { return "captionsUpdated" }

type TranscriptionFailed struct{ Err error }

func (TranscriptionFailed) EventName() string { return "transcriptionFailed" }

type NetworkQuality struct{ Quality string }

func (NetworkQuality) EventName() string { return "networkQuality" }
