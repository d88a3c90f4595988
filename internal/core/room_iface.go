package core

import (
	"github.com/dkeye/Parley/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"userId"`
	Username string        `json:"userName"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set, the session metadata and the start/stop lock
// but never touches transport resources. It is not safe for concurrent use:
// a single owner goroutine drives every room.
type RoomService interface {
	Room() *domain.Room
	// MemberCount counts distinct users, not connections.
	MemberCount() int
	MembersSnapshot() []MemberDTO

	// AddMember reports whether the user was not yet a member.
	AddMember(sid SessionID, ms MemberSession) bool
	// RemoveMember reports whether the user's last connection left.
	RemoveMember(sid SessionID) (*domain.User, bool)
	Broadcast(from SessionID, data Frame, includeSender bool) PublishResult

	Metadata() domain.SessionMetadata
	ApplyMetadata(p domain.MetadataPatch) domain.SessionMetadata
	Lock() *Lock
}

type RoomInfo struct {
	Name        domain.ChannelName `json:"name"`
	MemberCount int                `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.ChannelName) RoomService
	Get(name domain.ChannelName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.ChannelName)
}
