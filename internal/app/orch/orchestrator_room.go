package orch

import (
	"strings"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	msgMissingFields = "Missing required fields: channel, userId, userName"
	msgNotJoined     = "You must join a channel first"
	msgWrongChannel  = "Not a member of that channel"
	msgInvalidUser   = "Invalid user"
)

// JoinChannel registers sid as a member of p.Channel. Joining again with the
// same channel and user only refreshes the display name.
func (o *Orchestrator) JoinChannel(sid core.SessionID, ref string, p protocol.JoinPayload) {
	channel := domain.ChannelName(strings.TrimSpace(string(p.Channel)))
	if channel == "" || strings.TrimSpace(string(p.UserID)) == "" || strings.TrimSpace(p.UserName) == "" {
		o.fail(sid, ref, msgMissingFields, domain.ErrMissingField)
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}

	if prevChannel, prevUser, ok := o.Registry.Identity(sid); ok {
		if prevChannel == channel && prevUser.ID == domain.UserID(strings.TrimSpace(string(p.UserID))) {
			if err := prevUser.SetUsername(p.UserName); err != nil {
				o.fail(sid, ref, msgInvalidUser, err)
				return
			}
			room := o.Rooms.GetOrCreate(channel)
			o.confirmJoin(sid, ref, room, prevUser)
			return
		}
	}

	user, err := domain.NewUser(string(p.UserID), p.UserName)
	if err != nil {
		o.fail(sid, ref, msgInvalidUser, err)
		return
	}
	// Stale membership of an earlier (channel, user) goes first.
	o.leave(sid)

	o.Registry.SetIdentity(sid, channel, user)
	room := o.Rooms.GetOrCreate(channel)
	if room.AddMember(sid, sess) {
		o.broadcast(room, sid, protocol.UserJoined, protocol.PresencePayload{
			UserID:   user.ID,
			UserName: user.Username,
			Channel:  channel,
		}, false)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(channel)).Str("user", string(user.ID)).Int("members", room.MemberCount()).Msg("joined channel")
	o.confirmJoin(sid, ref, room, user)
}

func (o *Orchestrator) confirmJoin(sid core.SessionID, ref string, room core.RoomService, user *domain.User) {
	members := lo.Map(room.MembersSnapshot(), func(m core.MemberDTO, _ int) protocol.MemberInfo {
		return protocol.MemberInfo{UserID: m.ID, UserName: m.Username}
	})
	o.send(sid, protocol.ChannelJoined, ref, protocol.ChannelJoinedPayload{
		Channel:  room.Room().Name,
		UserID:   user.ID,
		UserName: user.Username,
		Members:  members,
		Metadata: room.Metadata(),
	})
}

// LeaveChannel removes sid from its channel. A channel in the payload must
// match the recorded one.
func (o *Orchestrator) LeaveChannel(sid core.SessionID, ref string, p protocol.LeavePayload) {
	channel, user, ok := o.Registry.Identity(sid)
	if !ok {
		o.fail(sid, ref, msgNotJoined, domain.ErrNotJoined)
		return
	}
	if (p.Channel != "" && p.Channel != channel) || (p.UserID != "" && p.UserID != user.ID) {
		o.fail(sid, ref, msgWrongChannel, domain.ErrWrongChannel)
		return
	}
	o.leave(sid)
	if ref != "" {
		o.send(sid, protocol.Ack, ref, nil)
	}
}

// leave drops sid from its recorded channel, hands the lock on and deletes
// the room once nobody is left.
func (o *Orchestrator) leave(sid core.SessionID) {
	channel, _, ok := o.Registry.Identity(sid)
	if !ok {
		return
	}
	defer o.Registry.ClearIdentity(sid)

	room, ok := o.Rooms.Get(channel)
	if !ok {
		return
	}
	user, last := room.RemoveMember(sid)
	if user != nil && last {
		o.broadcast(room, sid, protocol.UserLeft, protocol.PresencePayload{
			UserID:   user.ID,
			UserName: user.Username,
			Channel:  channel,
		}, false)
	}
	// waiters learn about the departure before they learn they hold the lock
	if next := room.Lock().Drop(sid); next != nil {
		o.grant(room, next)
	}
	if user == nil {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(channel)).Str("user", string(user.ID)).Int("members", room.MemberCount()).Msg("left channel")
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(channel)
	}
}

// identity resolves sid's channel and user or reports the join-first error.
func (o *Orchestrator) identity(sid core.SessionID, ref string) (core.RoomService, *domain.User, bool) {
	channel, user, ok := o.Registry.Identity(sid)
	if !ok {
		o.fail(sid, ref, msgNotJoined, domain.ErrNotJoined)
		return nil, nil, false
	}
	room, ok := o.Rooms.Get(channel)
	if !ok {
		o.fail(sid, ref, msgNotJoined, domain.ErrNotJoined)
		return nil, nil, false
	}
	return room, user, true
}

func (o *Orchestrator) checkChannel(sid core.SessionID, ref string, room core.RoomService, requested domain.ChannelName) bool {
	if requested != "" && requested != room.Room().Name {
		o.fail(sid, ref, msgWrongChannel, domain.ErrWrongChannel)
		return false
	}
	return true
}
