package orch

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	msgLockRejected = "Lock request rejected"
	msgLockNotHeld  = "You must hold the session lock"
	msgEmptyPatch   = "Metadata patch cannot be empty"
)

// AcquireLock queues sid on the room lock. The grant is answered with
// lockAcquired carrying the ref of this request, possibly much later.
func (o *Orchestrator) AcquireLock(sid core.SessionID, ref string) {
	room, _, ok := o.identity(sid, ref)
	if !ok {
		return
	}
	granted, err := room.Lock().Acquire(sid, ref)
	if err != nil {
		o.fail(sid, ref, msgLockRejected, err)
		return
	}
	if !granted {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(room.Room().Name)).Int("waiting", room.Lock().Waiting()).Msg("lock queued")
		return
	}
	o.grant(room, &core.Grant{SID: sid, Ref: ref})
}

// ReleaseLock frees the lock or withdraws a pending request.
func (o *Orchestrator) ReleaseLock(sid core.SessionID, ref string) {
	room, _, ok := o.identity(sid, ref)
	if !ok {
		return
	}
	next, err := room.Lock().Release(sid)
	if err != nil {
		o.fail(sid, ref, msgLockNotHeld, err)
		return
	}
	o.send(sid, protocol.Ack, ref, nil)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(room.Room().Name)).Msg("lock released")
	if next != nil {
		o.grant(room, next)
	}
}

func (o *Orchestrator) grant(room core.RoomService, g *core.Grant) {
	log.Info().Str("module", "orch").Str("sid", string(g.SID)).Str("channel", string(room.Room().Name)).Msg("lock granted")
	o.send(g.SID, protocol.LockAcquired, g.Ref, protocol.LockPayload{Channel: room.Room().Name})
}

// UpdateMetadata merges the patch into the room metadata. Only the lock
// holder may do this; every member, the caller included, is told.
func (o *Orchestrator) UpdateMetadata(sid core.SessionID, ref string, p protocol.MetadataUpdatePayload) {
	room, _, ok := o.identity(sid, ref)
	if !ok {
		return
	}
	if holder, held := room.Lock().Holder(); !held || holder != sid {
		o.fail(sid, ref, msgLockNotHeld, core.ErrLockNotHeld)
		return
	}
	if p.Patch.Empty() {
		o.fail(sid, ref, msgEmptyPatch, nil)
		return
	}
	md := room.ApplyMetadata(p.Patch)
	o.send(sid, protocol.Ack, ref, nil)
	o.broadcast(room, sid, protocol.MetadataChanged, protocol.MetadataChangedPayload{
		Channel:  room.Room().Name,
		Metadata: md,
	}, true)
}

// Metadata returns the current metadata of a room.
func (o *Orchestrator) Metadata(name domain.ChannelName) (domain.SessionMetadata, bool) {
	room, ok := o.Rooms.Get(name)
	if !ok {
		return domain.SessionMetadata{}, false
	}
	return room.Metadata(), true
}
