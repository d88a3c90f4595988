package core

import (
	"sort"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// roomImpl is an in-memory room owned by the orchestrator loop.
// It never closes adapter-owned resources.
type roomImpl struct {
	room     *domain.Room
	bySID    map[SessionID]MemberSession
	byUser   map[domain.UserID]map[SessionID]struct{}
	metadata domain.SessionMetadata
	lock     *Lock
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:     room,
		bySID:    make(map[SessionID]MemberSession),
		byUser:   make(map[domain.UserID]map[SessionID]struct{}),
		metadata: domain.NewSessionMetadata(),
		lock:     NewLock(),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int { return len(r.byUser) }

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) bool {
	u := ms.Meta().User.ID
	r.bySID[sid] = ms
	sids, ok := r.byUser[u]
	if !ok {
		sids = make(map[SessionID]struct{})
		r.byUser[u] = sids
	}
	sids[sid] = struct{}{}
	log.Info().Str("module", "core.room").Str("channel", string(r.room.Name)).Str("sid", string(sid)).Str("user", string(u)).Msg("member added")
	return !ok
}

func (r *roomImpl) RemoveMember(sid SessionID) (*domain.User, bool) {
	ms, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	delete(r.bySID, sid)
	user := ms.Meta().User
	last := false
	if sids, ok := r.byUser[user.ID]; ok {
		delete(sids, sid)
		if len(sids) == 0 {
			delete(r.byUser, user.ID)
			last = true
		}
	}
	log.Info().Str("module", "core.room").Str("channel", string(r.room.Name)).Str("sid", string(sid)).Bool("last", last).Msg("member removed")
	return user, last
}

func (r *roomImpl) Broadcast(from SessionID, data Frame, includeSender bool) PublishResult {
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from && !includeSender {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	ids := lo.Keys(r.byUser)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]MemberDTO, 0, len(ids))
	for _, id := range ids {
		for sid := range r.byUser[id] {
			u := r.bySID[sid].Meta().User
			out = append(out, MemberDTO{ID: u.ID, Username: u.Username})
			break
		}
	}
	return out
}

func (r *roomImpl) Metadata() domain.SessionMetadata { return r.metadata }

func (r *roomImpl) ApplyMetadata(p domain.MetadataPatch) domain.SessionMetadata {
	r.metadata = r.metadata.Apply(p)
	log.Info().Str("module", "core.room").Str("channel", string(r.room.Name)).Str("status", string(r.metadata.Status)).Msg("metadata updated")
	return r.metadata
}

func (r *roomImpl) Lock() *Lock { return r.lock }
