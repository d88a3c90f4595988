package app

import (
	"context"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Channel domain.ChannelName
	User    *domain.User
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps connection identity to the (channel, user) it last joined
// with. It has no lock: only the orchestrator loop touches it.
type Registry struct {
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Identity returns the channel and user recorded for sid by its last join.
func (r *Registry) Identity(sid core.SessionID) (domain.ChannelName, *domain.User, bool) {
	entry, ok := r.sessions[sid]
	if !ok || entry.Channel == "" || entry.User == nil {
		return "", nil, false
	}
	return entry.Channel, entry.User, true
}

func (r *Registry) SetIdentity(sid core.SessionID, channel domain.ChannelName, user *domain.User) bool {
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Channel = channel
	entry.User = user
	if m := entry.Session.Meta(); m != nil {
		m.User = user
		m.Channel = channel
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("channel", string(channel)).Str("user", string(user.ID)).Msg("updated identity")
	return true
}

func (r *Registry) ClearIdentity(sid core.SessionID) {
	if entry, ok := r.sessions[sid]; ok {
		entry.Channel = ""
		entry.User = nil
		if m := entry.Session.Meta(); m != nil {
			m.Channel = ""
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed channel association")
}

func (r *Registry) Len() int { return len(r.sessions) }

func (r *Registry) Cancel(sid core.SessionID) bool {
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
