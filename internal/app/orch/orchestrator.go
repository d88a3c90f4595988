package orch

import (
	"context"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the relay. Every operation runs on the goroutine started
// by Run, so Registry and Rooms are never touched concurrently. Adapters
// hand work to it with Submit or Call.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy

	cmds chan func()
	done chan struct{}
}

func New(registry *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	if policy == nil {
		policy = app.DropPolicy{}
	}
	return &Orchestrator{
		Registry: registry,
		Rooms:    rooms,
		Policy:   policy,
		cmds:     make(chan func(), 256),
		done:     make(chan struct{}),
	}
}

// Run executes submitted commands until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	log.Info().Str("module", "orch").Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("relay loop stopped")
			return ctx.Err()
		case fn := <-o.cmds:
			fn()
		}
	}
}

// Submit queues fn on the loop. It reports false once the loop has stopped.
func (o *Orchestrator) Submit(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.cmds <- fn:
		return true
	case <-o.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result.
func Call[T any](o *Orchestrator, fn func() T) (T, bool) {
	reply := make(chan T, 1)
	var zero T
	if !o.Submit(func() { reply <- fn() }) {
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-o.done:
		return zero, false
	}
}

// Connect registers a freshly accepted connection. cancel tears the
// connection down and is used when the backpressure policy kicks it.
func (o *Orchestrator) Connect(sid core.SessionID, signal core.SignalConnection, cancel context.CancelFunc) {
	sess := core.NewMemberSession(&domain.Member{}, signal)
	o.Registry.BindSignal(sid, sess, cancel)
}

// OnDisconnect is treated like a leave of the last recorded channel.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.leave(sid)
	o.Registry.Unbind(sid)
}

// Members returns the member list of a room, or false when it does not exist.
func (o *Orchestrator) Members(name domain.ChannelName) ([]core.MemberDTO, bool) {
	room, ok := o.Rooms.Get(name)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}

func (o *Orchestrator) send(sid core.SessionID, t protocol.EventType, ref string, payload any) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	frame, err := protocol.Encode(t, ref, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("encode failed")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		o.onSlow(nil, sid)
	}
}

func (o *Orchestrator) broadcast(room core.RoomService, from core.SessionID, t protocol.EventType, payload any, includeSender bool) int {
	frame, err := protocol.Encode(t, "", payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("channel", string(room.Room().Name)).Msg("encode failed")
		return 0
	}
	res := room.Broadcast(from, frame, includeSender)
	for _, slow := range res.Dropped {
		o.onSlow(room, slow)
	}
	return res.SendTo
}

func (o *Orchestrator) onSlow(room core.RoomService, sid core.SessionID) {
	switch o.Policy.OnBackPressure(room, sid) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("send buffer full, kicking member")
		o.Registry.Cancel(sid)
	case app.DropFrame:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("send buffer full, frame dropped")
	}
}

// fail reports a precondition violation to the caller only.
func (o *Orchestrator) fail(sid core.SessionID, ref, message string, err error) {
	ev := log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("reason", message)
	payload := protocol.ErrorPayload{Message: message}
	if err != nil {
		ev = ev.Err(err)
		payload.Error = err.Error()
	}
	ev.Msg("request rejected")
	o.send(sid, protocol.Error, ref, payload)
}
