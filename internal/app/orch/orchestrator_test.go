package orch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	frames []core.Frame
	full   bool
	closed bool
}

func (r *recorder) TrySend(f core.Frame) error {
	if r.full {
		return errors.New("full")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() { r.closed = true }

func (r *recorder) events(t *testing.T) []protocol.Envelope {
	t.Helper()
	out := make([]protocol.Envelope, 0, len(r.frames))
	for _, f := range r.frames {
		env, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (r *recorder) count(t *testing.T, typ protocol.EventType) int {
	n := 0
	for _, env := range r.events(t) {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last(t *testing.T) protocol.Envelope {
	t.Helper()
	evs := r.events(t)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func (r *recorder) reset() { r.frames = nil }

func newOrch() *Orchestrator {
	return New(app.NewRegistry(), app.NewRoomManager(), app.DropPolicy{})
}

func connect(o *Orchestrator, sid core.SessionID) *recorder {
	rec := &recorder{}
	o.Connect(sid, rec, func() {})
	return rec
}

func join(o *Orchestrator, sid core.SessionID, channel, uid, name string) {
	o.JoinChannel(sid, "", protocol.JoinPayload{
		Channel:  domain.ChannelName(channel),
		UserID:   domain.UserID(uid),
		UserName: name,
	})
}

func errorMessage(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	require.Equal(t, protocol.Error, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, env.Bind(&p))
	return p.Message
}

func TestJoin_MissingFieldsRejected(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")

	o.JoinChannel("s1", "r1", protocol.JoinPayload{Channel: "room-1", UserID: "u1"})

	req.Equal(msgMissingFields, errorMessage(t, a.last(t)))
	req.Equal("r1", a.last(t).Ref)
	req.Empty(o.Rooms.List())
}

func TestJoin_NotifiesOthersAndConfirms(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	b := connect(o, "s2")

	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")

	req.Equal(1, a.count(t, protocol.UserJoined))
	req.Equal(0, b.count(t, protocol.UserJoined))

	var joined protocol.ChannelJoinedPayload
	req.NoError(b.last(t).Bind(&joined))
	req.Equal(domain.ChannelName("room-1"), joined.Channel)
	req.Len(joined.Members, 2)
	req.Equal(domain.StatusIdle, joined.Metadata.Status)
}

func TestJoin_Idempotent(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	b := connect(o, "s2")
	join(o, "s1", "room-1", "u1", "Alice")
	a.reset()

	// Given the same user joining twice, once per connection and once repeated
	join(o, "s2", "room-1", "u2", "Bob")
	join(o, "s2", "room-1", "u2", "Bobby")

	room, ok := o.Rooms.Get("room-1")
	req.True(ok)
	req.Equal(2, room.MemberCount())
	req.Equal(1, a.count(t, protocol.UserJoined))
	req.Equal(2, b.count(t, protocol.ChannelJoined))

	members, _ := o.Members("room-1")
	req.Equal("Bobby", members[1].Username)
}

func TestJoin_SwitchingChannelLeavesPrevious(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	connect(o, "s2")
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")
	a.reset()

	join(o, "s2", "room-2", "u2", "Bob")

	req.Equal(1, a.count(t, protocol.UserLeft))
	r1, _ := o.Rooms.Get("room-1")
	req.Equal(1, r1.MemberCount())
	r2, _ := o.Rooms.Get("room-2")
	req.Equal(1, r2.MemberCount())
}

func TestChat_BroadcastIncludesSender(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	recs := []*recorder{connect(o, "s1"), connect(o, "s2"), connect(o, "s3")}
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")
	join(o, "s3", "room-1", "u3", "Carol")

	o.ChatMessage("s1", "", domain.ChatMessage{Content: "  hi  ", Timestamp: 1000})

	for _, r := range recs {
		req.Equal(1, r.count(t, protocol.ChatMessage))
	}
	var msg domain.ChatMessage
	req.NoError(recs[1].last(t).Bind(&msg))
	req.Equal("u1-1000", msg.ID)
	req.Equal("hi", msg.Content)
	req.Equal(domain.UserID("u1"), msg.UserID)
	req.Equal("Alice", msg.UserName)
	req.Equal(domain.ChannelName("room-1"), msg.Channel)
}

func TestChat_Preconditions(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")

	o.ChatMessage("s1", "", domain.ChatMessage{Content: "hi"})
	req.Equal(msgNotJoined, errorMessage(t, a.last(t)))

	join(o, "s1", "room-1", "u1", "Alice")
	o.ChatMessage("s1", "", domain.ChatMessage{Content: "   "})
	req.Equal(msgEmptyContent, errorMessage(t, a.last(t)))

	o.ChatMessage("s1", "", domain.ChatMessage{Content: "hi", Channel: "other"})
	req.Equal(msgWrongChannel, errorMessage(t, a.last(t)))
	req.Equal(0, a.count(t, protocol.ChatMessage))
}

func TestTranscription_ExcludesSender(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	recs := []*recorder{connect(o, "s1"), connect(o, "s2"), connect(o, "s3")}
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")
	join(o, "s3", "room-1", "u3", "Carol")

	ts := domain.Fragment{Text: "hello", IsFinal: true, Timestamp: 10}.Textstream()
	o.Transcription("s1", "", protocol.TranscriptionPayload{Textstream: &ts})

	req.Equal(0, recs[0].count(t, protocol.Transcription))
	req.Equal(1, recs[1].count(t, protocol.Transcription))
	req.Equal(1, recs[2].count(t, protocol.Transcription))

	o.Transcription("s1", "r9", protocol.TranscriptionPayload{})
	req.Equal(msgEmptyTextstream, errorMessage(t, recs[0].last(t)))
}

func TestLeave_LastMemberDeletesRoom(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	connect(o, "s1")
	join(o, "s1", "room-42", "u1", "Alice")

	o.LeaveChannel("s1", "", protocol.LeavePayload{Channel: "room-42", UserID: "u1"})
	_, ok := o.Rooms.Get("room-42")
	req.False(ok)

	join(o, "s1", "room-42", "u1", "Alice")
	room, ok := o.Rooms.Get("room-42")
	req.True(ok)
	req.Equal(1, room.MemberCount())
}

func TestLeave_Preconditions(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")

	o.LeaveChannel("s1", "", protocol.LeavePayload{Channel: "room-1"})
	req.Equal(msgNotJoined, errorMessage(t, a.last(t)))

	join(o, "s1", "room-1", "u1", "Alice")
	o.LeaveChannel("s1", "", protocol.LeavePayload{Channel: "room-2"})
	req.Equal(msgWrongChannel, errorMessage(t, a.last(t)))
	_, ok := o.Rooms.Get("room-1")
	req.True(ok)
}

func TestDisconnect_ActsAsLeave(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	connect(o, "s2")
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")
	a.reset()

	o.OnDisconnect("s2")

	req.Equal(1, a.count(t, protocol.UserLeft))
	var p protocol.PresencePayload
	req.NoError(a.last(t).Bind(&p))
	req.Equal(domain.UserID("u2"), p.UserID)
	_, ok := o.Registry.GetSession("s2")
	req.False(ok)
}

func TestLock_FIFOAndDisconnectHandover(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	b := connect(o, "s2")
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")

	o.AcquireLock("s1", "a1")
	o.AcquireLock("s2", "b1")
	req.Equal(protocol.LockAcquired, a.last(t).Type)
	req.Equal("a1", a.last(t).Ref)
	req.Equal(0, b.count(t, protocol.LockAcquired))

	// When the holder disconnects, the waiter sees the departure and is
	// then granted with its own ref
	b.reset()
	o.OnDisconnect("s1")
	evs := b.events(t)
	req.Len(evs, 2)
	req.Equal(protocol.UserLeft, evs[0].Type)
	req.Equal(protocol.LockAcquired, evs[1].Type)
	req.Equal("b1", evs[1].Ref)

	o.ReleaseLock("s2", "b2")
	req.Equal(protocol.Ack, b.last(t).Type)
	room, _ := o.Rooms.Get("room-1")
	_, held := room.Lock().Holder()
	req.False(held)
}

func TestUpdateMetadata_RequiresLock(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")
	b := connect(o, "s2")
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")

	status := domain.StatusStart
	patch := protocol.MetadataUpdatePayload{Patch: domain.MetadataPatch{Status: &status}}

	o.UpdateMetadata("s1", "m1", patch)
	req.Equal(msgLockNotHeld, errorMessage(t, a.last(t)))

	o.AcquireLock("s1", "a1")
	o.UpdateMetadata("s1", "m2", patch)

	req.Equal(1, a.count(t, protocol.Ack))
	req.Equal(1, a.count(t, protocol.MetadataChanged))
	var changed protocol.MetadataChangedPayload
	req.NoError(b.last(t).Bind(&changed))
	req.Equal(domain.StatusStart, changed.Metadata.Status)
}

func TestHandle_DispatchAndPing(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	a := connect(o, "s1")

	o.Handle("s1", protocol.Envelope{Type: protocol.Ping, Ref: "p1"})
	req.Equal(protocol.Pong, a.last(t).Type)

	o.Handle("s1", protocol.Envelope{Type: protocol.JoinChannel})
	req.Equal(msgMissingFields, errorMessage(t, a.last(t)))

	o.Handle("s1", protocol.Envelope{Type: "nope"})
	req.Equal(msgUnknownEvent, errorMessage(t, a.last(t)))
}

func TestBackpressure_KickCancelsConnection(t *testing.T) {
	req := require.New(t)
	o := New(app.NewRegistry(), app.NewRoomManager(), app.KickPolicy{})
	connect(o, "s1")
	slow := &recorder{}
	kicked := false
	o.Connect("s2", slow, func() { kicked = true })
	join(o, "s1", "room-1", "u1", "Alice")
	join(o, "s2", "room-1", "u2", "Bob")

	slow.full = true
	o.ChatMessage("s1", "", domain.ChatMessage{Content: "hi"})
	req.True(kicked)
}

func TestRun_SubmitAndCall(t *testing.T) {
	req := require.New(t)
	o := newOrch()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx) }()

	req.True(o.Submit(func() { connect(o, "s1") }))
	n, ok := Call(o, func() int { return o.Registry.Len() })
	req.True(ok)
	req.Equal(1, n)

	cancel()
	select {
	case err := <-errCh:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	req.False(o.Submit(func() {}))
}
