package core

import (
	"errors"
	"testing"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	frames [][]byte
	full   bool
}

func (f *fakeSignal) TrySend(fr Frame) error {
	if f.full {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {}

func session(id, name string) (MemberSession, *fakeSignal) {
	sig := &fakeSignal{}
	u := &domain.User{ID: domain.UserID(id), Username: name}
	return NewMemberSession(domain.NewMember(u, "room-1"), sig), sig
}

func TestRoom_MembershipCountsUsersNotConnections(t *testing.T) {
	req := require.New(t)
	r := NewRoomService(&domain.Room{Name: "room-1"})
	alice1, _ := session("u1", "Alice")
	alice2, _ := session("u1", "Alice")
	bob, _ := session("u2", "Bob")

	req.True(r.AddMember("s1", alice1))
	req.False(r.AddMember("s2", alice2))
	req.True(r.AddMember("s3", bob))
	req.Equal(2, r.MemberCount())
	req.Equal([]MemberDTO{{ID: "u1", Username: "Alice"}, {ID: "u2", Username: "Bob"}}, r.MembersSnapshot())

	// The user stays a member while one of its connections remains
	u, last := r.RemoveMember("s1")
	req.Equal(domain.UserID("u1"), u.ID)
	req.False(last)
	req.Equal(2, r.MemberCount())

	_, last = r.RemoveMember("s2")
	req.True(last)
	req.Equal(1, r.MemberCount())

	_, last = r.RemoveMember("missing")
	req.False(last)
}

func TestRoom_BroadcastSenderSelection(t *testing.T) {
	req := require.New(t)
	r := NewRoomService(&domain.Room{Name: "room-1"})
	a, sigA := session("u1", "Alice")
	b, sigB := session("u2", "Bob")
	c, sigC := session("u3", "Carol")
	r.AddMember("s1", a)
	r.AddMember("s2", b)
	r.AddMember("s3", c)

	res := r.Broadcast("s1", Frame("all"), true)
	req.Equal(3, res.SendTo)

	res = r.Broadcast("s1", Frame("others"), false)
	req.Equal(2, res.SendTo)
	req.Len(sigA.frames, 1)
	req.Len(sigB.frames, 2)
	req.Len(sigC.frames, 2)
}

func TestRoom_BroadcastReportsDropped(t *testing.T) {
	req := require.New(t)
	r := NewRoomService(&domain.Room{Name: "room-1"})
	a, _ := session("u1", "Alice")
	b, sigB := session("u2", "Bob")
	sigB.full = true
	r.AddMember("s1", a)
	r.AddMember("s2", b)

	res := r.Broadcast("s1", Frame("x"), true)

	req.Equal(1, res.SendTo)
	req.Equal([]SessionID{"s2"}, res.Dropped)
}

func TestRoom_MetadataStartsIdle(t *testing.T) {
	req := require.New(t)
	r := NewRoomService(&domain.Room{Name: "room-1"})
	req.Equal(domain.StatusIdle, r.Metadata().Status)

	start := domain.StatusStart
	m := r.ApplyMetadata(domain.MetadataPatch{Status: &start})
	req.Equal(domain.StatusStart, m.Status)
	req.Equal(domain.StatusStart, r.Metadata().Status)
}
