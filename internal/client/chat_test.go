package client

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/stt"
	"github.com/stretchr/testify/require"
)

func TestChatManager_RemoteMessageNotifiesOnce(t *testing.T) {
	req := require.New(t)
	b := bus.New()
	m := NewChatManager(NewConn(Options{ServerURL: "ws://127.0.0.1:1"}, b), b)
	updates := 0
	bus.On(b, func(ChatUpdated) { updates++ })

	// Given a message from another participant
	msg := domain.ChatMessage{ID: "bob-1", UserID: "bob", UserName: "Bob", Content: "hi", Timestamp: 1}

	// When it arrives, and then arrives again
	b.Emit(ChatReceived{Message: msg})
	b.Emit(ChatReceived{Message: msg})

	// Then the list shows it once and subscribers heard about it once
	req.Len(m.Messages(), 1)
	req.Equal(1, updates)
}

func TestSession_OwnCaptionsSurviveSessionStart(t *testing.T) {
	url := startRelay(t)
	a, rec := newSession(t, url, "alice", "Alice")
	ctx := context.Background()

	// Given a stale caption on the board
	a.Captions.Add(domain.Fragment{SpeakerID: "bob", Text: "old", IsFinal: true, Timestamp: 1})

	// When the local session starts and speech arrives before the start broadcast
	require.NoError(t, a.StartTranscription(ctx, nil))
	require.Empty(t, a.Captions.Lines())
	require.True(t, rec.Feed(stt.Event{Text: "first words", IsFinal: true}))

	// Then the broadcast does not wipe what was said
	require.Eventually(t, func() bool {
		md := a.Presence.Metadata()
		return md.Status == domain.StatusStart && len(md.Languages) == 1
	}, wait, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		lines := a.Captions.Lines()
		return len(lines) == 1 && lines[0].Text == "first words"
	}, wait, 10*time.Millisecond)
	require.NoError(t, a.StopTranscription(ctx))
}
