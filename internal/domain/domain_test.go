package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		username string
		wantErr  error
	}{
		{"valid", "u1", "Alice", nil},
		{"empty id", "  ", "Alice", ErrUserIDEmpty},
		{"empty name", "u1", " ", ErrUsernameEmpty},
		{"name too long", "u1", strings.Repeat("a", MaxUsernameLen+1), ErrUsernameTooLong},
		{"id too long", strings.Repeat("x", MaxUserIDLen+1), "Alice", ErrUserIDTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			u, err := NewUser(tt.id, tt.username)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				return
			}
			req.NoError(err)
			req.Equal(UserID("u1"), u.ID)
			req.Equal("Alice", u.Username)
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	req := require.New(t)

	got, err := NormalizeContent("  hi there \n")
	req.NoError(err)
	req.Equal("hi there", got)

	_, err = NormalizeContent(" \t ")
	req.ErrorIs(err, ErrEmptyContent)
}

func TestMessageIDs(t *testing.T) {
	req := require.New(t)

	req.Equal("u1-1000", MessageID("u1", 1000))
	req.True(strings.HasPrefix(NewMessageID("u1", 1000), "u1-1000-"))
	req.True(strings.HasPrefix(NewTempID(1000), "temp-1000-"))
	req.NotEqual(NewTempID(1000), NewTempID(1000))
}

func TestSessionMetadata_ApplyKeepsUnsetFields(t *testing.T) {
	req := require.New(t)
	start := StatusStart
	task := "task-1"
	startTime := int64(1000)
	duration := int64(600000)

	// Given a started session
	m := NewSessionMetadata().Apply(MetadataPatch{
		Status:    &start,
		TaskID:    &task,
		StartTime: &startTime,
		Duration:  &duration,
		Languages: []Language{{Source: "en-US"}},
	})

	// When only the duration is extended
	longer := int64(1200000)
	m = m.Apply(MetadataPatch{Duration: &longer})

	// Then everything else is kept
	req.Equal(StatusStart, m.Status)
	req.Equal("task-1", m.TaskID)
	req.Equal(int64(1000), m.StartTime)
	req.Equal(longer, m.Duration)
	req.Len(m.Languages, 1)
	req.True(MetadataPatch{}.Empty())
}

func TestSessionMetadata_Expired(t *testing.T) {
	req := require.New(t)
	m := SessionMetadata{Status: StatusStart, StartTime: 1000, Duration: 500}

	req.False(m.Expired(1500))
	req.True(m.Expired(1501))

	m.Status = StatusEnd
	req.False(m.Expired(5000))
	req.False(SessionMetadata{Status: StatusStart}.Expired(5000))
}

func TestFragment_TextstreamAttribution(t *testing.T) {
	req := require.New(t)
	f := Fragment{
		SpeakerID:  "u1",
		Text:       "hello world",
		IsFinal:    true,
		Culture:    "en-US",
		StartTs:    100,
		Timestamp:  250,
		DurationMs: 150,
	}

	ts := f.Textstream()
	req.Equal(TextstreamDataType, ts.DataType)
	req.Equal("u1", ts.UID)
	req.Equal(0.9, ts.Words[0].Confidence)
	req.NotNil(ts.Trans)

	// A relayed stream is attributed to the envelope sender, whatever its uid says
	ts.UID = "spoofed"
	got := FragmentFromTextstream(ts, "u2", "Bob")
	req.Equal(UserID("u2"), got.SpeakerID)
	req.Equal("Bob", got.SpeakerName)
	req.Equal("hello world", got.Text)
	req.True(got.IsFinal)
	req.Equal(int64(250), got.Timestamp)
}
