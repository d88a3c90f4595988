package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyContent = errors.New("message content cannot be empty")

// ChatMessage is immutable once created. Two messages with the same ID are
// the same logical message.
type ChatMessage struct {
	ID        string      `json:"id"`
	UserID    UserID      `json:"userId"`
	UserName  string      `json:"userName"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Channel   ChannelName `json:"channel,omitempty"`
}

// NowMillis is the producer clock used for message and fragment timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MessageID builds the relay-side id "<userId>-<timestamp>".
func MessageID(userID UserID, ts int64) string {
	return fmt.Sprintf("%s-%d", userID, ts)
}

// NewMessageID builds a sender-side id "<userId>-<timestamp>-<random>".
func NewMessageID(userID UserID, ts int64) string {
	return fmt.Sprintf("%s-%s", MessageID(userID, ts), shortRandom())
}

// NewTempID identifies an optimistic local copy until the relay echoes it.
func NewTempID(ts int64) string {
	return fmt.Sprintf("temp-%d-%s", ts, shortRandom())
}

func shortRandom() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}

// NormalizeContent trims the content and rejects whitespace-only text.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	return trimmed, nil
}

// Preview shortens content for log lines.
func Preview(content string, n int) string {
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "..."
}
