//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_stt.go -package=mocks
package stt

import (
	"context"
	"errors"

	"github.com/dkeye/Parley/internal/domain"
)

var (
	ErrNotInitialized   = errors.New("please init first")
	ErrAlreadyRunning   = errors.New("transcription already running")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoSpeech         = errors.New("no speech detected")
	ErrRestartLimit     = errors.New("recognizer keeps ending")
)

// Event is one recognizer result. Text is cumulative for the current
// utterance. A non-nil Err reports a recognizer fault instead of a result.
type Event struct {
	Text    string
	IsFinal bool
	Err     error
}

// Recognizer is the speech provider. The event channel is closed when the
// recognizer ends, either on Stop or on its own.
type Recognizer interface {
	Start(ctx context.Context, lang string) (<-chan Event, error)
	Stop() error
}

// Lock is the room-wide start/stop lock. Every successful Acquire must be
// followed by exactly one Release.
type Lock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

type MetadataStore interface {
	UpdateMetadata(ctx context.Context, patch domain.MetadataPatch) error
	Metadata() domain.SessionMetadata
}

// Publisher relays final fragments to the other participants.
type Publisher interface {
	SendTranscription(ctx context.Context, frag domain.Fragment) error
}
