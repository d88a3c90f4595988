package stt

import (
	"context"
	"sync"
)

// FeedRecognizer is a Recognizer driven by the caller, e.g. typed text in
// the terminal client or a test.
type FeedRecognizer struct {
	mu       sync.Mutex
	ch       chan Event
	running  bool
	lang     string
	starts   int
	StartErr error
}

func NewFeedRecognizer() *FeedRecognizer {
	return &FeedRecognizer{}
}

func (r *FeedRecognizer) Start(_ context.Context, lang string) (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	if r.running {
		return nil, ErrAlreadyRunning
	}
	r.ch = make(chan Event, 64)
	r.running = true
	r.lang = lang
	r.starts++
	return r.ch, nil
}

func (r *FeedRecognizer) Stop() error {
	r.End()
	return nil
}

// End closes the current stream as if the recognizer stopped by itself.
func (r *FeedRecognizer) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.ch)
		r.running = false
	}
}

// Feed delivers ev to the running stream. It reports false when there is no
// stream or its buffer is full.
func (r *FeedRecognizer) Feed(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.ch <- ev:
		return true
	default:
		return false
	}
}

func (r *FeedRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *FeedRecognizer) Lang() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lang
}

func (r *FeedRecognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}
