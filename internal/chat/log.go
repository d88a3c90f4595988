// Package chat keeps the ordered chat list of a participant and reconciles
// optimistic local copies with the relay's echo.
package chat

import (
	"sort"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
)

// Entry is a visible message. Pending entries are local copies the relay
// has not echoed yet.
type Entry struct {
	domain.ChatMessage
	Pending bool
}

type Log struct {
	mu         sync.Mutex
	entries    []Entry
	wireToTemp map[string]string
}

func NewLog() *Log {
	return &Log{wireToTemp: make(map[string]string)}
}

// AddOptimistic shows msg immediately under its temporary id. wireID is the
// id the message was sent with, if any.
func (l *Log) AddOptimistic(msg domain.ChatMessage, wireID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{ChatMessage: msg, Pending: true})
	if wireID != "" {
		l.wireToTemp[wireID] = msg.ID
	}
	l.sortLocked()
}

// Outcome says what Confirm did to the log.
type Outcome int

const (
	// Unchanged: a duplicate of a message already confirmed.
	Unchanged Outcome = iota
	// Replaced: the echo took the place of a pending optimistic copy.
	Replaced
	// Appended: a message the log had not seen.
	Appended
)

// Changed reports whether the visible list differs afterwards.
func (o Outcome) Changed() bool { return o != Unchanged }

// Confirm applies a relay echo. The echo replaces the optimistic copy it
// refers to, matched by id or by (author, timestamp, content). Messages are
// immutable, so a repeat of a confirmed id is ignored.
func (l *Log) Confirm(msg domain.ChatMessage) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(msg.ID); i >= 0 {
		if !l.entries[i].Pending {
			return Unchanged
		}
		l.entries[i] = Entry{ChatMessage: msg}
		l.sortLocked()
		return Replaced
	}
	if tempID, ok := l.wireToTemp[msg.ID]; ok {
		delete(l.wireToTemp, msg.ID)
		if i := l.indexLocked(tempID); i >= 0 {
			l.entries[i] = Entry{ChatMessage: msg}
			l.sortLocked()
			return Replaced
		}
	}
	for i, e := range l.entries {
		if e.Pending && e.UserID == msg.UserID && e.Timestamp == msg.Timestamp && e.Content == msg.Content {
			l.forgetTempLocked(e.ID)
			l.entries[i] = Entry{ChatMessage: msg}
			l.sortLocked()
			return Replaced
		}
	}
	l.entries = append(l.entries, Entry{ChatMessage: msg})
	l.sortLocked()
	return Appended
}

// Discard removes an optimistic entry whose send failed.
func (l *Log) Discard(tempID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(tempID)
	if i < 0 || !l.entries[i].Pending {
		return false
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	l.forgetTempLocked(tempID)
	return true
}

func (l *Log) Messages() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) indexLocked(id string) int {
	for i, e := range l.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (l *Log) forgetTempLocked(tempID string) {
	for wire, temp := range l.wireToTemp {
		if temp == tempID {
			delete(l.wireToTemp, wire)
		}
	}
}

func (l *Log) sortLocked() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].Timestamp < l.entries[j].Timestamp
	})
}
