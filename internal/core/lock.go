package core

import "errors"

var (
	ErrLockNotHeld = errors.New("lock not held by this connection")
	ErrLockPending = errors.New("lock already held or requested by this connection")
)

// Grant names the waiter that just became the lock holder. Ref is the id of
// its original acquire request.
type Grant struct {
	SID SessionID
	Ref string
}

// Lock is a FIFO start/stop lock for one room's session metadata. There is
// no forced release on timeout; a holder loses the lock only by releasing it
// or by leaving the room.
type Lock struct {
	held    bool
	holder  Grant
	waiters []Grant
}

func NewLock() *Lock { return &Lock{} }

// Acquire grants the lock immediately when free, otherwise queues sid.
func (l *Lock) Acquire(sid SessionID, ref string) (bool, error) {
	if l.held && l.holder.SID == sid {
		return false, ErrLockPending
	}
	for _, w := range l.waiters {
		if w.SID == sid {
			return false, ErrLockPending
		}
	}
	if !l.held {
		l.held = true
		l.holder = Grant{SID: sid, Ref: ref}
		return true, nil
	}
	l.waiters = append(l.waiters, Grant{SID: sid, Ref: ref})
	return false, nil
}

// Release frees the lock if sid holds it, or withdraws sid from the queue if
// it is still waiting. The next waiter, if any, is returned as the new holder.
func (l *Lock) Release(sid SessionID) (*Grant, error) {
	if l.held && l.holder.SID == sid {
		return l.handOver(), nil
	}
	if l.withdraw(sid) {
		return nil, nil
	}
	return nil, ErrLockNotHeld
}

// Drop removes every trace of sid, used when the connection leaves.
func (l *Lock) Drop(sid SessionID) *Grant {
	l.withdraw(sid)
	if l.held && l.holder.SID == sid {
		return l.handOver()
	}
	return nil
}

func (l *Lock) Holder() (SessionID, bool) {
	return l.holder.SID, l.held
}

func (l *Lock) Waiting() int { return len(l.waiters) }

func (l *Lock) handOver() *Grant {
	if len(l.waiters) == 0 {
		l.held = false
		l.holder = Grant{}
		return nil
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.holder = next
	return &next
}

func (l *Lock) withdraw(sid SessionID) bool {
	for i, w := range l.waiters {
		if w.SID == sid {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}
