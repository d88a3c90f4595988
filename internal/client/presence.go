package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const releaseTimeout = 5 * time.Second

// Presence mirrors the member list and session metadata of the joined
// channel, and fronts the relay-hosted start/stop lock.
type Presence struct {
	conn *Conn
	bus  *bus.Bus

	mu       sync.RWMutex
	channel  domain.ChannelName
	members  map[domain.UserID]protocol.MemberInfo
	metadata domain.SessionMetadata

	// one lock request in flight per participant
	sem *semaphore.Weighted
}

func NewPresence(conn *Conn, b *bus.Bus) *Presence {
	p := &Presence{
		conn:     conn,
		bus:      b,
		members:  make(map[domain.UserID]protocol.MemberInfo),
		metadata: domain.NewSessionMetadata(),
		sem:      semaphore.NewWeighted(1),
	}
	bus.On(b, p.onJoined)
	bus.On(b, func(e UserJoined) {
		p.mu.Lock()
		p.members[e.UserID] = protocol.MemberInfo{UserID: e.UserID, UserName: e.UserName}
		p.mu.Unlock()
		p.bus.Emit(UsersChanged{Members: p.Members()})
	})
	bus.On(b, func(e UserLeft) {
		p.mu.Lock()
		delete(p.members, e.UserID)
		p.mu.Unlock()
		p.bus.Emit(UsersChanged{Members: p.Members()})
	})
	bus.On(b, func(e MetadataChanged) { p.setMetadata(e.Metadata) })
	return p
}

func (p *Presence) onJoined(e ChannelJoined) {
	p.mu.Lock()
	p.channel = e.Channel
	p.members = make(map[domain.UserID]protocol.MemberInfo, len(e.Members))
	for _, m := range e.Members {
		p.members[m.UserID] = m
	}
	p.mu.Unlock()
	p.bus.Emit(UsersChanged{Members: p.Members()})
	p.setMetadata(e.Metadata)
}

func (p *Presence) setMetadata(md domain.SessionMetadata) {
	p.mu.Lock()
	prev := p.metadata
	p.metadata = md
	p.mu.Unlock()
	p.bus.Emit(MetadataUpdated{Metadata: md, Previous: prev})
}

// Members returns the mirrored member list sorted by user id.
func (p *Presence) Members() []protocol.MemberInfo {
	p.mu.RLock()
	out := make([]protocol.MemberInfo, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (p *Presence) Channel() domain.ChannelName {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channel
}

func (p *Presence) Metadata() domain.SessionMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata
}

// Acquire waits for the room lock. If ctx ends first the queued request is
// withdrawn, since the grant may still be in flight.
func (p *Presence) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	_, err := p.conn.Request(ctx, protocol.AcquireLock, protocol.LockPayload{Channel: p.Channel()})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		go p.withdraw()
		return err
	}
	p.sem.Release(1)
	return err
}

func (p *Presence) withdraw() {
	defer p.sem.Release(1)
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := p.conn.Request(ctx, protocol.ReleaseLock, protocol.LockPayload{Channel: p.Channel()}); err != nil {
		log.Warn().Err(err).Str("module", "client.presence").Msg("withdraw lock request")
	}
}

// Release frees the room lock. A lost connection already freed it on the
// relay side.
func (p *Presence) Release(ctx context.Context) error {
	defer p.sem.Release(1)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	_, err := p.conn.Request(ctx, protocol.ReleaseLock, protocol.LockPayload{Channel: p.Channel()})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// UpdateMetadata sends a patch. The mirror follows on the metadataChanged
// broadcast.
func (p *Presence) UpdateMetadata(ctx context.Context, patch domain.MetadataPatch) error {
	_, err := p.conn.Request(ctx, protocol.UpdateMetadata, protocol.MetadataUpdatePayload{Patch: patch})
	return err
}
