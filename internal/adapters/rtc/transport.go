// Package rtc is the media transport collaborator. Participants publish
// and subscribe audio, video and screen tracks through the narrow Transport
// interface; offer/answer exchange goes through a Signaler.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined = errors.New("transport already joined")
	ErrNotJoined     = errors.New("transport not joined")
	ErrClosed        = errors.New("transport closed")
)

type TrackKind string

const (
	KindAudio  TrackKind = "audio"
	KindVideo  TrackKind = "video"
	KindScreen TrackKind = "screen"
)

type Quality int

const (
	QualityUnknown Quality = iota
	QualityExcellent
	QualityGood
	QualityPoor
	QualityDown
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	case QualityDown:
		return "down"
	default:
		return "unknown"
	}
}

// Transport is everything the session needs from the media provider.
type Transport interface {
	Join(ctx context.Context, channel, uid, token string) error
	Publish(kind TrackKind) (*LocalTrack, error)
	Subscribe(fn func(*RemoteTrack))
	NetworkQuality() Quality
	OnNetworkQuality(fn func(Quality))
	Close() error
}

// Signaler carries the offer to the media provider and returns its answer.
type Signaler interface {
	Negotiate(ctx context.Context, channel, uid, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

type LocalTrack struct {
	Kind  TrackKind
	track *webrtc.TrackLocalStaticRTP
}

func (t *LocalTrack) ID() string { return t.track.ID() }

func (t *LocalTrack) WriteRTP(p *rtp.Packet) error {
	return t.track.WriteRTP(p)
}

type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	track    *webrtc.TrackRemote
}

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := t.track.ReadRTP()
	return p, err
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PeerTransport is a Transport over a single pion PeerConnection. Tracks
// must be published before Join; renegotiation is not supported.
type PeerTransport struct {
	pc  *webrtc.PeerConnection
	sig Signaler

	mu        sync.Mutex
	joined    bool
	closed    bool
	quality   Quality
	onQuality func(Quality)
	onTrack   func(*RemoteTrack)
}

var _ Transport = (*PeerTransport)(nil)

func NewPeerTransport(cfg webrtc.Configuration, sig Signaler) (*PeerTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &PeerTransport{pc: pc, sig: sig}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		t.setQuality(qualityFor(s))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(&RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: track.Kind().String(), track: track})
		}
	})
	return t, nil
}

func qualityFor(s webrtc.ICEConnectionState) Quality {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return QualityExcellent
	case webrtc.ICEConnectionStateChecking:
		return QualityGood
	case webrtc.ICEConnectionStateDisconnected:
		return QualityPoor
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		return QualityDown
	default:
		return QualityUnknown
	}
}

func (t *PeerTransport) setQuality(q Quality) {
	t.mu.Lock()
	changed := t.quality != q
	t.quality = q
	fn := t.onQuality
	t.mu.Unlock()
	if changed && fn != nil {
		fn(q)
	}
}

func (t *PeerTransport) Publish(kind TrackKind) (*LocalTrack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.joined {
		return nil, ErrAlreadyJoined
	}
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), "parley")
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return nil, fmt.Errorf("add %s track: %w", kind, err)
	}
	log.Info().Str("module", "rtc").Str("kind", string(kind)).Msg("track published")
	return &LocalTrack{Kind: kind, track: track}, nil
}

// Join offers the published tracks and applies the provider's answer.
func (t *PeerTransport) Join(ctx context.Context, channel, uid, token string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.joined {
		t.mu.Unlock()
		return ErrAlreadyJoined
	}
	t.joined = true
	t.mu.Unlock()

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := t.sig.Negotiate(ctx, channel, uid, token, *t.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Info().Str("module", "rtc").Str("channel", channel).Str("uid", uid).Msg("media joined")
	return nil
}

func (t *PeerTransport) Subscribe(fn func(*RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *PeerTransport) NetworkQuality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quality
}

func (t *PeerTransport) OnNetworkQuality(fn func(Quality)) {
	t.mu.Lock()
	t.onQuality = fn
	t.mu.Unlock()
}

func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Msg("closed")
	return nil
}
