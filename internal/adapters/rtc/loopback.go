package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LoopbackSignaler answers offers from an in-process peer. It stands in for
// a media provider in local runs and tests.
type LoopbackSignaler struct {
	cfg webrtc.Configuration

	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

func NewLoopbackSignaler(cfg webrtc.Configuration) *LoopbackSignaler {
	return &LoopbackSignaler{cfg: cfg}
}

func (s *LoopbackSignaler) Negotiate(ctx context.Context, channel, uid, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(s.cfg)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("loopback peer: %w", err)
	}
	s.mu.Lock()
	s.peers = append(s.peers, pc)
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	log.Info().Str("module", "rtc.loopback").Str("channel", channel).Str("uid", uid).Msg("answered offer")
	return *pc.LocalDescription(), nil
}

func (s *LoopbackSignaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.peers {
		_ = pc.Close()
	}
	s.peers = nil
}
