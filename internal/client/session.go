package client

import (
	"context"
	"time"

	"github.com/dkeye/Parley/internal/adapters/rtc"
	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/stt"
	"github.com/dkeye/Parley/internal/transcript"
	"github.com/rs/zerolog/log"
)

type SessionOptions struct {
	Conn          Options
	User          domain.User
	Channel       domain.ChannelName
	Recognizer    stt.Recognizer
	Duration      time.Duration
	WatchInterval time.Duration
	// Media and Tokens are optional.
	Media  rtc.Transport
	Tokens *TokenSource
}

// Session is one participant in one channel.
type Session struct {
	Bus      *bus.Bus
	Conn     *Conn
	Presence *Presence
	Chat     *ChatManager
	STT      *stt.Controller
	Captions *transcript.Board

	opts   SessionOptions
	cancel context.CancelFunc
}

func NewSession(opts SessionOptions) *Session {
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	b := bus.New()
	conn := NewConn(opts.Conn, b)
	s := &Session{
		Bus:      b,
		Conn:     conn,
		Presence: NewPresence(conn, b),
		Chat:     NewChatManager(conn, b),
		Captions: transcript.NewBoard(),
		opts:     opts,
	}
	s.STT = stt.NewController(stt.Options{
		Recognizer: opts.Recognizer,
		Lock:       s.Presence,
		Store:      s.Presence,
		Publisher:  s.Chat,
		OnFragment: s.addCaption,
		OnError:    func(err error) { b.Emit(TranscriptionFailed{Err: err}) },
		Duration:   opts.Duration,
	})

	bus.On(b, func(e RemoteFragment) { s.addCaption(e.Fragment) })
	bus.On(b, func(e MetadataUpdated) {
		if e.Metadata.Status != domain.StatusStart || e.Previous.Status == domain.StatusStart {
			return
		}
		// the local starter already cleared the board before it began feeding
		if s.STT.Query() == stt.StatusRunning {
			return
		}
		s.resetCaptions()
	})
	if opts.Media != nil {
		opts.Media.OnNetworkQuality(func(q rtc.Quality) { b.Emit(NetworkQuality{Quality: q.String()}) })
	}
	return s
}

func (s *Session) resetCaptions() {
	s.Captions.Reset()
	s.Bus.Emit(CaptionsUpdated{Lines: nil})
}

func (s *Session) addCaption(f domain.Fragment) {
	if s.Captions.Add(f) {
		s.Bus.Emit(CaptionsUpdated{Lines: s.Captions.Lines()})
	}
}

// Join connects, joins the channel and starts the expiry watchdog. Media is
// joined last when configured.
func (s *Session) Join(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.Conn.Start(ctx)
	if err := s.Conn.Join(ctx, s.opts.Channel, s.opts.User); err != nil {
		return err
	}
	s.STT.Init(s.opts.User)
	go s.STT.Watch(ctx, s.opts.WatchInterval)

	if s.opts.Media == nil || s.opts.Tokens == nil {
		return nil
	}
	token, err := s.opts.Tokens.Token(ctx, s.opts.Channel, s.opts.User.ID)
	if err != nil {
		return err
	}
	return s.opts.Media.Join(ctx, string(s.opts.Channel), string(s.opts.User.ID), token)
}

// StartTranscription clears the caption board and starts the local session.
func (s *Session) StartTranscription(ctx context.Context, langs []domain.Language) error {
	if s.STT.Query() != stt.StatusRunning {
		s.resetCaptions()
	}
	return s.STT.Start(ctx, langs)
}

func (s *Session) StopTranscription(ctx context.Context) error {
	return s.STT.Stop(ctx)
}

// Close tears everything down. Calling it again is a no-op.
func (s *Session) Close() {
	s.STT.Destroy()
	if s.opts.Media != nil {
		if err := s.opts.Media.Close(); err != nil {
			log.Warn().Err(err).Str("module", "client.session").Msg("close media")
		}
	}
	s.Conn.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.Bus.Clear()
}
