package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/dkeye/Parley/internal/adapters/rtc"
	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/client"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/stt"
)

var flags struct {
	server   string
	channel  string
	userID   string
	userName string
	lang     string
	loopback bool
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal participant for a Parley room",
	Long: `Joins a room and reads commands from stdin:
  /start [lang]  start transcription
  /stop          stop transcription
  /hear <text>   feed an interim recognizer result
  /say <text>    feed a final recognizer result
  /who           list members
  /captions      print the caption board
  /quit          leave
Any other line is sent as chat.`,
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.server, "server", "", "relay websocket url (overrides client.server_url)")
	f.StringVar(&flags.channel, "channel", "lobby", "room to join")
	f.StringVar(&flags.userID, "user", "", "user id")
	f.StringVar(&flags.userName, "name", "", "display name")
	f.StringVar(&flags.lang, "lang", "en", "default transcription language")
	f.BoolVar(&flags.loopback, "media-loopback", false, "join a loopback WebRTC media session")
	_ = rootCmd.MarkFlagRequired("user")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("parley")
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.server != "" {
		cfg.Client.ServerURL = flags.server
	}
	user, err := domain.NewUser(flags.userID, lo.Ternary(flags.userName != "", flags.userName, flags.userID))
	if err != nil {
		return err
	}

	rec := stt.NewFeedRecognizer()
	opts := client.SessionOptions{
		Conn:          client.OptionsFrom(cfg.Client),
		User:          *user,
		Channel:       domain.ChannelName(flags.channel),
		Recognizer:    rec,
		Duration:      cfg.STT.Duration,
		WatchInterval: cfg.STT.WatchInterval,
	}
	if flags.loopback {
		media, tokens, err := loopbackMedia(cfg.Client.ServerURL)
		if err != nil {
			return err
		}
		opts.Media, opts.Tokens = media, tokens
	}

	s := client.NewSession(opts)
	printEvents(s.Bus)
	if err := s.Join(ctx); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	defer s.Close()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, s, rec, line); quit {
				return nil
			}
		}
	}
}

func loopbackMedia(serverURL string) (rtc.Transport, *client.TokenSource, error) {
	webrtcCfg := rtc.DefaultWebRTCConfig()
	sig := rtc.NewLoopbackSignaler(webrtcCfg)
	t, err := rtc.NewPeerTransport(webrtcCfg, sig)
	if err != nil {
		return nil, nil, fmt.Errorf("media transport: %w", err)
	}
	if _, err := t.Publish(rtc.KindAudio); err != nil {
		return nil, nil, fmt.Errorf("publish audio: %w", err)
	}
	base, err := client.HTTPBase(serverURL)
	if err != nil {
		return nil, nil, err
	}
	return t, client.NewTokenSource(base, nil), nil
}

func handleLine(ctx context.Context, s *client.Session, rec *stt.FeedRecognizer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "/quit":
		return true
	case "/start":
		lang := lo.Ternary(rest != "", rest, flags.lang)
		report(s.StartTranscription(ctx, []domain.Language{{Source: lang, Target: []string{}}}))
	case "/stop":
		report(s.StopTranscription(ctx))
	case "/hear", "/say":
		if !rec.Feed(stt.Event{Text: rest, IsFinal: verb == "/say"}) {
			fmt.Println("! transcription is not running")
		}
	case "/who":
		for _, m := range s.Presence.Members() {
			fmt.Printf("  %s (%s)\n", m.UserName, m.UserID)
		}
	case "/captions":
		for _, f := range s.Captions.Lines() {
			fmt.Printf("  %s%s: %s\n", f.SpeakerName, lo.Ternary(f.IsFinal, "", " …"), f.Text)
		}
	default:
		_, err := s.Chat.Send(ctx, line)
		report(err)
	}
	return false
}

func report(err error) {
	if err != nil {
		fmt.Println("!", err)
	}
}

func printEvents(b *bus.Bus) {
	bus.On(b, func(client.Connected) { fmt.Println("* connected") })
	bus.On(b, func(e client.Disconnected) { fmt.Println("* disconnected") })
	bus.On(b, func(e client.ConnectFailed) {
		if e.Final {
			fmt.Println("* giving up on the relay:", e.Err)
		}
	})
	bus.On(b, func(e client.ChannelJoined) {
		fmt.Printf("* joined %s with %d member(s), session %s\n", e.Channel, len(e.Members), e.Metadata.Status)
	})
	bus.On(b, func(e client.UserJoined) { fmt.Printf("* %s joined\n", e.UserName) })
	bus.On(b, func(e client.UserLeft) { fmt.Printf("* %s left\n", e.UserID) })
	bus.On(b, func(e client.ChatReceived) {
		fmt.Printf("[%s] %s\n", e.Message.UserName, e.Message.Content)
	})
	bus.On(b, func(e client.MetadataUpdated) {
		if e.Metadata.Status != e.Previous.Status {
			fmt.Println("* transcription", e.Metadata.Status)
		}
	})
	bus.On(b, func(e client.RemoteFragment) {
		if e.Fragment.IsFinal {
			fmt.Printf("~ %s: %s\n", e.Fragment.SpeakerName, e.Fragment.Text)
		}
	})
	bus.On(b, func(e client.ErrorReceived) { fmt.Println("! relay:", e.Message) })
	bus.On(b, func(e client.TranscriptionFailed) { fmt.Println("! transcription:", e.Err) })
	bus.On(b, func(e client.NetworkQuality) { fmt.Println("* media", e.Quality) })
}
