package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/transcript"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	releaseTimeout  = 5 * time.Second
	maxRestartDelay = 5 * time.Second
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

type Options struct {
	Recognizer Recognizer
	Lock       Lock
	Store      MetadataStore
	Publisher  Publisher
	// OnFragment receives every local fragment, interim and final.
	OnFragment func(domain.Fragment)
	// OnError receives recognizer faults that ended the session.
	OnError  func(error)
	Duration time.Duration
	// RestartDelay is the wait before the first restart after the recognizer
	// ends on its own. It doubles while the recognizer keeps ending without
	// producing anything, up to 5s.
	RestartDelay time.Duration
	// MaxRestarts is how many such restarts in a row are tried before the
	// session is ended with ErrRestartLimit.
	MaxRestarts int
	Now         func() time.Time
}

// Controller runs the local transcription session. Start, Stop and
// ExtendDuration hold the room lock for their whole run, sub-updates
// included.
type Controller struct {
	opts Options
	agg  *transcript.Aggregator

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewController(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnFragment == nil {
		opts.OnFragment = func(domain.Fragment) {}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 200 * time.Millisecond
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = 5
	}
	now := func() int64 { return opts.Now().UnixMilli() }
	return &Controller{
		opts: opts,
		agg:  transcript.NewAggregator("", "", DefaultLocale, now),
	}
}

// Init binds the controller to the local participant.
func (c *Controller) Init(user domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agg.SetSpeaker(user.ID, user.Username)
	c.initialized = true
}

func (c *Controller) Query() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return StatusRunning
	}
	return StatusStopped
}

// Start acquires the lock, starts the recognizer and publishes the session
// metadata. On any failure the recognizer is halted and the metadata is set
// back to end before the lock is released.
func (c *Controller) Start(ctx context.Context, langs []domain.Language) error {
	if !c.isInitialized() {
		return ErrNotInitialized
	}
	langs = normalizeLanguages(langs)
	lang := MapLanguage(langs[0].Source)

	if err := c.opts.Lock.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer c.release(ctx)

	if err := c.launch(lang); err != nil {
		return err
	}

	start := domain.StatusStart
	taskID := "task-" + uuid.NewString()
	token := uuid.NewString()
	startTime := c.opts.Now().UnixMilli()
	duration := c.opts.Duration.Milliseconds()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.opts.Store.UpdateMetadata(gctx, domain.MetadataPatch{Languages: langs})
	})
	g.Go(func() error {
		return c.opts.Store.UpdateMetadata(gctx, domain.MetadataPatch{
			Status:    &start,
			TaskID:    &taskID,
			Token:     &token,
			StartTime: &startTime,
			Duration:  &duration,
		})
	})
	if err := g.Wait(); err != nil {
		c.halt()
		c.markEnded(ctx)
		return fmt.Errorf("update metadata: %w", err)
	}
	log.Info().Str("module", "stt").Str("lang", lang).Str("task", taskID).Msg("transcription started")
	return nil
}

func (c *Controller) launch(lang string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	events, err := c.opts.Recognizer.Start(runCtx, lang)
	if err != nil {
		cancel()
		return fmt.Errorf("start recognizer: %w", err)
	}
	c.agg.Reset()
	c.agg.SetCulture(lang)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done
	go c.pump(runCtx, events, lang, done)
	return nil
}

// Stop halts the recognizer, then marks the session ended, all under the lock.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.isInitialized() {
		return ErrNotInitialized
	}
	if err := c.opts.Lock.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer c.release(ctx)

	c.halt()
	end := domain.StatusEnd
	if err := c.opts.Store.UpdateMetadata(ctx, domain.MetadataPatch{Status: &end}); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	log.Info().Str("module", "stt").Msg("transcription stopped")
	return nil
}

// ExtendDuration patches only the fields that are set.
func (c *Controller) ExtendDuration(ctx context.Context, startTime, duration int64) error {
	var patch domain.MetadataPatch
	if startTime > 0 {
		patch.StartTime = &startTime
	}
	if duration > 0 {
		patch.Duration = &duration
	}
	if patch.Empty() {
		return nil
	}
	if err := c.opts.Lock.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer c.release(ctx)
	if err := c.opts.Store.UpdateMetadata(ctx, patch); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// Destroy halts the recognizer without touching the shared metadata.
func (c *Controller) Destroy() {
	c.halt()
	c.mu.Lock()
	c.initialized = false
	c.agg.SetSpeaker("", "")
	c.mu.Unlock()
}

// Watch stops a local session that ran past its configured duration.
func (c *Controller) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Query() != StatusRunning {
				continue
			}
			if !c.opts.Store.Metadata().Expired(c.opts.Now().UnixMilli()) {
				continue
			}
			log.Info().Str("module", "stt").Msg("session duration reached, stopping")
			if err := c.Stop(ctx); err != nil {
				log.Error().Err(err).Str("module", "stt").Msg("watchdog stop")
			}
		}
	}
}

func (c *Controller) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// halt stops fragment emission. When it returns the pump has exited.
func (c *Controller) halt() {
	c.mu.Lock()
	running, cancel, done := c.running, c.cancel, c.done
	c.running = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if !running {
		return
	}
	cancel()
	if err := c.opts.Recognizer.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "stt").Msg("stop recognizer")
	}
	<-done
}

func (c *Controller) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.opts.Lock.Release(ctx); err != nil {
		log.Error().Err(err).Str("module", "stt").Msg("release lock")
	}
}

func (c *Controller) markEnded(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	end := domain.StatusEnd
	if err := c.opts.Store.UpdateMetadata(ctx, domain.MetadataPatch{Status: &end}); err != nil {
		log.Error().Err(err).Str("module", "stt").Msg("reset metadata after failed start")
	}
}

func (c *Controller) pump(ctx context.Context, events <-chan Event, lang string, done chan struct{}) {
	defer close(done)
	restarts := 0
	delay := c.opts.RestartDelay
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				if restarts >= c.opts.MaxRestarts {
					c.fault(fmt.Errorf("%w: %d in a row", ErrRestartLimit, restarts))
					return
				}
				restarts++
				log.Warn().Str("module", "stt").Int("attempt", restarts).Dur("delay", delay).Msg("recognizer ended, restarting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				delay = min(delay*2, maxRestartDelay)
				next, err := c.opts.Recognizer.Start(ctx, lang)
				if err != nil {
					c.fault(fmt.Errorf("restart recognizer: %w", err))
					return
				}
				log.Info().Str("module", "stt").Msg("recognizer restarted")
				events = next
				continue
			}
			restarts = 0
			delay = c.opts.RestartDelay
			if ev.Err != nil {
				if errors.Is(ev.Err, ErrNoSpeech) {
					continue
				}
				if errors.Is(ev.Err, ErrPermissionDenied) {
					c.fault(ev.Err)
					return
				}
				log.Warn().Err(ev.Err).Str("module", "stt").Msg("recognizer error")
				continue
			}
			frag, ok := c.agg.Push(ev.Text, ev.IsFinal)
			if !ok {
				continue
			}
			c.opts.OnFragment(frag)
			if frag.IsFinal && c.opts.Publisher != nil {
				if err := c.opts.Publisher.SendTranscription(ctx, frag); err != nil {
					log.Warn().Err(err).Str("module", "stt").Msg("send transcription")
				}
			}
		}
	}
}

// fault ends the session from inside the pump. Stop waits for the pump, so
// it runs on its own goroutine.
func (c *Controller) fault(err error) {
	log.Error().Err(err).Str("module", "stt").Msg("recognizer fault, stopping session")
	go func() {
		if stopErr := c.Stop(context.Background()); stopErr != nil {
			log.Error().Err(stopErr).Str("module", "stt").Msg("stop after fault")
		}
		c.opts.OnError(err)
	}()
}
