package stt_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/mocks"
	"github.com/dkeye/Parley/internal/stt"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var errBoom = errors.New("boom")

type fakeLock struct {
	sem       chan struct{}
	mu        sync.Mutex
	acquires  int
	releases  int
	onRelease func()
}

func newFakeLock() *fakeLock { return &fakeLock{sem: make(chan struct{}, 1)} }

func (l *fakeLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		l.mu.Lock()
		l.acquires++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLock) Release(context.Context) error {
	if l.onRelease != nil {
		l.onRelease()
	}
	l.mu.Lock()
	l.releases++
	l.mu.Unlock()
	<-l.sem
	return nil
}

func (l *fakeLock) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.releases
}

type fakeStore struct {
	mu      sync.Mutex
	md      domain.SessionMetadata
	patches []domain.MetadataPatch
	delay   time.Duration
	fail    func(domain.MetadataPatch) error
}

func newFakeStore() *fakeStore { return &fakeStore{md: domain.NewSessionMetadata()} }

func (s *fakeStore) UpdateMetadata(_ context.Context, p domain.MetadataPatch) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		if err := s.fail(p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, p)
	s.md = s.md.Apply(p)
	return nil
}

func (s *fakeStore) Metadata() domain.SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.md
}

func (s *fakeStore) recorded() []domain.MetadataPatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MetadataPatch(nil), s.patches...)
}

var alice = domain.User{ID: "u1", Username: "Alice"}

type harness struct {
	ctl   *stt.Controller
	rec   *stt.FeedRecognizer
	lock  *fakeLock
	store *fakeStore
	frags chan domain.Fragment
	errs  chan error
}

func newHarness(pub stt.Publisher) *harness {
	h := &harness{
		rec:   stt.NewFeedRecognizer(),
		lock:  newFakeLock(),
		store: newFakeStore(),
		frags: make(chan domain.Fragment, 16),
		errs:  make(chan error, 1),
	}
	h.ctl = stt.NewController(stt.Options{
		Recognizer: h.rec,
		Lock:       h.lock,
		Store:      h.store,
		Publisher:  pub,
		OnFragment: func(f domain.Fragment) { h.frags <- f },
		OnError:    func(err error) { h.errs <- err },
		Duration:   10 * time.Minute,
	})
	h.ctl.Init(alice)
	return h
}

func (h *harness) nextFragment(t *testing.T) domain.Fragment {
	t.Helper()
	select {
	case f := <-h.frags:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no fragment")
		return domain.Fragment{}
	}
}

func TestStart_NotInitialized(t *testing.T) {
	ctl := stt.NewController(stt.Options{})
	require.ErrorIs(t, ctl.Start(context.Background(), nil), stt.ErrNotInitialized)
	require.ErrorIs(t, ctl.Stop(context.Background()), stt.ErrNotInitialized)
}

func TestStart_PublishesMetadataUnderLock(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	lock := mocks.NewMockLock(ctrl)
	store := mocks.NewMockMetadataStore(ctrl)
	rec := stt.NewFeedRecognizer()

	var (
		mu      sync.Mutex
		patches []domain.MetadataPatch
	)
	acquire := lock.EXPECT().Acquire(gomock.Any()).Return(nil)
	updates := store.EXPECT().UpdateMetadata(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p domain.MetadataPatch) error {
			mu.Lock()
			patches = append(patches, p)
			mu.Unlock()
			return nil
		}).Times(2).After(acquire)
	lock.EXPECT().Release(gomock.Any()).Return(nil).After(updates)

	ctl := stt.NewController(stt.Options{Recognizer: rec, Lock: lock, Store: store, Duration: time.Minute})
	ctl.Init(alice)

	req.NoError(ctl.Start(context.Background(), nil))
	req.Equal(stt.StatusRunning, ctl.Query())
	req.Equal("en-US", rec.Lang())

	var status, langs *domain.MetadataPatch
	for i := range patches {
		if patches[i].Status != nil {
			status = &patches[i]
		} else {
			langs = &patches[i]
		}
	}
	req.NotNil(status)
	req.NotNil(langs)
	req.Equal(domain.StatusStart, *status.Status)
	req.Equal(int64(60000), *status.Duration)
	req.NotEmpty(*status.TaskID)
	req.Equal([]domain.Language{{Source: "en-US", Target: []string{}}}, langs.Languages)
}

func TestStart_RecognizerFailureReleasesLock(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	lock := mocks.NewMockLock(ctrl)
	store := mocks.NewMockMetadataStore(ctrl)
	rec := mocks.NewMockRecognizer(ctrl)

	gomock.InOrder(
		lock.EXPECT().Acquire(gomock.Any()).Return(nil),
		rec.EXPECT().Start(gomock.Any(), "fr-FR").Return(nil, stt.ErrPermissionDenied),
		lock.EXPECT().Release(gomock.Any()).Return(nil),
	)
	store.EXPECT().UpdateMetadata(gomock.Any(), gomock.Any()).Times(0)

	ctl := stt.NewController(stt.Options{Recognizer: rec, Lock: lock, Store: store})
	ctl.Init(alice)

	err := ctl.Start(context.Background(), []domain.Language{{Source: "fr"}})
	req.ErrorIs(err, stt.ErrPermissionDenied)
	req.Equal(stt.StatusStopped, ctl.Query())
}

func TestStart_MetadataFailureEndsSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	h.store.fail = func(p domain.MetadataPatch) error {
		if p.Languages != nil {
			return errBoom
		}
		return nil
	}

	err := h.ctl.Start(context.Background(), nil)
	req.ErrorIs(err, errBoom)

	// Then the recognizer is halted, metadata says end, and the lock is free
	req.False(h.rec.Running())
	req.Equal(stt.StatusStopped, h.ctl.Query())
	req.Equal(domain.StatusEnd, h.store.Metadata().Status)
	acquires, releases := h.lock.counts()
	req.Equal(1, acquires)
	req.Equal(1, releases)
}

func TestStart_Twice(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	req.NoError(h.ctl.Start(context.Background(), nil))
	req.ErrorIs(h.ctl.Start(context.Background(), nil), stt.ErrAlreadyRunning)
	_, releases := h.lock.counts()
	req.Equal(2, releases)
}

func TestPump_FinalsArePublishedInterimsStayLocal(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	published := make(chan domain.Fragment, 1)
	pub.EXPECT().SendTranscription(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, f domain.Fragment) error {
			published <- f
			return nil
		}).Times(1)

	h := newHarness(pub)
	req.NoError(h.ctl.Start(context.Background(), nil))

	h.rec.Feed(stt.Event{Text: "hello"})
	h.rec.Feed(stt.Event{Err: stt.ErrNoSpeech})
	h.rec.Feed(stt.Event{Text: "hello world", IsFinal: true})

	first := h.nextFragment(t)
	req.False(first.IsFinal)
	req.Equal(domain.UserID("u1"), first.SpeakerID)
	second := h.nextFragment(t)
	req.True(second.IsFinal)

	select {
	case f := <-published:
		req.Equal("hello world", f.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("final not published")
	}

	req.NoError(h.ctl.Stop(context.Background()))
}

func TestStop_HaltsBeforeRelease(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	req.NoError(h.ctl.Start(context.Background(), nil))

	var runningAtRelease bool
	h.lock.onRelease = func() { runningAtRelease = h.rec.Running() }
	req.NoError(h.ctl.Stop(context.Background()))

	req.False(runningAtRelease)
	req.False(h.rec.Feed(stt.Event{Text: "late", IsFinal: true}))
	req.Empty(h.frags)
	req.Equal(domain.StatusEnd, h.store.Metadata().Status)
}

func TestLock_StartAndStopDoNotInterleave(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	h.store.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = h.ctl.Start(context.Background(), nil)
	}()
	go func() {
		defer wg.Done()
		_ = h.ctl.Stop(context.Background())
	}()
	wg.Wait()

	// The end update never lands between the two start sub-updates
	patches := h.store.recorded()
	req.Len(patches, 3)
	isEnd := func(p domain.MetadataPatch) bool { return p.Status != nil && *p.Status == domain.StatusEnd }
	req.False(isEnd(patches[1]))
}

func TestPump_RestartsWhenRecognizerEnds(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	req.NoError(h.ctl.Start(context.Background(), nil))

	h.rec.End()
	req.Eventually(func() bool { return h.rec.Starts() == 2 && h.rec.Running() }, 2*time.Second, 10*time.Millisecond)
	req.Equal(stt.StatusRunning, h.ctl.Query())

	h.rec.Feed(stt.Event{Text: "again", IsFinal: true})
	req.Equal("again", h.nextFragment(t).Text)
	req.NoError(h.ctl.Stop(context.Background()))
}

// endingRecognizer hands out streams that are already closed.
type endingRecognizer struct {
	mu     sync.Mutex
	starts []time.Time
}

func (r *endingRecognizer) Start(context.Context, string) (<-chan stt.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, time.Now())
	ch := make(chan stt.Event)
	close(ch)
	return ch, nil
}

func (r *endingRecognizer) Stop() error { return nil }

func (r *endingRecognizer) startTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.starts...)
}

func TestPump_RestartsBackOffAndGiveUp(t *testing.T) {
	req := require.New(t)

	// Given a recognizer that ends as soon as it starts
	rec := &endingRecognizer{}
	errs := make(chan error, 1)
	store := newFakeStore()
	ctl := stt.NewController(stt.Options{
		Recognizer:   rec,
		Lock:         newFakeLock(),
		Store:        store,
		OnError:      func(err error) { errs <- err },
		Duration:     time.Minute,
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  3,
	})
	ctl.Init(alice)

	// When the session starts
	req.NoError(ctl.Start(context.Background(), nil))

	// Then restarts are spaced out and the session ends after the cap
	select {
	case err := <-errs:
		req.ErrorIs(err, stt.ErrRestartLimit)
	case <-time.After(2 * time.Second):
		t.Fatal("restart limit not reported")
	}
	starts := rec.startTimes()
	req.Len(starts, 4)
	req.GreaterOrEqual(starts[3].Sub(starts[0]), 70*time.Millisecond)
	req.Equal(stt.StatusStopped, ctl.Query())
	req.Eventually(func() bool { return store.Metadata().Status == domain.StatusEnd }, time.Second, 10*time.Millisecond)
}

func TestPump_PermissionDeniedEndsSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	req.NoError(h.ctl.Start(context.Background(), nil))

	h.rec.Feed(stt.Event{Err: stt.ErrPermissionDenied})

	select {
	case err := <-h.errs:
		req.ErrorIs(err, stt.ErrPermissionDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("fault not reported")
	}
	req.Equal(stt.StatusStopped, h.ctl.Query())
	req.Equal(domain.StatusEnd, h.store.Metadata().Status)
	acquires, releases := h.lock.counts()
	req.Equal(acquires, releases)
}

func TestExtendDuration_OnlySetFields(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)

	req.NoError(h.ctl.ExtendDuration(context.Background(), 0, 0))
	acquires, _ := h.lock.counts()
	req.Equal(0, acquires)

	req.NoError(h.ctl.ExtendDuration(context.Background(), 0, 5000))
	patches := h.store.recorded()
	req.Len(patches, 1)
	req.Nil(patches[0].StartTime)
	req.Equal(int64(5000), *patches[0].Duration)
}

func TestWatch_StopsExpiredSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil)
	req.NoError(h.ctl.Start(context.Background(), nil))

	// Given a session whose start time is far in the past
	past := time.Now().Add(-time.Hour).UnixMilli()
	req.NoError(h.store.UpdateMetadata(context.Background(), domain.MetadataPatch{StartTime: &past}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.ctl.Watch(ctx, 10*time.Millisecond)

	req.Eventually(func() bool { return h.ctl.Query() == stt.StatusStopped }, 2*time.Second, 10*time.Millisecond)
	req.Equal(domain.StatusEnd, h.store.Metadata().Status)
}

func TestMapLanguage(t *testing.T) {
	cases := map[string]string{
		"":      "en-US",
		"en":    "en-US",
		"zh":    "zh-CN",
		"pt":    "pt-BR",
		"en-GB": "en-GB",
		"xx":    "xx",
	}
	for in, want := range cases {
		require.Equal(t, want, stt.MapLanguage(in), in)
	}
}
