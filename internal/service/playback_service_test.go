package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariaplayer/aria/internal/adapter/eventbus"
	"github.com/ariaplayer/aria/internal/adapter/notify"
	"github.com/ariaplayer/aria/internal/adapter/transport/mock"
	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/logger"
	"github.com/ariaplayer/aria/internal/ports"
	"github.com/ariaplayer/aria/internal/testutil"
)

// fakeSource is a scriptable MediaSource.
type fakeSource struct {
	mu           sync.Mutex
	similar      []domain.Song
	similarErr   error
	similarCalls int
	scrobbles    []fakeScrobble
}

type fakeScrobble struct {
	SongID     string
	Submission bool
}

func (f *fakeSource) SimilarSongs(_ context.Context, _ domain.Song, _ int) ([]domain.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.similarCalls++
	return f.similar, f.similarErr
}

func (f *fakeSource) Scrobble(_ context.Context, song domain.Song, _ time.Time, submission bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrobbles = append(f.scrobbles, fakeScrobble{SongID: song.ID, Submission: submission})
	return nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.similarCalls
}

var _ ports.MediaSource = (*fakeSource)(nil)

type playbackFixture struct {
	bus       ports.EventBus
	queue     *QueueService
	transport *mock.Transport
	playback  *PlaybackService
}

func newPlaybackFixture(t *testing.T, cfg PlaybackConfig, source ports.MediaSource) *playbackFixture {
	t.Helper()

	bus := eventbus.NewSyncBus(logger.NewTestLogger())
	queue := NewQueueService(logger.NewTestLogger(), bus, nil)
	transport := mock.New()
	require.NoError(t, transport.Initialize())

	playback := NewPlaybackService(
		logger.NewTestLogger(),
		queue,
		transport,
		nil,
		source,
		notify.NewNop(),
		bus,
		cfg,
	)

	t.Cleanup(func() {
		_ = playback.Shutdown()
		_ = queue.Shutdown()
		if transport.IsInitialized() {
			_ = transport.Shutdown()
		}
		_ = bus.Close()
	})

	return &playbackFixture{bus: bus, queue: queue, transport: transport, playback: playback}
}

// collect subscribes to an event type and returns a thread-safe accessor.
func collect[E domain.Event](f *playbackFixture, eventType domain.EventType) func() []E {
	var mu sync.Mutex
	var events []E
	f.bus.Subscribe(eventType, func(event domain.Event) {
		if e, ok := event.(E); ok {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	})
	return func() []E {
		mu.Lock()
		defer mu.Unlock()
		return append([]E{}, events...)
	}
}

func TestPlayNowStartsPlayback(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	tracks := collect[domain.PlayerTrackEvent](f, domain.EventPlayerTrack)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))

	assert.Equal(t, domain.StatePlaying, f.playback.State())
	assert.Equal(t, "a", f.queue.Current().ID)

	calls := f.transport.SetQueueCalls()
	require.NotEmpty(t, calls)
	first := calls[0]
	assert.Contains(t, first.CurrentURL, "id=a")
	assert.Contains(t, first.NextURL, "id=b")
	assert.False(t, first.StartPaused)

	events := tracks()
	require.NotEmpty(t, events)
	assert.Equal(t, "a", events[0].Song.ID)
}

func TestPlayNowSkipsUnplayableEntries(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	errs := collect[domain.PlayerErrorEvent](f, domain.EventPlayerError)

	songs := makeSongs("bad", "good")
	songs[0].StreamURL = ""

	require.NoError(t, f.playback.PlayNow(songs))

	assert.Equal(t, domain.StatePlaying, f.playback.State())
	assert.Equal(t, "good", f.queue.Current().ID)

	events := errs()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Song)
	assert.Equal(t, "bad", events[0].Song.ID)
}

func TestPlayNowWithOnlyUnplayableEntriesGoesIdle(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	ended := collect[domain.QueueEndedEvent](f, domain.EventQueueEnded)

	songs := makeSongs("bad1", "bad2")
	songs[0].StreamURL = ""
	songs[1].StreamURL = ""

	require.NoError(t, f.playback.PlayNow(songs))

	assert.Equal(t, domain.StateIdle, f.playback.State())
	assert.NotEmpty(t, ended())
}

func TestAddNextOnEmptyQueueStartsPlayback(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.AddNext(makeSongs("a")))
	assert.Equal(t, domain.StatePlaying, f.playback.State())
}

func TestAddLastWhilePlayingDoesNotInterrupt(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	before := len(f.transport.SetQueueCalls())

	require.NoError(t, f.playback.AddLast(makeSongs("b")))

	assert.Len(t, f.transport.SetQueueCalls(), before)
	assert.Equal(t, "a", f.queue.Current().ID)
	// The look-ahead picks up the appended song
	assert.Contains(t, f.transport.NextURL(), "id=b")
}

func TestNextAndPrevious(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))

	require.NoError(t, f.playback.Next())
	assert.Equal(t, "b", f.queue.Current().ID)
	assert.Equal(t, domain.StatePlaying, f.playback.State())

	require.NoError(t, f.playback.Previous())
	assert.Equal(t, "a", f.queue.Current().ID)
}

func TestPreviousAtStartIsNoOp(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	before := len(f.transport.SetQueueCalls())

	require.NoError(t, f.playback.Previous())

	assert.Equal(t, "a", f.queue.Current().ID)
	assert.Len(t, f.transport.SetQueueCalls(), before)
}

func TestPauseAndResume(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))

	require.NoError(t, f.playback.Pause())
	assert.Equal(t, domain.StatePaused, f.playback.State())
	assert.False(t, f.transport.IsPlaying())

	require.NoError(t, f.playback.Resume())
	assert.Equal(t, domain.StatePlaying, f.playback.State())
	assert.True(t, f.transport.IsPlaying())
}

func TestResumeWithoutCurrentSong(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	assert.ErrorIs(t, f.playback.Resume(), domain.ErrNoCurrentSong)
}

func TestStopGoesIdle(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	require.NoError(t, f.playback.Stop())

	assert.Equal(t, domain.StateIdle, f.playback.State())
	assert.False(t, f.transport.IsPlaying())
}

func TestVolumeAndMute(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.SetVolume(0.3))
	assert.Equal(t, 0.3, f.playback.Volume())
	assert.Equal(t, 0.3, f.transport.Volume())

	assert.ErrorIs(t, f.playback.SetVolume(1.5), domain.ErrInvalidVolume)
	assert.Equal(t, 0.3, f.playback.Volume())

	require.NoError(t, f.playback.SetMute(true))
	assert.True(t, f.playback.IsMuted())
	// Muting keeps the stored volume
	assert.Equal(t, 0.3, f.playback.Volume())
}

func TestTrackEndedAdvancesToNext(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		current := f.queue.Current()
		return current != nil && current.ID == "b"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatePlaying, f.playback.State())
}

func TestTrackEndedAtEndOfQueueGoesIdle(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	ended := collect[domain.QueueEndedEvent](f, domain.EventQueueEnded)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		return f.playback.State() == domain.StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, ended())
	assert.False(t, f.transport.IsPlaying())
}

func TestTrackEndedWithRepeatOneRestarts(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	f.queue.SetRepeat(domain.RepeatOne)
	before := len(f.transport.SetQueueCalls())

	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		return len(f.transport.SetQueueCalls()) > before
	}, time.Second, 5*time.Millisecond)

	calls := f.transport.SetQueueCalls()
	assert.Contains(t, calls[len(calls)-1].CurrentURL, "id=a")
	assert.Equal(t, "a", f.queue.Current().ID)
}

func TestAutoAdvanceResyncsWithoutReload(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	tracks := collect[domain.PlayerTrackEvent](f, domain.EventPlayerTrack)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	before := len(f.transport.SetQueueCalls())

	f.transport.EmitAutoAdvanced()

	require.Eventually(t, func() bool {
		current := f.queue.Current()
		return current != nil && current.ID == "b"
	}, time.Second, 5*time.Millisecond)

	// A native hand-off never re-issues a load command
	assert.Len(t, f.transport.SetQueueCalls(), before)

	events := tracks()
	assert.Equal(t, "b", events[len(events)-1].Song.ID)
}

func TestAutoContinuationExtendsQueue(t *testing.T) {
	source := &fakeSource{similar: makeSongs("rec1", "rec2")}
	f := newPlaybackFixture(t, PlaybackConfig{}, source)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		current := f.queue.Current()
		return current != nil && current.ID == "rec1"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatePlaying, f.playback.State())
	assert.Equal(t, 2, f.queue.Len())
}

func TestAutoContinuationSkipsSeedItself(t *testing.T) {
	songs := makeSongs("a", "rec1")
	source := &fakeSource{similar: []domain.Song{songs[0], songs[1]}}
	f := newPlaybackFixture(t, PlaybackConfig{}, source)

	require.NoError(t, f.playback.PlayNow([]domain.Song{songs[0]}))
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		current := f.queue.Current()
		return current != nil && current.ID == "rec1"
	}, time.Second, 5*time.Millisecond)
}

func TestAutoContinuationGivesUpWithoutCandidates(t *testing.T) {
	source := &fakeSource{}
	f := newPlaybackFixture(t, PlaybackConfig{}, source)
	ended := collect[domain.QueueEndedEvent](f, domain.EventQueueEnded)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		return f.playback.State() == domain.StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, ended())
	assert.Equal(t, 1, source.calls())
}

func TestAutoContinuationBoundedRetries(t *testing.T) {
	source := &fakeSource{similar: makeSongs("rec1")}
	f := newPlaybackFixture(t, PlaybackConfig{}, source)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))

	// Every continuation candidate is rejected by the backend
	f.transport.SetFailSetQueue(true)
	f.transport.EmitTrackEnded()

	require.Eventually(t, func() bool {
		return f.playback.State() == domain.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, source.calls(), maxAdvanceAttempts)
	assert.Greater(t, source.calls(), 1)
}

func TestNewerRequestSupersedesOlder(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	require.NoError(t, f.playback.PlayNow(makeSongs("z")))

	calls := f.transport.SetQueueCalls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[len(calls)-1].CurrentURL, "id=z")
	assert.Equal(t, "z", f.queue.Current().ID)
}

func TestCrossfadeTransitionAdvancesEarly(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{
		Style:             domain.TransitionCrossfade,
		CrossfadeDuration: 100 * time.Millisecond,
	}, nil)

	songs := makeSongs("a", "b")
	require.NoError(t, f.playback.PlayNow(songs))
	require.NoError(t, f.playback.SetVolume(0.8))

	// Position close enough to the end to trigger the fade
	f.transport.EmitTimeUpdate(songs[0].Duration - 50*time.Millisecond)

	require.Eventually(t, func() bool {
		current := f.queue.Current()
		return current != nil && current.ID == "b" && f.playback.State() == domain.StatePlaying
	}, 2*time.Second, 5*time.Millisecond)

	// The listener's volume is restored once the fade completes
	assert.InDelta(t, 0.8, f.transport.Volume(), 0.001)
}

func TestCrossfadeNotTriggeredWithRepeatOne(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{
		Style:             domain.TransitionCrossfade,
		CrossfadeDuration: 100 * time.Millisecond,
	}, nil)

	songs := makeSongs("a", "b")
	require.NoError(t, f.playback.PlayNow(songs))
	f.queue.SetRepeat(domain.RepeatOne)

	f.transport.EmitTimeUpdate(songs[0].Duration - 50*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "a", f.queue.Current().ID)
	assert.NotEqual(t, domain.StateTransitioning, f.playback.State())
}

func TestProgressEventsPublished(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	progress := collect[domain.PlayerProgressEvent](f, domain.EventPlayerProgress)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	f.transport.EmitTimeUpdate(42 * time.Second)

	require.Eventually(t, func() bool {
		events := progress()
		return len(events) > 0 && events[0].Position == 42*time.Second
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 42*time.Second, f.playback.Position())
}

func TestLookaheadClearedOnLastTrack(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	require.NoError(t, f.playback.Next())

	assert.Equal(t, "", f.transport.NextURL())
}

func TestPlaybackShutdownStopsEventLoop(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	f := newPlaybackFixture(t, PlaybackConfig{}, nil)
	require.NoError(t, f.playback.PlayNow(makeSongs("a")))

	require.NoError(t, f.playback.Shutdown())
	require.NoError(t, f.queue.Shutdown())
	require.NoError(t, f.transport.Shutdown())
	require.NoError(t, f.bus.Close())
}

func TestRemovingUpcomingEntryRefreshesLookahead(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b", "c")))
	require.Contains(t, f.transport.NextURL(), "id=b")

	entries := f.queue.Entries()
	f.queue.RemoveByUniqueID([]string{entries[1].UniqueID})

	assert.Contains(t, f.transport.NextURL(), "id=c")
}

func TestRemovingPlayingEntryLoadsNewCurrent(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b", "c")))
	require.Contains(t, f.transport.CurrentURL(), "id=a")

	f.queue.RemoveByUniqueID([]string{f.queue.Current().UniqueID})

	// The queue advanced, so the transport must follow to the new current
	assert.Equal(t, "b", f.queue.Current().ID)
	assert.Contains(t, f.transport.CurrentURL(), "id=b")
	assert.Contains(t, f.transport.NextURL(), "id=c")
	assert.Equal(t, domain.StatePlaying, f.playback.State())
}

func TestRemovingPlayingEntryWhilePausedStaysPaused(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a", "b")))
	require.NoError(t, f.playback.Pause())

	f.queue.RemoveByUniqueID([]string{f.queue.Current().UniqueID})

	assert.Contains(t, f.transport.CurrentURL(), "id=b")
	assert.Equal(t, domain.StatePaused, f.playback.State())
	assert.False(t, f.transport.IsPlaying())
}

func TestRemovingOnlyPlayingEntryStopsTransport(t *testing.T) {
	f := newPlaybackFixture(t, PlaybackConfig{}, nil)

	require.NoError(t, f.playback.PlayNow(makeSongs("a")))
	f.queue.RemoveByUniqueID([]string{f.queue.Current().UniqueID})

	assert.Equal(t, domain.StateIdle, f.playback.State())
	assert.False(t, f.transport.IsPlaying())
	assert.Equal(t, "", f.transport.CurrentURL())
}
