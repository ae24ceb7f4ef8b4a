// Package service provides the business logic of the Aria playback engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
	"github.com/ariaplayer/aria/internal/resolver"
)

const (
	// maxAdvanceAttempts caps how many entries the coordinator skips past
	// (or auto-continuation candidates it tries) before giving up, so a
	// queue of bad entries can never loop forever.
	maxAdvanceAttempts = 25

	// similarFetchLimit is how many recommendations one lookup requests.
	similarFetchLimit = 10

	// crossfadeSteps is the number of volume increments per fade ramp.
	crossfadeSteps = 20

	// remoteCallTimeout bounds scrobble and similar-song network calls.
	remoteCallTimeout = 10 * time.Second
)

// PlaybackConfig tunes the coordinator.
type PlaybackConfig struct {
	// Transcode is applied during URL resolution
	Transcode domain.TranscodeSettings

	// Style selects gapless hand-off or coordinator-driven crossfade
	Style domain.TransitionStyle

	// CrossfadeDuration is the total fade-out + fade-in time
	CrossfadeDuration time.Duration

	// CacheWrites opportunistically downloads the playing song to the cache
	CacheWrites bool
}

// PlaybackService is the coordinator gluing the queue store, the URL
// resolver and the transport together. It owns no queue or position state of
// its own; it sequences calls across the other components and reconciles
// with transport events rather than assuming call-and-immediate-effect.
//
// A generation counter invalidates in-flight work: a newer "play now" or
// skip makes any still-running resolution for an older request a no-op, so
// a stale async result is discarded instead of applied out of order.
type PlaybackService struct {
	// Dependencies (injected)
	logger    *slog.Logger
	queue     *QueueService
	transport ports.Transport
	cache     ports.CacheManager // may be nil (caching disabled)
	source    ports.MediaSource  // may be nil (no auto-continuation)
	notifier  ports.Notifier
	bus       ports.EventBus

	cfg PlaybackConfig

	// State
	state          domain.PlayerState
	volume         float64
	muted          bool
	lastNextURL    string
	lastCurrentUID string

	// cacheAttempted remembers failed opportunistic downloads so a bad
	// entry is not re-fetched on every play
	cacheAttempted map[string]struct{}

	// Concurrency control
	mu         sync.RWMutex
	generation atomic.Uint64
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	queueSub domain.SubscriptionID
}

// NewPlaybackService creates the coordinator and starts its transport event
// loop. The transport must already be initialized.
func NewPlaybackService(
	logger *slog.Logger,
	queue *QueueService,
	transport ports.Transport,
	cache ports.CacheManager,
	source ports.MediaSource,
	notifier ports.Notifier,
	bus ports.EventBus,
	cfg PlaybackConfig,
) *PlaybackService {
	s := &PlaybackService{
		logger:         logger,
		queue:          queue,
		transport:      transport,
		cache:          cache,
		source:         source,
		notifier:       notifier,
		bus:            bus,
		cfg:            cfg,
		state:          domain.StateIdle,
		volume:         1.0,
		cacheAttempted: make(map[string]struct{}),
		stop:           make(chan struct{}),
	}

	// Reconcile with queue mutations made outside the coordinator: refresh
	// the transport's look-ahead, and reload when the playing entry itself
	// was removed from under the transport
	s.queueSub = bus.Subscribe(domain.EventQueueChanged, func(domain.Event) {
		s.handleQueueChanged()
	})

	s.wg.Add(1)
	go s.eventLoop()

	logger.Debug("playback service initialized")

	return s
}

// PlayNow replaces the unplayed remainder of the queue with the given songs
// and starts the first of them.
func (s *PlaybackService) PlayNow(songs []domain.Song) error {
	if len(songs) == 0 {
		return nil
	}
	gen := s.generation.Add(1)
	s.queue.Add(songs, domain.PlayNow)
	s.startCurrent(gen, false)
	return nil
}

// AddNext inserts songs immediately after the current entry.
// On an empty queue this behaves like PlayNow.
func (s *PlaybackService) AddNext(songs []domain.Song) error {
	return s.add(songs, domain.PlayNext)
}

// AddLast appends songs after the last entry.
func (s *PlaybackService) AddLast(songs []domain.Song) error {
	return s.add(songs, domain.PlayLast)
}

func (s *PlaybackService) add(songs []domain.Song, mode domain.PlayMode) error {
	if len(songs) == 0 {
		return nil
	}
	wasEmpty := s.queue.Len() == 0
	s.queue.Add(songs, mode)
	if wasEmpty {
		gen := s.generation.Add(1)
		s.startCurrent(gen, false)
	}
	return nil
}

// Next skips to the next entry. When the queue is exhausted the coordinator
// attempts auto-continuation before going idle.
func (s *PlaybackService) Next() error {
	gen := s.generation.Add(1)

	_, err := s.queue.Advance(domain.DirectionNext)
	switch {
	case errors.Is(err, domain.ErrEndOfQueue):
		s.handleQueueExhausted(gen)
		return nil
	case err != nil:
		return err
	}

	s.startCurrent(gen, false)
	return nil
}

// Previous steps back through history. At the start of the queue this is a
// no-op rather than an error.
func (s *PlaybackService) Previous() error {
	gen := s.generation.Add(1)

	_, err := s.queue.Advance(domain.DirectionPrevious)
	switch {
	case errors.Is(err, domain.ErrEndOfQueue):
		return nil
	case err != nil:
		return err
	}

	s.startCurrent(gen, false)
	return nil
}

// Pause pauses the transport.
func (s *PlaybackService) Pause() error {
	if err := s.transport.Pause(); err != nil {
		return err
	}
	s.setState(domain.StatePaused)
	return nil
}

// Resume resumes the transport.
func (s *PlaybackService) Resume() error {
	if s.queue.Current() == nil {
		return domain.ErrNoCurrentSong
	}
	if err := s.transport.Play(); err != nil {
		return err
	}
	s.setState(domain.StatePlaying)
	return nil
}

// Stop stops the transport and clears the queue position to idle.
func (s *PlaybackService) Stop() error {
	s.generation.Add(1)
	if err := s.transport.Stop(); err != nil {
		return err
	}
	s.setState(domain.StateIdle)
	return nil
}

// Seek moves the position by a relative offset.
func (s *PlaybackService) Seek(offset time.Duration) error {
	return s.transport.Seek(offset)
}

// SeekTo moves the position to an absolute offset.
func (s *PlaybackService) SeekTo(position time.Duration) error {
	if position < 0 {
		return domain.ErrInvalidPosition
	}
	return s.transport.SeekTo(position)
}

// Position returns the transport's last known playback position.
// The transport is the single source of truth for this value.
func (s *PlaybackService) Position() time.Duration {
	return s.transport.Position()
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (s *PlaybackService) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return domain.ErrInvalidVolume
	}
	if err := s.transport.SetVolume(volume); err != nil {
		return err
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return nil
}

// Volume returns the stored volume.
func (s *PlaybackService) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// SetMute mutes or unmutes without changing the stored volume.
func (s *PlaybackService) SetMute(mute bool) error {
	if err := s.transport.SetMute(mute); err != nil {
		return err
	}
	s.mu.Lock()
	s.muted = mute
	s.mu.Unlock()
	return nil
}

// IsMuted reports the mute state.
func (s *PlaybackService) IsMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// State returns the coordinator's state machine state.
func (s *PlaybackService) State() domain.PlayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Shutdown stops the event loop. The transport is shut down by the caller
// afterwards, which closes the event stream.
func (s *PlaybackService) Shutdown() error {
	s.stopOnce.Do(func() {
		s.generation.Add(1)
		s.bus.Unsubscribe(s.queueSub)
		close(s.stop)
	})
	s.wg.Wait()
	return nil
}

// --- transport event handling ---

// eventLoop consumes unsolicited transport events until shutdown.
func (s *PlaybackService) eventLoop() {
	defer s.wg.Done()

	events := s.transport.Events()
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleTransportEvent(event)
		}
	}
}

func (s *PlaybackService) handleTransportEvent(event domain.TransportEvent) {
	switch event.Kind {
	case domain.TransportTimeUpdate:
		s.handleTimeUpdate(event.Position)
	case domain.TransportTrackEnded:
		s.handleTrackEnded()
	case domain.TransportAutoAdvanced:
		s.handleAutoAdvanced()
	}
}

// handleTimeUpdate publishes progress and triggers a crossfade when the
// current entry approaches its end.
func (s *PlaybackService) handleTimeUpdate(position time.Duration) {
	entry := s.queue.Current()
	if entry == nil {
		return
	}

	s.bus.Publish(domain.NewPlayerProgressEvent(*entry, position, entry.Duration))

	if s.cfg.Style != domain.TransitionCrossfade || s.cfg.CrossfadeDuration <= 0 {
		return
	}
	// Repeat-one performs a hard restart instead of crossfading into itself
	if s.queue.Repeat() == domain.RepeatOne {
		return
	}
	if s.State() != domain.StatePlaying {
		return
	}
	remaining := entry.Duration - position
	if entry.Duration <= 0 || remaining > s.cfg.CrossfadeDuration {
		return
	}
	if s.queue.NextUp() == nil {
		return
	}

	gen := s.generation.Add(1)
	s.setState(domain.StateTransitioning)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCrossfade(gen)
	}()
}

// handleTrackEnded advances the queue and starts the next entry.
// With repeat one the same entry is restarted from the top.
func (s *PlaybackService) handleTrackEnded() {
	// A crossfade already advanced past this track
	if s.State() == domain.StateTransitioning {
		return
	}

	gen := s.generation.Add(1)

	_, err := s.queue.Advance(domain.DirectionNext)
	switch {
	case errors.Is(err, domain.ErrEndOfQueue):
		s.handleQueueExhausted(gen)
		return
	case errors.Is(err, domain.ErrQueueEmpty):
		s.goIdle()
		return
	}

	s.startCurrent(gen, false)
}

// handleAutoAdvanced resynchronizes the queue after the transport performed
// a native gapless hand-off. No play command is re-issued; only the
// look-ahead is refreshed.
func (s *PlaybackService) handleAutoAdvanced() {
	entry, err := s.queue.Advance(domain.DirectionNext)
	if err != nil {
		// The transport advanced into a track the queue no longer knows
		// about; treat it as an ended queue
		gen := s.generation.Add(1)
		s.handleQueueExhausted(gen)
		return
	}

	s.logger.Debug("transport auto-advanced",
		slog.String("song", entry.Name),
		slog.String("unique_id", entry.UniqueID))

	s.mu.Lock()
	s.lastCurrentUID = entry.UniqueID
	s.mu.Unlock()

	s.setState(domain.StatePlaying)
	s.bus.Publish(domain.NewPlayerTrackEvent(*entry, s.queue.CurrentIndex()))
	s.refreshLookahead()
	s.cacheCurrentAsync(*entry)
}

// --- playback sequencing ---

// startCurrent resolves and starts the queue's current entry, skipping past
// unresolvable entries up to the retry cap. Stale generations abort silently.
func (s *PlaybackService) startCurrent(gen uint64, startPaused bool) {
	s.setState(domain.StateLoading)

	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		if s.generation.Load() != gen {
			return
		}

		entry := s.queue.Current()
		if entry == nil {
			s.goIdle()
			return
		}

		err := s.loadEntry(entry, startPaused)
		if err == nil {
			if startPaused {
				s.setState(domain.StatePaused)
			} else {
				s.setState(domain.StatePlaying)
			}
			s.bus.Publish(domain.NewPlayerTrackEvent(*entry, s.queue.CurrentIndex()))
			s.cacheCurrentAsync(*entry)
			return
		}

		s.reportEntryError(entry, err)

		if _, aerr := s.queue.Advance(domain.DirectionNext); aerr != nil {
			s.handleQueueExhausted(gen)
			return
		}
	}

	s.logger.Warn("giving up after repeated load failures",
		slog.Int("attempts", maxAdvanceAttempts))
	s.goIdle()
}

// loadEntry resolves the entry's URL plus the look-ahead and hands both to
// the transport.
func (s *PlaybackService) loadEntry(entry *domain.QueueSong, startPaused bool) error {
	url, err := resolver.PlayableURL(entry.Song, s.cfg.Transcode, s.cacheIndex())
	if err != nil {
		return err
	}

	nextURL := s.resolveNextURL()

	s.logger.Debug("loading entry",
		slog.String("song", entry.Name),
		slog.String("unique_id", entry.UniqueID),
		slog.Bool("has_next", nextURL != ""))

	if err := s.transport.SetQueue(url, nextURL, startPaused); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastNextURL = nextURL
	s.lastCurrentUID = entry.UniqueID
	s.mu.Unlock()

	return nil
}

// resolveNextURL resolves the look-ahead entry's URL, or "" when nothing
// follows or the next entry cannot be resolved (its failure will be handled
// when it becomes current).
func (s *PlaybackService) resolveNextURL() string {
	next := s.queue.NextUp()
	if next == nil {
		return ""
	}
	url, err := resolver.PlayableURL(next.Song, s.cfg.Transcode, s.cacheIndex())
	if err != nil {
		return ""
	}
	return url
}

// handleQueueChanged runs on every queue mutation. Removing the playing
// entry advances the queue without any transport interaction, leaving the
// transport on the removed entry's stream; that case is detected by the
// loaded entry's unique ID vanishing from the queue, and the new current
// entry is loaded in its place. Every other mutation only affects the
// look-ahead.
func (s *PlaybackService) handleQueueChanged() {
	state := s.State()
	if state == domain.StatePlaying || state == domain.StatePaused {
		s.mu.RLock()
		lastUID := s.lastCurrentUID
		s.mu.RUnlock()

		if lastUID != "" && !s.queue.ContainsUniqueID(lastUID) {
			gen := s.generation.Add(1)

			current := s.queue.Current()
			if current == nil {
				_ = s.transport.Stop()
				s.goIdle()
				return
			}

			s.mu.Lock()
			s.lastCurrentUID = current.UniqueID
			s.mu.Unlock()

			s.startCurrent(gen, state == domain.StatePaused)
			return
		}
	}

	s.refreshLookahead()
}

// refreshLookahead pushes the current look-ahead URL to the transport when
// it changed since the last push. Safe to call on every queue mutation.
func (s *PlaybackService) refreshLookahead() {
	if state := s.State(); state != domain.StatePlaying && state != domain.StatePaused {
		return
	}

	nextURL := s.resolveNextURL()

	s.mu.Lock()
	if s.lastNextURL == nextURL {
		s.mu.Unlock()
		return
	}
	s.lastNextURL = nextURL
	s.mu.Unlock()

	if err := s.transport.SetQueueNext(nextURL); err != nil {
		s.logger.Warn("failed to update look-ahead", slog.Any("error", err))
	}
}

// runCrossfade fades the current stream out, advances, and fades the next
// stream in. With a single-stream transport the two ramps are sequential
// halves of the configured duration.
func (s *PlaybackService) runCrossfade(gen uint64) {
	half := s.cfg.CrossfadeDuration / 2
	baseVolume := s.Volume()

	if !s.rampVolume(gen, baseVolume, 0, half) {
		_ = s.transport.SetVolume(baseVolume)
		return
	}

	_, err := s.queue.Advance(domain.DirectionNext)
	if err != nil {
		_ = s.transport.SetVolume(baseVolume)
		s.handleQueueExhausted(gen)
		return
	}

	entry := s.queue.Current()
	if entry == nil || s.generation.Load() != gen {
		_ = s.transport.SetVolume(baseVolume)
		return
	}

	if err := s.loadEntry(entry, false); err != nil {
		_ = s.transport.SetVolume(baseVolume)
		s.reportEntryError(entry, err)
		s.startCurrent(gen, false)
		return
	}

	s.bus.Publish(domain.NewPlayerTrackEvent(*entry, s.queue.CurrentIndex()))
	s.rampVolume(gen, 0, baseVolume, half)
	_ = s.transport.SetVolume(baseVolume)
	s.setState(domain.StatePlaying)
	s.cacheCurrentAsync(*entry)
}

// rampVolume steps the transport volume from one level to another over the
// given duration. Returns false when superseded or shut down mid-ramp.
func (s *PlaybackService) rampVolume(gen uint64, from, to float64, over time.Duration) bool {
	if over <= 0 {
		_ = s.transport.SetVolume(to)
		return true
	}

	step := over / crossfadeSteps
	for i := 1; i <= crossfadeSteps; i++ {
		if s.generation.Load() != gen {
			return false
		}
		select {
		case <-s.stop:
			return false
		case <-time.After(step):
		}
		level := from + (to-from)*float64(i)/crossfadeSteps
		if err := s.transport.SetVolume(level); err != nil {
			s.logger.Warn("volume ramp failed", slog.Any("error", err))
			return true
		}
	}
	return true
}

// handleQueueExhausted runs when advancing past the last entry with repeat
// disabled. It tries a bounded number of similar-song lookups before
// conceding and going idle.
func (s *PlaybackService) handleQueueExhausted(gen uint64) {
	seed := s.queue.Current()
	if s.source == nil || seed == nil {
		s.finishQueue()
		return
	}

	s.logger.Debug("queue exhausted, attempting auto-continuation",
		slog.String("seed", seed.Name))

	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		if s.generation.Load() != gen {
			return
		}

		candidate := s.findContinuation(seed.Song)
		if candidate == nil {
			break
		}

		s.queue.Add([]domain.Song{*candidate}, domain.PlayLast)
		if _, err := s.queue.Advance(domain.DirectionNext); err != nil {
			break
		}

		entry := s.queue.Current()
		if entry == nil {
			break
		}
		if err := s.loadEntry(entry, false); err != nil {
			s.reportEntryError(entry, err)
			seed = entry
			continue
		}

		s.setState(domain.StatePlaying)
		s.bus.Publish(domain.NewPlayerTrackEvent(*entry, s.queue.CurrentIndex()))
		return
	}

	s.finishQueue()
}

// findContinuation picks the first playable recommendation that is not the
// seed itself.
func (s *PlaybackService) findContinuation(seed domain.Song) *domain.Song {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	songs, err := s.source.SimilarSongs(ctx, seed, similarFetchLimit)
	if err != nil {
		s.logger.Warn("similar song lookup failed", slog.Any("error", err))
		return nil
	}

	for _, song := range songs {
		if song.StreamURL == "" || song.ID == seed.ID {
			continue
		}
		return &song
	}
	return nil
}

// finishQueue stops the transport and settles into idle at the end of the
// queue. Not an error: a normal terminal condition.
func (s *PlaybackService) finishQueue() {
	_ = s.transport.Stop()
	s.goIdle()
	s.bus.Publish(domain.NewQueueEndedEvent())
}

func (s *PlaybackService) goIdle() {
	s.mu.Lock()
	s.lastNextURL = ""
	s.lastCurrentUID = ""
	s.mu.Unlock()
	s.setState(domain.StateIdle)
}

// reportEntryError surfaces a non-blocking per-entry failure and keeps going.
func (s *PlaybackService) reportEntryError(entry *domain.QueueSong, err error) {
	s.logger.Warn("entry failed to load",
		slog.String("song", entry.Name),
		slog.Any("error", err))
	s.bus.Publish(domain.NewPlayerErrorEvent(entry, err))
	s.notifier.Warn("Playback error", entry.Name+" could not be played, skipping")
}

// cacheCurrentAsync opportunistically downloads the playing song to the
// cache. Best-effort: failures are reported by the cache manager and never
// retried here, and playback is unaffected either way.
func (s *PlaybackService) cacheCurrentAsync(entry domain.QueueSong) {
	if !s.cfg.CacheWrites || s.cache == nil || s.cache.IsCached(entry.Song) {
		return
	}

	key := entry.ServerID + "-" + entry.ID
	s.mu.Lock()
	if _, tried := s.cacheAttempted[key]; tried {
		s.mu.Unlock()
		return
	}
	s.cacheAttempted[key] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		go func() {
			// Abort the download on shutdown instead of waiting it out
			select {
			case <-s.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		_ = s.cache.CacheFile(ctx, entry.Song)
	}()
}

// cacheIndex adapts the optional cache manager for the resolver.
func (s *PlaybackService) cacheIndex() resolver.CacheIndex {
	if s.cache == nil {
		return nil
	}
	return s.cache
}

// setState updates the state machine and broadcasts the change.
func (s *PlaybackService) setState(state domain.PlayerState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("player state changed",
		slog.String("from", old.String()),
		slog.String("to", state.String()))

	s.bus.Publish(domain.NewPlayerStateEvent(state))
}
