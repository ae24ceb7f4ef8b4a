package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

// maxProgressDelta bounds how much played time one progress tick may add.
// Seeks produce larger jumps and must not count as listening.
const maxProgressDelta = 2 * time.Second

// ScrobbleConfig tunes the scrobble thresholds.
type ScrobbleConfig struct {
	// Enabled turns scrobble submission on
	Enabled bool

	// AtPercentage submits once this share of the song's duration was heard
	AtPercentage int

	// AtDuration, when positive, caps the threshold at an absolute amount
	// of played time regardless of song length
	AtDuration time.Duration
}

// ScrobbleService accumulates listened time per queue entry and submits at
// most one scrobble per entry once the configured threshold is crossed.
//
// Played time is cumulative rather than positional: seeking back and
// re-listening counts, a seek jump itself does not. The tracker follows the
// player purely through bus events and issues no transport calls.
type ScrobbleService struct {
	logger *slog.Logger
	source ports.MediaSource
	bus    ports.EventBus
	cfg    ScrobbleConfig

	mu        sync.Mutex
	entry     domain.QueueSong
	tracking  bool
	played    time.Duration
	lastPos   time.Duration
	submitted bool

	subs []domain.SubscriptionID
	wg   sync.WaitGroup
}

// NewScrobbleService creates the tracker and subscribes it to player events.
func NewScrobbleService(
	logger *slog.Logger,
	source ports.MediaSource,
	bus ports.EventBus,
	cfg ScrobbleConfig,
) *ScrobbleService {
	s := &ScrobbleService{
		logger: logger,
		source: source,
		bus:    bus,
		cfg:    cfg,
	}

	s.subs = append(s.subs,
		bus.Subscribe(domain.EventPlayerTrack, s.onTrack),
		bus.Subscribe(domain.EventPlayerProgress, s.onProgress),
	)

	return s
}

// Shutdown unsubscribes and waits for in-flight submissions.
func (s *ScrobbleService) Shutdown() error {
	for _, id := range s.subs {
		s.bus.Unsubscribe(id)
	}
	s.wg.Wait()
	return nil
}

// onTrack resets accumulation when a queue entry becomes current. A hard
// restart of the same entry (repeat one) starts a fresh listen and announces
// now playing again like any other track start.
func (s *ScrobbleService) onTrack(event domain.Event) {
	e, ok := event.(domain.PlayerTrackEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	s.entry = e.Song
	s.tracking = true
	s.played = 0
	s.lastPos = 0
	s.submitted = false
	s.mu.Unlock()

	if s.cfg.Enabled && s.source != nil {
		s.submitAsync(e.Song, false)
	}
}

// onProgress accumulates played time from clamped position deltas and
// submits once the threshold is crossed.
func (s *ScrobbleService) onProgress(event domain.Event) {
	e, ok := event.(domain.PlayerProgressEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.tracking || s.entry.UniqueID != e.Song.UniqueID {
		s.mu.Unlock()
		return
	}

	delta := e.Position - s.lastPos
	s.lastPos = e.Position
	if delta > 0 && delta <= maxProgressDelta {
		s.played += delta
	}

	if s.submitted || !s.cfg.Enabled || s.source == nil {
		s.mu.Unlock()
		return
	}
	threshold := s.threshold(e.Song.Duration)
	if threshold <= 0 || s.played < threshold {
		s.mu.Unlock()
		return
	}
	s.submitted = true
	entry := s.entry
	played := s.played
	s.mu.Unlock()

	s.logger.Debug("scrobble threshold reached",
		slog.String("song", entry.Name),
		slog.Duration("played", played))

	s.submitAsync(entry, true)
}

// threshold computes the played time required before submitting. The
// percentage rule applies first; a positive absolute cap lowers it for long
// songs so a podcast does not need an hour of listening to register.
func (s *ScrobbleService) threshold(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	threshold := duration * time.Duration(s.cfg.AtPercentage) / 100
	if s.cfg.AtDuration > 0 && s.cfg.AtDuration < threshold {
		threshold = s.cfg.AtDuration
	}
	return threshold
}

// submitAsync performs the backend call off the bus handler goroutine.
// A failed completed-play submission is logged and dropped, never retried;
// the submitted flag stays set so the entry cannot double-scrobble.
func (s *ScrobbleService) submitAsync(entry domain.QueueSong, submission bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		defer cancel()

		playedAt := time.Now()
		if err := s.source.Scrobble(ctx, entry.Song, playedAt, submission); err != nil {
			s.logger.Warn("scrobble failed",
				slog.String("song", entry.Name),
				slog.Bool("submission", submission),
				slog.Any("error", err))
			return
		}

		if !submission {
			return
		}

		s.bus.Publish(domain.NewScrobbleSubmittedEvent(entry))
		s.bus.Publish(domain.NewPlayEvent([]string{entry.ID}, playedAt))
	}()
}
