// Package service provides the business logic of the Aria playback engine.
package service

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

// historyLimit caps the played-entry history so it never grows unbounded.
const historyLimit = 100

// QueueService is the authoritative owner of queue membership and order.
// It holds the ordered entries, the shuffle order, the current index, the
// repeat mode and a bounded history of played entries. Playback position is
// NOT held here; the transport owns it exclusively.
//
// All mutation goes through the documented operations; no component reaches
// into queue state directly. Mutations are applied atomically with respect
// to callers, so there are no torn reads of entries/currentIndex.
type QueueService struct {
	// Dependencies (injected)
	logger *slog.Logger
	bus    ports.EventBus
	repo   ports.SessionRepository // may be nil (no persistence)

	// State
	entries  []domain.QueueSong // insertion order
	shuffled []string           // uniqueIDs in play order while shuffle is on
	current  int                // index into the effective order, -1 when empty
	repeat   domain.RepeatMode
	shuffle  bool
	history  []domain.QueueSong // most recent last, capped at historyLimit
	nextSeq  int                // monotonically increasing QueueIndex source

	// Concurrency control
	mu sync.RWMutex

	// Event subscriptions (user metadata fan-in)
	subs []domain.SubscriptionID
}

// NewQueueService creates a queue service.
// The service subscribes to user metadata events so favorite/rating/play
// deltas broadcast by any view are applied to matching queue entries too.
func NewQueueService(logger *slog.Logger, bus ports.EventBus, repo ports.SessionRepository) *QueueService {
	s := &QueueService{
		logger:  logger,
		bus:     bus,
		repo:    repo,
		current: -1,
	}

	s.subs = append(s.subs,
		bus.Subscribe(domain.EventUserFavorite, s.handleFavorite),
		bus.Subscribe(domain.EventUserRating, s.handleRating),
		bus.Subscribe(domain.EventUserPlay, s.handlePlay),
	)

	logger.Debug("queue service initialized")

	return s
}

// Add inserts songs into the queue according to the play mode and returns
// the newly created entries with fresh unique IDs.
//
//   - PlayLast appends after the last entry; the current index is unchanged.
//   - PlayNext inserts immediately after the current entry; the current index
//     is unchanged. On an empty queue it behaves like PlayNow.
//   - PlayNow discards the unplayed remainder after the current entry,
//     appends the new songs there and makes the first of them current. The
//     entry that was playing moves to history.
func (s *QueueService) Add(songs []domain.Song, mode domain.PlayMode) []domain.QueueSong {
	if len(songs) == 0 {
		return nil
	}

	s.mu.Lock()

	added := lo.Map(songs, func(song domain.Song, _ int) domain.QueueSong {
		s.nextSeq++
		return domain.QueueSong{
			Song:       song,
			UniqueID:   uuid.NewString(),
			QueueIndex: s.nextSeq,
		}
	})

	if len(s.entries) == 0 && mode != domain.PlayLast {
		mode = domain.PlayNow
	}

	switch mode {
	case domain.PlayLast:
		s.entries = append(s.entries, added...)
		if s.shuffle {
			s.shuffled = append(s.shuffled, uniqueIDs(added)...)
		}

	case domain.PlayNext:
		s.insertAfterCurrentLocked(added)

	case domain.PlayNow:
		s.replaceRemainderLocked(added)
	}

	s.logger.Debug("songs added to queue",
		slog.Int("count", len(added)),
		slog.String("mode", mode.String()),
		slog.Int("queue_length", len(s.entries)))

	s.mu.Unlock()

	s.publishQueueChanged()

	return added
}

// insertAfterCurrentLocked implements PlayNext. Caller must hold the lock.
func (s *QueueService) insertAfterCurrentLocked(added []domain.QueueSong) {
	if s.current < 0 {
		s.entries = append(added, s.entries...)
		if s.shuffle {
			s.shuffled = append(uniqueIDs(added), s.shuffled...)
		}
		s.current = 0
		return
	}

	currentUID := s.effectiveIDsLocked()[s.current]
	pos := lo.IndexOf(lo.Map(s.entries, entryUID), currentUID)
	s.entries = insertAt(s.entries, pos+1, added)

	if s.shuffle {
		s.shuffled = insertAt(s.shuffled, s.current+1, uniqueIDs(added))
	}
}

// replaceRemainderLocked implements PlayNow. Caller must hold the lock.
func (s *QueueService) replaceRemainderLocked(added []domain.QueueSong) {
	if s.current < 0 {
		s.entries = added
		if s.shuffle {
			s.shuffled = uniqueIDs(added)
		}
		s.current = 0
		return
	}

	eff := s.effectiveLocked()
	s.pushHistoryLocked(eff[s.current])

	discard := lo.SliceToMap(eff[s.current+1:], func(e domain.QueueSong) (string, struct{}) {
		return e.UniqueID, struct{}{}
	})
	kept := lo.Filter(s.entries, func(e domain.QueueSong, _ int) bool {
		_, drop := discard[e.UniqueID]
		return !drop
	})
	s.entries = append(kept, added...)

	if s.shuffle {
		s.shuffled = append(s.shuffled[:s.current+1], uniqueIDs(added)...)
	}
	s.current++
}

// Advance moves the current index and returns the new current entry.
//
// With repeat one, DirectionNext returns the same entry. With repeat all,
// advancing past the last entry wraps to index 0. With repeat none,
// advancing past the last entry returns domain.ErrEndOfQueue: the queue is
// exhausted, which is a normal terminal condition, not a failure.
//
// DirectionPrevious pops from history when non-empty, otherwise it wraps or
// no-ops symmetrically.
func (s *QueueService) Advance(direction domain.Direction) (*domain.QueueSong, error) {
	s.mu.Lock()

	entry, err := s.advanceLocked(direction)

	s.mu.Unlock()

	if err == nil {
		s.publishQueueChanged()
	}

	return entry, err
}

// advanceLocked implements Advance. Caller must hold the lock.
func (s *QueueService) advanceLocked(direction domain.Direction) (*domain.QueueSong, error) {
	eff := s.effectiveLocked()
	if len(eff) == 0 || s.current < 0 {
		return nil, domain.ErrQueueEmpty
	}

	switch direction {
	case domain.DirectionNext:
		if s.repeat == domain.RepeatOne {
			entry := eff[s.current]
			return &entry, nil
		}
		if s.current+1 < len(eff) {
			s.pushHistoryLocked(eff[s.current])
			s.current++
			entry := eff[s.current]
			return &entry, nil
		}
		if s.repeat == domain.RepeatAll {
			s.pushHistoryLocked(eff[s.current])
			s.current = 0
			entry := eff[s.current]
			return &entry, nil
		}
		return nil, domain.ErrEndOfQueue

	case domain.DirectionPrevious:
		if len(s.history) > 0 {
			last := s.history[len(s.history)-1]
			s.history = s.history[:len(s.history)-1]
			if pos := s.positionOfLocked(last.UniqueID); pos >= 0 {
				s.current = pos
				entry := eff[pos]
				return &entry, nil
			}
			// The history entry was removed from the queue; fall through
		}
		if s.current > 0 {
			s.current--
			entry := eff[s.current]
			return &entry, nil
		}
		if s.repeat == domain.RepeatAll {
			s.current = len(eff) - 1
			entry := eff[s.current]
			return &entry, nil
		}
		return nil, domain.ErrEndOfQueue
	}

	return nil, domain.ErrEndOfQueue
}

// SetShuffle enables or disables shuffle.
// Enabling computes a new shuffle order with the currently playing entry as
// its first element, so the playing song is never reshuffled out from under
// the listener. Disabling restores insertion order and repositions the
// current index to the same entry.
func (s *QueueService) SetShuffle(enabled bool) {
	s.mu.Lock()

	if s.shuffle == enabled {
		s.mu.Unlock()
		return
	}
	s.shuffle = enabled

	if enabled {
		s.reshuffleLocked()
	} else {
		currentUID := ""
		if s.current >= 0 && s.current < len(s.shuffled) {
			currentUID = s.shuffled[s.current]
		}
		s.shuffled = nil
		s.current = lo.IndexOf(lo.Map(s.entries, entryUID), currentUID)
	}

	s.logger.Debug("shuffle toggled", slog.Bool("enabled", enabled))

	s.mu.Unlock()

	s.publishQueueChanged()
}

// ReshuffleRemainder recomputes the shuffle order, keeping the current entry
// first. A no-op unless shuffle is enabled.
func (s *QueueService) ReshuffleRemainder() {
	s.mu.Lock()
	if !s.shuffle {
		s.mu.Unlock()
		return
	}
	s.reshuffleLocked()
	s.mu.Unlock()

	s.publishQueueChanged()
}

// reshuffleLocked rebuilds s.shuffled with the current entry pinned first.
// Caller must hold the lock with s.shuffle == true.
func (s *QueueService) reshuffleLocked() {
	currentUID := ""
	if s.current >= 0 && s.current < len(s.entries) && len(s.shuffled) == 0 {
		currentUID = s.entries[s.current].UniqueID
	} else if s.current >= 0 && s.current < len(s.shuffled) {
		currentUID = s.shuffled[s.current]
	}

	rest := lo.Filter(lo.Map(s.entries, entryUID), func(uid string, _ int) bool {
		return uid != currentUID
	})
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	if currentUID != "" {
		s.shuffled = append([]string{currentUID}, rest...)
		s.current = 0
	} else {
		s.shuffled = rest
	}
}

// RemoveByUniqueID removes the given entries from the queue.
// If the currently playing entry is among them the queue advances first, so
// the caller observes a normal track change. Removing from an empty queue is
// a no-op, not an error.
func (s *QueueService) RemoveByUniqueID(ids []string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()

	if len(s.entries) == 0 {
		s.mu.Unlock()
		return
	}

	remove := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return id, struct{}{}
	})

	currentUID := ""
	if eff := s.effectiveIDsLocked(); s.current >= 0 && s.current < len(eff) {
		currentUID = eff[s.current]
	}
	if _, removingCurrent := remove[currentUID]; removingCurrent {
		if entry, err := s.advanceLocked(domain.DirectionNext); err == nil && entry != nil {
			currentUID = entry.UniqueID
			// Advancing with repeat one re-selects the removed entry
			if _, still := remove[currentUID]; still {
				currentUID = ""
			}
		} else {
			currentUID = ""
		}
	}

	s.entries = lo.Filter(s.entries, func(e domain.QueueSong, _ int) bool {
		_, drop := remove[e.UniqueID]
		return !drop
	})
	if s.shuffle {
		s.shuffled = lo.Filter(s.shuffled, func(uid string, _ int) bool {
			_, drop := remove[uid]
			return !drop
		})
	}
	s.current = s.positionOfLocked(currentUID)

	s.logger.Debug("entries removed",
		slog.Int("count", len(ids)),
		slog.Int("queue_length", len(s.entries)))

	s.mu.Unlock()

	s.publishQueueChanged()
}

// MoveTo moves an entry to a new index in the effective order.
func (s *QueueService) MoveTo(uniqueID string, index int) error {
	s.mu.Lock()

	from := s.positionOfLocked(uniqueID)
	if from < 0 {
		s.mu.Unlock()
		return domain.ErrEntryNotFound
	}
	eff := s.effectiveIDsLocked()
	if index < 0 || index >= len(eff) {
		s.mu.Unlock()
		return domain.ErrEntryNotFound
	}

	currentUID := ""
	if s.current >= 0 {
		currentUID = eff[s.current]
	}

	moved := append([]string{}, eff...)
	uid := moved[from]
	moved = append(moved[:from], moved[from+1:]...)
	moved = insertAt(moved, index, []string{uid})

	if s.shuffle {
		s.shuffled = moved
	} else {
		byUID := lo.SliceToMap(s.entries, func(e domain.QueueSong) (string, domain.QueueSong) {
			return e.UniqueID, e
		})
		s.entries = lo.Map(moved, func(uid string, _ int) domain.QueueSong {
			return byUID[uid]
		})
	}
	s.current = s.positionOfLocked(currentUID)

	s.mu.Unlock()

	s.publishQueueChanged()

	return nil
}

// Clear removes every entry from the queue. History is preserved.
func (s *QueueService) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.shuffled = nil
	s.current = -1
	s.mu.Unlock()

	s.publishQueueChanged()
}

// SetFavoriteByIDs updates the favorite flag on every entry matching one of
// the song IDs. Matching is by song ID, not unique ID: the same song can
// appear multiple times and all instances must reflect the new metadata.
func (s *QueueService) SetFavoriteByIDs(ids []string, favorite bool) {
	s.mutateByIDs(ids, func(song *domain.Song) {
		song.UserFavorite = favorite
	})
}

// SetRatingByIDs updates the rating on every entry matching one of the song IDs.
func (s *QueueService) SetRatingByIDs(ids []string, rating int) {
	s.mutateByIDs(ids, func(song *domain.Song) {
		song.UserRating = rating
	})
}

// IncrementPlayCountByIDs bumps the play count and last-played timestamp on
// every entry matching one of the song IDs.
func (s *QueueService) IncrementPlayCountByIDs(ids []string, playedAt time.Time) {
	s.mutateByIDs(ids, func(song *domain.Song) {
		song.PlayCount++
		at := playedAt
		song.LastPlayedAt = &at
	})
}

// mutateByIDs applies fn to every queue and history entry whose song ID is
// in ids.
func (s *QueueService) mutateByIDs(ids []string, fn func(*domain.Song)) {
	if len(ids) == 0 {
		return
	}

	match := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return id, struct{}{}
	})

	s.mu.Lock()
	changed := false
	for i := range s.entries {
		if _, ok := match[s.entries[i].ID]; ok {
			fn(&s.entries[i].Song)
			changed = true
		}
	}
	for i := range s.history {
		if _, ok := match[s.history[i].ID]; ok {
			fn(&s.history[i].Song)
		}
	}
	s.mu.Unlock()

	if changed {
		s.publishQueueChanged()
	}
}

// Current returns a copy of the current entry, or nil when the queue is empty.
func (s *QueueService) Current() *domain.QueueSong {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eff := s.effectiveLocked()
	if s.current < 0 || s.current >= len(eff) {
		return nil
	}
	entry := eff[s.current]
	return &entry
}

// NextUp returns a copy of the entry that would play after the current one,
// honoring the repeat mode, or nil when nothing follows. Used by the
// coordinator to pre-load the transport's look-ahead.
func (s *QueueService) NextUp() *domain.QueueSong {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eff := s.effectiveLocked()
	if s.current < 0 || len(eff) == 0 {
		return nil
	}

	switch {
	case s.repeat == domain.RepeatOne:
		entry := eff[s.current]
		return &entry
	case s.current+1 < len(eff):
		entry := eff[s.current+1]
		return &entry
	case s.repeat == domain.RepeatAll:
		entry := eff[0]
		return &entry
	default:
		return nil
	}
}

// Entries returns a copy of the queue in effective (possibly shuffled) order.
func (s *QueueService) Entries() []domain.QueueSong {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eff := s.effectiveLocked()
	out := make([]domain.QueueSong, len(eff))
	copy(out, eff)
	return out
}

// History returns a copy of the played-entry history, most recent last.
func (s *QueueService) History() []domain.QueueSong {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.QueueSong, len(s.history))
	copy(out, s.history)
	return out
}

// ContainsUniqueID reports whether an entry with the given unique ID is
// still in the queue.
func (s *QueueService) ContainsUniqueID(uniqueID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positionOfLocked(uniqueID) >= 0
}

// CurrentIndex returns the index of the current entry in the effective
// order, or -1 when the queue is empty.
func (s *QueueService) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Len returns the number of entries in the queue.
func (s *QueueService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Repeat returns the current repeat mode.
func (s *QueueService) Repeat() domain.RepeatMode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.repeat
}

// SetRepeat sets the repeat mode.
func (s *QueueService) SetRepeat(mode domain.RepeatMode) {
	s.mu.Lock()
	s.repeat = mode
	s.mu.Unlock()

	s.publishQueueChanged()
}

// Shuffled reports whether shuffle is enabled.
func (s *QueueService) Shuffled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.shuffle
}

// Save persists the queue and session state. A no-op without a repository.
func (s *QueueService) Save(volume float64) error {
	if s.repo == nil {
		return nil
	}

	s.mu.RLock()
	session := domain.Session{
		Entries:      append([]domain.QueueSong{}, s.entries...),
		CurrentIndex: s.insertionIndexLocked(),
		Repeat:       s.repeat,
		Shuffle:      s.shuffle,
		Volume:       volume,
	}
	s.mu.RUnlock()

	return s.repo.SaveSession(session)
}

// Restore loads the persisted session. The saved volume is returned for the
// caller to apply to the transport. A no-op without a repository.
func (s *QueueService) Restore() (float64, error) {
	if s.repo == nil {
		return 0, nil
	}

	session, err := s.repo.LoadSession()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.entries = session.Entries
	s.current = session.CurrentIndex
	if s.current >= len(s.entries) {
		s.current = len(s.entries) - 1
	}
	s.repeat = session.Repeat
	s.shuffle = session.Shuffle
	s.shuffled = nil
	if s.shuffle {
		s.reshuffleLocked()
	}
	s.nextSeq = lo.MaxBy(s.entries, func(a, b domain.QueueSong) bool {
		return a.QueueIndex > b.QueueIndex
	}).QueueIndex
	s.mu.Unlock()

	s.publishQueueChanged()

	return session.Volume, nil
}

// Shutdown unsubscribes from the event bus.
func (s *QueueService) Shutdown() error {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	return nil
}

// --- event handlers (user metadata fan-in) ---

func (s *QueueService) handleFavorite(event domain.Event) {
	if e, ok := event.(domain.FavoriteEvent); ok {
		s.SetFavoriteByIDs(e.SongIDs, e.Favorite)
	}
}

func (s *QueueService) handleRating(event domain.Event) {
	if e, ok := event.(domain.RatingEvent); ok {
		s.SetRatingByIDs(e.SongIDs, e.Rating)
	}
}

func (s *QueueService) handlePlay(event domain.Event) {
	if e, ok := event.(domain.PlayEvent); ok {
		s.IncrementPlayCountByIDs(e.SongIDs, e.PlayedAt)
	}
}

// --- internals ---

// effectiveLocked returns the queue in play order. Caller must hold the lock.
func (s *QueueService) effectiveLocked() []domain.QueueSong {
	if !s.shuffle {
		return s.entries
	}
	byUID := lo.SliceToMap(s.entries, func(e domain.QueueSong) (string, domain.QueueSong) {
		return e.UniqueID, e
	})
	return lo.Map(s.shuffled, func(uid string, _ int) domain.QueueSong {
		return byUID[uid]
	})
}

// effectiveIDsLocked returns unique IDs in play order. Caller must hold the lock.
func (s *QueueService) effectiveIDsLocked() []string {
	if !s.shuffle {
		return lo.Map(s.entries, entryUID)
	}
	return s.shuffled
}

// positionOfLocked returns the effective-order index of a unique ID, or -1.
func (s *QueueService) positionOfLocked(uniqueID string) int {
	if uniqueID == "" {
		return -1
	}
	return lo.IndexOf(s.effectiveIDsLocked(), uniqueID)
}

// insertionIndexLocked maps the current effective index back to insertion
// order for persistence.
func (s *QueueService) insertionIndexLocked() int {
	eff := s.effectiveIDsLocked()
	if s.current < 0 || s.current >= len(eff) {
		return -1
	}
	return lo.IndexOf(lo.Map(s.entries, entryUID), eff[s.current])
}

// pushHistoryLocked appends an entry to history, enforcing the cap.
func (s *QueueService) pushHistoryLocked(entry domain.QueueSong) {
	s.history = append(s.history, entry)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// publishQueueChanged broadcasts the new effective order. Must be called
// without the lock held; handlers may call back into accessors.
func (s *QueueService) publishQueueChanged() {
	s.mu.RLock()
	entries := make([]domain.QueueSong, len(s.effectiveLocked()))
	copy(entries, s.effectiveLocked())
	current := s.current
	s.mu.RUnlock()

	s.bus.Publish(domain.NewQueueChangedEvent(entries, current))
}

// entryUID projects a queue entry to its unique ID.
func entryUID(e domain.QueueSong, _ int) string {
	return e.UniqueID
}

// uniqueIDs projects queue entries to their unique IDs.
func uniqueIDs(entries []domain.QueueSong) []string {
	return lo.Map(entries, entryUID)
}

// insertAt inserts items at index i, which must be in [0, len(s)].
func insertAt[T any](s []T, i int, items []T) []T {
	out := make([]T, 0, len(s)+len(items))
	out = append(out, s[:i]...)
	out = append(out, items...)
	out = append(out, s[i:]...)
	return out
}
