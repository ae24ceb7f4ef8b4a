// Package domain defines events for the event-driven architecture.
// Events enable loose coupling between the coordinator, the queue store
// and any number of UI-side subscribers.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Player events
	EventPlayerState    EventType = "player.state"
	EventPlayerTrack    EventType = "player.track"
	EventPlayerProgress EventType = "player.progress"
	EventPlayerError    EventType = "player.error"

	// Queue events
	EventQueueChanged EventType = "queue.changed"
	EventQueueEnded   EventType = "queue.ended"

	// User metadata events, broadcast-only so every open view updates
	// its own rows without a central re-fetch
	EventUserFavorite EventType = "user.favorite"
	EventUserRating   EventType = "user.rating"
	EventUserPlay     EventType = "user.play"

	// Scrobble events
	EventScrobbleSubmitted EventType = "scrobble.submitted"

	// Cache events
	EventCacheCompleted EventType = "cache.completed"
	EventCacheFailed    EventType = "cache.failed"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

// newBaseEvent creates a new base event with the current timestamp.
func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// PlayerStateEvent is published when the coordinator's state machine moves.
type PlayerStateEvent struct {
	baseEvent
	State PlayerState
}

// Type returns the event type.
func (e PlayerStateEvent) Type() EventType {
	return EventPlayerState
}

// NewPlayerStateEvent creates a new PlayerStateEvent.
func NewPlayerStateEvent(state PlayerState) PlayerStateEvent {
	return PlayerStateEvent{baseEvent: newBaseEvent(), State: state}
}

// PlayerTrackEvent is published when the current queue entry changes.
type PlayerTrackEvent struct {
	baseEvent
	Song  QueueSong
	Index int // Index in the effective (possibly shuffled) order
}

// Type returns the event type.
func (e PlayerTrackEvent) Type() EventType {
	return EventPlayerTrack
}

// NewPlayerTrackEvent creates a new PlayerTrackEvent.
func NewPlayerTrackEvent(song QueueSong, index int) PlayerTrackEvent {
	return PlayerTrackEvent{baseEvent: newBaseEvent(), Song: song, Index: index}
}

// PlayerProgressEvent is published on every transport time update.
type PlayerProgressEvent struct {
	baseEvent
	Song     QueueSong
	Position time.Duration
	Duration time.Duration
}

// Type returns the event type.
func (e PlayerProgressEvent) Type() EventType {
	return EventPlayerProgress
}

// NewPlayerProgressEvent creates a new PlayerProgressEvent.
func NewPlayerProgressEvent(song QueueSong, position, duration time.Duration) PlayerProgressEvent {
	return PlayerProgressEvent{
		baseEvent: newBaseEvent(),
		Song:      song,
		Position:  position,
		Duration:  duration,
	}
}

// PlayerErrorEvent is published when a queue entry fails to load or play.
// These are non-blocking: the coordinator skips ahead and playback continues.
type PlayerErrorEvent struct {
	baseEvent
	Song  *QueueSong // May be nil when no entry is associated
	Error error
}

// Type returns the event type.
func (e PlayerErrorEvent) Type() EventType {
	return EventPlayerError
}

// NewPlayerErrorEvent creates a new PlayerErrorEvent.
func NewPlayerErrorEvent(song *QueueSong, err error) PlayerErrorEvent {
	return PlayerErrorEvent{baseEvent: newBaseEvent(), Song: song, Error: err}
}

// QueueChangedEvent is published on every queue mutation.
type QueueChangedEvent struct {
	baseEvent
	Entries      []QueueSong // Effective order
	CurrentIndex int
}

// Type returns the event type.
func (e QueueChangedEvent) Type() EventType {
	return EventQueueChanged
}

// NewQueueChangedEvent creates a new QueueChangedEvent.
func NewQueueChangedEvent(entries []QueueSong, currentIndex int) QueueChangedEvent {
	return QueueChangedEvent{baseEvent: newBaseEvent(), Entries: entries, CurrentIndex: currentIndex}
}

// QueueEndedEvent is published when the queue is exhausted and no
// auto-continuation candidate was accepted.
type QueueEndedEvent struct {
	baseEvent
}

// Type returns the event type.
func (e QueueEndedEvent) Type() EventType {
	return EventQueueEnded
}

// NewQueueEndedEvent creates a new QueueEndedEvent.
func NewQueueEndedEvent() QueueEndedEvent {
	return QueueEndedEvent{baseEvent: newBaseEvent()}
}

// FavoriteEvent is published when the user favorites or unfavorites songs.
// Consumers apply the delta to their own local rows; the event is never
// queried back.
type FavoriteEvent struct {
	baseEvent
	SongIDs  []string
	Favorite bool
}

// Type returns the event type.
func (e FavoriteEvent) Type() EventType {
	return EventUserFavorite
}

// NewFavoriteEvent creates a new FavoriteEvent.
func NewFavoriteEvent(songIDs []string, favorite bool) FavoriteEvent {
	return FavoriteEvent{baseEvent: newBaseEvent(), SongIDs: songIDs, Favorite: favorite}
}

// RatingEvent is published when the user rates songs.
type RatingEvent struct {
	baseEvent
	SongIDs []string
	Rating  int // 1 to 5, 0 clears the rating
}

// Type returns the event type.
func (e RatingEvent) Type() EventType {
	return EventUserRating
}

// NewRatingEvent creates a new RatingEvent.
func NewRatingEvent(songIDs []string, rating int) RatingEvent {
	return RatingEvent{baseEvent: newBaseEvent(), SongIDs: songIDs, Rating: rating}
}

// PlayEvent is published when songs register a play (scrobble submitted).
type PlayEvent struct {
	baseEvent
	SongIDs  []string
	PlayedAt time.Time
}

// Type returns the event type.
func (e PlayEvent) Type() EventType {
	return EventUserPlay
}

// NewPlayEvent creates a new PlayEvent.
func NewPlayEvent(songIDs []string, playedAt time.Time) PlayEvent {
	return PlayEvent{baseEvent: newBaseEvent(), SongIDs: songIDs, PlayedAt: playedAt}
}

// ScrobbleSubmittedEvent is published after a successful scrobble submission.
type ScrobbleSubmittedEvent struct {
	baseEvent
	Song QueueSong
}

// Type returns the event type.
func (e ScrobbleSubmittedEvent) Type() EventType {
	return EventScrobbleSubmitted
}

// NewScrobbleSubmittedEvent creates a new ScrobbleSubmittedEvent.
func NewScrobbleSubmittedEvent(song QueueSong) ScrobbleSubmittedEvent {
	return ScrobbleSubmittedEvent{baseEvent: newBaseEvent(), Song: song}
}

// CacheCompletedEvent is published when a song finishes downloading to the cache.
type CacheCompletedEvent struct {
	baseEvent
	Song Song
	Path string
}

// Type returns the event type.
func (e CacheCompletedEvent) Type() EventType {
	return EventCacheCompleted
}

// NewCacheCompletedEvent creates a new CacheCompletedEvent.
func NewCacheCompletedEvent(song Song, path string) CacheCompletedEvent {
	return CacheCompletedEvent{baseEvent: newBaseEvent(), Song: song, Path: path}
}

// CacheFailedEvent is published when a cache download fails.
// Playback is unaffected; the song keeps streaming.
type CacheFailedEvent struct {
	baseEvent
	Song  Song
	Error error
}

// Type returns the event type.
func (e CacheFailedEvent) Type() EventType {
	return EventCacheFailed
}

// NewCacheFailedEvent creates a new CacheFailedEvent.
func NewCacheFailedEvent(song Song, err error) CacheFailedEvent {
	return CacheFailedEvent{baseEvent: newBaseEvent(), Song: song, Error: err}
}
