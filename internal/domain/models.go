// Package domain contains core business models and logic with no external dependencies.
// This package defines the fundamental entities of the Aria playback engine.
package domain

import (
	"time"
)

// ServerKind identifies which backend a song was normalized from.
// The engine never parses backend-specific payloads; the kind is consumed
// only by the URL resolver to build transcode query parameters.
type ServerKind string

const (
	// ServerSubsonic is a Subsonic-compatible server.
	ServerSubsonic ServerKind = "subsonic"

	// ServerNavidrome is a Navidrome server (Subsonic-compatible streaming).
	ServerNavidrome ServerKind = "navidrome"

	// ServerJellyfin is a Jellyfin server.
	ServerJellyfin ServerKind = "jellyfin"
)

// Song is an immutable, normalized track record.
// Normalization from backend-specific payloads happens at the API boundary
// (a collaborator of this engine); the engine only ever sees this shape.
type Song struct {
	// ID is the backend's identifier for the song
	ID string

	// ServerID identifies which configured server the song belongs to
	ServerID string

	// ServerKind is the backend type, consumed only by the URL resolver
	ServerKind ServerKind

	// Name is the song title
	Name string

	// ArtistName is the display artist
	ArtistName string

	// AlbumID is the backend's album identifier
	AlbumID string

	// Duration is the total length of the song
	Duration time.Duration

	// StreamURL is the absolute, backend-authenticated direct stream URL
	StreamURL string

	// ImageURL is the cover art URL (may be empty)
	ImageURL string

	// Path is an optional local path hint reported by the server
	Path string

	// UserFavorite indicates the user has favorited this song
	UserFavorite bool

	// UserRating is the user's rating from 1 to 5, or 0 when unrated
	UserRating int

	// PlayCount is the server-reported play count
	PlayCount int

	// LastPlayedAt is when the song was last played (nil if never)
	LastPlayedAt *time.Time
}

// QueueSong is one playable occurrence of a song in the queue.
// The same song may appear multiple times in a queue, so each occurrence
// carries a UniqueID distinct from the song's backend ID.
type QueueSong struct {
	Song

	// UniqueID identifies this queue entry (UUID)
	UniqueID string

	// QueueIndex increases monotonically for every entry ever created,
	// preserving insertion order across shuffles
	QueueIndex int
}

// RepeatMode controls queue advancement at the end of a song or queue.
type RepeatMode int

const (
	// RepeatNone stops (or auto-continues) at the end of the queue
	RepeatNone RepeatMode = iota

	// RepeatOne replays the current entry indefinitely
	RepeatOne

	// RepeatAll wraps from the last entry back to the first
	RepeatAll
)

// String returns a human-readable representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// PlayMode selects the insertion semantics when adding songs to the queue.
type PlayMode int

const (
	// PlayNow replaces the remainder of the queue and starts the new songs
	PlayNow PlayMode = iota

	// PlayNext inserts immediately after the current entry
	PlayNext

	// PlayLast appends after the last entry
	PlayLast
)

// String returns a human-readable representation of the play mode.
func (m PlayMode) String() string {
	switch m {
	case PlayNow:
		return "now"
	case PlayNext:
		return "next"
	case PlayLast:
		return "last"
	default:
		return "unknown"
	}
}

// Direction selects which way the queue advances.
type Direction int

const (
	// DirectionNext advances towards the end of the queue
	DirectionNext Direction = iota

	// DirectionPrevious advances towards the start of the queue
	DirectionPrevious
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionNext:
		return "next"
	case DirectionPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// PlayerState is the coordinator's playback state machine state.
type PlayerState int

const (
	// StateIdle means no queue is loaded
	StateIdle PlayerState = iota

	// StateLoading means URL resolution or a transport command is in flight
	StateLoading

	// StatePlaying means the transport is playing
	StatePlaying

	// StatePaused means the transport is paused
	StatePaused

	// StateTransitioning means a crossfade between two entries is in progress
	StateTransitioning
)

// String returns a human-readable representation of the player state.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// TransitionStyle selects how the coordinator hands off between tracks.
type TransitionStyle int

const (
	// TransitionGapless relies on the transport's native back-to-back scheduling
	TransitionGapless TransitionStyle = iota

	// TransitionCrossfade overlaps a fade-out of the current entry with a
	// fade-in of the next, driven by the coordinator
	TransitionCrossfade
)

// String returns a human-readable representation of the transition style.
func (s TransitionStyle) String() string {
	switch s {
	case TransitionGapless:
		return "gapless"
	case TransitionCrossfade:
		return "crossfade"
	default:
		return "unknown"
	}
}

// TranscodeSettings controls server-side transcoding of streamed songs.
type TranscodeSettings struct {
	// Enabled turns transcoded streaming on
	Enabled bool

	// Format is the target container/codec (e.g. "mp3", "opus")
	Format string

	// BitrateKbps is the maximum bitrate in kilobits per second (0 = server default)
	BitrateKbps int
}

// Session is the persisted queue/session state restored across restarts.
type Session struct {
	// Entries is the queue in insertion order
	Entries []QueueSong

	// CurrentIndex is the index of the current entry, or -1 when empty
	CurrentIndex int

	// Repeat is the saved repeat mode
	Repeat RepeatMode

	// Shuffle indicates shuffle was enabled
	Shuffle bool

	// Volume is the saved volume level (0.0 to 1.0)
	Volume float64
}

// TransportEventKind identifies unsolicited events emitted by a transport.
type TransportEventKind int

const (
	// TransportTimeUpdate reports the current playback position
	TransportTimeUpdate TransportEventKind = iota

	// TransportTrackEnded reports that the current track finished and the
	// transport did not advance on its own
	TransportTrackEnded

	// TransportAutoAdvanced reports that the transport performed a gapless
	// hand-off to the pre-loaded next track by itself
	TransportAutoAdvanced
)

// TransportEvent is an unsolicited event from the transport backend.
// The coordinator correlates these rather than assuming call-and-effect
// ordering on transport commands.
type TransportEvent struct {
	// Kind is the event discriminator
	Kind TransportEventKind

	// Position is the playback position for TransportTimeUpdate events
	Position time.Duration
}
