// Package ports defines interfaces for dependency inversion.
// These interfaces allow the core engine logic to remain independent of the
// concrete playback backend, persistence mechanism and notification surface.
package ports

import (
	"time"

	"github.com/ariaplayer/aria/internal/domain"
)

// Transport is the interface for playback backends.
// Two interchangeable implementations exist: an out-of-process mpv engine
// reached via asynchronous JSON IPC, and an in-process speaker graph.
// Selection is a configuration option, not a runtime capability the engine
// detects mid-session.
//
// Every command must be treated as non-blocking by callers: the backend may
// apply it with a delay, and effects are observed through the Events stream
// rather than assumed from the call returning. Payloads carry only resolved
// URLs and primitive playback parameters, never backend credentials.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Initialize starts the backend. If the backend cannot be started
	// (e.g. a required external binary is not configured), it must fail
	// fast with an error wrapping domain.ErrTransportUnavailable rather
	// than degrade into a silent no-op.
	Initialize() error

	// Shutdown stops playback and releases all backend resources.
	Shutdown() error

	// IsInitialized returns true once Initialize has succeeded.
	IsInitialized() bool

	// SetQueue replaces the backend's playback set with the given current
	// URL and optional look-ahead next URL ("" for none). When startPaused
	// is true the backend loads the current track without starting it.
	SetQueue(currentURL, nextURL string, startPaused bool) error

	// SetQueueNext replaces only the pre-loaded next URL ("" clears it)
	// without interrupting current playback. Used to keep the gapless
	// look-ahead in sync after queue mutations.
	SetQueueNext(nextURL string) error

	// Play starts or resumes playback of the current track.
	Play() error

	// Pause pauses playback, preserving the position.
	Pause() error

	// Stop stops playback and clears the backend's playback set.
	Stop() error

	// Seek moves the position by a relative offset (may be negative).
	Seek(offset time.Duration) error

	// SeekTo moves the position to an absolute offset from the start.
	SeekTo(position time.Duration) error

	// SetVolume sets the playback volume from 0.0 (silent) to 1.0 (full).
	SetVolume(volume float64) error

	// SetMute mutes or unmutes playback without changing the stored volume.
	SetMute(mute bool) error

	// Position returns the last known playback position.
	// The transport is the single source of truth for this value.
	Position() time.Duration

	// Events returns the stream of unsolicited backend events
	// (time updates, track ended, native auto-advance). The channel is
	// closed by Shutdown.
	Events() <-chan domain.TransportEvent
}
