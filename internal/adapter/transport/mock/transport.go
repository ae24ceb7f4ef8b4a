// Package mock provides a scriptable Transport implementation.
// It simulates a playback backend in memory and lets tests drive time
// updates, track endings and native auto-advances deterministically.
package mock

import (
	"sync"
	"time"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

// Transport is a mock implementation of the ports.Transport interface.
//
// Thread-safety: safe for concurrent use.
type Transport struct {
	mu sync.RWMutex

	initialized bool
	currentURL  string
	nextURL     string
	playing     bool
	muted       bool
	volume      float64
	position    time.Duration

	events chan domain.TransportEvent

	// Command history for assertions
	setQueueCalls     []SetQueueCall
	setQueueNextCalls []string

	// Behavior configuration (for testing error scenarios)
	failInitialize bool
	failSetQueue   bool
}

// SetQueueCall records one SetQueue invocation.
type SetQueueCall struct {
	CurrentURL  string
	NextURL     string
	StartPaused bool
}

// New creates a mock transport.
func New() *Transport {
	return &Transport{
		volume: 1.0,
		events: make(chan domain.TransportEvent, 64),
	}
}

// SetFailInitialize configures Initialize to fail with ErrTransportUnavailable.
func (t *Transport) SetFailInitialize(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failInitialize = fail
}

// SetFailSetQueue configures SetQueue to reject streams.
func (t *Transport) SetFailSetQueue(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSetQueue = fail
}

// Initialize marks the mock as started.
func (t *Transport) Initialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failInitialize {
		return domain.NewTransportError("mock", "initialize", "unavailable", domain.ErrTransportUnavailable)
	}
	if t.initialized {
		return domain.ErrAlreadyInitialized
	}
	t.initialized = true
	return nil
}

// Shutdown stops the mock and closes the event stream.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return domain.ErrNotInitialized
	}
	t.initialized = false
	close(t.events)
	return nil
}

// IsInitialized reports whether Initialize succeeded.
func (t *Transport) IsInitialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized
}

// SetQueue replaces the simulated playback set.
func (t *Transport) SetQueue(currentURL, nextURL string, startPaused bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failSetQueue {
		return domain.NewTransportError("mock", "set_queue", "stream rejected", nil)
	}

	t.setQueueCalls = append(t.setQueueCalls, SetQueueCall{
		CurrentURL:  currentURL,
		NextURL:     nextURL,
		StartPaused: startPaused,
	})
	t.currentURL = currentURL
	t.nextURL = nextURL
	t.playing = !startPaused
	t.position = 0
	return nil
}

// SetQueueNext replaces only the simulated look-ahead.
func (t *Transport) SetQueueNext(nextURL string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setQueueNextCalls = append(t.setQueueNextCalls, nextURL)
	t.nextURL = nextURL
	return nil
}

// Play resumes simulated playback.
func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = true
	return nil
}

// Pause pauses simulated playback.
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	return nil
}

// Stop clears the simulated playback set.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	t.currentURL = ""
	t.nextURL = ""
	t.position = 0
	return nil
}

// Seek moves the simulated position by a relative offset.
func (t *Transport) Seek(offset time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position += offset
	if t.position < 0 {
		t.position = 0
	}
	return nil
}

// SeekTo moves the simulated position to an absolute offset.
func (t *Transport) SeekTo(position time.Duration) error {
	if position < 0 {
		return domain.ErrInvalidPosition
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
	return nil
}

// SetVolume stores the simulated volume.
func (t *Transport) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return domain.ErrInvalidVolume
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = volume
	return nil
}

// SetMute stores the simulated mute flag.
func (t *Transport) SetMute(mute bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = mute
	return nil
}

// Position returns the simulated position.
func (t *Transport) Position() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// Events returns the simulated event stream.
func (t *Transport) Events() <-chan domain.TransportEvent {
	return t.events
}

// --- test drivers ---

// EmitTimeUpdate advances the simulated position and emits a time update.
func (t *Transport) EmitTimeUpdate(position time.Duration) {
	t.mu.Lock()
	t.position = position
	t.mu.Unlock()
	t.events <- domain.TransportEvent{Kind: domain.TransportTimeUpdate, Position: position}
}

// EmitTrackEnded signals that the current track finished without a native
// hand-off.
func (t *Transport) EmitTrackEnded() {
	t.events <- domain.TransportEvent{Kind: domain.TransportTrackEnded}
}

// EmitAutoAdvanced signals a native gapless hand-off to the pre-loaded next
// URL, mirroring what a real backend does to its internal playlist.
func (t *Transport) EmitAutoAdvanced() {
	t.mu.Lock()
	t.currentURL = t.nextURL
	t.nextURL = ""
	t.position = 0
	t.mu.Unlock()
	t.events <- domain.TransportEvent{Kind: domain.TransportAutoAdvanced}
}

// CurrentURL returns the simulated current URL.
func (t *Transport) CurrentURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentURL
}

// NextURL returns the simulated look-ahead URL.
func (t *Transport) NextURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextURL
}

// IsPlaying reports the simulated play/pause state.
func (t *Transport) IsPlaying() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.playing
}

// Volume returns the simulated volume.
func (t *Transport) Volume() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.volume
}

// SetQueueCalls returns the recorded SetQueue invocations.
func (t *Transport) SetQueueCalls() []SetQueueCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]SetQueueCall{}, t.setQueueCalls...)
}

// SetQueueNextCalls returns the recorded SetQueueNext invocations.
func (t *Transport) SetQueueNextCalls() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string{}, t.setQueueNextCalls...)
}

// Verify that Transport implements the Transport interface
var _ ports.Transport = (*Transport)(nil)
