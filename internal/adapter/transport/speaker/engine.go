// Package speaker implements the Transport interface with an in-process
// audio graph. Streams are fetched fully into memory and decoded on the
// fly, which keeps seeking trivial at the cost of holding one track (plus
// the pre-loaded next) in RAM.
package speaker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	neturl "net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

const (
	backendName = "speaker"

	// progressInterval paces the synthetic time update events.
	progressInterval = 500 * time.Millisecond

	// resampleQuality trades CPU for interpolation quality.
	resampleQuality = 4
)

// defaultSampleRate is the fixed output rate; sources at other rates are
// resampled into it.
const defaultSampleRate = beep.SampleRate(44100)

// track is one fetched and decoded stream.
type track struct {
	url      string
	streamer beep.StreamSeekCloser
	format   beep.Format
}

// Engine is a Transport playing through the process's own audio device.
//
// Gapless hand-off is emulated: the next URL is fetched and decoded ahead
// of time, and when the current stream drains the pre-decoded one starts
// immediately and a TransportAutoAdvanced event is emitted.
//
// Thread-safety: safe for concurrent use.
type Engine struct {
	logger *slog.Logger
	client *http.Client

	mu          sync.Mutex
	initialized bool
	current     *track
	preloaded   *track
	nextURL     string
	playing     bool
	volume      float64
	muted       bool

	ctrl *beep.Ctrl
	vol  *effects.Volume

	done   chan struct{}
	events chan domain.TransportEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a speaker engine. A nil client falls back to a default
// HTTP client with a generous stream timeout.
func NewEngine(logger *slog.Logger, client *http.Client) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Engine{
		logger: logger,
		client: client,
		volume: 1.0,
		done:   make(chan struct{}, 1),
		events: make(chan domain.TransportEvent, 128),
		stop:   make(chan struct{}),
	}
}

// Initialize opens the audio device and starts the progress loop.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return domain.ErrAlreadyInitialized
	}

	if err := speaker.Init(defaultSampleRate, defaultSampleRate.N(progressInterval/5)); err != nil {
		return domain.NewTransportError(backendName, "initialize",
			"failed to open audio device", domain.ErrTransportUnavailable)
	}

	e.initialized = true
	e.wg.Add(1)
	go e.run()

	e.logger.Info("speaker engine initialized",
		slog.Int("sample_rate", int(defaultSampleRate)))

	return nil
}

// Shutdown drains the graph and closes the event stream.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	e.initialized = false
	e.mu.Unlock()

	speaker.Clear()
	close(e.stop)
	e.wg.Wait()
	close(e.events)
	speaker.Close()

	e.mu.Lock()
	e.closeTracksLocked()
	e.mu.Unlock()

	e.logger.Info("speaker engine shut down")
	return nil
}

// IsInitialized reports whether the audio device is open.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// SetQueue fetches and starts the current URL and begins pre-loading the
// next one in the background.
func (e *Engine) SetQueue(currentURL, nextURL string, startPaused bool) error {
	tr, err := e.loadTrack(currentURL)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		tr.streamer.Close()
		return domain.ErrNotInitialized
	}
	e.closeTracksLocked()
	e.startLocked(tr, startPaused)
	e.nextURL = nextURL
	e.mu.Unlock()

	if nextURL != "" {
		e.preloadAsync(nextURL)
	}
	return nil
}

// SetQueueNext swaps the pre-loaded next stream without touching playback.
func (e *Engine) SetQueueNext(nextURL string) error {
	e.mu.Lock()
	if e.preloaded != nil {
		e.preloaded.streamer.Close()
		e.preloaded = nil
	}
	e.nextURL = nextURL
	e.mu.Unlock()

	if nextURL != "" {
		e.preloadAsync(nextURL)
	}
	return nil
}

// Play resumes playback.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return domain.ErrNoCurrentSong
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.playing = true
	return nil
}

// Pause pauses playback, keeping the position.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return domain.ErrNoCurrentSong
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.playing = false
	return nil
}

// Stop clears the graph and drops both streams.
func (e *Engine) Stop() error {
	speaker.Clear()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeTracksLocked()
	e.nextURL = ""
	e.playing = false
	return nil
}

// Seek moves the position by a relative offset.
func (e *Engine) Seek(offset time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return domain.ErrNoCurrentSong
	}
	return e.seekLocked(e.positionLocked() + offset)
}

// SeekTo moves the position to an absolute offset.
func (e *Engine) SeekTo(position time.Duration) error {
	if position < 0 {
		return domain.ErrInvalidPosition
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return domain.ErrNoCurrentSong
	}
	return e.seekLocked(position)
}

func (e *Engine) seekLocked(position time.Duration) error {
	if position < 0 {
		position = 0
	}
	sample := e.current.format.SampleRate.N(position)
	if max := e.current.streamer.Len(); sample > max {
		sample = max
	}

	speaker.Lock()
	err := e.current.streamer.Seek(sample)
	speaker.Unlock()
	if err != nil {
		return domain.NewTransportError(backendName, "seek", "seek failed", err)
	}
	return nil
}

// SetVolume sets the volume. The linear 0 to 1 range is mapped onto the
// exponential gain the volume effect expects.
func (e *Engine) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return domain.ErrInvalidVolume
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	e.applyVolumeLocked()
	return nil
}

// SetMute silences the graph without losing the stored volume.
func (e *Engine) SetMute(mute bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = mute
	e.applyVolumeLocked()
	return nil
}

func (e *Engine) applyVolumeLocked() {
	if e.vol == nil {
		return
	}
	speaker.Lock()
	e.vol.Silent = e.muted || e.volume == 0
	if e.volume > 0 {
		e.vol.Volume = math.Log2(e.volume)
	}
	speaker.Unlock()
}

// Position returns the decoded stream's playback position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *Engine) positionLocked() time.Duration {
	if e.current == nil {
		return 0
	}
	speaker.Lock()
	sample := e.current.streamer.Position()
	speaker.Unlock()
	return e.current.format.SampleRate.D(sample)
}

// Events returns the unsolicited event stream.
func (e *Engine) Events() <-chan domain.TransportEvent {
	return e.events
}

// --- internals ---

// startLocked wires a decoded track into a fresh control and volume chain
// and hands it to the speaker. Caller holds e.mu.
func (e *Engine) startLocked(tr *track, startPaused bool) {
	streamer := beep.Streamer(tr.streamer)
	if tr.format.SampleRate != defaultSampleRate {
		streamer = beep.Resample(resampleQuality, tr.format.SampleRate, defaultSampleRate, streamer)
	}

	e.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(streamer, beep.Callback(e.signalDone)),
		Paused:   startPaused,
	}
	e.vol = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Silent:   e.muted || e.volume == 0,
	}
	if e.volume > 0 {
		e.vol.Volume = math.Log2(e.volume)
	}

	speaker.Clear()
	speaker.Play(e.vol)

	e.current = tr
	e.playing = !startPaused
}

// signalDone runs inside the speaker's mixer goroutine when the stream
// drains. Only a non-blocking nudge happens here; the real hand-off runs on
// the engine's own goroutine.
func (e *Engine) signalDone() {
	select {
	case e.done <- struct{}{}:
	default:
	}
}

// run emits periodic progress events and performs track hand-offs.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-e.done:
			e.handleDrained()
		case <-ticker.C:
			e.emitProgress()
		}
	}
}

func (e *Engine) emitProgress() {
	e.mu.Lock()
	playing := e.playing && e.current != nil
	var position time.Duration
	if playing {
		position = e.positionLocked()
	}
	e.mu.Unlock()

	if !playing {
		return
	}
	select {
	case e.events <- domain.TransportEvent{Kind: domain.TransportTimeUpdate, Position: position}:
	default:
	}
}

// handleDrained starts the pre-loaded next stream, or reports the end of
// the queue when there is none.
func (e *Engine) handleDrained() {
	e.mu.Lock()
	next := e.preloaded
	e.preloaded = nil
	nextURL := e.nextURL
	e.mu.Unlock()

	if next == nil && nextURL != "" {
		// Pre-load has not finished (or failed); fetch synchronously
		tr, err := e.loadTrack(nextURL)
		if err != nil {
			e.logger.Warn("next stream failed to load",
				slog.String("url", nextURL), slog.Any("error", err))
		} else {
			next = tr
		}
	}

	if next == nil {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		e.emit(domain.TransportEvent{Kind: domain.TransportTrackEnded})
		return
	}

	e.mu.Lock()
	if e.current != nil {
		e.current.streamer.Close()
		e.current = nil
	}
	e.startLocked(next, false)
	e.nextURL = ""
	e.mu.Unlock()

	e.emit(domain.TransportEvent{Kind: domain.TransportAutoAdvanced})
}

func (e *Engine) emit(event domain.TransportEvent) {
	select {
	case e.events <- event:
	case <-e.stop:
	}
}

// preloadAsync fetches and decodes the next URL in the background so the
// hand-off at the track boundary is immediate.
func (e *Engine) preloadAsync(url string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		tr, err := e.loadTrack(url)
		if err != nil {
			e.logger.Warn("pre-load failed",
				slog.String("url", url), slog.Any("error", err))
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		// The look-ahead may have changed while fetching
		if e.nextURL != url || !e.initialized {
			tr.streamer.Close()
			return
		}
		if e.preloaded != nil {
			e.preloaded.streamer.Close()
		}
		e.preloaded = tr
	}()
}

func (e *Engine) closeTracksLocked() {
	if e.current != nil {
		e.current.streamer.Close()
		e.current = nil
	}
	if e.preloaded != nil {
		e.preloaded.streamer.Close()
		e.preloaded = nil
	}
	e.ctrl = nil
	e.vol = nil
}

// loadTrack fetches a URL fully into memory and decodes it.
func (e *Engine) loadTrack(url string) (*track, error) {
	data, err := e.fetch(url)
	if err != nil {
		return nil, err
	}

	streamer, format, err := decode(data)
	if err != nil {
		return nil, domain.NewTransportError(backendName, "decode",
			"unsupported or corrupt stream: "+url, err)
	}

	return &track{url: url, streamer: streamer, format: format}, nil
}

// fetch reads the stream bytes from a file:// or http(s) URL.
func (e *Engine) fetch(url string) ([]byte, error) {
	if strings.HasPrefix(url, "file://") {
		parsed, err := neturl.Parse(url)
		if err != nil {
			return nil, domain.NewTransportError(backendName, "fetch", "bad file URL", err)
		}
		data, err := os.ReadFile(parsed.Path)
		if err != nil {
			return nil, domain.NewTransportError(backendName, "fetch", "failed to read cached file", err)
		}
		return data, nil
	}

	resp, err := e.client.Get(url)
	if err != nil {
		return nil, domain.NewTransportError(backendName, "fetch", "stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewTransportError(backendName, "fetch",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	return io.ReadAll(resp.Body)
}

// readSeekCloser adapts an in-memory buffer for the decoder interfaces.
type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }

// decode sniffs the container from the leading bytes and picks the
// matching decoder.
func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	reader := readSeekCloser{bytes.NewReader(data)}

	_, fileType, err := tag.Identify(reader)
	if _, serr := reader.Seek(0, io.SeekStart); serr != nil {
		return nil, beep.Format{}, serr
	}
	if err != nil {
		// Headerless streams still decode; assume MP3 like most
		// transcoding targets
		return mp3.Decode(reader)
	}

	switch fileType {
	case tag.MP3:
		return mp3.Decode(reader)
	case tag.FLAC:
		return flac.Decode(reader)
	case tag.OGG:
		return vorbis.Decode(reader)
	default:
		if s, f, werr := wav.Decode(reader); werr == nil {
			return s, f, nil
		}
		if _, serr := reader.Seek(0, io.SeekStart); serr != nil {
			return nil, beep.Format{}, serr
		}
		return mp3.Decode(reader)
	}
}

// Verify that Engine implements the Transport interface
var _ ports.Transport = (*Engine)(nil)
