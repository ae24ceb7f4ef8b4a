package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

const (
	backendName = "mpv"

	// commandTimeout bounds how long a command waits for its response.
	commandTimeout = 5 * time.Second

	// dialAttempts and dialInterval pace the socket connection retry while
	// the freshly spawned process creates its IPC socket.
	dialAttempts = 40
	dialInterval = 50 * time.Millisecond

	// eventBufferSize sizes the outgoing event channel. Time updates are
	// dropped when the consumer lags; lifecycle events are never dropped.
	eventBufferSize = 128
)

// Config holds the mpv engine settings.
type Config struct {
	// BinaryPath is the mpv executable ("mpv" resolved via PATH when empty)
	BinaryPath string

	// SocketPath is the IPC socket location (a per-process temp path when empty)
	SocketPath string

	// ExtraArgs are appended to the mpv command line
	ExtraArgs []string
}

// Engine is a Transport backed by an external mpv process.
//
// All commands go through the IPC socket and are matched to responses by
// request ID. Playback progress and track boundaries are observed through
// mpv's property change and end-file events, never inferred from commands
// having returned.
//
// Thread-safety: safe for concurrent use.
type Engine struct {
	logger *slog.Logger
	cfg    Config

	mu          sync.Mutex
	initialized bool
	cmd         *exec.Cmd
	conn        net.Conn
	socketPath  string
	nextLoaded  bool
	playlistPos int

	// endedPending is set on end-file and resolved by the next start-file
	// (native advance into the pre-loaded entry) or idle (queue drained)
	endedPending bool

	reqID    atomic.Int64
	pending  map[int64]chan message
	position atomic.Int64 // nanoseconds

	events chan domain.TransportEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates an mpv engine. Initialize spawns the process.
func NewEngine(logger *slog.Logger, cfg Config) *Engine {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "mpv"
	}
	return &Engine{
		logger:      logger,
		cfg:         cfg,
		pending:     make(map[int64]chan message),
		playlistPos: -1,
		events:      make(chan domain.TransportEvent, eventBufferSize),
		stop:        make(chan struct{}),
	}
}

// Initialize spawns mpv in idle mode, connects to its IPC socket and
// registers the observed properties. A missing binary fails fast with
// ErrTransportUnavailable.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return domain.ErrAlreadyInitialized
	}
	e.mu.Unlock()

	binary, err := exec.LookPath(e.cfg.BinaryPath)
	if err != nil {
		return domain.NewTransportError(backendName, "initialize",
			"binary not found: "+e.cfg.BinaryPath, domain.ErrTransportUnavailable)
	}

	socketPath := e.cfg.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("aria-mpv-%d.sock", os.Getpid()))
	}
	_ = os.Remove(socketPath)

	args := []string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--keep-open=no",
		"--gapless-audio=weak",
		"--input-ipc-server=" + socketPath,
	}
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return domain.NewTransportError(backendName, "initialize",
			"failed to start process", err)
	}

	conn, err := dialSocket(socketPath)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return domain.NewTransportError(backendName, "initialize",
			"failed to connect to IPC socket", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.socketPath = socketPath
	e.mu.Unlock()

	e.attach(conn)

	// Observe the properties the coordinator reconciles against
	if _, err := e.command("observe_property", observeTimePos, propTimePos); err != nil {
		_ = e.Shutdown()
		return err
	}
	if _, err := e.command("observe_property", observePlaylistPos, propPlaylistPos); err != nil {
		_ = e.Shutdown()
		return err
	}

	e.logger.Info("mpv engine initialized",
		slog.String("binary", binary),
		slog.String("socket", socketPath))

	return nil
}

// attach wires an established IPC connection and starts the read loop.
// Split from Initialize so tests can drive the engine over a pipe.
func (e *Engine) attach(conn net.Conn) {
	e.mu.Lock()
	e.conn = conn
	e.initialized = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.readLoop(conn)
}

func dialSocket(path string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(dialInterval)
	}
	return nil, lastErr
}

// Shutdown asks mpv to quit, tears down the connection and closes the
// event stream.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	e.initialized = false
	conn := e.conn
	cmd := e.cmd
	socketPath := e.socketPath
	e.mu.Unlock()

	// Best effort: the process also dies when the socket closes
	_, _ = e.sendOnly(conn, "quit")

	close(e.stop)
	if conn != nil {
		_ = conn.Close()
	}
	e.wg.Wait()
	close(e.events)

	if cmd != nil {
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}

	e.logger.Info("mpv engine shut down")
	return nil
}

// IsInitialized reports whether the engine is connected.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// SetQueue replaces mpv's internal playlist with the current URL plus the
// optional pre-loaded next URL.
func (e *Engine) SetQueue(currentURL, nextURL string, startPaused bool) error {
	if err := e.setProperty("pause", startPaused); err != nil {
		return err
	}
	if _, err := e.command("loadfile", currentURL, "replace"); err != nil {
		return err
	}

	e.mu.Lock()
	e.nextLoaded = false
	e.endedPending = false
	e.mu.Unlock()
	e.position.Store(0)

	if nextURL == "" {
		return nil
	}
	if _, err := e.command("loadfile", nextURL, "append"); err != nil {
		return err
	}
	e.mu.Lock()
	e.nextLoaded = true
	e.mu.Unlock()
	return nil
}

// SetQueueNext swaps only the playlist entry after the playing one, keeping
// the current stream untouched.
func (e *Engine) SetQueueNext(nextURL string) error {
	e.mu.Lock()
	hadNext := e.nextLoaded
	pos := e.playlistPos
	e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}

	if hadNext {
		if _, err := e.command("playlist-remove", pos+1); err != nil {
			return err
		}
		e.mu.Lock()
		e.nextLoaded = false
		e.mu.Unlock()
	}

	if nextURL == "" {
		return nil
	}
	if _, err := e.command("loadfile", nextURL, "append"); err != nil {
		return err
	}
	e.mu.Lock()
	e.nextLoaded = true
	e.mu.Unlock()
	return nil
}

// Play resumes playback.
func (e *Engine) Play() error {
	return e.setProperty("pause", false)
}

// Pause pauses playback.
func (e *Engine) Pause() error {
	return e.setProperty("pause", true)
}

// Stop stops playback and clears mpv's playlist.
func (e *Engine) Stop() error {
	if _, err := e.command("stop"); err != nil {
		return err
	}
	e.mu.Lock()
	e.nextLoaded = false
	e.endedPending = false
	e.mu.Unlock()
	e.position.Store(0)
	return nil
}

// Seek moves the position by a relative offset.
func (e *Engine) Seek(offset time.Duration) error {
	_, err := e.command("seek", offset.Seconds(), "relative")
	return err
}

// SeekTo moves the position to an absolute offset.
func (e *Engine) SeekTo(position time.Duration) error {
	if position < 0 {
		return domain.ErrInvalidPosition
	}
	_, err := e.command("seek", position.Seconds(), "absolute")
	return err
}

// SetVolume sets the volume. mpv expects a 0 to 100 scale.
func (e *Engine) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return domain.ErrInvalidVolume
	}
	return e.setProperty("volume", volume*100)
}

// SetMute mutes or unmutes.
func (e *Engine) SetMute(mute bool) error {
	return e.setProperty("mute", mute)
}

// Position returns the last observed time-pos value.
func (e *Engine) Position() time.Duration {
	return time.Duration(e.position.Load())
}

// Events returns the unsolicited event stream.
func (e *Engine) Events() <-chan domain.TransportEvent {
	return e.events
}

// --- IPC plumbing ---

// command sends one command and waits for the matching response.
func (e *Engine) command(cmd ...any) (json.RawMessage, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, domain.ErrNotInitialized
	}
	conn := e.conn
	e.mu.Unlock()

	id := e.reqID.Add(1)
	ch := make(chan message, 1)

	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	if err := writeRequest(conn, request{Command: cmd, RequestID: id}); err != nil {
		return nil, domain.NewTransportError(backendName, fmt.Sprint(cmd[0]),
			"failed to write command", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != statusSuccess {
			return nil, domain.NewTransportError(backendName, fmt.Sprint(cmd[0]),
				"command rejected: "+resp.Error, nil)
		}
		return resp.Data, nil
	case <-e.stop:
		return nil, domain.ErrNotInitialized
	case <-time.After(commandTimeout):
		return nil, domain.NewTransportError(backendName, fmt.Sprint(cmd[0]),
			"command timed out", nil)
	}
}

// sendOnly writes a command without waiting for a response. Used during
// shutdown when the read loop may already be gone.
func (e *Engine) sendOnly(conn net.Conn, cmd ...any) (int64, error) {
	if conn == nil {
		return 0, domain.ErrNotInitialized
	}
	id := e.reqID.Add(1)
	return id, writeRequest(conn, request{Command: cmd, RequestID: id})
}

func (e *Engine) setProperty(name string, value any) error {
	_, err := e.command("set_property", name, value)
	return err
}

func writeRequest(conn net.Conn, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = conn.Write(payload)
	return err
}

// readLoop consumes IPC lines until the connection closes, routing
// responses to their waiters and events to the handler.
func (e *Engine) readLoop(conn net.Conn) {
	defer e.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			e.logger.Warn("unparseable IPC line", slog.Any("error", err))
			continue
		}

		if msg.RequestID != 0 && msg.Event == "" {
			e.mu.Lock()
			ch, ok := e.pending[msg.RequestID]
			e.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		e.handleEvent(msg)
	}
}

// handleEvent maps mpv's event stream onto the transport event vocabulary.
//
// end-file alone is ambiguous: followed by start-file it is a native
// gapless advance into the pre-loaded entry, followed by idle it is the
// playlist draining. The pending flag resolves the pair.
func (e *Engine) handleEvent(msg message) {
	switch msg.Event {
	case eventPropertyChange:
		e.handlePropertyChange(msg)

	case eventEndFile:
		if msg.Reason == reasonEOF || msg.Reason == reasonError {
			e.mu.Lock()
			e.endedPending = true
			e.mu.Unlock()
		}

	case eventStartFile:
		e.mu.Lock()
		advanced := e.endedPending
		e.endedPending = false
		if advanced {
			e.nextLoaded = false
		}
		e.mu.Unlock()
		if advanced {
			e.position.Store(0)
			e.emit(domain.TransportEvent{Kind: domain.TransportAutoAdvanced})
		}

	case eventIdle:
		e.mu.Lock()
		ended := e.endedPending
		e.endedPending = false
		e.mu.Unlock()
		if ended {
			e.emit(domain.TransportEvent{Kind: domain.TransportTrackEnded})
		}
	}
}

func (e *Engine) handlePropertyChange(msg message) {
	switch msg.Name {
	case propTimePos:
		var seconds float64
		if err := json.Unmarshal(msg.Data, &seconds); err != nil {
			return
		}
		position := time.Duration(seconds * float64(time.Second))
		e.position.Store(int64(position))
		e.emitDroppable(domain.TransportEvent{
			Kind:     domain.TransportTimeUpdate,
			Position: position,
		})

	case propPlaylistPos:
		var pos int
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			return
		}
		e.mu.Lock()
		e.playlistPos = pos
		e.mu.Unlock()
	}
}

// emit delivers a lifecycle event, blocking until the consumer takes it.
func (e *Engine) emit(event domain.TransportEvent) {
	select {
	case e.events <- event:
	case <-e.stop:
	}
}

// emitDroppable delivers a time update, dropping it when the consumer lags.
// The next tick supersedes it anyway.
func (e *Engine) emitDroppable(event domain.TransportEvent) {
	select {
	case e.events <- event:
	default:
	}
}

// Verify that Engine implements the Transport interface
var _ ports.Transport = (*Engine)(nil)
