// Package domain defines domain-specific errors.
// These errors represent business logic failures and are independent of infrastructure.
package domain

import (
	"errors"
	"fmt"
)

// Common errors that services can return.
var (
	// ErrTransportUnavailable is returned when the playback backend cannot be
	// started (e.g. the mpv binary is not configured). This is fatal for
	// playback until the user reconfigures the backend and must be surfaced
	// as a blocking "action required" state, never as a silent no-op.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrQueueEmpty is returned when an operation requires a non-empty queue.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrEndOfQueue is returned when advancing past the end of the queue with
	// repeat disabled. This is a normal terminal condition, not a failure.
	ErrEndOfQueue = errors.New("end of queue reached")

	// ErrEntryNotFound is returned when a queue entry cannot be found.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrNoCurrentSong is returned when playback is attempted with no current entry.
	ErrNoCurrentSong = errors.New("no current song")

	// ErrInvalidVolume is returned when the volume is out of valid range (0.0-1.0).
	ErrInvalidVolume = errors.New("invalid volume: must be between 0.0 and 1.0")

	// ErrInvalidPosition is returned when seeking to an invalid position.
	ErrInvalidPosition = errors.New("invalid playback position")

	// ErrInvalidCachePath is returned when the cache root is not an existing directory.
	ErrInvalidCachePath = errors.New("cache path is not an existing directory")

	// ErrNotInitialized is returned when an operation is attempted on an uninitialized component.
	ErrNotInitialized = errors.New("component not initialized")

	// ErrAlreadyInitialized is returned when attempting to initialize an already initialized component.
	ErrAlreadyInitialized = errors.New("component already initialized")

	// ErrNoStreamURL is returned when a song has no stream URL to resolve.
	ErrNoStreamURL = errors.New("song has no stream URL")
)

// TransportError represents an error from the transport backend.
// This wraps low-level engine/IPC errors with additional context.
type TransportError struct {
	Op      string // Operation that failed (e.g. "set_queue", "seek")
	Backend string // Transport backend name (e.g. "mpv", "speaker")
	Message string // Error message
	Err     error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s failed: %s", e.Backend, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(backend, op, message string, err error) *TransportError {
	return &TransportError{
		Op:      op,
		Backend: backend,
		Message: message,
		Err:     err,
	}
}

// Cache error operations.
const (
	// CacheOpFetch is a network fetch of a song's stream.
	CacheOpFetch = "fetch"

	// CacheOpWrite is a filesystem write under the cache root.
	CacheOpWrite = "write"
)

// CacheError represents a failed cache download or write.
// Cache errors are non-fatal: playback always falls back to streaming.
type CacheError struct {
	Op  string // CacheOpFetch or CacheOpWrite
	Key string // Cache key (serverID-songID)
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewCacheError creates a new CacheError.
func NewCacheError(op, key string, err error) *CacheError {
	return &CacheError{Op: op, Key: key, Err: err}
}

// ResolveError represents a failure to produce a playable URL for a song.
// The coordinator skips to the next queue entry rather than stalling.
type ResolveError struct {
	SongID  string // Song the resolution failed for
	Message string // Error message
	Err     error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve url for song %s: %s", e.SongID, e.Message)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NewResolveError creates a new ResolveError.
func NewResolveError(songID, message string, err error) *ResolveError {
	return &ResolveError{SongID: songID, Message: message, Err: err}
}

// RepositoryError represents an error from the persistence layer.
type RepositoryError struct {
	Op      string // Operation that failed (e.g. "save", "load")
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s failed: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError creates a new RepositoryError.
func NewRepositoryError(op, message string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Message: message, Err: err}
}
