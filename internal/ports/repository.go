// Package ports defines repository interfaces for data persistence abstraction.
package ports

import (
	"github.com/ariaplayer/aria/internal/domain"
)

// SessionRepository persists the queue and playback session across restarts.
//
// Thread-safety: implementations must be thread-safe.
type SessionRepository interface {
	// SaveSession persists the current queue, position, modes and volume.
	SaveSession(session domain.Session) error

	// LoadSession retrieves the last saved session. If nothing was saved,
	// an empty session with CurrentIndex -1 is returned, not an error.
	LoadSession() (domain.Session, error)

	// Close releases the underlying store.
	Close() error
}
