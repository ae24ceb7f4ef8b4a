// Package ports defines the cache manager interface.
package ports

import (
	"context"

	"github.com/ariaplayer/aria/internal/domain"
)

// CacheManager owns the on-disk cache of downloaded songs.
// Cache files live flat under the cache root as <serverID>-<songID>, with no
// manifest: existence on disk is the sole source of truth, mirrored into an
// in-memory index so hot-path lookups never touch the filesystem.
//
// Caching is opportunistic and best-effort. A failed or missing cache entry
// always falls back transparently to streaming, and callers must tolerate a
// cached file disappearing between the existence check and playback.
type CacheManager interface {
	// IsCached reports whether the song has a completed cache entry.
	// Synchronous and backed by the in-memory index; safe on the hot path.
	IsCached(song domain.Song) bool

	// LocalPath returns the cache file path for the song and whether the
	// entry exists in the index.
	LocalPath(song domain.Song) (string, bool)

	// CacheFile downloads the song's direct stream into the cache.
	// Idempotent: already-cached songs are a no-op. Concurrent calls for
	// the same song are coalesced into a single download. Failures return
	// a *domain.CacheError and never affect current playback.
	CacheFile(ctx context.Context, song domain.Song) error

	// SetCachePath moves the cache root. The path must be an existing
	// directory or domain.ErrInvalidCachePath is returned. The in-memory
	// index is invalidated and rebuilt from the new directory.
	SetCachePath(path string) error

	// CachePath returns the current cache root.
	CachePath() string

	// Close releases the manager's resources (filesystem watcher).
	Close() error
}
