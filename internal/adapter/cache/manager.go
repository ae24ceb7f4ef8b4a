// Package cache provides the on-disk song cache manager.
//
// Cache files are laid out flat under the cache root as <serverID>-<songID>,
// one file per song, no subdirectories, no manifest. Existence on disk is the
// sole source of truth; a lazily-populated in-memory index mirrors it so
// "is cached" checks on the playback hot path never touch the filesystem.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

// Manager implements ports.CacheManager.
//
// Thread-safety: the index may be read concurrently from any goroutine.
// Downloads for the same song are coalesced so concurrent requests share one
// fetch and never corrupt or duplicate the file.
type Manager struct {
	logger *slog.Logger
	bus    ports.EventBus
	client *http.Client

	// mu protects root, index and watcher
	mu      sync.RWMutex
	root    string
	index   map[string]struct{}
	watcher *fsnotify.Watcher

	// inflight coalesces concurrent downloads per cache key
	inflightMu sync.Mutex
	inflight   map[string]*download

	// watcherWg waits for the watch goroutine on Close
	watcherWg sync.WaitGroup
	closeOnce sync.Once
}

// download tracks one in-flight fetch shared by all concurrent callers.
type download struct {
	done chan struct{}
	err  error
}

// NewManager creates a cache manager rooted at the given directory.
// The directory must exist; domain.ErrInvalidCachePath is returned otherwise.
// The bus may be nil when no one listens for cache events.
func NewManager(logger *slog.Logger, bus ports.EventBus, client *http.Client, root string) (*Manager, error) {
	if client == nil {
		client = http.DefaultClient
	}

	m := &Manager{
		logger:   logger,
		bus:      bus,
		client:   client,
		index:    make(map[string]struct{}),
		inflight: make(map[string]*download),
	}

	if err := m.SetCachePath(root); err != nil {
		return nil, err
	}

	return m, nil
}

// Key returns the cache key for a song: <serverID>-<songID>.
func Key(song domain.Song) string {
	return fmt.Sprintf("%s-%s", song.ServerID, song.ID)
}

// IsCached reports whether the song has a completed cache entry.
func (m *Manager) IsCached(song domain.Song) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.index[Key(song)]
	return ok
}

// LocalPath returns the cache file path for the song, if indexed.
func (m *Manager) LocalPath(song domain.Song) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := Key(song)
	if _, ok := m.index[key]; !ok {
		return "", false
	}
	return filepath.Join(m.root, key), true
}

// CachePath returns the current cache root.
func (m *Manager) CachePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.root
}

// SetCachePath validates and switches the cache root.
// The in-memory index is invalidated and rebuilt from the new directory, so
// a song cached under the old root reports as not cached immediately.
func (m *Manager) SetCachePath(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return domain.ErrInvalidCachePath
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return domain.NewCacheError(domain.CacheOpWrite, path, err)
	}

	index := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		index[entry.Name()] = struct{}{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(path)
	}
	if err != nil {
		// The watcher is an optimization for external deletions; the cache
		// still works without it because playback tolerates missing files.
		m.logger.Warn("cache watcher unavailable", slog.Any("error", err))
		watcher = nil
	}

	m.mu.Lock()
	old := m.watcher
	m.root = path
	m.index = index
	m.watcher = watcher
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if watcher != nil {
		m.watcherWg.Add(1)
		go m.watch(watcher)
	}

	m.logger.Info("cache root set",
		slog.String("path", path),
		slog.Int("entries", len(index)))

	return nil
}

// partialSuffix marks in-progress downloads so they are never indexed.
const partialSuffix = ".partial"

// CacheFile downloads the song's direct stream into the cache.
// Idempotent and coalesced: an already-cached song is a no-op, and concurrent
// calls for the same song wait on a single shared download.
func (m *Manager) CacheFile(ctx context.Context, song domain.Song) error {
	if m.IsCached(song) {
		return nil
	}
	if song.StreamURL == "" {
		return domain.NewCacheError(domain.CacheOpFetch, Key(song), domain.ErrNoStreamURL)
	}

	key := Key(song)

	m.inflightMu.Lock()
	if dl, ok := m.inflight[key]; ok {
		m.inflightMu.Unlock()
		select {
		case <-dl.done:
			return dl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	dl := &download{done: make(chan struct{})}
	m.inflight[key] = dl
	m.inflightMu.Unlock()

	dl.err = m.fetch(ctx, song, key)
	close(dl.done)

	m.inflightMu.Lock()
	delete(m.inflight, key)
	m.inflightMu.Unlock()

	if dl.err != nil {
		m.logger.Warn("cache download failed",
			slog.String("key", key),
			slog.Any("error", dl.err))
		if m.bus != nil {
			m.bus.Publish(domain.NewCacheFailedEvent(song, dl.err))
		}
		return dl.err
	}

	m.mu.RLock()
	path := filepath.Join(m.root, key)
	m.mu.RUnlock()

	m.logger.Info("song cached", slog.String("key", key))
	if m.bus != nil {
		m.bus.Publish(domain.NewCacheCompletedEvent(song, path))
	}

	return nil
}

// fetch downloads the stream into a partial file and renames it into place,
// so a crash mid-download never leaves a half-written entry indexed.
func (m *Manager) fetch(ctx context.Context, song domain.Song, key string) error {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, song.StreamURL, nil)
	if err != nil {
		return domain.NewCacheError(domain.CacheOpFetch, key, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.NewCacheError(domain.CacheOpFetch, key, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return domain.NewCacheError(domain.CacheOpFetch, key,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	partial := filepath.Join(root, key+partialSuffix)
	file, err := os.Create(partial)
	if err != nil {
		return domain.NewCacheError(domain.CacheOpWrite, key, err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(partial)
		return domain.NewCacheError(domain.CacheOpWrite, key, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(partial)
		return domain.NewCacheError(domain.CacheOpWrite, key, err)
	}

	final := filepath.Join(root, key)
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return domain.NewCacheError(domain.CacheOpWrite, key, err)
	}

	m.mu.Lock()
	// The root may have moved while the download ran; only index the entry
	// when it landed under the current root.
	if m.root == root {
		m.index[key] = struct{}{}
	}
	m.mu.Unlock()

	return nil
}

// watch drops index entries when cache files are deleted externally
// (e.g. a full cache clear from settings).
func (m *Manager) watch(watcher *fsnotify.Watcher) {
	defer m.watcherWg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			m.mu.Lock()
			delete(m.index, name)
			m.mu.Unlock()
			m.logger.Debug("cache entry removed externally", slog.String("key", name))

		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close releases the filesystem watcher.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		watcher := m.watcher
		m.watcher = nil
		m.mu.Unlock()

		if watcher != nil {
			err = watcher.Close()
		}
		m.watcherWg.Wait()
	})
	return err
}

// Verify that Manager implements the CacheManager interface
var _ ports.CacheManager = (*Manager)(nil)
