// Package resolver produces the playable URL for a queue entry.
// Resolution is pure and synchronous: the only stateful input is the cache
// manager's in-memory index, so resolving never stalls playback start.
package resolver

import (
	"net/url"
	"strconv"

	"github.com/ariaplayer/aria/internal/domain"
)

// CacheIndex is the subset of the cache manager the resolver needs.
// Lookups must be non-blocking.
type CacheIndex interface {
	// LocalPath returns the local file path for a cached song.
	LocalPath(song domain.Song) (string, bool)
}

// PlayableURL resolves the URL the transport should play for a song.
// Resolution order, first match wins:
//
//  1. A completed cache entry, as a file:// URL.
//  2. The transcoded stream URL when transcoding is enabled.
//  3. The direct stream URL unchanged.
//
// A *domain.ResolveError is returned when the song carries no stream URL or
// the stream URL cannot be parsed to attach transcode parameters.
func PlayableURL(song domain.Song, transcode domain.TranscodeSettings, cache CacheIndex) (string, error) {
	if cache != nil {
		if path, ok := cache.LocalPath(song); ok {
			return fileURL(path), nil
		}
	}

	if song.StreamURL == "" {
		return "", domain.NewResolveError(song.ID, "no stream url", domain.ErrNoStreamURL)
	}

	if !transcode.Enabled {
		return song.StreamURL, nil
	}

	return transcodeURL(song, transcode)
}

// fileURL converts a local path into a file:// URL the transport accepts.
func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

// transcodeURL appends transcode query parameters to the song's stream URL.
// Parameter names differ per backend family: Subsonic-compatible servers use
// format/maxBitRate, Jellyfin uses container/maxStreamingBitrate (in bits
// per second).
func transcodeURL(song domain.Song, transcode domain.TranscodeSettings) (string, error) {
	u, err := url.Parse(song.StreamURL)
	if err != nil {
		return "", domain.NewResolveError(song.ID, "malformed stream url", err)
	}

	q := u.Query()
	switch song.ServerKind {
	case domain.ServerJellyfin:
		if transcode.Format != "" {
			q.Set("container", transcode.Format)
		}
		if transcode.BitrateKbps > 0 {
			q.Set("maxStreamingBitrate", strconv.Itoa(transcode.BitrateKbps*1000))
		}
	default:
		// Subsonic and Navidrome share the Subsonic stream API
		if transcode.Format != "" {
			q.Set("format", transcode.Format)
		}
		if transcode.BitrateKbps > 0 {
			q.Set("maxBitRate", strconv.Itoa(transcode.BitrateKbps))
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
