// Package ports defines the media source collaborator interface.
package ports

import (
	"context"
	"time"

	"github.com/ariaplayer/aria/internal/domain"
)

// MediaSource is the engine's view of the backend REST clients.
// The per-backend API clients and response normalizers live outside the
// engine; they hand over songs already normalized to domain.Song.
type MediaSource interface {
	// SimilarSongs returns up to limit recommendations similar to the given
	// song, used for auto-continuation when the queue runs out.
	SimilarSongs(ctx context.Context, song domain.Song, limit int) ([]domain.Song, error)

	// Scrobble submits a play event for the song. When submission is false
	// this is a "now playing" notification; when true it is the one
	// completed-play submission per queue entry. Retries are the concern of
	// the caller's HTTP layer, not the engine.
	Scrobble(ctx context.Context, song domain.Song, playedAt time.Time, submission bool) error
}
