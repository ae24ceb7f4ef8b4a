// Package bolt persists the playback session in an embedded bbolt database.
package bolt

import (
	"bytes"
	"encoding/gob"
	"log/slog"

	"go.etcd.io/bbolt"

	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
)

var (
	bucketSession = []byte("session")
	keyCurrent    = []byte("current")
)

// Store is a SessionRepository backed by a single-file bbolt database.
// Sessions are gob-encoded; the schema is one bucket with one key, so a
// corrupt or missing record degrades to an empty session instead of an
// error on startup.
type Store struct {
	logger *slog.Logger
	db     *bbolt.DB
}

// NewStore opens (or creates) the database file at path.
func NewStore(logger *slog.Logger, path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, domain.NewRepositoryError("open", "failed to open session store", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, cerr := tx.CreateBucketIfNotExists(bucketSession)
		return cerr
	})
	if err != nil {
		_ = db.Close()
		return nil, domain.NewRepositoryError("open", "failed to open session store", err)
	}

	return &Store{logger: logger, db: db}, nil
}

// SaveSession overwrites the stored session.
func (s *Store) SaveSession(session domain.Session) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(session); err != nil {
		return domain.NewRepositoryError("save", "failed to persist session", err)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyCurrent, buf.Bytes())
	})
	if err != nil {
		return domain.NewRepositoryError("save", "failed to persist session", err)
	}

	s.logger.Debug("session saved",
		slog.Int("entries", len(session.Entries)),
		slog.Int("current_index", session.CurrentIndex))
	return nil
}

// LoadSession returns the stored session, or an empty one when nothing was
// saved yet or the record does not decode.
func (s *Store) LoadSession() (domain.Session, error) {
	empty := domain.Session{CurrentIndex: -1, Volume: 1.0}

	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketSession).Get(keyCurrent); data != nil {
			raw = append(raw, data...)
		}
		return nil
	})
	if err != nil {
		return empty, domain.NewRepositoryError("load", "failed to read session", err)
	}
	if raw == nil {
		return empty, nil
	}

	var session domain.Session
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&session); err != nil {
		s.logger.Warn("discarding undecodable session", slog.Any("error", err))
		return empty, nil
	}
	return session, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Verify that Store implements the SessionRepository interface
var _ ports.SessionRepository = (*Store)(nil)
