package mediastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// LatestKey is the single logical slot; only the most recent recording is kept.
const LatestKey = "latest"

// Kind 录制类型
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is a supported recording kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Record is the stored recording.
type Record struct {
	ID        string
	Kind      Kind
	Format    string
	Blob      []byte
	UpdatedAt time.Time
}

// migrations are applied in order; PRAGMA user_version holds the count applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		blob BLOB NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`,
	`ALTER TABLE media ADD COLUMN format TEXT NOT NULL DEFAULT '';`,
}

// Store is a single-slot SQLite media store. It opens the database on first
// use and keeps one connection for the life of the process.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// New returns a store backed by the SQLite file at path. Nothing is opened yet.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// DefaultPath is the media database under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "mediastore: resolve config dir")
	}
	return filepath.Join(dir, "interviewctl", "media.db"), nil
}

func (s *Store) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if strings.TrimSpace(s.path) == "" {
		return nil, errors.New("mediastore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mediastore: create directory")
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, errors.Wrap(err, "mediastore: open")
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return errors.Wrap(err, "mediastore: read schema version")
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrap(err, "mediastore: begin migration")
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "mediastore: migration %d", i+1)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(i+1)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "mediastore: set schema version %d", i+1)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "mediastore: commit migration %d", i+1)
		}
	}
	return nil
}

// Save overwrites the slot. Every failure wraps model.ErrStorageWriteFailed.
func (s *Store) Save(ctx context.Context, blob []byte, kind Kind, format string) error {
	if len(blob) == 0 {
		return writeFailed(errors.New("empty recording"))
	}
	if !kind.Valid() {
		return writeFailed(errors.Errorf("unknown media kind %q", kind))
	}
	db, err := s.open()
	if err != nil {
		return writeFailed(err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO media (id, kind, blob, format, updated_at_ms) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			blob = excluded.blob,
			format = excluded.format,
			updated_at_ms = excluded.updated_at_ms`,
		LatestKey, string(kind), blob, format, s.now().UnixMilli())
	if err != nil {
		return writeFailed(errors.Wrap(err, "mediastore: upsert"))
	}
	return nil
}

// Latest returns the stored recording, or nil when nothing has been saved.
func (s *Store) Latest(ctx context.Context) (*Record, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	var (
		rec       Record
		kind      string
		updatedMs int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, kind, blob, format, updated_at_ms FROM media WHERE id = ?`, LatestKey).
		Scan(&rec.ID, &kind, &rec.Blob, &rec.Format, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "mediastore: read latest")
	}
	rec.Kind = Kind(kind)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
	return &rec, nil
}

// Clear empties the slot after the recording has been handed off.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.open()
	if err != nil {
		return writeFailed(err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, LatestKey); err != nil {
		return writeFailed(errors.Wrap(err, "mediastore: clear"))
	}
	return nil
}

// Close releases the connection; the store reopens on next use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func writeFailed(err error) error {
	return fmt.Errorf("%w: %w", model.ErrStorageWriteFailed, err)
}
