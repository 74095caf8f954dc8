package mediastore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "nested", "media.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLatestOnEmptyStore(t *testing.T) {
	s := newStore(t)
	rec, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSaveOverwritesSingleSlot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []byte("first"), KindAudio, "webm"))
	require.NoError(t, s.Save(ctx, []byte("second"), KindVideo, "mp4"))

	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, LatestKey, rec.ID)
	require.Equal(t, []byte("second"), rec.Blob)
	require.Equal(t, KindVideo, rec.Kind)
	require.Equal(t, "mp4", rec.Format)
	require.False(t, rec.UpdatedAt.IsZero())
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Save(ctx, nil, KindAudio, "")
	require.ErrorIs(t, err, model.ErrStorageWriteFailed)

	err = s.Save(ctx, []byte("x"), Kind("image"), "")
	require.ErrorIs(t, err, model.ErrStorageWriteFailed)
}

func TestSaveSurfacesOpenFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	s := New(filepath.Join(blocker, "media.db"))
	err := s.Save(context.Background(), []byte("x"), KindAudio, "")
	require.ErrorIs(t, err, model.ErrStorageWriteFailed)
}

func TestClear(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []byte("x"), KindAudio, "wav"))
	require.NoError(t, s.Clear(ctx))

	rec, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	ctx := context.Background()

	first := New(path)
	require.NoError(t, first.Save(ctx, []byte("kept"), KindAudio, "ogg"))
	require.NoError(t, first.Close())

	second := New(path)
	t.Cleanup(func() { _ = second.Close() })
	rec, err := second.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), rec.Blob)
}

func TestUpgradesVersionOneSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(migrations[0])
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO media (id, kind, blob, updated_at_ms) VALUES ('latest', 'audio', x'0102', 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := New(path)
	t.Cleanup(func() { _ = s.Close() })
	rec, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, rec.Blob)
	require.Equal(t, "", rec.Format)

	var version int
	db2, err := s.open()
	require.NoError(t, err)
	require.NoError(t, db2.QueryRow(`PRAGMA user_version`).Scan(&version))
	require.Equal(t, len(migrations), version)
}
