package archive_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/archive"
	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

func openTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, db.Init(db.Config{Path: filepath.Join(t.TempDir(), "slicer.db")}))
	t.Cleanup(func() { db.Close() })
}

func recordAt(t *testing.T, id string, at time.Time) {
	t.Helper()
	h, err := db.NewHistoryRecord(core.Job{
		ID:        id,
		ModelID:   "m1",
		State:     core.JobCompleted,
		Progress:  100,
		CreatedAt: at,
	}, at)
	require.NoError(t, err)
	require.NoError(t, db.History.RecordHistory(context.Background(), h))
}

func TestRunArchiveMovesOldHistory(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	a, err := archive.NewArchiver(archive.ArchiveConfig{ArchivePath: dir, ArchiveDays: 7}, nil)
	require.NoError(t, err)

	recordAt(t, "old-1", time.Now().AddDate(0, 0, -30))
	recordAt(t, "old-2", time.Now().AddDate(0, 0, -10))
	recordAt(t, "fresh", time.Now())

	rec, err := a.RunArchive(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 2, rec.JobCount)

	count, err := db.History.CountHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	archived, err := sql.Open("sqlite3", filepath.Join(dir, rec.ArchiveFile))
	require.NoError(t, err)
	defer archived.Close()
	var n int
	require.NoError(t, archived.QueryRow("SELECT COUNT(*) FROM job_history").Scan(&n))
	require.Equal(t, 2, n)

	files, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, 2, files[0].JobCount)

	// nothing left to move
	rec, err = a.RunArchive(ctx)
	require.NoError(t, err)
	require.Nil(t, rec)

	info, err := a.GetArchiveInfo(ctx, files[0].Filename)
	require.NoError(t, err)
	require.Equal(t, files[0].Size, info.Size)

	require.NoError(t, a.DeleteArchive(ctx, files[0].Filename))
	_, err = os.Stat(filepath.Join(dir, files[0].Filename))
	require.True(t, os.IsNotExist(err))
	require.ErrorIs(t, a.DeleteArchive(ctx, files[0].Filename), archive.ErrArchiveNotFound)
}

func TestArchiveNamesAreConfined(t *testing.T) {
	openTestDB(t)
	a, err := archive.NewArchiver(archive.ArchiveConfig{ArchivePath: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = a.ArchivePath("../slicer.db")
	require.ErrorIs(t, err, archive.ErrArchiveNotFound)
	_, err = a.GetArchiveInfo(context.Background(), "notes.txt")
	require.ErrorIs(t, err, archive.ErrArchiveNotFound)
}

func TestArchiverSchedule(t *testing.T) {
	_, err := archive.NewArchiver(archive.ArchiveConfig{ArchivePath: t.TempDir(), Schedule: "not a schedule"}, nil)
	require.Error(t, err)

	a, err := archive.NewArchiver(archive.ArchiveConfig{ArchivePath: t.TempDir(), Schedule: "@every 1h"}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
	a.Stop()
	a.Stop()
}

func TestRecorderWritesHistory(t *testing.T) {
	openTestDB(t)
	finished := time.Now()
	archive.NewRecorder(nil).RecordEvicted(core.Job{
		ID:         "j1",
		ModelID:    "m1",
		State:      core.JobCancelled,
		Message:    "Cancelled",
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	})

	h, err := db.History.GetHistoryByID(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, "cancelled", h.Status)
	require.Equal(t, "Cancelled", h.Message)
}
