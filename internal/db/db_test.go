package db_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

func openTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, db.Init(db.Config{Path: filepath.Join(t.TempDir(), "slicer.db")}))
	t.Cleanup(func() { db.Close() })
}

func TestInitIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicer.db")
	require.NoError(t, db.Init(db.Config{Path: path}))
	require.NoError(t, db.Init(db.Config{Path: path}))
	t.Cleanup(func() { db.Close() })

	var n int
	require.NoError(t, db.GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	require.Equal(t, 1, n)
}

func TestModelPersistence(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	m := core.Model{
		ID:         "m1",
		Filename:   "cube.stl",
		FileSize:   684,
		Format:     "stl",
		Triangles:  12,
		Bounds:     core.Bounds{X: core.Range{Max: 10}, Y: core.Range{Min: -5, Max: 5}, Z: core.Range{Max: 2.5}},
		UploadedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Path:       "/data/models/m1.stl",
	}
	p := db.Models.Persister()
	require.NoError(t, p.SaveModel(m))
	require.Error(t, p.SaveModel(m))

	models, err := db.Models.LoadCoreModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, m.Bounds, models[0].Bounds)
	require.Equal(t, m.Path, models[0].Path)
	require.True(t, m.UploadedAt.Equal(models[0].UploadedAt))

	require.NoError(t, p.DeleteModel("m1"))
	_, err = db.Models.GetModelByID(ctx, "m1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestHistory(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := base.Add(time.Minute)
	for i, id := range []string{"a", "b", "c"} {
		job := core.Job{
			ID:         id,
			ModelID:    "m1",
			State:      core.JobCompleted,
			Progress:   100,
			Message:    "Slicing completed!",
			CreatedAt:  base,
			FinishedAt: &finished,
		}
		if id == "c" {
			job.ModelID = "m2"
			job.State = core.JobFailed
		}
		h, err := db.NewHistoryRecord(job, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, db.History.RecordHistory(ctx, h))
	}

	got, err := db.History.GetHistoryByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)
	require.NotNil(t, got.FinishedAt)
	require.True(t, finished.Equal(*got.FinishedAt))
	require.Nil(t, got.StartedAt)

	list, err := db.History.ListHistory(ctx, db.HistoryFilter{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].JobID)

	list, err = db.History.ListHistory(ctx, db.HistoryFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	old, err := db.History.ListHistoryBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 2)

	n, err := db.History.DeleteHistoryBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	count, err := db.History.CountHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestWebhooks(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	w := &db.Webhook{Name: "ci", URL: "http://example.test/hook", EventsJSON: `["job_completed","job_failed"]`, Enabled: true}
	require.NoError(t, db.Webhooks.CreateWebhook(ctx, w))
	require.NotZero(t, w.ID)

	off := &db.Webhook{Name: "off", URL: "http://example.test/off", EventsJSON: `["job_completed"]`}
	require.NoError(t, db.Webhooks.CreateWebhook(ctx, off))

	hooks, err := db.Webhooks.ListActiveWebhooksForEvent(ctx, core.EventJobCompleted)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	require.Equal(t, "ci", hooks[0].Name)

	hooks, err = db.Webhooks.ListActiveWebhooksForEvent(ctx, core.EventJobQueued)
	require.NoError(t, err)
	require.Empty(t, hooks)

	w.Enabled = false
	require.NoError(t, db.Webhooks.UpdateWebhook(ctx, w))
	got, err := db.Webhooks.GetWebhookByID(ctx, w.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)

	require.NoError(t, db.Webhooks.DeleteWebhook(ctx, w.ID))
	all, err := db.Webhooks.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSettings(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	_, err := db.Settings.GetSetting(ctx, "admin_username")
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, db.Settings.SetSetting(ctx, "admin_username", "admin", false))
	require.NoError(t, db.Settings.SetSetting(ctx, "admin_username", "root", false))

	s, err := db.Settings.GetSetting(ctx, "admin_username")
	require.NoError(t, err)
	require.Equal(t, "root", s.Value)

	all, err := db.Settings.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, db.Settings.DeleteSetting(ctx, "admin_username"))
	_, err = db.Settings.GetSetting(ctx, "admin_username")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestArchiveRecords(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	oldest := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Archive.CreateArchiveRecord(ctx, &db.ArchiveRecord{ArchiveFile: "archive_2024_01.db", JobCount: 3, OldestAt: &oldest}))
	require.NoError(t, db.Archive.CreateArchiveRecord(ctx, &db.ArchiveRecord{ArchiveFile: "archive_2024_02.db", JobCount: 1}))

	records, err := db.Archive.ListArchiveRecords(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "archive_2024_02.db", records[0].ArchiveFile)
	require.Nil(t, records[0].OldestAt)
	require.True(t, oldest.Equal(*records[1].OldestAt))
}
