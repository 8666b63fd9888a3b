package db

import (
	"database/sql"
	"time"
)

type ModelRecord struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	Format     string    `json:"format"`
	Triangles  int       `json:"triangles"`
	BoundsJSON string    `json:"bounds_json"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HistoryRecord is a terminal job kept after it left the in-memory registry.
type HistoryRecord struct {
	JobID          string     `json:"job_id"`
	ModelID        string     `json:"model_id"`
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	Progress       float64    `json:"progress"`
	ParametersJSON string     `json:"parameters_json"`
	ArtifactSize   int64      `json:"artifact_size"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArchiveRecord struct {
	ID          int64      `json:"id"`
	ArchiveFile string     `json:"archive_file"`
	JobCount    int        `json:"job_count"`
	OldestAt    *time.Time `json:"oldest_at,omitempty"`
	NewestAt    *time.Time `json:"newest_at,omitempty"`
	ArchivedAt  time.Time  `json:"archived_at"`
}

type HistoryFilter struct {
	ModelID string
	Status  string
	Limit   int
	Offset  int
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
