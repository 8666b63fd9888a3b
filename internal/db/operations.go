package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/slicer/internal/core"
)

type ModelOperations struct{}

func (o *ModelOperations) CreateModel(ctx context.Context, m *ModelRecord) error {
	_, err := GetDB().ExecContext(ctx, InsertModel,
		m.ID, m.Filename, m.FileSize, m.Format, m.Triangles, m.BoundsJSON, m.Path, m.UploadedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	return nil
}

func (o *ModelOperations) GetModelByID(ctx context.Context, id string) (*ModelRecord, error) {
	m := &ModelRecord{}
	err := GetDB().QueryRowContext(ctx, GetModelByID, id).Scan(
		&m.ID, &m.Filename, &m.FileSize, &m.Format, &m.Triangles, &m.BoundsJSON, &m.Path, &m.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

func (o *ModelOperations) ListModels(ctx context.Context) ([]*ModelRecord, error) {
	rows, err := GetDB().QueryContext(ctx, ListModels)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []*ModelRecord
	for rows.Next() {
		m := &ModelRecord{}
		if err := rows.Scan(
			&m.ID, &m.Filename, &m.FileSize, &m.Format, &m.Triangles, &m.BoundsJSON, &m.Path, &m.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (o *ModelOperations) DeleteModel(ctx context.Context, id string) error {
	_, err := GetDB().ExecContext(ctx, DeleteModel, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

// LoadCoreModels returns every stored model in the form the model store
// keeps in memory. Rows with unreadable bounds are skipped.
func (o *ModelOperations) LoadCoreModels(ctx context.Context) ([]core.Model, error) {
	records, err := o.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]core.Model, 0, len(records))
	for _, r := range records {
		m, err := r.toCore()
		if err != nil {
			continue
		}
		models = append(models, m)
	}
	return models, nil
}

// Persister adapts the operations to core.ModelPersister.
func (o *ModelOperations) Persister() core.ModelPersister {
	return modelPersister{ops: o}
}

type modelPersister struct {
	ops *ModelOperations
}

func (p modelPersister) SaveModel(m core.Model) error {
	r, err := newModelRecord(m)
	if err != nil {
		return err
	}
	return p.ops.CreateModel(context.Background(), r)
}

func (p modelPersister) DeleteModel(id string) error {
	return p.ops.DeleteModel(context.Background(), id)
}

func newModelRecord(m core.Model) (*ModelRecord, error) {
	bounds, err := json.Marshal(m.Bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bounds: %w", err)
	}
	return &ModelRecord{
		ID:         m.ID,
		Filename:   m.Filename,
		FileSize:   m.FileSize,
		Format:     m.Format,
		Triangles:  m.Triangles,
		BoundsJSON: string(bounds),
		Path:       m.Path,
		UploadedAt: m.UploadedAt,
	}, nil
}

func (r *ModelRecord) toCore() (core.Model, error) {
	var b core.Bounds
	if err := json.Unmarshal([]byte(r.BoundsJSON), &b); err != nil {
		return core.Model{}, fmt.Errorf("failed to decode bounds of model %s: %w", r.ID, err)
	}
	return core.Model{
		ID:         r.ID,
		Filename:   r.Filename,
		FileSize:   r.FileSize,
		Format:     r.Format,
		Triangles:  r.Triangles,
		Bounds:     b,
		UploadedAt: r.UploadedAt,
		Path:       r.Path,
	}, nil
}

type HistoryOperations struct{}

// NewHistoryRecord captures a terminal job snapshot.
func NewHistoryRecord(j core.Job, recordedAt time.Time) (*HistoryRecord, error) {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return &HistoryRecord{
		JobID:          j.ID,
		ModelID:        j.ModelID,
		Status:         string(j.State),
		Message:        j.Message,
		Progress:       j.Progress,
		ParametersJSON: string(params),
		ArtifactSize:   j.ArtifactSize,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		RecordedAt:     recordedAt,
	}, nil
}

func (o *HistoryOperations) RecordHistory(ctx context.Context, h *HistoryRecord) error {
	_, err := GetDB().ExecContext(ctx, UpsertHistory,
		h.JobID, h.ModelID, h.Status, h.Message, h.Progress, h.ParametersJSON, h.ArtifactSize,
		h.CreatedAt.UTC(), nullTime(utcPtr(h.StartedAt)), nullTime(utcPtr(h.FinishedAt)), h.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}
	return nil
}

func (o *HistoryOperations) GetHistoryByID(ctx context.Context, id string) (*HistoryRecord, error) {
	h, err := scanHistory(GetDB().QueryRowContext(ctx, GetHistoryByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job history: %w", err)
	}
	return h, nil
}

func (o *HistoryOperations) ListHistory(ctx context.Context, filter HistoryFilter) ([]*HistoryRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.ModelID != "" {
		conditions = append(conditions, "model_id = ?")
		args = append(args, filter.ModelID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + historyColumns + " FROM job_history"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id ASC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func (o *HistoryOperations) ListHistoryBefore(ctx context.Context, cutoff time.Time) ([]*HistoryRecord, error) {
	rows, err := GetDB().QueryContext(ctx, ListHistoryBefore, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func (o *HistoryOperations) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := GetDB().ExecContext(ctx, DeleteHistoryBefore, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete job history: %w", err)
	}
	return result.RowsAffected()
}

func (o *HistoryOperations) CountHistory(ctx context.Context) (int64, error) {
	var count int64
	if err := GetDB().QueryRowContext(ctx, CountHistory).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count job history: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistory(row rowScanner) (*HistoryRecord, error) {
	h := &HistoryRecord{}
	var started, finished sql.NullTime
	if err := row.Scan(
		&h.JobID, &h.ModelID, &h.Status, &h.Message, &h.Progress, &h.ParametersJSON, &h.ArtifactSize,
		&h.CreatedAt, &started, &finished, &h.RecordedAt); err != nil {
		return nil, err
	}
	h.StartedAt = timePtr(started)
	h.FinishedAt = timePtr(finished)
	return h, nil
}

func scanHistoryRows(rows *sql.Rows) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job history: %w", err)
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

type WebhookOperations struct{}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := GetDB().ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := GetDB().QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := GetDB().QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	_, err := GetDB().ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := GetDB().QueryContext(ctx, ListSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		s := &Setting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.Encrypted, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

type ArchiveOperations struct{}

func (o *ArchiveOperations) CreateArchiveRecord(ctx context.Context, a *ArchiveRecord) error {
	result, err := GetDB().ExecContext(ctx, InsertArchiveRecord,
		a.ArchiveFile, a.JobCount, nullTime(utcPtr(a.OldestAt)), nullTime(utcPtr(a.NewestAt)))
	if err != nil {
		return fmt.Errorf("failed to create archive record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get archive record id: %w", err)
	}
	a.ID = id
	return nil
}

func (o *ArchiveOperations) ListArchiveRecords(ctx context.Context, limit, offset int) ([]*ArchiveRecord, error) {
	rows, err := GetDB().QueryContext(ctx, ListArchiveRecords, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive records: %w", err)
	}
	defer rows.Close()

	var records []*ArchiveRecord
	for rows.Next() {
		a := &ArchiveRecord{}
		var oldest, newest sql.NullTime
		if err := rows.Scan(&a.ID, &a.ArchiveFile, &a.JobCount, &oldest, &newest, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive record: %w", err)
		}
		a.OldestAt = timePtr(oldest)
		a.NewestAt = timePtr(newest)
		records = append(records, a)
	}
	return records, rows.Err()
}

func (o *ArchiveOperations) CountArchivedJobs(ctx context.Context, archiveFile string) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountArchivedJobs, archiveFile).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archived jobs: %w", err)
	}
	return count, nil
}

func (o *ArchiveOperations) DeleteArchiveRecords(ctx context.Context, archiveFile string) error {
	_, err := GetDB().ExecContext(ctx, DeleteArchiveRecords, archiveFile)
	if err != nil {
		return fmt.Errorf("failed to delete archive records: %w", err)
	}
	return nil
}

var (
	Models   = &ModelOperations{}
	History  = &HistoryOperations{}
	Webhooks = &WebhookOperations{}
	Settings = &SettingsOperations{}
	Archive  = &ArchiveOperations{}
)
