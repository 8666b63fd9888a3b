package db

const (
	InsertModel = `
		INSERT INTO models (id, filename, file_size, format, triangles, bounds_json, path, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetModelByID = `
		SELECT id, filename, file_size, format, triangles, bounds_json, path, uploaded_at
		FROM models WHERE id = ?
	`

	ListModels = `
		SELECT id, filename, file_size, format, triangles, bounds_json, path, uploaded_at
		FROM models ORDER BY uploaded_at ASC
	`

	DeleteModel = `DELETE FROM models WHERE id = ?`
)

const (
	UpsertHistory = `
		INSERT OR REPLACE INTO job_history (
			id, model_id, status, message, progress, parameters_json, artifact_size,
			created_at, started_at, finished_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	historyColumns = `
		id, model_id, status, message, progress, parameters_json, artifact_size,
		created_at, started_at, finished_at, recorded_at
	`

	GetHistoryByID = `SELECT ` + historyColumns + ` FROM job_history WHERE id = ?`

	ListHistoryBefore = `
		SELECT ` + historyColumns + ` FROM job_history
		WHERE recorded_at < ? ORDER BY recorded_at ASC
	`

	DeleteHistoryBefore = `DELETE FROM job_history WHERE recorded_at < ?`

	CountHistory = `SELECT COUNT(*) FROM job_history`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY id ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ? ORDER BY id ASC
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ?
		WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`

	ListSettings = `SELECT key, value, encrypted, updated_at FROM settings ORDER BY key ASC`
)

const (
	InsertArchiveRecord = `
		INSERT INTO archive_records (archive_file, job_count, oldest_at, newest_at)
		VALUES (?, ?, ?, ?)
	`

	ListArchiveRecords = `
		SELECT id, archive_file, job_count, oldest_at, newest_at, archived_at
		FROM archive_records ORDER BY archived_at DESC, id DESC LIMIT ? OFFSET ?
	`

	CountArchivedJobs = `SELECT COALESCE(SUM(job_count), 0) FROM archive_records WHERE archive_file = ?`

	DeleteArchiveRecords = `DELETE FROM archive_records WHERE archive_file = ?`
)
