package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"

	"github.com/orrn/slicer/internal/db"
)

var ErrArchiveNotFound = errors.New("archive not found")

// Archiver moves old job history out of the main database into monthly
// SQLite files.
type Archiver struct {
	archivePath string
	archiveDays int
	schedule    string
	logger      *slog.Logger
	cron        *cron.Cron
	now         func() time.Time
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Schedule    string
}

func NewArchiver(config ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Schedule == "" {
		config.Schedule = "@daily"
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", config.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		schedule:    config.Schedule,
		logger:      logger.With("component", "archiver"),
		now:         time.Now,
	}, nil
}

// Start schedules RunArchive on the configured cron expression.
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(a.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := a.RunArchive(ctx); err != nil {
			a.logger.Error("scheduled archive failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule archive: %w", err)
	}
	c.Start()
	a.cron = c
	a.logger.Info("archive scheduled", "schedule", a.schedule, "days", a.archiveDays)
	return nil
}

// Stop cancels the schedule and waits for a running archive to finish.
func (a *Archiver) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunArchive copies history recorded more than archiveDays ago into the
// archive file of the current month and removes it from the main database.
// It returns nil when there was nothing to archive.
func (a *Archiver) RunArchive(ctx context.Context) (*db.ArchiveRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.AddDate(0, 0, -a.archiveDays)

	jobs, err := db.History.ListHistoryBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	filename := fmt.Sprintf("archive_%s.db", now.Format("2006_01"))
	archiveDB, err := a.openOrCreateArchiveDB(filepath.Join(a.archivePath, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	for _, job := range jobs {
		if err := insertJobToArchive(ctx, tx, job); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, now.UTC()); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update archive metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	if _, err := db.History.DeleteHistoryBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("failed to delete archived jobs: %w", err)
	}

	record := &db.ArchiveRecord{
		ArchiveFile: filename,
		JobCount:    len(jobs),
		OldestAt:    &jobs[0].RecordedAt,
		NewestAt:    &jobs[len(jobs)-1].RecordedAt,
	}
	if err := db.Archive.CreateArchiveRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record archive: %w", err)
	}

	a.logger.Info("job history archived", "file", filename, "jobs", len(jobs), "cutoff", cutoff)
	return record, nil
}

func (a *Archiver) openOrCreateArchiveDB(path string) (*sql.DB, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			progress REAL NOT NULL DEFAULT 0,
			parameters_json TEXT NOT NULL,
			artifact_size INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			recorded_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_history_recorded ON job_history(recorded_at);
	`)
	if err != nil {
		archiveDB.Close()
		return nil, err
	}
	return archiveDB, nil
}

func insertJobToArchive(ctx context.Context, tx *sql.Tx, job *db.HistoryRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO job_history (id, model_id, status, message, progress, parameters_json, artifact_size, created_at, started_at, finished_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.JobID, job.ModelID, job.Status, job.Message, job.Progress, job.ParametersJSON, job.ArtifactSize,
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.RecordedAt)
	return err
}

func (a *Archiver) ListArchives(ctx context.Context) ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !isArchiveName(file.Name()) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		archives = append(archives, a.describe(ctx, file.Name(), info))
	}
	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	if !isArchiveName(filename) {
		return nil, ErrArchiveNotFound
	}
	info, err := os.Stat(filepath.Join(a.archivePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return a.describe(ctx, filename, info), nil
}

// ArchivePath resolves filename inside the archive directory.
func (a *Archiver) ArchivePath(filename string) (string, error) {
	if !isArchiveName(filename) {
		return "", ErrArchiveNotFound
	}
	path := filepath.Join(a.archivePath, filename)
	if _, err := os.Stat(path); err != nil {
		return "", ErrArchiveNotFound
	}
	return path, nil
}

func (a *Archiver) DeleteArchive(ctx context.Context, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, err := a.ArchivePath(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return db.Archive.DeleteArchiveRecords(ctx, filename)
}

func (a *Archiver) describe(ctx context.Context, filename string, info os.FileInfo) *ArchiveFile {
	f := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		DateRange: strings.TrimSuffix(strings.TrimPrefix(filename, "archive_"), ".db"),
	}
	if n, err := db.Archive.CountArchivedJobs(ctx, filename); err == nil {
		f.JobCount = n
	}
	return f
}

// isArchiveName rejects anything that is not a bare archive_*.db name.
func isArchiveName(name string) bool {
	return name == filepath.Base(name) &&
		strings.HasPrefix(name, "archive_") &&
		strings.HasSuffix(name, ".db")
}

func (a *Archiver) SetArchiveDays(days int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archiveDays = days
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}
