package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

type ServerConfigResponse struct {
	Port            int    `json:"port"`
	DatabasePath    string `json:"database_path"`
	DataDir         string `json:"data_dir"`
	ModelDir        string `json:"model_dir"`
	MaxUploadSize   int64  `json:"max_upload_size"`
	WorkerCount     int    `json:"worker_count"`
	QueueSize       int    `json:"queue_size"`
	Retention       string `json:"retention"`
	QueuedTimeout   string `json:"queued_timeout"`
	EvictSuperseded bool   `json:"evict_superseded"`
	WebhookRetries  int    `json:"webhook_retry_count"`
	WebhookDelay    string `json:"webhook_retry_delay"`
	ArchiveEnabled  bool   `json:"archive_enabled"`
	ArchivePath     string `json:"archive_path"`
	ArchiveSchedule string `json:"archive_schedule"`
	AuthEnabled     bool   `json:"auth_enabled"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	ProfileCount    int    `json:"profile_count"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	respondOK(c, http.StatusOK, ServerConfigResponse{
		Port:            cfg.Server.Port,
		DatabasePath:    cfg.Database.Path,
		DataDir:         cfg.Storage.DataDir,
		ModelDir:        cfg.Storage.ModelDir,
		MaxUploadSize:   cfg.Storage.MaxUploadSize,
		WorkerCount:     cfg.Jobs.WorkerCount,
		QueueSize:       cfg.Jobs.QueueSize,
		Retention:       cfg.Jobs.Retention.String(),
		QueuedTimeout:   cfg.Jobs.QueuedTimeout.String(),
		EvictSuperseded: cfg.Jobs.EvictSuperseded,
		WebhookRetries:  cfg.Webhooks.RetryCount,
		WebhookDelay:    cfg.Webhooks.RetryDelay.String(),
		ArchiveEnabled:  cfg.Archive.Enabled,
		ArchivePath:     cfg.Archive.Path,
		ArchiveSchedule: cfg.Archive.Schedule,
		AuthEnabled:     cfg.Auth.Enabled,
		LogLevel:        cfg.Logging.Level,
		LogFormat:       cfg.Logging.Format,
		ProfileCount:    len(cfg.Profiles),
	})
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings/server", h.GetServerConfig)
}
