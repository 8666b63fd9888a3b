package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/archive"
	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, ArchiveListResponse{Archives: archives, Count: len(archives)})
}

func (h *ArchiveHandler) GetArchiveInfo(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		h.archiveError(c, err)
		return
	}
	respondOK(c, http.StatusOK, info)
}

func (h *ArchiveHandler) DownloadArchive(c *gin.Context) {
	filename := c.Param("filename")
	path, err := h.archiver.ArchivePath(filename)
	if err != nil {
		h.archiveError(c, err)
		return
	}
	c.FileAttachment(path, filename)
}

func (h *ArchiveHandler) DeleteArchive(c *gin.Context) {
	filename := c.Param("filename")
	if err := h.archiver.DeleteArchive(c.Request.Context(), filename); err != nil {
		h.archiveError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"filename": filename, "deleted": true})
}

type TriggerArchiveResponse struct {
	Archived int    `json:"archived"`
	File     string `json:"file,omitempty"`
}

func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	record, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	resp := TriggerArchiveResponse{}
	if record != nil {
		resp.Archived = record.JobCount
		resp.File = record.ArchiveFile
	}
	respondOK(c, http.StatusOK, resp)
}

type ArchiveStatsResponse struct {
	TotalArchives   int   `json:"total_archives"`
	TotalSize       int64 `json:"total_size_bytes"`
	TotalJobsStored int   `json:"total_jobs_stored"`
	HistoryJobs     int64 `json:"history_jobs"`
}

func (h *ArchiveHandler) GetArchiveStats(c *gin.Context) {
	ctx := c.Request.Context()
	archives, err := h.archiver.ListArchives(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}

	var resp ArchiveStatsResponse
	resp.TotalArchives = len(archives)
	for _, a := range archives {
		resp.TotalSize += a.Size
		resp.TotalJobsStored += a.JobCount
	}
	if n, err := db.History.CountHistory(ctx); err == nil {
		resp.HistoryJobs = n
	}
	respondOK(c, http.StatusOK, resp)
}

type ArchiveSettingsResponse struct {
	ArchivePath string `json:"archive_path"`
	ArchiveDays int    `json:"archive_days"`
}

func (h *ArchiveHandler) GetArchiveSettings(c *gin.Context) {
	respondOK(c, http.StatusOK, ArchiveSettingsResponse{
		ArchivePath: h.archiver.GetArchivePath(),
		ArchiveDays: h.archiver.GetArchiveDays(),
	})
}

type UpdateArchiveSettingsRequest struct {
	ArchiveDays int `json:"archive_days" binding:"required,min=1,max=365"`
}

func (h *ArchiveHandler) UpdateArchiveSettings(c *gin.Context) {
	var req UpdateArchiveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.archiver.SetArchiveDays(req.ArchiveDays)
	h.GetArchiveSettings(c)
}

// ListHistory pages through terminal jobs that left the in-memory
// registry but are not archived yet.
func (h *ArchiveHandler) ListHistory(c *gin.Context) {
	filter := db.HistoryFilter{ModelID: c.Query("model_id")}
	if s := c.Query("status"); s != "" {
		state, ok := core.ParseJobState(s)
		if !ok || !state.Terminal() {
			badRequest(c, fmt.Sprintf("unknown terminal status %q", s))
			return
		}
		filter.Status = string(state)
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit", 100); err != nil || filter.Limit < 1 || filter.Limit > 500 {
		badRequest(c, "limit must be between 1 and 500")
		return
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil || filter.Offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}

	records, err := db.History.ListHistory(c.Request.Context(), filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	if records == nil {
		records = []*db.HistoryRecord{}
	}
	respondOK(c, http.StatusOK, records)
}

func (h *ArchiveHandler) archiveError(c *gin.Context, err error) {
	if errors.Is(err, archive.ErrArchiveNotFound) {
		respondError(c, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	respondErr(c, err)
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.GET("/archives/stats", h.GetArchiveStats)
	r.POST("/archives/run", h.TriggerArchive)
	r.GET("/archives/:filename", h.GetArchiveInfo)
	r.GET("/archives/:filename/download", h.DownloadArchive)
	r.DELETE("/archives/:filename", h.DeleteArchive)
	r.GET("/history", h.ListHistory)
	r.GET("/settings/archival", h.GetArchiveSettings)
	r.PUT("/settings/archival", h.UpdateArchiveSettings)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
