package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/core"
)

type SliceHandler struct {
	engine   *core.Engine
	models   *core.ModelStore
	profiles *core.ProfileCatalog
}

// SliceRequest starts a job. Fields missing from Parameters are taken from
// the profile named by ProfileID, when one is given.
type SliceRequest struct {
	ModelID    string              `json:"model_id" binding:"required"`
	ProfileID  string              `json:"profile_id"`
	Parameters core.ParameterInput `json:"parameters"`
}

type JobListResponse struct {
	Jobs  []core.Job `json:"jobs"`
	Count int        `json:"count"`
}

func NewSliceHandler(engine *core.Engine, models *core.ModelStore, profiles *core.ProfileCatalog) *SliceHandler {
	return &SliceHandler{engine: engine, models: models, profiles: profiles}
}

func (h *SliceHandler) SubmitSlice(c *gin.Context) {
	var req SliceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	params := req.Parameters
	if req.ProfileID != "" {
		p, ok := h.profiles.Get(req.ProfileID)
		if !ok {
			respondError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("profile %q not found", req.ProfileID))
			return
		}
		params = params.WithDefaults(p.Parameters.Input())
	}

	sub, err := h.engine.Submit(c.Request.Context(), req.ModelID, params)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, sub)
}

func (h *SliceHandler) ListJobs(c *gin.Context) {
	filter := core.JobFilter{ModelID: c.Query("model_id")}
	if s := c.Query("status"); s != "" {
		state, ok := core.ParseJobState(s)
		if !ok {
			badRequest(c, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.State = state
	}
	jobs := h.engine.List(filter)
	respondOK(c, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

func (h *SliceHandler) Stats(c *gin.Context) {
	respondOK(c, http.StatusOK, h.engine.Stats())
}

func (h *SliceHandler) GetStatus(c *gin.Context) {
	job, err := h.engine.GetStatus(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

// StreamEvents pushes a "status" server-sent event for every observed
// change until the job reaches a terminal state or the client leaves,
// which cancels the request context and closes updates.
func (h *SliceHandler) StreamEvents(c *gin.Context) {
	updates, err := h.engine.Watch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	for job := range updates {
		c.SSEvent("status", job)
		c.Writer.Flush()
	}
}

func (h *SliceHandler) CancelJob(c *gin.Context) {
	job, err := h.engine.Cancel(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

func (h *SliceHandler) RemoveJob(c *gin.Context) {
	job, err := h.engine.Remove(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

func (h *SliceHandler) Download(c *gin.Context) {
	id := c.Param("id")
	artifact, err := h.engine.FetchArtifact(id)
	if err != nil {
		respondErr(c, err)
		return
	}

	name := id
	if job, err := h.engine.GetStatus(id); err == nil {
		if m, err := h.models.Get(job.ModelID); err == nil {
			name = strings.TrimSuffix(m.Filename, filepath.Ext(m.Filename))
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"_sliced.gcode"))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", artifact.Data)
}

func (h *SliceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/slice", h.SubmitSlice)
	r.GET("/slice", h.ListJobs)
	r.GET("/slice/stats", h.Stats)
	r.GET("/slice/:id/status", h.GetStatus)
	r.GET("/slice/:id/events", h.StreamEvents)
	r.POST("/slice/:id/cancel", h.CancelJob)
	r.GET("/slice/:id/download", h.Download)
	r.DELETE("/slice/:id", h.RemoveJob)
}
