package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/core"
)

// multipartOverhead allows for part headers and boundaries around the file.
const multipartOverhead = 1 << 20

// ModelGuard deletes a model only while no live job references it.
type ModelGuard interface {
	DeleteModel(modelID string, remove func(id string) error) error
}

type ModelHandler struct {
	store  *core.ModelStore
	guard  ModelGuard
	logger *slog.Logger
}

type ModelListResponse struct {
	Models []core.Model `json:"models"`
	Count  int          `json:"count"`
}

func NewModelHandler(store *core.ModelStore, guard ModelGuard, logger *slog.Logger) *ModelHandler {
	return &ModelHandler{store: store, guard: guard, logger: logger}
}

func (h *ModelHandler) UploadModel(c *gin.Context) {
	limit := h.store.MaxSize()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondErr(c, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, limit))
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondErr(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()

	m, err := h.store.Import(fh.Filename, f)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, m)
}

func (h *ModelHandler) GetModel(c *gin.Context) {
	m, err := h.store.Get(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, m)
}

func (h *ModelHandler) ListModels(c *gin.Context) {
	models := h.store.List()
	respondOK(c, http.StatusOK, ModelListResponse{Models: models, Count: len(models)})
}

// DeleteModel refuses while a queued or processing job still needs the
// model file. The guard keeps a concurrent submit from slipping in between
// the check and the removal.
func (h *ModelHandler) DeleteModel(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.Get(id); err != nil {
		respondErr(c, err)
		return
	}
	remove := h.store.Delete
	if h.guard != nil {
		remove = func(id string) error { return h.guard.DeleteModel(id, h.store.Delete) }
	}
	if err := remove(id); err != nil {
		respondErr(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "model deleted", "model_id", id)
	respondOK(c, http.StatusOK, gin.H{"model_id": id, "deleted": true})
}

func (h *ModelHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/models/upload", h.UploadModel)
	r.GET("/models", h.ListModels)
	r.GET("/models/:id", h.GetModel)
	r.DELETE("/models/:id", h.DeleteModel)
}
