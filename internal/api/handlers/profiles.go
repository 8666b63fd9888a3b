package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/core"
)

type ProfileHandler struct {
	catalog *core.ProfileCatalog
	models  *core.ModelStore
}

type EstimateRequest struct {
	ModelID    string              `json:"model_id" binding:"required"`
	ProfileID  string              `json:"profile_id"`
	Parameters core.ParameterInput `json:"parameters"`
}

type EstimateResponse struct {
	core.PrintEstimate
	Layers int `json:"layers"`
}

func NewProfileHandler(catalog *core.ProfileCatalog, models *core.ModelStore) *ProfileHandler {
	return &ProfileHandler{catalog: catalog, models: models}
}

func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	respondOK(c, http.StatusOK, h.catalog.List())
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	p, ok := h.catalog.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("profile %q not found", c.Param("id")))
		return
	}
	respondOK(c, http.StatusOK, p)
}

// Estimate accepts partial parameters; gaps are filled from the named
// profile or the default one.
func (h *ProfileHandler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	base, ok := h.catalog.Default()
	if req.ProfileID != "" {
		base, ok = h.catalog.Get(req.ProfileID)
		if !ok {
			respondError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("profile %q not found", req.ProfileID))
			return
		}
	}

	raw := req.Parameters
	if ok {
		raw = raw.WithDefaults(base.Parameters.Input())
	}
	params, err := core.Validate(raw)
	if err != nil {
		respondErr(c, err)
		return
	}

	m, err := h.models.Get(req.ModelID)
	if err != nil {
		respondErr(c, err)
		return
	}

	respondOK(c, http.StatusOK, EstimateResponse{
		PrintEstimate: core.EstimatePrint(m, params),
		Layers:        core.LayerCount(m, params),
	})
}

func (h *ProfileHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/profiles", h.ListProfiles)
	r.GET("/profiles/:id", h.GetProfile)
	r.POST("/estimate", h.Estimate)
}
