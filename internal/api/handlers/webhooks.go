package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

// WebhookTester delivers a one-off test payload.
type WebhookTester interface {
	SendTest(ctx context.Context, w *db.Webhook) error
}

type WebhookHandler struct {
	tester WebhookTester
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required"`
}

type UpdateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url" binding:"omitempty,url"`
	Secret  *string  `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	HasSecret bool      `json:"has_secret"`
	CreatedAt time.Time `json:"created_at"`
}

type TestWebhookResponse struct {
	Delivered bool   `json:"delivered"`
	Message   string `json:"message"`
}

func NewWebhookHandler(tester WebhookTester) *WebhookHandler {
	return &WebhookHandler{tester: tester}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	webhooks, err := db.Webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookToResponse(w))
	}
	respondOK(c, http.StatusOK, responses)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	eventsJSON, msg := encodeEvents(req.Events)
	if msg != "" {
		badRequest(c, msg)
		return
	}

	w := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: eventsJSON,
		Enabled:    true,
	}
	ctx := c.Request.Context()
	if err := db.Webhooks.CreateWebhook(ctx, w); err != nil {
		respondErr(c, err)
		return
	}
	if stored, err := db.Webhooks.GetWebhookByID(ctx, w.ID); err == nil {
		w = stored
	}
	respondOK(c, http.StatusCreated, webhookToResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.Name != "" {
		w.Name = req.Name
	}
	if req.URL != "" {
		w.URL = req.URL
	}
	if req.Secret != nil {
		w.Secret = *req.Secret
	}
	if req.Events != nil {
		eventsJSON, msg := encodeEvents(req.Events)
		if msg != "" {
			badRequest(c, msg)
			return
		}
		w.EventsJSON = eventsJSON
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := db.Webhooks.UpdateWebhook(c.Request.Context(), w); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := db.Webhooks.DeleteWebhook(c.Request.Context(), w.ID); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": w.ID, "deleted": true})
}

// TestWebhook reports delivery failures in the body; the request itself
// succeeded.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.tester.SendTest(c.Request.Context(), w); err != nil {
		respondOK(c, http.StatusOK, TestWebhookResponse{
			Delivered: false,
			Message:   fmt.Sprintf("Failed to send webhook: %v", err),
		})
		return
	}
	respondOK(c, http.StatusOK, TestWebhookResponse{Delivered: true, Message: "Webhook test successful"})
}

func (h *WebhookHandler) lookup(c *gin.Context) (*db.Webhook, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid webhook id")
		return nil, false
	}

	w, err := db.Webhooks.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, CodeNotFound, "webhook not found")
			return nil, false
		}
		respondErr(c, err)
		return nil, false
	}
	return w, true
}

func encodeEvents(events []string) (string, string) {
	if len(events) == 0 {
		return "", "at least one event must be specified"
	}
	for _, event := range events {
		if !slices.Contains(core.JobEvents, event) {
			return "", fmt.Sprintf("invalid event type: %s", event)
		}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", "failed to serialize events"
	}
	return string(raw), ""
}

func webhookToResponse(w *db.Webhook) WebhookResponse {
	var events []string
	if w.EventsJSON != "" {
		json.Unmarshal([]byte(w.EventsJSON), &events)
	}
	if events == nil {
		events = []string{}
	}

	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		HasSecret: w.Secret != "",
		CreatedAt: w.CreatedAt,
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.PUT("/webhooks/:id", h.UpdateWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
	r.POST("/webhooks/:id/test", h.TestWebhook)
}
