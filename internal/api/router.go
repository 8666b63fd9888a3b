package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/slicer/internal/api/handlers"
	"github.com/orrn/slicer/internal/api/middleware"
	"github.com/orrn/slicer/internal/archive"
	"github.com/orrn/slicer/internal/config"
	"github.com/orrn/slicer/internal/core"
)

// Dependencies are the services the HTTP layer is built on. Archiver and
// Auth are optional.
type Dependencies struct {
	Config   *config.Config
	Engine   *core.Engine
	Models   *core.ModelStore
	Profiles *core.ProfileCatalog
	Webhooks handlers.WebhookTester
	Archiver *archive.Archiver
	Auth     *middleware.AuthMiddleware
	Logger   *slog.Logger
}

// SetupRouter sets up the API routes under /api/v1. Slicing routes are
// public; administration routes require a token when auth is enabled.
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	if len(deps.Config.Server.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		stats := deps.Engine.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"queued":     stats.Queued,
			"processing": stats.Processing,
		})
	})

	api := router.Group("/api/v1")
	{
		handlers.NewModelHandler(deps.Models, deps.Engine, deps.Logger).RegisterRoutes(api)
		handlers.NewSliceHandler(deps.Engine, deps.Models, deps.Profiles).RegisterRoutes(api)
		handlers.NewProfileHandler(deps.Profiles, deps.Models).RegisterRoutes(api)
	}

	admin := api.Group("")
	if deps.Auth != nil {
		deps.Auth.RegisterRoutes(api)
		admin.Use(deps.Auth.RequireAuth())
	}
	{
		handlers.NewWebhookHandler(deps.Webhooks).RegisterRoutes(admin)
		handlers.NewSettingsHandler(deps.Config).RegisterRoutes(admin)
		if deps.Archiver != nil {
			handlers.NewArchiveHandler(deps.Archiver).RegisterRoutes(admin)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.Response{ErrorCode: handlers.CodeNotFound, Error: "route not found"})
	})

	return router
}
