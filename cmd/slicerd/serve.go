package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/orrn/slicer/internal/api"
	"github.com/orrn/slicer/internal/api/middleware"
	"github.com/orrn/slicer/internal/archive"
	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
	"github.com/orrn/slicer/internal/logging"
	"github.com/orrn/slicer/internal/webhook"
)

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lockPath := filepath.Join(cfg.Storage.DataDir, "slicerd.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another slicerd instance holds %s", lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	profiles, err := core.NewProfileCatalog(cfg.Profiles)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	store := core.NewModelStore(cfg.Storage.ModelDir, cfg.Storage.MaxUploadSize, db.Models.Persister(), logger)
	store.SetBuildVolume(cfg.Jobs.MaxBuildVolume)
	saved, err := db.Models.LoadCoreModels(ctx)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	store.Load(saved...)
	logger.Info("models loaded", "count", len(store.List()))

	sender := webhook.NewWebhookSender(webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, logger)
	sender.Start()
	defer sender.Stop()

	engine := core.NewEngine(cfg.EngineConfig(), store, core.NewLayerPlanSlicer(cfg.Jobs.LayerDelay), sender, logger)
	engine.SetEvictionHook(archive.NewRecorder(logger).RecordEvicted)
	if err := engine.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer engine.Stop()

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(archive.ArchiveConfig{
			ArchivePath: cfg.Archive.Path,
			ArchiveDays: cfg.Archive.Days,
			Schedule:    cfg.Archive.Schedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("init archiver: %w", err)
		}
		if err := archiver.Start(); err != nil {
			return fmt.Errorf("start archiver: %w", err)
		}
		defer archiver.Stop()
	}

	var auth *middleware.AuthMiddleware
	if cfg.Auth.Enabled {
		auth, err = middleware.NewAuthMiddleware(ctx, cfg.Auth.TokenDuration)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(api.Dependencies{
		Config:   cfg,
		Engine:   engine,
		Models:   store,
		Profiles: profiles,
		Webhooks: sender,
		Archiver: archiver,
		Auth:     auth,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("slicerd listening", "addr", srv.Addr, "workers", cfg.Jobs.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
