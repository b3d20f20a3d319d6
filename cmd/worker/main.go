package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"worker/internal/comfy"
	"worker/internal/engine"
	"worker/internal/handler"
	"worker/internal/httpapi"
	"worker/internal/infra"
	"worker/internal/storage"
	"worker/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := comfy.NewClient(comfy.Options{
		BaseURL:          cfg.ComfyUIBaseURL(),
		Logger:           logger,
		ExecutionTimeout: cfg.ExecutionTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid comfyui configuration")
	}

	// The engine usually runs inside this container and is supervised
	// here; COMFYUI_MANAGED=false points the worker at one managed
	// elsewhere.
	if cfg.ManageComfy {
		proc := engine.New(engine.Options{
			Path:   cfg.ComfyUIPath,
			Host:   cfg.ComfyUIHost,
			Port:   cfg.ComfyUIPort,
			Logger: logger,
		})
		if err := proc.Start(); err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to start comfyui")
		}
		defer proc.Stop()
	}

	logger.Info().Dur("timeout", cfg.ReadyTimeout).Msg("worker: waiting for comfyui")
	if !client.WaitUntilReady(ctx, cfg.ReadyTimeout) {
		logger.Fatal().Msg("worker: comfyui failed to become ready within timeout")
	}
	logger.Info().Msg("worker: comfyui is ready")

	store, err := storage.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	loader := workflow.NewLoader(workflow.Options{
		Dir:        cfg.WorkflowDir,
		StagingDir: filepath.Join(cfg.ComfyUIPath, "input"),
		Logger:     logger,
	})

	jobs := handler.New(loader, client, store, logger)
	router := httpapi.NewRouter(httpapi.NewAPI(jobs, logger), logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("worker: job surface listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("worker: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: failed to shutdown server")
	}
	logger.Info().Msg("worker: stopped")
}
