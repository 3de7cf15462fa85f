package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"lifeledger/internal/agent"
	"lifeledger/internal/agent/gemini"
	"lifeledger/internal/backend"
	"lifeledger/internal/cache"
	"lifeledger/internal/chatbot"
	"lifeledger/internal/cli"
	"lifeledger/internal/config"
	"lifeledger/internal/extract"
	apphttp "lifeledger/internal/http"
	"lifeledger/internal/imaging"
	applog "lifeledger/internal/log"
	"lifeledger/internal/services"
	"lifeledger/internal/vocabulary"
)

const cacheCleanupInterval = time.Minute

func main() {
	cfg, logger := cli.Bootstrap("lifeledger")

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	store, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer store.Close()

	caches := cache.NewManager(logger)
	defer caches.Stop()

	vocab := vocabulary.NewProvider(store.Backend, cfg.CategoryCacheTTL, logger)
	if c := vocab.Cache(); c != nil {
		caches.Register(c)
	}

	sessions := agent.NewInMemorySessionService(cfg.AgentSessionIdleTTL)
	if cfg.AgentSessionIdleTTL > 0 {
		caches.Register(sessions)
	}
	caches.StartCleanup(cacheCleanupInterval)

	runtime := agent.NewRuntime(sessions, logger)
	model := newModel(ctx, cfg, logger)
	pipeline, err := newPipeline(cfg, runtime, model, vocab, store, logger)
	if err != nil {
		return err
	}
	bot := chatbot.New(runtime, model, chatbot.Config{
		ModelName:        cfg.ModelName,
		APIKeyConfigured: cfg.ModelConfigured(),
		Timeout:          cfg.AgentTimeout,
		Generate:         generateConfig(cfg),
	}, logger)

	var publisher services.SyncPublisher
	if store.SyncEnabled && store.Broker != nil {
		publisher = store.Broker
	}
	ledgerService := services.NewLedgerService(store.Backend, publisher, logger)

	srv := apphttp.NewServer(":"+cfg.Port, pipeline, ledgerService, apphttp.Options{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MaxImages:          cfg.MaxImages,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              store.Ping,
		Chatbot:            bot,
	}, logger)

	// Extraction calls can take up to the agent timeout.
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = cfg.AgentTimeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"environment", cfg.Environment,
			"model_configured", cfg.ModelConfigured())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newModel builds the Gemini client. Without GOOGLE_API_KEY, or when the
// client cannot be built, it returns nil and the assistant endpoints answer
// 503.
func newModel(ctx context.Context, cfg *config.Config, logger *applog.Logger) agent.Model {
	if !cfg.ModelConfigured() {
		logger.Warn("GOOGLE_API_KEY not set, assistant disabled")
		return nil
	}
	m, err := gemini.New(ctx, cfg.GoogleAPIKey, cfg.ModelName, logger)
	if err != nil {
		logger.Error("Failed to initialize model client, assistant disabled", applog.FieldError, err)
		return nil
	}
	return m
}

// newPipeline wires the extraction pipeline around model, which may be nil.
func newPipeline(cfg *config.Config, runtime *agent.Runtime, model agent.Model, vocab *vocabulary.Provider, store *backend.BackendResult, logger *applog.Logger) (*extract.Pipeline, error) {
	policy, err := extract.ParsePolicy(cfg.CategoryPolicy)
	if err != nil {
		return nil, err
	}

	var opts []extract.Option
	if store.Broker != nil {
		opts = append(opts, extract.WithAuditor(store.Broker))
	}

	return extract.New(runtime, model, vocab, extract.Config{
		ModelName:        cfg.ModelName,
		APIKeyConfigured: cfg.ModelConfigured(),
		Timeout:          cfg.AgentTimeout,
		Generate:         generateConfig(cfg),
		Policy:           policy,
		Image: imaging.Options{
			MaxDimension: cfg.ImageMaxDimension,
			Quality:      cfg.ImageJPEGQuality,
			MaxPixels:    cfg.ImageMaxPixels,
		},
	}, logger, opts...), nil
}

func generateConfig(cfg *config.Config) agent.GenerateConfig {
	temperature := float32(cfg.AgentTemperature)
	topP := float32(cfg.AgentTopP)
	gc := agent.GenerateConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: int32(cfg.AgentMaxOutputTokens),
	}
	if cfg.AgentTopK > 0 {
		topK := float32(cfg.AgentTopK)
		gc.TopK = &topK
	}
	return gc
}
