package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rehberai/internal/app"
	"rehberai/internal/config"
	"rehberai/internal/indexer"
	"rehberai/internal/ratelimit"
	"rehberai/internal/server"
	"rehberai/internal/tenant"
	"rehberai/internal/tools"
	"rehberai/internal/util"
	"rehberai/pkg/ai"
	"rehberai/pkg/queue"
	"rehberai/pkg/storage"
	"rehberai/pkg/store"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.Embedding.Dimensions))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("tenant registry: %w", err)
	}

	chatClient := ai.NewOpenAIClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, cfg.Generation.Model, 90*time.Second)
	miniClient := chatClient
	if cfg.Generation.MiniModel != "" {
		miniClient = chatClient.WithModel(cfg.Generation.MiniModel)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	limiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr,
		cfg.RedisPassword,
		"",
		cfg.RateLimitMaxRequests,
		time.Duration(cfg.RateLimitWindowSecs)*time.Second,
	)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var objects storage.ObjectStore
	if cfg.Minio.Endpoint != "" {
		minioStore, err := storage.NewMinioStore(
			cfg.Minio.Endpoint,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.Bucket,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		objects = minioStore
	}

	ix, err := indexer.New(indexer.Config{
		Store:        st,
		Objects:      objects,
		Embedder:     embedder,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
	})
	if err != nil {
		return fmt.Errorf("job queue: %w", err)
	}
	jobQueue.Start(ctx, cfg.Queue.Concurrency, func(ctx context.Context, job queue.JobStatus) error {
		profile, err := registry.Profile(job.TenantID, job.ProfileKey)
		if err != nil {
			return err
		}
		count, err := ix.BuildOrRefresh(ctx, job.TenantID, profile)
		if err != nil {
			return err
		}
		slog.Info("reindex job finished", "job_id", job.ID, "tenant_id", job.TenantID, "profile_key", job.ProfileKey, "chunks", count)
		return nil
	})

	if cfg.IndexOnStartup {
		if err := indexAll(ctx, registry, ix); err != nil {
			return err
		}
	}
	if cfg.WarmupOnStartup {
		warmup(ctx, embedder)
	}

	application, err := app.New(app.Config{
		Store:             st,
		Registry:          registry,
		Generator:         chatClient,
		MiniGenerator:     miniClient,
		Embedder:          embedder,
		Tools:             tools.NewRegistry(),
		Limiter:           limiter,
		GenerationModel:   cfg.Generation.Model,
		TopK:              cfg.TopK,
		HistoryLimit:      cfg.HistoryLimit,
		MaxQuestionLength: cfg.MaxQuestionLength,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	srv, err := server.New(server.Config{
		App:             application,
		Queue:           jobQueue,
		Limiter:         limiter,
		TrustedProxies:  trusted,
		DefaultTenantID: cfg.DefaultTenantID,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildRegistry(cfg config.FileConfig) (*tenant.Registry, error) {
	if cfg.TenantConfigPath != "" {
		return tenant.LoadFile(cfg.TenantConfigPath)
	}
	return tenant.NewFallbackRegistry(tenant.FallbackDefaults{
		TenantID:        cfg.DefaultTenantID,
		AllowedProfiles: cfg.AllowedProfiles,
		SourcePaths:     cfg.DefaultSources,
	})
}

func buildEmbedder(cfg config.FileConfig) (ai.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		client := ai.NewOllamaClient(cfg.Embedding.BaseURL)
		return ai.NewOllamaEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimensions), nil
	case "openai":
		client := ai.NewOpenAIClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, 60*time.Second)
		return ai.NewOpenAIEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func indexAll(ctx context.Context, registry *tenant.Registry, ix *indexer.Indexer) error {
	for _, tenantID := range registry.TenantIDs() {
		cfg, err := registry.Tenant(tenantID)
		if err != nil {
			return err
		}
		for _, profile := range cfg.Profiles {
			count, err := ix.BuildOrRefresh(ctx, tenantID, profile)
			if err != nil {
				return fmt.Errorf("index %s/%s: %w", tenantID, profile.Key, err)
			}
			slog.Info("startup index complete", "tenant_id", tenantID, "profile_key", profile.Key, "chunks", count)
		}
	}
	return nil
}

// warmup issues one embedding call so the first chat turn does not pay the
// connection setup cost.
func warmup(ctx context.Context, embedder ai.Embedder) {
	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if _, err := embedder.EmbedText(warmCtx, "merhaba"); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}
}
