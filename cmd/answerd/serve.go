package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/embeddings"
	"github.com/fyrsmithlabs/answerd/internal/httpapi"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/sanitize"
	"github.com/fyrsmithlabs/answerd/internal/telemetry"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the answerd HTTP server",
	Long: `Start the answerd HTTP server.

Initializes the vector store, embedding and completion providers, the
tenant registry, and the per-tenant document stores, then serves the
HTTP API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting answerd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.Enabled
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	telCfg.Endpoint = cfg.Observability.OTLPEndpoint
	telCfg.Insecure = cfg.Observability.Insecure
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	if !cfg.Vault.MasterKey.IsSet() {
		return fmt.Errorf("vault master key is required (set VAULT_MASTER_KEY)")
	}
	vault, err := tenant.NewVault(cfg.Vault.MasterKey.Value())
	if err != nil {
		return fmt.Errorf("opening credential vault: %w", err)
	}

	storeDir, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("resolving store path: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tenantDB, err := sql.Open("sqlite", filepath.Join(storeDir, "tenants.db"))
	if err != nil {
		return fmt.Errorf("opening tenant database: %w", err)
	}
	defer tenantDB.Close()
	tenantDB.SetMaxOpenConns(1)

	tenants, err := tenant.NewRegistry(tenantDB, vault, logger)
	if err != nil {
		return fmt.Errorf("initializing tenant registry: %w", err)
	}

	docs, err := docstore.NewManager(filepath.Join(storeDir, "docs"), logger)
	if err != nil {
		return fmt.Errorf("initializing document stores: %w", err)
	}
	defer docs.Close()

	store, err := vectorstore.NewStore(vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			VectorSize: cfg.Embeddings.Dimension,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			APIKey:     cfg.VectorStore.Qdrant.APIKey.Value(),
			VectorSize: uint64(cfg.Embeddings.Dimension),
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer store.Close()

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider:         cfg.Embeddings.Provider,
		Model:            cfg.Embeddings.Model,
		BaseURL:          cfg.Embeddings.BaseURL,
		APIKey:           cfg.Embeddings.APIKey.Value(),
		Dimension:        cfg.Embeddings.Dimension,
		BatchConcurrency: cfg.Embeddings.BatchConcurrency,
		Timeout:          cfg.Embeddings.Timeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	defer embedder.Close()

	llmRegistry := llm.DefaultRegistry()
	llmCfg := llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey.Value(),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout.Duration(),
		RateLimit:   cfg.LLM.RateLimit,
		RateBurst:   cfg.LLM.RateBurst,
	}
	defaultProvider, err := llmRegistry.New(llmCfg, logger)
	if err != nil {
		return fmt.Errorf("initializing completion provider: %w", err)
	}
	defer defaultProvider.Close()

	answerCache := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL.Duration(),
		MaxEntries: cfg.Cache.MaxEntries,
	}, logger)

	engine, err := pipeline.New(
		pipeline.Config{
			TopK:                cfg.RAG.TopK,
			ConfidenceThreshold: cfg.RAG.ConfidenceThreshold,
			ChunkSize:           cfg.RAG.ChunkSize,
			ChunkOverlap:        cfg.RAG.ChunkOverlap,
			QuestionTimeout:     cfg.RAG.QuestionTimeout.Duration(),
			MaxTokens:           cfg.LLM.MaxTokens,
			Temperature:         cfg.LLM.Temperature,
		},
		sanitize.New(logger),
		embedder,
		store,
		docs,
		answerCache,
		llmRegistry,
		llmCfg,
		defaultProvider,
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}

	server, err := httpapi.NewServer(engine, tenants, logger, &httpapi.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		AdminToken: cfg.Server.AdminToken.Value(),
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
