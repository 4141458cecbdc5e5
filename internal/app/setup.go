package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/ellttdave/athlete-performance-platform-showcase/db"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/agent"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/athlete"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/chunker"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/config"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/embedding"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/extract"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/ingest"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/retrieval"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before the error returns.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiAPIKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	a.Genai = client

	a.Knowledge = knowledge.NewStore(pool, logger)
	a.Embedder = embedding.New(client.Models, cfg.EmbeddingModel, cfg.EmbeddingDimension, cfg.EmbedRatePerSec, logger)
	a.Extractor = provideExtractor(cfg, logger)
	a.Retrieval = retrieval.New(a.Embedder, a.Knowledge, cfg.TopK, logger)
	a.Athlete = athlete.NewService(pool, logger)

	ch, err := chunker.New(cfg.ChunkWords, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	a.Pipeline = ingest.New(a.Extractor, ch, a.Embedder, a.Knowledge, cfg.EmbedBatchSize, cfg.IngestBudget(), logger)

	registry, err := tools.NewRegistry(
		tools.NewSearchKnowledgeTool(a.Retrieval),
		tools.NewAnalyzeDataTool(a.Athlete),
	)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}
	a.Registry = registry
	a.Router = tools.NewRouter(registry, logger)

	a.Agent = agent.New(client.Models, cfg.ModelName, registry, a.Router, a.Retrieval, agent.Options{
		MaxRounds:     cfg.MaxRounds,
		GroundingTopK: cfg.GroundingTopK,
	}, logger)

	return a, nil
}

// providePool connects to Postgres, runs migrations, and verifies the
// connection.
func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	connURL := cfg.DatabaseURL()

	if err := db.Migrate(connURL); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("database ready", "host", cfg.PostgresHost, "database", cfg.PostgresDBName)
	return pool, nil
}

// provideExtractor builds the extractor, with the remote parse service
// attached only when configured.
func provideExtractor(cfg *config.Config, logger log.Logger) *extract.Extractor {
	var svc extract.Service
	if cfg.ExtractorBaseURL != "" {
		svc = extract.NewServiceClient(cfg.ExtractorBaseURL, cfg.ExtractorAPIKey, &http.Client{Timeout: 60 * time.Second})
	}
	return extract.New(svc, extract.Options{
		SplitPageLimit: cfg.SplitPageLimit,
		SplitByteLimit: cfg.SplitByteLimit,
		Fallback:       cfg.FallbackEnabled,
	}, logger)
}
