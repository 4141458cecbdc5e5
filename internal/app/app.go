// Package app provides application initialization and dependency wiring.
//
// App is the container binding configuration, the database pool, the Gemini
// client and every domain service. Commands call Setup once at startup and
// Close on exit.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/agent"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/athlete"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/config"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/embedding"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/extract"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/ingest"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/retrieval"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	Genai     *genai.Client
	Knowledge *knowledge.Store
	Embedder  *embedding.Client
	Extractor *extract.Extractor
	Retrieval *retrieval.Service
	Pipeline  *ingest.Pipeline
	Athlete   *athlete.Service
	Registry  *tools.Registry
	Router    *tools.Router
	Agent     *agent.Agent
}

// Close releases all resources. Safe to call after a partial Setup.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}
