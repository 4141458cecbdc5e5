package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/app"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
)

var (
	ingestSource string
	ingestMime   string
	ingestDocID  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the knowledge base",
	Long: `Ingest extracts, chunks and embeds a document so retrieval can find it.
A run that stops at its time budget checkpoints its progress; re-running
with --document-id resumes where it left off instead of re-embedding.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name stored with the document (default: file name)")
	ingestCmd.Flags().StringVar(&ingestMime, "mime", "", "MIME type (default: inferred from extension)")
	ingestCmd.Flags().StringVar(&ingestDocID, "document-id", "", "existing document to re-ingest or resume")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	source := ingestSource
	if source == "" {
		source = filepath.Base(path)
	}
	mimeType := ingestMime
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var doc *knowledge.Document
	if ingestDocID != "" {
		id, err := uuid.Parse(ingestDocID)
		if err != nil {
			return fmt.Errorf("invalid document id %q: %w", ingestDocID, err)
		}
		doc, err = a.Knowledge.Document(ctx, id)
		if err != nil {
			return fmt.Errorf("loading document: %w", err)
		}
	} else {
		doc, err = a.Knowledge.CreateDocument(ctx, source, mimeType)
		if err != nil {
			return fmt.Errorf("creating document: %w", err)
		}
	}

	// Runs for the same document must not interleave; hold a per-document
	// advisory lock for the duration.
	unlock, err := lockDocument(doc.ID)
	if err != nil {
		return err
	}
	defer unlock()

	result, err := a.Pipeline.Run(ctx, doc.ID, data)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", source, err)
	}

	if result.Partial {
		fmt.Printf("Ingestion checkpointed: %d/%d chunks persisted (generation %d)\n",
			result.ChunksPersisted, result.ChunksTotal, result.Generation)
		fmt.Printf("Resume with: coach ingest %s --document-id %s\n", path, result.DocumentID)
	} else {
		fmt.Printf("Ingested %s: %d chunks (document %s, generation %d)\n",
			source, result.ChunksTotal, result.DocumentID, result.Generation)
	}
	return nil
}

// lockDocument takes a file-based advisory lock keyed by document id.
// Returns an error immediately when another process holds it.
func lockDocument(id uuid.UUID) (func(), error) {
	lockPath := filepath.Join(os.TempDir(), fmt.Sprintf("coach-ingest-%s.lock", id))
	fl := flock.New(lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("document %s is being ingested by another process", id)
	}
	return func() { _ = fl.Unlock() }, nil
}
