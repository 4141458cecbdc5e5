package app

import (
	"testing"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/config"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

func TestClose_PartialSetup(t *testing.T) {
	t.Parallel()

	a := &App{Logger: log.NewNop()}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() on empty app: %v", err)
	}
}

func TestProvideExtractor(t *testing.T) {
	t.Parallel()

	t.Run("without parse service", func(t *testing.T) {
		t.Parallel()

		cfg := &config.Config{FallbackEnabled: true}
		ext := provideExtractor(cfg, log.NewNop())
		if ext == nil {
			t.Fatal("provideExtractor returned nil")
		}
	})

	t.Run("with parse service", func(t *testing.T) {
		t.Parallel()

		cfg := &config.Config{
			ExtractorBaseURL: "http://localhost:9000",
			ExtractorAPIKey:  "secret",
			SplitPageLimit:   config.DefaultSplitPageLimit,
			SplitByteLimit:   config.DefaultSplitByteLimit,
		}
		ext := provideExtractor(cfg, log.NewNop())
		if ext == nil {
			t.Fatal("provideExtractor returned nil")
		}
	})
}
