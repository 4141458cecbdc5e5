package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/athlete"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/retrieval"
)

// Retriever serves knowledge search for the search_knowledge tool.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error)
}

// Analyzer aggregates recorded performance data for the analyze_data tool.
type Analyzer interface {
	Analyze(ctx context.Context, entityID, metric string) (*athlete.Summary, error)
}

// NewSearchKnowledgeTool builds the search_knowledge definition over a
// retriever.
func NewSearchKnowledgeTool(retriever Retriever) Definition {
	return Definition{
		Name:        "search_knowledge",
		Description: "Search the coaching knowledge base for passages relevant to a query. Returns the most similar passages with their sources and similarity scores.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "Natural-language search query",
				},
				"top_k": {
					Type:        "integer",
					Description: "Maximum number of passages to return",
				},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			query, ok := params["query"].(string)
			if !ok {
				return nil, fmt.Errorf("query must be a string")
			}
			topK := 0
			if v, ok := params["top_k"].(float64); ok { // JSON numbers decode as float64
				topK = int(v)
			}

			results, err := retriever.Retrieve(ctx, query, topK)
			if err != nil {
				return nil, fmt.Errorf("searching knowledge: %w", err)
			}

			type hit struct {
				Source     string  `json:"source"`
				Content    string  `json:"content"`
				Similarity float64 `json:"similarity"`
			}
			hits := make([]hit, len(results))
			for i, r := range results {
				hits[i] = hit{Source: r.Source, Content: r.Content, Similarity: r.Similarity}
			}
			return map[string]any{
				"context": retrieval.FormatContext(results),
				"results": hits,
			}, nil
		},
	}
}

// NewAnalyzeDataTool builds the analyze_data definition over an analyzer.
func NewAnalyzeDataTool(analyzer Analyzer) Definition {
	return Definition{
		Name:        "analyze_data",
		Description: "Aggregate recorded performance metrics for an athlete. Returns per-metric count, latest, mean, min and max values.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"entity_id": {
					Type:        "string",
					Description: "Athlete identifier",
				},
				"metric": {
					Type:        "string",
					Description: "Restrict the analysis to one metric name",
				},
			},
			Required: []string{"entity_id"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			entityID, ok := params["entity_id"].(string)
			if !ok {
				return nil, fmt.Errorf("entity_id must be a string")
			}
			metric, _ := params["metric"].(string)

			summary, err := analyzer.Analyze(ctx, entityID, metric)
			if err != nil {
				return nil, fmt.Errorf("analyzing athlete %s: %w", entityID, err)
			}
			return map[string]any{
				"entity_id":       entityID,
				"aggregated_data": summary,
			}, nil
		},
	}
}
