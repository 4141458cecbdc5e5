// Package agent runs the conversation loop between the model and the tool
// router.
//
// Each Converse call is one logical conversation with no state shared across
// requests. The model receives the full turn history plus the registered
// tool declarations; when a response requests tools, every function call in
// that response is executed and all results are returned before the model is
// re-invoked. A max-round guard bounds the loop, and tool failures are
// converted into a user-visible text answer rather than propagating.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/retrieval"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

const systemPrompt = `You are a coaching assistant for an athlete performance platform.
Answer questions about training, recovery and performance data.
Use the available tools when the question needs stored knowledge or recorded metrics.
Ground your answers in tool results; say so when you do not know.`

// ModelClient is the slice of the genai API the agent depends on. Satisfied
// by genai.Client.Models.
type ModelClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Retriever supplies optional pre-retrieval grounding context.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error)
}

// Agent orchestrates model calls and tool execution for one conversation at
// a time. Safe for concurrent use; all per-conversation state is local to
// Converse.
type Agent struct {
	model     ModelClient
	modelName string
	router    *tools.Router
	registry  *tools.Registry
	retriever Retriever // nil disables pre-retrieval grounding
	topK      int
	maxRounds int
	logger    log.Logger
}

// Options tunes the loop.
type Options struct {
	// MaxRounds bounds model invocations per conversation. Zero or
	// negative means the default of 5.
	MaxRounds int

	// GroundingTopK enables pre-retrieval grounding with that many chunks
	// injected into the system instruction. Zero disables it; retrieval
	// then happens only through the search_knowledge tool.
	GroundingTopK int
}

// New creates an Agent. retriever may be nil when Options.GroundingTopK is
// zero.
func New(model ModelClient, modelName string, registry *tools.Registry, router *tools.Router, retriever Retriever, opts Options, logger log.Logger) *Agent {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{
		model:     model,
		modelName: modelName,
		router:    router,
		registry:  registry,
		retriever: retriever,
		topK:      opts.GroundingTopK,
		maxRounds: opts.MaxRounds,
		logger:    logger.With("component", "agent"),
	}
}

// Converse runs one conversation for userMessage and returns the model's
// final text. Model-call failures return an error; tool failures and the
// round limit terminate with descriptive text instead.
func (a *Agent) Converse(ctx context.Context, userMessage string) (string, error) {
	config, err := a.buildConfig(ctx, userMessage)
	if err != nil {
		return "", err
	}

	history := []*genai.Content{genai.NewContentFromText(userMessage, genai.RoleUser)}

	for round := 0; round < a.maxRounds; round++ {
		resp, err := a.model.GenerateContent(ctx, a.modelName, history, config)
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("model returned no candidates")
		}
		content := resp.Candidates[0].Content

		calls := functionCalls(content)
		if len(calls) == 0 {
			return textOf(content), nil
		}

		history = append(history, content)
		responses, failure := a.executeCalls(ctx, calls)
		if failure != "" {
			return failure, nil
		}
		history = append(history, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	a.logger.Warn("conversation hit the round limit", "max_rounds", a.maxRounds)
	return "I could not finish answering within the allowed number of tool rounds. Please narrow the question and try again.", nil
}

// buildConfig assembles the per-conversation generation config: system
// prompt, optional grounding context, and the tool declarations.
func (a *Agent) buildConfig(ctx context.Context, userMessage string) (*genai.GenerateContentConfig, error) {
	prompt := systemPrompt
	if a.retriever != nil && a.topK > 0 {
		results, err := a.retriever.Retrieve(ctx, userMessage, a.topK)
		if err != nil {
			// Grounding must not silently degrade to an ungrounded answer.
			return nil, fmt.Errorf("retrieving grounding context: %w", err)
		}
		if block := retrieval.FormatContext(results); block != "" {
			prompt += "\n\nRelevant knowledge:\n\n" + block
		}
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt, genai.RoleUser),
	}

	defs := a.registry.Definitions()
	if len(defs) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(defs))
		for i, def := range defs {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: def.InputSchema,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config, nil
}

// executeCalls runs every function call from one model response in order.
// On success it returns the function-response parts to feed back. On any
// router failure it returns a user-visible failure text and the loop ends.
func (a *Agent) executeCalls(ctx context.Context, calls []*genai.FunctionCall) ([]*genai.Part, string) {
	parts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		result, err := a.router.Invoke(ctx, call.Name, call.Args)
		if err != nil {
			a.logger.Warn("tool call failed", "tool", call.Name, "error", err)
			return nil, fmt.Sprintf("I tried to use the %q tool but it failed: %s", call.Name, result.Err)
		}
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				Name:     call.Name,
				Response: payloadMap(result.Payload),
			},
		})
	}
	return parts, ""
}

// payloadMap decodes a tool payload for the model. Non-object payloads are
// wrapped, since FunctionResponse carries a map.
func payloadMap(payload string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err == nil {
		return m
	}
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err == nil {
		return map[string]any{"result": v}
	}
	return map[string]any{"result": payload}
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

// textOf concatenates the text segments of a response in order.
func textOf(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
