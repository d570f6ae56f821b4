package archivist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/atlasworld/atlas/internal/world"
)

// Tool names form a closed set. Dispatch is a switch over these values;
// adding a tool means extending the switch, not registering into a map.
const (
	ToolFindSimilar         = "find_similar"
	ToolAnalyzeImage        = "analyze_image"
	ToolGenerateDescription = "generate_description"
	ToolFindBySref          = "find_by_sref"
)

// unavailableMessage is what the conversational agent sees when a tool
// fails. Raw error text never reaches the conversation.
const unavailableMessage = "This capability is temporarily unavailable. Continue with what is already known."

const (
	findSimilarMaxLimit     = 10
	findSimilarDefaultLimit = 5

	// invocationRingSize bounds the diagnostic record of recent calls.
	invocationRingSize = 32
)

// ToolInvocation records one dispatched call for observability. It is
// immutable once finalized and never persisted with session state.
type ToolInvocation struct {
	Name      string
	Input     map[string]any
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     string
}

// ToolUse is the per-turn summary of one tool call surfaced to callers.
type ToolUse struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// SimilaritySearcher finds catalogued entities semantically close to a
// text query.
type SimilaritySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]world.Match, error)
}

// Dispatcher exposes the Archivist's callable capabilities. Every call
// is bounded by a fixed timeout, failures are normalized into an
// is_error payload instead of propagating, and each invocation is
// recorded in a bounded ring buffer for diagnostics.
//
// Dispatcher is stateless between calls apart from that ring buffer and
// is safe for concurrent use.
type Dispatcher struct {
	g         *genkit.Genkit
	similar   SimilaritySearcher
	modelName string
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	recent []ToolInvocation
}

// NewDispatcher creates a tool dispatcher. The similarity searcher may
// be nil, in which case find_similar reports itself unavailable.
func NewDispatcher(g *genkit.Genkit, similar SimilaritySearcher, modelName string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		g:         g,
		similar:   similar,
		modelName: modelName,
		timeout:   timeout,
		logger:    logger,
	}
}

// DefineTools registers the capability schemas with Genkit so the
// conversational model can request them. The returned refs are passed
// to generation; execution itself goes through [Dispatcher.Dispatch].
func (d *Dispatcher) DefineTools(g *genkit.Genkit) []ai.ToolRef {
	findSimilar := genkit.DefineTool(g, ToolFindSimilar,
		"Search the catalogue for denizens semantically similar to a text query. Use before treating an entity as new.",
		func(ctx *ai.ToolContext, input struct {
			Query string `json:"query"`
			Limit int    `json:"limit,omitempty"`
		}) (map[string]any, error) {
			return d.Dispatch(ctx, ToolFindSimilar, map[string]any{
				"query": input.Query,
				"limit": float64(input.Limit),
			}), nil
		})

	analyzeImage := genkit.DefineTool(g, ToolAnalyzeImage,
		"Analyze an attached image and describe the visual characteristics of the depicted entity.",
		func(ctx *ai.ToolContext, input struct {
			ImageURL string `json:"image_url"`
		}) (map[string]any, error) {
			return d.Dispatch(ctx, ToolAnalyzeImage, map[string]any{
				"image_url": input.ImageURL,
			}), nil
		})

	generateDescription := genkit.DefineTool(g, ToolGenerateDescription,
		"Generate a short evocative archival description for an entity from its name and known attributes.",
		func(ctx *ai.ToolContext, input struct {
			Name        string `json:"name"`
			Domain      string `json:"domain,omitempty"`
			ClassName   string `json:"class_name,omitempty"`
			VisualNotes string `json:"visual_notes,omitempty"`
		}) (map[string]any, error) {
			return d.Dispatch(ctx, ToolGenerateDescription, map[string]any{
				"name":         input.Name,
				"domain":       input.Domain,
				"class_name":   input.ClassName,
				"visual_notes": input.VisualNotes,
			}), nil
		})

	findBySref := genkit.DefineTool(g, ToolFindBySref,
		"Look up an entity by style-reference code.",
		func(ctx *ai.ToolContext, input struct {
			SrefCode string `json:"sref_code"`
		}) (map[string]any, error) {
			return d.Dispatch(ctx, ToolFindBySref, map[string]any{
				"sref_code": input.SrefCode,
			}), nil
		})

	return []ai.ToolRef{findSimilar, analyzeImage, generateDescription, findBySref}
}

// Dispatch executes one tool call. It never fails: any error, timeout
// or unknown tool name is normalized into a payload carrying
// is_error=true and a user-presentable message.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	output, err := d.run(ctx, name, input)
	end := time.Now()

	inv := ToolInvocation{
		Name:      name,
		Input:     input,
		StartTime: start,
		EndTime:   end,
		Success:   err == nil,
	}
	if err != nil {
		inv.Error = err.Error()
		d.logger.Warn("tool call failed",
			"tool", name,
			"duration", end.Sub(start),
			"error", err)
		output = map[string]any{
			"is_error": true,
			"message":  unavailableMessage,
		}
	} else {
		d.logger.Debug("tool call completed", "tool", name, "duration", end.Sub(start))
	}
	d.record(inv)

	return output
}

// run is the closed-set dispatch. Unknown names are an error so they
// surface as a normalized failure payload, never a crash.
func (d *Dispatcher) run(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	switch name {
	case ToolFindSimilar:
		return d.findSimilar(ctx, input)
	case ToolAnalyzeImage:
		return d.analyzeImage(ctx, input)
	case ToolGenerateDescription:
		return d.generateDescription(ctx, input)
	case ToolFindBySref:
		// Deliberate stub: sref lookup has no backing index yet.
		return map[string]any{
			"status":  "not_implemented",
			"message": "Style-reference lookup is not yet part of the Atlas.",
		}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func (d *Dispatcher) findSimilar(ctx context.Context, input map[string]any) (map[string]any, error) {
	if d.similar == nil {
		return nil, fmt.Errorf("similarity search is not configured")
	}
	query := stringArg(input, "query")
	if query == "" {
		return nil, fmt.Errorf("find_similar requires a query")
	}
	limit := intArg(input, "limit")
	if limit <= 0 {
		limit = findSimilarDefaultLimit
	}
	if limit > findSimilarMaxLimit {
		limit = findSimilarMaxLimit
	}

	matches, err := d.similar.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		results = append(results, map[string]any{
			"id":         m.Denizen.ID,
			"name":       m.Denizen.Name,
			"type":       string(m.Denizen.Type),
			"allegiance": string(m.Denizen.Allegiance),
			"domain":     m.Denizen.Domain,
			"score":      m.Score,
		})
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}

// visionPrompt constrains the image-analysis output to catalogue-useful
// observations.
const visionPrompt = `Describe the entity depicted in this image for an archival record:
physical form, notable features, apparent phase state, and any visual hints
about its nature or allegiance. Be concrete and concise.`

func (d *Dispatcher) analyzeImage(ctx context.Context, input map[string]any) (map[string]any, error) {
	imageURL := stringArg(input, "image_url")
	if imageURL == "" {
		return nil, fmt.Errorf("analyze_image requires an image_url")
	}

	resp, err := genkit.Generate(ctx, d.g,
		ai.WithModelName(d.modelName),
		ai.WithMessages(ai.NewUserMessage(
			ai.NewMediaPart(imageContentType(imageURL), imageURL),
			ai.NewTextPart(visionPrompt),
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}

	return map[string]any{"analysis": strings.TrimSpace(resp.Text())}, nil
}

// descriptionPrompt is the fixed instruction template for single-shot
// description generation.
const descriptionPrompt = `Write a short evocative archival description (2-3 sentences) for a
catalogued denizen. Match the register of a field archivist's formal record:
vivid but restrained, no purple prose.

Name: %s%s

Return ONLY the description text.`

func (d *Dispatcher) generateDescription(ctx context.Context, input map[string]any) (map[string]any, error) {
	name := stringArg(input, "name")
	if name == "" {
		return nil, fmt.Errorf("generate_description requires a name")
	}

	var attrs strings.Builder
	if v := stringArg(input, "domain"); v != "" {
		fmt.Fprintf(&attrs, "\nDomain: %s", v)
	}
	if v := stringArg(input, "class_name"); v != "" {
		fmt.Fprintf(&attrs, "\nClass: %s", v)
	}
	if v := stringArg(input, "visual_notes"); v != "" {
		fmt.Fprintf(&attrs, "\nVisual notes: %s", v)
	}

	resp, err := genkit.Generate(ctx, d.g,
		ai.WithModelName(d.modelName),
		ai.WithPrompt(descriptionPrompt, name, attrs.String()),
	)
	if err != nil {
		return nil, fmt.Errorf("generating description: %w", err)
	}

	return map[string]any{"description": strings.TrimSpace(resp.Text())}, nil
}

// Recent returns a copy of the diagnostic invocation ring, newest last.
func (d *Dispatcher) Recent() []ToolInvocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ToolInvocation, len(d.recent))
	copy(out, d.recent)
	return out
}

func (d *Dispatcher) record(inv ToolInvocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, inv)
	if len(d.recent) > invocationRingSize {
		d.recent = d.recent[len(d.recent)-invocationRingSize:]
	}
}

func imageContentType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

// intArg reads a numeric argument. Tool inputs arrive as decoded JSON,
// so numbers may be float64.
func intArg(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
