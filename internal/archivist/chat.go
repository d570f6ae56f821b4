package archivist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/session"
)

// fallbackResponse is returned when the model produces no usable text.
const fallbackResponse = "The Archivist pauses, quill hovering. Tell me more about what you observed."

// ChatParams carry one conversational turn.
type ChatParams struct {
	UserMessage   string
	ImageURL      string // optional visual material accompanying the turn
	EntityContext string // optional summary of the entity under discussion
}

// TurnResult is the payload returned for each chat turn.
type TurnResult struct {
	Message            string                  `json:"message"`
	ExtractedFields    denizen.ExtractedFields `json:"extractedFields"`
	Confidence         float64                 `json:"confidence"`
	SuggestedQuestions []string                `json:"suggestedQuestions,omitempty"`
	Warnings           []string                `json:"warnings,omitempty"`
	IsComplete         bool                    `json:"isComplete"`
	ToolsUsed          []ToolUse               `json:"toolsUsed,omitempty"`
}

// Chat runs one conversational turn: it appends the user message,
// invokes the model inside the bounded tool-call loop, extracts and
// merges new fields, revalidates, and persists the updated session in a
// single conditional write.
//
// Sub-operation failures (tool calls, extraction) degrade gracefully;
// model and persistence failures are fatal for the turn. A lost write
// race surfaces as [session.ErrVersionConflict] and the turn's state is
// not persisted.
func (a *Archivist) Chat(ctx context.Context, sessionID uuid.UUID, p ChatParams) (*TurnResult, error) {
	if strings.TrimSpace(p.UserMessage) == "" {
		return nil, fmt.Errorf("user message is required")
	}

	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, fmt.Errorf("chat on session %s in status %q: %w", sessionID, sess.Status, ErrSessionNotActive)
	}

	sess.AppendMessage(session.RoleUser, p.UserMessage, a.now().UTC())

	worldDigest := a.worldDigest(ctx)
	system := systemInstruction(worldDigest, p.EntityContext)

	// The outgoing user content mentions attached visual material so the
	// model knows to reach for the analyze_image tool.
	outgoing := p.UserMessage
	if p.ImageURL != "" {
		outgoing += fmt.Sprintf("\n\n[The observer attached an image at %s. Use the analyze_image tool to examine it.]", p.ImageURL)
	}

	messages := historyMessages(sess.Messages[:len(sess.Messages)-1])
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(outgoing)))

	agentText, toolsUsed, err := a.converse(ctx, system, messages)
	if err != nil {
		return nil, fmt.Errorf("conversation turn for session %s: %w", sessionID, err)
	}
	if strings.TrimSpace(agentText) == "" {
		a.logger.Warn("model returned empty text", "session_id", sessionID)
		agentText = fallbackResponse
	}

	// Best-effort: extraction failure means no new fields, never a
	// failed turn.
	recent := sess.Messages
	if len(recent) > 0 {
		recent = recent[:len(recent)-1] // current user message is passed explicitly
	}
	incoming := a.extract(ctx, p.UserMessage, agentText, recent)

	sess.Fields = denizen.Merge(sess.Fields, incoming)

	v := denizen.Validate(sess.Fields)
	sess.Confidence = v.Confidence
	sess.Warnings = appendNewWarnings(sess.Warnings, v.Warnings)

	questions := suggestQuestions(sess.Fields)
	isComplete := v.Valid && v.Confidence > a.commitThreshold

	sess.AppendMessage(session.RoleAgent, agentText, a.now().UTC())
	if err := a.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}

	a.logger.Debug("chat turn completed",
		"session_id", sessionID,
		"confidence", v.Confidence,
		"is_complete", isComplete,
		"tools_used", len(toolsUsed),
	)

	return &TurnResult{
		Message:            agentText,
		ExtractedFields:    sess.Fields,
		Confidence:         v.Confidence,
		SuggestedQuestions: questions,
		Warnings:           sess.Warnings,
		IsComplete:         isComplete,
		ToolsUsed:          toolsUsed,
	}, nil
}

// converse invokes the model and drives the bounded tool-call loop:
// while the response requests tools and the round cap is not exhausted,
// execute the requested calls (concurrently within a round), append the
// results, and re-invoke. Hitting the cap is a deliberate cost bound,
// not an error: residual tool requests are ignored and the final text
// is used as-is.
func (a *Archivist) converse(ctx context.Context, system string, messages []*ai.Message) (string, []ToolUse, error) {
	var toolsUsed []ToolUse

	resp, err := a.generate(ctx, system, messages)
	if err != nil {
		return "", nil, err
	}

	for round := 0; round < a.maxToolRounds; round++ {
		requests := resp.ToolRequests()
		if len(requests) == 0 {
			break
		}

		messages = append(messages, resp.Message)

		parts, used := a.runToolRound(ctx, requests)
		toolsUsed = append(toolsUsed, used...)
		messages = append(messages, ai.NewMessage(ai.RoleTool, nil, parts...))

		resp, err = a.generate(ctx, system, messages)
		if err != nil {
			return "", toolsUsed, err
		}
	}

	return resp.Text(), toolsUsed, nil
}

func (a *Archivist) generate(ctx context.Context, system string, messages []*ai.Message) (*ai.ModelResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithReturnToolRequests(true),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr(a.temperature),
		}),
	)
}

// runToolRound executes all tool requests from one model turn
// concurrently and collects their response parts in request order.
// Dispatch normalizes failures into payloads, so a round never fails.
func (a *Archivist) runToolRound(ctx context.Context, requests []*ai.ToolRequest) ([]*ai.Part, []ToolUse) {
	parts := make([]*ai.Part, len(requests))
	used := make([]ToolUse, len(requests))

	var g errgroup.Group
	for i, req := range requests {
		g.Go(func() error {
			start := time.Now()
			output := a.dispatcher.Dispatch(ctx, req.Name, toolInputMap(req.Input))
			_, failed := output["is_error"]

			used[i] = ToolUse{
				Name:     req.Name,
				Success:  !failed,
				Duration: time.Since(start),
			}
			parts[i] = ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    req.Ref,
				Output: output,
			})
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are payloads

	return parts, used
}

func (a *Archivist) worldDigest(ctx context.Context) string {
	if a.world == nil {
		return ""
	}
	digest, err := a.world.Summarize(ctx)
	if err != nil {
		// Grounding context is an enhancement; the turn proceeds without.
		a.logger.Warn("world digest unavailable", "error", err)
		return ""
	}
	return digest
}

// historyMessages maps the persisted log onto model messages.
func historyMessages(log []session.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(log))
	for _, m := range log {
		part := ai.NewTextPart(m.Text)
		if m.Role == session.RoleAgent {
			out = append(out, ai.NewModelMessage(part))
		} else {
			out = append(out, ai.NewUserMessage(part))
		}
	}
	return out
}

// appendNewWarnings keeps the session warning list append-only and
// deduplicated.
func appendNewWarnings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, w := range existing {
		seen[w] = struct{}{}
	}
	for _, w := range incoming {
		if _, ok := seen[w]; ok {
			continue
		}
		existing = append(existing, w)
		seen[w] = struct{}{}
	}
	return existing
}

func toolInputMap(input any) map[string]any {
	m, _ := input.(map[string]any)
	return m
}
