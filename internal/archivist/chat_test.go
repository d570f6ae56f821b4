package archivist

import (
	"context"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/atlasworld/atlas/internal/session"
	"github.com/atlasworld/atlas/internal/testutil"
)

// TestToolLoopBound simulates a model that requests a tool call on
// every response. The loop must execute exactly the capped number of
// rounds and then return the final text instead of looping again.
func TestToolLoopBound(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	// Every request, chat and extraction alike, asks for the sref stub.
	model.RespondWithTools("", "consulting the indexes...", &ai.ToolRequest{
		Name:  ToolFindBySref,
		Input: map[string]any{"sref_code": "77"},
	})

	h := newHarness(t, model)
	ctx := context.Background()

	sess, err := h.archivist.StartSession(ctx, StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	result, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "look up sref 77"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if got := len(result.ToolsUsed); got != DefaultMaxToolRounds {
		t.Errorf("tools used = %d, want exactly %d rounds", got, DefaultMaxToolRounds)
	}
	if got := len(h.archivist.Dispatcher().Recent()); got != DefaultMaxToolRounds {
		t.Errorf("recorded invocations = %d, want %d", got, DefaultMaxToolRounds)
	}
	// One initial call, one per round, one for extraction. A 4th round
	// would add a 6th call.
	if got := model.Calls(); got != DefaultMaxToolRounds+2 {
		t.Errorf("model calls = %d, want %d", got, DefaultMaxToolRounds+2)
	}
	if result.Message != "consulting the indexes..." {
		t.Errorf("message = %q, want the model's final text", result.Message)
	}
}

// TestToolRoundFanOut scripts two tool requests in a single model turn.
// Both must execute, and the tool-response message sent back to the
// model must list the results in request order with matching refs, even
// though execution is concurrent.
func TestToolRoundFanOut(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	model.RespondWithTools("", "cross-referencing...",
		&ai.ToolRequest{
			Name:  ToolFindBySref,
			Ref:   "call-1",
			Input: map[string]any{"sref_code": "77"},
		},
		&ai.ToolRequest{
			// No searcher is configured, so this one fails and must
			// come back as a normalized payload in the same slot.
			Name:  ToolFindSimilar,
			Ref:   "call-2",
			Input: map[string]any{"query": "a dog made of fog"},
		},
	)

	h := newHarness(t, model)
	ctx := context.Background()

	sess, err := h.archivist.StartSession(ctx, StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	result, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "compare against the catalogue"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	// Two requests per round for the capped number of rounds.
	if got := len(result.ToolsUsed); got != 2*DefaultMaxToolRounds {
		t.Fatalf("tools used = %d, want %d", got, 2*DefaultMaxToolRounds)
	}
	if result.ToolsUsed[0].Name != ToolFindBySref || !result.ToolsUsed[0].Success {
		t.Errorf("first slot = %+v, want a successful %s", result.ToolsUsed[0], ToolFindBySref)
	}
	if result.ToolsUsed[1].Name != ToolFindSimilar || result.ToolsUsed[1].Success {
		t.Errorf("second slot = %+v, want a failed %s", result.ToolsUsed[1], ToolFindSimilar)
	}

	// Inspect the tool-response message the next generate call carried.
	var toolMsg *ai.Message
	for _, req := range model.Requests() {
		for _, msg := range req.Messages {
			if msg.Role == ai.RoleTool {
				toolMsg = msg
				break
			}
		}
		if toolMsg != nil {
			break
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool-response message reached the model")
	}
	if len(toolMsg.Content) != 2 {
		t.Fatalf("tool message parts = %d, want 2", len(toolMsg.Content))
	}
	first, second := toolMsg.Content[0].ToolResponse, toolMsg.Content[1].ToolResponse
	if first == nil || first.Ref != "call-1" || first.Name != ToolFindBySref {
		t.Errorf("first part = %+v, want ref call-1 for %s", first, ToolFindBySref)
	}
	if second == nil || second.Ref != "call-2" || second.Name != ToolFindSimilar {
		t.Errorf("second part = %+v, want ref call-2 for %s", second, ToolFindSimilar)
	}
	if out, ok := second.Output.(map[string]any); !ok || out["is_error"] != true {
		t.Errorf("failed call output = %v, want a normalized is_error payload", second.Output)
	}
}

func TestChatRequiresUserMessage(t *testing.T) {
	h := newHarness(t, testutil.NewMockModel("..."))

	sess, err := h.archivist.StartSession(context.Background(), StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := h.archivist.Chat(context.Background(), sess.ID, ChatParams{UserMessage: "   "}); err == nil {
		t.Fatal("Chat() with blank message should fail")
	}
}

func TestChatPersistsTurn(t *testing.T) {
	model := testutil.NewMockModel("Most intriguing. Tell me more.")
	h := newHarness(t, model)
	ctx := context.Background()

	sess, err := h.archivist.StartSession(ctx, StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	result, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "I saw something in the fog"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Message != "Most intriguing. Tell me more." {
		t.Errorf("message = %q", result.Message)
	}
	if result.IsComplete {
		t.Error("an empty record should not be complete")
	}
	if len(result.SuggestedQuestions) != maxSuggestedQuestions {
		t.Errorf("suggested questions = %d, want %d", len(result.SuggestedQuestions), maxSuggestedQuestions)
	}

	got, err := h.archivist.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	// Opening message, user turn, agent turn.
	if len(got.Messages) != 3 {
		t.Fatalf("persisted messages = %d, want 3", len(got.Messages))
	}
	if got.Messages[1].Role != session.RoleUser || got.Messages[2].Role != session.RoleAgent {
		t.Errorf("persisted roles = %q, %q", got.Messages[1].Role, got.Messages[2].Role)
	}
	if got.Version != sess.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, sess.Version+1)
	}
}

// TestCatalogueScenario walks a full session: generic greeting, three
// turns that incrementally supply the record via a scripted extraction
// double, completion, and commit.
func TestCatalogueScenario(t *testing.T) {
	model := testutil.NewMockModel("Go on.")

	// Extraction rules first: their patterns key on the agent reply
	// embedded in the extraction request, which never appears in a chat
	// user message. Later turns echo earlier replies in their context,
	// so newest rules are registered first.
	model.Respond("record nears completion", `{
		"subtitle": "The Silent Vigil",
		"features": ["dream-wards", "boundary sense"],
		"firstObserved": "the First Naming",
		"coordGeometry": 0.4, "coordAlterity": -0.2, "coordDynamics": 0.1
	}`)
	model.Respond("covenant claims another sentinel", `{"allegiance": "Liminal Covenant", "domain": "Sleep"}`)
	model.Respond("guardian of thresholds", "Noted. ```json\n{\"name\": \"The Dream Warden\", \"type\": \"Guardian\", \"description\": \"It guards the boundary between dreams and waking.\"}\n```")

	// Chat rules, keyed on the observer's phrasing.
	model.Respond("guards the boundary", "A guardian of thresholds, no doubt.")
	model.Respond("serves the liminal covenant", "The Covenant claims another sentinel.")
	model.Respond("watched since the first naming", "The record nears completion.")

	h := newHarness(t, model)
	ctx := context.Background()

	sess, err := h.archivist.StartSession(ctx, StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if sess.Messages[0].Text != openingGreeting {
		t.Fatalf("opening = %q, want the generic greeting", sess.Messages[0].Text)
	}

	r1, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "It guards the boundary between dreams and waking"})
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if r1.ExtractedFields.Name == nil || *r1.ExtractedFields.Name != "The Dream Warden" {
		t.Fatalf("turn 1 name = %v", r1.ExtractedFields.Name)
	}
	if r1.ExtractedFields.Type == nil {
		t.Fatal("turn 1 extracted no type")
	}
	if r1.IsComplete {
		t.Error("turn 1 should not be complete")
	}

	r2, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "It serves the Liminal Covenant and rules the domain of Sleep"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if r2.ExtractedFields.Domain == nil || *r2.ExtractedFields.Domain != "Sleep" {
		t.Fatalf("turn 2 domain = %v", r2.ExtractedFields.Domain)
	}
	// All five required fields present, no recommended signals beyond
	// the feature-less record: confidence sits at the required weight.
	if r2.IsComplete {
		t.Error("turn 2 should not clear the commit gate yet")
	}

	r3, err := h.archivist.Chat(ctx, sess.ID, ChatParams{UserMessage: "It has watched since the First Naming"})
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if !r3.IsComplete {
		t.Fatalf("turn 3 incomplete at confidence %v with fields %+v", r3.Confidence, r3.ExtractedFields)
	}
	if r3.Confidence <= 0.7 {
		t.Errorf("confidence = %v, want > 0.7", r3.Confidence)
	}

	// Earlier turns must not have been clobbered by later merges.
	if *r3.ExtractedFields.Name != "The Dream Warden" {
		t.Errorf("name after merges = %q", *r3.ExtractedFields.Name)
	}

	draft, err := h.archivist.CommitToArchive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CommitToArchive() error = %v", err)
	}
	if draft.ID != "the-dream-warden" {
		t.Errorf("draft id = %q, want the-dream-warden", draft.ID)
	}
	if len(draft.Features) != 2 {
		t.Errorf("draft features = %v", draft.Features)
	}
}

func TestChatMentionsAttachedImage(t *testing.T) {
	model := testutil.NewMockModel("I will examine it.")
	h := newHarness(t, model)
	ctx := context.Background()

	sess, err := h.archivist.StartSession(ctx, StartParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if _, err := h.archivist.Chat(ctx, sess.ID, ChatParams{
		UserMessage: "here is a photograph",
		ImageURL:    "https://atlas.example/bloom.png",
	}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	// The persisted log keeps the user's original words, not the
	// spliced tool hint.
	got, err := h.archivist.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if strings.Contains(got.Messages[1].Text, "analyze_image") {
		t.Errorf("tool hint leaked into the persisted log: %q", got.Messages[1].Text)
	}
}

func TestAppendNewWarnings(t *testing.T) {
	got := appendNewWarnings(
		[]string{"no abilities listed"},
		[]string{"no abilities listed", "cardinal coordinates incomplete"},
	)
	want := []string{"no abilities listed", "cardinal coordinates incomplete"}
	if len(got) != len(want) {
		t.Fatalf("warnings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("warnings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
