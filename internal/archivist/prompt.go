package archivist

import (
	"fmt"
	"strings"

	"github.com/atlasworld/atlas/internal/denizen"
)

// personaPrompt is the fixed behavior specification for the Archivist.
// The dynamic world digest and entity summary are appended per turn.
const personaPrompt = `You are the Archivist, the keeper of the Atlas: a catalogue of denizens
inhabiting a shared worldbuilding universe. You interview observers about
entities they have encountered and extract structured classification data
through natural conversation.

Behavior:
- Ask focused questions, one or two at a time. Never interrogate.
- Ground your questions in what the observer has already said.
- When the observer mentions visual material, use the analyze_image tool.
- When an entity sounds familiar, use the find_similar tool to check the
  catalogue before treating it as new.
- Classification vocabulary:
  - type: Guardian, Wanderer, Architect, Void-Born, Hybrid
  - allegiance: Liminal Covenant, Nomenclate, Unaligned, Unknown
  - threat level: Benign, Cautious, Volatile, Existential
- Stay in persona: curious, precise, faintly ceremonial. Never mention
  tools, schemas, or extraction mechanics to the observer.`

// openingGreeting is the fallback opening when no context accompanies
// the session.
const openingGreeting = "Welcome to the Atlas. I am the Archivist. " +
	"Tell me of the denizen you wish to record: what have you observed?"

// openingMessage selects the session's first agent message from the
// available context. Priority: analysis notes, then media description,
// then entity name, then the generic greeting. Pure templating, no
// model call.
func openingMessage(p StartParams) string {
	switch {
	case p.AnalysisNotes != "":
		return fmt.Sprintf(
			"Welcome back to the Atlas. My preliminary analysis of your submission reads: %s\n"+
				"Does this match what you observed? Tell me where the analysis falls short.",
			p.AnalysisNotes)
	case p.MediaDescription != "":
		return fmt.Sprintf(
			"Welcome to the Atlas. I see you bring visual material: %s\n"+
				"Describe the denizen it depicts, and we will begin the record.",
			p.MediaDescription)
	case p.EntityName != "":
		return fmt.Sprintf(
			"Ah, %s. The Atlas holds an entry under that name. "+
				"What new observations shall we add to the record?",
			p.EntityName)
	default:
		return openingGreeting
	}
}

// systemInstruction assembles the full per-turn system prompt: persona,
// world digest, and optional entity context.
func systemInstruction(worldDigest, entityContext string) string {
	var b strings.Builder
	b.WriteString(personaPrompt)
	if worldDigest != "" {
		b.WriteString("\n\nState of the catalogue:\n")
		b.WriteString(worldDigest)
	}
	if entityContext != "" {
		b.WriteString("\n\nThe entity under discussion:\n")
		b.WriteString(entityContext)
	}
	return b.String()
}

// maxSuggestedQuestions caps follow-ups surfaced per turn.
const maxSuggestedQuestions = 3

// questionRules maps a still-missing field to the follow-up question
// that would fill it, in priority order. Required fields come first.
var questionRules = []struct {
	missing  func(f denizen.ExtractedFields) bool
	question string
}{
	{func(f denizen.ExtractedFields) bool { return f.Name == nil }, "What name does this denizen go by?"},
	{func(f denizen.ExtractedFields) bool { return f.Type == nil }, "Would you call it a Guardian, a Wanderer, an Architect, Void-Born, or some Hybrid?"},
	{func(f denizen.ExtractedFields) bool { return f.Allegiance == nil }, "Does it answer to the Liminal Covenant, the Nomenclate, or does it walk unaligned?"},
	{func(f denizen.ExtractedFields) bool { return f.Domain == nil }, "Over what domain does it hold sway?"},
	{func(f denizen.ExtractedFields) bool { return f.Description == nil }, "How would you describe it to someone who has never seen it?"},
	{func(f denizen.ExtractedFields) bool { return len(f.Features) == 0 }, "What abilities or distinguishing features have you observed?"},
	{func(f denizen.ExtractedFields) bool { return f.ThreatLevel == nil }, "How dangerous is an encounter with it?"},
	{func(f denizen.ExtractedFields) bool { return f.FirstObserved == nil }, "When was it first observed?"},
	{func(f denizen.ExtractedFields) bool { return f.Lore == nil }, "Is there any lore or history attached to it?"},
}

// suggestQuestions derives up to three follow-up questions from which
// fields are still missing. Deterministic; no model call.
func suggestQuestions(f denizen.ExtractedFields) []string {
	var out []string
	for _, rule := range questionRules {
		if !rule.missing(f) {
			continue
		}
		out = append(out, rule.question)
		if len(out) == maxSuggestedQuestions {
			break
		}
	}
	return out
}
