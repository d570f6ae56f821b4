package archivist

import (
	"strings"
	"testing"

	"github.com/atlasworld/atlas/internal/denizen"
)

func TestSuggestQuestionsEmptyRecord(t *testing.T) {
	got := suggestQuestions(denizen.ExtractedFields{})
	if len(got) != maxSuggestedQuestions {
		t.Fatalf("len = %d, want %d", len(got), maxSuggestedQuestions)
	}
	// Required fields come first: name, then type.
	if !strings.Contains(got[0], "name") {
		t.Errorf("first question = %q, want the name question", got[0])
	}
	if !strings.Contains(got[1], "Guardian") {
		t.Errorf("second question = %q, want the type question", got[1])
	}
}

func TestSuggestQuestionsSkipKnownFields(t *testing.T) {
	f := fullFields()
	got := suggestQuestions(f)

	for _, q := range got {
		if strings.Contains(q, "What name") {
			t.Errorf("asked for a field already known: %q", q)
		}
	}
	// Required covered; recommended gaps remain.
	if len(got) == 0 {
		t.Error("expected follow-ups for recommended gaps")
	}
}

func TestSuggestQuestionsFullRecord(t *testing.T) {
	f := fullFields()
	f.Subtitle = ptr("The Unnamed")
	f.ThreatLevel = ptr(denizen.ThreatExistential)
	f.Lore = ptr("Born in the gap between two words.")
	f.FirstObserved = ptr("the Third Silence")
	f.Features = []string{"devours nomenclature"}

	if got := suggestQuestions(f); len(got) != 0 {
		t.Errorf("questions for a full record = %v, want none", got)
	}
}

func TestSystemInstruction(t *testing.T) {
	got := systemInstruction("The catalogue holds 3 denizens.", "Hollow Hound: a fog-bodied wanderer")

	if !strings.Contains(got, "You are the Archivist") {
		t.Error("persona missing")
	}
	if !strings.Contains(got, "The catalogue holds 3 denizens.") {
		t.Error("world digest missing")
	}
	if !strings.Contains(got, "Hollow Hound") {
		t.Error("entity context missing")
	}

	bare := systemInstruction("", "")
	if strings.Contains(bare, "State of the catalogue") {
		t.Error("empty digest produced a digest section")
	}
}
