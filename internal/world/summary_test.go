package world

import (
	"strings"
	"testing"

	"github.com/atlasworld/atlas/internal/denizen"
)

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	if !strings.Contains(got, "empty") {
		t.Errorf("Summarize(nil) = %q, want mention of empty catalogue", got)
	}
}

func TestSummarizeCounts(t *testing.T) {
	all := []denizen.Denizen{
		{Name: "Axiom Warden", Type: denizen.TypeGuardian, Allegiance: denizen.AllegianceLiminalCovenant, Domain: "Boundaries"},
		{Name: "The Null Bringer", Type: denizen.TypeVoidBorn, Allegiance: denizen.AllegianceNomenclate, Domain: "Erasure"},
		{Name: "Seam Walker", Type: denizen.TypeVoidBorn, Allegiance: denizen.AllegianceUnaligned, Domain: "Erasure"},
	}

	got := Summarize(all)

	if !strings.Contains(got, "3 denizens") {
		t.Errorf("digest missing total count:\n%s", got)
	}
	if !strings.Contains(got, "Void-Born 2") {
		t.Errorf("digest missing type count:\n%s", got)
	}
	if !strings.Contains(got, "Guardian 1") {
		t.Errorf("digest missing type count:\n%s", got)
	}
	if !strings.Contains(got, "Nomenclate 1") {
		t.Errorf("digest missing allegiance count:\n%s", got)
	}
	// Domains are deduplicated.
	if strings.Count(got, "Erasure") != 1 {
		t.Errorf("domain listed more than once:\n%s", got)
	}
	for _, name := range []string{"Axiom Warden", "The Null Bringer", "Seam Walker"} {
		if !strings.Contains(got, name) {
			t.Errorf("digest missing name %q:\n%s", name, got)
		}
	}
}

func TestSummarizeBoundsRecent(t *testing.T) {
	var all []denizen.Denizen
	for i := 0; i < 20; i++ {
		all = append(all, denizen.Denizen{
			Name:       "Entity " + string(rune('A'+i)),
			Type:       denizen.TypeWanderer,
			Allegiance: denizen.AllegianceUnknown,
		})
	}

	got := Summarize(all)

	// Recent additions are listed as bullet lines; the full roster only
	// as a comma-joined name list.
	if bullets := strings.Count(got, "\n- "); bullets != recentLimit {
		t.Errorf("recent bullet count = %d, want %d", bullets, recentLimit)
	}
	if !strings.Contains(got, "Entity T") {
		t.Errorf("digest dropped a name from the full list:\n%s", got)
	}
}
