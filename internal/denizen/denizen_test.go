package denizen

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Echo", "echo"},
		{"spaces", "The Null Bringer", "the-null-bringer"},
		{"trailing punctuation", "The Null Bringer!!", "the-null-bringer"},
		{"mixed separators", "Warden -- of the / Gate", "warden-of-the-gate"},
		{"digits kept", "Unit 7", "unit-7"},
		{"leading punctuation", "...Hollow", "hollow"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseEntityType(t *testing.T) {
	for _, valid := range []string{"Guardian", "Wanderer", "Architect", "Void-Born", "Hybrid"} {
		if _, ok := ParseEntityType(valid); !ok {
			t.Errorf("ParseEntityType(%q) rejected a valid value", valid)
		}
	}
	// Exact-match only: case variants and near misses are rejected.
	for _, invalid := range []string{"guardian", "GUARDIAN", "Voidborn", "Sentinel", ""} {
		if v, ok := ParseEntityType(invalid); ok {
			t.Errorf("ParseEntityType(%q) = %q, want rejection", invalid, v)
		}
	}
}

func TestParseAllegiance(t *testing.T) {
	if v, ok := ParseAllegiance("Liminal Covenant"); !ok || v != AllegianceLiminalCovenant {
		t.Errorf("ParseAllegiance(Liminal Covenant) = %q, %v", v, ok)
	}
	if _, ok := ParseAllegiance("liminal covenant"); ok {
		t.Error("ParseAllegiance should not coerce case")
	}
}

func TestCurvatureFromLegacy(t *testing.T) {
	tests := []struct {
		in     float64
		want   Curvature
		wantOK bool
	}{
		{0, CurvatureStable, true},
		{0.24, CurvatureStable, true},
		{0.25, CurvatureModerate, true},
		{0.5, CurvatureSevere, true},
		{0.75, CurvatureCritical, true},
		{1, CurvatureCritical, true},
		{-0.1, "", false},
		{1.1, "", false},
	}
	for _, tt := range tests {
		got, ok := CurvatureFromLegacy(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CurvatureFromLegacy(%v) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtendedEmpty(t *testing.T) {
	var e *Extended
	if !e.Empty() {
		t.Error("nil Extended should be empty")
	}
	if !(&Extended{}).Empty() {
		t.Error("zero Extended should be empty")
	}
	s := 0.5
	if (&Extended{Superposition: &s}).Empty() {
		t.Error("Extended with superposition should not be empty")
	}
}
