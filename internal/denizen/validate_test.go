package denizen

import (
	"math"
	"reflect"
	"testing"
)

func ptr[T any](v T) *T { return &v }

// fullRequired returns a record with exactly the five required fields set.
func fullRequired() ExtractedFields {
	return ExtractedFields{
		Name:        ptr("Echo Warden"),
		Type:        ptr(TypeGuardian),
		Allegiance:  ptr(AllegianceUnaligned),
		Domain:      ptr("threshold between dreams and waking"),
		Description: ptr("A silent sentinel at the edge of sleep."),
	}
}

func TestValidateEmptyRecord(t *testing.T) {
	v := Validate(ExtractedFields{})

	if v.Valid {
		t.Error("empty record should not be valid")
	}
	if v.Confidence != 0 {
		t.Errorf("empty record confidence = %v, want 0", v.Confidence)
	}
	want := []string{FieldName, FieldType, FieldAllegiance, FieldDomain, FieldDescription}
	if !reflect.DeepEqual(v.MissingRequired, want) {
		t.Errorf("MissingRequired = %v, want %v", v.MissingRequired, want)
	}
}

func TestValidateAllRequiredNoRecommended(t *testing.T) {
	v := Validate(fullRequired())

	if !v.Valid {
		t.Errorf("record with all required fields should be valid, missing: %v", v.MissingRequired)
	}
	if math.Abs(v.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want exactly 0.7", v.Confidence)
	}
}

func TestValidateRecommendedSignals(t *testing.T) {
	f := fullRequired()
	f.Subtitle = ptr("Keeper of the Boundary")
	f.Features = []string{"dream-walking", "threshold sealing", "echo mimicry"}
	f.FirstObserved = ptr("Third Convergence")
	f.CoordGeometry = ptr(0.2)
	f.CoordAlterity = ptr(-0.4)
	f.CoordDynamics = ptr(0.1)
	f.Extended = &Extended{
		PhaseState:    ptr(PhaseLiminal),
		Superposition: ptr(0.3),
	}

	v := Validate(f)
	if !v.Valid {
		t.Fatalf("fully populated record should be valid, missing: %v", v.MissingRequired)
	}
	if math.Abs(v.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1.0", v.Confidence)
	}
	if len(v.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", v.Warnings)
	}
}

func TestValidateDeterministic(t *testing.T) {
	f := fullRequired()
	f.Features = []string{"wards"}

	first := Validate(f)
	second := Validate(f)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Validate is not deterministic: %+v vs %+v", first, second)
	}
}

// Adding a previously-missing required field never decreases confidence.
func TestValidateMonotonic(t *testing.T) {
	f := ExtractedFields{
		Name: ptr("Echo Warden"),
		Type: ptr(TypeGuardian),
	}
	before := Validate(f).Confidence

	f.Domain = ptr("thresholds")
	after := Validate(f).Confidence

	if after < before {
		t.Errorf("confidence decreased after adding required field: %v -> %v", before, after)
	}
}

func TestValidateMissingSingleField(t *testing.T) {
	f := fullRequired()
	f.Domain = nil

	v := Validate(f)
	if v.Valid {
		t.Error("record missing domain should not be valid")
	}
	if !reflect.DeepEqual(v.MissingRequired, []string{FieldDomain}) {
		t.Errorf("MissingRequired = %v, want [domain]", v.MissingRequired)
	}
}

func TestValidateWarningsAreSoft(t *testing.T) {
	v := Validate(fullRequired())

	found := false
	for _, w := range v.Warnings {
		if w == "no abilities listed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 'no abilities listed' warning, got %v", v.Warnings)
	}
	if !v.Valid {
		t.Error("warnings must not block validity")
	}
}
