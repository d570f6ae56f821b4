package denizen

// Required field names, in the order they are reported.
const (
	FieldName        = "name"
	FieldType        = "type"
	FieldAllegiance  = "allegiance"
	FieldDomain      = "domain"
	FieldDescription = "description"
)

// Weighting of the confidence score: required fields dominate, the
// recommended signals top it up.
const (
	requiredWeight    = 0.7
	recommendedWeight = 0.3

	requiredCount    = 5
	recommendedCount = 6
)

// Validation is the result of validating a partial record.
type Validation struct {
	Valid           bool
	Errors          []string
	Warnings        []string
	MissingRequired []string
	Confidence      float64
}

// Validate computes completeness and confidence for a partial record.
// It is a pure function: deterministic, no I/O, no mutation of f.
//
// Confidence weights the fraction of required fields present at 70% and
// the fraction of recommended signals present at 30%. An empty record
// scores 0; a record with all required fields and no recommended signal
// scores exactly 0.7.
func Validate(f ExtractedFields) Validation {
	var v Validation

	required := 0
	check := func(name string, present bool) {
		if present {
			required++
			return
		}
		v.MissingRequired = append(v.MissingRequired, name)
	}
	check(FieldName, f.Name != nil && *f.Name != "")
	check(FieldType, f.Type != nil)
	check(FieldAllegiance, f.Allegiance != nil)
	check(FieldDomain, f.Domain != nil && *f.Domain != "")
	check(FieldDescription, f.Description != nil && *f.Description != "")

	v.Valid = len(v.MissingRequired) == 0

	recommended := 0
	if f.Subtitle != nil && *f.Subtitle != "" {
		recommended++
	}
	if len(f.Features) > 0 {
		recommended++
	} else {
		v.Warnings = append(v.Warnings, "no abilities listed")
	}
	if f.FirstObserved != nil && *f.FirstObserved != "" {
		recommended++
	}
	if f.CoordGeometry != nil && f.CoordAlterity != nil && f.CoordDynamics != nil {
		recommended++
	} else {
		v.Warnings = append(v.Warnings, "cardinal coordinates incomplete")
	}
	if !f.Extended.Empty() {
		recommended++
	}
	if f.Extended != nil && (f.Extended.Superposition != nil || f.Extended.EmbeddingSignature != nil) {
		recommended++
	}

	v.Confidence = requiredWeight*(float64(required)/requiredCount) +
		recommendedWeight*(float64(recommended)/recommendedCount)

	return v
}
