// Package denizen defines the structured record types for catalogued
// entities and the pure field-level algorithms operating on them:
// validation ([Validate]) and merging ([Merge]).
//
// All classification enums are modeled as string types with explicit
// Parse functions returning (value, ok). Unrecognized input is a visible
// rejected branch, never coerced into a default.
package denizen

import (
	"strings"
	"time"
)

// EntityType classifies a denizen's fundamental nature.
type EntityType string

// Valid entity types.
const (
	TypeGuardian  EntityType = "Guardian"
	TypeWanderer  EntityType = "Wanderer"
	TypeArchitect EntityType = "Architect"
	TypeVoidBorn  EntityType = "Void-Born"
	TypeHybrid    EntityType = "Hybrid"
)

// ParseEntityType returns the EntityType matching s exactly.
// The second return value reports whether s is a recognized value.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case TypeGuardian, TypeWanderer, TypeArchitect, TypeVoidBorn, TypeHybrid:
		return EntityType(s), true
	}
	return "", false
}

// Allegiance identifies which faction a denizen answers to.
type Allegiance string

// Valid allegiances.
const (
	AllegianceLiminalCovenant Allegiance = "Liminal Covenant"
	AllegianceNomenclate      Allegiance = "Nomenclate"
	AllegianceUnaligned       Allegiance = "Unaligned"
	AllegianceUnknown         Allegiance = "Unknown"
)

// ParseAllegiance returns the Allegiance matching s exactly.
func ParseAllegiance(s string) (Allegiance, bool) {
	switch Allegiance(s) {
	case AllegianceLiminalCovenant, AllegianceNomenclate, AllegianceUnaligned, AllegianceUnknown:
		return Allegiance(s), true
	}
	return "", false
}

// ThreatLevel grades how dangerous a denizen is considered.
type ThreatLevel string

// Valid threat levels.
const (
	ThreatBenign      ThreatLevel = "Benign"
	ThreatCautious    ThreatLevel = "Cautious"
	ThreatVolatile    ThreatLevel = "Volatile"
	ThreatExistential ThreatLevel = "Existential"
)

// ParseThreatLevel returns the ThreatLevel matching s exactly.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	switch ThreatLevel(s) {
	case ThreatBenign, ThreatCautious, ThreatVolatile, ThreatExistential:
		return ThreatLevel(s), true
	}
	return "", false
}

// PhaseState describes the physical phase of a denizen's manifestation.
type PhaseState string

// Valid phase states.
const (
	PhaseSolid        PhaseState = "Solid"
	PhaseLiminal      PhaseState = "Liminal"
	PhaseSpectral     PhaseState = "Spectral"
	PhaseFluctuating  PhaseState = "Fluctuating"
	PhaseCrystallized PhaseState = "Crystallized"
)

// ParsePhaseState returns the PhaseState matching s exactly.
func ParsePhaseState(s string) (PhaseState, bool) {
	switch PhaseState(s) {
	case PhaseSolid, PhaseLiminal, PhaseSpectral, PhaseFluctuating, PhaseCrystallized:
		return PhaseState(s), true
	}
	return "", false
}

// Curvature grades local manifold distortion around a denizen.
type Curvature string

// Valid curvature grades.
const (
	CurvatureStable   Curvature = "Stable"
	CurvatureModerate Curvature = "Moderate"
	CurvatureSevere   Curvature = "Severe"
	CurvatureCritical Curvature = "Critical"
)

// ParseCurvature returns the Curvature matching s exactly.
func ParseCurvature(s string) (Curvature, bool) {
	switch Curvature(s) {
	case CurvatureStable, CurvatureModerate, CurvatureSevere, CurvatureCritical:
		return Curvature(s), true
	}
	return "", false
}

// CurvatureFromLegacy buckets a legacy numeric curvature in [0,1] onto the
// enum grades. Older records stored curvature as a raw severity number;
// the mapping is the quartile boundaries.
func CurvatureFromLegacy(v float64) (Curvature, bool) {
	if v < 0 || v > 1 {
		return "", false
	}
	switch {
	case v < 0.25:
		return CurvatureStable, true
	case v < 0.5:
		return CurvatureModerate, true
	case v < 0.75:
		return CurvatureSevere, true
	default:
		return CurvatureCritical, true
	}
}

// Extended is the optional nested classification bag. All fields are
// optional; nil means "not yet known".
type Extended struct {
	PhaseState         *PhaseState `json:"phaseState,omitempty"`
	Superposition      *float64    `json:"superposition,omitempty"`      // [-1,1]
	EmbeddingSignature *float64    `json:"embeddingSignature,omitempty"` // [-1,1]
	HallucinationIndex *float64    `json:"hallucinationIndex,omitempty"` // [0,1]
	ManifoldCurvature  *Curvature  `json:"manifoldCurvature,omitempty"`
}

// Empty reports whether no extended field is set.
func (e *Extended) Empty() bool {
	if e == nil {
		return true
	}
	return e.PhaseState == nil && e.Superposition == nil &&
		e.EmbeddingSignature == nil && e.HallucinationIndex == nil &&
		e.ManifoldCurvature == nil
}

// ExtractedFields is the partial structured record accumulated over an
// archivist session. Pointer scalars distinguish "absent" from a zero
// value, which the merge rules depend on.
type ExtractedFields struct {
	// Required for commit.
	Name        *string     `json:"name,omitempty"`
	Type        *EntityType `json:"type,omitempty"`
	Allegiance  *Allegiance `json:"allegiance,omitempty"`
	Domain      *string     `json:"domain,omitempty"`
	Description *string     `json:"description,omitempty"`

	// Recommended.
	Subtitle      *string      `json:"subtitle,omitempty"`
	ThreatLevel   *ThreatLevel `json:"threatLevel,omitempty"`
	Lore          *string      `json:"lore,omitempty"`
	FirstObserved *string      `json:"firstObserved,omitempty"`
	Glyphs        *string      `json:"glyphs,omitempty"`

	// Cardinal coordinates, each in [-1,1].
	CoordGeometry *float64 `json:"coordGeometry,omitempty"`
	CoordAlterity *float64 `json:"coordAlterity,omitempty"`
	CoordDynamics *float64 `json:"coordDynamics,omitempty"`

	// Set-semantics arrays: unique, existing order preserved.
	Features             []string `json:"features,omitempty"`
	SuggestedConnections []string `json:"suggestedConnections,omitempty"`

	Extended *Extended `json:"extended,omitempty"`
}

// Denizen is a committed catalogue entry.
type Denizen struct {
	ID            string
	Name          string
	Type          EntityType
	Allegiance    Allegiance
	Domain        string
	Description   string
	Subtitle      string
	ThreatLevel   ThreatLevel
	Lore          string
	FirstObserved string
	Glyphs        string
	CoordGeometry float64
	CoordAlterity float64
	CoordDynamics float64
	Features      []string
	Extended      *Extended
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DefaultGlyphs is applied when a committed record carries no glyph string.
const DefaultGlyphs = "◬·◭"

// Draft is the partial entity record produced by a session commit.
// Spatial position, connection resolution and media attachment are left
// to the caller.
type Draft struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Type                 EntityType  `json:"type"`
	Allegiance           Allegiance  `json:"allegiance"`
	Domain               string      `json:"domain"`
	Description          string      `json:"description"`
	Subtitle             string      `json:"subtitle,omitempty"`
	ThreatLevel          ThreatLevel `json:"threatLevel,omitempty"`
	Lore                 string      `json:"lore,omitempty"`
	FirstObserved        string      `json:"firstObserved,omitempty"`
	Glyphs               string      `json:"glyphs"`
	CoordGeometry        float64     `json:"coordGeometry"`
	CoordAlterity        float64     `json:"coordAlterity"`
	CoordDynamics        float64     `json:"coordDynamics"`
	Features             []string    `json:"features,omitempty"`
	SuggestedConnections []string    `json:"suggestedConnections,omitempty"`
	Extended             *Extended   `json:"extended,omitempty"`
}

// Slug derives a stable identifier from an entity name: lowercased, with
// runs of non-alphanumeric characters collapsed to single hyphens.
//
//	Slug("The Null Bringer!!") == "the-null-bringer"
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
