package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/session"
)

// recentContextTurns is how many prior messages accompany an extraction
// request.
const recentContextTurns = 6

// maxExtractResponseBytes limits response size before JSON parsing.
const maxExtractResponseBytes = 16 * 1024

// extractionPrompt instructs the model to extract classification fields
// from one conversational exchange. %s placeholders: recent context,
// user message, agent message.
const extractionPrompt = `You are a structured archival extraction system. From the conversation
exchange below, extract any classification fields for the denizen under
discussion. Output a single JSON object.

Fields (include ONLY fields the conversation actually establishes):
- "name": string
- "type": one of "Guardian", "Wanderer", "Architect", "Void-Born", "Hybrid"
- "allegiance": one of "Liminal Covenant", "Nomenclate", "Unaligned", "Unknown"
- "domain": string, the sphere of influence
- "description": string
- "subtitle": string, short epithet
- "threatLevel": one of "Benign", "Cautious", "Volatile", "Existential"
- "lore": string
- "firstObserved": string
- "glyphs": string, short symbol sequence
- "coordGeometry", "coordAlterity", "coordDynamics": numbers in [-1, 1]
- "features": array of short ability strings
- "suggestedConnections": array of related entity names
- "extended": object with optional "phaseState" (one of "Solid", "Liminal",
  "Spectral", "Fluctuating", "Crystallized"), "superposition" [-1, 1],
  "embeddingSignature" [-1, 1], "hallucinationIndex" [0, 1],
  "manifoldCurvature" (one of "Stable", "Moderate", "Severe", "Critical")

Rules:
- Never guess. Omit any field the exchange does not establish.
- Use the exact enum spellings above.
- Return ONLY the JSON object, no prose.

Recent context:
%s

Observer: %s
Archivist: %s

JSON:`

// extractionTemperature favors determinism over creativity for the
// single-shot extraction call.
const extractionTemperature = 0.1

// extract turns one conversational exchange into a partial field
// record. Best-effort by contract: on any failure (model error,
// unparsable output) it returns an empty record and the turn proceeds
// without new fields.
func (a *Archivist) extract(ctx context.Context, userText, agentText string, recent []session.Message) denizen.ExtractedFields {
	prompt := fmt.Sprintf(extractionPrompt, formatRecent(recent), userText, agentText)

	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](extractionTemperature),
		}),
	)
	if err != nil {
		a.logger.Debug("field extraction call failed", "error", err)
		return denizen.ExtractedFields{}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" || len(text) > maxExtractResponseBytes {
		return denizen.ExtractedFields{}
	}

	block := firstJSONObject(stripCodeFences(text))
	if block == "" {
		a.logger.Debug("extraction response carried no JSON object")
		return denizen.ExtractedFields{}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		a.logger.Debug("extraction response did not parse", "error", err)
		return denizen.ExtractedFields{}
	}

	return sanitizeFields(raw)
}

func formatRecent(messages []session.Message) string {
	if len(messages) > recentContextTurns {
		messages = messages[len(messages)-recentContextTurns:]
	}
	var b strings.Builder
	for _, m := range messages {
		role := "Observer"
		if m.Role == session.RoleAgent {
			role = "Archivist"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Text)
	}
	return b.String()
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first balanced top-level JSON object in
// s, or "" if none exists. The surrounding response may contain prose.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeFields converts the raw decoded JSON into a typed partial
// record, field by field. Strings are trimmed; enum values must match
// exactly or are dropped; numbers outside their documented range are
// dropped, not clamped; arrays are filtered to string elements.
func sanitizeFields(raw map[string]any) denizen.ExtractedFields {
	var f denizen.ExtractedFields

	f.Name = stringField(raw, "name")
	f.Domain = stringField(raw, "domain")
	f.Description = stringField(raw, "description")
	f.Subtitle = stringField(raw, "subtitle")
	f.Lore = stringField(raw, "lore")
	f.FirstObserved = stringField(raw, "firstObserved")
	f.Glyphs = stringField(raw, "glyphs")

	if s := stringField(raw, "type"); s != nil {
		if v, ok := denizen.ParseEntityType(*s); ok {
			f.Type = &v
		}
	}
	if s := stringField(raw, "allegiance"); s != nil {
		if v, ok := denizen.ParseAllegiance(*s); ok {
			f.Allegiance = &v
		}
	}
	if s := stringField(raw, "threatLevel"); s != nil {
		if v, ok := denizen.ParseThreatLevel(*s); ok {
			f.ThreatLevel = &v
		}
	}

	f.CoordGeometry = numberField(raw, "coordGeometry", -1, 1)
	f.CoordAlterity = numberField(raw, "coordAlterity", -1, 1)
	f.CoordDynamics = numberField(raw, "coordDynamics", -1, 1)

	f.Features = stringSliceField(raw, "features")
	f.SuggestedConnections = stringSliceField(raw, "suggestedConnections")

	if extRaw, ok := raw["extended"].(map[string]any); ok {
		ext := sanitizeExtended(extRaw)
		if !ext.Empty() {
			f.Extended = &ext
		}
	}

	return f
}

func sanitizeExtended(raw map[string]any) denizen.Extended {
	var ext denizen.Extended

	if s := stringField(raw, "phaseState"); s != nil {
		if v, ok := denizen.ParsePhaseState(*s); ok {
			ext.PhaseState = &v
		}
	}

	// Legacy records encoded superposition as a list of states; only the
	// numeric form carries into new records.
	ext.Superposition = numberField(raw, "superposition", -1, 1)
	ext.EmbeddingSignature = numberField(raw, "embeddingSignature", -1, 1)
	ext.HallucinationIndex = numberField(raw, "hallucinationIndex", 0, 1)

	// manifoldCurvature accepts the enum spelling or the legacy numeric
	// severity, bucketed onto the grades.
	switch v := raw["manifoldCurvature"].(type) {
	case string:
		if c, ok := denizen.ParseCurvature(strings.TrimSpace(v)); ok {
			ext.ManifoldCurvature = &c
		}
	case float64:
		if c, ok := denizen.CurvatureFromLegacy(v); ok {
			ext.ManifoldCurvature = &c
		}
	}

	return ext
}

func stringField(raw map[string]any, key string) *string {
	s, ok := raw[key].(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func numberField(raw map[string]any, key string, min, max float64) *float64 {
	v, ok := raw[key].(float64)
	if !ok || v < min || v > max {
		return nil
	}
	return &v
}

func stringSliceField(raw map[string]any, key string) []string {
	items, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
