package denizen

// Merge combines an accumulated record with newly extracted fields.
//
// Rules:
//   - scalars: incoming overwrites existing only for keys actually present
//     (nil pointer means absent, never a destructive clear)
//   - arrays: set union — existing order preserved, new unique items appended
//   - extended bag: shallow-merged key by key with the same overwrite rule
//
// Merge never mutates either argument; it returns a fresh value, which is
// what makes it safe to use on the in-memory session copy during a turn.
func Merge(existing ExtractedFields, incoming ExtractedFields) ExtractedFields {
	out := existing

	out.Name = mergeScalar(existing.Name, incoming.Name)
	out.Type = mergeScalar(existing.Type, incoming.Type)
	out.Allegiance = mergeScalar(existing.Allegiance, incoming.Allegiance)
	out.Domain = mergeScalar(existing.Domain, incoming.Domain)
	out.Description = mergeScalar(existing.Description, incoming.Description)
	out.Subtitle = mergeScalar(existing.Subtitle, incoming.Subtitle)
	out.ThreatLevel = mergeScalar(existing.ThreatLevel, incoming.ThreatLevel)
	out.Lore = mergeScalar(existing.Lore, incoming.Lore)
	out.FirstObserved = mergeScalar(existing.FirstObserved, incoming.FirstObserved)
	out.Glyphs = mergeScalar(existing.Glyphs, incoming.Glyphs)
	out.CoordGeometry = mergeScalar(existing.CoordGeometry, incoming.CoordGeometry)
	out.CoordAlterity = mergeScalar(existing.CoordAlterity, incoming.CoordAlterity)
	out.CoordDynamics = mergeScalar(existing.CoordDynamics, incoming.CoordDynamics)

	out.Features = unionStrings(existing.Features, incoming.Features)
	out.SuggestedConnections = unionStrings(existing.SuggestedConnections, incoming.SuggestedConnections)

	out.Extended = mergeExtended(existing.Extended, incoming.Extended)

	return out
}

// mergeScalar copies the incoming value when present, otherwise keeps the
// existing one. The returned pointer targets a fresh allocation so the
// result shares no memory with either input.
func mergeScalar[T any](existing, incoming *T) *T {
	src := existing
	if incoming != nil {
		src = incoming
	}
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

// unionStrings deduplicates while preserving existing order; new unique
// items are appended in their incoming order.
func unionStrings(existing, incoming []string) []string {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func mergeExtended(existing, incoming *Extended) *Extended {
	if existing == nil && incoming == nil {
		return nil
	}
	var e, i Extended
	if existing != nil {
		e = *existing
	}
	if incoming != nil {
		i = *incoming
	}
	return &Extended{
		PhaseState:         mergeScalar(e.PhaseState, i.PhaseState),
		Superposition:      mergeScalar(e.Superposition, i.Superposition),
		EmbeddingSignature: mergeScalar(e.EmbeddingSignature, i.EmbeddingSignature),
		HallucinationIndex: mergeScalar(e.HallucinationIndex, i.HallucinationIndex),
		ManifoldCurvature:  mergeScalar(e.ManifoldCurvature, i.ManifoldCurvature),
	}
}
