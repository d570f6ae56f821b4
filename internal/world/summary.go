package world

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlasworld/atlas/internal/denizen"
)

// recentLimit caps how many recent entries the digest spells out in full.
const recentLimit = 5

// Summarize condenses the full catalogue into a bounded textual digest:
// counts by type and allegiance, the set of discovered domains, the most
// recent additions, and the full name list. Digest size grows with the
// number of distinct domains and names but never with per-entity detail,
// so it stays prompt-safe for large catalogues.
func Summarize(all []denizen.Denizen) string {
	if len(all) == 0 {
		return "The catalogue is empty. No denizens have been archived yet."
	}

	byType := map[denizen.EntityType]int{}
	byAllegiance := map[denizen.Allegiance]int{}
	domainSet := map[string]struct{}{}
	names := make([]string, 0, len(all))
	for _, d := range all {
		byType[d.Type]++
		byAllegiance[d.Allegiance]++
		if d.Domain != "" {
			domainSet[d.Domain] = struct{}{}
		}
		names = append(names, d.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The catalogue holds %d denizens.\n", len(all))

	b.WriteString("By type: ")
	b.WriteString(countLine(byType))
	b.WriteString("\nBy allegiance: ")
	b.WriteString(countLine(byAllegiance))

	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	if len(domains) > 0 {
		b.WriteString("\nKnown domains: ")
		b.WriteString(strings.Join(domains, ", "))
	}

	// Callers list newest first; show the head as recent additions.
	recent := all
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	b.WriteString("\nRecent additions:")
	for _, d := range recent {
		fmt.Fprintf(&b, "\n- %s (%s, %s)", d.Name, d.Type, d.Allegiance)
		if d.Subtitle != "" {
			fmt.Fprintf(&b, ", %q", d.Subtitle)
		}
	}

	b.WriteString("\nAll known names: ")
	b.WriteString(strings.Join(names, ", "))
	return b.String()
}

func countLine[K ~string](counts map[K]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[K(k)]))
	}
	return strings.Join(parts, ", ")
}
