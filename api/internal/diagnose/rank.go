package diagnose

import (
	"sort"
	"strings"
)

const maxRankedConditions = 5

// RankConditions builds a consensus ranking from the expert texts: conditions
// mentioned by more experts rank first. Used as the deterministic fallback
// when the aggregation model returns nothing usable, and to cap the list at
// five entries.
func RankConditions(expertTexts []string, limit int) []string {
	if limit <= 0 {
		limit = maxRankedConditions
	}

	type entry struct {
		display string
		count   int
		first   int
	}
	seen := make(map[string]*entry)
	order := 0

	for _, text := range expertTexts {
		counted := make(map[string]bool)
		for _, c := range splitConditions(text) {
			key := strings.ToLower(c)
			if counted[key] {
				continue
			}
			counted[key] = true
			if e, ok := seen[key]; ok {
				e.count++
			} else {
				seen[key] = &entry{display: c, count: 1, first: order}
				order++
			}
		}
	}

	entries := make([]*entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].first < entries[j].first
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.display)
	}
	return out
}

// ParseRankedList cleans a model-produced comma-separated list: trims, drops
// empties and duplicates, caps the length.
func ParseRankedList(s string, limit int) []string {
	if limit <= 0 {
		limit = maxRankedConditions
	}
	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, part := range splitConditions(s) {
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, part)
		if len(out) == limit {
			break
		}
	}
	return out
}

func splitConditions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimLeft(f, "-*•0123456789. ")
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
