// Package assignee resolves the free-text assignee mentions produced by
// task extraction ("Иван и Мария", "ivan@example.com") to ClickUp user
// IDs. The directory of known names comes from the list's member roster,
// config overrides, and an alias table for alternate spellings.
package assignee

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/birchwoodlabs/voicetask/internal/clickup"
)

var (
	// combinedConjunctionRE collapses "и/или" and "and/or" forms to a single
	// conjunction before splitting. The guard groups emulate unicode word
	// boundaries, which RE2's ASCII-only \b cannot express for Cyrillic.
	combinedConjunctionRE = regexp.MustCompile(`(?i)(^|[^\pL\pN_])(?:и\s*/\s*или|and\s*/\s*or)($|[^\pL\pN_])`)
	separatorRE           = regexp.MustCompile(`[;,/&]`)
	spaceRE               = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases a name, trims it, and collapses internal
// whitespace. All directory keys and lookups go through this.
func NormalizeName(name string) string {
	return spaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// SplitMentions breaks free text into separate name fragments. Commas,
// semicolons, slashes and ampersands separate names, as do the standalone
// words "и" and "and" (case-insensitive); combined forms like "и/или"
// count as one conjunction.
func SplitMentions(text string) []string {
	text = combinedConjunctionRE.ReplaceAllString(text, "${1} и ${2}")
	var fragments []string
	for _, piece := range separatorRE.Split(text, -1) {
		fragments = append(fragments, splitConjunctions(piece)...)
	}
	return fragments
}

// splitConjunctions splits a fragment at standalone conjunction words,
// keeping multi-word names together.
func splitConjunctions(fragment string) []string {
	var out []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = current[:0]
		}
	}
	for _, word := range strings.Fields(fragment) {
		switch strings.ToLower(word) {
		case "и", "and":
			flush()
		default:
			current = append(current, word)
		}
	}
	flush()
	return out
}

// Directory maps normalized names to the ClickUp user IDs they stand for.
type Directory map[string][]int64

// Resolve maps mentions to user IDs. For each mention both the whole
// string and every split fragment are tried, so multi-word directory
// entries match before fragmentation. IDs are returned in first-seen
// order without duplicates; no match yields an empty result, never an
// error.
func (d Directory) Resolve(mentions []string, aliases map[string]string) []int64 {
	if len(mentions) == 0 || len(d) == 0 {
		return nil
	}

	var resolved []int64
	seen := make(map[int64]struct{})
	for _, mention := range mentions {
		candidates := append([]string{mention}, SplitMentions(mention)...)
		for _, candidate := range candidates {
			normalized := NormalizeName(candidate)
			if normalized == "" {
				continue
			}
			if canonical, ok := aliases[normalized]; ok {
				normalized = canonical
			}
			for _, id := range d[normalized] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				resolved = append(resolved, id)
			}
		}
	}
	return resolved
}

// Merge returns a directory with entries from overrides replacing entries
// of d that share a key. Neither input is modified.
func (d Directory) Merge(overrides Directory) Directory {
	merged := make(Directory, len(d)+len(overrides))
	for name, ids := range d {
		merged[name] = ids
	}
	for name, ids := range overrides {
		merged[name] = ids
	}
	return merged
}

// FromMembers builds a directory from a list's member roster. Every
// textual identifier of a member (handle, email, color tag, initials,
// first/last/full name) becomes a lookup key; members sharing a key have
// their IDs unioned in roster order.
func FromMembers(members []clickup.Member) Directory {
	dir := make(Directory)
	for _, m := range members {
		u := m.User
		if u.ID == 0 {
			continue
		}
		candidates := []string{u.Username, u.Email, u.Color, u.Initials}
		if u.Profile != nil {
			candidates = append(candidates, u.Profile.FirstName, u.Profile.LastName, u.Profile.FullName)
		}
		for _, candidate := range candidates {
			normalized := NormalizeName(candidate)
			if normalized == "" {
				continue
			}
			if !containsID(dir[normalized], u.ID) {
				dir[normalized] = append(dir[normalized], u.ID)
			}
		}
	}
	return dir
}

// FromOverrides builds a directory from the config assignees map. Values
// may be a single ID or a list; numeric strings are coerced and anything
// that cannot be read as an integer is dropped. Entries that end up with
// no IDs are dropped entirely.
func FromOverrides(raw map[string]interface{}) Directory {
	dir := make(Directory, len(raw))
	for name, value := range raw {
		normalized := NormalizeName(name)
		if normalized == "" {
			continue
		}

		values, ok := value.([]interface{})
		if !ok {
			values = []interface{}{value}
		}
		var ids []int64
		for _, v := range values {
			if id, ok := coerceID(v); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			dir[normalized] = ids
		}
	}
	return dir
}

// PrepareAliases normalizes both sides of the alias table, dropping pairs
// where either side normalizes to nothing.
func PrepareAliases(raw map[string]string) map[string]string {
	aliases := make(map[string]string, len(raw))
	for alias, canonical := range raw {
		aliasNorm := NormalizeName(alias)
		canonicalNorm := NormalizeName(canonical)
		if aliasNorm != "" && canonicalNorm != "" {
			aliases[aliasNorm] = canonicalNorm
		}
	}
	return aliases
}

func coerceID(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
