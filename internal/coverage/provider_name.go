package coverage

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// noiseWords are tokens that appear in KML labels and filenames but carry no
// provider identity. Comparison happens on folded text so accented variants
// are covered by their folded forms.
var noiseWords = map[string]bool{
	"cobertura":    true,
	"coverage":     true,
	"area":         true,
	"areas":        true,
	"mapa":         true,
	"map":          true,
	"kml":          true,
	"kmz":          true,
	"regiao":       true,
	"region":       true,
	"atendimento":  true,
	"viabilidade":  true,
	"zona":         true,
	"rede":         true,
	"fibra":        true,
	"final":        true,
	"atualizado":   true,
	"atualizada":   true,
	"novo":         true,
	"nova":         true,
	"v1":           true,
	"v2":           true,
	"v3":           true,
	"untitled":     true,
	"sem":          true,
	"titulo":       true,
	"placemark":    true,
	"polygon":      true,
	"poligono":     true,
	"camada":       true,
	"layer":        true,
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases and strips diacritics so "São Paulo Telecom" and
// "sao paulo telecom" compare equal.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Slugify converts a provider name to a URL-safe slug.
func Slugify(name string) string {
	folded := Fold(name)
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// NameCandidate is a provider name derived from a feature label or an
// uploaded filename, ordered from most to least reliable source.
type NameCandidate struct {
	Name   string
	Source string // "label" or "filename"
}

// InferNames derives candidate provider names from a feature label and the
// upload filename. Labels split on "-" and "|" keep only the first segment;
// the remainder usually names the sub-region ("Acme - Zona Norte"). An empty
// return means no provider identity could be derived and the feature needs
// manual review.
func InferNames(label, filename string) []NameCandidate {
	var candidates []NameCandidate
	if name := cleanCandidate(firstSegment(label)); name != "" {
		candidates = append(candidates, NameCandidate{Name: name, Source: "label"})
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name := cleanCandidate(firstSegment(base)); name != "" {
		candidates = append(candidates, NameCandidate{Name: name, Source: "filename"})
	}
	return candidates
}

// firstSegment returns the text before the first "-" or "|" separator.
// Hyphens inside words (no surrounding space) are kept.
func firstSegment(s string) string {
	for _, sep := range []string{" - ", " | ", "|", "–"} {
		if idx := strings.Index(s, sep); idx >= 0 {
			s = s[:idx]
		}
	}
	return s
}

// cleanCandidate strips noise words and collapses whitespace, preserving the
// original casing of kept tokens.
func cleanCandidate(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '.' {
			return ' '
		}
		return r
	}, s)

	var kept []string
	for _, token := range strings.Fields(s) {
		if noiseWords[Fold(token)] {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

// NamesMatch reports whether two provider names refer to the same provider,
// using folded substring containment. "Acme" matches "Acme Telecom"; the
// check also over-merges genuinely distinct providers sharing a prefix, so
// ambiguous catalogs should pass an explicit provider on upload.
func NamesMatch(a, b string) bool {
	fa, fb := Fold(a), Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	return strings.Contains(fa, fb) || strings.Contains(fb, fa)
}
