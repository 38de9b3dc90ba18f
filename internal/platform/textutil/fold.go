package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Fold lowercases the input and strips combining diacritics so Vietnamese
// text matches unaccented queries ("Nguyễn" -> "nguyen"). The letter đ is
// mapped explicitly because it is not a combining form.
func Fold(value string) string {
	folded, _, err := transform.String(foldTransformer, strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	folded = strings.ReplaceAll(folded, "đ", "d")
	return folded
}

// SearchKeywords tokenises the provided values into a deduplicated set of
// folded keywords suitable for prefix matching in Firestore.
func SearchKeywords(values ...string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, value := range values {
		for _, token := range strings.Fields(Fold(value)) {
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			keywords = append(keywords, token)
		}
	}
	return keywords
}
