package resource

import "strings"

// irregularPlurals covers the common English nouns the default
// suffix rules below get wrong. Not exhaustive — callers with an
// irregular resource name outside this table should pass an explicit
// name to Define instead of relying on Pluralize.
var irregularPlurals = map[string]string{
	"person":  "people",
	"child":   "children",
	"man":     "men",
	"woman":   "women",
	"mouse":   "mice",
	"goose":   "geese",
	"tooth":   "teeth",
	"foot":    "feet",
	"datum":   "data",
	"sheep":   "sheep",
	"species": "species",
}

var sibilantSuffixes = []string{"s", "ss", "sh", "ch", "x", "z"}

// Pluralize renders the pluralized, underscored form of a Go struct
// name (e.g. "WidgetOrder" -> "widget_orders"), the resource-name
// derivation spec.md §4.8 calls for. No inflection library is imported
// by any retrieved full example repo's source, so this is a documented
// stdlib-only exception (see DESIGN.md).
func Pluralize(structName string) string {
	return pluralizeWord(underscore(structName))
}

func underscore(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func pluralizeWord(word string) string {
	if word == "" {
		return word
	}
	if p, ok := irregularPlurals[word]; ok {
		return p
	}
	for _, suf := range sibilantSuffixes {
		if strings.HasSuffix(word, suf) {
			return word + "es"
		}
	}
	if strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(word[len(word)-2]) {
		return word[:len(word)-1] + "ies"
	}
	if strings.HasSuffix(word, "fe") {
		return word[:len(word)-2] + "ves"
	}
	if strings.HasSuffix(word, "f") {
		return word[:len(word)-1] + "ves"
	}
	return word + "s"
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}
