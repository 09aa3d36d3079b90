// Package classify implements the ingredient compliance rule engine.
package classify

import (
	"regexp"
	"strings"
)

// markerPattern matches the first vitamin, mineral or supplement entry in an
// ingredient list. Entries from this vocabulary onward legitimately contain
// trace amounts of otherwise-flagged substances (e.g. "potassium chloride")
// and by labeling convention appear after the principal ingredients, so only
// the text before the first match is evaluated.
var markerPattern = regexp.MustCompile(
	"(mineral)|(vitamin)|(zinc)|(supplement)|(calcium)|(phosphorus)|(potassium)|(sodium)|" +
		"(magnesium)|(sulfer)|(sulfur)|(iron)|(iodine)|(selenium)|(copper)|(salt)|(chloride)|" +
		"(choline)|(lysine)|(taurine)",
)

// disallowedPattern matches ingredients flagged by the dietary guidelines.
// Matching is substring-based on purpose: "pea" also covers "peas" and
// "pea protein".
var disallowedPattern = regexp.MustCompile("(pea)|(bean)|(lentil)|(potato)|(seed)|(soy)")

// Compliant reports whether an ingredient list's main ingredients, the
// prefix before the first vitamin/mineral/supplement entry, contain no
// disallowed terms. When no marker matches, the entire text is the prefix.
func Compliant(ingredients string) bool {
	text := strings.ToLower(ingredients)
	main := text
	if loc := markerPattern.FindStringIndex(text); loc != nil {
		main = text[:loc[0]]
	}
	return !disallowedPattern.MatchString(main)
}
