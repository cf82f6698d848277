package classify

import (
	"net/url"
	"path"
	"strings"
	"unicode"
)

// Classification labels an image's current alt text.
type Classification string

const (
	// Missing: the alt attribute is absent entirely.
	Missing Classification = "missing"
	// EmptyDecorative: alt="" on an image carrying a presentation-role
	// signal. Acceptable for scoring.
	EmptyDecorative Classification = "empty_decorative"
	// Poor: present but useless - empty without a decorative signal, the
	// image's own filename, or a generic token.
	Poor Classification = "poor"
	// Acceptable: present and not obviously useless.
	Acceptable Classification = "acceptable"
)

// genericAlts is the denylist of non-descriptive alt values, compared
// case-insensitively after trimming.
var genericAlts = map[string]struct{}{
	"image":       {},
	"photo":       {},
	"picture":     {},
	"img":         {},
	"icon":        {},
	"logo":        {},
	"graphic":     {},
	"banner":      {},
	"placeholder": {},
	"untitled":    {},
	"pic":         {},
	"thumbnail":   {},
}

// Classify applies the ordered rules. It is a pure function: same inputs,
// same label.
//
//  1. attribute absent -> Missing
//  2. empty string -> EmptyDecorative with a decorative signal, else Poor
//  3. filename-like or generic token or numeric-only -> Poor
//  4. otherwise -> Acceptable
func Classify(alt *string, imageURL string, decorative bool) Classification {
	if alt == nil {
		return Missing
	}

	trimmed := strings.TrimSpace(*alt)
	if trimmed == "" {
		if decorative {
			return EmptyDecorative
		}
		return Poor
	}

	lower := strings.ToLower(trimmed)
	if _, generic := genericAlts[lower]; generic {
		return Poor
	}
	if numericOnly(trimmed) {
		return Poor
	}
	if matchesFilename(lower, imageURL) {
		return Poor
	}

	return Acceptable
}

// matchesFilename reports whether the alt text equals the image's filename,
// compared case-insensitively with and without the extension.
func matchesFilename(lowerAlt, imageURL string) bool {
	u, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	base := strings.ToLower(path.Base(u.Path))
	if base == "" || base == "." || base == "/" {
		return false
	}
	if lowerAlt == base {
		return true
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	return stem != "" && lowerAlt == stem
}

func numericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
