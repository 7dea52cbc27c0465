package knowledge

import (
	"regexp"
	"strings"
	"unicode"
)

// maxFactLength bounds sanitized fact text used in derived strings such as
// status reasons. Agent-authored text is untrusted input.
const maxFactLength = 500

// controlTokenRe matches embedded model control-token sequences like
// <|im_start|> that must never flow into derived text.
var controlTokenRe = regexp.MustCompile(`<\|[^|>]*\|>`)

// SanitizeFact strips control characters and embedded control-token
// sequences from agent-authored fact text and truncates it to maxFactLength
// runes. Newlines and tabs collapse to single spaces.
func SanitizeFact(s string) string {
	s = controlTokenRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(out)
	if len(runes) > maxFactLength {
		out = string(runes[:maxFactLength])
	}
	return out
}
