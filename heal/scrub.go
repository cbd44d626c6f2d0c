package heal

import "regexp"

// scrubPatterns matches the token shapes most likely to leak into a raw
// provider error payload: bearer tokens, common vendor API-key prefixes,
// and email addresses.
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{10,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{10,}`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

// scrub redacts likely-sensitive substrings from a raw error payload
// before it is handed to the heal model.
func scrub(raw string) string {
	out := raw
	for _, p := range scrubPatterns {
		out = p.ReplaceAllString(out, "[redacted]")
	}
	return out
}
