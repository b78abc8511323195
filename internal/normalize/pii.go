package normalize

import "regexp"

// piiPattern is one named scrub rule applied in a stable, fixed order so
// the result is independent of match order (§4.4 point 3).
type piiPattern struct {
	name string
	re   *regexp.Regexp
}

// defaultPIIPatterns is the fixed pattern set: email, phone, SSN,
// credit-card, IPv4.
var defaultPIIPatterns = []piiPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"phone", regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[\s\-]?){13,16}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\b`)},
}

const redactedPlaceholder = "[REDACTED]"

// ScrubPII replaces every match of the default patterns plus any custom
// regular expressions with "[REDACTED]". Patterns run in a fixed order;
// because each pass re-scans the already-partially-redacted text,
// substitutions never overlap and the result does not depend on which
// pattern happened to match first within a given pass.
func ScrubPII(text string, custom []*regexp.Regexp) string {
	out := text
	for _, p := range defaultPIIPatterns {
		out = p.re.ReplaceAllString(out, redactedPlaceholder)
	}
	for _, re := range custom {
		out = re.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}
