package search

import "regexp"

// sensitivePatterns catches the credential shapes most likely to leak into
// a tool's name/description/schema labels: API-key-looking tokens, emails,
// password literals, and bearer tokens. Mirrors the defensive posture the
// teacher's HTTP transport applies to its own error messages (never
// echoing a credential verbatim), generalized here into a reusable scan.
var sensitivePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"api_key", regexp.MustCompile(`(?i)\b(sk|pk|key|token)[-_][A-Za-z0-9]{16,}\b`)},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"password_literal", regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S+`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-_.]+`)},
}

// scanText returns one warning label per sensitive pattern matched in text.
func scanText(text string) []string {
	var warnings []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			warnings = append(warnings, p.name)
		}
	}
	return warnings
}
