package writegate

import "regexp"

// secretPatterns is a denylist of common credential/secret shapes.
// Detection is purely pattern-driven; anything that needs entropy
// analysis or provider round-trips is out of scope for a write gate that
// runs on every candidate note.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*\S+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (RSA|EC|OPENSSH|PGP) PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), // SSN-shaped
}

func detectSecret(text string) (bool, string) {
	for _, p := range secretPatterns {
		if loc := p.FindStringIndex(text); loc != nil {
			return true, text[loc[0]:loc[1]]
		}
	}
	return false, ""
}

// Redact rewrites every denylist match with a fixed-width placeholder and
// reports whether anything was rewritten.
func Redact(text string) (string, bool) {
	hit := false
	out := text
	for _, p := range secretPatterns {
		if p.MatchString(out) {
			hit = true
			out = p.ReplaceAllString(out, "[REDACTED]")
		}
	}
	return out, hit
}
