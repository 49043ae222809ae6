package discovery

import "strings"

const (
	packmindStart = "<!-- start: Packmind standards -->"
	packmindEnd   = "<!-- end: Packmind standards -->"
)

// StripPackmindBlock removes the content between the Packmind standards
// markers (inclusive) from s, used before comparing a colocated pair's two
// files for material differences.
func StripPackmindBlock(s string) string {
	start := strings.Index(s, packmindStart)
	if start == -1 {
		return s
	}
	end := strings.Index(s[start:], packmindEnd)
	if end == -1 {
		return s
	}
	end += start + len(packmindEnd)
	return s[:start] + s[end:]
}

// ConsistentPair reports whether two colocated files are materially
// identical: same content once the Packmind standards block is stripped and
// trailing whitespace/newlines are ignored. This is a test-only consistency
// checker, not part of the production discovery pipeline.
func ConsistentPair(canonical, alias string) bool {
	normalize := func(s string) string {
		return strings.TrimRight(StripPackmindBlock(s), " \t\r\n")
	}
	return normalize(canonical) == normalize(alias)
}
