package prompt

import "strings"

// Phrases that commonly appear in prompt-injection attempts. Matching is
// substring, case-insensitive, per line.
var blockedPhrases = []string{
	"ignore previous", "you are now", "system:", "assistant:",
	"forget previous", "# system:", "// system:", "human:", "user:", "bot:",
	"override", "bypass", "admin", "root", "sudo",
	"new instructions", "disregard", "ignore all",
	"role-play", "act as", "pretend to be",
	"developer mode", "debug mode", "unsafe mode",
}

var commentPrefixes = []string{"//", "#", "/*", "*"}

// Sanitize strips lines likely to carry prompt-injection text before the code
// reaches the model: lines containing a blocked phrase and comment lines.
// This is best effort filtering, not a security boundary.
func Sanitize(raw string) string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		l := strings.ToLower(strings.TrimSpace(line))
		if containsBlocked(l) {
			continue
		}
		if hasCommentPrefix(l) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func containsBlocked(line string) bool {
	for _, p := range blockedPhrases {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func hasCommentPrefix(line string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
