package service

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxPromptInput bounds user text embedded in a stage prompt.
const maxPromptInput = 8000

// roleMarkers are line prefixes a model may read as a turn boundary.
var roleMarkers = []string{
	"system:", "assistant:", "user:", "tool:",
	"[system]", "[assistant]", "[inst]",
	"<|system|>", "<|assistant|>", "<|im_start|>", "<|im_end|>",
	"### system", "### assistant", "### instruction",
}

// quotePrompt prepares user text for embedding in a build stage prompt.
// Control characters are dropped, lines opening with a role marker are
// prefixed so they read as data, and overlong text is cut.
func quotePrompt(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, m := range roleMarkers {
			if strings.HasPrefix(lower, m) {
				lines[i] = "(quoted) " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if len(s) > maxPromptInput {
		s = truncateRunes(s, maxPromptInput) + " [cut]"
	}
	return s
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
