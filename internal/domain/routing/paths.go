package routing

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const extensions = `html?|css|js|mjs|ts|json|md|txt|svg`

var (
	urlRe      = regexp.MustCompile(`https?://[^\s"'<>()]+`)
	prefixedRe = regexp.MustCompile(`(?:^|[\s"'(\x60])((?:\./)?(?:[\w.-]+/)+[\w.-]+\.(?:` + extensions + `))(?:$|[\s"'),.;:!?\x60])`)
	bareRe     = regexp.MustCompile(`(?:^|[\s"'(\x60])([\w-]+\.(?:` + extensions + `))(?:$|[\s"'),.;:!?\x60])`)
	extRe      = regexp.MustCompile(`\.(?:` + extensions + `)$`)
)

// extractPaths returns file references ordered by precedence: explicit
// prefixed paths, then paths embedded in URLs, then bare filenames
// (auto-prefixed with contentDir).
func extractPaths(msg, contentDir string) []string {
	urls := urlRe.FindAllString(msg, -1)
	rest := urlRe.ReplaceAllString(msg, " ")

	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, m := range allSubmatches(prefixedRe, rest) {
		add(strings.TrimPrefix(m, "./"))
	}
	for _, raw := range urls {
		add(pathFromURL(raw, contentDir))
	}
	for _, m := range allSubmatches(bareRe, rest) {
		add(contentDir + m)
	}
	return out
}

// allSubmatches collects group 1 of every match. Matches share delimiters,
// so the text is rescanned after each hit to catch adjacent references.
func allSubmatches(re *regexp.Regexp, s string) []string {
	var out []string
	for {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			return out
		}
		out = append(out, s[loc[2]:loc[3]])
		s = s[loc[3]:]
	}
}

func pathFromURL(raw, contentDir string) string {
	u, err := url.Parse(strings.TrimRight(raw, ".,;:!?"))
	if err != nil {
		return ""
	}
	p := strings.TrimPrefix(u.Path, "/")
	if !extRe.MatchString(p) {
		return ""
	}
	if i := strings.Index(p, contentDir); i >= 0 {
		return p[i:]
	}
	return contentDir + path.Base(p)
}
