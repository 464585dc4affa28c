package service

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
)

// Issue codes reported by the static tester.
const (
	IssueEmptyOutput     = "empty_output"
	IssueNoHTMLRoot      = "no_html_root"
	IssueTruncated       = "truncated"
	IssueEmptyBody       = "empty_body"
	IssueNoScript        = "no_script"
	IssueNoTitle         = "no_title"
	IssueNoViewport      = "no_viewport"
	IssueNoDoctype       = "no_doctype"
	IssueInlineHandlers  = "inline_handlers"
	IssueImgNoAlt        = "img_no_alt"
	IssueNoInputHandling = "no_input_handling"
)

// StaticTester validates generated HTML without executing it.
type StaticTester struct{}

// NewStaticTester creates a static HTML tester.
func NewStaticTester() *StaticTester { return &StaticTester{} }

// Test implements Tester. Every artifact ending in .html is checked; the
// findings of all of them are merged into one result.
func (t *StaticTester) Test(_ context.Context, plan build.Plan, artifacts []build.Artifact) (build.TestResult, error) {
	var findings []build.Issue
	var bonuses []string
	checked := 0
	for _, a := range artifacts {
		if !strings.HasSuffix(strings.ToLower(a.Path), ".html") {
			continue
		}
		checked++
		f, b := inspectHTML(a.Content, plan.Type == "game")
		findings = append(findings, f...)
		bonuses = append(bonuses, b...)
	}
	if checked == 0 {
		findings = append(findings, build.Issue{Code: IssueEmptyOutput, Message: "no HTML document was produced", Critical: true})
	}
	return build.NewTestResult(findings, uniqueStrings(bonuses)), nil
}

type htmlFacts struct {
	root, title, viewport, lang bool
	bodyContent                 bool
	scripts                     []string
	styles                      strings.Builder
	inlineHandlers              int
	imgNoAlt                    int
	semantic                    bool
}

func inspectHTML(src string, game bool) (findings []build.Issue, bonuses []string) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return []build.Issue{{Code: IssueEmptyOutput, Message: "the document is empty", Critical: true}}, nil
	}
	lower := strings.ToLower(trimmed)

	doc, err := html.Parse(strings.NewReader(trimmed))
	if err != nil {
		return []build.Issue{{Code: IssueNoHTMLRoot, Message: "the document could not be parsed: " + err.Error(), Critical: true}}, nil
	}
	// The parser synthesizes <html> and <body>, so presence is judged on the
	// source text and the parse tree supplies content.
	var facts htmlFacts
	facts.root = strings.Contains(lower, "<html")
	walkHTML(doc, &facts)

	critical := func(code, msg string) {
		findings = append(findings, build.Issue{Code: code, Message: msg, Critical: true})
	}
	warn := func(code, msg string) {
		findings = append(findings, build.Issue{Code: code, Message: msg})
	}

	if !facts.root {
		critical(IssueNoHTMLRoot, "missing <html> root element")
	}
	if !strings.Contains(lower, "</html>") {
		critical(IssueTruncated, "document ends before </html>; output was likely cut off")
	}
	if !facts.bodyContent {
		critical(IssueEmptyBody, "the <body> has no visible content")
	}
	scriptText := strings.Join(facts.scripts, "\n")
	if game && strings.TrimSpace(scriptText) == "" {
		critical(IssueNoScript, "a game needs inline JavaScript")
	}

	if !facts.title {
		warn(IssueNoTitle, "missing or empty <title>")
	}
	if !facts.viewport {
		warn(IssueNoViewport, "missing <meta name=\"viewport\">")
	}
	if !strings.HasPrefix(lower, "<!doctype html") {
		warn(IssueNoDoctype, "document does not start with <!DOCTYPE html>")
	}
	if facts.inlineHandlers > 0 {
		warn(IssueInlineHandlers, "inline on* attributes; attach listeners from script instead")
	}
	if facts.imgNoAlt > 0 {
		warn(IssueImgNoAlt, "<img> without alt text")
	}
	if game && scriptText != "" && !handlesInput(scriptText) {
		warn(IssueNoInputHandling, "the game script never listens for keyboard, pointer or touch input")
	}

	if strings.Contains(facts.styles.String(), "@media") {
		bonuses = append(bonuses, "responsive_styles")
	}
	if strings.Contains(scriptText, "requestAnimationFrame") {
		bonuses = append(bonuses, "animation_frame")
	}
	if facts.semantic {
		bonuses = append(bonuses, "semantic_layout")
	}
	if facts.lang {
		bonuses = append(bonuses, "lang_attribute")
	}
	return findings, bonuses
}

func walkHTML(n *html.Node, f *htmlFacts) {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), "on") && len(a.Key) > 2 {
				f.inlineHandlers++
			}
		}
		switch n.DataAtom {
		case atom.Html:
			if nodeAttr(n, "lang") != "" {
				f.lang = true
			}
		case atom.Title:
			if strings.TrimSpace(nodeText(n)) != "" {
				f.title = true
			}
		case atom.Meta:
			if strings.EqualFold(nodeAttr(n, "name"), "viewport") {
				f.viewport = true
			}
		case atom.Script:
			f.scripts = append(f.scripts, nodeText(n))
		case atom.Style:
			f.styles.WriteString(nodeText(n))
		case atom.Img:
			if _, ok := nodeAttrOK(n, "alt"); !ok {
				f.imgNoAlt++
			}
		case atom.Main, atom.Header, atom.Footer, atom.Nav, atom.Section, atom.Article:
			f.semantic = true
		case atom.Body:
			f.bodyContent = hasContent(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, f)
	}
}

// hasContent reports whether body holds text or any element other than
// script and style.
func hasContent(body *html.Node) bool {
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return true
			}
		case html.ElementNode:
			if c.DataAtom != atom.Script && c.DataAtom != atom.Style {
				return true
			}
		}
	}
	return false
}

var inputEvents = []string{"keydown", "keyup", "keypress", "click", "pointerdown", "mousedown", "touchstart", "mousemove", "pointermove"}

func handlesInput(script string) bool {
	s := strings.ToLower(script)
	for _, ev := range inputEvents {
		if strings.Contains(s, ev) {
			return true
		}
	}
	return false
}

func nodeAttr(n *html.Node, key string) string {
	v, _ := nodeAttrOK(n, key)
	return v
}

func nodeAttrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
