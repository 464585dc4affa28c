package heal

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fenceRe       = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
	openFenceRe   = regexp.MustCompile("```[A-Za-z0-9_+-]*")
	vendorTokenRe = regexp.MustCompile(`<\|[^|<>]{1,32}\|>|</?(?:tool_call|function_call|tool_use)>|\[/?TOOL_CALLS\]`)
	callWrapperRe = regexp.MustCompile(`(?s)^[A-Za-z_][\w.]*\s*\(\s*(.*)\s*\)\s*;?$`)
)

// stripWrappers removes code fences, vendor delimiter tokens and call
// wrappers, then narrows the text to its first balanced bracket span.
func stripWrappers(s string) string {
	out := vendorTokenRe.ReplaceAllString(s, "")
	if m := fenceRe.FindStringSubmatch(out); m != nil {
		out = m[1]
	} else {
		out = openFenceRe.ReplaceAllString(out, "")
	}
	out = strings.TrimSpace(out)
	if m := callWrapperRe.FindStringSubmatch(out); m != nil {
		out = strings.TrimSpace(m[1])
	}
	if span, ok := balancedSpan(out); ok {
		out = span
	}
	return out
}

// repairStructure closes unterminated strings and brackets, drops trailing
// separators and inserts separators between adjacent values.
func repairStructure(s string) string {
	return insertMissingSeparators(removeTrailingSeparators(closeUnmatched(s)))
}

func closeUnmatched(s string) string {
	rs := []rune(s)
	var st strState
	brackets, braces := 0, 0
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.feed(r) {
			continue
		}
		if end := commentEnd(rs, i); end >= 0 {
			i = end - 1
			continue
		}
		switch r {
		case '[':
			brackets++
		case ']':
			brackets--
		case '{':
			braces++
		case '}':
			braces--
		}
	}
	if !st.inString() && brackets <= 0 && braces <= 0 {
		return s
	}

	out := rs
	if st.inString() {
		if st.escaped {
			out = out[:len(out)-1]
		}
		out = append(out, st.quote)
	}
	out = []rune(strings.TrimRightFunc(string(out), unicode.IsSpace))
	switch lastSignificant(out) {
	case ':':
		out = append(out, []rune("null")...)
	case ',':
		out = out[:len(out)-1]
	}
	// Arrays usually nest inside the trailing object, so they close first.
	for ; brackets > 0; brackets-- {
		out = append(out, ']')
	}
	for ; braces > 0; braces-- {
		out = append(out, '}')
	}
	return string(out)
}

func removeTrailingSeparators(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	var st strState
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.feed(r) {
			out = append(out, r)
			continue
		}
		if end := commentEnd(rs, i); end >= 0 {
			out = append(out, rs[i:end]...)
			i = end - 1
			continue
		}
		if r == ',' && closerFollows(rs, i+1) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// closerFollows reports whether only whitespace and comments separate rs[j:]
// from a closing bracket.
func closerFollows(rs []rune, j int) bool {
	for j < len(rs) {
		switch {
		case isSpace(rs[j]):
			j++
		case commentEnd(rs, j) >= 0:
			j = commentEnd(rs, j)
		default:
			return isCloser(rs[j])
		}
	}
	return false
}

func insertMissingSeparators(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+4)
	var st strState
	prevEnd, sawSpace := false, false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if !st.inString() {
			if end := commentEnd(rs, i); end >= 0 {
				out = append(out, rs[i:end]...)
				i = end - 1
				sawSpace = true
				continue
			}
		}
		wasIn := st.inString()
		opened := st.feed(r) && !wasIn
		if wasIn {
			out = append(out, r)
			if !st.inString() {
				prevEnd, sawSpace = true, false
			}
			continue
		}
		if opened {
			if prevEnd {
				out = append(out, ',')
			}
			out = append(out, r)
			continue
		}
		switch {
		case isSpace(r):
			sawSpace = true
			out = append(out, r)
			continue
		case isOpener(r):
			if prevEnd {
				out = append(out, ',')
			}
			prevEnd = false
		case isCloser(r):
			prevEnd = true
		case isIdentPart(r) || r == '.' || r == '+':
			if prevEnd && sawSpace {
				out = append(out, ',')
			}
			prevEnd = true
		default:
			prevEnd = false
		}
		sawSpace = false
		out = append(out, r)
	}
	return string(out)
}

// normalizeQuotes maps typographic string delimiters to ASCII, converts
// single-quoted strings to double-quoted ones and quotes bare object keys.
func normalizeQuotes(s string) string {
	return quoteBareKeys(singleToDouble(straightenDelimiters(s)))
}

// straightenDelimiters replaces typographic quotes that open or close a
// string. Typographic quotes inside a string are text and stay as written.
func straightenDelimiters(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	var st strState
	for _, r := range rs {
		wasIn := st.inString()
		st.feed(r)
		if q := quoteClass(r); q != 0 && wasIn != st.inString() {
			r = q
		}
		out = append(out, r)
	}
	return string(out)
}

func singleToDouble(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	var inDouble, inSingle, escaped bool
	for _, r := range rs {
		switch {
		case inDouble:
			out = append(out, r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inDouble = false
			}
		case inSingle:
			switch {
			case escaped:
				escaped = false
				if r == '\'' {
					out[len(out)-1] = '\''
					continue
				}
				out = append(out, r)
			case r == '\\':
				escaped = true
				out = append(out, r)
			case r == '\'':
				inSingle = false
				out = append(out, '"')
			case r == '"':
				out = append(out, '\\', '"')
			default:
				out = append(out, r)
			}
		default:
			switch r {
			case '"':
				inDouble = true
				out = append(out, r)
			case '\'':
				inSingle = true
				out = append(out, '"')
			default:
				out = append(out, r)
			}
		}
	}
	return string(out)
}

func quoteBareKeys(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+8)
	var st strState
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.feed(r) {
			out = append(out, r)
			continue
		}
		if isIdentStart(r) {
			if prev := lastSignificant(out); prev == '{' || prev == ',' {
				j := i
				for j < len(rs) && isIdentPart(rs[j]) {
					j++
				}
				k := j
				for k < len(rs) && isSpace(rs[k]) {
					k++
				}
				if k < len(rs) && rs[k] == ':' {
					out = append(out, '"')
					out = append(out, rs[i:j]...)
					out = append(out, '"')
					i = j - 1
					continue
				}
			}
		}
		out = append(out, r)
	}
	return string(out)
}

var literalSpellings = map[string]string{
	"True": "true", "TRUE": "true",
	"False": "false", "FALSE": "false",
	"None": "null", "NULL": "null", "Null": "null", "nil": "null", "undefined": "null",
}

// cleanLiterals strips comments, maps alternate boolean and null spellings to
// canonical JSON and trims surrounding whitespace.
func cleanLiterals(s string) string {
	return strings.TrimSpace(canonicalLiterals(stripComments(s)))
}

func stripComments(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	var st strState
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.feed(r) {
			out = append(out, r)
			continue
		}
		if end := commentEnd(rs, i); end >= 0 {
			i = end - 1
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func canonicalLiterals(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	var st strState
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if st.feed(r) {
			out = append(out, r)
			continue
		}
		if isIdentStart(r) {
			j := i
			for j < len(rs) && isIdentPart(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			if canon, ok := literalSpellings[word]; ok {
				word = canon
			}
			out = append(out, []rune(word)...)
			i = j - 1
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
