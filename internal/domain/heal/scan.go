package heal

// quoteClass folds straight and typographic quotes into the two delimiter
// classes the scanner understands. It returns 0 for non-quote runes.
func quoteClass(r rune) rune {
	switch r {
	case '"', '“', '”', '„', '‟':
		return '"'
	case '\'', '‘', '’', '‚', '‛':
		return '\''
	}
	return 0
}

// strState tracks whether a scanner is inside a string literal. A string
// opened by a straight quote closes only on that same quote, so typographic
// quotes and apostrophes in its text stay text. A string opened by a
// typographic quote closes on any quote of its class.
type strState struct {
	quote   rune
	curly   bool
	escaped bool
}

func (s *strState) inString() bool { return s.quote != 0 }

// feed advances the state by r and reports whether r belongs to a string
// literal, delimiters included.
func (s *strState) feed(r rune) bool {
	if s.quote != 0 {
		switch {
		case s.escaped:
			s.escaped = false
		case r == '\\':
			s.escaped = true
		case r == s.quote || (s.curly && quoteClass(r) == s.quote):
			s.quote, s.curly = 0, false
		}
		return true
	}
	if q := quoteClass(r); q != 0 {
		s.quote, s.curly = q, r != q
		return true
	}
	return false
}

func isOpener(r rune) bool { return r == '{' || r == '[' }

func isCloser(r rune) bool { return r == '}' || r == ']' }

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '-' || (r >= '0' && r <= '9')
}

// balancedSpan returns the first balanced {...} or [...] span of s. Braces
// inside string literals are ignored. When no balanced close exists the span
// runs to the end of s. ok is false when s has no opener at all.
func balancedSpan(s string) (span string, ok bool) {
	rs := []rune(s)
	start := -1
	var st strState
	depth := 0
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if start < 0 {
			if isOpener(r) {
				start = i
				depth = 1
			}
			continue
		}
		if st.feed(r) {
			continue
		}
		if end := commentEnd(rs, i); end >= 0 {
			i = end - 1
			continue
		}
		switch {
		case isOpener(r):
			depth++
		case isCloser(r):
			depth--
			if depth == 0 {
				return string(rs[start : i+1]), true
			}
		}
	}
	if start < 0 {
		return s, false
	}
	return string(rs[start:]), true
}

// lastSignificant returns the last non-space rune of out, or 0.
func lastSignificant(out []rune) rune {
	for i := len(out) - 1; i >= 0; i-- {
		if !isSpace(out[i]) {
			return out[i]
		}
	}
	return 0
}

// commentEnd returns the index just past a // or /* */ comment starting at
// rs[i], or -1 when no comment starts there.
func commentEnd(rs []rune, i int) int {
	if rs[i] != '/' || i+1 >= len(rs) {
		return -1
	}
	switch rs[i+1] {
	case '/':
		j := i + 2
		for j < len(rs) && rs[j] != '\n' {
			j++
		}
		return j
	case '*':
		for j := i + 2; j+1 < len(rs); j++ {
			if rs[j] == '*' && rs[j+1] == '/' {
				return j + 2
			}
		}
		return len(rs)
	}
	return -1
}
