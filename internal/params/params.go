// Package params finds the named parameter references (":name") in SQL text.
package params

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a parameter reference found in SQL text. Start and End are byte
// offsets of the whole token, including the leading colon.
type Token struct {
	Name       string
	Start, End int
}

// Scan returns the parameter references in text in order of appearance.
// References inside quoted literals, quoted identifiers and comments are
// ignored, and so is the PostgreSQL cast operator "::".
func Scan(text string) []Token {
	var toks []Token
	for i := 0; i < len(text); {
		switch c := text[i]; {
		case c == '\'' || c == '"':
			i = skipQuoted(text, i)
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			if n := strings.IndexByte(text[i:], '\n'); n >= 0 {
				i += n + 1
			} else {
				i = len(text)
			}
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			if n := strings.Index(text[i+2:], "*/"); n >= 0 {
				i += n + 4
			} else {
				i = len(text)
			}
		case c == ':':
			if strings.HasPrefix(text[i:], "::") {
				i += 2
				continue
			}
			end := skipName(text, i+1)
			if end > i+1 {
				toks = append(toks, Token{Name: text[i+1 : end], Start: i, End: end})
			}
			if end == i+1 {
				end++
			}
			i = end
		default:
			i++
		}
	}
	return toks
}

// skipQuoted returns the offset just past the literal starting at i. Doubled
// quotes are escapes. An unterminated literal extends to the end of text.
func skipQuoted(text string, i int) int {
	q := text[i]
	for i++; i < len(text); i++ {
		if text[i] != q {
			continue
		}
		if i+1 < len(text) && text[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(text)
}

// skipName returns the offset just past the identifier starting at i, or i
// if there is none.
func skipName(text string, i int) int {
	start := i
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !(unicode.IsLetter(r) || r == '_' || (i > start && unicode.IsDigit(r))) {
			break
		}
		i += size
	}
	return i
}

// Set is a case-insensitive set of parameter names that remembers the
// spelling and order in which each name was first seen.
type Set struct {
	names []string
	keys  map[string]bool
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{keys: map[string]bool{}}
}

// Add adds name to the set unless a name differing only in case is already
// present.
func (s *Set) Add(name string) {
	key := strings.ToLower(name)
	if s.keys[key] {
		return
	}
	s.keys[key] = true
	s.names = append(s.names, name)
}

// Names returns the members in first-seen order and spelling.
func (s *Set) Names() []string {
	return append([]string{}, s.names...)
}

// Len returns the size of the set.
func (s *Set) Len() int {
	return len(s.names)
}

// Names returns the distinct parameters referenced in text.
func Names(text string) *Set {
	s := NewSet()
	for _, tok := range Scan(text) {
		s.Add(tok.Name)
	}
	return s
}

// Rewrite returns text with every reference to name (ignoring case) renamed
// to its spelling followed by suffix, so ":id" becomes ":id0" for suffix "0".
func Rewrite(text, name, suffix string) string {
	var b strings.Builder
	last := 0
	for _, tok := range Scan(text) {
		if !strings.EqualFold(tok.Name, name) {
			continue
		}
		b.WriteString(text[last:tok.End])
		b.WriteString(suffix)
		last = tok.End
	}
	b.WriteString(text[last:])
	return b.String()
}
