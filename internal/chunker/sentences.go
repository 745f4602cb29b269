package chunker

import (
	"strings"
	"unicode"
)

var commonAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "mt": {}, "vs": {}, "etc": {}, "no": {}, "vol": {}, "rev": {},
	"fig": {}, "al": {}, "inc": {}, "ltd": {}, "co": {}, "dept": {}, "est": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {}, "aug": {},
	"sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
	"a.m": {}, "p.m": {}, "e.g": {}, "i.e": {}, "u.s": {}, "u.k": {},
}

// cut is a candidate split offset into the source text. Text before Offset
// belongs to the earlier chunk.
type cut struct {
	Offset    int
	Paragraph bool
}

// boundaries returns sentence and paragraph split offsets in ascending order.
// Offsets index the original text; nothing is rewritten.
func boundaries(text string) []cut {
	var cuts []cut
	add := func(off int, para bool) {
		if off <= 0 || off >= len(text) {
			return
		}
		if n := len(cuts); n > 0 && cuts[n-1].Offset == off {
			cuts[n-1].Paragraph = cuts[n-1].Paragraph || para
			return
		}
		cuts = append(cuts, cut{Offset: off, Paragraph: para})
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\n' && i+1 < len(text) && isParagraphGap(text, i) {
			add(i, true)
			for i+1 < len(text) && isSpace(text[i+1]) {
				i++
			}
			continue
		}
		if !isSentencePunctuation(ch) {
			continue
		}
		if ch == '.' && shouldSkipPeriodSplit(text, i) {
			continue
		}
		if end, ok := sentenceEnd(text, i); ok {
			add(end, false)
		}
	}
	return cuts
}

// isParagraphGap reports whether the newline at idx starts a blank line.
func isParagraphGap(text string, idx int) bool {
	for j := idx + 1; j < len(text); j++ {
		switch text[j] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return false
}

func isSentencePunctuation(ch byte) bool {
	return ch == '.' || ch == '!' || ch == '?'
}

func shouldSkipPeriodSplit(text string, idx int) bool {
	// Ellipsis
	if (idx > 0 && text[idx-1] == '.') || (idx+1 < len(text) && text[idx+1] == '.') {
		return true
	}

	// Decimal numbers
	if idx > 0 && idx+1 < len(text) && isDigit(text[idx-1]) && isDigit(text[idx+1]) {
		return true
	}

	token := tokenBeforePeriod(text, idx)
	if token == "" {
		return false
	}

	// Initials ("J. R. Tolkien")
	if len(token) == 1 && isAlpha(token[0]) {
		return true
	}

	if _, ok := commonAbbreviations[strings.ToLower(token)]; ok {
		return true
	}
	return false
}

func tokenBeforePeriod(text string, idx int) string {
	i := idx - 1
	for i >= 0 && !isTokenBoundary(text[i]) {
		i--
	}
	return text[i+1 : idx]
}

// sentenceEnd returns the offset just past the punctuation at punctIdx and
// any closing quotes, if a new sentence follows.
func sentenceEnd(text string, punctIdx int) (int, bool) {
	i := punctIdx + 1
	for i < len(text) && isClosingPunctuation(text[i]) {
		i++
	}
	end := i
	if i >= len(text) {
		return end, true
	}
	if !isSpace(text[i]) {
		return 0, false
	}
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	if i >= len(text) {
		return end, true
	}
	return end, isLikelySentenceStart(text, i)
}

func isLikelySentenceStart(text string, idx int) bool {
	r := rune(text[idx])
	if unicode.IsUpper(r) || unicode.IsDigit(r) {
		return true
	}
	if isOpeningQuoteOrBracket(text[idx]) {
		j := idx + 1
		for j < len(text) && isOpeningQuoteOrBracket(text[j]) {
			j++
		}
		if j < len(text) {
			rr := rune(text[j])
			return unicode.IsUpper(rr) || unicode.IsDigit(rr)
		}
	}
	return false
}

func isTokenBoundary(ch byte) bool {
	return isSpace(ch) || ch == '"' || ch == '\'' || ch == '(' || ch == ')' || ch == '[' || ch == ']' || ch == '{' || ch == '}'
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isClosingPunctuation(ch byte) bool {
	switch ch {
	case '"', '\'', ')', ']', '}':
		return true
	default:
		return false
	}
}

func isOpeningQuoteOrBracket(ch byte) bool {
	switch ch {
	case '"', '\'', '(', '[', '{':
		return true
	default:
		return false
	}
}
