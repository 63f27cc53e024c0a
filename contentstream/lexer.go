package contentstream

import (
	"fmt"
	"strconv"
)

type TokenKind int

const (
	TokenNumber TokenKind = iota
	TokenName
	TokenString
	TokenHexString
	TokenKeyword
	TokenArrayStart
	TokenArrayEnd
	TokenDictStart
	TokenDictEnd
	// TokenInlineData is the raw payload between ID and EI.
	TokenInlineData
)

// Token is a lexical token with its byte span in the stream.
type Token struct {
	Kind       TokenKind
	Text       string
	Start, End int
}

// Float returns the value of a number token.
func (t Token) Float() (float64, bool) {
	if t.Kind != TokenNumber {
		return 0, false
	}
	v, err := strconv.ParseFloat(t.Text, 64)
	return v, err == nil
}

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumber(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case (c == '+' || c == '-') && i == 0:
		case c == '.':
		default:
			return false
		}
	}
	return digits > 0
}

// tokenize splits a content stream into tokens. Comments are dropped.
func tokenize(src []byte) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isWhite(c):
			i++
		case c == '%':
			for i < len(src) && src[i] != '\n' && src[i] != '\r' {
				i++
			}
		case c == '(':
			end, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokenString, Text: string(src[i:end]), Start: i, End: end})
			i = end
		case c == '<' && i+1 < len(src) && src[i+1] == '<':
			toks = append(toks, Token{Kind: TokenDictStart, Text: "<<", Start: i, End: i + 2})
			i += 2
		case c == '>' && i+1 < len(src) && src[i+1] == '>':
			toks = append(toks, Token{Kind: TokenDictEnd, Text: ">>", Start: i, End: i + 2})
			i += 2
		case c == '<':
			end := i + 1
			for end < len(src) && src[end] != '>' {
				end++
			}
			if end == len(src) {
				return nil, fmt.Errorf("unterminated hex string at %d", i)
			}
			toks = append(toks, Token{Kind: TokenHexString, Text: string(src[i : end+1]), Start: i, End: end + 1})
			i = end + 1
		case c == '[' || c == ']':
			kind := TokenArrayStart
			if c == ']' {
				kind = TokenArrayEnd
			}
			toks = append(toks, Token{Kind: kind, Text: string(c), Start: i, End: i + 1})
			i++
		case c == '/':
			end := i + 1
			for end < len(src) && !isWhite(src[end]) && !isDelim(src[end]) {
				end++
			}
			toks = append(toks, Token{Kind: TokenName, Text: string(src[i:end]), Start: i, End: end})
			i = end
		case c == ')' || c == '>':
			return nil, fmt.Errorf("unexpected %q at %d", c, i)
		case c == '{' || c == '}':
			toks = append(toks, Token{Kind: TokenKeyword, Text: string(c), Start: i, End: i + 1})
			i++
		default:
			end := i
			for end < len(src) && !isWhite(src[end]) && !isDelim(src[end]) {
				end++
			}
			text := string(src[i:end])
			kind := TokenKeyword
			if isNumber(text) {
				kind = TokenNumber
			}
			toks = append(toks, Token{Kind: kind, Text: text, Start: i, End: end})
			i = end
			if text == "ID" {
				data, next, err := scanInlineData(src, i)
				if err != nil {
					return nil, err
				}
				toks = append(toks, data)
				i = next
			}
		}
	}
	return toks, nil
}

// scanString returns the offset just past the literal string at start.
func scanString(src []byte, start int) (int, error) {
	depth := 0
	for i := start; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated string at %d", start)
}

// scanInlineData reads inline image bytes after ID up to the whitespace
// preceding EI.
func scanInlineData(src []byte, i int) (Token, int, error) {
	if i < len(src) && isWhite(src[i]) {
		i++
	}
	for j := i; j+1 < len(src); j++ {
		if src[j] != 'E' || src[j+1] != 'I' {
			continue
		}
		if j > i && !isWhite(src[j-1]) {
			continue
		}
		if j+2 < len(src) && !isWhite(src[j+2]) && !isDelim(src[j+2]) {
			continue
		}
		end := j
		if end > i {
			end-- // whitespace before EI
		}
		return Token{Kind: TokenInlineData, Text: string(src[i:end]), Start: i, End: end}, j, nil
	}
	return Token{}, 0, fmt.Errorf("inline image at %d has no EI", i)
}
