// Package shingle turns document text into sketches: sets of hashed word
// n-grams used to compare documents for near-duplication.
package shingle

import (
	"strings"
	"unicode"
)

// Token represents a single normalised word and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize lower-cases text and splits it on every rune that is neither a
// letter nor a digit. Whitespace, punctuation and case differences therefore
// never change the resulting token sequence.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
	}
	return tokens
}

// Terms returns just the terms of Tokenize(text).
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}
