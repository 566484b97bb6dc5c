package fulltext

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercased Unicode letter/digit runs and drops
// stop words. It is the single tokenization entrypoint used
// by both indexing and search so property 5 (tokenizer idempotence) holds
// trivially: re-tokenizing already-tokenized text is a no-op per token.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(f)
		if tok == "" || stopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}
