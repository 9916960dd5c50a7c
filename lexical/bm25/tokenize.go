package bm25

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultStopwords is the built-in English stop-word list.
var DefaultStopwords = newSet(
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
	"to", "was", "will", "with", "this", "but", "they", "have",
	"had", "what", "when", "where", "who", "which", "why", "how",
)

func newSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits text into index terms using the index options.
func (idx *MemoryIndex) Tokenize(text string) []string {
	return tokenize(text, idx.opts.Stopwords, idx.opts.Stemming)
}

func tokenize(text string, stopwords map[string]struct{}, stemming bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !isWordRune(r) })

	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if stemming {
			f = Stem(f)
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Stem applies the first matching suffix rule: ies→y, es→"", s→"" (not ss),
// ed→"", ing→"", ly→"". It is not a Porter stemmer.
func Stem(word string) string {
	switch {
	case strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "es"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	case strings.HasSuffix(word, "ed"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case strings.HasSuffix(word, "ly"):
		return word[:len(word)-2]
	}
	return word
}
