package util

import (
	"regexp"
	"strings"
)

var sentenceBoundaryRegex = regexp.MustCompile(`[.!?]+(\s+|$)|\n+`)

// RemoveDuplicatePhrases keeps the first occurrence of every phrase, comparing
// case-insensitively with all whitespace runs collapsed. Empty phrases are dropped.
func RemoveDuplicatePhrases(phrases []string) []string {
	present := make(map[string]bool)
	var list []string

	for _, phrase := range phrases {
		phrase = strings.Join(strings.Fields(phrase), " ")
		key := strings.ToLower(phrase)

		if key == "" || present[key] {
			continue
		}

		present[key] = true
		list = append(list, phrase)
	}

	return list
}

// SplitSentences splits free text on sentence terminators and line breaks.
func SplitSentences(text string) []string {
	var sentences []string

	for _, part := range sentenceBoundaryRegex.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			sentences = append(sentences, part)
		}
	}

	return sentences
}

// JoinSentences renders phrases as sentences, each terminated with a full stop.
func JoinSentences(phrases []string) string {
	var b strings.Builder

	for i, phrase := range phrases {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(phrase)
		if !strings.HasSuffix(phrase, ".") {
			b.WriteByte('.')
		}
	}

	return b.String()
}
