package dialog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// nothingFurtherPhrases end the call once the closing question has been
// asked. Matching is fuzzy because phone transcriptions misspell short
// answers constantly ("no thanks" → "no tanks").
var nothingFurtherPhrases = []string{
	"no",
	"nope",
	"no thanks",
	"no thank you",
	"nothing",
	"nothing else",
	"nothing further",
	"that is all",
	"that's all",
	"that's it",
	"i'm good",
	"all good",
	"we're done",
	"goodbye",
	"bye",
}

// jwThreshold is the Jaro-Winkler score above which a transcribed phrase
// counts as a match. Tuned against short utterances; longer thresholds miss
// one-word answers.
const jwThreshold = 0.92

// matchesNothingFurther reports whether msg is a "no more requests" answer.
func matchesNothingFurther(msg string) bool {
	norm := normalizePhrase(msg)
	if norm == "" {
		return false
	}
	for _, phrase := range nothingFurtherPhrases {
		if norm == phrase {
			return true
		}
		if matchr.JaroWinkler(norm, phrase, false) >= jwThreshold {
			return true
		}
	}
	return false
}

// normalizePhrase lowercases and strips punctuation so transcription
// artifacts don't defeat exact matches.
func normalizePhrase(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
