package tools

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Thresholds for [Closest]. A candidate that shares a Double Metaphone code
// with the requested name needs phoneticThreshold; any other candidate needs
// fuzzyThreshold.
const (
	phoneticThreshold = 0.80
	fuzzyThreshold    = 0.88
)

// Closest returns the candidate most similar to name, or false when nothing
// is close enough. Names are compared as lowercase word lists, so
// "readFile", "read-file" and "read_file" are equivalent. Similarity is
// Jaro-Winkler on the joined words; a phonetic overlap between any two words
// lowers the bar.
func Closest(name string, candidates []string) (string, bool) {
	in := nameTokens(name)
	if len(in) == 0 {
		return "", false
	}
	inCodes := codesForTokens(in)

	var (
		best        string
		bestScore   float64
		bestPhoneme bool
	)
	for _, c := range candidates {
		ct := nameTokens(c)
		if len(ct) == 0 {
			continue
		}
		score := similarity(in, ct)
		phonetic := codesOverlap(inCodes, codesForTokens(ct))

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhoneme || score > bestScore {
				best, bestScore, bestPhoneme = c, score, true
			}
		case !bestPhoneme && score >= fuzzyThreshold && score > bestScore:
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

// nameTokens splits an identifier on separators and lower-to-upper case
// changes.
func nameTokens(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(unicode.ToLower(r))
		default:
			cur.WriteRune(unicode.ToLower(r))
		}
		prev = r
	}
	flush()
	return tokens
}

// similarity is the better of the spaced and the concatenated Jaro-Winkler
// scores.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if s := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); s > score {
		score = s
	}
	return score
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
