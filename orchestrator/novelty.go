// ABOUTME: Frozen novelty tokenizer and token-overlap computation.
// ABOUTME: Tokens are lowercased [a-z0-9]+ runs with a small fixed stopword list removed.
package orchestrator

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// noveltyStopwords is a small, fixed stopword list: articles, conjunctions,
// and common auxiliary verbs. Frozen for test reproducibility; not meant to
// be a complete linguistic stopword list.
var noveltyStopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"and": true, "or": true, "but": true, "nor": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"do": true, "does": true, "did": true, "have": true, "has": true, "had": true,
	"it": true, "this": true, "that": true, "as": true,
}

// tokenize lowercases text, extracts alphanumeric runs, and drops stopwords.
// It returns the set of distinct tokens (duplicates collapse), matching the
// |A∩B| / min(|A|,|B|) overlap formula used by the registry.
func tokenize(text string) map[string]bool {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)
	set := make(map[string]bool, len(matches))
	for _, tok := range matches {
		if noveltyStopwords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

// tokenOverlap computes |A∩B| / min(|A|,|B|) over the tokenized forms of a
// and b. An empty tokenization on either side yields zero overlap (nothing to
// collide with).
func tokenOverlap(a, b string) float64 {
	setA := tokenize(a)
	setB := tokenize(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	small, large := setA, setB
	if len(setB) < len(setA) {
		small, large = setB, setA
	}
	for tok := range small {
		if large[tok] {
			shared++
		}
	}
	minLen := len(setA)
	if len(setB) < minLen {
		minLen = len(setB)
	}
	return float64(shared) / float64(minLen)
}

// maxOverlap returns the highest overlap of candidate against any of prior,
// along with the label of whichever prior answer produced it.
func maxOverlap(candidate string, prior []Answer) (float64, AnswerLabel) {
	var best float64
	var bestLabel AnswerLabel
	for _, a := range prior {
		o := tokenOverlap(candidate, a.Text)
		if o > best {
			best = o
			bestLabel = a.Label
		}
	}
	return best, bestLabel
}
