// Package vocab corrects near-miss spellings of known terms in transcribed
// text, such as project names the speech engine keeps mishearing.
//
// A candidate phrase is compared with every term:
//
//  1. A term whose Double Metaphone codes overlap the candidate's is
//     accepted when the Jaro-Winkler score reaches the phonetic threshold.
//  2. Otherwise a term is accepted on Jaro-Winkler alone when the score
//     reaches the higher fuzzy threshold.
//
// Candidates shorter than [MinLength] letters, and candidates whose length
// differs too much from the term, are never corrected.
package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90

	// MinLength is the shortest candidate, in letters, considered for
	// correction.
	MinLength = 3

	// minLengthRatio bounds how much shorter the candidate may be than the
	// term, or vice versa.
	minLengthRatio = 0.75
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetically matching
// term needs. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the Jaro-Winkler score a term needs without a
// phonetic match. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// term is a vocabulary entry with its precomputed match keys.
type term struct {
	text        string
	lower       string
	tokens      []string
	concat      string
	codes       map[string]struct{}
	concatCodes map[string]struct{}
}

func prepare(s string) (term, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return term{}, false
	}
	lower := strings.ToLower(s)
	tokens := strings.Fields(lower)
	concat := strings.Join(tokens, "")
	return term{
		text:        strings.Join(strings.Fields(s), " "),
		lower:       strings.Join(tokens, " "),
		tokens:      tokens,
		concat:      concat,
		codes:       codesFor(tokens),
		concatCodes: codesFor([]string{concat}),
	}, true
}

// Matcher picks the vocabulary term closest to a candidate phrase. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// NewMatcher prepares terms for matching. Blank terms are ignored.
func NewMatcher(terms []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, s := range terms {
		t, ok := prepare(s)
		if !ok {
			continue
		}
		m.terms = append(m.terms, t)
		m.maxWords = max(m.maxWords, len(t.tokens))
	}
	return m
}

// MaxWords returns the word count of the longest term.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Len returns the number of terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Match returns the term closest to phrase. When matched is false, term
// equals phrase and score is 0.
func (m *Matcher) Match(phrase string) (match string, score float64, matched bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	concat := strings.Join(tokens, "")
	if len(concat) < MinLength || len(m.terms) == 0 {
		return phrase, 0, false
	}
	codes := codesFor(tokens)
	concatCodes := codesFor([]string{concat})
	full := strings.Join(tokens, " ")

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range m.terms {
		if !comparableLength(len(concat), len(t.concat)) {
			continue
		}
		s := similarity(tokens, full, concat, t)
		// Word-level codes only line up when the word counts agree.
		phonetic := overlap(concatCodes, t.concatCodes) ||
			(len(tokens) == len(t.tokens) && overlap(codes, t.codes))
		switch {
		case phonetic && s >= m.phoneticThreshold:
			if !bestPhonetic || s > bestScore {
				best, bestScore, bestPhonetic = t.text, s, true
			}
		case !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore:
			best, bestScore = t.text, s
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// similarity is the best Jaro-Winkler score over the full phrase, the phrase
// with spaces removed, and (for equal word counts) the mean per-word score.
func similarity(tokens []string, full, concat string, t term) float64 {
	score := matchr.JaroWinkler(full, t.lower, false)
	if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
		score = s
	}
	if len(tokens) > 1 && len(tokens) == len(t.tokens) {
		var sum float64
		for i := range tokens {
			sum += matchr.JaroWinkler(tokens[i], t.tokens[i], false)
		}
		if s := sum / float64(len(tokens)); s > score {
			score = s
		}
	}
	return score
}

func comparableLength(a, b int) bool {
	lo, hi := min(a, b), max(a, b)
	return float64(lo) >= minLengthRatio*float64(hi)
}

// codesFor returns the union of the Double Metaphone codes of tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, tok := range tokens {
		p, s := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
