package vocab

import (
	"strings"
	"unicode"
)

// Correction records one replaced phrase.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// Corrector rewrites transcribed text so that near-misses of vocabulary
// terms use the term's canonical spelling.
type Corrector struct {
	m *Matcher
}

// NewCorrector returns a Corrector over terms. With no usable terms, Correct
// returns its input unchanged.
func NewCorrector(terms []string, opts ...Option) *Corrector {
	return &Corrector{m: NewMatcher(terms, opts...)}
}

// Correct scans text left to right, preferring the longest window of words
// that matches a term. Punctuation around a window is preserved; a window
// with punctuation between its words is not considered. Whitespace is
// normalised to single spaces when anything is replaced.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.m.Len() == 0 {
		return text, nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n, repl, score, ok := c.longestMatch(words[i:])
		if !ok {
			out = append(out, words[i])
			i++
			continue
		}
		original := strings.Join(words[i:i+n], " ")
		if repl != original {
			corrections = append(corrections, Correction{Original: original, Corrected: repl, Score: score})
		}
		out = append(out, repl)
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// longestMatch tries windows over the start of words, longest first, and
// returns the number of words consumed and their replacement. Windows may be
// one word longer than the longest term so that a term the engine split in
// two ("post gres") is joined again.
func (c *Corrector) longestMatch(words []string) (n int, repl string, score float64, ok bool) {
	for n = min(c.m.MaxWords()+1, len(words)); n >= 1; n-- {
		lead, core, trail, clean := window(words[:n])
		if !clean {
			continue
		}
		match, s, matched := c.m.Match(core)
		if !matched {
			continue
		}
		return n, lead + match + trail, s, true
	}
	return 0, "", 0, false
}

// window splits the leading punctuation of the first word and the trailing
// punctuation of the last word from the phrase. clean is false when any
// other word boundary carries punctuation.
func window(words []string) (lead, core, trail string, clean bool) {
	parts := make([]string, len(words))
	for i, w := range words {
		l, c, t := splitPunct(w)
		if (i > 0 && l != "") || (i < len(words)-1 && t != "") || c == "" {
			return "", "", "", false
		}
		if i == 0 {
			lead = l
		}
		if i == len(words)-1 {
			trail = t
		}
		parts[i] = c
	}
	return lead, strings.Join(parts, " "), trail, true
}

func splitPunct(w string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(w, unicode.IsPunct)
	lead = w[:len(w)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
