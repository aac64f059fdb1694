// Package keyword matches transcript text against a watch list of keywords
// and phrases.
//
// Matching is a pure function of the text. It proceeds in two stages:
//
//  1. Exact stage: a case-insensitive substring test. An exact hit scores 1.0
//     and suppresses the fuzzy stage for that keyword, so one utterance never
//     reports the same keyword twice.
//
//  2. Fuzzy stage: the transcript is scanned in word windows the size of the
//     keyword, and each window is ranked by Jaro-Winkler similarity. Double
//     Metaphone codes gate the acceptance threshold: a window that sounds
//     like the keyword is accepted at the lower phonetic threshold, anything
//     else must clear the stricter fuzzy threshold. This catches the typical
//     recognition misspellings ("fyre", "braking news") without flagging
//     unrelated words.
package keyword

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/streamwatch/pkg/types"
)

const (
	defaultFuzzyThreshold    = 0.85
	defaultPhoneticThreshold = 0.70
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a
// window with no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// window that phonetically overlaps the keyword. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// Matcher checks transcript text against a fixed watch list. All methods are
// safe for concurrent use; the Matcher is read-only after construction.
type Matcher struct {
	keywords          []string
	fuzzyThreshold    float64
	phoneticThreshold float64
}

// New returns a Matcher for the given watch list. Blank keywords are dropped;
// the rest are matched case-insensitively.
func New(keywords []string, opts ...Option) *Matcher {
	m := &Matcher{
		fuzzyThreshold:    defaultFuzzyThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			m.keywords = append(m.keywords, kw)
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Keywords returns the active watch list.
func (m *Matcher) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}

// Check returns every keyword the text matches: exact substring hits first,
// then fuzzy hits for the remaining keywords. A nil result means no match.
func (m *Matcher) Check(text string) []types.KeywordMatch {
	text = strings.TrimSpace(text)
	if text == "" || len(m.keywords) == 0 {
		return nil
	}
	textLower := strings.ToLower(text)
	tokens := strings.Fields(textLower)

	var results []types.KeywordMatch
	exact := make(map[string]bool, len(m.keywords))

	for _, kw := range m.keywords {
		if strings.Contains(textLower, strings.ToLower(kw)) {
			results = append(results, types.KeywordMatch{
				Keyword: kw,
				Type:    types.MatchExact,
				Score:   1,
			})
			exact[kw] = true
		}
	}

	for _, kw := range m.keywords {
		if exact[kw] {
			continue
		}
		if score, ok := m.fuzzyScore(tokens, strings.ToLower(kw)); ok {
			results = append(results, types.KeywordMatch{
				Keyword: kw,
				Type:    types.MatchFuzzy,
				Score:   score,
			})
		}
	}
	return results
}

// fuzzyScore slides a window of the keyword's token count across the text and
// returns the best accepted Jaro-Winkler score.
func (m *Matcher) fuzzyScore(tokens []string, kw string) (float64, bool) {
	kwTokens := strings.Fields(kw)
	if len(kwTokens) == 0 || len(tokens) < len(kwTokens) {
		return 0, false
	}
	kwCodes := metaphoneCodes(kwTokens)

	var best float64
	var found bool
	for i := 0; i+len(kwTokens) <= len(tokens); i++ {
		window := tokens[i : i+len(kwTokens)]
		score := windowScore(window, kwTokens, kw)

		threshold := m.fuzzyThreshold
		if codesOverlap(kwCodes, metaphoneCodes(window)) {
			threshold = m.phoneticThreshold
		}
		if score >= threshold && score > best {
			best = score
			found = true
		}
	}
	return best, found
}

// windowScore is the best Jaro-Winkler similarity between the window and the
// keyword: the spaced form, plus the concatenated form for recognizers that
// merge or split words.
func windowScore(window, kwTokens []string, kw string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), kw, false)
	if len(kwTokens) > 1 {
		concat := strings.Join(window, "")
		kwConcat := strings.Join(kwTokens, "")
		if s := matchr.JaroWinkler(concat, kwConcat, false); s > score {
			score = s
		}
	}
	return score
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
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

// codesOverlap reports whether the two code sets share at least one code.
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
