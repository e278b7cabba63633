package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	// The fuzzy fallback runs without phonetic evidence, and short phrases
	// sharing a first word already score high on Jaro-Winkler ("stop
	// believing" vs "stop listening" is ~0.87), so it needs a stricter bar.
	defaultFuzzyThreshold = 0.90
)

// DetectorOption is a functional option for configuring a Detector.
type DetectorOption func(*Detector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) DetectorOption {
	return func(d *Detector) { d.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the detector falls back to pure string
// similarity. Default: 0.90.
func WithFuzzyThreshold(threshold float64) DetectorOption {
	return func(d *Detector) { d.fuzzyThreshold = threshold }
}

// Detector recognises spoken stop phrases ("stop listening", "goodbye
// synchron") in user transcript fragments. Speech recognition mangles such
// phrases often enough — "stop lessening", "good bye sin chron" — that exact
// string matching misses them, so matching is phonetic first:
//
//  1. Double Metaphone codes are computed for each word of the fragment and
//     of each configured phrase. A phrase whose codes overlap the fragment's
//     becomes a candidate.
//  2. Candidates are ranked by Jaro-Winkler similarity over a sliding window
//     of fragment words the same length as the phrase; the best window score
//     must exceed the phonetic threshold.
//
// When no phonetic candidate exists, a stricter pure Jaro-Winkler pass runs
// as a fallback.
//
// All methods are safe for concurrent use — the Detector is read-only after
// construction.
type Detector struct {
	phrases           []phrase
	phoneticThreshold float64
	fuzzyThreshold    float64
}

type phrase struct {
	original string
	lower    string
	tokens   []string
	// tokenCodes holds the Double Metaphone codes of each phrase word
	// separately: a fragment is a phonetic candidate only when every phrase
	// word has a phonetic counterpart in it. Matching on a single shared
	// word ("stop" in "please stop the music") would fire far too easily.
	tokenCodes []map[string]struct{}
}

// NewDetector returns a Detector for the given stop phrases. Empty phrases
// are ignored.
func NewDetector(phrases []string, opts ...DetectorOption) *Detector {
	d := &Detector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	for _, p := range phrases {
		lower := strings.ToLower(strings.TrimSpace(p))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		tokenCodes := make([]map[string]struct{}, len(tokens))
		for i, t := range tokens {
			tokenCodes[i] = codesForTokens([]string{t})
		}
		d.phrases = append(d.phrases, phrase{
			original:   p,
			lower:      lower,
			tokens:     tokens,
			tokenCodes: tokenCodes,
		})
	}
	return d
}

// Detect reports whether the fragment contains one of the configured stop
// phrases, returning the matched phrase in its original spelling and the
// similarity score. When matched is false, matchedPhrase is empty and score
// is 0.
func (d *Detector) Detect(fragment string) (matchedPhrase string, score float64, matched bool) {
	if len(d.phrases) == 0 {
		return "", 0, false
	}
	lower := strings.ToLower(strings.TrimSpace(fragment))
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return "", 0, false
	}

	inputCodes := codesForTokens(tokens)

	var bestPhrase string
	var bestScore float64
	var bestPhonetic bool

	for _, p := range d.phrases {
		jw := bestWindowScore(tokens, p)
		phonetic := phoneticCandidate(inputCodes, p)

		if phonetic {
			if jw >= d.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				bestPhrase, bestScore, bestPhonetic = p.original, jw, true
			}
		} else if !bestPhonetic {
			if jw >= d.fuzzyThreshold && jw > bestScore {
				bestPhrase, bestScore = p.original, jw
			}
		}
	}

	if bestPhrase != "" {
		return bestPhrase, bestScore, true
	}
	return "", 0, false
}

// bestWindowScore slides a window of len(p.tokens) words across the fragment
// and returns the highest Jaro-Winkler similarity against the phrase. The
// full fragment and its space-stripped form are also tried, to handle
// recognisers that split or join words differently than the phrase does.
func bestWindowScore(tokens []string, p phrase) float64 {
	window := len(p.tokens)
	if window > len(tokens) {
		window = len(tokens)
	}

	var score float64
	for i := 0; i+window <= len(tokens); i++ {
		candidate := strings.Join(tokens[i:i+window], " ")
		if s := matchr.JaroWinkler(candidate, p.lower, false); s > score {
			score = s
		}
		concat := strings.Join(tokens[i:i+window], "")
		if s := matchr.JaroWinkler(concat, strings.Join(p.tokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

// phoneticCandidate reports whether every word of the phrase has at least
// one Double Metaphone code present in the fragment.
func phoneticCandidate(inputCodes map[string]struct{}, p phrase) bool {
	for _, codes := range p.tokenCodes {
		if len(codes) == 0 {
			continue
		}
		if !codesOverlap(inputCodes, codes) {
			return false
		}
	}
	return true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
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
