package keyword

import (
	"context"
	"strings"
)

// Suggester corrects misspelled label terms against the indexed vocabulary.
type Suggester struct {
	vocab       Vocabulary
	maxDistance int
}

// SuggesterOption configures a Suggester.
type SuggesterOption func(*Suggester)

// WithMaxDistance sets the maximum edit distance of a correction.
func WithMaxDistance(d int) SuggesterOption {
	return func(s *Suggester) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// NewSuggester creates a Suggester reading terms from vocab.
func NewSuggester(vocab Vocabulary, opts ...SuggesterOption) *Suggester {
	s := &Suggester{vocab: vocab, maxDistance: 2}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Correct replaces every unknown term of query with the closest known term. Ties on
// distance go to the more frequent term, then the lexically smaller one. The bool reports
// whether anything changed.
func (s *Suggester) Correct(query string) (string, bool, error) {
	vocab, err := s.vocab.Terms()
	if err != nil {
		return "", false, err
	}
	terms := tokenizeQuery(query)
	changed := false
	for i, term := range terms {
		if _, ok := vocab[term]; ok {
			continue
		}
		best, bestDist, bestFreq := "", s.maxDistance+1, 0
		for cand, freq := range vocab {
			if abs(len(cand)-len(term)) > s.maxDistance {
				continue
			}
			d := LevenshteinDistance(term, cand)
			if d < bestDist || (d == bestDist && (freq > bestFreq || (freq == bestFreq && cand < best))) {
				best, bestDist, bestFreq = cand, d, freq
			}
		}
		if best != "" {
			terms[i] = best
			changed = true
		}
	}
	return strings.Join(terms, " "), changed, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// LabelResults is the response of a label lookup.
type LabelResults struct {
	Query      string      `json:"query"`
	Suggestion string      `json:"suggestion,omitempty"`
	Results    []*LabelHit `json:"results"`
}

// Lookup searches labels and, when a correction exists, reports it. If the query itself
// matches nothing, the corrected query is searched instead. A nil suggester disables correction.
func Lookup(ctx context.Context, idx LabelSearcher, s *Suggester, ownerID, query string, limit int) (*LabelResults, error) {
	hits, err := idx.Search(ctx, ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	res := &LabelResults{Query: query, Results: hits}
	if s == nil {
		return res, nil
	}
	corrected, changed, err := s.Correct(query)
	if err != nil || !changed {
		return res, nil
	}
	res.Suggestion = corrected
	if len(hits) == 0 {
		if res.Results, err = idx.Search(ctx, ownerID, corrected, limit); err != nil {
			return nil, err
		}
	}
	return res, nil
}
