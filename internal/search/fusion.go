package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/searchd/internal/store"
)

// FusionParams selects and tunes the fusion algorithm. Resolved once per
// request; Fuse never reads shared configuration.
type FusionParams struct {
	// Method is rrf, linear, or adaptive.
	Method string

	// RRFK is the RRF smoothing constant. Must be positive.
	RRFK int

	// Alpha is the dense weight for linear fusion, in [0,1].
	Alpha float64
}

// Validate rejects malformed parameters. Out-of-range values are errors,
// never clamped.
func (p FusionParams) Validate() error {
	switch p.Method {
	case FusionRRF, FusionLinear, FusionAdaptive:
	default:
		return fmt.Errorf("%w: unknown fusion method %q", ErrInvalidRequest, p.Method)
	}
	if p.RRFK <= 0 {
		return fmt.Errorf("%w: rrf_k must be positive, got %d", ErrInvalidRequest, p.RRFK)
	}
	if p.Alpha < 0 || p.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0,1], got %g", ErrInvalidRequest, p.Alpha)
	}
	return nil
}

// Fuse combines two independently ranked candidate lists into one
// ordering: descending fused score, ties broken by ascending candidate
// ID. Inputs must be pre-sorted by descending origin score; their scores
// need not be on comparable scales. Empty inputs yield an empty result,
// not an error.
//
// The adaptive method must be resolved to linear (via ResolveAlpha)
// before calling; Fuse treats it as linear with the given alpha.
func Fuse(sparse, dense []store.Candidate, params FusionParams) ([]Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(sparse) == 0 && len(dense) == 0 {
		return nil, nil
	}

	var merged map[string]*Result
	switch params.Method {
	case FusionRRF:
		merged = fuseRRF(sparse, dense, params.RRFK)
	default: // linear, adaptive
		merged = fuseLinear(sparse, dense, params.Alpha)
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// fuseRRF sums reciprocal-rank contributions 1/(k+rank) per candidate,
// rank 1-indexed within each list.
func fuseRRF(sparse, dense []store.Candidate, k int) map[string]*Result {
	merged := make(map[string]*Result, len(sparse)+len(dense))

	for rank, c := range sparse {
		r := mergeCandidate(merged, c)
		score := c.Score
		r.SparseScore = &score
		r.Score += 1.0 / float64(k+rank+1)
	}
	for rank, c := range dense {
		r := mergeCandidate(merged, c)
		score := c.Score
		r.DenseScore = &score
		r.Score += 1.0 / float64(k+rank+1)
	}
	return merged
}

// fuseLinear min-max normalizes each list to [0,1] and combines as
// alpha*dense + (1-alpha)*sparse. Candidates missing from a list use 0
// for that list. A degenerate list (all scores equal) normalizes to 0.5
// for every member.
func fuseLinear(sparse, dense []store.Candidate, alpha float64) map[string]*Result {
	merged := make(map[string]*Result, len(sparse)+len(dense))

	sparseNorm := minMaxNormalize(sparse)
	for i, c := range sparse {
		r := mergeCandidate(merged, c)
		score := c.Score
		r.SparseScore = &score
		r.Score += (1 - alpha) * sparseNorm[i]
	}

	denseNorm := minMaxNormalize(dense)
	for i, c := range dense {
		r := mergeCandidate(merged, c)
		score := c.Score
		r.DenseScore = &score
		r.Score += alpha * denseNorm[i]
	}
	return merged
}

// mergeCandidate returns the merged entry for c, creating it (and
// capturing text/metadata) on first sight.
func mergeCandidate(merged map[string]*Result, c store.Candidate) *Result {
	if r, ok := merged[c.ID]; ok {
		if r.Text == "" {
			r.Text = c.Text
		}
		if r.Metadata == nil {
			r.Metadata = c.Metadata
		}
		return r
	}
	r := &Result{
		ID:       c.ID,
		Text:     c.Text,
		Metadata: c.Metadata,
	}
	merged[c.ID] = r
	return r
}

func minMaxNormalize(candidates []store.Candidate) []float64 {
	if len(candidates) == 0 {
		return nil
	}

	minScore, maxScore := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	norm := make([]float64, len(candidates))
	if maxScore == minScore {
		// Degenerate list: all members are equally relevant as far as the
		// score can tell.
		for i := range norm {
			norm[i] = 0.5
		}
		return norm
	}
	for i, c := range candidates {
		norm[i] = (c.Score - minScore) / (maxScore - minScore)
	}
	return norm
}

// ResolveAlpha picks the dense weight for adaptive fusion. An explicit
// caller-supplied alpha always wins; otherwise the query is classified by
// lexical heuristics:
//
//	quoted phrase or boolean operators -> 0.2 (favor keyword)
//	digit-heavy tokens (codes, IDs)    -> 0.3
//	short query (<= 3 tokens)          -> 0.5
//	otherwise                          -> 0.7 (favor semantic)
func ResolveAlpha(query string, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	return classifyAlpha(query)
}

func classifyAlpha(query string) float64 {
	if strings.Contains(query, `"`) || hasBooleanOperator(query) {
		return 0.2
	}

	tokens := strings.Fields(query)
	if hasDigitHeavyToken(tokens) {
		return 0.3
	}
	if len(tokens) <= 3 {
		return 0.5
	}
	return 0.7
}

func hasBooleanOperator(query string) bool {
	for _, token := range strings.Fields(query) {
		switch token {
		case "AND", "OR", "NOT":
			return true
		}
	}
	return false
}

// hasDigitHeavyToken reports whether any token is at least half digits,
// the shape of error codes, part numbers, and IDs.
func hasDigitHeavyToken(tokens []string) bool {
	for _, token := range tokens {
		digits := 0
		for _, r := range token {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		if digits > 0 && digits*2 >= len([]rune(token)) {
			return true
		}
	}
	return false
}
