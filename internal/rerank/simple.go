package rerank

import (
	"context"
	"sort"
	"strings"
)

// SimpleReranker reorders documents by lexical term overlap with the
// query, blended with the incoming fusion score. It needs no external
// service and serves as the default reranker.
type SimpleReranker struct{}

// NewSimpleReranker creates a SimpleReranker.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank reorders documents by 50% fusion score, 50% term overlap.
// Fusion scores are min-max normalized first so the two halves are
// comparable.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	queryTokens := rerankTokenize(query)
	if len(queryTokens) == 0 {
		// Nothing to measure overlap against; keep fusion order.
		out := make([]Document, len(docs))
		copy(out, docs)
		return out, nil
	}

	minScore, maxScore := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < minScore {
			minScore = d.Score
		}
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}

	type scored struct {
		doc      Document
		combined float64
	}
	scoredDocs := make([]scored, len(docs))
	for i, doc := range docs {
		overlap := termOverlap(queryTokens, rerankTokenize(doc.Text))

		normalized := 0.5
		if maxScore > minScore {
			normalized = (doc.Score - minScore) / (maxScore - minScore)
		}
		scoredDocs[i] = scored{
			doc:      doc,
			combined: 0.5*normalized + 0.5*overlap,
		}
	}

	sort.SliceStable(scoredDocs, func(i, j int) bool {
		if scoredDocs[i].combined != scoredDocs[j].combined {
			return scoredDocs[i].combined > scoredDocs[j].combined
		}
		return scoredDocs[i].doc.ID < scoredDocs[j].doc.ID
	})

	out := make([]Document, len(docs))
	for i, s := range scoredDocs {
		out[i] = s.doc
	}
	return out, nil
}

// Close is a no-op; SimpleReranker holds no resources.
func (r *SimpleReranker) Close() error {
	return nil
}

// rerankTokenize splits text into lowercase terms, dropping stopwords
// and very short tokens.
func rerankTokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !stopwords[token] && len(token) > 2 {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true,
	"for": true, "with": true, "from": true, "was": true,
	"are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "you": true,
	"she": true, "they": true, "what": true, "which": true, "who": true,
	"when": true, "where": true, "why": true, "how": true, "not": true,
}

// termOverlap returns the fraction of unique query terms present in the
// document tokens.
func termOverlap(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	docSet := make(map[string]bool, len(docTokens))
	for _, token := range docTokens {
		docSet[token] = true
	}

	matched := make(map[string]bool)
	for _, token := range queryTokens {
		if docSet[token] {
			matched[token] = true
		}
	}

	unique := make(map[string]bool, len(queryTokens))
	for _, token := range queryTokens {
		unique[token] = true
	}
	return float64(len(matched)) / float64(len(unique))
}

var _ Reranker = (*SimpleReranker)(nil)
