package gallery

import "math"

// MatchResult identifies the best gallery candidate for one query embedding.
type MatchResult struct {
	Identity string  `json:"identity"`
	Score    float64 `json:"score"`
	IsMatch  bool    `json:"isMatch"`
}

// NoMatch is the result against an empty gallery or an unusable query.
func NoMatch() MatchResult {
	return MatchResult{Identity: "none", Score: -1, IsMatch: false}
}

// Matcher scores query embeddings against the store's current snapshot.
type Matcher struct {
	store     *Store
	threshold float64
}

// NewMatcher wraps a store with a decision threshold on cosine similarity.
func NewMatcher(store *Store, threshold float64) *Matcher {
	return &Matcher{store: store, threshold: threshold}
}

// Match returns the identity owning the most similar stored embedding. Exact
// score ties resolve to the lexicographically smallest label. An empty
// gallery yields NoMatch, never an error.
func (m *Matcher) Match(query []float32) MatchResult {
	snapshot := m.store.Current()
	if len(query) != snapshot.dim {
		return NoMatch()
	}

	result := NoMatch()
	bestScore := math.Inf(-1)
	found := false
	for _, entry := range snapshot.entries {
		for _, embedding := range entry.Embeddings {
			score := cosineSimilarity(query, embedding)
			if score > bestScore {
				bestScore = score
				result.Identity = entry.Label
				found = true
			}
		}
	}
	if !found {
		return NoMatch()
	}

	result.Score = bestScore
	result.IsMatch = bestScore >= m.threshold
	return result
}

// cosineSimilarity over two unit vectors of equal length. Accumulates in
// float64 and clamps rounding spill at the extremes.
func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return dot
}
