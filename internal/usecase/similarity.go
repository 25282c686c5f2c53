package usecase

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/nutrishelf/backend/internal/domain"
)

// SimilarityEngine ranks products by cosine similarity of their nutrition
// vectors. It is unbuilt until Build is called and safe for concurrent queries.
type SimilarityEngine struct {
	imputer Imputer

	mu          sync.RWMutex
	built       bool
	fingerprint string
	ids         []string
	names       []string
	index       map[string]int
	vectors     [][]float64
	norms       []float64
}

// NewSimilarityEngine creates an unbuilt engine. A nil imputer means zero fill.
func NewSimilarityEngine(imputer Imputer) *SimilarityEngine {
	if imputer == nil {
		imputer = ZeroImputer{}
	}
	return &SimilarityEngine{imputer: imputer}
}

// Build computes the feature matrix for records, replacing any previous one.
// Dimensions follow domain.Nutrients and are never dropped.
func (e *SimilarityEngine) Build(records []domain.ProductRecord, fingerprint string) {
	e.imputer.Fit(records)

	ids := make([]string, 0, len(records))
	names := make([]string, 0, len(records))
	index := make(map[string]int, len(records))
	vectors := make([][]float64, 0, len(records))
	norms := make([]float64, 0, len(records))

	for _, r := range records {
		if r.ProductID == "" {
			continue
		}
		vec := make([]float64, len(domain.Nutrients))
		for dim, nutrient := range domain.Nutrients {
			if v, ok := r.Nutrition[nutrient]; ok {
				vec[dim] = v
			} else {
				vec[dim] = e.imputer.Fill(dim)
			}
		}

		if i, dup := index[r.ProductID]; dup {
			names[i], vectors[i], norms[i] = r.Name, vec, vecNorm(vec)
			continue
		}
		index[r.ProductID] = len(ids)
		ids = append(ids, r.ProductID)
		names = append(names, r.Name)
		vectors = append(vectors, vec)
		norms = append(norms, vecNorm(vec))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.built = true
	e.fingerprint = fingerprint
	e.ids, e.names, e.index, e.vectors, e.norms = ids, names, index, vectors, norms
}

// Fingerprint identifies the dataset the engine was built from
func (e *SimilarityEngine) Fingerprint() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint, e.built
}

// Len returns the number of indexed products
func (e *SimilarityEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

// Vector returns a copy of the feature vector of productID
func (e *SimilarityEngine) Vector(productID string) ([]float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i, ok := e.index[productID]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), e.vectors[i]...), true
}

// Query returns up to k products most similar to productID, by descending
// score with ties broken by productId. The product itself is excluded.
func (e *SimilarityEngine) Query(productID string, k int) ([]domain.SimilarProduct, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: empty product id", domain.ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidQuery, k)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.built {
		return nil, domain.ErrNotBuilt
	}
	q, ok := e.index[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
	}

	results := make([]domain.SimilarProduct, 0, len(e.ids)-1)
	for i, id := range e.ids {
		if i == q {
			continue
		}
		results = append(results, domain.SimilarProduct{
			ProductID: id,
			Name:      e.names[i],
			Score:     cosine(e.vectors[q], e.vectors[i], e.norms[q], e.norms[i]),
		})
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ProductID < results[b].ProductID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either has no
// magnitude
func Cosine(a, b []float64) float64 {
	return cosine(a, b, vecNorm(a), vecNorm(b))
}

func cosine(a, b []float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	score := dot / (normA * normB)
	return math.Max(-1, math.Min(1, score))
}

func vecNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
