package usecase

import (
	"fmt"
	"testing"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, nutrition domain.Nutrition) domain.ProductRecord {
	return domain.ProductRecord{ProductID: id, Name: "Product " + id, Nutrition: nutrition}
}

func builtEngine(imputer Imputer, records ...domain.ProductRecord) *SimilarityEngine {
	e := NewSimilarityEngine(imputer)
	e.Build(records, "fp")
	return e
}

func TestSimilarity_ScalarMultiplesScoreOne(t *testing.T) {
	e := builtEngine(nil,
		product("A", domain.Nutrition{domain.NutrientEnergy: 100, domain.NutrientProtein: 5, domain.NutrientFat: 2}),
		product("B", domain.Nutrition{domain.NutrientEnergy: 200, domain.NutrientProtein: 10, domain.NutrientFat: 4}),
	)

	results, err := e.Query("A", 1)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].ProductID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-12)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, expected: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, expected: 0},
		{name: "opposite", a: []float64{1, 2}, b: []float64{-1, -2}, expected: -1},
		{name: "zero norm left", a: []float64{0, 0}, b: []float64{1, 1}, expected: 0},
		{name: "both zero", a: []float64{0, 0}, b: []float64{0, 0}, expected: 0},
		{name: "45 degrees", a: []float64{1, 0}, b: []float64{1, 1}, expected: 0.7071067811865475},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Cosine(tt.a, tt.b), 1e-12)
		})
	}
}

func TestCosine_Symmetric(t *testing.T) {
	vectors := [][]float64{
		{100, 5, 2, 0, 0, 0, 0, 0},
		{61, 3.5, 3.3, 4.7, 4.7, 0, 0, 0.12},
		{0.3, 0.1, 0, 80, 12, 7, 9, 1.2},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}
	for i, a := range vectors {
		assert.InDelta(t, 0, Cosine(a, a)-boolToFloat(vecNorm(a) > 0), 1e-12, "self similarity of %d", i)
		for _, b := range vectors {
			assert.Equal(t, Cosine(a, b), Cosine(b, a))
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func TestSimilarity_AllMissingNutritionScoresZero(t *testing.T) {
	e := builtEngine(nil,
		product("EMPTY", nil),
		product("ALSO_EMPTY", domain.Nutrition{}),
		product("FULL", domain.Nutrition{domain.NutrientProtein: 3}),
	)

	results, err := e.Query("EMPTY", 5)

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.Score)
	}
	// All tied at zero, ordered by id
	assert.Equal(t, "ALSO_EMPTY", results[0].ProductID)
	assert.Equal(t, "FULL", results[1].ProductID)
}

func TestSimilarity_TopKOrdering(t *testing.T) {
	e := builtEngine(nil,
		product("Q", domain.Nutrition{domain.NutrientProtein: 10, domain.NutrientFat: 1}),
		product("D", domain.Nutrition{domain.NutrientProtein: 20, domain.NutrientFat: 2}),
		product("C", domain.Nutrition{domain.NutrientProtein: 5, domain.NutrientFat: 0.5}),
		product("B", domain.Nutrition{domain.NutrientProtein: 1, domain.NutrientFat: 10}),
		product("A", domain.Nutrition{domain.NutrientSugars: 50}),
	)

	results, err := e.Query("Q", 3)

	require.NoError(t, err)
	require.Len(t, results, 3)
	// C and D tie at 1.0, C wins on id
	assert.Equal(t, []string{"C", "D", "B"}, []string{results[0].ProductID, results[1].ProductID, results[2].ProductID})
	assert.Equal(t, "Product C", results[0].Name)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	all, err := e.Query("Q", 100)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "A", all[3].ProductID)
	assert.Zero(t, all[3].Score)
}

func TestSimilarity_NeverReturnsMoreThanK(t *testing.T) {
	var records []domain.ProductRecord
	for i := 0; i < 20; i++ {
		records = append(records, product(fmt.Sprintf("P%02d", i), domain.Nutrition{
			domain.NutrientEnergy:  float64(i * 10),
			domain.NutrientProtein: float64(20 - i),
		}))
	}
	e := builtEngine(nil, records...)

	for k := 1; k <= 25; k++ {
		results, err := e.Query("P05", k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), k)
		for _, r := range results {
			assert.NotEqual(t, "P05", r.ProductID)
		}
	}
}

func TestSimilarity_QueryErrors(t *testing.T) {
	unbuilt := NewSimilarityEngine(nil)
	built := builtEngine(nil, product("A", domain.Nutrition{domain.NutrientFat: 1}))

	tests := []struct {
		name    string
		engine  *SimilarityEngine
		id      string
		k       int
		wantErr error
	}{
		{name: "k zero", engine: built, id: "A", k: 0, wantErr: domain.ErrInvalidQuery},
		{name: "k negative", engine: built, id: "A", k: -2, wantErr: domain.ErrInvalidQuery},
		{name: "empty id", engine: built, id: "", k: 5, wantErr: domain.ErrInvalidQuery},
		{name: "unknown id", engine: built, id: "nope", k: 5, wantErr: domain.ErrNotFound},
		{name: "not built", engine: unbuilt, id: "A", k: 5, wantErr: domain.ErrNotBuilt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.engine.Query(tt.id, tt.k)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSimilarity_SingleProduct(t *testing.T) {
	e := builtEngine(nil, product("A", domain.Nutrition{domain.NutrientFat: 1}))

	results, err := e.Query("A", 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilarity_RebuildReplacesMatrix(t *testing.T) {
	e := builtEngine(nil,
		product("A", domain.Nutrition{domain.NutrientFat: 1}),
		product("B", domain.Nutrition{domain.NutrientFat: 2}),
	)
	fp, built := e.Fingerprint()
	assert.True(t, built)
	assert.Equal(t, "fp", fp)

	e.Build([]domain.ProductRecord{
		product("A", domain.Nutrition{domain.NutrientFat: 1}),
		product("C", domain.Nutrition{domain.NutrientFat: 3}),
	}, "fp2")

	fp, _ = e.Fingerprint()
	assert.Equal(t, "fp2", fp)
	assert.Equal(t, 2, e.Len())
	results, err := e.Query("A", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "C", results[0].ProductID)

	_, err = e.Query("B", 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimilarity_KeepsAllDimensions(t *testing.T) {
	e := builtEngine(nil, product("A", domain.Nutrition{domain.NutrientSalt: 0.5}))

	vec, ok := e.Vector("A")

	require.True(t, ok)
	assert.Len(t, vec, len(domain.Nutrients))
	assert.Equal(t, 0.5, vec[len(vec)-1])
}

func TestImputers(t *testing.T) {
	records := []domain.ProductRecord{
		product("A", domain.Nutrition{domain.NutrientEnergy: 100, domain.NutrientProtein: 4}),
		product("B", domain.Nutrition{domain.NutrientEnergy: 300}),
		product("C", nil),
	}

	t.Run("zero", func(t *testing.T) {
		e := builtEngine(ZeroImputer{}, records...)
		vec, _ := e.Vector("B")
		assert.Equal(t, []float64{300, 0, 0, 0, 0, 0, 0, 0}, vec)
	})

	t.Run("mean", func(t *testing.T) {
		e := builtEngine(&MeanImputer{}, records...)
		vec, _ := e.Vector("C")
		// energy mean of A and B, protein only declared by A, nothing else declared
		assert.Equal(t, []float64{200, 0, 0, 0, 0, 0, 4, 0}, vec)

		vec, _ = e.Vector("B")
		assert.Equal(t, 300.0, vec[0])
		assert.Equal(t, 4.0, vec[6])
	})
}

func TestNewImputer(t *testing.T) {
	for _, name := range []string{"", "zero", "mean"} {
		imputer, err := NewImputer(name)
		require.NoError(t, err)
		assert.NotNil(t, imputer)
	}

	imputer, err := NewImputer("")
	require.NoError(t, err)
	assert.Equal(t, "zero", imputer.Name())

	_, err = NewImputer("median")
	assert.Error(t, err)
}
