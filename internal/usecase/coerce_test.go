package usecase

import (
	"testing"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input     string
		expected  float64
		ambiguous bool
	}{
		{input: "12,5", expected: 12.5},
		{input: "12.5", expected: 12.5},
		{input: "0,125", expected: 0.125},
		{input: "1.234,56", expected: 1234.56},
		{input: "1,234.56", expected: 1234.56},
		{input: "1.234.567", expected: 1234567},
		{input: "3.99 €", expected: 3.99},
		{input: "€ 4,50", expected: 4.5},
		{input: "12,5 g", expected: 12.5},
		{input: "350kJ", expected: 350},
		{input: "<0,5", expected: 0.25},
		{input: "< 1 g", expected: 0.5},
		{input: "trazas", expected: 0},
		{input: "Traces", expected: 0},
		{input: "-", expected: 0},
		{input: ".5", expected: 0.5},
		{input: "7", expected: 7},
		{input: "1,234", ambiguous: true},
		{input: "1.234", ambiguous: true},
		{input: "1.23.4", ambiguous: true},
		{input: "1,2.5", ambiguous: true},
		{input: "1.234,5,6", ambiguous: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDecimal(tt.input)
			if tt.ambiguous {
				assert.ErrorIs(t, err, errAmbiguousNumber)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseDecimal_NotANumber(t *testing.T) {
	for _, input := range []string{"", "n/a", "sin datos"} {
		_, err := parseDecimal(input)
		assert.ErrorIs(t, err, errNotNumber, input)
	}
}

func TestCoerceNumber(t *testing.T) {
	v, ok, err := coerceNumber(2.5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok, err = coerceNumber(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = coerceNumber("  ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = coerceNumber(true)
	assert.ErrorIs(t, err, errNotNumber)
}

func TestToNormalizedUnit(t *testing.T) {
	tests := []struct {
		name     string
		nutrient domain.Nutrient
		value    float64
		unit     string
		expected float64
		wantErr  error
	}{
		{"kcal passthrough", domain.NutrientEnergy, 250, "kcal", 250, nil},
		{"kJ to kcal", domain.NutrientEnergy, 418.4, "kJ", 100, nil},
		{"grams passthrough", domain.NutrientProtein, 12, "g", 12, nil},
		{"milligrams", domain.NutrientSalt, 500, "mg", 0.5, nil},
		{"micrograms", domain.NutrientFiber, 2000, "µg", 0.002, nil},
		{"negative rejected", domain.NutrientFat, -1, "g", 0, errNegative},
		{"unknown mass unit", domain.NutrientFat, 1, "oz", 0, errUnknownUnit},
		{"unknown energy unit", domain.NutrientEnergy, 1, "g", 0, errUnknownUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toNormalizedUnit(tt.nutrient, tt.value, tt.unit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseBasis(t *testing.T) {
	tests := []struct {
		header string
		scale  float64
		ok     bool
	}{
		{"Valores medios por 100 g", 1, true},
		{"por 100ml", 1, true},
		{"100 G", 1, true},
		{"Por ración (30 g)", 100.0 / 30, true},
		{"per 250 ml serving", 0.4, true},
		{"por 1 l", 0.1, true},
		{"por ración", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			scale, ok := parseBasis(tt.header)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.scale, scale, 1e-9)
			}
		})
	}
}

func TestGramsFromName(t *testing.T) {
	tests := []struct {
		name  string
		grams float64
		ok    bool
	}{
		{"ATÚN CLARO 85x20g", 1700, true},
		{"Harina de trigo 800g", 800, true},
		{"Arroz redondo 2kg", 2000, true},
		{"Aceite de oliva 1 L", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grams, ok := gramsFromName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.grams, grams, 1e-9)
		})
	}
}

func TestFoldLabel(t *testing.T) {
	assert.Equal(t, "valor energetico kcal", foldLabel("  Valor  energético kcal "))
	assert.Equal(t, "de los cuales azucares", foldLabel("de los cuales AZÚCARES"))
	assert.Equal(t, "proteinas", foldLabel("Proteínas"))
}
