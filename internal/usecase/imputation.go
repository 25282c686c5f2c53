package usecase

import (
	"fmt"

	"github.com/nutrishelf/backend/internal/domain"
)

// Imputer fills the nutrients a product does not declare
type Imputer interface {
	// Fit learns whatever the strategy needs from the full record set
	Fit(records []domain.ProductRecord)
	// Fill returns the value used for a missing dimension
	Fill(dim int) float64
	Name() string
}

// ZeroImputer treats a missing nutrient as 0, so it contributes nothing to
// the dot product
type ZeroImputer struct{}

func (ZeroImputer) Fit([]domain.ProductRecord) {}
func (ZeroImputer) Fill(int) float64           { return 0 }
func (ZeroImputer) Name() string               { return "zero" }

// MeanImputer fills a missing nutrient with the mean of the products that
// declare it, or 0 when none does
type MeanImputer struct {
	means []float64
}

func (m *MeanImputer) Fit(records []domain.ProductRecord) {
	sums := make([]float64, len(domain.Nutrients))
	counts := make([]int, len(domain.Nutrients))
	for _, r := range records {
		for dim, nutrient := range domain.Nutrients {
			if v, ok := r.Nutrition[nutrient]; ok {
				sums[dim] += v
				counts[dim]++
			}
		}
	}
	m.means = make([]float64, len(domain.Nutrients))
	for dim := range m.means {
		if counts[dim] > 0 {
			m.means[dim] = sums[dim] / float64(counts[dim])
		}
	}
}

func (m *MeanImputer) Fill(dim int) float64 {
	if dim < 0 || dim >= len(m.means) {
		return 0
	}
	return m.means[dim]
}

func (m *MeanImputer) Name() string { return "mean" }

// NewImputer returns the strategy registered under name
func NewImputer(name string) (Imputer, error) {
	switch name {
	case "", "zero":
		return ZeroImputer{}, nil
	case "mean":
		return &MeanImputer{}, nil
	default:
		return nil, fmt.Errorf("unknown imputation strategy %q", name)
	}
}
