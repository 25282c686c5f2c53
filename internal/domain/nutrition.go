package domain

// Nutrient identifies one of the nutrition facts tracked per product
type Nutrient string

// Tracked nutrients. Energy is expressed in kcal, everything else in grams,
// always per 100 g or 100 ml of product.
const (
	NutrientEnergy        Nutrient = "energy"
	NutrientFat           Nutrient = "fat"
	NutrientSaturatedFat  Nutrient = "saturatedFat"
	NutrientCarbohydrates Nutrient = "carbohydrates"
	NutrientSugars        Nutrient = "sugars"
	NutrientFiber         Nutrient = "fiber"
	NutrientProtein       Nutrient = "protein"
	NutrientSalt          Nutrient = "salt"
)

// Nutrients lists every tracked nutrient in a fixed order.
// Similarity vectors use this order for their dimensions.
var Nutrients = []Nutrient{
	NutrientEnergy,
	NutrientFat,
	NutrientSaturatedFat,
	NutrientCarbohydrates,
	NutrientSugars,
	NutrientFiber,
	NutrientProtein,
	NutrientSalt,
}

// Valid reports whether n is one of the tracked nutrients
func (n Nutrient) Valid() bool {
	for _, known := range Nutrients {
		if n == known {
			return true
		}
	}
	return false
}

// Unit returns the normalized unit the nutrient is stored in
func (n Nutrient) Unit() string {
	if n == NutrientEnergy {
		return "kcal"
	}
	return "g"
}

// Nutrition maps a nutrient to its amount per 100 g/ml. Absent keys mean
// the product does not declare that nutrient.
type Nutrition map[Nutrient]float64

// Clone returns an independent copy of the nutrition map
func (n Nutrition) Clone() Nutrition {
	if n == nil {
		return nil
	}
	out := make(Nutrition, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}
