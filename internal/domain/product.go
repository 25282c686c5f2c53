package domain

import "time"

// PayloadShape tags which upstream schema a raw payload follows
type PayloadShape string

const (
	// ShapeArticle is the nested article document returned by the detail endpoint
	ShapeArticle PayloadShape = "article"
	// ShapeFlat is an already flattened listing entry (exports, fixtures, other stores)
	ShapeFlat PayloadShape = "flat"
)

// RawPayload is one catalog entry exactly as the upstream returned it.
// Body is never decoded outside the normalizer.
type RawPayload struct {
	Shape     PayloadShape `json:"shape"`
	Category  string       `json:"category"`
	Page      int          `json:"page"`
	ArticleID string       `json:"articleId"`
	FetchedAt time.Time    `json:"fetchedAt"`
	Body      []byte       `json:"body"`
}

// SourceRef records where a product record came from. Only used for debugging.
type SourceRef struct {
	Category  string       `json:"category,omitempty"`
	Page      int          `json:"page,omitempty"`
	ArticleID string       `json:"articleId,omitempty"`
	Shape     PayloadShape `json:"shape,omitempty"`
	FetchedAt time.Time    `json:"fetchedAt,omitempty"`
}

// Measure is the net content of one selling unit, in kg or l when the
// upstream reports grams or millilitres
type Measure struct {
	Format string  `json:"format,omitempty"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
}

// ProductRecord is the canonical representation of one product.
// Nil pointers and empty strings/slices mean "not observed".
type ProductRecord struct {
	ProductID    string   `json:"productId"`
	Name         string   `json:"name,omitempty"`
	CategoryPath []string `json:"categoryPath,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	UnitPrice    *float64 `json:"unitPrice,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Description  string   `json:"description,omitempty"`
	Link         string   `json:"link,omitempty"`

	// Selling unit
	MeasuringUnit *Measure `json:"measuringUnit,omitempty"`
	Units         *float64 `json:"units,omitempty"`
	WeightArticle *bool    `json:"isWeightArticle,omitempty"`

	// Promotion, set only when the offer differs from the shelf price or
	// the upstream flags a promotion
	OfferPrice         *float64 `json:"offerPrice,omitempty"`
	PercentPromotion   *float64 `json:"percentPromotion,omitempty"`
	UnitPriceWithOffer *float64 `json:"unitPriceWithOffer,omitempty"`
	Promotion          string   `json:"promotion,omitempty"`

	Ingredients     string    `json:"rawIngredients,omitempty"`
	Characteristics string    `json:"characteristics,omitempty"`
	Nutrition       Nutrition `json:"nutrition,omitempty"`

	// Store the observation was made in
	Supermarket           string `json:"supermarket,omitempty"`
	SupermarketPostalCode string `json:"supermarketPostalCode,omitempty"`
	Country               string `json:"country,omitempty"`

	RawSource SourceRef `json:"rawSource"`
}

// Observation is one persisted snapshot of a product. Seq is assigned by the
// record store and orders observations across runs and restarts.
type Observation struct {
	Seq        int64         `json:"seq"`
	RunID      string        `json:"runId"`
	ObservedAt time.Time     `json:"observedAt"`
	Record     ProductRecord `json:"record"`
}

// GapKind distinguishes a lost listing page from a lost article detail
type GapKind string

const (
	GapPage    GapKind = "page"
	GapArticle GapKind = "article"
)

// Gap describes catalog data that could not be collected during a run
type Gap struct {
	Kind      GapKind `json:"kind"`
	Category  string  `json:"category"`
	Page      int     `json:"page"`
	ArticleID string  `json:"articleId,omitempty"`
	Reason    string  `json:"reason"`
}

// PageMark is a checkpoint written after a listing page has been handled
type PageMark struct {
	RunID    string    `json:"runId"`
	Category string    `json:"category"`
	Page     int       `json:"page"`
	Last     bool      `json:"last,omitempty"`
	Gaps     []Gap     `json:"gaps,omitempty"`
	MarkedAt time.Time `json:"markedAt"`
}

// CategoryProgress summarizes the checkpoints of one category within a run
type CategoryProgress struct {
	LastPage int
	Finished bool
}

// RunProgress is the resumable state of a collection run
type RunProgress struct {
	RunID      string
	Finished   bool
	Categories map[string]CategoryProgress
	Gaps       []Gap
}

// NextPage returns the page a resumed walk of category should start at
func (p *RunProgress) NextPage(category string) (page int, done bool) {
	if p == nil {
		return 1, false
	}
	cp, ok := p.Categories[category]
	if !ok {
		return 1, false
	}
	if cp.Finished {
		return 0, true
	}
	return cp.LastPage + 1, false
}

// Apply folds one checkpoint into the progress
func (p *RunProgress) Apply(mark PageMark) {
	if p.Categories == nil {
		p.Categories = make(map[string]CategoryProgress)
	}
	cp := p.Categories[mark.Category]
	if mark.Page > cp.LastPage {
		cp.LastPage = mark.Page
	}
	if mark.Last {
		cp.Finished = true
	}
	p.Categories[mark.Category] = cp
	p.Gaps = append(p.Gaps, mark.Gaps...)
}

// SimilarProduct is one entry of a similarity query result
type SimilarProduct struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"score"`
}

// SimilarityResult answers one similarity query
type SimilarityResult struct {
	ProductID string           `json:"productId"`
	Name      string           `json:"name,omitempty"`
	K         int              `json:"k"`
	Results   []SimilarProduct `json:"results"`
}
