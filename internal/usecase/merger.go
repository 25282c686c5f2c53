package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

// MergeResult is the consolidated dataset produced from every stored observation
type MergeResult struct {
	Records      []domain.ProductRecord
	Observations int
	Gaps         []domain.Gap
	GeneratedAt  time.Time
}

// Complete reports whether no catalog data was lost in the merged run
func (r *MergeResult) Complete() bool {
	return len(r.Gaps) == 0
}

// merged tracks the winning seq of every field of one product
type merged struct {
	record    domain.ProductRecord
	fieldSeq  map[string]int64
	nutrients map[domain.Nutrient]int64
}

// Merge folds all observations in store into one record per product. Every
// field takes its most recent non-empty value by seq, and each nutrient is
// merged on its own. Records are sorted by productId.
func Merge(ctx context.Context, store domain.Store) (*MergeResult, error) {
	products := make(map[string]*merged)
	result := &MergeResult{}

	for obs, err := range store.ListAll(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to read observations: %w", err)
		}
		if obs.Record.ProductID == "" {
			continue
		}
		result.Observations++

		m, ok := products[obs.Record.ProductID]
		if !ok {
			m = &merged{
				record:    domain.ProductRecord{ProductID: obs.Record.ProductID},
				fieldSeq:  make(map[string]int64),
				nutrients: make(map[domain.Nutrient]int64),
			}
			products[obs.Record.ProductID] = m
		}
		m.apply(obs)
	}

	result.Records = make([]domain.ProductRecord, 0, len(products))
	for _, m := range products {
		result.Records = append(result.Records, m.record)
	}
	sort.SliceStable(result.Records, func(i, j int) bool {
		return result.Records[i].ProductID < result.Records[j].ProductID
	})

	gaps, err := latestRunGaps(ctx, store)
	if err != nil {
		return nil, err
	}
	result.Gaps = gaps
	result.GeneratedAt = time.Now().UTC()

	logging.Info().
		Int("observations", result.Observations).
		Int("products", len(result.Records)).
		Int("gaps", len(result.Gaps)).
		Msg("observations merged")

	return result, nil
}

// latestRunGaps returns the gaps recorded by the most recent collection run
func latestRunGaps(ctx context.Context, store domain.ProgressStore) ([]domain.Gap, error) {
	runID, _, err := store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up latest run: %w", err)
	}
	if runID == "" {
		return nil, nil
	}
	progress, err := store.LoadProgress(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for run %s: %w", runID, err)
	}
	return progress.Gaps, nil
}

// apply lets obs overwrite every field it carries a value for, unless a
// later observation already did
func (m *merged) apply(obs domain.Observation) {
	r := obs.Record
	set := func(field string, present bool, assign func()) {
		if !present || m.fieldSeq[field] > obs.Seq {
			return
		}
		m.fieldSeq[field] = obs.Seq
		assign()
	}

	set("name", r.Name != "", func() { m.record.Name = r.Name })
	set("categoryPath", len(r.CategoryPath) > 0, func() {
		m.record.CategoryPath = append([]string(nil), r.CategoryPath...)
	})
	set("price", r.Price != nil, func() { v := *r.Price; m.record.Price = &v })
	set("unitPrice", r.UnitPrice != nil, func() { v := *r.UnitPrice; m.record.UnitPrice = &v })
	set("currency", r.Currency != "", func() { m.record.Currency = r.Currency })
	set("brand", r.Brand != "", func() { m.record.Brand = r.Brand })
	set("manufacturer", r.Manufacturer != "", func() { m.record.Manufacturer = r.Manufacturer })
	set("description", r.Description != "", func() { m.record.Description = r.Description })
	set("link", r.Link != "", func() { m.record.Link = r.Link })
	set("measuringUnit", r.MeasuringUnit != nil, func() { v := *r.MeasuringUnit; m.record.MeasuringUnit = &v })
	set("units", r.Units != nil, func() { v := *r.Units; m.record.Units = &v })
	set("isWeightArticle", r.WeightArticle != nil, func() { v := *r.WeightArticle; m.record.WeightArticle = &v })
	set("offerPrice", r.OfferPrice != nil, func() { v := *r.OfferPrice; m.record.OfferPrice = &v })
	set("percentPromotion", r.PercentPromotion != nil, func() { v := *r.PercentPromotion; m.record.PercentPromotion = &v })
	set("unitPriceWithOffer", r.UnitPriceWithOffer != nil, func() { v := *r.UnitPriceWithOffer; m.record.UnitPriceWithOffer = &v })
	set("promotion", r.Promotion != "", func() { m.record.Promotion = r.Promotion })
	set("rawIngredients", r.Ingredients != "", func() { m.record.Ingredients = r.Ingredients })
	set("characteristics", r.Characteristics != "", func() { m.record.Characteristics = r.Characteristics })
	set("supermarket", r.Supermarket != "", func() { m.record.Supermarket = r.Supermarket })
	set("supermarketPostalCode", r.SupermarketPostalCode != "", func() { m.record.SupermarketPostalCode = r.SupermarketPostalCode })
	set("country", r.Country != "", func() { m.record.Country = r.Country })
	set("rawSource", true, func() { m.record.RawSource = r.RawSource })

	for nutrient, v := range r.Nutrition {
		if m.nutrients[nutrient] > obs.Seq {
			continue
		}
		if m.record.Nutrition == nil {
			m.record.Nutrition = make(domain.Nutrition)
		}
		m.nutrients[nutrient] = obs.Seq
		m.record.Nutrition[nutrient] = v
	}
}
