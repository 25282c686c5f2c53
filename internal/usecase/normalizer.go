package usecase

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

// NormalizerConfig holds settings for turning raw payloads into records
type NormalizerConfig struct {
	BaseURL               string
	StoreID               string
	Currency              string
	DefaultBrand          string
	// DefaultNutritionBasis applies when a payload declares no basis at all,
	// e.g. "100g". A declared basis that cannot be read is always rejected.
	DefaultNutritionBasis string

	// Stamped on every record
	Supermarket string
	PostalCode  string
	Country     string
}

// Normalizer converts raw upstream payloads into canonical product records
type Normalizer struct {
	config       NormalizerConfig
	defaultScale float64
	hasDefault   bool
}

// NewNormalizer creates a new normalizer
func NewNormalizer(config NormalizerConfig) *Normalizer {
	if config.StoreID == "" {
		config.StoreID = "00057"
	}
	n := &Normalizer{config: config}
	if config.DefaultNutritionBasis != "" {
		n.defaultScale, n.hasDefault = parseBasis(config.DefaultNutritionBasis)
	}
	return n
}

const (
	variantKey = "0032"
	bundleKey  = "0021"
)

// nutrientLabel maps a folded nutrition table label to a nutrient and the
// unit implied by the label itself
type nutrientLabel struct {
	nutrient domain.Nutrient
	unit     string
}

var nutritionLabels = map[string]nutrientLabel{
	"valor energetico kcal":     {domain.NutrientEnergy, "kcal"},
	"valor energetico (kcal)":   {domain.NutrientEnergy, "kcal"},
	"valor energetico kj":       {domain.NutrientEnergy, "kj"},
	"valor energetico (kj)":     {domain.NutrientEnergy, "kj"},
	"valor energetico":          {domain.NutrientEnergy, ""},
	"energia":                   {domain.NutrientEnergy, ""},
	"energy":                    {domain.NutrientEnergy, ""},
	"calories":                  {domain.NutrientEnergy, "kcal"},
	"proteinas":                 {domain.NutrientProtein, ""},
	"protein":                   {domain.NutrientProtein, ""},
	"grasas":                    {domain.NutrientFat, ""},
	"grasas totales":            {domain.NutrientFat, ""},
	"fat":                       {domain.NutrientFat, ""},
	"de las cuales saturadas":   {domain.NutrientSaturatedFat, ""},
	"acidos grasos saturados":   {domain.NutrientSaturatedFat, ""},
	"saturadas":                 {domain.NutrientSaturatedFat, ""},
	"saturatedfat":              {domain.NutrientSaturatedFat, ""},
	"saturatedfattyacids":       {domain.NutrientSaturatedFat, ""},
	"hidratos de carbono":       {domain.NutrientCarbohydrates, ""},
	"carbohidratos":             {domain.NutrientCarbohydrates, ""},
	"carbohydrates":             {domain.NutrientCarbohydrates, ""},
	"de los cuales azucares":    {domain.NutrientSugars, ""},
	"azucares":                  {domain.NutrientSugars, ""},
	"sugars":                    {domain.NutrientSugars, ""},
	"fibra alimentaria":         {domain.NutrientFiber, ""},
	"fibra":                     {domain.NutrientFiber, ""},
	"fiber":                     {domain.NutrientFiber, ""},
	"fibre":                     {domain.NutrientFiber, ""},
	"sal":                       {domain.NutrientSalt, ""},
	"salt":                      {domain.NutrientSalt, ""},
}

// nutrientReading is one declared amount before basis scaling
type nutrientReading struct {
	label string
	value any
	unit  string
}

// Normalize converts one raw payload into a product record. Errors are
// always *domain.RejectionError.
func (n *Normalizer) Normalize(payload domain.RawPayload) (*domain.ProductRecord, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload.Body, &doc); err != nil {
		return nil, &domain.RejectionError{Reason: domain.RejectMalformed, Detail: err.Error()}
	}

	source := domain.SourceRef{
		Category:  payload.Category,
		Page:      payload.Page,
		ArticleID: payload.ArticleID,
		Shape:     payload.Shape,
		FetchedAt: payload.FetchedAt,
	}

	switch payload.Shape {
	case domain.ShapeArticle:
		return n.normalizeArticle(doc, payload, source)
	case domain.ShapeFlat:
		return n.normalizeFlat(doc, source)
	default:
		return nil, &domain.RejectionError{
			ProductID: stripVariant(payload.ArticleID),
			Reason:    domain.RejectUnknownShape,
			Detail:    fmt.Sprintf("shape %q", payload.Shape),
		}
	}
}

func (n *Normalizer) normalizeArticle(doc map[string]any, payload domain.RawPayload, source domain.SourceRef) (*domain.ProductRecord, error) {
	articleID := stripVariant(payload.ArticleID)
	article := unwrapArticle(doc, articleID)
	if article == nil {
		return nil, &domain.RejectionError{ProductID: articleID, Reason: domain.RejectMalformed, Detail: "no article in detail response"}
	}

	variant := asMap(pick(asMap(article["variants"]), variantKey))
	bundle := asMap(pick(asMap(variant["bundles"]), bundleKey))
	store := asMap(pick(asMap(bundle["stores"]), n.config.StoreID))
	priceInfo := asMap(store["sellingPriceInfo"])

	productID := firstString(bundle["customerDisplayId"], articleID, article["articleId"])
	if productID == "" {
		return nil, &domain.RejectionError{Reason: domain.RejectMissingProductID}
	}

	details := asMap(bundle["details"])
	record := &domain.ProductRecord{
		ProductID:       productID,
		Name:            firstString(variant["description"], article["description"]),
		Currency:        n.config.Currency,
		Brand:           firstString(article["brandName"], n.config.DefaultBrand),
		Manufacturer:    firstString(asMap(store["supplier"])["supplierName"]),
		Description:     firstString(details["longDescription"]),
		MeasuringUnit:   readMeasure(variant, bundle),
		Units:           optionalNumber(asMap(bundle["selector"])["contentSize"]),
		WeightArticle:   weightArticle(bundle["isWeightArticle"]),
		Promotion:       firstString(asMap(priceInfo["summaryDnrInfo"])["name"]),
		Ingredients:     readIngredients(details["features"]),
		Characteristics: readCharacteristics(asMap(details["characteristicsTable"])),
		RawSource:       source,
	}
	n.stamp(record)

	if cats, ok := variant["categories"].([]any); ok && len(cats) > 0 {
		record.CategoryPath = splitCategory(firstString(asMap(cats[0])["name"]))
	}

	price, err := n.readPrice(productID, priceInfo["finalPrice"], priceInfo["shelfPrice"])
	if err != nil {
		return nil, err
	}
	record.Price = price

	record.UnitPrice = n.unitPrice(priceInfo, record)
	readOffer(record, priceInfo)

	linkID := articleID
	if linkID == "" {
		linkID = productID
	}
	record.Link = n.productLink(linkID, record.Name)

	table := asMap(details["nutritionalTable"])
	nutrition, err := n.readNutrition(productID, tableHeader(table), tableReadings(table))
	if err != nil {
		return nil, err
	}
	record.Nutrition = nutrition

	return record, nil
}

func (n *Normalizer) normalizeFlat(doc map[string]any, source domain.SourceRef) (*domain.ProductRecord, error) {
	productID := firstString(doc["productId"], doc["productIdInSupermarket"], doc["id"])
	if productID == "" {
		return nil, &domain.RejectionError{Reason: domain.RejectMissingProductID}
	}
	if source.ArticleID == "" {
		source.ArticleID = productID
	}

	record := &domain.ProductRecord{
		ProductID: productID,
		Name:      firstString(doc["name"], doc["denomination"], doc["title"]),
		Currency:  firstString(doc["currency"], n.config.Currency),
		Brand:     firstString(doc["brand"], n.config.DefaultBrand),
		Link:      firstString(doc["link"], doc["url"]),

		Manufacturer:          firstString(doc["manufacturer"], asMap(doc["manufacturer"])["name"]),
		Description:           firstString(doc["description"]),
		MeasuringUnit:         flatMeasure(asMap(doc["measuringUnit"])),
		Units:                 optionalNumber(doc["units"]),
		WeightArticle:         weightArticle(doc["isWeightArticle"]),
		OfferPrice:            optionalPrice(doc["offerPrice"]),
		PercentPromotion:      optionalNumber(doc["percentPromotion"]),
		UnitPriceWithOffer:    optionalPrice(doc["unitPriceWithOffer"]),
		Promotion:             firstString(doc["promotion"]),
		Ingredients:           firstString(doc["rawIngredients"], doc["ingredients"]),
		Characteristics:       firstString(doc["characteristics"]),
		Supermarket:           firstString(doc["supermarket"]),
		SupermarketPostalCode: firstString(doc["supermarketPostalCode"]),
		Country:               firstString(doc["country"]),
		RawSource:             source,
	}
	n.stamp(record)

	switch cats := firstNonNil(doc["categoryPath"], doc["categoryInSupermarket"], doc["category"]).(type) {
	case []any:
		for _, c := range cats {
			if s := firstString(c); s != "" {
				record.CategoryPath = append(record.CategoryPath, s)
			}
		}
	case string:
		record.CategoryPath = splitCategory(cats)
	}

	price, err := n.readPrice(productID, doc["price"], doc["priceWithTax"])
	if err != nil {
		return nil, err
	}
	record.Price = price

	if v, ok, err := coerceNumber(doc["unitPrice"]); err == nil && ok && v >= 0 {
		up := roundTo(v, 2)
		record.UnitPrice = &up
	} else if record.Price != nil {
		record.UnitPrice = unitPriceFromName(*record.Price, record.Name)
	}

	var readings []nutrientReading
	nutrition := asMap(firstNonNil(doc["nutrition"], doc["nutritionInformation"]))
	keys := make([]string, 0, len(nutrition))
	for k := range nutrition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		reading := nutrientReading{label: k, value: nutrition[k]}
		if cell, ok := nutrition[k].(map[string]any); ok {
			reading.value = cell["value"]
			reading.unit = firstString(cell["unit"], cell["unitOfMeasure"])
		}
		readings = append(readings, reading)
	}

	values, err := n.readNutrition(productID, firstString(doc["nutritionBasis"], doc["basis"]), readings)
	if err != nil {
		return nil, err
	}
	record.Nutrition = values

	return record, nil
}

// readPrice coerces the first present price candidate, rounded to cents
func (n *Normalizer) readPrice(productID string, candidates ...any) (*float64, error) {
	for _, c := range candidates {
		v, ok, err := coerceNumber(c)
		if err != nil {
			return nil, &domain.RejectionError{ProductID: productID, Reason: domain.RejectAmbiguousPrice, Detail: err.Error()}
		}
		if !ok {
			continue
		}
		if v < 0 {
			return nil, &domain.RejectionError{ProductID: productID, Reason: domain.RejectAmbiguousPrice, Detail: "negative price"}
		}
		price := roundTo(v, 2)
		return &price, nil
	}
	return nil, nil
}

// unitPrice prefers the upstream price per kg, then the base price data,
// then a value derived from the weight in the product name
func (n *Normalizer) unitPrice(priceInfo map[string]any, record *domain.ProductRecord) *float64 {
	if v, ok, err := coerceNumber(priceInfo["kgGross"]); err == nil && ok && v >= 0 {
		up := roundTo(v, 2)
		return &up
	}
	perUnit := asMap(asMap(priceInfo["basePriceData"])["pricePerUnit"])
	if v, ok, err := coerceNumber(perUnit["netPrice"]); err == nil && ok && v >= 0 {
		up := roundTo(v, 2)
		return &up
	}
	if record.Price == nil {
		return nil
	}
	return unitPriceFromName(*record.Price, record.Name)
}

func unitPriceFromName(price float64, name string) *float64 {
	grams, ok := gramsFromName(name)
	if !ok {
		return nil
	}
	up := roundTo(price*1000/grams, 2)
	return &up
}

func (n *Normalizer) productLink(articleID, name string) string {
	if n.config.BaseURL == "" {
		return ""
	}
	base, err := url.Parse(n.config.BaseURL)
	if err != nil {
		return ""
	}
	slug := strings.NewReplacer(" ", "-", "/", "-").Replace(name)
	ref := &url.URL{Path: fmt.Sprintf("shop/pv/%s/%s/%s/%s", articleID, variantKey, bundleKey, slug)}
	return base.ResolveReference(ref).String()
}

// readNutrition resolves the basis and converts every recognised reading.
// A reading that cannot be read unambiguously is dropped on its own.
func (n *Normalizer) readNutrition(productID, header string, readings []nutrientReading) (domain.Nutrition, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	type converted struct {
		value    float64
		fromKcal bool
	}
	values := make(map[domain.Nutrient]converted)

	for _, r := range readings {
		label, ok := nutritionLabels[foldLabel(r.label)]
		if !ok {
			label, ok = nutritionLabels[strings.ReplaceAll(foldLabel(r.label), " ", "")]
		}
		if !ok {
			continue
		}

		v, present, err := coerceNumber(r.value)
		if err != nil {
			logging.Warn().Str("product_id", productID).Str("nutrient", string(label.nutrient)).Err(err).Msg("dropping unreadable nutrient")
			continue
		}
		if !present {
			continue
		}

		unit := r.unit
		if unit == "" {
			if s, ok := r.value.(string); ok {
				unit = unitSuffix(s)
			}
		}
		if unit == "" {
			unit = label.unit
		}

		v, err = toNormalizedUnit(label.nutrient, v, unit)
		if err != nil {
			logging.Warn().Str("product_id", productID).Str("nutrient", string(label.nutrient)).Err(err).Msg("dropping unreadable nutrient")
			continue
		}

		// A kcal row wins over a kJ row for the same product
		fromKcal := label.nutrient == domain.NutrientEnergy && !isKilojoule(unit)
		if prev, seen := values[label.nutrient]; seen && prev.fromKcal && !fromKcal {
			continue
		}
		values[label.nutrient] = converted{value: v, fromKcal: fromKcal}
	}

	if len(values) == 0 {
		return nil, nil
	}

	scale, ok := parseBasis(header)
	if !ok {
		if strings.TrimSpace(header) != "" || !n.hasDefault {
			return nil, &domain.RejectionError{ProductID: productID, Reason: domain.RejectUnknownBasis, Detail: fmt.Sprintf("header %q", header)}
		}
		scale = n.defaultScale
	}

	out := make(domain.Nutrition, len(values))
	for nutrient, c := range values {
		out[nutrient] = roundTo(c.value*scale, 3)
	}
	return out, nil
}

func tableHeader(table map[string]any) string {
	if h := firstString(table["header"], table["basis"], table["title"]); h != "" {
		return h
	}
	if cols, ok := table["columnHeaders"].([]any); ok && len(cols) > 0 {
		if s, ok := cols[0].(string); ok {
			return s
		}
		return firstString(asMap(cols[0])["label"])
	}
	return ""
}

func tableReadings(table map[string]any) []nutrientReading {
	rows, _ := table["rows"].([]any)
	readings := make([]nutrientReading, 0, len(rows))
	for _, row := range rows {
		r := asMap(row)
		cells, _ := r["cells"].([]any)
		if len(cells) == 0 {
			continue
		}
		cell := asMap(cells[0])
		readings = append(readings, nutrientReading{
			label: firstString(r["rowLabel"]),
			value: cell["value"],
			unit:  firstString(cell["unitOfMeasure"]),
		})
	}
	return readings
}

// stamp fills the store fields the payload did not carry
func (n *Normalizer) stamp(record *domain.ProductRecord) {
	if record.Supermarket == "" {
		record.Supermarket = n.config.Supermarket
	}
	if record.SupermarketPostalCode == "" {
		record.SupermarketPostalCode = n.config.PostalCode
	}
	if record.Country == "" {
		record.Country = n.config.Country
	}
}

// readOffer derives the promotion fields from the base price. An offer equal
// to the shelf price only counts when the upstream flags a promotion.
func readOffer(record *domain.ProductRecord, priceInfo map[string]any) {
	offer, ok, err := coerceNumber(priceInfo["basePrice"])
	if err != nil || !ok || offer < 0 {
		return
	}
	offer = roundTo(offer, 2)
	shelf, hasShelf, err := coerceNumber(priceInfo["shelfPrice"])
	hasShelf = hasShelf && err == nil

	if hasShelf && offer == roundTo(shelf, 2) {
		levels := asMap(priceInfo["summaryDnrInfo"])["levels"]
		if isEmpty(priceInfo["promotionLabels"]) && isEmpty(levels) {
			return
		}
		record.OfferPrice = &offer
		return
	}

	record.OfferPrice = &offer
	if hasShelf && shelf > 0 {
		pct := roundTo(1-offer/shelf, 2)
		record.PercentPromotion = &pct
	}
	count := 1.0
	if record.MeasuringUnit != nil {
		count = record.MeasuringUnit.Value
		if record.Units != nil {
			count *= *record.Units
		}
	}
	if count > 0 {
		up := roundTo(offer/count, 2)
		record.UnitPriceWithOffer = &up
	}
}

// readMeasure reads the net content of a bundle. The net volume takes
// precedence over the piece weight.
func readMeasure(variant, bundle map[string]any) *domain.Measure {
	content := asMap(bundle["contentData"])
	src := asMap(content["weightPerPiece"])
	if len(src) == 0 {
		src = asMap(content["netPieceWeight"])
	}
	if len(src) == 0 {
		return nil
	}
	if volume := asMap(content["netContentVolume"]); len(volume) > 0 {
		src = volume
	}

	value, _, err := coerceNumber(src["value"])
	if err != nil || value < 0 {
		value = 0
	}
	unit := strings.ToUpper(firstString(src["uom"]))
	switch unit {
	case "GRAM":
		unit, value = "KG", value/1000
	case "ML":
		unit, value = "L", value/1000
	}

	format := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, firstString(asMap(variant["bundleSelector"])[bundleKey]))

	return &domain.Measure{Format: strings.TrimSpace(format), Value: roundTo(value, 6), Unit: unit}
}

func flatMeasure(m map[string]any) *domain.Measure {
	if len(m) == 0 {
		return nil
	}
	value, _, err := coerceNumber(m["value"])
	if err != nil || value < 0 {
		value = 0
	}
	return &domain.Measure{Format: firstString(m["format"]), Value: value, Unit: firstString(m["unit"])}
}

// readIngredients joins the leaves of the ingredient list feature
func readIngredients(v any) string {
	features, _ := v.([]any)
	var parts []string
	for _, f := range features {
		feature := asMap(f)
		if foldLabel(firstString(feature["label"])) != "listado de ingredientes" {
			continue
		}
		leafs, _ := feature["leafs"].([]any)
		for _, leaf := range leafs {
			if label := firstString(asMap(leaf)["label"]); label != "" {
				parts = append(parts, label)
			}
		}
	}
	return strings.Join(parts, " ")
}

// readCharacteristics flattens the characteristics table into
// "Label: value. Label: value"
func readCharacteristics(table map[string]any) string {
	rows, _ := table["rows"].([]any)
	var parts []string
	for _, row := range rows {
		r := asMap(row)
		label := firstString(r["rowLabel"])
		if label == "" {
			continue
		}
		cells, _ := r["cells"].([]any)
		for _, c := range cells {
			cell := asMap(c)
			keys := make([]string, 0, len(cell))
			for k := range cell {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var values []string
			for _, k := range keys {
				if s := firstString(cell[k]); s != "" {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				parts = append(parts, label+": "+strings.Join(values, " "))
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, ". ")), " ")
}

// weightArticle reads the sold-by-weight flag; nil when not reported
func weightArticle(v any) *bool {
	var weight bool
	switch t := v.(type) {
	case bool:
		weight = t
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		weight = strings.EqualFold(strings.TrimSpace(t), "weight")
	default:
		return nil
	}
	return &weight
}

func optionalNumber(v any) *float64 {
	f, ok, err := coerceNumber(v)
	if err != nil || !ok {
		return nil
	}
	return &f
}

func optionalPrice(v any) *float64 {
	f, ok, err := coerceNumber(v)
	if err != nil || !ok || f < 0 {
		return nil
	}
	f = roundTo(f, 2)
	return &f
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// unwrapArticle accepts either a bare article or the detail endpoint envelope
func unwrapArticle(doc map[string]any, articleID string) map[string]any {
	result, ok := doc["result"].(map[string]any)
	if !ok {
		if _, ok := doc["variants"]; ok {
			return doc
		}
		return nil
	}
	if a, ok := result[articleID].(map[string]any); ok {
		return a
	}
	return asMap(pick(result, ""))
}

// pick returns m[key], or the value under the smallest key when key is absent
func pick(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return m[keys[0]]
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// firstString returns the first non-empty string (numbers are formatted)
func firstString(values ...any) string {
	for _, v := range values {
		switch s := v.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		case float64:
			return fmt.Sprintf("%.0f", s)
		}
	}
	return ""
}

func stripVariant(id string) string {
	return strings.TrimSuffix(strings.TrimSpace(id), variantKey)
}

// splitCategory turns "Alimentación / Lácteos / Yogures" into a path
func splitCategory(label string) []string {
	var path []string
	for _, part := range strings.Split(label, "/") {
		if p := strings.TrimSpace(part); p != "" {
			path = append(path, p)
		}
	}
	return path
}

// IsRejection reports whether err is a payload rejection and returns it
func IsRejection(err error) (*domain.RejectionError, bool) {
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
