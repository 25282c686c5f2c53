package usecase

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nutrishelf/backend/internal/domain"
)

var (
	errNotNumber       = errors.New("not a number")
	errAmbiguousNumber = errors.New("ambiguous number")
	errNegative        = errors.New("negative value")
	errUnknownUnit     = errors.New("unknown unit")
)

var (
	numberToken  = regexp.MustCompile(`-?(?:\d|[.,]\d)[\d.,]*`)
	quantityExpr = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kg|gramos|gr|g|ml|cl|l)\b`)
	// "85x20g" or "800g" / "2kg"
	gramsInName = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)x(\d+(?:\.\d+)?)(kg|g)\b|(\d+(?:\.\d+)?)\s?(kg|g)\b`)
)

// traceMarkers are declared amounts that mean "effectively zero"
var traceMarkers = map[string]bool{
	"trazas": true,
	"traza":  true,
	"traces": true,
	"trace":  true,
	"tr":     true,
	"-":      true,
}

// parseDecimal reads a locale-formatted number such as "1.234,56", "12,5 g",
// "3.99 €", "<0,5" or "trazas". Values that could be read two ways are
// rejected with errAmbiguousNumber.
func parseDecimal(raw string) (float64, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return 0, errNotNumber
	}
	if traceMarkers[s] {
		return 0, nil
	}

	half := false
	if strings.HasPrefix(s, "<") {
		half = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "<"))
	}

	token := numberToken.FindString(s)
	if token == "" {
		return 0, errNotNumber
	}

	v, err := parseNumberToken(token)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", raw, err)
	}
	if half {
		v /= 2
	}
	return v, nil
}

func parseNumberToken(token string) (float64, error) {
	negative := strings.HasPrefix(token, "-")
	token = strings.TrimPrefix(token, "-")
	token = strings.TrimRight(token, ".,")

	lastComma := strings.LastIndex(token, ",")
	lastDot := strings.LastIndex(token, ".")

	var intPart, fracPart string
	switch {
	case lastComma < 0 && lastDot < 0:
		intPart = token

	case lastComma >= 0 && lastDot >= 0:
		// Mixed separators: the rightmost one is the decimal mark
		decimal, grouping := ",", "."
		pos := lastComma
		if lastDot > lastComma {
			decimal, grouping, pos = ".", ",", lastDot
		}
		if strings.Count(token, decimal) != 1 {
			return 0, errAmbiguousNumber
		}
		intPart, fracPart = token[:pos], token[pos+1:]
		grouped, ok := ungroup(intPart, grouping)
		if !ok {
			return 0, errAmbiguousNumber
		}
		intPart = grouped

	default:
		sep := ","
		pos := lastComma
		if lastDot >= 0 {
			sep, pos = ".", lastDot
		}
		if strings.Count(token, sep) > 1 {
			grouped, ok := ungroup(token, sep)
			if !ok {
				return 0, errAmbiguousNumber
			}
			intPart = grouped
			break
		}
		intPart, fracPart = token[:pos], token[pos+1:]
		// "1,234" or "1.234" reads as a thousand or as a decimal
		if len(fracPart) == 3 && strings.TrimLeft(intPart, "0") != "" {
			return 0, errAmbiguousNumber
		}
	}

	if intPart == "" {
		intPart = "0"
	}
	normalized := intPart
	if fracPart != "" {
		normalized += "." + fracPart
	}
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, errNotNumber
	}
	if negative {
		v = -v
	}
	return v, nil
}

// ungroup removes thousands separators, requiring a 1-3 digit lead group
// followed by groups of exactly three digits.
func ungroup(s, sep string) (string, bool) {
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// coerceNumber converts a decoded JSON value into a float.
// The second result is false when the value is absent.
func coerceNumber(v any) (float64, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false, nil
		}
		f, err := parseDecimal(n)
		if err != nil {
			return 0, false, err
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %T", errNotNumber, v)
	}
}

// unitSuffix extracts a trailing unit from strings like "12,5 g" or "350kJ"
func unitSuffix(s string) string {
	s = strings.TrimSpace(s)
	i := strings.LastIndexFunc(s, func(r rune) bool { return unicode.IsDigit(r) })
	if i < 0 || i == len(s)-1 {
		return ""
	}
	return strings.TrimSpace(s[i+1:])
}

// toNormalizedUnit converts an amount into the unit the nutrient is stored in
func toNormalizedUnit(n domain.Nutrient, v float64, unit string) (float64, error) {
	if v < 0 {
		return 0, errNegative
	}
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")

	if n == domain.NutrientEnergy {
		if isKilojoule(u) {
			return v / 4.184, nil
		}
		switch u {
		case "", "kcal", "cal", "kilocalorias", "kilocalorie", "kilocalories":
			return v, nil
		}
		return 0, fmt.Errorf("%w: %q", errUnknownUnit, unit)
	}

	switch u {
	case "", "g", "gr", "gramos", "grams":
		return v, nil
	case "mg":
		return v / 1000, nil
	case "µg", "μg", "ug", "mcg":
		return v / 1e6, nil
	}
	return 0, fmt.Errorf("%w: %q", errUnknownUnit, unit)
}

func isKilojoule(unit string) bool {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".") {
	case "kj", "kilojulios", "kilojoules":
		return true
	}
	return false
}

// parseBasis reads a nutrition table header and returns the factor that
// converts declared amounts to per 100 g/ml.
func parseBasis(header string) (float64, bool) {
	h := foldLabel(header)
	if h == "" {
		return 0, false
	}
	m := quantityExpr.FindStringSubmatch(h)
	if m == nil {
		return 0, false
	}
	amount, err := parseNumberToken(m[1])
	if err != nil || amount <= 0 {
		return 0, false
	}
	switch m[2] {
	case "kg", "l":
		amount *= 1000
	case "cl":
		amount *= 10
	}
	return 100 / amount, true
}

// gramsFromName finds the net weight declared in a product name
func gramsFromName(name string) (float64, bool) {
	m := gramsInName.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	multiplier := func(unit string) float64 {
		if strings.EqualFold(unit, "kg") {
			return 1000
		}
		return 1
	}
	if m[1] != "" && m[2] != "" {
		qty, _ := strconv.ParseFloat(m[1], 64)
		weight, _ := strconv.ParseFloat(m[2], 64)
		return qty * weight * multiplier(m[3]), qty*weight > 0
	}
	weight, _ := strconv.ParseFloat(m[4], 64)
	return weight * multiplier(m[5]), weight > 0
}

// foldLabel lowercases, strips accents and collapses whitespace
func foldLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
