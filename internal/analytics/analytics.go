// Package analytics reshapes persisted snapshot rows for presentation:
// numeric rating scores, symbol profiles and history aggregates.
package analytics

import (
	"fmt"
	"strconv"
	"strings"
)

// RatingScoreMap maps canonicalised analyst ratings to a 0-4 scale.
var RatingScoreMap = map[string]int{
	"STRONGSELL":    0,
	"SELL":          1,
	"UNDERPERFORM":  1,
	"REDUCE":        1,
	"UNDERWEIGHT":   1,
	"HOLD":          2,
	"NEUTRAL":       2,
	"MARKETPERFORM": 2,
	"EQUALWEIGHT":   2,
	"PERFORM":       2,
	"ACCUMULATE":    3,
	"BUY":           3,
	"OUTPERFORM":    3,
	"OVERWEIGHT":    3,
	"ADD":           3,
	"STRONGBUY":     4,
	"CONVICTIONBUY": 4,
}

// RatingScoreLabels names each score bucket.
var RatingScoreLabels = map[int]string{
	0: "Strong Sell",
	1: "Sell / Underperform",
	2: "Hold / Neutral",
	3: "Buy / Outperform",
	4: "Strong Buy",
}

// NormalizeRating returns the trimmed textual rating, or "" when absent.
func NormalizeRating(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(stringify(value))
}

// RatingKey returns the lookup key for the scoring map: upper case with
// spaces and dashes removed.
func RatingKey(value any) string {
	normalized := NormalizeRating(value)
	if normalized == "" {
		return ""
	}
	key := strings.ToUpper(normalized)
	key = strings.ReplaceAll(key, " ", "")
	key = strings.ReplaceAll(key, "-", "")
	return key
}

// RatingToScore maps an analyst rating to its numeric score if known.
func RatingToScore(value any) (int, bool) {
	key := RatingKey(value)
	if key == "" {
		return 0, false
	}
	score, ok := RatingScoreMap[key]
	return score, ok
}

// AnnotateRatingScores attaches a numeric rating score to each row
// in-place (nil when the rating is absent or unrecognised).
func AnnotateRatingScores(rows []map[string]any) {
	for _, row := range rows {
		if score, ok := RatingToScore(row["analyst_rating"]); ok {
			row["rating_score"] = score
		} else {
			row["rating_score"] = nil
		}
	}
}

// BuildSymbolProfile prepares display-oriented information for the latest
// snapshot of a symbol, pulling descriptive fields out of the raw payload.
func BuildSymbolProfile(symbol string, latest map[string]any) map[string]any {
	attributes := []map[string]any{}
	var raw map[string]any
	if latest != nil {
		raw, _ = latest["raw"].(map[string]any)
	}

	addAttribute(&attributes, "Last Price", latest["price"], "number")

	if raw != nil {
		addFloatAttribute(&attributes, "Change (Daily)", raw["Change %"], "percent")
		addFloatAttribute(&attributes, "Volume", raw["Volume"], "compact")
		addFloatAttribute(&attributes, "Average Volume (30d)", raw["Average Volume (30 day)"], "compact")
		addFloatAttribute(&attributes, "Average Volume (10d)", raw["Average Volume (10 day)"], "compact")
		addFloatAttribute(&attributes, "Market Cap", raw["Market Capitalization"], "compact")
		addFloatAttribute(&attributes, "52 Week High", raw["52 Week High"], "number")
		addFloatAttribute(&attributes, "52 Week Low", raw["52 Week Low"], "number")
	}

	name := rawString(raw, "Name")
	if name == "" {
		name = symbol
	}
	return map[string]any{
		"symbol":       symbol,
		"name":         name,
		"description":  rawValue(raw, "Description"),
		"sector":       rawValue(raw, "Sector"),
		"industry":     rawValue(raw, "Industry"),
		"retrieved_at": latest["retrieved_at"],
		"attributes":   attributes,
	}
}

// ComputeHistoryMetrics aggregates price and rating statistics over a
// chronological symbol history.
func ComputeHistoryMetrics(history []map[string]any) map[string]any {
	if len(history) == 0 {
		return map[string]any{
			"price":   map[string]any{},
			"ratings": map[string]any{"counts": map[string]int{}, "score_labels": RatingScoreLabels},
			"period":  map[string]any{"start": nil, "end": nil},
		}
	}

	period := map[string]any{
		"start": history[0]["retrieved_at"],
		"end":   history[len(history)-1]["retrieved_at"],
	}

	prices := make([]float64, 0, len(history))
	for _, row := range history {
		if f, ok := coerceFloat(row["price"]); ok {
			prices = append(prices, f)
		}
	}

	priceMetrics := map[string]any{}
	if len(prices) > 0 {
		min, max, sum := prices[0], prices[0], 0.0
		for _, p := range prices {
			if p < min {
				min = p
			}
			if p > max {
				max = p
			}
			sum += p
		}
		start, end := prices[0], prices[len(prices)-1]
		priceMetrics["min"] = min
		priceMetrics["max"] = max
		priceMetrics["average"] = sum / float64(len(prices))
		priceMetrics["start"] = start
		priceMetrics["end"] = end
		change := end - start
		priceMetrics["change"] = change
		if start != 0 {
			priceMetrics["change_pct"] = change / start * 100
		} else {
			priceMetrics["change_pct"] = nil
		}
	}

	counts := map[string]int{}
	current := ""
	for _, row := range history {
		rating := NormalizeRating(row["analyst_rating"])
		if rating == "" {
			continue
		}
		counts[rating]++
		current = rating
	}
	ratings := map[string]any{
		"counts":       counts,
		"score_labels": RatingScoreLabels,
	}
	if current != "" {
		ratings["current"] = current
	} else {
		ratings["current"] = nil
	}

	return map[string]any{
		"price":   priceMetrics,
		"ratings": ratings,
		"period":  period,
	}
}

func addAttribute(attributes *[]map[string]any, label string, value any, format string) {
	if value == nil || value == "" {
		return
	}
	*attributes = append(*attributes, map[string]any{
		"label":  label,
		"value":  value,
		"format": format,
	})
}

func addFloatAttribute(attributes *[]map[string]any, label string, value any, format string) {
	if f, ok := coerceFloat(value); ok {
		addAttribute(attributes, label, f, format)
	}
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		text := strings.TrimSpace(stringify(value))
		if text == "" {
			return 0, false
		}
		text = strings.ReplaceAll(text, ",", "")
		text = strings.TrimSuffix(text, "%")
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
}

func rawValue(raw map[string]any, key string) any {
	if raw == nil {
		return nil
	}
	return raw[key]
}

func rawString(raw map[string]any, key string) string {
	v := rawValue(raw, key)
	if v == nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
