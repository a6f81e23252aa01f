package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"RatingWatch/internal/model"
	"RatingWatch/internal/provider"
)

// Ingest persists a fetched batch and detects analyst rating changes.
// Every row shares `now` as its retrieved_at, and the whole batch is
// written in a single transaction: a storage failure rolls back the
// entire cycle. Rows without a resolvable symbol are skipped and do not
// count toward the processed total.
func (s *Service) Ingest(batch provider.Batch, now time.Time) ([]model.RatingChange, int, error) {
	changes := []model.RatingChange{}
	if len(batch) == 0 {
		return changes, 0, nil
	}

	retrievedAt := model.FormatTime(now)

	tx, err := s.store.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	processed := 0
	for _, row := range batch {
		symbol := extractSymbol(row)
		if symbol == "" {
			continue
		}
		rating := extractRating(row)
		price := extractPrice(row)
		clean := sanitizeRow(row)

		previous, err := s.store.GetLastSnapshot(tx, symbol)
		if err != nil {
			return nil, 0, err
		}
		rowID, err := s.store.InsertSnapshot(tx, symbol, retrievedAt, rating, price, clean)
		if err != nil {
			return nil, 0, err
		}
		processed++

		if previous == nil || ratingsEqual(previous.Rating, rating) {
			continue
		}
		change := model.RatingChange{
			Symbol:        symbol,
			ChangedAt:     now,
			OldRating:     previous.Rating,
			NewRating:     rating,
			PriceBefore:   previous.Price,
			PriceAfter:    price,
			SnapshotRowID: rowID,
		}
		if err := s.store.InsertRatingChange(tx, &change); err != nil {
			return nil, 0, err
		}
		changes = append(changes, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit ingest transaction: %w", err)
	}
	return changes, processed, nil
}

// resolveField looks up a row value by field name, case-insensitively.
// An exact match wins; otherwise the lexicographically first
// case-insensitive match is used so resolution does not depend on map
// iteration order.
func resolveField(row provider.Row, key string) (any, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	lower := strings.ToLower(key)
	keys := make([]string, 0, len(row))
	for k := range row {
		if strings.ToLower(k) == lower {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, false
	}
	sort.Strings(keys)
	return row[keys[0]], true
}

func extractSymbol(row provider.Row) string {
	v, ok := resolveField(row, "Symbol")
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func extractRating(row provider.Row) *string {
	v, ok := resolveField(row, "AnalystRating")
	if !ok || v == nil {
		return nil
	}
	s := stringify(v)
	return &s
}

// extractPrice coerces the "Price" field to a finite float. Coercion
// failure or NaN yields absent, never an error.
func extractPrice(row provider.Row) *float64 {
	v, ok := resolveField(row, "Price")
	if !ok || v == nil {
		return nil
	}
	f, ok := toFinite(v)
	if !ok {
		return nil
	}
	return &f
}

func toFinite(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// sanitizeRow converts a raw provider row into a JSON-representable map:
// timestamps become ISO-8601 strings, NaN/Inf become null, numeric
// wrappers become plain numbers, everything else passes through.
func sanitizeRow(row provider.Row) map[string]any {
	clean := make(map[string]any, len(row))
	for key, value := range row {
		switch v := value.(type) {
		case time.Time:
			clean[key] = model.FormatTime(v)
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				clean[key] = nil
			} else {
				clean[key] = v
			}
		case float32:
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				clean[key] = nil
			} else {
				clean[key] = f
			}
		case json.Number:
			if f, err := v.Float64(); err == nil {
				clean[key] = f
			} else {
				clean[key] = v.String()
			}
		default:
			clean[key] = value
		}
	}
	return clean
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ratingsEqual treats absent as a value distinct from any string.
func ratingsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
