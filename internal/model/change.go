package model

import "time"

// TimeLayout is the ISO-8601 layout used for every persisted timestamp.
// Fixed-width microseconds keep lexicographic order in SQLite equal to
// chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders a timestamp in the persisted ISO-8601 form (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// RatingChange records an analyst rating transition for one symbol
// between its previous snapshot and the one just ingested.
type RatingChange struct {
	ID            int64
	Symbol        string
	ChangedAt     time.Time
	OldRating     *string
	NewRating     *string
	PriceBefore   *float64
	PriceAfter    *float64
	SnapshotRowID int64
}

// ToDict returns a JSON-serialisable representation of the change.
func (c *RatingChange) ToDict() map[string]any {
	return map[string]any{
		"id":             c.ID,
		"symbol":         c.Symbol,
		"changed_at":     FormatTime(c.ChangedAt),
		"old_rating":     strOrNil(c.OldRating),
		"new_rating":     strOrNil(c.NewRating),
		"price_before":   floatOrNil(c.PriceBefore),
		"price_after":    floatOrNil(c.PriceAfter),
		"snapshot_rowid": c.SnapshotRowID,
	}
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
