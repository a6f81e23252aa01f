package model

import "time"

// RunState holds runtime metadata about the monitoring loop. It is owned
// by the monitor service and handed out to other components by copy.
type RunState struct {
	LastRun            *time.Time
	LastSuccess        *time.Time
	LastError          *string
	TotalSnapshots     int
	TotalRatingChanges int
	LastChanges        []RatingChange
}

// Clone returns a deep copy so callers cannot mutate the service's state.
func (s *RunState) Clone() RunState {
	out := *s
	if s.LastChanges != nil {
		out.LastChanges = make([]RatingChange, len(s.LastChanges))
		copy(out.LastChanges, s.LastChanges)
	}
	return out
}

// ToDict returns a serialisable version of the state for the API.
// Timestamps are ISO-8601 strings or null.
func (s *RunState) ToDict() map[string]any {
	changes := make([]map[string]any, 0, len(s.LastChanges))
	for i := range s.LastChanges {
		changes = append(changes, s.LastChanges[i].ToDict())
	}
	return map[string]any{
		"last_run":             timeOrNil(s.LastRun),
		"last_success":         timeOrNil(s.LastSuccess),
		"last_error":           strOrNil(s.LastError),
		"total_snapshots":      s.TotalSnapshots,
		"total_rating_changes": s.TotalRatingChanges,
		"last_changes":         changes,
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}
