package domain

import "time"

// ComputeDuration is the authoritative slip duration in seconds:
// (end - start) minus every pause clipped to [start, end], floored at zero.
// A pause that was never resumed ends at end.
func ComputeDuration(start, end time.Time, pauses []PauseInterval) int64 {
	if !end.After(start) {
		return 0
	}

	var paused time.Duration
	for _, p := range pauses {
		pStart := p.StartedAt
		if pStart.Before(start) {
			pStart = start
		}
		pEnd := end
		if p.EndedAt != nil && p.EndedAt.Before(end) {
			pEnd = *p.EndedAt
		}
		if pEnd.After(pStart) {
			paused += pEnd.Sub(pStart)
		}
	}

	d := end.Sub(start) - paused
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// LiveDuration is the slip's duration so far. Closed slips report their final duration.
func LiveDuration(slip RatingSlip, pauses []PauseInterval, now time.Time) int64 {
	if slip.Closed() {
		if slip.FinalDurationSeconds != nil {
			return *slip.FinalDurationSeconds
		}
		if slip.EndTime != nil {
			return ComputeDuration(slip.StartTime, *slip.EndTime, pauses)
		}
	}
	return ComputeDuration(slip.StartTime, now, pauses)
}

// Elapsed is the play time of a visit.
type Elapsed struct {
	// TotalSeconds sums closed slips and the live duration of the current slip.
	TotalSeconds int64 `json:"total_seconds"`
	// ChainSeconds is the move chain of the current (or last) slip.
	ChainSeconds int64 `json:"chain_seconds"`
}
