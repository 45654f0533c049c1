package model

import "time"

// TimeSlot is a half-open [Start, End) range marked free or busy.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Minutes returns the slot length in whole minutes.
func (s TimeSlot) Minutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// Overlaps reports whether two half-open ranges share any time.
func (s TimeSlot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && start.Before(s.End)
}

// AvailabilityWindow is the derived free/busy picture for one calendar day.
// It is never persisted; it is recomputed from events, working hours, and
// protected-slot configuration on demand.
type AvailabilityWindow struct {
	// Date is the canonical YYYY-MM-DD key for the day.
	Date             string     `json:"date"`
	Slots            []TimeSlot `json:"slots"`
	TotalFreeMinutes int        `json:"total_free_minutes"`
	TotalBusyMinutes int        `json:"total_busy_minutes"`
}

// DateKey formats t as the canonical YYYY-MM-DD availability key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
