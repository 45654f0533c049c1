// Package availability derives free/busy windows from mirrored calendar
// events, working hours, and protected-slot configuration. Everything here
// is a pure function over its inputs; there is no I/O and no shared state,
// so callers may invoke it concurrently without coordination.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/nhle/brain-dumper/internal/model"
)

// Options configures window derivation for a date range.
type Options struct {
	// Start/End bound the derived days, inclusive on both ends. Only the
	// date part in Location matters.
	Start time.Time
	End   time.Time

	WorkingHours   model.WorkingHours
	ProtectedSlots []model.ProtectedSlot
	Location       *time.Location
}

// BuildWindows derives one AvailabilityWindow per day in the range from
// the given events. Cancelled events do not block time; all-day events
// block the whole working span of their date; protected slots are busy
// regardless of calendar data.
func BuildWindows(events []model.CalendarEvent, opts Options) ([]model.AvailabilityWindow, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	startH, startM, err := parseClock(opts.WorkingHours.Start)
	if err != nil {
		return nil, fmt.Errorf("working hours start: %w", err)
	}
	endH, endM, err := parseClock(opts.WorkingHours.End)
	if err != nil {
		return nil, fmt.Errorf("working hours end: %w", err)
	}

	first := time.Date(opts.Start.Year(), opts.Start.Month(), opts.Start.Day(), 0, 0, 0, 0, loc)
	last := time.Date(opts.End.Year(), opts.End.Month(), opts.End.Day(), 0, 0, 0, 0, loc)

	var windows []model.AvailabilityWindow
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc)
		if !dayEnd.After(dayStart) {
			continue
		}

		busy := busyRanges(events, dayStart, dayEnd)

		for _, ps := range opts.ProtectedSlots {
			psStartH, psStartM, err := parseClock(ps.Start)
			if err != nil {
				return nil, fmt.Errorf("protected slot %q start: %w", ps.Label, err)
			}
			psEndH, psEndM, err := parseClock(ps.End)
			if err != nil {
				return nil, fmt.Errorf("protected slot %q end: %w", ps.Label, err)
			}
			s := time.Date(day.Year(), day.Month(), day.Day(), psStartH, psStartM, 0, 0, loc)
			e := time.Date(day.Year(), day.Month(), day.Day(), psEndH, psEndM, 0, 0, loc)
			if r, ok := clip(s, e, dayStart, dayEnd); ok {
				busy = append(busy, r)
			}
		}

		windows = append(windows, buildWindow(day, dayStart, dayEnd, busy))
	}

	return windows, nil
}

// span is an internal half-open [start, end) range.
type span struct {
	start, end time.Time
}

// busyRanges collects clipped busy ranges for one day.
func busyRanges(events []model.CalendarEvent, dayStart, dayEnd time.Time) []span {
	var busy []span
	for i := range events {
		ev := &events[i]
		if !ev.Busy() {
			continue
		}
		s, e := ev.Start, ev.End
		if ev.AllDay {
			// An all-day event blocks the whole working span of any day
			// it covers: free time under it cannot be proven.
			if ev.Start.Before(dayEnd) && dayStart.Before(ev.End) {
				busy = append(busy, span{dayStart, dayEnd})
			}
			continue
		}
		if r, ok := clip(s, e, dayStart, dayEnd); ok {
			busy = append(busy, r)
		}
	}
	return busy
}

// buildWindow turns the busy ranges into alternating free/busy slots and
// totals for one day.
func buildWindow(day, dayStart, dayEnd time.Time, busy []span) model.AvailabilityWindow {
	merged := coalesce(busy)

	w := model.AvailabilityWindow{Date: model.DateKey(day)}
	cursor := dayStart
	for _, b := range merged {
		if cursor.Before(b.start) {
			w.Slots = append(w.Slots, model.TimeSlot{Start: cursor, End: b.start, Available: true})
		}
		w.Slots = append(w.Slots, model.TimeSlot{Start: b.start, End: b.end, Available: false})
		cursor = b.end
	}
	if cursor.Before(dayEnd) {
		w.Slots = append(w.Slots, model.TimeSlot{Start: cursor, End: dayEnd, Available: true})
	}

	for _, s := range w.Slots {
		if s.Available {
			w.TotalFreeMinutes += s.Minutes()
		} else {
			w.TotalBusyMinutes += s.Minutes()
		}
	}
	return w
}

// clip intersects [s, e) with [lo, hi); ok is false when nothing remains.
func clip(s, e, lo, hi time.Time) (span, bool) {
	if s.Before(lo) {
		s = lo
	}
	if e.After(hi) {
		e = hi
	}
	if !s.Before(e) {
		return span{}, false
	}
	return span{s, e}, true
}

// coalesce sorts spans and merges overlapping or adjacent ones.
func coalesce(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })

	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if !s.start.After(last.end) {
			if s.end.After(last.end) {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// GroupByDate indexes windows by their YYYY-MM-DD key. Later entries for
// the same key overwrite earlier ones (last-write-wins, used for caching).
func GroupByDate(windows []model.AvailabilityWindow) map[string]model.AvailabilityWindow {
	out := make(map[string]model.AvailabilityWindow, len(windows))
	for _, w := range windows {
		out[w.Date] = w
	}
	return out
}

// MergeContiguous coalesces adjacent or overlapping available sub-slots
// into maximal contiguous free blocks, dropping busy slots. Providers that
// report fixed-granularity slots (e.g. 30 minutes) must be merged this way
// before the scheduler can place tasks longer than the granularity.
func MergeContiguous(slots []model.TimeSlot) []model.TimeSlot {
	var free []span
	for _, s := range slots {
		if s.Available && s.Start.Before(s.End) {
			free = append(free, span{s.Start, s.End})
		}
	}

	merged := coalesce(free)
	out := make([]model.TimeSlot, 0, len(merged))
	for _, m := range merged {
		out = append(out, model.TimeSlot{Start: m.start, End: m.end, Available: true})
	}
	return out
}

// Intersect computes the windows available in every input set (AND
// semantics), per date. Dates missing from any input set are dropped
// entirely: availability cannot be proven for them. Used when a task may
// land on any of several calendars and must conflict with none.
func Intersect(sets ...[]model.AvailabilityWindow) []model.AvailabilityWindow {
	if len(sets) == 0 {
		return nil
	}
	if len(sets) == 1 {
		return sets[0]
	}

	grouped := make([]map[string]model.AvailabilityWindow, len(sets))
	for i, set := range sets {
		grouped[i] = GroupByDate(set)
	}

	var dates []string
	for date := range grouped[0] {
		present := true
		for _, g := range grouped[1:] {
			if _, ok := g[date]; !ok {
				present = false
				break
			}
		}
		if present {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	var out []model.AvailabilityWindow
	for _, date := range dates {
		free := toSpans(MergeContiguous(grouped[0][date].Slots))
		spanLo, spanHi := bounds(grouped[0][date])
		for _, g := range grouped[1:] {
			free = intersectSpans(free, toSpans(MergeContiguous(g[date].Slots)))
			lo, hi := bounds(g[date])
			if lo.After(spanLo) {
				spanLo = lo
			}
			if hi.Before(spanHi) {
				spanHi = hi
			}
		}

		w := model.AvailabilityWindow{Date: date}
		for _, f := range free {
			w.Slots = append(w.Slots, model.TimeSlot{Start: f.start, End: f.end, Available: true})
			w.TotalFreeMinutes += int(f.end.Sub(f.start) / time.Minute)
		}
		if spanHi.After(spanLo) {
			total := int(spanHi.Sub(spanLo) / time.Minute)
			if total > w.TotalFreeMinutes {
				w.TotalBusyMinutes = total - w.TotalFreeMinutes
			}
		}
		out = append(out, w)
	}
	return out
}

// intersectSpans intersects two sorted non-overlapping span lists.
func intersectSpans(a, b []span) []span {
	var out []span
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := a[i].start
		if b[j].start.After(lo) {
			lo = b[j].start
		}
		hi := a[i].end
		if b[j].end.Before(hi) {
			hi = b[j].end
		}
		if lo.Before(hi) {
			out = append(out, span{lo, hi})
		}
		if a[i].end.Before(b[j].end) {
			i++
		} else {
			j++
		}
	}
	return out
}

func toSpans(slots []model.TimeSlot) []span {
	out := make([]span, 0, len(slots))
	for _, s := range slots {
		out = append(out, span{s.Start, s.End})
	}
	return out
}

// bounds returns the overall [first, last) span of a window's slots.
func bounds(w model.AvailabilityWindow) (time.Time, time.Time) {
	if len(w.Slots) == 0 {
		return time.Time{}, time.Time{}
	}
	return w.Slots[0].Start, w.Slots[len(w.Slots)-1].End
}

// FindBestSlots returns up to count candidate slots of exactly the
// requested duration, anchored at the start of each qualifying free block,
// ordered earliest first.
func FindBestSlots(windows []model.AvailabilityWindow, durationMinutes, count int) []model.TimeSlot {
	if durationMinutes <= 0 || count <= 0 {
		return nil
	}
	duration := time.Duration(durationMinutes) * time.Minute

	var out []model.TimeSlot
	for _, w := range sortedByDate(windows) {
		for _, block := range MergeContiguous(w.Slots) {
			if block.End.Sub(block.Start) < duration {
				continue
			}
			out = append(out, model.TimeSlot{
				Start:     block.Start,
				End:       block.Start.Add(duration),
				Available: true,
			})
			if len(out) == count {
				return out
			}
		}
	}
	return out
}

// NextAvailableSlot scans date-ordered windows and returns the first slot
// of the requested duration starting at or after the given time. The
// search start within a block is clamped to max(blockStart, after).
func NextAvailableSlot(windows []model.AvailabilityWindow, after time.Time, durationMinutes int) (model.TimeSlot, bool) {
	if durationMinutes <= 0 {
		return model.TimeSlot{}, false
	}
	duration := time.Duration(durationMinutes) * time.Minute

	for _, w := range sortedByDate(windows) {
		for _, block := range MergeContiguous(w.Slots) {
			start := block.Start
			if after.After(start) {
				start = after
			}
			if block.End.Sub(start) >= duration {
				return model.TimeSlot{Start: start, End: start.Add(duration), Available: true}, true
			}
		}
	}
	return model.TimeSlot{}, false
}

// DayStats summarizes one window.
type DayStats struct {
	// FreePercent is 0-100; 0 when the day has no slots at all.
	FreePercent             float64 `json:"free_percent"`
	LargestFreeBlockMinutes int     `json:"largest_free_block_minutes"`
	FreeBlockCount          int     `json:"free_block_count"`
}

// DailyStats computes the free percentage, largest contiguous free block,
// and free block count for a window.
func DailyStats(w model.AvailabilityWindow) DayStats {
	var stats DayStats

	total := w.TotalFreeMinutes + w.TotalBusyMinutes
	if total > 0 {
		stats.FreePercent = float64(w.TotalFreeMinutes) / float64(total) * 100
	}

	for _, block := range MergeContiguous(w.Slots) {
		stats.FreeBlockCount++
		if m := block.Minutes(); m > stats.LargestFreeBlockMinutes {
			stats.LargestFreeBlockMinutes = m
		}
	}
	return stats
}

// sortedByDate returns the windows ordered by date key without mutating
// the input.
func sortedByDate(windows []model.AvailabilityWindow) []model.AvailabilityWindow {
	out := make([]model.AvailabilityWindow, len(windows))
	copy(out, windows)
	// YYYY-MM-DD sorts chronologically as a string.
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// parseClock parses "HH:MM".
func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h, m, nil
}
