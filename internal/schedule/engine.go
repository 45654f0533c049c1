// Package schedule assigns prioritized pending tasks to free calendar
// slots, respecting durations, buffers, protected time, and working hours.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/nhle/brain-dumper/internal/availability"
	"github.com/nhle/brain-dumper/internal/model"
)

const (
	// probeGranularity is the step between candidate start times within a
	// free block, so placements can begin mid-block.
	probeGranularity = 15 * time.Minute

	// defaultEstimateMinutes stands in for tasks without an estimate.
	defaultEstimateMinutes = 30

	// maxSuggestions is how many ranked candidates each assignment keeps.
	maxSuggestions = 3
)

// Scoring factor names and descriptions. These are informational for
// audit/debugging and must survive serialization verbatim.
const (
	factorCalendarFit     = "calendar_fit"
	factorCalendarFitDesc = "How tightly the task fills the chosen free block"

	factorPriorityOrder     = "priority_order"
	factorPriorityOrderDesc = "Whether higher-priority work lands earlier in the horizon"

	factorDueDate     = "due_date_headroom"
	factorDueDateDesc = "Slack between the slot end and the task due date"
)

// Factor weights; they sum to 1.
const (
	weightCalendarFit   = 0.4
	weightPriorityOrder = 0.35
	weightDueDate       = 0.25
)

// Input is one scheduling run's worth of state.
type Input struct {
	// Tasks are the pending tasks to place.
	Tasks []model.Task

	// Scheduled are already-placed tasks; displacement candidates when a
	// higher-priority task cannot fit otherwise.
	Scheduled []model.Task

	// Windows is the availability picture the run consumes. Protected
	// slots and the keep-free reservation are re-blocked here regardless
	// of what the windows claim.
	Windows []model.AvailabilityWindow

	// CalendarID is the calendar suggestions are attributed to.
	CalendarID string

	Now time.Time
}

// Result is a best-effort assignment. Every input task lands in exactly
// one of Assignments or Unscheduled; nothing is silently dropped.
type Result struct {
	Assignments   []model.Assignment
	Unscheduled   []model.UnscheduledTask
	Displacements []model.Displacement
}

// Engine assigns tasks to slots. It is a pure, synchronous, single-pass
// computation: no I/O, no suspension points, safe on a single goroutine.
type Engine struct {
	cfg model.SchedulingConfig
	loc *time.Location
}

// NewEngine creates an Engine for the given scheduling configuration.
func NewEngine(cfg model.SchedulingConfig) (*Engine, error) {
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	return &Engine{cfg: cfg, loc: loc}, nil
}

// Assign places each pending task into the earliest acceptable slot.
// Tasks are ordered by priority, then due date (absent dates sort last,
// ties keep input order); candidates are probed at 15-minute granularity
// within each free block; existing busy time, buffers, and previously
// consumed ranges are all blocked. The search horizon is bounded; a task that fits nowhere is
// reported unscheduled with a reason.
func (e *Engine) Assign(input Input) Result {
	var result Result

	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	horizonEnd := now.Add(time.Duration(e.cfg.HorizonDays) * 24 * time.Hour)

	used := &IntervalSet{}
	e.blockBusy(used, input.Windows)
	days := e.dayBlocks(input.Windows, now, horizonEnd)
	e.blockProtected(used, days)
	e.reserveKeepFree(used, days)

	tasks := orderTasks(input.Tasks)

	for _, task := range tasks {
		candidates := e.findCandidates(task, days, used, now, maxSuggestions)

		if len(candidates) == 0 {
			if asg, disp, ok := e.displace(task, input, days, used, now, horizonEnd); ok {
				result.Assignments = append(result.Assignments, asg)
				result.Displacements = append(result.Displacements, disp...)
				continue
			}
			result.Unscheduled = append(result.Unscheduled, model.UnscheduledTask{
				TaskID: task.ID,
				Reason: fmt.Sprintf("no free block of %d minutes within %d days",
					estimate(task), e.cfg.HorizonDays),
			})
			continue
		}

		// First accepted candidate wins; commit its buffered range so no
		// later assignment can touch it.
		chosen := candidates[0]
		if !used.InsertIfFree(chosen.bufferedStart, chosen.bufferedEnd) {
			// Candidates were validated against the set; this cannot
			// conflict unless the structure is misused.
			panic("schedule: accepted candidate conflicts with used ranges")
		}

		result.Assignments = append(result.Assignments, model.Assignment{
			TaskID:               task.ID,
			Suggestions:          e.scoreCandidates(task, candidates, now, input.CalendarID),
			RecommendedSlotIndex: 0,
		})
	}

	return result
}

// candidate is one acceptable placement, with its buffer-extended range.
type candidate struct {
	start         time.Time
	end           time.Time
	bufferedStart time.Time
	bufferedEnd   time.Time
	block         Range
	dayOffset     int
}

// dayBlock is one day's free blocks clipped to the search horizon.
type dayBlock struct {
	date   time.Time // midnight in the engine's location
	blocks []Range
}

// dayBlocks merges each window's free slots into maximal blocks and clips
// them to [now, horizonEnd).
func (e *Engine) dayBlocks(windows []model.AvailabilityWindow, now, horizonEnd time.Time) []dayBlock {
	sorted := make([]model.AvailabilityWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var days []dayBlock
	for _, w := range sorted {
		date, err := time.ParseInLocation("2006-01-02", w.Date, e.loc)
		if err != nil {
			continue
		}
		db := dayBlock{date: date}
		for _, block := range availability.MergeContiguous(w.Slots) {
			s, en := block.Start, block.End
			if s.Before(now) {
				s = now
			}
			if en.After(horizonEnd) {
				en = horizonEnd
			}
			if s.Before(en) {
				db.blocks = append(db.blocks, Range{Start: s, End: en})
			}
		}
		if len(db.blocks) > 0 {
			days = append(days, db)
		}
	}
	return days
}

// blockBusy seeds the set with the windows' busy slots. A placement's
// buffers must clear existing events too, not just this run's output, so
// a buffered range that spills out of its free block conflicts here.
func (e *Engine) blockBusy(used *IntervalSet, windows []model.AvailabilityWindow) {
	for _, w := range windows {
		for _, slot := range w.Slots {
			if !slot.Available && slot.Start.Before(slot.End) {
				used.Block(slot.Start, slot.End)
			}
		}
	}
}

// blockProtected marks configured protected slots busy on every day,
// regardless of calendar data.
func (e *Engine) blockProtected(used *IntervalSet, days []dayBlock) {
	for _, day := range days {
		for _, ps := range e.cfg.ProtectedSlots {
			s, okS := e.clockOn(day.date, ps.Start)
			en, okE := e.clockOn(day.date, ps.End)
			if okS && okE && s.Before(en) {
				used.Block(s, en)
			}
		}
	}
}

// reserveKeepFree subtracts the keep-free-for-calls reservation from each
// day before assignment runs.
func (e *Engine) reserveKeepFree(used *IntervalSet, days []dayBlock) {
	kf := e.cfg.KeepFree
	if !kf.Enabled || kf.DurationMinutes <= 0 {
		return
	}
	duration := time.Duration(kf.DurationMinutes) * time.Minute

	for _, day := range days {
		preferred, ok := e.clockOn(day.date, kf.PreferredStart)
		if !ok {
			continue
		}
		// Reserve the first free stretch at or after the preferred time;
		// fall back to the preferred range itself when nothing fits.
		reserved := false
		for _, block := range day.blocks {
			start := block.Start
			if preferred.After(start) {
				start = preferred
			}
			if block.End.Sub(start) >= duration && !used.Conflicts(start, start.Add(duration)) {
				used.Block(start, start.Add(duration))
				reserved = true
				break
			}
		}
		if !reserved {
			used.Block(preferred, preferred.Add(duration))
		}
	}
}

// findCandidates probes free blocks earliest-first for up to max
// acceptable placements of the task.
func (e *Engine) findCandidates(task model.Task, days []dayBlock, used *IntervalSet, now time.Time, max int) []candidate {
	duration := time.Duration(estimate(task)) * time.Minute
	buf := e.cfg.BufferFor(task.TaskType)
	before := time.Duration(buf.BeforeMinutes) * time.Minute
	after := time.Duration(buf.AfterMinutes) * time.Minute

	var out []candidate
	for dayIdx, day := range days {
		for _, block := range day.blocks {
			for probe := block.Start; ; probe = probe.Add(probeGranularity) {
				end := probe.Add(duration)
				if end.After(block.End) {
					break
				}
				bufStart := probe.Add(-before)
				bufEnd := end.Add(after)
				if used.Conflicts(bufStart, bufEnd) {
					continue
				}
				out = append(out, candidate{
					start:         probe,
					end:           end,
					bufferedStart: bufStart,
					bufferedEnd:   bufEnd,
					block:         block,
					dayOffset:     dayIdx,
				})
				if len(out) == max {
					return out
				}
				// One candidate per block is enough beyond the first
				// block: later probes in the same block only get worse.
				break
			}
		}
	}
	return out
}

// displace tries to free a lower-priority scheduled task's slot for a task
// that fits nowhere. The displaced task is re-placed when possible (move)
// and dropped otherwise.
func (e *Engine) displace(task model.Task, input Input, days []dayBlock, used *IntervalSet, now, horizonEnd time.Time) (model.Assignment, []model.Displacement, bool) {
	duration := time.Duration(estimate(task)) * time.Minute

	victims := make([]model.Task, 0, len(input.Scheduled))
	for _, st := range input.Scheduled {
		if !st.IsScheduled() {
			continue
		}
		if st.Priority.Rank() <= task.Priority.Rank() {
			continue
		}
		if st.ScheduledStart.Before(now) || st.ScheduledEnd.After(horizonEnd) {
			continue
		}
		if st.ScheduledEnd.Sub(*st.ScheduledStart) < duration {
			continue
		}
		if task.DueDate != nil && st.ScheduledStart.Add(duration).After(*task.DueDate) {
			continue
		}
		victims = append(victims, st)
	}
	if len(victims) == 0 {
		return model.Assignment{}, nil, false
	}
	sort.SliceStable(victims, func(i, j int) bool {
		return victims[i].ScheduledStart.Before(*victims[j].ScheduledStart)
	})

	victim := victims[0]
	start := *victim.ScheduledStart
	end := start.Add(duration)
	used.Block(start, end)

	disp := model.Displacement{
		TaskID:        victim.ID,
		OriginalStart: *victim.ScheduledStart,
		OriginalEnd:   *victim.ScheduledEnd,
		Reason: fmt.Sprintf("displaced by %s-priority task %s",
			task.Priority, task.ID),
	}

	// Try to re-place the displaced task in the remaining free space.
	if alt := e.findCandidates(victim, days, used, now, 1); len(alt) > 0 {
		used.Block(alt[0].bufferedStart, alt[0].bufferedEnd)
		disp.Action = model.DisplacementMove
		newStart, newEnd := alt[0].start, alt[0].end
		disp.NewStart = &newStart
		disp.NewEnd = &newEnd
	} else {
		disp.Action = model.DisplacementDrop
	}

	chosen := candidate{start: start, end: end, block: Range{Start: start, End: end}}
	asg := model.Assignment{
		TaskID:               task.ID,
		Suggestions:          e.scoreCandidates(task, []candidate{chosen}, now, input.CalendarID),
		RecommendedSlotIndex: 0,
	}
	return asg, []model.Displacement{disp}, true
}

// scoreCandidates turns candidates into ranked suggestions.
func (e *Engine) scoreCandidates(task model.Task, candidates []candidate, now time.Time, calendarID string) []model.Suggestion {
	out := make([]model.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, e.score(task, c, calendarID))
	}
	return out
}

// score computes the weighted factor breakdown for one candidate.
func (e *Engine) score(task model.Task, c candidate, calendarID string) model.Suggestion {
	duration := c.end.Sub(c.start)

	// calendar_fit: tighter fill of the free block scores higher.
	fit := 100.0
	if blockLen := c.block.End.Sub(c.block.Start); blockLen > 0 {
		fit = float64(duration) / float64(blockLen) * 100
		if fit > 100 {
			fit = 100
		}
	}

	// priority_order: high-priority work wants the earliest days.
	order := 100.0 - float64(c.dayOffset)*12
	if task.Priority == model.PriorityLow {
		// Low-priority tasks are not penalized for landing late.
		order = 80
	}
	if order < 0 {
		order = 0
	}

	// due_date_headroom: more slack before the due date scores higher; a
	// task without a due date gets a neutral score.
	headroom := 70.0
	if task.DueDate != nil {
		slack := task.DueDate.Sub(c.end)
		switch {
		case slack < 0:
			headroom = 0
		case slack >= 48*time.Hour:
			headroom = 100
		default:
			headroom = float64(slack) / float64(48*time.Hour) * 100
		}
	}

	total := weightCalendarFit*fit + weightPriorityOrder*order + weightDueDate*headroom
	score := int(total + 0.5)
	if score > 100 {
		score = 100
	}

	return model.Suggestion{
		Slot:       model.TimeSlot{Start: c.start, End: c.end, Available: true},
		CalendarID: calendarID,
		Score:      score,
		Reasoning: fmt.Sprintf(
			"%d-minute slot on %s starting %s; fills %.0f%% of its free block",
			int(duration/time.Minute),
			model.DateKey(c.start),
			c.start.Format("15:04"),
			fit,
		),
		Factors: []model.ScoreFactor{
			{Name: factorCalendarFit, Weight: weightCalendarFit, Score: fit, Description: factorCalendarFitDesc},
			{Name: factorPriorityOrder, Weight: weightPriorityOrder, Score: order, Description: factorPriorityOrderDesc},
			{Name: factorDueDate, Weight: weightDueDate, Score: headroom, Description: factorDueDateDesc},
		},
	}
}

// orderTasks sorts by priority, then due date with absent dates last; the
// stable sort keeps input order for full ties.
func orderTasks(tasks []model.Task) []model.Task {
	out := make([]model.Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		di, dj := out[i].DueDate, out[j].DueDate
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
	return out
}

// estimate returns the task duration in minutes with the default applied.
func estimate(task model.Task) int {
	if task.TimeEstimate > 0 {
		return task.TimeEstimate
	}
	return defaultEstimateMinutes
}

// clockOn places an "HH:MM" clock value on a specific date.
func (e *Engine) clockOn(date time.Time, clock string) (time.Time, bool) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return time.Time{}, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, e.loc), true
}
