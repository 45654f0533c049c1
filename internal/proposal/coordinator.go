// Package proposal orchestrates the propose -> approve/reject -> confirm
// workflow: it wraps the scheduling engine's output in an ephemeral
// proposal, mediates approval, and commits approved assignments as
// provider events and task schedule fields.
package proposal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/brain-dumper/internal/availability"
	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/schedule"
	"github.com/nhle/brain-dumper/internal/store"
)

const (
	// proposalTTL is how long a generated proposal stays confirmable.
	proposalTTL = 15 * time.Minute

	// suggestionTTL keeps repeated UI suggestion queries cheap.
	suggestionTTL = 5 * time.Minute
)

// heldProposal tracks a proposal and its per-task approval states
// (pending -> approved | rejected, terminal modified).
type heldProposal struct {
	proposal model.ScheduleProposal
	states   map[string]model.ApprovalState
}

// Coordinator generates and commits schedule proposals for one store and
// provider. All caches are owned by the instance.
type Coordinator struct {
	store  store.Store
	api    provider.API
	engine *schedule.Engine
	cfg    model.SchedulingConfig
	loc    *time.Location

	mu        sync.Mutex
	proposals map[string]*heldProposal

	suggestions *ttlCache[[]model.Suggestion]

	// availability results are cached under a (date range, calendar set,
	// working hours, timezone) key with caller-controlled invalidation
	// (explicit refresh), not time-based expiry.
	availMu    sync.Mutex
	availCache map[string][]model.AvailabilityWindow
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(s store.Store, api provider.API, cfg model.SchedulingConfig) (*Coordinator, error) {
	engine, err := schedule.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Coordinator{
		store:       s,
		api:         api,
		engine:      engine,
		cfg:         cfg,
		loc:         loc,
		proposals:   make(map[string]*heldProposal),
		suggestions: newTTLCache[[]model.Suggestion](suggestionTTL),
		availCache:  make(map[string][]model.AvailabilityWindow),
	}, nil
}

// GetAvailability derives availability windows for the date range across
// the given calendars, intersecting so a range is free only when free on
// every calendar. With refresh set the cache entry is recomputed.
func (c *Coordinator) GetAvailability(
	ctx context.Context,
	userID string,
	calendarIDs []string,
	start, end time.Time,
	workingHours *model.WorkingHours,
	refresh bool,
) ([]model.AvailabilityWindow, error) {
	wh := c.cfg.WorkingHours
	if workingHours != nil {
		wh = *workingHours
	}

	key := strings.Join([]string{
		userID,
		model.DateKey(start), model.DateKey(end),
		strings.Join(calendarIDs, ","),
		wh.Start, wh.End,
		c.loc.String(),
	}, "|")

	if !refresh {
		c.availMu.Lock()
		cached, ok := c.availCache[key]
		c.availMu.Unlock()
		if ok {
			return cached, nil
		}
	}

	opts := availability.Options{
		Start:          start,
		End:            end,
		WorkingHours:   wh,
		ProtectedSlots: c.cfg.ProtectedSlots,
		Location:       c.loc,
	}

	var windows []model.AvailabilityWindow
	if len(calendarIDs) == 0 {
		events, err := c.userEvents(ctx, userID, nil, start, end)
		if err != nil {
			return nil, err
		}
		windows, err = availability.BuildWindows(events, opts)
		if err != nil {
			return nil, err
		}
	} else {
		// A task may land on any enabled calendar, so availability must
		// hold on all of them: build per-calendar sets and intersect.
		sets := make([][]model.AvailabilityWindow, 0, len(calendarIDs))
		for _, calID := range calendarIDs {
			events, err := c.userEvents(ctx, userID, []string{calID}, start, end)
			if err != nil {
				return nil, err
			}
			set, err := availability.BuildWindows(events, opts)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
		windows = availability.Intersect(sets...)
	}

	c.availMu.Lock()
	c.availCache[key] = windows
	c.availMu.Unlock()
	return windows, nil
}

func (c *Coordinator) userEvents(ctx context.Context, userID string, calendarIDs []string, from, to time.Time) ([]model.CalendarEvent, error) {
	// Widen by a day on both ends so events spilling over midnight in the
	// engine's timezone are not missed.
	lo := from.AddDate(0, 0, -1)
	hi := to.AddDate(0, 0, 2)
	return c.store.GetEvents(ctx, store.EventFilter{
		UserID:      &userID,
		CalendarIDs: calendarIDs,
		From:        &lo,
		To:          &hi,
	})
}

// ProposeOptions tunes one proposal run.
type ProposeOptions struct {
	CalendarIDs []string
	// CalendarID is the calendar committed events are created on.
	CalendarID string
}

// Propose runs the scheduling engine over the given tasks and wraps the
// result in an ephemeral proposal. An empty task list is a no-op: the
// engine is not invoked and no proposal is held.
func (c *Coordinator) Propose(ctx context.Context, userID string, tasks []model.Task, opts ProposeOptions) (*model.ScheduleProposal, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	now := time.Now()
	horizonEnd := now.Add(time.Duration(c.cfg.HorizonDays) * 24 * time.Hour)

	windows, err := c.GetAvailability(ctx, userID, opts.CalendarIDs, now, horizonEnd, nil, true)
	if err != nil {
		return nil, fmt.Errorf("computing availability for proposal: %w", err)
	}

	scheduled, err := c.store.GetTasks(ctx, store.TaskFilter{
		UserID:    &userID,
		Scheduled: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("loading scheduled tasks: %w", err)
	}

	result := c.engine.Assign(schedule.Input{
		Tasks:      tasks,
		Scheduled:  scheduled,
		Windows:    windows,
		CalendarID: opts.CalendarID,
		Now:        now,
	})

	proposal := model.ScheduleProposal{
		ID:            uuid.New().String(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(proposalTTL),
		Assignments:   result.Assignments,
		Displacements: result.Displacements,
		Unscheduled:   result.Unscheduled,
		Summary: fmt.Sprintf("%d of %d task(s) placed, %d displacement(s)",
			len(result.Assignments), len(tasks), len(result.Displacements)),
	}

	// Record the outcome on tasks that found no slot so the caller can see
	// why they stayed pending.
	for _, u := range result.Unscheduled {
		for _, task := range tasks {
			if task.ID != u.TaskID {
				continue
			}
			task.UnscheduledReason = model.ReasonNoAvailableSlot
			if err := c.store.UpsertTask(ctx, task); err != nil {
				log.Warn("recording no-slot reason", "task_id", task.ID, "reason", err.Error())
			}
			break
		}
	}

	held := &heldProposal{
		proposal: proposal,
		states:   make(map[string]model.ApprovalState, len(result.Assignments)),
	}
	for _, a := range result.Assignments {
		held.states[a.TaskID] = model.ApprovalPending
	}

	c.mu.Lock()
	c.pruneExpiredLocked(now)
	c.proposals[proposal.ID] = held
	c.mu.Unlock()

	return &proposal, nil
}

// Suggestions returns ranked candidate slots for one task, serving
// repeated queries from a short-lived cache.
func (c *Coordinator) Suggestions(ctx context.Context, userID, taskID string, count int, from, to *time.Time) ([]model.Suggestion, error) {
	if count <= 0 {
		count = 3
	}

	key := taskID + "|" + fmt.Sprint(count)
	if from != nil {
		key += "|" + model.DateKey(*from)
	}
	if to != nil {
		key += "|" + model.DateKey(*to)
	}

	if cached, ok := c.suggestions.get(key); ok {
		return cached, nil
	}

	task, err := c.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	now := time.Now()
	rangeStart := now
	rangeEnd := now.Add(time.Duration(c.cfg.HorizonDays) * 24 * time.Hour)
	if from != nil {
		rangeStart = *from
	}
	if to != nil {
		rangeEnd = *to
	}

	windows, err := c.GetAvailability(ctx, userID, nil, rangeStart, rangeEnd, nil, false)
	if err != nil {
		return nil, err
	}

	result := c.engine.Assign(schedule.Input{
		Tasks:   []model.Task{*task},
		Windows: windows,
		Now:     now,
	})
	if len(result.Assignments) == 0 {
		return nil, nil
	}

	suggestions := result.Assignments[0].Suggestions
	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}
	c.suggestions.put(key, suggestions)
	return suggestions, nil
}

// Confirm commits approved assignments: approved displacements are applied
// first so later writes never race against them, then each approved task
// gets its provider event and schedule fields. Commits are best-effort;
// failures are reported per task and nothing is rolled back.
func (c *Coordinator) Confirm(
	ctx context.Context,
	proposalID string,
	approvals []model.Approval,
	displacementsApproved []string,
) (*model.ConfirmResult, error) {
	c.mu.Lock()
	held, ok := c.proposals[proposalID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no proposal %s to confirm against", proposalID)
	}
	if time.Now().After(held.proposal.ExpiresAt) {
		return nil, fmt.Errorf("proposal %s has expired", proposalID)
	}

	approvedDisp := make(map[string]bool, len(displacementsApproved))
	for _, id := range displacementsApproved {
		approvedDisp[id] = true
	}

	appliedDisp := make(map[string]bool)
	for _, disp := range held.proposal.Displacements {
		if !approvedDisp[disp.TaskID] {
			continue
		}
		if err := c.applyDisplacement(ctx, disp); err != nil {
			log.Error("applying displacement", err, "task_id", disp.TaskID)
			continue
		}
		appliedDisp[disp.TaskID] = true
	}

	result := model.ConfirmResult{ProposalID: proposalID, AllApplied: true}

	approvalByTask := make(map[string]model.Approval, len(approvals))
	for _, a := range approvals {
		approvalByTask[a.TaskID] = a
	}

	for _, assignment := range held.proposal.Assignments {
		approval, ok := approvalByTask[assignment.TaskID]
		if !ok || approval.State == model.ApprovalRejected || approval.State == model.ApprovalPending {
			c.setState(held, assignment.TaskID, model.ApprovalRejected)
			continue
		}

		slot, calendarID, err := resolveSlot(assignment, approval)
		if err != nil {
			result.Results = append(result.Results, model.TaskCommitResult{
				TaskID: assignment.TaskID, Success: false, Reason: err.Error(),
			})
			result.AllApplied = false
			continue
		}
		if calendarID == "" {
			calendarID = c.defaultCalendarID(assignment)
		}

		// An assignment whose slot was freed by an unapproved
		// displacement cannot be applied safely.
		if blocked := c.blockedByDisplacement(held.proposal, slot, approvedDisp, appliedDisp); blocked {
			c.setState(held, assignment.TaskID, model.ApprovalPending)
			result.Results = append(result.Results, model.TaskCommitResult{
				TaskID:  assignment.TaskID,
				Success: false,
				Reason:  "displacement_not_approved",
			})
			result.AllApplied = false
			continue
		}

		eventID, err := c.commitTask(ctx, assignment.TaskID, slot, calendarID)
		if err != nil {
			log.Error("committing assignment", err, "task_id", assignment.TaskID)
			result.Results = append(result.Results, model.TaskCommitResult{
				TaskID: assignment.TaskID, Success: false, Reason: err.Error(),
			})
			result.AllApplied = false
			continue
		}

		c.setState(held, assignment.TaskID, approval.State)
		c.suggestions.invalidatePrefix(assignment.TaskID + "|")
		result.Results = append(result.Results, model.TaskCommitResult{
			TaskID: assignment.TaskID, Success: true, EventID: eventID,
		})
	}

	return &result, nil
}

// resolveSlot picks the committed slot from the approval: a suggestion
// index for approved, the hand-picked slot for modified.
func resolveSlot(assignment model.Assignment, approval model.Approval) (model.TimeSlot, string, error) {
	if approval.State == model.ApprovalModified {
		if approval.Slot == nil {
			return model.TimeSlot{}, "", fmt.Errorf("modified approval without a slot")
		}
		return *approval.Slot, approval.CalendarID, nil
	}

	idx := approval.SlotIndex
	if idx == 0 {
		idx = assignment.RecommendedSlotIndex
	}
	if idx < 0 || idx >= len(assignment.Suggestions) {
		return model.TimeSlot{}, "", fmt.Errorf("suggestion index %d out of range", idx)
	}
	s := assignment.Suggestions[idx]
	return s.Slot, s.CalendarID, nil
}

func (c *Coordinator) defaultCalendarID(assignment model.Assignment) string {
	for _, s := range assignment.Suggestions {
		if s.CalendarID != "" {
			return s.CalendarID
		}
	}
	return "primary"
}

// blockedByDisplacement reports whether the slot overlaps the original
// range of a displacement the user did not approve (or that failed).
func (c *Coordinator) blockedByDisplacement(p model.ScheduleProposal, slot model.TimeSlot, approved, applied map[string]bool) bool {
	for _, disp := range p.Displacements {
		if approved[disp.TaskID] && applied[disp.TaskID] {
			continue
		}
		if slot.Overlaps(disp.OriginalStart, disp.OriginalEnd) {
			return true
		}
	}
	return false
}

// applyDisplacement moves or drops one displaced task before the
// displacing assignment is written.
func (c *Coordinator) applyDisplacement(ctx context.Context, disp model.Displacement) error {
	task, err := c.store.GetTaskByID(ctx, disp.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("displaced task %s not found", disp.TaskID)
	}

	if disp.Action == model.DisplacementMove && disp.NewStart != nil && disp.NewEnd != nil {
		if task.CalendarEventID != "" {
			payload := provider.TimedPayload(task.Content, *disp.NewStart, *disp.NewEnd, task.ID, "")
			if _, err := c.api.UpdateEvent(ctx, task.CalendarID, task.CalendarEventID, payload); err != nil {
				return fmt.Errorf("moving provider event: %w", err)
			}
		}
		if err := c.store.SetTaskSchedule(ctx, task.ID, *disp.NewStart, *disp.NewEnd,
			task.CalendarEventID, task.CalendarID, model.SyncStatusSynced); err != nil {
			return err
		}
		c.suggestions.invalidatePrefix(task.ID + "|")
		return nil
	}

	// Drop: delete the provider event and unschedule the task.
	if task.CalendarEventID != "" {
		if err := c.api.DeleteEvent(ctx, task.CalendarID, task.CalendarEventID); err != nil && !provider.IsNotFound(err) {
			return fmt.Errorf("deleting provider event: %w", err)
		}
		if err := c.store.DeleteEvent(ctx, task.CalendarEventID); err != nil {
			return err
		}
	}
	if err := c.store.ClearTaskSchedule(ctx, task.ID, model.ReasonDisplacedDropped); err != nil {
		return err
	}
	c.suggestions.invalidatePrefix(task.ID + "|")
	return nil
}

// commitTask creates the provider event (plus buffer events per the
// task's buffer rule) and writes the task's schedule fields.
func (c *Coordinator) commitTask(ctx context.Context, taskID string, slot model.TimeSlot, calendarID string) (string, error) {
	task, err := c.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("task %s not found", taskID)
	}

	// Record the chosen slot before the provider write: the task moves to
	// scheduled, then synced once the event exists, or sync_error if the
	// write fails (the slot is kept so a retry can reuse it).
	if err := c.store.SetTaskSchedule(ctx, task.ID, slot.Start, slot.End,
		"", calendarID, model.SyncStatusScheduled); err != nil {
		return "", err
	}

	payload := provider.TimedPayload(task.Content, slot.Start, slot.End, task.ID, "")
	created, err := c.api.CreateEvent(ctx, calendarID, payload)
	if err != nil {
		if stErr := c.store.SetTaskSchedule(ctx, task.ID, slot.Start, slot.End,
			"", calendarID, model.SyncStatusError); stErr != nil {
			log.Error("recording sync error", stErr, "task_id", task.ID)
		}
		return "", fmt.Errorf("creating provider event: %w", err)
	}

	// Mirror immediately rather than waiting for the webhook round-trip.
	if err := c.store.UpsertEvent(ctx, model.CalendarEvent{
		ID:           created.ID,
		CalendarID:   calendarID,
		UserID:       task.UserID,
		Title:        task.Content,
		Start:        slot.Start,
		End:          slot.End,
		Status:       model.EventStatusConfirmed,
		LinkedTaskID: task.ID,
	}); err != nil {
		return "", err
	}

	c.createBufferEvents(ctx, task, slot, calendarID)

	if err := c.store.SetTaskSchedule(ctx, task.ID, slot.Start, slot.End,
		created.ID, calendarID, model.SyncStatusSynced); err != nil {
		return "", err
	}
	return created.ID, nil
}

// createBufferEvents adds the before/after buffer events for a task's
// type. Buffer failures are logged, not fatal: the main event is already
// committed and the buffer is protective, not load-bearing.
func (c *Coordinator) createBufferEvents(ctx context.Context, task *model.Task, slot model.TimeSlot, calendarID string) {
	rule := c.cfg.BufferFor(task.TaskType)

	if rule.BeforeMinutes > 0 {
		start := slot.Start.Add(-time.Duration(rule.BeforeMinutes) * time.Minute)
		payload := provider.TimedPayload("Buffer", start, slot.Start, task.ID, string(model.BufferRoleBefore))
		if _, err := c.api.CreateEvent(ctx, calendarID, payload); err != nil {
			log.Warn("creating before-buffer event failed", "task_id", task.ID, "reason", err.Error())
		}
	}
	if rule.AfterMinutes > 0 {
		end := slot.End.Add(time.Duration(rule.AfterMinutes) * time.Minute)
		payload := provider.TimedPayload("Buffer", slot.End, end, task.ID, string(model.BufferRoleAfter))
		if _, err := c.api.CreateEvent(ctx, calendarID, payload); err != nil {
			log.Warn("creating after-buffer event failed", "task_id", task.ID, "reason", err.Error())
		}
	}
}

// ScheduleTask places one task directly into a slot, outside the proposal
// workflow.
func (c *Coordinator) ScheduleTask(ctx context.Context, taskID string, slot model.TimeSlot, calendarID string) error {
	if calendarID == "" {
		calendarID = "primary"
	}
	_, err := c.commitTask(ctx, taskID, slot, calendarID)
	if err == nil {
		c.suggestions.invalidatePrefix(taskID + "|")
	}
	return err
}

// UnscheduleTask removes a task's provider event and clears its schedule.
func (c *Coordinator) UnscheduleTask(ctx context.Context, taskID string) error {
	task, err := c.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if task.CalendarEventID != "" {
		if err := c.api.DeleteEvent(ctx, task.CalendarID, task.CalendarEventID); err != nil && !provider.IsNotFound(err) {
			return fmt.Errorf("deleting provider event: %w", err)
		}
		if err := c.store.DeleteEvent(ctx, task.CalendarEventID); err != nil {
			return err
		}
	}

	if err := c.store.ClearTaskSchedule(ctx, taskID, model.ReasonManuallyRemoved); err != nil {
		return err
	}
	c.suggestions.invalidatePrefix(taskID + "|")
	return nil
}

// RescheduleTask moves a scheduled task to a new slot, updating the
// provider event in place when one exists.
func (c *Coordinator) RescheduleTask(ctx context.Context, taskID string, slot model.TimeSlot, calendarID string) error {
	task, err := c.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.CalendarEventID == "" {
		return c.ScheduleTask(ctx, taskID, slot, calendarID)
	}
	if calendarID == "" {
		calendarID = task.CalendarID
	}

	payload := provider.TimedPayload(task.Content, slot.Start, slot.End, task.ID, "")
	if _, err := c.api.UpdateEvent(ctx, calendarID, task.CalendarEventID, payload); err != nil {
		return fmt.Errorf("moving provider event: %w", err)
	}

	if err := c.store.SetTaskSchedule(ctx, taskID, slot.Start, slot.End,
		task.CalendarEventID, calendarID, model.SyncStatusSynced); err != nil {
		return err
	}
	c.suggestions.invalidatePrefix(taskID + "|")
	return nil
}

// InvalidateAvailability drops every cached availability window; the sync
// processor calls this after applying deltas.
func (c *Coordinator) InvalidateAvailability() {
	c.availMu.Lock()
	c.availCache = make(map[string][]model.AvailabilityWindow)
	c.availMu.Unlock()
}

func (c *Coordinator) setState(held *heldProposal, taskID string, state model.ApprovalState) {
	c.mu.Lock()
	held.states[taskID] = state
	c.mu.Unlock()
}

// pruneExpiredLocked drops expired proposals. Caller holds c.mu.
func (c *Coordinator) pruneExpiredLocked(now time.Time) {
	for id, held := range c.proposals {
		if now.After(held.proposal.ExpiresAt) {
			delete(c.proposals, id)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
