// Package calsync consumes provider push notifications and incremental
// deltas, keeps the local event mirror fresh, and reflects external
// deletions and reschedules onto linked tasks.
package calsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/internal/watch"
)

const (
	// rescheduleTolerance absorbs provider-side rounding: a start/end
	// shift must exceed this to count as an external reschedule.
	rescheduleTolerance = 60 * time.Second

	// resyncLookback bounds the full-resync query after cursor expiry.
	resyncLookback = 30 * 24 * time.Hour
)

// renewalScheduler schedules an out-of-band channel renewal. Satisfied by
// *watch.Renewer.
type renewalScheduler interface {
	Trigger(channelID string)
}

// Notification is the header triple of an incoming webhook delivery.
type Notification struct {
	ChannelID     string
	ResourceState string
	Token         string
}

// Processor handles webhook notifications and delta application.
//
// Processing for a given (user, calendar) pair is serialized: two
// concurrent deltas racing on the same stale cursor would double-apply or
// lose events. Different pairs proceed fully in parallel.
type Processor struct {
	store   store.Store
	api     provider.API
	renewer renewalScheduler
	loc     *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProcessor creates a Processor. loc anchors all-day event dates; pass
// nil for time.Local.
func NewProcessor(s store.Store, api provider.API, renewer renewalScheduler, loc *time.Location) *Processor {
	if loc == nil {
		loc = time.Local
	}
	return &Processor{
		store:   s,
		api:     api,
		renewer: renewer,
		loc:     loc,
		locks:   make(map[string]*sync.Mutex),
	}
}

// HandleNotification processes one webhook delivery. The returned error is
// informational: sync failures are recovered or logged, and the caller
// still acknowledges with 200 to stop provider retries (only the web layer's
// own header validation produces 4xx responses).
func (p *Processor) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	state := ParseResourceState(n.ResourceState)
	if state.Action() == ActionIgnore {
		return OutcomeIgnored, nil
	}

	sub, err := p.store.GetSubscriptionByChannelID(ctx, n.ChannelID)
	if err != nil {
		return OutcomeProcessed, fmt.Errorf("looking up channel %s: %w", n.ChannelID, err)
	}
	if sub == nil {
		// The channel was likely superseded by a renewal; acknowledge so
		// the provider stops redelivering.
		return OutcomeUnknownChannel, nil
	}

	if !watch.ValidateToken(n.Token, sub) {
		return OutcomeInvalidToken, nil
	}

	if state.Action() == ActionConfirm {
		return OutcomeChannelConfirmed, nil
	}

	if sub.Expired(time.Now()) {
		p.renewer.Trigger(sub.ID)
		return OutcomeChannelExpired, nil
	}

	if _, err := p.SyncCalendar(ctx, sub.UserID, sub.CalendarID, false); err != nil {
		return OutcomeProcessed, err
	}
	return OutcomeProcessed, nil
}

// SyncCalendar fetches and applies deltas for one (user, calendar) pair,
// serialized per pair. With full set, or when no cursor is stored, it runs
// the bounded full resync instead. Returns the number of events that
// produced task-side updates.
func (p *Processor) SyncCalendar(ctx context.Context, userID, calendarID string, full bool) (int, error) {
	lock := p.keyLock(userID + "\x00" + calendarID)
	lock.Lock()
	defer lock.Unlock()

	cursor, err := p.store.GetCursor(ctx, userID, calendarID)
	if err != nil {
		return 0, err
	}

	if full || cursor == nil {
		return p.fullResync(ctx, userID, calendarID)
	}

	delta, err := p.api.ListDeltas(ctx, calendarID, cursor.Token)
	if provider.IsCursorExpired(err) {
		// The cursor must never be used again once reported expired:
		// clear it, then replace the half-consumed delta with a full
		// resync whose response carries a fresh cursor.
		log.Info("sync cursor expired, running full resync",
			"user_id", userID, "calendar_id", calendarID)
		if delErr := p.store.DeleteCursor(ctx, userID, calendarID); delErr != nil {
			return 0, delErr
		}
		return p.fullResync(ctx, userID, calendarID)
	}
	if err != nil {
		return 0, fmt.Errorf("incremental sync for %s/%s: %w", userID, calendarID, err)
	}

	updated := p.apply(ctx, userID, calendarID, delta.Items)

	if delta.NextSyncToken != "" {
		if err := p.store.SetCursor(ctx, model.SyncCursor{
			UserID:     userID,
			CalendarID: calendarID,
			Token:      delta.NextSyncToken,
			LastSyncAt: time.Now(),
		}); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// fullResync runs the cursorless query: managed events created within the
// look-back window, ending with a fresh cursor.
func (p *Processor) fullResync(ctx context.Context, userID, calendarID string) (int, error) {
	delta, err := p.api.ListManagedSince(ctx, calendarID, time.Now().Add(-resyncLookback))
	if err != nil {
		return 0, fmt.Errorf("full resync for %s/%s: %w", userID, calendarID, err)
	}

	updated := p.apply(ctx, userID, calendarID, delta.Items)

	if delta.NextSyncToken != "" {
		if err := p.store.SetCursor(ctx, model.SyncCursor{
			UserID:     userID,
			CalendarID: calendarID,
			Token:      delta.NextSyncToken,
			LastSyncAt: time.Now(),
		}); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// apply mirrors changed events locally and applies task-side effects for
// managed events. It is idempotent: re-applying the same delta sets the
// same fields again.
func (p *Processor) apply(ctx context.Context, userID, calendarID string, items []provider.EventPayload) int {
	updated := 0
	for _, payload := range items {
		ev, err := provider.Normalize(payload, p.loc)
		if err != nil {
			log.Warn("skipping malformed event payload", "reason", err.Error())
			continue
		}

		p.mirror(ctx, userID, calendarID, ev)

		if !ev.Managed || ev.BufferRole != "" {
			// Not a Brain-Dumper task event; no task-side effects.
			continue
		}
		if p.applyTaskEffect(ctx, ev) {
			updated++
		}
	}
	return updated
}

// mirror keeps the local event store in step with the provider.
func (p *Processor) mirror(ctx context.Context, userID, calendarID string, ev provider.Event) {
	if ev.Deleted {
		if err := p.store.DeleteEvent(ctx, ev.ID); err != nil {
			log.Error("removing mirrored event", err, "event_id", ev.ID)
		}
		return
	}
	if !ev.HasStart || !ev.HasEnd {
		// Without times there is nothing useful to mirror.
		return
	}
	err := p.store.UpsertEvent(ctx, model.CalendarEvent{
		ID:               ev.ID,
		CalendarID:       calendarID,
		UserID:           userID,
		Title:            ev.Title,
		Start:            ev.Start,
		End:              ev.End,
		AllDay:           ev.Kind == provider.KindAllDay,
		Status:           eventStatus(ev.Status),
		LinkedTaskID:     ev.TaskID,
		BufferRole:       model.BufferRole(ev.BufferRole),
		RecurringEventID: ev.RecurringEventID,
	})
	if err != nil {
		log.Error("mirroring event", err, "event_id", ev.ID)
	}
}

// applyTaskEffect classifies one managed event change and updates the
// linked task. Returns true when the task was touched.
func (p *Processor) applyTaskEffect(ctx context.Context, ev provider.Event) bool {
	task, err := p.store.GetTaskByID(ctx, ev.TaskID)
	if err != nil {
		log.Error("loading task for back-referenced event", err, "task_id", ev.TaskID)
		return false
	}
	if task == nil {
		// External edits never create tasks.
		log.Warn("no task for back-referenced event, skipping",
			"task_id", ev.TaskID, "event_id", ev.ID)
		return false
	}
	if task.CalendarEventID != "" && task.CalendarEventID != ev.ID {
		// The task has since been linked to a different event; this
		// change is stale.
		return false
	}

	if ev.Deleted {
		if err := p.store.ClearTaskSchedule(ctx, task.ID, model.ReasonEventDeleted); err != nil {
			log.Error("clearing schedule for deleted event", err, "task_id", task.ID)
			return false
		}
		log.Info("task unscheduled, calendar event deleted externally",
			"task_id", task.ID, "event_id", ev.ID)
		return true
	}

	startChanged := timeChanged(task.ScheduledStart, ev.Start, ev.HasStart)
	endChanged := timeChanged(task.ScheduledEnd, ev.End, ev.HasEnd)
	if !startChanged && !endChanged {
		return false
	}

	// Keep the stored value for whichever bound the payload omitted.
	newStart := ev.Start
	if !ev.HasStart && task.ScheduledStart != nil {
		newStart = *task.ScheduledStart
	}
	newEnd := ev.End
	if !ev.HasEnd && task.ScheduledEnd != nil {
		newEnd = *task.ScheduledEnd
	}

	if err := p.store.MarkTaskRescheduled(ctx, task.ID, newStart, newEnd); err != nil {
		log.Error("adopting external reschedule", err, "task_id", task.ID)
		return false
	}
	log.Info("task rescheduled externally",
		"task_id", task.ID, "event_id", ev.ID,
		"start", newStart.Format(time.RFC3339))
	return true
}

// timeChanged implements the reschedule classification rule: a missing new
// time never counts as a change, a missing old time always counts, and
// otherwise the shift must exceed the tolerance.
func timeChanged(old *time.Time, newT time.Time, hasNew bool) bool {
	if !hasNew {
		return false
	}
	if old == nil {
		return true
	}
	diff := newT.Sub(*old)
	if diff < 0 {
		diff = -diff
	}
	return diff > rescheduleTolerance
}

// eventStatus maps a provider status string onto the local enum.
func eventStatus(s string) model.EventStatus {
	switch s {
	case "tentative":
		return model.EventStatusTentative
	case "cancelled":
		return model.EventStatusCancelled
	default:
		return model.EventStatusConfirmed
	}
}

// keyLock returns the mutex serializing one (user, calendar) pair.
func (p *Processor) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[key] = l
	return l
}
