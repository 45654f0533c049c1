package watch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/store"
)

// sweepTimeout bounds one renewal sweep.
const sweepTimeout = 2 * time.Minute

// Renewer periodically renews watch channels that are close to expiring.
// The sync processor also pushes channel ids here when a notification
// arrives on an already-expired channel, so renewal happens out-of-band
// from webhook handling.
type Renewer struct {
	manager   *Manager
	store     store.Store
	threshold time.Duration
	cron      *cron.Cron
	triggerCh chan string
	stopCh    chan struct{}
}

// NewRenewer creates a Renewer with the given renewal threshold.
func NewRenewer(m *Manager, s store.Store, threshold time.Duration) *Renewer {
	if threshold <= 0 {
		threshold = DefaultRenewalThreshold
	}
	return &Renewer{
		manager:   m,
		store:     s,
		threshold: threshold,
		triggerCh: make(chan string, 16),
		stopCh:    make(chan struct{}),
	}
}

// Start schedules the sweep on the given cron spec (e.g. "0 * * * *") and
// begins consuming out-of-band triggers.
func (r *Renewer) Start(spec string) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(spec, r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	go r.loop()
	return nil
}

// Stop halts the cron schedule and the trigger loop.
func (r *Renewer) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
	close(r.stopCh)
}

// Trigger requests an immediate renewal of one channel without blocking
// the caller (the webhook path must answer fast).
func (r *Renewer) Trigger(channelID string) {
	select {
	case r.triggerCh <- channelID:
	default:
		// Channel full; the next sweep will catch it.
	}
}

// Sweep renews every subscription within the threshold of expiring.
func (r *Renewer) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	subs, err := r.store.GetSubscriptions(ctx)
	if err != nil {
		log.Error("renewal sweep: listing subscriptions", err)
		return
	}

	now := time.Now()
	for _, sub := range subs {
		if !NeedsRenewalAt(sub, now, r.threshold) {
			continue
		}
		if _, err := r.manager.Renew(ctx, sub); err != nil {
			log.Error("renewing watch channel", err,
				"channel_id", sub.ID, "calendar_id", sub.CalendarID)
		}
	}
}

func (r *Renewer) loop() {
	for {
		select {
		case <-r.stopCh:
			return
		case channelID := <-r.triggerCh:
			r.renewByChannelID(channelID)
		}
	}
}

func (r *Renewer) renewByChannelID(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	sub, err := r.store.GetSubscriptionByChannelID(ctx, channelID)
	if err != nil {
		log.Error("looking up channel for renewal", err, "channel_id", channelID)
		return
	}
	if sub == nil {
		// Superseded since the trigger was queued; nothing to renew.
		return
	}
	if _, err := r.manager.Renew(ctx, *sub); err != nil {
		log.Error("renewing watch channel", err, "channel_id", channelID)
	}
}
