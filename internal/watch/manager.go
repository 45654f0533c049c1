// Package watch manages push-notification channels against the calendar
// provider: creation, token validation, expiry checks, and renewal.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/store"
)

// channelTTL is how long a new channel is registered for.
const channelTTL = 7 * 24 * time.Hour

// DefaultRenewalThreshold is the default lead time before expiration at
// which a channel is renewed.
const DefaultRenewalThreshold = 24 * time.Hour

// ChannelID derives a deterministic, provider-safe channel id:
// brain-dumper-{userId}-{sanitizedCalendarId}-{creationEpochMs}.
func ChannelID(userID, calendarID string, createdAt time.Time) string {
	return fmt.Sprintf("brain-dumper-%s-%s-%d",
		userID, sanitizeCalendarID(calendarID), createdAt.UnixMilli())
}

// sanitizeCalendarID replaces every non-alphanumeric character with '_',
// guaranteeing a provider-safe channel id component.
func sanitizeCalendarID(calendarID string) string {
	var b strings.Builder
	b.Grow(len(calendarID))
	for _, r := range calendarID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ChannelToken builds the channel authenticator for a (user, calendar)
// pair. It is the sole credential validated against incoming notifications.
func ChannelToken(userID, calendarID string) string {
	return userID + ":" + calendarID
}

// ValidateToken checks an incoming x-goog-channel-token header against a
// subscription. An empty or mismatched token is an authentication failure,
// never a crash.
func ValidateToken(headerToken string, sub *model.WatchSubscription) bool {
	if sub == nil || headerToken == "" {
		return false
	}
	return headerToken == ChannelToken(sub.UserID, sub.CalendarID)
}

// NeedsRenewal reports whether the subscription expires within threshold
// of now.
func NeedsRenewal(sub model.WatchSubscription, threshold time.Duration) bool {
	return NeedsRenewalAt(sub, time.Now(), threshold)
}

// NeedsRenewalAt is NeedsRenewal with an explicit clock: true iff
// expiration <= now + threshold.
func NeedsRenewalAt(sub model.WatchSubscription, now time.Time, threshold time.Duration) bool {
	return !sub.Expiration.After(now.Add(threshold))
}

// Manager creates, renews, and tears down watch subscriptions.
type Manager struct {
	store      store.Store
	api        provider.API
	webhookURL string
}

// NewManager creates a Manager. webhookURL is the public address the
// provider delivers notifications to.
func NewManager(s store.Store, api provider.API, webhookURL string) *Manager {
	return &Manager{store: s, api: api, webhookURL: webhookURL}
}

// Create registers a push channel for a calendar and persists the
// subscription, replacing any previous channel for the same pair.
func (m *Manager) Create(ctx context.Context, userID, calendarID string) (*model.WatchSubscription, error) {
	now := time.Now()
	channelID := ChannelID(userID, calendarID, now)
	expiration := now.Add(channelTTL)

	resp, err := m.api.Watch(ctx, calendarID, provider.WatchRequest{
		ID:         channelID,
		Address:    m.webhookURL,
		Token:      ChannelToken(userID, calendarID),
		Expiration: expiration.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating watch for %s/%s: %w", userID, calendarID, err)
	}

	// The provider may shorten the requested expiration.
	if resp.Expiration > 0 {
		expiration = resp.ExpirationTime()
	}

	sub := model.WatchSubscription{
		ID:           channelID,
		ResourceID:   resp.ResourceID,
		CalendarID:   calendarID,
		UserID:       userID,
		Expiration:   expiration,
		ChannelToken: ChannelToken(userID, calendarID),
		CreatedAt:    now,
	}

	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("persisting watch subscription %s: %w", channelID, err)
	}

	log.Info("watch channel created",
		"channel_id", channelID,
		"calendar_id", calendarID,
		"expiration", expiration.Format(time.RFC3339),
	)
	return &sub, nil
}

// Renew replaces a subscription with a fresh channel. The old channel is
// stopped best-effort: a channel the provider no longer knows is already
// stopped.
func (m *Manager) Renew(ctx context.Context, sub model.WatchSubscription) (*model.WatchSubscription, error) {
	if err := m.api.StopChannel(ctx, sub.ID, sub.ResourceID); err != nil && !provider.IsNotFound(err) {
		log.Warn("stopping old channel failed, continuing with renewal",
			"channel_id", sub.ID, "reason", err.Error())
	}
	return m.Create(ctx, sub.UserID, sub.CalendarID)
}

// Disconnect stops the channel for a calendar and removes the subscription
// and its sync cursor.
func (m *Manager) Disconnect(ctx context.Context, userID, calendarID string) error {
	sub, err := m.store.GetSubscriptionForCalendar(ctx, userID, calendarID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	if err := m.api.StopChannel(ctx, sub.ID, sub.ResourceID); err != nil && !provider.IsNotFound(err) {
		return fmt.Errorf("stopping channel %s: %w", sub.ID, err)
	}
	if err := m.store.DeleteSubscription(ctx, sub.ID); err != nil {
		return err
	}
	return m.store.DeleteCursor(ctx, userID, calendarID)
}
