package model

import "time"

// WatchSubscription is a push-notification channel registered with the
// calendar provider for one (user, calendar) pair.
type WatchSubscription struct {
	// ID is the channel id sent back by the provider on every
	// notification (x-goog-channel-id).
	ID string `json:"id" db:"id"`

	// ResourceID identifies the watched resource provider-side; required
	// to stop the channel.
	ResourceID string `json:"resource_id" db:"resource_id"`

	CalendarID string    `json:"calendar_id" db:"calendar_id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Expiration time.Time `json:"expiration" db:"expiration"`

	// ChannelToken is the sole authenticator validated against the
	// x-goog-channel-token header. Format: "userId:calendarId".
	ChannelToken string `json:"channel_token" db:"channel_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the channel has passed its expiration at now.
func (s *WatchSubscription) Expired(now time.Time) bool {
	return !s.Expiration.After(now)
}

// SyncCursor is the opaque incremental-sync token for one (user, calendar)
// pair. It must be cleared before the next fetch once the provider reports
// it expired.
type SyncCursor struct {
	UserID     string    `json:"user_id" db:"user_id"`
	CalendarID string    `json:"calendar_id" db:"calendar_id"`
	Token      string    `json:"token" db:"token"`
	LastSyncAt time.Time `json:"last_sync_at" db:"last_sync_at"`
}
