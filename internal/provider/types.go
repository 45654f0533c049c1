package provider

import "time"

// Private extended-property keys carried on events managed by this app.
const (
	// TaskRefProperty back-references the task an event schedules.
	TaskRefProperty = "braindumperTaskId"
	// BufferRoleProperty marks an event as before/after buffer time.
	BufferRoleProperty = "braindumperBufferRole"
)

// EventDateTime is the provider's either-or time field: DateTime for timed
// events, Date for all-day events.
type EventDateTime struct {
	// DateTime is RFC 3339 with explicit offset or UTC marker.
	DateTime string `json:"dateTime,omitempty"`
	// Date is YYYY-MM-DD with no time component.
	Date string `json:"date,omitempty"`
}

// ExtendedProperties holds provider-side private key-value metadata.
type ExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

// EventPayload is the raw provider event wire shape. Downstream code never
// touches this directly; Normalize turns it into an Event first.
type EventPayload struct {
	ID                 string              `json:"id"`
	Summary            string              `json:"summary,omitempty"`
	Status             string              `json:"status,omitempty"`
	Deleted            bool                `json:"deleted,omitempty"`
	Start              *EventDateTime      `json:"start,omitempty"`
	End                *EventDateTime      `json:"end,omitempty"`
	RecurringEventID   string              `json:"recurringEventId,omitempty"`
	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
}

// DeltaResponse is a page of changed events plus the fresh sync cursor.
type DeltaResponse struct {
	Items         []EventPayload `json:"items"`
	NextSyncToken string         `json:"nextSyncToken"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// WatchRequest registers a push-notification channel for a calendar.
type WatchRequest struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	Expiration int64  `json:"expiration"` // unix millis
}

// WatchResponse is the provider's acknowledgment of a watch registration.
type WatchResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration int64  `json:"expiration"` // unix millis
}

// ExpirationTime converts the millisecond expiration to a time.Time.
func (w *WatchResponse) ExpirationTime() time.Time {
	return time.UnixMilli(w.Expiration)
}

// stopRequest tears down a push channel.
type stopRequest struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
}
