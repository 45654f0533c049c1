package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API is the calendar provider surface consumed by the sync and scheduling
// layers. Tests substitute a fake.
type API interface {
	// Watch registers a push-notification channel for a calendar.
	Watch(ctx context.Context, calendarID string, req WatchRequest) (*WatchResponse, error)

	// StopChannel tears down a push channel.
	StopChannel(ctx context.Context, channelID, resourceID string) error

	// ListDeltas fetches incremental changes since the given sync cursor.
	// Returns CursorExpiredError when the provider rejects the cursor.
	ListDeltas(ctx context.Context, calendarID, syncToken string) (*DeltaResponse, error)

	// ListManagedSince is the cursorless full-resync query: events created
	// after the given time that carry the task back-reference property.
	// The response ends with a fresh sync cursor.
	ListManagedSince(ctx context.Context, calendarID string, createdAfter time.Time) (*DeltaResponse, error)

	CreateEvent(ctx context.Context, calendarID string, ev EventPayload) (*EventPayload, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev EventPayload) (*EventPayload, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Client is a thin HTTP client for the calendar provider REST API. It
// handles Bearer token authentication, JSON marshaling, and automatic
// retry with exponential backoff on HTTP 429 and 5xx responses.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

var _ API = (*Client)(nil)

// NewClient creates a provider client. The token is the user's OAuth
// access token (see internal/credential).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
	}
}

// Watch registers a push-notification channel for a calendar.
func (c *Client) Watch(ctx context.Context, calendarID string, req WatchRequest) (*WatchResponse, error) {
	if req.Type == "" {
		req.Type = "web_hook"
	}
	var resp WatchResponse
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/watch"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("registering watch channel for %s: %w", calendarID, err)
	}
	return &resp, nil
}

// StopChannel tears down a push channel. A 404 is reported as NotFoundError
// so callers can treat an already-dead channel as success.
func (c *Client) StopChannel(ctx context.Context, channelID, resourceID string) error {
	req := stopRequest{ID: channelID, ResourceID: resourceID}
	if err := c.do(ctx, http.MethodPost, "/channels/stop", req, nil); err != nil {
		return fmt.Errorf("stopping channel %s: %w", channelID, err)
	}
	return nil
}

// ListDeltas fetches incremental changes since the given sync cursor.
func (c *Client) ListDeltas(ctx context.Context, calendarID, syncToken string) (*DeltaResponse, error) {
	q := url.Values{}
	q.Set("syncToken", syncToken)
	q.Set("showDeleted", "true")

	resp, err := c.listEvents(ctx, calendarID, q)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone {
			return nil, &CursorExpiredError{CalendarID: calendarID}
		}
		return nil, fmt.Errorf("fetching deltas for %s: %w", calendarID, err)
	}
	return resp, nil
}

// ListManagedSince performs the cursorless full-resync query.
func (c *Client) ListManagedSince(ctx context.Context, calendarID string, createdAfter time.Time) (*DeltaResponse, error) {
	q := url.Values{}
	q.Set("privateExtendedProperty", TaskRefProperty+"=*")
	q.Set("createdMin", createdAfter.UTC().Format(time.RFC3339))
	q.Set("showDeleted", "true")

	resp, err := c.listEvents(ctx, calendarID, q)
	if err != nil {
		return nil, fmt.Errorf("full resync for %s: %w", calendarID, err)
	}
	return resp, nil
}

// listEvents pages through the events collection, accumulating items until
// the provider hands back a sync token.
func (c *Client) listEvents(ctx context.Context, calendarID string, q url.Values) (*DeltaResponse, error) {
	base := "/calendars/" + url.PathEscape(calendarID) + "/events"

	var all DeltaResponse
	for {
		var page DeltaResponse
		if err := c.do(ctx, http.MethodGet, base+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all.Items = append(all.Items, page.Items...)
		all.NextSyncToken = page.NextSyncToken

		if page.NextPageToken == "" {
			return &all, nil
		}
		q.Set("pageToken", page.NextPageToken)
	}
}

// CreateEvent creates a provider event and returns the stored payload.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev EventPayload) (*EventPayload, error) {
	var created EventPayload
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := c.do(ctx, http.MethodPost, path, ev, &created); err != nil {
		return nil, fmt.Errorf("creating event on %s: %w", calendarID, err)
	}
	return &created, nil
}

// UpdateEvent replaces an existing provider event.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, ev EventPayload) (*EventPayload, error) {
	var updated EventPayload
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodPut, path, ev, &updated); err != nil {
		return nil, fmt.Errorf("updating event %s on %s: %w", eventID, calendarID, err)
	}
	return &updated, nil
}

// DeleteEvent removes a provider event.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting event %s on %s: %w", eventID, calendarID, err)
	}
	return nil
}

// do is the core HTTP method that builds the request, handles auth,
// transient-error backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	u := c.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if retriable(resp.StatusCode) {
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Message:    trimBody(respBody),
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return &AuthError{Message: trimBody(respBody)}
		case resp.StatusCode == http.StatusNotFound:
			return &NotFoundError{Resource: path}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    trimBody(respBody),
			}
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshaling response from %s: %w", path, err)
			}
		}
		return nil
	}

	return fmt.Errorf("giving up after %d retries: %w", c.maxRetries, lastErr)
}

// retriable reports whether a status code warrants a backoff retry.
func retriable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfterDuration honors a Retry-After header, falling back to
// exponential backoff (1s, 2s, 4s, ...).
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// trimBody shortens a response body for error messages.
func trimBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
