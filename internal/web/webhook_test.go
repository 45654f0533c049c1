package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nhle/brain-dumper/internal/calsync"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/proposal"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/internal/watch"
	"github.com/nhle/brain-dumper/internal/web"
	"github.com/nhle/brain-dumper/tests/testutil"
)

type stubRenewer struct{}

func (stubRenewer) Trigger(string) {}

func newTestHandler(t *testing.T) (*store.SQLiteStore, *testutil.FakeCalendarAPI, http.Handler) {
	t.Helper()
	s := testutil.NewTestStore(t)
	api := testutil.NewFakeCalendarAPI()

	cfg := &model.AppConfig{
		DefaultUserID: "alice",
		Scheduling: model.SchedulingConfig{
			Timezone:     "UTC",
			WorkingHours: model.WorkingHours{Start: "09:00", End: "17:00"},
			HorizonDays:  7,
		},
	}

	processor := calsync.NewProcessor(s, api, stubRenewer{}, time.UTC)
	coordinator, err := proposal.NewCoordinator(s, api, cfg.Scheduling)
	if err != nil {
		t.Fatalf("creating coordinator: %v", err)
	}
	watches := watch.NewManager(s, api, "https://example.com/webhook/calendar")

	return s, api, web.NewServer(cfg, s, processor, coordinator, watches).Handler()
}

func TestWebhookResponses(t *testing.T) {
	s, _, handler := newTestHandler(t)

	sub := model.WatchSubscription{
		ID: "chan-1", ResourceID: "res-1", CalendarID: "primary", UserID: "alice",
		Expiration: time.Now().Add(24 * time.Hour), ChannelToken: "alice:primary",
		CreatedAt: time.Now(),
	}
	if err := s.UpsertSubscription(context.Background(), sub); err != nil {
		t.Fatalf("upserting subscription: %v", err)
	}

	cases := []struct {
		name    string
		method  string
		headers map[string]string
		want    int
	}{
		{"non-POST rejected", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"missing channel id", http.MethodPost,
			map[string]string{"X-Goog-Resource-State": "exists"},
			http.StatusBadRequest},
		{"missing resource state", http.MethodPost,
			map[string]string{"X-Goog-Channel-Id": "chan-1"},
			http.StatusBadRequest},
		{"unknown channel acknowledged", http.MethodPost,
			map[string]string{"X-Goog-Channel-Id": "chan-gone", "X-Goog-Resource-State": "exists"},
			http.StatusOK},
		{"invalid token", http.MethodPost,
			map[string]string{
				"X-Goog-Channel-Id":     "chan-1",
				"X-Goog-Resource-State": "exists",
				"X-Goog-Channel-Token":  "mallory:primary",
			},
			http.StatusForbidden},
		{"sync confirmation", http.MethodPost,
			map[string]string{
				"X-Goog-Channel-Id":     "chan-1",
				"X-Goog-Resource-State": "sync",
				"X-Goog-Channel-Token":  "alice:primary",
			},
			http.StatusOK},
		{"valid delta notification", http.MethodPost,
			map[string]string{
				"X-Goog-Channel-Id":     "chan-1",
				"X-Goog-Resource-State": "exists",
				"X-Goog-Channel-Token":  "alice:primary",
			},
			http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/webhook/calendar", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSyncEndpointValidation(t *testing.T) {
	_, _, handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing calendar_id status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{"calendar_id":"primary","full_sync":true}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("full sync status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestExpiredAuthAsksToReconnect(t *testing.T) {
	_, api, handler := newTestHandler(t)

	// Without a cursor the sync endpoint runs the full-resync query.
	api.ManagedErr = &provider.AuthError{Message: "token revoked"}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{"calendar_id":"primary"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("sync status = %d, want 401 (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "reconnect") {
		t.Errorf("sync body %q must tell the user to reconnect", rec.Body.String())
	}

	api.WatchErr = &provider.AuthError{Message: "token revoked"}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calendars/watch",
		strings.NewReader(`{"calendar_id":"primary"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("watch status = %d, want 401 (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "reconnect") {
		t.Errorf("watch body %q must tell the user to reconnect", rec.Body.String())
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	_, _, handler := newTestHandler(t)

	body := `{"start_date":"2026-03-02","end_date":"2026-03-04"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/availability",
		strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "windows") {
		t.Errorf("response missing windows: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/availability",
		strings.NewReader(`{"start_date":"not-a-date","end_date":"2026-03-04"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rec.Code)
	}
}
