package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/brain-dumper/internal/provider"
)

// FakeCalendarAPI is an in-memory provider.API for tests. Response fields
// are set by the test; call records are inspected after the exercise.
type FakeCalendarAPI struct {
	mu sync.Mutex

	// DeltaResponse/DeltaErr drive ListDeltas; a nil response with a nil
	// error yields an empty delta.
	DeltaResponse *provider.DeltaResponse
	DeltaErr      error

	// ManagedResponse/ManagedErr drive ListManagedSince (the full-resync
	// query).
	ManagedResponse *provider.DeltaResponse
	ManagedErr      error

	// WatchErr makes Watch fail.
	WatchErr error

	// CreateErr makes CreateEvent fail.
	CreateErr error

	CreatedEvents   []provider.EventPayload
	UpdatedEvents   map[string]provider.EventPayload
	DeletedEvents   []string
	StoppedChannels []string

	DeltaCalls   int
	ManagedCalls int
	WatchCalls   int

	nextEventID int
}

var _ provider.API = (*FakeCalendarAPI)(nil)

// NewFakeCalendarAPI creates an empty fake.
func NewFakeCalendarAPI() *FakeCalendarAPI {
	return &FakeCalendarAPI{
		UpdatedEvents: make(map[string]provider.EventPayload),
	}
}

func (f *FakeCalendarAPI) Watch(_ context.Context, _ string, req provider.WatchRequest) (*provider.WatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WatchCalls++
	if f.WatchErr != nil {
		return nil, f.WatchErr
	}
	return &provider.WatchResponse{
		ID:         req.ID,
		ResourceID: "resource-" + req.ID,
		Expiration: req.Expiration,
	}, nil
}

func (f *FakeCalendarAPI) StopChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoppedChannels = append(f.StoppedChannels, channelID)
	return nil
}

func (f *FakeCalendarAPI) ListDeltas(_ context.Context, _ string, _ string) (*provider.DeltaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeltaCalls++
	if f.DeltaErr != nil {
		return nil, f.DeltaErr
	}
	if f.DeltaResponse == nil {
		return &provider.DeltaResponse{}, nil
	}
	return f.DeltaResponse, nil
}

func (f *FakeCalendarAPI) ListManagedSince(_ context.Context, _ string, _ time.Time) (*provider.DeltaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ManagedCalls++
	if f.ManagedErr != nil {
		return nil, f.ManagedErr
	}
	if f.ManagedResponse == nil {
		return &provider.DeltaResponse{}, nil
	}
	return f.ManagedResponse, nil
}

func (f *FakeCalendarAPI) CreateEvent(_ context.Context, _ string, ev provider.EventPayload) (*provider.EventPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if ev.ID == "" {
		f.nextEventID++
		ev.ID = fmt.Sprintf("fake-event-%d", f.nextEventID)
	}
	f.CreatedEvents = append(f.CreatedEvents, ev)
	return &ev, nil
}

func (f *FakeCalendarAPI) UpdateEvent(_ context.Context, _ string, eventID string, ev provider.EventPayload) (*provider.EventPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = eventID
	f.UpdatedEvents[eventID] = ev
	return &ev, nil
}

func (f *FakeCalendarAPI) DeleteEvent(_ context.Context, _ string, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedEvents = append(f.DeletedEvents, eventID)
	return nil
}
