package calsync

import "testing"

func TestResourceStateActions(t *testing.T) {
	cases := []struct {
		raw    string
		state  ResourceState
		action SyncAction
	}{
		{"sync", StateSync, ActionConfirm},
		{"exists", StateExists, ActionFetch},
		{"update", StateUpdate, ActionFetch},
		{"", StateUnknown, ActionIgnore},
		{"not_a_state", StateUnknown, ActionIgnore},
	}
	for _, tc := range cases {
		state := ParseResourceState(tc.raw)
		if state != tc.state {
			t.Errorf("ParseResourceState(%q) = %v, want %v", tc.raw, state, tc.state)
		}
		if got := state.Action(); got != tc.action {
			t.Errorf("state %v action = %v, want %v", state, got, tc.action)
		}
	}
}
