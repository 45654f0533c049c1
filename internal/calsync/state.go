package calsync

// ResourceState is the webhook's classification of what changed, parsed
// from the x-goog-resource-state header.
type ResourceState int

const (
	// StateUnknown is any unrecognized resource state.
	StateUnknown ResourceState = iota
	// StateSync confirms a newly-created channel is live.
	StateSync
	// StateExists signals resource content exists/changed.
	StateExists
	// StateUpdate signals resource content changed.
	StateUpdate
)

// ParseResourceState maps the raw header value to a ResourceState.
func ParseResourceState(raw string) ResourceState {
	switch raw {
	case "sync":
		return StateSync
	case "exists":
		return StateExists
	case "update":
		return StateUpdate
	default:
		return StateUnknown
	}
}

// SyncAction is what the processor should do for a resource state.
type SyncAction int

const (
	// ActionConfirm acknowledges a channel-liveness ping without fetching.
	ActionConfirm SyncAction = iota
	// ActionFetch triggers an incremental delta fetch.
	ActionFetch
	// ActionIgnore acknowledges and drops anything unrecognized.
	ActionIgnore
)

// Action returns the processing action for the state. The mapping is pure;
// the HTTP response shaping stays at the web boundary.
func (s ResourceState) Action() SyncAction {
	switch s {
	case StateSync:
		return ActionConfirm
	case StateExists, StateUpdate:
		return ActionFetch
	default:
		return ActionIgnore
	}
}

// Outcome classifies how a notification was handled, for the web layer to
// map onto provider retry semantics (2xx stops retries, 4xx does not).
type Outcome int

const (
	// OutcomeProcessed means a delta fetch ran (successfully or not).
	OutcomeProcessed Outcome = iota
	// OutcomeChannelConfirmed is the sync-state liveness ping.
	OutcomeChannelConfirmed
	// OutcomeIgnored is an unrecognized resource state.
	OutcomeIgnored
	// OutcomeUnknownChannel means no stored subscription matches; the
	// channel was likely superseded, so retries must stop.
	OutcomeUnknownChannel
	// OutcomeInvalidToken is a channel-token authentication failure.
	OutcomeInvalidToken
	// OutcomeChannelExpired means the subscription is past expiration;
	// renewal is scheduled out-of-band and this delta is skipped.
	OutcomeChannelExpired
)
