package model

import "time"

// ScoreFactor is one named component of a suggestion's score. Weights and
// descriptions are informational for audit/debugging and are preserved
// verbatim through serialization.
type ScoreFactor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// Suggestion is one candidate slot for a task with its score breakdown.
type Suggestion struct {
	Slot       TimeSlot      `json:"slot"`
	CalendarID string        `json:"calendar_id"`
	Score      int           `json:"score"` // 0-100
	Reasoning  string        `json:"reasoning"`
	Factors    []ScoreFactor `json:"factors"`
}

// Assignment pairs a task with its ranked slot suggestions.
type Assignment struct {
	TaskID               string       `json:"task_id"`
	Suggestions          []Suggestion `json:"suggestions"`
	RecommendedSlotIndex int          `json:"recommended_slot_index"`
}

// DisplacementAction says what happens to a displaced task.
type DisplacementAction string

const (
	DisplacementMove DisplacementAction = "move"
	DisplacementDrop DisplacementAction = "drop"
)

// Displacement describes a lower-priority scheduled task that must move or
// be dropped to make room for a higher-priority assignment.
type Displacement struct {
	TaskID        string             `json:"task_id"`
	OriginalStart time.Time          `json:"original_start"`
	OriginalEnd   time.Time          `json:"original_end"`
	Action        DisplacementAction `json:"action"`
	// NewStart/NewEnd carry the replacement slot when Action is move.
	NewStart *time.Time `json:"new_start,omitempty"`
	NewEnd   *time.Time `json:"new_end,omitempty"`
	Reason   string     `json:"reason"`
}

// UnscheduledTask reports a task the engine could not place, with a reason
// so no task ever silently drops out of a batch.
type UnscheduledTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// ScheduleProposal is an ephemeral propose/approve/confirm unit. It is held
// by the coordinator until confirmed or expired and never partially applied.
type ScheduleProposal struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Assignments   []Assignment      `json:"assignments"`
	Displacements []Displacement    `json:"displacements"`
	Unscheduled   []UnscheduledTask `json:"unscheduled,omitempty"`
	Summary       string            `json:"summary"`
}

// ApprovalState is the per-task state within a proposal.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	// ApprovalModified means the user hand-picked a slot different from
	// every suggestion; Slot carries the chosen range.
	ApprovalModified ApprovalState = "modified"
)

// Approval is the user's decision for one task in a proposal.
type Approval struct {
	TaskID string        `json:"task_id"`
	State  ApprovalState `json:"state"`
	// SlotIndex selects a suggestion when State is approved.
	SlotIndex int `json:"slot_index,omitempty"`
	// Slot is the hand-picked range when State is modified.
	Slot       *TimeSlot `json:"slot,omitempty"`
	CalendarID string    `json:"calendar_id,omitempty"`
}

// TaskCommitResult reports the outcome of committing one task.
type TaskCommitResult struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ConfirmResult is the per-task outcome of a confirm call. Commits are
// best-effort: already-applied assignments are never rolled back, so the
// caller can retry only the failed subset.
type ConfirmResult struct {
	ProposalID string             `json:"proposal_id"`
	Results    []TaskCommitResult `json:"results"`
	AllApplied bool               `json:"all_applied"`
}
