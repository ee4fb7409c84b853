// Package events provides the pub/sub bus that carries ruleset activity to
// live subscribers such as the websocket feed.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Ruleset events
	EventRulesetFetched EventType = "ruleset.fetched"

	// Mutation events
	EventMutationStep     EventType = "mutation.step"
	EventMutationFinished EventType = "mutation.finished"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // "ruleset", "mutation"
	Data      interface{} `json:"data"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// FetchData is the payload for EventRulesetFetched.
type FetchData struct {
	Rules    int      `json:"rules"`
	Warnings []string `json:"warnings,omitempty"`
}

// MutationStepData is the payload for EventMutationStep.
type MutationStepData struct {
	SubmissionID string `json:"submission_id"`
	Operation    string `json:"operation"`
	State        string `json:"state"`
	Action       string `json:"action"`
	Detail       string `json:"detail,omitempty"`
}

// MutationData is the payload for EventMutationFinished.
type MutationData struct {
	SubmissionID string `json:"submission_id"`
	Operation    string `json:"operation"`
	Rule         string `json:"rule"`
	State        string `json:"state"`
	Handle       uint64 `json:"handle,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
}
