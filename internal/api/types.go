package api

import (
	"time"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ruleset"
)

// SnapshotResponse is the body of GET /api/ruleset.
type SnapshotResponse struct {
	FetchedAt time.Time           `json:"fetched_at"`
	Tables    []ruleset.TableView `json:"tables"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// DefaultsResponse is the body of GET /api/ruleset/defaults.
type DefaultsResponse struct {
	Context ruleset.Context `json:"context"`
	Choices ruleset.Choices `json:"choices"`
}

// MutationResponse reports one submission. Trace lists every step in order.
type MutationResponse struct {
	SubmissionID string            `json:"submission_id"`
	Operation    string            `json:"operation"`
	State        string            `json:"state"`
	Rule         ruleset.RuleRef   `json:"rule"`
	Handle       uint64            `json:"handle,omitempty"`
	Error        *ErrorBody        `json:"error,omitempty"`
	Trace        []mutation.Step   `json:"trace"`
	RefetchError string            `json:"refetch_error,omitempty"`
	Snapshot     *SnapshotResponse `json:"snapshot,omitempty"`
}

// AuditResponse is the body of GET /api/audit.
type AuditResponse struct {
	Events []audit.Event `json:"events"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
}

func snapshotResponse(snap *ruleset.Snapshot) *SnapshotResponse {
	if snap == nil {
		return nil
	}
	return &SnapshotResponse{
		FetchedAt: snap.FetchedAt,
		Tables:    snap.Tables,
		Warnings:  snap.Warnings,
	}
}
