package audit

import "time"

// Status is the outcome recorded on an entry
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Action types
const (
	ActionBulkStart         = "bulk_operation_start"
	ActionBulkComplete      = "bulk_operation_complete"
	ActionBulkFailed        = "bulk_operation_failed"
	ActionBulkCancelled     = "bulk_operation_cancelled"
	ActionAuthzDenied       = "authz.denied"
	ActionTokenIssued       = "token.issued"
	ActionTokenRevoked      = "token.revoked"
	ActionMembershipUpdated = "membership.updated"
)

// Target types
const (
	TargetBulkOperation = "bulk_operation"
	TargetOrganization  = "organization"
	TargetToken         = "personal_access_token"
	TargetMembership    = "membership"
)

// Entry is one audit record
type Entry struct {
	ID             int64                  `json:"id"`
	ActorUserID    int64                  `json:"actor_user_id"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	ActionType     string                 `json:"action_type"`
	TargetType     string                 `json:"target_type"`
	TargetID       string                 `json:"target_id"`
	Status         Status                 `json:"status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SearchFilter narrows an audit search. Nil and empty fields match everything.
type SearchFilter struct {
	OrganizationID *int64
	ActorUserID    *int64
	ActionType     string
	Status         Status
	Limit          int
	Offset         int
}

// Page is one page of search results, newest first
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Normalize clamps pagination to sane bounds
func (f SearchFilter) Normalize() SearchFilter {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
