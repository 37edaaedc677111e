package bulk

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

// OperationType is the kind of a bulk operation
type OperationType string

const (
	OperationMove   OperationType = "move"
	OperationDelete OperationType = "delete"
)

// Status is the lifecycle state of a bulk operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ResourceType is a kind of resource a bulk operation can select
type ResourceType string

const (
	ResourceAgents       ResourceType = "agents"
	ResourceMemoryBlocks ResourceType = "memory_blocks"
	ResourceKeywords     ResourceType = "keywords"
)

// AllResourceTypes lists resource types in processing order. Agents go
// first so their memory blocks travel with them.
var AllResourceTypes = []ResourceType{ResourceAgents, ResourceMemoryBlocks, ResourceKeywords}

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	for _, known := range AllResourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Request is a bulk move or delete against a source organization. It is
// persisted as the operation's request payload.
type Request struct {
	Type                      OperationType  `json:"type"`
	SourceOrganizationID      int64          `json:"source_organization_id"`
	DestinationOwnerUserID    *int64         `json:"destination_owner_user_id,omitempty"`
	DestinationOrganizationID *int64         `json:"destination_organization_id,omitempty"`
	ResourceTypes             []ResourceType `json:"resource_types"`
}

// Validate checks the request shape and normalizes resource types into
// processing order without duplicates
func (r *Request) Validate() error {
	if r.SourceOrganizationID <= 0 {
		return fmt.Errorf("source organization is required: %w", errs.ErrValidation)
	}
	if len(r.ResourceTypes) == 0 {
		return fmt.Errorf("resource_types must not be empty: %w", errs.ErrValidation)
	}
	requested := make(map[ResourceType]bool, len(r.ResourceTypes))
	for _, t := range r.ResourceTypes {
		if !t.Valid() {
			return fmt.Errorf("unknown resource type %q: %w", t, errs.ErrValidation)
		}
		requested[t] = true
	}
	ordered := make([]ResourceType, 0, len(requested))
	for _, t := range AllResourceTypes {
		if requested[t] {
			ordered = append(ordered, t)
		}
	}
	r.ResourceTypes = ordered

	switch r.Type {
	case OperationMove:
		if (r.DestinationOwnerUserID == nil) == (r.DestinationOrganizationID == nil) {
			return fmt.Errorf("move needs exactly one of destination_owner_user_id or destination_organization_id: %w", errs.ErrValidation)
		}
		if r.DestinationOrganizationID != nil && *r.DestinationOrganizationID == r.SourceOrganizationID {
			return fmt.Errorf("destination organization equals the source: %w", errs.ErrValidation)
		}
	case OperationDelete:
		if r.DestinationOwnerUserID != nil || r.DestinationOrganizationID != nil {
			return fmt.Errorf("delete takes no destination: %w", errs.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown operation type %q: %w", r.Type, errs.ErrValidation)
	}
	return nil
}

// Includes reports whether the request selects t
func (r *Request) Includes(t ResourceType) bool {
	for _, rt := range r.ResourceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Destination is the scope moved resources end up in
type Destination struct {
	Scope          auth.VisibilityScope `json:"scope"`
	OwnerUserID    *int64               `json:"owner_user_id,omitempty"`
	OrganizationID *int64               `json:"organization_id,omitempty"`
}

// Destination returns the move target, or nil for a delete
func (r *Request) Destination() *Destination {
	switch {
	case r.DestinationOwnerUserID != nil:
		return &Destination{Scope: auth.VisibilityPersonal, OwnerUserID: r.DestinationOwnerUserID}
	case r.DestinationOrganizationID != nil:
		return &Destination{Scope: auth.VisibilityOrganization, OrganizationID: r.DestinationOrganizationID}
	}
	return nil
}

// Resource identifies one agent, memory block or keyword. Name is the
// agent name, the keyword text or the memory block label.
type Resource struct {
	Type    ResourceType `json:"resource_type"`
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	AgentID *int64       `json:"agent_id,omitempty"`
}

// Cascade counts dependent rows carried along or removed
type Cascade struct {
	MemoryBlocks        int `json:"memory_blocks"`
	KeywordAssociations int `json:"keyword_associations"`
}

// Add accumulates other into c
func (c *Cascade) Add(other Cascade) {
	c.MemoryBlocks += other.MemoryBlocks
	c.KeywordAssociations += other.KeywordAssociations
}

// PlannedItem is one resource the operation will mutate
type PlannedItem struct {
	Resource
	// MemoryBlockIDs are the blocks of an agent that move or are deleted with it
	MemoryBlockIDs []int64 `json:"memory_block_ids,omitempty"`
}

// Conflict is a candidate excluded from a move because its name collides
// at the destination
type Conflict struct {
	Resource
	Reason          string `json:"reason"`
	ConflictsWithID int64  `json:"conflicts_with_id"`
}

// Inventory counts resources per type in the source organization
type Inventory map[ResourceType]int

// Plan is the dry-run result of a bulk request
type Plan struct {
	Kind                 OperationType `json:"kind"`
	SourceOrganizationID int64         `json:"source_organization_id"`
	Destination          *Destination  `json:"destination,omitempty"`
	Items                []PlannedItem `json:"-"`
	Cascade              Cascade       `json:"cascade"`
	Conflicts            []Conflict    `json:"conflicts"`
	Inventory            Inventory     `json:"inventory"`
}

// MarshalJSON names the item list after the plan kind
func (p *Plan) MarshalJSON() ([]byte, error) {
	type plan Plan
	items := p.Items
	if items == nil {
		items = []PlannedItem{}
	}
	conflicts := p.Conflicts
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	out := struct {
		*plan
		Conflicts         []Conflict    `json:"conflicts"`
		ResourcesToMove   []PlannedItem `json:"resources_to_move,omitempty"`
		ResourcesToDelete []PlannedItem `json:"resources_to_delete,omitempty"`
	}{plan: (*plan)(p), Conflicts: conflicts}
	if p.Kind == OperationMove {
		out.ResourcesToMove = items
	} else {
		out.ResourcesToDelete = items
	}
	return json.Marshal(out)
}

// ItemError records a per-item failure
type ItemError struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   int64        `json:"resource_id"`
	Reason       string       `json:"reason"`
}

// TypeSummary counts item outcomes for one resource type
type TypeSummary struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ResultSummary is recorded when an operation reaches a terminal state
type ResultSummary struct {
	ByType    map[ResourceType]*TypeSummary `json:"by_type"`
	Cascade   Cascade                       `json:"cascade"`
	Processed int                           `json:"processed"`
}

func newResultSummary(types []ResourceType) *ResultSummary {
	s := &ResultSummary{ByType: make(map[ResourceType]*TypeSummary, len(types))}
	for _, t := range types {
		s.ByType[t] = &TypeSummary{}
	}
	return s
}

func (s *ResultSummary) forType(t ResourceType) *TypeSummary {
	ts, ok := s.ByType[t]
	if !ok {
		ts = &TypeSummary{}
		s.ByType[t] = ts
	}
	return ts
}

// Operation is the persisted state of a bulk operation
type Operation struct {
	ID             int64          `json:"id"`
	Type           OperationType  `json:"type"`
	ActorUserID    int64          `json:"actor_user_id"`
	OrganizationID int64          `json:"organization_id"`
	Request        Request        `json:"request_payload"`
	Status         Status         `json:"status"`
	Progress       int            `json:"progress"`
	Total          *int           `json:"total,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ErrorLog       []ItemError    `json:"error_log"`
	ResultSummary  *ResultSummary `json:"result_summary,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Outcome is the terminal state the executor writes for an operation
type Outcome struct {
	Status     Status
	Progress   int
	ErrorLog   []ItemError
	Summary    *ResultSummary
	Error      string
	FinishedAt time.Time
}
