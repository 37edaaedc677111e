package bulk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

type fakeRow struct {
	Resource
	scope auth.VisibilityScope
	owner *int64
	org   *int64
}

type association struct {
	blockID   int64
	keywordID int64
}

// fakeStore is an in-memory ResourceStore and OperationStore
type fakeStore struct {
	mu sync.Mutex

	nextID       int64
	rows         map[ResourceType]map[int64]*fakeRow
	associations []association
	users        map[int64]bool
	orgs         map[int64]bool

	// itemErr fails Move/Delete of a resource id
	itemErr map[int64]error
	// beforeApply runs before each Move/Delete outside the lock
	beforeApply func(Resource)
	mutations   int

	ops          map[int64]*Operation
	opsCreated   int
	progressSeen map[int64][]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows: map[ResourceType]map[int64]*fakeRow{
			ResourceAgents:       {},
			ResourceMemoryBlocks: {},
			ResourceKeywords:     {},
		},
		users:        map[int64]bool{},
		orgs:         map[int64]bool{},
		itemErr:      map[int64]error{},
		ops:          map[int64]*Operation{},
		progressSeen: map[int64][]int{},
	}
}

func (s *fakeStore) add(typ ResourceType, name string, scope auth.VisibilityScope, ownerOrOrg int64, agentID *int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row := &fakeRow{Resource: Resource{Type: typ, ID: s.nextID, Name: name, AgentID: agentID}, scope: scope}
	id := ownerOrOrg
	switch scope {
	case auth.VisibilityPersonal:
		row.owner = &id
		s.users[id] = true
	case auth.VisibilityOrganization:
		row.org = &id
		s.orgs[id] = true
	}
	s.rows[typ][row.ID] = row
	return row.ID
}

func (s *fakeStore) orgAgent(orgID int64, name string) int64 {
	return s.add(ResourceAgents, name, auth.VisibilityOrganization, orgID, nil)
}

func (s *fakeStore) orgBlock(orgID int64, label string, agentID *int64) int64 {
	return s.add(ResourceMemoryBlocks, label, auth.VisibilityOrganization, orgID, agentID)
}

func (s *fakeStore) orgKeyword(orgID int64, text string) int64 {
	return s.add(ResourceKeywords, text, auth.VisibilityOrganization, orgID, nil)
}

func (s *fakeStore) link(blockID, keywordID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associations = append(s.associations, association{blockID: blockID, keywordID: keywordID})
}

func (s *fakeStore) snapshot() (map[ResourceType]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[ResourceType]int{}
	for t, rows := range s.rows {
		counts[t] = len(rows)
	}
	return counts, len(s.associations)
}

func inOrg(row *fakeRow, orgID int64) bool {
	return row.scope == auth.VisibilityOrganization && row.org != nil && *row.org == orgID
}

func (s *fakeStore) CountResources(_ context.Context, orgID int64, typ ResourceType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows[typ] {
		if inOrg(row, orgID) {
			n++
		}
	}
	return n, nil
}

func sortedResources(rows []*fakeRow) []Resource {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	out := make([]Resource, len(rows))
	for i, r := range rows {
		out[i] = r.Resource
	}
	return out
}

func (s *fakeStore) ListResources(_ context.Context, orgID int64, typ ResourceType) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*fakeRow
	for _, row := range s.rows[typ] {
		if inOrg(row, orgID) {
			rows = append(rows, row)
		}
	}
	return sortedResources(rows), nil
}

func (s *fakeStore) ListAtDestination(_ context.Context, dest Destination, typ ResourceType) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*fakeRow
	for _, row := range s.rows[typ] {
		if row.scope != dest.Scope {
			continue
		}
		if dest.OwnerUserID != nil && row.owner != nil && *row.owner == *dest.OwnerUserID {
			rows = append(rows, row)
		}
		if dest.OrganizationID != nil && row.org != nil && *row.org == *dest.OrganizationID {
			rows = append(rows, row)
		}
	}
	return sortedResources(rows), nil
}

func (s *fakeStore) AgentBlocks(_ context.Context, agentIDs []int64) (map[int64][]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range agentIDs {
		want[id] = true
	}
	out := map[int64][]int64{}
	var blocks []*fakeRow
	for _, b := range s.rows[ResourceMemoryBlocks] {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	for _, b := range blocks {
		if b.AgentID != nil && want[*b.AgentID] {
			out[*b.AgentID] = append(out[*b.AgentID], b.ID)
		}
	}
	return out, nil
}

func (s *fakeStore) CountAssociations(_ context.Context, blockIDs, keywordIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks, keywords := map[int64]bool{}, map[int64]bool{}
	for _, id := range blockIDs {
		blocks[id] = true
	}
	for _, id := range keywordIDs {
		keywords[id] = true
	}
	n := 0
	for _, a := range s.associations {
		if blocks[a.blockID] || keywords[a.keywordID] {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *fakeStore) OrganizationExists(_ context.Context, orgID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgs[orgID], nil
}

func (s *fakeStore) prepare(r Resource) error {
	if s.beforeApply != nil {
		s.beforeApply(r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemErr[r.ID]
}

func (s *fakeStore) Move(_ context.Context, sourceOrgID int64, r Resource, dest Destination) (Cascade, error) {
	var cascade Cascade
	if err := s.prepare(r); err != nil {
		return cascade, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[r.Type][r.ID]
	if !ok || !inOrg(row, sourceOrgID) {
		return cascade, fmt.Errorf("%s %d: %w", r.Type, r.ID, errs.ErrNotFound)
	}
	retarget := func(row *fakeRow) {
		row.scope, row.owner, row.org = dest.Scope, dest.OwnerUserID, dest.OrganizationID
	}
	retarget(row)
	if r.Type == ResourceAgents {
		for _, b := range s.rows[ResourceMemoryBlocks] {
			if b.AgentID != nil && *b.AgentID == r.ID {
				retarget(b)
				cascade.MemoryBlocks++
			}
		}
	}
	s.mutations++
	return cascade, nil
}

func (s *fakeStore) Delete(_ context.Context, sourceOrgID int64, r Resource) (Cascade, error) {
	var cascade Cascade
	if err := s.prepare(r); err != nil {
		return cascade, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[r.Type][r.ID]
	if !ok || !inOrg(row, sourceOrgID) {
		return cascade, fmt.Errorf("%s %d: %w", r.Type, r.ID, errs.ErrNotFound)
	}

	dropBlocks := map[int64]bool{}
	switch r.Type {
	case ResourceAgents:
		for id, b := range s.rows[ResourceMemoryBlocks] {
			if b.AgentID != nil && *b.AgentID == r.ID {
				dropBlocks[id] = true
			}
		}
		for id := range dropBlocks {
			delete(s.rows[ResourceMemoryBlocks], id)
		}
		cascade.MemoryBlocks = len(dropBlocks)
	case ResourceMemoryBlocks:
		dropBlocks[r.ID] = true
	}

	kept := s.associations[:0]
	for _, a := range s.associations {
		if dropBlocks[a.blockID] || (r.Type == ResourceKeywords && a.keywordID == r.ID) {
			cascade.KeywordAssociations++
			continue
		}
		kept = append(kept, a)
	}
	s.associations = kept
	delete(s.rows[r.Type], r.ID)
	s.mutations++
	return cascade, nil
}

func cloneOperation(op *Operation) *Operation {
	cp := *op
	cp.ErrorLog = append([]ItemError(nil), op.ErrorLog...)
	return &cp
}

func (s *fakeStore) CreateOperation(_ context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.opsCreated++
	op.ID = s.nextID
	op.Status = StatusPending
	op.ErrorLog = []ItemError{}
	op.CreatedAt = time.Now()
	op.UpdatedAt = op.CreatedAt
	s.ops[op.ID] = cloneOperation(op)
	return nil
}

func (s *fakeStore) GetOperation(_ context.Context, id int64) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("bulk operation %d: %w", id, errs.ErrNotFound)
	}
	return cloneOperation(op), nil
}

func (s *fakeStore) transition(id int64, want Status) (*Operation, error) {
	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("bulk operation %d: %w", id, errs.ErrNotFound)
	}
	if op.Status != want {
		return nil, fmt.Errorf("bulk operation %d is %s: %w", id, op.Status, errs.ErrConflict)
	}
	return op, nil
}

func (s *fakeStore) MarkRunning(_ context.Context, id int64, total int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, err := s.transition(id, StatusPending)
	if err != nil {
		return err
	}
	op.Status = StatusRunning
	op.Total = &total
	op.StartedAt = &startedAt
	op.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) RecordProgress(_ context.Context, id int64, progress int, errorLog []ItemError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, err := s.transition(id, StatusRunning)
	if err != nil {
		return err
	}
	if progress < op.Progress {
		return fmt.Errorf("progress moved backwards: %w", errs.ErrConflict)
	}
	op.Progress = progress
	op.ErrorLog = append([]ItemError(nil), errorLog...)
	op.UpdatedAt = time.Now()
	s.progressSeen[id] = append(s.progressSeen[id], progress)
	return nil
}

func (s *fakeStore) Finish(_ context.Context, id int64, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, err := s.transition(id, StatusRunning)
	if err != nil {
		return err
	}
	op.Status = outcome.Status
	op.Progress = outcome.Progress
	op.ErrorLog = append([]ItemError(nil), outcome.ErrorLog...)
	op.ResultSummary = outcome.Summary
	op.Error = outcome.Error
	finished := outcome.FinishedAt
	op.FinishedAt = &finished
	op.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) DiscardPending(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.transition(id, StatusPending); err != nil {
		return err
	}
	delete(s.ops, id)
	return nil
}

func (s *fakeStore) ListStaleRunning(_ context.Context, before time.Time) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Operation
	for _, op := range s.ops {
		if op.Status == StatusRunning && op.UpdatedAt.Before(before) {
			out = append(out, cloneOperation(op))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// allowGate grants manage on manage, write on write. users, when set,
// limits the grant to those callers.
type allowGate struct {
	manage map[int64]bool
	write  map[int64]bool
	users  map[int64]bool
}

func (g allowGate) admits(caller *auth.Identity) bool {
	return g.users == nil || g.users[caller.UserID()]
}

func (g allowGate) RequireManage(_ context.Context, caller *auth.Identity, orgID int64) error {
	if g.manage[orgID] && g.admits(caller) {
		return nil
	}
	return fmt.Errorf("manage %d: %w", orgID, errs.ErrForbidden)
}

func (g allowGate) RequireWrite(_ context.Context, caller *auth.Identity, orgID int64) error {
	if (g.write[orgID] || g.manage[orgID]) && g.admits(caller) {
		return nil
	}
	return fmt.Errorf("write %d: %w", orgID, errs.ErrForbidden)
}
