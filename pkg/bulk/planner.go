package bulk

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Gate is the subset of policy.Engine bulk operations are authorized with
type Gate interface {
	RequireManage(ctx context.Context, caller *auth.Identity, orgID int64) error
	RequireWrite(ctx context.Context, caller *auth.Identity, orgID int64) error
}

// Planner computes dry-run plans. It never mutates resources and never
// creates operation rows.
type Planner struct {
	store  ResourceStore
	gate   Gate
	tracer trace.Tracer
}

// NewPlanner creates a planner
func NewPlanner(store ResourceStore, gate Gate) *Planner {
	return &Planner{store: store, gate: gate, tracer: observability.Tracer()}
}

// Inventory counts the requested resource types in orgID. Nil types
// means all of them. Requires manage rights on orgID.
func (p *Planner) Inventory(ctx context.Context, caller *auth.Identity, orgID int64, types []ResourceType) (Inventory, error) {
	if err := p.gate.RequireManage(ctx, caller, orgID); err != nil {
		return nil, err
	}
	if types == nil {
		types = AllResourceTypes
	}
	return p.inventory(ctx, orgID, types)
}

func (p *Planner) inventory(ctx context.Context, orgID int64, types []ResourceType) (Inventory, error) {
	counts := make([]int, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			n, err := p.store.CountResources(gctx, orgID, t)
			if err != nil {
				return fmt.Errorf("failed to count %s: %w", t, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv := make(Inventory, len(types))
	for i, t := range types {
		inv[t] = counts[i]
	}
	return inv, nil
}

// Plan validates and authorizes req and computes what it would do
func (p *Planner) Plan(ctx context.Context, caller *auth.Identity, req Request) (plan *Plan, err error) {
	ctx, span := p.tracer.Start(ctx, "bulk.Plan", trace.WithAttributes(
		attribute.String("bulk.kind", string(req.Type)),
		attribute.Int64("bulk.source_organization_id", req.SourceOrganizationID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := p.gate.RequireManage(ctx, caller, req.SourceOrganizationID); err != nil {
		return nil, err
	}
	dest := req.Destination()
	if dest != nil {
		if err := p.checkDestination(ctx, caller, dest); err != nil {
			return nil, err
		}
	}

	plan = &Plan{
		Kind:                 req.Type,
		SourceOrganizationID: req.SourceOrganizationID,
		Destination:          dest,
		Items:                []PlannedItem{},
		Conflicts:            []Conflict{},
	}

	var candidates map[ResourceType][]Resource
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inv, err := p.inventory(gctx, req.SourceOrganizationID, req.ResourceTypes)
		plan.Inventory = inv
		return err
	})
	g.Go(func() error {
		var err error
		candidates, err = p.listCandidates(gctx, req.SourceOrganizationID, req.ResourceTypes)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch req.Type {
	case OperationMove:
		err = p.planMove(ctx, plan, candidates, *dest)
	case OperationDelete:
		err = p.planDelete(ctx, plan, candidates)
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("bulk.items", len(plan.Items)),
		attribute.Int("bulk.conflicts", len(plan.Conflicts)),
	)
	return plan, nil
}

func (p *Planner) checkDestination(ctx context.Context, caller *auth.Identity, dest *Destination) error {
	if dest.OwnerUserID != nil {
		ok, err := p.store.UserExists(ctx, *dest.OwnerUserID)
		if err != nil {
			return fmt.Errorf("failed to check destination user: %w", err)
		}
		if !ok {
			return fmt.Errorf("destination user %d: %w", *dest.OwnerUserID, errs.ErrNotFound)
		}
		return nil
	}

	ok, err := p.store.OrganizationExists(ctx, *dest.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to check destination organization: %w", err)
	}
	if !ok {
		return fmt.Errorf("destination organization %d: %w", *dest.OrganizationID, errs.ErrNotFound)
	}
	return p.gate.RequireWrite(ctx, caller, *dest.OrganizationID)
}

func (p *Planner) listCandidates(ctx context.Context, orgID int64, types []ResourceType) (map[ResourceType][]Resource, error) {
	lists := make([][]Resource, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			rs, err := p.store.ListResources(gctx, orgID, t)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", t, err)
			}
			lists[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[ResourceType][]Resource, len(types))
	for i, t := range types {
		out[t] = lists[i]
	}
	return out, nil
}

// groupBlocks attaches memory blocks to the candidate agents that own them
// and returns the blocks that are processed on their own
func (p *Planner) groupBlocks(ctx context.Context, agents, blocks []Resource) (map[int64][]int64, []Resource, error) {
	owned := map[int64][]int64{}
	if len(agents) > 0 {
		ids := make([]int64, len(agents))
		for i, a := range agents {
			ids[i] = a.ID
		}
		var err error
		owned, err = p.store.AgentBlocks(ctx, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load agent memory blocks: %w", err)
		}
	}

	isCandidate := make(map[int64]bool, len(agents))
	for _, a := range agents {
		isCandidate[a.ID] = true
	}
	standalone := make([]Resource, 0, len(blocks))
	for _, b := range blocks {
		if b.AgentID != nil && isCandidate[*b.AgentID] {
			continue
		}
		standalone = append(standalone, b)
	}
	return owned, standalone, nil
}

func (p *Planner) planMove(ctx context.Context, plan *Plan, candidates map[ResourceType][]Resource, dest Destination) error {
	agents := candidates[ResourceAgents]
	if len(agents) > 0 {
		existing, err := p.store.ListAtDestination(ctx, dest, ResourceAgents)
		if err != nil {
			return fmt.Errorf("failed to list destination agents: %w", err)
		}
		var conflicts []Conflict
		agents, conflicts = detectConflicts(agents, existing)
		plan.Conflicts = append(plan.Conflicts, conflicts...)
	}

	// Blocks of conflicting agents stay with their agent, so group against
	// every candidate agent rather than only the moving ones.
	owned, standalone, err := p.groupBlocks(ctx, candidates[ResourceAgents], candidates[ResourceMemoryBlocks])
	if err != nil {
		return err
	}

	for _, a := range agents {
		item := PlannedItem{Resource: a, MemoryBlockIDs: owned[a.ID]}
		plan.Cascade.MemoryBlocks += len(item.MemoryBlockIDs)
		plan.Items = append(plan.Items, item)
	}
	for _, b := range standalone {
		// A block only moves with its agent
		if b.AgentID != nil {
			plan.Conflicts = append(plan.Conflicts, Conflict{
				Resource:        b,
				Reason:          fmt.Sprintf("memory block is attached to agent %d, which is not moving", *b.AgentID),
				ConflictsWithID: *b.AgentID,
			})
			continue
		}
		plan.Items = append(plan.Items, PlannedItem{Resource: b})
	}

	keywords := candidates[ResourceKeywords]
	if len(keywords) > 0 {
		existing, err := p.store.ListAtDestination(ctx, dest, ResourceKeywords)
		if err != nil {
			return fmt.Errorf("failed to list destination keywords: %w", err)
		}
		var conflicts []Conflict
		keywords, conflicts = detectConflicts(keywords, existing)
		plan.Conflicts = append(plan.Conflicts, conflicts...)
		for _, k := range keywords {
			plan.Items = append(plan.Items, PlannedItem{Resource: k})
		}
	}
	return nil
}

func (p *Planner) planDelete(ctx context.Context, plan *Plan, candidates map[ResourceType][]Resource) error {
	owned, standalone, err := p.groupBlocks(ctx, candidates[ResourceAgents], candidates[ResourceMemoryBlocks])
	if err != nil {
		return err
	}

	var blockIDs, keywordIDs []int64
	for _, a := range candidates[ResourceAgents] {
		item := PlannedItem{Resource: a, MemoryBlockIDs: owned[a.ID]}
		plan.Cascade.MemoryBlocks += len(item.MemoryBlockIDs)
		blockIDs = append(blockIDs, item.MemoryBlockIDs...)
		plan.Items = append(plan.Items, item)
	}
	for _, b := range standalone {
		blockIDs = append(blockIDs, b.ID)
		plan.Items = append(plan.Items, PlannedItem{Resource: b})
	}
	for _, k := range candidates[ResourceKeywords] {
		keywordIDs = append(keywordIDs, k.ID)
		plan.Items = append(plan.Items, PlannedItem{Resource: k})
	}

	if len(blockIDs) > 0 || len(keywordIDs) > 0 {
		n, err := p.store.CountAssociations(ctx, blockIDs, keywordIDs)
		if err != nil {
			return fmt.Errorf("failed to count keyword associations: %w", err)
		}
		plan.Cascade.KeywordAssociations = n
	}
	return nil
}

// detectConflicts splits candidates into those free to move and those whose
// name collides, case-insensitively, with a resource already at the
// destination or with an earlier candidate
func detectConflicts(candidates, existing []Resource) ([]Resource, []Conflict) {
	fold := cases.Fold()
	taken := make(map[string]int64, len(existing))
	for _, r := range existing {
		taken[fold.String(r.Name)] = r.ID
	}

	keep := make([]Resource, 0, len(candidates))
	var conflicts []Conflict
	moving := make(map[string]int64, len(candidates))
	for _, c := range candidates {
		key := fold.String(c.Name)
		if id, ok := taken[key]; ok {
			conflicts = append(conflicts, Conflict{
				Resource:        c,
				Reason:          fmt.Sprintf("%s named %q already exists at the destination", singular(c.Type), c.Name),
				ConflictsWithID: id,
			})
			continue
		}
		if id, ok := moving[key]; ok {
			conflicts = append(conflicts, Conflict{
				Resource:        c,
				Reason:          fmt.Sprintf("another %s named %q is moving to the destination", singular(c.Type), c.Name),
				ConflictsWithID: id,
			})
			continue
		}
		moving[key] = c.ID
		keep = append(keep, c)
	}
	return keep, conflicts
}

func singular(t ResourceType) string {
	switch t {
	case ResourceAgents:
		return "agent"
	case ResourceKeywords:
		return "keyword"
	case ResourceMemoryBlocks:
		return "memory block"
	}
	return string(t)
}
