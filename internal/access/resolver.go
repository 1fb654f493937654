// Package access decides whether an actor may read or write a target
// department's rosters.
//
// Permissions come from several independent sources (the global admin role,
// explicit access grants, organizational and delegated assignments). Each is
// a PermissionSource; the Resolver consults them in tier order and merges the
// results of the first tier that yields anything by taking the strongest
// candidate. Resolution only reads: it loads one department tree snapshot
// plus the actor's own grants and assignments, and never writes or logs.
package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type Request struct {
	ActorID  uint
	Scope    models.Scope
	Required models.AccessType
	// DepartmentID nil asks for access to all departments at once.
	DepartmentID *uint
}

type Decision struct {
	Allowed      bool
	Granted      models.AccessType
	Source       Source
	DepartmentID *uint
	GrantID      uint
	AssignmentID uint
	Restrictions map[string]any
}

type AccessibleDepartment struct {
	Department   models.Department
	Level        models.AccessType
	Source       Source
	GrantID      uint
	AssignmentID uint
}

type Resolver struct {
	tree    TreeProvider
	sources []PermissionSource
	now     func() time.Time
}

// NewResolver orders sources by tier. Sources sharing a tier keep the order
// they were passed in.
func NewResolver(tree TreeProvider, sources ...PermissionSource) *Resolver {
	ordered := append([]PermissionSource(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier() < ordered[j].Tier() })

	return &Resolver{
		tree:    tree,
		sources: ordered,
		now:     time.Now,
	}
}

// NewDefaultResolver wires the standard precedence: admin role, then explicit
// grants, then assignments.
func NewDefaultResolver(tree TreeProvider, roles RoleProvider, grants GrantReader, assignments AssignmentReader) *Resolver {
	return NewResolver(tree,
		NewAdminRoleSource(roles),
		NewGrantSource(grants),
		NewAssignmentSource(assignments),
	)
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if !req.Scope.Valid() {
		return Decision{}, apperror.Newf(apperror.CodeValidation, "unknown scope %q", req.Scope)
	}
	if !req.Required.Valid() {
		return Decision{}, apperror.Newf(apperror.CodeValidation, "unknown access type %q", req.Required)
	}

	q, err := r.query(ctx, req.ActorID, req.Scope, req.DepartmentID)
	if err != nil {
		return Decision{}, err
	}

	var (
		best     *Candidate
		bestTier Tier
	)
	for _, source := range r.sources {
		if best != nil && source.Tier() > bestTier {
			break
		}

		candidate, err := source.ApplicableGrant(ctx, q)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: %w", source.Name(), err)
		}
		if candidate == nil {
			continue
		}
		if source.Tier() == TierOverride {
			return decide(req, candidate), nil
		}
		if best == nil || stronger(*candidate, *best) {
			best = candidate
			bestTier = source.Tier()
		}
	}

	return decide(req, best), nil
}

// Check is Resolve for callers that want a denial as an error.
func (r *Resolver) Check(ctx context.Context, req Request) error {
	decision, err := r.Resolve(ctx, req)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apperror.Newf(apperror.CodeForbidden, "%s access to %s is not granted", req.Required, req.Scope)
	}
	return nil
}

// AccessibleDepartments is the batch form of Resolve: every active department
// the actor reaches for scope, tagged with the winning source. A department
// listed here resolves as allowed at the returned level.
func (r *Resolver) AccessibleDepartments(ctx context.Context, actorID uint, scope models.Scope) ([]AccessibleDepartment, error) {
	if !scope.Valid() {
		return nil, apperror.Newf(apperror.CodeValidation, "unknown scope %q", scope)
	}

	q, err := r.query(ctx, actorID, scope, nil)
	if err != nil {
		return nil, err
	}

	merged := make(map[uint]Candidate)
	tierOf := make(map[uint]Tier)

	for _, source := range r.sources {
		reached, err := source.Reachable(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source.Name(), err)
		}

		if source.Tier() == TierOverride {
			if len(reached) > 0 {
				return r.accessible(q, reached), nil
			}
			continue
		}

		for id, candidate := range reached {
			if tier, ok := tierOf[id]; ok {
				if tier < source.Tier() || !stronger(candidate, merged[id]) {
					continue
				}
			}
			merged[id] = candidate
			tierOf[id] = source.Tier()
		}
	}

	return r.accessible(q, merged), nil
}

func (r *Resolver) query(ctx context.Context, actorID uint, scope models.Scope, departmentID *uint) (Query, error) {
	snapshot, err := r.tree.Tree(ctx)
	if err != nil {
		return Query{}, fmt.Errorf("load department tree: %w", err)
	}

	return Query{
		ActorID:      actorID,
		Scope:        scope,
		DepartmentID: departmentID,
		Tree:         snapshot,
		Now:          r.now().UTC(),
	}, nil
}

func (r *Resolver) accessible(q Query, reached map[uint]Candidate) []AccessibleDepartment {
	result := make([]AccessibleDepartment, 0, len(reached))
	for id, candidate := range reached {
		department, ok := q.Tree.Get(id)
		if !ok {
			continue
		}
		result = append(result, AccessibleDepartment{
			Department:   department,
			Level:        candidate.Level,
			Source:       candidate.Source,
			GrantID:      candidate.GrantID,
			AssignmentID: candidate.AssignmentID,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Department.ID < result[j].Department.ID })
	return result
}

func decide(req Request, candidate *Candidate) Decision {
	if candidate == nil {
		return Decision{Allowed: false, Source: SourceNone, DepartmentID: req.DepartmentID}
	}

	return Decision{
		Allowed:      candidate.Level.Satisfies(req.Required),
		Granted:      candidate.Level,
		Source:       candidate.Source,
		DepartmentID: candidate.DepartmentID,
		GrantID:      candidate.GrantID,
		AssignmentID: candidate.AssignmentID,
		Restrictions: candidate.Restrictions,
	}
}
