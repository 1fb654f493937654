package access

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type AdminRoleSource struct {
	roles RoleProvider
}

func NewAdminRoleSource(roles RoleProvider) *AdminRoleSource {
	return &AdminRoleSource{roles: roles}
}

func (s *AdminRoleSource) Name() string { return "admin role" }
func (s *AdminRoleSource) Tier() Tier   { return TierOverride }

func (s *AdminRoleSource) ApplicableGrant(ctx context.Context, q Query) (*Candidate, error) {
	isAdmin, err := s.roles.HasGlobalRole(ctx, q.ActorID, models.SystemRoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("check admin role: %w", err)
	}
	if !isAdmin {
		return nil, nil
	}
	return &Candidate{
		Level:        models.AccessAdmin,
		Source:       SourceAdminRole,
		DepartmentID: q.DepartmentID,
		direct:       true,
	}, nil
}

func (s *AdminRoleSource) Reachable(ctx context.Context, q Query) (map[uint]Candidate, error) {
	isAdmin, err := s.roles.HasGlobalRole(ctx, q.ActorID, models.SystemRoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("check admin role: %w", err)
	}
	if !isAdmin {
		return nil, nil
	}

	result := make(map[uint]Candidate)
	for _, department := range q.Tree.All(true) {
		id := department.ID
		result[id] = Candidate{Level: models.AccessAdmin, Source: SourceAdminRole, DepartmentID: &id, direct: true}
	}
	return result, nil
}

type GrantSource struct {
	grants GrantReader
}

func NewGrantSource(grants GrantReader) *GrantSource {
	return &GrantSource{grants: grants}
}

func (s *GrantSource) Name() string { return "access grants" }
func (s *GrantSource) Tier() Tier   { return TierPrimary }

func (s *GrantSource) ApplicableGrant(ctx context.Context, q Query) (*Candidate, error) {
	grants, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var best *Candidate
	for _, grant := range grants {
		candidate, ok := applicableGrant(grant, q)
		if !ok {
			continue
		}
		if best == nil || stronger(candidate, *best) {
			best = &candidate
		}
	}
	return best, nil
}

func (s *GrantSource) Reachable(ctx context.Context, q Query) (map[uint]Candidate, error) {
	grants, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	result := make(map[uint]Candidate)
	offer := func(department models.Department, candidate Candidate) {
		if !department.IsActive {
			return
		}
		if existing, ok := result[department.ID]; ok && !stronger(candidate, existing) {
			return
		}
		result[department.ID] = candidate
	}

	for _, grant := range grants {
		base := grantCandidate(grant, true)

		if grant.IsGlobal() {
			for _, department := range q.Tree.All(true) {
				offer(department, base)
			}
			continue
		}

		department, ok := q.Tree.Get(*grant.DepartmentID)
		if !ok {
			continue
		}
		offer(department, base)

		if !grant.InheritChildren || !department.IsActive {
			continue
		}
		inherited := grantCandidate(grant, false)
		for _, descendant := range q.Tree.DescendantsOf(department.ID, true) {
			offer(descendant, inherited)
		}
	}

	return result, nil
}

// candidates drops invalid grants and scope mismatches before anything looks
// at departments, so an expired grant can never shadow a valid weaker one.
func (s *GrantSource) candidates(ctx context.Context, q Query) ([]models.AccessGrant, error) {
	grants, err := s.grants.GrantsFor(ctx, q.ActorID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}

	result := make([]models.AccessGrant, 0, len(grants))
	for _, grant := range grants {
		if grant.UserID != q.ActorID || !grant.IsValid(q.Now) || !grant.AccessType.Valid() {
			continue
		}
		if !grant.Scope.Covers(q.Scope) {
			continue
		}
		result = append(result, grant)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func applicableGrant(grant models.AccessGrant, q Query) (Candidate, bool) {
	if grant.IsGlobal() {
		return grantCandidate(grant, true), true
	}
	if q.Global() {
		return Candidate{}, false
	}
	if !q.Tree.Contains(*grant.DepartmentID) {
		return Candidate{}, false
	}
	if *grant.DepartmentID == *q.DepartmentID {
		return grantCandidate(grant, true), true
	}
	if grant.InheritChildren && q.Tree.IsDescendant(*grant.DepartmentID, *q.DepartmentID) {
		return grantCandidate(grant, false), true
	}
	return Candidate{}, false
}

func grantCandidate(grant models.AccessGrant, direct bool) Candidate {
	source := SourceDirectAccess
	if !direct {
		source = SourceInheritedAccess
	}

	var restrictions map[string]any
	if len(grant.Restrictions) > 0 {
		restrictions = maps.Clone(map[string]any(grant.Restrictions))
	}

	return Candidate{
		Level:        grant.AccessType,
		Source:       source,
		DepartmentID: grant.DepartmentID,
		GrantID:      grant.ID,
		Restrictions: restrictions,
		direct:       direct,
	}
}

// AssignmentSource turns day-to-day staff placement into implicit write
// access on student and group rosters. Placement always inherits downwards.
type AssignmentSource struct {
	assignments AssignmentReader
}

func NewAssignmentSource(assignments AssignmentReader) *AssignmentSource {
	return &AssignmentSource{assignments: assignments}
}

func (s *AssignmentSource) Name() string { return "assignments" }
func (s *AssignmentSource) Tier() Tier   { return TierFallback }

func (s *AssignmentSource) ApplicableGrant(ctx context.Context, q Query) (*Candidate, error) {
	if !q.Scope.Roster() || q.Global() {
		return nil, nil
	}

	assignments, err := s.active(ctx, q)
	if err != nil {
		return nil, err
	}

	target := *q.DepartmentID
	var best *Candidate
	for _, assignment := range assignments {
		var candidate Candidate
		switch {
		case assignment.DepartmentID == target:
			candidate = assignmentCandidate(assignment, true)
		case q.Tree.IsDescendant(assignment.DepartmentID, target):
			candidate = assignmentCandidate(assignment, false)
		default:
			continue
		}
		if best == nil || stronger(candidate, *best) {
			best = &candidate
		}
	}
	return best, nil
}

func (s *AssignmentSource) Reachable(ctx context.Context, q Query) (map[uint]Candidate, error) {
	if !q.Scope.Roster() {
		return nil, nil
	}

	assignments, err := s.active(ctx, q)
	if err != nil {
		return nil, err
	}

	result := make(map[uint]Candidate)
	offer := func(department models.Department, candidate Candidate) {
		if existing, ok := result[department.ID]; ok && !stronger(candidate, existing) {
			return
		}
		result[department.ID] = candidate
	}

	for _, assignment := range assignments {
		department, ok := q.Tree.Get(assignment.DepartmentID)
		if !ok || !department.IsActive {
			continue
		}
		offer(department, assignmentCandidate(assignment, true))
		for _, descendant := range q.Tree.DescendantsOf(department.ID, true) {
			offer(descendant, assignmentCandidate(assignment, false))
		}
	}
	return result, nil
}

func (s *AssignmentSource) active(ctx context.Context, q Query) ([]models.Assignment, error) {
	assignments, err := s.assignments.AssignmentsFor(ctx, q.ActorID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}

	result := make([]models.Assignment, 0, len(assignments))
	for _, assignment := range assignments {
		if assignment.UserID != q.ActorID || !assignment.IsActive(q.Now) {
			continue
		}
		if !q.Tree.Contains(assignment.DepartmentID) {
			continue
		}
		result = append(result, assignment)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func assignmentCandidate(assignment models.Assignment, direct bool) Candidate {
	source := SourceOrganizationalAssignment
	switch assignment.Kind {
	case models.KindCurator:
		source = SourceCuratorAssignment
	case models.KindStudentAccess:
		source = SourceStudentAccess
	}

	departmentID := assignment.DepartmentID
	return Candidate{
		Level:        models.AccessWrite,
		Source:       source,
		DepartmentID: &departmentID,
		AssignmentID: assignment.ID,
		direct:       direct,
	}
}
