package access

import (
	"context"
	"time"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
	"github.com/sanumxxx/melsu-portal-sub000/internal/tree"
)

type Source string

const (
	SourceNone                     Source = "none"
	SourceAdminRole                Source = "admin_role"
	SourceDirectAccess             Source = "direct_access"
	SourceInheritedAccess          Source = "inherited_access"
	SourceOrganizationalAssignment Source = "organizational_assignment"
	SourceCuratorAssignment        Source = "curator_assignment"
	SourceStudentAccess            Source = "student_access"
)

// Tier fixes the order in which sources are consulted. A later tier is only
// asked when every earlier tier produced no applicable candidate at all; an
// applicable but too weak candidate still stops the descent.
type Tier int

const (
	// TierOverride sources decide alone: the first hit is returned as is.
	TierOverride Tier = iota
	TierPrimary
	TierFallback
)

type TreeProvider interface {
	Tree(ctx context.Context) (*tree.Tree, error)
}

type RoleProvider interface {
	HasGlobalRole(ctx context.Context, userID uint, role string) (bool, error)
}

type GrantReader interface {
	GrantsFor(ctx context.Context, userID uint) ([]models.AccessGrant, error)
}

type AssignmentReader interface {
	AssignmentsFor(ctx context.Context, userID uint) ([]models.Assignment, error)
}

// Query is what a PermissionSource sees. Tree and Now are fixed once per
// resolution so every source reads the same snapshot.
type Query struct {
	ActorID      uint
	Scope        models.Scope
	DepartmentID *uint
	Tree         *tree.Tree
	Now          time.Time
}

func (q Query) Global() bool {
	return q.DepartmentID == nil
}

type Candidate struct {
	Level        models.AccessType
	Source       Source
	DepartmentID *uint
	GrantID      uint
	AssignmentID uint
	Restrictions map[string]any

	// direct is false when the candidate was reached through a descendant
	// walk rather than an exact or global match.
	direct bool
}

// stronger is the merge rule: higher level wins, then a direct match beats an
// inherited one. Anything else keeps the earlier candidate.
func stronger(c, than Candidate) bool {
	if c.Level.Rank() != than.Level.Rank() {
		return c.Level.Rank() > than.Level.Rank()
	}
	return c.direct && !than.direct
}

type PermissionSource interface {
	Name() string
	Tier() Tier
	// ApplicableGrant returns the strongest candidate this source holds for
	// the query's target, or nil.
	ApplicableGrant(ctx context.Context, q Query) (*Candidate, error)
	// Reachable returns the strongest candidate per active department the
	// actor reaches through this source. q.DepartmentID is ignored.
	Reachable(ctx context.Context, q Query) (map[uint]Candidate, error)
}
