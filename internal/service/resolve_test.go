package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanumxxx/melsu-portal-sub000/internal/access"
	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

func newResolver(f *fixture) *access.Resolver {
	return access.NewDefaultResolver(f.departments, f.users, f.grants, f.assignments).
		WithClock(func() time.Time { return testNow })
}

func accessRequest(actorID uint, scope models.Scope, required models.AccessType, departmentID uint) access.Request {
	return access.Request{
		ActorID:      actorID,
		Scope:        scope,
		Required:     required,
		DepartmentID: &departmentID,
	}
}

func TestResolveThroughStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := newResolver(f)

	university := f.department(t, "University", models.DepartmentTypeUniversity, nil)
	faculty := f.department(t, "Faculty of Economics", models.DepartmentTypeFaculty, uintPtr(university))
	chair := f.department(t, "Chair of Finance", models.DepartmentTypeChair, uintPtr(faculty))
	group := f.department(t, "FIN-21", models.DepartmentTypeGroup, uintPtr(chair))
	otherFaculty := f.department(t, "Faculty of Law", models.DepartmentTypeFaculty, uintPtr(university))

	dean := f.user(t, "dean@example.org", models.SystemRoleStaff)
	curator := f.user(t, "curator@example.org", models.SystemRoleStaff)
	admin := f.user(t, "admin@example.org", models.SystemRoleAdmin)
	curatorRole := f.role(t, "Curator")

	_, err := f.grants.CreateGrant(ctx, CreateGrantInput{
		UserID:       dean,
		DepartmentID: uintPtr(faculty),
		Settings:     readStudents(true),
		GrantedBy:    admin,
	})
	require.NoError(t, err)

	_, err = f.assignments.CreateAssignment(ctx, CreateAssignmentInput{
		UserID:       curator,
		DepartmentID: chair,
		RoleID:       curatorRole,
		Kind:         models.KindCurator,
		Type:         models.AssignmentPermanent,
		StartDate:    day(-100),
		AssignedBy:   admin,
	})
	require.NoError(t, err)

	t.Run("inherited read on a descendant group", func(t *testing.T) {
		decision, err := resolver.Resolve(ctx, accessRequest(dean, models.ScopeStudents, models.AccessRead, group))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, access.SourceInheritedAccess, decision.Source)
		assert.Equal(t, models.AccessRead, decision.Granted)
	})

	t.Run("read does not satisfy write", func(t *testing.T) {
		decision, err := resolver.Resolve(ctx, accessRequest(dean, models.ScopeStudents, models.AccessWrite, group))
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("sibling faculty is out of reach", func(t *testing.T) {
		decision, err := resolver.Resolve(ctx, accessRequest(dean, models.ScopeStudents, models.AccessRead, otherFaculty))
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, access.SourceNone, decision.Source)
	})

	t.Run("curator assignment covers the chair subtree", func(t *testing.T) {
		decision, err := resolver.Resolve(ctx, accessRequest(curator, models.ScopeGroups, models.AccessWrite, group))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, access.SourceCuratorAssignment, decision.Source)

		decision, err = resolver.Resolve(ctx, accessRequest(curator, models.ScopeGroups, models.AccessRead, faculty))
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("admin role overrides", func(t *testing.T) {
		decision, err := resolver.Resolve(ctx, access.Request{ActorID: admin, Scope: models.ScopeAll, Required: models.AccessAdmin})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, access.SourceAdminRole, decision.Source)
	})

	t.Run("check reports forbidden", func(t *testing.T) {
		err := resolver.Check(ctx, accessRequest(dean, models.ScopeStudents, models.AccessRead, otherFaculty))
		assert.True(t, apperror.IsCode(err, apperror.CodeForbidden))
	})

	t.Run("accessible departments follow the grant", func(t *testing.T) {
		reachable, err := resolver.AccessibleDepartments(ctx, dean, models.ScopeStudents)
		require.NoError(t, err)

		var ids []uint
		for _, department := range reachable {
			ids = append(ids, department.Department.ID)
		}
		assert.Equal(t, []uint{faculty, chair, group}, ids)
	})
}

func TestResolveSeesRevocationAndMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := newResolver(f)

	a := f.department(t, "A", models.DepartmentTypeFaculty, nil)
	b := f.department(t, "B", models.DepartmentTypeFaculty, nil)
	c := f.department(t, "C", models.DepartmentTypeChair, uintPtr(b))
	user := f.user(t, "user@example.org", models.SystemRoleStaff)

	grant, err := f.grants.CreateGrant(ctx, CreateGrantInput{
		UserID:       user,
		DepartmentID: uintPtr(a),
		Settings:     readStudents(true),
		GrantedBy:    1,
	})
	require.NoError(t, err)

	request := accessRequest(user, models.ScopeStudents, models.AccessRead, c)
	decision, err := resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Warm the cache, then move B under A; the move must be visible at once.
	_, err = f.departments.Tree(ctx)
	require.NoError(t, err)
	_, err = f.departments.MoveDepartment(ctx, b, uintPtr(a), 1)
	require.NoError(t, err)

	decision, err = resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, grant.ID, decision.GrantID)

	_, err = f.grants.RevokeGrant(ctx, grant.ID, 1)
	require.NoError(t, err)

	decision, err = resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestResolveAfterMoveDuringCacheFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := newResolver(f)

	a := f.department(t, "A", models.DepartmentTypeFaculty, nil)
	b := f.department(t, "B", models.DepartmentTypeFaculty, nil)
	chair := f.department(t, "Chair", models.DepartmentTypeChair, uintPtr(a))
	user := f.user(t, "dean@example.org", models.SystemRoleStaff)

	_, err := f.grants.CreateGrant(ctx, CreateGrantInput{
		UserID:       user,
		DepartmentID: uintPtr(a),
		Settings:     readStudents(true),
		GrantedBy:    1,
	})
	require.NoError(t, err)

	// The reader has loaded rows with Chair under A; Chair moves to B
	// before those rows reach the cache.
	f.cache.beforeStore = func() {
		_, err := f.departments.MoveDepartment(ctx, chair, uintPtr(b), 1)
		require.NoError(t, err)
	}

	request := accessRequest(user, models.ScopeStudents, models.AccessRead, chair)
	_, err = resolver.Resolve(ctx, request)
	require.NoError(t, err)
	require.Nil(t, f.cache.beforeStore)

	decision, err := resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, access.SourceNone, decision.Source)

	snapshot, err := f.departments.Tree(ctx)
	require.NoError(t, err)
	assert.True(t, snapshot.IsDescendant(b, chair))
	assert.False(t, snapshot.IsDescendant(a, chair))
}

func TestResolveIgnoresDeactivatedAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := newResolver(f)

	department := f.department(t, "A", models.DepartmentTypeFaculty, nil)
	admin := f.user(t, "admin@example.org", models.SystemRoleAdmin)
	request := accessRequest(admin, models.ScopeAll, models.AccessAdmin, department)

	decision, err := resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NoError(t, f.users.SetActive(ctx, admin, false))

	decision, err = resolver.Resolve(ctx, request)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
