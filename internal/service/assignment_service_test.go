package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type assignmentFixture struct {
	*fixture
	userID uint
	roleID uint
	chair  uint
	lab    uint
}

func newAssignmentFixture(t *testing.T) assignmentFixture {
	f := newFixture(t)
	faculty := f.department(t, "Faculty", models.DepartmentTypeFaculty, nil)
	return assignmentFixture{
		fixture: f,
		userID:  f.user(t, "lecturer@example.org", models.SystemRoleStaff),
		roleID:  f.role(t, "Lecturer"),
		chair:   f.department(t, "Chair", models.DepartmentTypeChair, uintPtr(faculty)),
		lab:     f.department(t, "Lab", models.DepartmentTypeLaboratory, uintPtr(faculty)),
	}
}

func (f assignmentFixture) input(departmentID uint) CreateAssignmentInput {
	return CreateAssignmentInput{
		UserID:       f.userID,
		DepartmentID: departmentID,
		RoleID:       f.roleID,
		Type:         models.AssignmentPermanent,
		StartDate:    day(-30),
		AssignedBy:   1,
	}
}

func TestCreateAssignmentDefaults(t *testing.T) {
	f := newAssignmentFixture(t)

	input := f.input(f.chair)
	input.StartDate = day(-30).Add(15 * time.Hour)

	assignment, err := f.assignments.CreateAssignment(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, models.KindOrganizational, assignment.Kind)
	assert.Equal(t, 100, assignment.WorkloadPercent)
	assert.Equal(t, day(-30), assignment.StartDate)
	assert.True(t, assignment.IsActive(testNow))
}

func TestCreateAssignmentValidation(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	sameDay := f.input(f.chair)
	sameDay.EndDate = timePtr(sameDay.StartDate)
	_, err := f.assignments.CreateAssignment(ctx, sameDay)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	badKind := f.input(f.chair)
	badKind.Kind = "mentor"
	_, err = f.assignments.CreateAssignment(ctx, badKind)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	badWorkload := f.input(f.chair)
	badWorkload.WorkloadPercent = 150
	_, err = f.assignments.CreateAssignment(ctx, badWorkload)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	unknownRole := f.input(f.chair)
	unknownRole.RoleID = 999
	_, err = f.assignments.CreateAssignment(ctx, unknownRole)
	assert.True(t, apperror.IsCode(err, apperror.CodeNotFound))

	unknownUser := f.input(f.chair)
	unknownUser.UserID = 999
	_, err = f.assignments.CreateAssignment(ctx, unknownUser)
	assert.True(t, apperror.IsCode(err, apperror.CodeNotFound))
}

func TestCreateAssignmentRejectsOverlap(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	first := f.input(f.chair)
	first.EndDate = timePtr(day(10))
	_, err := f.assignments.CreateAssignment(ctx, first)
	require.NoError(t, err)

	overlapping := f.input(f.chair)
	overlapping.StartDate = day(10)
	_, err = f.assignments.CreateAssignment(ctx, overlapping)
	assert.True(t, apperror.IsCode(err, apperror.CodeConflict))

	// Starts the day after the first one ends.
	following := f.input(f.chair)
	following.StartDate = day(11)
	_, err = f.assignments.CreateAssignment(ctx, following)
	require.NoError(t, err)

	// Same period with another kind is a separate placement.
	curator := f.input(f.chair)
	curator.Kind = models.KindCurator
	_, err = f.assignments.CreateAssignment(ctx, curator)
	require.NoError(t, err)
}

func TestSetPrimaryKeepsOnePrimary(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	chairInput := f.input(f.chair)
	chairInput.IsPrimary = true
	chair, err := f.assignments.CreateAssignment(ctx, chairInput)
	require.NoError(t, err)

	labInput := f.input(f.lab)
	labInput.IsPrimary = true
	lab, err := f.assignments.CreateAssignment(ctx, labInput)
	require.NoError(t, err)

	primaries := func() []uint {
		assignments, err := f.assignments.ListAssignments(ctx, ListAssignmentsFilter{UserID: uintPtr(f.userID)})
		require.NoError(t, err)
		var ids []uint
		for _, assignment := range assignments {
			if assignment.IsPrimary {
				ids = append(ids, assignment.ID)
			}
		}
		return ids
	}
	assert.Equal(t, []uint{lab.ID}, primaries())

	_, err = f.assignments.SetPrimary(ctx, chair.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{chair.ID}, primaries())

	future := f.input(f.lab)
	future.Kind = models.KindCurator
	future.StartDate = day(5)
	pending, err := f.assignments.CreateAssignment(ctx, future)
	require.NoError(t, err)

	_, err = f.assignments.SetPrimary(ctx, pending.ID, 1)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	assert.Equal(t, []uint{chair.ID}, primaries())

	_, err = f.assignments.SetPrimary(ctx, 999, 1)
	assert.True(t, apperror.IsCode(err, apperror.CodeNotFound))
}

func TestCreatePrimaryLeavesSinglePrimary(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	other := f.user(t, "other@example.org", models.SystemRoleStaff)
	countPrimaries := func(userID uint) int64 {
		var count int64
		require.NoError(t, f.db.Model(&models.Assignment{}).
			Where("user_id = ? AND is_primary = ?", userID, true).
			Count(&count).Error)
		return count
	}

	var last models.Assignment
	for i, kind := range []models.AssignmentKind{models.KindOrganizational, models.KindCurator, models.KindStudentAccess} {
		input := f.input(f.chair)
		input.Kind = kind
		input.IsPrimary = true
		created, err := f.assignments.CreateAssignment(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, int64(1), countPrimaries(f.userID), "after create %d", i)
		last = created
	}

	otherInput := f.input(f.lab)
	otherInput.UserID = other
	otherInput.IsPrimary = true
	_, err := f.assignments.CreateAssignment(ctx, otherInput)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countPrimaries(f.userID))
	assert.Equal(t, int64(1), countPrimaries(other))

	// The schema rejects a second primary written around the service.
	var stale models.Assignment
	require.NoError(t, f.db.Where("user_id = ? AND id <> ?", f.userID, last.ID).First(&stale).Error)
	err = f.db.Model(&models.Assignment{}).Where("id = ?", stale.ID).Update("is_primary", true).Error
	require.Error(t, err)
	assert.Equal(t, int64(1), countPrimaries(f.userID))
}

func TestUpdateAssignment(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	created, err := f.assignments.CreateAssignment(ctx, f.input(f.chair))
	require.NoError(t, err)

	acting := models.AssignmentActing
	workload := 50
	updated, err := f.assignments.UpdateAssignment(ctx, created.ID, UpdateAssignmentInput{
		Type:            &acting,
		EndDate:         timePtr(day(30)),
		WorkloadPercent: &workload,
		ActorID:         1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentActing, updated.Type)
	assert.Equal(t, 50, updated.WorkloadPercent)
	require.NotNil(t, updated.EndDate)
	assert.True(t, models.DateOf(*updated.EndDate).Equal(day(30)))

	_, err = f.assignments.UpdateAssignment(ctx, created.ID, UpdateAssignmentInput{EndDate: timePtr(day(-40)), ActorID: 1})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	cleared, err := f.assignments.UpdateAssignment(ctx, created.ID, UpdateAssignmentInput{ClearEndDate: true, ActorID: 1})
	require.NoError(t, err)
	assert.Nil(t, cleared.EndDate)
}

func TestEndAssignment(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	input := f.input(f.chair)
	input.IsPrimary = true
	created, err := f.assignments.CreateAssignment(ctx, input)
	require.NoError(t, err)

	ended, err := f.assignments.EndAssignment(ctx, created.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, ended.EndDate)
	assert.True(t, models.DateOf(*ended.EndDate).Equal(day(0)))
	assert.False(t, ended.IsPrimary)
	assert.True(t, ended.IsActive(testNow))
	assert.False(t, ended.IsActive(testNow.AddDate(0, 0, 1)))

	_, err = f.assignments.EndAssignment(ctx, created.ID, 1)
	assert.True(t, apperror.IsCode(err, apperror.CodeConflict))

	// Starting today: an end date of today would not follow the start.
	fresh := f.input(f.lab)
	fresh.StartDate = day(0)
	started, err := f.assignments.CreateAssignment(ctx, fresh)
	require.NoError(t, err)

	ended, err = f.assignments.EndAssignment(ctx, started.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, ended.State)
}

func TestRevokeAssignment(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	created, err := f.assignments.CreateAssignment(ctx, f.input(f.chair))
	require.NoError(t, err)

	require.NoError(t, f.assignments.RevokeAssignment(ctx, created.ID, 1))
	err = f.assignments.RevokeAssignment(ctx, created.ID, 1)
	assert.True(t, apperror.IsCode(err, apperror.CodeConflict))

	live, err := f.assignments.AssignmentsFor(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, live)

	// The slot is free again.
	_, err = f.assignments.CreateAssignment(ctx, f.input(f.chair))
	require.NoError(t, err)
}

func TestBulkCreateAssignments(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	second := f.user(t, "second@example.org", models.SystemRoleStaff)
	_, err := f.assignments.CreateAssignment(ctx, f.input(f.chair))
	require.NoError(t, err)

	result, err := f.assignments.BulkCreateAssignments(ctx, BulkAssignmentInput{
		UserIDs:      []uint{f.userID, second, second, 999},
		DepartmentID: f.chair,
		RoleID:       f.roleID,
		Type:         models.AssignmentTemporary,
		StartDate:    day(-1),
		EndDate:      timePtr(day(60)),
		AssignedBy:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 3, result.Failed)

	_, err = f.assignments.BulkCreateAssignments(ctx, BulkAssignmentInput{
		UserIDs:      []uint{second},
		DepartmentID: 999,
		RoleID:       f.roleID,
		Type:         models.AssignmentTemporary,
		StartDate:    day(-1),
		AssignedBy:   1,
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeNotFound))
}

func TestGetDepartmentIncludesActiveAssignments(t *testing.T) {
	f := newAssignmentFixture(t)
	ctx := context.Background()

	_, err := f.assignments.CreateAssignment(ctx, f.input(f.chair))
	require.NoError(t, err)

	future := f.input(f.chair)
	future.Kind = models.KindCurator
	future.StartDate = day(3)
	_, err = f.assignments.CreateAssignment(ctx, future)
	require.NoError(t, err)

	view, err := f.departments.GetDepartment(ctx, f.chair, GetDepartmentOptions{IncludeAssignments: true})
	require.NoError(t, err)
	require.NotNil(t, view.Assignments)
	require.Len(t, *view.Assignments, 1)
	assert.Equal(t, day(-30).Format("2006-01-02"), (*view.Assignments)[0].StartDate)
}
