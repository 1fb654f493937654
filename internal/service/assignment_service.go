package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

const defaultWorkloadPercent = 100

type AssignmentService struct {
	base
}

func NewAssignmentService(db *gorm.DB, opts Options) *AssignmentService {
	return &AssignmentService{base: newBase(db, opts.withDefaults())}
}

func (s *AssignmentService) CreateAssignment(ctx context.Context, input CreateAssignmentInput) (models.Assignment, error) {
	if err := s.validate.Struct(input); err != nil {
		return models.Assignment{}, err
	}

	assignment, err := newAssignment(input)
	if err != nil {
		return models.Assignment{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadDepartment(ctx, tx, assignment.DepartmentID); err != nil {
			return err
		}
		if err := s.ensureRoleExists(ctx, tx, assignment.RoleID); err != nil {
			return err
		}
		return s.insert(ctx, tx, &assignment)
	})
	if err != nil {
		return models.Assignment{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:    input.AssignedBy,
		Action:     "assignment_create",
		Resource:   "assignments",
		ResourceID: assignment.ID,
		After:      assignment,
	})
	return assignment, nil
}

// BulkCreateAssignments places every listed user into one department. The
// department and role are checked once for the whole batch; user-level
// failures are reported per item.
func (s *AssignmentService) BulkCreateAssignments(ctx context.Context, input BulkAssignmentInput) (BatchResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return BatchResult{}, err
	}
	if _, err := s.loadDepartment(ctx, s.db, input.DepartmentID); err != nil {
		return BatchResult{}, err
	}
	if err := s.ensureRoleExists(ctx, s.db, input.RoleID); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: uuid.NewString()}
	seen := make(map[uint]bool, len(input.UserIDs))

	for _, userID := range input.UserIDs {
		label := fmt.Sprintf("user %d", userID)
		if seen[userID] {
			result.fail(itemError(label, apperror.New(apperror.CodeConflict, "user listed more than once")))
			continue
		}
		seen[userID] = true

		assignment, err := newAssignment(CreateAssignmentInput{
			UserID:          userID,
			DepartmentID:    input.DepartmentID,
			RoleID:          input.RoleID,
			Kind:            input.Kind,
			Type:            input.Type,
			StartDate:       input.StartDate,
			EndDate:         input.EndDate,
			WorkloadPercent: input.WorkloadPercent,
			AssignedBy:      input.AssignedBy,
		})
		if err != nil {
			// Date errors are shared by every item.
			return BatchResult{}, err
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.insert(ctx, tx, &assignment)
		})
		if err != nil {
			if !isItemError(err) {
				return result, err
			}
			result.fail(itemError(label, err))
			continue
		}

		result.ok(assignment.ID)
		s.record(ctx, AuditEvent{
			ActorID:    input.AssignedBy,
			Action:     "assignment_create",
			Resource:   "assignments",
			ResourceID: assignment.ID,
			After:      assignment,
			BatchID:    result.BatchID,
		})
	}

	s.logger.InfoContext(ctx, "bulk assignment finished",
		"batch_id", result.BatchID,
		"department_id", input.DepartmentID,
		"created", result.Created,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *AssignmentService) UpdateAssignment(ctx context.Context, id uint, input UpdateAssignmentInput) (models.Assignment, error) {
	if err := s.validate.Struct(input); err != nil {
		return models.Assignment{}, err
	}

	var before, after models.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockAssignment(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.State != models.StateActive {
			return apperror.Newf(apperror.CodeConflict, "assignment %d is revoked", id)
		}
		before = current
		after = current

		if input.RoleID != nil && *input.RoleID != current.RoleID {
			if err := s.ensureRoleExists(ctx, tx, *input.RoleID); err != nil {
				return err
			}
			after.RoleID = *input.RoleID
		}
		if input.Type != nil {
			after.Type = *input.Type
		}
		if input.StartDate != nil {
			after.StartDate = models.DateOf(*input.StartDate)
		}
		if input.ClearEndDate {
			after.EndDate = nil
		} else if input.EndDate != nil {
			endDate := models.DateOf(*input.EndDate)
			after.EndDate = &endDate
		}
		if input.WorkloadPercent != nil {
			after.WorkloadPercent = *input.WorkloadPercent
		}
		if err := checkPeriod(after.StartDate, after.EndDate); err != nil {
			return err
		}

		if err := s.checkOverlap(ctx, tx, after); err != nil {
			return err
		}

		return tx.Model(&models.Assignment{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"role_id":          after.RoleID,
				"type":             after.Type,
				"start_date":       after.StartDate,
				"end_date":         after.EndDate,
				"workload_percent": after.WorkloadPercent,
			}).Error
	})
	if err != nil {
		return models.Assignment{}, mapDatabaseError(err)
	}

	updated, err := s.GetAssignment(ctx, id)
	if err != nil {
		return models.Assignment{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:    input.ActorID,
		Action:     "assignment_update",
		Resource:   "assignments",
		ResourceID: id,
		Before:     before,
		After:      updated,
	})
	return updated, nil
}

// SetPrimary marks the assignment as the user's primary one and clears the
// flag on every other assignment of that user in the same transaction.
func (s *AssignmentService) SetPrimary(ctx context.Context, id uint, actorID uint) (models.Assignment, error) {
	var assignment models.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockAssignment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.IsActive(s.clock()) {
			return apperror.Newf(apperror.CodeValidation, "assignment %d is not active", id)
		}
		if current.IsPrimary {
			assignment = current
			return nil
		}

		if err := s.clearPrimary(ctx, tx, current.UserID, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Assignment{}).Where("id = ?", id).Update("is_primary", true).Error; err != nil {
			return mapDatabaseError(err)
		}

		current.IsPrimary = true
		assignment = current
		return nil
	})
	if err != nil {
		return models.Assignment{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:    actorID,
		Action:     "assignment_set_primary",
		Resource:   "assignments",
		ResourceID: id,
		After:      assignment,
	})
	return assignment, nil
}

// EndAssignment closes the assignment today; it still counts until the day
// is over. An assignment that has not started before today is revoked
// instead, since its end date must fall after its start.
func (s *AssignmentService) EndAssignment(ctx context.Context, id uint, actorID uint) (models.Assignment, error) {
	today := models.DateOf(s.clock())

	var before models.Assignment
	action := "assignment_end"
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockAssignment(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.State == models.StateRevoked {
			return apperror.Newf(apperror.CodeConflict, "assignment %d is revoked", id)
		}
		if current.EndDate != nil && !models.DateOf(*current.EndDate).After(today) {
			return apperror.Newf(apperror.CodeConflict, "assignment %d has already ended", id)
		}
		before = current

		updates := map[string]interface{}{"is_primary": false}
		if today.After(models.DateOf(current.StartDate)) {
			updates["end_date"] = today
		} else {
			updates["state"] = models.StateRevoked
			action = "assignment_revoke"
		}
		return tx.Model(&models.Assignment{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return models.Assignment{}, mapDatabaseError(err)
	}

	after, err := s.GetAssignment(ctx, id)
	if err != nil {
		return models.Assignment{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:    actorID,
		Action:     action,
		Resource:   "assignments",
		ResourceID: id,
		Before:     before,
		After:      after,
	})
	return after, nil
}

func (s *AssignmentService) RevokeAssignment(ctx context.Context, id uint, actorID uint) error {
	var before models.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockAssignment(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.State == models.StateRevoked {
			return apperror.Newf(apperror.CodeConflict, "assignment %d is already revoked", id)
		}
		before = current

		return tx.Model(&models.Assignment{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"state":      models.StateRevoked,
				"is_primary": false,
			}).Error
	})
	if err != nil {
		return mapDatabaseError(err)
	}

	s.record(ctx, AuditEvent{
		ActorID:    actorID,
		Action:     "assignment_revoke",
		Resource:   "assignments",
		ResourceID: id,
		Before:     before,
	})
	return nil
}

func (s *AssignmentService) GetAssignment(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := s.db.WithContext(ctx).First(&assignment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, apperror.Newf(apperror.CodeNotFound, "assignment %d not found", id)
		}
		return models.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return assignment, nil
}

func (s *AssignmentService) ListAssignments(ctx context.Context, filter ListAssignmentsFilter) ([]models.Assignment, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.DepartmentID != nil {
		query = query.Where("department_id = ?", *filter.DepartmentID)
	}
	if filter.ActiveOnly {
		query = query.Where("state = ?", models.StateActive)
	}

	var assignments []models.Assignment
	if err := query.Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	if !filter.ActiveOnly {
		return assignments, nil
	}

	now := s.clock()
	active := assignments[:0]
	for _, assignment := range assignments {
		if assignment.IsActive(now) {
			active = append(active, assignment)
		}
	}
	return active, nil
}

// AssignmentsFor returns the user's non-revoked assignments. Date validity is
// checked by the caller.
func (s *AssignmentService) AssignmentsFor(ctx context.Context, userID uint) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, models.StateActive).
		Order("id ASC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	return assignments, nil
}

// insert runs the per-user part of creation inside tx.
func (s *AssignmentService) insert(ctx context.Context, tx *gorm.DB, assignment *models.Assignment) error {
	if _, err := s.ensureUserExists(ctx, tx, assignment.UserID); err != nil {
		return err
	}
	if err := s.checkOverlap(ctx, tx, *assignment); err != nil {
		return err
	}
	if assignment.IsPrimary {
		if err := s.clearPrimary(ctx, tx, assignment.UserID, 0); err != nil {
			return err
		}
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(assignment).Error; err != nil {
		return mapDatabaseError(err)
	}
	return nil
}

// checkOverlap rejects a second live placement of the same user in the same
// department with the same role and kind over an overlapping period.
func (s *AssignmentService) checkOverlap(ctx context.Context, tx *gorm.DB, candidate models.Assignment) error {
	var existing []models.Assignment
	if err := tx.WithContext(ctx).
		Where("user_id = ? AND department_id = ? AND role_id = ? AND kind = ? AND state = ? AND id <> ?",
			candidate.UserID, candidate.DepartmentID, candidate.RoleID, candidate.Kind, models.StateActive, candidate.ID).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("check duplicate assignment: %w", err)
	}

	for _, other := range existing {
		if periodsOverlap(candidate.StartDate, candidate.EndDate, other.StartDate, other.EndDate) {
			return apperror.Newf(apperror.CodeConflict,
				"duplicate assignment: user %d already holds role %d in department %d (assignment %d)",
				candidate.UserID, candidate.RoleID, candidate.DepartmentID, other.ID)
		}
	}
	return nil
}

// clearPrimary takes the user's row lock before touching any primary flag, so
// concurrent writers for the same user run one after another and each one
// sees the primary set by the previous writer.
func (s *AssignmentService) clearPrimary(ctx context.Context, tx *gorm.DB, userID uint, keepID uint) error {
	if _, err := s.lockUser(ctx, tx, userID); err != nil {
		return err
	}

	var ids []uint
	if err := tx.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("user_id = ? AND is_primary = ? AND id <> ?", userID, true, keepID).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("load primary assignments: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Model(&models.Assignment{}).Where("id IN ?", ids).Update("is_primary", false).Error; err != nil {
		return mapDatabaseError(err)
	}
	return nil
}

func (s *AssignmentService) lockAssignment(ctx context.Context, tx *gorm.DB, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&assignment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, apperror.Newf(apperror.CodeNotFound, "assignment %d not found", id)
		}
		return models.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return assignment, nil
}

func (s *AssignmentService) ensureRoleExists(ctx context.Context, tx *gorm.DB, roleID uint) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Role{}).Where("id = ?", roleID).Count(&count).Error; err != nil {
		return fmt.Errorf("check role: %w", err)
	}
	if count == 0 {
		return apperror.Newf(apperror.CodeNotFound, "role %d not found", roleID)
	}
	return nil
}

func newAssignment(input CreateAssignmentInput) (models.Assignment, error) {
	assignment := models.Assignment{
		UserID:          input.UserID,
		DepartmentID:    input.DepartmentID,
		RoleID:          input.RoleID,
		Kind:            input.Kind,
		IsPrimary:       input.IsPrimary,
		Type:            input.Type,
		StartDate:       models.DateOf(input.StartDate),
		WorkloadPercent: input.WorkloadPercent,
		AssignedBy:      input.AssignedBy,
		State:           models.StateActive,
	}
	if assignment.Kind == "" {
		assignment.Kind = models.KindOrganizational
	}
	if assignment.WorkloadPercent == 0 {
		assignment.WorkloadPercent = defaultWorkloadPercent
	}
	if input.EndDate != nil {
		endDate := models.DateOf(*input.EndDate)
		assignment.EndDate = &endDate
	}
	if err := checkPeriod(assignment.StartDate, assignment.EndDate); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func checkPeriod(start time.Time, end *time.Time) error {
	if end != nil && !end.After(start) {
		return apperror.New(apperror.CodeValidation, "end_date must be after start_date")
	}
	return nil
}

// periodsOverlap treats both bounds as inclusive calendar days; a nil end is
// open-ended.
func periodsOverlap(startA time.Time, endA *time.Time, startB time.Time, endB *time.Time) bool {
	if endB != nil && models.DateOf(startA).After(models.DateOf(*endB)) {
		return false
	}
	if endA != nil && models.DateOf(startB).After(models.DateOf(*endA)) {
		return false
	}
	return true
}
