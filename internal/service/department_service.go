package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/cache"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
	"github.com/sanumxxx/melsu-portal-sub000/internal/tree"
)

type DepartmentService struct {
	base
	cache TreeCache
}

func NewDepartmentService(db *gorm.DB, opts Options) *DepartmentService {
	opts = opts.withDefaults()
	return &DepartmentService{base: newBase(db, opts), cache: opts.Cache}
}

func (s *DepartmentService) CreateDepartment(ctx context.Context, input CreateDepartmentInput) (DepartmentDTO, error) {
	name, err := normalizeRequiredString(input.Name, "name")
	if err != nil {
		return DepartmentDTO{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return DepartmentDTO{}, err
	}

	department := models.Department{
		Name:     name,
		Type:     input.Type,
		ParentID: input.ParentID,
		IsActive: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.ParentID != nil {
			parent, err := s.loadDepartment(ctx, tx, *input.ParentID)
			if err != nil {
				if apperror.IsCode(err, apperror.CodeNotFound) {
					return apperror.Newf(apperror.CodeValidation, "parent department %d does not exist", *input.ParentID)
				}
				return err
			}
			department.Level = parent.Level + 1
		}

		exists, err := s.siblingNameExists(ctx, tx, input.ParentID, name, nil)
		if err != nil {
			return err
		}
		if exists {
			return apperror.New(apperror.CodeConflict, "department name must be unique under the same parent")
		}

		if err := tx.Omit(clause.Associations).Create(&department).Error; err != nil {
			return mapDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return DepartmentDTO{}, err
	}

	s.invalidate(ctx)
	s.record(ctx, AuditEvent{
		ActorID:    input.ActorID,
		Action:     "department_create",
		Resource:   "departments",
		ResourceID: department.ID,
		After:      departmentToDTO(department),
	})

	return departmentToDTO(department), nil
}

func (s *DepartmentService) GetDepartment(ctx context.Context, departmentID uint, options GetDepartmentOptions) (DepartmentTree, error) {
	department, err := s.loadDepartment(ctx, s.db, departmentID)
	if err != nil {
		return DepartmentTree{}, err
	}

	if options.Depth < 0 || options.Depth > 5 {
		return DepartmentTree{}, apperror.New(apperror.CodeValidation, "depth must be between 0 and 5")
	}

	result, err := s.buildTree(ctx, department, options.Depth, options.IncludeAssignments)
	if err != nil {
		return DepartmentTree{}, err
	}

	return result, nil
}

// UpdateDepartment changes attributes only. Re-parenting goes through
// MoveDepartment.
func (s *DepartmentService) UpdateDepartment(ctx context.Context, departmentID uint, input UpdateDepartmentInput) (DepartmentDTO, error) {
	if err := s.validate.Struct(input); err != nil {
		return DepartmentDTO{}, err
	}

	var (
		before, after models.Department
		changed       bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		department, err := s.loadDepartment(ctx, tx, departmentID)
		if err != nil {
			return err
		}
		before = department

		updates := map[string]interface{}{}
		if input.Name != nil {
			name, err := normalizeRequiredString(*input.Name, "name")
			if err != nil {
				return err
			}
			if name != department.Name {
				exists, err := s.siblingNameExists(ctx, tx, department.ParentID, name, &departmentID)
				if err != nil {
					return err
				}
				if exists {
					return apperror.New(apperror.CodeConflict, "department name must be unique under the same parent")
				}
				updates["name"] = name
			}
		}
		if input.Type != nil && *input.Type != department.Type {
			updates["type"] = *input.Type
		}
		if input.IsActive != nil && *input.IsActive != department.IsActive {
			updates["is_active"] = *input.IsActive
		}

		if len(updates) > 0 {
			changed = true
			if err := tx.Model(&department).Updates(updates).Error; err != nil {
				return mapDatabaseError(err)
			}
			if err := tx.First(&department, departmentID).Error; err != nil {
				return fmt.Errorf("reload department: %w", err)
			}
		}
		after = department
		return nil
	})
	if err != nil {
		return DepartmentDTO{}, err
	}

	if changed {
		s.invalidate(ctx)
		s.record(ctx, AuditEvent{
			ActorID:    input.ActorID,
			Action:     "department_update",
			Resource:   "departments",
			ResourceID: departmentID,
			Before:     departmentToDTO(before),
			After:      departmentToDTO(after),
		})
	}

	return departmentToDTO(after), nil
}

// MoveDepartment re-parents a department (nil makes it a root) and recomputes
// the cached level of the whole moved subtree. The ancestry check runs on a
// snapshot read inside the same transaction that writes the parent pointer.
func (s *DepartmentService) MoveDepartment(ctx context.Context, departmentID uint, newParentID *uint, actorID uint) (DepartmentDTO, error) {
	var before, moved models.Department

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Department
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Order("id").Find(&rows).Error; err != nil {
			return fmt.Errorf("load departments: %w", err)
		}
		snapshot := tree.New(rows)

		department, ok := snapshot.Get(departmentID)
		if !ok {
			return apperror.Newf(apperror.CodeNotFound, "department %d not found", departmentID)
		}
		before = department

		if newParentID != nil {
			if *newParentID == departmentID {
				return apperror.New(apperror.CodeValidation, "department cannot be parent of itself")
			}
			if !snapshot.Contains(*newParentID) {
				return apperror.Newf(apperror.CodeValidation, "parent department %d does not exist", *newParentID)
			}
			if snapshot.IsDescendant(departmentID, *newParentID) {
				return apperror.New(apperror.CodeValidation, "department cannot be moved into its own subtree")
			}
		}

		if equalUintPtr(department.ParentID, newParentID) {
			moved = department
			return nil
		}

		exists, err := s.siblingNameExists(ctx, tx, newParentID, department.Name, &departmentID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.New(apperror.CodeConflict, "department name must be unique under the same parent")
		}

		if err := tx.Model(&models.Department{}).
			Where("id = ?", departmentID).
			Update("parent_id", newParentID).Error; err != nil {
			return mapDatabaseError(err)
		}

		for i := range rows {
			if rows[i].ID == departmentID {
				rows[i].ParentID = newParentID
			}
		}
		if err := s.recomputeLevels(tx, tree.New(rows), departmentID); err != nil {
			return err
		}

		if err := tx.First(&moved, departmentID).Error; err != nil {
			return fmt.Errorf("reload department: %w", err)
		}
		return nil
	})
	if err != nil {
		return DepartmentDTO{}, err
	}

	if !equalUintPtr(before.ParentID, moved.ParentID) {
		s.invalidate(ctx)
		s.record(ctx, AuditEvent{
			ActorID:    actorID,
			Action:     "department_move",
			Resource:   "departments",
			ResourceID: departmentID,
			Before:     departmentToDTO(before),
			After:      departmentToDTO(moved),
		})
		s.logger.InfoContext(ctx, "department moved",
			"department_id", departmentID,
			"from", describeDepartment(before.ParentID),
			"to", describeDepartment(moved.ParentID),
		)
	}

	return departmentToDTO(moved), nil
}

// DeleteDepartment removes a leaf department. Active placements must be
// ended first or moved with reassignTo. Grants that point at the removed id
// stay in place for audit and simply stop matching.
func (s *DepartmentService) DeleteDepartment(ctx context.Context, departmentID uint, reassignTo *uint, actorID uint) error {
	var department models.Department

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		department, err = s.loadDepartment(ctx, tx, departmentID)
		if err != nil {
			return err
		}

		var children int64
		if err := tx.Model(&models.Department{}).Where("parent_id = ?", departmentID).Count(&children).Error; err != nil {
			return fmt.Errorf("count child departments: %w", err)
		}
		if children > 0 {
			return apperror.New(apperror.CodeConflict, "department with child departments cannot be deleted")
		}

		var assignments int64
		if err := tx.Model(&models.Assignment{}).Where("department_id = ?", departmentID).Count(&assignments).Error; err != nil {
			return fmt.Errorf("count assignments: %w", err)
		}

		if assignments > 0 {
			if reassignTo == nil {
				return apperror.New(apperror.CodeConflict, "department has assignments; reassign them first")
			}
			if *reassignTo == departmentID {
				return apperror.New(apperror.CodeValidation, "reassign target cannot be the same department")
			}
			if _, err := s.loadDepartment(ctx, tx, *reassignTo); err != nil {
				return err
			}
			if err := tx.Model(&models.Assignment{}).
				Where("department_id = ?", departmentID).
				Update("department_id", *reassignTo).Error; err != nil {
				return mapDatabaseError(err)
			}
		}

		if err := tx.Delete(&models.Department{}, departmentID).Error; err != nil {
			return mapDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	s.record(ctx, AuditEvent{
		ActorID:    actorID,
		Action:     "department_delete",
		Resource:   "departments",
		ResourceID: departmentID,
		Before:     departmentToDTO(department),
	})
	return nil
}

// Tree returns a snapshot of every department row, served from the cache when
// one is configured.
func (s *DepartmentService) Tree(ctx context.Context) (*tree.Tree, error) {
	// The generation is read before the rows so that a list loaded before a
	// concurrent write is stored under the generation that write retired.
	var generation int64
	cached := s.cache != nil
	if cached {
		current, err := s.cache.Generation(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "department cache generation read failed", "error", err)
			cached = false
		}
		generation = current
	}

	if cached {
		departments, err := s.cache.Load(ctx, generation)
		if err == nil {
			return tree.New(departments), nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.WarnContext(ctx, "department cache read failed", "error", err)
		}
	}

	var departments []models.Department
	if err := s.db.WithContext(ctx).Order("id").Find(&departments).Error; err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}

	if cached {
		if err := s.cache.Store(ctx, generation, departments); err != nil {
			s.logger.WarnContext(ctx, "department cache write failed", "error", err)
		}
	}

	return tree.New(departments), nil
}

func (s *DepartmentService) IsDescendant(ctx context.Context, ancestorID, departmentID uint) (bool, error) {
	snapshot, err := s.Tree(ctx)
	if err != nil {
		return false, err
	}
	return snapshot.IsDescendant(ancestorID, departmentID), nil
}

func (s *DepartmentService) ChildrenOf(ctx context.Context, departmentID uint, activeOnly bool) ([]DepartmentDTO, error) {
	snapshot, err := s.existing(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return departmentsToDTO(snapshot.ChildrenOf(departmentID, activeOnly)), nil
}

func (s *DepartmentService) DescendantsOf(ctx context.Context, departmentID uint, activeOnly bool) ([]DepartmentDTO, error) {
	snapshot, err := s.existing(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return departmentsToDTO(snapshot.DescendantsOf(departmentID, activeOnly)), nil
}

func (s *DepartmentService) ParentChain(ctx context.Context, departmentID uint) ([]DepartmentDTO, error) {
	snapshot, err := s.existing(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return departmentsToDTO(snapshot.ParentChain(departmentID)), nil
}

func (s *DepartmentService) existing(ctx context.Context, departmentID uint) (*tree.Tree, error) {
	snapshot, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}
	if !snapshot.Contains(departmentID) {
		return nil, apperror.Newf(apperror.CodeNotFound, "department %d not found", departmentID)
	}
	return snapshot, nil
}

func (s *DepartmentService) recomputeLevels(tx *gorm.DB, snapshot *tree.Tree, rootID uint) error {
	subtree := append([]models.Department{}, snapshot.DescendantsOf(rootID, false)...)
	if root, ok := snapshot.Get(rootID); ok {
		subtree = append(subtree, root)
	}

	for _, department := range subtree {
		level := snapshot.DepthOf(department.ID)
		if level == department.Level {
			continue
		}
		if err := tx.Model(&models.Department{}).
			Where("id = ?", department.ID).
			Update("level", level).Error; err != nil {
			return fmt.Errorf("update department level: %w", err)
		}
	}
	return nil
}

func (s *DepartmentService) buildTree(ctx context.Context, department models.Department, depth int, includeAssignments bool) (DepartmentTree, error) {
	result := DepartmentTree{
		Department: departmentToDTO(department),
		Children:   []DepartmentTree{},
	}

	if includeAssignments {
		var assignments []models.Assignment
		if err := s.db.WithContext(ctx).
			Where("department_id = ? AND state = ?", department.ID, models.StateActive).
			Order("id ASC").
			Find(&assignments).Error; err != nil {
			return DepartmentTree{}, fmt.Errorf("load assignments: %w", err)
		}

		now := s.clock()
		assignmentsDTO := make([]AssignmentDTO, 0, len(assignments))
		for _, assignment := range assignments {
			if assignment.IsActive(now) {
				assignmentsDTO = append(assignmentsDTO, assignmentToDTO(assignment))
			}
		}
		result.Assignments = &assignmentsDTO
	}

	if depth == 0 {
		return result, nil
	}

	var children []models.Department
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", department.ID).
		Order("name ASC").
		Find(&children).Error; err != nil {
		return DepartmentTree{}, fmt.Errorf("load child departments: %w", err)
	}

	for _, child := range children {
		childTree, err := s.buildTree(ctx, child, depth-1, includeAssignments)
		if err != nil {
			return DepartmentTree{}, err
		}
		result.Children = append(result.Children, childTree)
	}

	return result, nil
}

func (s *DepartmentService) siblingNameExists(ctx context.Context, tx *gorm.DB, parentID *uint, name string, excludeID *uint) (bool, error) {
	query := tx.WithContext(ctx).Model(&models.Department{}).Where("LOWER(name) = LOWER(?)", name)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check sibling uniqueness: %w", err)
	}
	return count > 0, nil
}

func (s *DepartmentService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "department cache invalidation failed", "error", err)
	}
}

func departmentToDTO(department models.Department) DepartmentDTO {
	return DepartmentDTO{
		ID:        department.ID,
		Name:      department.Name,
		Type:      department.Type,
		ParentID:  department.ParentID,
		Level:     department.Level,
		IsActive:  department.IsActive,
		CreatedAt: department.CreatedAt,
	}
}

func departmentsToDTO(departments []models.Department) []DepartmentDTO {
	result := make([]DepartmentDTO, 0, len(departments))
	for _, department := range departments {
		result = append(result, departmentToDTO(department))
	}
	return result
}

func assignmentToDTO(assignment models.Assignment) AssignmentDTO {
	var endDate *string
	if assignment.EndDate != nil {
		formatted := assignment.EndDate.Format("2006-01-02")
		endDate = &formatted
	}

	return AssignmentDTO{
		ID:              assignment.ID,
		UserID:          assignment.UserID,
		DepartmentID:    assignment.DepartmentID,
		RoleID:          assignment.RoleID,
		Kind:            assignment.Kind,
		Type:            assignment.Type,
		IsPrimary:       assignment.IsPrimary,
		StartDate:       assignment.StartDate.Format("2006-01-02"),
		EndDate:         endDate,
		WorkloadPercent: assignment.WorkloadPercent,
	}
}
