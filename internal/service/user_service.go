package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/sanumxxx/melsu-portal-sub000/internal/access"
	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

var (
	_ access.RoleProvider     = (*UserService)(nil)
	_ access.GrantReader      = (*GrantService)(nil)
	_ access.AssignmentReader = (*AssignmentService)(nil)
	_ access.TreeProvider     = (*DepartmentService)(nil)
)

type UserService struct {
	base
}

func NewUserService(db *gorm.DB, opts Options) *UserService {
	return &UserService{base: newBase(db, opts.withDefaults())}
}

func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (models.User, error) {
	if input.Role == "" {
		input.Role = models.SystemRoleStudent
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	fullName, err := normalizeRequiredString(input.FullName, "full_name")
	if err != nil {
		return models.User{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return models.User{}, err
	}

	user := models.User{
		FullName: fullName,
		Email:    input.Email,
		Role:     input.Role,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.User{}, mapDatabaseError(err)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uint) (models.User, error) {
	return s.ensureUserExists(ctx, s.db, id)
}

// SetSystemRole changes the user's system role. Admins resolve every
// request through the override tier, so this is audited like a grant.
func (s *UserService) SetSystemRole(ctx context.Context, userID uint, role string, actorID uint) (models.User, error) {
	switch role {
	case models.SystemRoleAdmin, models.SystemRoleStaff, models.SystemRoleStudent:
	default:
		return models.User{}, apperror.Newf(apperror.CodeValidation, "unknown system role %q", role)
	}

	before, err := s.ensureUserExists(ctx, s.db, userID)
	if err != nil {
		return models.User{}, err
	}
	if before.Role == role {
		return before, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("role", role).Error; err != nil {
		return models.User{}, mapDatabaseError(err)
	}
	after := before
	after.Role = role

	s.record(ctx, AuditEvent{
		ActorID:     actorID,
		Action:      "user_role_change",
		Resource:    "users",
		ResourceID:  userID,
		Before:      before,
		After:       after,
		Description: fmt.Sprintf("%s -> %s", before.Role, role),
	})
	return after, nil
}

func (s *UserService) SetActive(ctx context.Context, userID uint, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if result.Error != nil {
		return mapDatabaseError(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.Newf(apperror.CodeNotFound, "user %d not found", userID)
	}
	return nil
}

// HasGlobalRole reports whether an active user holds the system role.
// Unknown users simply do not.
func (s *UserService) HasGlobalRole(ctx context.Context, userID uint, role string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND role = ? AND is_active = ?", userID, role, true).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user role: %w", err)
	}
	return count > 0, nil
}

type RoleService struct {
	base
}

func NewRoleService(db *gorm.DB, opts Options) *RoleService {
	return &RoleService{base: newBase(db, opts.withDefaults())}
}

func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (models.Role, error) {
	name, err := normalizeRequiredString(input.Name, "name")
	if err != nil {
		return models.Role{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return models.Role{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Role{}).
		Where("LOWER(name) = LOWER(?)", name).
		Count(&count).Error; err != nil {
		return models.Role{}, fmt.Errorf("check role name: %w", err)
	}
	if count > 0 {
		return models.Role{}, apperror.Newf(apperror.CodeConflict, "role %q already exists", name)
	}

	role := models.Role{Name: name, Description: strings.TrimSpace(input.Description)}
	if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
		return models.Role{}, mapDatabaseError(err)
	}
	return role, nil
}

func (s *RoleService) FindRole(ctx context.Context, name string) (models.Role, error) {
	var role models.Role
	if err := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name)).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Role{}, apperror.Newf(apperror.CodeNotFound, "role %q not found", name)
		}
		return models.Role{}, fmt.Errorf("load role: %w", err)
	}
	return role, nil
}

func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}
