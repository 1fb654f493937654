package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type GrantService struct {
	base
}

func NewGrantService(db *gorm.DB, opts Options) *GrantService {
	return &GrantService{base: newBase(db, opts.withDefaults())}
}

func (s *GrantService) CreateGrant(ctx context.Context, input CreateGrantInput) (models.AccessGrant, error) {
	if err := s.validate.Struct(input); err != nil {
		return models.AccessGrant{}, err
	}
	if err := s.checkSettings(input.Settings); err != nil {
		return models.AccessGrant{}, err
	}

	grant, err := s.createOne(ctx, input.UserID, input.DepartmentID, input.Settings, input.GrantedBy, nil)
	if err != nil {
		return models.AccessGrant{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:     input.GrantedBy,
		Action:      "access_grant_create",
		Resource:    "access_grants",
		ResourceID:  grant.ID,
		After:       grant,
		Description: grant.String(),
	})
	return grant, nil
}

// BulkCreateGrants creates one grant per (user, department) pair. Items fail
// independently: duplicates and unknown ids are reported in the result while
// every other item is committed.
func (s *GrantService) BulkCreateGrants(ctx context.Context, input BulkGrantInput) (BatchResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return BatchResult{}, err
	}
	if err := s.checkSettings(input.Settings); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: uuid.NewString()}
	targets := departmentTargets(input.DepartmentIDs)

	for _, userID := range input.UserIDs {
		for _, departmentID := range targets {
			grant, err := s.createOne(ctx, userID, departmentID, input.Settings, input.GrantedBy, nil)
			if err != nil {
				if !isItemError(err) {
					return result, err
				}
				result.fail(itemError(itemLabel(userID, departmentID), err))
				continue
			}
			result.ok(grant.ID)
			s.record(ctx, AuditEvent{
				ActorID:     input.GrantedBy,
				Action:      "access_grant_create",
				Resource:    "access_grants",
				ResourceID:  grant.ID,
				After:       grant,
				Description: grant.String(),
				BatchID:     result.BatchID,
			})
		}
	}

	s.logger.InfoContext(ctx, "bulk grant finished",
		"batch_id", result.BatchID,
		"created", result.Created,
		"failed", result.Failed,
	)
	return result, nil
}

// RevokeGrant flips the grant to revoked. Rows are kept for audit.
func (s *GrantService) RevokeGrant(ctx context.Context, grantID uint, revokedBy uint) (models.AccessGrant, error) {
	if revokedBy == 0 {
		return models.AccessGrant{}, apperror.New(apperror.CodeValidation, "revoked_by is required")
	}

	var before, after models.AccessGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&before, grantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.Newf(apperror.CodeNotFound, "access grant %d not found", grantID)
			}
			return fmt.Errorf("load access grant: %w", err)
		}
		if before.State == models.StateRevoked {
			return apperror.Newf(apperror.CodeConflict, "access grant %d is already revoked", grantID)
		}

		now := s.clock()
		if err := tx.Model(&models.AccessGrant{}).
			Where("id = ?", grantID).
			Updates(map[string]interface{}{
				"state":      models.StateRevoked,
				"revoked_at": now,
				"revoked_by": revokedBy,
			}).Error; err != nil {
			return mapDatabaseError(err)
		}

		return tx.First(&after, grantID).Error
	})
	if err != nil {
		return models.AccessGrant{}, err
	}

	s.record(ctx, AuditEvent{
		ActorID:     revokedBy,
		Action:      "access_grant_revoke",
		Resource:    "access_grants",
		ResourceID:  grantID,
		Before:      before,
		After:       after,
		Description: before.String(),
	})
	return after, nil
}

// GrantsFor returns the user's non-revoked grants. Expiry is left to the
// caller, which compares against its own notion of now.
func (s *GrantService) GrantsFor(ctx context.Context, userID uint) ([]models.AccessGrant, error) {
	var grants []models.AccessGrant
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, models.StateActive).
		Order("id ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("load access grants: %w", err)
	}
	return grants, nil
}

func (s *GrantService) ListGrants(ctx context.Context, userID uint, includeInvalid bool) ([]models.AccessGrant, error) {
	var grants []models.AccessGrant
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("load access grants: %w", err)
	}
	if includeInvalid {
		return grants, nil
	}

	now := s.clock()
	valid := grants[:0]
	for _, grant := range grants {
		if grant.IsValid(now) {
			valid = append(valid, grant)
		}
	}
	return valid, nil
}

func (s *GrantService) CreateTemplate(ctx context.Context, input CreateTemplateInput) (models.AccessGrantTemplate, error) {
	name, err := normalizeRequiredString(input.Name, "name")
	if err != nil {
		return models.AccessGrantTemplate{}, err
	}
	if err := s.validate.Struct(input); err != nil {
		return models.AccessGrantTemplate{}, err
	}

	restrictions, err := restrictionsMap(input.Restrictions)
	if err != nil {
		return models.AccessGrantTemplate{}, err
	}

	template := models.AccessGrantTemplate{
		Name:               name,
		Description:        strings.TrimSpace(input.Description),
		AccessType:         input.AccessType,
		Scope:              input.Scope,
		InheritChildren:    input.InheritChildren,
		Restrictions:       restrictions,
		ForRoles:           datatypes.JSONSlice[string](input.ForRoles),
		ForDepartmentTypes: datatypes.JSONSlice[models.DepartmentType](input.ForDepartmentTypes),
		IsActive:           true,
		CreatedBy:          input.CreatedBy,
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AccessGrantTemplate{}).
		Where("LOWER(name) = LOWER(?)", name).
		Count(&count).Error; err != nil {
		return models.AccessGrantTemplate{}, fmt.Errorf("check template name: %w", err)
	}
	if count > 0 {
		return models.AccessGrantTemplate{}, apperror.Newf(apperror.CodeConflict, "template %q already exists", name)
	}

	if err := s.db.WithContext(ctx).Create(&template).Error; err != nil {
		return models.AccessGrantTemplate{}, mapDatabaseError(err)
	}

	s.record(ctx, AuditEvent{
		ActorID:    input.CreatedBy,
		Action:     "access_template_create",
		Resource:   "access_grant_templates",
		ResourceID: template.ID,
		After:      template,
	})
	return template, nil
}

func (s *GrantService) GetTemplate(ctx context.Context, templateID uint) (models.AccessGrantTemplate, error) {
	var template models.AccessGrantTemplate
	if err := s.db.WithContext(ctx).First(&template, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AccessGrantTemplate{}, apperror.Newf(apperror.CodeNotFound, "template %d not found", templateID)
		}
		return models.AccessGrantTemplate{}, fmt.Errorf("load template: %w", err)
	}
	return template, nil
}

func (s *GrantService) ListTemplates(ctx context.Context, activeOnly bool) ([]models.AccessGrantTemplate, error) {
	query := s.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var templates []models.AccessGrantTemplate
	if err := query.Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return templates, nil
}

func (s *GrantService) DeactivateTemplate(ctx context.Context, templateID uint, actorID uint) error {
	template, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if !template.IsActive {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&models.AccessGrantTemplate{}).
		Where("id = ?", templateID).
		Update("is_active", false).Error; err != nil {
		return mapDatabaseError(err)
	}

	s.record(ctx, AuditEvent{
		ActorID:    actorID,
		Action:     "access_template_deactivate",
		Resource:   "access_grant_templates",
		ResourceID: templateID,
		Before:     template,
	})
	return nil
}

// ApplyTemplate stamps the template out for every (user, department) pair
// with the same partial-failure contract as BulkCreateGrants. Re-applying a
// template to a pair that already holds an equivalent valid grant reports a
// duplicate instead of creating a second row.
func (s *GrantService) ApplyTemplate(ctx context.Context, input ApplyTemplateInput) (BatchResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return BatchResult{}, err
	}

	template, err := s.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		return BatchResult{}, err
	}
	if !template.IsActive {
		return BatchResult{}, apperror.Newf(apperror.CodeValidation, "template %d is inactive", template.ID)
	}

	settings := templateSettings(template, input.Overrides)
	if err := s.checkSettings(settings); err != nil {
		return BatchResult{}, err
	}

	departments, err := s.departmentsByID(ctx, input.DepartmentIDs)
	if err != nil {
		return BatchResult{}, err
	}
	users, err := s.usersByID(ctx, input.UserIDs)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: uuid.NewString()}
	targets := departmentTargets(input.DepartmentIDs)

	for _, userID := range input.UserIDs {
		user, knownUser := users[userID]

		for _, departmentID := range targets {
			label := itemLabel(userID, departmentID)

			if !knownUser {
				result.fail(itemError(label, apperror.Newf(apperror.CodeNotFound, "user %d not found", userID)))
				continue
			}
			if !template.AllowsRole(user.Role) {
				result.fail(itemError(label, apperror.Newf(apperror.CodeValidation, "template %q does not apply to role %s", template.Name, user.Role)))
				continue
			}
			if departmentID != nil {
				department, ok := departments[*departmentID]
				if !ok {
					result.fail(itemError(label, apperror.Newf(apperror.CodeNotFound, "department %d not found", *departmentID)))
					continue
				}
				if !template.AllowsDepartmentType(department.Type) {
					result.fail(itemError(label, apperror.Newf(apperror.CodeValidation, "template %q does not apply to %s departments", template.Name, department.Type)))
					continue
				}
			}

			grant, err := s.createOne(ctx, userID, departmentID, settings, input.GrantedBy, &template.ID)
			if err != nil {
				if !isItemError(err) {
					return result, err
				}
				result.fail(itemError(label, err))
				continue
			}
			result.ok(grant.ID)
			s.record(ctx, AuditEvent{
				ActorID:     input.GrantedBy,
				Action:      "access_template_apply",
				Resource:    "access_grants",
				ResourceID:  grant.ID,
				After:       grant,
				Description: fmt.Sprintf("%s from template %q", grant, template.Name),
				BatchID:     result.BatchID,
			})
		}
	}

	s.logger.InfoContext(ctx, "template applied",
		"template_id", template.ID,
		"batch_id", result.BatchID,
		"created", result.Created,
		"failed", result.Failed,
	)
	return result, nil
}

// createOne is the atomic unit shared by single, bulk and template creation.
func (s *GrantService) createOne(ctx context.Context, userID uint, departmentID *uint, settings GrantSettings, grantedBy uint, templateID *uint) (models.AccessGrant, error) {
	now := s.clock()

	restrictions, err := restrictionsMap(settings.Restrictions)
	if err != nil {
		return models.AccessGrant{}, err
	}

	grant := models.AccessGrant{
		UserID:          userID,
		DepartmentID:    departmentID,
		AccessType:      settings.AccessType,
		Scope:           settings.Scope,
		InheritChildren: settings.InheritChildren,
		Restrictions:    restrictions,
		Description:     strings.TrimSpace(settings.Description),
		GrantedBy:       grantedBy,
		GrantedAt:       now,
		State:           models.StateActive,
		TemplateID:      templateID,
	}
	if settings.ExpiresAt != nil {
		expiresAt := settings.ExpiresAt.UTC()
		grant.ExpiresAt = &expiresAt
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureUserExists(ctx, tx, userID); err != nil {
			return err
		}
		if departmentID != nil {
			if _, err := s.loadDepartment(ctx, tx, *departmentID); err != nil {
				return err
			}
		}

		duplicate, err := s.findValidDuplicate(ctx, tx, userID, departmentID, settings.Scope, now)
		if err != nil {
			return err
		}
		if duplicate != nil {
			return apperror.Newf(apperror.CodeConflict, "duplicate grant: user %d already holds valid %s grant %d on %s",
				userID, settings.Scope, duplicate.ID, describeDepartment(departmentID))
		}

		if err := tx.Create(&grant).Error; err != nil {
			return mapDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return models.AccessGrant{}, err
	}
	return grant, nil
}

func (s *GrantService) findValidDuplicate(ctx context.Context, tx *gorm.DB, userID uint, departmentID *uint, scope models.Scope, now time.Time) (*models.AccessGrant, error) {
	query := tx.WithContext(ctx).Where("user_id = ? AND scope = ? AND state = ?", userID, scope, models.StateActive)
	if departmentID == nil {
		query = query.Where("department_id IS NULL")
	} else {
		query = query.Where("department_id = ?", *departmentID)
	}

	var existing []models.AccessGrant
	if err := query.Order("id ASC").Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("check duplicate grant: %w", err)
	}
	for i := range existing {
		if existing[i].IsValid(now) {
			return &existing[i], nil
		}
	}
	return nil, nil
}

func (s *GrantService) checkSettings(settings GrantSettings) error {
	if err := s.validate.Struct(settings); err != nil {
		return err
	}
	if settings.ExpiresAt != nil && !settings.ExpiresAt.After(s.clock()) {
		return apperror.New(apperror.CodeValidation, "expires_at must be in the future")
	}
	return nil
}

func (s *GrantService) departmentsByID(ctx context.Context, ids []uint) (map[uint]models.Department, error) {
	result := make(map[uint]models.Department, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var departments []models.Department
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&departments).Error; err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	for _, department := range departments {
		result[department.ID] = department
	}
	return result, nil
}

func (s *GrantService) usersByID(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	result := make(map[uint]models.User, len(users))
	for _, user := range users {
		result[user.ID] = user
	}
	return result, nil
}

func templateSettings(template models.AccessGrantTemplate, overrides TemplateOverrides) GrantSettings {
	settings := GrantSettings{
		AccessType:      template.AccessType,
		Scope:           template.Scope,
		InheritChildren: template.InheritChildren,
		Description:     template.Description,
		ExpiresAt:       overrides.ExpiresAt,
	}

	restrictions := make(map[string]any, len(template.Restrictions)+len(overrides.Restrictions))
	maps.Copy(restrictions, template.Restrictions)
	maps.Copy(restrictions, overrides.Restrictions)
	settings.Restrictions = restrictions

	if overrides.AccessType != nil {
		settings.AccessType = *overrides.AccessType
	}
	if overrides.Scope != nil {
		settings.Scope = *overrides.Scope
	}
	if overrides.InheritChildren != nil {
		settings.InheritChildren = *overrides.InheritChildren
	}
	if overrides.Description != nil {
		settings.Description = *overrides.Description
	}
	return settings
}

// departmentTargets maps an empty department list to a single global target.
func departmentTargets(ids []uint) []*uint {
	if len(ids) == 0 {
		return []*uint{nil}
	}

	targets := make([]*uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, &id)
	}
	return targets
}

// restrictionsMap stores restrictions in the form every read path returns,
// so a freshly created row matches the same row loaded later.
func restrictionsMap(restrictions map[string]any) (datatypes.JSONMap, error) {
	normalized, err := models.NormalizeRestrictions(restrictions)
	if err != nil {
		return nil, apperror.Newf(apperror.CodeValidation, "restrictions: %v", err)
	}
	return normalized, nil
}

func itemLabel(userID uint, departmentID *uint) string {
	return fmt.Sprintf("user %d, %s", userID, describeDepartment(departmentID))
}

// isItemError reports whether err belongs to one batch item rather than the
// whole batch.
func isItemError(err error) bool {
	switch apperror.GetCode(err) {
	case apperror.CodeValidation, apperror.CodeNotFound, apperror.CodeConflict:
		return true
	}
	return false
}
