package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
	"github.com/sanumxxx/melsu-portal-sub000/internal/service"
)

var defaultRoles = []service.CreateRoleInput{
	{Name: "Rector", Description: "Head of the university"},
	{Name: "Director", Description: "Head of an institute"},
	{Name: "Dean", Description: "Head of a faculty"},
	{Name: "Dean office specialist"},
	{Name: "Head of chair"},
	{Name: "Lecturer"},
	{Name: "Curator", Description: "Supervises one or more student groups"},
	{Name: "Methodologist"},
}

func defaultTemplates(actorID uint) []service.CreateTemplateInput {
	staff := []string{models.SystemRoleStaff}
	return []service.CreateTemplateInput{
		{
			Name:               "Dean office read",
			Description:        "Read student rosters across the faculty",
			AccessType:         models.AccessRead,
			Scope:              models.ScopeStudents,
			InheritChildren:    true,
			ForRoles:           staff,
			ForDepartmentTypes: []models.DepartmentType{models.DepartmentTypeFaculty, models.DepartmentTypeInstitute},
			CreatedBy:          actorID,
		},
		{
			Name:               "Chair head write",
			Description:        "Manage groups of the chair",
			AccessType:         models.AccessWrite,
			Scope:              models.ScopeGroups,
			InheritChildren:    true,
			ForRoles:           staff,
			ForDepartmentTypes: []models.DepartmentType{models.DepartmentTypeChair, models.DepartmentTypeDepartment},
			CreatedBy:          actorID,
		},
		{
			Name:               "Group curator",
			Description:        "Manage one student group",
			AccessType:         models.AccessWrite,
			Scope:              models.ScopeStudents,
			ForRoles:           staff,
			ForDepartmentTypes: []models.DepartmentType{models.DepartmentTypeGroup},
			CreatedBy:          actorID,
		},
		{
			Name:        "University auditor",
			Description: "Read everything, apply without departments for a global grant",
			AccessType:  models.AccessRead,
			Scope:       models.ScopeAll,
			ForRoles:    staff,
			CreatedBy:   actorID,
		},
	}
}

// seedDefaults is safe to run repeatedly: rows that already exist are skipped.
func seedDefaults(ctx context.Context, logger *slog.Logger, roles *service.RoleService, grants *service.GrantService, actorID uint) error {
	var created, skipped int

	for _, input := range defaultRoles {
		_, err := roles.CreateRole(ctx, input)
		switch {
		case err == nil:
			created++
		case apperror.IsCode(err, apperror.CodeConflict):
			skipped++
		default:
			return fmt.Errorf("seed role %q: %w", input.Name, err)
		}
	}

	for _, input := range defaultTemplates(actorID) {
		_, err := grants.CreateTemplate(ctx, input)
		switch {
		case err == nil:
			created++
		case apperror.IsCode(err, apperror.CodeConflict):
			skipped++
		default:
			return fmt.Errorf("seed template %q: %w", input.Name, err)
		}
	}

	logger.Info("defaults seeded", "created", created, "skipped", skipped)
	return nil
}
