package service

import (
	"time"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type CreateDepartmentInput struct {
	Name     string
	Type     models.DepartmentType `validate:"department_type"`
	ParentID *uint
	ActorID  uint `validate:"required"`
}

type UpdateDepartmentInput struct {
	Name     *string
	Type     *models.DepartmentType `validate:"omitempty,department_type"`
	IsActive *bool
	ActorID  uint `validate:"required"`
}

type GetDepartmentOptions struct {
	Depth              int
	IncludeAssignments bool
}

type DepartmentDTO struct {
	ID        uint                  `json:"id"`
	Name      string                `json:"name"`
	Type      models.DepartmentType `json:"department_type"`
	ParentID  *uint                 `json:"parent_id"`
	Level     int                   `json:"level"`
	IsActive  bool                  `json:"is_active"`
	CreatedAt time.Time             `json:"created_at"`
}

type AssignmentDTO struct {
	ID              uint                  `json:"id"`
	UserID          uint                  `json:"user_id"`
	DepartmentID    uint                  `json:"department_id"`
	RoleID          uint                  `json:"role_id"`
	Kind            models.AssignmentKind `json:"kind"`
	Type            models.AssignmentType `json:"assignment_type"`
	IsPrimary       bool                  `json:"is_primary"`
	StartDate       string                `json:"start_date"`
	EndDate         *string               `json:"end_date,omitempty"`
	WorkloadPercent int                   `json:"workload_percent"`
}

type DepartmentTree struct {
	Department  DepartmentDTO    `json:"department"`
	Assignments *[]AssignmentDTO `json:"assignments,omitempty"`
	Children    []DepartmentTree `json:"children"`
}

// GrantSettings is the part of a grant shared by every item of a bulk or
// template request.
type GrantSettings struct {
	AccessType      models.AccessType `validate:"access_type"`
	Scope           models.Scope      `validate:"scope"`
	InheritChildren bool
	Restrictions    map[string]any
	Description     string `validate:"max=1000"`
	ExpiresAt       *time.Time
}

type CreateGrantInput struct {
	UserID       uint `validate:"required"`
	DepartmentID *uint
	Settings     GrantSettings
	GrantedBy    uint `validate:"required"`
}

// BulkGrantInput expands to UserIDs × DepartmentIDs grants. An empty
// DepartmentIDs means one global grant per user.
type BulkGrantInput struct {
	UserIDs       []uint `validate:"required,min=1,dive,required"`
	DepartmentIDs []uint `validate:"dive,required"`
	Settings      GrantSettings
	GrantedBy     uint `validate:"required"`
}

type CreateTemplateInput struct {
	Name               string
	Description        string            `validate:"max=1000"`
	AccessType         models.AccessType `validate:"access_type"`
	Scope              models.Scope      `validate:"scope"`
	InheritChildren    bool
	Restrictions       map[string]any
	ForRoles           []string                `validate:"dive,oneof=admin staff student"`
	ForDepartmentTypes []models.DepartmentType `validate:"dive,department_type"`
	CreatedBy          uint                    `validate:"required"`
}

// TemplateOverrides replaces template settings field by field. Restrictions
// are merged over the template's, key by key.
type TemplateOverrides struct {
	AccessType      *models.AccessType `validate:"omitempty,access_type"`
	Scope           *models.Scope      `validate:"omitempty,scope"`
	InheritChildren *bool
	Restrictions    map[string]any
	Description     *string
	ExpiresAt       *time.Time
}

type ApplyTemplateInput struct {
	TemplateID    uint   `validate:"required"`
	UserIDs       []uint `validate:"required,min=1,dive,required"`
	DepartmentIDs []uint `validate:"dive,required"`
	Overrides     TemplateOverrides
	GrantedBy     uint `validate:"required"`
}

type BatchResult struct {
	BatchID    string   `json:"batch_id"`
	Created    int      `json:"created"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
	CreatedIDs []uint   `json:"created_ids"`
}

func (r *BatchResult) fail(message string) {
	r.Failed++
	r.Errors = append(r.Errors, message)
}

func (r *BatchResult) ok(id uint) {
	r.Created++
	r.CreatedIDs = append(r.CreatedIDs, id)
}

type CreateAssignmentInput struct {
	UserID          uint                  `validate:"required"`
	DepartmentID    uint                  `validate:"required"`
	RoleID          uint                  `validate:"required"`
	Kind            models.AssignmentKind `validate:"omitempty,assignment_kind"`
	Type            models.AssignmentType `validate:"assignment_type"`
	IsPrimary       bool
	StartDate       time.Time `validate:"required"`
	EndDate         *time.Time
	WorkloadPercent int  `validate:"omitempty,gt=0,lte=100"`
	AssignedBy      uint `validate:"required"`
}

type UpdateAssignmentInput struct {
	RoleID          *uint                  `validate:"omitempty,gt=0"`
	Type            *models.AssignmentType `validate:"omitempty,assignment_type"`
	StartDate       *time.Time
	EndDate         *time.Time
	ClearEndDate    bool
	WorkloadPercent *int `validate:"omitempty,gt=0,lte=100"`
	ActorID         uint `validate:"required"`
}

// BulkAssignmentInput places every user into one department with one role.
type BulkAssignmentInput struct {
	UserIDs         []uint                `validate:"required,min=1,dive,required"`
	DepartmentID    uint                  `validate:"required"`
	RoleID          uint                  `validate:"required"`
	Kind            models.AssignmentKind `validate:"omitempty,assignment_kind"`
	Type            models.AssignmentType `validate:"assignment_type"`
	StartDate       time.Time             `validate:"required"`
	EndDate         *time.Time
	WorkloadPercent int  `validate:"omitempty,gt=0,lte=100"`
	AssignedBy      uint `validate:"required"`
}

type CreateUserInput struct {
	FullName string
	Email    string `validate:"required,email,max=254"`
	Role     string `validate:"oneof=admin staff student"`
}

type ListAssignmentsFilter struct {
	UserID       *uint
	DepartmentID *uint
	ActiveOnly   bool
}

type CreateRoleInput struct {
	Name        string
	Description string `validate:"max=1000"`
}
