package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
	AccessAdmin AccessType = "admin"
)

// Rank orders access types: read < write < admin. Unknown values rank 0 and
// therefore never satisfy anything.
func (a AccessType) Rank() int {
	switch a {
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	case AccessAdmin:
		return 3
	}
	return 0
}

func (a AccessType) Valid() bool {
	return a.Rank() > 0
}

func (a AccessType) Satisfies(required AccessType) bool {
	return a.Valid() && a.Rank() >= required.Rank()
}

type Scope string

const (
	ScopeStudents    Scope = "students"
	ScopeGroups      Scope = "groups"
	ScopeDepartments Scope = "departments"
	ScopeAll         Scope = "all"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeStudents, ScopeGroups, ScopeDepartments, ScopeAll:
		return true
	}
	return false
}

func (s Scope) Covers(requested Scope) bool {
	if !s.Valid() || !requested.Valid() {
		return false
	}
	return s == ScopeAll || s == requested
}

// Roster reports whether the scope is about student or group rosters.
func (s Scope) Roster() bool {
	return s == ScopeStudents || s == ScopeGroups
}

// RecordState is the lifecycle tag shared by grants and assignments. Rows are
// never hard-deleted.
type RecordState string

const (
	StateActive  RecordState = "active"
	StateRevoked RecordState = "revoked"
)

type AccessGrant struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	UserID          uint              `gorm:"not null;index:idx_access_grants_lookup,priority:1" json:"user_id"`
	DepartmentID    *uint             `gorm:"index:idx_access_grants_lookup,priority:2" json:"department_id"`
	AccessType      AccessType        `gorm:"type:varchar(10);not null" json:"access_type"`
	Scope           Scope             `gorm:"type:varchar(20);not null;index:idx_access_grants_lookup,priority:3" json:"scope"`
	InheritChildren bool              `gorm:"not null;default:false" json:"inherit_children"`
	Restrictions    datatypes.JSONMap `json:"restrictions,omitempty"`
	Description     string            `gorm:"type:text" json:"description"`
	GrantedBy       uint              `gorm:"not null" json:"granted_by"`
	GrantedAt       time.Time         `gorm:"not null" json:"granted_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	State           RecordState       `gorm:"type:varchar(10);not null;default:'active';index" json:"state"`
	RevokedAt       *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy       *uint             `json:"revoked_by,omitempty"`
	TemplateID      *uint             `gorm:"index" json:"template_id,omitempty"`
}

// NormalizeRestrictions rewrites restrictions into the shape they have after a
// database round trip: numbers become json.Number and nested values become
// map[string]any or []any. Empty input yields nil.
func NormalizeRestrictions(restrictions map[string]any) (datatypes.JSONMap, error) {
	if len(restrictions) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(restrictions)
	if err != nil {
		return nil, fmt.Errorf("encode restrictions: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var normalized map[string]any
	if err := decoder.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("decode restrictions: %w", err)
	}
	return datatypes.JSONMap(normalized), nil
}

func (g AccessGrant) IsGlobal() bool {
	return g.DepartmentID == nil
}

func (g AccessGrant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

func (g AccessGrant) IsValid(now time.Time) bool {
	return g.State == StateActive && !g.IsExpired(now)
}

func (g AccessGrant) String() string {
	target := "global"
	if g.DepartmentID != nil {
		target = fmt.Sprintf("department %d", *g.DepartmentID)
	}
	return fmt.Sprintf("grant %d (user %d, %s, %s/%s)", g.ID, g.UserID, target, g.Scope, g.AccessType)
}

type AccessGrantTemplate struct {
	ID                 uint                                `gorm:"primaryKey" json:"id"`
	Name               string                              `gorm:"type:varchar(200);uniqueIndex;not null" json:"name"`
	Description        string                              `gorm:"type:text" json:"description"`
	AccessType         AccessType                          `gorm:"type:varchar(10);not null" json:"access_type"`
	Scope              Scope                               `gorm:"type:varchar(20);not null" json:"scope"`
	InheritChildren    bool                                `gorm:"not null;default:false" json:"inherit_children"`
	Restrictions       datatypes.JSONMap                   `json:"restrictions,omitempty"`
	ForRoles           datatypes.JSONSlice[string]         `json:"for_roles,omitempty"`
	ForDepartmentTypes datatypes.JSONSlice[DepartmentType] `json:"for_department_types,omitempty"`
	IsActive           bool                                `gorm:"not null" json:"is_active"`
	CreatedBy          uint                                `gorm:"not null" json:"created_by"`
	CreatedAt          time.Time                           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (t AccessGrantTemplate) AllowsRole(role string) bool {
	if len(t.ForRoles) == 0 {
		return true
	}
	for _, r := range t.ForRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (t AccessGrantTemplate) AllowsDepartmentType(kind DepartmentType) bool {
	if len(t.ForDepartmentTypes) == 0 {
		return true
	}
	for _, k := range t.ForDepartmentTypes {
		if k == kind {
			return true
		}
	}
	return false
}
