package models

import "time"

type AssignmentType string

const (
	AssignmentPermanent AssignmentType = "permanent"
	AssignmentTemporary AssignmentType = "temporary"
	AssignmentActing    AssignmentType = "acting"
)

func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentPermanent, AssignmentTemporary, AssignmentActing:
		return true
	}
	return false
}

// AssignmentKind tells which workflow created the placement. All kinds share
// one table and one set of validity rules.
type AssignmentKind string

const (
	KindOrganizational AssignmentKind = "organizational"
	KindCurator        AssignmentKind = "curator"
	KindStudentAccess  AssignmentKind = "student_access"
)

func (k AssignmentKind) Valid() bool {
	switch k {
	case KindOrganizational, KindCurator, KindStudentAccess:
		return true
	}
	return false
}

type Assignment struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserID          uint           `gorm:"not null;index;uniqueIndex:idx_assignments_single_primary,where:is_primary = true" json:"user_id"`
	DepartmentID    uint           `gorm:"not null;index" json:"department_id"`
	Department      Department     `gorm:"foreignKey:DepartmentID" json:"-"`
	RoleID          uint           `gorm:"not null;index" json:"role_id"`
	Role            Role           `gorm:"foreignKey:RoleID" json:"-"`
	Kind            AssignmentKind `gorm:"type:varchar(20);not null;default:'organizational'" json:"kind"`
	IsPrimary       bool           `gorm:"not null;default:false" json:"is_primary"`
	Type            AssignmentType `gorm:"type:varchar(20);not null" json:"assignment_type"`
	StartDate       time.Time      `gorm:"type:date;not null" json:"start_date"`
	EndDate         *time.Time     `gorm:"type:date" json:"end_date,omitempty"`
	WorkloadPercent int            `gorm:"not null" json:"workload_percent"`
	AssignedBy      uint           `gorm:"not null" json:"assigned_by"`
	State           RecordState    `gorm:"type:varchar(10);not null;default:'active';index" json:"state"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsActive compares calendar days only: an assignment ending today is still
// active for the whole of today. Today is the UTC day of now, whatever zone
// now carries.
func (a Assignment) IsActive(now time.Time) bool {
	if a.State != StateActive {
		return false
	}
	today := DateOf(now.UTC())
	if DateOf(a.StartDate).After(today) {
		return false
	}
	return a.EndDate == nil || !DateOf(*a.EndDate).Before(today)
}

// DateOf truncates t to midnight UTC of the calendar day t shows in its own
// zone. Instants should be converted with UTC first.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
