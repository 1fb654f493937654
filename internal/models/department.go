package models

import "time"

type DepartmentType string

const (
	DepartmentTypeUniversity DepartmentType = "university"
	DepartmentTypeInstitute  DepartmentType = "institute"
	DepartmentTypeFaculty    DepartmentType = "faculty"
	DepartmentTypeDepartment DepartmentType = "department"
	DepartmentTypeChair      DepartmentType = "chair"
	DepartmentTypeLaboratory DepartmentType = "laboratory"
	DepartmentTypeGroup      DepartmentType = "group"
	DepartmentTypeOffice     DepartmentType = "office"
)

func (t DepartmentType) Valid() bool {
	switch t {
	case DepartmentTypeUniversity, DepartmentTypeInstitute, DepartmentTypeFaculty,
		DepartmentTypeDepartment, DepartmentTypeChair, DepartmentTypeLaboratory,
		DepartmentTypeGroup, DepartmentTypeOffice:
		return true
	}
	return false
}

type Department struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(200);not null" json:"name"`
	Type        DepartmentType `gorm:"type:varchar(30);not null;index" json:"department_type"`
	ParentID    *uint          `gorm:"index" json:"parent_id"`
	Parent      *Department    `gorm:"foreignKey:ParentID;references:ID" json:"-"`
	Children    []Department   `gorm:"foreignKey:ParentID;references:ID" json:"-"`
	Level       int            `gorm:"not null;default:0" json:"level"`
	IsActive    bool           `gorm:"not null" json:"is_active"`
	Assignments []Assignment   `gorm:"foreignKey:DepartmentID;references:ID" json:"-"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
