package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// AssignmentStatusDraft marks an assignment hidden from students.
	AssignmentStatusDraft = "draft"
	// AssignmentStatusPublished marks an assignment visible to its target audience.
	AssignmentStatusPublished = "published"
)

// Assignment represents a coursework definition owned by a faculty member.
type Assignment struct {
	ID                    string                      `gorm:"primaryKey;size:36" json:"id"`
	Title                 string                      `gorm:"size:255;not null" json:"title"`
	Description           string                      `gorm:"type:text" json:"description"`
	Instructions          string                      `gorm:"type:text" json:"instructions"`
	AssignmentType        string                      `gorm:"size:32" json:"assignment_type"`
	AllowedFileTypes      datatypes.JSONSlice[string] `gorm:"type:json" json:"allowed_file_types"`
	WordLimit             *int                        `json:"word_limit"`
	MaxMarks              float64                     `gorm:"not null" json:"max_marks"`
	StartDate             *time.Time                  `json:"start_date"`
	DueDate               *time.Time                  `gorm:"index" json:"due_date"`
	Visibility            bool                        `gorm:"not null;default:false" json:"visibility"`
	AllowLateSubmission   bool                        `gorm:"not null;default:false" json:"allow_late_submission"`
	AllowResubmission     bool                        `gorm:"not null;default:false" json:"allow_resubmission"`
	EnablePlagiarismCheck bool                        `gorm:"not null;default:false" json:"enable_plagiarism_check"`
	AllowGroupSubmission  bool                        `gorm:"not null;default:false" json:"allow_group_submission"`
	Status                string                      `gorm:"size:16;not null;default:draft" json:"status"`
	ClosedAt              *time.Time                  `json:"closed_at"`
	FacultyID             string                      `gorm:"size:36;index;not null" json:"faculty_id"`
	FacultyDepartment     string                      `gorm:"size:128;index;not null" json:"faculty_department"`
	ClassID               string                      `gorm:"size:64;index" json:"class_id"`
	TargetYears           datatypes.JSONSlice[int]    `gorm:"type:json" json:"target_years"`
	CreatedAt             time.Time                   `json:"created_at"`
	UpdatedAt             time.Time                   `json:"updated_at"`
	DeletedAt             gorm.DeletedAt              `gorm:"index" json:"-"`
	Resources             []AssignmentResource        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"resources,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// SyncStatus derives the publish status from the visibility flag.
func (a *Assignment) SyncStatus() {
	if a.Visibility {
		a.Status = AssignmentStatusPublished
		return
	}
	a.Status = AssignmentStatusDraft
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return a.DueDate != nil && reference.After(*a.DueDate)
}

// LateWindowOpen reports whether late submissions are currently accepted.
func (a Assignment) LateWindowOpen() bool {
	return a.AllowLateSubmission && a.ClosedAt == nil
}

// Targets reports whether a student of the given department and year is in the audience.
func (a Assignment) Targets(department string, year int) bool {
	return a.FacultyDepartment == department && slices.Contains([]int(a.TargetYears), year)
}

// AssignmentResource is a reference file attached to an assignment by its author.
type AssignmentResource struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string    `gorm:"size:36;index;not null" json:"assignment_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	FileType     string    `gorm:"size:64" json:"file_type"`
	FileURL      string    `gorm:"size:512;not null" json:"file_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (r *AssignmentResource) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
