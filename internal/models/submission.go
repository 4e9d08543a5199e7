package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubmissionStatusDraft       = "draft"
	SubmissionStatusSubmitted   = "submitted"
	SubmissionStatusLate        = "late"
	SubmissionStatusResubmitted = "resubmitted"
	SubmissionStatusGraded      = "graded"
	SubmissionStatusReturned    = "returned"
)

const (
	SubmissionTypeText = "text"
	SubmissionTypeFile = "file"
)

const (
	PlagiarismStatusPending    = "pending"
	PlagiarismStatusProcessing = "processing"
	PlagiarismStatusCompleted  = "completed"
	PlagiarismStatusFailed     = "failed"
)

// Submission is the single, latest-wins record of a student's work for an assignment.
// Resubmissions overwrite it in place.
type Submission struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID        string           `gorm:"size:36;index;uniqueIndex:idx_submission_pair;not null" json:"assignment_id"`
	StudentID           string           `gorm:"size:36;index;uniqueIndex:idx_submission_pair;not null" json:"student_id"`
	SubmissionType      string           `gorm:"size:16;not null" json:"submission_type"`
	Content             *string          `gorm:"type:text" json:"content"`
	Status              string           `gorm:"size:16;index;not null" json:"status"`
	SubmittedAt         *time.Time       `json:"submitted_at"`
	Grade               *float64         `json:"grade"`
	Feedback            *string          `gorm:"type:text" json:"feedback"`
	GradedAt            *time.Time       `json:"graded_at"`
	PlagiarismScore     *float64         `json:"plagiarism_score"`
	PlagiarismReportURL *string          `gorm:"size:512" json:"plagiarism_report_url"`
	PlagiarismStatus    *string          `gorm:"size:16" json:"plagiarism_status"`
	OCRUsed             bool             `gorm:"not null;default:false" json:"ocr_used"`
	ProcessedAt         *time.Time       `json:"processed_at"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	Files               []SubmissionFile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsGraded reports whether the submission has a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// IsActive reports whether the submission has been handed in and not sent back.
func (s Submission) IsActive() bool {
	switch s.Status {
	case SubmissionStatusSubmitted, SubmissionStatusLate, SubmissionStatusResubmitted, SubmissionStatusGraded:
		return true
	default:
		return false
	}
}

// SubmissionFile is a stored file attached to a submission.
type SubmissionFile struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string    `gorm:"size:36;index;not null" json:"submission_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	FileType     string    `gorm:"size:128" json:"file_type"`
	FileURL      string    `gorm:"size:512;not null" json:"file_url"`
	FileSize     int64     `json:"file_size"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (f *SubmissionFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
