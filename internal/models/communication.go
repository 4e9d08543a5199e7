package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationTypeAssignment          = "assignment"
	NotificationTypeFeedbackAvailable   = "feedback_available"
	NotificationTypeResubmissionRequest = "resubmission_request"
	NotificationTypePlagiarismCompleted = "plagiarism_completed"
)

// Notification represents a message targeted to a specific user.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Title     string    `gorm:"size:255" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Type      string    `gorm:"size:64" json:"type"`
	Link      string    `gorm:"size:512" json:"link"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// AssignmentComment is a discussion entry on an assignment or one of its submissions.
type AssignmentComment struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string    `gorm:"size:36;index;not null" json:"assignment_id"`
	SubmissionID *string   `gorm:"size:36;index" json:"submission_id"`
	UserID       string    `gorm:"size:64;not null" json:"user_id"`
	UserType     string    `gorm:"size:16;not null" json:"user_type"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (c *AssignmentComment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
