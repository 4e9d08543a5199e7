package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlagiarismJobStatusSuperseded marks a job whose submission was replaced before the job finished.
const PlagiarismJobStatusSuperseded = "superseded"

// PlagiarismJob queues an asynchronous plagiarism check for a file submission.
type PlagiarismJob struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string     `gorm:"size:36;index;not null" json:"submission_id"`
	Vendor       string     `gorm:"size:64;not null" json:"vendor"`
	Status       string     `gorm:"size:16;index;not null" json:"status"`
	InputType    string     `gorm:"size:16;not null" json:"input_type"`
	FileURL      string     `gorm:"size:512" json:"file_url"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (j *PlagiarismJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}
