package dto

import (
	"time"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// SubmissionFileRequest describes an already uploaded file attached to a submission.
type SubmissionFileRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	FileType string `json:"file_type" validate:"omitempty,max=64"`
	FileURL  string `json:"file_url" validate:"required,url"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
}

// SubmitRequest carries a submission or draft. ExistingSubmissionID selects in-place resubmission.
type SubmitRequest struct {
	AssignmentID         string                  `json:"assignment_id" validate:"required"`
	StudentID            string                  `json:"student_id" validate:"required"`
	SubmissionType       string                  `json:"submission_type" validate:"required,oneof=text file"`
	Content              *string                 `json:"content" validate:"omitempty,max=200000"`
	Files                []SubmissionFileRequest `json:"files" validate:"omitempty,max=20,dive"`
	ExistingSubmissionID *string                 `json:"existing_submission_id"`
}

// SubmissionListFilter describes query string filters for student submission listings.
type SubmissionListFilter struct {
	AssignmentID string `query:"assignment_id"`
}

// SubmissionFileResponse serializes a submission file.
type SubmissionFileResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
}

// PlagiarismResponse exposes the polled plagiarism fields of a submission.
type PlagiarismResponse struct {
	SubmissionID string     `json:"submission_id"`
	Status       *string    `json:"status"`
	Score        *float64   `json:"score"`
	ReportURL    *string    `json:"report_url"`
	OCRUsed      bool       `json:"ocr_used"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID             string                   `json:"id"`
	AssignmentID   string                   `json:"assignment_id"`
	StudentID      string                   `json:"student_id"`
	SubmissionType string                   `json:"submission_type"`
	Content        *string                  `json:"content"`
	Status         string                   `json:"status"`
	SubmittedAt    *time.Time               `json:"submitted_at"`
	Grade          *float64                 `json:"grade"`
	Feedback       *string                  `json:"feedback"`
	GradedAt       *time.Time               `json:"graded_at"`
	Plagiarism     PlagiarismResponse       `json:"plagiarism"`
	Files          []SubmissionFileResponse `json:"files"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// NewPlagiarismResponse extracts plagiarism fields from a submission.
func NewPlagiarismResponse(model models.Submission) PlagiarismResponse {
	return PlagiarismResponse{
		SubmissionID: model.ID,
		Status:       model.PlagiarismStatus,
		Score:        model.PlagiarismScore,
		ReportURL:    model.PlagiarismReportURL,
		OCRUsed:      model.OCRUsed,
		ProcessedAt:  model.ProcessedAt,
	}
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	files := make([]SubmissionFileResponse, 0, len(model.Files))
	for _, file := range model.Files {
		files = append(files, SubmissionFileResponse{
			ID:       file.ID,
			Name:     file.Name,
			FileType: file.FileType,
			FileURL:  file.FileURL,
			FileSize: file.FileSize,
		})
	}

	return SubmissionResponse{
		ID:             model.ID,
		AssignmentID:   model.AssignmentID,
		StudentID:      model.StudentID,
		SubmissionType: model.SubmissionType,
		Content:        model.Content,
		Status:         model.Status,
		SubmittedAt:    model.SubmittedAt,
		Grade:          model.Grade,
		Feedback:       model.Feedback,
		GradedAt:       model.GradedAt,
		Plagiarism:     NewPlagiarismResponse(model),
		Files:          files,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts a slice of submissions.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewSubmissionResponse(item))
	}
	return responses
}

// GradeRequest records a grade and feedback on a submission.
type GradeRequest struct {
	Grade    *float64 `json:"grade" validate:"required"`
	Feedback string   `json:"feedback" validate:"omitempty,max=10000"`
}

// ReturnRequest sends a submission back to the student for another attempt.
type ReturnRequest struct {
	Feedback string `json:"feedback" validate:"required,min=3,max=10000"`
}
