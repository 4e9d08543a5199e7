package dto

import (
	"time"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

const isoLayout = time.RFC3339

// AssignmentResourceRequest describes a reference file attached to an assignment.
type AssignmentResourceRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	FileType string `json:"file_type" validate:"omitempty,max=64"`
	FileURL  string `json:"file_url" validate:"required,url"`
}

// AssignmentCreateRequest describes the payload for creating a new assignment.
type AssignmentCreateRequest struct {
	Title                 string                      `json:"title" validate:"required,min=3,max=255"`
	Description           string                      `json:"description" validate:"omitempty,max=10000"`
	Instructions          string                      `json:"instructions" validate:"omitempty,max=10000"`
	AssignmentType        string                      `json:"assignment_type" validate:"omitempty,max=32"`
	AllowedFileTypes      []string                    `json:"allowed_file_types" validate:"omitempty,dive,required,max=16"`
	WordLimit             *int                        `json:"word_limit" validate:"omitempty,gt=0"`
	MaxMarks              float64                     `json:"max_marks" validate:"required,gt=0"`
	StartDate             *string                     `json:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	DueDate               *string                     `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Visibility            bool                        `json:"visibility"`
	AllowLateSubmission   bool                        `json:"allow_late_submission"`
	AllowResubmission     bool                        `json:"allow_resubmission"`
	EnablePlagiarismCheck bool                        `json:"enable_plagiarism_check"`
	AllowGroupSubmission  bool                        `json:"allow_group_submission"`
	FacultyID             string                      `json:"faculty_id" validate:"required"`
	ClassID               string                      `json:"class_id" validate:"omitempty,max=64"`
	TargetYears           []int                       `json:"target_years" validate:"omitempty,dive,gte=1,lte=10"`
	Resources             []AssignmentResourceRequest `json:"resources" validate:"omitempty,dive"`
}

// AssignmentUpdateRequest describes a partial update. Nil fields are left unchanged.
type AssignmentUpdateRequest struct {
	Title                 *string   `json:"title" validate:"omitempty,min=3,max=255"`
	Description           *string   `json:"description" validate:"omitempty,max=10000"`
	Instructions          *string   `json:"instructions" validate:"omitempty,max=10000"`
	AssignmentType        *string   `json:"assignment_type" validate:"omitempty,max=32"`
	AllowedFileTypes      *[]string `json:"allowed_file_types" validate:"omitempty,dive,required,max=16"`
	WordLimit             *int      `json:"word_limit" validate:"omitempty,gt=0"`
	MaxMarks              *float64  `json:"max_marks" validate:"omitempty,gt=0"`
	StartDate             *string   `json:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	DueDate               *string   `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Visibility            *bool     `json:"visibility"`
	AllowLateSubmission   *bool     `json:"allow_late_submission"`
	AllowResubmission     *bool     `json:"allow_resubmission"`
	EnablePlagiarismCheck *bool     `json:"enable_plagiarism_check"`
	AllowGroupSubmission  *bool     `json:"allow_group_submission"`
	ClassID               *string   `json:"class_id" validate:"omitempty,max=64"`
	TargetYears           *[]int    `json:"target_years" validate:"omitempty,dive,gte=1,lte=10"`
}

// AssignmentListFilter describes query string filters for assignment listings.
type AssignmentListFilter struct {
	FacultyID string `query:"faculty_id"`
	ClassID   string `query:"class_id"`
	Sort      string `query:"sort"`
}

// AssignmentResourceResponse serializes an assignment resource.
type AssignmentResourceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID                    string                       `json:"id"`
	Title                 string                       `json:"title"`
	Description           string                       `json:"description"`
	Instructions          string                       `json:"instructions"`
	AssignmentType        string                       `json:"assignment_type"`
	AllowedFileTypes      []string                     `json:"allowed_file_types"`
	WordLimit             *int                         `json:"word_limit"`
	MaxMarks              float64                      `json:"max_marks"`
	StartDate             *string                      `json:"start_date"`
	DueDate               *string                      `json:"due_date"`
	Visibility            bool                         `json:"visibility"`
	Status                string                       `json:"status"`
	AllowLateSubmission   bool                         `json:"allow_late_submission"`
	AllowResubmission     bool                         `json:"allow_resubmission"`
	EnablePlagiarismCheck bool                         `json:"enable_plagiarism_check"`
	AllowGroupSubmission  bool                         `json:"allow_group_submission"`
	ClosedAt              *string                      `json:"closed_at"`
	FacultyID             string                       `json:"faculty_id"`
	FacultyDepartment     string                       `json:"faculty_department"`
	ClassID               string                       `json:"class_id"`
	TargetYears           []int                        `json:"target_years"`
	Resources             []AssignmentResourceResponse `json:"resources"`
	Submission            *SubmissionResponse          `json:"submission,omitempty"`
	CreatedAt             time.Time                    `json:"created_at"`
	UpdatedAt             time.Time                    `json:"updated_at"`
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	resources := make([]AssignmentResourceResponse, 0, len(model.Resources))
	for _, resource := range model.Resources {
		resources = append(resources, AssignmentResourceResponse{
			ID:       resource.ID,
			Name:     resource.Name,
			FileType: resource.FileType,
			FileURL:  resource.FileURL,
		})
	}

	allowed := []string(model.AllowedFileTypes)
	if allowed == nil {
		allowed = []string{}
	}
	years := []int(model.TargetYears)
	if years == nil {
		years = []int{}
	}

	return AssignmentResponse{
		ID:                    model.ID,
		Title:                 model.Title,
		Description:           model.Description,
		Instructions:          model.Instructions,
		AssignmentType:        model.AssignmentType,
		AllowedFileTypes:      allowed,
		WordLimit:             model.WordLimit,
		MaxMarks:              model.MaxMarks,
		StartDate:             formatTime(model.StartDate),
		DueDate:               formatTime(model.DueDate),
		Visibility:            model.Visibility,
		Status:                model.Status,
		AllowLateSubmission:   model.AllowLateSubmission,
		AllowResubmission:     model.AllowResubmission,
		EnablePlagiarismCheck: model.EnablePlagiarismCheck,
		AllowGroupSubmission:  model.AllowGroupSubmission,
		ClosedAt:              formatTime(model.ClosedAt),
		FacultyID:             model.FacultyID,
		FacultyDepartment:     model.FacultyDepartment,
		ClassID:               model.ClassID,
		TargetYears:           years,
		Resources:             resources,
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(isoLayout)
	return &formatted
}
