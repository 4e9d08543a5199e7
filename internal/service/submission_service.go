package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

// SubmissionService accepts, stores and lists student submissions.
type SubmissionService interface {
	Submit(ctx context.Context, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	SaveDraft(ctx context.Context, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error)
	ListByStudent(ctx context.Context, studentID, assignmentID string) ([]dto.SubmissionResponse, error)
	Plagiarism(ctx context.Context, id string) (dto.PlagiarismResponse, error)
}

type submissionService struct {
	assignments repository.AssignmentRepository
	students    repository.StudentRepository
	repo        repository.SubmissionRepository
	dispatcher  PlagiarismDispatcher
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs the submission engine.
func NewSubmissionService(assignments repository.AssignmentRepository, students repository.StudentRepository, repo repository.SubmissionRepository, dispatcher PlagiarismDispatcher, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		assignments: assignments,
		students:    students,
		repo:        repo,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.submit", trace.WithAttributes(
		attribute.String("assignment.id", payload.AssignmentID),
		attribute.String("student.id", payload.StudentID),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, wrapValidation(err)
	}
	if err := requireSubmissionBody(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.resolveParticipants(ctx, payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := checkAssignmentRules(assignment, payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	now := s.now().UTC()
	isAfterDue := assignment.IsPastDue(now)
	if isAfterDue && !assignment.LateWindowOpen() {
		observability.SubmissionsRejected().WithLabelValues("closed").Inc()
		span.SetStatus(codes.Error, "submission_closed")
		return dto.SubmissionResponse{}, ErrSubmissionClosed
	}

	existing, err := s.resolveExisting(ctx, assignment, payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	var submission models.Submission
	if existing != nil {
		submission = *existing
		switch {
		case isAfterDue:
			submission.Status = models.SubmissionStatusLate
		case existing.Status == models.SubmissionStatusDraft:
			submission.Status = models.SubmissionStatusSubmitted
		default:
			submission.Status = models.SubmissionStatusResubmitted
		}
		submission.SubmissionType = payload.SubmissionType
		submission.Content = payload.Content
		submission.SubmittedAt = &now
		submission.Grade = nil
		submission.GradedAt = nil
		resetPlagiarism(&submission)
		submission.Files = buildSubmissionFiles(payload.Files)

		if err := s.repo.Replace(ctx, &submission); err != nil {
			span.RecordError(err)
			return dto.SubmissionResponse{}, dependencyError("replace submission", err)
		}
	} else {
		status := models.SubmissionStatusSubmitted
		if isAfterDue {
			status = models.SubmissionStatusLate
		}
		submission = models.Submission{
			AssignmentID:   assignment.ID,
			StudentID:      payload.StudentID,
			SubmissionType: payload.SubmissionType,
			Content:        payload.Content,
			Status:         status,
			SubmittedAt:    &now,
			Files:          buildSubmissionFiles(payload.Files),
		}

		if err := s.repo.Create(ctx, &submission); err != nil {
			span.RecordError(err)
			if repository.IsDuplicateKey(err) {
				observability.SubmissionsRejected().WithLabelValues("duplicate").Inc()
				return dto.SubmissionResponse{}, ErrDuplicateSubmission
			}
			return dto.SubmissionResponse{}, dependencyError("create submission", err)
		}
	}

	if assignment.EnablePlagiarismCheck && s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, &submission)
	}

	observability.SubmissionsTotal().WithLabelValues(submission.Status).Inc()
	span.SetAttributes(attribute.String("submission.id", submission.ID), attribute.String("submission.status", submission.Status))
	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("assignment_id", assignment.ID).
		Str("student_id", submission.StudentID).
		Str("status", submission.Status).
		Bool("in_place", existing != nil).
		Msg("submission stored")

	return dto.NewSubmissionResponse(submission), nil
}

// SaveDraft stores work in progress. Only one row exists per assignment and student, so a
// draft may only overwrite a draft or a returned submission.
func (s *submissionService) SaveDraft(ctx context.Context, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, wrapValidation(err)
	}

	assignment, err := s.resolveParticipants(ctx, payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := checkAssignmentRules(assignment, payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	existing, err := s.lookupExisting(ctx, assignment, payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    payload.StudentID,
	}
	if existing != nil {
		if existing.Status != models.SubmissionStatusDraft && existing.Status != models.SubmissionStatusReturned {
			return dto.SubmissionResponse{}, ErrInvalidTransition
		}
		submission = *existing
	}

	submission.SubmissionType = payload.SubmissionType
	submission.Content = payload.Content
	submission.Status = models.SubmissionStatusDraft
	submission.SubmittedAt = nil
	resetPlagiarism(&submission)
	submission.Files = buildSubmissionFiles(payload.Files)

	if existing != nil {
		err = s.repo.Replace(ctx, &submission)
	} else {
		err = s.repo.Create(ctx, &submission)
	}
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return dto.SubmissionResponse{}, ErrDuplicateSubmission
		}
		return dto.SubmissionResponse{}, dependencyError("save draft", err)
	}

	s.logger.Info().Str("submission_id", submission.ID).Str("assignment_id", assignment.ID).Msg("draft saved")
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, dependencyError("load submission", err)
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error) {
	submissions, err := s.repo.List(ctx, repository.SubmissionFilter{AssignmentID: assignmentID})
	if err != nil {
		return nil, dependencyError("list submissions", err)
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListByStudent(ctx context.Context, studentID, assignmentID string) ([]dto.SubmissionResponse, error) {
	submissions, err := s.repo.List(ctx, repository.SubmissionFilter{StudentID: studentID, AssignmentID: assignmentID})
	if err != nil {
		return nil, dependencyError("list submissions", err)
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) Plagiarism(ctx context.Context, id string) (dto.PlagiarismResponse, error) {
	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.PlagiarismResponse{}, ErrSubmissionNotFound
		}
		return dto.PlagiarismResponse{}, dependencyError("load submission", err)
	}
	return dto.NewPlagiarismResponse(submission), nil
}

func (s *submissionService) resolveParticipants(ctx context.Context, payload dto.SubmitRequest) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, payload.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, &ValidationError{Field: "assignment_id", Message: "assignment not found", Err: ErrAssignmentNotFound}
		}
		return models.Assignment{}, dependencyError("load assignment", err)
	}
	if !assignment.Visibility {
		return models.Assignment{}, &ValidationError{Field: "assignment_id", Message: "assignment not found", Err: ErrAssignmentNotFound}
	}

	if _, err := s.students.GetByID(ctx, payload.StudentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, newValidationError("student_id", "student not found")
		}
		return models.Assignment{}, dependencyError("load student", err)
	}

	return assignment, nil
}

// resolveExisting picks the row a submit overwrites. An explicit id wins; otherwise the latest
// row for the pair is reused when it is a draft, was returned, or resubmission is allowed.
func (s *submissionService) resolveExisting(ctx context.Context, assignment models.Assignment, payload dto.SubmitRequest) (*models.Submission, error) {
	explicit := payload.ExistingSubmissionID != nil && strings.TrimSpace(*payload.ExistingSubmissionID) != ""

	existing, err := s.lookupExisting(ctx, assignment, payload)
	if err != nil || existing == nil {
		return nil, err
	}

	switch existing.Status {
	case models.SubmissionStatusDraft, models.SubmissionStatusReturned:
		return existing, nil
	}

	if assignment.AllowResubmission {
		return existing, nil
	}

	observability.SubmissionsRejected().WithLabelValues("duplicate").Inc()
	if explicit {
		return nil, ErrResubmissionNotAllowed
	}
	return nil, ErrDuplicateSubmission
}

func (s *submissionService) lookupExisting(ctx context.Context, assignment models.Assignment, payload dto.SubmitRequest) (*models.Submission, error) {
	if payload.ExistingSubmissionID != nil && strings.TrimSpace(*payload.ExistingSubmissionID) != "" {
		existing, err := s.repo.GetByID(ctx, strings.TrimSpace(*payload.ExistingSubmissionID))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &ValidationError{Field: "existing_submission_id", Message: "submission not found", Err: ErrSubmissionNotFound}
			}
			return nil, dependencyError("load submission", err)
		}
		if existing.AssignmentID != assignment.ID || existing.StudentID != payload.StudentID {
			return nil, newValidationError("existing_submission_id", "submission belongs to another assignment or student")
		}
		return &existing, nil
	}

	latest, err := s.repo.FindLatest(ctx, assignment.ID, payload.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dependencyError("load latest submission", err)
	}
	return &latest, nil
}

func requireSubmissionBody(payload dto.SubmitRequest) error {
	switch payload.SubmissionType {
	case models.SubmissionTypeText:
		if payload.Content == nil || strings.TrimSpace(*payload.Content) == "" {
			return newValidationError("content", "is required for text submissions")
		}
	case models.SubmissionTypeFile:
		if len(payload.Files) == 0 {
			return newValidationError("files", "at least one file is required for file submissions")
		}
	}
	return nil
}

func checkAssignmentRules(assignment models.Assignment, payload dto.SubmitRequest) error {
	if assignment.WordLimit != nil && payload.Content != nil {
		if words := len(strings.Fields(*payload.Content)); words > *assignment.WordLimit {
			return newValidationError("content", fmt.Sprintf("has %d words, limit is %d", words, *assignment.WordLimit))
		}
	}

	allowed := []string(assignment.AllowedFileTypes)
	if len(allowed) == 0 {
		return nil
	}
	for _, file := range payload.Files {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Name), "."))
		if ext == "" {
			ext = strings.ToLower(strings.TrimPrefix(file.FileType, "."))
		}
		if !slices.Contains(allowed, ext) {
			return newValidationError("files", fmt.Sprintf("file type %q is not allowed", ext))
		}
	}
	return nil
}

func buildSubmissionFiles(files []dto.SubmissionFileRequest) []models.SubmissionFile {
	out := make([]models.SubmissionFile, 0, len(files))
	for _, file := range files {
		out = append(out, models.SubmissionFile{
			Name:     file.Name,
			FileType: file.FileType,
			FileURL:  file.FileURL,
			FileSize: file.FileSize,
		})
	}
	return out
}

func resetPlagiarism(submission *models.Submission) {
	submission.PlagiarismStatus = nil
	submission.PlagiarismScore = nil
	submission.PlagiarismReportURL = nil
	submission.OCRUsed = false
	submission.ProcessedAt = nil
}
