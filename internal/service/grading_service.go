package service

import (
	"context"
	"errors"
	"math"
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
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

// GradingService moves submissions through grading states.
type GradingService interface {
	Grade(ctx context.Context, submissionID string, payload dto.GradeRequest) (dto.SubmissionResponse, error)
	ReturnForResubmission(ctx context.Context, submissionID string, payload dto.ReturnRequest) (dto.SubmissionResponse, error)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	notifier    NotificationFanOut
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService constructs the grading service.
func NewGradingService(submissions repository.SubmissionRepository, assignments repository.AssignmentRepository, notifier NotificationFanOut, validate *validator.Validate, logger zerolog.Logger) GradingService {
	return &gradingService{
		submissions: submissions,
		assignments: assignments,
		notifier:    notifier,
		validator:   validate,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID string, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade", trace.WithAttributes(attribute.String("submission.id", submissionID)))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, wrapValidation(err)
	}

	submission, err := s.load(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}
	if submission.Status == models.SubmissionStatusDraft || submission.Status == models.SubmissionStatusReturned {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.SubmissionResponse{}, ErrInvalidTransition
	}

	assignment, err := s.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.SubmissionResponse{}, dependencyError("load assignment", err)
	}

	grade := *payload.Grade
	if math.IsNaN(grade) || grade < 0 || (err == nil && grade > assignment.MaxMarks) {
		span.SetStatus(codes.Error, "grade_out_of_range")
		return dto.SubmissionResponse{}, ErrGradeOutOfRange
	}

	gradedAt := s.now().UTC()
	submission.Status = models.SubmissionStatusGraded
	submission.Grade = &grade
	submission.GradedAt = &gradedAt
	submission.Feedback = optionalString(payload.Feedback)

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, dependencyError("grade submission", err)
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Float64("grade", grade).
		Msg("submission graded")

	s.notifyStudent(ctx, submission, assignment, models.NotificationTypeFeedbackAvailable,
		"Feedback available: ", "Your submission has been graded.")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradingService) ReturnForResubmission(ctx context.Context, submissionID string, payload dto.ReturnRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.return", trace.WithAttributes(attribute.String("submission.id", submissionID)))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, wrapValidation(err)
	}

	submission, err := s.load(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}
	if !submission.IsActive() {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.SubmissionResponse{}, ErrInvalidTransition
	}

	feedback := strings.TrimSpace(payload.Feedback)
	submission.Status = models.SubmissionStatusReturned
	submission.Feedback = &feedback
	submission.Grade = nil
	submission.GradedAt = nil

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, dependencyError("return submission", err)
	}

	s.logger.Info().Str("submission_id", submission.ID).Msg("submission returned for resubmission")

	assignment, err := s.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		assignment = models.Assignment{ID: submission.AssignmentID}
	}
	s.notifyStudent(ctx, submission, assignment, models.NotificationTypeResubmissionRequest,
		"Resubmission requested: ", "Your submission was returned. Review the feedback and resubmit.")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradingService) load(ctx context.Context, id string) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, dependencyError("load submission", err)
	}
	return submission, nil
}

func (s *gradingService) notifyStudent(ctx context.Context, submission models.Submission, assignment models.Assignment, notificationType, titlePrefix, message string) {
	logger := s.logger.With().Str("submission_id", submission.ID).Logger()
	if s.notifier == nil {
		skippedOutcome(fanOutSideEffect).record(logger)
		return
	}

	title := assignment.Title
	if title == "" {
		title = "assignment"
	}

	s.notifier.FanOut(ctx, NotificationBatch{
		UserIDs: []string{submission.StudentID},
		Title:   titlePrefix + title,
		Message: message,
		Type:    notificationType,
		Link:    "/student-dashboard/assignments/" + submission.AssignmentID,
	}).record(logger)
}
