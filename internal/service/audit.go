package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/dto"
)

// Audited actions.
const (
	ActionAssignmentCreated  = "assignment.created"
	ActionAssignmentUpdated  = "assignment.updated"
	ActionAssignmentClosed   = "assignment.closed"
	ActionAssignmentReopened = "assignment.reopened"
	ActionAssignmentDeleted  = "assignment.deleted"
	ActionSubmissionGraded   = "submission.graded"
	ActionSubmissionReturned = "submission.returned"
)

type auditedAssignmentService struct {
	AssignmentService
	recorder ActivityRecorder
	logger   zerolog.Logger
}

// NewAuditedAssignmentService records every successful assignment write in the activity log.
// Reads pass through untouched.
func NewAuditedAssignmentService(inner AssignmentService, recorder ActivityRecorder, logger zerolog.Logger) AssignmentService {
	return &auditedAssignmentService{
		AssignmentService: inner,
		recorder:          recorder,
		logger:            logger.With().Str("component", "assignment_audit").Logger(),
	}
}

func (s *auditedAssignmentService) Create(ctx context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	assignment, err := s.AssignmentService.Create(ctx, payload)
	if err == nil {
		s.record(ctx, ActionAssignmentCreated, assignment, map[string]interface{}{
			"title":      assignment.Title,
			"visibility": assignment.Visibility,
		})
	}
	return assignment, err
}

func (s *auditedAssignmentService) Update(ctx context.Context, id string, patch dto.AssignmentUpdateRequest, wasVisible bool) (dto.AssignmentResponse, error) {
	assignment, err := s.AssignmentService.Update(ctx, id, patch, wasVisible)
	if err == nil {
		s.record(ctx, ActionAssignmentUpdated, assignment, map[string]interface{}{
			"was_visible": wasVisible,
			"visibility":  assignment.Visibility,
		})
	}
	return assignment, err
}

func (s *auditedAssignmentService) Close(ctx context.Context, id string) (dto.AssignmentResponse, error) {
	assignment, err := s.AssignmentService.Close(ctx, id)
	if err == nil {
		s.record(ctx, ActionAssignmentClosed, assignment, nil)
	}
	return assignment, err
}

func (s *auditedAssignmentService) Reopen(ctx context.Context, id string) (dto.AssignmentResponse, error) {
	assignment, err := s.AssignmentService.Reopen(ctx, id)
	if err == nil {
		s.record(ctx, ActionAssignmentReopened, assignment, nil)
	}
	return assignment, err
}

func (s *auditedAssignmentService) Delete(ctx context.Context, id string) error {
	if err := s.AssignmentService.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionAssignmentDeleted, dto.AssignmentResponse{ID: id}, nil)
	return nil
}

func (s *auditedAssignmentService) record(ctx context.Context, action string, assignment dto.AssignmentResponse, metadata map[string]interface{}) {
	audit(ctx, s.recorder, s.logger, ActivityEntry{
		Action:     action,
		EntityType: "assignment",
		EntityID:   assignment.ID,
		Metadata:   metadata,
	})
}

type auditedGradingService struct {
	GradingService
	recorder ActivityRecorder
	logger   zerolog.Logger
}

// NewAuditedGradingService records grades and returns in the activity log.
func NewAuditedGradingService(inner GradingService, recorder ActivityRecorder, logger zerolog.Logger) GradingService {
	return &auditedGradingService{
		GradingService: inner,
		recorder:       recorder,
		logger:         logger.With().Str("component", "grading_audit").Logger(),
	}
}

func (s *auditedGradingService) Grade(ctx context.Context, submissionID string, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	submission, err := s.GradingService.Grade(ctx, submissionID, payload)
	if err == nil {
		metadata := map[string]interface{}{"assignment_id": submission.AssignmentID, "student_id": submission.StudentID}
		if submission.Grade != nil {
			metadata["grade"] = *submission.Grade
		}
		s.record(ctx, ActionSubmissionGraded, submission.ID, metadata)
	}
	return submission, err
}

func (s *auditedGradingService) ReturnForResubmission(ctx context.Context, submissionID string, payload dto.ReturnRequest) (dto.SubmissionResponse, error) {
	submission, err := s.GradingService.ReturnForResubmission(ctx, submissionID, payload)
	if err == nil {
		s.record(ctx, ActionSubmissionReturned, submission.ID, map[string]interface{}{
			"assignment_id": submission.AssignmentID,
			"student_id":    submission.StudentID,
		})
	}
	return submission, err
}

func (s *auditedGradingService) record(ctx context.Context, action, submissionID string, metadata map[string]interface{}) {
	audit(ctx, s.recorder, s.logger, ActivityEntry{
		Action:     action,
		EntityType: "submission",
		EntityID:   submissionID,
		Metadata:   metadata,
	})
}
