package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

// CommentAuthor identifies who writes a comment.
type CommentAuthor struct {
	UserID   string
	UserType string
}

// CommentService manages discussion threads on assignments and submissions.
type CommentService interface {
	Add(ctx context.Context, assignmentID string, payload dto.CommentCreateRequest, author CommentAuthor) (dto.CommentResponse, error)
	List(ctx context.Context, assignmentID string, submissionID *string) ([]dto.CommentResponse, error)
}

type commentService struct {
	repo        repository.CommentRepository
	assignments repository.AssignmentRepository
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
}

// NewCommentService constructs the comment service.
func NewCommentService(repo repository.CommentRepository, assignments repository.AssignmentRepository, validate *validator.Validate, logger zerolog.Logger) CommentService {
	return &commentService{
		repo:        repo,
		assignments: assignments,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "comment_service").Logger(),
	}
}

func (s *commentService) Add(ctx context.Context, assignmentID string, payload dto.CommentCreateRequest, author CommentAuthor) (dto.CommentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CommentResponse{}, wrapValidation(err)
	}
	if strings.TrimSpace(author.UserID) == "" {
		return dto.CommentResponse{}, newValidationError("user_id", "is required")
	}

	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CommentResponse{}, ErrAssignmentNotFound
		}
		return dto.CommentResponse{}, dependencyError("load assignment", err)
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" {
		return dto.CommentResponse{}, newValidationError("content", "is empty after sanitization")
	}

	userType := author.UserType
	if userType != "student" {
		userType = "faculty"
	}

	comment := models.AssignmentComment{
		AssignmentID: assignmentID,
		SubmissionID: payload.SubmissionID,
		UserID:       author.UserID,
		UserType:     userType,
		Content:      content,
	}
	if err := s.repo.Create(ctx, &comment); err != nil {
		return dto.CommentResponse{}, dependencyError("create comment", err)
	}

	s.logger.Info().Str("assignment_id", assignmentID).Str("comment_id", comment.ID).Msg("comment added")
	return dto.NewCommentResponse(comment), nil
}

func (s *commentService) List(ctx context.Context, assignmentID string, submissionID *string) ([]dto.CommentResponse, error) {
	comments, err := s.repo.List(ctx, assignmentID, submissionID)
	if err != nil {
		return nil, dependencyError("list comments", err)
	}
	return dto.NewCommentResponseSlice(comments), nil
}
