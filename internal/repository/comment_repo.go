package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// CommentRepository persists assignment discussion comments.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.AssignmentComment) error
	List(ctx context.Context, assignmentID string, submissionID *string) ([]models.AssignmentComment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository constructs a comment repository.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.AssignmentComment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *commentRepository) List(ctx context.Context, assignmentID string, submissionID *string) ([]models.AssignmentComment, error) {
	query := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID)
	if submissionID != nil {
		query = query.Where("submission_id = ?", *submissionID)
	}

	var comments []models.AssignmentComment
	if err := query.Order("created_at ASC").Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}
