package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	Status       string
}

// PlagiarismUpdate carries the plagiarism columns written back onto a submission.
type PlagiarismUpdate struct {
	Status      string
	Score       *float64
	ReportURL   *string
	OCRUsed     bool
	ProcessedAt *time.Time
}

// SubmissionRepository defines data operations for submissions and their files.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id string) (models.Submission, error)
	FindLatest(ctx context.Context, assignmentID, studentID string) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Replace(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	UpdatePlagiarism(ctx context.Context, id string, update PlagiarismUpdate) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("Files", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC")
		})
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.baseQuery(ctx)

	if filter.AssignmentID != "" {
		query = query.Where("assignment_id = ?", filter.AssignmentID)
	}
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("submitted_at DESC").Order("created_at DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, "id = ?", id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) FindLatest(ctx context.Context, assignmentID, studentID string) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_id = ?", studentID).
		Order("updated_at DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

// Create inserts the submission together with its files.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// IsDuplicateKey reports whether err is a unique constraint violation from either driver.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "SQLSTATE 23505") ||
		strings.Contains(message, "duplicate key value")
}

// Replace overwrites the submission row in place, swaps its file set and retires its open
// plagiarism jobs within one transaction.
func (r *submissionRepository) Replace(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(submission).Error; err != nil {
			return err
		}

		if err := tx.Where("submission_id = ?", submission.ID).Delete(&models.SubmissionFile{}).Error; err != nil {
			return err
		}

		if _, err := supersedeOpenJobs(tx, submission.ID); err != nil {
			return err
		}

		if len(submission.Files) == 0 {
			return nil
		}

		for i := range submission.Files {
			submission.Files[i].ID = ""
			submission.Files[i].SubmissionID = submission.ID
		}

		return tx.Create(&submission.Files).Error
	})
}

// Update persists the submission columns without touching its files.
func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(submission).Error
}

func (r *submissionRepository) UpdatePlagiarism(ctx context.Context, id string, update PlagiarismUpdate) error {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"plagiarism_status":     update.Status,
			"plagiarism_score":      update.Score,
			"plagiarism_report_url": update.ReportURL,
			"ocr_used":              update.OCRUsed,
			"processed_at":          update.ProcessedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
