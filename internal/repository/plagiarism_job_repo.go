package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// PlagiarismJobRepository persists asynchronous plagiarism jobs.
type PlagiarismJobRepository interface {
	Create(ctx context.Context, job *models.PlagiarismJob) error
	GetByID(ctx context.Context, id string) (models.PlagiarismJob, error)
	// Claim moves a pending job to processing. It reports false when another worker got there first.
	Claim(ctx context.Context, id string) (bool, error)
	// Finish stores the terminal state of a processing job. It reports false when the job was
	// superseded while it ran.
	Finish(ctx context.Context, job *models.PlagiarismJob) (bool, error)
	// SupersedeOpen retires every pending or processing job of a submission.
	SupersedeOpen(ctx context.Context, submissionID string) (int64, error)
	LatestForSubmission(ctx context.Context, submissionID string) (models.PlagiarismJob, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.PlagiarismJob, error)
}

type plagiarismJobRepository struct {
	db *gorm.DB
}

// NewPlagiarismJobRepository constructs a GORM-backed job repository.
func NewPlagiarismJobRepository(db *gorm.DB) PlagiarismJobRepository {
	return &plagiarismJobRepository{db: db}
}

func (r *plagiarismJobRepository) Create(ctx context.Context, job *models.PlagiarismJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *plagiarismJobRepository) GetByID(ctx context.Context, id string) (models.PlagiarismJob, error) {
	var job models.PlagiarismJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return models.PlagiarismJob{}, err
	}
	return job, nil
}

func (r *plagiarismJobRepository) Claim(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.PlagiarismJob{}).
		Where("id = ? AND status = ?", id, models.PlagiarismStatusPending).
		Updates(map[string]interface{}{
			"status":   models.PlagiarismStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *plagiarismJobRepository) Finish(ctx context.Context, job *models.PlagiarismJob) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.PlagiarismJob{}).
		Where("id = ? AND status = ?", job.ID, models.PlagiarismStatusProcessing).
		Updates(map[string]interface{}{
			"status":       job.Status,
			"error":        job.Error,
			"completed_at": job.CompletedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *plagiarismJobRepository) SupersedeOpen(ctx context.Context, submissionID string) (int64, error) {
	return supersedeOpenJobs(r.db.WithContext(ctx), submissionID)
}

func (r *plagiarismJobRepository) LatestForSubmission(ctx context.Context, submissionID string) (models.PlagiarismJob, error) {
	var job models.PlagiarismJob
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		First(&job).Error; err != nil {
		return models.PlagiarismJob{}, err
	}
	return job, nil
}

func supersedeOpenJobs(db *gorm.DB, submissionID string) (int64, error) {
	result := db.Model(&models.PlagiarismJob{}).
		Where("submission_id = ? AND status IN ?", submissionID,
			[]string{models.PlagiarismStatusPending, models.PlagiarismStatusProcessing}).
		Updates(map[string]interface{}{
			"status": models.PlagiarismJobStatusSuperseded,
			"error":  "superseded by a newer submission",
		})
	return result.RowsAffected, result.Error
}

func (r *plagiarismJobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.PlagiarismJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var jobs []models.PlagiarismJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
