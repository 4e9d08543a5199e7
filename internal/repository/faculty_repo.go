package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// FacultyRepository provides access to faculty records.
type FacultyRepository interface {
	GetByID(ctx context.Context, id string) (models.Faculty, error)
}

type facultyRepository struct {
	db *gorm.DB
}

// NewFacultyRepository constructs a faculty repository.
func NewFacultyRepository(db *gorm.DB) FacultyRepository {
	return &facultyRepository{db: db}
}

func (r *facultyRepository) GetByID(ctx context.Context, id string) (models.Faculty, error) {
	var faculty models.Faculty
	if err := r.db.WithContext(ctx).First(&faculty, "id = ?", id).Error; err != nil {
		return models.Faculty{}, err
	}

	return faculty, nil
}
