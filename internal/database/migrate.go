package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// AutoMigrate creates or updates the tables owned by the assignment lifecycle.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Faculty{},
		&models.Student{},
		&models.Assignment{},
		&models.AssignmentResource{},
		&models.Submission{},
		&models.SubmissionFile{},
		&models.PlagiarismJob{},
		&models.Notification{},
		&models.AssignmentComment{},
		&models.ActivityLog{},
	)
}
