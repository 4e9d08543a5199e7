package dto

import (
	"time"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Title:     model.Title,
		Message:   model.Message,
		Type:      model.Type,
		Link:      model.Link,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationSendRequest addresses an ad hoc notification to a set of users.
type NotificationSendRequest struct {
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1,dive,required"`
	Title        string   `json:"title" validate:"required,max=255"`
	Message      string   `json:"message" validate:"required,max=5000"`
	Type         string   `json:"type" validate:"omitempty,max=32"`
	Link         string   `json:"link" validate:"omitempty,max=512"`
}

// NotificationSendResponse reports how many recipients were addressed.
type NotificationSendResponse struct {
	Recipients int `json:"recipients"`
}

// CommentCreateRequest adds a comment to an assignment, optionally scoped to a submission.
type CommentCreateRequest struct {
	SubmissionID *string `json:"submission_id"`
	Content      string  `json:"content" validate:"required,min=1,max=5000"`
}

// CommentResponse serializes an assignment comment.
type CommentResponse struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	SubmissionID *string   `json:"submission_id"`
	UserID       string    `json:"user_id"`
	UserType     string    `json:"user_type"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewCommentResponse converts a comment model to DTO.
func NewCommentResponse(model models.AssignmentComment) CommentResponse {
	return CommentResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		SubmissionID: model.SubmissionID,
		UserID:       model.UserID,
		UserType:     model.UserType,
		Content:      model.Content,
		CreatedAt:    model.CreatedAt,
	}
}

// NewCommentResponseSlice converts a slice of comments.
func NewCommentResponseSlice(items []models.AssignmentComment) []CommentResponse {
	out := make([]CommentResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewCommentResponse(item))
	}
	return out
}
