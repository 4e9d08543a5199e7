package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/internal/utils"
)

// CommentHandler exposes assignment comment threads.
type CommentHandler struct {
	service service.CommentService
	logger  zerolog.Logger
}

// NewCommentHandler constructs a comment handler.
func NewCommentHandler(service service.CommentService, logger zerolog.Logger) *CommentHandler {
	return &CommentHandler{
		service: service,
		logger:  logger.With().Str("component", "comment_handler").Logger(),
	}
}

// Register attaches comment routes below the assignments group.
func (h *CommentHandler) Register(assignments fiber.Router) {
	assignments.Get("/:id/comments", h.list)
	assignments.Post("/:id/comments", h.create)
}

func (h *CommentHandler) list(c *fiber.Ctx) error {
	var submissionID *string
	if raw := strings.TrimSpace(c.Query("submission_id")); raw != "" {
		submissionID = &raw
	}

	comments, err := h.service.List(requestContext(c), c.Params("id"), submissionID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "comments retrieved", comments)
}

func (h *CommentHandler) create(c *fiber.Ctx) error {
	var payload dto.CommentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	author := service.CommentAuthor{
		UserID:   userIDFromContext(c),
		UserType: userRoleFromContext(c),
	}

	comment, err := h.service.Add(requestContext(c), c.Params("id"), payload, author)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "comment added", comment)
}
