package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/internal/utils"
)

// UploadHandler stores submission files and assignment resources in blob storage.
type UploadHandler struct {
	service service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(service service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		service: service,
		logger:  logger.With().Str("component", "upload_handler").Logger(),
	}
}

// Register wires upload routes. Public ids may contain folder separators.
func (h *UploadHandler) Register(router fiber.Router) {
	router.Post("", middleware.WithAuth(h.upload, middleware.AuthOptions{RequireUser: true}))
	router.Delete("/*", middleware.RequireRole(roleFaculty, roleAdmin), h.delete)
}

func (h *UploadHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.Upload(requestContext(c), file)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("user_id", userIDFromContext(c)).
		Str("public_id", result.PublicID).
		Msg("upload stored")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", result)
}

func (h *UploadHandler) delete(c *fiber.Ctx) error {
	publicID := strings.Trim(c.Params("*"), "/")
	if err := h.service.Delete(requestContext(c), publicID); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "upload deleted", fiber.Map{"public_id": publicID})
}
