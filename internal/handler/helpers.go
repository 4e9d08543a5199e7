package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/internal/utils"
)

const (
	roleStudent = "student"
	roleFaculty = "faculty"
	roleAdmin   = "admin"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func userRoleFromContext(c *fiber.Ctx) string {
	if role, ok := c.Locals("user_role").(string); ok {
		return strings.ToLower(strings.TrimSpace(role))
	}
	return ""
}

// canActFor reports whether the caller may read or write data owned by studentID.
// Students are limited to their own records; staff are not.
func canActFor(c *fiber.Ctx, studentID string) bool {
	if userRoleFromContext(c) != roleStudent {
		return true
	}
	return userIDFromContext(c) == studentID
}

func isStaff(c *fiber.Ctx) bool {
	role := userRoleFromContext(c)
	return role == roleFaculty || role == roleAdmin
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
	if userID := userIDFromContext(c); userID != "" {
		ctx = service.ContextWithActor(ctx, service.Actor{ID: userID, Role: userRoleFromContext(c)})
	}
	return ctx
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// sendRead writes a read result, attaching the read metadata only when the result is degraded.
func sendRead(c *fiber.Ctx, message string, data interface{}, meta service.ReadMeta) error {
	if meta.Source != "" {
		c.Set("X-Data-Source", meta.Source)
	}
	if !meta.Degraded {
		return utils.SendSuccess(c, message, data)
	}
	return utils.SendSuccessWithMeta(c, fiber.StatusOK, message, data, meta)
}

// respondError maps service errors onto the response envelope.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var (
		validationErr *service.ValidationError
		dependencyErr *service.DependencyError
	)

	switch {
	case errors.As(err, &validationErr):
		status := fiber.StatusBadRequest
		if isNotFound(err) {
			status = fiber.StatusNotFound
		}
		return utils.SendErrorWithDetails(c, status, validationErr.Error(), validationErr.Fields())
	case isNotFound(err):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSubmissionClosed),
		errors.Is(err, service.ErrDuplicateSubmission),
		errors.Is(err, service.ErrResubmissionNotAllowed),
		errors.Is(err, service.ErrInvalidTransition):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrGradeOutOfRange):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUploadTypeNotAllowed), errors.Is(err, service.ErrUploadScanFailed):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &dependencyErr):
		requestLogger(logger, c).Error().Err(err).Str("operation", dependencyErr.Op).Msg("dependency failure")
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, service.ErrAssignmentNotFound) ||
		errors.Is(err, service.ErrSubmissionNotFound) ||
		errors.Is(err, service.ErrNotificationNotFound)
}

func invalidBody(c *fiber.Ctx) error {
	return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
}
