package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/internal/utils"
)

// AssignmentHandler wires assignment registry routes.
type AssignmentHandler struct {
	service service.AssignmentService
	logger  zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group.
func (h *AssignmentHandler) Register(router fiber.Router) {
	staff := middleware.RequireRole(roleFaculty, roleAdmin)

	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", staff, h.create)
	router.Patch("/:id", staff, h.update)
	router.Delete("/:id", staff, h.delete)
	router.Post("/:id/close", staff, h.close)
	router.Post("/:id/reopen", staff, h.reopen)
}

// RegisterStudentRoutes attaches the per-student assignment listing.
func (h *AssignmentHandler) RegisterStudentRoutes(router fiber.Router) {
	router.Get("/:id/assignments", h.listForStudent)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	var filter dto.AssignmentListFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	if !isStaff(c) {
		assignments, meta, err := h.service.ListForStudent(requestContext(c), userIDFromContext(c))
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return sendRead(c, "assignments retrieved", filterAssignments(assignments, filter), meta)
	}

	assignments, meta, err := h.service.List(requestContext(c), filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return sendRead(c, "assignments retrieved", assignments, meta)
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	var (
		assignment dto.AssignmentResponse
		meta       service.ReadMeta
		err        error
	)
	if isStaff(c) {
		assignment, meta, err = h.service.Get(requestContext(c), c.Params("id"))
	} else {
		assignment, meta, err = h.service.GetForStudent(requestContext(c), c.Params("id"), userIDFromContext(c))
	}
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return sendRead(c, "assignment retrieved", assignment, meta)
}

func (h *AssignmentHandler) listForStudent(c *fiber.Ctx) error {
	studentID := c.Params("id")
	if !canActFor(c, studentID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	assignments, meta, err := h.service.ListForStudent(requestContext(c), studentID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return sendRead(c, "student assignments retrieved", assignments, meta)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}
	if payload.FacultyID == "" && userRoleFromContext(c) == roleFaculty {
		payload.FacultyID = userIDFromContext(c)
	}

	assignment, err := h.service.Create(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", assignment)
}

func (h *AssignmentHandler) update(c *fiber.Ctx) error {
	var patch dto.AssignmentUpdateRequest
	if err := c.BodyParser(&patch); err != nil {
		return invalidBody(c)
	}

	ctx := requestContext(c)
	id := c.Params("id")

	current, _, err := h.service.Get(ctx, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	assignment, err := h.service.Update(ctx, id, patch, current.Visibility)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment updated", assignment)
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(requestContext(c), id); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}

func (h *AssignmentHandler) close(c *fiber.Ctx) error {
	assignment, err := h.service.Close(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment closed for late submissions", assignment)
}

func (h *AssignmentHandler) reopen(c *fiber.Ctx) error {
	assignment, err := h.service.Reopen(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment reopened for late submissions", assignment)
}

func filterAssignments(assignments []dto.AssignmentResponse, filter dto.AssignmentListFilter) []dto.AssignmentResponse {
	if filter.FacultyID == "" && filter.ClassID == "" {
		return assignments
	}
	filtered := make([]dto.AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		if filter.FacultyID != "" && assignment.FacultyID != filter.FacultyID {
			continue
		}
		if filter.ClassID != "" && assignment.ClassID != filter.ClassID {
			continue
		}
		filtered = append(filtered, assignment)
	}
	return filtered
}
