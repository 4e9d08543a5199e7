package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/internal/utils"
)

// SubmissionHandler manages submission, grading and plagiarism status endpoints.
type SubmissionHandler struct {
	submissions service.SubmissionService
	grading     service.GradingService
	submitLimit int
	logger      zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance. submitLimit caps submits per user per minute.
func NewSubmissionHandler(submissions service.SubmissionService, grading service.GradingService, submitLimit int, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		grading:     grading,
		submitLimit: submitLimit,
		logger:      logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	staff := middleware.RequireRole(roleFaculty, roleAdmin)
	limiter := middleware.RateLimit("submit", h.submitLimit, time.Minute)

	router.Post("", limiter, h.submit)
	router.Post("/drafts", limiter, h.saveDraft)
	router.Get("/:id", h.get)
	router.Get("/:id/plagiarism", h.plagiarism)
	router.Post("/:id/grade", staff, h.grade)
	router.Post("/:id/return", staff, h.returnForResubmission)
}

// RegisterAssignmentRoutes attaches the per-assignment submission listing.
func (h *SubmissionHandler) RegisterAssignmentRoutes(router fiber.Router) {
	router.Get("/:id/submissions", middleware.RequireRole(roleFaculty, roleAdmin), h.listByAssignment)
}

// RegisterStudentRoutes attaches the per-student submission listing.
func (h *SubmissionHandler) RegisterStudentRoutes(router fiber.Router) {
	router.Get("/:id/submissions", h.listByStudent)
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	payload, status, message := bindSubmitRequest(c)
	if status != 0 {
		return utils.SendError(c, status, message)
	}

	submission, err := h.submissions.Submit(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission received", submission)
}

func (h *SubmissionHandler) saveDraft(c *fiber.Ctx) error {
	payload, status, message := bindSubmitRequest(c)
	if status != 0 {
		return utils.SendError(c, status, message)
	}

	submission, err := h.submissions.SaveDraft(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "draft saved", submission)
}

// bindSubmitRequest parses the body and pins students to their own id. A non-zero status
// reports why the request was rejected.
func bindSubmitRequest(c *fiber.Ctx) (dto.SubmitRequest, int, string) {
	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return dto.SubmitRequest{}, fiber.StatusBadRequest, "invalid request body"
	}

	payload.StudentID = strings.TrimSpace(payload.StudentID)
	if userRoleFromContext(c) == roleStudent || payload.StudentID == "" {
		payload.StudentID = userIDFromContext(c)
	}
	if !canActFor(c, payload.StudentID) {
		return dto.SubmitRequest{}, fiber.StatusForbidden, "insufficient permissions"
	}

	return payload, 0, ""
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	submission, err := h.submissions.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if !canActFor(c, submission.StudentID) {
		return utils.SendError(c, fiber.StatusNotFound, service.ErrSubmissionNotFound.Error())
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) plagiarism(c *fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	if userRoleFromContext(c) == roleStudent {
		submission, err := h.submissions.Get(ctx, id)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		if !canActFor(c, submission.StudentID) {
			return utils.SendError(c, fiber.StatusNotFound, service.ErrSubmissionNotFound.Error())
		}
	}

	status, err := h.submissions.Plagiarism(ctx, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "plagiarism status retrieved", status)
}

func (h *SubmissionHandler) listByAssignment(c *fiber.Ctx) error {
	submissions, err := h.submissions.ListByAssignment(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) listByStudent(c *fiber.Ctx) error {
	studentID := c.Params("id")
	if !canActFor(c, studentID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	var filter dto.SubmissionListFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	submissions, err := h.submissions.ListByStudent(requestContext(c), studentID, strings.TrimSpace(filter.AssignmentID))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) grade(c *fiber.Ctx) error {
	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	submission, err := h.grading.Grade(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *SubmissionHandler) returnForResubmission(c *fiber.Ctx) error {
	var payload dto.ReturnRequest
	if err := c.BodyParser(&payload); err != nil {
		return invalidBody(c)
	}

	submission, err := h.grading.ReturnForResubmission(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission returned for resubmission", submission)
}
