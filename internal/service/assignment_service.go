package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

// AssignmentService exposes the assignment registry use cases.
type AssignmentService interface {
	Create(ctx context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Update(ctx context.Context, id string, patch dto.AssignmentUpdateRequest, wasVisible bool) (dto.AssignmentResponse, error)
	Close(ctx context.Context, id string) (dto.AssignmentResponse, error)
	Reopen(ctx context.Context, id string) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter dto.AssignmentListFilter) ([]dto.AssignmentResponse, ReadMeta, error)
	Get(ctx context.Context, id string) (dto.AssignmentResponse, ReadMeta, error)
	ListForStudent(ctx context.Context, studentID string) ([]dto.AssignmentResponse, ReadMeta, error)
	GetForStudent(ctx context.Context, id, studentID string) (dto.AssignmentResponse, ReadMeta, error)
}

// AssignmentDependencies groups the collaborators of the assignment service.
type AssignmentDependencies struct {
	Assignments repository.AssignmentRepository
	Faculty     repository.FacultyRepository
	Students    repository.StudentRepository
	Submissions repository.SubmissionRepository
	Notifier    NotificationFanOut
	Cache       ListingCache
	Defaults    DefaultAssignmentProvider
}

type assignmentService struct {
	repo        repository.AssignmentRepository
	faculty     repository.FacultyRepository
	students    repository.StudentRepository
	submissions repository.SubmissionRepository
	notifier    NotificationFanOut
	cache       ListingCache
	defaults    DefaultAssignmentProvider
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(deps AssignmentDependencies, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	cache := deps.Cache
	if cache == nil {
		cache = noopListingCache{}
	}
	defaults := deps.Defaults
	if defaults == nil {
		defaults = NewStaticAssignmentProvider(nil)
	}

	return &assignmentService{
		repo:        deps.Assignments,
		faculty:     deps.Faculty,
		students:    deps.Students,
		submissions: deps.Submissions,
		notifier:    deps.Notifier,
		cache:       cache,
		defaults:    defaults,
		validator:   validate,
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/assignment"),
		now:         time.Now,
	}
}

func (s *assignmentService) Create(ctx context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.create")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssignmentResponse{}, wrapValidation(err)
	}

	startDate, err := parseOptionalTime("start_date", payload.StartDate)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	dueDate, err := parseOptionalTime("due_date", payload.DueDate)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if err := validateSchedule(startDate, dueDate); err != nil {
		return dto.AssignmentResponse{}, err
	}

	faculty, err := s.faculty.GetByID(ctx, payload.FacultyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, newValidationError("faculty_id", "faculty not found")
		}
		span.RecordError(err)
		return dto.AssignmentResponse{}, dependencyError("load faculty", err)
	}
	if strings.TrimSpace(faculty.Department) == "" {
		return dto.AssignmentResponse{}, newValidationError("faculty_id", "faculty has no department")
	}

	assignment := models.Assignment{
		Title:                 strings.TrimSpace(payload.Title),
		Description:           payload.Description,
		Instructions:          payload.Instructions,
		AssignmentType:        payload.AssignmentType,
		AllowedFileTypes:      datatypes.NewJSONSlice(normalizeExtensions(payload.AllowedFileTypes)),
		WordLimit:             payload.WordLimit,
		MaxMarks:              payload.MaxMarks,
		StartDate:             startDate,
		DueDate:               dueDate,
		Visibility:            payload.Visibility,
		AllowLateSubmission:   payload.AllowLateSubmission,
		AllowResubmission:     payload.AllowResubmission,
		EnablePlagiarismCheck: payload.EnablePlagiarismCheck,
		AllowGroupSubmission:  payload.AllowGroupSubmission,
		FacultyID:             faculty.ID,
		FacultyDepartment:     faculty.Department,
		ClassID:               payload.ClassID,
		TargetYears:           datatypes.NewJSONSlice(payload.TargetYears),
	}
	for _, resource := range payload.Resources {
		assignment.Resources = append(assignment.Resources, models.AssignmentResource{
			Name:     resource.Name,
			FileType: resource.FileType,
			FileURL:  resource.FileURL,
		})
	}
	assignment.SyncStatus()

	if err := s.repo.Create(ctx, &assignment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_failed")
		return dto.AssignmentResponse{}, dependencyError("create assignment", err)
	}

	span.SetAttributes(attribute.String("assignment.id", assignment.ID))
	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("faculty_id", assignment.FacultyID).
		Bool("visible", assignment.Visibility).
		Msg("assignment created")

	if assignment.Visibility {
		s.announce(ctx, assignment, "New Assignment: ", "A new assignment has been posted.")
	}

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Update(ctx context.Context, id string, patch dto.AssignmentUpdateRequest, wasVisible bool) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.update", trace.WithAttributes(attribute.String("assignment.id", id)))
	defer span.End()

	if err := s.validator.Struct(patch); err != nil {
		return dto.AssignmentResponse{}, wrapValidation(err)
	}

	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	if err := applyAssignmentPatch(&assignment, patch); err != nil {
		return dto.AssignmentResponse{}, err
	}
	if err := validateSchedule(assignment.StartDate, assignment.DueDate); err != nil {
		return dto.AssignmentResponse{}, err
	}
	assignment.SyncStatus()

	if err := s.repo.Update(ctx, &assignment); err != nil {
		span.RecordError(err)
		return dto.AssignmentResponse{}, dependencyError("update assignment", err)
	}

	s.logger.Info().Str("assignment_id", assignment.ID).Msg("assignment updated")

	// The caller supplies the prior visibility; stored history is not consulted.
	if patch.Visibility != nil && *patch.Visibility && !wasVisible {
		s.announce(ctx, assignment, "Assignment Published: ", "An assignment has been published.")
	}

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Close(ctx context.Context, id string) (dto.AssignmentResponse, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.ClosedAt != nil {
		return dto.NewAssignmentResponse(assignment), nil
	}

	closedAt := s.now().UTC()
	if err := s.setClosedAt(ctx, id, &closedAt); err != nil {
		return dto.AssignmentResponse{}, err
	}
	assignment.ClosedAt = &closedAt

	s.logger.Info().Str("assignment_id", id).Msg("assignment late window closed")
	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Reopen(ctx context.Context, id string) (dto.AssignmentResponse, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.ClosedAt == nil {
		return dto.NewAssignmentResponse(assignment), nil
	}

	if err := s.setClosedAt(ctx, id, nil); err != nil {
		return dto.AssignmentResponse{}, err
	}
	assignment.ClosedAt = nil

	s.logger.Info().Str("assignment_id", id).Msg("assignment late window reopened")
	return dto.NewAssignmentResponse(assignment), nil
}

// Delete soft-deletes the assignment. Its submissions are retained.
func (s *assignmentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return dependencyError("delete assignment", err)
	}

	s.logger.Info().Str("assignment_id", id).Msg("assignment deleted")
	return nil
}

func (s *assignmentService) List(ctx context.Context, filter dto.AssignmentListFilter) ([]dto.AssignmentResponse, ReadMeta, error) {
	repoFilter := repository.AssignmentFilter{
		FacultyID: strings.TrimSpace(filter.FacultyID),
		ClassID:   strings.TrimSpace(filter.ClassID),
		Sort:      filter.Sort,
	}
	cacheKey := fmt.Sprintf("assignments:list:%s:%s:%s", repoFilter.FacultyID, repoFilter.ClassID, repoFilter.Sort)

	assignments, err := s.repo.List(ctx, repoFilter)
	if err == nil {
		responses := dto.NewAssignmentResponseSlice(assignments)
		s.cache.Store(ctx, cacheKey, responses)
		return responses, ReadMeta{Source: ReadSourceStore}, nil
	}

	s.logger.Warn().Err(err).Str("operation", "list").Msg("assignment store unavailable, degrading read")

	var cached []dto.AssignmentResponse
	if s.cache.Load(ctx, cacheKey, &cached) {
		return cached, s.degraded("list", ReadSourceCache), nil
	}

	defaults := filterDefaults(s.defaults.DefaultAssignments(ctx), repoFilter)
	return dto.NewAssignmentResponseSlice(defaults), s.degraded("list", ReadSourceDefaults), nil
}

func (s *assignmentService) Get(ctx context.Context, id string) (dto.AssignmentResponse, ReadMeta, error) {
	cacheKey := "assignments:item:" + id

	assignment, err := s.repo.GetByID(ctx, id)
	if err == nil {
		response := dto.NewAssignmentResponse(assignment)
		s.cache.Store(ctx, cacheKey, response)
		return response, ReadMeta{Source: ReadSourceStore}, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AssignmentResponse{}, ReadMeta{}, ErrAssignmentNotFound
	}

	s.logger.Warn().Err(err).Str("assignment_id", id).Msg("assignment store unavailable, degrading read")

	var cached dto.AssignmentResponse
	if s.cache.Load(ctx, cacheKey, &cached) {
		return cached, s.degraded("get", ReadSourceCache), nil
	}

	if fallback, ok := findDefault(s.defaults.DefaultAssignments(ctx), id); ok {
		return dto.NewAssignmentResponse(fallback), s.degraded("get", ReadSourceDefaults), nil
	}

	return dto.AssignmentResponse{}, ReadMeta{}, dependencyError("load assignment", err)
}

// GetForStudent loads an assignment the student may see. Unpublished or untargeted
// assignments report not found.
func (s *assignmentService) GetForStudent(ctx context.Context, id, studentID string) (dto.AssignmentResponse, ReadMeta, error) {
	response, meta, err := s.Get(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, ReadMeta{}, err
	}
	if !response.Visibility {
		return dto.AssignmentResponse{}, ReadMeta{}, ErrAssignmentNotFound
	}

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ReadMeta{}, ErrAssignmentNotFound
		}
		s.logger.Warn().Err(err).Str("student_id", studentID).Msg("student store unavailable, checking visibility only")
		return response, meta, nil
	}
	if response.FacultyDepartment != student.Department || !slices.Contains(response.TargetYears, student.Year) {
		return dto.AssignmentResponse{}, ReadMeta{}, ErrAssignmentNotFound
	}

	return response, meta, nil
}

func (s *assignmentService) ListForStudent(ctx context.Context, studentID string) ([]dto.AssignmentResponse, ReadMeta, error) {
	cacheKey := "assignments:student:" + studentID

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ReadMeta{}, newValidationError("student_id", "student not found")
		}
		return s.degradeStudentListing(ctx, cacheKey, err)
	}

	assignments, err := s.repo.List(ctx, repository.AssignmentFilter{
		Department:  student.Department,
		VisibleOnly: true,
		Sort:        "due_date",
	})
	if err != nil {
		return s.degradeStudentListing(ctx, cacheKey, err)
	}

	latest := map[string]models.Submission{}
	if s.submissions != nil {
		submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: studentID})
		if err != nil {
			s.logger.Warn().Err(err).Str("student_id", studentID).Msg("failed to attach student submissions")
		}
		// Listing is newest first, keep the first per assignment.
		for _, submission := range submissions {
			if _, seen := latest[submission.AssignmentID]; !seen {
				latest[submission.AssignmentID] = submission
			}
		}
	}

	responses := make([]dto.AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		if !assignment.Targets(student.Department, student.Year) {
			continue
		}
		response := dto.NewAssignmentResponse(assignment)
		if submission, ok := latest[assignment.ID]; ok {
			attached := dto.NewSubmissionResponse(submission)
			response.Submission = &attached
		}
		responses = append(responses, response)
	}

	s.cache.Store(ctx, cacheKey, responses)
	return responses, ReadMeta{Source: ReadSourceStore}, nil
}

func (s *assignmentService) degradeStudentListing(ctx context.Context, cacheKey string, cause error) ([]dto.AssignmentResponse, ReadMeta, error) {
	s.logger.Warn().Err(cause).Str("operation", "list_for_student").Msg("assignment store unavailable, degrading read")

	var cached []dto.AssignmentResponse
	if s.cache.Load(ctx, cacheKey, &cached) {
		return cached, s.degraded("list_for_student", ReadSourceCache), nil
	}

	defaults := filterDefaults(s.defaults.DefaultAssignments(ctx), repository.AssignmentFilter{VisibleOnly: true})
	return dto.NewAssignmentResponseSlice(defaults), s.degraded("list_for_student", ReadSourceDefaults), nil
}

func (s *assignmentService) degraded(operation, source string) ReadMeta {
	observability.DegradedReads().WithLabelValues(operation, source).Inc()
	s.logger.Warn().Str("operation", operation).Str("source", source).Msg("serving degraded assignment read")
	return ReadMeta{Degraded: true, Source: source}
}

func (s *assignmentService) load(ctx context.Context, id string) (models.Assignment, error) {
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, dependencyError("load assignment", err)
	}
	return assignment, nil
}

func (s *assignmentService) setClosedAt(ctx context.Context, id string, closedAt *time.Time) error {
	if err := s.repo.SetClosedAt(ctx, id, closedAt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return dependencyError("update assignment closed_at", err)
	}
	return nil
}

// announce notifies every student targeted by the assignment. Failures never reach the caller.
func (s *assignmentService) announce(ctx context.Context, assignment models.Assignment, titlePrefix, lead string) SideEffectOutcome {
	logger := s.logger.With().Str("assignment_id", assignment.ID).Logger()

	if s.notifier == nil {
		outcome := skippedOutcome(fanOutSideEffect)
		outcome.record(logger)
		return outcome
	}

	students, err := s.students.ListByDepartmentAndYears(ctx, assignment.FacultyDepartment, []int(assignment.TargetYears))
	if err != nil {
		outcome := degradedOutcome(fanOutSideEffect, fmt.Errorf("resolve recipients: %w", err))
		outcome.record(logger)
		return outcome
	}

	recipients := make([]string, 0, len(students))
	for _, student := range students {
		recipients = append(recipients, student.ID)
	}

	outcome := s.notifier.FanOut(ctx, NotificationBatch{
		UserIDs: recipients,
		Title:   titlePrefix + assignment.Title,
		Message: fmt.Sprintf("%s Due: %s", lead, describeDueDate(assignment.DueDate)),
		Type:    models.NotificationTypeAssignment,
		Link:    "/student-dashboard/assignments/" + assignment.ID,
	})
	outcome.record(logger)
	return outcome
}

func applyAssignmentPatch(assignment *models.Assignment, patch dto.AssignmentUpdateRequest) error {
	if patch.Title != nil {
		assignment.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		assignment.Description = *patch.Description
	}
	if patch.Instructions != nil {
		assignment.Instructions = *patch.Instructions
	}
	if patch.AssignmentType != nil {
		assignment.AssignmentType = *patch.AssignmentType
	}
	if patch.AllowedFileTypes != nil {
		assignment.AllowedFileTypes = datatypes.NewJSONSlice(normalizeExtensions(*patch.AllowedFileTypes))
	}
	if patch.WordLimit != nil {
		assignment.WordLimit = patch.WordLimit
	}
	if patch.MaxMarks != nil {
		assignment.MaxMarks = *patch.MaxMarks
	}
	if patch.StartDate != nil {
		startDate, err := parseOptionalTime("start_date", patch.StartDate)
		if err != nil {
			return err
		}
		assignment.StartDate = startDate
	}
	if patch.DueDate != nil {
		dueDate, err := parseOptionalTime("due_date", patch.DueDate)
		if err != nil {
			return err
		}
		assignment.DueDate = dueDate
	}
	if patch.Visibility != nil {
		assignment.Visibility = *patch.Visibility
	}
	if patch.AllowLateSubmission != nil {
		assignment.AllowLateSubmission = *patch.AllowLateSubmission
	}
	if patch.AllowResubmission != nil {
		assignment.AllowResubmission = *patch.AllowResubmission
	}
	if patch.EnablePlagiarismCheck != nil {
		assignment.EnablePlagiarismCheck = *patch.EnablePlagiarismCheck
	}
	if patch.AllowGroupSubmission != nil {
		assignment.AllowGroupSubmission = *patch.AllowGroupSubmission
	}
	if patch.ClassID != nil {
		assignment.ClassID = *patch.ClassID
	}
	if patch.TargetYears != nil {
		assignment.TargetYears = datatypes.NewJSONSlice(*patch.TargetYears)
	}
	return nil
}

func parseOptionalTime(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "must be an RFC3339 timestamp", Err: err}
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func validateSchedule(startDate, dueDate *time.Time) error {
	if startDate != nil && dueDate != nil && !dueDate.After(*startDate) {
		return newValidationError("due_date", "must be after start_date")
	}
	return nil
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

func describeDueDate(dueDate *time.Time) string {
	if dueDate == nil {
		return "no due date"
	}
	return dueDate.UTC().Format("2006-01-02")
}
