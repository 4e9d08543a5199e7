package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
	err     error
	filter  repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(_ context.Context, entry *models.ActivityLog) error {
	if m.err != nil {
		return m.err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(_ context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.filter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSensitiveMetadata(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	resp, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    "fac-1",
		Action:     " Assignment.Created ",
		EntityType: "Assignment",
		EntityID:   "asg-1",
		Metadata:   map[string]interface{}{"email": "ada@campus.test", "reset_token": "abc", "title": "Graphs"},
	})
	require.NoError(t, err)
	require.Equal(t, "assignment.created", resp.Action)
	require.Equal(t, "assignment", resp.EntityType)
	require.Equal(t, "system", resp.ActorRole)
	require.Equal(t, "a***a@campus.test", resp.Metadata["email"])
	require.Equal(t, "***", resp.Metadata["reset_token"])
	require.Equal(t, "Graphs", resp.Metadata["title"])
	require.Len(t, repo.entries, 1)
}

func TestActivityServiceRecordRequiresActionAndEntity(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{}, testLogger())

	_, err := svc.Record(context.Background(), ActivityEntry{EntityType: "assignment"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.Record(context.Background(), ActivityEntry{Action: "assignment.created"})
	require.ErrorAs(t, err, &validationErr)
}

func TestActivityServiceListNormalisesPagination(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{Action: "submission.graded", EntityType: "submission"})
		require.NoError(t, err)
	}

	resp, err := svc.List(context.Background(), dto.ActivityListRequest{PageSize: 500, Action: " Submission.Graded "})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	require.Equal(t, 1, resp.Pagination.Page)
	require.Equal(t, 200, resp.Pagination.PageSize)
	require.EqualValues(t, 3, resp.Pagination.TotalItems)
	require.Equal(t, 1, resp.Pagination.TotalPages)
	require.Equal(t, "submission.graded", repo.filter.Action)

	resp, err = svc.List(context.Background(), dto.ActivityListRequest{})
	require.NoError(t, err)
	require.Equal(t, 25, resp.Pagination.PageSize)
}

func TestActivityServiceListWrapsStoreFailure(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{err: errStoreDown}, testLogger())

	_, err := svc.List(context.Background(), dto.ActivityListRequest{})
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	require.True(t, errors.Is(err, errStoreDown))
}

type stubAssignmentService struct {
	AssignmentService
	err error
}

func (s stubAssignmentService) Create(_ context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	if s.err != nil {
		return dto.AssignmentResponse{}, s.err
	}
	return dto.AssignmentResponse{ID: "asg-1", Title: payload.Title, Visibility: true}, nil
}

func (s stubAssignmentService) Delete(context.Context, string) error {
	return s.err
}

func TestAuditedAssignmentServiceRecordsActor(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewAuditedAssignmentService(stubAssignmentService{}, NewActivityService(repo, testLogger()), testLogger())

	ctx := ContextWithActor(context.Background(), Actor{ID: "fac-1", Role: "faculty"})
	_, err := svc.Create(ctx, dto.AssignmentCreateRequest{Title: "Graphs"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "asg-1"))

	require.Len(t, repo.entries, 2)
	created := repo.entries[0]
	require.Equal(t, ActionAssignmentCreated, created.Action)
	require.Equal(t, "assignment", created.EntityType)
	require.Equal(t, "asg-1", created.EntityID)
	require.Equal(t, "fac-1", created.ActorID)
	require.Equal(t, "faculty", created.ActorRole)
	require.Equal(t, "Graphs", created.Metadata["title"])
	require.Equal(t, ActionAssignmentDeleted, repo.entries[1].Action)
}

func TestAuditedAssignmentServiceSkipsFailedWrites(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewAuditedAssignmentService(stubAssignmentService{err: ErrAssignmentNotFound}, NewActivityService(repo, testLogger()), testLogger())

	_, err := svc.Create(context.Background(), dto.AssignmentCreateRequest{Title: "Graphs"})
	require.ErrorIs(t, err, ErrAssignmentNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), "asg-1"), ErrAssignmentNotFound)
	require.Empty(t, repo.entries)
}

func TestAuditedGradingServiceToleratesRecorderFailure(t *testing.T) {
	inner, submissions, _ := newGradingFixture(t, models.SubmissionStatusSubmitted)
	repo := &memoryActivityRepo{err: errStoreDown}
	svc := NewAuditedGradingService(inner, NewActivityService(repo, testLogger()), testLogger())

	resp, err := svc.Grade(context.Background(), "sub-1", dto.GradeRequest{Grade: float64Ptr(40)})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, resp.Status)

	stored, err := submissions.GetByID(context.Background(), "sub-1")
	require.NoError(t, err)
	require.True(t, stored.IsGraded())
}

func TestAuditedGradingServiceRecordsGrade(t *testing.T) {
	inner, _, _ := newGradingFixture(t, models.SubmissionStatusSubmitted)
	repo := &memoryActivityRepo{}
	svc := NewAuditedGradingService(inner, NewActivityService(repo, testLogger()), testLogger())

	ctx := ContextWithActor(context.Background(), Actor{ID: "fac-1", Role: "faculty"})
	_, err := svc.Grade(ctx, "sub-1", dto.GradeRequest{Grade: float64Ptr(40)})
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	require.Equal(t, ActionSubmissionGraded, entry.Action)
	require.Equal(t, "sub-1", entry.EntityID)
	require.Equal(t, "asg-1", entry.Metadata["assignment_id"])
	require.InDelta(t, 40, entry.Metadata["grade"], 0.001)
}

func TestMaskEmailAddress(t *testing.T) {
	require.Equal(t, "a***a@campus.test", maskEmailAddress(" Ada@Campus.test "))
	require.Equal(t, "j***@campus.test", maskEmailAddress("jo@campus.test"))
	require.Equal(t, "***", maskEmailAddress("not-an-email"))
	require.Equal(t, "***", maskEmailAddress("@campus.test"))
	require.Empty(t, maskEmailAddress(""))
}

func TestAuditWithoutRecorderIsSkipped(t *testing.T) {
	outcome := audit(context.Background(), nil, testLogger(), ActivityEntry{Action: "x", EntityType: "y"})
	require.Equal(t, SideEffectSkipped, outcome.Status)
}
