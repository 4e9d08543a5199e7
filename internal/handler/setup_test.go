package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/config"
	"github.com/noah-isme/campus-portal-api/internal/database"
	"github.com/noah-isme/campus-portal-api/internal/handler"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/router"
	"github.com/noah-isme/campus-portal-api/internal/service"
)

type testEnv struct {
	app     *fiber.App
	db      *gorm.DB
	faculty models.Faculty
	student models.Student
	storage *fakeStorage

	notifications service.NotificationService
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

type fakeStorage struct {
	uploaded []string
	deleted  []string
}

func (f *fakeStorage) Upload(_ context.Context, name string, _ io.Reader) (string, string, error) {
	f.uploaded = append(f.uploaded, name)
	return "https://cdn.example.com/" + name, "campus/" + name, nil
}

func (f *fakeStorage) Delete(_ context.Context, publicID string) error {
	f.deleted = append(f.deleted, publicID)
	return nil
}

// setupEnv builds the full API on an in-memory database. Requests authenticate through the
// X-Test-User and X-Test-Role headers.
func setupEnv(t *testing.T, name string) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	faculty := models.Faculty{Name: "Dr. Ada", Email: name + "-ada@campus.test", Department: "Computer Science"}
	require.NoError(t, db.Create(&faculty).Error)
	student := models.Student{Name: "Lin", Email: name + "-lin@campus.test", Department: "Computer Science", Year: 2}
	require.NoError(t, db.Create(&student).Error)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	storage := &fakeStorage{}

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), nil, nil, "", logger)

	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	assignments := service.NewAuditedAssignmentService(service.NewAssignmentService(service.AssignmentDependencies{
		Assignments: assignmentRepo,
		Faculty:     repository.NewFacultyRepository(db),
		Students:    studentRepo,
		Submissions: submissionRepo,
		Notifier:    notifications,
	}, validate, logger), activity, logger)
	submissions := service.NewSubmissionService(assignmentRepo, studentRepo, submissionRepo, nil, validate, logger)
	grading := service.NewAuditedGradingService(
		service.NewGradingService(submissionRepo, assignmentRepo, notifications, validate, logger), activity, logger)
	comments := service.NewCommentService(repository.NewCommentRepository(db), assignmentRepo, validate, logger)
	uploads := service.NewUploadService(storage, 1, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test"}, router.Dependencies{
		AssignmentHandler:   handler.NewAssignmentHandler(assignments, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissions, grading, 100, logger),
		CommentHandler:      handler.NewCommentHandler(comments, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, time.Second),
		UploadHandler:       handler.NewUploadHandler(uploads, logger),
		ActivityHandler:     handler.NewActivityHandler(activity, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id := c.Get("X-Test-User"); id != "" {
				c.Locals("user_id", id)
			}
			if role := c.Get("X-Test-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return &testEnv{app: app, db: db, faculty: faculty, student: student, storage: storage, notifications: notifications}
}

func (e *testEnv) asFaculty() map[string]string {
	return map[string]string{"X-Test-User": e.faculty.ID, "X-Test-Role": "faculty"}
}

func (e *testEnv) asStudent() map[string]string {
	return map[string]string{"X-Test-User": e.student.ID, "X-Test-Role": "student"}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var out envelope
	decodeResponse(t, resp, &out)
	return resp, out
}

// createAssignment publishes an assignment owned by the env faculty and returns its id.
func (e *testEnv) createAssignment(t *testing.T, overrides map[string]interface{}) string {
	t.Helper()

	payload := map[string]interface{}{
		"title":        "Graph Algorithms",
		"description":  "Implement Dijkstra",
		"max_marks":    100,
		"due_date":     time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"visibility":   true,
		"target_years": []int{2},
	}
	for key, value := range overrides {
		payload[key] = value
	}

	resp, body := e.do(t, http.MethodPost, "/api/v1/assignments", payload, e.asFaculty())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body.Message)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.NotEmpty(t, created.ID)
	return created.ID
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target), string(data))
}

func unmarshalData(t *testing.T, body envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body.Data, target))
}
