package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/pkg/plagiarism"
)

var errStoreDown = errors.New("store unavailable")

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

type memoryAssignmentRepo struct {
	mu          sync.Mutex
	assignments map[string]models.Assignment
	failReads   error
}

func newMemoryAssignmentRepo(items ...models.Assignment) *memoryAssignmentRepo {
	repo := &memoryAssignmentRepo{assignments: make(map[string]models.Assignment)}
	for _, item := range items {
		repo.assignments[item.ID] = item
	}
	return repo
}

func (m *memoryAssignmentRepo) List(_ context.Context, filter repository.AssignmentFilter) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	out := make([]models.Assignment, 0, len(m.assignments))
	for _, item := range m.assignments {
		out = append(out, item)
	}
	out = filterDefaults(out, filter)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryAssignmentRepo) GetByID(_ context.Context, id string) (models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return models.Assignment{}, m.failReads
	}
	item, ok := m.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (m *memoryAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.CreatedAt = time.Now()
	assignment.UpdatedAt = assignment.CreatedAt
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[assignment.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	assignment.UpdatedAt = time.Now()
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) SetClosedAt(_ context.Context, id string, closedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.assignments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	item.ClosedAt = closedAt
	m.assignments[id] = item
	return nil
}

func (m *memoryAssignmentRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.assignments, id)
	return nil
}

type memoryFacultyRepo struct {
	faculty map[string]models.Faculty
}

func newMemoryFacultyRepo(items ...models.Faculty) *memoryFacultyRepo {
	repo := &memoryFacultyRepo{faculty: make(map[string]models.Faculty)}
	for _, item := range items {
		repo.faculty[item.ID] = item
	}
	return repo
}

func (m *memoryFacultyRepo) GetByID(_ context.Context, id string) (models.Faculty, error) {
	item, ok := m.faculty[id]
	if !ok {
		return models.Faculty{}, gorm.ErrRecordNotFound
	}
	return item, nil
}

type memoryStudentRepo struct {
	students map[string]models.Student
}

func newMemoryStudentRepo(items ...models.Student) *memoryStudentRepo {
	repo := &memoryStudentRepo{students: make(map[string]models.Student)}
	for _, item := range items {
		repo.students[item.ID] = item
	}
	return repo
}

func (m *memoryStudentRepo) GetByID(_ context.Context, id string) (models.Student, error) {
	item, ok := m.students[id]
	if !ok {
		return models.Student{}, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (m *memoryStudentRepo) ListByDepartmentAndYears(_ context.Context, department string, years []int) ([]models.Student, error) {
	out := []models.Student{}
	for _, item := range m.students {
		if item.Department == department && slices.Contains(years, item.Year) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memorySubmissionRepo struct {
	mu           sync.Mutex
	submissions  map[string]models.Submission
	order        map[string]int
	seq          int
	creates      int
	replaces     int
	failWrites   error
	failPlagSave error
}

func newMemorySubmissionRepo(items ...models.Submission) *memorySubmissionRepo {
	repo := &memorySubmissionRepo{
		submissions: make(map[string]models.Submission),
		order:       make(map[string]int),
	}
	for _, item := range items {
		repo.put(item)
	}
	return repo
}

func (m *memorySubmissionRepo) put(item models.Submission) {
	m.seq++
	item.Files = slices.Clone(item.Files)
	m.submissions[item.ID] = item
	m.order[item.ID] = m.seq
}

func (m *memorySubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Submission{}
	for _, item := range m.submissions {
		if filter.AssignmentID != "" && item.AssignmentID != filter.AssignmentID {
			continue
		}
		if filter.StudentID != "" && item.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	return out, nil
}

func (m *memorySubmissionRepo) GetByID(_ context.Context, id string) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	item.Files = slices.Clone(item.Files)
	return item, nil
}

func (m *memorySubmissionRepo) FindLatest(_ context.Context, assignmentID, studentID string) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		latest models.Submission
		best   = -1
	)
	for id, item := range m.submissions {
		if item.AssignmentID != assignmentID || item.StudentID != studentID {
			continue
		}
		if m.order[id] > best {
			best = m.order[id]
			latest = item
		}
	}
	if best < 0 {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	latest.Files = slices.Clone(latest.Files)
	return latest, nil
}

func (m *memorySubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	for _, item := range m.submissions {
		if item.AssignmentID == submission.AssignmentID && item.StudentID == submission.StudentID {
			return gorm.ErrDuplicatedKey
		}
	}
	m.creates++
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	for i := range submission.Files {
		submission.Files[i].ID = uuid.NewString()
		submission.Files[i].SubmissionID = submission.ID
	}
	m.put(*submission)
	return nil
}

func (m *memorySubmissionRepo) Replace(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	if _, ok := m.submissions[submission.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.replaces++
	for i := range submission.Files {
		submission.Files[i].ID = uuid.NewString()
		submission.Files[i].SubmissionID = submission.ID
	}
	m.put(*submission)
	return nil
}

func (m *memorySubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	current, ok := m.submissions[submission.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	updated := *submission
	updated.Files = current.Files
	m.put(updated)
	return nil
}

func (m *memorySubmissionRepo) UpdatePlagiarism(_ context.Context, id string, update repository.PlagiarismUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPlagSave != nil {
		return m.failPlagSave
	}
	item, ok := m.submissions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyPlagiarismUpdate(&item, update)
	m.submissions[id] = item
	return nil
}

func (m *memorySubmissionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions)
}

type memoryJobRepo struct {
	mu    sync.Mutex
	jobs  map[string]models.PlagiarismJob
	order map[string]int
	seq   int
	fail  error
}

func newMemoryJobRepo() *memoryJobRepo {
	return &memoryJobRepo{jobs: make(map[string]models.PlagiarismJob), order: make(map[string]int)}
}

func (m *memoryJobRepo) Create(_ context.Context, job *models.PlagiarismJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now()
	m.seq++
	m.order[job.ID] = m.seq
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryJobRepo) GetByID(_ context.Context, id string) (models.PlagiarismJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.PlagiarismJob{}, gorm.ErrRecordNotFound
	}
	return job, nil
}

func (m *memoryJobRepo) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.PlagiarismStatusPending {
		return false, nil
	}
	job.Status = models.PlagiarismStatusProcessing
	job.Attempts++
	m.jobs[id] = job
	return true, nil
}

func (m *memoryJobRepo) Finish(_ context.Context, job *models.PlagiarismJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok || stored.Status != models.PlagiarismStatusProcessing {
		return false, nil
	}
	stored.Status = job.Status
	stored.Error = job.Error
	stored.CompletedAt = job.CompletedAt
	m.jobs[job.ID] = stored
	return true, nil
}

func (m *memoryJobRepo) SupersedeOpen(_ context.Context, submissionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	var n int64
	for id, job := range m.jobs {
		if job.SubmissionID != submissionID {
			continue
		}
		if job.Status == models.PlagiarismStatusPending || job.Status == models.PlagiarismStatusProcessing {
			job.Status = models.PlagiarismJobStatusSuperseded
			job.Error = "superseded by a newer submission"
			m.jobs[id] = job
			n++
		}
	}
	return n, nil
}

func (m *memoryJobRepo) LatestForSubmission(_ context.Context, submissionID string) (models.PlagiarismJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest models.PlagiarismJob
	best := 0
	for id, job := range m.jobs {
		if job.SubmissionID == submissionID && m.order[id] > best {
			latest, best = job, m.order[id]
		}
	}
	if best == 0 {
		return models.PlagiarismJob{}, gorm.ErrRecordNotFound
	}
	return latest, nil
}

func (m *memoryJobRepo) ListByStatus(_ context.Context, status string, limit int) ([]models.PlagiarismJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PlagiarismJob{}
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryJobRepo) all() []models.PlagiarismJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PlagiarismJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	return out
}

type memoryNotificationRepo struct {
	mu    sync.Mutex
	items []models.Notification
	fail  error
}

func (m *memoryNotificationRepo) Create(_ context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	notification.ID = uuid.NewString()
	notification.CreatedAt = time.Now()
	m.items = append(m.items, *notification)
	return nil
}

func (m *memoryNotificationRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].UserID == userID {
			out = append(out, m.items[i])
		}
	}
	if offset >= len(out) {
		return []models.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryNotificationRepo) MarkRead(_ context.Context, id, userID string) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].Read = true
			return m.items[i], nil
		}
	}
	return models.Notification{}, gorm.ErrRecordNotFound
}

type memoryCommentRepo struct {
	items []models.AssignmentComment
}

func (m *memoryCommentRepo) Create(_ context.Context, comment *models.AssignmentComment) error {
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now()
	m.items = append(m.items, *comment)
	return nil
}

func (m *memoryCommentRepo) List(_ context.Context, assignmentID string, submissionID *string) ([]models.AssignmentComment, error) {
	out := []models.AssignmentComment{}
	for _, item := range m.items {
		if item.AssignmentID != assignmentID {
			continue
		}
		if submissionID != nil && (item.SubmissionID == nil || *item.SubmissionID != *submissionID) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches []NotificationBatch
	outcome SideEffectOutcome
}

func (r *recordingNotifier) FanOut(_ context.Context, batch NotificationBatch) SideEffectOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	if r.outcome.Status == "" {
		return okOutcome(fanOutSideEffect)
	}
	return r.outcome
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

type countingDispatcher struct {
	calls int
}

func (c *countingDispatcher) Dispatch(context.Context, *models.Submission) SideEffectOutcome {
	c.calls++
	return okOutcome(plagiarismSideEffect)
}

type stubScorer struct {
	mu     sync.Mutex
	result plagiarism.Result
	err    error
	calls  int
	last   plagiarism.Request
}

func (s *stubScorer) Score(_ context.Context, req plagiarism.Request) (plagiarism.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	return s.result, s.err
}

func (s *stubScorer) Name() string {
	return "stub"
}

type stubFetcher struct {
	content []byte
	err     error
}

func (s stubFetcher) Fetch(context.Context, string) ([]byte, error) {
	return s.content, s.err
}

type recordingPublisher struct {
	jobs []models.PlagiarismJob
	err  error
}

func (r *recordingPublisher) PublishJob(_ context.Context, job models.PlagiarismJob) error {
	r.jobs = append(r.jobs, job)
	return r.err
}

type storageStub struct {
	uploaded bytes.Buffer
	deleted  []string
	err      error
}

func (s *storageStub) Upload(_ context.Context, name string, reader io.Reader) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", "", err
	}
	return "https://cdn.example.com/" + name, "campus/" + name, nil
}

func (s *storageStub) Delete(_ context.Context, publicID string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, publicID)
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func float64Ptr(v float64) *float64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}
