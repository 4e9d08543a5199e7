package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/pkg/plagiarism"
)

const (
	plagiarismSideEffect     = "plagiarism_dispatch"
	plagiarismQueueGroup     = "plagiarism-workers"
	plagiarismSweepBatchSize = 100
	defaultScorerTimeout     = 15 * time.Second
	defaultFetchLimit        = 20 << 20
)

// PlagiarismJobMessage is the payload published for every queued file job.
type PlagiarismJobMessage struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id"`
	FileURL      string `json:"file_url"`
}

// JobPublisher hands queued plagiarism jobs to the worker fleet.
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.PlagiarismJob) error
}

type natsJobPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSJobPublisher publishes jobs on the given subject. A nil connection yields nil.
func NewNATSJobPublisher(conn *nats.Conn, subject string) JobPublisher {
	if conn == nil || subject == "" {
		return nil
	}
	return &natsJobPublisher{conn: conn, subject: subject}
}

func (p *natsJobPublisher) PublishJob(_ context.Context, job models.PlagiarismJob) error {
	payload, err := json.Marshal(PlagiarismJobMessage{
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		FileURL:      job.FileURL,
	})
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, payload)
}

// PlagiarismDispatcher routes a stored submission to synchronous scoring or an async job.
type PlagiarismDispatcher interface {
	Dispatch(ctx context.Context, submission *models.Submission) SideEffectOutcome
}

// PlagiarismDependencies groups the collaborators of the dispatcher and the worker.
type PlagiarismDependencies struct {
	Submissions repository.SubmissionRepository
	Jobs        repository.PlagiarismJobRepository
	Assignments repository.AssignmentRepository
	Scorer      plagiarism.Scorer
	Publisher   JobPublisher
	Notifier    NotificationFanOut
	Fetcher     FileFetcher
	Vendor      string
	Timeout     time.Duration
}

type plagiarismDispatcher struct {
	submissions repository.SubmissionRepository
	jobs        repository.PlagiarismJobRepository
	scorer      plagiarism.Scorer
	publisher   JobPublisher
	vendor      string
	timeout     time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewPlagiarismDispatcher constructs the dispatcher used right after a submission is stored.
func NewPlagiarismDispatcher(deps PlagiarismDependencies, logger zerolog.Logger) PlagiarismDispatcher {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultScorerTimeout
	}
	vendor := deps.Vendor
	if vendor == "" {
		vendor = "internal"
	}

	return &plagiarismDispatcher{
		submissions: deps.Submissions,
		jobs:        deps.Jobs,
		scorer:      deps.Scorer,
		publisher:   deps.Publisher,
		vendor:      vendor,
		timeout:     timeout,
		logger:      logger.With().Str("component", "plagiarism_dispatcher").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/plagiarism"),
		now:         time.Now,
	}
}

// Dispatch never returns an error. Any failure is written to the submission as plagiarism_status=failed.
// The plagiarism fields of submission are updated in place to mirror what was stored.
func (d *plagiarismDispatcher) Dispatch(ctx context.Context, submission *models.Submission) SideEffectOutcome {
	ctx, span := d.tracer.Start(ctx, "plagiarism.dispatch", trace.WithAttributes(
		attribute.String("submission.id", submission.ID),
		attribute.String("submission.type", submission.SubmissionType),
	))
	defer span.End()

	logger := d.logger.With().Str("submission_id", submission.ID).Logger()

	// A resubmission replaces the row in place; older jobs must not write back onto it.
	if d.jobs != nil {
		if superseded, err := d.jobs.SupersedeOpen(ctx, submission.ID); err != nil {
			logger.Warn().Err(err).Msg("failed to retire open plagiarism jobs")
		} else if superseded > 0 {
			logger.Info().Int64("jobs", superseded).Msg("retired open plagiarism jobs")
		}
	}

	var outcome SideEffectOutcome
	switch {
	case submission.SubmissionType == models.SubmissionTypeText && submission.Content != nil && strings.TrimSpace(*submission.Content) != "":
		outcome = d.scoreText(ctx, submission)
		observability.PlagiarismOutcomes().WithLabelValues(models.SubmissionTypeText, plagiarismStatusLabel(submission)).Inc()
	case len(submission.Files) > 0:
		outcome = d.enqueueFile(ctx, submission)
		observability.PlagiarismOutcomes().WithLabelValues(models.SubmissionTypeFile, plagiarismStatusLabel(submission)).Inc()
	default:
		outcome = skippedOutcome(plagiarismSideEffect)
	}

	if outcome.Degraded() {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "plagiarism_failed")
	}
	outcome.record(logger)
	return outcome
}

func (d *plagiarismDispatcher) scoreText(ctx context.Context, submission *models.Submission) SideEffectOutcome {
	if d.scorer == nil {
		return skippedOutcome(plagiarismSideEffect)
	}

	scoreCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	result, err := d.scorer.Score(scoreCtx, plagiarism.Request{
		Text:  *submission.Content,
		Title: "Submission " + submission.ID,
	})
	observability.PlagiarismScoreLatency().WithLabelValues(d.scorer.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return d.markFailed(ctx, submission, fmt.Errorf("score text: %w", err))
	}

	processedAt := d.now().UTC()
	update := repository.PlagiarismUpdate{
		Status:      models.PlagiarismStatusCompleted,
		Score:       result.Score,
		ReportURL:   optionalString(result.ReportURL),
		OCRUsed:     false,
		ProcessedAt: &processedAt,
	}
	if err := d.submissions.UpdatePlagiarism(ctx, submission.ID, update); err != nil {
		return d.markFailed(ctx, submission, fmt.Errorf("store plagiarism result: %w", err))
	}

	applyPlagiarismUpdate(submission, update)
	return okOutcome(plagiarismSideEffect)
}

func (d *plagiarismDispatcher) enqueueFile(ctx context.Context, submission *models.Submission) SideEffectOutcome {
	job := models.PlagiarismJob{
		SubmissionID: submission.ID,
		Vendor:       d.vendor,
		Status:       models.PlagiarismStatusPending,
		InputType:    models.SubmissionTypeFile,
		FileURL:      submission.Files[0].FileURL,
	}
	if err := d.jobs.Create(ctx, &job); err != nil {
		return d.markFailed(ctx, submission, fmt.Errorf("create plagiarism job: %w", err))
	}

	update := repository.PlagiarismUpdate{Status: models.PlagiarismStatusProcessing}
	if err := d.submissions.UpdatePlagiarism(ctx, submission.ID, update); err != nil {
		return d.markFailed(ctx, submission, fmt.Errorf("mark submission processing: %w", err))
	}
	applyPlagiarismUpdate(submission, update)

	if d.publisher != nil {
		// The job row stays pending for the worker sweep when the publish is lost.
		if err := d.publisher.PublishJob(ctx, job); err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish plagiarism job")
		}
	}

	d.logger.Info().Str("submission_id", submission.ID).Str("job_id", job.ID).Msg("plagiarism job queued")
	return okOutcome(plagiarismSideEffect)
}

func (d *plagiarismDispatcher) markFailed(ctx context.Context, submission *models.Submission, cause error) SideEffectOutcome {
	processedAt := d.now().UTC()
	update := repository.PlagiarismUpdate{Status: models.PlagiarismStatusFailed, ProcessedAt: &processedAt}
	if err := d.submissions.UpdatePlagiarism(ctx, submission.ID, update); err != nil {
		cause = errors.Join(cause, fmt.Errorf("mark plagiarism failed: %w", err))
	}
	applyPlagiarismUpdate(submission, update)
	return degradedOutcome(plagiarismSideEffect, cause)
}

// FileFetcher downloads a stored submission file.
type FileFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type httpFileFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFileFetcher builds a fetcher using an instrumented HTTP client.
func NewHTTPFileFetcher(client *http.Client, maxBytes int64) FileFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultFetchLimit
	}
	return &httpFileFetcher{client: plagiarism.InstrumentClient(client), maxBytes: maxBytes}
}

func (f *httpFileFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: file exceeds %d bytes", url, f.maxBytes)
	}
	return body, nil
}

// PlagiarismWorker processes queued file jobs outside the request path.
type PlagiarismWorker interface {
	Process(ctx context.Context, jobID string) error
	Sweep(ctx context.Context) (int, error)
	Subscribe(ctx context.Context, conn *nats.Conn, subject string) (*nats.Subscription, error)
}

type plagiarismWorker struct {
	submissions repository.SubmissionRepository
	jobs        repository.PlagiarismJobRepository
	assignments repository.AssignmentRepository
	scorer      plagiarism.Scorer
	fetcher     FileFetcher
	notifier    NotificationFanOut
	timeout     time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewPlagiarismWorker constructs the worker used by the plagiarism worker binary.
func NewPlagiarismWorker(deps PlagiarismDependencies, logger zerolog.Logger) PlagiarismWorker {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultScorerTimeout
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFileFetcher(nil, 0)
	}

	return &plagiarismWorker{
		submissions: deps.Submissions,
		jobs:        deps.Jobs,
		assignments: deps.Assignments,
		scorer:      deps.Scorer,
		fetcher:     fetcher,
		notifier:    deps.Notifier,
		timeout:     timeout,
		logger:      logger.With().Str("component", "plagiarism_worker").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/plagiarism_worker"),
		now:         time.Now,
	}
}

// Process scores one pending job. Claiming is atomic and results of superseded jobs are discarded.
func (w *plagiarismWorker) Process(ctx context.Context, jobID string) error {
	ctx, span := w.tracer.Start(ctx, "plagiarism.process", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load plagiarism job %s: %w", jobID, err)
	}
	if job.Status != models.PlagiarismStatusPending {
		return nil
	}

	logger := w.logger.With().Str("job_id", job.ID).Str("submission_id", job.SubmissionID).Logger()

	claimed, err := w.jobs.Claim(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim plagiarism job: %w", err)
	}
	if !claimed {
		logger.Debug().Msg("plagiarism job claimed elsewhere")
		return nil
	}
	job.Status = models.PlagiarismStatusProcessing
	job.Attempts++

	current, err := w.isCurrent(ctx, job)
	if err != nil {
		return fmt.Errorf("check plagiarism job: %w", err)
	}
	if !current {
		return w.finishSuperseded(ctx, &job, logger)
	}

	result, err := w.scoreFile(ctx, job)
	if err != nil {
		logger.Warn().Err(err).Msg("plagiarism job failed")
		span.RecordError(err)
		return w.finishFailed(ctx, &job, err)
	}

	// The submission may have been replaced while the file was scored.
	current, err = w.isCurrent(ctx, job)
	if err != nil {
		return fmt.Errorf("check plagiarism job: %w", err)
	}
	if !current {
		return w.finishSuperseded(ctx, &job, logger)
	}

	completedAt := w.now().UTC()
	job.Status = models.PlagiarismStatusCompleted
	job.Error = ""
	job.CompletedAt = &completedAt
	finished, err := w.jobs.Finish(ctx, &job)
	if err != nil {
		return fmt.Errorf("mark plagiarism job completed: %w", err)
	}
	if !finished {
		logger.Info().Msg("plagiarism job superseded while scoring")
		return nil
	}

	if err := w.submissions.UpdatePlagiarism(ctx, job.SubmissionID, repository.PlagiarismUpdate{
		Status:      models.PlagiarismStatusCompleted,
		Score:       result.Score,
		ReportURL:   optionalString(result.ReportURL),
		OCRUsed:     false,
		ProcessedAt: &completedAt,
	}); err != nil {
		return fmt.Errorf("store plagiarism result: %w", err)
	}

	observability.PlagiarismOutcomes().WithLabelValues(models.SubmissionTypeFile, models.PlagiarismStatusCompleted).Inc()
	logger.Info().Msg("plagiarism job completed")

	w.notifyFaculty(ctx, job.SubmissionID, logger)
	return nil
}

// isCurrent reports whether the job still describes the submission: the submission is a file
// submission whose first file is the job's file, and no newer job exists for it.
func (w *plagiarismWorker) isCurrent(ctx context.Context, job models.PlagiarismJob) (bool, error) {
	submission, err := w.submissions.GetByID(ctx, job.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if submission.SubmissionType != models.SubmissionTypeFile || len(submission.Files) == 0 ||
		submission.Files[0].FileURL != job.FileURL {
		return false, nil
	}

	latest, err := w.jobs.LatestForSubmission(ctx, job.SubmissionID)
	if err != nil {
		return false, err
	}
	return latest.ID == job.ID, nil
}

func (w *plagiarismWorker) finishSuperseded(ctx context.Context, job *models.PlagiarismJob, logger zerolog.Logger) error {
	completedAt := w.now().UTC()
	job.Status = models.PlagiarismJobStatusSuperseded
	job.Error = "superseded by a newer submission"
	job.CompletedAt = &completedAt
	if _, err := w.jobs.Finish(ctx, job); err != nil {
		return fmt.Errorf("mark plagiarism job superseded: %w", err)
	}
	observability.PlagiarismOutcomes().WithLabelValues(models.SubmissionTypeFile, models.PlagiarismJobStatusSuperseded).Inc()
	logger.Info().Msg("plagiarism job superseded, result discarded")
	return nil
}

// Sweep processes jobs still pending, covering publishes that never reached a worker.
func (w *plagiarismWorker) Sweep(ctx context.Context) (int, error) {
	jobs, err := w.jobs.ListByStatus(ctx, models.PlagiarismStatusPending, plagiarismSweepBatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.Process(ctx, job.ID); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweep failed to process job")
			continue
		}
		processed++
	}
	return processed, nil
}

// Subscribe consumes job messages. Workers share one queue group so each job is processed once.
func (w *plagiarismWorker) Subscribe(ctx context.Context, conn *nats.Conn, subject string) (*nats.Subscription, error) {
	return conn.QueueSubscribe(subject, plagiarismQueueGroup, func(msg *nats.Msg) {
		var message PlagiarismJobMessage
		if err := json.Unmarshal(msg.Data, &message); err != nil {
			w.logger.Warn().Err(err).Msg("invalid plagiarism job message")
			return
		}
		if err := w.Process(ctx, message.JobID); err != nil {
			w.logger.Error().Err(err).Str("job_id", message.JobID).Msg("failed to process plagiarism job")
		}
	})
}

func (w *plagiarismWorker) scoreFile(ctx context.Context, job models.PlagiarismJob) (plagiarism.Result, error) {
	if w.scorer == nil {
		return plagiarism.Result{}, errors.New("no plagiarism scorer configured")
	}

	content, err := w.fetcher.Fetch(ctx, job.FileURL)
	if err != nil {
		return plagiarism.Result{}, fmt.Errorf("fetch file: %w", err)
	}

	detected := mimetype.Detect(content)
	if !detected.Is("text/plain") {
		return plagiarism.Result{}, fmt.Errorf("unsupported file type %s: text extraction is not available", detected.String())
	}

	scoreCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	result, err := w.scorer.Score(scoreCtx, plagiarism.Request{
		Text:  string(content),
		Title: "Submission " + job.SubmissionID,
	})
	observability.PlagiarismScoreLatency().WithLabelValues(w.scorer.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return plagiarism.Result{}, fmt.Errorf("score file: %w", err)
	}
	return result, nil
}

func (w *plagiarismWorker) finishFailed(ctx context.Context, job *models.PlagiarismJob, cause error) error {
	completedAt := w.now().UTC()
	job.Status = models.PlagiarismStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &completedAt
	finished, err := w.jobs.Finish(ctx, job)
	if err != nil {
		return fmt.Errorf("mark plagiarism job failed: %w", err)
	}
	if !finished {
		return nil
	}

	if err := w.submissions.UpdatePlagiarism(ctx, job.SubmissionID, repository.PlagiarismUpdate{
		Status:      models.PlagiarismStatusFailed,
		ProcessedAt: &completedAt,
	}); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("mark submission plagiarism failed: %w", err)
	}

	observability.PlagiarismOutcomes().WithLabelValues(models.SubmissionTypeFile, models.PlagiarismStatusFailed).Inc()
	return nil
}

func (w *plagiarismWorker) notifyFaculty(ctx context.Context, submissionID string, logger zerolog.Logger) {
	if w.notifier == nil || w.assignments == nil {
		return
	}

	submission, err := w.submissions.GetByID(ctx, submissionID)
	if err != nil {
		degradedOutcome(fanOutSideEffect, err).record(logger)
		return
	}
	assignment, err := w.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		degradedOutcome(fanOutSideEffect, err).record(logger)
		return
	}

	w.notifier.FanOut(ctx, NotificationBatch{
		UserIDs: []string{assignment.FacultyID},
		Title:   "Plagiarism check completed: " + assignment.Title,
		Message: "A plagiarism report is available for a file submission.",
		Type:    models.NotificationTypePlagiarismCompleted,
		Link:    "/dashboard/assignments/manage/" + assignment.ID,
	}).record(logger)
}

func applyPlagiarismUpdate(submission *models.Submission, update repository.PlagiarismUpdate) {
	status := update.Status
	submission.PlagiarismStatus = &status
	submission.PlagiarismScore = update.Score
	submission.PlagiarismReportURL = update.ReportURL
	submission.OCRUsed = update.OCRUsed
	submission.ProcessedAt = update.ProcessedAt
}

func plagiarismStatusLabel(submission *models.Submission) string {
	if submission.PlagiarismStatus == nil {
		return "skipped"
	}
	return *submission.PlagiarismStatus
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
