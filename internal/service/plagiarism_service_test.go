package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/pkg/plagiarism"
)

func storedFileSubmission(t *testing.T, repo *memorySubmissionRepo) models.Submission {
	t.Helper()
	submission := models.Submission{
		ID:             "sub-file",
		AssignmentID:   "asg-1",
		StudentID:      "stu-1",
		SubmissionType: models.SubmissionTypeFile,
		Status:         models.SubmissionStatusSubmitted,
		Files: []models.SubmissionFile{
			{Name: "essay.txt", FileURL: "https://cdn.example.com/essay.txt"},
			{Name: "appendix.txt", FileURL: "https://cdn.example.com/appendix.txt"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), &submission))
	return submission
}

func TestDispatchQueuesFileJob(t *testing.T) {
	submissions := newMemorySubmissionRepo()
	jobs := newMemoryJobRepo()
	publisher := &recordingPublisher{err: errors.New("nats down")}
	dispatcher := NewPlagiarismDispatcher(PlagiarismDependencies{
		Submissions: submissions,
		Jobs:        jobs,
		Publisher:   publisher,
		Vendor:      "copyleaks",
	}, testLogger())

	submission := storedFileSubmission(t, submissions)
	outcome := dispatcher.Dispatch(context.Background(), &submission)
	require.Equal(t, SideEffectOK, outcome.Status)
	require.Equal(t, models.PlagiarismStatusProcessing, *submission.PlagiarismStatus)

	queued := jobs.all()
	require.Len(t, queued, 1)
	require.Equal(t, models.PlagiarismStatusPending, queued[0].Status)
	require.Equal(t, "https://cdn.example.com/essay.txt", queued[0].FileURL)
	require.Equal(t, "copyleaks", queued[0].Vendor)
	require.Equal(t, models.SubmissionTypeFile, queued[0].InputType)
	require.Len(t, publisher.jobs, 1)
}

func TestDispatchJobFailureMarksSubmissionFailed(t *testing.T) {
	submissions := newMemorySubmissionRepo()
	jobs := newMemoryJobRepo()
	jobs.fail = errStoreDown
	dispatcher := NewPlagiarismDispatcher(PlagiarismDependencies{Submissions: submissions, Jobs: jobs}, testLogger())

	submission := storedFileSubmission(t, submissions)
	outcome := dispatcher.Dispatch(context.Background(), &submission)
	require.True(t, outcome.Degraded())
	require.ErrorIs(t, outcome.Err, errStoreDown)

	stored, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusFailed, *stored.PlagiarismStatus)
	require.NotNil(t, stored.ProcessedAt)
}

func TestDispatchWithoutScorerSkipsText(t *testing.T) {
	submissions := newMemorySubmissionRepo()
	dispatcher := NewPlagiarismDispatcher(PlagiarismDependencies{Submissions: submissions, Jobs: newMemoryJobRepo()}, testLogger())

	submission := models.Submission{ID: "sub-text", SubmissionType: models.SubmissionTypeText, Content: stringPtr("hello")}
	require.NoError(t, submissions.Create(context.Background(), &submission))

	outcome := dispatcher.Dispatch(context.Background(), &submission)
	require.Equal(t, SideEffectSkipped, outcome.Status)
	require.Nil(t, submission.PlagiarismStatus)
}

func TestDispatchHonoursScorerTimeout(t *testing.T) {
	submissions := newMemorySubmissionRepo()
	dispatcher := NewPlagiarismDispatcher(PlagiarismDependencies{
		Submissions: submissions,
		Jobs:        newMemoryJobRepo(),
		Scorer:      blockingScorer{},
		Timeout:     20 * time.Millisecond,
	}, testLogger())

	submission := models.Submission{ID: "sub-slow", SubmissionType: models.SubmissionTypeText, Content: stringPtr("slow")}
	require.NoError(t, submissions.Create(context.Background(), &submission))

	outcome := dispatcher.Dispatch(context.Background(), &submission)
	require.True(t, outcome.Degraded())
	require.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	require.Equal(t, models.PlagiarismStatusFailed, *submission.PlagiarismStatus)
}

type blockingScorer struct{}

func (blockingScorer) Score(ctx context.Context, _ plagiarism.Request) (plagiarism.Result, error) {
	<-ctx.Done()
	return plagiarism.Result{}, ctx.Err()
}

func (blockingScorer) Name() string { return "blocking" }

func newWorkerFixture(t *testing.T, fetcher FileFetcher, scorer plagiarism.Scorer) (PlagiarismWorker, *memorySubmissionRepo, *memoryJobRepo, *recordingNotifier, models.PlagiarismJob) {
	t.Helper()

	submissions := newMemorySubmissionRepo()
	jobs := newMemoryJobRepo()
	notifier := &recordingNotifier{}
	assignments := newMemoryAssignmentRepo(models.Assignment{ID: "asg-1", Title: "Essay", FacultyID: "fac-1"})

	submission := storedFileSubmission(t, submissions)
	job := models.PlagiarismJob{
		SubmissionID: submission.ID,
		Vendor:       "internal",
		Status:       models.PlagiarismStatusPending,
		InputType:    models.SubmissionTypeFile,
		FileURL:      submission.Files[0].FileURL,
	}
	require.NoError(t, jobs.Create(context.Background(), &job))

	worker := NewPlagiarismWorker(PlagiarismDependencies{
		Submissions: submissions,
		Jobs:        jobs,
		Assignments: assignments,
		Scorer:      scorer,
		Fetcher:     fetcher,
		Notifier:    notifier,
	}, testLogger())
	worker.(*plagiarismWorker).now = fixedClock(submissionNow)

	return worker, submissions, jobs, notifier, job
}

func TestWorkerScoresPlainTextFile(t *testing.T) {
	scorer := &stubScorer{result: plagiarism.Result{Score: float64Ptr(33), ReportURL: "https://reports.example.com/x"}}
	worker, submissions, jobs, notifier, job := newWorkerFixture(t, stubFetcher{content: []byte("an essay about trees\n")}, scorer)
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, job.ID))

	processed, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusCompleted, processed.Status)
	require.Equal(t, 1, processed.Attempts)
	require.NotNil(t, processed.CompletedAt)

	stored, err := submissions.GetByID(ctx, job.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusCompleted, *stored.PlagiarismStatus)
	require.InDelta(t, 33, *stored.PlagiarismScore, 0.001)
	require.Equal(t, "https://reports.example.com/x", *stored.PlagiarismReportURL)
	require.Equal(t, "an essay about trees\n", scorer.last.Text)

	require.Equal(t, 1, notifier.count())
	require.Equal(t, []string{"fac-1"}, notifier.batches[0].UserIDs)
	require.Equal(t, models.NotificationTypePlagiarismCompleted, notifier.batches[0].Type)

	require.NoError(t, worker.Process(ctx, job.ID))
	require.Equal(t, 1, scorer.calls)
}

func TestWorkerFailsBinaryFiles(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")
	scorer := &stubScorer{}
	worker, submissions, jobs, notifier, job := newWorkerFixture(t, stubFetcher{content: pdf}, scorer)
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, job.ID))

	processed, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusFailed, processed.Status)
	require.Contains(t, processed.Error, "unsupported file type")

	stored, err := submissions.GetByID(ctx, job.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusFailed, *stored.PlagiarismStatus)
	require.Equal(t, 0, scorer.calls)
	require.Equal(t, 0, notifier.count())
}

func TestWorkerSweepProcessesPendingJobs(t *testing.T) {
	scorer := &stubScorer{result: plagiarism.Result{Score: float64Ptr(5)}}
	worker, _, jobs, _, job := newWorkerFixture(t, stubFetcher{err: errors.New("404")}, scorer)
	ctx := context.Background()

	processed, err := worker.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	failed, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusFailed, failed.Status)

	processed, err = worker.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, processed)
}

func TestWorkerUnknownJob(t *testing.T) {
	worker, _, _, _, _ := newWorkerFixture(t, stubFetcher{}, &stubScorer{})
	require.Error(t, worker.Process(context.Background(), "missing"))
}

func TestResubmittedTextDiscardsQueuedFileJob(t *testing.T) {
	ctx := context.Background()
	submissions := newMemorySubmissionRepo()
	jobs := newMemoryJobRepo()
	deps := PlagiarismDependencies{
		Submissions: submissions,
		Jobs:        jobs,
		Assignments: newMemoryAssignmentRepo(models.Assignment{ID: "asg-1", Title: "Essay", FacultyID: "fac-1"}),
		Scorer:      &stubScorer{result: plagiarism.Result{Score: float64Ptr(10)}},
		Fetcher:     stubFetcher{content: []byte("the old essay\n")},
	}
	dispatcher := NewPlagiarismDispatcher(deps, testLogger())

	submission := storedFileSubmission(t, submissions)
	require.Equal(t, SideEffectOK, dispatcher.Dispatch(ctx, &submission).Status)
	fileJob := jobs.all()[0]

	submission.SubmissionType = models.SubmissionTypeText
	submission.Content = stringPtr("a rewritten answer")
	submission.Files = nil
	resetPlagiarism(&submission)
	require.NoError(t, submissions.Replace(ctx, &submission))
	require.Equal(t, SideEffectOK, dispatcher.Dispatch(ctx, &submission).Status)

	retired, err := jobs.GetByID(ctx, fileJob.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismJobStatusSuperseded, retired.Status)

	deps.Scorer = &stubScorer{result: plagiarism.Result{Score: float64Ptr(90)}}
	worker := NewPlagiarismWorker(deps, testLogger())
	processed, err := worker.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, processed)
	require.NoError(t, worker.Process(ctx, fileJob.ID))

	stored, err := submissions.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionTypeText, stored.SubmissionType)
	require.Equal(t, models.PlagiarismStatusCompleted, *stored.PlagiarismStatus)
	require.InDelta(t, 10, *stored.PlagiarismScore, 0.001)
}

func TestWorkerDiscardsJobForReplacedFile(t *testing.T) {
	scorer := &stubScorer{result: plagiarism.Result{Score: float64Ptr(70)}}
	worker, submissions, jobs, notifier, job := newWorkerFixture(t, stubFetcher{content: []byte("old file\n")}, scorer)
	ctx := context.Background()

	submission, err := submissions.GetByID(ctx, job.SubmissionID)
	require.NoError(t, err)
	submission.Files = []models.SubmissionFile{{Name: "v2.txt", FileURL: "https://cdn.example.com/v2.txt"}}
	require.NoError(t, submissions.Replace(ctx, &submission))

	require.NoError(t, worker.Process(ctx, job.ID))

	stale, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismJobStatusSuperseded, stale.Status)
	require.NotNil(t, stale.CompletedAt)

	stored, err := submissions.GetByID(ctx, job.SubmissionID)
	require.NoError(t, err)
	require.Nil(t, stored.PlagiarismScore)
	require.Equal(t, 0, scorer.calls)
	require.Equal(t, 0, notifier.count())
}

func TestWorkerDiscardsOlderJobForSameFile(t *testing.T) {
	scorer := &stubScorer{result: plagiarism.Result{Score: float64Ptr(40)}}
	worker, _, jobs, _, job := newWorkerFixture(t, stubFetcher{content: []byte("same file\n")}, scorer)
	ctx := context.Background()

	newer := models.PlagiarismJob{
		SubmissionID: job.SubmissionID,
		Vendor:       "internal",
		Status:       models.PlagiarismStatusPending,
		InputType:    models.SubmissionTypeFile,
		FileURL:      job.FileURL,
	}
	require.NoError(t, jobs.Create(ctx, &newer))

	require.NoError(t, worker.Process(ctx, job.ID))
	older, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismJobStatusSuperseded, older.Status)

	require.NoError(t, worker.Process(ctx, newer.ID))
	latest, err := jobs.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusCompleted, latest.Status)
	require.Equal(t, 1, scorer.calls)
}

func TestWorkerScoresConcurrentDeliveriesOnce(t *testing.T) {
	scorer := &stubScorer{result: plagiarism.Result{Score: float64Ptr(12)}}
	worker, _, jobs, notifier, job := newWorkerFixture(t, stubFetcher{content: []byte("shared essay\n")}, scorer)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- worker.Process(ctx, job.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	processed, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlagiarismStatusCompleted, processed.Status)
	require.Equal(t, 1, processed.Attempts)
	require.Equal(t, 1, scorer.calls)
	require.Equal(t, 1, notifier.count())
}
