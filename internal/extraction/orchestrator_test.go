package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderlens/internal/model"
)

type statusUpdate struct {
	jobID       string
	status      string
	errMsg      string
	resultCount int
}

type fakeJobStore struct {
	jobs      map[string]*model.ExtractionJob
	existing  *model.ExtractionJob
	latest    *model.ExtractionJob
	orphans   []model.ExtractionJob
	updates   []statusUpdate
	createErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.ExtractionJob)}
}

func (f *fakeJobStore) CreateIfNoneActive(job *model.ExtractionJob) (*model.ExtractionJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.existing != nil {
		return f.existing, nil
	}
	f.jobs[job.JobID] = job
	return nil, nil
}

func (f *fakeJobStore) GetByJobID(jobID string) (*model.ExtractionJob, error) {
	return f.jobs[jobID], nil
}

func (f *fakeJobStore) LatestByDocumentAndType(documentID uint, jobType string) (*model.ExtractionJob, error) {
	return f.latest, nil
}

func (f *fakeJobStore) UpdateStatus(jobID, status, errMsg string, resultCount int, completedAt *time.Time) error {
	f.updates = append(f.updates, statusUpdate{jobID: jobID, status: status, errMsg: errMsg, resultCount: resultCount})
	if job, ok := f.jobs[jobID]; ok {
		job.Status = status
		job.Error = errMsg
		job.ResultCount = resultCount
	}
	return nil
}

func (f *fakeJobStore) FailActive(cause string) ([]model.ExtractionJob, error) {
	return f.orphans, nil
}

type extractionStats struct {
	jobType string
	count   int
}

type fakeDocStore struct {
	docs         map[uint]*model.Document
	statusLog    map[uint][]string
	stats        map[uint]extractionStats
	vanishAfter  int // document disappears after this many GetByID calls (0 = never)
	getCallCount int
}

func newFakeDocStore(ids ...uint) *fakeDocStore {
	store := &fakeDocStore{
		docs:      make(map[uint]*model.Document),
		statusLog: make(map[uint][]string),
		stats:     make(map[uint]extractionStats),
	}
	for _, id := range ids {
		store.docs[id] = &model.Document{ID: id, Filename: "tender.pdf", Status: model.DocumentStatusReady}
	}
	return store
}

func (f *fakeDocStore) GetByID(id uint) (*model.Document, error) {
	f.getCallCount++
	if f.vanishAfter > 0 && f.getCallCount > f.vanishAfter {
		return nil, nil
	}
	return f.docs[id], nil
}

func (f *fakeDocStore) UpdateStatus(id uint, status string) error {
	f.statusLog[id] = append(f.statusLog[id], status)
	return nil
}

func (f *fakeDocStore) UpdateExtractionStats(id uint, jobType string, count int, at time.Time) error {
	f.stats[id] = extractionStats{jobType: jobType, count: count}
	return nil
}

type fakeDispatcher struct {
	dispatches []JobDispatch
	err        error
}

func (f *fakeDispatcher) Publish(ctx context.Context, dispatch JobDispatch) error {
	if f.err != nil {
		return f.err
	}
	f.dispatches = append(f.dispatches, dispatch)
	return nil
}

func TestStartDispatchesNewJob(t *testing.T) {
	jobs := newFakeJobStore()
	docs := newFakeDocStore(5)
	dispatcher := &fakeDispatcher{}
	orch := NewOrchestrator(jobs, docs, dispatcher)

	handle, err := orch.Start(context.Background(), 5, model.JobTypeRequirements, false)
	require.NoError(t, err)

	assert.NotEmpty(t, handle.JobID)
	assert.Equal(t, "processing", handle.Status)
	assert.Equal(t, uint(5), handle.DocumentID)

	require.Len(t, dispatcher.dispatches, 1)
	assert.Equal(t, handle.JobID, dispatcher.dispatches[0].JobID)
	assert.Equal(t, model.JobTypeRequirements, dispatcher.dispatches[0].JobType)

	assert.Equal(t, []string{model.DocumentStatusProcessing}, docs.statusLog[5])
}

func TestStartConflictReturnsExistingHandle(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.existing = &model.ExtractionJob{JobID: "existing-job", DocumentID: 5, JobType: model.JobTypeBom, Status: model.JobStatusRunning}
	docs := newFakeDocStore(5)
	dispatcher := &fakeDispatcher{}
	orch := NewOrchestrator(jobs, docs, dispatcher)

	handle, err := orch.Start(context.Background(), 5, model.JobTypeBom, false)
	require.ErrorIs(t, err, ErrJobConflict)

	require.NotNil(t, handle)
	assert.Equal(t, "existing-job", handle.JobID)
	assert.Equal(t, "processing", handle.Status)
	assert.Empty(t, dispatcher.dispatches)
}

func TestStartUnknownJobType(t *testing.T) {
	orch := NewOrchestrator(newFakeJobStore(), newFakeDocStore(5), &fakeDispatcher{})

	_, err := orch.Start(context.Background(), 5, "summaries", false)
	require.ErrorIs(t, err, ErrUnknownJobType)
}

func TestStartMissingDocument(t *testing.T) {
	orch := NewOrchestrator(newFakeJobStore(), newFakeDocStore(), &fakeDispatcher{})

	_, err := orch.Start(context.Background(), 99, model.JobTypeRequirements, false)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStartDispatchFailureReleasesSlot(t *testing.T) {
	jobs := newFakeJobStore()
	docs := newFakeDocStore(5)
	dispatcher := &fakeDispatcher{err: errors.New("broker down")}
	orch := NewOrchestrator(jobs, docs, dispatcher)

	_, err := orch.Start(context.Background(), 5, model.JobTypeRequirements, false)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrJobConflict)

	require.Len(t, jobs.updates, 1)
	assert.Equal(t, model.JobStatusFailed, jobs.updates[0].status)
	assert.Contains(t, jobs.updates[0].errMsg, "dispatch failed")
	assert.Equal(t, []string{model.DocumentStatusProcessing, model.DocumentStatusReady}, docs.statusLog[5])
}

func TestStatusWithoutHistoryReportsReady(t *testing.T) {
	orch := NewOrchestrator(newFakeJobStore(), newFakeDocStore(5), &fakeDispatcher{})

	report, err := orch.Status(5, model.JobTypeRequirements)
	require.NoError(t, err)

	assert.Equal(t, "ready", report.Status)
	assert.Empty(t, report.JobID)
}

func TestStatusFoldsJobStates(t *testing.T) {
	cases := []struct {
		jobStatus string
		want      string
	}{
		{model.JobStatusQueued, "processing"},
		{model.JobStatusRunning, "processing"},
		{model.JobStatusSucceeded, "ready"},
		{model.JobStatusFailed, "failed"},
	}
	for _, tc := range cases {
		t.Run(tc.jobStatus, func(t *testing.T) {
			jobs := newFakeJobStore()
			jobs.latest = &model.ExtractionJob{JobID: "j1", Status: tc.jobStatus, ResultCount: 3}
			orch := NewOrchestrator(jobs, newFakeDocStore(5), &fakeDispatcher{})

			report, err := orch.Status(5, model.JobTypeBom)
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Status)
			assert.Equal(t, "j1", report.JobID)
		})
	}
}

func TestRecoverOrphansRestoresDocuments(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.orphans = []model.ExtractionJob{
		{JobID: "a", DocumentID: 1, Status: model.JobStatusRunning},
		{JobID: "b", DocumentID: 2, Status: model.JobStatusQueued},
	}
	docs := newFakeDocStore(1, 2)
	orch := NewOrchestrator(jobs, docs, &fakeDispatcher{})

	require.NoError(t, orch.RecoverOrphans(context.Background()))

	assert.Equal(t, []string{model.DocumentStatusReady}, docs.statusLog[1])
	assert.Equal(t, []string{model.DocumentStatusReady}, docs.statusLog[2])
}
