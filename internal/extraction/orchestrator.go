package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tenderlens/internal/model"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownJobType   = errors.New("unknown extraction job type")
)

const orphanCause = "interrupted by server restart"

// JobStore is the persisted job table. Implemented by
// repository.ExtractionJobRepository.
type JobStore interface {
	CreateIfNoneActive(job *model.ExtractionJob) (*model.ExtractionJob, error)
	GetByJobID(jobID string) (*model.ExtractionJob, error)
	LatestByDocumentAndType(documentID uint, jobType string) (*model.ExtractionJob, error)
	UpdateStatus(jobID, status, errMsg string, resultCount int, completedAt *time.Time) error
	FailActive(cause string) ([]model.ExtractionJob, error)
}

// DocumentStore covers the document reads and status writes the job
// lifecycle needs.
type DocumentStore interface {
	GetByID(id uint) (*model.Document, error)
	UpdateStatus(id uint, status string) error
	UpdateExtractionStats(id uint, jobType string, count int, at time.Time) error
}

// Dispatcher hands a dispatch to the worker queue. Implemented by
// rabbitmq.JobPublisher.
type Dispatcher interface {
	Publish(ctx context.Context, dispatch JobDispatch) error
}

// StatusReport is the polling view of a document's latest job for one type.
type StatusReport struct {
	DocumentID  uint       `json:"document_id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	JobID       string     `json:"job_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	ResultCount int        `json:"result_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Orchestrator owns the job lifecycle on the request side: admission,
// dispatch, status, restart recovery. Execution happens in the worker.
type Orchestrator struct {
	jobs       JobStore
	documents  DocumentStore
	dispatcher Dispatcher
}

func NewOrchestrator(jobs JobStore, documents DocumentStore, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		documents:  documents,
		dispatcher: dispatcher,
	}
}

// Start admits and dispatches a job for the (document, job type) pair. When
// a queued or running job already holds the slot, the existing job's handle
// is returned together with ErrJobConflict and nothing is dispatched.
func (o *Orchestrator) Start(ctx context.Context, documentID uint, jobType string, quick bool) (*JobHandle, error) {
	switch jobType {
	case model.JobTypeRequirements, model.JobTypeBom:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	doc, err := o.documents.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	job := &model.ExtractionJob{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		JobType:    jobType,
		Status:     model.JobStatusQueued,
	}
	existing, err := o.jobs.CreateIfNoneActive(job)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &JobHandle{
			JobID:      existing.JobID,
			DocumentID: documentID,
			JobType:    jobType,
			Status:     lifecycleStatus(existing),
		}, ErrJobConflict
	}

	if err := o.documents.UpdateStatus(documentID, model.DocumentStatusProcessing); err != nil {
		log.Printf("mark document %d processing: %v", documentID, err)
	}

	dispatch := JobDispatch{
		JobID:      job.JobID,
		DocumentID: documentID,
		JobType:    jobType,
		QuickMode:  quick,
	}
	if err := o.dispatcher.Publish(ctx, dispatch); err != nil {
		// Release the slot so the caller can retry.
		now := time.Now()
		if uerr := o.jobs.UpdateStatus(job.JobID, model.JobStatusFailed,
			"dispatch failed: "+err.Error(), 0, &now); uerr != nil {
			log.Printf("fail undispatched job %s: %v", job.JobID, uerr)
		}
		if uerr := o.documents.UpdateStatus(documentID, model.DocumentStatusReady); uerr != nil {
			log.Printf("restore document %d status: %v", documentID, uerr)
		}
		return nil, fmt.Errorf("dispatch extraction job failed: %w", err)
	}

	return &JobHandle{
		JobID:      job.JobID,
		DocumentID: documentID,
		JobType:    jobType,
		Status:     lifecycleStatus(job),
	}, nil
}

// Status reports the latest job for the pair. A document with no job history
// for the type reports ready with no job id.
func (o *Orchestrator) Status(documentID uint, jobType string) (*StatusReport, error) {
	switch jobType {
	case model.JobTypeRequirements, model.JobTypeBom:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	doc, err := o.documents.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	job, err := o.jobs.LatestByDocumentAndType(documentID, jobType)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &StatusReport{
			DocumentID: documentID,
			JobType:    jobType,
			Status:     "ready",
		}, nil
	}

	started := job.CreatedAt
	return &StatusReport{
		DocumentID:  documentID,
		JobType:     jobType,
		Status:      lifecycleStatus(job),
		JobID:       job.JobID,
		Error:       job.Error,
		ResultCount: job.ResultCount,
		StartedAt:   &started,
		CompletedAt: job.CompletedAt,
	}, nil
}

// RecoverOrphans reconciles jobs left queued or running by a previous
// process: they are marked failed and their documents returned to ready.
// Called once at bootstrap, before the worker starts consuming.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	orphans, err := o.jobs.FailActive(orphanCause)
	if err != nil {
		return err
	}
	for _, job := range orphans {
		if err := o.documents.UpdateStatus(job.DocumentID, model.DocumentStatusReady); err != nil {
			log.Printf("restore document %d after orphaned job %s: %v", job.DocumentID, job.JobID, err)
		}
	}
	if len(orphans) > 0 {
		log.Printf("recovered %d orphaned extraction job(s)", len(orphans))
	}
	return nil
}

// lifecycleStatus folds job states into the three-valued view callers poll:
// anything still occupying its slot is processing, a terminal success means
// the document is ready for another run.
func lifecycleStatus(job *model.ExtractionJob) string {
	switch {
	case job.Active():
		return "processing"
	case job.Status == model.JobStatusFailed:
		return "failed"
	default:
		return "ready"
	}
}
