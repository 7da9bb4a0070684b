package extraction

import (
	"context"
	"errors"
	"log"
	"time"

	"tenderlens/internal/ai"
	"tenderlens/internal/model"
)

// Quick mode trades completeness for speed on large documents.
const quickModePageLimit = 10

// PageStore supplies the normalized page text extraction runs over.
type PageStore interface {
	ListByDocumentID(documentID uint) ([]model.DocumentPage, error)
}

// RequirementStore persists a run's requirement set.
type RequirementStore interface {
	ReplaceForDocument(documentID uint, requirements []model.Requirement) error
}

// BomStore persists a run's bill-of-materials set.
type BomStore interface {
	ReplaceForDocument(documentID uint, items []model.BomItem) error
}

// Runner executes dispatched jobs inside the worker. One Run call drives a
// job from queued to a terminal state; there are no retries.
type Runner struct {
	jobs         JobStore
	documents    DocumentStore
	pages        PageStore
	requirements RequirementStore
	boms         BomStore
	reqExtractor *RequirementExtractor
	bomExtractor *BomExtractor
	timeout      time.Duration
}

func NewRunner(
	jobs JobStore,
	documents DocumentStore,
	pages PageStore,
	requirements RequirementStore,
	boms BomStore,
	reqExtractor *RequirementExtractor,
	bomExtractor *BomExtractor,
	timeout time.Duration,
) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{
		jobs:         jobs,
		documents:    documents,
		pages:        pages,
		requirements: requirements,
		boms:         boms,
		reqExtractor: reqExtractor,
		bomExtractor: bomExtractor,
		timeout:      timeout,
	}
}

// Run executes one dispatch. A dispatch whose job or document no longer
// exists is dropped silently; document deletion mid-run makes the remaining
// writes no-ops. The returned error covers infrastructure failures only —
// extraction failures end in a failed job, not an error.
func (r *Runner) Run(ctx context.Context, dispatch JobDispatch) error {
	job, err := r.jobs.GetByJobID(dispatch.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Document deleted between dispatch and delivery; its jobs went
		// with it.
		log.Printf("job %s no longer exists, dropping dispatch", dispatch.JobID)
		return nil
	}
	if job.Status != model.JobStatusQueued {
		// Orphan recovery or a duplicate delivery got here first.
		log.Printf("job %s is %s, dropping dispatch", job.JobID, job.Status)
		return nil
	}

	doc, err := r.documents.GetByID(job.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	if err := r.jobs.UpdateStatus(job.JobID, model.JobStatusRunning, "", 0, nil); err != nil {
		return err
	}
	if err := r.documents.UpdateStatus(job.DocumentID, model.DocumentStatusProcessing); err != nil {
		log.Printf("mark document %d processing: %v", job.DocumentID, err)
	}

	pages, err := r.pages.ListByDocumentID(job.DocumentID)
	if err != nil {
		r.finishFailed(job, "load document pages: "+err.Error())
		return nil
	}
	if dispatch.QuickMode && len(pages) > quickModePageLimit {
		pages = pages[:quickModePageLimit]
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	count, docGone, runErr := r.extract(runCtx, job, doc, pages)
	if runErr != nil {
		r.finishFailed(job, runErr.Error())
		return nil
	}
	if docGone {
		log.Printf("document %d deleted during job %s, dropping results", job.DocumentID, job.JobID)
		return nil
	}

	r.finishSucceeded(job, count)
	return nil
}

// extract runs the per-page LLM loop and persists the result set. Pages
// whose output is malformed are skipped; a run where every non-empty page
// came back malformed fails as a whole. docGone reports that the document
// was deleted mid-run and the results were discarded.
func (r *Runner) extract(ctx context.Context, job *model.ExtractionJob, doc *model.Document, pages []model.DocumentPage) (count int, docGone bool, err error) {
	var (
		requirements  []model.Requirement
		bomItems      []model.BomItem
		attempted     int
		malformed     int
		lastMalformed error
	)

	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		attempted++

		var pageErr error
		switch job.JobType {
		case model.JobTypeRequirements:
			var extracted []model.Requirement
			extracted, pageErr = r.reqExtractor.ExtractPage(ctx, doc.Filename, page)
			for i := range extracted {
				extracted[i].DocumentID = job.DocumentID
				extracted[i].JobID = job.JobID
			}
			requirements = append(requirements, extracted...)
		case model.JobTypeBom:
			var extracted []model.BomItem
			extracted, pageErr = r.bomExtractor.ExtractPage(ctx, page)
			for i := range extracted {
				extracted[i].DocumentID = job.DocumentID
				extracted[i].JobID = job.JobID
			}
			bomItems = append(bomItems, extracted...)
		default:
			return 0, false, errors.New("unknown job type " + job.JobType)
		}

		if pageErr != nil {
			if errors.Is(pageErr, ai.ErrMalformedOutput) {
				malformed++
				lastMalformed = pageErr
				log.Printf("job %s: page %d output malformed, skipping", job.JobID, page.PageNumber)
				continue
			}
			// Provider failure or timeout fails the run.
			return 0, false, pageErr
		}
	}

	if attempted > 0 && malformed == attempted {
		return 0, false, lastMalformed
	}

	// Re-check before writing: the document may have been deleted mid-run,
	// in which case the run ends as a silent no-op.
	current, err := r.documents.GetByID(job.DocumentID)
	if err != nil {
		return 0, false, err
	}
	if current == nil {
		return 0, true, nil
	}

	switch job.JobType {
	case model.JobTypeRequirements:
		if err := r.requirements.ReplaceForDocument(job.DocumentID, requirements); err != nil {
			return 0, false, err
		}
		return len(requirements), false, nil
	default:
		if err := r.boms.ReplaceForDocument(job.DocumentID, bomItems); err != nil {
			return 0, false, err
		}
		return len(bomItems), false, nil
	}
}

func (r *Runner) finishSucceeded(job *model.ExtractionJob, count int) {
	now := time.Now()
	if err := r.jobs.UpdateStatus(job.JobID, model.JobStatusSucceeded, "", count, &now); err != nil {
		log.Printf("mark job %s succeeded: %v", job.JobID, err)
	}
	if err := r.documents.UpdateExtractionStats(job.DocumentID, job.JobType, count, now); err != nil {
		log.Printf("update document %d extraction stats: %v", job.DocumentID, err)
	}
	log.Printf("job %s (%s) succeeded with %d result(s)", job.JobID, job.JobType, count)
}

func (r *Runner) finishFailed(job *model.ExtractionJob, cause string) {
	now := time.Now()
	if len(cause) > 1024 {
		cause = cause[:1024]
	}
	if err := r.jobs.UpdateStatus(job.JobID, model.JobStatusFailed, cause, 0, &now); err != nil {
		log.Printf("mark job %s failed: %v", job.JobID, err)
	}
	if err := r.documents.UpdateStatus(job.DocumentID, model.DocumentStatusFailed); err != nil {
		log.Printf("mark document %d failed: %v", job.DocumentID, err)
	}
	log.Printf("job %s (%s) failed: %s", job.JobID, job.JobType, cause)
}
