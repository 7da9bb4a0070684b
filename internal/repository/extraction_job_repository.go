package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tenderlens/internal/model"
)

type ExtractionJobRepository struct {
	db *gorm.DB
}

func NewExtractionJobRepository(db *gorm.DB) *ExtractionJobRepository {
	return &ExtractionJobRepository{db: db}
}

var activeStatuses = []string{model.JobStatusQueued, model.JobStatusRunning}

// CreateIfNoneActive inserts the job unless a queued or running job already
// exists for the same (document, job type). The check and insert run in one
// transaction with a locking read, so the job table itself enforces the
// single-in-flight invariant. Returns the existing job when one occupies
// the slot, nil when the new job was created.
func (r *ExtractionJobRepository) CreateIfNoneActive(job *model.ExtractionJob) (*model.ExtractionJob, error) {
	var existing *model.ExtractionJob
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var active model.ExtractionJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ? AND job_type = ? AND status IN ?",
				job.DocumentID, job.JobType, activeStatuses).
			First(&active).Error
		if err == nil {
			existing = &active
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(job).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create extraction job failed: %w", err)
	}
	return existing, nil
}

func (r *ExtractionJobRepository) GetByJobID(jobID string) (*model.ExtractionJob, error) {
	var job model.ExtractionJob
	if err := r.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get extraction job failed: %w", err)
	}
	return &job, nil
}

// LatestByDocumentAndType returns the most recent job for the pair, nil when
// the document has never been extracted.
func (r *ExtractionJobRepository) LatestByDocumentAndType(documentID uint, jobType string) (*model.ExtractionJob, error) {
	var job model.ExtractionJob
	if err := r.db.Where("document_id = ? AND job_type = ?", documentID, jobType).
		Order("created_at DESC").First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest extraction job failed: %w", err)
	}
	return &job, nil
}

func (r *ExtractionJobRepository) UpdateStatus(jobID, status, errMsg string, resultCount int, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":       status,
		"error":        errMsg,
		"result_count": resultCount,
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	if err := r.db.Model(&model.ExtractionJob{}).Where("job_id = ?", jobID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("update extraction job failed: %w", err)
	}
	return nil
}

// FailActive marks every queued/running job failed with the given cause and
// returns the affected jobs. Used to reconcile jobs orphaned by a restart.
func (r *ExtractionJobRepository) FailActive(cause string) ([]model.ExtractionJob, error) {
	var orphans []model.ExtractionJob
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status IN ?", activeStatuses).Find(&orphans).Error; err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}
		now := time.Now()
		return tx.Model(&model.ExtractionJob{}).Where("status IN ?", activeStatuses).
			Updates(map[string]interface{}{
				"status":       model.JobStatusFailed,
				"error":        cause,
				"completed_at": now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fail active extraction jobs failed: %w", err)
	}
	return orphans, nil
}

func (r *ExtractionJobRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).
		Delete(&model.ExtractionJob{}).Error; err != nil {
		return fmt.Errorf("delete extraction jobs failed: %w", err)
	}
	return nil
}
