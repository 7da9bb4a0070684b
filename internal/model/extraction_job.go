package model

import "time"

const (
	JobTypeRequirements = "requirements"
	JobTypeBom          = "bom"

	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// ExtractionJob is the audit record of one background extraction run.
// At most one job per (document, job type) may be queued or running;
// rows are never deleted except by document cascade.
type ExtractionJob struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JobID       string     `gorm:"size:36;not null;uniqueIndex" json:"job_id"`
	DocumentID  uint       `gorm:"not null;index:idx_job_doc_type" json:"document_id"`
	JobType     string     `gorm:"size:16;not null;index:idx_job_doc_type" json:"job_type"`
	Status      string     `gorm:"size:16;not null;index" json:"status"`
	Error       string     `gorm:"size:1024" json:"error,omitempty"`
	ResultCount int        `json:"result_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the job still occupies its (document, type) slot.
func (j *ExtractionJob) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}
