// Package extraction runs background extraction jobs over uploaded tender
// documents: requirements and bill-of-materials, one in-flight job per
// (document, job type).
package extraction

import "errors"

// ErrJobConflict is returned by Start when a queued or running job already
// occupies the (document, job type) slot. The existing job's handle rides
// along with the error.
var ErrJobConflict = errors.New("extraction job already in flight")

// JobDispatch is the queue payload handed from the orchestrator to the
// worker. It carries identifiers only; the worker reloads state from the
// database.
type JobDispatch struct {
	JobID      string `json:"job_id"`
	DocumentID uint   `json:"document_id"`
	JobType    string `json:"job_type"`
	QuickMode  bool   `json:"quick_mode"`
}

// JobHandle is what callers get back from Start: enough to poll status.
type JobHandle struct {
	JobID      string `json:"job_id"`
	DocumentID uint   `json:"document_id"`
	JobType    string `json:"job_type"`
	Status     string `json:"status"`
}
