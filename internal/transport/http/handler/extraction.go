package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenderlens/internal/extraction"
	"tenderlens/internal/transport/http/response"
)

type ExtractionHandler struct {
	orchestrator *extraction.Orchestrator
}

type StartJobRequest struct {
	JobType string `json:"job_type" binding:"required"`
	Quick   bool   `json:"quick"`
}

func NewExtractionHandler(orchestrator *extraction.Orchestrator) *ExtractionHandler {
	return &ExtractionHandler{orchestrator: orchestrator}
}

// StartJob kicks off a background extraction run. A job already in flight
// for the same (document, job type) is reported as a conflict, with the
// existing job's handle in the payload.
func (h *ExtractionHandler) StartJob(c *gin.Context) {
	id, ok := documentIDParam(c)
	if !ok {
		return
	}

	var req StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	handle, err := h.orchestrator.Start(c.Request.Context(), id, req.JobType, req.Quick)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrJobConflict):
			response.ErrorWithData(c, http.StatusConflict, response.CodeJobConflict, err.Error(), handle)
		case errors.Is(err, extraction.ErrUnknownJobType):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, extraction.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "start extraction job failed")
		}
		return
	}

	response.OK(c, handle)
}

// JobStatus reports the latest job for the (document, job type) pair.
func (h *ExtractionHandler) JobStatus(c *gin.Context) {
	id, ok := documentIDParam(c)
	if !ok {
		return
	}

	jobType := c.Query("job_type")
	report, err := h.orchestrator.Status(id, jobType)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrUnknownJobType):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, extraction.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get job status failed")
		}
		return
	}

	response.OK(c, report)
}
