package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/scoring"
	"github.com/promptshield/promptshield/pkg/store"
)

// createExecutionHandler handles POST /api/v1/executions. It creates the
// Pending row; a queue worker claims and runs it asynchronously.
func (s *Server) createExecutionHandler(c *gin.Context) {
	var req models.CreateExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	pipeline, err := s.stores.GetPipeline(c.Request.Context(), req.PipelineID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	exec, err := s.stores.CreateExecution(c.Request.Context(), pipeline.ID, pipeline.LLMConfigID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *gin.Context) {
	exec, err := s.stores.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// deleteExecutionHandler handles DELETE /api/v1/executions/:id. Rejected with
// 409 while a baseline references the execution.
func (s *Server) deleteExecutionHandler(c *gin.Context) {
	if err := s.stores.DeleteExecution(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// cancelExecutionHandler handles POST /api/v1/executions/:id/cancel. The
// cancel signal is idempotent: a Pending execution is cancelled directly, a
// Running one drains gracefully, and an already-terminal one is a no-op.
func (s *Server) cancelExecutionHandler(c *gin.Context) {
	id := c.Param("id")
	exec, err := s.stores.GetExecution(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	switch exec.Status {
	case models.StatusPending:
		err := s.stores.Transition(c.Request.Context(), id, models.StatusPending, models.StatusCancelled, nil)
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			abortWithError(c, err)
			return
		}
	case models.StatusRunning:
		// Delivered through the cancel registry; workers observe the signal
		// between jobs and drain in-flight probes.
		s.pool.CancelRun(id)
	}

	c.JSON(http.StatusAccepted, gin.H{"execution_id": id, "cancelling": true})
}

// listFindingsHandler handles GET /api/v1/executions/:id/findings with
// optional severity, library and category filters.
func (s *Server) listFindingsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.stores.GetExecution(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	filter := models.FindingFilter{
		Library:  c.Query("library"),
		Category: c.Query("category"),
	}
	if v := c.Query("severity"); v != "" {
		sev := models.Severity(v)
		if !sev.IsValid() {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid severity: " + v})
			return
		}
		filter.Severity = sev
	}

	findings, err := s.stores.ListFindings(c.Request.Context(), id, filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": id, "findings": findings, "total": len(findings)})
}

// summaryHandler handles GET /api/v1/executions/:id/summary: severity and
// partition counts, safety score and grade, and — when a drift comparison has
// aggregated against this execution — the drift score and grade.
func (s *Server) summaryHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.stores.GetExecution(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	findings, err := s.stores.ListFindings(c.Request.Context(), id, models.FindingFilter{})
	if err != nil {
		abortWithError(c, err)
		return
	}

	summary := scoring.Summarize(id, findings)

	if comparison, err := s.stores.LatestComparison(c.Request.Context(), id); err == nil {
		summary.DriftScore = comparison.DriftScore
		summary.DriftGrade = comparison.DriftGrade
	} else if !errors.Is(err, store.ErrNotFound) {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
