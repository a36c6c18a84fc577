package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptshield/promptshield/pkg/baseline"
	"github.com/promptshield/promptshield/pkg/models"
)

// createBaselineHandler handles POST /api/v1/baselines.
func (s *Server) createBaselineHandler(c *gin.Context) {
	var req models.CreateBaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	b, err := s.stores.CreateBaseline(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// listBaselinesHandler handles GET /api/v1/baselines.
func (s *Server) listBaselinesHandler(c *gin.Context) {
	baselines, err := s.stores.ListBaselines(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"baselines": baselines})
}

// deleteBaselineHandler handles DELETE /api/v1/baselines/:id. Deletion is
// rejected while drift records reference the baseline.
func (s *Server) deleteBaselineHandler(c *gin.Context) {
	if err := s.stores.DeleteBaseline(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// compareDriftRequest selects the baseline for POST /executions/:id/drift.
// Exactly one of the fields should be set; previous=true is the fallback.
type compareDriftRequest struct {
	BaselineID  string `json:"baseline_id"`
	BaselineTag string `json:"baseline_tag"`
	Previous    bool   `json:"previous"`
}

// compareDriftHandler handles POST /api/v1/executions/:id/drift. Synchronous
// from the caller's view; the channels parallelize internally.
func (s *Server) compareDriftHandler(c *gin.Context) {
	var req compareDriftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var ref baseline.Ref
	switch {
	case req.BaselineID != "":
		ref = baseline.ExplicitID(req.BaselineID)
	case req.BaselineTag != "":
		ref = baseline.Tag(req.BaselineTag)
	case req.Previous:
		ref = baseline.Previous()
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "one of baseline_id, baseline_tag or previous is required"})
		return
	}

	result, err := s.driftEngine.Compare(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
