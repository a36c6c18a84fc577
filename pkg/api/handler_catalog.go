package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptshield/promptshield/pkg/models"
)

// createLLMConfigHandler handles POST /api/v1/llm-configs.
func (s *Server) createLLMConfigHandler(c *gin.Context) {
	var req models.CreateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	cfg, err := s.stores.CreateLLMConfig(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// listLLMConfigsHandler handles GET /api/v1/llm-configs.
func (s *Server) listLLMConfigsHandler(c *gin.Context) {
	configs, err := s.stores.ListLLMConfigs(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"llm_configs": configs})
}

// getLLMConfigHandler handles GET /api/v1/llm-configs/:id.
func (s *Server) getLLMConfigHandler(c *gin.Context) {
	cfg, err := s.stores.GetLLMConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// createPipelineHandler handles POST /api/v1/pipelines.
func (s *Server) createPipelineHandler(c *gin.Context) {
	var req models.CreatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	p, err := s.stores.CreatePipeline(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// listPipelinesHandler handles GET /api/v1/pipelines.
func (s *Server) listPipelinesHandler(c *gin.Context) {
	pipelines, err := s.stores.ListPipelines(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines})
}

// getPipelineHandler handles GET /api/v1/pipelines/:id.
func (s *Server) getPipelineHandler(c *gin.Context) {
	p, err := s.stores.GetPipeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
