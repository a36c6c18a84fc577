package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptshield/promptshield/pkg/baseline"
	"github.com/promptshield/promptshield/pkg/store"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps service-layer errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case store.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, baseline.ErrBaselineNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrExecutionReferenced),
		errors.Is(err, store.ErrBaselineReferenced),
		errors.Is(err, baseline.ErrBaselineNotUsable),
		errors.Is(err, baseline.ErrSelfReference):
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}
