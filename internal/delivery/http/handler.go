package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/usecase"
)

// Version is set at build time
var Version = "dev"

// SimilarityQuerier is the part of the similarity service the API needs
type SimilarityQuerier interface {
	Similar(ctx context.Context, productID string, k int) (*domain.SimilarityResult, error)
	Product(ctx context.Context, productID string) (*domain.ProductRecord, error)
	Status() usecase.DatasetStatus
	DefaultK() int
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	similarity SimilarityQuerier
}

// NewHandler creates a new HTTP handler
func NewHandler(similarity SimilarityQuerier) *Handler {
	return &Handler{similarity: similarity}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	response := gin.H{
		"status":  "healthy",
		"service": "nutrishelf-backend",
		"version": Version,
	}
	if h.similarity != nil {
		response["dataset"] = h.similarity.Status()
	}
	c.JSON(http.StatusOK, response)
}

// GetProduct returns the consolidated record of one product
func (h *Handler) GetProduct(c *gin.Context) {
	if h.similarity == nil {
		h.notConfigured(c)
		return
	}

	record, err := h.similarity.Product(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetSimilar returns the products most similar to one product.
// Query parameter k defaults to the configured top K.
func (h *Handler) GetSimilar(c *gin.Context) {
	if h.similarity == nil {
		h.notConfigured(c)
		return
	}

	k := h.similarity.DefaultK()
	if raw, ok := c.GetQuery("k"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be an integer"})
			return
		}
		k = parsed
	}

	result, err := h.similarity.Similar(c.Request.Context(), c.Param("id"), k)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) notConfigured(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "similarity search not configured"})
}

// writeError maps domain errors to status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotBuilt):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
