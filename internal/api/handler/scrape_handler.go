package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mnboos/job-graph/internal/api/dto"
	"github.com/mnboos/job-graph/internal/domain"
)

// IdempotencyHeader may carry the idempotency key instead of the body
const IdempotencyHeader = "X-Idempotency-Key"

// CreateScrape handles POST /api/v1/scrapes
func (h *ScrapeHandler) CreateScrape(c *gin.Context) {
	var req dto.CreateScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(IdempotencyHeader)
	}

	run, created, err := h.enqueuer.Enqueue(c.Request.Context(), req.Scraper, req.Query, key)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownScraper) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to enqueue scrape run",
			slog.String("scraper", req.Scraper),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue scrape run"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.FromRun(run))
}

// GetScrape handles GET /api/v1/scrapes/:run_id
func (h *ScrapeHandler) GetScrape(c *gin.Context) {
	runID := c.Param("run_id")
	if _, err := uuid.Parse(runID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id must be a valid UUID"})
		return
	}

	run, err := h.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scrape run not found"})
			return
		}
		h.logger.Error("Failed to get scrape run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scrape run"})
		return
	}

	c.JSON(http.StatusOK, dto.FromRun(run))
}
