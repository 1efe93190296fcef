package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mnboos/job-graph/internal/api/dto"
	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeRecordCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	records, err := h.records.ListRecords(c.Request.Context(), storage.RecordFilter{
		Company:           req.Company,
		MissingCoordinate: req.MissingCoordinate,
		PageSize:          req.PageSize,
		Cursor:            cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list job records", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	jobs := make([]dto.JobDTO, len(records))
	for i, r := range records {
		jobs[i] = dto.FromRecord(r)
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1]
		nextCursor = EncodeRecordCursor(&storage.RecordCursor{FirstSeenAt: last.FirstSeenAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs, NextCursor: nextCursor})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}

	record, err := h.records.GetRecord(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job record",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(record))
}
