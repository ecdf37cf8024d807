package engine

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/drummonds/pdfpages/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// GetJob retrieves a job by ID
// @Summary Get job by ID
// @Description Retrieve details of a specific job by its ID
// @Tags Jobs
// @Accept json
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} database.Job "Job details"
// @Failure 400 {object} map[string]interface{} "Invalid job ID"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobIDStr := c.Param("id")

	jobID, err := ulid.Parse(jobIDStr)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid job ID format",
		})
	}

	job, err := serverHandler.DB.GetJob(c.Request().Context(), jobID)
	if err != nil {
		Logger.Error("Failed to get job", "jobID", jobIDStr, "error", err)
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Job not found",
		})
	}

	return c.JSON(http.StatusOK, job)
}

// GetRecentJobs retrieves recent jobs with pagination
// @Summary Get recent jobs
// @Description Retrieve a list of recent jobs with pagination
// @Tags Jobs
// @Produce json
// @Param limit query int false "Number of jobs to return (default: 20)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {array} database.Job "List of jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	jobs, err := serverHandler.DB.GetRecentJobs(c.Request().Context(), limit, offset)
	if err != nil {
		Logger.Error("Failed to get recent jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve jobs",
		})
	}

	if jobs == nil {
		jobs = []database.Job{}
	}

	return c.JSON(http.StatusOK, jobs)
}

// GetActiveJobs retrieves all currently running or pending jobs
// @Summary Get active jobs
// @Tags Jobs
// @Produce json
// @Success 200 {array} database.Job "List of active jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	jobs, err := serverHandler.DB.GetActiveJobs(c.Request().Context())
	if err != nil {
		Logger.Error("Failed to get active jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve active jobs",
		})
	}

	if jobs == nil {
		jobs = []database.Job{}
	}

	return c.JSON(http.StatusOK, jobs)
}

// RunThumbnails starts a background job rendering a thumbnail of every page
// @Summary Render document thumbnails
// @Description Starts a tracked job; poll /jobs/{id} for progress
// @Tags Documents
// @Produce json
// @Param id path string true "Document ULID"
// @Success 200 {object} map[string]interface{} "Job started"
// @Router /documents/{id}/thumbnails [post]
func (serverHandler *ServerHandler) RunThumbnails(c echo.Context) error {
	ctx := c.Request().Context()
	document, httpStatus, err := database.FetchDocument(ctx, c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}

	job, err := serverHandler.DB.CreateJob(ctx, database.JobTypeThumbnails, "Rendering thumbnails for "+document.Name, document.PageCount)
	if err != nil {
		Logger.Error("Failed to create thumbnail job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create job",
		})
	}

	// The job outlives the request
	go serverHandler.thumbnailJobFunc(context.Background(), document, job.ID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Thumbnail rendering started",
		"jobId":   job.ID.String(),
	})
}

// ReapSessions closes idle page sessions now instead of waiting for the schedule
// @Summary Close idle sessions
// @Tags Admin
// @Produce json
// @Param idle query string false "Idle duration such as 30s or 5m (default: configured session idle)"
// @Success 200 {object} map[string]interface{} "Closed and remaining sessions"
// @Router /sessions/reap [post]
func (serverHandler *ServerHandler) ReapSessions(c echo.Context) error {
	idle := serverHandler.ServerConfig.SessionIdle
	if idleStr := c.QueryParam("idle"); idleStr != "" {
		d, err := time.ParseDuration(idleStr)
		if err != nil || d < 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "Invalid idle duration",
			})
		}
		idle = d
	}

	closed, err := serverHandler.reapIdleSessions(c.Request().Context(), idle)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"closed":    closed,
		"remaining": serverHandler.Sessions.Stats(),
	})
}

// CleanDatabase starts a tracked cleanup job
// @Summary Clean the catalog
// @Description Removes documents whose file is missing, orphaned thumbnails and old jobs
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Job started"
// @Router /clean [post]
func (serverHandler *ServerHandler) CleanDatabase(c echo.Context) error {
	job, err := serverHandler.DB.CreateJob(c.Request().Context(), database.JobTypeCleanup, "Database cleanup", 4)
	if err != nil {
		Logger.Error("Failed to create cleanup job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create job",
		})
	}

	go serverHandler.cleanupJobFunc(context.Background(), job.ID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Database cleanup started",
		"jobId":   job.ID.String(),
	})
}
