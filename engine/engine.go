package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfpages/database"
	"github.com/oklog/ulid/v2"
)

// thumbnailJobFunc renders every page of document into the thumbnail directory
// with progress tracking. A page that fails is counted and skipped; the job
// fails only when no page could be rendered.
func (serverHandler *ServerHandler) thumbnailJobFunc(ctx context.Context, document database.Document, jobID ulid.ULID) {
	db := serverHandler.DB
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in thumbnail job", "panic", r, "jobID", jobID)
			db.UpdateJobError(ctx, jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	if err := db.UpdateJobStatus(ctx, jobID, database.JobStatusRunning, "Rendering thumbnails"); err != nil {
		Logger.Error("Failed to update job status", "error", err)
	}

	dir := serverHandler.thumbnailDir(document)
	if err := os.MkdirAll(dir, 0755); err != nil {
		db.UpdateJobError(ctx, jobID, fmt.Sprintf("Unable to create thumbnail directory: %v", err))
		return
	}

	summary := database.JobSummary{PagesTotal: document.PageCount}
	width := serverHandler.ServerConfig.ThumbnailWidth
	for index := 0; index < document.PageCount; index++ {
		db.UpdateJobProgress(ctx, jobID, database.Percent(index, document.PageCount),
			fmt.Sprintf("Rendering page %d/%d", index+1, document.PageCount))

		thumb, err := serverHandler.thumbnail(document, index, width)
		if err != nil {
			Logger.Warn("Thumbnail render failed", "ulid", document.ULID, "page", index, "error", err)
			summary.Errors++
			summary.Details = err.Error()
			continue
		}
		path := serverHandler.thumbnailPath(document, index)
		if err := imaging.Save(thumb, path); err != nil {
			Logger.Warn("Unable to write thumbnail", "path", path, "error", err)
			summary.Errors++
			summary.Details = err.Error()
			continue
		}
		if info, err := os.Stat(path); err == nil {
			summary.BytesWritten += info.Size()
		}
		summary.PagesRendered++
	}

	if summary.PagesRendered == 0 && summary.PagesTotal > 0 {
		db.UpdateJobError(ctx, jobID, fmt.Sprintf("No page could be rendered: %s", summary.Details))
		return
	}
	result, _ := json.Marshal(summary)
	if err := db.CompleteJob(ctx, jobID, string(result)); err != nil {
		Logger.Error("Failed to mark thumbnail job as complete", "error", err)
	}
	Logger.Info("Thumbnail job completed", "jobID", jobID, "ulid", document.ULID,
		"rendered", summary.PagesRendered, "total", summary.PagesTotal, "errors", summary.Errors)
}

// cleanupResult is recorded as the result of a cleanup job
type cleanupResult struct {
	Scanned          int `json:"scanned"`
	Deleted          int `json:"deleted"`
	OrphanThumbnails int `json:"orphanThumbnails"`
	JobsDeleted      int `json:"jobsDeleted"`
	SessionsClosed   int `json:"sessionsClosed"`
	SessionPages     int `json:"sessionPagesClosed"`
}

// cleanupJobFunc removes catalog entries whose file is gone, thumbnail
// directories with no document and finished jobs past their retention.
func (serverHandler *ServerHandler) cleanupJobFunc(ctx context.Context, jobID ulid.ULID) {
	db := serverHandler.DB
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in cleanup job", "panic", r, "jobID", jobID)
			db.UpdateJobError(ctx, jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	db.UpdateJobStatus(ctx, jobID, database.JobStatusRunning, "Fetching documents from database")

	documents, err := db.GetAllDocuments(ctx)
	if err != nil {
		Logger.Error("Failed to fetch documents for cleanup", "error", err)
		db.UpdateJobError(ctx, jobID, fmt.Sprintf("Failed to fetch documents: %v", err))
		return
	}

	var result cleanupResult
	result.Scanned = len(documents)
	Logger.Info("Starting database cleanup", "total_documents", result.Scanned)
	db.UpdateJobProgress(ctx, jobID, 10, fmt.Sprintf("Checking %d documents", result.Scanned))

	// Step 1: drop catalog entries whose file is missing
	known := make(map[string]bool, len(documents))
	for i, doc := range documents {
		progress := 10 + database.Percent(i, len(documents))/2
		db.UpdateJobProgress(ctx, jobID, progress, fmt.Sprintf("Checking document %d/%d", i+1, len(documents)))

		if _, err := os.Stat(doc.Path); os.IsNotExist(err) {
			Logger.Info("File not found, removing from database", "path", doc.Path, "ulid", doc.ULID)
			if err := serverHandler.Sessions.CloseDocument(doc.ULID.String()); err != nil {
				Logger.Warn("Failed to close session of missing document", "ulid", doc.ULID, "error", err)
			}
			if err := db.DeleteDocument(ctx, doc.ULID.String()); err != nil {
				Logger.Error("Failed to delete document from DB", "error", err, "ulid", doc.ULID)
				known[doc.ULID.String()] = true
				continue
			}
			result.Deleted++
			continue
		}
		known[doc.ULID.String()] = true
	}

	// Step 2: remove thumbnail directories nothing refers to
	db.UpdateJobProgress(ctx, jobID, 60, "Scanning for orphaned thumbnails")
	orphans, err := serverHandler.findOrphanThumbnails(known)
	if err != nil {
		Logger.Error("Failed to scan thumbnail directory", "error", err)
	}
	for _, orphan := range orphans {
		if err := os.RemoveAll(orphan); err != nil {
			Logger.Error("Failed to remove orphaned thumbnails", "path", orphan, "error", err)
			continue
		}
		result.OrphanThumbnails++
	}

	// Step 3: old jobs
	db.UpdateJobProgress(ctx, jobID, 80, "Deleting old jobs")
	if retention := serverHandler.ServerConfig.JobRetention; retention > 0 {
		deleted, err := db.DeleteOldJobs(ctx, retention)
		if err != nil {
			Logger.Error("Failed to delete old jobs", "error", err)
		}
		result.JobsDeleted = deleted
	}

	// Step 4: idle sessions
	db.UpdateJobProgress(ctx, jobID, 90, "Closing idle sessions")
	closed, err := serverHandler.Sessions.CloseIdle(serverHandler.ServerConfig.SessionIdle)
	if err != nil {
		Logger.Error("Failed closing idle sessions", "error", err)
	}
	result.SessionsClosed = closed.Documents
	result.SessionPages = closed.Pages

	data, _ := json.Marshal(result)
	if err := db.CompleteJob(ctx, jobID, string(data)); err != nil {
		Logger.Error("Failed to mark cleanup job as complete", "error", err)
	}
	Logger.Info("Database cleanup job completed", "jobID", jobID, "scanned", result.Scanned,
		"deleted", result.Deleted, "orphanThumbnails", result.OrphanThumbnails, "jobsDeleted", result.JobsDeleted)
}

// findOrphanThumbnails lists thumbnail directories whose name is not a known document
func (serverHandler *ServerHandler) findOrphanThumbnails(known map[string]bool) ([]string, error) {
	root := serverHandler.ServerConfig.ThumbnailPath
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var orphans []string
	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		if _, err := ulid.ParseStrict(entry.Name()); err != nil {
			continue // not ours
		}
		orphans = append(orphans, filepath.Join(root, entry.Name()))
	}
	return orphans, nil
}

// reapIdleSessions closes sessions idle longer than maxIdle and records the
// sweep as a job so it shows up next to the others.
func (serverHandler *ServerHandler) reapIdleSessions(ctx context.Context, maxIdle time.Duration) (SessionStats, error) {
	db := serverHandler.DB
	job, err := db.CreateJob(ctx, database.JobTypeSessionReap, "Closing idle sessions", 1)
	if err != nil {
		Logger.Warn("Unable to record session reap job", "error", err)
	}
	closed, reapErr := serverHandler.Sessions.CloseIdle(maxIdle)
	if closed.Documents > 0 {
		Logger.Info("Closed idle sessions", "documents", closed.Documents, "pages", closed.Pages, "idle", maxIdle)
	}
	if job == nil {
		return closed, reapErr
	}
	if reapErr != nil {
		db.UpdateJobError(ctx, job.ID, reapErr.Error())
		return closed, reapErr
	}
	data, _ := json.Marshal(closed)
	if err := db.CompleteJob(ctx, job.ID, string(data)); err != nil {
		Logger.Error("Failed to mark session reap job as complete", "error", err)
	}
	return closed, nil
}
