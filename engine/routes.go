package engine

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/drummonds/pdfpages/config"
	"github.com/drummonds/pdfpages/database"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/internal/build"
	"github.com/labstack/echo/v4"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Engine       pdfpage.Engine
	Sessions     *SessionStore
}

// NewServerHandler wires a handler with a fresh session store over engine
func NewServerHandler(db database.Repository, e *echo.Echo, serverConfig config.ServerConfig, engine pdfpage.Engine) *ServerHandler {
	return &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Engine:       engine,
		Sessions:     NewSessionStore(engine),
	}
}

// AddRoutes registers every API route, all under the /api prefix
func (serverHandler *ServerHandler) AddRoutes() {
	api := serverHandler.Echo.Group("/api")

	// Admin API routes
	api.GET("/about", serverHandler.GetAboutInfo)
	api.POST("/clean", serverHandler.CleanDatabase)
	api.POST("/sessions/reap", serverHandler.ReapSessions)

	// Document API routes
	api.POST("/documents", serverHandler.UploadDocument)
	api.GET("/documents", serverHandler.GetLatestDocuments)
	api.GET("/documents/:id", serverHandler.GetDocument)
	api.DELETE("/documents/:id", serverHandler.DeleteDocument)
	api.POST("/documents/:id/thumbnails", serverHandler.RunThumbnails)

	// Page API routes
	pages := api.Group("/documents/:id/pages/:page")
	pages.GET("/size", serverHandler.GetPageSize)
	pages.GET("/boxes", serverHandler.GetPageBoxes)
	pages.GET("/boxes/:kind", serverHandler.GetPageBox)
	pages.GET("/links", serverHandler.GetPageLinks)
	pages.GET("/fontsize/:char", serverHandler.GetFontSize)
	pages.GET("/transform/device-point", serverHandler.TransformToDevicePoint)
	pages.GET("/transform/page-point", serverHandler.TransformToPagePoint)
	pages.GET("/transform/device-rect", serverHandler.TransformToDeviceRect)
	pages.GET("/transform/page-rect", serverHandler.TransformToPageRect)
	pages.GET("/render", serverHandler.RenderPage)
	pages.GET("/thumbnail", serverHandler.GetThumbnail)

	// Job tracking API routes
	api.GET("/jobs", serverHandler.GetRecentJobs)
	api.GET("/jobs/active", serverHandler.GetActiveJobs)
	api.GET("/jobs/:id", serverHandler.GetJob)
}

// errorStatus maps page handle and catalog errors onto HTTP codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pdfpage.ErrPageClosed), errors.Is(err, pdfpage.ErrDocumentClosed):
		return http.StatusGone
	case errors.Is(err, pdfpage.ErrInvalidArgument), errors.Is(err, pdfpage.ErrForeignPage):
		return http.StatusBadRequest
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// jsonError logs err and writes it with the status errorStatus picks
func jsonError(c echo.Context, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		Logger.Error("Request failed", "path", c.Path(), "error", err)
	} else {
		Logger.Debug("Request rejected", "path", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, map[string]interface{}{
		"error": err.Error(),
	})
}

// GetAboutInfo returns information about the application
// @Summary Get application information
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	cfg := serverHandler.ServerConfig
	aboutInfo := map[string]interface{}{
		"version":       build.Version,
		"engine":        cfg.PDFEngine,
		"renderDPI":     cfg.RenderDPI,
		"databaseType":  cfg.DatabaseType,
		"databaseHost":  cfg.DatabaseHost,
		"databaseName":  cfg.DatabaseDbname,
		"documentPath":  cfg.DocumentPath,
		"thumbnailPath": cfg.ThumbnailPath,
		"sessions":      serverHandler.Sessions.Stats(),
	}
	return c.JSON(http.StatusOK, aboutInfo)
}

// UploadDocument stores an uploaded PDF and records it in the catalog
// @Summary Upload a document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF file to upload"
// @Success 201 {object} database.Document "Stored document"
// @Failure 400 {object} map[string]interface{} "Not a readable PDF"
// @Failure 409 {object} map[string]interface{} "Duplicate document"
// @Router /documents [post]
func (serverHandler *ServerHandler) UploadDocument(c echo.Context) error {
	file, fileHeader, err := c.Request().FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Missing file field",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return jsonError(c, err)
	}
	pageCount, err := serverHandler.countPages(data)
	if err != nil {
		Logger.Info("Rejected upload", "name", fileHeader.Filename, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Not a readable PDF: " + err.Error(),
		})
	}

	tempFile, err := os.CreateTemp(serverHandler.ServerConfig.DocumentPath, "upload-*.tmp")
	if err != nil {
		return jsonError(c, err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // no-op once the file has been moved into place
	_, writeErr := tempFile.Write(data)
	if err := errors.Join(writeErr, tempFile.Close()); err != nil {
		return jsonError(c, err)
	}

	document, err := database.AddNewDocument(c.Request().Context(), database.NewDocument{
		SourcePath:   tempPath,
		Name:         fileHeader.Filename,
		PageCount:    pageCount,
		Engine:       serverHandler.ServerConfig.PDFEngine,
		DocumentPath: serverHandler.ServerConfig.DocumentPath,
	}, serverHandler.DB)
	if errors.Is(err, database.ErrDuplicateDocument) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":    err.Error(),
			"document": document,
		})
	}
	if err != nil {
		return jsonError(c, err)
	}
	Logger.Info("Document uploaded", "ulid", document.ULID, "name", document.Name, "pages", pageCount)
	return c.JSON(http.StatusCreated, document)
}

// countPages opens the upload once to validate it
func (serverHandler *ServerHandler) countPages(data []byte) (int, error) {
	doc, err := pdfpage.Open(serverHandler.Engine, data, "")
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.PageCount()
}

// GetLatestDocuments returns the newest documents
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param limit query int false "Number of documents to return (default: 20)"
// @Success 200 {array} database.Document "Documents, newest first"
// @Router /documents [get]
func (serverHandler *ServerHandler) GetLatestDocuments(c echo.Context) error {
	limit := 20
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	documents, err := database.FetchNewestDocuments(c.Request().Context(), limit, serverHandler.DB)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to fetch documents",
		})
	}
	if documents == nil {
		documents = []database.Document{}
	}
	return c.JSON(http.StatusOK, documents)
}

// GetDocument will return a document by ULID
// @Summary Get a document by ID
// @Tags Documents
// @Produce json
// @Param id path string true "Document ULID"
// @Success 200 {object} database.Document "Document details"
// @Failure 404 {object} map[string]interface{} "Document not found"
// @Router /documents/{id} [get]
func (serverHandler *ServerHandler) GetDocument(c echo.Context) error {
	document, httpStatus, err := database.FetchDocument(c.Request().Context(), c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(httpStatus, document)
}

// DeleteDocument closes any open session, then removes the catalog entry, the file and its thumbnails
// @Summary Delete a document
// @Tags Documents
// @Param id path string true "Document ULID"
// @Success 204 "Deleted"
// @Failure 404 {object} map[string]interface{} "Document not found"
// @Router /documents/{id} [delete]
func (serverHandler *ServerHandler) DeleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	document, httpStatus, err := database.FetchDocument(ctx, c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := serverHandler.Sessions.CloseDocument(document.ULID.String()); err != nil {
		Logger.Warn("Failed to close document session before delete", "ulid", document.ULID, "error", err)
	}
	if err := database.DeleteDocument(ctx, document, serverHandler.DB); err != nil {
		return jsonError(c, err)
	}
	if err := os.RemoveAll(serverHandler.thumbnailDir(document)); err != nil {
		Logger.Warn("Unable to remove thumbnails", "ulid", document.ULID, "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// thumbnailDir is where the thumbnails of one document are written
func (serverHandler *ServerHandler) thumbnailDir(document database.Document) string {
	return filepath.Join(serverHandler.ServerConfig.ThumbnailPath, document.ULID.String())
}
