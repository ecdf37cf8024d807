package database

import (
	"context"
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/oklog/ulid/v2"
)

// Document is all of the document information stored in the database
type Document struct {
	ID          int
	ULID        ulid.ULID // short id used in URLs
	Name        string    // original upload name
	Path        string    // full path to the stored file
	Hash        string    // md5 of the file contents
	PageCount   int
	Engine      string // engine that opened the document on upload
	IngressTime time.Time
}

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ErrDuplicateDocument is returned when an upload's hash matches a stored document
var ErrDuplicateDocument = errors.New("duplicate document")

// Repository defines database operations
type Repository interface {
	Close() error
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocumentByID(ctx context.Context, id int) (*Document, error)
	GetDocumentByULID(ctx context.Context, ulid string) (*Document, error)
	GetDocumentByHash(ctx context.Context, hash string) (*Document, error)
	GetNewestDocuments(ctx context.Context, limit int) ([]Document, error)
	GetAllDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, ulid string) error
	// Page catalog methods
	SavePageBoxes(ctx context.Context, docULID string, pageIndex int, boxes map[pdfpage.BoxKind]pdfpage.Rect) error
	GetPageBoxes(ctx context.Context, docULID string, pageIndex int) (map[pdfpage.BoxKind]pdfpage.Rect, error)
	SavePageLinks(ctx context.Context, docULID string, pageIndex int, links []pdfpage.Link) error
	GetPageLinks(ctx context.Context, docULID string, pageIndex int) ([]pdfpage.Link, bool, error)
	// Job tracking methods
	CreateJob(ctx context.Context, jobType JobType, message string, totalSteps int) (*Job, error)
	UpdateJobProgress(ctx context.Context, jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(ctx context.Context, jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(ctx context.Context, jobID ulid.ULID, errorMsg string) error
	CompleteJob(ctx context.Context, jobID ulid.ULID, result string) error
	GetJob(ctx context.Context, jobID ulid.ULID) (*Job, error)
	GetRecentJobs(ctx context.Context, limit, offset int) ([]Job, error)
	GetActiveJobs(ctx context.Context) ([]Job, error)
	DeleteOldJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// NewDocument describes an uploaded file waiting to be catalogued
type NewDocument struct {
	SourcePath   string // temporary location of the upload
	Name         string
	PageCount    int
	Engine       string
	DocumentPath string // directory the file is moved into
}

// AddNewDocument moves an upload into the document store and records it.
// A file whose hash is already catalogued is rejected with ErrDuplicateDocument
// and the existing document.
func AddNewDocument(ctx context.Context, upload NewDocument, db Repository) (*Document, error) {
	fileHash, err := calculateHash(upload.SourcePath)
	if err != nil {
		return nil, err
	}
	if existing := checkDuplicateDocument(ctx, fileHash, upload.Name, db); existing != nil {
		return existing, fmt.Errorf("%w: %s matches %s", ErrDuplicateDocument, upload.Name, existing.ULID)
	}

	newTime := time.Now()
	newULID, err := CalculateUUID(newTime)
	if err != nil {
		Logger.Error("Cannot generate ULID", "name", upload.Name, "error", err)
		return nil, err
	}

	storedPath := filepath.ToSlash(filepath.Join(upload.DocumentPath, newULID.String()+".pdf"))
	if err := os.Rename(upload.SourcePath, storedPath); err != nil {
		return nil, fmt.Errorf("unable to move upload into document store: %w", err)
	}

	newDocument := Document{
		ULID:        newULID,
		Name:        filepath.Base(upload.Name),
		Path:        storedPath,
		Hash:        fileHash,
		PageCount:   upload.PageCount,
		Engine:      upload.Engine,
		IngressTime: newTime,
	}
	if err := db.SaveDocument(ctx, &newDocument); err != nil {
		Logger.Error("Unable to write document to database", "error", err)
		if removeErr := os.Remove(storedPath); removeErr != nil {
			Logger.Warn("Unable to remove orphaned document file", "path", storedPath, "error", removeErr)
		}
		return nil, err
	}
	return &newDocument, nil
}

// FetchNewestDocuments fetches the documents that were added last
func FetchNewestDocuments(ctx context.Context, numberOf int, db Repository) ([]Document, error) {
	newestDocuments, err := db.GetNewestDocuments(ctx, numberOf)
	if err != nil {
		Logger.Error("Unable to find the latest documents", "error", err)
		return newestDocuments, err
	}
	return newestDocuments, nil
}

// FetchDocument fetches the requested document by ULID
func FetchDocument(ctx context.Context, docULIDSt string, db Repository) (Document, int, error) {
	if _, err := ulid.Parse(docULIDSt); err != nil {
		return Document{}, http.StatusBadRequest, fmt.Errorf("invalid document id %q: %w", docULIDSt, err)
	}
	foundDocument, err := db.GetDocumentByULID(ctx, docULIDSt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			Logger.Debug("Unable to find the requested document", "ulid", docULIDSt)
			return Document{}, http.StatusNotFound, err
		}
		Logger.Error("Database error fetching document", "error", err)
		return Document{}, http.StatusInternalServerError, err
	}
	return *foundDocument, http.StatusOK, nil
}

// DeleteDocument removes the document, its cached page data and the stored file
func DeleteDocument(ctx context.Context, doc Document, db Repository) error {
	if err := db.DeleteDocument(ctx, doc.ULID.String()); err != nil {
		Logger.Error("Unable to delete requested document", "error", err)
		return err
	}
	if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
		Logger.Warn("Unable to remove document file", "path", doc.Path, "error", err)
	}
	return nil
}

func checkDuplicateDocument(ctx context.Context, fileHash string, fileName string, db Repository) *Document {
	document, err := db.GetDocumentByHash(ctx, fileHash)
	if err != nil || document == nil {
		Logger.Debug("No record found, assume no duplicate hash", "error", err)
		return nil
	}
	Logger.Info("Duplicate document found on upload (Hash collision)", "fileName", fileName, "existingDocument", document.Name)
	return document
}

// calculate the hash of the incoming file
func calculateHash(fileName string) (string, error) {
	var fileHash string
	file, err := os.Open(fileName)
	if err != nil {
		return fileHash, err
	}
	defer file.Close()
	hash := md5.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return fileHash, err
	}
	fileHash = fmt.Sprintf("%x", hash.Sum(nil))
	return fileHash, nil
}

// CalculateUUID for the incoming file
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
