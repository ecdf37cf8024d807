package database

import (
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunDocument represents the documents table for Bun ORM
type BunDocument struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          int       `bun:"id,pk,autoincrement"`
	ULID        string    `bun:"ulid,notnull,unique"` // Stored as string in DB
	Name        string    `bun:"name,notnull"`
	Path        string    `bun:"path,notnull,unique"`
	Hash        string    `bun:"hash,notnull"`
	PageCount   int       `bun:"page_count,notnull"`
	Engine      string    `bun:"engine,notnull"`
	IngressTime time.Time `bun:"ingress_time,notnull,default:current_timestamp"`
}

// ToDocument converts BunDocument to Document
func (bd *BunDocument) ToDocument() (*Document, error) {
	parsedULID, err := ulid.Parse(bd.ULID)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:          bd.ID,
		ULID:        parsedULID,
		Name:        bd.Name,
		Path:        bd.Path,
		Hash:        bd.Hash,
		PageCount:   bd.PageCount,
		Engine:      bd.Engine,
		IngressTime: bd.IngressTime,
	}, nil
}

// FromDocument converts Document to BunDocument
func FromDocument(doc *Document) *BunDocument {
	return &BunDocument{
		ID:          doc.ID,
		ULID:        doc.ULID.String(),
		Name:        doc.Name,
		Path:        doc.Path,
		Hash:        doc.Hash,
		PageCount:   doc.PageCount,
		Engine:      doc.Engine,
		IngressTime: doc.IngressTime,
	}
}

// BunPage records which pages have had their links scanned
type BunPage struct {
	bun.BaseModel `bun:"table:pages,alias:p"`

	DocumentULID   string    `bun:"document_ulid,pk"`
	PageIndex      int       `bun:"page_index,pk"`
	LinksScannedAt time.Time `bun:"links_scanned_at,notnull"`
}

// BunPageBox is one cached page box in points
type BunPageBox struct {
	bun.BaseModel `bun:"table:page_boxes,alias:pb"`

	DocumentULID string  `bun:"document_ulid,pk"`
	PageIndex    int     `bun:"page_index,pk"`
	Kind         string  `bun:"kind,pk"`
	Left         float64 `bun:"left_pt,notnull"`
	Top          float64 `bun:"top_pt,notnull"`
	Right        float64 `bun:"right_pt,notnull"`
	Bottom       float64 `bun:"bottom_pt,notnull"`
}

// Rect returns the stored edges
func (bb *BunPageBox) Rect() pdfpage.Rect {
	return pdfpage.Rect{Left: bb.Left, Top: bb.Top, Right: bb.Right, Bottom: bb.Bottom}
}

// BunPageLink is one cached link, ordinal keeps engine order
type BunPageLink struct {
	bun.BaseModel `bun:"table:page_links,alias:pl"`

	DocumentULID  string  `bun:"document_ulid,pk"`
	PageIndex     int     `bun:"page_index,pk"`
	Ordinal       int     `bun:"ordinal,pk"`
	Left          float64 `bun:"left_pt,notnull"`
	Top           float64 `bun:"top_pt,notnull"`
	Right         float64 `bun:"right_pt,notnull"`
	Bottom        float64 `bun:"bottom_pt,notnull"`
	DestPageIndex *int    `bun:"dest_page_index"`
	URI           *string `bun:"uri"`
}

// ToLink converts BunPageLink to pdfpage.Link
func (bl *BunPageLink) ToLink() pdfpage.Link {
	return pdfpage.Link{
		Rect:          pdfpage.Rect{Left: bl.Left, Top: bl.Top, Right: bl.Right, Bottom: bl.Bottom},
		DestPageIndex: bl.DestPageIndex,
		URI:           bl.URI,
	}
}

// FromLink converts a pdfpage.Link to its row
func FromLink(docULID string, pageIndex, ordinal int, link pdfpage.Link) *BunPageLink {
	return &BunPageLink{
		DocumentULID:  docULID,
		PageIndex:     pageIndex,
		Ordinal:       ordinal,
		Left:          link.Rect.Left,
		Top:           link.Rect.Top,
		Right:         link.Rect.Right,
		Bottom:        link.Rect.Bottom,
		DestPageIndex: link.DestPageIndex,
		URI:           link.URI,
	}
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"`
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
