// Package pdfpage wraps a native PDF engine in managed per-page handles.
//
// The engine behind the Engine interface is assumed to be single-threaded and
// to keep hidden global state across every open document, so all calls into it
// are serialized through one process-wide gate. Page handles are not otherwise
// synchronized: closing a handle while another goroutine is using it is a
// caller error.
package pdfpage

import (
	"errors"
	"image/draw"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

func logger() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}

// DocumentRef identifies a document opened by an Engine. Zero is never valid.
type DocumentRef uint64

// PageRef identifies a page opened by an Engine. Zero is never valid.
type PageRef uint64

// LinkRef identifies a link object on an open page. Zero is never valid.
type LinkRef uint64

// Size is a page size in pixels or points, depending on the query
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Indexes into the four floats returned by the box queries.
const (
	Left = iota
	Top
	Right
	Bottom
)

var (
	// ErrPageClosed is returned for any operation on a closed page handle.
	ErrPageClosed = errors.New("pdfpage: page is closed")
	// ErrDocumentClosed is returned when the owning document was closed first.
	ErrDocumentClosed = errors.New("pdfpage: document is closed")
	// ErrForeignPage is returned by Document.ClosePages for a page opened from another document.
	ErrForeignPage = errors.New("pdfpage: page belongs to another document")
	// ErrInvalidArgument is returned for negative page indexes, non-positive DPI and similar.
	ErrInvalidArgument = errors.New("pdfpage: invalid argument")
	// ErrSurfaceReleased is returned by a Surface once its platform buffer is gone.
	ErrSurfaceReleased = errors.New("pdfpage: surface released")
)

// Engine is the fixed set of native calls the page handles depend on.
//
// Implementations do not need to be safe for concurrent use; every call is made
// with the package gate held. Argument order and units follow the native API:
// pixel queries take a DPI, point queries do not, boxes come back as four
// floats in Left, Top, Right, Bottom order.
type Engine interface {
	OpenDocument(data []byte, password string) (DocumentRef, error)
	CloseDocument(doc DocumentRef) error
	PageCount(doc DocumentRef) (int, error)
	OpenPage(doc DocumentRef, index int) (PageRef, error)

	ClosePage(page PageRef) error
	ClosePages(pages []PageRef) error

	PageWidthPixel(page PageRef, dpi int) (int, error)
	PageHeightPixel(page PageRef, dpi int) (int, error)
	PageWidthPoint(page PageRef) (int, error)
	PageHeightPoint(page PageRef) (int, error)
	PageSizeByIndex(doc DocumentRef, index int, dpi int) (Size, error)
	FontSize(page PageRef, charIndex int) (float64, error)

	MediaBox(page PageRef) ([4]float32, error)
	CropBox(page PageRef) ([4]float32, error)
	BleedBox(page PageRef) ([4]float32, error)
	TrimBox(page PageRef) ([4]float32, error)
	ArtBox(page PageRef) ([4]float32, error)
	BoundingBox(page PageRef) ([4]float32, error)

	RenderSurface(page PageRef, surface Surface, dpi, startX, startY, sizeX, sizeY int, annotations bool) error
	RenderBitmap(page PageRef, bitmap draw.Image, dpi, startX, startY, sizeX, sizeY int, annotations, textMask bool) error

	// PageLinks invalidates the refs an earlier call returned for the same page.
	PageLinks(page PageRef) ([]LinkRef, error)
	LinkDestPageIndex(doc DocumentRef, link LinkRef) (*int, error)
	LinkURI(doc DocumentRef, link LinkRef) (*string, error)
	LinkRect(doc DocumentRef, link LinkRef) (*Rect, error)

	PageToDevice(page PageRef, startX, startY, sizeX, sizeY, rotate int, pageX, pageY float64) (DevicePoint, error)
	DeviceToPage(page PageRef, startX, startY, sizeX, sizeY, rotate int, deviceX, deviceY int) (Point, error)
}
