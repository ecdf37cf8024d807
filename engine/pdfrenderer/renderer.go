package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
)

// ErrUnknownHandle is returned for a token the engine never issued or already released
var ErrUnknownHandle = errors.New("pdfrenderer: unknown handle")

// Engine kinds accepted by NewEngine
const (
	EnginePDFium = "pdfium"
	EngineFitz   = "fitz"
)

// NativeEngine is a pdfpage.Engine holding native resources that must be released
type NativeEngine interface {
	pdfpage.Engine
	Close() error
}

// NewEngine creates the engine named by kind. An empty kind selects PDFium (pure Go, no CGo).
func NewEngine(kind string, instanceTimeout time.Duration) (NativeEngine, error) {
	switch kind {
	case "", EnginePDFium:
		return NewPDFiumEngine(instanceTimeout)
	case EngineFitz:
		return NewFitzEngine()
	default:
		return nil, fmt.Errorf("unknown PDF engine %q", kind)
	}
}

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// RenderPDF converts all pages of a PDF file to images
	// Returns a slice of images, one per page
	RenderPDF(filename string) ([]image.Image, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// PageRenderer renders whole documents through page handles
type PageRenderer struct {
	engine pdfpage.Engine
	dpi    int
}

// NewRenderer creates a renderer drawing every page at dpi
func NewRenderer(engine pdfpage.Engine, dpi int) *PageRenderer {
	return &PageRenderer{engine: engine, dpi: dpi}
}

// RenderPDF converts all pages of a PDF file to images
func (r *PageRenderer) RenderPDF(filename string) ([]image.Image, error) {
	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}
	doc, err := pdfpage.Open(r.engine, pdfBytes, "")
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	numPages, err := doc.PageCount()
	if err != nil {
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}
	images := make([]image.Image, 0, numPages)
	for pageIndex := 0; pageIndex < numPages; pageIndex++ {
		img, err := RenderPage(doc, pageIndex, r.dpi, true)
		if err != nil {
			return nil, fmt.Errorf("unable to render page %d: %w", pageIndex, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// Close is a no-op, the engine belongs to the caller
func (r *PageRenderer) Close() error {
	return nil
}

// RenderPage opens one page, renders all of it at dpi into a new bitmap and closes it again
func RenderPage(doc *pdfpage.Document, index, dpi int, annotations bool) (*image.RGBA, error) {
	page, err := doc.OpenPage(index, dpi)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	width, err := page.Width()
	if err != nil {
		return nil, err
	}
	height, err := page.Height()
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	err = page.RenderBitmap(img, pdfpage.RenderRequest{
		Region:      pdfpage.Region{Width: width, Height: height},
		Annotations: annotations,
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// composite draws src onto dst with its top-left corner at startX, startY, clipped to dst
func composite(dst draw.Image, src image.Image, startX, startY int) {
	target := src.Bounds().Sub(src.Bounds().Min).Add(image.Pt(startX, startY))
	draw.Draw(dst, target.Intersect(dst.Bounds()), src, src.Bounds().Min.Add(clipOffset(target, dst.Bounds())), draw.Over)
}

// clipOffset is how far the clipped target's corner moved from the unclipped one
func clipOffset(target, bounds image.Rectangle) image.Point {
	return target.Intersect(bounds).Min.Sub(target.Min)
}

// renderToSurface locks the surface, runs draw on its buffer and posts it.
// The buffer is posted even when draw fails so the surface stays usable.
func renderToSurface(surface pdfpage.Surface, drawFn func(buffer draw.Image) error) error {
	if surface == nil {
		return pdfpage.ErrSurfaceReleased
	}
	buffer, err := surface.Lock()
	if err != nil {
		return err
	}
	drawErr := drawFn(buffer)
	if err := surface.UnlockAndPost(); err != nil {
		return err
	}
	return drawErr
}
