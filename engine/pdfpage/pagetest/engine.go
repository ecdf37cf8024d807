// Package pagetest provides an in-memory pdfpage.Engine for tests.
//
// Documents are declared up front with AddDocument and opened by passing the
// document key as the raw bytes. The engine counts calls, can hold each call
// for a while, and records whether two calls were ever inside it at once.
package pagetest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
)

var (
	// ErrUnknownDocument is returned when the bytes do not name a declared document
	ErrUnknownDocument = errors.New("pagetest: unknown document")
	// ErrBadPassword is returned when the password does not match
	ErrBadPassword = errors.New("pagetest: wrong password")
	// ErrUnknownRef is returned for tokens the engine never issued or already released
	ErrUnknownRef = errors.New("pagetest: unknown reference")
	// ErrCharIndex is returned by FontSize for an index outside the page text
	ErrCharIndex = errors.New("pagetest: character index out of range")
)

// Paper is the colour pages are rendered in
var Paper = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// LinkSpec declares one link object. Nil fields are reported as absent.
type LinkSpec struct {
	Rect          *pdfpage.Rect
	DestPageIndex *int
	URI           *string
}

// PageSpec declares one page
type PageSpec struct {
	WidthPt  float64
	HeightPt float64
	// Boxes overrides the engine answer per kind. The media and bounding
	// boxes default to the page size, every other box to zero.
	Boxes     map[pdfpage.BoxKind][4]float32
	Links     []LinkSpec
	FontSizes []float64
}

// DocumentSpec declares one document
type DocumentSpec struct {
	Password string
	Pages    []PageSpec
}

// RenderCall records the arguments of one render
type RenderCall struct {
	Page        pdfpage.PageRef
	Bitmap      bool
	DPI         int
	StartX      int
	StartY      int
	SizeX       int
	SizeY       int
	Annotations bool
	TextMask    bool
}

type openPage struct {
	doc  pdfpage.DocumentRef
	spec PageSpec
}

type openLink struct {
	page pdfpage.PageRef
	spec LinkSpec
}

// Engine is a fake pdfpage.Engine. The zero value is not usable, use New.
type Engine struct {
	// Hold keeps every call inside the engine for this long, which widens
	// the window for the overlap detector.
	Hold time.Duration
	// RenderErr, when set, is returned by both render calls
	RenderErr error
	// RenderPanic, when set, makes both render calls panic with it
	RenderPanic any

	inFlight atomic.Int32
	overlaps atomic.Int32

	mu      sync.Mutex
	specs   map[string]DocumentSpec
	docs    map[pdfpage.DocumentRef]DocumentSpec
	pages   map[pdfpage.PageRef]openPage
	links   map[pdfpage.LinkRef]openLink
	next    uint64
	calls   map[string]int
	renders []RenderCall
}

// New returns an empty engine
func New() *Engine {
	return &Engine{
		specs: make(map[string]DocumentSpec),
		docs:  make(map[pdfpage.DocumentRef]DocumentSpec),
		pages: make(map[pdfpage.PageRef]openPage),
		links: make(map[pdfpage.LinkRef]openLink),
		calls: make(map[string]int),
	}
}

// AddDocument declares a document that OpenDocument([]byte(key)) will open
func (e *Engine) AddDocument(key string, spec DocumentSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[key] = spec
}

// Calls returns how often the named engine method was called
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// Overlaps returns how many calls found another call already inside the engine
func (e *Engine) Overlaps() int {
	return int(e.overlaps.Load())
}

// OpenPages returns the number of page tokens still alive
func (e *Engine) OpenPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pages)
}

// OpenDocuments returns the number of document tokens still alive
func (e *Engine) OpenDocuments() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.docs)
}

// Renders returns every render call made so far
func (e *Engine) Renders() []RenderCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RenderCall(nil), e.renders...)
}

// enter marks a call as in flight. The returned func must be deferred.
func (e *Engine) enter(name string) func() {
	if e.inFlight.Add(1) > 1 {
		e.overlaps.Add(1)
	}
	e.mu.Lock()
	e.calls[name]++
	e.mu.Unlock()
	if e.Hold > 0 {
		time.Sleep(e.Hold)
	}
	return func() { e.inFlight.Add(-1) }
}

func (e *Engine) token() uint64 {
	e.next++
	return e.next
}

func (e *Engine) page(ref pdfpage.PageRef) (openPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pages[ref]
	if !ok {
		return openPage{}, fmt.Errorf("%w: page %d", ErrUnknownRef, ref)
	}
	return p, nil
}

func (e *Engine) OpenDocument(data []byte, password string) (pdfpage.DocumentRef, error) {
	defer e.enter("OpenDocument")()
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.specs[string(data)]
	if !ok {
		return 0, ErrUnknownDocument
	}
	if spec.Password != password {
		return 0, ErrBadPassword
	}
	ref := pdfpage.DocumentRef(e.token())
	e.docs[ref] = spec
	return ref, nil
}

func (e *Engine) CloseDocument(doc pdfpage.DocumentRef) error {
	defer e.enter("CloseDocument")()
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.docs[doc]; !ok {
		return fmt.Errorf("%w: document %d", ErrUnknownRef, doc)
	}
	delete(e.docs, doc)
	return nil
}

func (e *Engine) PageCount(doc pdfpage.DocumentRef) (int, error) {
	defer e.enter("PageCount")()
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.docs[doc]
	if !ok {
		return 0, fmt.Errorf("%w: document %d", ErrUnknownRef, doc)
	}
	return len(spec.Pages), nil
}

func (e *Engine) OpenPage(doc pdfpage.DocumentRef, index int) (pdfpage.PageRef, error) {
	defer e.enter("OpenPage")()
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.docs[doc]
	if !ok {
		return 0, fmt.Errorf("%w: document %d", ErrUnknownRef, doc)
	}
	if index < 0 || index >= len(spec.Pages) {
		return 0, fmt.Errorf("pagetest: page %d out of range", index)
	}
	ref := pdfpage.PageRef(e.token())
	e.pages[ref] = openPage{doc: doc, spec: spec.Pages[index]}
	return ref, nil
}

func (e *Engine) ClosePage(page pdfpage.PageRef) error {
	defer e.enter("ClosePage")()
	return e.closePages([]pdfpage.PageRef{page})
}

func (e *Engine) ClosePages(pages []pdfpage.PageRef) error {
	defer e.enter("ClosePages")()
	return e.closePages(pages)
}

func (e *Engine) closePages(pages []pdfpage.PageRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ref := range pages {
		if _, ok := e.pages[ref]; !ok {
			return fmt.Errorf("%w: page %d", ErrUnknownRef, ref)
		}
	}
	for _, ref := range pages {
		delete(e.pages, ref)
		for id, link := range e.links {
			if link.page == ref {
				delete(e.links, id)
			}
		}
	}
	return nil
}

func pixels(points float64, dpi int) int {
	return int(points * float64(dpi) / 72)
}

func (e *Engine) PageWidthPixel(page pdfpage.PageRef, dpi int) (int, error) {
	defer e.enter("PageWidthPixel")()
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return pixels(p.spec.WidthPt, dpi), nil
}

func (e *Engine) PageHeightPixel(page pdfpage.PageRef, dpi int) (int, error) {
	defer e.enter("PageHeightPixel")()
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return pixels(p.spec.HeightPt, dpi), nil
}

func (e *Engine) PageWidthPoint(page pdfpage.PageRef) (int, error) {
	defer e.enter("PageWidthPoint")()
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return int(p.spec.WidthPt), nil
}

func (e *Engine) PageHeightPoint(page pdfpage.PageRef) (int, error) {
	defer e.enter("PageHeightPoint")()
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return int(p.spec.HeightPt), nil
}

func (e *Engine) PageSizeByIndex(doc pdfpage.DocumentRef, index int, dpi int) (pdfpage.Size, error) {
	defer e.enter("PageSizeByIndex")()
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.docs[doc]
	if !ok {
		return pdfpage.Size{}, fmt.Errorf("%w: document %d", ErrUnknownRef, doc)
	}
	if index < 0 || index >= len(spec.Pages) {
		return pdfpage.Size{}, fmt.Errorf("pagetest: page %d out of range", index)
	}
	p := spec.Pages[index]
	return pdfpage.Size{Width: pixels(p.WidthPt, dpi), Height: pixels(p.HeightPt, dpi)}, nil
}

func (e *Engine) FontSize(page pdfpage.PageRef, charIndex int) (float64, error) {
	defer e.enter("FontSize")()
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	if charIndex < 0 || charIndex >= len(p.spec.FontSizes) {
		return 0, fmt.Errorf("%w: %d", ErrCharIndex, charIndex)
	}
	return p.spec.FontSizes[charIndex], nil
}

func (e *Engine) box(name string, page pdfpage.PageRef, kind pdfpage.BoxKind) ([4]float32, error) {
	defer e.enter(name)()
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	if box, ok := p.spec.Boxes[kind]; ok {
		return box, nil
	}
	if kind == pdfpage.BoxMedia || kind == pdfpage.BoxBounding {
		return mediaBox(p.spec), nil
	}
	return [4]float32{}, nil
}

func mediaBox(spec PageSpec) [4]float32 {
	if box, ok := spec.Boxes[pdfpage.BoxMedia]; ok {
		return box
	}
	var box [4]float32
	box[pdfpage.Left] = 0
	box[pdfpage.Top] = float32(spec.HeightPt)
	box[pdfpage.Right] = float32(spec.WidthPt)
	box[pdfpage.Bottom] = 0
	return box
}

func (e *Engine) MediaBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("MediaBox", page, pdfpage.BoxMedia)
}

func (e *Engine) CropBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("CropBox", page, pdfpage.BoxCrop)
}

func (e *Engine) BleedBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("BleedBox", page, pdfpage.BoxBleed)
}

func (e *Engine) TrimBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("TrimBox", page, pdfpage.BoxTrim)
}

func (e *Engine) ArtBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("ArtBox", page, pdfpage.BoxArt)
}

func (e *Engine) BoundingBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.box("BoundingBox", page, pdfpage.BoxBounding)
}

func (e *Engine) render(call RenderCall, dst draw.Image) error {
	e.mu.Lock()
	_, ok := e.pages[call.Page]
	e.renders = append(e.renders, call)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: page %d", ErrUnknownRef, call.Page)
	}
	if e.RenderPanic != nil {
		panic(e.RenderPanic)
	}
	if e.RenderErr != nil {
		return e.RenderErr
	}
	area := image.Rect(call.StartX, call.StartY, call.StartX+call.SizeX, call.StartY+call.SizeY)
	draw.Draw(dst, area.Intersect(dst.Bounds()), image.NewUniform(Paper), image.Point{}, draw.Src)
	return nil
}

func (e *Engine) RenderSurface(page pdfpage.PageRef, surface pdfpage.Surface, dpi, startX, startY, sizeX, sizeY int, annotations bool) error {
	defer e.enter("RenderSurface")()
	if surface == nil {
		return pdfpage.ErrSurfaceReleased
	}
	buffer, err := surface.Lock()
	if err != nil {
		return err
	}
	call := RenderCall{Page: page, DPI: dpi, StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Annotations: annotations}
	if err := e.render(call, buffer); err != nil {
		// the buffer is handed back even on failure so the surface stays usable
		_ = surface.UnlockAndPost()
		return err
	}
	return surface.UnlockAndPost()
}

func (e *Engine) RenderBitmap(page pdfpage.PageRef, bitmap draw.Image, dpi, startX, startY, sizeX, sizeY int, annotations, textMask bool) error {
	defer e.enter("RenderBitmap")()
	call := RenderCall{Page: page, Bitmap: true, DPI: dpi, StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Annotations: annotations, TextMask: textMask}
	return e.render(call, bitmap)
}

func (e *Engine) PageLinks(page pdfpage.PageRef) ([]pdfpage.LinkRef, error) {
	defer e.enter("PageLinks")()
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pages[page]
	if !ok {
		return nil, fmt.Errorf("%w: page %d", ErrUnknownRef, page)
	}
	refs := make([]pdfpage.LinkRef, 0, len(p.spec.Links))
	for _, spec := range p.spec.Links {
		ref := pdfpage.LinkRef(e.token())
		e.links[ref] = openLink{page: page, spec: spec}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (e *Engine) link(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (LinkSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	link, ok := e.links[ref]
	if !ok {
		return LinkSpec{}, fmt.Errorf("%w: link %d", ErrUnknownRef, ref)
	}
	if e.pages[link.page].doc != doc {
		return LinkSpec{}, fmt.Errorf("%w: link %d is not in document %d", ErrUnknownRef, ref, doc)
	}
	return link.spec, nil
}

func (e *Engine) LinkDestPageIndex(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*int, error) {
	defer e.enter("LinkDestPageIndex")()
	link, err := e.link(doc, ref)
	if err != nil {
		return nil, err
	}
	return link.DestPageIndex, nil
}

func (e *Engine) LinkURI(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*string, error) {
	defer e.enter("LinkURI")()
	link, err := e.link(doc, ref)
	if err != nil {
		return nil, err
	}
	return link.URI, nil
}

func (e *Engine) LinkRect(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*pdfpage.Rect, error) {
	defer e.enter("LinkRect")()
	link, err := e.link(doc, ref)
	if err != nil {
		return nil, err
	}
	return link.Rect, nil
}

func (e *Engine) viewportBox(page pdfpage.PageRef) (pdfpage.Rect, error) {
	p, err := e.page(page)
	if err != nil {
		return pdfpage.Rect{}, err
	}
	box := mediaBox(p.spec)
	return pdfpage.Rect{
		Left:   float64(box[pdfpage.Left]),
		Top:    float64(box[pdfpage.Top]),
		Right:  float64(box[pdfpage.Right]),
		Bottom: float64(box[pdfpage.Bottom]),
	}, nil
}

func (e *Engine) PageToDevice(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, pageX, pageY float64) (pdfpage.DevicePoint, error) {
	defer e.enter("PageToDevice")()
	box, err := e.viewportBox(page)
	if err != nil {
		return pdfpage.DevicePoint{}, err
	}
	vp := pdfpage.Viewport{StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Rotate: pdfpage.Rotation(rotate)}
	return pdfpage.ToDevice(box, vp, pageX, pageY), nil
}

func (e *Engine) DeviceToPage(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, deviceX, deviceY int) (pdfpage.Point, error) {
	defer e.enter("DeviceToPage")()
	box, err := e.viewportBox(page)
	if err != nil {
		return pdfpage.Point{}, err
	}
	vp := pdfpage.Viewport{StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Rotate: pdfpage.Rotation(rotate)}
	return pdfpage.ToPage(box, vp, deviceX, deviceY), nil
}

var _ pdfpage.Engine = (*Engine)(nil)
