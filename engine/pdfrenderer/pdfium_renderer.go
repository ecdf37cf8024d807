package pdfrenderer

import (
	"fmt"
	"image/draw"
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/structs"
	"github.com/klippa-app/go-pdfium/webassembly"
)

type pdfiumPage struct {
	ref   references.FPDF_PAGE
	doc   pdfpage.DocumentRef
	links []pdfpage.LinkRef
}

type pdfiumLink struct {
	ref  references.FPDF_LINK
	page pdfpage.PageRef
}

// PDFiumEngine implements pdfpage.Engine on go-pdfium with WebAssembly (pure Go, no CGo).
// PDFium keeps global state, so the pool is limited to a single instance.
type PDFiumEngine struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium

	docs  handleTable[references.FPDF_DOCUMENT]
	pages handleTable[*pdfiumPage]
	links handleTable[pdfiumLink]
}

// NewPDFiumEngine starts the WebAssembly runtime and takes its only instance
func NewPDFiumEngine(instanceTimeout time.Duration) (*PDFiumEngine, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(instanceTimeout)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumEngine{
		pool:     pool,
		instance: instance,
	}, nil
}

func (e *PDFiumEngine) document(doc pdfpage.DocumentRef) (references.FPDF_DOCUMENT, error) {
	ref, ok := e.docs.get(uint64(doc))
	if !ok {
		return "", fmt.Errorf("%w: document %d", ErrUnknownHandle, doc)
	}
	return ref, nil
}

func (e *PDFiumEngine) page(page pdfpage.PageRef) (requests.Page, error) {
	p, ok := e.pages.get(uint64(page))
	if !ok {
		return requests.Page{}, fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
	}
	ref := p.ref
	return requests.Page{ByReference: &ref}, nil
}

func (e *PDFiumEngine) link(link pdfpage.LinkRef) (references.FPDF_LINK, error) {
	l, ok := e.links.get(uint64(link))
	if !ok {
		return "", fmt.Errorf("%w: link %d", ErrUnknownHandle, link)
	}
	return l.ref, nil
}

func (e *PDFiumEngine) OpenDocument(data []byte, password string) (pdfpage.DocumentRef, error) {
	req := &requests.OpenDocument{File: &data}
	if password != "" {
		req.Password = &password
	}
	doc, err := e.instance.OpenDocument(req)
	if err != nil {
		return 0, err
	}
	return pdfpage.DocumentRef(e.docs.add(doc.Document)), nil
}

func (e *PDFiumEngine) CloseDocument(doc pdfpage.DocumentRef) error {
	ref, err := e.document(doc)
	if err != nil {
		return err
	}
	if _, err := e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: ref}); err != nil {
		return err
	}
	e.docs.remove(uint64(doc))
	return nil
}

func (e *PDFiumEngine) PageCount(doc pdfpage.DocumentRef) (int, error) {
	ref, err := e.document(doc)
	if err != nil {
		return 0, err
	}
	resp, err := e.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: ref})
	if err != nil {
		return 0, err
	}
	return resp.PageCount, nil
}

func (e *PDFiumEngine) OpenPage(doc pdfpage.DocumentRef, index int) (pdfpage.PageRef, error) {
	ref, err := e.document(doc)
	if err != nil {
		return 0, err
	}
	resp, err := e.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{Document: ref, Index: index})
	if err != nil {
		return 0, err
	}
	return pdfpage.PageRef(e.pages.add(&pdfiumPage{ref: resp.Page, doc: doc})), nil
}

func (e *PDFiumEngine) ClosePage(page pdfpage.PageRef) error {
	p, ok := e.pages.get(uint64(page))
	if !ok {
		return fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
	}
	if _, err := e.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: p.ref}); err != nil {
		return err
	}
	for _, link := range p.links {
		e.links.remove(uint64(link))
	}
	e.pages.remove(uint64(page))
	return nil
}

// ClosePages closes each page in turn; PDFium has no batch close.
func (e *PDFiumEngine) ClosePages(pages []pdfpage.PageRef) error {
	for _, page := range pages {
		if err := e.ClosePage(page); err != nil {
			return err
		}
	}
	return nil
}

func (e *PDFiumEngine) pageSizePoints(page pdfpage.PageRef) (float32, float32, error) {
	p, err := e.page(page)
	if err != nil {
		return 0, 0, err
	}
	width, err := e.instance.FPDF_GetPageWidthF(&requests.FPDF_GetPageWidthF{Page: p})
	if err != nil {
		return 0, 0, err
	}
	height, err := e.instance.FPDF_GetPageHeightF(&requests.FPDF_GetPageHeightF{Page: p})
	if err != nil {
		return 0, 0, err
	}
	return width.PageWidth, height.PageHeight, nil
}

func toPixels(points float64, dpi int) int {
	return int(points * float64(dpi) / 72)
}

func (e *PDFiumEngine) PageWidthPixel(page pdfpage.PageRef, dpi int) (int, error) {
	width, _, err := e.pageSizePoints(page)
	return toPixels(float64(width), dpi), err
}

func (e *PDFiumEngine) PageHeightPixel(page pdfpage.PageRef, dpi int) (int, error) {
	_, height, err := e.pageSizePoints(page)
	return toPixels(float64(height), dpi), err
}

func (e *PDFiumEngine) PageWidthPoint(page pdfpage.PageRef) (int, error) {
	width, _, err := e.pageSizePoints(page)
	return int(width), err
}

func (e *PDFiumEngine) PageHeightPoint(page pdfpage.PageRef) (int, error) {
	_, height, err := e.pageSizePoints(page)
	return int(height), err
}

func (e *PDFiumEngine) PageSizeByIndex(doc pdfpage.DocumentRef, index int, dpi int) (pdfpage.Size, error) {
	ref, err := e.document(doc)
	if err != nil {
		return pdfpage.Size{}, err
	}
	resp, err := e.instance.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{Document: ref, Index: index})
	if err != nil {
		return pdfpage.Size{}, err
	}
	return pdfpage.Size{Width: toPixels(resp.Width, dpi), Height: toPixels(resp.Height, dpi)}, nil
}

func (e *PDFiumEngine) FontSize(page pdfpage.PageRef, charIndex int) (float64, error) {
	p, err := e.page(page)
	if err != nil {
		return 0, err
	}
	text, err := e.instance.FPDFText_LoadPage(&requests.FPDFText_LoadPage{Page: p})
	if err != nil {
		return 0, err
	}
	defer e.instance.FPDFText_ClosePage(&requests.FPDFText_ClosePage{TextPage: text.TextPage})
	resp, err := e.instance.FPDFText_GetFontSize(&requests.FPDFText_GetFontSize{TextPage: text.TextPage, Index: charIndex})
	if err != nil {
		return 0, err
	}
	return resp.FontSize, nil
}

// ltrb packs a box in the order pdfpage expects
func ltrb(left, top, right, bottom float32) [4]float32 {
	var box [4]float32
	box[pdfpage.Left] = left
	box[pdfpage.Top] = top
	box[pdfpage.Right] = right
	box[pdfpage.Bottom] = bottom
	return box
}

func (e *PDFiumEngine) MediaBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDFPage_GetMediaBox(&requests.FPDFPage_GetMediaBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return ltrb(resp.Left, resp.Top, resp.Right, resp.Bottom), nil
}

func (e *PDFiumEngine) CropBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDFPage_GetCropBox(&requests.FPDFPage_GetCropBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return ltrb(resp.Left, resp.Top, resp.Right, resp.Bottom), nil
}

func (e *PDFiumEngine) BleedBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDFPage_GetBleedBox(&requests.FPDFPage_GetBleedBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return ltrb(resp.Left, resp.Top, resp.Right, resp.Bottom), nil
}

func (e *PDFiumEngine) TrimBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDFPage_GetTrimBox(&requests.FPDFPage_GetTrimBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return ltrb(resp.Left, resp.Top, resp.Right, resp.Bottom), nil
}

func (e *PDFiumEngine) ArtBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDFPage_GetArtBox(&requests.FPDFPage_GetArtBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return ltrb(resp.Left, resp.Top, resp.Right, resp.Bottom), nil
}

func (e *PDFiumEngine) BoundingBox(page pdfpage.PageRef) ([4]float32, error) {
	p, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	resp, err := e.instance.FPDF_GetPageBoundingBox(&requests.FPDF_GetPageBoundingBox{Page: p})
	if err != nil {
		return [4]float32{}, err
	}
	return rectfBox(resp.Rect), nil
}

func rectfBox(r structs.FPDF_FS_RECTF) [4]float32 {
	return ltrb(r.Left, r.Top, r.Right, r.Bottom)
}

func renderFlags(annotations, textMask bool) enums.FPDF_RENDER_FLAG {
	var flags enums.FPDF_RENDER_FLAG
	if annotations {
		flags |= enums.FPDF_RENDER_FLAG_ANNOT
	}
	if textMask {
		flags |= enums.FPDF_RENDER_FLAG_RENDER_NO_SMOOTHTEXT
	}
	return flags
}

// renderInto renders the whole page at sizeX by sizeY and composites it onto dst at startX, startY
func (e *PDFiumEngine) renderInto(page pdfpage.PageRef, dst draw.Image, startX, startY, sizeX, sizeY int, flags enums.FPDF_RENDER_FLAG) error {
	p, err := e.page(page)
	if err != nil {
		return err
	}
	pageRender, err := e.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:        p,
		Width:       sizeX,
		Height:      sizeY,
		RenderFlags: flags,
	})
	if err != nil {
		return fmt.Errorf("unable to render page: %w", err)
	}
	// Clean up WebAssembly resources for this page
	defer pageRender.Cleanup()
	composite(dst, pageRender.Result.Image, startX, startY)
	return nil
}

func (e *PDFiumEngine) RenderSurface(page pdfpage.PageRef, surface pdfpage.Surface, dpi, startX, startY, sizeX, sizeY int, annotations bool) error {
	return renderToSurface(surface, func(buffer draw.Image) error {
		return e.renderInto(page, buffer, startX, startY, sizeX, sizeY, renderFlags(annotations, false))
	})
}

func (e *PDFiumEngine) RenderBitmap(page pdfpage.PageRef, bitmap draw.Image, dpi, startX, startY, sizeX, sizeY int, annotations, textMask bool) error {
	return e.renderInto(page, bitmap, startX, startY, sizeX, sizeY, renderFlags(annotations, textMask))
}

func (e *PDFiumEngine) PageLinks(page pdfpage.PageRef) ([]pdfpage.LinkRef, error) {
	p, ok := e.pages.get(uint64(page))
	if !ok {
		return nil, fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
	}
	// tokens from an earlier enumeration of this page are no longer handed out
	for _, link := range p.links {
		e.links.remove(uint64(link))
	}
	p.links = nil

	ref := p.ref
	var links []pdfpage.LinkRef
	startPos := 0
	for {
		resp, err := e.instance.FPDFLink_Enumerate(&requests.FPDFLink_Enumerate{
			Page:     requests.Page{ByReference: &ref},
			StartPos: startPos,
		})
		if err != nil {
			return nil, err
		}
		if resp.Link == nil || resp.NextStartPos == nil {
			break
		}
		link := pdfpage.LinkRef(e.links.add(pdfiumLink{ref: *resp.Link, page: page}))
		links = append(links, link)
		startPos = *resp.NextStartPos
	}
	p.links = links
	return links, nil
}

func (e *PDFiumEngine) LinkDestPageIndex(doc pdfpage.DocumentRef, link pdfpage.LinkRef) (*int, error) {
	docRef, err := e.document(doc)
	if err != nil {
		return nil, err
	}
	linkRef, err := e.link(link)
	if err != nil {
		return nil, err
	}
	dest, err := e.instance.FPDFLink_GetDest(&requests.FPDFLink_GetDest{Document: docRef, Link: linkRef})
	if err != nil || dest.Dest == nil {
		// no destination is not an error
		return nil, nil
	}
	resp, err := e.instance.FPDFDest_GetDestPageIndex(&requests.FPDFDest_GetDestPageIndex{Document: docRef, Dest: *dest.Dest})
	if err != nil {
		return nil, nil
	}
	index := resp.Index
	return &index, nil
}

func (e *PDFiumEngine) LinkURI(doc pdfpage.DocumentRef, link pdfpage.LinkRef) (*string, error) {
	docRef, err := e.document(doc)
	if err != nil {
		return nil, err
	}
	linkRef, err := e.link(link)
	if err != nil {
		return nil, err
	}
	action, err := e.instance.FPDFLink_GetAction(&requests.FPDFLink_GetAction{Link: linkRef})
	if err != nil || action.Action == nil {
		return nil, nil
	}
	resp, err := e.instance.FPDFAction_GetURIPath(&requests.FPDFAction_GetURIPath{Document: docRef, Action: *action.Action})
	if err != nil || resp.URIPath == nil {
		return nil, nil
	}
	return resp.URIPath, nil
}

func (e *PDFiumEngine) LinkRect(doc pdfpage.DocumentRef, link pdfpage.LinkRef) (*pdfpage.Rect, error) {
	linkRef, err := e.link(link)
	if err != nil {
		return nil, err
	}
	resp, err := e.instance.FPDFLink_GetAnnotRect(&requests.FPDFLink_GetAnnotRect{Link: linkRef})
	if err != nil || resp.Rect == nil {
		return nil, nil
	}
	return &pdfpage.Rect{
		Left:   float64(resp.Rect.Left),
		Top:    float64(resp.Rect.Top),
		Right:  float64(resp.Rect.Right),
		Bottom: float64(resp.Rect.Bottom),
	}, nil
}

func (e *PDFiumEngine) PageToDevice(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, pageX, pageY float64) (pdfpage.DevicePoint, error) {
	p, err := e.page(page)
	if err != nil {
		return pdfpage.DevicePoint{}, err
	}
	resp, err := e.instance.FPDF_PageToDevice(&requests.FPDF_PageToDevice{
		Page:   p,
		StartX: startX,
		StartY: startY,
		SizeX:  sizeX,
		SizeY:  sizeY,
		Rotate: enums.FPDF_PAGE_ROTATION(rotate),
		PageX:  pageX,
		PageY:  pageY,
	})
	if err != nil {
		return pdfpage.DevicePoint{}, err
	}
	return pdfpage.DevicePoint{X: resp.DeviceX, Y: resp.DeviceY}, nil
}

func (e *PDFiumEngine) DeviceToPage(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, deviceX, deviceY int) (pdfpage.Point, error) {
	p, err := e.page(page)
	if err != nil {
		return pdfpage.Point{}, err
	}
	resp, err := e.instance.FPDF_DeviceToPage(&requests.FPDF_DeviceToPage{
		Page:    p,
		StartX:  startX,
		StartY:  startY,
		SizeX:   sizeX,
		SizeY:   sizeY,
		Rotate:  enums.FPDF_PAGE_ROTATION(rotate),
		DeviceX: deviceX,
		DeviceY: deviceY,
	})
	if err != nil {
		return pdfpage.Point{}, err
	}
	return pdfpage.Point{X: resp.PageX, Y: resp.PageY}, nil
}

// Close releases every native reference still open and shuts the pool down
func (e *PDFiumEngine) Close() error {
	if e.pool == nil {
		return nil
	}
	e.pages.each(func(_ uint64, p *pdfiumPage) {
		e.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: p.ref})
	})
	e.docs.each(func(_ uint64, doc references.FPDF_DOCUMENT) {
		e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc})
	})
	e.pool.Close()
	e.pool = nil
	e.instance = nil
	return nil
}

var _ pdfpage.Engine = (*PDFiumEngine)(nil)
