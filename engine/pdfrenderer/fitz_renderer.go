package pdfrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

type fitzDocument struct {
	fitz   *fitz.Document
	reader *pdf.Reader
	// page dictionary text to zero based index, built on the first link lookup
	pageIndex map[string]int
}

// pageIndexes maps each page dictionary to its index. The reader does not
// expose object numbers, so pages are matched by the text of their
// dictionary; two pages with identical dictionaries resolve to the first.
func pageIndexes(reader *pdf.Reader) map[string]int {
	indexes := make(map[string]int, reader.NumPage())
	for i := 0; i < reader.NumPage(); i++ {
		key := reader.Page(i + 1).V.String()
		if _, ok := indexes[key]; !ok {
			indexes[key] = i
		}
	}
	return indexes
}

type fitzPage struct {
	doc   pdfpage.DocumentRef
	index int
	dict  pdf.Page
	// media box in points, page dictionary first, MuPDF bounds as fallback
	media     pdfpage.Rect
	fontSizes []float64
	textRead  bool
	links     []pdfpage.LinkRef
}

type fitzLink struct {
	page pdfpage.PageRef
	rect *pdfpage.Rect
	dest *int
	uri  *string
}

// FitzEngine implements pdfpage.Engine using go-fitz (requires CGo and MuPDF) for
// rasterizing and ledongthuc/pdf for reading the page dictionaries.
type FitzEngine struct {
	docs  handleTable[*fitzDocument]
	pages handleTable[*fitzPage]
	links handleTable[fitzLink]
}

// NewFitzEngine creates a new Fitz-based engine
func NewFitzEngine() (*FitzEngine, error) {
	return &FitzEngine{}, nil
}

func (e *FitzEngine) document(doc pdfpage.DocumentRef) (*fitzDocument, error) {
	d, ok := e.docs.get(uint64(doc))
	if !ok {
		return nil, fmt.Errorf("%w: document %d", ErrUnknownHandle, doc)
	}
	return d, nil
}

func (e *FitzEngine) page(page pdfpage.PageRef) (*fitzPage, *fitzDocument, error) {
	p, ok := e.pages.get(uint64(page))
	if !ok {
		return nil, nil, fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
	}
	d, err := e.document(p.doc)
	if err != nil {
		return nil, nil, err
	}
	return p, d, nil
}

func (e *FitzEngine) OpenDocument(data []byte, password string) (pdfpage.DocumentRef, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, err
	}
	var asked bool
	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), func() string {
		if asked {
			return ""
		}
		asked = true
		return password
	})
	if err != nil {
		doc.Close()
		return 0, fmt.Errorf("unable to read page dictionaries: %w", err)
	}
	return pdfpage.DocumentRef(e.docs.add(&fitzDocument{fitz: doc, reader: reader})), nil
}

func (e *FitzEngine) CloseDocument(doc pdfpage.DocumentRef) error {
	d, ok := e.docs.remove(uint64(doc))
	if !ok {
		return fmt.Errorf("%w: document %d", ErrUnknownHandle, doc)
	}
	return d.fitz.Close()
}

func (e *FitzEngine) PageCount(doc pdfpage.DocumentRef) (int, error) {
	d, err := e.document(doc)
	if err != nil {
		return 0, err
	}
	return d.fitz.NumPage(), nil
}

func (e *FitzEngine) OpenPage(doc pdfpage.DocumentRef, index int) (pdfpage.PageRef, error) {
	d, err := e.document(doc)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= d.fitz.NumPage() {
		return 0, fmt.Errorf("page %d out of range", index)
	}
	dict := d.reader.Page(index + 1)
	media, ok := pageBox(dict, "MediaBox")
	if !ok {
		bound, err := d.fitz.Bound(index)
		if err != nil {
			return 0, err
		}
		media = pdfpage.Rect{Left: 0, Top: float64(bound.Dy()), Right: float64(bound.Dx()), Bottom: 0}
	}
	p := &fitzPage{doc: doc, index: index, dict: dict, media: media}
	return pdfpage.PageRef(e.pages.add(p)), nil
}

func (e *FitzEngine) ClosePage(page pdfpage.PageRef) error {
	p, ok := e.pages.remove(uint64(page))
	if !ok {
		return fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
	}
	for _, link := range p.links {
		e.links.remove(uint64(link))
	}
	return nil
}

func (e *FitzEngine) ClosePages(pages []pdfpage.PageRef) error {
	for _, page := range pages {
		if _, ok := e.pages.get(uint64(page)); !ok {
			return fmt.Errorf("%w: page %d", ErrUnknownHandle, page)
		}
	}
	for _, page := range pages {
		e.ClosePage(page)
	}
	return nil
}

func (e *FitzEngine) PageWidthPixel(page pdfpage.PageRef, dpi int) (int, error) {
	p, _, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return toPixels(p.media.Width(), dpi), nil
}

func (e *FitzEngine) PageHeightPixel(page pdfpage.PageRef, dpi int) (int, error) {
	p, _, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return toPixels(p.media.Height(), dpi), nil
}

func (e *FitzEngine) PageWidthPoint(page pdfpage.PageRef) (int, error) {
	p, _, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return int(p.media.Width()), nil
}

func (e *FitzEngine) PageHeightPoint(page pdfpage.PageRef) (int, error) {
	p, _, err := e.page(page)
	if err != nil {
		return 0, err
	}
	return int(p.media.Height()), nil
}

// PageSizeByIndex asks MuPDF for the page bounds, which are in points
func (e *FitzEngine) PageSizeByIndex(doc pdfpage.DocumentRef, index int, dpi int) (pdfpage.Size, error) {
	d, err := e.document(doc)
	if err != nil {
		return pdfpage.Size{}, err
	}
	bound, err := d.fitz.Bound(index)
	if err != nil {
		return pdfpage.Size{}, err
	}
	return pdfpage.Size{Width: toPixels(float64(bound.Dx()), dpi), Height: toPixels(float64(bound.Dy()), dpi)}, nil
}

func (e *FitzEngine) FontSize(page pdfpage.PageRef, charIndex int) (float64, error) {
	p, _, err := e.page(page)
	if err != nil {
		return 0, err
	}
	if !p.textRead {
		sizes, err := readFontSizes(p.dict)
		if err != nil {
			return 0, err
		}
		p.fontSizes = sizes
		p.textRead = true
	}
	if charIndex < 0 || charIndex >= len(p.fontSizes) {
		return 0, fmt.Errorf("character index %d out of range [0, %d)", charIndex, len(p.fontSizes))
	}
	return p.fontSizes[charIndex], nil
}

// readFontSizes walks the content stream once. The reader panics on
// malformed content, so that is turned into an error here.
func readFontSizes(dict pdf.Page) (sizes []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unable to read page text: %v", r)
		}
	}()
	for _, text := range dict.Content().Text {
		sizes = append(sizes, text.FontSize)
	}
	return sizes, nil
}

// inherited looks key up on the page and then up its /Parent chain
func inherited(dict pdf.Page, key string) pdf.Value {
	for v := dict.V; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
	}
	return pdf.Value{}
}

func rectValue(v pdf.Value) (pdfpage.Rect, bool) {
	if v.Kind() != pdf.Array || v.Len() != 4 {
		return pdfpage.Rect{}, false
	}
	x1, y1, x2, y2 := v.Index(0).Float64(), v.Index(1).Float64(), v.Index(2).Float64(), v.Index(3).Float64()
	return pdfpage.Rect{
		Left:   math.Min(x1, x2),
		Top:    math.Max(y1, y2),
		Right:  math.Max(x1, x2),
		Bottom: math.Min(y1, y2),
	}, true
}

func pageBox(dict pdf.Page, key string) (pdfpage.Rect, bool) {
	return rectValue(inherited(dict, key))
}

func boxOf(r pdfpage.Rect) [4]float32 {
	return ltrb(float32(r.Left), float32(r.Top), float32(r.Right), float32(r.Bottom))
}

func (e *FitzEngine) dictBox(page pdfpage.PageRef, key string) ([4]float32, error) {
	p, _, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	box, ok := pageBox(p.dict, key)
	if !ok {
		return [4]float32{}, nil
	}
	return boxOf(box), nil
}

func (e *FitzEngine) MediaBox(page pdfpage.PageRef) ([4]float32, error) {
	p, _, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	return boxOf(p.media), nil
}

func (e *FitzEngine) CropBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.dictBox(page, "CropBox")
}

func (e *FitzEngine) BleedBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.dictBox(page, "BleedBox")
}

func (e *FitzEngine) TrimBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.dictBox(page, "TrimBox")
}

func (e *FitzEngine) ArtBox(page pdfpage.PageRef) ([4]float32, error) {
	return e.dictBox(page, "ArtBox")
}

// BoundingBox is the crop box clipped to the media box, or the media box when there is no crop box
func (e *FitzEngine) BoundingBox(page pdfpage.PageRef) ([4]float32, error) {
	p, _, err := e.page(page)
	if err != nil {
		return [4]float32{}, err
	}
	bound := p.media
	if crop, ok := pageBox(p.dict, "CropBox"); ok {
		bound = pdfpage.Rect{
			Left:   math.Max(crop.Left, bound.Left),
			Top:    math.Min(crop.Top, bound.Top),
			Right:  math.Min(crop.Right, bound.Right),
			Bottom: math.Max(crop.Bottom, bound.Bottom),
		}
	}
	return boxOf(bound), nil
}

// rasterize renders the page at dpi and scales it to exactly sizeX by sizeY
func (e *FitzEngine) rasterize(page pdfpage.PageRef, dpi, sizeX, sizeY int) (image.Image, error) {
	p, d, err := e.page(page)
	if err != nil {
		return nil, err
	}
	img, err := d.fitz.ImageDPI(p.index, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", p.index, err)
	}
	if img.Bounds().Dx() == sizeX && img.Bounds().Dy() == sizeY {
		return img, nil
	}
	if sizeX <= 0 || sizeY <= 0 {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return imaging.Resize(img, sizeX, sizeY, imaging.Lanczos), nil
}

// RenderSurface ignores the annotation flag: MuPDF always draws annotations.
func (e *FitzEngine) RenderSurface(page pdfpage.PageRef, surface pdfpage.Surface, dpi, startX, startY, sizeX, sizeY int, annotations bool) error {
	img, err := e.rasterize(page, dpi, sizeX, sizeY)
	if err != nil {
		return err
	}
	return renderToSurface(surface, func(buffer draw.Image) error {
		composite(buffer, img, startX, startY)
		return nil
	})
}

func (e *FitzEngine) RenderBitmap(page pdfpage.PageRef, bitmap draw.Image, dpi, startX, startY, sizeX, sizeY int, annotations, textMask bool) error {
	img, err := e.rasterize(page, dpi, sizeX, sizeY)
	if err != nil {
		return err
	}
	composite(bitmap, img, startX, startY)
	return nil
}

// PageLinks reads the page's /Link annotations. Destinations and URIs are
// resolved here once, the Link* calls only look them up.
func (e *FitzEngine) PageLinks(page pdfpage.PageRef) ([]pdfpage.LinkRef, error) {
	p, d, err := e.page(page)
	if err != nil {
		return nil, err
	}
	for _, link := range p.links {
		e.links.remove(uint64(link))
	}
	p.links = nil

	annots := p.dict.V.Key("Annots")
	var links []pdfpage.LinkRef
	for i := 0; i < annots.Len(); i++ {
		annot := annots.Index(i)
		if annot.Key("Subtype").Name() != "Link" {
			continue
		}
		link := fitzLink{page: page}
		if rect, ok := rectValue(annot.Key("Rect")); ok {
			link.rect = &rect
		}
		action := annot.Key("A")
		switch action.Key("S").Name() {
		case "URI":
			uri := action.Key("URI").RawString()
			link.uri = &uri
		case "GoTo":
			link.dest = d.destPageIndex(action.Key("D"))
		}
		if dest := annot.Key("Dest"); !dest.IsNull() {
			link.dest = d.destPageIndex(dest)
		}
		links = append(links, pdfpage.LinkRef(e.links.add(link)))
	}
	p.links = links
	return links, nil
}

// destPageIndex resolves an explicit destination array to a zero based page
// index. Named destinations are not resolved.
func (d *fitzDocument) destPageIndex(dest pdf.Value) *int {
	if dest.Kind() != pdf.Array || dest.Len() == 0 {
		return nil
	}
	target := dest.Index(0)
	if target.Kind() == pdf.Integer {
		index := int(target.Int64())
		return &index
	}
	if d.pageIndex == nil {
		d.pageIndex = pageIndexes(d.reader)
	}
	index, ok := d.pageIndex[target.String()]
	if !ok {
		return nil
	}
	return &index
}

func (e *FitzEngine) link(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (fitzLink, error) {
	link, ok := e.links.get(uint64(ref))
	if !ok {
		return fitzLink{}, fmt.Errorf("%w: link %d", ErrUnknownHandle, ref)
	}
	if p, ok := e.pages.get(uint64(link.page)); !ok || p.doc != doc {
		return fitzLink{}, fmt.Errorf("%w: link %d is not in document %d", ErrUnknownHandle, ref, doc)
	}
	return link, nil
}

func (e *FitzEngine) LinkDestPageIndex(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*int, error) {
	link, err := e.link(doc, ref)
	return link.dest, err
}

func (e *FitzEngine) LinkURI(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*string, error) {
	link, err := e.link(doc, ref)
	return link.uri, err
}

func (e *FitzEngine) LinkRect(doc pdfpage.DocumentRef, ref pdfpage.LinkRef) (*pdfpage.Rect, error) {
	link, err := e.link(doc, ref)
	return link.rect, err
}

func (e *FitzEngine) PageToDevice(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, pageX, pageY float64) (pdfpage.DevicePoint, error) {
	p, _, err := e.page(page)
	if err != nil {
		return pdfpage.DevicePoint{}, err
	}
	vp := pdfpage.Viewport{StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Rotate: pdfpage.Rotation(rotate)}
	return pdfpage.ToDevice(p.media, vp, pageX, pageY), nil
}

func (e *FitzEngine) DeviceToPage(page pdfpage.PageRef, startX, startY, sizeX, sizeY, rotate int, deviceX, deviceY int) (pdfpage.Point, error) {
	p, _, err := e.page(page)
	if err != nil {
		return pdfpage.Point{}, err
	}
	vp := pdfpage.Viewport{StartX: startX, StartY: startY, SizeX: sizeX, SizeY: sizeY, Rotate: pdfpage.Rotation(rotate)}
	return pdfpage.ToPage(p.media, vp, deviceX, deviceY), nil
}

// Close releases any documents still open
func (e *FitzEngine) Close() error {
	var ids []uint64
	e.docs.each(func(id uint64, _ *fitzDocument) {
		ids = append(ids, id)
	})
	for _, id := range ids {
		if d, ok := e.docs.remove(id); ok {
			d.fitz.Close()
		}
	}
	return nil
}

var _ pdfpage.Engine = (*FitzEngine)(nil)
