package pdfpage

// Page is an open page of a Document, bound to a fixed rendering DPI.
//
// A Page is exclusively owned by whoever opened it and is closed exactly once,
// either by Close or by Document.ClosePages. Any operation after that returns
// ErrPageClosed.
type Page struct {
	doc    *Document
	index  int
	dpi    int
	ref    PageRef
	closed bool
}

// Index returns the zero based page index
func (p *Page) Index() int {
	return p.index
}

// DPI returns the resolution used by the pixel queries
func (p *Page) DPI() int {
	return p.dpi
}

// Ref returns the native page reference
func (p *Page) Ref() PageRef {
	return p.ref
}

// Document returns the owning document
func (p *Page) Document() *Document {
	return p.doc
}

// Closed reports whether the page handle has been closed
func (p *Page) Closed() bool {
	gate.Lock()
	defer gate.Unlock()
	return p.closed
}

// check must be called with the gate held.
func (p *Page) check() error {
	if p.closed {
		return ErrPageClosed
	}
	if p.doc.closed {
		return ErrDocumentClosed
	}
	return nil
}

// query runs fn against the engine with the gate held and the handle validated.
func query[T any](p *Page, fn func(e Engine) (T, error)) (T, error) {
	return locked(func() (T, error) {
		if err := p.check(); err != nil {
			var zero T
			return zero, err
		}
		return fn(p.doc.engine)
	})
}

// Width returns the page width in pixels at the page DPI
func (p *Page) Width() (int, error) {
	return query(p, func(e Engine) (int, error) {
		return e.PageWidthPixel(p.ref, p.dpi)
	})
}

// Height returns the page height in pixels at the page DPI
func (p *Page) Height() (int, error) {
	return query(p, func(e Engine) (int, error) {
		return e.PageHeightPixel(p.ref, p.dpi)
	})
}

// WidthPoint returns the page width in points (1/72 inch)
func (p *Page) WidthPoint() (int, error) {
	return query(p, func(e Engine) (int, error) {
		return e.PageWidthPoint(p.ref)
	})
}

// HeightPoint returns the page height in points (1/72 inch)
func (p *Page) HeightPoint() (int, error) {
	return query(p, func(e Engine) (int, error) {
		return e.PageHeightPoint(p.ref)
	})
}

// Size returns the page size in pixels through the document's size-by-index
// query, which does not need the page open on the engine side.
func (p *Page) Size() (Size, error) {
	return query(p, func(e Engine) (Size, error) {
		return e.PageSizeByIndex(p.doc.ref, p.index, p.dpi)
	})
}

// Close releases the native page. A second Close returns ErrPageClosed.
func (p *Page) Close() error {
	return lockedErr(func() error {
		if err := p.check(); err != nil {
			return err
		}
		if err := p.doc.engine.ClosePage(p.ref); err != nil {
			return err
		}
		p.closed = true
		return nil
	})
}
