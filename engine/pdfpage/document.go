package pdfpage

import "fmt"

// Document owns one native document reference. Pages opened from it keep a
// non-owning back-reference, so the document must stay open until all of its
// pages are closed. Pages used after the document is closed fail with
// ErrDocumentClosed rather than reaching the engine.
type Document struct {
	engine Engine
	ref    DocumentRef
	closed bool
}

// Open loads a document from its raw bytes
func Open(engine Engine, data []byte, password string) (*Document, error) {
	ref, err := locked(func() (DocumentRef, error) {
		return engine.OpenDocument(data, password)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &Document{engine: engine, ref: ref}, nil
}

// Ref returns the native document reference
func (d *Document) Ref() DocumentRef {
	return d.ref
}

// Engine returns the engine the document was opened with
func (d *Document) Engine() Engine {
	return d.engine
}

// PageCount returns the number of pages in the document
func (d *Document) PageCount() (int, error) {
	return locked(func() (int, error) {
		if d.closed {
			return 0, ErrDocumentClosed
		}
		return d.engine.PageCount(d.ref)
	})
}

// OpenPage opens the page at index. All pixel queries on the returned page use dpi.
func (d *Document) OpenPage(index, dpi int) (*Page, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: page index %d", ErrInvalidArgument, index)
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("%w: dpi %d", ErrInvalidArgument, dpi)
	}
	ref, err := locked(func() (PageRef, error) {
		if d.closed {
			return 0, ErrDocumentClosed
		}
		return d.engine.OpenPage(d.ref, index)
	})
	if err != nil {
		return nil, err
	}
	return &Page{doc: d, index: index, dpi: dpi, ref: ref}, nil
}

// PageSize returns the pixel size of the page at index without opening it.
func (d *Document) PageSize(index, dpi int) (Size, error) {
	if index < 0 || dpi <= 0 {
		return Size{}, fmt.Errorf("%w: page %d at %d dpi", ErrInvalidArgument, index, dpi)
	}
	return locked(func() (Size, error) {
		if d.closed {
			return Size{}, ErrDocumentClosed
		}
		return d.engine.PageSizeByIndex(d.ref, index, dpi)
	})
}

// ClosePages closes many pages of this document in one engine call. Every page
// is validated first; if any is closed or foreign nothing is closed.
func (d *Document) ClosePages(pages ...*Page) error {
	if len(pages) == 0 {
		return nil
	}
	return lockedErr(func() error {
		if d.closed {
			return ErrDocumentClosed
		}
		refs := make([]PageRef, 0, len(pages))
		seen := make(map[*Page]bool, len(pages))
		for _, page := range pages {
			if page == nil || page.doc != d {
				return ErrForeignPage
			}
			if page.closed || seen[page] {
				return fmt.Errorf("page %d: %w", page.index, ErrPageClosed)
			}
			seen[page] = true
			refs = append(refs, page.ref)
		}
		if err := d.engine.ClosePages(refs); err != nil {
			return err
		}
		for _, page := range pages {
			page.closed = true
		}
		return nil
	})
}

// Close releases the native document. Calling it twice returns ErrDocumentClosed.
func (d *Document) Close() error {
	return lockedErr(func() error {
		if d.closed {
			return ErrDocumentClosed
		}
		if err := d.engine.CloseDocument(d.ref); err != nil {
			return err
		}
		d.closed = true
		return nil
	})
}
