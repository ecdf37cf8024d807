package pdfpage

// Link is a clickable page region leading to another page, a URI, or both
type Link struct {
	Rect          Rect    `json:"rect"`
	DestPageIndex *int    `json:"destPageIndex,omitempty"`
	URI           *string `json:"uri,omitempty"`
}

// Links enumerates the page's links in engine order. Links without a
// rectangle, or with neither a destination page nor a URI, are dropped.
func (p *Page) Links() ([]Link, error) {
	return query(p, func(e Engine) ([]Link, error) {
		refs, err := e.PageLinks(p.ref)
		if err != nil {
			return nil, err
		}
		docRef := p.doc.ref
		links := make([]Link, 0, len(refs))
		for _, ref := range refs {
			index, err := e.LinkDestPageIndex(docRef, ref)
			if err != nil {
				return nil, err
			}
			uri, err := e.LinkURI(docRef, ref)
			if err != nil {
				return nil, err
			}
			rect, err := e.LinkRect(docRef, ref)
			if err != nil {
				return nil, err
			}
			if rect != nil && (index != nil || uri != nil) {
				links = append(links, Link{Rect: *rect, DestPageIndex: index, URI: uri})
			}
		}
		return links, nil
	})
}
