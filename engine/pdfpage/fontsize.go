package pdfpage

// fontSizeResult carries the outcome of one font size query. closed is set
// when the page or its document was closed and the engine was never asked.
type fontSizeResult struct {
	size   float64
	err    error
	closed error
}

func (p *Page) queryFontSize(charIndex int) fontSizeResult {
	result, _ := locked(func() (fontSizeResult, error) {
		if err := p.check(); err != nil {
			return fontSizeResult{closed: err}, nil
		}
		size, err := p.doc.engine.FontSize(p.ref, charIndex)
		return fontSizeResult{size: size, err: err}, nil
	})
	return result
}

// FontSize returns the size in points of the character at charIndex in the
// page's text. The valid index range is whatever the engine says it is.
func (p *Page) FontSize(charIndex int) (float64, error) {
	result := p.queryFontSize(charIndex)
	if result.closed != nil {
		return 0, result.closed
	}
	return result.size, result.err
}

// FontSizeOrZero is FontSize for callers that cannot act on an engine
// failure: the engine's error is logged and reported as size 0. A closed page
// or document is still an error.
func (p *Page) FontSizeOrZero(charIndex int) (float64, error) {
	result := p.queryFontSize(charIndex)
	if result.closed != nil {
		return 0, result.closed
	}
	if result.err != nil {
		logger().Error("Unable to read font size", "page", p.index, "charIndex", charIndex, "error", result.err)
		return 0, nil
	}
	return result.size, nil
}
