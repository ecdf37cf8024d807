package pdfpage_test

import (
	"errors"
	"testing"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfpage/pagetest"
)

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func rectPtr(r pdfpage.Rect) *pdfpage.Rect {
	return &r
}

func TestLinksFilter(t *testing.T) {
	page := letterPage()
	page.Links = []pagetest.LinkSpec{
		{Rect: rectPtr(pdfpage.Rect{Left: 72, Top: 720, Right: 144, Bottom: 700}), DestPageIndex: intPtr(3)},
		{DestPageIndex: intPtr(1), URI: strPtr("https://example.com")},
		{Rect: rectPtr(pdfpage.Rect{Left: 10, Top: 20, Right: 30, Bottom: 10})},
	}
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{page}})
	p := openTestPage(t, doc, 0, 72)
	defer p.Close()

	links, err := p.Links()
	if err != nil {
		t.Fatalf("Failed to enumerate links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("Expected exactly one link, got %d: %+v", len(links), links)
	}
	link := links[0]
	if link.DestPageIndex == nil || *link.DestPageIndex != 3 {
		t.Errorf("Expected destination page 3, got %v", link.DestPageIndex)
	}
	if link.URI != nil {
		t.Errorf("Expected no URI, got %q", *link.URI)
	}
	if link.Rect.Left != 72 || link.Rect.Top != 720 {
		t.Errorf("Expected link rect to be kept, got %+v", link.Rect)
	}
}

func TestLinksOrder(t *testing.T) {
	page := letterPage()
	for i, uri := range []string{"a", "b", "c"} {
		page.Links = append(page.Links, pagetest.LinkSpec{
			Rect: rectPtr(pdfpage.Rect{Left: float64(i)}),
			URI:  strPtr(uri),
		})
	}
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{page}})
	p := openTestPage(t, doc, 0, 72)
	defer p.Close()

	links, err := p.Links()
	if err != nil {
		t.Fatalf("Failed to enumerate links: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if *links[i].URI != want {
			t.Errorf("Expected link %d to be %q, got %q", i, want, *links[i].URI)
		}
	}
}

func TestFontSize(t *testing.T) {
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	p := openTestPage(t, doc, 0, 72)

	size, err := p.FontSize(2)
	if err != nil {
		t.Fatalf("Failed to read font size: %v", err)
	}
	if size != 9.5 {
		t.Errorf("Expected 9.5, got %v", size)
	}
	if got, err := p.FontSizeOrZero(0); err != nil || got != 12 {
		t.Errorf("Expected 12 from lenient query, got %v, %v", got, err)
	}

	if _, err := p.FontSize(99); !errors.Is(err, pagetest.ErrCharIndex) {
		t.Errorf("Expected out of range error from strict query, got: %v", err)
	}
	if got, err := p.FontSizeOrZero(99); err != nil || got != 0 {
		t.Errorf("Expected 0 and no error from lenient query, got %v, %v", got, err)
	}

	p.Close()
	if _, err := p.FontSizeOrZero(0); !errors.Is(err, pdfpage.ErrPageClosed) {
		t.Errorf("Expected ErrPageClosed from lenient query on closed page, got: %v", err)
	}
	if _, err := p.FontSize(0); !errors.Is(err, pdfpage.ErrPageClosed) {
		t.Errorf("Expected ErrPageClosed from strict query, got: %v", err)
	}
}
