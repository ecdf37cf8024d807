package pdfpage_test

import (
	"errors"
	"testing"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfpage/pagetest"
)

const letterKey = "letter.pdf"

func letterPage() pagetest.PageSpec {
	return pagetest.PageSpec{WidthPt: 612, HeightPt: 792, FontSizes: []float64{12, 12, 9.5}}
}

// openTestDocument declares spec on a fresh fake engine and opens it
func openTestDocument(t *testing.T, spec pagetest.DocumentSpec) (*pagetest.Engine, *pdfpage.Document) {
	t.Helper()
	engine := pagetest.New()
	engine.AddDocument(letterKey, spec)
	doc, err := pdfpage.Open(engine, []byte(letterKey), spec.Password)
	if err != nil {
		t.Fatalf("Failed to open document: %v", err)
	}
	return engine, doc
}

func openTestPage(t *testing.T, doc *pdfpage.Document, index, dpi int) *pdfpage.Page {
	t.Helper()
	page, err := doc.OpenPage(index, dpi)
	if err != nil {
		t.Fatalf("Failed to open page %d: %v", index, err)
	}
	return page
}

func TestOpenDocument(t *testing.T) {
	engine := pagetest.New()
	engine.AddDocument("secret.pdf", pagetest.DocumentSpec{Password: "hunter2", Pages: []pagetest.PageSpec{letterPage()}})

	if _, err := pdfpage.Open(engine, []byte("missing.pdf"), ""); !errors.Is(err, pagetest.ErrUnknownDocument) {
		t.Errorf("Expected unknown document error, got: %v", err)
	}
	if _, err := pdfpage.Open(engine, []byte("secret.pdf"), "wrong"); !errors.Is(err, pagetest.ErrBadPassword) {
		t.Errorf("Expected bad password error, got: %v", err)
	}

	doc, err := pdfpage.Open(engine, []byte("secret.pdf"), "hunter2")
	if err != nil {
		t.Fatalf("Failed to open document: %v", err)
	}
	count, err := doc.PageCount()
	if err != nil {
		t.Fatalf("Failed to count pages: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 page, got %d", count)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("Failed to close document: %v", err)
	}
	if err := doc.Close(); !errors.Is(err, pdfpage.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed on second close, got: %v", err)
	}
	if _, err := doc.PageCount(); !errors.Is(err, pdfpage.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed after close, got: %v", err)
	}
	if engine.OpenDocuments() != 0 {
		t.Errorf("Expected no open documents, got %d", engine.OpenDocuments())
	}
}

func TestOpenPageArguments(t *testing.T) {
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})

	tests := []struct {
		name  string
		index int
		dpi   int
	}{
		{"negative index", -1, 72},
		{"zero dpi", 0, 0},
		{"negative dpi", 0, -96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := doc.OpenPage(tt.index, tt.dpi)
			if !errors.Is(err, pdfpage.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got: %v", err)
			}
		})
	}

	if _, err := doc.OpenPage(5, 72); err == nil {
		t.Error("Expected an engine error for a page past the end, got nil")
	}
}

func TestPageSize(t *testing.T) {
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	page := openTestPage(t, doc, 0, 144)
	defer page.Close()

	width, err := page.Width()
	if err != nil {
		t.Fatalf("Failed to read width: %v", err)
	}
	height, err := page.Height()
	if err != nil {
		t.Fatalf("Failed to read height: %v", err)
	}
	if width != 1224 || height != 1584 {
		t.Errorf("Expected 1224x1584 pixels at 144 dpi, got %dx%d", width, height)
	}

	widthPt, err := page.WidthPoint()
	if err != nil {
		t.Fatalf("Failed to read point width: %v", err)
	}
	heightPt, err := page.HeightPoint()
	if err != nil {
		t.Fatalf("Failed to read point height: %v", err)
	}
	if widthPt != 612 || heightPt != 792 {
		t.Errorf("Expected 612x792 points, got %dx%d", widthPt, heightPt)
	}

	size, err := page.Size()
	if err != nil {
		t.Fatalf("Failed to read size by index: %v", err)
	}
	if size != (pdfpage.Size{Width: 1224, Height: 1584}) {
		t.Errorf("Expected size by index 1224x1584, got %+v", size)
	}

	byIndex, err := doc.PageSize(0, 72)
	if err != nil {
		t.Fatalf("Failed to read size without opening: %v", err)
	}
	if byIndex != (pdfpage.Size{Width: 612, Height: 792}) {
		t.Errorf("Expected 612x792 at 72 dpi, got %+v", byIndex)
	}
}

func TestUseAfterClose(t *testing.T) {
	engine, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	page := openTestPage(t, doc, 0, 72)

	if err := page.Close(); err != nil {
		t.Fatalf("Failed to close page: %v", err)
	}
	if !page.Closed() {
		t.Error("Expected page to report closed")
	}

	checks := map[string]func() error{
		"Width":       func() error { _, err := page.Width(); return err },
		"HeightPoint": func() error { _, err := page.HeightPoint(); return err },
		"Size":        func() error { _, err := page.Size(); return err },
		"CropBox":     func() error { _, err := page.CropBox(); return err },
		"FontSize":    func() error { _, err := page.FontSize(0); return err },
		"Links":       func() error { _, err := page.Links(); return err },
		"FontSizeOrZero": func() error {
			_, err := page.FontSizeOrZero(0)
			return err
		},
		"PageToDevice": func() error {
			_, err := page.PageToDevice(pdfpage.Viewport{SizeX: 612, SizeY: 792}, 1, 1)
			return err
		},
		"RenderSurface": func() error {
			return page.RenderSurface(pdfpage.NewImageSurface(10, 10), pdfpage.RenderRequest{})
		},
		"Close": page.Close,
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			if err := check(); !errors.Is(err, pdfpage.ErrPageClosed) {
				t.Errorf("Expected ErrPageClosed, got: %v", err)
			}
		})
	}

	if got := engine.Calls("ClosePage"); got != 1 {
		t.Errorf("Expected exactly one native close, got %d", got)
	}
	if got := engine.Calls("PageWidthPixel"); got != 0 {
		t.Errorf("Expected closed page to never reach the engine, got %d width calls", got)
	}
	if got := engine.Calls("FontSize"); got != 0 {
		t.Errorf("Expected closed page to never reach the engine, got %d font size calls", got)
	}
}

func TestPageAfterDocumentClose(t *testing.T) {
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	page := openTestPage(t, doc, 0, 72)

	if err := doc.Close(); err != nil {
		t.Fatalf("Failed to close document: %v", err)
	}
	if _, err := page.MediaBox(); !errors.Is(err, pdfpage.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed, got: %v", err)
	}
	if _, err := page.FontSizeOrZero(0); !errors.Is(err, pdfpage.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed from lenient font size, got: %v", err)
	}
	if _, err := doc.OpenPage(0, 72); !errors.Is(err, pdfpage.ErrDocumentClosed) {
		t.Errorf("Expected ErrDocumentClosed from OpenPage, got: %v", err)
	}
}

func TestClosePages(t *testing.T) {
	spec := pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage(), letterPage(), letterPage()}}
	engine, doc := openTestDocument(t, spec)

	t.Run("Batch close", func(t *testing.T) {
		first := openTestPage(t, doc, 0, 72)
		second := openTestPage(t, doc, 1, 72)
		if err := doc.ClosePages(first, second); err != nil {
			t.Fatalf("Failed to close pages: %v", err)
		}
		if !first.Closed() || !second.Closed() {
			t.Error("Expected both pages closed")
		}
		if got := engine.Calls("ClosePages"); got != 1 {
			t.Errorf("Expected one batch call, got %d", got)
		}
		if engine.OpenPages() != 0 {
			t.Errorf("Expected no pages left open, got %d", engine.OpenPages())
		}
	})

	t.Run("Closed page rejects whole batch", func(t *testing.T) {
		open := openTestPage(t, doc, 0, 72)
		closed := openTestPage(t, doc, 1, 72)
		if err := closed.Close(); err != nil {
			t.Fatalf("Failed to close page: %v", err)
		}
		if err := doc.ClosePages(open, closed); !errors.Is(err, pdfpage.ErrPageClosed) {
			t.Errorf("Expected ErrPageClosed, got: %v", err)
		}
		if open.Closed() {
			t.Error("Expected the open page to be left alone")
		}
		if err := doc.ClosePages(open, open); !errors.Is(err, pdfpage.ErrPageClosed) {
			t.Errorf("Expected duplicate page to be rejected, got: %v", err)
		}
		open.Close()
	})

	t.Run("Foreign page", func(t *testing.T) {
		_, other := openTestDocument(t, spec)
		foreign := openTestPage(t, other, 0, 72)
		defer foreign.Close()
		if err := doc.ClosePages(foreign); !errors.Is(err, pdfpage.ErrForeignPage) {
			t.Errorf("Expected ErrForeignPage, got: %v", err)
		}
		if err := doc.ClosePages(nil); !errors.Is(err, pdfpage.ErrForeignPage) {
			t.Errorf("Expected ErrForeignPage for nil page, got: %v", err)
		}
	})
}

func TestBoxes(t *testing.T) {
	page := letterPage()
	page.Boxes = map[pdfpage.BoxKind][4]float32{
		pdfpage.BoxMedia:    {0, 792, 612, 0},
		pdfpage.BoxCrop:     {10, 780, 600, 12},
		pdfpage.BoxBleed:    {5, 787, 607, 5},
		pdfpage.BoxTrim:     {18.5, 773.25, 593.5, 18.75},
		pdfpage.BoxArt:      {36, 756, 576, 36},
		pdfpage.BoxBounding: {72, 720, 540, 72},
	}
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{page}})
	p := openTestPage(t, doc, 0, 72)
	defer p.Close()

	wrappers := map[pdfpage.BoxKind]func() (pdfpage.Rect, error){
		pdfpage.BoxMedia:    p.MediaBox,
		pdfpage.BoxCrop:     p.CropBox,
		pdfpage.BoxBleed:    p.BleedBox,
		pdfpage.BoxTrim:     p.TrimBox,
		pdfpage.BoxArt:      p.ArtBox,
		pdfpage.BoxBounding: p.BoundingBox,
	}
	for _, kind := range pdfpage.BoxKinds {
		t.Run(kind.String(), func(t *testing.T) {
			want := page.Boxes[kind]
			got, err := wrappers[kind]()
			if err != nil {
				t.Fatalf("Failed to read box: %v", err)
			}
			if got.Left != float64(want[pdfpage.Left]) || got.Top != float64(want[pdfpage.Top]) ||
				got.Right != float64(want[pdfpage.Right]) || got.Bottom != float64(want[pdfpage.Bottom]) {
				t.Errorf("Expected %v, got %+v", want, got)
			}
			viaKind, err := p.Box(kind)
			if err != nil || viaKind != got {
				t.Errorf("Expected Box(%s) to match wrapper, got %+v, %v", kind, viaKind, err)
			}
		})
	}

	if _, err := p.Box(pdfpage.BoxKind(42)); !errors.Is(err, pdfpage.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown kind, got: %v", err)
	}
}

func TestMissingBoxIsZero(t *testing.T) {
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	p := openTestPage(t, doc, 0, 72)
	defer p.Close()

	trim, err := p.TrimBox()
	if err != nil {
		t.Fatalf("Failed to read trim box: %v", err)
	}
	if !trim.IsZero() {
		t.Errorf("Expected zero trim box, got %+v", trim)
	}
}

func TestParseBoxKind(t *testing.T) {
	for _, kind := range pdfpage.BoxKinds {
		parsed, err := pdfpage.ParseBoxKind(kind.String())
		if err != nil || parsed != kind {
			t.Errorf("Expected %s to parse back, got %v, %v", kind, parsed, err)
		}
	}
	if _, err := pdfpage.ParseBoxKind("bogus"); !errors.Is(err, pdfpage.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got: %v", err)
	}
}
