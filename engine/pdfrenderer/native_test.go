package pdfrenderer

import (
	"bytes"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/ledongthuc/pdf"
)

// samplePDF builds a two page document: a letter page with a crop box, one
// line of 24pt text and two links, and a smaller landscape page.
func samplePDF() []byte {
	content := "BT /F1 24 Tf 72 720 Td (Hi) Tj ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 5 0 R] /Count 2 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R /CropBox [10 12 600 780] " +
			"/Resources << /Font << /F1 6 0 R >> >> /Annots [7 0 R 8 0 R] >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 400 300] >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Type /Annot /Subtype /Link /Rect [72 700 144 720] /Dest [5 0 R /XYZ 0 300 0] >>",
		"<< /Type /Annot /Subtype /Link /Rect [72 600 200 620] /A << /S /URI /URI (https://example.com) >> >>",
	}
	return buildPDF(objects)
}

// buildPDF numbers objects from 1 and writes them with a valid xref table.
// Object 1 must be the catalog.
func buildPDF(objects []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// liveLinks counts the link handles an engine is holding
func liveLinks(engine NativeEngine) int {
	switch e := engine.(type) {
	case *PDFiumEngine:
		return e.links.len()
	case *FitzEngine:
		return e.links.len()
	}
	return -1
}

func TestDestPageIndex(t *testing.T) {
	data := samplePDF()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Failed to read sample document: %v", err)
	}
	doc := &fitzDocument{reader: reader}

	dest := reader.Page(1).V.Key("Annots").Index(0).Key("Dest")
	for i := 0; i < 3; i++ {
		index := doc.destPageIndex(dest)
		if index == nil || *index != 1 {
			t.Fatalf("Expected destination page 1, got %v", index)
		}
	}
	if len(doc.pageIndex) != 2 {
		t.Errorf("Expected a lookup of 2 pages, got %d", len(doc.pageIndex))
	}
	if index := doc.destPageIndex(reader.Page(1).V.Key("Contents")); index != nil {
		t.Errorf("Expected no page for a non array destination, got %d", *index)
	}
}

func TestPageIndexesMatchByContent(t *testing.T) {
	data := buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R >>",
		"<< /Type /Page /Parent 2 0 R /Rotate 90 >>",
		"<< /Type /Page /Parent 2 0 R >>",
	})
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Failed to read document: %v", err)
	}

	indexes := pageIndexes(reader)
	if len(indexes) != 2 {
		t.Fatalf("Expected identical pages to share one entry, got %v", indexes)
	}
	if got := indexes[reader.Page(3).V.String()]; got != 0 {
		t.Errorf("Expected the identical third page to resolve to the first, got %d", got)
	}
	if got := indexes[reader.Page(2).V.String()]; got != 1 {
		t.Errorf("Expected the rotated page at index 1, got %d", got)
	}
}

func TestNativeEngines(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping native engine tests in short mode")
	}

	for _, kind := range []string{EnginePDFium, EngineFitz} {
		t.Run(kind, func(t *testing.T) {
			engine, err := NewEngine(kind, 30*time.Second)
			if err != nil {
				t.Skipf("Engine %s not available: %v", kind, err)
			}
			defer engine.Close()

			doc, err := pdfpage.Open(engine, samplePDF(), "")
			if err != nil {
				t.Fatalf("Failed to open sample document: %v", err)
			}
			defer doc.Close()

			count, err := doc.PageCount()
			if err != nil || count != 2 {
				t.Fatalf("Expected 2 pages, got %d, %v", count, err)
			}

			page, err := doc.OpenPage(0, 72)
			if err != nil {
				t.Fatalf("Failed to open page: %v", err)
			}
			defer page.Close()

			widthPt, err := page.WidthPoint()
			if err != nil || widthPt != 612 {
				t.Errorf("Expected 612pt wide page, got %d, %v", widthPt, err)
			}
			size, err := doc.PageSize(1, 144)
			if err != nil || size != (pdfpage.Size{Width: 800, Height: 600}) {
				t.Errorf("Expected second page 800x600 at 144 dpi, got %+v, %v", size, err)
			}

			media, err := page.MediaBox()
			if err != nil || media != (pdfpage.Rect{Left: 0, Top: 792, Right: 612, Bottom: 0}) {
				t.Errorf("Expected inherited media box, got %+v, %v", media, err)
			}
			crop, err := page.CropBox()
			if err != nil || crop != (pdfpage.Rect{Left: 10, Top: 780, Right: 600, Bottom: 12}) {
				t.Errorf("Expected crop box, got %+v, %v", crop, err)
			}

			links, err := page.Links()
			if err != nil {
				t.Fatalf("Failed to read links: %v", err)
			}
			if len(links) != 2 {
				t.Fatalf("Expected 2 links, got %+v", links)
			}
			if links[0].DestPageIndex == nil || *links[0].DestPageIndex != 1 {
				t.Errorf("Expected first link to page 1, got %+v", links[0])
			}
			if links[1].URI == nil || *links[1].URI != "https://example.com" {
				t.Errorf("Expected second link to example.com, got %+v", links[1])
			}
			for i := 0; i < 3; i++ {
				if _, err := page.Links(); err != nil {
					t.Fatalf("Failed to re-read links: %v", err)
				}
			}
			if got := liveLinks(engine); got != 2 {
				t.Errorf("Expected repeated link reads to keep 2 link handles, got %d", got)
			}

			fontSize, err := page.FontSize(0)
			if err != nil || fontSize != 24 {
				t.Errorf("Expected 24pt text, got %v, %v", fontSize, err)
			}
			if got, err := page.FontSizeOrZero(500); err != nil || got != 0 {
				t.Errorf("Expected 0 past the end of the text, got %v, %v", got, err)
			}

			vp := pdfpage.Viewport{SizeX: 612, SizeY: 792}
			device, err := page.PageToDevice(vp, 72, 720)
			if err != nil || device != (pdfpage.DevicePoint{X: 72, Y: 72}) {
				t.Errorf("Expected 72,72, got %v, %v", device, err)
			}

			bitmap := image.NewRGBA(image.Rect(0, 0, 306, 396))
			err = page.RenderBitmap(bitmap, pdfpage.RenderRequest{Region: pdfpage.Region{Width: 306, Height: 396}})
			if err != nil {
				t.Fatalf("Failed to render: %v", err)
			}
			if bitmap.RGBAAt(150, 200).A == 0 {
				t.Error("Expected rendered pixels in the bitmap")
			}
		})
	}
}
