package pdfpage_test

import (
	"errors"
	"math"
	"testing"

	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfpage/pagetest"
)

func transformPage(t *testing.T) *pdfpage.Page {
	t.Helper()
	_, doc := openTestDocument(t, pagetest.DocumentSpec{Pages: []pagetest.PageSpec{letterPage()}})
	page := openTestPage(t, doc, 0, 72)
	t.Cleanup(func() { page.Close() })
	return page
}

func TestRoundTripRotate0(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792, Rotate: pdfpage.Rotate0}

	points := []pdfpage.Point{{0, 0}, {612, 792}, {100, 200}, {306, 396}, {611, 1}}
	for _, p := range points {
		device, err := page.PageToDevice(vp, p.X, p.Y)
		if err != nil {
			t.Fatalf("Failed to map %v to device: %v", p, err)
		}
		back, err := page.DeviceToPage(vp, device.X, device.Y)
		if err != nil {
			t.Fatalf("Failed to map %v back to page: %v", device, err)
		}
		if math.Abs(back.X-p.X) > 0.5 || math.Abs(back.Y-p.Y) > 0.5 {
			t.Errorf("Expected %v to round trip, got %v via %v", p, back, device)
		}
	}
}

func TestRotate0FlipsYAxis(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792}

	topLeft, err := page.PageToDevice(vp, 0, 792)
	if err != nil {
		t.Fatalf("Failed to map: %v", err)
	}
	if topLeft != (pdfpage.DevicePoint{X: 0, Y: 0}) {
		t.Errorf("Expected page top-left at device origin, got %v", topLeft)
	}
	bottomRight, err := page.PageToDevice(vp, 612, 0)
	if err != nil {
		t.Fatalf("Failed to map: %v", err)
	}
	if bottomRight != (pdfpage.DevicePoint{X: 612, Y: 792}) {
		t.Errorf("Expected page bottom-right at device corner, got %v", bottomRight)
	}
}

func TestQuarterTurnsSwapAxes(t *testing.T) {
	page := transformPage(t)

	for _, rotate := range []pdfpage.Rotation{pdfpage.Rotate90, pdfpage.Rotate270} {
		vp := pdfpage.Viewport{SizeX: 792, SizeY: 612, Rotate: rotate}
		origin, err := page.PageToDevice(vp, 0, 0)
		if err != nil {
			t.Fatalf("Failed to map origin: %v", err)
		}
		corner, err := page.PageToDevice(vp, 612, 792)
		if err != nil {
			t.Fatalf("Failed to map far corner: %v", err)
		}

		// Opposite corners of the viewport, in either order.
		if math.Abs(float64(origin.X-corner.X)) != 792 || math.Abs(float64(origin.Y-corner.Y)) != 612 {
			t.Errorf("Rotation %d: expected %v and %v on opposite viewport corners", rotate, origin, corner)
		}
		for _, p := range []pdfpage.DevicePoint{origin, corner} {
			if (p.X != 0 && p.X != 792) || (p.Y != 0 && p.Y != 612) {
				t.Errorf("Rotation %d: %v is not a viewport corner", rotate, p)
			}
		}
	}
}

func TestRotate180(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792, Rotate: pdfpage.Rotate180}

	origin, err := page.PageToDevice(vp, 0, 0)
	if err != nil {
		t.Fatalf("Failed to map: %v", err)
	}
	if origin != (pdfpage.DevicePoint{X: 612, Y: 0}) {
		t.Errorf("Expected page origin at device top-right, got %v", origin)
	}
}

func TestViewportOffsetAndScale(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{StartX: 10, StartY: 20, SizeX: 306, SizeY: 396}

	got, err := page.PageToDevice(vp, 306, 396)
	if err != nil {
		t.Fatalf("Failed to map: %v", err)
	}
	if got != (pdfpage.DevicePoint{X: 163, Y: 218}) {
		t.Errorf("Expected page centre at 163,218, got %v", got)
	}
}

func TestRectRoundTripRotate0(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792}
	rect := pdfpage.Rect{Left: 100, Top: 700, Right: 300, Bottom: 500}

	device, err := page.MapRectToDevice(vp, rect)
	if err != nil {
		t.Fatalf("Failed to map rect to device: %v", err)
	}
	want := pdfpage.Rect{Left: 100, Top: 92, Right: 300, Bottom: 292}
	if device != want {
		t.Errorf("Expected device rect %+v, got %+v", want, device)
	}
	back, err := page.MapRectToPage(vp, device)
	if err != nil {
		t.Fatalf("Failed to map rect to page: %v", err)
	}
	if back != rect {
		t.Errorf("Expected %+v after round trip, got %+v", rect, back)
	}
}

// Rect mapping only maps two corners, so under a quarter turn the result is
// not a normalized bound. Callers may depend on this, keep it.
func TestRectMappingIsNotMinimalBoundUnderQuarterTurn(t *testing.T) {
	page := transformPage(t)
	rect := pdfpage.Rect{Left: 100, Top: 700, Right: 300, Bottom: 500}

	for _, rotate := range []pdfpage.Rotation{pdfpage.Rotate90, pdfpage.Rotate270} {
		vp := pdfpage.Viewport{SizeX: 792, SizeY: 612, Rotate: rotate}
		device, err := page.MapRectToDevice(vp, rect)
		if err != nil {
			t.Fatalf("Failed to map rect: %v", err)
		}
		minimal := device.Left <= device.Right && device.Top <= device.Bottom
		if minimal {
			t.Errorf("Rotation %d: expected corner mapping to come out unnormalized, got %+v", rotate, device)
		}
	}
}

func TestMapRectToPageTruncates(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792}

	got, err := page.MapRectToPage(vp, pdfpage.Rect{Left: 100.9, Top: 92.7, Right: 300.2, Bottom: 292.99})
	if err != nil {
		t.Fatalf("Failed to map rect: %v", err)
	}
	want := pdfpage.Rect{Left: 100, Top: 700, Right: 300, Bottom: 500}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestInvalidRotation(t *testing.T) {
	page := transformPage(t)
	vp := pdfpage.Viewport{SizeX: 612, SizeY: 792, Rotate: 4}
	if _, err := page.PageToDevice(vp, 0, 0); !errors.Is(err, pdfpage.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got: %v", err)
	}
	if _, err := page.MapRectToPage(vp, pdfpage.Rect{}); !errors.Is(err, pdfpage.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got: %v", err)
	}
}

func TestDisplayMatrix(t *testing.T) {
	box := pdfpage.Rect{Left: 0, Top: 792, Right: 612, Bottom: 0}

	t.Run("Degenerate viewport is identity", func(t *testing.T) {
		if m := pdfpage.DisplayMatrix(box, pdfpage.Viewport{}); m != pdfpage.Identity {
			t.Errorf("Expected identity, got %v", m)
		}
	})

	t.Run("Offset media box", func(t *testing.T) {
		shifted := pdfpage.Rect{Left: 50, Top: 842, Right: 662, Bottom: 50}
		got := pdfpage.ToDevice(shifted, pdfpage.Viewport{SizeX: 612, SizeY: 792}, 50, 842)
		if got != (pdfpage.DevicePoint{}) {
			t.Errorf("Expected box top-left at origin, got %v", got)
		}
	})

	t.Run("Inverse", func(t *testing.T) {
		for rotate := pdfpage.Rotate0; rotate <= pdfpage.Rotate270; rotate++ {
			m := pdfpage.DisplayMatrix(box, pdfpage.Viewport{StartX: 3, StartY: 7, SizeX: 400, SizeY: 500, Rotate: rotate})
			inv, ok := m.Invert()
			if !ok {
				t.Fatalf("Rotation %d: expected invertible matrix", rotate)
			}
			x, y := m.Multiply(inv).Apply(123, 456)
			if math.Abs(x-123) > 1e-9 || math.Abs(y-456) > 1e-9 {
				t.Errorf("Rotation %d: expected identity product, got %v,%v", rotate, x, y)
			}
		}
	})

	t.Run("Rounds half away from zero", func(t *testing.T) {
		got := pdfpage.ToDevice(box, pdfpage.Viewport{SizeX: 1224, SizeY: 1584}, 0.25, 792)
		if got.X != 1 {
			t.Errorf("Expected 0.5 to round up to 1, got %d", got.X)
		}
	})
}
