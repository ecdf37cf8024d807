package engine

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"testing"

	"github.com/drummonds/pdfpages/database"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

func TestDocumentRoutes(t *testing.T) {
	e, serverHandler, fake := setupTestServer(t)

	var document database.Document
	t.Run("Upload", func(t *testing.T) {
		document = uploadTestDocument(t, e)
		if document.PageCount != 2 {
			t.Errorf("Expected 2 pages, got %d", document.PageCount)
		}
		if _, err := os.Stat(document.Path); err != nil {
			t.Errorf("Expected stored file at %s: %v", document.Path, err)
		}
		if fake.OpenDocuments() != 0 {
			t.Errorf("Expected the validation open to be closed, %d still open", fake.OpenDocuments())
		}
	})

	t.Run("Upload duplicate", func(t *testing.T) {
		rec := uploadDocument(t, e, "again.pdf", []byte(testDocKey))
		if rec.Code != http.StatusConflict {
			t.Fatalf("Expected status 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Upload unreadable", func(t *testing.T) {
		rec := uploadDocument(t, e, "junk.pdf", []byte("not a declared document"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("Upload without file", func(t *testing.T) {
		if rec := get(e, http.MethodPost, "/api/documents"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := get(e, http.MethodGet, "/api/documents?limit=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var documents []database.Document
		decode(t, rec, &documents)
		if len(documents) != 1 || documents[0].ULID != document.ULID {
			t.Errorf("Expected the uploaded document, got %+v", documents)
		}
	})

	t.Run("Get", func(t *testing.T) {
		if rec := get(e, http.MethodGet, "/api/documents/"+document.ULID.String()); rec.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rec.Code)
		}
		if rec := get(e, http.MethodGet, "/api/documents/bogus"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for a malformed id, got %d", rec.Code)
		}
		if rec := get(e, http.MethodGet, "/api/documents/"+ulid.Make().String()); rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 for an unknown id, got %d", rec.Code)
		}
	})

	t.Run("About", func(t *testing.T) {
		rec := get(e, http.MethodGet, "/api/about")
		var about map[string]interface{}
		decode(t, rec, &about)
		if about["engine"] != "fake" {
			t.Errorf("Expected engine fake, got %v", about["engine"])
		}
		if _, ok := about["sessions"]; !ok {
			t.Error("Expected session stats in about")
		}
	})

	t.Run("Delete closes the session", func(t *testing.T) {
		base := "/api/documents/" + document.ULID.String()
		if rec := get(e, http.MethodGet, base+"/pages/0/size"); rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if rec := get(e, http.MethodDelete, base); rec.Code != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d: %s", rec.Code, rec.Body.String())
		}
		if stats := serverHandler.Sessions.Stats(); stats.Documents != 0 {
			t.Errorf("Expected the session to be closed, got %+v", stats)
		}
		if fake.OpenPages() != 0 || fake.OpenDocuments() != 0 {
			t.Errorf("Engine still holds %d pages and %d documents", fake.OpenPages(), fake.OpenDocuments())
		}
		if _, err := os.Stat(document.Path); !os.IsNotExist(err) {
			t.Errorf("Expected the file to be removed, got %v", err)
		}
		if rec := get(e, http.MethodDelete, base); rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 on second delete, got %d", rec.Code)
		}
	})
}

func TestPageRoutes(t *testing.T) {
	e, serverHandler, fake := setupTestServer(t)
	document := uploadTestDocument(t, e)
	page0 := "/api/documents/" + document.ULID.String() + "/pages/0"

	t.Run("Size", func(t *testing.T) {
		rec := get(e, http.MethodGet, page0+"/size?dpi=144")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var response struct {
			Pixels  pdfpage.Size `json:"pixels"`
			Points  pdfpage.Size `json:"points"`
			ByIndex pdfpage.Size `json:"byIndex"`
		}
		decode(t, rec, &response)
		if response.Pixels != (pdfpage.Size{Width: 1224, Height: 1584}) {
			t.Errorf("Unexpected pixel size %+v", response.Pixels)
		}
		if response.Points != (pdfpage.Size{Width: 612, Height: 792}) {
			t.Errorf("Unexpected point size %+v", response.Points)
		}
		if response.ByIndex != response.Pixels {
			t.Errorf("Expected size by index %+v to match %+v", response.ByIndex, response.Pixels)
		}
	})

	t.Run("Bad page arguments", func(t *testing.T) {
		docBase := "/api/documents/" + document.ULID.String()
		for _, tc := range []struct {
			target string
			status int
		}{
			{page0 + "/size?dpi=0", http.StatusBadRequest},
			{page0 + "/size?dpi=abc", http.StatusBadRequest},
			{docBase + "/pages/2/size", http.StatusBadRequest},
			{docBase + "/pages/x/size", http.StatusBadRequest},
			{"/api/documents/" + ulid.Make().String() + "/pages/0/size", http.StatusNotFound},
		} {
			if rec := get(e, http.MethodGet, tc.target); rec.Code != tc.status {
				t.Errorf("GET %s: expected %d, got %d", tc.target, tc.status, rec.Code)
			}
		}
	})

	t.Run("Boxes are cached", func(t *testing.T) {
		var first struct {
			Boxes  map[string]pdfpage.Rect `json:"boxes"`
			Cached bool                    `json:"cached"`
		}
		decode(t, get(e, http.MethodGet, page0+"/boxes"), &first)
		if first.Cached {
			t.Error("Expected the first answer to come from the engine")
		}
		if len(first.Boxes) != len(pdfpage.BoxKinds) {
			t.Fatalf("Expected %d boxes, got %d", len(pdfpage.BoxKinds), len(first.Boxes))
		}
		media := pdfpage.Rect{Left: 0, Top: 792, Right: 612, Bottom: 0}
		if first.Boxes["media"] != media || first.Boxes["bounding"] != media {
			t.Errorf("Unexpected media or bounding box %+v", first.Boxes)
		}
		if !first.Boxes["trim"].IsZero() {
			t.Errorf("Expected an absent trim box to be zero, got %+v", first.Boxes["trim"])
		}

		calls := fake.Calls("MediaBox")
		var second struct {
			Cached bool `json:"cached"`
		}
		decode(t, get(e, http.MethodGet, page0+"/boxes"), &second)
		if !second.Cached {
			t.Error("Expected the second answer to come from the catalog")
		}
		if fake.Calls("MediaBox") != calls {
			t.Error("Expected no engine call for a cached answer")
		}
	})

	t.Run("Single box", func(t *testing.T) {
		var rect pdfpage.Rect
		decode(t, get(e, http.MethodGet, page0+"/boxes/media"), &rect)
		if rect.Right != 612 || rect.Top != 792 {
			t.Errorf("Unexpected media box %+v", rect)
		}
		if rec := get(e, http.MethodGet, page0+"/boxes/paper"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for an unknown kind, got %d", rec.Code)
		}
	})

	t.Run("Links", func(t *testing.T) {
		var links []pdfpage.Link
		decode(t, get(e, http.MethodGet, page0+"/links"), &links)
		if len(links) != 2 {
			t.Fatalf("Expected 2 links, got %d", len(links))
		}
		if links[0].URI == nil || *links[0].URI != testURI || links[0].DestPageIndex != nil {
			t.Errorf("Unexpected first link %+v", links[0])
		}
		if links[1].DestPageIndex == nil || *links[1].DestPageIndex != testDestPage || links[1].URI != nil {
			t.Errorf("Unexpected second link %+v", links[1])
		}

		calls := fake.Calls("PageLinks")
		var cached []pdfpage.Link
		decode(t, get(e, http.MethodGet, page0+"/links"), &cached)
		if len(cached) != 2 || fake.Calls("PageLinks") != calls {
			t.Errorf("Expected 2 links from the catalog without an engine call, got %d", len(cached))
		}

		// a page without links is an empty array, also once cached
		page1 := "/api/documents/" + document.ULID.String() + "/pages/1/links"
		for i := 0; i < 2; i++ {
			rec := get(e, http.MethodGet, page1)
			if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
				t.Errorf("Expected an empty array, got %s", body)
			}
		}
	})

	t.Run("Font size", func(t *testing.T) {
		var response map[string]float64
		decode(t, get(e, http.MethodGet, page0+"/fontsize/1?strict=true"), &response)
		if response["fontSize"] != 9.5 {
			t.Errorf("Expected 9.5, got %v", response["fontSize"])
		}
		// lenient reads an engine failure as zero
		decode(t, get(e, http.MethodGet, page0+"/fontsize/7"), &response)
		if response["fontSize"] != 0 {
			t.Errorf("Expected 0, got %v", response["fontSize"])
		}
		if rec := get(e, http.MethodGet, page0+"/fontsize/7?strict=true"); rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500 in strict mode, got %d", rec.Code)
		}
		if rec := get(e, http.MethodGet, page0+"/fontsize/x"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("Transforms", func(t *testing.T) {
		var toDevice struct {
			Result pdfpage.DevicePoint `json:"result"`
		}
		decode(t, get(e, http.MethodGet, page0+"/transform/device-point?x=72&y=720"), &toDevice)
		if toDevice.Result != (pdfpage.DevicePoint{X: 72, Y: 72}) {
			t.Errorf("Unexpected device point %+v", toDevice.Result)
		}

		var toPage struct {
			Result pdfpage.Point `json:"result"`
		}
		decode(t, get(e, http.MethodGet, page0+"/transform/page-point?x=72&y=72"), &toPage)
		if toPage.Result != (pdfpage.Point{X: 72, Y: 720}) {
			t.Errorf("Unexpected page point %+v", toPage.Result)
		}

		var rect struct {
			Result pdfpage.Rect `json:"result"`
		}
		decode(t, get(e, http.MethodGet, page0+"/transform/device-rect?left=72&top=720&right=200&bottom=700"), &rect)
		if rect.Result != (pdfpage.Rect{Left: 72, Top: 72, Right: 200, Bottom: 92}) {
			t.Errorf("Unexpected device rect %+v", rect.Result)
		}
		decode(t, get(e, http.MethodGet, page0+"/transform/page-rect?left=72&top=72&right=200&bottom=92"), &rect)
		if rect.Result != (pdfpage.Rect{Left: 72, Top: 720, Right: 200, Bottom: 700}) {
			t.Errorf("Unexpected page rect %+v", rect.Result)
		}

		for _, query := range []string{"rotate=4", "rotate=-1", "x=abc"} {
			if rec := get(e, http.MethodGet, page0+"/transform/device-point?"+query); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", query, rec.Code)
			}
		}
	})

	t.Run("Render", func(t *testing.T) {
		for _, target := range []string{"bitmap", "surface"} {
			rec := get(e, http.MethodGet, fmt.Sprintf("%s/render?target=%s&width=100&height=50&startX=10", page0, target))
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected status 200, got %d: %s", target, rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
				t.Errorf("%s: expected image/png, got %q", target, ct)
			}
			img, err := png.Decode(rec.Body)
			if err != nil {
				t.Fatalf("%s: invalid png: %v", target, err)
			}
			if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
				t.Errorf("%s: expected 100x50, got %v", target, b)
			}
		}

		renders := fake.Renders()
		last := renders[len(renders)-1]
		if last.Bitmap || last.StartX != 10 || last.SizeX != 100 || !last.Annotations {
			t.Errorf("Unexpected surface render call %+v", last)
		}

		if rec := get(e, http.MethodGet, page0+"/render?target=screen"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for an unknown target, got %d", rec.Code)
		}
		if rec := get(e, http.MethodGet, page0+"/render?width=0"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for an empty region, got %d", rec.Code)
		}
		for _, query := range []string{"width=4294967296&height=4294967296", "width=8193&height=8193", "width=1&height=67108865"} {
			if rec := get(e, http.MethodGet, page0+"/render?"+query); rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400 for oversized render %s, got %d", query, rec.Code)
			}
		}
		if rec := get(e, http.MethodGet, page0+"/render?width=1&height=8192"); rec.Code != http.StatusOK {
			t.Errorf("Expected status 200 for a thin render, got %d", rec.Code)
		}
	})

	t.Run("Render failures", func(t *testing.T) {
		fake.RenderErr = os.ErrPermission
		defer func() { fake.RenderErr = nil }()

		if rec := get(e, http.MethodGet, page0+"/render?target=bitmap&width=10&height=10"); rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected bitmap failure to surface as 500, got %d", rec.Code)
		}
		if rec := get(e, http.MethodGet, page0+"/render?target=surface&width=10&height=10"); rec.Code != http.StatusOK {
			t.Errorf("Expected surface failure to be swallowed, got %d", rec.Code)
		}
	})

	t.Run("Thumbnail on demand", func(t *testing.T) {
		rec := get(e, http.MethodGet, page0+"/thumbnail?width=32")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		img, err := png.Decode(rec.Body)
		if err != nil {
			t.Fatalf("Invalid png: %v", err)
		}
		if b := img.Bounds(); b.Dy() != 32 || b.Dx() > 32 {
			t.Errorf("Expected the page fitted into 32x32, got %v", b)
		}
		if rec := get(e, http.MethodGet, page0+"/thumbnail?width=0"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("Use after reap", func(t *testing.T) {
		page, err := serverHandler.Sessions.Page(document, 0, 72)
		if err != nil {
			t.Fatalf("Failed to open page: %v", err)
		}
		serverHandler.Sessions.CloseAll()
		if _, err := page.Size(); err == nil {
			t.Error("Expected the reaped handle to fail")
		}
		if errorStatus(pdfpage.ErrPageClosed) != http.StatusGone {
			t.Error("Expected closed pages to map to 410")
		}
		// the routes open a fresh handle
		if rec := get(e, http.MethodGet, page0+"/size"); rec.Code != http.StatusOK {
			t.Errorf("Expected status 200 after reap, got %d", rec.Code)
		}
	})

	if fake.Overlaps() != 0 {
		t.Errorf("Engine saw %d overlapping calls", fake.Overlaps())
	}
}
