package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfpages/database"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfrenderer"
	"github.com/labstack/echo/v4"
)

// queryInt reads an integer query parameter, def when absent
func queryInt(c echo.Context, name string, def int) (int, error) {
	value := c.QueryParam(name)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", pdfpage.ErrInvalidArgument, name, value)
	}
	return n, nil
}

// queryFloat reads a float query parameter, def when absent
func queryFloat(c echo.Context, name string, def float64) (float64, error) {
	value := c.QueryParam(name)
	if value == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", pdfpage.ErrInvalidArgument, name, value)
	}
	return f, nil
}

// queryBool reads a boolean query parameter, def when absent
func queryBool(c echo.Context, name string, def bool) (bool, error) {
	value := c.QueryParam(name)
	if value == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", pdfpage.ErrInvalidArgument, name, value)
	}
	return b, nil
}

// pageTarget is the document and page a page route addresses
type pageTarget struct {
	document database.Document
	index    int
	dpi      int
}

// target resolves :id, :page and the dpi query parameter
func (serverHandler *ServerHandler) target(c echo.Context) (pageTarget, int, error) {
	document, httpStatus, err := database.FetchDocument(c.Request().Context(), c.Param("id"), serverHandler.DB)
	if err != nil {
		return pageTarget{}, httpStatus, err
	}
	index, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return pageTarget{}, http.StatusBadRequest, fmt.Errorf("%w: page %q", pdfpage.ErrInvalidArgument, c.Param("page"))
	}
	dpi, err := queryInt(c, "dpi", serverHandler.ServerConfig.RenderDPI)
	if err != nil {
		return pageTarget{}, http.StatusBadRequest, err
	}
	if dpi <= 0 {
		return pageTarget{}, http.StatusBadRequest, fmt.Errorf("%w: dpi %d", pdfpage.ErrInvalidArgument, dpi)
	}
	return pageTarget{document: document, index: index, dpi: dpi}, http.StatusOK, nil
}

// withPage resolves the request's page handle and runs fn with it
func (serverHandler *ServerHandler) withPage(c echo.Context, fn func(t pageTarget, page *pdfpage.Page) error) error {
	t, httpStatus, err := serverHandler.target(c)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	page, err := serverHandler.Sessions.Page(t.document, t.index, t.dpi)
	if err != nil {
		return jsonError(c, err)
	}
	return fn(t, page)
}

// GetPageSize returns the page size in pixels at the requested dpi and in points
// @Summary Get page size
// @Tags Pages
// @Produce json
// @Param id path string true "Document ULID"
// @Param page path int true "Zero based page index"
// @Param dpi query int false "Resolution for the pixel sizes"
// @Success 200 {object} map[string]interface{} "Pixel and point sizes"
// @Router /documents/{id}/pages/{page}/size [get]
func (serverHandler *ServerHandler) GetPageSize(c echo.Context) error {
	return serverHandler.withPage(c, func(t pageTarget, page *pdfpage.Page) error {
		pixels, err := page.Size()
		if err != nil {
			return jsonError(c, err)
		}
		widthPt, err := page.WidthPoint()
		if err != nil {
			return jsonError(c, err)
		}
		heightPt, err := page.HeightPoint()
		if err != nil {
			return jsonError(c, err)
		}
		doc, err := serverHandler.Sessions.Document(t.document)
		if err != nil {
			return jsonError(c, err)
		}
		byIndex, err := doc.PageSize(t.index, t.dpi)
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"index":   t.index,
			"dpi":     t.dpi,
			"pixels":  pixels,
			"points":  pdfpage.Size{Width: widthPt, Height: heightPt},
			"byIndex": byIndex,
		})
	})
}

// pageBoxes returns all six boxes, from the catalog when cached
func (serverHandler *ServerHandler) pageBoxes(ctx context.Context, t pageTarget) (map[pdfpage.BoxKind]pdfpage.Rect, bool, error) {
	docULID := t.document.ULID.String()
	cached, err := serverHandler.DB.GetPageBoxes(ctx, docULID, t.index)
	if err != nil {
		Logger.Warn("Box cache lookup failed, asking the engine", "ulid", docULID, "error", err)
	} else if len(cached) == len(pdfpage.BoxKinds) {
		return cached, true, nil
	}

	page, err := serverHandler.Sessions.Page(t.document, t.index, t.dpi)
	if err != nil {
		return nil, false, err
	}
	boxes := make(map[pdfpage.BoxKind]pdfpage.Rect, len(pdfpage.BoxKinds))
	for _, kind := range pdfpage.BoxKinds {
		rect, err := page.Box(kind)
		if err != nil {
			return nil, false, err
		}
		boxes[kind] = rect
	}
	if err := serverHandler.DB.SavePageBoxes(ctx, docULID, t.index, boxes); err != nil {
		Logger.Warn("Unable to cache page boxes", "ulid", docULID, "page", t.index, "error", err)
	}
	return boxes, false, nil
}

// boxesByName keys the boxes by their lower case kind name
func boxesByName(boxes map[pdfpage.BoxKind]pdfpage.Rect) map[string]pdfpage.Rect {
	named := make(map[string]pdfpage.Rect, len(boxes))
	for kind, rect := range boxes {
		named[kind.String()] = rect
	}
	return named
}

// GetPageBoxes returns the media, crop, bleed, trim, art and bounding boxes in points
// @Summary Get all page boxes
// @Tags Pages
// @Produce json
// @Param id path string true "Document ULID"
// @Param page path int true "Zero based page index"
// @Success 200 {object} map[string]interface{} "Boxes keyed by kind"
// @Router /documents/{id}/pages/{page}/boxes [get]
func (serverHandler *ServerHandler) GetPageBoxes(c echo.Context) error {
	t, httpStatus, err := serverHandler.target(c)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	boxes, cached, err := serverHandler.pageBoxes(c.Request().Context(), t)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"boxes":  boxesByName(boxes),
		"cached": cached,
	})
}

// GetPageBox returns one box by kind name
// @Summary Get one page box
// @Tags Pages
// @Produce json
// @Param kind path string true "media, crop, bleed, trim, art or bounding"
// @Success 200 {object} pdfpage.Rect "Box in points"
// @Router /documents/{id}/pages/{page}/boxes/{kind} [get]
func (serverHandler *ServerHandler) GetPageBox(c echo.Context) error {
	kind, err := pdfpage.ParseBoxKind(c.Param("kind"))
	if err != nil {
		return jsonError(c, err)
	}
	t, httpStatus, err := serverHandler.target(c)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	boxes, _, err := serverHandler.pageBoxes(c.Request().Context(), t)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, boxes[kind])
}

// GetPageLinks returns the page's links in engine order
// @Summary Get page links
// @Tags Pages
// @Produce json
// @Success 200 {array} pdfpage.Link "Links"
// @Router /documents/{id}/pages/{page}/links [get]
func (serverHandler *ServerHandler) GetPageLinks(c echo.Context) error {
	t, httpStatus, err := serverHandler.target(c)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	ctx := c.Request().Context()
	docULID := t.document.ULID.String()

	links, scanned, err := serverHandler.DB.GetPageLinks(ctx, docULID, t.index)
	if err != nil {
		Logger.Warn("Link cache lookup failed, asking the engine", "ulid", docULID, "error", err)
	}
	if !scanned {
		page, err := serverHandler.Sessions.Page(t.document, t.index, t.dpi)
		if err != nil {
			return jsonError(c, err)
		}
		links, err = page.Links()
		if err != nil {
			return jsonError(c, err)
		}
		if err := serverHandler.DB.SavePageLinks(ctx, docULID, t.index, links); err != nil {
			Logger.Warn("Unable to cache page links", "ulid", docULID, "page", t.index, "error", err)
		}
	}
	if links == nil {
		links = []pdfpage.Link{}
	}
	return c.JSON(http.StatusOK, links)
}

// GetFontSize returns the font size of one character. With strict=true an
// engine failure is an error, otherwise it reads as zero.
// @Summary Get font size of a character
// @Tags Pages
// @Produce json
// @Param char path int true "Character index"
// @Param strict query bool false "Report engine failures"
// @Success 200 {object} map[string]interface{} "Font size in points"
// @Router /documents/{id}/pages/{page}/fontsize/{char} [get]
func (serverHandler *ServerHandler) GetFontSize(c echo.Context) error {
	charIndex, err := strconv.Atoi(c.Param("char"))
	if err != nil {
		return jsonError(c, fmt.Errorf("%w: char %q", pdfpage.ErrInvalidArgument, c.Param("char")))
	}
	strict, err := queryBool(c, "strict", false)
	if err != nil {
		return jsonError(c, err)
	}
	return serverHandler.withPage(c, func(t pageTarget, page *pdfpage.Page) error {
		var size float64
		if strict {
			size, err = page.FontSize(charIndex)
		} else {
			size, err = page.FontSizeOrZero(charIndex)
		}
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"char":     charIndex,
			"fontSize": size,
		})
	})
}

// viewport reads startX, startY, sizeX, sizeY and rotate. The size defaults to
// the page's pixel size at the request dpi.
func viewport(c echo.Context, page *pdfpage.Page) (pdfpage.Viewport, error) {
	var vp pdfpage.Viewport
	size, err := page.Size()
	if err != nil {
		return vp, err
	}
	if vp.StartX, err = queryInt(c, "startX", 0); err != nil {
		return vp, err
	}
	if vp.StartY, err = queryInt(c, "startY", 0); err != nil {
		return vp, err
	}
	if vp.SizeX, err = queryInt(c, "sizeX", size.Width); err != nil {
		return vp, err
	}
	if vp.SizeY, err = queryInt(c, "sizeY", size.Height); err != nil {
		return vp, err
	}
	rotate, err := queryInt(c, "rotate", 0)
	if err != nil {
		return vp, err
	}
	vp.Rotate = pdfpage.Rotation(rotate)
	return vp, nil
}

// rectQuery reads left, top, right and bottom
func rectQuery(c echo.Context) (pdfpage.Rect, error) {
	var r pdfpage.Rect
	var err error
	for _, edge := range []struct {
		name string
		dst  *float64
	}{{"left", &r.Left}, {"top", &r.Top}, {"right", &r.Right}, {"bottom", &r.Bottom}} {
		if *edge.dst, err = queryFloat(c, edge.name, 0); err != nil {
			return r, err
		}
	}
	return r, nil
}

// transform runs one coordinate mapping with the request viewport
func (serverHandler *ServerHandler) transform(c echo.Context, fn func(page *pdfpage.Page, vp pdfpage.Viewport) (any, error)) error {
	return serverHandler.withPage(c, func(t pageTarget, page *pdfpage.Page) error {
		vp, err := viewport(c, page)
		if err != nil {
			return jsonError(c, err)
		}
		result, err := fn(page, vp)
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"viewport": vp,
			"result":   result,
		})
	})
}

// TransformToDevicePoint maps page point x, y to device pixels
// @Summary Page to device point
// @Tags Transform
// @Router /documents/{id}/pages/{page}/transform/device-point [get]
func (serverHandler *ServerHandler) TransformToDevicePoint(c echo.Context) error {
	return serverHandler.transform(c, func(page *pdfpage.Page, vp pdfpage.Viewport) (any, error) {
		x, err := queryFloat(c, "x", 0)
		if err != nil {
			return nil, err
		}
		y, err := queryFloat(c, "y", 0)
		if err != nil {
			return nil, err
		}
		return page.PageToDevice(vp, x, y)
	})
}

// TransformToPagePoint maps device pixel x, y to page points
// @Summary Device to page point
// @Tags Transform
// @Router /documents/{id}/pages/{page}/transform/page-point [get]
func (serverHandler *ServerHandler) TransformToPagePoint(c echo.Context) error {
	return serverHandler.transform(c, func(page *pdfpage.Page, vp pdfpage.Viewport) (any, error) {
		x, err := queryInt(c, "x", 0)
		if err != nil {
			return nil, err
		}
		y, err := queryInt(c, "y", 0)
		if err != nil {
			return nil, err
		}
		return page.DeviceToPage(vp, x, y)
	})
}

// TransformToDeviceRect maps a page rectangle to device space by its two corners
// @Summary Page to device rectangle
// @Tags Transform
// @Router /documents/{id}/pages/{page}/transform/device-rect [get]
func (serverHandler *ServerHandler) TransformToDeviceRect(c echo.Context) error {
	return serverHandler.transform(c, func(page *pdfpage.Page, vp pdfpage.Viewport) (any, error) {
		r, err := rectQuery(c)
		if err != nil {
			return nil, err
		}
		return page.MapRectToDevice(vp, r)
	})
}

// TransformToPageRect maps a device rectangle to page space by its two corners
// @Summary Device to page rectangle
// @Tags Transform
// @Router /documents/{id}/pages/{page}/transform/page-rect [get]
func (serverHandler *ServerHandler) TransformToPageRect(c echo.Context) error {
	return serverHandler.transform(c, func(page *pdfpage.Page, vp pdfpage.Viewport) (any, error) {
		r, err := rectQuery(c)
		if err != nil {
			return nil, err
		}
		return page.MapRectToPage(vp, r)
	})
}

// pngBlob encodes img and writes it as the response
func pngBlob(c echo.Context, img image.Image) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return jsonError(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// RenderPage renders the page, or a region of it, to PNG. target=bitmap reports
// engine failures, target=surface draws through a surface that swallows them.
// @Summary Render a page
// @Tags Pages
// @Produce png
// @Param startX query int false "Left edge of the page in the output"
// @Param startY query int false "Top edge of the page in the output"
// @Param width query int false "Width the page is scaled to (default: page pixel width)"
// @Param height query int false "Height the page is scaled to (default: page pixel height)"
// @Param annot query bool false "Draw annotations"
// @Param textMask query bool false "Render text only (bitmap target)"
// @Param target query string false "bitmap or surface"
// @Router /documents/{id}/pages/{page}/render [get]
func (serverHandler *ServerHandler) RenderPage(c echo.Context) error {
	return serverHandler.withPage(c, func(t pageTarget, page *pdfpage.Page) error {
		req, err := serverHandler.renderRequest(c, page)
		if err != nil {
			return jsonError(c, err)
		}
		width, height := req.Region.Width, req.Region.Height
		if width <= 0 || height <= 0 || width > maxRenderPixels/height {
			return jsonError(c, fmt.Errorf("%w: render size %dx%d", pdfpage.ErrInvalidArgument, width, height))
		}

		switch target := c.QueryParam("target"); target {
		case "", "bitmap":
			bitmap := image.NewRGBA(image.Rect(0, 0, width, height))
			draw.Draw(bitmap, bitmap.Bounds(), image.White, image.Point{}, draw.Src)
			if err := page.RenderBitmap(bitmap, req); err != nil {
				return jsonError(c, err)
			}
			return pngBlob(c, bitmap)
		case "surface":
			surface := pdfpage.NewImageSurface(width, height)
			defer surface.Release()
			if err := page.RenderSurface(surface, req); err != nil {
				return jsonError(c, err)
			}
			return pngBlob(c, surface.Snapshot())
		default:
			return jsonError(c, fmt.Errorf("%w: target %q", pdfpage.ErrInvalidArgument, target))
		}
	})
}

// maxRenderPixels bounds the pixel area of a single render request
const maxRenderPixels = 64 << 20

// renderRequest reads the region and flags of a render call
func (serverHandler *ServerHandler) renderRequest(c echo.Context, page *pdfpage.Page) (pdfpage.RenderRequest, error) {
	var req pdfpage.RenderRequest
	size, err := page.Size()
	if err != nil {
		return req, err
	}
	if req.Region.StartX, err = queryInt(c, "startX", 0); err != nil {
		return req, err
	}
	if req.Region.StartY, err = queryInt(c, "startY", 0); err != nil {
		return req, err
	}
	if req.Region.Width, err = queryInt(c, "width", size.Width); err != nil {
		return req, err
	}
	if req.Region.Height, err = queryInt(c, "height", size.Height); err != nil {
		return req, err
	}
	if req.Annotations, err = queryBool(c, "annot", serverHandler.ServerConfig.RenderAnnotations); err != nil {
		return req, err
	}
	if req.TextMask, err = queryBool(c, "textMask", false); err != nil {
		return req, err
	}
	return req, nil
}

// thumbnailPath is where the stored thumbnail of one page lives
func (serverHandler *ServerHandler) thumbnailPath(document database.Document, index int) string {
	return filepath.Join(serverHandler.thumbnailDir(document), fmt.Sprintf("page-%04d.png", index))
}

// thumbnail renders one page at the thumbnail dpi and fits it into a width by width square
func (serverHandler *ServerHandler) thumbnail(document database.Document, index, width int) (*image.NRGBA, error) {
	doc, err := serverHandler.Sessions.Document(document)
	if err != nil {
		return nil, err
	}
	img, err := pdfrenderer.RenderPage(doc, index, serverHandler.ServerConfig.ThumbnailDPI, serverHandler.ServerConfig.RenderAnnotations)
	if err != nil {
		return nil, err
	}
	return imaging.Fit(img, width, width, imaging.Lanczos), nil
}

// GetThumbnail serves the page thumbnail, from disk when the thumbnail job wrote one
// @Summary Get a page thumbnail
// @Tags Pages
// @Produce png
// @Param width query int false "Bounding square size (default: configured thumbnail width)"
// @Router /documents/{id}/pages/{page}/thumbnail [get]
func (serverHandler *ServerHandler) GetThumbnail(c echo.Context) error {
	t, httpStatus, err := serverHandler.target(c)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if t.index < 0 || t.index >= t.document.PageCount {
		return jsonError(c, fmt.Errorf("%w: page %d of %d", pdfpage.ErrInvalidArgument, t.index, t.document.PageCount))
	}
	defaultWidth := serverHandler.ServerConfig.ThumbnailWidth
	width, err := queryInt(c, "width", defaultWidth)
	if err != nil || width <= 0 || width > 4096 {
		return jsonError(c, fmt.Errorf("%w: width %q", pdfpage.ErrInvalidArgument, c.QueryParam("width")))
	}

	if width == defaultWidth {
		stored := serverHandler.thumbnailPath(t.document, t.index)
		if _, err := os.Stat(stored); err == nil {
			return c.File(stored)
		}
	}
	thumb, err := serverHandler.thumbnail(t.document, t.index, width)
	if err != nil {
		return jsonError(c, err)
	}
	return pngBlob(c, thumb)
}
