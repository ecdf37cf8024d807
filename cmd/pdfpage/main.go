// Command pdfpage inspects the pages of a PDF file from the command line.
//
//	pdfpage [-engine pdfium|fitz] [-dpi 96] [-page n] [-x 72 -y 720 -rotate 0] [-render out.png] file.pdf
//
// It prints the page count and, for each selected page, its size, six boxes,
// links and optionally the device position of one page point. With -render
// the selected page is written as an image.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfpages/engine/pdfpage"
	"github.com/drummonds/pdfpages/engine/pdfrenderer"
	"github.com/drummonds/pdfpages/internal/build"
)

func main() {
	engineKind := flag.String("engine", pdfrenderer.EnginePDFium, "PDF engine: pdfium or fitz")
	dpi := flag.Int("dpi", 96, "Resolution for pixel sizes and rendering")
	pageIndex := flag.Int("page", -1, "Zero based page to inspect (default: all pages)")
	password := flag.String("password", "", "Document password")
	pointX := flag.Float64("x", -1, "Page x in points to map to device space")
	pointY := flag.Float64("y", -1, "Page y in points to map to device space")
	rotate := flag.Int("rotate", 0, "Rotation for the mapping: 0, 1, 2 or 3 quarter turns")
	renderOut := flag.String("render", "", "Write the selected page (default: first) to this image file")
	verbose := flag.Bool("v", false, "Debug logging")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(build.Version)
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pdfpage [flags] file.pdf")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	pdfpage.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(flag.Arg(0), options{
		engine:    *engineKind,
		dpi:       *dpi,
		page:      *pageIndex,
		password:  *password,
		mapPoint:  *pointX >= 0 && *pointY >= 0,
		x:         *pointX,
		y:         *pointY,
		rotate:    pdfpage.Rotation(*rotate),
		renderOut: *renderOut,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "pdfpage:", err)
		os.Exit(1)
	}
}

type options struct {
	engine    string
	dpi       int
	page      int
	password  string
	mapPoint  bool
	x, y      float64
	rotate    pdfpage.Rotation
	renderOut string
}

func run(path string, opts options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	native, err := pdfrenderer.NewEngine(opts.engine, 30*time.Second)
	if err != nil {
		return err
	}
	defer native.Close()
	return inspect(os.Stdout, native, path, data, opts)
}

func inspect(w io.Writer, engine pdfpage.Engine, path string, data []byte, opts options) error {
	doc, err := pdfpage.Open(engine, data, opts.password)
	if err != nil {
		return err
	}
	defer doc.Close()

	count, err := doc.PageCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d pages\n", path, count)
	if count == 0 {
		if opts.renderOut != "" || opts.page >= 0 {
			return errors.New("document has no pages")
		}
		return nil
	}

	first, last := 0, count-1
	if opts.page >= 0 {
		if opts.page >= count {
			return fmt.Errorf("page %d out of range, document has %d", opts.page, count)
		}
		first, last = opts.page, opts.page
	}

	for index := first; index <= last; index++ {
		if err := describePage(w, doc, index, opts); err != nil {
			return fmt.Errorf("page %d: %w", index, err)
		}
	}

	if opts.renderOut != "" {
		return renderPage(w, doc, first, opts)
	}
	return nil
}

func describePage(w io.Writer, doc *pdfpage.Document, index int, opts options) error {
	page, err := doc.OpenPage(index, opts.dpi)
	if err != nil {
		return err
	}
	defer page.Close()

	size, err := page.Size()
	if err != nil {
		return err
	}
	widthPt, err := page.WidthPoint()
	if err != nil {
		return err
	}
	heightPt, err := page.HeightPoint()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\npage %d: %dx%d px at %d dpi, %dx%d pt\n", index, size.Width, size.Height, opts.dpi, widthPt, heightPt)

	for _, kind := range pdfpage.BoxKinds {
		rect, err := page.Box(kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-9s %s\n", kind.String()+":", formatRect(rect))
	}

	links, err := page.Links()
	if err != nil {
		return err
	}
	for i, link := range links {
		var targets []string
		if link.DestPageIndex != nil {
			targets = append(targets, fmt.Sprintf("page %d", *link.DestPageIndex))
		}
		if link.URI != nil {
			targets = append(targets, *link.URI)
		}
		fmt.Fprintf(w, "  link %d: %s -> %s\n", i, formatRect(link.Rect), strings.Join(targets, ", "))
	}

	if opts.mapPoint {
		vp := pdfpage.Viewport{SizeX: size.Width, SizeY: size.Height, Rotate: opts.rotate}
		device, err := page.PageToDevice(vp, opts.x, opts.y)
		if err != nil {
			return err
		}
		back, err := page.DeviceToPage(vp, device.X, device.Y)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  (%g, %g) pt -> (%d, %d) px -> (%g, %g) pt, rotation %d\n",
			opts.x, opts.y, device.X, device.Y, back.X, back.Y, opts.rotate.Degrees())
	}
	return nil
}

func formatRect(r pdfpage.Rect) string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", r.Left, r.Top, r.Right, r.Bottom)
}

func renderPage(w io.Writer, doc *pdfpage.Document, index int, opts options) error {
	page, err := doc.OpenPage(index, opts.dpi)
	if err != nil {
		return err
	}
	defer page.Close()

	size, err := page.Size()
	if err != nil {
		return err
	}
	bitmap := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(bitmap, bitmap.Bounds(), image.White, image.Point{}, draw.Src)
	err = page.RenderBitmap(bitmap, pdfpage.RenderRequest{
		Region:      pdfpage.Region{Width: size.Width, Height: size.Height},
		Annotations: true,
	})
	if err != nil {
		return err
	}
	if err := imaging.Save(bitmap, opts.renderOut); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nrendered page %d to %s\n", index, opts.renderOut)
	return nil
}
