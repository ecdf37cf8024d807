package pdfpage

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
)

// Surface is a platform drawing surface owned by the caller. It can be torn
// down from outside at any time, after which Lock fails with ErrSurfaceReleased.
type Surface interface {
	// Lock returns the surface's back buffer for drawing
	Lock() (draw.Image, error)
	// UnlockAndPost releases the buffer and presents it
	UnlockAndPost() error
}

// Region is the device-space rectangle the page is drawn into. The whole page
// is scaled to Width by Height pixels and placed at StartX, StartY; anything
// outside the destination is clipped.
type Region struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RenderRequest describes one render call
type RenderRequest struct {
	Region      Region
	Annotations bool
	// TextMask is only honoured for bitmap destinations
	TextMask bool
}

// RenderSurface draws the page onto a surface. Failures coming from the engine
// or the surface itself, including a surface released mid-call, are logged and
// swallowed. Only an invalid page handle is reported.
func (p *Page) RenderSurface(surface Surface, req RenderRequest) error {
	gate.Lock()
	defer gate.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			logger().Error("Panic recovered while rendering to surface", "page", p.index, "panic", r)
		}
	}()
	region := req.Region
	err := p.doc.engine.RenderSurface(p.ref, surface, p.dpi,
		region.StartX, region.StartY, region.Width, region.Height, req.Annotations)
	if err != nil {
		if errors.Is(err, ErrSurfaceReleased) || surface == nil {
			logger().Warn("Surface went away during render", "page", p.index, "error", err)
		} else {
			logger().Error("Exception thrown from native render", "page", p.index, "error", err)
		}
	}
	return nil
}

// RenderBitmap draws the page into a caller supplied bitmap. Any engine failure
// is returned to the caller.
func (p *Page) RenderBitmap(bitmap draw.Image, req RenderRequest) error {
	if bitmap == nil {
		return fmt.Errorf("%w: nil bitmap", ErrInvalidArgument)
	}
	region := req.Region
	return lockedErr(func() error {
		if err := p.check(); err != nil {
			return err
		}
		return p.doc.engine.RenderBitmap(p.ref, bitmap, p.dpi,
			region.StartX, region.StartY, region.Width, region.Height, req.Annotations, req.TextMask)
	})
}

// ImageSurface is an in-memory Surface backed by an RGBA image
type ImageSurface struct {
	mu       sync.Mutex
	img      *image.RGBA
	locked   bool
	released bool
	frames   int
}

// NewImageSurface allocates a width by height surface
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Lock implements Surface
func (s *ImageSurface) Lock() (draw.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrSurfaceReleased
	}
	if s.locked {
		return nil, errors.New("pdfpage: surface already locked")
	}
	s.locked = true
	return s.img, nil
}

// UnlockAndPost implements Surface
func (s *ImageSurface) UnlockAndPost() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrSurfaceReleased
	}
	if !s.locked {
		return errors.New("pdfpage: surface not locked")
	}
	s.locked = false
	s.frames++
	return nil
}

// Release tears the surface down. It may be called from any goroutine.
func (s *ImageSurface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.locked = false
}

// Frames returns how many frames were posted
func (s *ImageSurface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Snapshot returns a copy of the last posted contents
func (s *ImageSurface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}
