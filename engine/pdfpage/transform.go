package pdfpage

import (
	"fmt"
	"math"
)

// Rotation is the display rotation of a page inside its viewport
type Rotation int

const (
	Rotate0   Rotation = iota // upright
	Rotate90                  // 90 degrees clockwise
	Rotate180                 // upside down
	Rotate270                 // 90 degrees counter-clockwise
)

// Valid reports whether r is one of the four supported states
func (r Rotation) Valid() bool {
	return r >= Rotate0 && r <= Rotate270
}

// Degrees returns the clockwise rotation in degrees
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// Viewport places a page in device space: the page is scaled to SizeX by
// SizeY pixels with its top-left corner at StartX, StartY, then rotated.
// Render calls and coordinate mapping must use the same viewport.
type Viewport struct {
	StartX int      `json:"startX"`
	StartY int      `json:"startY"`
	SizeX  int      `json:"sizeX"`
	SizeY  int      `json:"sizeY"`
	Rotate Rotation `json:"rotate"`
}

func (vp Viewport) validate() error {
	if !vp.Rotate.Valid() {
		return fmt.Errorf("%w: rotation %d", ErrInvalidArgument, int(vp.Rotate))
	}
	return nil
}

// Point is a position in page space, in points
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DevicePoint is a position in device space, in whole pixels
type DevicePoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Matrix is an affine transform stored as [a b c d e f], mapping
// (x, y) to (a*x + c*y + e, b*x + d*y + f).
type Matrix [6]float64

// Identity is the identity transform
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Translate returns a translation matrix
func Translate(tx, ty float64) Matrix {
	return Matrix{1, 0, 0, 1, tx, ty}
}

// Multiply returns m followed by other
func (m Matrix) Multiply(other Matrix) Matrix {
	return Matrix{
		m[0]*other[0] + m[1]*other[2],
		m[0]*other[1] + m[1]*other[3],
		m[2]*other[0] + m[3]*other[2],
		m[2]*other[1] + m[3]*other[3],
		m[4]*other[0] + m[5]*other[2] + other[4],
		m[4]*other[1] + m[5]*other[3] + other[5],
	}
}

// Apply transforms the point (x, y)
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Invert returns the inverse transform. ok is false for a singular matrix.
func (m Matrix) Invert() (inv Matrix, ok bool) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-12 {
		return Identity, false
	}
	return Matrix{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, true
}

// DisplayMatrix returns the page-to-device transform for a page whose visible
// box is box (in points) shown in vp. It mirrors the corner placement native
// engines use: for Rotate0 the box's bottom-left corner lands on the
// viewport's bottom-left, for Rotate90 on its top-left, for Rotate180 on its
// top-right and for Rotate270 on its bottom-right. A degenerate box or
// viewport yields the identity.
func DisplayMatrix(box Rect, vp Viewport) Matrix {
	width := box.Right - box.Left
	height := box.Top - box.Bottom
	if width == 0 || height == 0 || vp.SizeX == 0 || vp.SizeY == 0 {
		return Identity
	}
	x, y := float64(vp.StartX), float64(vp.StartY)
	w, h := float64(vp.SizeX), float64(vp.SizeY)

	// (x0, y0) receives the box origin, (x1, y1) its top-left and (x2, y2)
	// its bottom-right corner.
	var x0, y0, x1, y1, x2, y2 float64
	switch ((vp.Rotate % 4) + 4) % 4 {
	case Rotate0:
		x0, y0, x1, y1, x2, y2 = x, y+h, x, y, x+w, y+h
	case Rotate90:
		x0, y0, x1, y1, x2, y2 = x, y, x+w, y, x, y+h
	case Rotate180:
		x0, y0, x1, y1, x2, y2 = x+w, y, x+w, y+h, x, y
	case Rotate270:
		x0, y0, x1, y1, x2, y2 = x+w, y+h, x, y+h, x+w, y
	}
	display := Matrix{
		(x2 - x0) / width, (y2 - y0) / width,
		(x1 - x0) / height, (y1 - y0) / height,
		x0, y0,
	}
	return Translate(-box.Left, -box.Bottom).Multiply(display)
}

// ToDevice maps a page-space point into device space, rounding half away from zero.
func ToDevice(box Rect, vp Viewport, pageX, pageY float64) DevicePoint {
	x, y := DisplayMatrix(box, vp).Apply(pageX, pageY)
	return DevicePoint{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// ToPage maps a device pixel back into page space
func ToPage(box Rect, vp Viewport, deviceX, deviceY int) Point {
	inv, ok := DisplayMatrix(box, vp).Invert()
	if !ok {
		return Point{X: float64(deviceX), Y: float64(deviceY)}
	}
	x, y := inv.Apply(float64(deviceX), float64(deviceY))
	return Point{X: x, Y: y}
}

// PageToDevice maps a page-space point to device pixels through the engine.
func (p *Page) PageToDevice(vp Viewport, pageX, pageY float64) (DevicePoint, error) {
	if err := vp.validate(); err != nil {
		return DevicePoint{}, err
	}
	return query(p, func(e Engine) (DevicePoint, error) {
		return e.PageToDevice(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), pageX, pageY)
	})
}

// DeviceToPage maps a device pixel to page space through the engine.
func (p *Page) DeviceToPage(vp Viewport, deviceX, deviceY int) (Point, error) {
	if err := vp.validate(); err != nil {
		return Point{}, err
	}
	return query(p, func(e Engine) (Point, error) {
		return e.DeviceToPage(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), deviceX, deviceY)
	})
}

// MapRectToDevice maps the (Left, Top) and (Right, Bottom) corners of r
// independently. Under Rotate90 and Rotate270 the result is the image of those
// two corners, not the bounding box of the rotated rectangle, and its edges
// may come out swapped.
func (p *Page) MapRectToDevice(vp Viewport, r Rect) (Rect, error) {
	if err := vp.validate(); err != nil {
		return Rect{}, err
	}
	return query(p, func(e Engine) (Rect, error) {
		leftTop, err := e.PageToDevice(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), r.Left, r.Top)
		if err != nil {
			return Rect{}, err
		}
		rightBottom, err := e.PageToDevice(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), r.Right, r.Bottom)
		if err != nil {
			return Rect{}, err
		}
		return Rect{
			Left:   float64(leftTop.X),
			Top:    float64(leftTop.Y),
			Right:  float64(rightBottom.X),
			Bottom: float64(rightBottom.Y),
		}, nil
	})
}

// MapRectToPage is the corner mapping in the other direction. Device
// coordinates are truncated toward zero before mapping.
func (p *Page) MapRectToPage(vp Viewport, r Rect) (Rect, error) {
	if err := vp.validate(); err != nil {
		return Rect{}, err
	}
	return query(p, func(e Engine) (Rect, error) {
		leftTop, err := e.DeviceToPage(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), int(r.Left), int(r.Top))
		if err != nil {
			return Rect{}, err
		}
		rightBottom, err := e.DeviceToPage(p.ref, vp.StartX, vp.StartY, vp.SizeX, vp.SizeY, int(vp.Rotate), int(r.Right), int(r.Bottom))
		if err != nil {
			return Rect{}, err
		}
		return Rect{Left: leftTop.X, Top: leftTop.Y, Right: rightBottom.X, Bottom: rightBottom.Y}, nil
	})
}
