package pdfpage

import "fmt"

// Rect is a normalized box. Page boxes are in points, mapped rectangles in
// whatever space the mapping produced.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width is Right - Left, which can be negative for device rectangles mapped under rotation.
func (r Rect) Width() float64 {
	return r.Right - r.Left
}

// Height is Top - Bottom in page space.
func (r Rect) Height() float64 {
	return r.Top - r.Bottom
}

// IsZero reports whether all four edges are zero
func (r Rect) IsZero() bool {
	return r == Rect{}
}

func rectFromBox(box [4]float32) Rect {
	return Rect{
		Left:   float64(box[Left]),
		Top:    float64(box[Top]),
		Right:  float64(box[Right]),
		Bottom: float64(box[Bottom]),
	}
}

// BoxKind names one of the page extents reported by the engine
type BoxKind int

const (
	BoxMedia BoxKind = iota
	BoxCrop
	BoxBleed
	BoxTrim
	BoxArt
	BoxBounding
)

// BoxKinds lists every kind in engine order
var BoxKinds = []BoxKind{BoxMedia, BoxCrop, BoxBleed, BoxTrim, BoxArt, BoxBounding}

var boxNames = [...]string{
	BoxMedia:    "media",
	BoxCrop:     "crop",
	BoxBleed:    "bleed",
	BoxTrim:     "trim",
	BoxArt:      "art",
	BoxBounding: "bounding",
}

// boxQueries selects the engine call for each kind.
var boxQueries = [...]func(Engine, PageRef) ([4]float32, error){
	BoxMedia:    Engine.MediaBox,
	BoxCrop:     Engine.CropBox,
	BoxBleed:    Engine.BleedBox,
	BoxTrim:     Engine.TrimBox,
	BoxArt:      Engine.ArtBox,
	BoxBounding: Engine.BoundingBox,
}

func (k BoxKind) String() string {
	if k < 0 || int(k) >= len(boxNames) {
		return fmt.Sprintf("BoxKind(%d)", int(k))
	}
	return boxNames[k]
}

// Valid reports whether k is one of the six known kinds
func (k BoxKind) Valid() bool {
	return k >= 0 && int(k) < len(boxQueries)
}

// ParseBoxKind converts a name such as "crop" back into a BoxKind
func ParseBoxKind(name string) (BoxKind, error) {
	for kind, n := range boxNames {
		if n == name {
			return BoxKind(kind), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown box %q", ErrInvalidArgument, name)
}

// Box returns the requested box in points. The engine's answer is surfaced
// as-is: a page without a trim box may well report a zero rectangle.
func (p *Page) Box(kind BoxKind) (Rect, error) {
	if !kind.Valid() {
		return Rect{}, fmt.Errorf("%w: box kind %d", ErrInvalidArgument, int(kind))
	}
	selector := boxQueries[kind]
	return query(p, func(e Engine) (Rect, error) {
		box, err := selector(e, p.ref)
		if err != nil {
			return Rect{}, err
		}
		return rectFromBox(box), nil
	})
}

// MediaBox returns the page media box in points
func (p *Page) MediaBox() (Rect, error) { return p.Box(BoxMedia) }

// CropBox returns the page crop box in points
func (p *Page) CropBox() (Rect, error) { return p.Box(BoxCrop) }

// BleedBox returns the page bleed box in points
func (p *Page) BleedBox() (Rect, error) { return p.Box(BoxBleed) }

// TrimBox returns the page trim box in points
func (p *Page) TrimBox() (Rect, error) { return p.Box(BoxTrim) }

// ArtBox returns the page art box in points
func (p *Page) ArtBox() (Rect, error) { return p.Box(BoxArt) }

// BoundingBox returns the computed bounding box of the page content in points
func (p *Page) BoundingBox() (Rect, error) { return p.Box(BoxBounding) }
