// Package document holds the in-memory model shared by the merge engine and the
// processing pipeline: opened sources, input descriptors, pages and the
// assembled sequence.
package document

import (
	"context"
	"image"
)

// PageBox is the geometry of one source page in PDF points.
type PageBox struct {
	Width    float64
	Height   float64
	Rotation int
}

// Handle is an opened, readable PDF.
type Handle struct {
	ID        string
	Path      string
	PageCount int
	Boxes     []PageBox
}

// Box returns the geometry of the zero-based page i.
func (h *Handle) Box(i int) PageBox {
	if i < 0 || i >= len(h.Boxes) {
		return PageBox{Width: 612, Height: 792}
	}
	return h.Boxes[i]
}

// Source opens documents by path.
type Source interface {
	Open(ctx context.Context, path string) (*Handle, error)
}

// Input is one ordered contribution to a merge.
type Input struct {
	Source   *Handle
	Reverse  bool
	Position int
}

// Blank is the result of blank detection, unset until the remove-blank stage
// has looked at the page.
type Blank int

const (
	BlankUnknown Blank = iota
	BlankNo
	BlankYes
)

// TextToken is one recognised word, positioned in page points with a
// top-left origin.
type TextToken struct {
	Text       string
	X, Y       float64
	Width      float64
	Height     float64
	Confidence float64
}

// Page is one page of the assembled sequence. It is owned by exactly one
// Sequence and mutated in place by pipeline stages.
type Page struct {
	OriginDocumentID string
	OriginIndex      int
	SourcePath       string

	// Width and Height are the unrotated page size in points. Rotation is the
	// display rotation; SourceRotation is what the source file carries.
	Width          float64
	Height         float64
	Rotation       int
	SourceRotation int

	// Raster is the working image of the page in display orientation, nil
	// until a rasterizer filled it.
	Raster image.Image
	DPI    float64
	// Encoded is the serialised page image the writer embeds as is.
	Encoded       []byte
	EncodedFormat string
	// Replaced is set once an image stage changed the raster, so the page is
	// written from Raster instead of being imported from SourcePath.
	Replaced bool

	Blank      Blank
	BlankScore float64

	Text []TextToken
}

// HasRaster reports whether the page carries a working image.
func (p *Page) HasRaster() bool {
	return p.Raster != nil
}

// Rendered reports whether the page must be drawn from its image rather than
// copied from the source file.
func (p *Page) Rendered() bool {
	return p.Replaced || p.Encoded != nil || len(p.Text) > 0
}

// DisplaySize returns the page size in points as shown, with Rotation applied.
func (p *Page) DisplaySize() (float64, float64) {
	if r := ((p.Rotation % 360) + 360) % 360; r == 90 || r == 270 {
		return p.Height, p.Width
	}
	return p.Width, p.Height
}

// Sequence is the ordered set of pages. Insertion order is output order.
type Sequence struct {
	Pages []*Page
}

// Len returns the number of pages.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Pages)
}

// Filter drops the pages for which keep returns false, preserving the
// relative order of the rest. It returns the number of removed pages.
func (s *Sequence) Filter(keep func(*Page) bool) int {
	kept := s.Pages[:0]
	removed := 0
	for _, p := range s.Pages {
		if keep(p) {
			kept = append(kept, p)
			continue
		}
		removed++
	}
	for i := len(kept); i < len(s.Pages); i++ {
		s.Pages[i] = nil
	}
	s.Pages = kept
	return removed
}
