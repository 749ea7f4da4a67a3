package raster

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer renders pages with MuPDF. Open documents are cached per path
// until Close.
type FitzRenderer struct {
	DPI float64

	mu   sync.Mutex
	docs map[string]*fitz.Document
}

// NewFitzRenderer returns a renderer at dpi.
func NewFitzRenderer(dpi float64) *FitzRenderer {
	return &FitzRenderer{DPI: dpi, docs: make(map[string]*fitz.Document)}
}

func (r *FitzRenderer) document(path string) (*fitz.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docs == nil {
		r.docs = make(map[string]*fitz.Document)
	}
	if doc, ok := r.docs[path]; ok {
		return doc, nil
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for rendering: %w", path, err)
	}
	r.docs[path] = doc
	return doc, nil
}

func (r *FitzRenderer) Rasterize(ctx context.Context, req Request) (Raster, error) {
	if err := ctx.Err(); err != nil {
		return Raster{}, err
	}
	doc, err := r.document(req.Path)
	if err != nil {
		return Raster{}, err
	}
	if req.Index < 0 || req.Index >= doc.NumPage() {
		return Raster{}, fmt.Errorf("page %d out of range for %s", req.Index+1, req.Path)
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 300
	}
	img, err := doc.ImageDPI(req.Index, dpi)
	if err != nil {
		return Raster{}, fmt.Errorf("failed to render page %d of %s: %w", req.Index+1, req.Path, err)
	}
	return Raster{Image: img, DPI: dpi, Oriented: true}, nil
}

// Close releases every cached document.
func (r *FitzRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for path, doc := range r.docs {
		if err := doc.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.docs, path)
	}
	return first
}
