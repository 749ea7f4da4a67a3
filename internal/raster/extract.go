package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"

	"github.com/Lllllllleong/scanmerge/internal/document"
)

// ScanExtractor returns the embedded scan of a page, decoded at its native
// resolution. An image only counts as the scan when it is painted over
// (nearly) the whole page; logos and figures on vector pages yield
// ErrNoRaster so the page is rendered instead.
type ScanExtractor struct {
	Config *model.Configuration
}

// minCoverage is the share of each page dimension a scan must be drawn over.
const minCoverage = 0.9

// NewScanExtractor returns an extractor using relaxed validation.
func NewScanExtractor() *ScanExtractor {
	return &ScanExtractor{Config: document.Configuration()}
}

func (s *ScanExtractor) Rasterize(ctx context.Context, req Request) (Raster, error) {
	if err := ctx.Err(); err != nil {
		return Raster{}, err
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return Raster{}, fmt.Errorf("open %s: %w", req.Path, err)
	}
	defer f.Close()

	conf := document.Configuration()
	if s.Config != nil {
		c := *s.Config
		conf = &c
	}
	conf.Cmd = model.EXTRACTIMAGES
	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return Raster{}, fmt.Errorf("read %s: %w", req.Path, err)
	}
	pageNr := req.Index + 1
	images, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
	if err != nil {
		return Raster{}, fmt.Errorf("extract images from page %d of %s: %w", pageNr, req.Path, err)
	}
	placed := pagePlacements(pdfCtx, pageNr)

	var best image.Image
	bestArea := 0
	for _, img := range images {
		if img.Thumb {
			continue
		}
		decoded, _, err := image.Decode(img)
		if err != nil {
			// stencil masks and exotic filters are not page scans
			continue
		}
		b := decoded.Bounds()
		if !coversPage(img.Name, b.Dx(), b.Dy(), placed, req) {
			continue
		}
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = decoded, area
		}
	}
	if best == nil {
		return Raster{}, ErrNoRaster
	}
	return Raster{Image: best, DPI: dpiFor(best.Bounds().Dx(), req.Width)}, nil
}

func pagePlacements(pdfCtx *model.Context, pageNr int) map[string]placement {
	d, _, _, err := pdfCtx.PageDict(pageNr, false)
	if err != nil || d == nil {
		return nil
	}
	content, err := pdfCtx.PageContent(d, pageNr)
	if err != nil {
		return nil
	}
	return placements(content)
}

// coversPage reports whether the named image is painted over the page. Images drawn from
// inside form XObjects have no known placement; for those the aspect ratio
// has to match the page box.
func coversPage(name string, w, h int, placed map[string]placement, req Request) bool {
	if req.Width <= 0 || req.Height <= 0 {
		return false
	}
	if p, ok := placed[name]; ok {
		return p.Width >= minCoverage*req.Width && p.Height >= minCoverage*req.Height
	}
	if w <= 0 || h <= 0 {
		return false
	}
	ratio := float64(w) / float64(h)
	page := req.Width / req.Height
	return math.Abs(ratio-page)/page < 0.03
}
