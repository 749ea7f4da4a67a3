// Package raster turns PDF pages into working images for the image stages.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrNoRaster means a page has no raster content and could not be rendered.
var ErrNoRaster = errors.New("page cannot be rasterized")

// Raster is the working image of one page.
type Raster struct {
	Image image.Image
	DPI   float64
	// Oriented is set when the page rotation is already applied to Image.
	Oriented bool
}

// Request addresses one source page. Index is zero-based; Width and Height
// are the unrotated page size in points.
type Request struct {
	Path     string
	Index    int
	Width    float64
	Height   float64
	Rotation int
}

// Rasterizer produces the working image of a page.
type Rasterizer interface {
	Rasterize(ctx context.Context, req Request) (Raster, error)
}

// Chain tries each rasterizer in turn until one succeeds. It returns
// ErrNoRaster when none applies.
type Chain []Rasterizer

func (c Chain) Rasterize(ctx context.Context, req Request) (Raster, error) {
	var errList []error
	for _, r := range c {
		if r == nil {
			continue
		}
		out, err := r.Rasterize(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Raster{}, ctxErr
		}
		if !errors.Is(err, ErrNoRaster) {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return Raster{}, fmt.Errorf("%w: %w", ErrNoRaster, errors.Join(errList...))
	}
	return Raster{}, ErrNoRaster
}

func dpiFor(pixels int, points float64) float64 {
	if points <= 0 {
		return 0
	}
	return float64(pixels) / (points / 72)
}
