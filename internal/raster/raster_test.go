package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scanmerge/internal/testpdf"
)

type fakeRasterizer struct {
	out   Raster
	err   error
	calls int
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, req Request) (Raster, error) {
	f.calls++
	return f.out, f.err
}

func TestChain_FallsThroughNoRaster(t *testing.T) {
	first := &fakeRasterizer{err: ErrNoRaster}
	second := &fakeRasterizer{out: Raster{Image: image.NewGray(image.Rect(0, 0, 1, 1)), DPI: 72}}

	out, err := Chain{first, nil, second}.Rasterize(context.Background(), Request{})

	require.NoError(t, err)
	assert.Equal(t, 72.0, out.DPI)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChain_AllFail(t *testing.T) {
	_, err := Chain{&fakeRasterizer{err: ErrNoRaster}}.Rasterize(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRaster)

	boom := errors.New("render failed")
	_, err = Chain{&fakeRasterizer{err: boom}}.Rasterize(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRaster)
	assert.ErrorIs(t, err, boom)
}

func TestDPIFor(t *testing.T) {
	assert.Equal(t, 300.0, dpiFor(2550, 612))
	assert.Equal(t, 0.0, dpiFor(100, 0))
}

func TestScanExtractor_ReturnsEmbeddedScan(t *testing.T) {
	dir := t.TempDir()
	path := testpdf.Write(t, dir, "scan.pdf",
		testpdf.Page{W: 144, H: 72, Width: 200, Height: 100, Ink: true},
		testpdf.Page{W: 144, H: 72, Width: 400, Height: 200},
	)
	ex := NewScanExtractor()

	out, err := ex.Rasterize(context.Background(), Request{Path: path, Index: 1, Width: 144, Height: 72})

	require.NoError(t, err)
	assert.Equal(t, 400, out.Image.Bounds().Dx())
	assert.InDelta(t, 200, out.DPI, 1e-9)
	assert.False(t, out.Oriented)
}

// writeLetterhead creates a vector text page carrying a small logo image.
func writeLetterhead(t *testing.T, dir string) string {
	t.Helper()
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	logo := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range logo.Pix {
		logo.Pix[i] = 40
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, logo))
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("logo", opts, &buf)
	pdf.ImageOptions("logo", 36, 36, 50, 50, false, opts, 0, "")
	for i := 0; i < 30; i++ {
		pdf.Text(72, 120+float64(i)*20, fmt.Sprintf("Clause %d of the supply agreement.", i+1))
	}
	path := filepath.Join(dir, "letterhead.pdf")
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func TestScanExtractor_IgnoresLogoOnVectorPage(t *testing.T) {
	path := writeLetterhead(t, t.TempDir())

	_, err := NewScanExtractor().Rasterize(context.Background(), Request{Path: path, Width: 612, Height: 792})

	assert.ErrorIs(t, err, ErrNoRaster)
}

func TestChain_RendersMixedPageWhole(t *testing.T) {
	path := writeLetterhead(t, t.TempDir())
	renderer := NewFitzRenderer(72)
	defer renderer.Close()

	out, err := Chain{NewScanExtractor(), renderer}.Rasterize(context.Background(), Request{Path: path, Width: 612, Height: 792})

	require.NoError(t, err)
	assert.True(t, out.Oriented)
	assert.InDelta(t, 612, out.Image.Bounds().Dx(), 1)
	assert.InDelta(t, 792, out.Image.Bounds().Dy(), 1)
}

func TestPlacements(t *testing.T) {
	content := []byte(`q 1 0 0 1 0 0 cm BT /F1 11 Tf (a (nested) \) string) Tj ET Q
q 612 0 0 792 0 0 cm /Scan Do Q
q 0.5 0 0 0.5 100 100 cm q 100 0 0 100 0 0 cm /Logo Do Q Q
q 0 792 -612 0 612 0 cm /Turned Do Q
BI /W 2 /H 1 /BPC 8 /CS /G ID ab EI
% 10 0 0 10 0 0 cm /Comment Do
/Missing Do`)

	got := placements(content)

	assert.Equal(t, placement{Width: 612, Height: 792}, got["Scan"])
	assert.Equal(t, placement{Width: 50, Height: 50}, got["Logo"])
	assert.InDelta(t, 612, got["Turned"].Width, 1e-9)
	assert.InDelta(t, 792, got["Turned"].Height, 1e-9)
	assert.Equal(t, placement{Width: 1, Height: 1}, got["Missing"])
	assert.NotContains(t, got, "Comment")
}
