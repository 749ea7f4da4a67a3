package finishing

import (
	"context"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scanmerge/internal/testpdf"
)

func TestAnchor(t *testing.T) {
	cases := []struct {
		in     string
		pos    string
		dx, dy float64
	}{
		{"bottom-center", "bc", 0, 20},
		{"bottom-left", "bl", 20, 20},
		{"bottom-right", "br", -20, 20},
		{"top-center", "tc", 0, -20},
		{"Top-Right", "tr", -20, -20},
	}
	for _, c := range cases {
		pos, dx, dy, err := anchor(c.in, 20)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.pos, pos, c.in)
		assert.Equal(t, c.dx, dx, c.in)
		assert.Equal(t, c.dy, dy, c.in)
	}

	assert.False(t, ValidPosition("middle"))
	assert.False(t, ValidPosition("bottom-middle"))
	assert.True(t, ValidPosition("top-left"))
}

func TestNum(t *testing.T) {
	assert.Equal(t, "0.3", num(0.3))
	assert.Equal(t, "45", num(45))
	assert.Equal(t, "0", num(0))
}

func TestMetadataEmpty(t *testing.T) {
	assert.True(t, Metadata{Creator: "x"}.Empty())
	assert.False(t, Metadata{Keywords: "scan"}.Empty())
}

func TestFinisher_DocumentOperationsKeepPages(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", testpdf.Letter(3)...)
	f := New()
	ctx := context.Background()

	optimized := filepath.Join(dir, "optimized.pdf")
	require.NoError(t, f.Optimize(ctx, in, optimized, 9))

	meta := filepath.Join(dir, "meta.pdf")
	require.NoError(t, f.SetMetadata(ctx, optimized, meta, Metadata{Title: "Minutes", Author: "Archive"}))

	marked := filepath.Join(dir, "marked.pdf")
	require.NoError(t, f.ApplyWatermark(ctx, meta, marked, Watermark{Text: "COPY", Opacity: 0.3, Size: 60, Rotation: 45}))

	numbered := filepath.Join(dir, "numbered.pdf")
	require.NoError(t, f.NumberPages(ctx, marked, numbered, PageNumbers{Position: "bottom-center", Size: 10, Margin: 20}))

	n, err := api.PageCountFile(numbered)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, api.ValidateFile(numbered, config()))

	pdfCtx, err := api.ReadContextFile(numbered)
	require.NoError(t, err)
	assert.Equal(t, "Minutes", pdfCtx.Title)
	assert.Equal(t, "Archive", pdfCtx.Author)
}

func TestFinisher_RejectsBadPosition(t *testing.T) {
	err := New().NumberPages(context.Background(), "in.pdf", "out.pdf", PageNumbers{Position: "center"})
	assert.Error(t, err)
}

// render returns page 1 of path as gray pixels at 72 dpi.
func render(t *testing.T, path string) *image.Gray {
	t.Helper()
	doc, err := fitz.New(path)
	require.NoError(t, err)
	defer doc.Close()
	img, err := doc.ImageDPI(0, 72)
	require.NoError(t, err)
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}

// changed counts the pixels inside r that differ visibly between a and b.
func changed(a, b *image.Gray, r image.Rectangle) int {
	n := 0
	r = r.Intersect(a.Bounds()).Intersect(b.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			d := int(a.GrayAt(x, y).Y) - int(b.GrayAt(x, y).Y)
			if d > 20 || d < -20 {
				n++
			}
		}
	}
	return n
}

func TestFinisher_WatermarkVisibleOnScan(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "scan.pdf", testpdf.Letter(1)...)
	out := filepath.Join(dir, "marked.pdf")

	require.NoError(t, New().ApplyWatermark(context.Background(), in, out, Watermark{Text: "COPY", Opacity: 0.5, Size: 96, Rotation: 45}))

	before, after := render(t, in), render(t, out)
	assert.Greater(t, changed(before, after, after.Bounds()), 1000)
}

func TestFinisher_ImageWatermarkVisibleOnScan(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "scan.pdf", testpdf.Letter(1)...)
	stamp := image.NewGray(image.Rect(0, 0, 200, 100))
	f, err := os.Create(filepath.Join(dir, "stamp.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, stamp))
	require.NoError(t, f.Close())
	out := filepath.Join(dir, "stamped.pdf")

	require.NoError(t, New().ApplyWatermark(context.Background(), in, out, Watermark{ImagePath: f.Name(), Opacity: 0.6}))

	before, after := render(t, in), render(t, out)
	assert.Greater(t, changed(before, after, after.Bounds()), 1000)
}

func TestFinisher_PageNumberVisibleAtPosition(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "scan.pdf", testpdf.Letter(2)...)
	out := filepath.Join(dir, "numbered.pdf")

	require.NoError(t, New().NumberPages(context.Background(), in, out, PageNumbers{Position: "bottom-center", Size: 14, Margin: 20}))

	before, after := render(t, in), render(t, out)
	b := after.Bounds()
	footer := image.Rect(b.Dx()/2-40, b.Dy()-60, b.Dx()/2+40, b.Dy())
	header := image.Rect(0, 0, b.Dx(), 100)
	assert.Greater(t, changed(before, after, footer), 10)
	assert.Zero(t, changed(before, after, header))
}
