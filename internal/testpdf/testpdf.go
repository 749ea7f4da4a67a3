// Package testpdf builds small scanned-looking PDFs for tests.
package testpdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"codeberg.org/go-pdf/fpdf"
)

// Page describes one generated page: a gray scan of Width x Height pixels
// drawn over a page of W x H points. Ink draws a dark bar so the page is not
// blank.
type Page struct {
	W, H          float64
	Width, Height int
	Ink           bool
	Text          string
}

// Scan returns the gray image used for p.
func Scan(p Page) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	if p.Ink {
		for y := p.Height / 3; y < p.Height/3+max(2, p.Height/20); y++ {
			for x := p.Width / 8; x < p.Width*7/8; x++ {
				g.SetGray(x, y, color.Gray{Y: 10})
			}
		}
	}
	return g
}

// Write creates a PDF at dir/name with one embedded PNG scan per page and
// returns its path.
func Write(t testing.TB, dir, name string, pages ...Page) string {
	t.Helper()
	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Helvetica", "", 10)
	for i, p := range pages {
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: p.W, Ht: p.H})
		var buf bytes.Buffer
		if err := png.Encode(&buf, Scan(p)); err != nil {
			t.Fatalf("encode page %d: %v", i+1, err)
		}
		imgName := fmt.Sprintf("%s-%d", name, i)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(imgName, opts, &buf)
		pdf.ImageOptions(imgName, 0, 0, p.W, p.H, false, opts, 0, "")
		if p.Text != "" {
			pdf.Text(10, 20, p.Text)
		}
	}
	path := filepath.Join(dir, name)
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Letter returns n inked scan pages of 612 x 792 points at 72 dpi.
func Letter(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{W: 612, H: 792, Width: 612, Height: 792, Ink: true}
	}
	return pages
}
