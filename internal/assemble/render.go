package assemble

import (
	"bytes"
	"fmt"

	"codeberg.org/go-pdf/fpdf"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/imaging"
)

// baseline of a word box, as a share of its height from the top
const baselineRatio = 0.8

// writeRendered draws each page image full-bleed on a page of the page's
// display size, with the recognised words as transparent text on top.
func writeRendered(pages []*document.Page, out string) error {
	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCompression(true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, p := range pages {
		data, format, err := pageImage(p)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		w, h := p.DisplaySize()
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})

		name := fmt.Sprintf("page-%d", i)
		opts := fpdf.ImageOptions{ImageType: format}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")

		if len(p.Text) > 0 {
			drawTextLayer(pdf, tr, p.Text)
		}
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("failed to write rendered pages: %w", err)
	}
	return nil
}

func pageImage(p *document.Page) ([]byte, string, error) {
	if p.Encoded != nil {
		switch p.EncodedFormat {
		case "jpg", "jpeg":
			return p.Encoded, "JPG", nil
		case "png", "":
			return p.Encoded, "PNG", nil
		default:
			return nil, "", fmt.Errorf("unsupported page image format %q", p.EncodedFormat)
		}
	}
	if p.Raster == nil {
		return nil, "", fmt.Errorf("rendered page has no image")
	}
	data, err := imaging.EncodePNG(p.Raster)
	if err != nil {
		return nil, "", err
	}
	return data, "PNG", nil
}

// drawTextLayer writes each token at its box, scaled horizontally to the box
// width, fully transparent so only text extraction and search see it.
func drawTextLayer(pdf *fpdf.Fpdf, tr func(string) string, tokens []document.TextToken) {
	pdf.SetAlpha(0, "Normal")
	defer pdf.SetAlpha(1, "Normal")
	pdf.SetFont("Helvetica", "", 10)
	for _, tok := range tokens {
		if tok.Text == "" || tok.Height <= 0 || tok.Width <= 0 {
			continue
		}
		s := tr(tok.Text)
		pdf.SetFontSize(tok.Height)
		natural := pdf.GetStringWidth(s)
		if natural <= 0 {
			continue
		}
		x := tok.X
		y := tok.Y + tok.Height*baselineRatio
		pdf.TransformBegin()
		pdf.TransformScale(tok.Width/natural*100, 100, x, y)
		pdf.Text(x, y, s)
		pdf.TransformEnd()
	}
}
