// Package finishing applies whole-document operations to an assembled PDF:
// lossless optimisation, document properties, watermarks and page numbers.
package finishing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/scanmerge/internal/document"
)

// ToolName is stamped as Creator and Producer when none is given.
const ToolName = "scanmerge"

// Metadata holds the document information dictionary entries to set.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Producer string
}

// Empty reports whether no user-facing entry is set.
func (m Metadata) Empty() bool {
	return m.Title == "" && m.Author == "" && m.Subject == "" && m.Keywords == ""
}

// Watermark is a centred text or image mark stamped over the page content;
// Opacity keeps the page readable beneath it.
type Watermark struct {
	Text      string
	ImagePath string
	Opacity   float64
	Size      float64
	Rotation  float64
}

// PageNumbers stamps the 1-based page number on every page.
type PageNumbers struct {
	Position string
	Size     float64
	Margin   float64
}

// Finisher runs the document operations through pdfcpu. Every operation reads
// in and writes a new file at out.
type Finisher struct {
	Logger *slog.Logger
}

// New returns a finisher logging to slog.Default.
func New() *Finisher {
	return &Finisher{Logger: slog.Default()}
}

func (f *Finisher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

func config() *model.Configuration {
	return document.Configuration()
}

// Optimize rewrites in losslessly. Levels of 7 and above also merge duplicate
// content streams; levels of 3 and below leave resource dictionaries alone.
func (f *Finisher) Optimize(ctx context.Context, in, out string, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conf := config()
	conf.OptimizeDuplicateContentStreams = level >= 7
	conf.OptimizeResourceDicts = level > 3
	if err := api.OptimizeFile(in, out, conf); err != nil {
		return fmt.Errorf("failed to optimize PDF: %w", err)
	}
	f.logger().Info("PDF optimized.", "compressLevel", level)
	return nil
}

// SetMetadata writes the document properties. Creator and Producer default to
// ToolName.
func (f *Finisher) SetMetadata(ctx context.Context, in, out string, m Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Creator == "" {
		m.Creator = ToolName
	}
	if m.Producer == "" {
		m.Producer = ToolName
	}
	props := map[string]string{
		"Creator":  m.Creator,
		"Producer": m.Producer,
	}
	for k, v := range map[string]string{"Title": m.Title, "Author": m.Author, "Subject": m.Subject, "Keywords": m.Keywords} {
		if v != "" {
			props[k] = v
		}
	}
	if err := api.AddPropertiesFile(in, out, props, config()); err != nil {
		return fmt.Errorf("failed to set document properties: %w", err)
	}
	f.logger().Info("Document properties set.", "keys", len(props))
	return nil
}

// ApplyWatermark stamps the watermark on every page. Scanned pages are one
// opaque image, so anything drawn below the content would not show.
func (f *Finisher) ApplyWatermark(ctx context.Context, in, out string, w Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if w.ImagePath != "" {
		desc := fmt.Sprintf("position:c, rotation:%s, opacity:%s, scalefactor:0.5 rel", num(w.Rotation), num(w.Opacity))
		err = api.AddImageWatermarksFile(in, out, nil, true, w.ImagePath, desc, config())
	} else {
		desc := fmt.Sprintf("fontname:Helvetica, points:%s, position:c, rotation:%s, opacity:%s, scalefactor:1 abs, fillcolor:#808080",
			num(w.Size), num(w.Rotation), num(w.Opacity))
		err = api.AddTextWatermarksFile(in, out, nil, true, w.Text, desc, config())
	}
	if err != nil {
		return fmt.Errorf("failed to add watermark: %w", err)
	}
	f.logger().Info("Watermark added.")
	return nil
}

// NumberPages stamps page numbers on top of the content.
func (f *Finisher) NumberPages(ctx context.Context, in, out string, n PageNumbers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pos, dx, dy, err := anchor(n.Position, n.Margin)
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("fontname:Helvetica, points:%s, position:%s, offset:%s %s, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:#000000",
		num(n.Size), pos, num(dx), num(dy))
	if err := api.AddTextWatermarksFile(in, out, nil, true, "%p", desc, config()); err != nil {
		return fmt.Errorf("failed to add page numbers: %w", err)
	}
	f.logger().Info("Page numbers added.", "position", n.Position)
	return nil
}

// ValidPosition reports whether s names a page number position such as
// "bottom-center" or "top-right".
func ValidPosition(s string) bool {
	_, _, _, err := anchor(s, 0)
	return err == nil
}

// anchor maps a position name onto a pdfcpu anchor and the margin offset
// pointing into the page.
func anchor(position string, margin float64) (string, float64, float64, error) {
	vertical, horizontal, ok := strings.Cut(strings.ToLower(strings.TrimSpace(position)), "-")
	if !ok {
		return "", 0, 0, fmt.Errorf("invalid page number position %q", position)
	}
	var pos string
	var dx, dy float64
	switch vertical {
	case "bottom":
		pos, dy = "b", margin
	case "top":
		pos, dy = "t", -margin
	default:
		return "", 0, 0, fmt.Errorf("invalid page number position %q", position)
	}
	switch horizontal {
	case "left":
		pos, dx = pos+"l", margin
	case "center", "centre":
		pos += "c"
	case "right":
		pos, dx = pos+"r", -margin
	default:
		return "", 0, 0, fmt.Errorf("invalid page number position %q", position)
	}
	return pos, dx, dy, nil
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
