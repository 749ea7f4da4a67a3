// Package assemble serialises a page sequence into a PDF. Untouched pages are
// copied from their source files with pdfcpu; rendered pages are drawn from
// their page image with fpdf, carrying an invisible text layer when OCR ran.
package assemble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Lllllllleong/scanmerge/internal/document"
)

// Writer writes sequences to disk.
type Writer struct {
	Logger *slog.Logger
}

// NewWriter returns a writer logging to slog.Default.
func NewWriter() *Writer {
	return &Writer{Logger: slog.Default()}
}

// segment is a run of consecutive output pages produced the same way.
type segment struct {
	rendered bool
	source   string
	pages    []*document.Page
}

func segments(seq *document.Sequence) []segment {
	var out []segment
	for _, p := range seq.Pages {
		rendered := p.Rendered()
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.rendered == rendered && (rendered || last.source == p.SourcePath) {
				last.pages = append(last.pages, p)
				continue
			}
		}
		out = append(out, segment{rendered: rendered, source: p.SourcePath, pages: []*document.Page{p}})
	}
	return out
}

// Write assembles seq into outPath, using workDir for intermediate chunks.
func (w *Writer) Write(ctx context.Context, seq *document.Sequence, workDir, outPath string) error {
	if seq.Len() == 0 {
		return fmt.Errorf("no pages to write")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkDir, err := os.MkdirTemp(workDir, "assemble-*")
	if err != nil {
		return fmt.Errorf("failed to create chunk dir: %w", err)
	}
	defer os.RemoveAll(chunkDir)

	segs := segments(seq)
	chunks := make([]string, 0, len(segs))
	for i, s := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := filepath.Join(chunkDir, fmt.Sprintf("chunk-%04d.pdf", i))
		if s.rendered {
			err = writeRendered(s.pages, chunk)
		} else {
			err = collectSource(s.source, s.pages, chunk)
		}
		if err != nil {
			return fmt.Errorf("segment %d: %w", i+1, err)
		}
		chunks = append(chunks, chunk)
	}
	logger.Info("Assembling output.", "pageCount", seq.Len(), "segments", len(segs))

	if len(chunks) == 1 {
		return copyFile(chunks[0], outPath)
	}
	if err := api.MergeCreateFile(chunks, outPath, false, document.Configuration()); err != nil {
		return fmt.Errorf("failed to merge segments: %w", err)
	}
	return nil
}

// collectSource copies pages of one source in order, then restores any
// rotation that differs from the source.
func collectSource(src string, pages []*document.Page, out string) error {
	sel := make([]string, len(pages))
	for i, p := range pages {
		sel[i] = strconv.Itoa(p.OriginIndex + 1)
	}
	conf := document.Configuration()
	if err := api.CollectFile(src, out, sel, conf); err != nil {
		return fmt.Errorf("failed to collect pages from %s: %w", src, err)
	}

	byDelta := map[int][]string{}
	for i, p := range pages {
		delta := ((p.Rotation-p.SourceRotation)%360 + 360) % 360
		if delta != 0 {
			byDelta[delta] = append(byDelta[delta], strconv.Itoa(i+1))
		}
	}
	for delta, sel := range byDelta {
		if err := api.RotateFile(out, "", delta, sel, document.Configuration()); err != nil {
			return fmt.Errorf("failed to rotate pages of %s: %w", src, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
