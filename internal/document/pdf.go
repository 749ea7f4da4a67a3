package document

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFSource opens documents with pdfcpu in relaxed validation mode, the way
// scanner output usually needs.
type PDFSource struct {
	Logger *slog.Logger
}

// NewPDFSource returns a source logging to slog.Default.
func NewPDFSource() *PDFSource {
	return &PDFSource{Logger: slog.Default()}
}

// Configuration returns the pdfcpu configuration used across the module.
func Configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (s *PDFSource) Open(ctx context.Context, path string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pdfCtx, err := api.ReadContext(f, Configuration())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", path, err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}

	h := &Handle{
		ID:        uuid.NewString(),
		Path:      path,
		PageCount: pdfCtx.PageCount,
		Boxes:     make([]PageBox, pdfCtx.PageCount),
	}
	for i := 1; i <= pdfCtx.PageCount; i++ {
		_, _, inh, err := pdfCtx.PageDict(i, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", i, path, err)
		}
		box := PageBox{Width: 612, Height: 792}
		if inh != nil {
			rect := inh.MediaBox
			if inh.CropBox != nil {
				rect = inh.CropBox
			}
			if rect != nil {
				box.Width, box.Height = rect.Width(), rect.Height()
			}
			box.Rotation = normalizeRotation(inh.Rotate)
		}
		h.Boxes[i-1] = box
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Opened source document.", "path", path, "pageCount", h.PageCount)
	return h, nil
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
