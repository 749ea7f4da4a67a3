package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/imaging"
	"github.com/Lllllllleong/scanmerge/internal/ocr"
	"github.com/Lllllllleong/scanmerge/internal/raster"
)

// Stage names, in declared order.
const (
	StageDeskew      = "deskew"
	StageDenoise     = "denoise"
	StageDespeckle   = "despeckle"
	StageEnhance     = "enhance"
	StageSharpen     = "sharpen"
	StageBinarize    = "binarize"
	StageAutocrop    = "autocrop"
	StageRemoveBlank = "remove-blank"
	StageOCR         = "ocr"
	StageLossy       = "lossy"
	StageAssemble    = "assemble"
	StageOptimize    = "optimize"
	StageMetadata    = "metadata"
	StageWatermark   = "watermark"
	StagePageNumbers = "page-numbers"
)

type outcome int

const (
	applied outcome = iota
	// the page has no raster content and could not be rendered
	notApplicable
	// colour-dependent filter on an already binary page
	skippedBinary
)

// pageStage runs on one page at a time. A returned error is fatal.
type pageStage struct {
	name    string
	enabled func(Options) bool
	run     func(ctx context.Context, r *pageRun) (outcome, error)
}

// docStage rewrites the assembled artifact from in to out.
type docStage struct {
	name    string
	enabled func(Options) bool
	run     func(ctx context.Context, p *Pipeline, o Options, in, out string) error
}

var pageStages = []pageStage{
	{name: StageDeskew, enabled: func(o Options) bool { return o.Deskew || o.AutoDeskew }, run: runDeskew},
	{name: StageDenoise, enabled: func(o Options) bool { return o.Denoise }, run: filterStage(imaging.Filters.Denoise)},
	{name: StageDespeckle, enabled: func(o Options) bool { return o.Despeckle }, run: filterStage(imaging.Filters.Despeckle)},
	{name: StageEnhance, enabled: func(o Options) bool { return o.Enhance }, run: colourStage(imaging.Filters.Enhance)},
	{name: StageSharpen, enabled: func(o Options) bool { return o.Sharpen }, run: colourStage(imaging.Filters.Sharpen)},
	{name: StageBinarize, enabled: func(o Options) bool { return o.Binarize }, run: runBinarize},
	{name: StageAutocrop, enabled: func(o Options) bool { return o.Autocrop }, run: runAutocrop},
	{name: StageRemoveBlank, enabled: func(o Options) bool { return o.RemoveBlank }, run: runRemoveBlank},
	{name: StageOCR, enabled: func(o Options) bool { return o.OCR }, run: runOCR},
	{name: StageLossy, enabled: func(o Options) bool { return o.Lossy }, run: runLossy},
}

var docStages = []docStage{
	{name: StageOptimize, enabled: func(o Options) bool { return o.Optimize }, run: func(ctx context.Context, p *Pipeline, o Options, in, out string) error {
		return p.finisher.Optimize(ctx, in, out, o.CompressLevel)
	}},
	{name: StageMetadata, enabled: func(o Options) bool { return !o.metadata().Empty() }, run: func(ctx context.Context, p *Pipeline, o Options, in, out string) error {
		return p.finisher.SetMetadata(ctx, in, out, o.metadata())
	}},
	{name: StageWatermark, enabled: Options.watermarkEnabled, run: func(ctx context.Context, p *Pipeline, o Options, in, out string) error {
		return p.finisher.ApplyWatermark(ctx, in, out, watermark(o))
	}},
	{name: StagePageNumbers, enabled: func(o Options) bool { return o.PageNumbers }, run: func(ctx context.Context, p *Pipeline, o Options, in, out string) error {
		return p.finisher.NumberPages(ctx, in, out, pageNumbers(o))
	}},
}

// pageRun carries one page through the page stages.
type pageRun struct {
	p       *Pipeline
	opts    Options
	page    *document.Page
	ordinal int

	rasterTried bool
	rasterErr   error

	ocrErr error
	ocrRan bool

	skipped map[string]outcome
}

// raster returns the page image in display orientation, rendering it on first
// use. ok is false when the page cannot be rasterized.
func (r *pageRun) raster(ctx context.Context) (image.Image, bool, error) {
	pg := r.page
	if pg.Raster != nil {
		return pg.Raster, true, nil
	}
	if r.rasterTried {
		return nil, false, nil
	}
	r.rasterTried = true
	out, err := r.p.rasterizer.Rasterize(ctx, raster.Request{
		Path:     pg.SourcePath,
		Index:    pg.OriginIndex,
		Width:    pg.Width,
		Height:   pg.Height,
		Rotation: pg.SourceRotation,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		if errors.Is(err, raster.ErrNoRaster) {
			r.rasterErr = err
			return nil, false, nil
		}
		return nil, false, err
	}
	have := 0
	if out.Oriented {
		have = pg.SourceRotation
	}
	img := out.Image
	if delta := pg.Rotation - have; delta%360 != 0 {
		img = imaging.RotateQuarter(img, delta)
	}
	pg.Raster = img
	pg.DPI = out.DPI
	if pg.DPI <= 0 {
		if w, _ := pg.DisplaySize(); w > 0 {
			pg.DPI = float64(img.Bounds().Dx()) / (w / 72)
		}
	}
	return img, true, nil
}

func (r *pageRun) replace(img image.Image) {
	r.page.Raster = img
	r.page.Replaced = true
}

func runDeskew(ctx context.Context, r *pageRun) (outcome, error) {
	o := r.opts
	if !o.AutoDeskew && o.DeskewAngle == 0 {
		// plain deskew straightens the page by dropping its /Rotate entry
		r.page.Rotation = 0
		if r.page.Raster != nil {
			r.page.Raster = nil
			r.rasterTried = false
		}
		return applied, nil
	}
	img, ok, err := r.raster(ctx)
	if err != nil || !ok {
		return notApplicable, err
	}
	angle := o.DeskewAngle
	if o.AutoDeskew {
		angle = r.p.filters.EstimateSkew(img)
		if math.Abs(angle) < o.DeskewThreshold {
			return applied, nil
		}
		r.p.logger.Debug("Correcting skew.", "page", r.ordinal+1, "angle", angle)
	}
	r.replace(r.p.filters.Rotate(img, angle))
	return applied, nil
}

func filterStage(f func(imaging.Filters, image.Image) image.Image) func(context.Context, *pageRun) (outcome, error) {
	return func(ctx context.Context, r *pageRun) (outcome, error) {
		img, ok, err := r.raster(ctx)
		if err != nil || !ok {
			return notApplicable, err
		}
		r.replace(f(r.p.filters, img))
		return applied, nil
	}
}

// colourStage wraps filters that are meaningless on a binary page: such
// pages are left alone and reported.
func colourStage(f func(imaging.Filters, image.Image) image.Image) func(context.Context, *pageRun) (outcome, error) {
	return func(ctx context.Context, r *pageRun) (outcome, error) {
		img, ok, err := r.raster(ctx)
		if err != nil || !ok {
			return notApplicable, err
		}
		if imaging.IsBinary(img) {
			return skippedBinary, nil
		}
		r.replace(f(r.p.filters, img))
		return applied, nil
	}
}

func runBinarize(ctx context.Context, r *pageRun) (outcome, error) {
	img, ok, err := r.raster(ctx)
	if err != nil || !ok {
		return notApplicable, err
	}
	if imaging.IsBinary(img) {
		return applied, nil
	}
	r.replace(r.p.filters.Binarize(img))
	return applied, nil
}

func runAutocrop(ctx context.Context, r *pageRun) (outcome, error) {
	img, ok, err := r.raster(ctx)
	if err != nil || !ok {
		return notApplicable, err
	}
	cropped, rect, found := r.p.filters.Autocrop(img)
	if !found || rect.Eq(img.Bounds().Sub(img.Bounds().Min)) {
		return applied, nil
	}
	r.replace(cropped)
	return applied, nil
}

func runRemoveBlank(ctx context.Context, r *pageRun) (outcome, error) {
	img, ok, err := r.raster(ctx)
	if err != nil || !ok {
		r.page.Blank = document.BlankNo
		return notApplicable, err
	}
	score := r.p.filters.ScoreBlank(img)
	r.page.BlankScore = score
	if score >= r.opts.BlankThreshold {
		r.page.Blank = document.BlankYes
	} else {
		r.page.Blank = document.BlankNo
	}
	return applied, nil
}

// runOCR never fails the page: errors are kept on the run and reported as a
// warning once every page is done.
func runOCR(ctx context.Context, r *pageRun) (outcome, error) {
	r.ocrRan = true
	img, ok, err := r.raster(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return applied, err
		}
		r.ocrErr = err
		return applied, nil
	}
	if !ok {
		r.ocrErr = fmt.Errorf("page cannot be rasterized: %w", r.rasterErr)
		return applied, nil
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		r.ocrErr = err
		return applied, nil
	}
	b := img.Bounds()
	callCtx, cancel := context.WithTimeout(ctx, r.opts.OCRTimeout)
	defer cancel()
	res, err := r.p.ocr.Recognize(callCtx, ocr.Input{
		ID:        fmt.Sprintf("page-%d", r.ordinal+1),
		Image:     data,
		Format:    ocr.ImageFormatPNG,
		Width:     b.Dx(),
		Height:    b.Dy(),
		DPI:       int(math.Round(r.page.DPI)),
		Languages: ocr.ParseLanguages(r.opts.OCRLang),
	})
	if err != nil {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		r.ocrErr = err
		return applied, nil
	}
	scale := 72 / r.page.DPI
	if r.page.DPI <= 0 {
		scale = 1
	}
	tokens := make([]document.TextToken, 0, len(res.Words))
	for _, w := range res.Words {
		tokens = append(tokens, document.TextToken{
			Text:       w.Text,
			X:          w.Bounds.X * scale,
			Y:          w.Bounds.Y * scale,
			Width:      w.Bounds.Width * scale,
			Height:     w.Bounds.Height * scale,
			Confidence: w.Confidence,
		})
	}
	r.page.Text = tokens
	return applied, nil
}

func runLossy(ctx context.Context, r *pageRun) (outcome, error) {
	img, ok, err := r.raster(ctx)
	if err != nil {
		return applied, err
	}
	if !ok {
		return applied, fmt.Errorf("lossy re-encoding needs a raster: %w", r.rasterErr)
	}
	data, _, err := imaging.ReencodeLossy(img, r.page.DPI, r.opts.LossyDPI, r.opts.LossyQuality)
	if err != nil {
		return applied, err
	}
	r.page.Encoded = data
	r.page.EncodedFormat = "jpg"
	return applied, nil
}

// finish prepares a page for assembly and drops its working image. Rendered
// pages get their display size from the image and lose any /Rotate, since
// the image is already upright.
func (r *pageRun) finish() error {
	pg := r.page
	defer func() { pg.Raster = nil }()
	if !pg.Rendered() {
		return nil
	}
	if pg.Raster != nil && pg.DPI > 0 {
		b := pg.Raster.Bounds()
		pg.Width = float64(b.Dx()) * 72 / pg.DPI
		pg.Height = float64(b.Dy()) * 72 / pg.DPI
	} else {
		pg.Width, pg.Height = pg.DisplaySize()
	}
	pg.Rotation = 0
	pg.Replaced = true
	if pg.Encoded == nil {
		if pg.Raster == nil {
			return fmt.Errorf("rendered page lost its image")
		}
		data, err := imaging.EncodePNG(pg.Raster)
		if err != nil {
			return err
		}
		pg.Encoded = data
		pg.EncodedFormat = "png"
	}
	return nil
}
