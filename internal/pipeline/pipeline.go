// Package pipeline runs the ordered processing stages over a merged page
// sequence and produces the working artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/scanmerge/internal/assemble"
	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/finishing"
	"github.com/Lllllllleong/scanmerge/internal/imaging"
	"github.com/Lllllllleong/scanmerge/internal/ocr"
	"github.com/Lllllllleong/scanmerge/internal/raster"
)

// Assembler serialises a sequence to a PDF file.
type Assembler interface {
	Write(ctx context.Context, seq *document.Sequence, workDir, outPath string) error
}

// Finisher applies the document-level stages.
type Finisher interface {
	Optimize(ctx context.Context, in, out string, level int) error
	SetMetadata(ctx context.Context, in, out string, m finishing.Metadata) error
	ApplyWatermark(ctx context.Context, in, out string, w finishing.Watermark) error
	NumberPages(ctx context.Context, in, out string, n finishing.PageNumbers) error
}

// Config wires the pipeline's collaborators. Nil fields get the defaults
// noted below; OCR has no default.
type Config struct {
	// Rasterizer defaults to embedded scan extraction falling back to MuPDF
	// rendering at Options.RasterDPI.
	Rasterizer raster.Rasterizer
	// Filters defaults to imaging.Default.
	Filters   imaging.Filters
	OCR       ocr.Engine
	Assembler Assembler
	Finisher  Finisher
	Logger    *slog.Logger
}

// Pipeline is safe for sequential reuse; one Run at a time per sequence.
type Pipeline struct {
	rasterizer raster.Rasterizer
	filters    imaging.Filters
	ocr        ocr.Engine
	assembler  Assembler
	finisher   Finisher
	logger     *slog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	Sequence *document.Sequence
	// Artifact is the path of the finished working file inside the workspace.
	Artifact string
	Warnings []errs.Warning
}

// New builds a pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		rasterizer: cfg.Rasterizer,
		filters:    cfg.Filters,
		ocr:        cfg.OCR,
		assembler:  cfg.Assembler,
		finisher:   cfg.Finisher,
		logger:     cfg.Logger,
	}
	if p.filters == nil {
		p.filters = imaging.Default{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.assembler == nil {
		p.assembler = &assemble.Writer{Logger: p.logger}
	}
	if p.finisher == nil {
		p.finisher = &finishing.Finisher{Logger: p.logger}
	}
	return p
}

// Run validates opts, applies every enabled stage to seq in declared order
// and writes the artifact into workDir. Page stages run concurrently across
// pages; the sequence order is never changed, only blank pages are removed.
func (p *Pipeline) Run(ctx context.Context, seq *document.Sequence, opts Options, workDir string) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if opts.OCR && p.ocr == nil {
		return nil, errs.OCRUnavailable("no OCR engine configured", nil)
	}
	if seq.Len() == 0 {
		return nil, errs.EmptyResult("nothing to process")
	}
	logCtx := p.logger.With("pageCount", seq.Len(), "stages", strings.Join(EnabledStages(opts), ","))
	logCtx.Info("Starting processing pipeline.")

	rasterizer := p.rasterizer
	if rasterizer == nil {
		renderer := raster.NewFitzRenderer(opts.RasterDPI)
		defer renderer.Close()
		rasterizer = raster.Chain{raster.NewScanExtractor(), renderer}
	}
	run := *p
	run.rasterizer = rasterizer

	runs, err := run.runPageStages(ctx, seq, opts)
	if err != nil {
		return nil, err
	}

	var warnings []errs.Warning
	if opts.RemoveBlank {
		removed := seq.Filter(func(pg *document.Page) bool { return pg.Blank != document.BlankYes })
		logCtx.Info("Blank pages removed.", "removed", removed, "remaining", seq.Len())
	}
	if seq.Len() == 0 {
		return nil, errs.EmptyResult("every page was blank")
	}

	output := make(map[*document.Page]int, seq.Len())
	for i, pg := range seq.Pages {
		output[pg] = i + 1
	}
	warnings = append(warnings, skipWarnings(runs, output)...)

	if opts.OCR {
		failures := map[int]error{}
		recognised := 0
		for _, r := range runs {
			n, kept := output[r.page]
			if !kept || !r.ocrRan {
				continue
			}
			if r.ocrErr != nil {
				failures[n] = r.ocrErr
				continue
			}
			recognised++
		}
		if len(failures) > 0 {
			if recognised == 0 && opts.onlyOCR() {
				return nil, errs.OCRUnavailable(fmt.Sprintf("text recognition failed on all %d page(s)", len(failures)), firstError(failures))
			}
			w := errs.PartialOCR(failures)
			logCtx.Warn("Text recognition failed on some pages.", "pages", w.Pages)
			warnings = append(warnings, w)
		}
	}

	artifact := filepath.Join(workDir, "assembled.pdf")
	if err := run.assembler.Write(ctx, seq, workDir, artifact); err != nil {
		return nil, stageError(ctx, StageAssemble, 0, err)
	}

	for i, st := range docStages {
		if !st.enabled(opts) {
			continue
		}
		next := filepath.Join(workDir, fmt.Sprintf("%02d-%s.pdf", i+1, st.name))
		if err := st.run(ctx, &run, opts, artifact, next); err != nil {
			return nil, stageError(ctx, st.name, 0, err)
		}
		_ = os.Remove(artifact)
		artifact = next
	}

	logCtx.Info("Processing pipeline finished.", "outputPages", seq.Len(), "warnings", len(warnings))
	return &Result{Sequence: seq, Artifact: artifact, Warnings: warnings}, nil
}

func (p *Pipeline) runPageStages(ctx context.Context, seq *document.Sequence, opts Options) ([]*pageRun, error) {
	var active []pageStage
	for _, st := range pageStages {
		if st.enabled(opts) {
			active = append(active, st)
		}
	}
	runs := make([]*pageRun, seq.Len())
	for i, pg := range seq.Pages {
		runs[i] = &pageRun{p: p, opts: opts, page: pg, ordinal: i}
	}
	if len(active) == 0 {
		return runs, nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Workers)
	for _, r := range runs {
		eg.Go(func() error {
			return r.process(gctx, active)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// process runs the active stages on one page, then releases its image.
func (r *pageRun) process(ctx context.Context, active []pageStage) error {
	r.skipped = map[string]outcome{}
	for _, st := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.page.Blank == document.BlankYes {
			break
		}
		out, err := st.run(ctx, r)
		if err != nil {
			return stageError(ctx, st.name, r.ordinal+1, err)
		}
		if out != applied {
			r.skipped[st.name] = out
		}
	}
	if r.page.Blank == document.BlankYes {
		r.page.Raster = nil
		return nil
	}
	if err := r.finish(); err != nil {
		return stageError(ctx, StageAssemble, r.ordinal+1, err)
	}
	return nil
}

func stageError(ctx context.Context, stage string, page int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.StageFailed(stage, page, err)
}

// skipWarnings reports, per stage in declared order, the output pages a stage
// left untouched.
func skipWarnings(runs []*pageRun, output map[*document.Page]int) []errs.Warning {
	var out []errs.Warning
	for _, st := range pageStages {
		byReason := map[outcome][]int{}
		for _, r := range runs {
			n, kept := output[r.page]
			if !kept {
				continue
			}
			if why, ok := r.skipped[st.name]; ok {
				byReason[why] = append(byReason[why], n)
			}
		}
		if pages := byReason[skippedBinary]; len(pages) > 0 {
			out = append(out, errs.StageSkipped(st.name, pages, "page is already black and white"))
		}
		if pages := byReason[notApplicable]; len(pages) > 0 {
			out = append(out, errs.StageSkipped(st.name, pages, "page has no raster content"))
		}
	}
	return out
}

func firstError(m map[int]error) error {
	first := 0
	for n := range m {
		if first == 0 || n < first {
			first = n
		}
	}
	return m[first]
}

// EnabledStages lists the stages opts turns on, in execution order. assemble
// always runs.
func EnabledStages(opts Options) []string {
	var names []string
	for _, st := range pageStages {
		if st.enabled(opts) {
			names = append(names, st.name)
		}
	}
	names = append(names, StageAssemble)
	for _, st := range docStages {
		if st.enabled(opts) {
			names = append(names, st.name)
		}
	}
	return names
}

func watermark(o Options) finishing.Watermark {
	return finishing.Watermark{
		Text:      o.Watermark,
		ImagePath: o.WatermarkImage,
		Opacity:   o.WatermarkOpacity,
		Size:      o.WatermarkSize,
		Rotation:  o.WatermarkRotation,
	}
}

func pageNumbers(o Options) finishing.PageNumbers {
	return finishing.PageNumbers{Position: o.PageNumberPosition, Size: o.PageNumberSize, Margin: o.PageNumberMargin}
}
