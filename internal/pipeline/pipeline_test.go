package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/finishing"
	"github.com/Lllllllleong/scanmerge/internal/imaging"
	"github.com/Lllllllleong/scanmerge/internal/ocr"
	"github.com/Lllllllleong/scanmerge/internal/raster"
)

// fakeRasterizer serves gray pages keyed by zero-based origin index. Pages in
// blank are pure white, pages in binary pure black and white, pages in
// missing have no raster.
type fakeRasterizer struct {
	blank   map[int]bool
	binary  map[int]bool
	missing map[int]bool
	fail    error
	calls   atomic.Int32
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, req raster.Request) (raster.Raster, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return raster.Raster{}, f.fail
	}
	if f.missing[req.Index] {
		return raster.Raster{}, raster.ErrNoRaster
	}
	g := image.NewGray(image.Rect(0, 0, 60, 80))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	if !f.blank[req.Index] {
		ink := color.Gray{Y: 90}
		if f.binary[req.Index] {
			ink = color.Gray{Y: 0}
		}
		for y := 20; y < 40; y++ {
			for x := 10; x < 50; x++ {
				g.SetGray(x, y, ink)
			}
		}
	}
	return raster.Raster{Image: g, DPI: 72}, nil
}

type fakeAssembler struct {
	called  bool
	origins []int
	texts   map[int]int
}

func (f *fakeAssembler) Write(ctx context.Context, seq *document.Sequence, workDir, outPath string) error {
	f.called = true
	f.texts = map[int]int{}
	for _, p := range seq.Pages {
		f.origins = append(f.origins, p.OriginIndex)
		f.texts[p.OriginIndex] = len(p.Text)
	}
	return os.WriteFile(outPath, []byte("%PDF-1.7"), 0o644)
}

type fakeFinisher struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakeFinisher) step(name, in, out string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.fail == name {
		return fmt.Errorf("%s exploded", name)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func (f *fakeFinisher) Optimize(ctx context.Context, in, out string, level int) error {
	return f.step(StageOptimize, in, out)
}
func (f *fakeFinisher) SetMetadata(ctx context.Context, in, out string, m finishing.Metadata) error {
	return f.step(StageMetadata, in, out)
}
func (f *fakeFinisher) ApplyWatermark(ctx context.Context, in, out string, w finishing.Watermark) error {
	return f.step(StageWatermark, in, out)
}
func (f *fakeFinisher) NumberPages(ctx context.Context, in, out string, n finishing.PageNumbers) error {
	return f.step(StagePageNumbers, in, out)
}

type fakeOCR struct {
	failIDs map[string]bool
}

func (f *fakeOCR) Name() string { return "fake" }
func (f *fakeOCR) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if f.failIDs[in.ID] || f.failIDs["*"] {
		return ocr.Result{}, errors.New("engine crashed")
	}
	return ocr.Result{InputID: in.ID, PlainText: "texto", Words: []ocr.Word{{Text: "texto", Bounds: ocr.Region{X: 10, Y: 20, Width: 40, Height: 20}}}}, nil
}

func sequence(n int) *document.Sequence {
	seq := &document.Sequence{}
	for i := 0; i < n; i++ {
		seq.Pages = append(seq.Pages, &document.Page{OriginDocumentID: "doc", OriginIndex: i, SourcePath: "scan.pdf", Width: 60, Height: 80})
	}
	return seq
}

type harness struct {
	raster    *fakeRasterizer
	assembler *fakeAssembler
	finisher  *fakeFinisher
	ocr       *fakeOCR
}

func newHarness() *harness {
	return &harness{
		raster:    &fakeRasterizer{},
		assembler: &fakeAssembler{},
		finisher:  &fakeFinisher{},
		ocr:       &fakeOCR{},
	}
}

func (h *harness) pipeline() *Pipeline {
	return New(Config{Rasterizer: h.raster, OCR: h.ocr, Assembler: h.assembler, Finisher: h.finisher})
}

func TestRun_RemovesBlankPagesKeepingOrder(t *testing.T) {
	h := newHarness()
	h.raster.blank = map[int]bool{1: true, 4: true}
	opts := DefaultOptions()
	opts.RemoveBlank = true

	res, err := h.pipeline().Run(context.Background(), sequence(6), opts, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 5}, h.assembler.origins)
	assert.Equal(t, 4, res.Sequence.Len())
	assert.Empty(t, res.Warnings)
	for _, p := range res.Sequence.Pages {
		assert.Equal(t, document.BlankNo, p.Blank)
		assert.Nil(t, p.Raster)
	}
}

func TestRun_LossyOptimizeConflictBeforeAnyStage(t *testing.T) {
	h := newHarness()
	opts := DefaultOptions()
	opts.Lossy = true
	opts.Optimize = true
	opts.Denoise = true

	_, err := h.pipeline().Run(context.Background(), sequence(3), opts, t.TempDir())

	require.ErrorIs(t, err, errs.ErrConfigConflict)
	assert.Zero(t, h.raster.calls.Load())
	assert.False(t, h.assembler.called)
	assert.Empty(t, h.finisher.calls)
}

func TestRun_OneFailingOCRPageIsAWarning(t *testing.T) {
	h := newHarness()
	h.ocr.failIDs = map[string]bool{"page-7": true}
	opts := DefaultOptions()
	opts.OCR = true
	opts.Workers = 4

	res, err := h.pipeline().Run(context.Background(), sequence(10), opts, t.TempDir())

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, errs.WarnPartialOCR, w.Kind)
	assert.Equal(t, []int{7}, w.Pages)
	assert.Contains(t, w.Message, "engine crashed")
	assert.Equal(t, 0, h.assembler.texts[6])
	assert.Equal(t, 1, h.assembler.texts[5])
	assert.Equal(t, 1, h.assembler.texts[7])
}

func TestRun_OCRWarningUsesOutputPageNumbers(t *testing.T) {
	h := newHarness()
	h.raster.blank = map[int]bool{0: true}
	h.ocr.failIDs = map[string]bool{"page-3": true}
	opts := DefaultOptions()
	opts.OCR = true
	opts.RemoveBlank = true

	res, err := h.pipeline().Run(context.Background(), sequence(4), opts, t.TempDir())

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, []int{2}, res.Warnings[0].Pages)
}

func TestRun_OCROnlyAllPagesFailing(t *testing.T) {
	h := newHarness()
	h.ocr.failIDs = map[string]bool{"*": true}
	opts := DefaultOptions()
	opts.OCR = true

	_, err := h.pipeline().Run(context.Background(), sequence(3), opts, t.TempDir())
	require.ErrorIs(t, err, errs.ErrOCRUnavailable)
	assert.False(t, h.assembler.called)

	// with another transform requested the artifact is still produced
	h = newHarness()
	h.ocr.failIDs = map[string]bool{"*": true}
	opts.Denoise = true
	res, err := h.pipeline().Run(context.Background(), sequence(3), opts, t.TempDir())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, []int{1, 2, 3}, res.Warnings[0].Pages)
}

func TestRun_OCRWithoutEngine(t *testing.T) {
	h := newHarness()
	p := New(Config{Rasterizer: h.raster, Assembler: h.assembler, Finisher: h.finisher})
	opts := DefaultOptions()
	opts.OCR = true

	_, err := p.Run(context.Background(), sequence(2), opts, t.TempDir())

	assert.ErrorIs(t, err, errs.ErrOCRUnavailable)
	assert.Zero(t, h.raster.calls.Load())
}

func TestRun_BinarizeIsIdempotentOnBinaryPages(t *testing.T) {
	h := newHarness()
	h.raster.binary = map[int]bool{0: true}
	opts := DefaultOptions()
	opts.Binarize = true

	res, err := h.pipeline().Run(context.Background(), sequence(2), opts, t.TempDir())

	require.NoError(t, err)
	assert.False(t, res.Sequence.Pages[0].Rendered(), "binary page must pass through untouched")
	assert.True(t, res.Sequence.Pages[1].Rendered())
	assert.Equal(t, "png", res.Sequence.Pages[1].EncodedFormat)
}

func TestRun_EnhanceSkipsBinaryPagesWithWarning(t *testing.T) {
	h := newHarness()
	h.raster.binary = map[int]bool{1: true}
	opts := DefaultOptions()
	opts.Enhance = true
	opts.Sharpen = true

	res, err := h.pipeline().Run(context.Background(), sequence(3), opts, t.TempDir())

	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, errs.WarnStageSkipped, res.Warnings[0].Kind)
	assert.Equal(t, StageEnhance, res.Warnings[0].Stage)
	assert.Equal(t, []int{2}, res.Warnings[0].Pages)
	assert.Equal(t, StageSharpen, res.Warnings[1].Stage)
	assert.False(t, res.Sequence.Pages[1].Rendered())
}

func TestRun_PagesWithoutRasterAreSkipped(t *testing.T) {
	h := newHarness()
	h.raster.missing = map[int]bool{0: true}
	opts := DefaultOptions()
	opts.Denoise = true

	res, err := h.pipeline().Run(context.Background(), sequence(2), opts, t.TempDir())

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, StageDenoise, res.Warnings[0].Stage)
	assert.Equal(t, []int{1}, res.Warnings[0].Pages)
}

func TestRun_LossyWithoutRasterIsFatal(t *testing.T) {
	h := newHarness()
	h.raster.missing = map[int]bool{1: true}
	opts := DefaultOptions()
	opts.Lossy = true

	_, err := h.pipeline().Run(context.Background(), sequence(3), opts, t.TempDir())

	require.ErrorIs(t, err, errs.ErrStage)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StageLossy, e.Stage)
	assert.Equal(t, 2, e.Page)
	assert.False(t, h.assembler.called)
}

func TestRun_LossyEncodesJPEG(t *testing.T) {
	h := newHarness()
	opts := DefaultOptions()
	opts.Lossy = true

	res, err := h.pipeline().Run(context.Background(), sequence(2), opts, t.TempDir())

	require.NoError(t, err)
	for _, p := range res.Sequence.Pages {
		assert.Equal(t, "jpg", p.EncodedFormat)
		assert.Equal(t, []byte{0xFF, 0xD8}, p.Encoded[:2])
	}
}

func TestRun_RasterFailureIsFatalWithStage(t *testing.T) {
	h := newHarness()
	h.raster.fail = errors.New("disk on fire")
	opts := DefaultOptions()
	opts.AutoDeskew = true

	_, err := h.pipeline().Run(context.Background(), sequence(1), opts, t.TempDir())

	require.ErrorIs(t, err, errs.ErrStage)
	assert.Contains(t, err.Error(), "stage deskew")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestRun_PlainDeskewClearsRotation(t *testing.T) {
	h := newHarness()
	seq := sequence(2)
	seq.Pages[0].Rotation, seq.Pages[0].SourceRotation = 90, 90
	opts := DefaultOptions()
	opts.Deskew = true

	res, err := h.pipeline().Run(context.Background(), seq, opts, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0, res.Sequence.Pages[0].Rotation)
	assert.Equal(t, 90, res.Sequence.Pages[0].SourceRotation)
	assert.Zero(t, h.raster.calls.Load())
}

func TestRun_DocumentStagesInDeclaredOrder(t *testing.T) {
	h := newHarness()
	opts := DefaultOptions()
	opts.Optimize = true
	opts.Title = "Acta"
	opts.Watermark = "BORRADOR"
	opts.PageNumbers = true
	dir := t.TempDir()

	res, err := h.pipeline().Run(context.Background(), sequence(2), opts, dir)

	require.NoError(t, err)
	assert.Equal(t, []string{StageOptimize, StageMetadata, StageWatermark, StagePageNumbers}, h.finisher.calls)
	assert.FileExists(t, res.Artifact)
	assert.Contains(t, res.Artifact, StagePageNumbers)
	assert.Equal(t, []string{StageAssemble, StageOptimize, StageMetadata, StageWatermark, StagePageNumbers}, EnabledStages(opts))
}

func TestRun_DocumentStageFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.finisher.fail = StageWatermark
	opts := DefaultOptions()
	opts.Watermark = "X"
	opts.PageNumbers = true

	_, err := h.pipeline().Run(context.Background(), sequence(1), opts, t.TempDir())

	require.ErrorIs(t, err, errs.ErrStage)
	assert.Contains(t, err.Error(), "stage watermark")
	assert.Equal(t, []string{StageWatermark}, h.finisher.calls)
}

func TestRun_AllBlankIsEmptyResult(t *testing.T) {
	h := newHarness()
	h.raster.blank = map[int]bool{0: true, 1: true}
	opts := DefaultOptions()
	opts.RemoveBlank = true

	_, err := h.pipeline().Run(context.Background(), sequence(2), opts, t.TempDir())

	assert.ErrorIs(t, err, errs.ErrEmptyResult)
}

func TestRun_OrderIndependentOfWorkers(t *testing.T) {
	for _, workers := range []int{1, 3, 16} {
		h := newHarness()
		h.raster.blank = map[int]bool{3: true, 8: true}
		opts := DefaultOptions()
		opts.RemoveBlank = true
		opts.Denoise = true
		opts.Workers = workers

		_, err := h.pipeline().Run(context.Background(), sequence(12), opts, t.TempDir())

		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 4, 5, 6, 7, 9, 10, 11}, h.assembler.origins, "workers=%d", workers)
	}
}

func TestOptions_Validate(t *testing.T) {
	o := DefaultOptions()
	assert.NoError(t, o.Validate())

	o.BlankThreshold = 1.5
	assert.ErrorIs(t, o.Validate(), errs.ErrConfigConflict)

	o = DefaultOptions()
	o.PageNumbers = true
	o.PageNumberPosition = "middle"
	assert.ErrorIs(t, o.Validate(), errs.ErrConfigConflict)

	o = DefaultOptions()
	o.Watermark, o.WatermarkImage = "x", "logo.png"
	assert.ErrorIs(t, o.Validate(), errs.ErrConfigConflict)
}

func TestOptions_OnlyOCR(t *testing.T) {
	o := DefaultOptions()
	o.OCR = true
	assert.True(t, o.onlyOCR())
	o.Author = "me"
	assert.False(t, o.onlyOCR())
}

// slightSkew reports a small fixed skew and counts rotations.
type slightSkew struct {
	imaging.Default
	rotations atomic.Int32
}

func (s *slightSkew) EstimateSkew(img image.Image) float64 { return 0.2 }
func (s *slightSkew) Rotate(img image.Image, degrees float64) image.Image {
	s.rotations.Add(1)
	return img
}

func TestRun_AutoDeskewHonoursThreshold(t *testing.T) {
	for name, tc := range map[string]struct {
		threshold float64
		rotations int32
	}{
		"default ignores small skew": {0.5, 0},
		"zero corrects every skew":   {0, 3},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			filters := &slightSkew{}
			p := New(Config{Rasterizer: h.raster, Filters: filters, Assembler: h.assembler, Finisher: h.finisher})
			opts := DefaultOptions()
			opts.AutoDeskew = true
			opts.DeskewThreshold = tc.threshold

			_, err := p.Run(context.Background(), sequence(3), opts, t.TempDir())

			require.NoError(t, err)
			assert.Equal(t, tc.rotations, filters.rotations.Load())
		})
	}
}

func TestOptions_ZeroTunablesKept(t *testing.T) {
	o := DefaultOptions()
	o.DeskewThreshold, o.BlankThreshold, o.PageNumberMargin = 0, 0, 0
	o.LossyDPI, o.Workers = 0, 0

	got := o.withDefaults()

	assert.Zero(t, got.DeskewThreshold)
	assert.Zero(t, got.BlankThreshold)
	assert.Zero(t, got.PageNumberMargin)
	assert.Equal(t, 150, got.LossyDPI)
	assert.Positive(t, got.Workers)
}
