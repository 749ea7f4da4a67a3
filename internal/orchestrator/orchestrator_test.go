package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/merge"
	"github.com/Lllllllleong/scanmerge/internal/pipeline"
	"github.com/Lllllllleong/scanmerge/internal/testpdf"
)

func widths(t *testing.T, path string) []float64 {
	t.Helper()
	h, err := document.NewPDFSource().Open(context.Background(), path)
	require.NoError(t, err)
	out := make([]float64, len(h.Boxes))
	for i, b := range h.Boxes {
		out[i] = b.Width
	}
	return out
}

func scanned(ws ...float64) []testpdf.Page {
	pages := make([]testpdf.Page, len(ws))
	for i, w := range ws {
		pages[i] = testpdf.Page{W: w, H: 400, Width: 40, Height: 40, Ink: true}
	}
	return pages
}

type failingAssembler struct{}

func (failingAssembler) Write(ctx context.Context, seq *document.Sequence, workDir, outPath string) error {
	if err := os.WriteFile(outPath, []byte("partial"), 0o644); err != nil {
		return err
	}
	return errors.New("disk full")
}

func TestMergeAndProcess_InterleavesReversedEvenPages(t *testing.T) {
	dir := t.TempDir()
	odd := testpdf.Write(t, dir, "odd.pdf", scanned(300, 301, 302)...)
	// the even side came out of the scanner last page first
	even := testpdf.Write(t, dir, "even.pdf", scanned(502, 501, 500)...)
	out := filepath.Join(dir, "out", "merged.pdf")

	res, err := New(nil, nil).MergeAndProcess(context.Background(),
		[]InputSpec{{Path: odd}, {Path: even, Reverse: true}},
		pipeline.DefaultOptions(), out, merge.Interleave)

	require.NoError(t, err)
	assert.Equal(t, out, res.OutputPath)
	assert.Equal(t, 6, res.PageCount)
	assert.Empty(t, res.Warnings)
	got := widths(t, out)
	require.Len(t, got, 6)
	for i, want := range []float64{300, 500, 301, 501, 302, 502} {
		assert.InDelta(t, want, got[i], 0.01, "page %d", i+1)
	}
}

func TestMergeAndProcess_SingleInputRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", scanned(310, 320, 330, 340)...)
	out := filepath.Join(dir, "copy.pdf")

	res, err := New(nil, nil).MergeAndProcess(context.Background(),
		[]InputSpec{{Path: in}}, pipeline.DefaultOptions(), out, merge.Concat)

	require.NoError(t, err)
	assert.Equal(t, 4, res.PageCount)
	assert.Equal(t, widths(t, in), widths(t, out))
}

func TestMergeAndProcess_RemovesBlankScans(t *testing.T) {
	dir := t.TempDir()
	pages := scanned(300, 301, 302, 303, 304)
	pages[1].Ink = false
	pages[4].Ink = false
	in := testpdf.Write(t, dir, "in.pdf", pages...)
	out := filepath.Join(dir, "out.pdf")
	opts := pipeline.DefaultOptions()
	opts.RemoveBlank = true

	res, err := New(nil, nil).MergeAndProcess(context.Background(), []InputSpec{{Path: in}}, opts, out, merge.Concat)

	require.NoError(t, err)
	assert.Equal(t, 3, res.PageCount)
	got := widths(t, out)
	require.Len(t, got, 3)
	assert.InDelta(t, 300, got[0], 0.01)
	assert.InDelta(t, 302, got[1], 0.01)
	assert.InDelta(t, 303, got[2], 0.01)
}

func TestMergeAndProcess_ConflictLeavesPriorOutput(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", scanned(300)...)
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))
	opts := pipeline.DefaultOptions()
	opts.Lossy = true
	opts.Optimize = true

	_, err := New(nil, nil).MergeAndProcess(context.Background(), []InputSpec{{Path: in}}, opts, out, merge.Concat)

	require.ErrorIs(t, err, errs.ErrConfigConflict)
	data, readErr := os.ReadFile(out)
	require.NoError(t, readErr)
	assert.Equal(t, "previous", string(data))
}

func TestMergeAndProcess_UnreadableInput(t *testing.T) {
	dir := t.TempDir()
	good := testpdf.Write(t, dir, "good.pdf", scanned(300)...)
	bad := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf"), 0o644))
	out := filepath.Join(dir, "out.pdf")

	_, err := New(nil, nil).MergeAndProcess(context.Background(),
		[]InputSpec{{Path: good}, {Path: bad}}, pipeline.DefaultOptions(), out, merge.Concat)

	require.ErrorIs(t, err, errs.ErrInvalidInput)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, bad, e.Path)
	assert.NoFileExists(t, out)

	_, err = New(nil, nil).MergeAndProcess(context.Background(),
		[]InputSpec{{Path: filepath.Join(dir, "missing.pdf")}}, pipeline.DefaultOptions(), out, merge.Concat)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.NoFileExists(t, out)
}

func TestMergeAndProcess_StageFailureDiscardsWorkspace(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", scanned(300, 301)...)
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))
	work := t.TempDir()

	o := New(pipeline.New(pipeline.Config{Assembler: failingAssembler{}}), nil)
	o.TempDir = work
	_, err := o.MergeAndProcess(context.Background(), []InputSpec{{Path: in}}, pipeline.DefaultOptions(), out, merge.Concat)

	require.ErrorIs(t, err, errs.ErrStage)
	assert.Contains(t, err.Error(), "disk full")
	data, _ := os.ReadFile(out)
	assert.Equal(t, "previous", string(data))
	entries, readErr := os.ReadDir(work)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestMergeAndProcess_Cancelled(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", scanned(300)...)
	out := filepath.Join(dir, "out.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil, nil).MergeAndProcess(ctx, []InputSpec{{Path: in}}, pipeline.DefaultOptions(), out, merge.Concat)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}

func TestMergeAndProcess_RejectsEmptyRequest(t *testing.T) {
	_, err := New(nil, nil).MergeAndProcess(context.Background(), nil, pipeline.DefaultOptions(), "out.pdf", merge.Concat)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
