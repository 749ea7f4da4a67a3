package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/orchestrator"
	"github.com/Lllllllleong/scanmerge/internal/testpdf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildInputs(t *testing.T) {
	got := buildInputs([]string{"odd.pdf", "even.pdf", "extra.pdf"}, []int{1, 7, -1})
	assert.Equal(t, []orchestrator.InputSpec{
		{Path: "odd.pdf"},
		{Path: "even.pdf", Reverse: true},
		{Path: "extra.pdf"},
	}, got)
}

func TestExplicitKeys(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--ocr-lang", "eng", "--compress-level=3", "-q"}))

	explicit := explicitKeys(cmd.Flags())

	assert.True(t, explicit["ocr_lang"])
	assert.True(t, explicit["compress_level"])
	assert.True(t, explicit["verbose"])
	assert.False(t, explicit["ocr"])
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(errs.InvalidInput("a.pdf", "not a PDF", nil)))
	assert.Equal(t, 3, exitCode(errs.ConfigConflict("lossy and optimize")))
	assert.Equal(t, 4, exitCode(errs.EmptyResult("every page was blank")))
	assert.Equal(t, 5, exitCode(errs.OCRUnavailable("no engine", nil)))
	assert.Equal(t, 6, exitCode(errs.StageFailed("compress", 0, assert.AnError)))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

func TestRun_MergesAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	a := testpdf.Write(t, dir, "a.pdf", testpdf.Letter(2)...)
	b := testpdf.Write(t, dir, "b.pdf", testpdf.Letter(1)...)
	out := filepath.Join(dir, "merged.pdf")
	db := filepath.Join(dir, "history.db")

	stdout, err := execute(t, a, b, "-o", out, "-q", "--history", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+out+" (3 pages)")
	assert.FileExists(t, out)

	stdout, err = execute(t, "history", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "SUCCEEDED")
	assert.Contains(t, stdout, out)
}

func TestRun_ArgumentErrors(t *testing.T) {
	dir := t.TempDir()
	in := testpdf.Write(t, dir, "in.pdf", testpdf.Letter(1)...)

	_, err := execute(t, "-o", filepath.Join(dir, "out.pdf"))
	assert.Error(t, err)

	_, err = execute(t, in)
	assert.Error(t, err)

	_, err = execute(t, in, "-o", filepath.Join(dir, "out.pdf"), "--profile", "fancy")
	assert.Error(t, err)

	_, err = execute(t, in, "-o", filepath.Join(dir, "out.pdf"), "--lossy", "--optimize")
	assert.Equal(t, errs.KindConfigConflict, errs.KindOf(err))
}
