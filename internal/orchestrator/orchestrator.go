// Package orchestrator wires the merge engine into the processing pipeline
// and commits the finished document to its destination.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/merge"
	"github.com/Lllllllleong/scanmerge/internal/pipeline"
)

// InputSpec names one source file and whether it is read back to front.
type InputSpec struct {
	Path    string `json:"path" yaml:"path"`
	Reverse bool   `json:"reverse" yaml:"reverse"`
}

// Result describes a committed output document.
type Result struct {
	OutputPath string         `json:"outputPath"`
	PageCount  int            `json:"pageCount"`
	Warnings   []errs.Warning `json:"warnings,omitempty"`
}

// Orchestrator runs one merge-and-process invocation at a time per call; it
// keeps no state between calls.
type Orchestrator struct {
	Source   document.Source
	Engine   *merge.Engine
	Pipeline *pipeline.Pipeline
	// TempDir is the parent of per-run workspaces, os.TempDir when empty.
	TempDir string
	Logger  *slog.Logger
}

// New returns an orchestrator using the pdfcpu source, a fresh engine and p.
func New(p *pipeline.Pipeline, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Source:   &document.PDFSource{Logger: logger},
		Engine:   &merge.Engine{Logger: logger},
		Pipeline: p,
		Logger:   logger,
	}
}

// MergeAndProcess merges inputs in mode, runs the pipeline with opts and
// replaces outputPath with the result. On any error nothing is written to
// outputPath and an existing file there is left as it was.
func (o *Orchestrator) MergeAndProcess(ctx context.Context, inputs []InputSpec, opts pipeline.Options, outputPath string, mode merge.Mode) (*Result, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logCtx := logger.With("outputPath", outputPath, "mode", mode.String(), "inputCount", len(inputs))

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errs.InvalidInput("", "no input documents", nil)
	}
	if outputPath == "" {
		return nil, errs.InvalidInput("", "no output path", nil)
	}

	handles, err := o.open(ctx, inputs)
	if err != nil {
		return nil, err
	}
	descs := make([]document.Input, len(handles))
	for i, h := range handles {
		descs[i] = document.Input{Source: h, Reverse: inputs[i].Reverse, Position: i}
	}

	engine := o.Engine
	if engine == nil {
		engine = &merge.Engine{Logger: logger}
	}
	seq, err := engine.Merge(ctx, descs, mode)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Merged input documents.", "pageCount", seq.Len())

	workDir, err := os.MkdirTemp(o.TempDir, "scanmerge-"+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	p := o.Pipeline
	if p == nil {
		p = pipeline.New(pipeline.Config{Logger: logger})
	}
	res, err := p.Run(ctx, seq, opts, workDir)
	if err != nil {
		logCtx.Error("Processing failed, no output written.", "error", err)
		return nil, err
	}

	if err := commit(ctx, res.Artifact, outputPath); err != nil {
		return nil, err
	}
	logCtx.Info("Output document written.", "pageCount", res.Sequence.Len(), "warnings", len(res.Warnings))
	return &Result{OutputPath: outputPath, PageCount: res.Sequence.Len(), Warnings: res.Warnings}, nil
}

func (o *Orchestrator) open(ctx context.Context, inputs []InputSpec) ([]*document.Handle, error) {
	src := o.Source
	if src == nil {
		src = document.NewPDFSource()
	}
	handles := make([]*document.Handle, len(inputs))
	for i, in := range inputs {
		if in.Path == "" {
			return nil, errs.InvalidInput("", fmt.Sprintf("input %d has no path", i+1), nil)
		}
		h, err := src.Open(ctx, in.Path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var e *errs.Error
			if errors.As(err, &e) {
				return nil, err
			}
			return nil, errs.InvalidInput(in.Path, "cannot read document", err)
		}
		if h.PageCount == 0 {
			return nil, errs.InvalidInput(in.Path, "document has no pages", nil)
		}
		handles[i] = h
	}
	return handles, nil
}

// commit copies artifact next to dst and renames it into place, so dst is
// either the previous file or the complete new one.
func commit(ctx context.Context, artifact, dst string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary output: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	src, err := os.Open(artifact)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()
	if _, err = io.Copy(tmp, src); err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
