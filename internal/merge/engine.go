package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Lllllllleong/scanmerge/internal/document"
	"github.com/Lllllllleong/scanmerge/internal/errs"
)

// Engine builds a page sequence from ordered inputs. It never touches the
// source files.
type Engine struct {
	Logger *slog.Logger
}

// NewEngine returns an engine logging to slog.Default.
func NewEngine() *Engine {
	return &Engine{Logger: slog.Default()}
}

// Merge validates inputs, orders them by Position (ties keep caller order) and
// returns the sequence described by mode.
func (e *Engine) Merge(ctx context.Context, inputs []document.Input, mode Mode) (*document.Sequence, error) {
	if len(inputs) == 0 {
		return nil, errs.InvalidInput("", "no input documents", nil)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ordered := make([]document.Input, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	lengths := make([]int, len(ordered))
	reverse := make([]bool, len(ordered))
	for i, in := range ordered {
		if in.Source == nil {
			return nil, errs.InvalidInput("", fmt.Sprintf("input at position %d has no source", in.Position), nil)
		}
		if in.Source.PageCount <= 0 {
			return nil, errs.InvalidInput(in.Source.Path, "document has no pages", nil)
		}
		lengths[i] = in.Source.PageCount
		reverse[i] = in.Reverse
		logger.Info("Adding input document.", "path", in.Source.Path, "pageCount", in.Source.PageCount, "reverse", in.Reverse, "position", in.Position)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refs := Plan(lengths, reverse, mode)
	if len(refs) == 0 {
		return nil, errs.EmptyResult("merge produced no pages")
	}

	seq := &document.Sequence{Pages: make([]*document.Page, 0, len(refs))}
	for _, r := range refs {
		src := ordered[r.Input].Source
		box := src.Box(r.Page)
		seq.Pages = append(seq.Pages, &document.Page{
			OriginDocumentID: src.ID,
			OriginIndex:      r.Page,
			SourcePath:       src.Path,
			Width:            box.Width,
			Height:           box.Height,
			Rotation:         box.Rotation,
			SourceRotation:   box.Rotation,
		})
	}
	logger.Info("Merge plan built.", "mode", mode.String(), "inputs", len(ordered), "pageCount", seq.Len())
	return seq, nil
}
