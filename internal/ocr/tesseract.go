package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognises text with libtesseract through gosseract.
// Clients are not goroutine-safe, so each worker borrows one from a pool.
type TesseractEngine struct {
	pool *Pool[*gosseract.Client]
}

// NewTesseractEngine returns an engine backed by at most workers clients.
func NewTesseractEngine(workers int) *TesseractEngine {
	return &TesseractEngine{
		pool: NewPool(workers,
			func() (*gosseract.Client, error) { return gosseract.NewClient(), nil },
			func(c *gosseract.Client) { _ = c.Close() },
		),
	}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Languages lists the trained data installed for tesseract.
func (e *TesseractEngine) Languages() ([]string, error) {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("list tesseract languages: %w", err)
	}
	return langs, nil
}

// Close releases the pooled clients.
func (e *TesseractEngine) Close() error {
	e.pool.Close()
	return nil
}

type tesseractOutcome struct {
	res Result
	err error
}

// Recognize runs tesseract on one image. The underlying call cannot be
// interrupted; on cancellation Recognize returns early and the client goes
// back to the pool once tesseract finishes.
func (e *TesseractEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	c, err := e.pool.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	done := make(chan tesseractOutcome, 1)
	go func() {
		res, err := recognizeWithClient(c, in)
		if err != nil {
			e.pool.Discard(c)
		} else {
			e.pool.Put(c)
		}
		done <- tesseractOutcome{res: res, err: err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func recognizeWithClient(c *gosseract.Client, in Input) (Result, error) {
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Result{}, fmt.Errorf("word boxes: %w", err)
	}
	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		words = append(words, Word{
			Text:       w,
			Bounds:     Region{X: float64(b.Box.Min.X), Y: float64(b.Box.Min.Y), Width: float64(b.Box.Dx()), Height: float64(b.Box.Dy())},
			Confidence: b.Confidence / 100.0,
		})
	}
	return Result{InputID: in.ID, PlainText: strings.TrimSpace(text), Words: words}, nil
}
