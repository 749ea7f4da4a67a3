// Package ocr defines the text recognition capability and its engines.
package ocr

import (
	"context"
	"strings"
)

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
)

// Region is a rectangle in pixel coordinates with the origin in the upper-left
// corner of the image.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is a single page image submitted for recognition.
type Input struct {
	// ID is echoed back in the Result.
	ID     string
	Image  []byte
	Format ImageFormat
	// Width and Height are the pixel dimensions of Image.
	Width  int
	Height int
	// DPI is the effective resolution of Image, zero when unknown.
	DPI       int
	Languages []string
}

// Word is one recognised token.
type Word struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// Result is the recognition output for one Input.
type Result struct {
	InputID   string
	PlainText string
	Words     []Word
}

// Engine is the OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// LanguageLister is implemented by engines that can report installed
// language data.
type LanguageLister interface {
	Languages() ([]string, error)
}

// ParseLanguages splits a language list such as "spa+eng" or "spa,eng".
func ParseLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
