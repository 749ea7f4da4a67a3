// Package errs defines the failure taxonomy shared by the merge engine, the
// processing pipeline and the orchestrator.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell "no file produced" apart
// from "file produced with degraded output".
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindEmptyResult    Kind = "empty_result"
	KindConfigConflict Kind = "configuration_conflict"
	KindStage          Kind = "pipeline_stage"
	KindOCRUnavailable Kind = "ocr_unavailable"
)

// Sentinels for errors.Is. Matching is done on Kind only.
var (
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrEmptyResult    = &Error{Kind: KindEmptyResult}
	ErrConfigConflict = &Error{Kind: KindConfigConflict}
	ErrStage          = &Error{Kind: KindStage}
	ErrOCRUnavailable = &Error{Kind: KindOCRUnavailable}
)

// Error is a fatal failure. Path names the offending input file, Stage the
// pipeline stage, Page the 1-based output page when one page caused it.
type Error struct {
	Kind    Kind
	Path    string
	Stage   string
	Page    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Stage != "" {
		fmt.Fprintf(&b, " stage %s", e.Stage)
	}
	if e.Page > 0 {
		fmt.Fprintf(&b, " page %d", e.Page)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// InvalidInput reports an unreadable, missing or empty source.
func InvalidInput(path, message string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Path: path, Message: message, Err: err}
}

// EmptyResult reports a merge that produced no pages.
func EmptyResult(message string) *Error {
	return &Error{Kind: KindEmptyResult, Message: message}
}

// ConfigConflict reports mutually exclusive or out-of-range options.
func ConfigConflict(message string) *Error {
	return &Error{Kind: KindConfigConflict, Message: message}
}

// StageFailed reports a fatal stage failure. page is 1-based, zero when the
// failure is not tied to a single page.
func StageFailed(stage string, page int, err error) *Error {
	return &Error{Kind: KindStage, Stage: stage, Page: page, Err: err}
}

// OCRUnavailable reports that OCR was requested but could not be applied to
// any page of the document.
func OCRUnavailable(message string, err error) *Error {
	return &Error{Kind: KindOCRUnavailable, Stage: "ocr", Message: message, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not part of the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
