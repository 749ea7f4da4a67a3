package errs

import (
	"fmt"
	"sort"
	"strings"
)

// WarningKind classifies non-fatal conditions returned with a successful artifact.
type WarningKind string

const (
	WarnPartialOCR   WarningKind = "partial_ocr"
	WarnStageSkipped WarningKind = "stage_skipped"
)

// Warning is a non-fatal condition. Pages are 1-based page numbers of the
// output document.
type Warning struct {
	Kind    WarningKind `json:"kind" firestore:"kind"`
	Stage   string      `json:"stage" firestore:"stage"`
	Pages   []int       `json:"pages,omitempty" firestore:"pages,omitempty"`
	Message string      `json:"message" firestore:"message"`
}

func (w Warning) String() string {
	if len(w.Pages) == 0 {
		return fmt.Sprintf("%s (%s): %s", w.Kind, w.Stage, w.Message)
	}
	pages := make([]string, len(w.Pages))
	for i, p := range w.Pages {
		pages[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (%s) pages %s: %s", w.Kind, w.Stage, strings.Join(pages, ","), w.Message)
}

// PartialOCR builds the warning for pages whose recognition failed. causes is
// keyed by 1-based page number.
func PartialOCR(causes map[int]error) Warning {
	pages := make([]int, 0, len(causes))
	for p := range causes {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	msgs := make([]string, 0, len(pages))
	for _, p := range pages {
		msgs = append(msgs, fmt.Sprintf("page %d: %v", p, causes[p]))
	}
	return Warning{
		Kind:    WarnPartialOCR,
		Stage:   "ocr",
		Pages:   pages,
		Message: fmt.Sprintf("text recognition failed on %d page(s); kept image-only: %s", len(pages), strings.Join(msgs, "; ")),
	}
}

// StageSkipped builds the warning for a stage that was ignored on some pages.
func StageSkipped(stage string, pages []int, reason string) Warning {
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)
	return Warning{Kind: WarnStageSkipped, Stage: stage, Pages: sorted, Message: reason}
}
