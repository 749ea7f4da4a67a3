// Package merge computes the output page order from a set of input documents.
package merge

import (
	"fmt"
	"strings"
)

// Mode selects how inputs are combined.
type Mode int

const (
	Concat Mode = iota
	Interleave
)

func (m Mode) String() string {
	switch m {
	case Concat:
		return "concat"
	case Interleave:
		return "interleave"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "concat" or "interleave", case-insensitively. Empty means concat.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "concat":
		return Concat, nil
	case "interleave":
		return Interleave, nil
	default:
		return Concat, fmt.Errorf("unknown merge mode %q", s)
	}
}

// Ref addresses one page of one input: Input indexes the ordered inputs, Page
// is the zero-based page within that input.
type Ref struct {
	Input int
	Page  int
}

// Streams expands page counts into per-input page index streams, reversed
// where requested.
func Streams(lengths []int, reverse []bool) [][]int {
	out := make([][]int, len(lengths))
	for i, n := range lengths {
		s := make([]int, n)
		for j := range s {
			if i < len(reverse) && reverse[i] {
				s[j] = n - 1 - j
			} else {
				s[j] = j
			}
		}
		out[i] = s
	}
	return out
}

// ConcatRefs lays streams out one after another.
func ConcatRefs(streams [][]int) []Ref {
	var refs []Ref
	for i, s := range streams {
		for _, p := range s {
			refs = append(refs, Ref{Input: i, Page: p})
		}
	}
	return refs
}

// InterleaveRefs takes one page from each stream in turn, skipping streams
// that are already exhausted.
func InterleaveRefs(streams [][]int) []Ref {
	longest := 0
	total := 0
	for _, s := range streams {
		total += len(s)
		if len(s) > longest {
			longest = len(s)
		}
	}
	refs := make([]Ref, 0, total)
	for k := 0; k < longest; k++ {
		for i, s := range streams {
			if k < len(s) {
				refs = append(refs, Ref{Input: i, Page: s[k]})
			}
		}
	}
	return refs
}

// Plan returns the output order for inputs with the given page counts.
func Plan(lengths []int, reverse []bool, mode Mode) []Ref {
	streams := Streams(lengths, reverse)
	if mode == Interleave && len(streams) > 1 {
		return InterleaveRefs(streams)
	}
	return ConcatRefs(streams)
}
