package raster

import (
	"bytes"
	"math"
	"strconv"
)

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// times returns m × n.
func (m matrix) times(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// extent is the size in points of the unit square mapped through m.
func (m matrix) extent() (float64, float64) {
	xs := [4]float64{m[4], m[0] + m[4], m[2] + m[4], m[0] + m[2] + m[4]}
	ys := [4]float64{m[5], m[1] + m[5], m[3] + m[5], m[1] + m[3] + m[5]}
	return spread(xs), spread(ys)
}

func spread(v [4]float64) float64 {
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return hi - lo
}

// placement is the largest extent an XObject is drawn at on a page.
type placement struct {
	Width, Height float64
}

// placements walks a page content stream and records, per XObject resource
// name, the size it is painted at. Only the page's own stream is followed;
// XObjects painted inside form XObjects are not seen.
func placements(content []byte) map[string]placement {
	out := map[string]placement{}
	ctm := identity
	var stack []matrix
	var operands []string

	for s := (scanner{buf: content}); ; {
		tok, ok := s.next()
		if !ok {
			break
		}
		if isOperand(tok) {
			operands = append(operands, tok)
			continue
		}
		switch tok {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm, stack = stack[n-1], stack[:n-1]
			}
		case "cm":
			if m, ok := lastMatrix(operands); ok {
				ctm = m.times(ctm)
			}
		case "Do":
			if n := len(operands); n > 0 && operands[n-1][0] == '/' {
				name := operands[n-1][1:]
				w, h := ctm.extent()
				if p := out[name]; w*h > p.Width*p.Height {
					out[name] = placement{Width: w, Height: h}
				}
			}
		case "ID":
			s.skipInlineImage()
		}
		operands = operands[:0]
	}
	return out
}

func lastMatrix(operands []string) (matrix, bool) {
	if len(operands) < 6 {
		return matrix{}, false
	}
	var m matrix
	for i, tok := range operands[len(operands)-6:] {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return matrix{}, false
		}
		m[i] = v
	}
	return m, true
}

func isOperand(tok string) bool {
	switch tok[0] {
	case '/', '(', '<', '[', ']', '>':
		return true
	}
	switch tok {
	case "true", "false", "null":
		return true
	}
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// scanner splits a content stream into tokens. Strings, hex strings and
// dictionaries come back as single opaque tokens.
type scanner struct {
	buf []byte
	pos int
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *scanner) next() (string, bool) {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.buf) && s.buf[s.pos] != '\n' && s.buf[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.skipString()
			return "(", true
		case c == '<' && s.peek(1) == '<', c == '>' && s.peek(1) == '>':
			s.pos += 2
			return "<", true
		case c == '<':
			if i := bytes.IndexByte(s.buf[s.pos:], '>'); i >= 0 {
				s.pos += i + 1
			} else {
				s.pos = len(s.buf)
			}
			return "<", true
		case c == '[' || c == ']' || c == '{' || c == '}' || c == ')' || c == '>':
			s.pos++
			return "[", true
		default:
			start := s.pos
			s.pos++
			for s.pos < len(s.buf) && !isSpace(s.buf[s.pos]) && !isDelim(s.buf[s.pos]) {
				s.pos++
			}
			return string(s.buf[start:s.pos]), true
		}
	}
	return "", false
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.buf) {
		return s.buf[s.pos+off]
	}
	return 0
}

func (s *scanner) skipString() {
	depth := 0
	for ; s.pos < len(s.buf); s.pos++ {
		switch s.buf[s.pos] {
		case '\\':
			s.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				s.pos++
				return
			}
		}
	}
}

// skipInlineImage moves past the binary data following ID up to its EI.
func (s *scanner) skipInlineImage() {
	for i := s.pos + 1; i+1 < len(s.buf); i++ {
		if s.buf[i] == 'E' && s.buf[i+1] == 'I' && isSpace(s.buf[i-1]) && (i+2 == len(s.buf) || isSpace(s.buf[i+2])) {
			s.pos = i + 2
			return
		}
	}
	s.pos = len(s.buf)
}
