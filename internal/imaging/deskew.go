package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	skewMaxAngle  = 10.0
	skewCoarse    = 0.5
	skewFine      = 0.05
	skewSampleMax = 1000
	skewInkLevel  = 128
)

// EstimateSkew returns the rotation in degrees that straightens the text
// lines of img, found by maximising the row projection profile. It returns 0
// for images without ink.
func (Default) EstimateSkew(img image.Image) float64 {
	g := sampleGray(img)
	b := g.Bounds()
	var xs, ys []float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y < skewInkLevel {
				xs = append(xs, float64(x))
				ys = append(ys, float64(y))
			}
		}
	}
	if len(xs) == 0 {
		return 0
	}
	diag := int(math.Hypot(float64(b.Dx()), float64(b.Dy()))) + 2
	hist := make([]int, 2*diag+1)

	score := func(deg float64) float64 {
		for i := range hist {
			hist[i] = 0
		}
		s, c := math.Sincos(deg * math.Pi / 180)
		for i := range xs {
			r := int(math.Round(-xs[i]*s+ys[i]*c)) + diag
			if r >= 0 && r < len(hist) {
				hist[r]++
			}
		}
		var sq float64
		for _, v := range hist {
			sq += float64(v) * float64(v)
		}
		return sq
	}

	best, bestScore := 0.0, score(0)
	for a := -skewMaxAngle; a <= skewMaxAngle+1e-9; a += skewCoarse {
		if sc := score(a); sc > bestScore {
			best, bestScore = a, sc
		}
	}
	center := best
	for a := center - skewCoarse; a <= center+skewCoarse+1e-9; a += skewFine {
		if sc := score(a); sc > bestScore {
			best, bestScore = a, sc
		}
	}
	return -best
}

// Rotate turns img by degrees about its centre on a canvas of the same size,
// filling uncovered areas with white.
func (Default) Rotate(img image.Image, degrees float64) image.Image {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	var dst draw.Image
	if isGrayModel(img) {
		g := image.NewGray(rect)
		draw.Draw(g, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		dst = g
	} else {
		rgba := image.NewRGBA(rect)
		draw.Draw(rgba, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		dst = rgba
	}
	if degrees == 0 {
		draw.Draw(dst, rect, img, b.Min, draw.Src)
		return dst
	}

	s, c := math.Sincos(degrees * math.Pi / 180)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	ox, oy := float64(rect.Dx())/2, float64(rect.Dy())/2
	// maps source coordinates onto the destination canvas
	m := f64.Aff3{
		c, -s, ox - c*cx + s*cy,
		s, c, oy - s*cx - c*cy,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Over, nil)
	return dst
}

func sampleGray(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > skewSampleMax {
		h = h * skewSampleMax / w
		w = skewSampleMax
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == b.Dx() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
