// Package imaging implements the per-page raster filters used by the
// processing pipeline.
package imaging

import (
	"image"
	"sort"
)

// Filters is the image filter capability the pipeline depends on.
type Filters interface {
	EstimateSkew(img image.Image) float64
	Rotate(img image.Image, degrees float64) image.Image
	Denoise(img image.Image) image.Image
	Despeckle(img image.Image) image.Image
	Enhance(img image.Image) image.Image
	Sharpen(img image.Image) image.Image
	Binarize(img image.Image) image.Image
	Autocrop(img image.Image) (image.Image, image.Rectangle, bool)
	ScoreBlank(img image.Image) float64
}

const (
	contrastFactor   = 1.5
	brightnessFactor = 1.1
	sharpnessFactor  = 1.3
	denoiseDelta     = 20
	cropMargin       = 10
	// pixels darker than this count as content when cropping
	cropContentLevel = 225
	// pixels brighter than this count as white when scoring blank pages
	blankWhiteLevel = 250
)

var (
	smoothKernel  = [9]float64{1, 1, 1, 1, 5, 1, 1, 1, 1}
	sharpenKernel = [9]float64{-2, -2, -2, -2, 32, -2, -2, -2, -2}
)

// Default is the pure-Go filter set.
type Default struct{}

var _ Filters = Default{}

// Denoise applies an edge-preserving sigma filter: each pixel becomes the mean
// of its 3x3 neighbours that lie within denoiseDelta of it.
func (Default) Denoise(img image.Image) image.Image {
	p := planeOf(img)
	out := p.clone()
	ch := p.channels()
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			o := p.offset(x, y)
			for c := 0; c < ch; c++ {
				center := int(p.pix[o+c])
				sum, n := 0, 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						v := int(p.pix[p.offset(x+dx, y+dy)+c])
						if d := v - center; d <= denoiseDelta && d >= -denoiseDelta {
							sum += v
							n++
						}
					}
				}
				out.pix[o+c] = uint8((sum + n/2) / n)
			}
		}
	}
	return out.image()
}

// Despeckle is a 3x3 median filter.
func (Default) Despeckle(img image.Image) image.Image {
	p := planeOf(img)
	out := p.clone()
	ch := p.channels()
	var win [9]int
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			o := p.offset(x, y)
			for c := 0; c < ch; c++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						win[n] = int(p.pix[p.offset(x+dx, y+dy)+c])
						n++
					}
				}
				sort.Ints(win[:])
				out.pix[o+c] = uint8(win[4])
			}
		}
	}
	return out.image()
}

// Enhance raises contrast around the mean luminance, then brightness, then
// sharpness.
func (Default) Enhance(img image.Image) image.Image {
	p := planeOf(img)
	var total float64
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			total += float64(p.luma(x, y))
		}
	}
	mean := 0.0
	if n := p.w * p.h; n > 0 {
		mean = total / float64(n)
	}
	ch := p.channels()
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			o := p.offset(x, y)
			for c := 0; c < ch; c++ {
				v := mean + contrastFactor*(float64(p.pix[o+c])-mean)
				p.pix[o+c] = clamp8(v * brightnessFactor)
			}
		}
	}
	smooth := p.convolve3(smoothKernel, 13)
	return p.blend(smooth, sharpnessFactor).image()
}

func (Default) Sharpen(img image.Image) image.Image {
	return planeOf(img).convolve3(sharpenKernel, 16).image()
}

// Binarize thresholds at Otsu's level into pure black and white. Binary input
// is returned unchanged.
func (Default) Binarize(img image.Image) image.Image {
	if IsBinary(img) {
		return img
	}
	g := grayPlaneOf(img)
	t := otsu(g)
	for i, v := range g.pix {
		if int(v) > t {
			g.pix[i] = 255
		} else {
			g.pix[i] = 0
		}
	}
	return g.image()
}

// Autocrop trims white borders, keeping cropMargin pixels around the content.
// It reports false when the image has no content.
func (Default) Autocrop(img image.Image) (image.Image, image.Rectangle, bool) {
	p := planeOf(img)
	minX, minY, maxX, maxY := p.w, p.h, -1, -1
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			if p.luma(x, y) >= cropContentLevel {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return img, image.Rect(0, 0, p.w, p.h), false
	}
	r := image.Rect(minX-cropMargin, minY-cropMargin, maxX+1+cropMargin, maxY+1+cropMargin).
		Intersect(image.Rect(0, 0, p.w, p.h))

	out := &plane{bpp: p.bpp, w: r.Dx(), h: r.Dy(), stride: r.Dx() * p.bpp}
	out.pix = make([]uint8, out.stride*out.h)
	for y := 0; y < out.h; y++ {
		src := p.offset(r.Min.X, r.Min.Y+y)
		copy(out.pix[y*out.stride:(y+1)*out.stride], p.pix[src:src+out.stride])
	}
	return out.image(), r, true
}

// ScoreBlank returns the share of near-white pixels, 1 for an empty image.
func (Default) ScoreBlank(img image.Image) float64 {
	p := grayPlaneOf(img)
	if p.w == 0 || p.h == 0 {
		return 1
	}
	white := 0
	for y := 0; y < p.h; y++ {
		row := p.pix[y*p.stride : y*p.stride+p.w]
		for _, v := range row {
			if v > blankWhiteLevel {
				white++
			}
		}
	}
	return float64(white) / float64(p.w*p.h)
}

// IsBinary reports whether every pixel is pure black or pure white.
func IsBinary(img image.Image) bool {
	switch m := img.(type) {
	case *image.Gray:
		b := m.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := m.PixOffset(b.Min.X, y)
			for _, v := range m.Pix[off : off+b.Dx()] {
				if v != 0 && v != 255 {
					return false
				}
			}
		}
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			r, g, b, _ := c.RGBA()
			if !(r == g && g == b && (r == 0 || r == 0xffff)) {
				return false
			}
		}
		return true
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != g || g != bl || (r != 0 && r != 0xffff) {
				return false
			}
		}
	}
	return true
}

func otsu(g *plane) int {
	var hist [256]int
	for y := 0; y < g.h; y++ {
		for _, v := range g.pix[y*g.stride : y*g.stride+g.w] {
			hist[v]++
		}
	}
	total := g.w * g.h
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var sumB, best float64
	wB := 0
	threshold := 127
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return threshold
}
