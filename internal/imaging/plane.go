package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// plane is a zero-origin copy of an image as either 8-bit gray (bpp 1) or
// RGBA (bpp 4), which every filter in this package works on.
type plane struct {
	pix    []uint8
	stride int
	bpp    int
	w, h   int
}

func planeOf(img image.Image) *plane {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	if isGrayModel(img) {
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, img, b.Min, draw.Src)
		return &plane{pix: dst.Pix, stride: dst.Stride, bpp: 1, w: rect.Dx(), h: rect.Dy()}
	}
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, img, b.Min, draw.Src)
	return &plane{pix: dst.Pix, stride: dst.Stride, bpp: 4, w: rect.Dx(), h: rect.Dy()}
}

func grayPlaneOf(img image.Image) *plane {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	dst := image.NewGray(rect)
	draw.Draw(dst, rect, img, b.Min, draw.Src)
	return &plane{pix: dst.Pix, stride: dst.Stride, bpp: 1, w: rect.Dx(), h: rect.Dy()}
}

func isGrayModel(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return true
	}
	return false
}

func (p *plane) channels() int {
	if p.bpp == 1 {
		return 1
	}
	return 3
}

func (p *plane) clone() *plane {
	c := *p
	c.pix = append([]uint8(nil), p.pix...)
	return &c
}

func (p *plane) offset(x, y int) int {
	return y*p.stride + x*p.bpp
}

func (p *plane) image() image.Image {
	rect := image.Rect(0, 0, p.w, p.h)
	if p.bpp == 1 {
		return &image.Gray{Pix: p.pix, Stride: p.stride, Rect: rect}
	}
	return &image.RGBA{Pix: p.pix, Stride: p.stride, Rect: rect}
}

// luma returns the gray value of pixel (x, y).
func (p *plane) luma(x, y int) uint8 {
	i := p.offset(x, y)
	if p.bpp == 1 {
		return p.pix[i]
	}
	r, g, b := uint32(p.pix[i]), uint32(p.pix[i+1]), uint32(p.pix[i+2])
	return uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// convolve3 applies a 3x3 kernel divided by scale. Border pixels are copied.
func (p *plane) convolve3(k [9]float64, scale float64) *plane {
	out := p.clone()
	ch := p.channels()
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			o := p.offset(x, y)
			for c := 0; c < ch; c++ {
				var sum float64
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sum += k[n] * float64(p.pix[p.offset(x+dx, y+dy)+c])
						n++
					}
				}
				out.pix[o+c] = clamp8(sum / scale)
			}
		}
	}
	return out
}

// blend returns base + factor*(p - base) per channel.
func (p *plane) blend(base *plane, factor float64) *plane {
	out := p.clone()
	ch := p.channels()
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			o := p.offset(x, y)
			for c := 0; c < ch; c++ {
				b := float64(base.pix[o+c])
				out.pix[o+c] = clamp8(b + factor*(float64(p.pix[o+c])-b))
			}
		}
	}
	return out
}
