package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// RotateQuarter turns img clockwise by a multiple of 90 degrees, the way a
// PDF /Rotate entry displays a page. Other angles are rounded down to the
// previous quarter turn.
func RotateQuarter(img image.Image, degrees int) image.Image {
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		return img
	}
	p := planeOf(img)
	w, h := p.w, p.h
	out := &plane{bpp: p.bpp}
	if turns == 2 {
		out.w, out.h = w, h
	} else {
		out.w, out.h = h, w
	}
	out.stride = out.w * out.bpp
	out.pix = make([]uint8, out.stride*out.h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch turns {
			case 1:
				dx, dy = h-1-y, x
			case 2:
				dx, dy = w-1-x, h-1-y
			case 3:
				dx, dy = y, w-1-x
			}
			copy(out.pix[out.offset(dx, dy):out.offset(dx, dy)+p.bpp], p.pix[p.offset(x, y):p.offset(x, y)+p.bpp])
		}
	}
	return out.image()
}

// EncodePNG losslessly encodes img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
