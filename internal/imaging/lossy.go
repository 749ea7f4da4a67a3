package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ClampQuality bounds a JPEG quality to 1..95.
func ClampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 95 {
		return 95
	}
	return q
}

// ReencodeLossy downsamples img from srcDPI to dpi (never upsamples) and
// encodes it as JPEG. It returns the encoded bytes and the resulting DPI.
func ReencodeLossy(img image.Image, srcDPI float64, dpi, quality int) ([]byte, float64, error) {
	if img == nil {
		return nil, 0, fmt.Errorf("no raster to re-encode")
	}
	if dpi <= 0 {
		return nil, 0, fmt.Errorf("invalid target dpi %d", dpi)
	}
	out := img
	outDPI := srcDPI
	b := img.Bounds()
	if srcDPI > float64(dpi) {
		scale := float64(dpi) / srcDPI
		w := max(1, int(float64(b.Dx())*scale+0.5))
		h := max(1, int(float64(b.Dy())*scale+0.5))
		rect := image.Rect(0, 0, w, h)
		var dst draw.Image
		if isGrayModel(img) {
			dst = image.NewGray(rect)
		} else {
			dst = image.NewRGBA(rect)
		}
		draw.CatmullRom.Scale(dst, rect, img, b, draw.Src, nil)
		out = dst
		outDPI = float64(dpi)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, 0, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), outDPI, nil
}
