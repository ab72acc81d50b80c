// Package imageprep bereitet Bilder für die TFLite-Modelle auf.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Normalization beschreibt die Kanal-Normalisierung nach dem Skalieren auf [0,1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// UnitScale skaliert Pixel nur auf [0,1], wie beim Training des Klassifikators.
var UnitScale = Normalization{Mean: [3]float32{0, 0, 0}, Std: [3]float32{1, 1, 1}}

// CLIPNormalization entspricht der Vorverarbeitung des CLIP-Bildencoders.
var CLIPNormalization = Normalization{
	Mean: [3]float32{0.48145466, 0.4578275, 0.40821073},
	Std:  [3]float32{0.26862954, 0.26130258, 0.27577711},
}

// Decode dekodiert JPEG, PNG, GIF, BMP und WebP.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has zero size")
	}
	return img, nil
}

// Resize skaliert img ohne Rücksicht auf das Seitenverhältnis auf size x size.
func Resize(img image.Image, size int, interp draw.Interpolator) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ResizeCenterCrop skaliert die kürzere Seite auf size und schneidet mittig ein Quadrat aus.
func ResizeCenterCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h < side {
		side = h
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)
	return dst
}

// ToTensor liefert einen float32-Tensor in NHWC-Reihenfolge mit Batchgröße 1.
func ToTensor(img *image.RGBA, norm Normalization) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, h*w*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			base := (y*w + x) * 3
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[i+c]) / 255.0
				out[base+c] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out
}
