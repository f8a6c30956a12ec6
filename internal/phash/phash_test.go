package phash

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestComputeIdenticalImagesMatch(t *testing.T) {
	img := solidImage(64, 64, color.RGBA{R: 200, G: 50, B: 50, A: 255})
	h1 := Compute(img)
	h2 := Compute(img)
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %x vs %x", h1, h2)
	}
}

func TestHammingZeroForSameHash(t *testing.T) {
	img := solidImage(64, 64, color.RGBA{R: 10, G: 10, B: 200, A: 255})
	h := Compute(img)
	if d := Hamming(h, h); d != 0 {
		t.Fatalf("expected distance 0, got %d", d)
	}
}

func TestHammingDiffersForDifferentImages(t *testing.T) {
	a := solidImage(64, 64, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	checker := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				checker.Set(x, y, color.RGBA{R: 0, G: 0, B: 0, A: 255})
			} else {
				checker.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	hA := Compute(a)
	hB := Compute(checker)
	if Hamming(hA, hB) == 0 {
		t.Fatalf("expected differing hashes for solid white vs checkerboard")
	}
}
