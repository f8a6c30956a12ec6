// Package phash implements the classic 8x8 DCT-based perceptual hash: a
// luminance-only fingerprint whose Hamming distance approximates visual
// similarity between two images.
package phash

import (
	"image"
	"math"
	"math/bits"

	"golang.org/x/image/draw"
)

const (
	sampleSize = 32 // downscale target before DCT, standard phash size
	hashSize   = 8  // low-frequency 8x8 block retained from the DCT
)

// Compute returns the 64-bit perceptual hash of img.
func Compute(img image.Image) uint64 {
	gray := toLuminance32(img)
	coeffs := dct2D(gray)

	// Drop the DC term (top-left) from the mean the way most phash
	// implementations do, to avoid flat images dominating the threshold.
	var sum float64
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			sum += coeffs[y][x]
		}
	}
	mean := sum / float64(hashSize*hashSize-1)

	var hash uint64
	bit := uint(63)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if coeffs[y][x] > mean {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// Hamming returns the Hamming distance between two 64-bit hashes.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// toLuminance32 resizes img to sampleSize x sampleSize using a smooth
// filter and returns its luminance channel as a 2D float grid.
func toLuminance32(img image.Image) [][]float64 {
	dst := image.NewRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	grid := make([][]float64, sampleSize)
	for y := 0; y < sampleSize; y++ {
		grid[y] = make([]float64, sampleSize)
		for x := 0; x < sampleSize; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			grid[y][x] = lum
		}
	}
	return grid
}

// dct2D computes the 2D type-II DCT of an NxN grid and returns the
// top-left hashSize x hashSize block of coefficients (the low frequencies).
func dct2D(grid [][]float64) [hashSize][hashSize]float64 {
	n := len(grid)
	rows := make([][]float64, n)
	for y := 0; y < n; y++ {
		rows[y] = dct1D(grid[y])
	}
	var out [hashSize][hashSize]float64
	for x := 0; x < hashSize; x++ {
		col := make([]float64, n)
		for y := 0; y < n; y++ {
			col[y] = rows[y][x]
		}
		colDCT := dct1D(col)
		for y := 0; y < hashSize; y++ {
			out[y][x] = colDCT[y]
		}
	}
	return out
}

// dct1D computes the 1D type-II DCT of v.
func dct1D(v []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += v[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		c := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			c = math.Sqrt(1.0 / float64(n))
		}
		out[k] = sum * c
	}
	return out
}
