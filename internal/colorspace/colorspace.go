// Package colorspace converts RGB pixels to CIELAB and implements the
// k-means clustering and nearest-neighbor palette lookup used by the
// vision analyzer's color pass.
package colorspace

import (
	"image/color"
	"math"

	"imagesearch/internal/vocab"
)

// LAB is a point in CIELAB space.
type LAB struct {
	L, A, B float64
}

// RGBToLAB converts a standard-library color.Color to CIELAB via the
// CIE XYZ intermediate space with the D65 reference white, the textbook
// sRGB->XYZ->LAB pipeline.
func RGBToLAB(c color.Color) LAB {
	r, g, b, _ := c.RGBA()
	rf := srgbToLinear(float64(r) / 65535)
	gf := srgbToLinear(float64(g) / 65535)
	bf := srgbToLinear(float64(b) / 65535)

	x := rf*0.4124564 + gf*0.3575761 + bf*0.1804375
	y := rf*0.2126729 + gf*0.7151522 + bf*0.0721750
	z := rf*0.0193339 + gf*0.1191920 + bf*0.9503041

	const xn, yn, zn = 0.95047, 1.0, 1.08883
	fx := labF(x / xn)
	fy := labF(y / yn)
	fz := labF(z / zn)

	return LAB{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

func srgbToLinear(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

// Dist is the Euclidean distance in LAB space.
func Dist(a, b LAB) float64 {
	dl := a.L - b.L
	da := a.A - b.A
	db := a.B - b.B
	return math.Sqrt(dl*dl + da*da + db*db)
}

// NearestPaletteColor returns the name of the palette color (see
// internal/vocab) nearest to lab, snapping to black/white when L is very
// dark or very light regardless of chroma.
func NearestPaletteColor(lab LAB) string {
	if lab.L < 15 {
		return "black"
	}
	if lab.L > 90 {
		return "white"
	}
	best := ""
	bestDist := math.Inf(1)
	for _, c := range vocab.Colors() {
		d := Dist(lab, LAB{L: c.LAB.L, A: c.LAB.A, B: c.LAB.B})
		if d < bestDist {
			bestDist = d
			best = c.Name
		}
	}
	return best
}

// Cluster is one k-means output cluster: its centroid and the fraction of
// input points assigned to it.
type Cluster struct {
	Centroid LAB
	Share    float64
}

// KMeans runs Lloyd's algorithm with k clusters over points, for up to
// maxIters iterations or until assignments stop changing. points must be
// non-empty; k is clamped to len(points).
func KMeans(points []LAB, k, maxIters int) []Cluster {
	if len(points) == 0 {
		return nil
	}
	if k > len(points) {
		k = len(points)
	}
	if k <= 0 {
		k = 1
	}

	centroids := make([]LAB, k)
	step := len(points) / k
	if step == 0 {
		step = 1
	}
	for i := 0; i < k; i++ {
		idx := (i * step) % len(points)
		centroids[i] = points[idx]
	}

	assign := make([]int, len(points))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := Dist(p, centroid)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([]LAB, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			sums[c].L += p.L
			sums[c].A += p.A
			sums[c].B += p.B
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				centroids[c] = LAB{
					L: sums[c].L / float64(counts[c]),
					A: sums[c].A / float64(counts[c]),
					B: sums[c].B / float64(counts[c]),
				}
			}
		}
		if !changed && iter > 0 {
			break
		}
	}

	counts := make([]int, k)
	for _, a := range assign {
		counts[a]++
	}
	clusters := make([]Cluster, 0, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue
		}
		clusters = append(clusters, Cluster{
			Centroid: centroids[c],
			Share:    float64(counts[c]) / float64(len(points)),
		})
	}
	return clusters
}
