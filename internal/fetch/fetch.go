// Package fetch downloads raw bytes for a WorkItem, decodes to a
// normalized RGB raster, deduplicates by perceptual hash, and rescales
// the longest side to the configured maximum (§4.2).
//
// HEIC has no pure-Go decoder in the available dependency set; files with
// that mime type reach Fetch and fail at image.Decode, which the indexer
// logs and drops like any other decode failure.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"imagesearch/internal/crawler"
	"imagesearch/internal/phash"
)

// Raster is a decoded, deduplicated, downscaled image ready for vision
// analysis.
type Raster struct {
	Item            crawler.WorkItem
	Image           image.Image
	RawBytes        []byte // original encoded bytes, for the vision detector
	OriginalW       int
	OriginalH       int
	Phash           uint64
	NearDuplicateOf string // external_id of the near-duplicate match, if any
}

// ByteFetcher is the subset of sourcestore.Client the fetcher needs.
type ByteFetcher interface {
	FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error)
}

// Fetcher downloads and decodes work items, with phash-based near-
// duplicate detection scoped per folder.
type Fetcher struct {
	source     ByteFetcher
	maxPixels  int
	mu         sync.Mutex
	byFolder   map[string][]folderHash // phash + external_id seen per folder
}

type folderHash struct {
	phash      uint64
	externalID string
}

// New builds a Fetcher that rescales the longest side to maxPixels.
func New(source ByteFetcher, maxPixels int) *Fetcher {
	return &Fetcher{source: source, maxPixels: maxPixels, byFolder: make(map[string][]folderHash)}
}

// Fetch downloads and decodes one WorkItem. On decode failure it returns
// an error; the caller (indexer) logs and drops the item per §4.2's
// failure policy rather than aborting the batch.
func (f *Fetcher) Fetch(ctx context.Context, item crawler.WorkItem) (Raster, error) {
	raw, _, err := f.source.FetchBytes(ctx, item.ExternalID)
	if err != nil {
		return Raster{}, fmt.Errorf("fetch bytes for %s: %w", item.ExternalID, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Raster{}, fmt.Errorf("decode image %s: %w", item.ExternalID, err)
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	h := phash.Compute(img)
	dupOf := f.checkNearDuplicate(item, h)

	resized := rescale(img, f.maxPixels)

	return Raster{
		Item: item, Image: resized, RawBytes: raw, OriginalW: origW, OriginalH: origH,
		Phash: h, NearDuplicateOf: dupOf,
	}, nil
}

// checkNearDuplicate records h against the folder's history and returns
// the external_id of a near-duplicate (Hamming distance <= 6) if found.
// Per the preserved design decision, this is a hint only: it never
// suppresses the item.
func (f *Fetcher) checkNearDuplicate(item crawler.WorkItem, h uint64) string {
	folder := folderKey(item)
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.byFolder[folder] {
		if existing.externalID == item.ExternalID {
			continue
		}
		if phash.Hamming(existing.phash, h) <= 6 {
			f.byFolder[folder] = append(f.byFolder[folder], folderHash{phash: h, externalID: item.ExternalID})
			return existing.externalID
		}
	}
	f.byFolder[folder] = append(f.byFolder[folder], folderHash{phash: h, externalID: item.ExternalID})
	return ""
}

func folderKey(item crawler.WorkItem) string {
	// Path minus the file name is the folder scope for near-duplicate
	// comparisons.
	for i := len(item.Path) - 1; i >= 0; i-- {
		if item.Path[i] == '/' {
			return item.Path[:i]
		}
	}
	return ""
}

// rescale resizes img so its longest side is at most maxPixels, preserving
// aspect ratio. Images already within bounds are returned unchanged.
func rescale(img image.Image, maxPixels int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxPixels || maxPixels <= 0 {
		return img
	}

	scale := float64(maxPixels) / float64(longest)
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
