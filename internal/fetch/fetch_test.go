package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"imagesearch/internal/crawler"
)

type fakeByteFetcher struct {
	data map[string][]byte
}

func (f *fakeByteFetcher) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	return f.data[fileID], time.Now(), nil
}

func encodeJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestFetchRescalesLongestSide(t *testing.T) {
	data := encodeJPEG(t, 2048, 1024, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	f := New(&fakeByteFetcher{data: map[string][]byte{"img1": data}}, 1024)

	raster, err := f.Fetch(context.Background(), crawler.WorkItem{ExternalID: "img1", Path: "/a/img1.jpg"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if raster.OriginalW != 2048 || raster.OriginalH != 1024 {
		t.Errorf("original dims = %dx%d, want 2048x1024", raster.OriginalW, raster.OriginalH)
	}
	b := raster.Image.Bounds()
	if b.Dx() != 1024 || b.Dy() != 512 {
		t.Errorf("resized dims = %dx%d, want 1024x512", b.Dx(), b.Dy())
	}
}

func TestFetchDetectsNearDuplicateInSameFolder(t *testing.T) {
	data := encodeJPEG(t, 256, 256, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	fetcher := New(&fakeByteFetcher{data: map[string][]byte{
		"img1": data,
		"img2": data,
	}}, 1024)

	ctx := context.Background()
	if _, err := fetcher.Fetch(ctx, crawler.WorkItem{ExternalID: "img1", Path: "/folder/img1.jpg"}); err != nil {
		t.Fatalf("Fetch img1: %v", err)
	}
	r2, err := fetcher.Fetch(ctx, crawler.WorkItem{ExternalID: "img2", Path: "/folder/img2.jpg"})
	if err != nil {
		t.Fatalf("Fetch img2: %v", err)
	}
	if r2.NearDuplicateOf != "img1" {
		t.Errorf("NearDuplicateOf = %q, want img1", r2.NearDuplicateOf)
	}
}

func TestFetchDecodeFailureReturnsError(t *testing.T) {
	f := New(&fakeByteFetcher{data: map[string][]byte{"bad": []byte("not an image")}}, 1024)
	if _, err := f.Fetch(context.Background(), crawler.WorkItem{ExternalID: "bad", Path: "/a/bad.jpg"}); err == nil {
		t.Fatal("expected decode error")
	}
}
