package indexer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"imagesearch/internal/crawler"
	"imagesearch/internal/db"
	"imagesearch/internal/fetch"
	"imagesearch/internal/progress"
	"imagesearch/internal/sourcestore"
	"imagesearch/internal/store"
	"imagesearch/internal/vision"
)

type fakeLister struct {
	entries []sourcestore.Entry
}

func (f *fakeLister) ListFolder(ctx context.Context, folderID string) ([]sourcestore.Entry, error) {
	if folderID != "root" {
		return nil, nil
	}
	return f.entries, nil
}

type fakeByteFetcher struct {
	data map[string][]byte
}

func (f *fakeByteFetcher) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	return f.data[fileID], time.Now(), nil
}

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, imageBytes []byte) ([]vision.DetectedBox, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func encodeJPEGFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

func TestRunIndexesOneFileEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	st, err := store.Open(sdb)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	jpegBytes := encodeJPEGFixture(t)
	lister := &fakeLister{entries: []sourcestore.Entry{
		{FileID: "f1", Path: "/kitchen/a.jpg", Name: "a.jpg", Mime: "image/jpeg"},
	}}
	bf := &fakeByteFetcher{data: map[string][]byte{"f1": jpegBytes}}

	c := crawler.New(lister, func(string) (crawler.KnownImage, bool) { return crawler.KnownImage{}, false }, false)
	f := fetch.New(bf, 1024)
	a := vision.NewAnalyzer(fakeDetector{})
	tracker := progress.New(sdb)

	ix := New(c, f, a, fakeEmbedder{}, st, tracker)
	if err := ix.Run(context.Background(), "root", 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var count int
	if err := sdb.QueryRow("SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		t.Fatalf("count images: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 indexed image, got %d", count)
	}

	snap := tracker.Snapshot()
	if snap.ProcessedCount != 1 {
		t.Errorf("processed count = %d, want 1", snap.ProcessedCount)
	}
}

func TestRunWithNoFilesProcessesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	st, err := store.Open(sdb)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	lister := &fakeLister{}
	bf := &fakeByteFetcher{data: map[string][]byte{}}
	c := crawler.New(lister, func(string) (crawler.KnownImage, bool) { return crawler.KnownImage{}, false }, false)
	f := fetch.New(bf, 1024)
	a := vision.NewAnalyzer(fakeDetector{})
	tracker := progress.New(sdb)

	ix := New(c, f, a, fakeEmbedder{}, st, tracker)
	if err := ix.Run(context.Background(), "root", 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var count int
	if err := sdb.QueryRow("SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		t.Fatalf("count images: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 indexed images, got %d", count)
	}
}
