package store

import (
	"context"
	"path/filepath"
	"testing"

	"imagesearch/internal/db"
	"imagesearch/internal/ids"
	"imagesearch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })
	s, err := Open(sdb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func sampleImage(externalID string) (model.Image, []model.Object, []model.RoomScore, model.Caption, []model.Tag) {
	imgID := ids.New()
	objID := ids.New()
	img := model.Image{
		ID: imgID, ExternalID: externalID, FileName: "a.jpg", FolderPath: "/kitchens",
		Width: 1024, Height: 768, Room: "kitchen", RoomConf: 0.9, IndexedAt: 1000,
	}
	objects := []model.Object{{
		ID: objID, ImageID: imgID, Label: "dining_table", LabelConfidence: 0.8,
		ColorName: "black", Material: "marble", MaterialConf: 0.6,
	}}
	rooms := []model.RoomScore{{ImageID: imgID, Room: "kitchen", Score: 0.9}}
	caption := model.Caption{
		ImageID: imgID, CaptionEN: "Kitchen with black marble dining table",
		EmbedEN: []float32{0.1, 0.2, 0.3, 0.4},
	}
	tags := []model.Tag{
		{ImageID: imgID, Tag: "room:kitchen"},
		{ImageID: imgID, Tag: "obj:dining_table"},
		{ImageID: imgID, Tag: "col:black"},
		{ImageID: imgID, Tag: "mat:marble"},
	}
	return img, objects, rooms, caption, tags
}

func TestUpsertImageAndVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	img, objects, rooms, caption, tags := sampleImage("ext-1")
	if err := s.UpsertImage(ctx, img, objects, rooms, caption, tags); err != nil {
		t.Fatalf("UpsertImage: %v", err)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM images WHERE external_id = ?`, "ext-1").Scan(&count); err != nil {
		t.Fatalf("query images: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 image row, got %d", count)
	}

	results, err := s.VectorSearch([]float64{0.1, 0.2, 0.3, 0.4}, 5, "")
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 vector result, got %d", len(results))
	}
}

func TestUpsertImageIsIdempotentByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	img, objects, rooms, caption, tags := sampleImage("ext-2")
	if err := s.UpsertImage(ctx, img, objects, rooms, caption, tags); err != nil {
		t.Fatalf("first UpsertImage: %v", err)
	}

	// Re-index the same external_id with a fresh internal id: must overwrite,
	// not duplicate.
	img2, objects2, rooms2, caption2, tags2 := sampleImage("ext-2")
	if err := s.UpsertImage(ctx, img2, objects2, rooms2, caption2, tags2); err != nil {
		t.Fatalf("second UpsertImage: %v", err)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM images WHERE external_id = ?`, "ext-2").Scan(&count); err != nil {
		t.Fatalf("query images: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected re-indexing to overwrite, got %d image rows", count)
	}

	var objCount int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&objCount); err != nil {
		t.Fatalf("query objects: %v", err)
	}
	if objCount != 1 {
		t.Fatalf("expected old children replaced, got %d object rows", objCount)
	}
}
