package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"imagesearch/internal/db"
	"imagesearch/internal/query"
)

type fakeVectorSearcher struct {
	results []sqlitevec.SearchResult
}

func (f *fakeVectorSearcher) VectorSearch(queryVector []float64, topK int, room string) ([]sqlitevec.SearchResult, error) {
	return f.results, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestRetrieveFiltersByPredicateAndOrdersByScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	insert := `INSERT INTO images (id, external_id, file_name, folder_path, room) VALUES (?, ?, ?, ?, ?)`
	if _, err := sdb.Exec(insert, "img1", "ext1", "a.jpg", "/kitchen", "kitchen"); err != nil {
		t.Fatalf("seed img1: %v", err)
	}
	if _, err := sdb.Exec(insert, "img2", "ext2", "b.jpg", "/kitchen", "kitchen"); err != nil {
		t.Fatalf("seed img2: %v", err)
	}
	if _, err := sdb.Exec(insert, "img3", "ext3", "c.jpg", "/bedroom", "bedroom"); err != nil {
		t.Fatalf("seed img3: %v", err)
	}

	vs := &fakeVectorSearcher{results: []sqlitevec.SearchResult{
		{DocumentID: "img2", Score: 0.5},
		{DocumentID: "img1", Score: 0.9},
		{DocumentID: "img3", Score: 0.99}, // wrong room, should be dropped by predicate
	}}

	r := New(sdb, vs, fakeEmbedder{})
	parsed := query.Parsed{Room: "kitchen", NormalizedText: "kitchen"}

	candidates, err := r.Retrieve(context.Background(), parsed, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].ExternalID != "ext1" {
		t.Errorf("top candidate = %q, want ext1 (higher score)", candidates[0].ExternalID)
	}
}

func TestRetrieveTopKZeroReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	r := New(sdb, &fakeVectorSearcher{}, fakeEmbedder{})
	candidates, err := r.Retrieve(context.Background(), query.Parsed{}, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if candidates != nil {
		t.Errorf("expected nil candidates for topK=0, got %+v", candidates)
	}
}
