// Package retrieval implements Stage A: build a structured SQL predicate
// from the parsed query, embed the normalized text, and blend both into a
// ranked candidate list (§4.6).
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"imagesearch/internal/query"
)

// Candidate is one retrieval result, ready for Stage B batching.
type Candidate struct {
	ImageID        string
	ExternalID     string
	FileName       string
	FolderPath     string
	Room           string
	Phash          uint64
	RetrievalScore float64
}

// Embedder requests a dense embedding for the normalized query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs the cosine-similarity search over caption
// embeddings, pruned by room partition.
type VectorSearcher interface {
	VectorSearch(queryVector []float64, topK int, room string) ([]sqlitevec.SearchResult, error)
}

// Retriever runs Stage A over the backing store.
type Retriever struct {
	db       *sql.DB
	vector   VectorSearcher
	embedder Embedder
}

// New builds a Retriever.
func New(db *sql.DB, vector VectorSearcher, embedder Embedder) *Retriever {
	return &Retriever{db: db, vector: vector, embedder: embedder}
}

type imageMeta struct {
	externalID string
	fileName   string
	folderPath string
	room       string
	phash      uint64
}

// Retrieve runs the full Stage A pipeline, returning up to topK
// candidates ordered by retrieval_score descending, ties broken by
// external_id ascending (§4.6 contract).
func (r *Retriever) Retrieve(ctx context.Context, parsed query.Parsed, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	eligible, err := r.queryPredicate(ctx, parsed, true)
	if err != nil {
		return nil, fmt.Errorf("query predicate: %w", err)
	}

	if len(eligible) < topK/2 {
		eligible, err = r.queryPredicate(ctx, parsed, false)
		if err != nil {
			return nil, fmt.Errorf("query predicate (relaxed): %w", err)
		}
	}

	vec, err := r.embedder.Embed(ctx, parsed.NormalizedText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vec64 := make([]float64, len(vec))
	for i, f := range vec {
		vec64[i] = float64(f)
	}

	// Search a wider pool than topK so the eligible-set intersection
	// still yields up to topK after filtering.
	searchPool := topK * 4
	if searchPool < topK {
		searchPool = topK
	}
	hits, err := r.vector.VectorSearch(vec64, searchPool, parsed.Room)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates := make([]Candidate, 0, topK)
	for _, h := range hits {
		meta, ok := eligible[h.DocumentID]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			ImageID:        h.DocumentID,
			ExternalID:     meta.externalID,
			FileName:       meta.fileName,
			FolderPath:     meta.folderPath,
			Room:           meta.room,
			Phash:          meta.phash,
			RetrievalScore: h.Score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].RetrievalScore != candidates[j].RetrievalScore {
			return candidates[i].RetrievalScore > candidates[j].RetrievalScore
		}
		return candidates[i].ExternalID < candidates[j].ExternalID
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// queryPredicate builds and runs the structured SQL filter. When
// withObjects is false, only the room filter is applied (the relaxation
// step of §4.6 step 4).
func (r *Retriever) queryPredicate(ctx context.Context, parsed query.Parsed, withObjects bool) (map[string]imageMeta, error) {
	var clauses []string
	var args []any

	if parsed.Room != "" {
		clauses = append(clauses, "images.room = ?")
		args = append(args, parsed.Room)
	}

	if withObjects {
		for _, o := range parsed.Objects {
			clause := "EXISTS (SELECT 1 FROM objects o WHERE o.image_id = images.id AND o.label = ?"
			clauseArgs := []any{o.Label}
			if o.Color != "" {
				clause += " AND o.color_name = ?"
				clauseArgs = append(clauseArgs, o.Color)
			}
			if o.Material != "" {
				clause += " AND o.material = ?"
				clauseArgs = append(clauseArgs, o.Material)
			}
			clause += ")"
			clauses = append(clauses, clause)
			args = append(args, clauseArgs...)
		}
		for _, c := range parsed.FreeColors {
			clauses = append(clauses, "EXISTS (SELECT 1 FROM tags t WHERE t.image_id = images.id AND t.tag = ?)")
			args = append(args, "col:"+c)
		}
		for _, m := range parsed.FreeMaterials {
			clauses = append(clauses, "EXISTS (SELECT 1 FROM tags t WHERE t.image_id = images.id AND t.tag = ?)")
			args = append(args, "mat:"+m)
		}
	}

	sqlQuery := "SELECT id, external_id, file_name, folder_path, room, phash FROM images"
	if len(clauses) > 0 {
		sqlQuery += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]imageMeta)
	for rows.Next() {
		var id, externalID, fileName, folderPath, room string
		var phash uint64
		if err := rows.Scan(&id, &externalID, &fileName, &folderPath, &room, &phash); err != nil {
			return nil, err
		}
		out[id] = imageMeta{externalID: externalID, fileName: fileName, folderPath: folderPath, room: room, phash: phash}
	}
	return out, rows.Err()
}
