// Package store is the persistence layer: relational CRUD over the five
// entities of the data model plus the vector similarity search surface,
// backed by SQLite and the vendored sqlite-vec module. Caption embeddings
// are stored as one "chunk" per image with the image's room reused as the
// sqlite-vec PartitionID, letting Stage A prune the vector scan by room
// for free.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sqlitevec "github.com/nicexipi/sqlite-vec"

	"imagesearch/internal/model"
)

// Store wraps the SQL connection and the vector index.
type Store struct {
	db     *sql.DB
	vector *sqlitevec.SQLiteVectorStore
}

// Open wires a Store on top of an already-initialized *sql.DB (see
// internal/db.InitDB for schema creation).
func Open(sdb *sql.DB) (*Store, error) {
	if err := sqlitevec.EnsureTable(sdb); err != nil {
		return nil, fmt.Errorf("ensure vector table: %w", err)
	}
	vs := sqlitevec.NewSQLiteVectorStore(sdb)
	return &Store{db: sdb, vector: vs}, nil
}

// UpsertImage replaces everything rooted at external_id inside one
// transaction: the Image row and all of its Objects, RoomScores, Caption,
// and Tags. Re-indexing the same external_id is therefore atomic and
// idempotent (invariant: re-indexing overwrites children wholesale).
func (s *Store) UpsertImage(ctx context.Context, img model.Image, objects []model.Object, rooms []model.RoomScore, caption model.Caption, tags []model.Tag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM images WHERE external_id = ?`, img.ExternalID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		// fresh image, nothing to delete
	case err != nil:
		return fmt.Errorf("lookup existing image: %w", err)
	default:
		img.ID = existingID
		if err := deleteChildren(ctx, tx, existingID); err != nil {
			return err
		}
	}

	styleTagsJSON, err := json.Marshal(img.StyleTags)
	if err != nil {
		return fmt.Errorf("marshal style tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO images
		(id, external_id, file_name, folder_path, width, height, phash, captured_at, room, room_confidence, style_tags, analysis_partial, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_name=excluded.file_name, folder_path=excluded.folder_path, width=excluded.width,
			height=excluded.height, phash=excluded.phash, captured_at=excluded.captured_at,
			room=excluded.room, room_confidence=excluded.room_confidence, style_tags=excluded.style_tags,
			analysis_partial=excluded.analysis_partial, indexed_at=excluded.indexed_at`,
		img.ID, img.ExternalID, img.FileName, img.FolderPath, img.Width, img.Height, img.Phash,
		img.CapturedAt, img.Room, img.RoomConf, string(styleTagsJSON), img.AnalysisPartial, img.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert image: %w", err)
	}

	objStmt, err := tx.PrepareContext(ctx, `INSERT INTO objects
		(id, image_id, label, label_confidence, bbox_x, bbox_y, bbox_w, bbox_h,
		 color_name, color_l, color_a, color_b, secondary_colors, material, material_confidence, area_pixels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare object insert: %w", err)
	}
	defer objStmt.Close()
	for _, o := range objects {
		secJSON, err := json.Marshal(o.SecondaryColors)
		if err != nil {
			return fmt.Errorf("marshal secondary colors: %w", err)
		}
		o.ImageID = img.ID
		if _, err := objStmt.ExecContext(ctx, o.ID, o.ImageID, o.Label, o.LabelConfidence,
			o.BBox.X, o.BBox.Y, o.BBox.W, o.BBox.H, o.ColorName, o.ColorLAB.L, o.ColorLAB.A, o.ColorLAB.B,
			string(secJSON), o.Material, o.MaterialConf, o.AreaPixels); err != nil {
			return fmt.Errorf("insert object %s: %w", o.Label, err)
		}
	}

	roomStmt, err := tx.PrepareContext(ctx, `INSERT INTO room_scores (image_id, room, score) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare room score insert: %w", err)
	}
	defer roomStmt.Close()
	for _, rs := range rooms {
		if _, err := roomStmt.ExecContext(ctx, img.ID, rs.Room, rs.Score); err != nil {
			return fmt.Errorf("insert room score %s: %w", rs.Room, err)
		}
	}

	factsJSON, err := marshalFacts(caption.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	var embedBlob []byte
	if caption.EmbedEN != nil {
		embedBlob = sqlitevec.SerializeVector(toFloat64(caption.EmbedEN))
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO captions (image_id, caption_en, caption_he, facts, embed_en)
		VALUES (?, ?, ?, ?, ?)`, img.ID, caption.CaptionEN, caption.CaptionHE, string(factsJSON), embedBlob)
	if err != nil {
		return fmt.Errorf("insert caption: %w", err)
	}

	tagStmt, err := tx.PrepareContext(ctx, `INSERT INTO tags (image_id, tag) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tag insert: %w", err)
	}
	defer tagStmt.Close()
	for _, t := range tags {
		if _, err := tagStmt.ExecContext(ctx, img.ID, t.Tag); err != nil {
			return fmt.Errorf("insert tag %s: %w", t.Tag, err)
		}
	}

	// The vector-index chunk for this image's caption is written against
	// the same tx as everything above, so a crash either side of the
	// commit can never leave captions.embed_en durable while the image is
	// absent from the vector index (or vice versa) — re-indexing replaces
	// the whole five-entity-plus-chunk row set atomically. StoreTx always
	// runs (even with zero chunks) so a re-index that lost its embedding
	// still clears any stale chunk row from a prior successful embedding.
	var vecChunks []sqlitevec.VectorChunk
	if caption.EmbedEN != nil {
		vecChunks = []sqlitevec.VectorChunk{{
			ChunkText:    caption.CaptionEN,
			ChunkIndex:   0,
			DocumentID:   img.ID,
			DocumentName: img.FileName,
			Vector:       toFloat64(caption.EmbedEN),
			PartitionID:  img.Room,
		}}
	}
	pendingVec, err := s.vector.StoreTx(tx, img.ID, vecChunks)
	if err != nil {
		return fmt.Errorf("stage caption embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	pendingVec.Apply()
	return nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, imageID string) error {
	stmts := []string{
		`DELETE FROM objects WHERE image_id = ?`,
		`DELETE FROM room_scores WHERE image_id = ?`,
		`DELETE FROM captions WHERE image_id = ?`,
		`DELETE FROM tags WHERE image_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, imageID); err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
	}
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func marshalFacts(f model.Facts) ([]byte, error) {
	merged := map[string]any{}
	for k, v := range f.Rest {
		merged[k] = v
	}
	if f.Room != "" {
		merged["room"] = f.Room
	}
	if len(f.Objects) > 0 {
		merged["objects"] = f.Objects
	}
	if f.AnalysisPartial {
		merged["analysis_partial"] = true
	}
	return json.Marshal(merged)
}

// VectorSearch runs a cosine-similarity search over caption embeddings,
// optionally pruned to a single room partition (empty string searches all
// partitions).
func (s *Store) VectorSearch(queryVector []float64, topK int, room string) ([]sqlitevec.SearchResult, error) {
	return s.vector.Search(queryVector, topK, 0, room)
}

// DB exposes the underlying connection for package-specific queries
// (retrieval's structured predicate, stats, progress snapshots).
func (s *Store) DB() *sql.DB { return s.db }

// Now returns the current unix time in seconds, used for indexed_at.
func Now() int64 { return time.Now().Unix() }
