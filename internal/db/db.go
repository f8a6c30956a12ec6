// Package db provides SQLite database initialization and migration for the
// image search engine's backing store: the five normalized entities of
// §3 plus the VLM verdict cache and progress-tracker snapshot tables.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens a SQLite database connection at dbPath, enables WAL mode
// and foreign keys, and creates all required tables idempotently.
func InitDB(dbPath string) (*sql.DB, error) {
	sdb, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sdb.Ping(); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode allows concurrent readers with one writer; size the pool to
	// cover the fetcher/persister/search concurrency budget of §5.
	sdb.SetMaxOpenConns(8)
	sdb.SetMaxIdleConns(8)
	sdb.SetConnMaxLifetime(0)

	if err := configurePragmas(sdb); err != nil {
		sdb.Close()
		return nil, err
	}

	if err := createTables(sdb); err != nil {
		sdb.Close()
		return nil, err
	}

	if err := migrateTables(sdb); err != nil {
		sdb.Close()
		return nil, err
	}

	if err := createIndexes(sdb); err != nil {
		sdb.Close()
		return nil, err
	}

	return sdb, nil
}

func configurePragmas(sdb *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
		"PRAGMA secure_delete=ON",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := sdb.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func createTables(sdb *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id              TEXT PRIMARY KEY,
			external_id     TEXT NOT NULL UNIQUE,
			file_name       TEXT NOT NULL,
			folder_path     TEXT NOT NULL,
			width           INTEGER NOT NULL DEFAULT 0,
			height          INTEGER NOT NULL DEFAULT 0,
			phash           INTEGER NOT NULL DEFAULT 0,
			captured_at     INTEGER,
			room            TEXT NOT NULL DEFAULT 'unknown',
			room_confidence REAL NOT NULL DEFAULT 0,
			style_tags      TEXT NOT NULL DEFAULT '[]',
			indexed_at      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			id                TEXT PRIMARY KEY,
			image_id          TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			label             TEXT NOT NULL,
			label_confidence  REAL NOT NULL DEFAULT 0,
			bbox_x            REAL NOT NULL DEFAULT 0,
			bbox_y            REAL NOT NULL DEFAULT 0,
			bbox_w            REAL NOT NULL DEFAULT 0,
			bbox_h            REAL NOT NULL DEFAULT 0,
			color_name        TEXT NOT NULL DEFAULT '',
			color_l           REAL NOT NULL DEFAULT 0,
			color_a           REAL NOT NULL DEFAULT 0,
			color_b           REAL NOT NULL DEFAULT 0,
			secondary_colors  TEXT NOT NULL DEFAULT '[]',
			material          TEXT NOT NULL DEFAULT 'unknown',
			material_confidence REAL NOT NULL DEFAULT 0,
			area_pixels       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS room_scores (
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			room     TEXT NOT NULL,
			score    REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (image_id, room)
		)`,
		`CREATE TABLE IF NOT EXISTS captions (
			image_id   TEXT PRIMARY KEY REFERENCES images(id) ON DELETE CASCADE,
			caption_en TEXT NOT NULL DEFAULT '',
			caption_he TEXT,
			facts      TEXT NOT NULL DEFAULT '{}',
			embed_en   BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag      TEXT NOT NULL,
			PRIMARY KEY (image_id, tag)
		)`,
		`CREATE TABLE IF NOT EXISTS vlm_cache (
			cache_key  TEXT PRIMARY KEY,
			verdict    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_snapshots (
			id             INTEGER PRIMARY KEY CHECK (id = 1),
			is_running     INTEGER NOT NULL DEFAULT 0,
			started_at     INTEGER,
			processed_count INTEGER NOT NULL DEFAULT 0,
			total_count    INTEGER NOT NULL DEFAULT 0,
			current_file   TEXT NOT NULL DEFAULT '',
			errors_json    TEXT NOT NULL DEFAULT '[]'
		)`,
	}

	tx, err := sdb.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	for _, ddl := range tables {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("create table: %w", err)
		}
	}
	return tx.Commit()
}

func migrateTables(sdb *sql.DB) error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"images", "analysis_partial", "ALTER TABLE images ADD COLUMN analysis_partial INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !columnExists(sdb, m.table, m.column) {
			if _, err := sdb.Exec(m.ddl); err != nil {
				return fmt.Errorf("migration failed (%s.%s): %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

// columnExists checks if a column exists in a table. Table names are
// validated against a whitelist to prevent SQL injection via table name.
func columnExists(sdb *sql.DB, table, column string) bool {
	validTables := map[string]bool{
		"images": true, "objects": true, "room_scores": true,
		"captions": true, "tags": true, "vlm_cache": true,
		"progress_snapshots": true,
	}
	if !validTables[table] {
		return false
	}
	rows, err := sdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func createIndexes(sdb *sql.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_images_room ON images(room)",
		"CREATE INDEX IF NOT EXISTS idx_images_folder ON images(folder_path)",
		"CREATE INDEX IF NOT EXISTS idx_objects_image ON objects(image_id)",
		"CREATE INDEX IF NOT EXISTS idx_objects_label ON objects(label)",
		"CREATE INDEX IF NOT EXISTS idx_objects_color ON objects(color_name)",
		"CREATE INDEX IF NOT EXISTS idx_objects_material ON objects(material)",
		"CREATE INDEX IF NOT EXISTS idx_objects_label_color ON objects(label, color_name)",
		"CREATE INDEX IF NOT EXISTS idx_objects_label_material ON objects(label, material)",
		"CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag)",
		"CREATE INDEX IF NOT EXISTS idx_room_scores_image ON room_scores(image_id)",
		"CREATE INDEX IF NOT EXISTS idx_vlm_cache_expires ON vlm_cache(expires_at)",
	}
	for _, ddl := range indexes {
		if _, err := sdb.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
