package db

import (
	"path/filepath"
	"testing"
)

func TestInitDBCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	tables := []string{"images", "objects", "room_scores", "captions", "tags", "vlm_cache", "progress_snapshots"}
	for _, table := range tables {
		var name string
		err := sdb.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb1, err := InitDB(path)
	if err != nil {
		t.Fatalf("first InitDB: %v", err)
	}
	sdb1.Close()

	sdb2, err := InitDB(path)
	if err != nil {
		t.Fatalf("second InitDB: %v", err)
	}
	defer sdb2.Close()
}

func TestColumnExistsRejectsUnknownTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	sdb, err := InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sdb.Close()

	if columnExists(sdb, "sqlite_master; DROP TABLE images;--", "name") {
		t.Fatal("expected whitelist to reject unknown table name")
	}
}
