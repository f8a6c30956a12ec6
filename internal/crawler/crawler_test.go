package crawler

import (
	"context"
	"testing"
	"time"

	"imagesearch/internal/sourcestore"
)

type fakeLister struct {
	byFolder map[string][]sourcestore.Entry
}

func (f *fakeLister) ListFolder(ctx context.Context, folderID string) ([]sourcestore.Entry, error) {
	return f.byFolder[folderID], nil
}

func TestRunEmitsAcceptedMimesAndRecurses(t *testing.T) {
	lister := &fakeLister{byFolder: map[string][]sourcestore.Entry{
		"root": {
			{FileID: "sub", Path: "/root/sub", Name: "sub", Mime: "application/folder"},
			{FileID: "a", Path: "/root/a.jpg", Name: "a.jpg", Mime: "image/jpeg"},
			{FileID: "b", Path: "/root/b.txt", Name: "b.txt", Mime: "text/plain"},
		},
		"sub": {
			{FileID: "c", Path: "/root/sub/c.png", Name: "c.png", Mime: "image/png"},
		},
	}}

	c := New(lister, func(string) (KnownImage, bool) { return KnownImage{}, false }, false)
	out := make(chan WorkItem, 16)
	if err := c.Run(context.Background(), "root", out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []string
	for item := range out {
		got = append(got, item.ExternalID)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accepted items, got %v", got)
	}
}

func TestRunSkipsUpToDateInIncrementalMode(t *testing.T) {
	lister := &fakeLister{byFolder: map[string][]sourcestore.Entry{
		"root": {
			{FileID: "a", Path: "/root/a.jpg", Name: "a.jpg", Mime: "image/jpeg", MTime: time.Unix(100, 0)},
		},
	}}
	known := func(id string) (KnownImage, bool) {
		if id == "a" {
			return KnownImage{IndexedAt: 200}, true
		}
		return KnownImage{}, false
	}
	c := New(lister, known, true)
	out := make(chan WorkItem, 16)
	if err := c.Run(context.Background(), "root", out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	count := 0
	for range out {
		count++
	}
	if count != 0 {
		t.Fatalf("expected incremental mode to skip up-to-date file, got %d items", count)
	}
}
