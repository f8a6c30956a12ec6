// Package crawler enumerates image files under the configured root
// folder, emitting WorkItems on a bounded channel so downstream
// backpressure throttles traversal (§4.1).
package crawler

import (
	"context"
	"math"
	"strings"
	"time"

	"imagesearch/internal/apperr"
	"imagesearch/internal/errlog"
	"imagesearch/internal/sourcestore"
)

// WorkItem is one candidate file for the fetcher.
type WorkItem struct {
	ExternalID string
	Path       string
	Name       string
	Mime       string
}

var acceptedMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

// KnownImage is the subset of an already-indexed Image the crawler needs
// to decide whether a file can be skipped in incremental mode.
type KnownImage struct {
	IndexedAt int64
}

// FolderLister is the subset of sourcestore.Client the crawler needs;
// narrowing to an interface keeps the crawler testable without an HTTP
// server.
type FolderLister interface {
	ListFolder(ctx context.Context, folderID string) ([]sourcestore.Entry, error)
}

// Crawler walks the source store depth-first.
type Crawler struct {
	source      FolderLister
	known       func(externalID string) (KnownImage, bool)
	incremental bool
}

// New builds a Crawler. known looks up whether externalID was already
// indexed; pass a function that always returns (KnownImage{}, false) to
// disable the lookup (a full rebuild).
func New(source FolderLister, known func(string) (KnownImage, bool), incremental bool) *Crawler {
	return &Crawler{source: source, known: known, incremental: incremental}
}

// Run walks rootFolderID depth-first and sends a WorkItem for every
// accepted, non-skipped file onto out. out should be a bounded channel
// (queue depth 256 per §5); Run blocks on sends so a slow fetcher
// naturally throttles the walk. Run closes out before returning.
func (c *Crawler) Run(ctx context.Context, rootFolderID string, out chan<- WorkItem) error {
	defer close(out)
	return c.walk(ctx, rootFolderID, out)
}

func (c *Crawler) walk(ctx context.Context, folderID string, out chan<- WorkItem) error {
	entries, err := c.listWithRetry(ctx, folderID)
	if err != nil {
		return err
	}

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if strings.HasSuffix(e.Mime, "/folder") || e.Mime == "" && looksLikeFolder(e.Name) {
			if err := c.walk(ctx, e.FileID, out); err != nil {
				return err
			}
			continue
		}
		if !acceptedMimes[e.Mime] {
			continue
		}
		if c.incremental && c.known != nil {
			if known, ok := c.known(e.FileID); ok && known.IndexedAt >= e.MTime.Unix() {
				continue
			}
		}

		item := WorkItem{ExternalID: e.FileID, Path: e.Path, Name: e.Name, Mime: e.Mime}
		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func looksLikeFolder(name string) bool {
	return !strings.Contains(name, ".")
}

// listWithRetry lists one folder with exponential backoff (base 500ms,
// cap 30s, max 5 attempts). AuthError aborts the whole crawl immediately;
// other transient errors retry.
func (c *Crawler) listWithRetry(ctx context.Context, folderID string) ([]sourcestore.Entry, error) {
	const maxAttempts = 5
	const base = 500 * time.Millisecond
	const cap = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		entries, err := c.source.ListFolder(ctx, folderID)
		if err == nil {
			return entries, nil
		}
		lastErr = err
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindAuth {
			errlog.Logf("crawler: auth error listing folder %s, aborting crawl: %v", folderID, err)
			return nil, err
		}

		wait := time.Duration(math.Min(float64(cap), float64(base)*math.Pow(2, float64(attempt))))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	errlog.Logf("crawler: exhausted retries listing folder %s: %v", folderID, lastErr)
	return nil, lastErr
}
