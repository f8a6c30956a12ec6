// Package verify implements Stage B: batched VLM verification with
// caching, bounded concurrency, and strict JSON parsing (§4.7).
package verify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"imagesearch/internal/apperr"
	"imagesearch/internal/errlog"
)

// Evidence is the per-image supporting detail the VLM reports back.
type Evidence struct {
	Objects   []string          `json:"objects"`
	Colors    map[string]string `json:"colors"`
	Materials map[string]string `json:"materials"`
}

// Verdict is the VLM's per-image judgment, per the §4.7 JSON schema.
type Verdict struct {
	ImageID    string   `json:"image_id"`
	Matches    bool     `json:"matches"`
	Confidence float64  `json:"confidence"`
	Room       string   `json:"room,omitempty"`
	Evidence   Evidence `json:"evidence"`
	Notes      string   `json:"notes"`
}

// ImageRef is one batch member: enough for the VLM prompt and for cache
// keying.
type ImageRef struct {
	ImageID     string
	ExternalID  string
	URL         string
	ContentHash string
}

// Client is the black-box VLM provider contract: verify(query, images) ->
// per-image JSON verdicts (§6).
type Client interface {
	VerifyBatch(ctx context.Context, queryOriginal, queryTranslated string, images []ImageRef) ([]Verdict, error)
}

const modelID = "default"

// CacheKey computes the SHA-256 cache key over
// (normalized_query, model_id, image_id, image_content_hash) (§4.7).
func CacheKey(normalizedQuery, imageID, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(imageID))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the VLM verdict cache: an in-memory TTL+LRU front backed by
// the vlm_cache table for persistence across restarts.
type Cache struct {
	mem *lru.LRU[string, Verdict]
	db  *sql.DB
	ttl time.Duration
}

// NewCache builds a Cache with the given TTL and LRU capacity.
func NewCache(db *sql.DB, ttl time.Duration, capacity int) *Cache {
	return &Cache{mem: lru.NewLRU[string, Verdict](capacity, nil, ttl), db: db, ttl: ttl}
}

// Get returns a cached verdict, checking the in-memory LRU first and
// falling back to the persisted table (which also repopulates the LRU).
func (c *Cache) Get(ctx context.Context, key string) (Verdict, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	if c.db == nil {
		return Verdict{}, false
	}
	var verdictJSON string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `SELECT verdict, expires_at FROM vlm_cache WHERE cache_key = ?`, key).Scan(&verdictJSON, &expiresAt)
	if err != nil {
		return Verdict{}, false
	}
	if expiresAt < time.Now().Unix() {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal([]byte(verdictJSON), &v); err != nil {
		return Verdict{}, false
	}
	c.mem.Add(key, v)
	return v, true
}

// Put stores a verdict in both the in-memory LRU and the persisted table.
func (c *Cache) Put(ctx context.Context, key string, v Verdict) {
	c.mem.Add(key, v)
	if c.db == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	now := time.Now().Unix()
	expires := now + int64(c.ttl.Seconds())
	_, err = c.db.ExecContext(ctx, `INSERT INTO vlm_cache (cache_key, verdict, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET verdict=excluded.verdict, created_at=excluded.created_at, expires_at=excluded.expires_at`,
		key, string(data), now, expires)
	if err != nil {
		errlog.Logf("verify: persist cache entry failed: %v", err)
	}
}

// RateLimiter is a simple token-bucket limiter protecting the VLM
// provider quota (§4.7).
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	refillPS float64
	last     time.Time
}

// NewRateLimiter builds a token bucket with capacity max, refilling at
// refillPerSecond tokens/sec.
func NewRateLimiter(max float64, refillPerSecond float64) *RateLimiter {
	return &RateLimiter{tokens: max, max: max, refillPS: refillPerSecond, last: time.Now()}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(r.last).Seconds()
		r.tokens = math.Min(r.max, r.tokens+elapsed*r.refillPS)
		r.last = now
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Verifier runs Stage B: batching, caching, bounded concurrent dispatch.
type Verifier struct {
	client      Client
	cache       *Cache
	limiter     *RateLimiter
	batchSize   int
	concurrency int
}

// New builds a Verifier. batchSize and concurrency default to the spec's
// B=12, C=4 when <= 0.
func New(client Client, cache *Cache, limiter *RateLimiter, batchSize, concurrency int) *Verifier {
	if batchSize <= 0 {
		batchSize = 12
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Verifier{client: client, cache: cache, limiter: limiter, batchSize: batchSize, concurrency: concurrency}
}

// Verify groups images into batches of batchSize and dispatches up to
// concurrency batches in parallel, serving cached verdicts without a VLM
// call. Results are returned in the same order as images.
func (v *Verifier) Verify(ctx context.Context, queryOriginal, normalizedQuery string, images []ImageRef) ([]Verdict, error) {
	results := make([]Verdict, len(images))
	cacheKeys := make([]string, len(images))
	var toFetch []int

	for i, img := range images {
		key := CacheKey(normalizedQuery, img.ImageID, img.ContentHash)
		cacheKeys[i] = key
		if v.cache != nil {
			if cached, ok := v.cache.Get(ctx, key); ok {
				results[i] = cached
				continue
			}
		}
		toFetch = append(toFetch, i)
	}

	var batches [][]int
	for i := 0; i < len(toFetch); i += v.batchSize {
		end := i + v.batchSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		batches = append(batches, toFetch[i:end])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if v.limiter != nil {
				if err := v.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			refs := make([]ImageRef, len(batch))
			for i, idx := range batch {
				refs[i] = images[idx]
			}
			verdicts, err := v.callWithRetry(gctx, queryOriginal, normalizedQuery, refs)
			if err != nil {
				return err
			}
			byID := make(map[string]Verdict, len(verdicts))
			for _, vd := range verdicts {
				byID[vd.ImageID] = vd
			}
			for _, idx := range batch {
				vd, ok := byID[images[idx].ImageID]
				if !ok {
					vd = Verdict{ImageID: images[idx].ImageID, Matches: false, Confidence: 0, Notes: "parse_error"}
				}
				results[idx] = vd
				if v.cache != nil {
					v.cache.Put(ctx, cacheKeys[idx], vd)
				}
			}
			return nil
		})
	}

	// On error (including a caller deadline expiring mid-flight), return
	// whatever batches did complete rather than discarding them: a search
	// request's overall deadline (§5) means "serve whatever has passed
	// Stage C so far", not "fail the whole request".
	err := g.Wait()
	return results, err
}

// backoffDelays is the exponential backoff schedule for transient batch
// failures (§4.7): 1s, 2s, 4s, 8s, max 4 retries.
var backoffDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

func (v *Verifier) callWithRetry(ctx context.Context, queryOriginal, normalizedQuery string, refs []ImageRef) ([]Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoffDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelays[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		verdicts, err := v.client.VerifyBatch(ctx, queryOriginal, normalizedQuery, refs)
		if err == nil {
			return verdicts, nil
		}
		lastErr = err
		if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindTransient {
			return nil, err
		}
	}
	errlog.Logf("verify: batch failed after retries: %v", lastErr)
	return nil, apperr.Wrap(apperr.KindTransient, "vlm batch failed after retries", lastErr)
}

// HTTPVLM calls an OpenAI-compatible multimodal endpoint, in the same
// request/response idiom as the detector and embedding clients.
type HTTPVLM struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

// NewHTTPVLM builds an HTTPVLM with the spec's 45s per-batch deadline
// (§5), enforced by the caller's context unless shorter.
func NewHTTPVLM(endpoint, apiKey string) *HTTPVLM {
	return &HTTPVLM{Endpoint: endpoint, APIKey: apiKey, client: &http.Client{Timeout: 45 * time.Second}}
}

type vlmImageRef struct {
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
}

type vlmRequest struct {
	QueryOriginal   string        `json:"query_original"`
	QueryTranslated string        `json:"query_translated"`
	Images          []vlmImageRef `json:"images"`
	ReformatHint    bool          `json:"reformat_hint,omitempty"`
}

type vlmResponse struct {
	Verdicts []Verdict `json:"verdicts"`
}

// VerifyBatch sends one batch to the VLM. Malformed JSON triggers exactly
// one "reformat as valid JSON" follow-up call; a second failure falls
// back to matches=false/confidence=0/notes="parse_error" for every image
// in the batch (§4.7), which is never itself an error.
func (c *HTTPVLM) VerifyBatch(ctx context.Context, queryOriginal, queryTranslated string, images []ImageRef) ([]Verdict, error) {
	refs := make([]vlmImageRef, len(images))
	for i, img := range images {
		refs[i] = vlmImageRef{ImageID: img.ImageID, URL: img.URL}
	}

	verdicts, err := c.call(ctx, queryOriginal, queryTranslated, refs, false)
	if err == nil {
		return verdicts, nil
	}
	if ae, ok := apperr.As(err); !ok || ae.Kind != apperr.KindParse {
		return nil, err
	}

	verdicts, err = c.call(ctx, queryOriginal, queryTranslated, refs, true)
	if err == nil {
		return verdicts, nil
	}

	fallback := make([]Verdict, len(images))
	for i, img := range images {
		fallback[i] = Verdict{ImageID: img.ImageID, Matches: false, Confidence: 0, Notes: "parse_error"}
	}
	return fallback, nil
}

func (c *HTTPVLM) call(ctx context.Context, queryOriginal, queryTranslated string, refs []vlmImageRef, reformat bool) ([]Verdict, error) {
	reqBody, err := json.Marshal(vlmRequest{QueryOriginal: queryOriginal, QueryTranslated: queryTranslated, Images: refs, ReformatHint: reformat})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "marshal vlm request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "build vlm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "vlm request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperr.New(apperr.KindAuth, "vlm credential invalid")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.KindTransient, fmt.Sprintf("vlm status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindInput, fmt.Sprintf("vlm status %d", resp.StatusCode))
	}

	var out vlmResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "decode vlm response", err)
	}
	return out.Verdicts, nil
}
