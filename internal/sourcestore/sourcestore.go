// Package sourcestore is the external collaborator for the image store:
// an HTTP-based adapter implementing list_folder/fetch_bytes (§1), built
// in the same retry/backoff idiom as the teacher's embedding and LLM HTTP
// clients.
package sourcestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"imagesearch/internal/apperr"
	"imagesearch/internal/errlog"
)

// Entry is one file yielded by ListFolder.
type Entry struct {
	FileID string    `json:"file_id"`
	Path   string    `json:"path"`
	Name   string    `json:"name"`
	Mime   string    `json:"mime"`
	MTime  time.Time `json:"mtime"`
}

// Client talks to the externally-hosted image store over HTTP.
type Client struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// New builds a Client with a 30s timeout matching the source-fetch
// deadline default (§5).
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type listFolderResponse struct {
	Entries []Entry `json:"entries"`
}

// ListFolder enumerates the direct children of folderID. It does not
// recurse; the crawler walks subfolders itself by re-invoking ListFolder.
// Transient errors retry with the crawler's backoff schedule (base 500ms,
// cap 30s, max 5 attempts) at the call site, not here; this method makes
// exactly one attempt per call so the caller can apply its own policy.
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]Entry, error) {
	url := fmt.Sprintf("%s/folders/%s/children", c.BaseURL, folderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "build list_folder request", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "list_folder request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		errlog.Logf("sourcestore: auth error listing folder %s: status %d", folderID, resp.StatusCode)
		return nil, apperr.New(apperr.KindAuth, "source store credential invalid")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.KindTransient, fmt.Sprintf("list_folder status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindInput, fmt.Sprintf("list_folder status %d", resp.StatusCode))
	}

	var out listFolderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "decode list_folder response", err)
	}
	return out.Entries, nil
}

// FetchBytes downloads the raw content of fileID along with its upstream
// modification time.
func (c *Client) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	url := fmt.Sprintf("%s/files/%s/content", c.BaseURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindInput, "build fetch_bytes request", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindTransient, "fetch_bytes request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		errlog.Logf("sourcestore: auth error fetching file %s: status %d", fileID, resp.StatusCode)
		return nil, time.Time{}, apperr.New(apperr.KindAuth, "source store credential invalid")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, time.Time{}, apperr.New(apperr.KindTransient, fmt.Sprintf("fetch_bytes status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, apperr.New(apperr.KindInput, fmt.Sprintf("fetch_bytes status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindTransient, "read fetch_bytes body", err)
	}

	mtime := time.Now()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			mtime = t
		}
	}
	return body, mtime, nil
}

// Health performs a cheap reachability check for the /health surface.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source store health check: status %d", resp.StatusCode)
	}
	return nil
}
