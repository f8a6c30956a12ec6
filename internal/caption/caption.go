// Package caption renders the structured English caption from an image's
// facts and requests a dense embedding for it (§4.4).
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"imagesearch/internal/apperr"
	"imagesearch/internal/errlog"
	"imagesearch/internal/model"
)

const topObjectCount = 3

var countWords = map[int]string{
	1: "one", 2: "two", 3: "three", 4: "four", 5: "five",
	6: "six", 7: "seven", 8: "eight", 9: "nine", 10: "ten",
}

// Render builds caption_en from the room, detected objects, and style
// tags: "{Room} with {top-3 objects with adjective color + material};
// {style tags}.".
func Render(room string, objects []model.Object, styleTags []string) string {
	ranked := make([]model.Object, len(objects))
	copy(ranked, objects)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AreaPixels > ranked[j].AreaPixels })

	grouped := groupByLabel(ranked)

	top := grouped
	rest := []objGroup(nil)
	if len(grouped) > topObjectCount {
		top = grouped[:topObjectCount]
		rest = grouped[topObjectCount:]
	}

	var parts []string
	roomTitle := title(room)
	if roomTitle == "" || roomTitle == "Unknown" {
		roomTitle = "Room"
	}
	head := fmt.Sprintf("%s with %s", roomTitle, joinPhrases(top))
	parts = append(parts, head)

	for _, g := range rest {
		parts = append(parts, phrase(g))
	}
	if len(styleTags) > 0 {
		parts = append(parts, strings.Join(styleTags, ", ")+" style")
	}

	return strings.Join(parts, "; ") + "."
}

type objGroup struct {
	label    string
	color    string
	material string
	count    int
}

func groupByLabel(objects []model.Object) []objGroup {
	var groups []objGroup
	index := make(map[string]int)
	for _, o := range objects {
		key := o.Label + "|" + o.ColorName + "|" + o.Material
		if i, ok := index[key]; ok {
			groups[i].count++
			continue
		}
		index[key] = len(groups)
		groups = append(groups, objGroup{label: o.Label, color: o.ColorName, material: o.Material, count: 1})
	}
	return groups
}

func joinPhrases(groups []objGroup) string {
	phrases := make([]string, 0, len(groups))
	for _, g := range groups {
		phrases = append(phrases, phrase(g))
	}
	return strings.Join(phrases, ", ")
}

func phrase(g objGroup) string {
	var words []string
	if g.color != "" {
		words = append(words, g.color)
	}
	if g.material != "" && g.material != "unknown" {
		words = append(words, g.material)
	}
	label := strings.ReplaceAll(g.label, "_", " ")
	if g.count > 1 {
		label = pluralize(label)
		if w, ok := countWords[g.count]; ok {
			words = append([]string{w}, words...)
		} else {
			words = append([]string{fmt.Sprintf("%d", g.count)}, words...)
		}
	}
	words = append(words, label)
	return strings.Join(words, " ")
}

func pluralize(label string) string {
	if strings.HasSuffix(label, "s") {
		return label
	}
	return label + "s"
}

func title(s string) string {
	if s == "" {
		return ""
	}
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Embedder requests a dense embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an OpenAI-compatible embedding endpoint, in the same
// request/response/retry idiom as the detector and VLM clients.
type HTTPEmbedder struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder with a 10s request timeout (§5).
func NewHTTPEmbedder(endpoint, apiKey string) *HTTPEmbedder {
	return &HTTPEmbedder{Endpoint: endpoint, APIKey: apiKey, client: &http.Client{Timeout: 10 * time.Second}}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// retryDelays are the two backoff waits before giving up on an embedding
// request (§4.4): 1s, then 4s.
var retryDelays = []time.Duration{1 * time.Second, 4 * time.Second}

// Embed requests an embedding, retrying twice (1s, 4s) on transient
// failure before giving up.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "marshal embed request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vec, err := e.callOnce(ctx, reqBody)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindTransient {
			return nil, err
		}
	}
	errlog.Logf("caption: embedding failed after retries: %v", lastErr)
	return nil, apperr.Wrap(apperr.KindTransient, "embed failed after retries", lastErr)
}

func (e *HTTPEmbedder) callOnce(ctx context.Context, reqBody []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperr.New(apperr.KindAuth, "embedder credential invalid")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.KindTransient, fmt.Sprintf("embed status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindInput, fmt.Sprintf("embed status %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "decode embed response", err)
	}
	return out.Embedding, nil
}

// Build renders the caption and attaches its embedding. On embedding
// failure after retries, it returns the caption with EmbedEN nil and
// facts.analysis_partial left to the caller — the image is still
// persisted, just unreachable by vector search (§4.4).
func Build(ctx context.Context, embedder Embedder, room string, objects []model.Object, styleTags []string, partial bool) model.Caption {
	text := Render(room, objects, styleTags)

	objLabels := make([]string, 0, len(objects))
	for _, o := range objects {
		objLabels = append(objLabels, o.Label)
	}

	facts := model.Facts{Room: room, Objects: objLabels, AnalysisPartial: partial}

	result := model.Caption{CaptionEN: text, Facts: facts}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		errlog.Logf("caption: no embedding for caption %q: %v", text, err)
		return result
	}
	result.EmbedEN = vec
	return result
}
