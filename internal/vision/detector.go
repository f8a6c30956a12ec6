// Package vision implements the multi-pass analyzer: object detection,
// per-object color, material inference, and room classification (§4.3).
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"imagesearch/internal/apperr"
)

// DetectedBox is one raw detection as returned by the provider contract
// `detect(image_bytes) -> [{label, score, bbox}]` (§6).
type DetectedBox struct {
	LabelRaw string  `json:"label"`
	Score    float64 `json:"score"`
	BBox     struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"bbox"`
}

// Detector is the black-box object detector contract.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) ([]DetectedBox, error)
}

// HTTPDetector calls an OpenAI-compatible detection endpoint, in the same
// request/response/retry idiom as the embedding and VLM clients.
type HTTPDetector struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

// NewHTTPDetector builds an HTTPDetector with a 10s request timeout.
func NewHTTPDetector(endpoint, apiKey string) *HTTPDetector {
	return &HTTPDetector{Endpoint: endpoint, APIKey: apiKey, client: &http.Client{Timeout: 10 * time.Second}}
}

type detectRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type detectResponse struct {
	Detections []DetectedBox `json:"detections"`
}

// Detect sends imageBytes to the detector endpoint in up to 3 attempts (2 retries),
// matching the teacher's embedding client's callAPI backoff shape.
func (d *HTTPDetector) Detect(ctx context.Context, imageBytes []byte) ([]DetectedBox, error) {
	reqBody, err := json.Marshal(detectRequest{ImageBase64: base64.StdEncoding.EncodeToString(imageBytes)})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, "marshal detect request", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 5 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInput, "build detect request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if d.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.APIKey)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, apperr.New(apperr.KindAuth, "detector credential invalid")
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("detector status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, apperr.New(apperr.KindInput, fmt.Sprintf("detector status %d", resp.StatusCode))
		}

		var out detectResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, apperr.Wrap(apperr.KindParse, "decode detect response", decodeErr)
		}
		return out.Detections, nil
	}
	return nil, apperr.Wrap(apperr.KindTransient, "detect failed after retries", lastErr)
}
