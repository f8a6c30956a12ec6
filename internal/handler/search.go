package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"imagesearch/internal/apperr"
	"imagesearch/internal/query"
	"imagesearch/internal/rerank"
	"imagesearch/internal/verify"
)

// searchDeadline is the overall per-request deadline of §5: exceeding it
// returns whatever has passed Stage C so far with partial=true instead of
// an error.
const searchDeadline = 30 * time.Second

// searchRequest is the body of POST /search (§6).
type searchRequest struct {
	Query string `json:"query"`
	Lang  string `json:"lang"`
	Limit int    `json:"limit"`
}

// searchResponse is the §6 response shape.
type searchResponse struct {
	Query           string         `json:"query"`
	TranslatedQuery string         `json:"translated_query"`
	Results         []searchResult `json:"results"`
	TotalResults    int            `json:"total_results"`
	ProcessingMs    int64          `json:"processing_ms"`
	Partial         bool           `json:"partial,omitempty"`
}

// searchResult is one §6 result entry.
type searchResult struct {
	ImageID         string          `json:"image_id"`
	ExternalID      string          `json:"external_id"`
	FileName        string          `json:"file_name"`
	FolderPath      string          `json:"folder_path"`
	Room            string          `json:"room"`
	VLMConfidence   float64         `json:"vlm_confidence"`
	FinalScore      float64         `json:"final_score"`
	RetrievalScore  float64         `json:"retrieval_score"`
	Evidence        verify.Evidence `json:"evidence"`
	MatchReasons    []string        `json:"match_reasons"`
	AINotes         string          `json:"ai_notes"`
	ConfidenceBadge rerank.Badge    `json:"confidence_badge"`
}

// HandleSearch runs the three-stage pipeline: Stage A retrieval, Stage B
// VLM verification, Stage C re-rank and filter (§4.6-§4.8).
func HandleSearch(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		var req searchRequest
		if err := ReadJSONBody(r, &req); err != nil {
			WritePlainError(w, http.StatusBadRequest, apperr.KindInput, "invalid request body: "+err.Error())
			return
		}
		if req.Query == "" {
			WritePlainError(w, http.StatusBadRequest, apperr.KindInput, "query must not be empty")
			return
		}
		if req.Limit < 0 {
			WritePlainError(w, http.StatusBadRequest, apperr.KindInput, "limit must not be negative")
			return
		}

		lang := req.Lang
		if lang == "" || lang == "auto" {
			lang = query.DetectLang(req.Query)
		} else if lang != "en" && lang != "he" {
			WritePlainError(w, http.StatusBadRequest, apperr.KindInput, "unknown language: "+lang)
			return
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), searchDeadline)
		defer cancel()

		parsed := query.Parse(req.Query, lang)

		cfg := app.cfg.Get()
		topK := cfg.TopK
		if topK <= 0 {
			topK = 120
		}

		candidates, err := app.retriever.Retrieve(ctx, parsed, topK)
		if err != nil {
			if ctx.Err() != nil {
				// Deadline exceeded before Stage A produced anything to
				// verify or rerank: nothing has passed Stage C yet.
				WriteJSON(w, http.StatusOK, searchResponse{
					Query:           req.Query,
					TranslatedQuery: parsed.NormalizedText,
					Results:         []searchResult{},
					TotalResults:    0,
					ProcessingMs:    time.Since(start).Milliseconds(),
					Partial:         true,
				})
				return
			}
			WriteError(w, err)
			return
		}

		partial := false
		refs := make([]verify.ImageRef, len(candidates))
		for i, c := range candidates {
			refs[i] = verify.ImageRef{
				ImageID:     c.ImageID,
				ExternalID:  c.ExternalID,
				URL:         app.imageURL(c.ExternalID),
				ContentHash: fmt.Sprintf("%x", c.Phash),
			}
		}
		verdicts, err := app.verifier.Verify(ctx, req.Query, parsed.NormalizedText, refs)
		if err != nil {
			if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindAuth {
				WriteError(w, err)
				return
			}
			partial = true
			if verdicts == nil {
				verdicts = make([]verify.Verdict, len(candidates))
			}
		}

		results := rerank.Rerank(candidates, verdicts, app.rerankP)

		limit := req.Limit
		if limit > 0 && limit < len(results) {
			results = results[:limit]
		}

		out := make([]searchResult, len(results))
		for i, res := range results {
			out[i] = searchResult{
				ImageID:         res.ImageID,
				ExternalID:      res.ExternalID,
				FileName:        res.FileName,
				FolderPath:      res.FolderPath,
				Room:            res.Room,
				VLMConfidence:   res.VLMConfidence,
				FinalScore:      res.FinalScore,
				RetrievalScore:  res.RetrievalScore,
				Evidence:        res.Evidence,
				MatchReasons:    res.MatchReasons,
				AINotes:         res.AINotes,
				ConfidenceBadge: res.ConfidenceBadge,
			}
		}

		WriteJSON(w, http.StatusOK, searchResponse{
			Query:           req.Query,
			TranslatedQuery: parsed.NormalizedText,
			Results:         out,
			TotalResults:    len(out),
			ProcessingMs:    time.Since(start).Milliseconds(),
			Partial:         partial,
		})
	}
}

// imageURL builds the public reference URL for externalID against the
// configured source store, in the same path convention as
// sourcestore.Client.FetchBytes.
func (a *App) imageURL(externalID string) string {
	return fmt.Sprintf("%s/files/%s/content", a.source.BaseURL, externalID)
}
