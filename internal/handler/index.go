package handler

import (
	"net/http"

	"imagesearch/internal/apperr"
)

type indexStartResponse struct {
	Status string `json:"status"`
}

// HandleIndexStart triggers one indexing run over the configured source
// root, or reports already_running if one is in flight (§6).
func HandleIndexStart(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		if !CheckAdminAuth(app, r) {
			WritePlainError(w, http.StatusUnauthorized, apperr.KindAuth, "invalid or missing admin token")
			return
		}
		cfg := app.cfg.Get()
		if cfg.SourceRootID == "" {
			WritePlainError(w, http.StatusBadRequest, apperr.KindInput, "SOURCE_ROOT_ID is not configured")
			return
		}
		if !app.startIndexRun(cfg.SourceRootID) {
			WriteJSON(w, http.StatusOK, indexStartResponse{Status: "already_running"})
			return
		}
		WriteJSON(w, http.StatusOK, indexStartResponse{Status: "started"})
	}
}

// HandleIndexStop cancels an in-flight indexing run (SPEC_FULL §D.1).
func HandleIndexStop(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		if !CheckAdminAuth(app, r) {
			WritePlainError(w, http.StatusUnauthorized, apperr.KindAuth, "invalid or missing admin token")
			return
		}
		stopped := app.stopIndexRun()
		status := "not_running"
		if stopped {
			status = "stopping"
		}
		WriteJSON(w, http.StatusOK, indexStartResponse{Status: status})
	}
}

// indexStatusResponse mirrors the §6 shape exactly.
type indexStatusResponse struct {
	IsRunning      bool     `json:"is_running"`
	StartedAt      *int64   `json:"started_at,omitempty"`
	ProcessedCount int      `json:"processed_count"`
	TotalCount     int      `json:"total_count"`
	ProgressPct    float64  `json:"progress_pct"`
	CurrentFile    string   `json:"current_file,omitempty"`
	Errors         []string `json:"errors"`
}

// HandleIndexStatus reports the progress tracker's current snapshot.
func HandleIndexStatus(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		snap := app.tracker.Snapshot()
		pct := 0.0
		if snap.TotalCount > 0 {
			pct = 100 * float64(snap.ProcessedCount) / float64(snap.TotalCount)
		}
		errs := snap.Errors
		if errs == nil {
			errs = []string{}
		}
		WriteJSON(w, http.StatusOK, indexStatusResponse{
			IsRunning:      snap.IsRunning,
			StartedAt:      snap.StartedAt,
			ProcessedCount: snap.ProcessedCount,
			TotalCount:     snap.TotalCount,
			ProgressPct:    pct,
			CurrentFile:    snap.CurrentFile,
			Errors:         errs,
		})
	}
}

// HandleIndexErrors surfaces the capped error list on its own, for
// operator tooling (SPEC_FULL §D.2).
func HandleIndexErrors(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		snap := app.tracker.Snapshot()
		errs := snap.Errors
		if errs == nil {
			errs = []string{}
		}
		WriteJSON(w, http.StatusOK, map[string][]string{"errors": errs})
	}
}
