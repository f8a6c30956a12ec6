package handler

import (
	"database/sql"
	"net/http"

	"imagesearch/internal/apperr"
)

type statsResponse struct {
	Counts       map[string]int `json:"counts"`
	RoomCounts   map[string]int `json:"room_counts"`
	ObjectCounts map[string]int `json:"object_counts"`
	ColorCounts  map[string]int `json:"color_counts"`
}

// HandleStats reports row counts per table and the three distribution
// maps named in §6.
func HandleStats(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WritePlainError(w, http.StatusMethodNotAllowed, apperr.KindInput, "method not allowed")
			return
		}
		db := app.store.DB()

		counts := map[string]int{}
		for _, table := range []string{"images", "objects", "room_scores", "captions", "tags"} {
			var n int
			if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				WriteError(w, apperr.Wrap(apperr.KindFatal, "count "+table, err))
				return
			}
			counts[table] = n
		}

		roomCounts, err := distribution(r, db, `SELECT room, COUNT(*) FROM images WHERE room != '' GROUP BY room`)
		if err != nil {
			WriteError(w, apperr.Wrap(apperr.KindFatal, "room distribution", err))
			return
		}
		objectCounts, err := distribution(r, db, `SELECT label, COUNT(*) FROM objects GROUP BY label`)
		if err != nil {
			WriteError(w, apperr.Wrap(apperr.KindFatal, "object distribution", err))
			return
		}
		colorCounts, err := distribution(r, db, `SELECT color_name, COUNT(*) FROM objects WHERE color_name != '' GROUP BY color_name`)
		if err != nil {
			WriteError(w, apperr.Wrap(apperr.KindFatal, "color distribution", err))
			return
		}

		WriteJSON(w, http.StatusOK, statsResponse{
			Counts:       counts,
			RoomCounts:   roomCounts,
			ObjectCounts: objectCounts,
			ColorCounts:  colorCounts,
		})
	}
}

func distribution(r *http.Request, db *sql.DB, query string) (map[string]int, error) {
	rows, err := db.QueryContext(r.Context(), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
