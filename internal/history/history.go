package history

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/httputil"
)

const maxEntries = 50

type Handler struct {
	db database.DBTX
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{db: db}
}

type upsertRequest struct {
	ProgressSeconds      int `json:"progressSeconds"`
	TotalDurationSeconds int `json:"totalDurationSeconds"`
}

// Upsert records playback position. One row per (user, movie); repeated
// saves from the player overwrite the previous position.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProgressSeconds < 0 || req.TotalDurationSeconds < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "progress cannot be negative")
		return
	}

	device := deviceFromUserAgent(r.UserAgent())
	_, err := h.db.Exec(r.Context(),
		`INSERT INTO user_watch_history (user_id, movie_id, progress_seconds, total_duration_seconds, device, last_watched_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id, movie_id) DO UPDATE
		 SET progress_seconds = EXCLUDED.progress_seconds,
		     total_duration_seconds = EXCLUDED.total_duration_seconds,
		     device = EXCLUDED.device,
		     last_watched_at = now()`,
		userID, movieID, req.ProgressSeconds, req.TotalDurationSeconds, device,
	)
	if err != nil {
		slog.Error("history: upsert failed", "user_id", userID, "movie_id", movieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type Entry struct {
	MovieID              string    `json:"movieId"`
	Title                string    `json:"title"`
	PosterURL            string    `json:"posterUrl"`
	ProgressSeconds      int       `json:"progressSeconds"`
	TotalDurationSeconds int       `json:"totalDurationSeconds"`
	Device               string    `json:"device"`
	LastWatchedAt        time.Time `json:"lastWatchedAt"`
}

// List returns the continue-watching rail, most recently watched first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT h.movie_id, m.title, m.poster_url, h.progress_seconds, h.total_duration_seconds, h.device, h.last_watched_at
		 FROM user_watch_history h
		 JOIN movies m ON m.id = h.movie_id
		 WHERE h.user_id = $1
		 ORDER BY h.last_watched_at DESC
		 LIMIT $2`,
		userID, maxEntries,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load watch history")
		return
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MovieID, &e.Title, &e.PosterURL, &e.ProgressSeconds,
			&e.TotalDurationSeconds, &e.Device, &e.LastWatchedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan history entry")
			return
		}
		entries = append(entries, e)
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		"DELETE FROM user_watch_history WHERE user_id = $1 AND movie_id = $2",
		userID, movieID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete history entry")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "history entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deviceFromUserAgent buckets a User-Agent into Desktop, Mobile or Tablet.
// Android tablets omit the Mobile token, iPads report an iPad platform.
func deviceFromUserAgent(uaString string) string {
	if uaString == "" {
		return "Desktop"
	}
	ua := useragent.New(uaString)
	if strings.Contains(ua.Platform(), "iPad") {
		return "Tablet"
	}
	if strings.Contains(ua.OS(), "Android") && !ua.Mobile() {
		return "Tablet"
	}
	if ua.Mobile() {
		return "Mobile"
	}
	return "Desktop"
}
