package catalog

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/geoip"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/storage"
	"github.com/reelhouse/reelhouse/internal/validate"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50

	// Presigned URLs outlive a typical playback session but not a shared link.
	playbackURLExpiry = 4 * time.Hour
)

type Handler struct {
	db        database.DBTX
	storage   *storage.Storage
	geo       *geoip.Resolver
	jwtSecret string
}

func NewHandler(db database.DBTX, store *storage.Storage, geo *geoip.Resolver, jwtSecret string) *Handler {
	return &Handler{db: db, storage: store, geo: geo, jwtSecret: jwtSecret}
}

type Movie struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	PosterURL       string    `json:"posterUrl"`
	Genre           string    `json:"genre"`
	ReleaseYear     *int      `json:"releaseYear,omitempty"`
	DurationSeconds int       `json:"durationSeconds"`
	Locked          bool      `json:"locked"`
	CoinCost        int       `json:"coinCost"`
	CreatedAt       time.Time `json:"createdAt"`
}

type listResponse struct {
	Movies     []Movie `json:"movies"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// List serves the infinite-scroll feed. Pagination is keyset on
// (created_at, id) so new uploads never shift pages the client already holds.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}

	query := `SELECT id, title, description, poster_url, genre, release_year, duration_seconds, locked, coin_cost, created_at
		FROM movies`
	var conds []string
	var args []any

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		createdAt, id, err := decodeCursor(cursor)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		args = append(args, createdAt, id)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	if genre := r.URL.Query().Get("genre"); genre != "" {
		args = append(args, genre)
		conds = append(conds, fmt.Sprintf("genre = $%d", len(args)))
	}
	if q := r.URL.Query().Get("q"); q != "" {
		if msg := validate.SearchQuery(q); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		slog.Error("catalog: list query failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load movies")
		return
	}
	defer rows.Close()

	movies := make([]Movie, 0, limit)
	for rows.Next() {
		var m Movie
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.PosterURL, &m.Genre,
			&m.ReleaseYear, &m.DurationSeconds, &m.Locked, &m.CoinCost, &m.CreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan movie")
			return
		}
		movies = append(movies, m)
	}

	resp := listResponse{Movies: movies}
	if len(movies) > limit {
		resp.Movies = movies[:limit]
		last := resp.Movies[limit-1]
		resp.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type detailResponse struct {
	Movie
	Unlocked bool `json:"unlocked"`
}

// Detail returns a single movie with the caller's unlock status. Auth is
// optional; anonymous callers see locked titles as locked.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "id")

	var m Movie
	err := h.db.QueryRow(r.Context(),
		`SELECT id, title, description, poster_url, genre, release_year, duration_seconds, locked, coin_cost, created_at
		 FROM movies WHERE id = $1`,
		movieID,
	).Scan(&m.ID, &m.Title, &m.Description, &m.PosterURL, &m.Genre,
		&m.ReleaseYear, &m.DurationSeconds, &m.Locked, &m.CoinCost, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "movie not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "could not load movie")
		return
	}

	resp := detailResponse{Movie: m, Unlocked: !m.Locked}
	if userID := auth.OptionalUserID(r, h.jwtSecret); userID != "" && m.Locked {
		var unlocked bool
		err := h.db.QueryRow(r.Context(),
			"SELECT EXISTS(SELECT 1 FROM user_episode_unlocks WHERE user_id = $1 AND movie_id = $2)",
			userID, movieID,
		).Scan(&unlocked)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not check unlock state")
			return
		}
		resp.Unlocked = unlocked
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type playbackSource struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

type playbackSubtitle struct {
	Language string `json:"language"`
	URL      string `json:"url"`
}

type playbackResponse struct {
	Sources   []playbackSource   `json:"sources"`
	Subtitles []playbackSubtitle `json:"subtitles"`
	ExpiresIn int                `json:"expiresIn"`
}

// Playback hands out presigned source URLs. Locked titles require an unlock
// row for the caller, and region-restricted titles are gated on the client IP.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "id")

	var locked bool
	var regions []string
	err := h.db.QueryRow(r.Context(),
		"SELECT locked, regions FROM movies WHERE id = $1",
		movieID,
	).Scan(&locked, &regions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "movie not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "could not load movie")
		return
	}

	if !h.geo.Allowed(r, regions) {
		httputil.WriteError(w, http.StatusForbidden, "not available in your region")
		return
	}

	if locked {
		userID := auth.OptionalUserID(r, h.jwtSecret)
		if userID == "" {
			httputil.WriteError(w, http.StatusForbidden, "this episode is locked")
			return
		}
		var unlocked bool
		err := h.db.QueryRow(r.Context(),
			"SELECT EXISTS(SELECT 1 FROM user_episode_unlocks WHERE user_id = $1 AND movie_id = $2)",
			userID, movieID,
		).Scan(&unlocked)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not check unlock state")
			return
		}
		if !unlocked {
			httputil.WriteError(w, http.StatusForbidden, "this episode is locked")
			return
		}
	}

	sources, err := h.presignSources(r, movieID)
	if err != nil {
		slog.Error("catalog: presign sources failed", "movie_id", movieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not prepare playback")
		return
	}
	if len(sources) == 0 {
		httputil.WriteError(w, http.StatusNotFound, "no playable sources")
		return
	}
	subtitles, err := h.presignSubtitles(r, movieID)
	if err != nil {
		slog.Error("catalog: presign subtitles failed", "movie_id", movieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not prepare playback")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, playbackResponse{
		Sources:   sources,
		Subtitles: subtitles,
		ExpiresIn: int(playbackURLExpiry.Seconds()),
	})
}

func (h *Handler) presignSources(r *http.Request, movieID string) ([]playbackSource, error) {
	rows, err := h.db.Query(r.Context(),
		"SELECT quality, object_key FROM movie_sources WHERE movie_id = $1 ORDER BY quality",
		movieID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := make([]playbackSource, 0, 4)
	for rows.Next() {
		var quality, key string
		if err := rows.Scan(&quality, &key); err != nil {
			return nil, err
		}
		url, err := h.storage.GeneratePlaybackURL(r.Context(), key, playbackURLExpiry)
		if err != nil {
			return nil, err
		}
		sources = append(sources, playbackSource{Quality: quality, URL: url})
	}
	return sources, rows.Err()
}

func (h *Handler) presignSubtitles(r *http.Request, movieID string) ([]playbackSubtitle, error) {
	rows, err := h.db.Query(r.Context(),
		"SELECT language, object_key FROM movie_subtitles WHERE movie_id = $1 ORDER BY language",
		movieID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subtitles := make([]playbackSubtitle, 0)
	for rows.Next() {
		var language, key string
		if err := rows.Scan(&language, &key); err != nil {
			return nil, err
		}
		url, err := h.storage.GeneratePlaybackURL(r.Context(), key, playbackURLExpiry)
		if err != nil {
			return nil, err
		}
		subtitles = append(subtitles, playbackSubtitle{Language: language, URL: url})
	}
	return subtitles, rows.Err()
}

func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return createdAt, parts[1], nil
}
