package watchlist

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/validate"
)

type Handler struct {
	db database.DBTX
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{db: db}
}

type addRequest struct {
	MovieID    string  `json:"movieId"`
	CategoryID *string `json:"categoryId,omitempty"`
}

// Add puts a movie on the caller's watchlist, optionally filed under one of
// their categories. Adding the same movie twice is a conflict.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MovieID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "movieId is required")
		return
	}
	if req.CategoryID != nil && !h.ownsCategory(r, userID, *req.CategoryID) {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}

	_, err := h.db.Exec(r.Context(),
		"INSERT INTO user_watchlist (user_id, movie_id, category_id) VALUES ($1, $2, $3)",
		userID, req.MovieID, req.CategoryID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "movie already on watchlist")
			return
		}
		slog.Error("watchlist: add failed", "user_id", userID, "movie_id", req.MovieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not add to watchlist")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		"DELETE FROM user_watchlist WHERE user_id = $1 AND movie_id = $2",
		userID, movieID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not remove from watchlist")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "movie not on watchlist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type Item struct {
	MovieID    string    `json:"movieId"`
	Title      string    `json:"title"`
	PosterURL  string    `json:"posterUrl"`
	Genre      string    `json:"genre"`
	Locked     bool      `json:"locked"`
	CoinCost   int       `json:"coinCost"`
	CategoryID *string   `json:"categoryId,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
}

// List returns the caller's watchlist joined with catalog data, newest first.
// An optional category filter narrows to one shelf.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	query := `SELECT wl.movie_id, m.title, m.poster_url, m.genre, m.locked, m.coin_cost, wl.category_id, wl.created_at
		FROM user_watchlist wl
		JOIN movies m ON m.id = wl.movie_id
		WHERE wl.user_id = $1`
	args := []any{userID}
	if category := r.URL.Query().Get("category"); category != "" {
		query += " AND wl.category_id = $2"
		args = append(args, category)
	}
	query += " ORDER BY wl.created_at DESC"

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load watchlist")
		return
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.MovieID, &it.Title, &it.PosterURL, &it.Genre,
			&it.Locked, &it.CoinCost, &it.CategoryID, &it.AddedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan watchlist item")
			return
		}
		items = append(items, it)
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

// ListIDs returns just the movie IDs on the watchlist so catalog views can
// mark membership without fetching the full list.
func (h *Handler) ListIDs(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		"SELECT movie_id FROM user_watchlist WHERE user_id = $1",
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load watchlist")
		return
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan watchlist id")
			return
		}
		ids = append(ids, id)
	}
	httputil.WriteJSON(w, http.StatusOK, ids)
}

type assignRequest struct {
	CategoryID *string `json:"categoryId"`
}

// AssignCategory moves a watchlist entry into a category, or out of all
// categories when categoryId is null.
func (h *Handler) AssignCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CategoryID != nil && !h.ownsCategory(r, userID, *req.CategoryID) {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		"UPDATE user_watchlist SET category_id = $1 WHERE user_id = $2 AND movie_id = $3",
		req.CategoryID, userID, movieID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not update category")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "movie not on watchlist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		"SELECT id, name, color, created_at FROM user_watchlist_categories WHERE user_id = $1 ORDER BY created_at",
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load categories")
		return
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.CreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan category")
			return
		}
		categories = append(categories, c)
	}
	httputil.WriteJSON(w, http.StatusOK, categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validate.CategoryName(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Color != "" {
		if msg := validate.CategoryColor(req.Color); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	} else {
		req.Color = "#808080"
	}

	var c Category
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO user_watchlist_categories (user_id, name, color)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, color, created_at`,
		userID, req.Name, req.Color,
	).Scan(&c.ID, &c.Name, &c.Color, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "a category with this name already exists")
			return
		}
		slog.Error("watchlist: create category failed", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not create category")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	categoryID := chi.URLParam(r, "id")

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validate.CategoryName(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.CategoryColor(req.Color); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var c Category
	err := h.db.QueryRow(r.Context(),
		`UPDATE user_watchlist_categories SET name = $1, color = $2
		 WHERE id = $3 AND user_id = $4
		 RETURNING id, name, color, created_at`,
		req.Name, req.Color, categoryID, userID,
	).Scan(&c.ID, &c.Name, &c.Color, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "category not found")
			return
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "a category with this name already exists")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "could not update category")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// DeleteCategory removes a category. Watchlist entries filed under it stay
// on the list; the foreign key clears their category reference.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	categoryID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		"DELETE FROM user_watchlist_categories WHERE id = $1 AND user_id = $2",
		categoryID, userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete category")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "category not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ownsCategory(r *http.Request, userID, categoryID string) bool {
	var exists bool
	err := h.db.QueryRow(r.Context(),
		"SELECT EXISTS(SELECT 1 FROM user_watchlist_categories WHERE id = $1 AND user_id = $2)",
		categoryID, userID,
	).Scan(&exists)
	return err == nil && exists
}
