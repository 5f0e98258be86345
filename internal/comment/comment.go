package comment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
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

type Comment struct {
	ID         string     `json:"id"`
	MovieID    string     `json:"movieId"`
	UserID     string     `json:"userId"`
	AuthorName string     `json:"authorName"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

type commentRequest struct {
	Body string `json:"body"`
}

// List returns a movie's comments oldest first. No auth; the board is public.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "id")

	rows, err := h.db.Query(r.Context(),
		`SELECT c.id, c.movie_id, c.user_id, u.name, c.body, c.created_at, c.updated_at
		 FROM movie_comments c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.movie_id = $1
		 ORDER BY c.created_at`,
		movieID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load comments")
		return
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.MovieID, &c.UserID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan comment")
			return
		}
		comments = append(comments, c)
	}
	httputil.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		httputil.WriteError(w, http.StatusBadRequest, "comment cannot be empty")
		return
	}
	if msg := validate.CommentBody(req.Body); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var c Comment
	err := h.db.QueryRow(r.Context(),
		`WITH inserted AS (
		   INSERT INTO movie_comments (movie_id, user_id, body)
		   VALUES ($1, $2, $3)
		   RETURNING id, movie_id, user_id, body, created_at, updated_at
		 )
		 SELECT i.id, i.movie_id, i.user_id, u.name, i.body, i.created_at, i.updated_at
		 FROM inserted i JOIN users u ON u.id = i.user_id`,
		movieID, userID, req.Body,
	).Scan(&c.ID, &c.MovieID, &c.UserID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		slog.Error("comment: create failed", "user_id", userID, "movie_id", movieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not post comment")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

// Update edits a comment's body. The user_id in the WHERE clause keeps
// callers from touching other people's comments.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	commentID := chi.URLParam(r, "commentID")

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		httputil.WriteError(w, http.StatusBadRequest, "comment cannot be empty")
		return
	}
	if msg := validate.CommentBody(req.Body); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var c Comment
	err := h.db.QueryRow(r.Context(),
		`WITH updated AS (
		   UPDATE movie_comments SET body = $1, updated_at = now()
		   WHERE id = $2 AND user_id = $3
		   RETURNING id, movie_id, user_id, body, created_at, updated_at
		 )
		 SELECT p.id, p.movie_id, p.user_id, u.name, p.body, p.created_at, p.updated_at
		 FROM updated p JOIN users u ON u.id = p.user_id`,
		req.Body, commentID, userID,
	).Scan(&c.ID, &c.MovieID, &c.UserID, &c.AuthorName, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "comment not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "could not update comment")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	commentID := chi.URLParam(r, "commentID")

	tag, err := h.db.Exec(r.Context(),
		"DELETE FROM movie_comments WHERE id = $1 AND user_id = $2",
		commentID, userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete comment")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "comment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
