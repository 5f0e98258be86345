package unlock

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/coins"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/notify"
)

// Handler gates cost-locked episodes. Spend and unlock happen in one
// database transaction so a failed unlock can never leave the user charged
// without access.
type Handler struct {
	db  database.DBTX
	bus *notify.Bus
}

func NewHandler(db database.DBTX, bus *notify.Bus) *Handler {
	return &Handler{db: db, bus: bus}
}

type unlockResponse struct {
	Unlocked bool           `json:"unlocked"`
	Charged  bool           `json:"charged"`
	Balance  *coins.Balance `json:"balance,omitempty"`
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	movieID := chi.URLParam(r, "id")

	var locked bool
	var cost int
	var title string
	err := h.db.QueryRow(r.Context(),
		"SELECT locked, coin_cost, title FROM movies WHERE id = $1",
		movieID,
	).Scan(&locked, &cost, &title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "movie not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "could not load movie")
		return
	}

	if !locked {
		httputil.WriteJSON(w, http.StatusOK, unlockResponse{Unlocked: true, Charged: false})
		return
	}

	var alreadyUnlocked bool
	err = h.db.QueryRow(r.Context(),
		"SELECT EXISTS(SELECT 1 FROM user_episode_unlocks WHERE user_id = $1 AND movie_id = $2)",
		userID, movieID,
	).Scan(&alreadyUnlocked)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not check unlock state")
		return
	}
	if alreadyUnlocked {
		httputil.WriteJSON(w, http.StatusOK, unlockResponse{Unlocked: true, Charged: false})
		return
	}

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	balance, err := coins.SpendTx(r.Context(), tx, userID, cost, coins.KindUnlock, "unlock: "+title, &movieID)
	if errors.Is(err, coins.ErrInsufficientFunds) {
		h.bus.Warning(userID, "not enough coins to unlock this episode")
		httputil.WriteError(w, http.StatusPaymentRequired, "insufficient coins")
		return
	}
	if err != nil {
		slog.Error("unlock: spend failed", "user_id", userID, "movie_id", movieID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not unlock episode")
		return
	}

	tag, err := tx.Exec(r.Context(),
		`INSERT INTO user_episode_unlocks (user_id, movie_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, movie_id) DO NOTHING`,
		userID, movieID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not record unlock")
		return
	}

	// A concurrent request already unlocked this episode. The deferred
	// rollback undoes this request's charge; the caller still gets access.
	if tag.RowsAffected() == 0 {
		httputil.WriteJSON(w, http.StatusOK, unlockResponse{Unlocked: true, Charged: false})
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not commit unlock")
		return
	}

	h.bus.Success(userID, "episode unlocked")
	httputil.WriteJSON(w, http.StatusOK, unlockResponse{Unlocked: true, Charged: true, Balance: &balance})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		"SELECT movie_id FROM user_episode_unlocks WHERE user_id = $1 ORDER BY created_at",
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load unlocks")
		return
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan unlock")
			return
		}
		ids = append(ids, id)
	}

	httputil.WriteJSON(w, http.StatusOK, ids)
}
