package coins

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/notify"
	"github.com/reelhouse/reelhouse/internal/validate"
)

// Transaction kinds recorded in the ledger.
const (
	KindSpend    = "spend"
	KindCredit   = "credit"
	KindUnlock   = "unlock"
	KindPurchase = "purchase"
)

type Handler struct {
	db           database.DBTX
	bus          *notify.Bus
	creditSecret string
}

func NewHandler(db database.DBTX, bus *notify.Bus) *Handler {
	return &Handler{db: db, bus: bus}
}

// SetCreditSecret enables the signed credit callback used by the purchase
// flow and internal tooling.
func (h *Handler) SetCreditSecret(secret string) {
	h.creditSecret = secret
}

func (h *Handler) loadBalance(r *http.Request, userID string) (Balance, error) {
	var b Balance
	err := h.db.QueryRow(r.Context(),
		"SELECT coins, bonus_coins FROM user_balances WHERE user_id = $1",
		userID,
	).Scan(&b.Coins, &b.BonusCoins)
	return b, err
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	b, err := h.loadBalance(r, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load balance")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, b)
}

type affordResponse struct {
	Affordable bool `json:"affordable"`
}

// Afford is the side-effect-free affordability predicate. The spend endpoint
// re-checks under a row lock, so a stale answer here can never overdraw.
func (h *Handler) Afford(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	amount, err := strconv.Atoi(r.URL.Query().Get("amount"))
	if err != nil || amount < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "amount must be a non-negative integer")
		return
	}

	b, err := h.loadBalance(r, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load balance")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, affordResponse{Affordable: b.CanAfford(amount)})
}

type spendRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Amount <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if msg := validate.SpendReason(req.Reason); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	next, err := SpendTx(r.Context(), tx, userID, req.Amount, KindSpend, req.Reason, nil)
	if errors.Is(err, ErrInsufficientFunds) {
		h.bus.Warning(userID, "not enough coins")
		httputil.WriteError(w, http.StatusPaymentRequired, "insufficient coins")
		return
	}
	if err != nil {
		slog.Error("coins: spend failed", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not spend coins")
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not commit spend")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, next)
}

type creditRequest struct {
	UserID      string `json:"userId"`
	Coins       int    `json:"coins"`
	Bonus       int    `json:"bonus"`
	Description string `json:"description"`
}

// Credit applies an additive balance change. The endpoint is not exposed to
// end users: callers must sign the raw body with the shared ledger secret.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	body, ok := readSignedBody(w, r, h.creditSecret)
	if !ok {
		return
	}

	var req creditRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if req.UserID == "" || req.Coins < 0 || req.Bonus < 0 || (req.Coins == 0 && req.Bonus == 0) {
		httputil.WriteError(w, http.StatusBadRequest, "userId and a positive coin amount are required")
		return
	}

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	next, err := CreditTx(r.Context(), tx, req.UserID, req.Coins, req.Bonus, KindCredit, req.Description)
	if err != nil {
		slog.Error("coins: credit failed", "user_id", req.UserID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not credit coins")
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not commit credit")
		return
	}

	h.bus.Success(req.UserID, "coins added to your balance")
	httputil.WriteJSON(w, http.StatusOK, next)
}

type transactionItem struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	CoinsDelta  int     `json:"coinsDelta"`
	BonusDelta  int     `json:"bonusDelta"`
	MovieID     *string `json:"movieId,omitempty"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"createdAt"`
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT id, kind, coins_delta, bonus_delta, movie_id, description, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT 100`,
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load transactions")
		return
	}
	defer rows.Close()

	items := make([]transactionItem, 0)
	for rows.Next() {
		var item transactionItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.Kind, &item.CoinsDelta, &item.BonusDelta, &item.MovieID, &item.Description, &createdAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not scan transaction")
			return
		}
		item.CreatedAt = createdAt.Format(time.RFC3339)
		items = append(items, item)
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}
