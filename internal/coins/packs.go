package coins

import (
	_ "embed"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/httputil"
)

//go:embed packs.json
var packsJSON []byte

// Pack is a purchasable coin bundle. Prices live here rather than in the
// database so storefront and backend always agree.
type Pack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Coins      int    `json:"coins"`
	Bonus      int    `json:"bonus"`
	PriceCents int    `json:"priceCents"`
	Currency   string `json:"currency"`
}

type packsFile struct {
	SignupBonus int    `json:"signupBonus"`
	Packs       []Pack `json:"packs"`
}

var catalog packsFile

func init() {
	if err := json.Unmarshal(packsJSON, &catalog); err != nil {
		log.Fatalf("failed to parse packs.json: %v", err)
	}
}

// SignupBonus is the bonus-coin grant for new accounts.
func SignupBonus() int {
	return catalog.SignupBonus
}

func FindPack(id string) (Pack, bool) {
	for _, p := range catalog.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}

func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, catalog.Packs)
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

// Checkout records the purchase intent and hands back a placeholder checkout
// URL. There is no payment processor behind it; completion happens through
// the signed Credit callback.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	packID := chi.URLParam(r, "id")

	pack, ok := FindPack(packID)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "unknown coin pack")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`INSERT INTO transactions (user_id, kind, coins_delta, bonus_delta, description)
		 VALUES ($1, $2, 0, 0, $3)`,
		userID, KindPurchase, "checkout started: "+pack.ID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not record checkout")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, checkoutResponse{
		CheckoutURL: "/checkout/" + pack.ID,
	})
}
