package coins

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/notify"
)

const testJWTSecret = "test-secret-for-coins-tests"
const testUserID = "550e8400-e29b-41d4-a716-446655440000"

func newTestHandler(t *testing.T) (*Handler, pgxmock.PgxPoolIface, *notify.Bus) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	bus := notify.NewBus()
	return NewHandler(mock, bus), mock, bus
}

func authenticatedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	token, err := auth.GenerateAccessToken(testJWTSecret, testUserID)
	if err != nil {
		t.Fatalf("failed to generate access token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func newAuthMiddleware() func(http.Handler) http.Handler {
	return auth.NewHandler(nil, testJWTSecret, false).Middleware
}

func parseErrorResponse(t *testing.T, body []byte) string {
	t.Helper()
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return errResp.Error
}

func TestGetBalance(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT coins, bonus_coins FROM user_balances`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"coins", "bonus_coins"}).AddRow(100, 50))

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Get("/api/coins", handler.GetBalance)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/coins", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var b Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if b.Coins != 100 || b.BonusCoins != 50 {
		t.Errorf("expected {100 50}, got %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestAfford(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT coins, bonus_coins FROM user_balances`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"coins", "bonus_coins"}).AddRow(100, 50))

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Get("/api/coins/afford", handler.Afford)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/coins/afford?amount=150", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp affordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Affordable {
		t.Error("expected amount equal to total to be affordable")
	}
}

func TestAfford_BadAmount(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Get("/api/coins/afford", handler.Afford)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/coins/afford?amount=lots", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestSpend_Success(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT coins, bonus_coins FROM user_balances WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"coins", "bonus_coins"}).AddRow(100, 50))
	mock.ExpectExec(`UPDATE user_balances SET coins`).
		WithArgs(30, 0, testUserID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs(testUserID, KindSpend, -70, -50, (*string)(nil), "episode rental").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(spendRequest{Amount: 120, Reason: "episode rental"})

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Post("/api/coins/spend", handler.Spend)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/coins/spend", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var b Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if b.Coins != 30 || b.BonusCoins != 0 {
		t.Errorf("expected {30 0}, got %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestSpend_InsufficientFunds(t *testing.T) {
	handler, mock, bus := newTestHandler(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT coins, bonus_coins FROM user_balances WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(testUserID).
		WillReturnRows(pgxmock.NewRows([]string{"coins", "bonus_coins"}).AddRow(100, 50))
	mock.ExpectRollback()

	body, _ := json.Marshal(spendRequest{Amount: 1000, Reason: "episode rental"})

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Post("/api/coins/spend", handler.Spend)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/coins/spend", body))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status %d, got %d: %s", http.StatusPaymentRequired, rec.Code, rec.Body.String())
	}
	if msg := parseErrorResponse(t, rec.Body.Bytes()); msg != "insufficient coins" {
		t.Errorf("unexpected error %q", msg)
	}

	snapshot := bus.Snapshot(testUserID)
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 warning notification, got %d", len(snapshot))
	}
	if snapshot[0].Severity != notify.SeverityWarning {
		t.Errorf("expected warning severity, got %q", snapshot[0].Severity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestSpend_RejectsNonPositiveAmount(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	body, _ := json.Marshal(spendRequest{Amount: 0, Reason: "nothing"})

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Post("/api/coins/spend", handler.Spend)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/coins/spend", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestCredit_Success(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()
	handler.SetCreditSecret("ledger-secret")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO user_balances`).
		WithArgs(testUserID, 550, 50).
		WillReturnRows(pgxmock.NewRows([]string{"coins", "bonus_coins"}).AddRow(650, 100))
	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs(testUserID, KindCredit, 550, 50, "pack: plus").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(creditRequest{UserID: testUserID, Coins: 550, Bonus: 50, Description: "pack: plus"})

	req := httptest.NewRequest(http.MethodPost, "/api/coins/add", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, SignPayload("ledger-secret", body))

	rec := httptest.NewRecorder()
	handler.Credit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var b Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if b.Coins != 650 || b.BonusCoins != 100 {
		t.Errorf("expected {650 100}, got %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestCredit_InvalidSignature(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()
	handler.SetCreditSecret("ledger-secret")

	body, _ := json.Marshal(creditRequest{UserID: testUserID, Coins: 100})

	req := httptest.NewRequest(http.MethodPost, "/api/coins/add", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")

	rec := httptest.NewRecorder()
	handler.Credit(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestCredit_DisabledWithoutSecret(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/coins/add", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.Credit(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestCheckout_UnknownPack(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Post("/api/coins/packs/{id}/checkout", handler.Checkout)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/coins/packs/nope/checkout", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestCheckout_RecordsIntent(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs(testUserID, KindPurchase, "checkout started: plus").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := chi.NewRouter()
	r.With(newAuthMiddleware()).Post("/api/coins/packs/{id}/checkout", handler.Checkout)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/coins/packs/plus/checkout", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp checkoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.CheckoutURL != "/checkout/plus" {
		t.Errorf("unexpected checkout URL %q", resp.CheckoutURL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestSignupBonus_FromEmbeddedCatalog(t *testing.T) {
	if SignupBonus() != 50 {
		t.Errorf("expected signup bonus 50, got %d", SignupBonus())
	}
	if _, ok := FindPack("starter"); !ok {
		t.Error("expected starter pack in catalog")
	}
}
