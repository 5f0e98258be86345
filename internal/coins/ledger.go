package coins

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Balance is a user's coin holdings. Bonus coins are promotional currency
// and are always spent before regular coins. Both fields stay >= 0.
type Balance struct {
	Coins      int `json:"coins"`
	BonusCoins int `json:"bonusCoins"`
}

func (b Balance) Total() int {
	return b.Coins + b.BonusCoins
}

func (b Balance) CanAfford(amount int) bool {
	return amount >= 0 && b.Total() >= amount
}

// ErrInsufficientFunds is returned when a spend exceeds the total balance.
var ErrInsufficientFunds = errors.New("insufficient coins")

// Split computes the balance after spending amount, draining bonus coins
// first. ok is false (and the balance unchanged) when the total is too low.
func Split(b Balance, amount int) (Balance, bool) {
	if !b.CanAfford(amount) {
		return b, false
	}
	fromBonus := amount
	if fromBonus > b.BonusCoins {
		fromBonus = b.BonusCoins
	}
	return Balance{
		Coins:      b.Coins - (amount - fromBonus),
		BonusCoins: b.BonusCoins - fromBonus,
	}, true
}

// querier is the subset of pgx.Tx the ledger helpers need, so they run
// inside whatever transaction the caller owns.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SpendTx debits amount from the user's balance with the row locked, and
// appends the ledger entry. The caller owns the surrounding transaction, so
// a later failure (for example an unlock conflict) rolls the debit back too.
func SpendTx(ctx context.Context, q querier, userID string, amount int, kind, description string, movieID *string) (Balance, error) {
	var current Balance
	err := q.QueryRow(ctx,
		"SELECT coins, bonus_coins FROM user_balances WHERE user_id = $1 FOR UPDATE",
		userID,
	).Scan(&current.Coins, &current.BonusCoins)
	if err != nil {
		return Balance{}, fmt.Errorf("load balance: %w", err)
	}

	next, ok := Split(current, amount)
	if !ok {
		return current, ErrInsufficientFunds
	}

	if _, err := q.Exec(ctx,
		"UPDATE user_balances SET coins = $1, bonus_coins = $2, updated_at = now() WHERE user_id = $3",
		next.Coins, next.BonusCoins, userID,
	); err != nil {
		return Balance{}, fmt.Errorf("update balance: %w", err)
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO transactions (user_id, kind, coins_delta, bonus_delta, movie_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, kind, next.Coins-current.Coins, next.BonusCoins-current.BonusCoins, movieID, description,
	); err != nil {
		return Balance{}, fmt.Errorf("record transaction: %w", err)
	}

	return next, nil
}

// CreditTx adds coins and bonus coins to the user's balance, creating the
// row if signup somehow never did, and appends the ledger entry.
func CreditTx(ctx context.Context, q querier, userID string, coins, bonus int, kind, description string) (Balance, error) {
	var next Balance
	err := q.QueryRow(ctx,
		`INSERT INTO user_balances (user_id, coins, bonus_coins)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET coins = user_balances.coins + EXCLUDED.coins,
		     bonus_coins = user_balances.bonus_coins + EXCLUDED.bonus_coins,
		     updated_at = now()
		 RETURNING coins, bonus_coins`,
		userID, coins, bonus,
	).Scan(&next.Coins, &next.BonusCoins)
	if err != nil {
		return Balance{}, fmt.Errorf("credit balance: %w", err)
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO transactions (user_id, kind, coins_delta, bonus_delta, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, kind, coins, bonus, description,
	); err != nil {
		return Balance{}, fmt.Errorf("record transaction: %w", err)
	}

	return next, nil
}
