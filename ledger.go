package dca

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceView is an immutable snapshot of one prepaid execution-fee balance.
type BalanceView struct {
	User    common.Address `json:"user"`
	Balance *big.Int       `json:"balance"`
}

// BalanceLedger holds per-user prepaid execution-fee balances. It is
// deliberately generic: the account-existence requirement on deposits is
// enforced by the caller (the system), not here. Balances are credited by
// deposits and debited only through the privileged deduction path; a
// balance never goes negative.
type BalanceLedger struct {
	balances map[common.Address]*big.Int
}

func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		balances: make(map[common.Address]*big.Int),
	}
}

// NewBalanceLedgerFromViews reconstructs a BalanceLedger from a snapshot,
// deep-copying every balance.
func NewBalanceLedgerFromViews(views []BalanceView) *BalanceLedger {
	ledger := &BalanceLedger{
		balances: make(map[common.Address]*big.Int, len(views)),
	}
	for _, view := range views {
		balance := new(big.Int)
		if view.Balance != nil {
			balance.Set(view.Balance)
		}
		ledger.balances[view.User] = balance
	}
	return ledger
}

// credit adds amount to user's balance, creating the balance entry if it
// does not exist yet.
func credit(user common.Address, amount *big.Int, ledger *BalanceLedger) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, ok := ledger.balances[user]
	if !ok {
		balance = new(big.Int)
		ledger.balances[user] = balance
	}
	balance.Add(balance, amount)
	return nil
}

// debit removes cost from user's balance. The underflow guard is explicit:
// if cost exceeds the current balance nothing is applied and
// ErrInsufficientBalance is returned.
func debit(user common.Address, cost *big.Int, ledger *BalanceLedger) error {
	if cost == nil || cost.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, ok := ledger.balances[user]
	if !ok || balance.Cmp(cost) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, cost)
	return nil
}

// balanceOf returns a copy of user's balance. Users without a balance
// entry read as zero.
func balanceOf(user common.Address, ledger *BalanceLedger) *big.Int {
	balance, ok := ledger.balances[user]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// viewLedger returns all nonzero balance entries. Ordering is not
// significant; callers that persist snapshots should not rely on it.
func viewLedger(ledger *BalanceLedger) []BalanceView {
	if len(ledger.balances) == 0 {
		return nil
	}
	views := make([]BalanceView, 0, len(ledger.balances))
	for user, balance := range ledger.balances {
		if balance.Sign() == 0 {
			continue
		}
		views = append(views, BalanceView{
			User:    user,
			Balance: new(big.Int).Set(balance),
		})
	}
	return views
}
