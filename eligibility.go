package dca

import (
	"math/big"
	"time"
)

// Eligibility reports every sub-predicate that feeds the due-for-execution
// decision for a single account, so external tooling can diagnose exactly
// why an account is or is not picked up by the scan.
type Eligibility struct {
	Exists bool `json:"exists"`
	// Paused is reported for diagnosability only. The scan does not
	// consult it; see Eligible.
	Paused bool `json:"paused"`
	// Due is true when the account's next execution time is strictly in
	// the past.
	Due bool `json:"due"`
	// Transactable is true when the prepaid execution-fee balance strictly
	// exceeds the fee reserve threshold at the observed gas price.
	Transactable bool `json:"transactable"`
	// Spendable is true when both the sell-token balance and the allowance
	// granted to the spender strictly exceed the per-execution amount.
	Spendable bool `json:"spendable"`
}

// Eligible mirrors the scan's composition exactly: time due, fee reserve
// funded, and tokens spendable. Paused accounts are NOT excluded here,
// matching the scan; pausing blocks nothing in this path.
func (e Eligibility) Eligible() bool {
	return e.Exists && e.Due && e.Transactable && e.Spendable
}

// execTimeReached reports whether nextExec is strictly before now.
// An account whose schedule lands exactly on now is not yet due.
func execTimeReached(nextExec, now time.Time) bool {
	return nextExec.Before(now)
}

// transactable reports whether the prepaid balance strictly exceeds
// maxSwapCost * gasPrice. The gas price is whatever the caller observed at
// query time, so the threshold is dynamic, not a stored constant.
func transactable(prepaidBalance, maxSwapCost, gasPrice *big.Int) bool {
	threshold := new(big.Int).Mul(maxSwapCost, gasPrice)
	return prepaidBalance.Cmp(threshold) > 0
}

// spendable reports whether both the token balance and the allowance
// strictly exceed amount. Equality is not spendable: an account holding or
// approving exactly the swap amount fails this check.
func spendable(tokenBalance, allowance, amount *big.Int) bool {
	return tokenBalance.Cmp(amount) > 0 && allowance.Cmp(amount) > 0
}
