package dca

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountView is an immutable snapshot of a single scheduled account.
type AccountView struct {
	Owner     common.Address `json:"owner"`
	Interval  time.Duration  `json:"interval"`
	NextExec  time.Time      `json:"nextExec"`
	Amount    *big.Int       `json:"amount"`
	SellToken common.Address `json:"sellToken"`
	BuyToken  common.Address `json:"buyToken"`
	PoolFee   uint32         `json:"poolFee"`
	Paused    bool           `json:"paused"`
}

// accountRecord is the registry's internal mutable state for one owner.
type accountRecord struct {
	interval  time.Duration
	nextExec  time.Time
	amount    *big.Int
	sellToken common.Address
	buyToken  common.Address
	poolFee   uint32
	paused    bool
}

// AccountRegistry maps owners to their scheduling state and preserves
// registration order. Existence is the map membership itself, so a record
// can never be observed with a zero next-execution time. Accounts are never
// removed; the owner list is append-only and pausing is the only soft
// removal.
type AccountRegistry struct {
	accounts map[common.Address]*accountRecord
	// owners holds registration order for the scan. An owner appears here
	// exactly once, appended on first setup only.
	owners []common.Address
}

func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{
		accounts: make(map[common.Address]*accountRecord),
	}
}

// NewAccountRegistryFromViews reconstructs an AccountRegistry from a slice
// of AccountView structs, preserving their order as registration order.
// This is the primary mechanism for restoring the registry's state from a
// snapshot. Amounts are deep-copied so later mutation of the input views
// cannot reach the registry's internal state.
func NewAccountRegistryFromViews(views []AccountView) *AccountRegistry {
	registry := &AccountRegistry{
		accounts: make(map[common.Address]*accountRecord, len(views)),
		owners:   make([]common.Address, 0, len(views)),
	}

	for _, view := range views {
		if _, ok := registry.accounts[view.Owner]; !ok {
			registry.owners = append(registry.owners, view.Owner)
		}
		amount := new(big.Int)
		if view.Amount != nil {
			amount.Set(view.Amount)
		}
		registry.accounts[view.Owner] = &accountRecord{
			interval:  view.Interval,
			nextExec:  view.NextExec,
			amount:    amount,
			sellToken: view.SellToken,
			buyToken:  view.BuyToken,
			poolFee:   view.PoolFee,
			paused:    view.Paused,
		}
	}

	return registry
}

// setUpAccount writes the full record for owner. First-time owners are
// appended to the ordered owner list; repeat setup rewrites the record in
// place without duplicating the list entry. The next execution time is
// always reset to now+interval and the account is always unpaused, repeat
// setup included.
func setUpAccount(
	owner common.Address,
	interval time.Duration,
	amount *big.Int,
	sellToken, buyToken common.Address,
	poolFee uint32,
	now time.Time,
	registry *AccountRegistry,
) (created bool, err error) {
	if interval <= 0 {
		return false, ErrInvalidInterval
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}

	if _, ok := registry.accounts[owner]; !ok {
		registry.owners = append(registry.owners, owner)
		created = true
	}

	registry.accounts[owner] = &accountRecord{
		interval:  interval,
		nextExec:  now.Add(interval),
		amount:    new(big.Int).Set(amount),
		sellToken: sellToken,
		buyToken:  buyToken,
		poolFee:   poolFee,
		paused:    false,
	}

	return created, nil
}

func setInterval(owner common.Address, interval time.Duration, registry *AccountRegistry) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	record, ok := registry.accounts[owner]
	if !ok {
		return ErrAccountNotFound
	}
	record.interval = interval
	return nil
}

func setAmount(owner common.Address, amount *big.Int, registry *AccountRegistry) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, ok := registry.accounts[owner]
	if !ok {
		return ErrAccountNotFound
	}
	record.amount = new(big.Int).Set(amount)
	return nil
}

// setSellToken changes the sell token only. The cached pool fee is
// deliberately left untouched; see SetSellToken on the system.
func setSellToken(owner common.Address, token common.Address, registry *AccountRegistry) error {
	record, ok := registry.accounts[owner]
	if !ok {
		return ErrAccountNotFound
	}
	record.sellToken = token
	return nil
}

func setBuyToken(owner common.Address, token common.Address, registry *AccountRegistry) error {
	record, ok := registry.accounts[owner]
	if !ok {
		return ErrAccountNotFound
	}
	record.buyToken = token
	return nil
}

func setPaused(owner common.Address, paused bool, registry *AccountRegistry) error {
	record, ok := registry.accounts[owner]
	if !ok {
		return ErrAccountNotFound
	}
	record.paused = paused
	return nil
}

// advanceNextExec moves the schedule forward by exactly one interval from
// its previous value, never from the current time. Missed intervals
// therefore compound additively and the cadence grid stays fixed.
func advanceNextExec(owner common.Address, registry *AccountRegistry) (time.Time, error) {
	record, ok := registry.accounts[owner]
	if !ok {
		return time.Time{}, ErrAccountNotFound
	}
	record.nextExec = record.nextExec.Add(record.interval)
	return record.nextExec, nil
}

func hasAccount(owner common.Address, registry *AccountRegistry) bool {
	_, ok := registry.accounts[owner]
	return ok
}

// getAccount retrieves a single account's view by owner.
func getAccount(owner common.Address, registry *AccountRegistry) (AccountView, error) {
	record, ok := registry.accounts[owner]
	if !ok {
		return AccountView{}, ErrAccountNotFound
	}
	return AccountView{
		Owner:     owner,
		Interval:  record.interval,
		NextExec:  record.nextExec,
		Amount:    new(big.Int).Set(record.amount),
		SellToken: record.sellToken,
		BuyToken:  record.buyToken,
		PoolFee:   record.poolFee,
		Paused:    record.paused,
	}, nil
}

// viewRegistry returns the accounts in registration order. Amounts are
// deep-copied so consumers of the view cannot mutate registry state.
func viewRegistry(registry *AccountRegistry) []AccountView {
	numAccounts := len(registry.owners)
	if numAccounts == 0 {
		return nil
	}

	views := make([]AccountView, 0, numAccounts)
	for _, owner := range registry.owners {
		record := registry.accounts[owner]
		views = append(views, AccountView{
			Owner:     owner,
			Interval:  record.interval,
			NextExec:  record.nextExec,
			Amount:    new(big.Int).Set(record.amount),
			SellToken: record.sellToken,
			BuyToken:  record.buyToken,
			PoolFee:   record.poolFee,
			Paused:    record.paused,
		})
	}
	return views
}
