package dca

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is implemented by all observable state-change notifications emitted
// for external indexers. Events are emitted after the mutation has
// committed, outside the registry lock.
type Event interface {
	event()
}

// AccountSetupEvent is emitted on every SetUpAccount call, first-time and
// repeat setups alike.
type AccountSetupEvent struct {
	Owner     common.Address
	Interval  time.Duration
	Amount    *big.Int
	SellToken common.Address
	BuyToken  common.Address
	PoolFee   uint32
	NextExec  time.Time
	// Created distinguishes a first registration from an in-place update.
	Created bool
}

// DepositEvent is emitted when a user credits their execution-fee balance.
type DepositEvent struct {
	User       common.Address
	Amount     *big.Int
	NewBalance *big.Int
}

// DeductionEvent is emitted when the executor debits an execution fee.
type DeductionEvent struct {
	User       common.Address
	Cost       *big.Int
	NewBalance *big.Int
}

// ExecutionEvent is emitted by the keeper after a due account's swap was
// handed off and its schedule advanced.
type ExecutionEvent struct {
	Owner    common.Address
	NextExec time.Time
	Cost     *big.Int
}

func (AccountSetupEvent) event() {}
func (DepositEvent) event()      {}
func (DeductionEvent) event()    {}
func (ExecutionEvent) event()    {}
