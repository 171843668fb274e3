package dca

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// --- Function Type Definitions for Dependencies ---

// These named types create a clear, maintainable contract for the system's dependencies.

type GetClientFunc func() (ethclients.ETHClient, error)
type ResolvePoolFeeFunc func(ctx context.Context, sellToken, buyToken common.Address, client ethclients.ETHClient) (uint32, error)
type TokenBalanceFunc func(ctx context.Context, token, holder common.Address, client ethclients.ETHClient) (*big.Int, error)
type TokenAllowanceFunc func(ctx context.Context, token, owner, spender common.Address, client ethclients.ETHClient) (*big.Int, error)
type GasPriceFunc func(ctx context.Context, client ethclients.ETHClient) (*big.Int, error)
type TransferFromFunc func(ctx context.Context, token, from, to common.Address, amount *big.Int) error
type ExecuteSwapFunc func(ctx context.Context, order SwapOrder) error

type ErrorHandlerFunc func(err error)
type EventHandlerFunc func(evt Event)
type NowFunc func() time.Time

// SwapOrder carries everything the external swap executor needs to perform
// one scheduled swap. The swap itself is out of this system's hands.
type SwapOrder struct {
	Owner     common.Address
	SellToken common.Address
	BuyToken  common.Address
	Amount    *big.Int
	PoolFee   uint32
}

// Config holds all the dependencies and settings for the DCASystem.
// Using a configuration struct makes initialization cleaner and more extensible.
type Config struct {
	SystemName    string
	PrometheusReg prometheus.Registerer

	// Executor is the single privileged identity allowed to advance
	// schedules, deduct fees and pull tokens.
	Executor common.Address
	// Spender is the identity users grant token allowances to; the
	// spendability probe checks allowances against it.
	Spender common.Address
	// MaxSwapCost is the gas budget of one swap execution; the fee-reserve
	// threshold is MaxSwapCost multiplied by the gas price observed at
	// query time.
	MaxSwapCost *big.Int

	GetClient      GetClientFunc
	ResolvePoolFee ResolvePoolFeeFunc
	TokenBalance   TokenBalanceFunc
	TokenAllowance TokenAllowanceFunc
	GasPrice       GasPriceFunc
	TokenTransfer  TransferFromFunc

	// ExecuteSwap and KeeperFrequency enable the built-in keeper loop.
	// With KeeperFrequency <= 0 the loop is disabled and an external
	// driver is expected to poll UserNeedExec itself.
	ExecuteSwap     ExecuteSwapFunc
	KeeperFrequency time.Duration

	ErrorHandler ErrorHandlerFunc
	EventHandler EventHandlerFunc

	// Now is the clock; defaults to time.Now. Injected for deterministic
	// scheduling tests.
	Now NowFunc

	// InitialAccounts and InitialBalances restore a snapshot taken with
	// Snapshot().
	InitialAccounts []AccountView
	InitialBalances []BalanceView

	Logger Logger
}

// validate checks that all essential fields in the Config are provided.
func (c *Config) validate() error {
	if c.SystemName == "" {
		return errors.New("system name is required")
	}
	if c.Executor == (common.Address{}) {
		return errors.New("executor address is required")
	}
	if c.Spender == (common.Address{}) {
		return errors.New("spender address is required")
	}
	if c.MaxSwapCost == nil || c.MaxSwapCost.Sign() <= 0 {
		return errors.New("max swap cost is required")
	}
	if c.GetClient == nil {
		return errors.New("get client function is required")
	}
	if c.ResolvePoolFee == nil {
		return errors.New("resolve pool fee function is required")
	}
	if c.TokenBalance == nil {
		return errors.New("token balance function is required")
	}
	if c.TokenAllowance == nil {
		return errors.New("token allowance function is required")
	}
	if c.GasPrice == nil {
		return errors.New("gas price function is required")
	}
	if c.TokenTransfer == nil {
		return errors.New("token transfer function is required")
	}
	if c.KeeperFrequency > 0 && c.ExecuteSwap == nil {
		return errors.New("execute swap function is required when the keeper is enabled")
	}
	if c.ErrorHandler == nil {
		return errors.New("error handler function is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Snapshot is the full persistable state of a DCASystem.
type Snapshot struct {
	Accounts []AccountView `json:"accounts"`
	Balances []BalanceView `json:"balances"`
}

// DCASystem is the main orchestrator for recurring token swaps. It owns the
// account registry and the execution-fee ledger, evaluates multi-factor
// eligibility against live chain state, and gates the privileged schedule
// and balance mutations behind a single executor identity. Every mutation
// is whole-operation atomic: authorization and validation run before any
// state is touched.
type DCASystem struct {
	systemName string

	executor    common.Address
	spender     common.Address
	maxSwapCost *big.Int

	getClient      GetClientFunc
	resolvePoolFee ResolvePoolFeeFunc
	tokenBalance   TokenBalanceFunc
	tokenAllowance TokenAllowanceFunc
	gasPrice       GasPriceFunc
	tokenTransfer  TransferFromFunc

	executeSwap     ExecuteSwapFunc
	keeperFrequency time.Duration

	errorHandler ErrorHandlerFunc
	eventHandler EventHandlerFunc
	now          NowFunc

	cachedView atomic.Pointer[[]AccountView]

	mu       sync.RWMutex
	registry *AccountRegistry
	ledger   *BalanceLedger

	metrics *Metrics
	logger  Logger
}

// NewDCASystem constructs and returns a new, fully initialized system.
// With a keeper frequency configured it is a self-contained, "live" service
// upon creation; otherwise it is a passive registry driven by an external
// automation caller.
func NewDCASystem(ctx context.Context, cfg *Config) (*DCASystem, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid dca system configuration: %w", err)
	}

	metrics := NewMetrics(cfg.PrometheusReg, cfg.SystemName)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	eventHandler := cfg.EventHandler
	if eventHandler == nil {
		eventHandler = func(Event) {}
	}

	system := &DCASystem{
		systemName:     cfg.SystemName,
		executor:       cfg.Executor,
		spender:        cfg.Spender,
		maxSwapCost:    new(big.Int).Set(cfg.MaxSwapCost),
		getClient:      cfg.GetClient,
		resolvePoolFee: cfg.ResolvePoolFee,
		tokenBalance:   cfg.TokenBalance,
		tokenAllowance: cfg.TokenAllowance,
		gasPrice:       cfg.GasPrice,
		tokenTransfer:  cfg.TokenTransfer,
		executeSwap:    cfg.ExecuteSwap,
		errorHandler: func(err error) {
			errorType := determineErrorType(err)
			cfg.Logger.Error("DCASystem internal error", "system", cfg.SystemName, "type", errorType, "error", err)
			metrics.ErrorsTotal.WithLabelValues(errorType).Inc()

			cfg.ErrorHandler(err)
		},
		eventHandler:    eventHandler,
		now:             now,
		keeperFrequency: cfg.KeeperFrequency,
		registry:        NewAccountRegistryFromViews(cfg.InitialAccounts),
		ledger:          NewBalanceLedgerFromViews(cfg.InitialBalances),
		metrics:         metrics,
		logger:          cfg.Logger,
	}

	system.cachedView.Store(&[]AccountView{})
	func() {
		system.mu.Lock()
		defer system.mu.Unlock()
		system.updateCachedView()
	}()

	system.logger.Info("DCASystem started",
		"system", system.systemName,
		"executor", system.executor.Hex(),
		"accounts", len(cfg.InitialAccounts),
	)
	if system.keeperFrequency > 0 {
		go system.runKeeper(ctx)
	}

	return system, nil
}

// View returns a copy of the latest registry view in registration order.
// This operation is lock-free.
func (s *DCASystem) View() []AccountView {
	viewPtr := s.cachedView.Load()
	if viewPtr == nil {
		return nil
	}
	view := *viewPtr
	viewCopy := make([]AccountView, len(view))
	copy(viewCopy, view)
	return viewCopy
}

// Snapshot captures the full state for persistence.
func (s *DCASystem) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Accounts: viewRegistry(s.registry),
		Balances: viewLedger(s.ledger),
	}
}

// updateCachedView generates a fresh view from the registry and atomically updates the pointer.
// This method MUST be called from within a write lock (s.mu.Lock).
func (s *DCASystem) updateCachedView() {
	newView := viewRegistry(s.registry)
	s.cachedView.Store(&newView)
	s.metrics.AccountsInRegistry.WithLabelValues().Set(float64(len(newView)))
}

// --- Owner-facing operations ---

// SetUpAccount registers or reconfigures a recurring swap for owner. The
// pool fee tier for the pair is resolved once here and cached on the
// account; a failed resolution (no pool in any probed tier) aborts the call
// before any state changes. Repeat setup rewrites the whole record, resets
// the schedule to now+interval and unpauses the account, but never
// duplicates the owner-list entry.
func (s *DCASystem) SetUpAccount(
	ctx context.Context,
	owner common.Address,
	interval time.Duration,
	amount *big.Int,
	sellToken, buyToken common.Address,
) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	client, err := s.getClient()
	if err != nil {
		return fmt.Errorf("setup account %s: failed to get eth client: %w", owner.Hex(), err)
	}
	poolFee, err := s.resolvePoolFee(ctx, sellToken, buyToken, client)
	if err != nil {
		return err
	}

	var created bool
	var nextExec time.Time
	err = func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		created, err = setUpAccount(owner, interval, amount, sellToken, buyToken, poolFee, s.now(), s.registry)
		if err != nil {
			return err
		}
		account, err := getAccount(owner, s.registry)
		if err != nil {
			return err
		}
		nextExec = account.NextExec
		s.updateCachedView()
		return nil
	}()
	if err != nil {
		return err
	}

	s.logger.Info("Account set up",
		"owner", owner.Hex(),
		"interval", interval,
		"sellToken", sellToken.Hex(),
		"buyToken", buyToken.Hex(),
		"poolFee", poolFee,
		"created", created,
	)
	s.eventHandler(AccountSetupEvent{
		Owner:     owner,
		Interval:  interval,
		Amount:    new(big.Int).Set(amount),
		SellToken: sellToken,
		BuyToken:  buyToken,
		PoolFee:   poolFee,
		NextExec:  nextExec,
		Created:   created,
	})
	return nil
}

// SetInterval changes only the execution interval. The already scheduled
// next execution time is left alone; the new interval applies from the next
// advance.
func (s *DCASystem) SetInterval(owner common.Address, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setInterval(owner, interval, s.registry); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

// SetAmount changes only the per-execution swap amount.
func (s *DCASystem) SetAmount(owner common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setAmount(owner, amount, s.registry); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

// SetSellToken changes only the sell token. The cached pool fee is NOT
// re-resolved, so the fee tier can go stale for the new pair. This matches
// the deployed behavior; re-run SetUpAccount to refresh the fee.
func (s *DCASystem) SetSellToken(owner common.Address, token common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setSellToken(owner, token, s.registry); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

// SetBuyToken changes only the buy token. Same stale-fee caveat as
// SetSellToken.
func (s *DCASystem) SetBuyToken(owner common.Address, token common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setBuyToken(owner, token, s.registry); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

// SetPause excludes the account from direct eligibility queries. Note that
// the scan itself does not consult the pause flag; see UserNeedExec.
func (s *DCASystem) SetPause(owner common.Address) error {
	return s.setPaused(owner, true)
}

// SetUnpause re-enables a paused account.
func (s *DCASystem) SetUnpause(owner common.Address) error {
	return s.setPaused(owner, false)
}

func (s *DCASystem) setPaused(owner common.Address, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setPaused(owner, paused, s.registry); err != nil {
		return err
	}
	s.updateCachedView()
	return nil
}

// Deposit credits owner's prepaid execution-fee balance. The ledger itself
// is generic; the account-existence requirement lives here.
func (s *DCASystem) Deposit(owner common.Address, amount *big.Int) error {
	var newBalance *big.Int
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !hasAccount(owner, s.registry) {
			return ErrAccountNotFound
		}
		if err := credit(owner, amount, s.ledger); err != nil {
			return err
		}
		newBalance = balanceOf(owner, s.ledger)
		return nil
	}()
	if err != nil {
		return err
	}

	s.metrics.DepositsTotal.WithLabelValues().Inc()
	s.logger.Info("Deposit credited", "user", owner.Hex(), "amount", amount, "balance", newBalance)
	s.eventHandler(DepositEvent{
		User:       owner,
		Amount:     new(big.Int).Set(amount),
		NewBalance: newBalance,
	})
	return nil
}

// BalanceOf returns a copy of user's prepaid execution-fee balance.
func (s *DCASystem) BalanceOf(user common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balanceOf(user, s.ledger)
}

// Account returns the view of a single registered account.
func (s *DCASystem) Account(owner common.Address) (AccountView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(owner, s.registry)
}

// IsExisting reports whether owner has a registered account.
func (s *DCASystem) IsExisting(owner common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasAccount(owner, s.registry)
}

// --- Privileged operations ---

// authorize is the capability check guarding the three privileged
// operations. It runs before any state is read or written.
func (s *DCASystem) authorize(caller common.Address) error {
	if caller != s.executor {
		return ErrUnauthorized
	}
	return nil
}

// SetNextExec acknowledges a completed execution by advancing user's
// schedule by exactly one interval from its previous value. It never
// resets to "now", so a late keeper does not drift the cadence grid; two
// consecutive calls advance the schedule by two intervals.
func (s *DCASystem) SetNextExec(caller, user common.Address) (time.Time, error) {
	if err := s.authorize(caller); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nextExec, err := advanceNextExec(user, s.registry)
	if err != nil {
		return time.Time{}, err
	}
	s.updateCachedView()
	return nextExec, nil
}

// DeductSwapBalance debits an execution fee from user's prepaid balance.
// The balance never goes negative: a cost above the current balance fails
// with ErrInsufficientBalance and nothing is applied.
func (s *DCASystem) DeductSwapBalance(caller, user common.Address, cost *big.Int) error {
	if err := s.authorize(caller); err != nil {
		return err
	}

	var newBalance *big.Int
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := debit(user, cost, s.ledger); err != nil {
			return err
		}
		newBalance = balanceOf(user, s.ledger)
		return nil
	}()
	if err != nil {
		return err
	}

	s.metrics.DeductionsTotal.WithLabelValues().Inc()
	s.logger.Info("Swap balance deducted", "user", user.Hex(), "cost", cost, "balance", newBalance)
	s.eventHandler(DeductionEvent{
		User:       user,
		Cost:       new(big.Int).Set(cost),
		NewBalance: newBalance,
	})
	return nil
}

// GetToken is the administrative extraction path: it pulls user's
// configured swap amount of their sell token to the executor, bypassing
// swap execution entirely.
func (s *DCASystem) GetToken(ctx context.Context, caller, user common.Address) error {
	if err := s.authorize(caller); err != nil {
		return err
	}

	account, err := s.Account(user)
	if err != nil {
		return err
	}

	s.logger.Warn("Administrative token pull",
		"user", user.Hex(),
		"token", account.SellToken.Hex(),
		"amount", account.Amount,
	)
	return s.tokenTransfer(ctx, account.SellToken, user, s.executor, account.Amount)
}

// --- Eligibility queries ---

// IsExecTime reports whether user's next execution time is strictly in the
// past. Unregistered users are never due.
func (s *DCASystem) IsExecTime(user common.Address) bool {
	account, err := s.Account(user)
	if err != nil {
		return false
	}
	return execTimeReached(account.NextExec, s.now())
}

// IsTransactable reports whether user's prepaid balance strictly exceeds
// the fee reserve threshold at the current gas price. The threshold is
// evaluated at query time, not stored.
func (s *DCASystem) IsTransactable(ctx context.Context, user common.Address) (bool, error) {
	client, err := s.getClient()
	if err != nil {
		return false, err
	}
	gasPrice, err := s.gasPrice(ctx, client)
	if err != nil {
		return false, err
	}
	return transactable(s.BalanceOf(user), s.maxSwapCost, gasPrice), nil
}

// IsSpendable reports whether user holds strictly more than amount of token
// and has approved strictly more than amount to the spender. Exact equality
// on either side is not spendable.
func (s *DCASystem) IsSpendable(ctx context.Context, user, token common.Address, amount *big.Int) (bool, error) {
	client, err := s.getClient()
	if err != nil {
		return false, err
	}
	balance, err := s.tokenBalance(ctx, token, user, client)
	if err != nil {
		return false, err
	}
	allowance, err := s.tokenAllowance(ctx, token, user, s.spender, client)
	if err != nil {
		return false, err
	}
	return spendable(balance, allowance, amount), nil
}

// Evaluate composes every sub-predicate into a diagnostic report for one
// account. Unlike UserNeedExec it returns the first probe error instead of
// skipping the account.
func (s *DCASystem) Evaluate(ctx context.Context, user common.Address) (Eligibility, error) {
	account, err := s.Account(user)
	if err != nil {
		return Eligibility{}, nil
	}

	transactableNow, err := s.IsTransactable(ctx, user)
	if err != nil {
		return Eligibility{}, err
	}
	spendableNow, err := s.IsSpendable(ctx, user, account.SellToken, account.Amount)
	if err != nil {
		return Eligibility{}, err
	}

	return Eligibility{
		Exists:       true,
		Paused:       account.Paused,
		Due:          execTimeReached(account.NextExec, s.now()),
		Transactable: transactableNow,
		Spendable:    spendableNow,
	}, nil
}

// UserNeedExec scans the full owner list in registration order and returns
// the LAST account that is due, fee-funded and spendable; the zero address
// when none qualifies. The scan never exits early and is O(n) on every
// call. Two deployed quirks are preserved deliberately: paused accounts are
// not excluded here, and a later registrant shadows an earlier one when
// both qualify. Probe failures for a single account are routed to the
// error handler and that account is skipped.
func (s *DCASystem) UserNeedExec(ctx context.Context) (common.Address, error) {
	timer := prometheus.NewTimer(s.metrics.ScanDuration.WithLabelValues())
	defer timer.ObserveDuration()

	client, err := s.getClient()
	if err != nil {
		return common.Address{}, fmt.Errorf("scan: failed to get eth client: %w", err)
	}
	gasPrice, err := s.gasPrice(ctx, client)
	if err != nil {
		return common.Address{}, fmt.Errorf("scan: failed to get gas price: %w", err)
	}
	feeThresholdReserve := new(big.Int).Mul(s.maxSwapCost, gasPrice)

	now := s.now()
	var match common.Address
	for _, account := range s.View() {
		if !execTimeReached(account.NextExec, now) {
			continue
		}
		if s.BalanceOf(account.Owner).Cmp(feeThresholdReserve) <= 0 {
			continue
		}

		balance, err := s.tokenBalance(ctx, account.SellToken, account.Owner, client)
		if err != nil {
			s.errorHandler(&ScanError{Owner: account.Owner, Err: err})
			continue
		}
		allowance, err := s.tokenAllowance(ctx, account.SellToken, account.Owner, s.spender, client)
		if err != nil {
			s.errorHandler(&ScanError{Owner: account.Owner, Err: err})
			continue
		}
		if !spendable(balance, allowance, account.Amount) {
			continue
		}

		// Last match wins; keep scanning.
		match = account.Owner
	}

	return match, nil
}

// --- Keeper loop ---

// runKeeper is a background process that periodically finds a due account,
// hands its order to the external swap executor and settles the schedule
// and fee afterwards.
func (s *DCASystem) runKeeper(ctx context.Context) {
	ticker := time.NewTicker(s.keeperFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runKeeperCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("DCASystem keeper stopping due to context cancellation.")
			return
		}
	}
}

// runKeeperCycle performs a single scan-execute-settle cycle. Settlement
// mirrors the external automation contract's call order: advance the
// schedule first, then deduct the fee at the gas price observed now.
func (s *DCASystem) runKeeperCycle(ctx context.Context) {
	timer := prometheus.NewTimer(s.metrics.KeeperRunDuration.WithLabelValues())
	defer timer.ObserveDuration()

	owner, err := s.UserNeedExec(ctx)
	if err != nil {
		s.errorHandler(err)
		return
	}
	if owner == (common.Address{}) {
		return
	}

	account, err := s.Account(owner)
	if err != nil {
		s.errorHandler(&ExecutionError{Owner: owner, Err: err})
		return
	}

	order := SwapOrder{
		Owner:     owner,
		SellToken: account.SellToken,
		BuyToken:  account.BuyToken,
		Amount:    account.Amount,
		PoolFee:   account.PoolFee,
	}
	if err := s.executeSwap(ctx, order); err != nil {
		s.errorHandler(&ExecutionError{Owner: owner, Err: fmt.Errorf("swap hand-off failed: %w", err)})
		return
	}

	nextExec, err := s.SetNextExec(s.executor, owner)
	if err != nil {
		s.errorHandler(&ExecutionError{Owner: owner, Err: fmt.Errorf("failed to advance schedule: %w", err)})
		return
	}

	cost, err := s.executionCost(ctx)
	if err != nil {
		s.errorHandler(&ExecutionError{Owner: owner, Err: fmt.Errorf("failed to price execution: %w", err)})
		return
	}
	if err := s.DeductSwapBalance(s.executor, owner, cost); err != nil {
		s.errorHandler(&ExecutionError{Owner: owner, Err: fmt.Errorf("failed to deduct fee: %w", err)})
		return
	}

	s.metrics.ExecutionsTotal.WithLabelValues().Inc()
	s.logger.Info("Scheduled swap executed",
		"owner", owner.Hex(),
		"sellToken", account.SellToken.Hex(),
		"buyToken", account.BuyToken.Hex(),
		"amount", account.Amount,
		"cost", cost,
		"nextExec", nextExec,
	)
	s.eventHandler(ExecutionEvent{
		Owner:    owner,
		NextExec: nextExec,
		Cost:     cost,
	})
}

// executionCost prices one execution at the gas price observed right now.
func (s *DCASystem) executionCost(ctx context.Context) (*big.Int, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.gasPrice(ctx, client)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(s.maxSwapCost, gasPrice), nil
}
