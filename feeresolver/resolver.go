// Package feeresolver locates the fee tier of the liquidity pool backing a
// token pair. It probes the pool directory (the Uniswap V3 factory) with a
// fixed ascending list of fee tiers and picks the first tier that has a
// deployed pool.
package feeresolver

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Iwinswap/iwinswap-dca-system/abi"
)

const (
	// defaultRPCTimeout defines the default timeout for individual RPC calls made by the resolver.
	// This prevents a single slow request from blocking a caller indefinitely.
	defaultRPCTimeout = 10 * time.Second
)

// DefaultFeeTiers is the probe order: 0.01%, 0.05% and 0.3% in the
// factory's hundredths-of-a-bip units. The order is ascending and fixed;
// the first tier with an existing pool wins.
var DefaultFeeTiers = []uint32{100, 500, 3000}

// NoPoolError is returned when none of the probed fee tiers has a deployed
// pool for the pair. Both token addresses are carried for diagnosability.
type NoPoolError struct {
	TokenA common.Address
	TokenB common.Address
}

func (e *NoPoolError) Error() string {
	return fmt.Sprintf("no liquidity pool exists for pair %s / %s in any probed fee tier", e.TokenA.Hex(), e.TokenB.Hex())
}

// FeeResolver probes a single factory with a configured tier order. It is
// stateless and safe for concurrent use.
type FeeResolver struct {
	factory common.Address
	tiers   []uint32
}

// NewFeeResolver creates a resolver against the given factory. With no
// tiers supplied it probes DefaultFeeTiers.
func NewFeeResolver(factory common.Address, tiers ...uint32) *FeeResolver {
	if len(tiers) == 0 {
		tiers = DefaultFeeTiers
	}
	return &FeeResolver{
		factory: factory,
		tiers:   tiers,
	}
}

// Resolve returns the first configured fee tier for which the factory
// reports a deployed pool for (tokenA, tokenB). It is read-only against the
// directory and has no side effects. If no tier yields a pool the call
// fails with a NoPoolError naming both tokens.
func (r *FeeResolver) Resolve(ctx context.Context, tokenA, tokenB common.Address, client ethclients.ETHClient) (uint32, error) {
	for _, tier := range r.tiers {
		pool, err := r.getPool(ctx, tokenA, tokenB, tier, client)
		if err != nil {
			return 0, fmt.Errorf("probing fee tier %d for pair %s / %s: %w", tier, tokenA.Hex(), tokenB.Hex(), err)
		}
		if pool != (common.Address{}) {
			return tier, nil
		}
	}
	return 0, &NoPoolError{TokenA: tokenA, TokenB: tokenB}
}

// getPool performs the directory lookup for a single tier via eth_call.
func (r *FeeResolver) getPool(parentCtx context.Context, tokenA, tokenB common.Address, tier uint32, client ethclients.ETHClient) (common.Address, error) {
	ctx, cancel := context.WithTimeout(parentCtx, defaultRPCTimeout)
	defer cancel()

	callData, err := abi.UniswapV3FactoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(tier)))
	if err != nil {
		return common.Address{}, fmt.Errorf("packing getPool call: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.factory,
		Data: callData,
	}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("eth_call for getPool failed: %w", err)
	}
	// A valid address response from a view function is always 32 bytes long.
	if len(result) != 32 {
		return common.Address{}, fmt.Errorf("invalid response length for getPool: got %d bytes", len(result))
	}

	return common.BytesToAddress(result), nil
}
