// Package token probes the ERC20 capability surface this system relies on:
// how much of a token a user holds and how much they have approved to the
// scheduler's spender. It also builds the transferFrom call data for the
// administrative extraction path.
package token

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/Iwinswap/iwinswap-dca-system/abi"
)

const (
	// defaultRPCTimeout defines the default timeout for individual RPC calls.
	defaultRPCTimeout = 10 * time.Second
)

// BalanceOf returns holder's balance of token via eth_call.
func BalanceOf(parentCtx context.Context, token, holder common.Address, client ethclients.ETHClient) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, defaultRPCTimeout)
	defer cancel()

	callData, err := abi.ERC20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("packing balanceOf call: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call for balanceOf failed for token %s: %w", token.Hex(), err)
	}
	// A uint256 response is a single 32-byte slot.
	if len(result) != 32 {
		return nil, fmt.Errorf("invalid response length for balanceOf on token %s: got %d bytes", token.Hex(), len(result))
	}

	return new(big.Int).SetBytes(result), nil
}

// Allowance returns the amount owner has approved token-spending of to
// spender via eth_call.
func Allowance(parentCtx context.Context, token, owner, spender common.Address, client ethclients.ETHClient) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, defaultRPCTimeout)
	defer cancel()

	callData, err := abi.ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("packing allowance call: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call for allowance failed for token %s: %w", token.Hex(), err)
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("invalid response length for allowance on token %s: got %d bytes", token.Hex(), len(result))
	}

	return new(big.Int).SetBytes(result), nil
}

// PackTransferFrom builds the transferFrom call data for the administrative
// extraction path. Submitting the resulting transaction is the caller's
// concern; this package never signs or sends anything.
func PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	callData, err := abi.ERC20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("packing transferFrom call: %w", err)
	}
	return callData, nil
}

// NewRateLimitedBalanceOf returns a balance probe that waits on limiter
// before every RPC call. The scan probes every due account each cycle, so
// an unthrottled probe can easily exhaust a provider's request budget.
func NewRateLimitedBalanceOf(limiter *rate.Limiter) func(ctx context.Context, token, holder common.Address, client ethclients.ETHClient) (*big.Int, error) {
	return func(ctx context.Context, token, holder common.Address, client ethclients.ETHClient) (*big.Int, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return BalanceOf(ctx, token, holder, client)
	}
}

// NewRateLimitedAllowance returns an allowance probe that waits on limiter
// before every RPC call.
func NewRateLimitedAllowance(limiter *rate.Limiter) func(ctx context.Context, token, owner, spender common.Address, client ethclients.ETHClient) (*big.Int, error) {
	return func(ctx context.Context, token, owner, spender common.Address, client ethclients.ETHClient) (*big.Int, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return Allowance(ctx, token, owner, spender, client)
	}
}
