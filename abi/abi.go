// Package abi holds the parsed contract ABIs shared by the system's
// RPC-facing packages. Loading method IDs from parsed ABIs is safer and
// more maintainable than using hardcoded hashes.
package abi

import (
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"owner","type":"address"},{"indexed":true,"name":"spender","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Approval","type":"event"}
]`

const uniswapV3FactoryJSON = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"pool","type":"address"}],"stateMutability":"view","type":"function"}
]`

var (
	// ERC20ABI covers the capability surface this system probes on user
	// tokens: balanceOf, allowance and transferFrom.
	ERC20ABI = mustParse(erc20JSON)

	// UniswapV3FactoryABI covers the pool directory lookup used by the
	// fee resolver.
	UniswapV3FactoryABI = mustParse(uniswapV3FactoryJSON)
)

func mustParse(definition string) ethabi.ABI {
	parsed, err := ethabi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
