package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the keeper's process configuration, read from the environment.
type Config struct {
	RPCURL             string `env:"RPC_URL,required"`
	ExecutorAddress    string `env:"EXECUTOR_ADDRESS,required"`
	SpenderAddress     string `env:"SPENDER_ADDRESS,required"`
	FactoryAddress     string `env:"FACTORY_ADDRESS,required"`
	ExecutorWebhookURL string `env:"EXECUTOR_WEBHOOK_URL"`
	MaxSwapCostGas     int64  `env:"MAX_SWAP_COST_GAS" envDefault:"350000"`
	KeeperSeconds      int    `env:"KEEPER_INTERVAL_SECONDS" envDefault:"15"`
	RPCRateLimit       int    `env:"RPC_RATE_LIMIT" envDefault:"10"`
	MetricsAddr        string `env:"METRICS_ADDR" envDefault:":9090"`
	SnapshotFile       string `env:"SNAPSHOT_FILE" envDefault:"dca-snapshot.json"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) KeeperInterval() time.Duration {
	return time.Duration(c.KeeperSeconds) * time.Second
}

// Executor returns the parsed executor address.
func (c *Config) Executor() common.Address {
	return common.HexToAddress(c.ExecutorAddress)
}

func (c *Config) Spender() common.Address {
	return common.HexToAddress(c.SpenderAddress)
}

func (c *Config) Factory() common.Address {
	return common.HexToAddress(c.FactoryAddress)
}

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	for name, value := range map[string]string{
		"EXECUTOR_ADDRESS": cfg.ExecutorAddress,
		"SPENDER_ADDRESS":  cfg.SpenderAddress,
		"FACTORY_ADDRESS":  cfg.FactoryAddress,
	} {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("%s is not a valid address: %q", name, value)
		}
	}
	if cfg.MaxSwapCostGas <= 0 {
		return nil, fmt.Errorf("MAX_SWAP_COST_GAS must be positive, got %d", cfg.MaxSwapCostGas)
	}
	if cfg.RPCRateLimit <= 0 {
		return nil, fmt.Errorf("RPC_RATE_LIMIT must be positive, got %d", cfg.RPCRateLimit)
	}

	return cfg, nil
}
