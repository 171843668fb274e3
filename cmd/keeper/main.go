// Command keeper runs the recurring-swap scheduler against a live chain:
// it restores the account snapshot, scans for due accounts and hands due
// orders to an external swap executor over a webhook.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	dca "github.com/Iwinswap/iwinswap-dca-system"
	"github.com/Iwinswap/iwinswap-dca-system/feeresolver"
	"github.com/Iwinswap/iwinswap-dca-system/token"
)

func main() {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zlog = zlog.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		zlog.Fatal().Err(err).Str("url", cfg.RPCURL).Msg("failed to dial rpc")
	}
	defer client.Close()

	snapshot, err := loadSnapshot(cfg.SnapshotFile)
	if err != nil {
		zlog.Fatal().Err(err).Str("file", cfg.SnapshotFile).Msg("failed to load snapshot")
	}
	zlog.Info().Int("accounts", len(snapshot.Accounts)).Msg("snapshot restored")

	resolver := feeresolver.NewFeeResolver(cfg.Factory())
	limiter := rate.NewLimiter(rate.Limit(cfg.RPCRateLimit), cfg.RPCRateLimit)
	executor := &webhookExecutor{
		url:    cfg.ExecutorWebhookURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	reg := prometheus.NewRegistry()
	system, err := dca.NewDCASystem(ctx, &dca.Config{
		SystemName:    "keeper",
		PrometheusReg: reg,
		Executor:      cfg.Executor(),
		Spender:       cfg.Spender(),
		MaxSwapCost:   big.NewInt(cfg.MaxSwapCostGas),
		GetClient: func() (ethclients.ETHClient, error) {
			return client, nil
		},
		ResolvePoolFee: resolver.Resolve,
		TokenBalance:   token.NewRateLimitedBalanceOf(limiter),
		TokenAllowance: token.NewRateLimitedAllowance(limiter),
		GasPrice: func(ctx context.Context, client ethclients.ETHClient) (*big.Int, error) {
			return client.SuggestGasPrice(ctx)
		},
		TokenTransfer:   executor.TransferFrom,
		ExecuteSwap:     executor.ExecuteSwap,
		KeeperFrequency: keeperFrequency(cfg),
		ErrorHandler:    func(error) {}, // the system already logs and counts every error
		Now:             time.Now,
		InitialAccounts: snapshot.Accounts,
		InitialBalances: snapshot.Balances,
		Logger:          zerologLogger{log: zlog},
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to start dca system")
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		zlog.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err := saveSnapshot(cfg.SnapshotFile, system.Snapshot()); err != nil {
		zlog.Error().Err(err).Str("file", cfg.SnapshotFile).Msg("failed to save snapshot")
		return
	}
	zlog.Info().Str("file", cfg.SnapshotFile).Msg("snapshot saved")
}

// keeperFrequency disables the keeper loop when no executor webhook is
// configured; the process then only serves scans and metrics.
func keeperFrequency(cfg *Config) time.Duration {
	if cfg.ExecutorWebhookURL == "" {
		return 0
	}
	return cfg.KeeperInterval()
}

// zerologLogger adapts zerolog to the system's slog-compatible Logger.
type zerologLogger struct {
	log zerolog.Logger
}

func (l zerologLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l zerologLogger) Info(msg string, args ...any)  { l.log.Info().Fields(args).Msg(msg) }
func (l zerologLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l zerologLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }

// webhookExecutor hands swap orders and administrative pulls to the
// external execution service. A 2xx response means the action was carried
// out on chain.
type webhookExecutor struct {
	url    string
	client *http.Client
}

type executorRequest struct {
	Action    string `json:"action"`
	Owner     string `json:"owner"`
	SellToken string `json:"sellToken,omitempty"`
	BuyToken  string `json:"buyToken,omitempty"`
	Token     string `json:"token,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount"`
	PoolFee   uint32 `json:"poolFee,omitempty"`
}

func (w *webhookExecutor) ExecuteSwap(ctx context.Context, order dca.SwapOrder) error {
	return w.post(ctx, executorRequest{
		Action:    "swap",
		Owner:     order.Owner.Hex(),
		SellToken: order.SellToken.Hex(),
		BuyToken:  order.BuyToken.Hex(),
		Amount:    order.Amount.String(),
		PoolFee:   order.PoolFee,
	})
}

func (w *webhookExecutor) TransferFrom(ctx context.Context, tokenAddr, from, to common.Address, amount *big.Int) error {
	return w.post(ctx, executorRequest{
		Action:    "collect",
		Owner:     from.Hex(),
		Token:     tokenAddr.Hex(),
		Recipient: to.Hex(),
		Amount:    amount.String(),
	})
}

func (w *webhookExecutor) post(ctx context.Context, payload executorRequest) error {
	if w.url == "" {
		return errors.New("no executor webhook configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("executor webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("executor webhook returned status %d for action %s", resp.StatusCode, payload.Action)
	}
	return nil
}

// loadSnapshot reads a previously saved snapshot. A missing file is not an
// error: the keeper then starts with an empty registry.
func loadSnapshot(path string) (dca.Snapshot, error) {
	var snapshot dca.Snapshot
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snapshot, nil
	}
	if err != nil {
		return snapshot, err
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return snapshot, fmt.Errorf("parsing snapshot: %w", err)
	}
	return snapshot, nil
}

func saveSnapshot(path string, snapshot dca.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
