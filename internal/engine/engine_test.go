package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/internal/analysis/signal"
	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange/exchangetest"
	"github.com/skalibog/bfta/internal/execution"
	"github.com/skalibog/bfta/internal/feed"
	"github.com/skalibog/bfta/internal/ledger"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/internal/performance"
	"github.com/skalibog/bfta/internal/position"
	"github.com/skalibog/bfta/internal/risk"
	"github.com/skalibog/bfta/internal/scanner"
	"github.com/skalibog/bfta/internal/storage"
	"github.com/skalibog/bfta/pkg/models"
)

func testConfig() config.Config {
	return config.Config{
		Trading: config.TradingConfig{
			Symbols:                []string{"BTCUSDT"},
			Mode:                   "paper",
			BaseOrderSize:          1000,
			RiskPerTrade:           0.02,
			StopLossPercent:        2,
			TakeProfitPercent:      4,
			MaxConcurrentPositions: 3,
			MaxHoldHours:           8,
		},
		Scanner: config.ScannerConfig{
			IntervalSeconds:         30,
			MinFundingRateThreshold: 0.0003,
			ExtremeFundingRate:      0.05,
			TopK:                    3,
			Workers:                 2,
			MinLiquidityUSD:         10000,
			OrderBookDepth:          20,
			MinTimeBufferMinutes:    5,
		},
		Risk: config.RiskConfig{
			MaxPortfolioRisk:     0.15,
			MaxPositionSize:      1_000_000,
			CorrelationThreshold: 0.8,
			LiquidationThreshold: 0.7,
			LowRiskThreshold:     0.001,
			StalenessSeconds:     5,
		},
		Execution: config.ExecutionConfig{
			BaseDelayMs:     1,
			MaxFundingDrift: 0.005,
			MaxRecentMove:   0.10,
			FeeRate:         0.0004,
		},
		Position:    config.PositionConfig{SyncIntervalSeconds: 10},
		Performance: config.PerformanceConfig{IntervalSeconds: 60, AlertHistoryLimit: 100, TradeMilestone: 10},
		Ledger: config.LedgerConfig{
			AgentID:          "agent-1",
			Protocol:         "binance-futures",
			AllowedProtocols: []string{"binance-futures"},
			Active:           true,
		},
	}
}

func testEngine(t *testing.T, cfg config.Config, fake *exchangetest.Fake, traderFeed feed.TraderFeed) (*Engine, *execution.Engine) {
	t.Helper()

	ldg, err := ledger.NewStatic(cfg.Ledger)
	require.NoError(t, err)

	provider := market.NewProvider(fake, cfg.Scanner.OrderBookDepth, 1000)
	analyzer := signal.NewAnalyzer(cfg.Signal)
	scan := scanner.NewScanner(cfg.Scanner, cfg.Trading, fake, provider, analyzer)
	riskEng := risk.NewEngine(cfg.Risk, fake)
	monitor := performance.NewMonitor(cfg.Performance)
	exec := execution.NewEngine(cfg.Execution, cfg.Trading, cfg.Ledger, fake, riskEng, ldg, provider, monitor)
	positions := position.NewManager(cfg.Position, cfg.Trading, fake, monitor, exec)
	store := storage.NewMemoryStorage()

	return New(cfg, fake, provider, analyzer, scan, riskEng, exec, positions, monitor, store, nil, traderFeed), exec
}

func TestHandleGatewayErrorStopsOnAuthFailure(t *testing.T) {
	stopped := false
	e := &Engine{cancel: func() { stopped = true }}

	err := fmt.Errorf("ошибка получения состояния счета: %w",
		&common.APIError{Code: -2014, Message: "API-key format invalid"})

	assert.True(t, e.handleGatewayError(err))
	assert.True(t, stopped)
}

func TestHandleGatewayErrorIgnoresTransient(t *testing.T) {
	stopped := false
	e := &Engine{cancel: func() { stopped = true }}

	assert.False(t, e.handleGatewayError(errors.New("connection reset")))
	assert.False(t, e.handleGatewayError(fmt.Errorf("повтор: %w",
		&common.APIError{Code: -1003, Message: "too many requests"})))
	assert.False(t, e.handleGatewayError(nil))
	assert.False(t, stopped)
}

func TestCopyTradingExecutesLeaderTrades(t *testing.T) {
	fake := exchangetest.New()
	// Нулевая ставка финансирования: сделка лидера не несет ожидания
	// по ставке, дрейф-проверка не должна ее отбрасывать
	fake.SetMarket("BTCUSDT", 100, 0, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000

	traderFeed := &feed.Static{
		Traders: []*feed.Trader{
			{ID: "trader-1", Name: "alpha", PnL30d: 9000, WinRate: 0.7},
		},
		Trades: map[string][]*feed.TraderTrade{
			"trader-1": {
				{TraderID: "trader-1", Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 2, Price: 100, Timestamp: time.Now()},
			},
		},
	}

	e, exec := testEngine(t, testConfig(), fake, traderFeed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.startCopyTrading(ctx)

	assert.Eventually(t, func() bool {
		open := exec.OpenTrades()
		return len(open) == 1 && open[0].Strategy == StrategyCopyTrade
	}, 2*time.Second, 10*time.Millisecond)

	open := exec.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
	assert.Equal(t, models.SideBuy, open[0].Side)
	assert.Equal(t, 2.0, open[0].Size)
}
