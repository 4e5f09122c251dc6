package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/internal/exchange/exchangetest"
	"github.com/skalibog/bfta/internal/ledger"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/internal/performance"
	"github.com/skalibog/bfta/internal/risk"
	"github.com/skalibog/bfta/pkg/models"
)

type testHarness struct {
	fake    *exchangetest.Fake
	engine  *Engine
	riskEng *risk.Engine
	monitor *performance.Monitor
	ledger  *ledger.Static
}

func newHarness(t *testing.T, mutate func(*config.Config)) *testHarness {
	t.Helper()

	cfg := config.Config{
		Trading: config.TradingConfig{
			BaseOrderSize:          1000,
			StopLossPercent:        2,
			TakeProfitPercent:      4,
			MaxConcurrentPositions: 3,
			MaxHoldHours:           8,
		},
		Execution: config.ExecutionConfig{
			BaseDelayMs:      1,
			MaxFundingDrift:  0.005,
			MaxRecentMove:    0.10,
			FeeRate:          0.0004,
			ProtectiveOrders: true,
		},
		Risk: config.RiskConfig{
			MaxPortfolioRisk:     0.15,
			MaxPositionSize:      1_000_000,
			CorrelationThreshold: 0.8,
			LiquidationThreshold: 0.7,
			LowRiskThreshold:     0.001,
			StalenessSeconds:     5,
		},
		Performance: config.PerformanceConfig{AlertHistoryLimit: 100, TradeMilestone: 10},
		Ledger: config.LedgerConfig{
			AgentID:          "agent-1",
			Protocol:         "binance-futures",
			AllowedProtocols: []string{"binance-futures"},
			Active:           true,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.SetMarket("ETHUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000

	ldg, err := ledger.NewStatic(cfg.Ledger)
	require.NoError(t, err)

	provider := market.NewProvider(fake, 20, 1000)
	riskEng := risk.NewEngine(cfg.Risk, fake)
	monitor := performance.NewMonitor(cfg.Performance)
	engine := NewEngine(cfg.Execution, cfg.Trading, cfg.Ledger, fake, riskEng, ldg, provider, monitor)

	return &testHarness{fake: fake, engine: engine, riskEng: riskEng, monitor: monitor, ledger: ldg}
}

func opportunity(symbol string) *models.Opportunity {
	return &models.Opportunity{
		Symbol:          symbol,
		Direction:       models.DirectionShort,
		ExpectedProfit:  20,
		Confidence:      0.7,
		RiskScore:       0.2,
		RecommendedSize: 5,
		FundingRate:     0.02,
		TimeToFunding:   4 * time.Hour,
		CreatedAt:       time.Now(),
	}
}

func assessment(size float64) *models.RiskAssessment {
	return &models.RiskAssessment{
		PositionRisk:   0.05,
		Recommendation: models.RecommendHold,
		MaxSafeSize:    size,
		Timestamp:      time.Now(),
	}
}

func TestExecuteOpensTrade(t *testing.T) {
	h := newHarness(t, nil)

	trade, err := h.engine.Execute(context.Background(), "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, models.TradeExecuted, trade.Status)
	assert.Equal(t, models.SideSell, trade.Side)
	assert.NotEmpty(t, trade.ID)
	assert.False(t, trade.EntryTime.IsZero())
	assert.Len(t, h.engine.OpenTrades(), 1)

	// Основной ордер плюс защитные стоп-лосс и тейк-профит
	orders := h.fake.Orders()
	require.Len(t, orders, 3)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, orders[1].ReduceOnly)
	assert.True(t, orders[2].ReduceOnly)
	assert.Equal(t, exchange.OrderStopMarket, orders[1].Type)
}

func TestExecuteSecondTradeSameKeyRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)

	_, err = h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	assert.ErrorIs(t, err, ErrTradeOpen)
	assert.Len(t, h.engine.OpenTrades(), 1)
}

func TestExecuteConcurrentCeiling(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Trading.MaxConcurrentPositions = 1
	})
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)

	_, err = h.engine.Execute(ctx, "funding_arb", opportunity("ETHUSDT"), assessment(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxConcurrent)
	assert.Contains(t, err.Error(), "maximum concurrent positions reached")
	assert.Len(t, h.engine.OpenTrades(), 1)
}

func TestExecuteLedgerRejectionCreatesNoTrade(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		// Рабочий протокол отсутствует в списке разрешенных
		cfg.Ledger.AllowedProtocols = []string{"other-protocol"}
	})

	trade, err := h.engine.Execute(context.Background(), "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Contains(t, err.Error(), "protocol not allowed")
	assert.Nil(t, trade)
	assert.Empty(t, h.engine.OpenTrades())
	assert.Empty(t, h.fake.Orders())

	// Отказ авторизации поднимает алерт
	alerts := h.monitor.Alerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, models.AlertAuth, alerts[len(alerts)-1].Type)
	assert.Contains(t, alerts[len(alerts)-1].Message, "protocol not allowed")
}

func TestExecuteFundingDriftAborts(t *testing.T) {
	h := newHarness(t, nil)

	opp := opportunity("BTCUSDT")
	opp.FundingRate = 0.03 // биржа отдает 0.02, дрейф 0.01 > 0.005

	_, err := h.engine.Execute(context.Background(), "funding_arb", opp, assessment(5))
	assert.ErrorIs(t, err, ErrStaleMarket)
	assert.Empty(t, h.engine.OpenTrades())
}

func TestExecuteZeroSafeSizeRejected(t *testing.T) {
	h := newHarness(t, nil)

	a := assessment(0)
	a.Recommendation = models.RecommendDecrease

	_, err := h.engine.Execute(context.Background(), "funding_arb", opportunity("BTCUSDT"), a)
	assert.ErrorIs(t, err, ErrZeroSize)
}

func TestExecuteOrderFailureMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.OrderErr = assert.AnError

	trade, err := h.engine.Execute(context.Background(), "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.Error(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, models.TradeFailed, trade.Status)
	assert.Empty(t, h.engine.OpenTrades())
	// Вклад риска освобожден, портфель чист
	assert.Zero(t, h.riskEng.PortfolioRisk())
}

func TestCloseTradeLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	trade, err := h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)
	require.Equal(t, models.TradeExecuted, trade.Status)

	// Цена упала: шорт в плюсе
	h.fake.SetMarket("BTCUSDT", 90, 0.02, time.Now().Add(4*time.Hour))

	closed, err := h.engine.Close(ctx, "BTCUSDT", "funding_arb", "", false)
	require.NoError(t, err)

	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.True(t, closed.ExitTime.After(closed.EntryTime) || closed.ExitTime.Equal(closed.EntryTime))
	assert.Greater(t, closed.RealizedPnL, 0.0)
	assert.Empty(t, h.engine.OpenTrades())
	assert.Zero(t, h.riskEng.PortfolioRisk())

	// Терминальный статус не допускает дальнейших переходов
	assert.False(t, closed.CanTransition(models.TradeExecuted))
	assert.False(t, closed.CanTransition(models.TradePending))

	// Результат асинхронно уходит в реестр
	assert.Eventually(t, func() bool {
		return len(h.ledger.Records()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCloseOneStrategyKeepsOtherRisk(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// Две стратегии открывают сделки на одном символе
	_, err := h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)
	_, err = h.engine.Execute(ctx, "market_making", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)
	require.Len(t, h.engine.OpenTrades(), 2)

	riskBefore := h.riskEng.PortfolioRisk()
	require.Greater(t, riskBefore, 0.0)

	// Закрытие одной стратегии освобождает только ее вклад
	_, err = h.engine.Close(ctx, "BTCUSDT", "market_making", "", false)
	require.NoError(t, err)

	assert.Len(t, h.engine.OpenTrades(), 1)
	remaining := h.riskEng.PortfolioRisk()
	assert.Greater(t, remaining, 0.0)
	assert.Less(t, remaining, riskBefore)

	_, err = h.engine.Close(ctx, "BTCUSDT", "funding_arb", "", false)
	require.NoError(t, err)
	assert.Zero(t, h.riskEng.PortfolioRisk())
}

func TestCloseStoppedStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Execute(ctx, "funding_arb", opportunity("BTCUSDT"), assessment(5))
	require.NoError(t, err)

	closed, err := h.engine.Close(ctx, "BTCUSDT", "funding_arb", "стоп", true)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStopped, closed.Status)
}

func TestCloseSymbolWithoutTrade(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.CloseSymbol(context.Background(), "BTCUSDT", "нет сделки", false)
	assert.Error(t, err)
}
