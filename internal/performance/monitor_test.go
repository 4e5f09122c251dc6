package performance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/pkg/models"
)

func testMonitor(mutate func(*config.PerformanceConfig)) *Monitor {
	cfg := config.PerformanceConfig{
		MaxDrawdownAlert:  0.10,
		MinWinRate:        0.4,
		TradeMilestone:    10,
		AlertHistoryLimit: 100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewMonitor(cfg)
}

func closedTrade(pnl float64) *models.Trade {
	return &models.Trade{
		Status:      models.TradeClosed,
		RealizedPnL: pnl,
		Fees:        0.5,
	}
}

func TestReportWinRateAndPnL(t *testing.T) {
	m := testMonitor(nil)

	trades := []*models.Trade{
		closedTrade(10),
		closedTrade(-5),
		closedTrade(20),
		{Status: models.TradePending}, // открытые не учитываются
	}
	positions := []*models.Position{
		{Symbol: "BTCUSDT", UnrealizedPnL: 3},
	}

	report := m.Report(trades, positions)
	assert.Equal(t, 3, report.TotalTrades)
	assert.Equal(t, 2, report.WinningTrades)
	assert.InDelta(t, 2.0/3.0, report.WinRate, 1e-9)
	assert.InDelta(t, 25.0, report.RealizedPnL, 1e-9)
	assert.InDelta(t, 3.0, report.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 28.0, report.NetPnL, 1e-9)
	assert.InDelta(t, 1.5, report.TotalFees, 1e-9)
}

func TestDrawdownFromEquityCurve(t *testing.T) {
	m := testMonitor(nil)

	for _, v := range []float64{100, 110, 99, 105, 121} {
		m.RecordEquity(v)
	}

	report := m.Report(nil, nil)
	// Пик 110, дно 99: максимальная просадка 10%
	assert.InDelta(t, 0.10, report.MaxDrawdown, 1e-9)
	// Последняя точка 121 выше всех пиков: текущая просадка нулевая
	assert.InDelta(t, 0.0, report.CurrentDrawdown, 1e-9)
}

func TestDrawdownAlertIsCritical(t *testing.T) {
	m := testMonitor(nil)

	m.RecordEquity(100)
	m.RecordEquity(80) // просадка 20% > порога 10%

	m.Report(nil, nil)

	select {
	case alert := <-m.Critical():
		assert.Equal(t, models.AlertDrawdown, alert.Type)
		assert.Equal(t, models.SeverityCritical, alert.Severity)
	default:
		t.Fatal("ожидался критический алерт в канале")
	}
}

func TestWinRateAlertNeedsEnoughTrades(t *testing.T) {
	m := testMonitor(nil)

	// Пять убыточных сделок: ниже порога, но выборка мала
	var few []*models.Trade
	for i := 0; i < 5; i++ {
		few = append(few, closedTrade(-1))
	}
	m.Report(few, nil)
	for _, a := range m.Alerts() {
		assert.NotEqual(t, models.AlertWinRate, a.Type)
	}

	var many []*models.Trade
	for i := 0; i < 12; i++ {
		many = append(many, closedTrade(-1))
	}
	m.Report(many, nil)

	found := false
	for _, a := range m.Alerts() {
		if a.Type == models.AlertWinRate {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAlertHistoryCapped(t *testing.T) {
	m := testMonitor(func(cfg *config.PerformanceConfig) {
		cfg.AlertHistoryLimit = 100
	})

	for i := 0; i < 150; i++ {
		m.Raise(models.Alert{
			Type:     models.AlertRisk,
			Severity: models.SeverityLow,
			Message:  fmt.Sprintf("алерт %d", i),
		})
	}

	alerts := m.Alerts()
	require.Len(t, alerts, 100)
	// Остались самые новые
	assert.Equal(t, "алерт 149", alerts[len(alerts)-1].Message)
	assert.Equal(t, "алерт 50", alerts[0].Message)
}

func TestCriticalChannelDoesNotBlock(t *testing.T) {
	m := testMonitor(nil)

	// Канал емкостью 16 переполняется молча, Raise не блокируется
	for i := 0; i < 50; i++ {
		m.Raise(models.Alert{
			Type:     models.AlertMarginCall,
			Severity: models.SeverityCritical,
		})
	}
	assert.Len(t, m.Alerts(), 50)
}

func TestVolatilityAboveThresholdRaisesAlert(t *testing.T) {
	m := testMonitor(func(cfg *config.PerformanceConfig) {
		cfg.VolatilityAlert = 0.05
	})

	m.CheckVolatility("BTCUSDT", 0.08)

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertVolatility, alerts[0].Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "BTCUSDT", alerts[0].Symbol)
}

func TestVolatilityBelowThresholdIsSilent(t *testing.T) {
	m := testMonitor(func(cfg *config.PerformanceConfig) {
		cfg.VolatilityAlert = 0.05
	})

	m.CheckVolatility("BTCUSDT", 0.03)
	assert.Empty(t, m.Alerts())

	// Нулевой порог отключает проверку
	off := testMonitor(nil)
	off.CheckVolatility("BTCUSDT", 10)
	assert.Empty(t, off.Alerts())
}

func TestErrorRate(t *testing.T) {
	m := testMonitor(nil)

	m.ObserveLatency(100)
	m.ObserveLatency(200)
	m.ObserveError()
	m.ObserveError()

	report := m.Report(nil, nil)
	assert.InDelta(t, 0.5, report.ErrorRate, 1e-9)
}

func TestSharpePositiveForSteadyGrowth(t *testing.T) {
	m := testMonitor(nil)

	equity := 100.0
	for i := 0; i < 30; i++ {
		equity *= 1.01
		m.RecordEquity(equity)
	}

	report := m.Report(nil, nil)
	assert.GreaterOrEqual(t, report.SharpeRatio, 0.0)
	assert.Zero(t, report.MaxDrawdown)
}
