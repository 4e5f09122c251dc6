package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange/exchangetest"
	"github.com/skalibog/bfta/pkg/models"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPortfolioRisk:     0.15,
		MaxPositionSize:      1_000_000,
		CorrelationThreshold: 0.8,
		LiquidationThreshold: 0.7,
		LowRiskThreshold:     0.03,
		StalenessSeconds:     5,
	}
}

func TestAssessCeilingCapsSize(t *testing.T) {
	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000

	engine := NewEngine(testRiskConfig(), fake)

	// Занимаем 14% потолка, предлагаем еще 3%
	require.NoError(t, engine.Commit("ETHUSDT", 0.14))

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 3) // 3 × 100 / 10000 = 3%
	require.NoError(t, err)

	assert.Equal(t, models.RecommendDecrease, assessment.Recommendation)
	// Остается 1% потолка: 0.01 × 10000 / 100 = 1
	assert.InDelta(t, 1.0, assessment.MaxSafeSize, 1e-9)
	assert.Less(t, assessment.MaxSafeSize, 3.0)
}

func TestAssessWithinLimitsHolds(t *testing.T) {
	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000

	engine := NewEngine(testRiskConfig(), fake)

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 5) // 5%
	require.NoError(t, err)
	assert.Equal(t, models.RecommendHold, assessment.Recommendation)
	assert.InDelta(t, 5.0, assessment.MaxSafeSize, 1e-9)
}

func TestAssessLowRiskIsInformational(t *testing.T) {
	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000

	engine := NewEngine(testRiskConfig(), fake)

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 1) // 1%
	require.NoError(t, err)
	assert.Equal(t, models.RecommendIncrease, assessment.Recommendation)
	// Размер не увеличивается, рекомендация информационная
	assert.InDelta(t, 1.0, assessment.MaxSafeSize, 1e-9)
}

func TestAssessMarginNearLiquidationHalvesSize(t *testing.T) {
	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000
	fake.Account.MarginRatio = 0.75

	engine := NewEngine(testRiskConfig(), fake)

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 8)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendDecrease, assessment.Recommendation)
	assert.InDelta(t, 4.0, assessment.MaxSafeSize, 1e-9)
}

func TestAssessCorrelatedExposureCloses(t *testing.T) {
	cfg := testRiskConfig()
	cfg.CorrelationGroups = [][]string{{"BTCUSDT", "ETHUSDT"}}

	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000
	// Однонаправленная экспозиция в группе заведомо выше потолка риска
	fake.Pos = []*models.Position{
		{Symbol: "ETHUSDT", Side: models.SideSell, Size: 20, MarkPrice: 100},
	}

	engine := NewEngine(cfg, fake)

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendClose, assessment.Recommendation)
	assert.Zero(t, assessment.MaxSafeSize)
}

func TestAssessLiquidationRiskDerivedFromMargin(t *testing.T) {
	fake := exchangetest.New()
	fake.SetMarket("BTCUSDT", 100, 0.02, time.Now().Add(4*time.Hour))
	fake.Account.TotalBalance = 10000
	fake.Account.MarginRatio = 0.35

	engine := NewEngine(testRiskConfig(), fake)

	assessment, err := engine.Assess(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	// Маржа ниже порога: риск ликвидации равен самому коэффициенту
	assert.InDelta(t, 0.35, assessment.LiquidationRisk, 1e-9)

	// Маржа выше порога: риск ограничен порогом ликвидации
	fake.Account.MarginRatio = 1.4
	assessment, err = engine.Assess(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, assessment.LiquidationRisk, 1e-9)
}

func TestCommitKeysAreIndependentPerStrategy(t *testing.T) {
	fake := exchangetest.New()
	engine := NewEngine(testRiskConfig(), fake)

	// Две стратегии на одном символе ведут раздельные вклады
	require.NoError(t, engine.Commit("BTCUSDT|funding_arb", 0.05))
	require.NoError(t, engine.Commit("BTCUSDT|market_making", 0.04))
	assert.InDelta(t, 0.09, engine.PortfolioRisk(), 1e-9)

	// Закрытие одной стратегии не трогает вклад второй
	engine.Release("BTCUSDT|market_making")
	assert.InDelta(t, 0.05, engine.PortfolioRisk(), 1e-9)

	engine.Release("BTCUSDT|funding_arb")
	assert.Zero(t, engine.PortfolioRisk())
}

func TestCommitRejectsAboveCeiling(t *testing.T) {
	fake := exchangetest.New()
	engine := NewEngine(testRiskConfig(), fake)

	require.NoError(t, engine.Commit("BTCUSDT", 0.10))
	require.NoError(t, engine.Commit("ETHUSDT", 0.05))

	err := engine.Commit("SOLUSDT", 0.01)
	assert.ErrorIs(t, err, ErrCeilingExceeded)

	// Освобождение возвращает запас
	engine.Release("ETHUSDT")
	assert.NoError(t, engine.Commit("SOLUSDT", 0.01))
	assert.InDelta(t, 0.11, engine.PortfolioRisk(), 1e-9)
}

func TestFresh(t *testing.T) {
	engine := NewEngine(testRiskConfig(), exchangetest.New())

	fresh := &models.RiskAssessment{Timestamp: time.Now()}
	assert.True(t, engine.Fresh(fresh))

	stale := &models.RiskAssessment{Timestamp: time.Now().Add(-10 * time.Second)}
	assert.False(t, engine.Fresh(stale))
}
