package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/bfta/internal/analysis/signal"
	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/pkg/logger"
	"github.com/skalibog/bfta/pkg/models"
)

// Scanner ищет арбитражные возможности по ставкам финансирования.
// Каждый символ обрабатывается независимо: ошибка данных по одному
// символу не прерывает сканирование остальных.
type Scanner struct {
	config   config.ScannerConfig
	trading  config.TradingConfig
	gateway  exchange.Gateway
	provider *market.Provider
	analyzer *signal.Analyzer
}

// NewScanner создает сканер возможностей
func NewScanner(cfg config.ScannerConfig, trading config.TradingConfig, gateway exchange.Gateway, provider *market.Provider, analyzer *signal.Analyzer) *Scanner {
	return &Scanner{
		config:   cfg,
		trading:  trading,
		gateway:  gateway,
		provider: provider,
		analyzer: analyzer,
	}
}

// Scan оценивает все символы и возвращает валидные возможности,
// отсортированные по убыванию ранга profit × confidence × (1 − risk)
func (s *Scanner) Scan(ctx context.Context, symbols []string) []*models.Opportunity {
	positions, err := s.gateway.GetPositions(ctx)
	if err != nil {
		logger.Warn("Не удалось получить позиции, экспозиция не учтена", zap.Error(err))
		positions = nil
	}

	var (
		mu            sync.Mutex
		opportunities []*models.Opportunity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			opp, err := s.scanSymbol(gctx, symbol, positions)
			if err != nil {
				// Ошибка данных по символу: пропускаем этот цикл
				logger.Warn("Символ пропущен в цикле сканирования",
					zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			if opp == nil {
				return nil
			}

			mu.Lock()
			opportunities = append(opportunities, opp)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].Rank() > opportunities[j].Rank()
	})

	return opportunities
}

// TopK возвращает не более k лучших возможностей, ограничивая
// частоту размещения ордеров за цикл
func TopK(opportunities []*models.Opportunity, k int) []*models.Opportunity {
	if len(opportunities) <= k {
		return opportunities
	}
	return opportunities[:k]
}

// scanSymbol оценивает один символ. Возвращает nil без ошибки,
// если возможность не проходит фильтры валидности.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string, positions []*models.Position) (*models.Opportunity, error) {
	snapshot, err := s.provider.Snapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rate := snapshot.FundingRate
	absRate := math.Abs(rate)
	if absRate < s.config.MinFundingRateThreshold {
		return nil, nil
	}

	// Положительная ставка платится лонгами шортам: встаем в шорт
	direction := models.DirectionShort
	if rate < 0 {
		direction = models.DirectionLong
	}

	timeToFunding := time.Until(snapshot.NextFundingTime)

	// Ожидаемая прибыль за один интервал финансирования
	notional := s.trading.BaseOrderSize
	expectedProfit := absRate * notional

	risk := s.riskScore(snapshot, absRate, timeToFunding)
	confidence := s.confidence(symbol, snapshot, absRate, risk, timeToFunding)
	size := s.recommendedSize(snapshot, direction, confidence, positions)

	opp := &models.Opportunity{
		Symbol:          symbol,
		Direction:       direction,
		ExpectedProfit:  expectedProfit,
		Confidence:      confidence,
		RiskScore:       risk,
		RecommendedSize: size,
		FundingRate:     rate,
		TimeToFunding:   timeToFunding,
		Reasoning: fmt.Sprintf("ставка финансирования %.4f%%, до выплаты %s",
			rate*100, timeToFunding.Round(time.Minute)),
		CreatedAt: time.Now(),
	}

	if !s.valid(opp) {
		logger.Debug("Возможность отфильтрована",
			zap.String("symbol", symbol),
			zap.Float64("confidence", confidence),
			zap.Float64("risk", risk))
		return nil, nil
	}

	return opp, nil
}

// recommendedSize рассчитывает рекомендуемый размер: базовый размер,
// масштабированный силой ставки, ограниченный долей Келли и уменьшенный
// встречной экспозицией
func (s *Scanner) recommendedSize(snapshot *models.MarketSnapshot, direction models.Direction, confidence float64, positions []*models.Position) float64 {
	scale := math.Min(math.Abs(snapshot.FundingRate)*10, 2)
	size := s.trading.BaseOrderSize * scale

	if ceiling := s.kellyCap(confidence); ceiling > 0 {
		size = math.Min(size, ceiling)
	}

	for _, p := range positions {
		if p.Symbol != snapshot.Symbol {
			continue
		}
		opposite := (direction == models.DirectionLong && p.Side == models.SideSell) ||
			(direction == models.DirectionShort && p.Side == models.SideBuy)
		if opposite {
			size -= p.Notional()
		}
	}

	if size < 0 {
		return 0
	}
	return size
}

// kellyCap переводит долю Келли в потолок размера позиции. Базовый
// размер соответствует риску risk_per_trade на сделку, поэтому капитал
// аппроксимируется как base_order_size / risk_per_trade.
func (s *Scanner) kellyCap(confidence float64) float64 {
	if s.trading.RiskPerTrade <= 0 {
		return 0
	}
	kelly := s.kellyFraction(confidence)
	return kelly * s.trading.BaseOrderSize / s.trading.RiskPerTrade
}

// kellyFraction считает консервативную долю Келли: f = p - (1-p)/b,
// где b — отношение тейк-профита к стоп-лоссу. Берется половина Келли
// с потолком 25% капитала.
func (s *Scanner) kellyFraction(confidence float64) float64 {
	if s.trading.StopLossPercent <= 0 || s.trading.TakeProfitPercent <= 0 {
		return 0
	}
	payoff := s.trading.TakeProfitPercent / s.trading.StopLossPercent
	kelly := confidence - (1-confidence)/payoff
	return clip(kelly/2, 0, 0.25)
}

// riskScore комбинирует срочность до выплаты, отклонение марк/индекс
// и экстремальность ставки. Экстремальные ставки склонны к резкому
// возврату к среднему, поэтому считаются более рискованными.
func (s *Scanner) riskScore(snapshot *models.MarketSnapshot, absRate float64, timeToFunding time.Duration) float64 {
	urgency := 1 - clip(timeToFunding.Hours()/8, 0, 1)

	deviation := 0.0
	if snapshot.IndexPrice > 0 {
		deviation = math.Abs(snapshot.MarkPrice-snapshot.IndexPrice) / snapshot.IndexPrice
	}

	extreme := 0.0
	if absRate > s.config.ExtremeFundingRate {
		extreme = 0.3
	}

	return clip(0.35*urgency+0.35*clip(deviation*200, 0, 1)+extreme, 0, 1)
}

// confidence комбинирует обратный риск, временной буфер и силу ставки,
// затем корректируется рыночными условиями и ликвидностью стакана
func (s *Scanner) confidence(symbol string, snapshot *models.MarketSnapshot, absRate, risk float64, timeToFunding time.Duration) float64 {
	rateStrength := clip(absRate*10, 0, 1)
	timeBuffer := clip(timeToFunding.Hours(), 0, 1)

	confidence := (1-risk)*0.5 + timeBuffer*0.2 + rateStrength*0.3

	// Стабильный рынок повышает уверенность, волатильный снижает
	sig := s.analyzer.Analyze(symbol, s.provider.History(symbol))
	if sig.Condition.Stable() {
		confidence *= 1.2
	} else if sig.Condition.Volatile() {
		confidence *= 0.8
	}

	confidence *= s.liquidityScore(snapshot)
	return clip(confidence, 0, 1)
}

// liquidityScore оценивает глубину стакана: достаточная глубина дает 1.0,
// тонкий стакан снижает оценку до пола 0.6
func (s *Scanner) liquidityScore(snapshot *models.MarketSnapshot) float64 {
	var depthUSD float64
	for _, b := range snapshot.Bids {
		depthUSD += b.Price * b.Amount
	}
	for _, a := range snapshot.Asks {
		depthUSD += a.Price * a.Amount
	}

	if depthUSD >= s.config.MinLiquidityUSD {
		return 1.0
	}
	return 0.6 + 0.4*(depthUSD/s.config.MinLiquidityUSD)
}

// valid применяет фильтры валидности возможности
func (s *Scanner) valid(opp *models.Opportunity) bool {
	if opp.Direction == models.DirectionHold {
		return false
	}
	if opp.Confidence <= 0.3 {
		return false
	}
	if opp.RiskScore >= 0.8 {
		return false
	}
	if opp.ExpectedProfit < s.config.MinExpectedProfit {
		return false
	}
	if opp.TimeToFunding < time.Duration(s.config.MinTimeBufferMinutes)*time.Minute {
		return false
	}
	return true
}

// clip ограничивает значение диапазоном
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
