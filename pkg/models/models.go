package models

import (
	"time"
)

// OrderBookLevel представляет уровень стакана
type OrderBookLevel struct {
	Price  float64
	Amount float64
}

// MarketSnapshot представляет нормализованный срез рынка по символу.
// Неизменяемый после создания, вытесняется более свежим срезом.
type MarketSnapshot struct {
	Symbol          string
	LastPrice       float64
	Change24h       float64
	Volume          float64
	High24h         float64
	Low24h          float64
	FundingRate     float64
	NextFundingTime time.Time
	MarkPrice       float64
	IndexPrice      float64
	Bids            []OrderBookLevel
	Asks            []OrderBookLevel
	Timestamp       time.Time
}

// PricePoint представляет точку ценовой истории для расчета индикаторов
type PricePoint struct {
	Timestamp time.Time
	Price     float64
	Volume    float64
}

// Trend направление рынка
type Trend string

const (
	TrendBullish  Trend = "BULLISH"
	TrendBearish  Trend = "BEARISH"
	TrendSideways Trend = "SIDEWAYS"
)

// VolatilityLevel уровень волатильности рынка
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "LOW"
	VolatilityMedium  VolatilityLevel = "MEDIUM"
	VolatilityHigh    VolatilityLevel = "HIGH"
	VolatilityExtreme VolatilityLevel = "EXTREME"
)

// MarketCondition классификация рыночных условий
type MarketCondition struct {
	Trend      Trend
	Volatility VolatilityLevel
}

// Stable сообщает, что рынок подходит для арбитража ставок финансирования
func (c MarketCondition) Stable() bool {
	return c.Volatility == VolatilityLow || c.Volatility == VolatilityMedium
}

// Volatile сообщает о повышенной волатильности
func (c MarketCondition) Volatile() bool {
	return c.Volatility == VolatilityHigh || c.Volatility == VolatilityExtreme
}

// SignalAction итоговое направление композитного сигнала
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Signal представляет результат анализа индикаторов по символу
type Signal struct {
	Symbol          string
	RSI             float64
	MACD            float64
	MACDSignal      float64
	MACDHist        float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	VolumeRatio     float64
	Volatility      float64
	Action          SignalAction
	Strength        float64
	Confidence      float64
	Condition       MarketCondition
	Timestamp       time.Time
}

// Direction направление торговой возможности
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionClose Direction = "CLOSE"
	DirectionHold  Direction = "HOLD"
)

// Opportunity представляет оцененную торговую возможность.
// Живет в пределах одного цикла сканирования, в историю попадают
// только исполненные возможности в виде сделок.
type Opportunity struct {
	Symbol          string
	Direction       Direction
	ExpectedProfit  float64
	Confidence      float64
	RiskScore       float64
	RecommendedSize float64
	FundingRate     float64
	TimeToFunding   time.Duration
	Reasoning       string
	CreatedAt       time.Time
}

// Rank возвращает ранг возможности для сортировки
func (o *Opportunity) Rank() float64 {
	return o.ExpectedProfit * o.Confidence * (1 - o.RiskScore)
}

// Recommendation рекомендация риск-модуля
type Recommendation string

const (
	RecommendIncrease Recommendation = "INCREASE"
	RecommendDecrease Recommendation = "DECREASE"
	RecommendClose    Recommendation = "CLOSE"
	RecommendHold     Recommendation = "HOLD"
)

// RiskAssessment представляет оценку риска перед исполнением.
// Рассчитывается по запросу и не сохраняется после принятия решения.
type RiskAssessment struct {
	Symbol          string
	PositionRisk    float64
	PortfolioRisk   float64
	CorrelationRisk float64
	LiquidationRisk float64
	Recommendation  Recommendation
	MaxSafeSize     float64
	Reason          string
	Timestamp       time.Time
}

// TradeStatus статус жизненного цикла сделки
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeExecuted  TradeStatus = "EXECUTED"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
	TradeStopped   TradeStatus = "STOPPED"
	TradeFailed    TradeStatus = "FAILED"
)

// tradeTransitions задает допустимые переходы статусов.
// Терминальные статусы переходов не имеют.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradePending:  {TradeExecuted, TradeFailed, TradeCancelled},
	TradeExecuted: {TradeClosed, TradeStopped},
}

// Side сторона ордера
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite возвращает встречную сторону
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Trade представляет сделку с жизненным циклом
type Trade struct {
	ID          string
	Symbol      string
	Side        Side
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	EntryTime   time.Time
	ExitTime    time.Time
	Fees        float64
	Strategy    string
	Status      TradeStatus
	RealizedPnL float64
	Reasoning   string
}

// CanTransition проверяет допустимость перехода статуса
func (t *Trade) CanTransition(to TradeStatus) bool {
	for _, s := range tradeTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Open сообщает, занимает ли сделка слот (символ, стратегия)
func (t *Trade) Open() bool {
	return t.Status == TradePending || t.Status == TradeExecuted
}

// PnL рассчитывает результат сделки по цене выхода с учетом стороны
func (t *Trade) PnL(exitPrice float64) float64 {
	if t.Side == SideBuy {
		return (exitPrice - t.EntryPrice) * t.Size
	}
	return (t.EntryPrice - exitPrice) * t.Size
}

// Position представляет позицию, зеркалированную с биржи.
// Локальный кэш, источником истины остается биржа.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	MarginRatio   float64
	Leverage      float64
	UpdatedAt     time.Time
}

// Notional возвращает стоимость позиции по марк-цене
func (p *Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// AlertSeverity важность алерта
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertType тип алерта
type AlertType string

const (
	AlertStopLoss   AlertType = "STOP_LOSS"
	AlertTakeProfit AlertType = "TAKE_PROFIT"
	AlertMarginCall AlertType = "MARGIN_CALL"
	AlertDrawdown   AlertType = "DRAWDOWN"
	AlertRisk       AlertType = "RISK"
	AlertExecution  AlertType = "EXECUTION"
	AlertAuth       AlertType = "AUTHORIZATION"
	AlertVolatility AlertType = "VOLATILITY"
	AlertWinRate    AlertType = "WIN_RATE"
	AlertMilestone  AlertType = "MILESTONE"
	AlertRebalance  AlertType = "REBALANCE"
)

// Alert представляет алерт мониторинга
type Alert struct {
	Type      AlertType
	Severity  AlertSeverity
	Symbol    string
	Message   string
	Timestamp time.Time
}

// Quote представляет пару котировок маркет-мейкера
type Quote struct {
	Symbol    string
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Timestamp time.Time
}

// PerformanceReport сводные метрики портфеля за период
type PerformanceReport struct {
	TotalTrades     int
	WinningTrades   int
	WinRate         float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	NetPnL          float64
	TotalFees       float64
	MaxDrawdown     float64
	CurrentDrawdown float64
	SharpeRatio     float64
	SortinoRatio    float64
	CalmarRatio     float64
	AvgLatencyMs    float64
	ErrorRate       float64
	GeneratedAt     time.Time
}
