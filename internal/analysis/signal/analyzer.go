package signal

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/pkg/models"
)

// minHistory минимум точек истории для расчета индикаторов.
// Меньшее количество дает нейтральный сигнал, а не ошибку.
const minHistory = 20

// Analyzer рассчитывает индикаторы и композитный сигнал по символу.
// Чистая функция над переданной историей: без I/O и побочных эффектов.
type Analyzer struct {
	config config.SignalConfig
}

// NewAnalyzer создает новый анализатор индикаторов
func NewAnalyzer(cfg config.SignalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze рассчитывает сигнал по ценовой истории символа.
// История передается от старых точек к новым.
func (a *Analyzer) Analyze(symbol string, history []models.PricePoint) *models.Signal {
	if len(history) < minHistory {
		return a.neutralSignal(symbol, history)
	}

	closes := make([]float64, len(history))
	volumes := make([]float64, len(history))
	for i, p := range history {
		closes[i] = p.Price
		volumes[i] = p.Volume
	}

	sig := &models.Signal{
		Symbol:    symbol,
		Timestamp: time.Now(),
	}

	sig.RSI = a.calculateRSI(closes)
	sig.MACD, sig.MACDSignal, sig.MACDHist = a.calculateMACD(closes)
	sig.BollingerUpper, sig.BollingerMiddle, sig.BollingerLower = a.calculateBollinger(closes)
	sig.Volatility = a.calculateVolatility(closes)
	sig.VolumeRatio = a.calculateVolumeRatio(volumes)

	a.score(sig, closes[len(closes)-1])
	sig.Condition = a.classify(sig, closes[len(closes)-1])

	return sig
}

// neutralSignal возвращает нейтральные значения при недостаточной истории
func (a *Analyzer) neutralSignal(symbol string, history []models.PricePoint) *models.Signal {
	price := 0.0
	if len(history) > 0 {
		price = history[len(history)-1].Price
	}

	return &models.Signal{
		Symbol:          symbol,
		RSI:             50,
		BollingerUpper:  price,
		BollingerMiddle: price,
		BollingerLower:  price,
		VolumeRatio:     1,
		Action:          models.ActionHold,
		Condition: models.MarketCondition{
			Trend:      models.TrendSideways,
			Volatility: models.VolatilityLow,
		},
		Timestamp: time.Now(),
	}
}

// calculateRSI рассчитывает RSI по Уайлдеру
func (a *Analyzer) calculateRSI(closes []float64) float64 {
	if len(closes) <= a.config.RSIPeriod {
		return 50
	}
	rsi := talib.Rsi(closes, a.config.RSIPeriod)
	return rsi[len(rsi)-1]
}

// calculateMACD рассчитывает тройку MACD. До накопления полного окна
// slow+signal значения остаются нулевыми.
func (a *Analyzer) calculateMACD(closes []float64) (float64, float64, float64) {
	if len(closes) < a.config.MACDSlow+a.config.MACDSignal {
		return 0, 0, 0
	}

	macd, signalLine, hist := talib.Macd(
		closes,
		a.config.MACDFast,
		a.config.MACDSlow,
		a.config.MACDSignal,
	)

	last := len(closes) - 1
	return macd[last], signalLine[last], hist[last]
}

// calculateBollinger рассчитывает полосы Боллинджера 20/2σ
func (a *Analyzer) calculateBollinger(closes []float64) (float64, float64, float64) {
	last := closes[len(closes)-1]
	if len(closes) < a.config.BBPeriod {
		return last, last, last
	}

	upper, middle, lower := talib.BBands(closes, a.config.BBPeriod, 2.0, 2.0, talib.SMA)
	i := len(closes) - 1
	return upper[i], middle[i], lower[i]
}

// calculateVolatility рассчитывает годовую волатильность логарифмических
// доходностей за окно
func (a *Analyzer) calculateVolatility(closes []float64) float64 {
	window := a.config.VolatilityWindow
	if len(closes) < window+1 {
		window = len(closes) - 1
	}
	if window < 2 {
		return 0
	}

	returns := make([]float64, 0, window)
	start := len(closes) - window - 1
	for i := start + 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	return stddev(returns) * math.Sqrt(365)
}

// calculateVolumeRatio отношение текущего объема к среднему за окно
func (a *Analyzer) calculateVolumeRatio(volumes []float64) float64 {
	window := a.config.VolatilityWindow
	if len(volumes) < window+1 {
		return 1
	}

	var sum float64
	for i := len(volumes) - window - 1; i < len(volumes)-1; i++ {
		sum += volumes[i]
	}
	mean := sum / float64(window)
	if mean == 0 {
		return 1
	}

	return volumes[len(volumes)-1] / mean
}

// score выполняет аддитивную оценку композитного сигнала:
// RSI за границами зон дает 0.3, согласие знака гистограммы MACD 0.25,
// выход цены за полосу Боллинджера 0.2, объемный импульс добавляет
// уверенности 0.15. Итоговая сила ниже порога принуждает к HOLD.
func (a *Analyzer) score(sig *models.Signal, price float64) {
	var buy, sell float64

	if sig.RSI < 30 {
		buy += 0.3
	} else if sig.RSI > 70 {
		sell += 0.3
	}

	if sig.MACDHist > 0 {
		buy += 0.25
	} else if sig.MACDHist < 0 {
		sell += 0.25
	}

	if sig.BollingerLower < sig.BollingerUpper {
		if price < sig.BollingerLower {
			buy += 0.2
		} else if price > sig.BollingerUpper {
			sell += 0.2
		}
	}

	volumeBoost := 0.0
	if sig.VolumeRatio > 1.5 {
		volumeBoost = 0.15
	}

	strength := buy
	action := models.ActionBuy
	if sell > buy {
		strength = sell
		action = models.ActionSell
	}

	if strength < a.config.MinStrength {
		action = models.ActionHold
	}

	// Высокая волатильность снижает уверенность в сигнале
	penalty := 0.0
	switch volatilityLevel(sig.Volatility) {
	case models.VolatilityHigh:
		penalty = 0.1
	case models.VolatilityExtreme:
		penalty = 0.25
	}

	sig.Action = action
	sig.Strength = strength
	sig.Confidence = clip(strength+volumeBoost-penalty, 0, 1)
}

// classify классифицирует рыночные условия по тренду и волатильности
func (a *Analyzer) classify(sig *models.Signal, price float64) models.MarketCondition {
	trend := models.TrendSideways
	if sig.MACDHist > 0 && price > sig.BollingerMiddle {
		trend = models.TrendBullish
	} else if sig.MACDHist < 0 && price < sig.BollingerMiddle {
		trend = models.TrendBearish
	}

	return models.MarketCondition{
		Trend:      trend,
		Volatility: volatilityLevel(sig.Volatility),
	}
}

// volatilityLevel относит годовую волатильность к уровню
func volatilityLevel(v float64) models.VolatilityLevel {
	switch {
	case v < 0.3:
		return models.VolatilityLow
	case v < 0.6:
		return models.VolatilityMedium
	case v < 1.0:
		return models.VolatilityHigh
	default:
		return models.VolatilityExtreme
	}
}

// stddev стандартное отклонение выборки
func stddev(values []float64) float64 {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / n)
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
