package performance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/pkg/logger"
	"github.com/skalibog/bfta/pkg/models"
)

// Monitor считает сводные метрики портфеля и ведет историю алертов.
// Только читает торговое состояние, никогда не изменяет его.
type Monitor struct {
	config config.PerformanceConfig

	mu       sync.Mutex
	alerts   []models.Alert
	equity   []float64
	peak     float64
	latency  []time.Duration
	errors   int
	requests int

	critical chan models.Alert
}

// NewMonitor создает монитор производительности
func NewMonitor(cfg config.PerformanceConfig) *Monitor {
	return &Monitor{
		config:   cfg,
		critical: make(chan models.Alert, 16),
	}
}

// Critical возвращает канал критических алертов для немедленной реакции
func (m *Monitor) Critical() <-chan models.Alert {
	return m.critical
}

// Raise добавляет алерт в кольцевую историю. Критические алерты
// дополнительно уходят в выделенный канал без блокировки.
func (m *Monitor) Raise(alert models.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.config.AlertHistoryLimit {
		m.alerts = m.alerts[len(m.alerts)-m.config.AlertHistoryLimit:]
	}
	m.mu.Unlock()

	if alert.Severity == models.SeverityCritical {
		logger.Error("Критический алерт",
			zap.String("type", string(alert.Type)),
			zap.String("symbol", alert.Symbol),
			zap.String("message", alert.Message))
		select {
		case m.critical <- alert:
		default:
		}
	} else {
		logger.Info("Алерт",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}
}

// Alerts возвращает копию истории алертов, новые в конце
func (m *Monitor) Alerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// ObserveLatency фиксирует задержку цикла исполнения
func (m *Monitor) ObserveLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = append(m.latency, d)
	m.requests++
}

// ObserveError фиксирует ошибку исполнения
func (m *Monitor) ObserveError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.requests++
}

// RecordEquity добавляет точку в кривую капитала
func (m *Monitor) RecordEquity(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, value)
	if value > m.peak {
		m.peak = value
	}
}

// Report строит сводный отчет по истории сделок и открытым позициям
func (m *Monitor) Report(trades []*models.Trade, positions []*models.Position) *models.PerformanceReport {
	report := &models.PerformanceReport{
		GeneratedAt: time.Now(),
	}

	for _, t := range trades {
		if t.Status != models.TradeClosed && t.Status != models.TradeStopped {
			continue
		}
		report.TotalTrades++
		report.RealizedPnL += t.RealizedPnL
		report.TotalFees += t.Fees
		if t.RealizedPnL > 0 {
			report.WinningTrades++
		}
	}
	if report.TotalTrades > 0 {
		report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades)
	}

	for _, p := range positions {
		report.UnrealizedPnL += p.UnrealizedPnL
	}
	report.NetPnL = report.RealizedPnL + report.UnrealizedPnL

	m.mu.Lock()
	report.MaxDrawdown, report.CurrentDrawdown = m.drawdownsLocked()
	report.SharpeRatio, report.SortinoRatio = m.ratiosLocked()
	if report.MaxDrawdown > 0 {
		returns := m.totalReturnLocked()
		report.CalmarRatio = returns / report.MaxDrawdown
	}
	if len(m.latency) > 0 {
		var sum time.Duration
		for _, d := range m.latency {
			sum += d
		}
		report.AvgLatencyMs = float64(sum.Milliseconds()) / float64(len(m.latency))
	}
	if m.requests > 0 {
		report.ErrorRate = float64(m.errors) / float64(m.requests)
	}
	m.mu.Unlock()

	m.checkThresholds(report)
	return report
}

// drawdownsLocked считает максимальную и текущую просадку по кривой капитала
func (m *Monitor) drawdownsLocked() (maxDD, currentDD float64) {
	var peak float64
	for _, v := range m.equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
			currentDD = dd
		}
	}
	return maxDD, currentDD
}

// ratiosLocked считает годовые коэффициенты Шарпа и Сортино по доходностям
// кривой капитала
func (m *Monitor) ratiosLocked() (sharpe, sortino float64) {
	if len(m.equity) < 3 {
		return 0, 0
	}

	returns := make([]float64, 0, len(m.equity)-1)
	for i := 1; i < len(m.equity); i++ {
		if m.equity[i-1] > 0 {
			returns = append(returns, m.equity[i]/m.equity[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0, 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq, downSq float64
	downN := 0
	for _, r := range returns {
		d := r - mean
		sq += d * d
		if r < 0 {
			downSq += r * r
			downN++
		}
	}
	std := math.Sqrt(sq / float64(len(returns)))

	annual := math.Sqrt(365)
	if std > 0 {
		sharpe = mean / std * annual
	}
	if downN > 0 {
		downStd := math.Sqrt(downSq / float64(downN))
		if downStd > 0 {
			sortino = mean / downStd * annual
		}
	}
	return sharpe, sortino
}

// totalReturnLocked суммарная доходность кривой капитала
func (m *Monitor) totalReturnLocked() float64 {
	if len(m.equity) < 2 || m.equity[0] <= 0 {
		return 0
	}
	return m.equity[len(m.equity)-1]/m.equity[0] - 1
}

// CheckVolatility поднимает алерт, когда волатильность символа
// превышает настроенный порог. Нулевой порог отключает проверку.
func (m *Monitor) CheckVolatility(symbol string, volatility float64) {
	if m.config.VolatilityAlert <= 0 || volatility <= m.config.VolatilityAlert {
		return
	}
	m.Raise(models.Alert{
		Type:     models.AlertVolatility,
		Severity: models.SeverityHigh,
		Symbol:   symbol,
		Message: fmt.Sprintf("волатильность %.4f превысила порог %.4f",
			volatility, m.config.VolatilityAlert),
	})
}

// checkThresholds поднимает алерты по порогам отчета
func (m *Monitor) checkThresholds(report *models.PerformanceReport) {
	if report.CurrentDrawdown > m.config.MaxDrawdownAlert {
		m.Raise(models.Alert{
			Type:     models.AlertDrawdown,
			Severity: models.SeverityCritical,
			Message: fmt.Sprintf("просадка %.2f%% превысила порог %.2f%%",
				report.CurrentDrawdown*100, m.config.MaxDrawdownAlert*100),
		})
	}

	if report.TotalTrades >= 10 && report.WinRate < m.config.MinWinRate {
		m.Raise(models.Alert{
			Type:     models.AlertWinRate,
			Severity: models.SeverityHigh,
			Message: fmt.Sprintf("доля прибыльных сделок %.1f%% ниже порога %.1f%%",
				report.WinRate*100, m.config.MinWinRate*100),
		})
	}

	if m.config.TradeMilestone > 0 && report.TotalTrades > 0 && report.TotalTrades%m.config.TradeMilestone == 0 {
		m.Raise(models.Alert{
			Type:     models.AlertMilestone,
			Severity: models.SeverityLow,
			Message: fmt.Sprintf("закрыто %d сделок, чистый PnL %.2f",
				report.TotalTrades, report.NetPnL),
		})
	}
}
