package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/pkg/logger"
	"github.com/skalibog/bfta/pkg/models"
)

// AlertSink принимает алерты менеджера позиций
type AlertSink interface {
	Raise(alert models.Alert)
}

// Closer закрывает позицию по символу (обычно движок исполнения)
type Closer interface {
	CloseSymbol(ctx context.Context, symbol, reason string, stopped bool) error
}

// Manager ведет локальный кэш позиций, синхронизируемый с биржей,
// следит за нереализованным PnL и котирует пары цен с перекосом
// под целевой уровень инвентаря
type Manager struct {
	config  config.PositionConfig
	trading config.TradingConfig
	gateway exchange.Gateway
	alerts  AlertSink
	closer  Closer

	mu        sync.RWMutex
	positions map[string]*models.Position
	inventory float64
	syncedAt  time.Time
}

// NewManager создает менеджер позиций
func NewManager(cfg config.PositionConfig, trading config.TradingConfig, gateway exchange.Gateway, alerts AlertSink, closer Closer) *Manager {
	return &Manager{
		config:    cfg,
		trading:   trading,
		gateway:   gateway,
		alerts:    alerts,
		closer:    closer,
		positions: make(map[string]*models.Position),
	}
}

// Resync перечитывает позиции с биржи. Биржа является источником
// истины: локальный кэш полностью замещается.
func (m *Manager) Resync(ctx context.Context) error {
	positions, err := m.gateway.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации позиций: %w", err)
	}

	fresh := make(map[string]*models.Position, len(positions))
	var inventory float64
	for _, p := range positions {
		fresh[p.Symbol] = p
		if p.Side == models.SideBuy {
			inventory += p.Notional()
		} else {
			inventory -= p.Notional()
		}
	}

	m.mu.Lock()
	m.positions = fresh
	m.inventory = inventory
	m.syncedAt = time.Now()
	m.mu.Unlock()

	return nil
}

// Positions возвращает копию кэша позиций
func (m *Manager) Positions() []*models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Position возвращает позицию по символу или nil
func (m *Manager) Position(symbol string) *models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Inventory возвращает чистый инвентарь в долларах (лонги минус шорты)
func (m *Manager) Inventory() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inventory
}

// Monitor проходит по кэшу и поднимает алерты по порогам PnL и маржи.
// При включенном автозакрытии стоп-лосс закрывает позицию через closer.
func (m *Manager) Monitor(ctx context.Context) {
	for _, p := range m.Positions() {
		pnlPct := m.pnlPercent(p)

		switch {
		case pnlPct <= -m.config.StopLossAlert:
			m.alerts.Raise(models.Alert{
				Type:      models.AlertStopLoss,
				Severity:  models.SeverityCritical,
				Symbol:    p.Symbol,
				Message:   fmt.Sprintf("убыток %.2f%% достиг порога стоп-лосса", pnlPct),
				Timestamp: time.Now(),
			})
			if m.config.AutoClose && m.closer != nil {
				if err := m.closer.CloseSymbol(ctx, p.Symbol, "автозакрытие по стоп-лоссу", true); err != nil {
					logger.Error("Не удалось автозакрыть позицию",
						zap.String("symbol", p.Symbol), zap.Error(err))
				}
			}

		case pnlPct >= m.config.TakeProfitAlert:
			m.alerts.Raise(models.Alert{
				Type:      models.AlertTakeProfit,
				Severity:  models.SeverityMedium,
				Symbol:    p.Symbol,
				Message:   fmt.Sprintf("прибыль %.2f%% достигла порога тейк-профита", pnlPct),
				Timestamp: time.Now(),
			})
		}

		if p.MarginRatio > m.config.MarginCallRatio {
			m.alerts.Raise(models.Alert{
				Type:      models.AlertMarginCall,
				Severity:  models.SeverityCritical,
				Symbol:    p.Symbol,
				Message:   fmt.Sprintf("маржинальный коэффициент %.2f близок к ликвидации", p.MarginRatio),
				Timestamp: time.Now(),
			})
		}
	}
}

// pnlPercent нереализованный PnL в процентах от стоимости входа
func (m *Manager) pnlPercent(p *models.Position) float64 {
	entryValue := p.Size * p.EntryPrice
	if entryValue == 0 {
		return 0
	}
	return p.UnrealizedPnL / entryValue * 100
}

// Quote строит пару котировок вокруг средней цены. Спред расширяется
// волатильностью до потолка, перекос инвентаря сдвигает цены и размеры
// в сторону, уменьшающую отклонение от целевого уровня.
func (m *Manager) Quote(symbol string, midPrice, volatility float64) models.Quote {
	spread := m.config.BaseSpread * (1 + volatility)
	if spread > m.config.MaxSpread {
		spread = m.config.MaxSpread
	}

	half := midPrice * spread / 2
	bidPrice := midPrice - half
	askPrice := midPrice + half
	bidSize := m.config.QuoteSize
	askSize := m.config.QuoteSize

	deviation := m.deviation()
	if math.Abs(deviation) > m.config.SkewThreshold {
		// Перекошены в лонг: котируем агрессивнее на продажу
		shift := half * clip(math.Abs(deviation), 0, 1)
		if deviation > 0 {
			bidPrice -= shift
			askPrice -= shift
			bidSize *= 0.5
			askSize *= 1.5
		} else {
			bidPrice += shift
			askPrice += shift
			bidSize *= 1.5
			askSize *= 0.5
		}
	}

	return models.Quote{
		Symbol:    symbol,
		BidPrice:  bidPrice,
		BidSize:   bidSize,
		AskPrice:  askPrice,
		AskSize:   askSize,
		Timestamp: time.Now(),
	}
}

// deviation относительное отклонение инвентаря от целевого уровня
func (m *Manager) deviation() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	base := m.trading.BaseOrderSize
	if base == 0 {
		return 0
	}
	return (m.inventory - m.config.TargetInventory) / base
}

// CheckRebalance выравнивает инвентарь рыночным ордером, когда
// отклонение превышает порог ребалансировки
func (m *Manager) CheckRebalance(ctx context.Context) {
	deviation := m.deviation()
	if math.Abs(deviation) <= m.config.RebalanceThreshold {
		return
	}

	m.alerts.Raise(models.Alert{
		Type:      models.AlertRebalance,
		Severity:  models.SeverityMedium,
		Message:   fmt.Sprintf("отклонение инвентаря %.2f превысило порог, выравнивание", deviation),
		Timestamp: time.Now(),
	})

	m.mu.RLock()
	excess := m.inventory - m.config.TargetInventory
	m.mu.RUnlock()

	side := models.SideSell
	if excess < 0 {
		side = models.SideBuy
	}

	// Грубое выравнивание: закрываем избыток по символу с наибольшей
	// экспозицией в сторону перекоса
	target := m.largestOnSide(side.Opposite())
	if target == nil {
		return
	}

	if err := m.gateway.ClosePosition(ctx, target.Symbol, target.Size); err != nil {
		logger.Error("Не удалось выровнять инвентарь",
			zap.String("symbol", target.Symbol), zap.Error(err))
		return
	}

	if err := m.Resync(ctx); err != nil {
		logger.Warn("Не удалось пересинхронизировать позиции после выравнивания", zap.Error(err))
	}
}

// largestOnSide возвращает позицию с наибольшим нотионалом на стороне
func (m *Manager) largestOnSide(side models.Side) *models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Position
	for _, p := range m.positions {
		if p.Side != side {
			continue
		}
		if best == nil || p.Notional() > best.Notional() {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
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
