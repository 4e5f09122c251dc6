package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/internal/ledger"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/internal/risk"
	"github.com/skalibog/bfta/pkg/logger"
	"github.com/skalibog/bfta/pkg/models"
)

// Причины отказа шлюза исполнения
var (
	ErrTradeOpen     = errors.New("trade already open for symbol and strategy")
	ErrMaxConcurrent = errors.New("maximum concurrent positions reached")
	ErrStaleMarket   = errors.New("market moved too far since scoring")
	ErrNotAuthorized = errors.New("action rejected by authorization ledger")
	ErrZeroSize      = errors.New("risk engine capped size to zero")
)

// Monitor принимает алерты и системные метрики исполнения
type Monitor interface {
	Raise(alert models.Alert)
	ObserveLatency(d time.Duration)
	ObserveError()
}

// Engine превращает одобренную возможность в ордер и ведет жизненный
// цикл сделки PENDING → EXECUTED → {CLOSED, STOPPED}. Инвариант: не
// больше одной открытой сделки на пару (символ, стратегия), что
// обеспечивается посимвольными мьютексами.
type Engine struct {
	config    config.ExecutionConfig
	trading   config.TradingConfig
	ledgerCfg config.LedgerConfig

	gateway  exchange.Gateway
	riskEng  *risk.Engine
	ledger   ledger.Ledger
	provider *market.Provider
	monitor  Monitor

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	open   map[string]*models.Trade
	trades []*models.Trade

	reports chan *models.Trade
}

// NewEngine создает движок исполнения
func NewEngine(cfg config.ExecutionConfig, trading config.TradingConfig, ledgerCfg config.LedgerConfig,
	gateway exchange.Gateway, riskEng *risk.Engine, ldg ledger.Ledger, provider *market.Provider, monitor Monitor) *Engine {
	return &Engine{
		config:    cfg,
		trading:   trading,
		ledgerCfg: ledgerCfg,
		gateway:   gateway,
		riskEng:   riskEng,
		ledger:    ldg,
		provider:  provider,
		monitor:   monitor,
		locks:     make(map[string]*sync.Mutex),
		open:      make(map[string]*models.Trade),
		reports:   make(chan *models.Trade, 64),
	}
}

// Reports возвращает канал отчетов о переходах сделок
func (e *Engine) Reports() <-chan *models.Trade {
	return e.reports
}

// symbolLock возвращает мьютекс символа, создавая его при первом обращении
func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

func tradeKey(symbol, strategy string) string {
	return symbol + "|" + strategy
}

// Execute исполняет возможность под защитой посимвольного мьютекса:
// почти одновременные триггеры (плановый скан и push-событие) не могут
// исполниться дважды.
func (e *Engine) Execute(ctx context.Context, strategy string, opp *models.Opportunity, assessment *models.RiskAssessment) (*models.Trade, error) {
	lock := e.symbolLock(opp.Symbol)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()

	trade, err := e.execute(ctx, strategy, opp, assessment)
	if err != nil {
		e.monitor.ObserveError()
		return trade, err
	}

	e.monitor.ObserveLatency(time.Since(started))
	return trade, nil
}

func (e *Engine) execute(ctx context.Context, strategy string, opp *models.Opportunity, assessment *models.RiskAssessment) (*models.Trade, error) {
	key := tradeKey(opp.Symbol, strategy)

	e.mu.Lock()
	if _, exists := e.open[key]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", opp.Symbol, strategy, ErrTradeOpen)
	}
	openCount := len(e.open)
	e.mu.Unlock()

	if openCount >= e.trading.MaxConcurrentPositions {
		return nil, ErrMaxConcurrent
	}

	// Оценка устаревает: ставки и маржа двигаются между сканом и исполнением
	if !e.riskEng.Fresh(assessment) {
		logger.Debug("Оценка риска устарела, пересчет", zap.String("symbol", opp.Symbol))
		fresh, err := e.riskEng.Assess(ctx, opp.Symbol, opp.RecommendedSize)
		if err != nil {
			return nil, fmt.Errorf("ошибка повторной оценки риска: %w", err)
		}
		assessment = fresh
	}

	if assessment.Recommendation == models.RecommendClose {
		return nil, fmt.Errorf("риск-модуль запретил вход: %s", assessment.Reason)
	}

	size := opp.RecommendedSize
	if assessment.MaxSafeSize < size {
		size = assessment.MaxSafeSize
	}
	if size <= 0 {
		return nil, ErrZeroSize
	}

	if err := e.preChecks(ctx, opp); err != nil {
		return nil, err
	}

	ticker, err := e.gateway.GetTicker(ctx, opp.Symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения цены перед исполнением: %w", err)
	}

	// Предторговая авторизация в реестре: отказ прерывает исполнение
	// без побочных эффектов, сделка не создается
	amount := decimal.NewFromFloat(size * ticker.Price)
	decision, err := e.ledger.RequestAction(ctx, e.ledgerCfg.AgentID, ledger.ActionTrade, e.ledgerCfg.Protocol, amount)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к реестру авторизации: %w", err)
	}
	if !decision.Allowed {
		e.monitor.Raise(models.Alert{
			Type:      models.AlertAuth,
			Severity:  models.SeverityHigh,
			Symbol:    opp.Symbol,
			Message:   decision.Reason,
			Timestamp: time.Now(),
		})
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, decision.Reason)
	}

	// Адаптивная задержка размазывает всплеск ордеров, когда много
	// символов квалифицируются одновременно
	if err := e.adaptiveDelay(ctx, opp); err != nil {
		return nil, err
	}

	contribution := assessment.PositionRisk
	if opp.RecommendedSize > 0 {
		contribution = assessment.PositionRisk * size / opp.RecommendedSize
	}
	if err := e.riskEng.Commit(key, contribution); err != nil {
		return nil, err
	}

	side := models.SideSell
	if opp.Direction == models.DirectionLong {
		side = models.SideBuy
	}

	trade := &models.Trade{
		ID:        uuid.NewString(),
		Symbol:    opp.Symbol,
		Side:      side,
		Size:      size,
		Strategy:  strategy,
		Status:    models.TradePending,
		Reasoning: opp.Reasoning,
	}

	orderType := exchange.OrderMarket
	if e.config.PostOnly {
		orderType = exchange.OrderLimit
	}
	result, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   opp.Symbol,
		Side:     side,
		Type:     orderType,
		Size:     size,
		Price:    ticker.Price,
		PostOnly: e.config.PostOnly,
	})
	if err != nil {
		// Терминальный отказ: размещение ордера вслепую не повторяется
		// из-за риска двойного исполнения
		e.fail(trade, err)
		return trade, fmt.Errorf("ошибка размещения ордера: %w", err)
	}

	fillPrice := result.AvgFillPrice
	if fillPrice == 0 {
		fillPrice = ticker.Price
	}

	e.transition(trade, models.TradeExecuted)
	trade.EntryPrice = fillPrice
	trade.EntryTime = time.Now()
	trade.Fees = fillPrice * size * e.config.FeeRate

	if e.config.ProtectiveOrders {
		e.placeProtective(ctx, trade)
	}

	e.mu.Lock()
	e.open[key] = trade
	e.trades = append(e.trades, trade)
	e.mu.Unlock()

	logger.Info("Сделка исполнена",
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Float64("size", trade.Size),
		zap.Float64("price", trade.EntryPrice),
		zap.String("strategy", strategy))

	e.report(trade)
	return trade, nil
}

// preChecks повторяет проверки рынка непосредственно перед исполнением
func (e *Engine) preChecks(ctx context.Context, opp *models.Opportunity) error {
	if move := e.provider.RecentMove(opp.Symbol, 20); move > e.config.MaxRecentMove {
		return fmt.Errorf("%w: движение %.2f%% за последние точки", ErrStaleMarket, move*100)
	}

	funding, err := e.gateway.GetFundingRate(ctx, opp.Symbol)
	if err != nil {
		return fmt.Errorf("ошибка проверки ставки финансирования: %w", err)
	}

	drift := funding.Rate - opp.FundingRate
	if drift < 0 {
		drift = -drift
	}
	if drift > e.config.MaxFundingDrift {
		return fmt.Errorf("%w: ставка сместилась на %.4f", ErrStaleMarket, drift)
	}

	return nil
}

// adaptiveDelay растет с риском и падает с уверенностью
func (e *Engine) adaptiveDelay(ctx context.Context, opp *models.Opportunity) error {
	base := time.Duration(e.config.BaseDelayMs) * time.Millisecond
	delay := time.Duration(float64(base) * (1 + opp.RiskScore) / (0.5 + opp.Confidence))

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// placeProtective выставляет защитные стоп-лосс и тейк-профит ордера.
// Ошибка размещения не отменяет исполненную сделку, только алертится.
func (e *Engine) placeProtective(ctx context.Context, trade *models.Trade) {
	stopPct := e.trading.StopLossPercent / 100
	targetPct := e.trading.TakeProfitPercent / 100
	if stopPct <= 0 && targetPct <= 0 {
		return
	}

	closeSide := models.SideSell
	stopPrice := trade.EntryPrice * (1 - stopPct)
	targetPrice := trade.EntryPrice * (1 + targetPct)
	if trade.Side == models.SideSell {
		closeSide = models.SideBuy
		stopPrice = trade.EntryPrice * (1 + stopPct)
		targetPrice = trade.EntryPrice * (1 - targetPct)
	}

	if stopPct > 0 {
		_, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     trade.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderStopMarket,
			Size:       trade.Size,
			StopPrice:  stopPrice,
			ReduceOnly: true,
		})
		if err != nil {
			e.protectiveFailed(trade, "стоп-лосс", err)
		}
	}

	if targetPct > 0 {
		_, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     trade.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderLimit,
			Size:       trade.Size,
			Price:      targetPrice,
			ReduceOnly: true,
		})
		if err != nil {
			e.protectiveFailed(trade, "тейк-профит", err)
		}
	}
}

func (e *Engine) protectiveFailed(trade *models.Trade, kind string, err error) {
	logger.Error("Не удалось выставить защитный ордер",
		zap.String("symbol", trade.Symbol), zap.String("kind", kind), zap.Error(err))
	e.monitor.Raise(models.Alert{
		Type:      models.AlertExecution,
		Severity:  models.SeverityHigh,
		Symbol:    trade.Symbol,
		Message:   fmt.Sprintf("не выставлен защитный ордер (%s): %v", kind, err),
		Timestamp: time.Now(),
	})
}

// fail переводит сделку в терминальный FAILED и освобождает риск
func (e *Engine) fail(trade *models.Trade, cause error) {
	e.transition(trade, models.TradeFailed)
	e.riskEng.Release(tradeKey(trade.Symbol, trade.Strategy))

	e.mu.Lock()
	e.trades = append(e.trades, trade)
	e.mu.Unlock()

	e.monitor.Raise(models.Alert{
		Type:      models.AlertExecution,
		Severity:  models.SeverityHigh,
		Symbol:    trade.Symbol,
		Message:   fmt.Sprintf("ошибка размещения ордера: %v", cause),
		Timestamp: time.Now(),
	})
	e.report(trade)
}

// Close закрывает открытую сделку встречным ордером. stopped помечает
// закрытие по защитному стопу.
func (e *Engine) Close(ctx context.Context, symbol, strategy, reason string, stopped bool) (*models.Trade, error) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	key := tradeKey(symbol, strategy)
	e.mu.Lock()
	trade, ok := e.open[key]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("нет открытой сделки по %s (%s)", symbol, strategy)
	}

	if err := e.gateway.ClosePosition(ctx, symbol, trade.Size); err != nil {
		e.monitor.ObserveError()
		return nil, fmt.Errorf("ошибка закрытия позиции %s: %w", symbol, err)
	}

	ticker, err := e.gateway.GetTicker(ctx, symbol)
	exitPrice := trade.EntryPrice
	if err == nil {
		exitPrice = ticker.Price
	}

	target := models.TradeClosed
	if stopped {
		target = models.TradeStopped
	}
	e.transition(trade, target)

	trade.ExitPrice = exitPrice
	trade.ExitTime = time.Now()
	trade.Fees += exitPrice * trade.Size * e.config.FeeRate
	trade.RealizedPnL = trade.PnL(exitPrice) - trade.Fees
	if reason != "" {
		trade.Reasoning = reason
	}

	e.mu.Lock()
	delete(e.open, key)
	e.mu.Unlock()

	e.riskEng.Release(key)
	e.recordPerformance(trade)

	logger.Info("Сделка закрыта",
		zap.String("symbol", symbol),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.String("status", string(trade.Status)))

	e.report(trade)
	return trade, nil
}

// CloseSymbol закрывает открытую сделку по символу независимо от
// стратегии. Используется менеджером позиций при автозакрытии.
func (e *Engine) CloseSymbol(ctx context.Context, symbol, reason string, stopped bool) error {
	e.mu.Lock()
	var strategy string
	found := false
	for _, t := range e.open {
		if t.Symbol == symbol {
			strategy = t.Strategy
			found = true
			break
		}
	}
	e.mu.Unlock()

	if !found {
		return fmt.Errorf("нет открытой сделки по %s", symbol)
	}

	_, err := e.Close(ctx, symbol, strategy, reason, stopped)
	return err
}

// CloseExpired закрывает сделки, висящие дольше максимального срока
// удержания: модель прибыли рассчитана на один интервал финансирования
func (e *Engine) CloseExpired(ctx context.Context) {
	maxHold := time.Duration(e.trading.MaxHoldHours) * time.Hour

	e.mu.Lock()
	var expired []*models.Trade
	for _, t := range e.open {
		if t.Status == models.TradeExecuted && time.Since(t.EntryTime) > maxHold {
			expired = append(expired, t)
		}
	}
	e.mu.Unlock()

	for _, t := range expired {
		if _, err := e.Close(ctx, t.Symbol, t.Strategy, "превышен максимальный срок удержания", false); err != nil {
			logger.Warn("Не удалось закрыть просроченную сделку",
				zap.String("symbol", t.Symbol), zap.Error(err))
		}
	}
}

// CloseAll закрывает все открытые сделки (режим остановки с выравниванием)
func (e *Engine) CloseAll(ctx context.Context, reason string) {
	e.mu.Lock()
	var open []*models.Trade
	for _, t := range e.open {
		open = append(open, t)
	}
	e.mu.Unlock()

	for _, t := range open {
		if _, err := e.Close(ctx, t.Symbol, t.Strategy, reason, false); err != nil {
			logger.Warn("Не удалось закрыть сделку при остановке",
				zap.String("symbol", t.Symbol), zap.Error(err))
		}
	}
}

// recordPerformance уведомляет реестр о результате закрытой сделки.
// Запись не откатывает уже закрытую сделку: ошибка только логируется.
func (e *Engine) recordPerformance(trade *models.Trade) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		profit := decimal.NewFromFloat(trade.RealizedPnL)
		success := trade.RealizedPnL > 0
		if err := e.ledger.RecordPerformance(ctx, e.ledgerCfg.AgentID, profit, success); err != nil {
			logger.Warn("Не удалось записать результат в реестр",
				zap.String("trade", trade.ID), zap.Error(err))
		}
	}()
}

// transition переводит статус сделки с проверкой монотонности
func (e *Engine) transition(trade *models.Trade, to models.TradeStatus) {
	if !trade.CanTransition(to) {
		logger.Error("Недопустимый переход статуса сделки",
			zap.String("trade", trade.ID),
			zap.String("from", string(trade.Status)),
			zap.String("to", string(to)))
		return
	}
	trade.Status = to
}

// report отправляет отчет без блокировки на медленном потребителе
func (e *Engine) report(trade *models.Trade) {
	select {
	case e.reports <- trade:
	default:
	}
}

// OpenTrades возвращает копию открытых сделок
func (e *Engine) OpenTrades() []*models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Trade, 0, len(e.open))
	for _, t := range e.open {
		out = append(out, t)
	}
	return out
}

// Trades возвращает копию всей истории сделок
func (e *Engine) Trades() []*models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}
