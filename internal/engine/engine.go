package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfta/internal/analysis/signal"
	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/internal/execution"
	"github.com/skalibog/bfta/internal/feed"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/internal/performance"
	"github.com/skalibog/bfta/internal/position"
	"github.com/skalibog/bfta/internal/risk"
	"github.com/skalibog/bfta/internal/scanner"
	"github.com/skalibog/bfta/internal/storage"
	"github.com/skalibog/bfta/pkg/logger"
	"github.com/skalibog/bfta/pkg/models"
)

// Имена стратегий: ключ открытой сделки складывается из символа и стратегии
const (
	StrategyFundingArb = "funding_arb"
	StrategyCopyTrade  = "copy_trading"
)

// copyTraderLimit сколько ведущих трейдеров копируется одновременно
const copyTraderLimit = 3

// StopMode режим остановки агента
type StopMode int

const (
	// StopHalt прекращает новые входы, открытые позиции остаются
	StopHalt StopMode = iota
	// StopFlatten закрывает все открытые позиции перед остановкой
	StopFlatten
)

// Engine связывает все модули агента: плановые циклы сканирования,
// push-события потока, мониторинг позиций и отчеты о производительности
type Engine struct {
	config config.Config

	gateway   exchange.Gateway
	provider  *market.Provider
	analyzer  *signal.Analyzer
	scanner   *scanner.Scanner
	riskEng   *risk.Engine
	execution *execution.Engine
	positions *position.Manager
	monitor   *performance.Monitor
	store     storage.Storage
	stream    *exchange.Stream
	feed      feed.TraderFeed

	cancel context.CancelFunc
}

// New создает движок агента из собранных модулей. Лента трейдеров
// опциональна: nil отключает копирование сделок.
func New(cfg config.Config, gateway exchange.Gateway, provider *market.Provider, analyzer *signal.Analyzer,
	scan *scanner.Scanner, riskEng *risk.Engine, exec *execution.Engine, positions *position.Manager,
	monitor *performance.Monitor, store storage.Storage, stream *exchange.Stream, traderFeed feed.TraderFeed) *Engine {
	return &Engine{
		config:    cfg,
		gateway:   gateway,
		provider:  provider,
		analyzer:  analyzer,
		scanner:   scan,
		riskEng:   riskEng,
		execution: exec,
		positions: positions,
		monitor:   monitor,
		store:     store,
		stream:    stream,
		feed:      traderFeed,
	}
}

// Run запускает главный цикл агента и блокируется до отмены контекста
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	if err := e.positions.Resync(ctx); err != nil {
		logger.Warn("Не удалось выполнить начальную синхронизацию позиций", zap.Error(err))
	}

	if e.stream != nil {
		go e.stream.Start(ctx)
	}
	if e.feed != nil {
		e.startCopyTrading(ctx)
	}

	scanTicker := time.NewTicker(time.Duration(e.config.Scanner.IntervalSeconds) * time.Second)
	defer scanTicker.Stop()
	positionTicker := time.NewTicker(time.Duration(e.config.Position.SyncIntervalSeconds) * time.Second)
	defer positionTicker.Stop()
	perfTicker := time.NewTicker(time.Duration(e.config.Performance.IntervalSeconds) * time.Second)
	defer perfTicker.Stop()

	logger.Info("Агент запущен",
		zap.Strings("symbols", e.config.Trading.Symbols),
		zap.String("mode", e.config.Trading.Mode))

	// Первый цикл сразу, не дожидаясь тикера
	e.scanCycle(ctx, e.config.Trading.Symbols)

	var streamEvents <-chan exchange.Event
	if e.stream != nil {
		streamEvents = e.stream.Events()
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()

		case <-scanTicker.C:
			e.scanCycle(ctx, e.config.Trading.Symbols)
			e.execution.CloseExpired(ctx)

		case <-positionTicker.C:
			if err := e.positions.Resync(ctx); err != nil {
				if e.handleGatewayError(err) {
					continue
				}
				logger.Warn("Ошибка синхронизации позиций", zap.Error(err))
			}
			e.positions.Monitor(ctx)
			e.positions.CheckRebalance(ctx)

		case <-perfTicker.C:
			e.performanceCycle(ctx)

		case event, ok := <-streamEvents:
			if !ok {
				streamEvents = nil
				continue
			}
			e.handleEvent(ctx, event)

		case alert := <-e.monitor.Critical():
			e.handleCritical(ctx, alert)

		case trade := <-e.execution.Reports():
			e.persistTrade(ctx, trade)
		}
	}
}

// Stop останавливает агента в заданном режиме
func (e *Engine) Stop(ctx context.Context, mode StopMode) {
	if mode == StopFlatten {
		e.execution.CloseAll(ctx, "остановка с выравниванием позиций")
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// scanCycle выполняет один цикл поиска и исполнения возможностей
func (e *Engine) scanCycle(ctx context.Context, symbols []string) {
	opportunities := e.scanner.Scan(ctx, symbols)
	top := scanner.TopK(opportunities, e.config.Scanner.TopK)

	logger.Debug("Цикл сканирования завершен",
		zap.Int("found", len(opportunities)),
		zap.Int("selected", len(top)))

	for _, opp := range top {
		e.executeOpportunity(ctx, StrategyFundingArb, opp)
	}

	e.persistMarketState(ctx, symbols)
}

// executeOpportunity прогоняет возможность через оценку риска и исполнение
func (e *Engine) executeOpportunity(ctx context.Context, strategy string, opp *models.Opportunity) {
	assessment, err := e.riskEng.Assess(ctx, opp.Symbol, opp.RecommendedSize)
	if err != nil {
		if e.handleGatewayError(err) {
			return
		}
		logger.Warn("Ошибка оценки риска",
			zap.String("symbol", opp.Symbol), zap.Error(err))
		return
	}

	_, err = e.execution.Execute(ctx, strategy, opp, assessment)
	switch {
	case err == nil:
	case errors.Is(err, execution.ErrTradeOpen),
		errors.Is(err, execution.ErrMaxConcurrent),
		errors.Is(err, execution.ErrZeroSize):
		logger.Debug("Возможность пропущена",
			zap.String("symbol", opp.Symbol), zap.Error(err))
	default:
		if e.handleGatewayError(err) {
			return
		}
		logger.Warn("Ошибка исполнения возможности",
			zap.String("symbol", opp.Symbol), zap.Error(err))
	}
}

// handleGatewayError останавливает агента при фатальной ошибке шлюза.
// Ошибка аутентификации не лечится повтором: продолжать торговать
// без подтвержденных прав нельзя. Возвращает true, если агент остановлен.
func (e *Engine) handleGatewayError(err error) bool {
	if err == nil || !exchange.Fatal(err) {
		return false
	}

	logger.Error("Фатальная ошибка биржевого шлюза, агент останавливается", zap.Error(err))
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// persistMarketState сохраняет последние снимки и сигналы цикла
func (e *Engine) persistMarketState(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		if snapshot := e.provider.Latest(symbol); snapshot != nil {
			if err := e.store.SaveSnapshot(ctx, snapshot); err != nil {
				logger.Warn("Не удалось сохранить снимок",
					zap.String("symbol", symbol), zap.Error(err))
			}
		}

		sig := e.analyzer.Analyze(symbol, e.provider.History(symbol))
		e.monitor.CheckVolatility(symbol, sig.Volatility)
		if err := e.store.SaveSignal(ctx, sig); err != nil {
			logger.Warn("Не удалось сохранить сигнал",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// startCopyTrading подписывается на сделки ведущих трейдеров и гонит
// их через тот же путь риск-оценки и исполнения, что и сканер
func (e *Engine) startCopyTrading(ctx context.Context) {
	traders, err := e.feed.ListTopTraders(ctx, copyTraderLimit)
	if err != nil {
		logger.Warn("Не удалось получить список трейдеров для копирования", zap.Error(err))
		return
	}

	for _, trader := range traders {
		trader := trader
		trades, err := e.feed.StreamTrades(ctx, trader.ID)
		if err != nil {
			logger.Warn("Не удалось подписаться на сделки трейдера",
				zap.String("trader", trader.ID), zap.Error(err))
			continue
		}

		go func() {
			for trade := range trades {
				opp := feed.ToOpportunity(trade, trader, e.config.Trading.BaseOrderSize)
				e.executeOpportunity(ctx, StrategyCopyTrade, opp)
			}
		}()
	}
}

// handleEvent реагирует на push-событие потока. Сдвиг ставки
// финансирования запускает внеплановый скан символа.
func (e *Engine) handleEvent(ctx context.Context, event exchange.Event) {
	switch event.Type {
	case exchange.EventFunding:
		e.scanCycle(ctx, []string{event.Symbol})
	case exchange.EventTicker:
		e.provider.Record(&models.MarketSnapshot{
			Symbol:    event.Symbol,
			LastPrice: event.Price,
			Timestamp: event.Timestamp,
		})
	}
}

// handleCritical обрабатывает критический алерт
func (e *Engine) handleCritical(ctx context.Context, alert models.Alert) {
	if err := e.store.SaveAlert(ctx, &alert); err != nil {
		logger.Warn("Не удалось сохранить алерт", zap.Error(err))
	}

	// Маржин-колл по символу: принудительно сокращаем экспозицию
	if alert.Type == models.AlertMarginCall && alert.Symbol != "" {
		if err := e.execution.CloseSymbol(ctx, alert.Symbol, "принудительное закрытие по маржин-коллу", true); err != nil {
			logger.Warn("Не удалось закрыть позицию по маржин-коллу",
				zap.String("symbol", alert.Symbol), zap.Error(err))
		}
	}
}

// performanceCycle строит отчет и фиксирует точку кривой капитала
func (e *Engine) performanceCycle(ctx context.Context) {
	account, err := e.gateway.GetAccount(ctx)
	if err == nil {
		equity := account.TotalBalance
		for _, p := range e.positions.Positions() {
			equity += p.UnrealizedPnL
		}
		e.monitor.RecordEquity(equity)
	} else if !e.handleGatewayError(err) {
		logger.Warn("Не удалось получить состояние счета", zap.Error(err))
	}

	report := e.monitor.Report(e.execution.Trades(), e.positions.Positions())
	logger.Info("Отчет о производительности",
		zap.Int("trades", report.TotalTrades),
		zap.Float64("win_rate", report.WinRate),
		zap.Float64("net_pnl", report.NetPnL),
		zap.Float64("max_drawdown", report.MaxDrawdown),
		zap.Float64("error_rate", report.ErrorRate))
}

// persistTrade сохраняет отчет о сделке в хранилище
func (e *Engine) persistTrade(ctx context.Context, trade *models.Trade) {
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		logger.Warn("Не удалось сохранить сделку",
			zap.String("trade", trade.ID), zap.Error(err))
	}
}

// shutdown завершает работу модулей при остановке
func (e *Engine) shutdown() {
	logger.Info("Агент останавливается")
	e.store.Close()
}
