package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/pkg/models"
)

// ErrCeilingExceeded возвращается при попытке зафиксировать риск
// сверх портфельного потолка
var ErrCeilingExceeded = errors.New("risk: превышен потолок портфельного риска")

// Engine преобразует сырую возможность в ограниченный размер позиции.
// Портфельный агрегат риска — единственная точка сериализации между
// символами, все обращения к нему идут под одним мьютексом.
type Engine struct {
	config  config.RiskConfig
	gateway exchange.Gateway

	mu            sync.Mutex
	contributions map[string]float64
}

// NewEngine создает риск-модуль
func NewEngine(cfg config.RiskConfig, gateway exchange.Gateway) *Engine {
	return &Engine{
		config:        cfg,
		gateway:       gateway,
		contributions: make(map[string]float64),
	}
}

// PortfolioRisk возвращает текущую сумму вкладов риска открытых позиций
func (e *Engine) PortfolioRisk() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked()
}

func (e *Engine) totalLocked() float64 {
	var total float64
	for _, c := range e.contributions {
		total += c
	}
	return total
}

// Assess оценивает предлагаемый размер позиции по свежему состоянию
// счета. Таблица решений применяется по порядку, срабатывает первое
// подходящее правило.
func (e *Engine) Assess(ctx context.Context, symbol string, proposedSize float64) (*models.RiskAssessment, error) {
	account, err := e.gateway.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения состояния счета: %w", err)
	}
	if account.TotalBalance <= 0 {
		return nil, fmt.Errorf("нулевой баланс портфеля")
	}

	ticker, err := e.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения цены %s: %w", symbol, err)
	}

	positions, err := e.gateway.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения позиций: %w", err)
	}

	positionValue := proposedSize * ticker.Price
	positionRisk := positionValue / account.TotalBalance

	e.mu.Lock()
	currentRisk := e.totalLocked()
	e.mu.Unlock()

	newPortfolioRisk := currentRisk + positionRisk
	correlationRisk := e.correlationRisk(symbol, positions, account.TotalBalance)
	liquidationRisk := clip(account.MarginRatio/e.config.LiquidationThreshold, 0, 1) * e.config.LiquidationThreshold

	assessment := &models.RiskAssessment{
		Symbol:          symbol,
		PositionRisk:    positionRisk,
		PortfolioRisk:   newPortfolioRisk,
		CorrelationRisk: correlationRisk,
		LiquidationRisk: liquidationRisk,
		Timestamp:       time.Now(),
	}

	switch {
	case newPortfolioRisk > e.config.MaxPortfolioRisk:
		// Урезаем размер так, чтобы итоговый риск уложился в потолок
		remaining := e.config.MaxPortfolioRisk - currentRisk
		if remaining < 0 {
			remaining = 0
		}
		assessment.Recommendation = models.RecommendDecrease
		assessment.MaxSafeSize = remaining * account.TotalBalance / ticker.Price
		assessment.Reason = fmt.Sprintf("портфельный риск %.2f%% превысил бы потолок %.2f%%",
			newPortfolioRisk*100, e.config.MaxPortfolioRisk*100)

	case positionValue > e.config.MaxPositionSize:
		assessment.Recommendation = models.RecommendDecrease
		assessment.MaxSafeSize = e.config.MaxPositionSize / ticker.Price
		assessment.Reason = fmt.Sprintf("стоимость позиции %.2f превышает максимум %.2f",
			positionValue, e.config.MaxPositionSize)

	case correlationRisk > e.config.CorrelationThreshold:
		assessment.Recommendation = models.RecommendClose
		assessment.MaxSafeSize = 0
		assessment.Reason = "однонаправленная экспозиция в коррелированных символах"

	case account.MarginRatio > e.config.LiquidationThreshold:
		assessment.Recommendation = models.RecommendDecrease
		assessment.MaxSafeSize = proposedSize / 2
		assessment.Reason = fmt.Sprintf("маржинальный коэффициент %.2f близок к ликвидации",
			account.MarginRatio)

	case newPortfolioRisk < e.config.LowRiskThreshold:
		// Информационная рекомендация, размер не меняется
		assessment.Recommendation = models.RecommendIncrease
		assessment.MaxSafeSize = proposedSize
		assessment.Reason = "низкий портфельный риск, есть запас"

	default:
		assessment.Recommendation = models.RecommendHold
		assessment.MaxSafeSize = proposedSize
		assessment.Reason = "в пределах лимитов"
	}

	return assessment, nil
}

// Fresh сообщает, не устарела ли оценка для немедленного исполнения.
// Ставки финансирования и маржа успевают сдвинуться между скорингом
// и исполнением.
func (e *Engine) Fresh(assessment *models.RiskAssessment) bool {
	staleness := time.Duration(e.config.StalenessSeconds) * time.Second
	return time.Since(assessment.Timestamp) <= staleness
}

// Commit фиксирует вклад риска позиции в портфельный агрегат.
// Ключ уникален на сделку (символ и стратегия): две стратегии на
// одном символе ведут независимые вклады. Отказывает, если фиксация
// пробила бы потолок: инвариант не обходится молчаливым усечением.
func (e *Engine) Commit(key string, contribution float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const eps = 1e-9
	if e.totalLocked()+contribution > e.config.MaxPortfolioRisk+eps {
		return ErrCeilingExceeded
	}
	e.contributions[key] = e.contributions[key] + contribution
	return nil
}

// Release освобождает вклад риска по ключу после закрытия сделки
func (e *Engine) Release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contributions, key)
}

// correlationRisk оценивает однонаправленную экспозицию внутри
// коррелированной группы символа относительно допустимого риска портфеля
func (e *Engine) correlationRisk(symbol string, positions []*models.Position, portfolioValue float64) float64 {
	group := e.groupOf(symbol)
	if group == nil {
		return 0
	}

	bySide := map[models.Side]float64{}
	for _, p := range positions {
		if inGroup(group, p.Symbol) {
			bySide[p.Side] += p.Notional()
		}
	}

	dominant := math.Max(bySide[models.SideBuy], bySide[models.SideSell])
	ceiling := portfolioValue * e.config.MaxPortfolioRisk
	if ceiling <= 0 {
		return 0
	}
	return clip(dominant/ceiling, 0, 1)
}

// groupOf возвращает коррелированную группу символа из конфигурации
func (e *Engine) groupOf(symbol string) []string {
	for _, group := range e.config.CorrelationGroups {
		if inGroup(group, symbol) {
			return group
		}
	}
	return nil
}

func inGroup(group []string, symbol string) bool {
	for _, s := range group {
		if s == symbol {
			return true
		}
	}
	return false
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
