package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/bfta/pkg/models"
)

// Trader профиль трейдера-лидера из внешней ленты
type Trader struct {
	ID      string
	Name    string
	PnL30d  float64
	WinRate float64
	Volume  float64
}

// TraderTrade сделка лидера, доступная для копирования
type TraderTrade struct {
	TraderID  string
	Symbol    string
	Direction models.Direction
	Size      float64
	Price     float64
	Timestamp time.Time
}

// TraderFeed поставляет сделки ведущих трейдеров для копирования.
// Конкретный источник (WebSocket, REST-поллинг) скрыт за интерфейсом.
type TraderFeed interface {
	ListTopTraders(ctx context.Context, limit int) ([]*Trader, error)
	StreamTrades(ctx context.Context, traderID string) (<-chan *TraderTrade, error)
}

// ToOpportunity преобразует сделку лидера в торговую возможность.
// Уверенность масштабируется доходностью лидера, риск — обратной
// величиной его доли прибыльных сделок.
func ToOpportunity(trade *TraderTrade, trader *Trader, baseSize float64) *models.Opportunity {
	confidence := clip(trader.WinRate, 0, 1) * 0.8
	risk := clip(1-trader.WinRate, 0.1, 0.9)

	size := baseSize
	if trade.Size < size {
		size = trade.Size
	}

	return &models.Opportunity{
		Symbol:          trade.Symbol,
		Direction:       trade.Direction,
		ExpectedProfit:  trader.PnL30d / 30 * clip(trader.WinRate, 0, 1),
		Confidence:      confidence,
		RiskScore:       risk,
		RecommendedSize: size,
		Reasoning: fmt.Sprintf("копирование сделки трейдера %s (winrate %.0f%%)",
			trader.Name, trader.WinRate*100),
		CreatedAt: time.Now(),
	}
}

// Static детерминированная лента для бумажного режима и тестов
type Static struct {
	Traders []*Trader
	Trades  map[string][]*TraderTrade
}

// ListTopTraders возвращает сконфигурированных трейдеров
func (s *Static) ListTopTraders(ctx context.Context, limit int) ([]*Trader, error) {
	if limit > len(s.Traders) {
		limit = len(s.Traders)
	}
	return s.Traders[:limit], nil
}

// StreamTrades проигрывает сконфигурированные сделки трейдера и закрывает канал
func (s *Static) StreamTrades(ctx context.Context, traderID string) (<-chan *TraderTrade, error) {
	trades, ok := s.Trades[traderID]
	if !ok {
		return nil, fmt.Errorf("неизвестный трейдер %s", traderID)
	}

	ch := make(chan *TraderTrade, len(trades))
	for _, t := range trades {
		ch <- t
	}
	close(ch)
	return ch, nil
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
