package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/pkg/models"
)

// Provider собирает нормализованные срезы рынка по символам и ведет
// ограниченную ценовую историю для расчета индикаторов.
type Provider struct {
	gateway      exchange.Gateway
	depth        int
	historyLimit int

	mu      sync.RWMutex
	history map[string]*ring
	latest  map[string]*models.MarketSnapshot
}

// NewProvider создает провайдер срезов рынка
func NewProvider(gateway exchange.Gateway, depth, historyLimit int) *Provider {
	return &Provider{
		gateway:      gateway,
		depth:        depth,
		historyLimit: historyLimit,
		history:      make(map[string]*ring),
		latest:       make(map[string]*models.MarketSnapshot),
	}
}

// Snapshot собирает срез рынка по символу: тикер, ставка финансирования
// и верх стакана. Срез записывается в историю и кэш последних значений.
func (p *Provider) Snapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	ticker, err := p.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тикера %s: %w", symbol, err)
	}

	funding, err := p.gateway.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения финансирования %s: %w", symbol, err)
	}

	book, err := p.gateway.GetOrderBook(ctx, symbol, p.depth)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стакана %s: %w", symbol, err)
	}

	snapshot := &models.MarketSnapshot{
		Symbol:          symbol,
		LastPrice:       ticker.Price,
		Change24h:       ticker.ChangePercent,
		Volume:          ticker.Volume,
		High24h:         ticker.High,
		Low24h:          ticker.Low,
		FundingRate:     funding.Rate,
		NextFundingTime: funding.NextFundingTime,
		MarkPrice:       funding.MarkPrice,
		IndexPrice:      funding.IndexPrice,
		Bids:            book.Bids,
		Asks:            book.Asks,
		Timestamp:       time.Now(),
	}

	p.Record(snapshot)
	return snapshot, nil
}

// Record добавляет срез в историю и обновляет кэш последних срезов
func (p *Provider) Record(snapshot *models.MarketSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.history[snapshot.Symbol]
	if !ok {
		r = newRing(p.historyLimit)
		p.history[snapshot.Symbol] = r
	}
	r.append(models.PricePoint{
		Timestamp: snapshot.Timestamp,
		Price:     snapshot.LastPrice,
		Volume:    snapshot.Volume,
	})
	p.latest[snapshot.Symbol] = snapshot
}

// History возвращает копию ценовой истории символа от старых к новым
func (p *Provider) History(symbol string) []models.PricePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.history[symbol]
	if !ok {
		return nil
	}
	return r.points()
}

// Latest возвращает последний записанный срез рынка по символу
func (p *Provider) Latest(symbol string) *models.MarketSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest[symbol]
}

// RecentMove возвращает относительное движение цены за последние n точек
func (p *Provider) RecentMove(symbol string, n int) float64 {
	points := p.History(symbol)
	if len(points) < 2 {
		return 0
	}
	if n >= len(points) {
		n = len(points) - 1
	}

	first := points[len(points)-1-n].Price
	last := points[len(points)-1].Price
	if first == 0 {
		return 0
	}

	move := (last - first) / first
	if move < 0 {
		move = -move
	}
	return move
}

// ring ограниченный кольцевой буфер ценовых точек
type ring struct {
	buf   []models.PricePoint
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ring{buf: make([]models.PricePoint, capacity)}
}

// append добавляет точку, вытесняя самую старую при переполнении
func (r *ring) append(p models.PricePoint) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = p
		r.size++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// points возвращает точки в хронологическом порядке
func (r *ring) points() []models.PricePoint {
	out := make([]models.PricePoint, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
