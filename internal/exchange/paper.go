package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/bfta/pkg/models"
)

// PaperGateway симулирует торговые операции поверх реальных рыночных данных.
// Чтение данных делегируется вложенному шлюзу, ордера исполняются
// мгновенно по марк-цене с учетом комиссии.
type PaperGateway struct {
	data    Gateway
	feeRate float64

	mu        sync.Mutex
	balance   float64
	positions map[string]*models.Position
	nextID    int64
}

// NewPaperGateway создает бумажный шлюз с начальным балансом
func NewPaperGateway(data Gateway, balance, feeRate float64) *PaperGateway {
	return &PaperGateway{
		data:      data,
		feeRate:   feeRate,
		balance:   balance,
		positions: make(map[string]*models.Position),
		nextID:    1,
	}
}

// GetTicker делегирует чтение тикера
func (g *PaperGateway) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return g.data.GetTicker(ctx, symbol)
}

// GetFundingRate делегирует чтение ставки финансирования
func (g *PaperGateway) GetFundingRate(ctx context.Context, symbol string) (*FundingInfo, error) {
	return g.data.GetFundingRate(ctx, symbol)
}

// GetOrderBook делегирует чтение стакана
func (g *PaperGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	return g.data.GetOrderBook(ctx, symbol, depth)
}

// PlaceOrder исполняет ордер немедленно по текущей цене
func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("невалидный размер ордера: %f", req.Size)
	}

	price := req.Price
	if req.Type == OrderMarket || price == 0 {
		ticker, err := g.data.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения цены для бумажного исполнения: %w", err)
		}
		price = ticker.Price
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fee := price * req.Size * g.feeRate
	g.balance -= fee
	g.apply(req, price)

	id := g.nextID
	g.nextID++

	return &OrderResult{
		OrderID:      id,
		Status:       "FILLED",
		AvgFillPrice: price,
		FilledSize:   req.Size,
	}, nil
}

// apply обновляет симулированную позицию после исполнения ордера
func (g *PaperGateway) apply(req OrderRequest, price float64) {
	pos, ok := g.positions[req.Symbol]
	if !ok {
		if req.ReduceOnly {
			return
		}
		g.positions[req.Symbol] = &models.Position{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       req.Size,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   1,
			UpdatedAt:  time.Now(),
		}
		return
	}

	if pos.Side == req.Side {
		// Усреднение входа при доборе позиции
		total := pos.Size + req.Size
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*req.Size) / total
		pos.Size = total
	} else {
		closed := req.Size
		if closed > pos.Size {
			closed = pos.Size
		}
		pnl := closed * (price - pos.EntryPrice)
		if pos.Side == models.SideSell {
			pnl = -pnl
		}
		g.balance += pnl
		pos.RealizedPnL += pnl
		pos.Size -= closed
		if pos.Size <= 0 {
			delete(g.positions, req.Symbol)
			return
		}
	}
	pos.MarkPrice = price
	pos.UpdatedAt = time.Now()
}

// CancelOrder ничего не отменяет: бумажные ордера исполняются мгновенно
func (g *PaperGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

// GetPositions возвращает симулированные позиции
func (g *PaperGateway) GetPositions(ctx context.Context) ([]*models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make([]*models.Position, 0, len(g.positions))
	for _, p := range g.positions {
		cp := *p
		positions = append(positions, &cp)
	}
	return positions, nil
}

// ClosePosition закрывает симулированную позицию встречным ордером
func (g *PaperGateway) ClosePosition(ctx context.Context, symbol string, size float64) error {
	g.mu.Lock()
	pos, ok := g.positions[symbol]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("позиция по %s не найдена", symbol)
	}
	if size <= 0 || size > pos.Size {
		size = pos.Size
	}
	closeSide := models.SideSell
	if pos.Side == models.SideSell {
		closeSide = models.SideBuy
	}
	g.mu.Unlock()

	_, err := g.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Type:       OrderMarket,
		Size:       size,
		ReduceOnly: true,
	})
	return err
}

// GetAccount возвращает симулированное состояние счета
func (g *PaperGateway) GetAccount(ctx context.Context) (*AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return &AccountState{
		TotalBalance:     g.balance,
		AvailableBalance: g.balance,
		MarginRatio:      0,
	}, nil
}
