// Package exchangetest содержит настраиваемый фейковый шлюз для тестов.
package exchangetest

import (
	"context"
	"sync"
	"time"

	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/pkg/models"
)

// Fake реализует exchange.Gateway с управляемыми ответами.
// Нулевое значение возвращает разумные дефолты.
type Fake struct {
	mu sync.Mutex

	Tickers  map[string]*exchange.Ticker
	Fundings map[string]*exchange.FundingInfo
	Books    map[string]*exchange.OrderBook
	Pos      []*models.Position
	Account  *exchange.AccountState

	TickerErr  error
	FundingErr error
	BookErr    error
	OrderErr   error

	PlacedOrders []exchange.OrderRequest
	ClosedCalls  []string
	nextOrderID  int64
}

// New создает фейковый шлюз с дефолтным состоянием
func New() *Fake {
	return &Fake{
		Tickers:  make(map[string]*exchange.Ticker),
		Fundings: make(map[string]*exchange.FundingInfo),
		Books:    make(map[string]*exchange.OrderBook),
		Account:  &exchange.AccountState{TotalBalance: 10000, AvailableBalance: 10000},
	}
}

// SetMarket настраивает рыночные данные символа одним вызовом
func (f *Fake) SetMarket(symbol string, price, fundingRate float64, nextFunding time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Tickers[symbol] = &exchange.Ticker{Symbol: symbol, Price: price, Volume: 1000}
	f.Fundings[symbol] = &exchange.FundingInfo{
		Symbol:          symbol,
		Rate:            fundingRate,
		MarkPrice:       price,
		IndexPrice:      price,
		NextFundingTime: nextFunding,
	}
	f.Books[symbol] = &exchange.OrderBook{
		Symbol: symbol,
		Bids:   []models.OrderBookLevel{{Price: price * 0.999, Amount: 100}},
		Asks:   []models.OrderBookLevel{{Price: price * 1.001, Amount: 100}},
	}
}

func (f *Fake) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TickerErr != nil {
		return nil, f.TickerErr
	}
	if t, ok := f.Tickers[symbol]; ok {
		return t, nil
	}
	return &exchange.Ticker{Symbol: symbol, Price: 100}, nil
}

func (f *Fake) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FundingErr != nil {
		return nil, f.FundingErr
	}
	if fi, ok := f.Fundings[symbol]; ok {
		return fi, nil
	}
	return &exchange.FundingInfo{Symbol: symbol, NextFundingTime: time.Now().Add(4 * time.Hour)}, nil
}

func (f *Fake) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BookErr != nil {
		return nil, f.BookErr
	}
	if b, ok := f.Books[symbol]; ok {
		return b, nil
	}
	return &exchange.OrderBook{Symbol: symbol}, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OrderErr != nil {
		return nil, f.OrderErr
	}

	f.PlacedOrders = append(f.PlacedOrders, req)
	f.nextOrderID++

	price := req.Price
	if t, ok := f.Tickers[req.Symbol]; ok && price == 0 {
		price = t.Price
	}
	return &exchange.OrderResult{
		OrderID:      f.nextOrderID,
		Status:       "FILLED",
		AvgFillPrice: price,
		FilledSize:   req.Size,
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Position, len(f.Pos))
	copy(out, f.Pos)
	return out, nil
}

func (f *Fake) ClosePosition(ctx context.Context, symbol string, size float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ClosedCalls = append(f.ClosedCalls, symbol)
	return nil
}

func (f *Fake) GetAccount(ctx context.Context) (*exchange.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := *f.Account
	return &acc, nil
}

// Orders возвращает копию размещенных ордеров
func (f *Fake) Orders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.OrderRequest, len(f.PlacedOrders))
	copy(out, f.PlacedOrders)
	return out
}
