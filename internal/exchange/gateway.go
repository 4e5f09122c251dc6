package exchange

import (
	"context"
	"time"

	"github.com/skalibog/bfta/pkg/models"
)

// Ticker представляет текущее состояние тикера
type Ticker struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	Volume        float64
	High          float64
	Low           float64
	Timestamp     time.Time
}

// FundingInfo представляет текущую ставку финансирования с марк/индекс ценами
type FundingInfo struct {
	Symbol          string
	Rate            float64
	MarkPrice       float64
	IndexPrice      float64
	NextFundingTime time.Time
}

// OrderBook представляет стакан заявок
type OrderBook struct {
	Symbol    string
	Bids      []models.OrderBookLevel
	Asks      []models.OrderBookLevel
	Timestamp time.Time
}

// OrderType тип ордера
type OrderType string

const (
	OrderMarket     OrderType = "MARKET"
	OrderLimit      OrderType = "LIMIT"
	OrderStopMarket OrderType = "STOP_MARKET"
)

// OrderRequest запрос на размещение ордера
type OrderRequest struct {
	Symbol     string
	Side       models.Side
	Type       OrderType
	Size       float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
	PostOnly   bool
}

// OrderResult результат размещения ордера
type OrderResult struct {
	OrderID      int64
	Status       string
	AvgFillPrice float64
	FilledSize   float64
}

// AccountState сводное состояние счета для расчета рисков
type AccountState struct {
	TotalBalance     float64
	AvailableBalance float64
	MarginRatio      float64
}

// Gateway определяет контракт биржевого шлюза, потребляемый ядром.
// Все вызовы сетевые и должны уважать контекст.
type Gateway interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetFundingRate(ctx context.Context, symbol string) (*FundingInfo, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetPositions(ctx context.Context) ([]*models.Position, error)
	ClosePosition(ctx context.Context, symbol string, size float64) error
	GetAccount(ctx context.Context) (*AccountState, error)
}
