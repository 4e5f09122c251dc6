package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/pkg/models"
)

const readAttempts = 3

// BinanceClient реализует Gateway поверх Binance USDT-M futures
type BinanceClient struct {
	futures *futures.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		futures.UseTestnet = true
	}

	return &BinanceClient{
		futures: futuresClient,
	}, nil
}

// GetTicker получает 24-часовую статистику тикера
func (c *BinanceClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var stats []*futures.PriceChangeStats
	err := withRetry(ctx, readAttempts, "ticker", func() error {
		var e error
		stats, e = c.futures.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тикера: %w", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("нет данных тикера для %s", symbol)
	}

	s := stats[0]
	return &Ticker{
		Symbol:        symbol,
		Price:         parseFloat(s.LastPrice),
		ChangePercent: parseFloat(s.PriceChangePercent),
		Volume:        parseFloat(s.Volume),
		High:          parseFloat(s.HighPrice),
		Low:           parseFloat(s.LowPrice),
		Timestamp:     time.Now(),
	}, nil
}

// GetFundingRate получает текущую ставку финансирования
func (c *BinanceClient) GetFundingRate(ctx context.Context, symbol string) (*FundingInfo, error) {
	var premium []*futures.PremiumIndex
	err := withRetry(ctx, readAttempts, "funding", func() error {
		var e error
		premium, e = c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставки финансирования: %w", err)
	}
	if len(premium) == 0 {
		return nil, fmt.Errorf("не найдены данные о ставке финансирования для %s", symbol)
	}

	p := premium[0]
	return &FundingInfo{
		Symbol:          symbol,
		Rate:            parseFloat(p.LastFundingRate),
		MarkPrice:       parseFloat(p.MarkPrice),
		IndexPrice:      parseFloat(p.IndexPrice),
		NextFundingTime: time.UnixMilli(p.NextFundingTime),
	}, nil
}

// GetOrderBook получает стакан заявок
func (c *BinanceClient) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	var ob *futures.DepthResponse
	err := withRetry(ctx, readAttempts, "orderbook", func() error {
		var e error
		ob, e = c.futures.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стакана: %w", err)
	}

	orderBook := &OrderBook{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Bids:      make([]models.OrderBookLevel, len(ob.Bids)),
		Asks:      make([]models.OrderBookLevel, len(ob.Asks)),
	}

	for i, bid := range ob.Bids {
		orderBook.Bids[i] = models.OrderBookLevel{
			Price:  parseFloat(bid.Price),
			Amount: parseFloat(bid.Quantity),
		}
	}

	for i, ask := range ob.Asks {
		orderBook.Asks[i] = models.OrderBookLevel{
			Price:  parseFloat(ask.Price),
			Amount: parseFloat(ask.Quantity),
		}
	}

	return orderBook, nil
}

// PlaceOrder размещает ордер. Размещение не повторяется: повторный
// маркет-ордер при неясном исходе грозит двойным исполнением.
func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	svc := c.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Quantity(formatFloat(req.Size)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	switch req.Type {
	case OrderLimit:
		svc = svc.Type(futures.OrderTypeLimit).Price(formatFloat(req.Price))
		if req.PostOnly {
			// GTX отклоняет ордер вместо исполнения тейкером
			svc = svc.TimeInForce(futures.TimeInForceTypeGTX)
		} else {
			svc = svc.TimeInForce(futures.TimeInForceTypeGTC)
		}
	case OrderStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(formatFloat(req.StopPrice))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка размещения ордера: %w", err)
	}

	return &OrderResult{
		OrderID:      res.OrderID,
		Status:       string(res.Status),
		AvgFillPrice: parseFloat(res.AvgPrice),
		FilledSize:   parseFloat(res.ExecutedQuantity),
	}, nil
}

// CancelOrder отменяет ордер
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.futures.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отмены ордера %d: %w", orderID, err)
	}
	return nil
}

// GetPositions получает открытые позиции
func (c *BinanceClient) GetPositions(ctx context.Context) ([]*models.Position, error) {
	var risks []*futures.PositionRisk
	err := withRetry(ctx, readAttempts, "positions", func() error {
		var e error
		risks, e = c.futures.NewGetPositionRiskService().Do(ctx)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения позиций: %w", err)
	}

	var positions []*models.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}

		side := models.SideBuy
		if amt < 0 {
			side = models.SideSell
			amt = -amt
		}

		positions = append(positions, &models.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      parseFloat(r.Leverage),
			UpdatedAt:     time.Now(),
		})
	}

	return positions, nil
}

// ClosePosition закрывает позицию маркет-ордером reduce-only.
// Нулевой размер закрывает позицию полностью.
func (c *BinanceClient) ClosePosition(ctx context.Context, symbol string, size float64) error {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return err
	}

	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}

		closeSide := models.SideSell
		if p.Side == models.SideSell {
			closeSide = models.SideBuy
		}
		if size <= 0 || size > p.Size {
			size = p.Size
		}

		_, err = c.PlaceOrder(ctx, OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       OrderMarket,
			Size:       size,
			ReduceOnly: true,
		})
		return err
	}

	return fmt.Errorf("позиция по %s не найдена", symbol)
}

// GetAccount получает сводное состояние счета
func (c *BinanceClient) GetAccount(ctx context.Context) (*AccountState, error) {
	var acc *futures.Account
	err := withRetry(ctx, readAttempts, "account", func() error {
		var e error
		acc, e = c.futures.NewGetAccountService().Do(ctx)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения состояния счета: %w", err)
	}

	marginBalance := parseFloat(acc.TotalMarginBalance)
	marginRatio := 0.0
	if marginBalance > 0 {
		marginRatio = parseFloat(acc.TotalMaintMargin) / marginBalance
	}

	return &AccountState{
		TotalBalance:     parseFloat(acc.TotalWalletBalance),
		AvailableBalance: parseFloat(acc.AvailableBalance),
		MarginRatio:      marginRatio,
	}, nil
}

// binanceSide конвертирует сторону ордера в тип go-binance
func binanceSide(side models.Side) futures.SideType {
	if side == models.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// parseFloat парсит числовое поле ответа API, нечисловые значения дают 0
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatFloat форматирует число для API без потери точности
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
