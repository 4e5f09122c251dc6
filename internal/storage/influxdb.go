package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/pkg/models"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveSnapshot сохраняет рыночный снимок
func (s *InfluxDBStorage) SaveSnapshot(ctx context.Context, snapshot *models.MarketSnapshot) error {
	point := influxdb2.NewPoint(
		"snapshots",
		map[string]string{
			"symbol": snapshot.Symbol,
		},
		map[string]interface{}{
			"last_price":   snapshot.LastPrice,
			"change_24h":   snapshot.Change24h,
			"volume":       snapshot.Volume,
			"funding_rate": snapshot.FundingRate,
			"mark_price":   snapshot.MarkPrice,
			"index_price":  snapshot.IndexPrice,
			"next_funding": snapshot.NextFundingTime,
		},
		snapshot.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// SaveSignal сохраняет рассчитанный сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
			"action": string(signal.Action),
		},
		map[string]interface{}{
			"rsi":          signal.RSI,
			"macd":         signal.MACD,
			"macd_hist":    signal.MACDHist,
			"bb_upper":     signal.BollingerUpper,
			"bb_middle":    signal.BollingerMiddle,
			"bb_lower":     signal.BollingerLower,
			"volume_ratio": signal.VolumeRatio,
			"volatility":   signal.Volatility,
			"strength":     signal.Strength,
			"confidence":   signal.Confidence,
		},
		signal.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// GetSignalHistory получает историю сигналов по символу
func (s *InfluxDBStorage) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сигналов: %w", err)
	}

	var signals []*models.Signal
	for result.Next() {
		record := result.Record()

		rsi, _ := record.ValueByKey("rsi").(float64)
		macd, _ := record.ValueByKey("macd").(float64)
		hist, _ := record.ValueByKey("macd_hist").(float64)
		strength, _ := record.ValueByKey("strength").(float64)
		confidence, _ := record.ValueByKey("confidence").(float64)
		action, _ := record.ValueByKey("action").(string)

		signals = append(signals, &models.Signal{
			Symbol:     symbol,
			RSI:        rsi,
			MACD:       macd,
			MACDHist:   hist,
			Strength:   strength,
			Confidence: confidence,
			Action:     models.SignalAction(action),
			Timestamp:  record.Time(),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return signals, nil
}

// SaveTrade сохраняет сделку
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	point := influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol":   trade.Symbol,
			"side":     string(trade.Side),
			"strategy": trade.Strategy,
			"status":   string(trade.Status),
		},
		map[string]interface{}{
			"id":          trade.ID,
			"size":        trade.Size,
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"fees":        trade.Fees,
			"pnl":         trade.RealizedPnL,
			"reasoning":   trade.Reasoning,
		},
		trade.EntryTime,
	)

	s.writeAPI.WritePoint(point)
	return nil
}

// GetTrades получает историю сделок по символу
func (s *InfluxDBStorage) GetTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "trades")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сделок: %w", err)
	}

	var trades []*models.Trade
	for result.Next() {
		record := result.Record()

		id, _ := record.ValueByKey("id").(string)
		size, _ := record.ValueByKey("size").(float64)
		entryPrice, _ := record.ValueByKey("entry_price").(float64)
		exitPrice, _ := record.ValueByKey("exit_price").(float64)
		fees, _ := record.ValueByKey("fees").(float64)
		pnl, _ := record.ValueByKey("pnl").(float64)
		side, _ := record.ValueByKey("side").(string)
		strategy, _ := record.ValueByKey("strategy").(string)
		status, _ := record.ValueByKey("status").(string)

		trades = append(trades, &models.Trade{
			ID:          id,
			Symbol:      symbol,
			Side:        models.Side(side),
			Size:        size,
			EntryPrice:  entryPrice,
			ExitPrice:   exitPrice,
			EntryTime:   record.Time(),
			Fees:        fees,
			Strategy:    strategy,
			Status:      models.TradeStatus(status),
			RealizedPnL: pnl,
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return trades, nil
}

// SaveAlert сохраняет алерт
func (s *InfluxDBStorage) SaveAlert(ctx context.Context, alert *models.Alert) error {
	point := influxdb2.NewPoint(
		"alerts",
		map[string]string{
			"type":     string(alert.Type),
			"severity": string(alert.Severity),
			"symbol":   alert.Symbol,
		},
		map[string]interface{}{
			"message": alert.Message,
		},
		alert.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	return nil
}
