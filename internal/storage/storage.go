package storage

import (
	"context"

	"github.com/skalibog/bfta/pkg/models"
)

// Storage интерфейс для работы с хранилищем данных агента
type Storage interface {
	// Рыночные данные
	SaveSnapshot(ctx context.Context, snapshot *models.MarketSnapshot) error

	// Сигналы
	SaveSignal(ctx context.Context, signal *models.Signal) error
	GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error)

	// Сделки
	SaveTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)

	// Алерты
	SaveAlert(ctx context.Context, alert *models.Alert) error

	Close()
}
