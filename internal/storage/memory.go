package storage

import (
	"context"
	"sync"

	"github.com/skalibog/bfta/pkg/models"
)

// MemoryStorage хранит данные в памяти. Используется в бумажном режиме
// и тестах, когда InfluxDB не настроен.
type MemoryStorage struct {
	mu        sync.Mutex
	snapshots []*models.MarketSnapshot
	signals   map[string][]*models.Signal
	trades    map[string][]*models.Trade
	alerts    []*models.Alert
}

// NewMemoryStorage создает хранилище в памяти
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		signals: make(map[string][]*models.Signal),
		trades:  make(map[string][]*models.Trade),
	}
}

// Close ничего не делает
func (s *MemoryStorage) Close() {}

// SaveSnapshot сохраняет рыночный снимок
func (s *MemoryStorage) SaveSnapshot(ctx context.Context, snapshot *models.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

// SaveSignal сохраняет сигнал
func (s *MemoryStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.Symbol] = append(s.signals[signal.Symbol], signal)
	return nil
}

// GetSignalHistory возвращает последние сигналы по символу, новые первыми
func (s *MemoryStorage) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.signals[symbol]
	out := make([]*models.Signal, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// SaveTrade сохраняет сделку
func (s *MemoryStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Повторная запись той же сделки замещает предыдущую версию
	history := s.trades[trade.Symbol]
	for i, t := range history {
		if t.ID == trade.ID {
			history[i] = trade
			return nil
		}
	}
	s.trades[trade.Symbol] = append(history, trade)
	return nil
}

// GetTrades возвращает последние сделки по символу, новые первыми
func (s *MemoryStorage) GetTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.trades[symbol]
	out := make([]*models.Trade, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// SaveAlert сохраняет алерт
func (s *MemoryStorage) SaveAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}
