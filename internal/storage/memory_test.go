package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/pkg/models"
)

func TestMemoryStorageTrades(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveTrade(ctx, &models.Trade{ID: "a", Symbol: "BTCUSDT", Status: models.TradePending}))
	require.NoError(t, s.SaveTrade(ctx, &models.Trade{ID: "b", Symbol: "BTCUSDT", Status: models.TradeExecuted}))

	// Повторная запись замещает версию сделки
	require.NoError(t, s.SaveTrade(ctx, &models.Trade{ID: "a", Symbol: "BTCUSDT", Status: models.TradeClosed}))

	trades, err := s.GetTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	for _, tr := range trades {
		if tr.ID == "a" {
			assert.Equal(t, models.TradeClosed, tr.Status)
		}
	}
}

func TestMemoryStorageSignalsLimit(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveSignal(ctx, &models.Signal{Symbol: "ETHUSDT", RSI: float64(i)}))
	}

	signals, err := s.GetSignalHistory(ctx, "ETHUSDT", 3)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	// Новые первыми
	assert.InDelta(t, 4.0, signals[0].RSI, 1e-9)
}

func TestMemoryStorageUnknownSymbol(t *testing.T) {
	s := NewMemoryStorage()

	trades, err := s.GetTrades(context.Background(), "UNKNOWN", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
