package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfta/pkg/models"
)

func TestStaticFeed(t *testing.T) {
	s := &Static{
		Traders: []*Trader{
			{ID: "t1", Name: "alpha", WinRate: 0.7},
			{ID: "t2", Name: "beta", WinRate: 0.5},
		},
		Trades: map[string][]*TraderTrade{
			"t1": {
				{TraderID: "t1", Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 500, Timestamp: time.Now()},
			},
		},
	}

	traders, err := s.ListTopTraders(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "t1", traders[0].ID)

	ch, err := s.StreamTrades(context.Background(), "t1")
	require.NoError(t, err)

	var trades []*TraderTrade
	for trade := range ch {
		trades = append(trades, trade)
	}
	require.Len(t, trades, 1)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)

	_, err = s.StreamTrades(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestToOpportunity(t *testing.T) {
	trader := &Trader{ID: "t1", Name: "alpha", PnL30d: 300, WinRate: 0.7}
	trade := &TraderTrade{
		TraderID:  "t1",
		Symbol:    "ETHUSDT",
		Direction: models.DirectionShort,
		Size:      2000,
	}

	opp := ToOpportunity(trade, trader, 1000)
	assert.Equal(t, "ETHUSDT", opp.Symbol)
	assert.Equal(t, models.DirectionShort, opp.Direction)
	// Размер ограничен базовым размером агента
	assert.InDelta(t, 1000.0, opp.RecommendedSize, 1e-9)
	assert.InDelta(t, 0.7*0.8, opp.Confidence, 1e-9)
	assert.InDelta(t, 0.3, opp.RiskScore, 1e-9)
}
