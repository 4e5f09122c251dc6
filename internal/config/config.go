package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию агента
type Config struct {
	Binance     BinanceConfig     `yaml:"binance"`
	Trading     TradingConfig     `yaml:"trading"`
	Signal      SignalConfig      `yaml:"signal"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Risk        RiskConfig        `yaml:"risk"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Position    PositionConfig    `yaml:"position"`
	Performance PerformanceConfig `yaml:"performance"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Storage     StorageConfig     `yaml:"storage"`
	LogLevel    string            `yaml:"log_level"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит общие настройки торговли
type TradingConfig struct {
	Symbols                []string `yaml:"symbols"`
	Mode                   string   `yaml:"mode"` // paper или live
	BaseOrderSize          float64  `yaml:"base_order_size"`
	RiskPerTrade           float64  `yaml:"risk_per_trade"`
	StopLossPercent        float64  `yaml:"stop_loss_percent"`
	TakeProfitPercent      float64  `yaml:"take_profit_percent"`
	MaxConcurrentPositions int      `yaml:"max_concurrent_positions"`
	MaxHoldHours           int      `yaml:"max_hold_hours"`
	PaperBalance           float64  `yaml:"paper_balance"`
}

// Paper сообщает, что агент работает в бумажном режиме
func (c TradingConfig) Paper() bool {
	return c.Mode != "live"
}

// SignalConfig настройки анализатора индикаторов
type SignalConfig struct {
	RSIPeriod        int     `yaml:"rsi_period"`
	MACDFast         int     `yaml:"macd_fast"`
	MACDSlow         int     `yaml:"macd_slow"`
	MACDSignal       int     `yaml:"macd_signal"`
	BBPeriod         int     `yaml:"bb_period"`
	VolatilityWindow int     `yaml:"volatility_window"`
	MinStrength      float64 `yaml:"min_strength"`
	HistoryLimit     int     `yaml:"history_limit"`
}

// ScannerConfig настройки сканера возможностей
type ScannerConfig struct {
	IntervalSeconds          int     `yaml:"interval_seconds"`
	MinFundingRateThreshold  float64 `yaml:"min_funding_rate_threshold"`
	ExtremeFundingRate       float64 `yaml:"extreme_funding_rate"`
	MinExpectedProfit        float64 `yaml:"min_expected_profit"`
	MinTimeBufferMinutes     int     `yaml:"min_time_buffer_minutes"`
	TopK                     int     `yaml:"top_k"`
	Workers                  int     `yaml:"workers"`
	MinLiquidityUSD          float64 `yaml:"min_liquidity_usd"`
	OrderBookDepth           int     `yaml:"orderbook_depth"`
}

// RiskConfig настройки риск-модуля
type RiskConfig struct {
	MaxPortfolioRisk     float64    `yaml:"max_portfolio_risk"`
	MaxPositionSize      float64    `yaml:"max_position_size"`
	CorrelationGroups    [][]string `yaml:"correlation_groups"`
	CorrelationThreshold float64    `yaml:"correlation_threshold"`
	LiquidationThreshold float64    `yaml:"liquidation_threshold"`
	LowRiskThreshold     float64    `yaml:"low_risk_threshold"`
	StalenessSeconds     int        `yaml:"staleness_seconds"`
}

// ExecutionConfig настройки исполнения ордеров
type ExecutionConfig struct {
	BaseDelayMs      int     `yaml:"base_delay_ms"`
	MaxFundingDrift  float64 `yaml:"max_funding_drift"`
	MaxRecentMove    float64 `yaml:"max_recent_move"`
	FeeRate          float64 `yaml:"fee_rate"`
	PostOnly         bool    `yaml:"post_only"`
	ProtectiveOrders bool    `yaml:"protective_orders"`
}

// PositionConfig настройки менеджера позиций и инвентаря
type PositionConfig struct {
	SyncIntervalSeconds int     `yaml:"sync_interval_seconds"`
	TargetInventory     float64 `yaml:"target_inventory"`
	SkewThreshold       float64 `yaml:"skew_threshold"`
	RebalanceThreshold  float64 `yaml:"rebalance_threshold"`
	BaseSpread          float64 `yaml:"base_spread"`
	MaxSpread           float64 `yaml:"max_spread"`
	QuoteSize           float64 `yaml:"quote_size"`
	StopLossAlert       float64 `yaml:"stop_loss_alert"`
	TakeProfitAlert     float64 `yaml:"take_profit_alert"`
	MarginCallRatio     float64 `yaml:"margin_call_ratio"`
	AutoClose           bool    `yaml:"auto_close"`
}

// PerformanceConfig настройки монитора производительности
type PerformanceConfig struct {
	IntervalSeconds   int     `yaml:"interval_seconds"`
	MaxDrawdownAlert  float64 `yaml:"max_drawdown_alert"`
	MinWinRate        float64 `yaml:"min_win_rate"`
	VolatilityAlert   float64 `yaml:"volatility_alert"`
	TradeMilestone    int     `yaml:"trade_milestone"`
	AlertHistoryLimit int     `yaml:"alert_history_limit"`
}

// LedgerConfig настройки клиента реестра авторизации
type LedgerConfig struct {
	AgentID          string   `yaml:"agent_id"`
	Protocol         string   `yaml:"protocol"`
	AllowedProtocols []string `yaml:"allowed_protocols"`
	PerTxLimit       string   `yaml:"per_tx_limit"`
	Active           bool     `yaml:"active"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Load загружает конфигурацию из файла и применяет значения по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults заполняет незаданные значения значениями по умолчанию
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Signal.RSIPeriod == 0 {
		c.Signal.RSIPeriod = 14
	}
	if c.Signal.MACDFast == 0 {
		c.Signal.MACDFast = 12
	}
	if c.Signal.MACDSlow == 0 {
		c.Signal.MACDSlow = 26
	}
	if c.Signal.MACDSignal == 0 {
		c.Signal.MACDSignal = 9
	}
	if c.Signal.BBPeriod == 0 {
		c.Signal.BBPeriod = 20
	}
	if c.Signal.VolatilityWindow == 0 {
		c.Signal.VolatilityWindow = 20
	}
	if c.Signal.MinStrength == 0 {
		c.Signal.MinStrength = 0.3
	}
	if c.Signal.HistoryLimit == 0 {
		c.Signal.HistoryLimit = 1000
	}
	if c.Scanner.IntervalSeconds == 0 {
		c.Scanner.IntervalSeconds = 30
	}
	if c.Scanner.TopK == 0 {
		c.Scanner.TopK = 3
	}
	if c.Scanner.Workers == 0 {
		c.Scanner.Workers = 4
	}
	if c.Scanner.MinLiquidityUSD == 0 {
		c.Scanner.MinLiquidityUSD = 10000
	}
	if c.Scanner.OrderBookDepth == 0 {
		c.Scanner.OrderBookDepth = 20
	}
	if c.Scanner.ExtremeFundingRate == 0 {
		c.Scanner.ExtremeFundingRate = 0.05
	}
	if c.Scanner.MinTimeBufferMinutes == 0 {
		c.Scanner.MinTimeBufferMinutes = 5
	}
	if c.Risk.MaxPortfolioRisk == 0 {
		c.Risk.MaxPortfolioRisk = 0.15
	}
	if c.Risk.CorrelationThreshold == 0 {
		c.Risk.CorrelationThreshold = 0.8
	}
	if c.Risk.LiquidationThreshold == 0 {
		c.Risk.LiquidationThreshold = 0.7
	}
	if c.Risk.LowRiskThreshold == 0 {
		c.Risk.LowRiskThreshold = 0.3
	}
	if c.Risk.StalenessSeconds == 0 {
		c.Risk.StalenessSeconds = 5
	}
	if c.Execution.BaseDelayMs == 0 {
		c.Execution.BaseDelayMs = 200
	}
	if c.Execution.MaxFundingDrift == 0 {
		c.Execution.MaxFundingDrift = 0.005
	}
	if c.Execution.MaxRecentMove == 0 {
		c.Execution.MaxRecentMove = 0.10
	}
	if c.Position.SyncIntervalSeconds == 0 {
		c.Position.SyncIntervalSeconds = 10
	}
	if c.Performance.IntervalSeconds == 0 {
		c.Performance.IntervalSeconds = 60
	}
	if c.Performance.AlertHistoryLimit == 0 {
		c.Performance.AlertHistoryLimit = 100
	}
	if c.Performance.TradeMilestone == 0 {
		c.Performance.TradeMilestone = 10
	}
	if c.Trading.MaxConcurrentPositions == 0 {
		c.Trading.MaxConcurrentPositions = 3
	}
	if c.Trading.RiskPerTrade == 0 {
		c.Trading.RiskPerTrade = 0.02
	}
	if c.Trading.MaxHoldHours == 0 {
		c.Trading.MaxHoldHours = 8
	}
	if c.Trading.PaperBalance == 0 {
		c.Trading.PaperBalance = 10000
	}
}
