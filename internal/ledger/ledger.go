package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/skalibog/bfta/internal/config"
)

// ActionType тип действия, проверяемого реестром
type ActionType string

const (
	ActionTrade ActionType = "TRADE"
	ActionLend  ActionType = "LEND"
	ActionStake ActionType = "STAKE"
)

// Decision решение реестра по запрошенному действию
type Decision struct {
	Allowed bool
	Reason  string
}

// Ledger определяет контракт ончейн-реестра авторизации, потребляемый
// ядром. Проверка выполняется перед каждым размещением ордера, запись
// результата — после закрытия сделки. Само хранилище реестра внешнее.
type Ledger interface {
	RequestAction(ctx context.Context, agentID string, action ActionType, protocol string, amount decimal.Decimal) (*Decision, error)
	RecordPerformance(ctx context.Context, agentID string, profit decimal.Decimal, success bool) error
}

// Static реализует Ledger по конфигурации: allow-list протоколов,
// лимит на транзакцию и флаг активности агента. Используется в
// бумажном режиме и тестах.
type Static struct {
	agentID    string
	protocols  map[string]bool
	perTxLimit decimal.Decimal
	active     bool

	mu        sync.Mutex
	emergency bool
	records   []Record
}

// Record зафиксированный результат сделки
type Record struct {
	AgentID string
	Profit  decimal.Decimal
	Success bool
}

// NewStatic создает реестр из конфигурации
func NewStatic(cfg config.LedgerConfig) (*Static, error) {
	limit := decimal.Zero
	if cfg.PerTxLimit != "" {
		var err error
		limit, err = decimal.NewFromString(cfg.PerTxLimit)
		if err != nil {
			return nil, err
		}
	}

	protocols := make(map[string]bool, len(cfg.AllowedProtocols))
	for _, p := range cfg.AllowedProtocols {
		protocols[p] = true
	}

	return &Static{
		agentID:    cfg.AgentID,
		protocols:  protocols,
		perTxLimit: limit,
		active:     cfg.Active,
	}, nil
}

// EmergencyStop переводит агента в аварийную остановку
func (s *Static) EmergencyStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency = true
}

// RequestAction проверяет допустимость действия. Отказ всегда несет
// человекочитаемую причину.
func (s *Static) RequestAction(ctx context.Context, agentID string, action ActionType, protocol string, amount decimal.Decimal) (*Decision, error) {
	s.mu.Lock()
	emergency := s.emergency
	s.mu.Unlock()

	switch {
	case agentID != s.agentID:
		return &Decision{Reason: "unknown agent"}, nil
	case !s.active:
		return &Decision{Reason: "agent is not active"}, nil
	case emergency:
		return &Decision{Reason: "agent is emergency-stopped"}, nil
	case action != ActionTrade && action != ActionLend && action != ActionStake:
		return &Decision{Reason: "action type not permitted"}, nil
	case !s.protocols[protocol]:
		return &Decision{Reason: "protocol not allowed"}, nil
	case s.perTxLimit.IsPositive() && amount.GreaterThan(s.perTxLimit):
		return &Decision{Reason: "amount exceeds per-transaction limit"}, nil
	}

	return &Decision{Allowed: true}, nil
}

// RecordPerformance фиксирует результат закрытой сделки
func (s *Static) RecordPerformance(ctx context.Context, agentID string, profit decimal.Decimal, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{AgentID: agentID, Profit: profit, Success: success})
	return nil
}

// Records возвращает копию зафиксированных результатов
func (s *Static) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
