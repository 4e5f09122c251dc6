package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/bfta/pkg/logger"
)

// ErrorKind классификация ошибок биржевого шлюза
type ErrorKind int

const (
	// KindNetwork сетевая ошибка или таймаут: ограниченный повтор, затем пропуск цикла
	KindNetwork ErrorKind = iota
	// KindRateLimit превышение лимита запросов: повтор с экспоненциальной задержкой
	KindRateLimit
	// KindInvalidOrder отклоненный или невалидный ордер: отказ только для этого действия
	KindInvalidOrder
	// KindAuth ошибка аутентификации: фатальная, останавливает движок
	KindAuth
)

// Коды ошибок Binance futures API
const (
	codeTooManyRequests  = -1003
	codeInvalidTimestamp = -1021
	codeInvalidAPIKey    = -2014
	codeRejectedMbxKey   = -2015
	codeUnauthorized     = -1022
	codeUnknownOrder     = -2011
	codeInvalidQuantity  = -1111
	codeMinNotional      = -4164
)

// Classify относит ошибку шлюза к одной из категорий таксономии
func Classify(err error) ErrorKind {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return KindNetwork
	}

	switch apiErr.Code {
	case codeInvalidAPIKey, codeRejectedMbxKey, codeUnauthorized:
		return KindAuth
	case codeTooManyRequests:
		return KindRateLimit
	case codeUnknownOrder, codeInvalidQuantity, codeMinNotional:
		return KindInvalidOrder
	default:
		return KindNetwork
	}
}

// Fatal сообщает, требует ли ошибка остановки движка
func Fatal(err error) bool {
	return Classify(err) == KindAuth
}

// Retryable сообщает, допустим ли повтор для ошибки.
// Повторяются только транзиентные сетевые ошибки и лимиты запросов,
// отклоненные ордера не повторяются никогда.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}

// withRetry выполняет идемпотентную операцию чтения с ограниченным числом
// повторов. Ошибки записи (размещение ордеров) через эту функцию не ходят.
func withRetry(ctx context.Context, attempts int, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		d := b.Duration()
		logger.Debug("Повтор запроса к бирже",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("delay", d),
			zap.Error(err))

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
