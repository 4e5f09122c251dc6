package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func apiError(code int64) error {
	return &common.APIError{Code: code, Message: "test"}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"сетевая ошибка", errors.New("connection refused"), KindNetwork},
		{"лимит запросов", apiError(-1003), KindRateLimit},
		{"невалидный ключ", apiError(-2014), KindAuth},
		{"отклоненный ключ", apiError(-2015), KindAuth},
		{"нет прав", apiError(-1022), KindAuth},
		{"неизвестный ордер", apiError(-2011), KindInvalidOrder},
		{"невалидное количество", apiError(-1111), KindInvalidOrder},
		{"ниже минимального нотионала", apiError(-4164), KindInvalidOrder},
		{"прочий код API", apiError(-9999), KindNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, Classify(tc.err))
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("ошибка запроса: %w", apiError(-1003))
	assert.Equal(t, KindRateLimit, Classify(wrapped))
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(apiError(-2014)))
	assert.False(t, Fatal(apiError(-1003)))
	assert.False(t, Fatal(errors.New("timeout")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("timeout")))
	assert.True(t, Retryable(apiError(-1003)))
	// Отклоненные ордера и ошибки аутентификации не повторяются
	assert.False(t, Retryable(apiError(-1111)))
	assert.False(t, Retryable(apiError(-2014)))
}
