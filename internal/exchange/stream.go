package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/bfta/pkg/logger"
)

const (
	streamBaseURL    = "wss://fstream.binance.com/stream?streams="
	streamBufferSize = 256
	readTimeout      = 90 * time.Second
)

// EventType тип push-события от биржи
type EventType int

const (
	// EventFunding обновление ставки финансирования и марк-цены
	EventFunding EventType = iota
	// EventTicker обновление тикера
	EventTicker
)

// Event представляет асинхронное событие рынка, ключованное символом
type Event struct {
	Type            EventType
	Symbol          string
	Price           float64
	FundingRate     float64
	MarkPrice       float64
	IndexPrice      float64
	NextFundingTime time.Time
	Timestamp       time.Time
}

// Stream подписка на поток событий финансирования и тикеров.
// Переподключается самостоятельно с экспоненциальной задержкой,
// отстает — события теряются, а не блокируют чтение сокета.
type Stream struct {
	url    string
	events chan Event
}

// combinedMessage обертка комбинированного потока Binance
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// markPriceEvent событие markPriceUpdate
type markPriceEvent struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
	EventTime       int64  `json:"E"`
}

// tickerEvent событие 24hrTicker
type tickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
}

// NewStream создает подписку на события для заданных символов
func NewStream(symbols []string) *Stream {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@markPrice", lower+"@ticker")
	}

	return &Stream{
		url:    streamBaseURL + strings.Join(streams, "/"),
		events: make(chan Event, streamBufferSize),
	}
}

// Events возвращает канал событий
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Start запускает цикл чтения потока. Блокируется до отмены контекста.
func (s *Stream) Start(ctx context.Context) error {
	defer close(s.events)

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := s.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d := b.Duration()
			logger.Warn("Поток событий разорван, переподключение",
				zap.Error(err), zap.Duration("delay", d))
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		b.Reset()
	}
}

// readLoop выполняет одно подключение и читает сообщения до ошибки
func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ошибка подключения к потоку: %w", err)
	}
	defer conn.Close()

	// Закрываем сокет при отмене контекста, чтобы прервать ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	logger.Info("Подключен поток рыночных событий", zap.String("url", s.url))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ошибка чтения потока: %w", err)
		}

		event, ok := s.parse(raw)
		if !ok {
			continue
		}

		// Не блокируемся на медленном потребителе
		select {
		case s.events <- event:
		default:
			logger.Debug("Буфер событий заполнен, событие отброшено",
				zap.String("symbol", event.Symbol))
		}
	}
}

// parse разбирает сообщение комбинированного потока в событие
func (s *Stream) parse(raw []byte) (Event, bool) {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}

	switch {
	case strings.HasSuffix(msg.Stream, "@markPrice"):
		var mp markPriceEvent
		if err := json.Unmarshal(msg.Data, &mp); err != nil {
			return Event{}, false
		}
		return Event{
			Type:            EventFunding,
			Symbol:          mp.Symbol,
			FundingRate:     parseFloat(mp.FundingRate),
			MarkPrice:       parseFloat(mp.MarkPrice),
			IndexPrice:      parseFloat(mp.IndexPrice),
			NextFundingTime: time.UnixMilli(mp.NextFundingTime),
			Timestamp:       time.UnixMilli(mp.EventTime),
		}, true

	case strings.HasSuffix(msg.Stream, "@ticker"):
		var tk tickerEvent
		if err := json.Unmarshal(msg.Data, &tk); err != nil {
			return Event{}, false
		}
		return Event{
			Type:      EventTicker,
			Symbol:    tk.Symbol,
			Price:     parseFloat(tk.LastPrice),
			Timestamp: time.UnixMilli(tk.EventTime),
		}, true
	}

	return Event{}, false
}
