package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	analysis "github.com/skalibog/bfta/internal/analysis/signal"
	"github.com/skalibog/bfta/internal/config"
	"github.com/skalibog/bfta/internal/engine"
	"github.com/skalibog/bfta/internal/exchange"
	"github.com/skalibog/bfta/internal/execution"
	"github.com/skalibog/bfta/internal/feed"
	"github.com/skalibog/bfta/internal/ledger"
	"github.com/skalibog/bfta/internal/market"
	"github.com/skalibog/bfta/internal/performance"
	"github.com/skalibog/bfta/internal/position"
	"github.com/skalibog/bfta/internal/risk"
	"github.com/skalibog/bfta/internal/scanner"
	"github.com/skalibog/bfta/internal/storage"
	"github.com/skalibog/bfta/pkg/logger"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flatten := flag.Bool("flatten-on-stop", false, "закрывать все позиции при остановке")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		log.Fatalf("Файл конфигурации не найден: %s", *configPath)
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.GetLogger().Sync()

	// Инициализируем клиент биржи. В бумажном режиме живой клиент
	// поставляет рыночные данные, исполнение симулируется.
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	var gateway exchange.Gateway = client
	if cfg.Trading.Paper() {
		logger.Info("Бумажный режим: исполнение симулируется",
			zap.Float64("balance", cfg.Trading.PaperBalance))
		gateway = exchange.NewPaperGateway(client, cfg.Trading.PaperBalance, cfg.Execution.FeeRate)
	}

	// Инициализируем хранилище
	var store storage.Storage
	if cfg.Storage.Type == "influxdb" {
		store, err = storage.NewInfluxDBStorage(cfg.Storage)
		if err != nil {
			logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
		}
	} else {
		store = storage.NewMemoryStorage()
	}

	// Инициализируем реестр авторизации
	ldg, err := ledger.NewStatic(cfg.Ledger)
	if err != nil {
		logger.Fatal("Ошибка инициализации реестра авторизации", zap.Error(err))
	}

	// Собираем модули агента
	provider := market.NewProvider(gateway, cfg.Scanner.OrderBookDepth, cfg.Signal.HistoryLimit)
	analyzer := analysis.NewAnalyzer(cfg.Signal)
	scan := scanner.NewScanner(cfg.Scanner, cfg.Trading, gateway, provider, analyzer)
	riskEng := risk.NewEngine(cfg.Risk, gateway)
	monitor := performance.NewMonitor(cfg.Performance)
	exec := execution.NewEngine(cfg.Execution, cfg.Trading, cfg.Ledger, gateway, riskEng, ldg, provider, monitor)
	positions := position.NewManager(cfg.Position, cfg.Trading, gateway, monitor, exec)
	stream := exchange.NewStream(cfg.Trading.Symbols)

	// Лента ведущих трейдеров: внешний источник пока не подключен,
	// nil отключает копирование сделок
	var traderFeed feed.TraderFeed

	agent := engine.New(*cfg, gateway, provider, analyzer, scan, riskEng, exec, positions, monitor, store, stream, traderFeed)

	// Настраиваем обработку сигналов завершения
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")

		mode := engine.StopHalt
		if *flatten {
			mode = engine.StopFlatten
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		agent.Stop(stopCtx, mode)
		stopCancel()
		cancel()
	}()

	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Агент завершился с ошибкой", zap.Error(err))
	}
}
