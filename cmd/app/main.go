package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scriptgame_gamemaster/internal/chain"
	"scriptgame_gamemaster/internal/config"
	"scriptgame_gamemaster/internal/domain"
	httpserver "scriptgame_gamemaster/internal/http"
	"scriptgame_gamemaster/internal/http/middleware"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/service"
	"scriptgame_gamemaster/internal/session"
	"scriptgame_gamemaster/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version устанавливается при сборке
var Version = "dev"

func main() {
	// Инициализация структурированного логгера
	jsonLogs := os.Getenv("LOG_FORMAT") == "json"
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Init(logLevel, jsonLogs)
	log := logger.Get()

	cfg := config.Load()
	contract := common.HexToAddress(cfg.ContractAddress)

	gin.SetMode(gin.ReleaseMode)
	middleware.InitRedisRateLimiter(cfg.RedisAddr, "", 0)

	artifacts, err := store.New(cfg.DataDir)
	if err != nil {
		logger.Fatal("хранилище артефактов не создано", "dir", cfg.DataDir, "error", err)
	}

	chainClient, err := chain.NewClient(cfg.RPCURL, contract, cfg.ChainID, cfg.PrivKey)
	if err != nil {
		logger.Fatal("клиент цепочки не создан", "error", err)
	}
	log.Info("демон геймастера запускается",
		"version", Version,
		"contract", contract.Hex(),
		"gamemaster", chainClient.Gamemaster().Hex(),
		"chainId", cfg.ChainID)

	auth := service.NewAuthService(contract, cfg.JWTSecret)
	pipeline := service.NewCommitReveal(chainClient, artifacts, cfg.GameAPIBase, httpserver.TLSAvailable())

	// фабрика серверов игр: по слушателю на игру, порт 8000+gameId
	factory := func(gameID uint64, sess *session.Session, phase func() domain.GamePhase, stake func() string) service.GameServer {
		return httpserver.New(gameID, sess, auth, contract, phase, stake)
	}

	orch := service.NewOrchestrator(chainClient, artifacts, pipeline, factory)

	// ops-сервер: метрики и здоровье
	ops := gin.New()
	ops.Use(gin.Recovery())
	ops.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ops.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"stats":   orch.Stats(),
		})
	})
	opsSrv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: ops,
	}
	go func() {
		log.Info("ops-сервер запущен", "port", cfg.AppPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops-сервер не поднялся", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	// кооперативная остановка по сигналу
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("получен сигнал, останавливаемся...")
		cancel()
	}()

	// главный цикл: ошибка возможна только на инициализации
	if err := orch.Run(ctx); err != nil {
		logger.Fatal("инициализация оркестратора не удалась", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops-сервер остановлен принудительно", "error", err)
	}

	log.Info("демон завершил работу")
}
