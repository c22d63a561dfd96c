package config

import (
	"os"
	"strconv"
	"strings"

	"scriptgame_gamemaster/internal/logger"

	"github.com/joho/godotenv"
)

// конфигурация демона, читается из окружения при старте
type Config struct {
	ContractAddress string // адрес игрового контракта (0x...)
	RPCURL          string // endpoint RPC целевой сети
	ChainID         int64
	GameAPIBase     string // база публичного URL игровых серверов
	PrivKey         string // ключ геймастера, дальше не интерпретируется
	JWTSecret       string // базовый секрет для bearer-токенов
	DataDir         string // каталог артефактов (reveal/map/scores)
	AppPort         string // порт ops-сервера (/metrics, /healthz)
	RedisAddr       string // опционально: rate limiter
	DevMode         bool
}

// Load читает .env и переменные окружения; при отсутствии
// обязательных значений завершает процесс с кодом 1
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ContractAddress: os.Getenv("CONTRACT_ADDRESS"),
		RPCURL:          os.Getenv("RPC_URL"),
		ChainID:         envInt64("CHAIN_ID", 8453),
		GameAPIBase:     envDefault("GAME_API_BASE", "http://localhost"),
		PrivKey:         os.Getenv("PRIVKEY"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DataDir:         envDefault("DATA_DIR", "./data"),
		AppPort:         envDefault("APP_PORT", "9090"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		DevMode:         os.Getenv("DEV_MODE") == "true",
	}

	if cfg.ContractAddress == "" {
		logger.Fatal("CONTRACT_ADDRESS не задан")
	}
	if !strings.HasPrefix(cfg.ContractAddress, "0x") || len(cfg.ContractAddress) != 42 {
		logger.Fatal("CONTRACT_ADDRESS имеет неверный формат", "value", cfg.ContractAddress)
	}
	if cfg.RPCURL == "" {
		logger.Fatal("RPC_URL не задан")
	}
	if cfg.PrivKey == "" {
		logger.Fatal("PRIVKEY не задан")
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET не задан")
	}

	return cfg
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn("неверное числовое значение в окружении, используется значение по умолчанию", "key", key, "value", v)
		return def
	}
	return n
}
