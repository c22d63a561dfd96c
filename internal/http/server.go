package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/http/handlers"
	"scriptgame_gamemaster/internal/http/middleware"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/service"
	"scriptgame_gamemaster/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// конвенциональные пути TLS-файлов в рабочем каталоге процесса
const (
	tlsKeyFile  = "server.key"
	tlsCertFile = "server.cert"
)

// TLSAvailable сообщает, есть ли на диске и ключ, и сертификат
func TLSAvailable() bool {
	if _, err := os.Stat(tlsKeyFile); err != nil {
		return false
	}
	if _, err := os.Stat(tlsCertFile); err != nil {
		return false
	}
	return true
}

// Server - HTTP-слушатель одной игры на порту 8000+gameId.
// Создается при входе игры в GAME_RUNNING, уничтожается после COMPLETE.
type Server struct {
	gameID uint64
	port   int
	sess   *session.Session
	srv    *http.Server
}

// New собирает сервер игры с полным набором маршрутов
func New(gameID uint64, sess *session.Session, auth *service.AuthService, contract common.Address, phase func() domain.GamePhase, stake func() string) *Server {
	r := Router(gameID, sess, auth, contract, phase, stake)

	port := service.GamePort(gameID)
	return &Server{
		gameID: gameID,
		port:   port,
		sess:   sess,
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
	}
}

// Router строит маршруты игры; вынесен отдельно для тестов
func Router(gameID uint64, sess *session.Session, auth *service.AuthService, contract common.Address, phase func() domain.GamePhase, stake func() string) *gin.Engine {
	h := &handlers.GameHandler{
		GameID:   gameID,
		Contract: contract,
		Session:  sess,
		Auth:     auth,
		Phase:    phase,
		Stake:    stake,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	r.GET("/", h.Root)
	r.GET("/test", h.Test)
	r.GET("/status", h.Status)
	r.GET("/players", h.Players)
	r.GET("/register", h.RegisterChallenge)
	r.POST("/register", middleware.RateLimit(30, time.Minute), h.Register)

	authed := r.Group("/", middleware.Auth(auth, gameID, sess.IsPlayer))
	authed.GET("/map", h.Map)
	authed.POST("/move", middleware.RateLimit(120, time.Minute), h.Move)
	authed.POST("/mine", middleware.RateLimit(120, time.Minute), h.Mine)

	return r
}

// Port возвращает порт слушателя
func (s *Server) Port() int {
	return s.port
}

// Session возвращает сессию, которую обслуживает сервер
func (s *Server) Session() *session.Session {
	return s.sess
}

// Start запускает слушатель в фоне. HTTPS включается при наличии
// TLS-файлов; при ошибке настройки HTTPS сервер падает обратно
// на HTTP на том же порту.
func (s *Server) Start() {
	go func() {
		if TLSAvailable() {
			logger.Info("сервер игры слушает HTTPS", "gameId", s.gameID, "port", s.port)
			err := s.srv.ListenAndServeTLS(tlsCertFile, tlsKeyFile)
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return
			}
			logger.Warn("HTTPS не поднялся, переход на HTTP", "gameId", s.gameID, "error", err)
		}

		logger.Info("сервер игры слушает HTTP", "gameId", s.gameID, "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("сервер игры завершился с ошибкой", "gameId", s.gameID, "error", err)
		}
	}()
}

// Shutdown останавливает слушатель и таймер сессии
func (s *Server) Shutdown(ctx context.Context) error {
	s.sess.Stop()
	return s.srv.Shutdown(ctx)
}
