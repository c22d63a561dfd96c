package handlers

import (
	"errors"
	"net/http"
	"time"

	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/http/middleware"
	"scriptgame_gamemaster/internal/service"
	"scriptgame_gamemaster/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// GameHandler обслуживает HTTP-эндпоинты одной игры
type GameHandler struct {
	GameID   uint64
	Contract common.Address
	Session  *session.Session
	Auth     *service.AuthService
	Phase    func() domain.GamePhase
	Stake    func() string // десятичная строка: ставка может не помещаться в 2^53
}

// остаток времени игры в секундах; присутствует в каждом ответе
func (h *GameHandler) timeRemaining() float64 {
	return h.Session.TimeRemaining().Round(time.Millisecond).Seconds()
}

// Root - метаданные сервера
func (h *GameHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":          "ScriptGame game server",
		"gameId":        h.GameID,
		"contract":      h.Contract.Hex(),
		"phase":         h.Phase(),
		"timeRemaining": h.timeRemaining(),
	})
}

// Test - проверка живости
func (h *GameHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "timeRemaining": h.timeRemaining()})
}

// Status - снимок состояния игры
func (h *GameHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gameId":        h.GameID,
		"phase":         h.Phase(),
		"playerCount":   h.Session.PlayerCount(),
		"stakeAmount":   h.Stake(),
		"timeRemaining": h.timeRemaining(),
		"startTime":     h.Session.StartedAt().UTC().Format(time.RFC3339),
	})
}

// Players - очищенная статистика игроков: без позиций и клеток
func (h *GameHandler) Players(c *gin.Context) {
	var out []gin.H
	for _, p := range h.Session.Snapshot() {
		out = append(out, gin.H{
			"address":        p.Address,
			"score":          p.Score,
			"movesRemaining": p.MovesRemaining,
			"minesRemaining": p.MinesRemaining,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"players":       out,
		"count":         len(out),
		"timeRemaining": h.timeRemaining(),
	})
}

// Map - окно 3x3 вокруг игрока
func (h *GameHandler) Map(c *gin.Context) {
	address := c.GetString(middleware.ContextAddress)

	view, err := h.Session.View(address)
	if err != nil {
		h.gameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"view":           view.Window,
		"position":       view.Position,
		"tile":           view.Tile,
		"score":          view.Score,
		"movesRemaining": view.MovesRemaining,
		"minesRemaining": view.MinesRemaining,
		"timeRemaining":  h.timeRemaining(),
	})
}

// Move - ход в одном из восьми направлений
func (h *GameHandler) Move(c *gin.Context) {
	address := c.GetString(middleware.ContextAddress)

	var req struct {
		Direction string `json:"direction"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	view, err := h.Session.Move(address, req.Direction)
	if err != nil {
		h.gameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"position":       view.Position,
		"tile":           view.Tile,
		"view":           view.Window,
		"movesRemaining": view.MovesRemaining,
		"minesRemaining": view.MinesRemaining,
		"timeRemaining":  h.timeRemaining(),
	})
}

// Mine - добыча текущей клетки
func (h *GameHandler) Mine(c *gin.Context) {
	address := c.GetString(middleware.ContextAddress)

	points, view, err := h.Session.Mine(address)
	if err != nil {
		h.gameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pointsEarned":   points,
		"score":          view.Score,
		"tile":           view.Tile,
		"view":           view.Window,
		"movesRemaining": view.MovesRemaining,
		"minesRemaining": view.MinesRemaining,
		"timeRemaining":  h.timeRemaining(),
	})
}

// gameError переводит игровые ошибки в коды ответа: правила игры -
// 400 с точным текстом, неизвестный игрок - 404
func (h *GameHandler) gameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrPlayerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidDirection),
		errors.Is(err, session.ErrNoMovesRemaining),
		errors.Is(err, session.ErrNoMinesRemaining),
		errors.Is(err, session.ErrTileDepleted),
		errors.Is(err, session.ErrTimerExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
