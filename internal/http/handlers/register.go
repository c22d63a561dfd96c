package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"scriptgame_gamemaster/internal/service"

	"github.com/gin-gonic/gin"
)

// RegisterChallenge выдает EIP-191 сообщение для подписи;
// timestamp клиент возвращает без изменений
func (h *GameHandler) RegisterChallenge(c *gin.Context) {
	ts := time.Now().UnixMilli()
	c.JSON(http.StatusOK, gin.H{
		"message":   h.Auth.ChallengeMessage(h.GameID, ts),
		"timestamp": ts,
		"gameId":    h.GameID,
	})
}

// запрос регистрации с подписанным challenge'ем
type registerRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// Register проверяет подпись и принадлежность адреса игре и
// выпускает bearer-токен
func (h *GameHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.BindJSON(&req); err != nil || req.Address == "" || req.Signature == "" || req.Timestamp == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address, signature and timestamp are required"})
		return
	}

	if !h.Session.IsPlayer(strings.ToLower(req.Address)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Address is not a player of this game"})
		return
	}

	if err := h.Auth.VerifySignature(h.GameID, req.Address, req.Signature, req.Timestamp); err != nil {
		switch {
		case errors.Is(err, service.ErrStaleChallenge):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrBadSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
		default:
			// неожиданный сбой при восстановлении подписанта
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Signature verification error"})
		}
		return
	}

	token, expiresIn, err := h.Auth.IssueToken(h.GameID, req.Address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": expiresIn,
	})
}
