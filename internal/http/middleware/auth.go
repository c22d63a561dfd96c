package middleware

import (
	"net/http"
	"strings"

	"scriptgame_gamemaster/internal/service"

	"github.com/gin-gonic/gin"
)

// ключ адреса игрока в контексте запроса
const ContextAddress = "address"

// Auth проверяет bearer-токен и заново подтверждает, что адрес
// все еще числится игроком этой игры
func Auth(auth *service.AuthService, gameID uint64, isPlayer func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			c.Abort()
			return
		}

		address, err := auth.ValidateToken(parts[1], gameID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		if !isPlayer(address) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Address is not a player of this game"})
			c.Abort()
			return
		}

		c.Set(ContextAddress, address)
		c.Next()
	}
}
