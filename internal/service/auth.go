package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// срок жизни bearer-токена и окно актуальности challenge-сообщения
const (
	TokenValidity     = time.Hour
	ChallengeValidity = 5 * time.Minute
)

var (
	ErrBadSignature   = errors.New("подпись не соответствует адресу")
	ErrStaleChallenge = errors.New("срок действия challenge истек")
	ErrInvalidToken   = errors.New("невалидный или истекший токен")
)

// шаблон EIP-191 сообщения; клиент подписывает его personal_sign'ом
// и возвращает timestamp без изменений
const challengeTemplate = `Sign this message to authenticate with the game server.

Contract: %s
GameId: %d
Namespace: ScriptGame
Timestamp: %d

This signature is valid for 5 minutes.`

// AuthService проверяет подписи EIP-191 и выпускает симметрично
// подписанные bearer-токены, ограниченные парой (контракт, игра)
type AuthService struct {
	contract   common.Address
	baseSecret string
}

// NewAuthService создает сервис аутентификации для контракта
func NewAuthService(contract common.Address, baseSecret string) *AuthService {
	return &AuthService{contract: contract, baseSecret: baseSecret}
}

// секрет токенов: BASE + "-" + адрес контракта в нижнем регистре
func (a *AuthService) secret() []byte {
	return []byte(a.baseSecret + "-" + strings.ToLower(a.contract.Hex()))
}

// ChallengeMessage строит сообщение для подписи
func (a *AuthService) ChallengeMessage(gameID uint64, timestampMs int64) string {
	return fmt.Sprintf(challengeTemplate, a.contract.Hex(), gameID, timestampMs)
}

// VerifySignature восстанавливает подписанта по правилу personal-sign
// и сверяет его с заявленным адресом (без учета регистра)
func (a *AuthService) VerifySignature(gameID uint64, address, signature string, timestampMs int64) error {
	now := time.Now().UnixMilli()
	age := now - timestampMs
	if age > ChallengeValidity.Milliseconds() || age < -ChallengeValidity.Milliseconds() {
		return ErrStaleChallenge
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("декодирование подписи: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("подпись имеет длину %d, ожидалось %d", len(sig), crypto.SignatureLength)
	}

	// кошельки отдают V как 27/28, recovery ожидает 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := accounts.TextHash([]byte(a.ChallengeMessage(gameID, timestampMs)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("восстановление подписанта: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return ErrBadSignature
	}
	return nil
}

// tokenClaims - полезная нагрузка bearer-токена
type tokenClaims struct {
	Address  string `json:"address"`
	GameID   uint64 `json:"gameId"`
	IssuedAt int64  `json:"issuedAt"`
	jwt.RegisteredClaims
}

// IssueToken выпускает токен на час для игрока игры
func (a *AuthService) IssueToken(gameID uint64, address string) (string, int64, error) {
	now := time.Now()
	claims := tokenClaims{
		Address:  strings.ToLower(address),
		GameID:   gameID,
		IssuedAt: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenValidity)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret())
	if err != nil {
		return "", 0, fmt.Errorf("подпись токена: %w", err)
	}
	return token, int64(TokenValidity.Seconds()), nil
}

// ValidateToken проверяет подпись и срок токена и возвращает адрес
// игрока; принадлежность игрока игре перепроверяется вызывающим
func (a *AuthService) ValidateToken(tokenString string, gameID uint64) (string, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", t.Header["alg"])
		}
		return a.secret(), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.GameID != gameID {
		return "", ErrInvalidToken
	}
	return claims.Address, nil
}
