package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// фаза жизненного цикла игры; порядок фаз фиксирован,
// вычисляется заново на каждом тике из состояния контракта
type GamePhase string

const (
	PhaseCreated        GamePhase = "CREATED"
	PhaseCommitted      GamePhase = "COMMITTED"
	PhaseClosed         GamePhase = "CLOSED"
	PhaseGameRunning    GamePhase = "GAME_RUNNING"
	PhaseGameFinished   GamePhase = "GAME_FINISHED"
	PhasePayoutComplete GamePhase = "PAYOUT_COMPLETE"
	PhaseComplete       GamePhase = "COMPLETE"
)

// Game - запись игры в реестре оркестратора.
// Мутируется только оркестратором и воркером этой игры.
type Game struct {
	ID          uint64         `json:"gameId"`
	Gamemaster  common.Address `json:"gamemaster"`
	Creator     common.Address `json:"creator"`
	StakeAmount *big.Int       `json:"stakeAmount"`
	Phase       GamePhase      `json:"phase"`

	HasOpened          bool `json:"hasOpened"`
	HasClosed          bool `json:"hasClosed"`
	HasCommitted       bool `json:"hasCommitted"`
	HasStoredBlockHash bool `json:"hasStoredBlockHash"`
	HasRevealed        bool `json:"hasRevealed"`
	HasPaidOut         bool `json:"hasPaidOut"`

	PlayerCount int `json:"playerCount"`
	MapSize     int `json:"mapSize"` // 0 до закрытия игры

	LastUpdated time.Time `json:"lastUpdated"`

	// локальные флаги обхода фаз при исчерпании ретраев
	PayoutSkipped bool `json:"payoutSkipped,omitempty"`
	RevealSkipped bool `json:"revealSkipped,omitempty"`

	Expired       bool   `json:"expired,omitempty"`
	ExpiredReason string `json:"expiredReason,omitempty"`
}
