package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"scriptgame_gamemaster/internal/chain"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CommitReveal - шаги randomness-пайплайна одной игры: секрет,
// коммит его хэша, фиксация хэша блока коммита, раскрытие.
// Вызовы идемпотентны: каждый шаг сначала перечитывает правду с цепочки.
type CommitReveal struct {
	chain   *chain.Client
	store   *store.ArtifactStore
	apiBase string
	tls     bool
}

// NewCommitReveal создает пайплайн; tls влияет только на схему
// публикуемого URL, когда база задана без схемы
func NewCommitReveal(chainClient *chain.Client, artifacts *store.ArtifactStore, apiBase string, tls bool) *CommitReveal {
	return &CommitReveal{chain: chainClient, store: artifacts, apiBase: apiBase, tls: tls}
}

// CommitHashOf вычисляет публикуемый хэш секрета
func CommitHashOf(reveal [32]byte) common.Hash {
	return crypto.Keccak256Hash(reveal[:])
}

// EnsureSecret возвращает секрет игры, генерируя и сохраняя новый
// только если он еще не сохранен (выдерживает перезапуск демона)
func (p *CommitReveal) EnsureSecret(gameID uint64) ([32]byte, error) {
	if p.store.HasReveal(gameID) {
		return p.store.LoadReveal(gameID)
	}

	var reveal [32]byte
	if _, err := rand.Read(reveal[:]); err != nil {
		return reveal, fmt.Errorf("генерация секрета игры %d: %w", gameID, err)
	}
	if err := p.store.SaveReveal(gameID, reveal); err != nil {
		return reveal, err
	}

	logger.Info("секрет игры сгенерирован и сохранен", "gameId", gameID)
	return reveal, nil
}

// Commit публикует keccak256(secret); если коммит уже есть на
// цепочке, ничего не делает
func (p *CommitReveal) Commit(ctx context.Context, gameID uint64) error {
	cr, err := p.chain.GetCommitRevealState(ctx, gameID)
	if err != nil {
		return err
	}
	if cr.HasCommitted {
		return nil
	}

	reveal, err := p.EnsureSecret(gameID)
	if err != nil {
		return err
	}

	if _, err := p.chain.CommitHash(ctx, gameID, CommitHashOf(reveal)); err != nil {
		return err
	}

	logger.Info("хэш секрета закоммичен", "gameId", gameID)
	return nil
}

// StoreBlockHash фиксирует хэш блока коммита вместе с публичным URL
// игрового сервера. До появления блока коммита возвращает
// chain.ErrBlockNotReady - это ожидаемо и ретраится.
func (p *CommitReveal) StoreBlockHash(ctx context.Context, gameID uint64) error {
	cr, err := p.chain.GetCommitRevealState(ctx, gameID)
	if err != nil {
		return err
	}
	if cr.HasStoredBlockHash {
		return nil
	}
	if !cr.HasCommitted {
		return fmt.Errorf("игра %d: фиксация хэша блока до коммита", gameID)
	}

	current, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if current < cr.CommitBlockNumber {
		return chain.ErrBlockNotReady
	}

	if _, err := p.chain.StoreCommitBlockHash(ctx, gameID, p.ServerURL(gameID)); err != nil {
		return err
	}

	logger.Info("хэш блока коммита зафиксирован", "gameId", gameID, "serverURL", p.ServerURL(gameID))
	return nil
}

// Reveal раскрывает сохраненный секрет
func (p *CommitReveal) Reveal(ctx context.Context, gameID uint64) error {
	cr, err := p.chain.GetCommitRevealState(ctx, gameID)
	if err != nil {
		return err
	}
	if cr.HasRevealed {
		return nil
	}

	reveal, err := p.store.LoadReveal(gameID)
	if err != nil {
		return err
	}

	if _, err := p.chain.RevealHash(ctx, gameID, reveal); err != nil {
		return err
	}

	logger.Info("секрет раскрыт", "gameId", gameID)
	return nil
}

// ServerURL строит публикуемый URL сервера игры: к базе добавляется
// порт 8000+gameId; схема добавляется, только если базы ее не содержит
func (p *CommitReveal) ServerURL(gameID uint64) string {
	base := strings.TrimSuffix(p.apiBase, "/")
	port := GamePort(gameID)
	if strings.Contains(base, "://") {
		return fmt.Sprintf("%s:%d", base, port)
	}
	scheme := "http"
	if p.tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, base, port)
}

// GamePort возвращает порт сервера игры; по порту на игру,
// два активных сервера никогда не делят порт
func GamePort(gameID uint64) int {
	return 8000 + int(gameID)
}
