package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scriptgame_gamemaster/internal/chain"
	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/gamemap"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/metrics"
	"scriptgame_gamemaster/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// политика ретраев по фазам
const (
	maxPayoutAttempts = 10
	maxRevealAttempts = 1

	storeBlockHashDelay = 15 * time.Second
	revealRetryDelay    = 10 * time.Second
	serverShutdownDelay = 15 * time.Second
)

// payoutBackoff: min(5s * 2^(n-1), 5min) для попытки n
func payoutBackoff(attempt int) time.Duration {
	d := 5 * time.Second << (attempt - 1)
	if d > 5*time.Minute || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// fundsBackoff: более длинный backoff при нехватке средств,
// min(10s * 2^n, 10min)
func fundsBackoff(attempt int) time.Duration {
	d := 10 * time.Second << attempt
	if d > 10*time.Minute || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// ServerHooks - узкие колбэки воркера к оркестратору; разрывают
// циклическую зависимость между state machine и рантаймом сессии
type ServerHooks struct {
	StartServer        func(gameID uint64, m *gamemap.Map, randomHash common.Hash, players []common.Address) error
	StopServerDelayed  func(gameID uint64, delay time.Duration)
	ServerActive       func(gameID uint64) bool
	SnapshotPlayers    func(gameID uint64) ([]store.PlayerScore, bool)
	AllPlayersFinished func(gameID uint64) bool
	OnComplete         func(gameID uint64)
}

// phaseInputs - входы таблицы переходов; собираются заново на
// каждом тике из состояния цепочки и локальных наблюдений
type phaseInputs struct {
	HasClosed          bool
	HasCommitted       bool
	HasStoredBlockHash bool
	HasRevealed        bool
	HasPaidOut         bool

	ScoresExist        bool
	AllPlayersFinished bool
	ServerActive       bool

	PayoutSkipped bool
	RevealSkipped bool
}

// derivePhase вычисляет фазу по таблице переходов; локальные флаги
// *Skipped прижимают фазу к следующей
func derivePhase(in phaseInputs) domain.GamePhase {
	var phase domain.GamePhase
	switch {
	case in.HasRevealed:
		phase = domain.PhaseComplete
	case in.HasPaidOut:
		phase = domain.PhasePayoutComplete
	case in.HasClosed && in.HasCommitted && in.HasStoredBlockHash && in.ScoresExist && in.AllPlayersFinished:
		phase = domain.PhaseGameFinished
	case in.HasClosed && in.HasCommitted && in.HasStoredBlockHash && in.ServerActive:
		phase = domain.PhaseGameRunning
	case in.HasClosed && in.HasCommitted && in.HasStoredBlockHash:
		phase = domain.PhaseClosed
	case in.HasCommitted:
		phase = domain.PhaseCommitted
	default:
		phase = domain.PhaseCreated
	}

	if phase == domain.PhaseGameFinished && in.PayoutSkipped {
		phase = domain.PhasePayoutComplete
	}
	if phase == domain.PhasePayoutComplete && in.RevealSkipped {
		phase = domain.PhaseComplete
	}
	return phase
}

// GameWorker ведет одну игру через фазы. Все действия воркера
// сериализованы: оркестратор не запускает следующий тик, пока не
// завершился предыдущий.
type GameWorker struct {
	game     *domain.Game
	chain    *chain.Client
	store    *store.ArtifactStore
	pipeline *CommitReveal
	hooks    ServerHooks

	payoutAttempts int
	revealAttempts int

	// расписание отложенных действий; проверяется на каждом тике
	storeNotBefore time.Time
	nextPayoutAt   time.Time
	nextRevealAt   time.Time

	completed bool
}

// NewGameWorker создает воркер игры
func NewGameWorker(game *domain.Game, chainClient *chain.Client, artifacts *store.ArtifactStore, pipeline *CommitReveal, hooks ServerHooks) *GameWorker {
	return &GameWorker{
		game:     game,
		chain:    chainClient,
		store:    artifacts,
		pipeline: pipeline,
		hooks:    hooks,
	}
}

// Game возвращает запись игры воркера
func (w *GameWorker) Game() *domain.Game {
	return w.game
}

// Tick выполняет один шаг state machine: перечитывает правду с
// цепочки, выводит фазу и выполняет действие фазы. Ошибка
// возвращается оркестратору: тот пишет ее в лог и повторяет тик
// после паузы; дальше оркестратора ошибки не поднимаются.
func (w *GameWorker) Tick(ctx context.Context) error {
	if w.completed {
		return nil
	}
	g := w.game

	if g.Expired {
		w.complete()
		return nil
	}

	info, err := w.chain.GetGameInfo(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("игра %d: чтение состояния: %w", g.ID, err)
	}
	cr, err := w.chain.GetCommitRevealState(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("игра %d: чтение commit-reveal: %w", g.ID, err)
	}
	payout, err := w.chain.GetPayoutInfo(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("игра %d: чтение выплаты: %w", g.ID, err)
	}

	g.HasOpened = info.HasOpened
	g.HasClosed = info.HasClosed
	g.HasCommitted = cr.HasCommitted
	g.HasStoredBlockHash = cr.HasStoredBlockHash
	g.HasRevealed = cr.HasRevealed
	g.HasPaidOut = payout.HasPaidOut
	g.PlayerCount = info.PlayerCount
	g.MapSize = cr.MapSize
	g.LastUpdated = time.Now()

	phase := derivePhase(phaseInputs{
		HasClosed:          g.HasClosed,
		HasCommitted:       g.HasCommitted,
		HasStoredBlockHash: g.HasStoredBlockHash,
		HasRevealed:        g.HasRevealed,
		HasPaidOut:         g.HasPaidOut,
		ScoresExist:        w.store.HasScores(g.ID),
		AllPlayersFinished: w.hooks.AllPlayersFinished(g.ID),
		ServerActive:       w.hooks.ServerActive(g.ID),
		PayoutSkipped:      g.PayoutSkipped,
		RevealSkipped:      g.RevealSkipped,
	})
	if phase != g.Phase {
		logger.Info("смена фазы", "gameId", g.ID, "from", g.Phase, "to", phase)
		g.Phase = phase
	}

	switch phase {
	case domain.PhaseCreated:
		return w.actCreated(ctx)
	case domain.PhaseCommitted:
		return w.actCommitted(ctx)
	case domain.PhaseClosed:
		return w.actClosed(ctx, cr)
	case domain.PhaseGameRunning:
		return w.actGameRunning()
	case domain.PhaseGameFinished:
		return w.actGameFinished(ctx)
	case domain.PhasePayoutComplete:
		return w.actPayoutComplete(ctx)
	case domain.PhaseComplete:
		w.complete()
	}
	return nil
}

// CREATED: сгенерировать секрет и закоммитить его хэш
func (w *GameWorker) actCreated(ctx context.Context) error {
	if err := w.pipeline.Commit(ctx, w.game.ID); err != nil {
		return fmt.Errorf("игра %d: коммит: %w", w.game.ID, err)
	}
	// окно на попадание коммита в блок перед фиксацией хэша блока
	w.storeNotBefore = time.Now().Add(storeBlockHashDelay)
	return nil
}

// COMMITTED: зафиксировать хэш блока коммита, дальше ждать закрытия
func (w *GameWorker) actCommitted(ctx context.Context) error {
	g := w.game
	if g.HasStoredBlockHash {
		return nil // ждем закрытия игры
	}
	if time.Now().Before(w.storeNotBefore) {
		return nil
	}

	err := w.pipeline.StoreBlockHash(ctx, g.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chain.ErrBlockNotReady):
		// блок коммита еще не добыт, штатная ситуация
		logger.Debug("блок коммита еще не готов", "gameId", g.ID)
		return nil
	case errors.Is(err, chain.ErrBlockHashUnavailable):
		w.expire("хэш блока коммита недоступен при фиксации")
		return nil
	default:
		return fmt.Errorf("игра %d: фиксация хэша блока: %w", g.ID, err)
	}
}

// CLOSED: проверить свежесть блока коммита, сгенерировать карту и
// запустить сервер игры
func (w *GameWorker) actClosed(ctx context.Context, cr *chain.CommitRevealState) error {
	g := w.game

	tooOld, err := w.isGameTooOldToStart(ctx, cr.CommitBlockNumber)
	if err != nil {
		return fmt.Errorf("игра %d: проверка возраста коммита: %w", g.ID, err)
	}
	if tooOld {
		w.expire("блок коммита старше порога свежести")
		return nil
	}
	if !w.chain.IsBlockHashAvailable(ctx, g.ID) {
		w.expire("хэш блока коммита недоступен")
		return nil
	}

	blockHash, err := w.chain.GetCommitBlockHash(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("игра %d: чтение хэша блока: %w", g.ID, err)
	}
	reveal, err := w.store.LoadReveal(g.ID)
	if err != nil {
		// без секрета игра не может стартовать - жесткая ошибка
		w.expire("секрет игры утерян")
		return fmt.Errorf("игра %d: %w", g.ID, err)
	}

	randomHash := gamemap.RandomHash(blockHash, reveal)

	// размер карты авторитетен с контракта после закрытия
	size := g.MapSize
	if size == 0 {
		size = gamemap.SizeForPlayers(g.PlayerCount)
	}

	var m *gamemap.Map
	if w.store.HasMap(g.ID) {
		m, err = w.store.LoadMap(g.ID)
		if err != nil {
			return fmt.Errorf("игра %d: %w", g.ID, err)
		}
	} else {
		m = gamemap.Generate(randomHash, size)
		if err := w.store.SaveMap(g.ID, m, reveal, randomHash); err != nil {
			return fmt.Errorf("игра %d: %w", g.ID, err)
		}
		logger.Info("карта сгенерирована", "gameId", g.ID, "size", size)
	}

	players, err := w.chain.GetPlayers(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("игра %d: чтение игроков: %w", g.ID, err)
	}

	if err := w.hooks.StartServer(g.ID, m, randomHash, players); err != nil {
		return fmt.Errorf("игра %d: запуск сервера: %w", g.ID, err)
	}
	return nil
}

// GAME_RUNNING: следить за условием конца игры и сохранить результаты
func (w *GameWorker) actGameRunning() error {
	g := w.game
	if !w.hooks.AllPlayersFinished(g.ID) {
		return nil
	}

	players, ok := w.hooks.SnapshotPlayers(g.ID)
	if !ok {
		return fmt.Errorf("игра %d: нет снимка игроков при завершении", g.ID)
	}
	if err := w.store.SaveScores(g.ID, players); err != nil {
		return err
	}

	logger.Info("игра завершена, результаты сохранены", "gameId", g.ID, "players", len(players))
	return nil
}

// GAME_FINISHED: выплата победителям с экспоненциальным backoff'ом
func (w *GameWorker) actGameFinished(ctx context.Context) error {
	g := w.game
	if time.Now().Before(w.nextPayoutAt) {
		return nil
	}

	winners, err := w.winners()
	if err != nil {
		return fmt.Errorf("игра %d: вычисление победителей: %w", g.ID, err)
	}

	_, err = w.chain.Payout(ctx, g.ID, winners)
	if err == nil {
		metrics.PayoutsSubmitted.Inc()
		logger.Info("выплата отправлена", "gameId", g.ID, "winners", len(winners))
		return nil
	}

	w.payoutAttempts++
	if w.payoutAttempts >= maxPayoutAttempts {
		g.PayoutSkipped = true
		logger.Error("выплата пропущена после исчерпания ретраев", "gameId", g.ID, "attempts", w.payoutAttempts)
		return nil
	}

	var delay time.Duration
	if errors.Is(err, chain.ErrInsufficientFunds) {
		delay = fundsBackoff(w.payoutAttempts)
		balance, balErr := w.chain.Balance(ctx)
		if balErr == nil {
			logger.Error("недостаточно средств для выплаты", "gameId", g.ID, "balance", balance.String(), "retryIn", delay)
		} else {
			logger.Error("недостаточно средств для выплаты", "gameId", g.ID, "retryIn", delay)
		}
	} else {
		delay = payoutBackoff(w.payoutAttempts)
		logger.Error("ошибка выплаты", "gameId", g.ID, "attempt", w.payoutAttempts, "retryIn", delay, "error", err)
	}
	w.nextPayoutAt = time.Now().Add(delay)
	return nil
}

// PAYOUT_COMPLETE: раскрытие секрета, один повтор через 10 секунд
func (w *GameWorker) actPayoutComplete(ctx context.Context) error {
	g := w.game
	if time.Now().Before(w.nextRevealAt) {
		return nil
	}

	err := w.pipeline.Reveal(ctx, g.ID)
	if err == nil {
		metrics.RevealsSubmitted.Inc()
		// даем клиентам дочитать состояние перед остановкой сервера
		w.hooks.StopServerDelayed(g.ID, serverShutdownDelay)
		return nil
	}

	w.revealAttempts++
	if w.revealAttempts > maxRevealAttempts {
		g.RevealSkipped = true
		logger.Error("раскрытие пропущено", "gameId", g.ID, "error", err)
		return nil
	}

	w.nextRevealAt = time.Now().Add(revealRetryDelay)
	logger.Warn("ошибка раскрытия, повтор", "gameId", g.ID, "retryIn", revealRetryDelay, "error", err)
	return nil
}

// winners - все игроки с максимальным счетом из артефакта scores
func (w *GameWorker) winners() ([]common.Address, error) {
	scores, err := w.store.LoadScores(w.game.ID)
	if err != nil {
		return nil, err
	}
	return WinnersOf(scores.Players), nil
}

// WinnersOf возвращает ровно множество игроков с максимальным счетом
func WinnersOf(players []store.PlayerScore) []common.Address {
	if len(players) == 0 {
		return []common.Address{}
	}

	max := players[0].Score
	for _, p := range players[1:] {
		if p.Score > max {
			max = p.Score
		}
	}

	winners := make([]common.Address, 0, 1)
	for _, p := range players {
		if p.Score == max {
			winners = append(winners, common.HexToAddress(p.Address))
		}
	}
	return winners
}

// isGameTooOldToStart: возраст блока коммита не меньше порога -
// игра невосстановима
func (w *GameWorker) isGameTooOldToStart(ctx context.Context, commitBlock uint64) (bool, error) {
	current, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return IsCommitTooOld(current, commitBlock), nil
}

// IsCommitTooOld: возраст 239 - можно стартовать, 240 - уже нет
func IsCommitTooOld(currentBlock, commitBlock uint64) bool {
	if currentBlock < commitBlock {
		return false
	}
	return currentBlock-commitBlock >= chain.MaxCommitAge
}

// expire помечает игру истекшей; терминальная ветка в COMPLETE
func (w *GameWorker) expire(reason string) {
	g := w.game
	g.Expired = true
	g.ExpiredReason = reason
	g.Phase = domain.PhaseComplete
	metrics.GamesExpired.Inc()
	logger.Warn("игра помечена истекшей", "gameId", g.ID, "reason", reason)
	w.complete()
}

// complete: терминальная уборка, выполняется один раз
func (w *GameWorker) complete() {
	if w.completed {
		return
	}
	w.completed = true
	w.game.Phase = domain.PhaseComplete
	w.hooks.OnComplete(w.game.ID)
}
