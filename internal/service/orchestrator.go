package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"scriptgame_gamemaster/internal/chain"
	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/gamemap"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/metrics"
	"scriptgame_gamemaster/internal/session"
	"scriptgame_gamemaster/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

const (
	tickInterval      = 250 * time.Millisecond
	errorTickBackoff  = time.Second
	eventPollInterval = 5 * time.Second
)

// GameServer - минимальный интерфейс слушателя игры; конкретный
// сервер внедряется фабрикой из main, что избавляет сервисный слой
// от зависимости на HTTP-пакет
type GameServer interface {
	Start()
	Shutdown(ctx context.Context) error
	Port() int
}

// ServerFactory создает слушатель для запущенной игры; stake
// передается строкой - ставки не обязаны помещаться в 2^53
type ServerFactory func(gameID uint64, sess *session.Session, phase func() domain.GamePhase, stake func() string) GameServer

// Orchestrator владеет реестром игр и реестром активных серверов.
// Обнаруживает игры (исторический скан + live-события), раздает тики
// воркерам: последовательно в пределах игры, конкурентно между играми.
type Orchestrator struct {
	chain    *chain.Client
	store    *store.ArtifactStore
	pipeline *CommitReveal
	factory  ServerFactory

	mu       sync.Mutex
	games    map[uint64]*domain.Game
	workers  map[uint64]*GameWorker
	phases   map[uint64]domain.GamePhase
	sessions map[uint64]*session.Session
	servers  map[uint64]GameServer
	inFlight map[uint64]bool
	nextTick map[uint64]time.Time
	timers   []*time.Timer

	completedCount int64
}

// NewOrchestrator создает оркестратор
func NewOrchestrator(chainClient *chain.Client, artifacts *store.ArtifactStore, pipeline *CommitReveal, factory ServerFactory) *Orchestrator {
	return &Orchestrator{
		chain:    chainClient,
		store:    artifacts,
		pipeline: pipeline,
		factory:  factory,
		games:    make(map[uint64]*domain.Game),
		workers:  make(map[uint64]*GameWorker),
		phases:   make(map[uint64]domain.GamePhase),
		sessions: make(map[uint64]*session.Session),
		servers:  make(map[uint64]GameServer),
		inFlight: make(map[uint64]bool),
		nextTick: make(map[uint64]time.Time),
	}
}

func (o *Orchestrator) hooks() ServerHooks {
	return ServerHooks{
		StartServer:        o.startServer,
		StopServerDelayed:  o.stopServerDelayed,
		ServerActive:       o.serverActive,
		SnapshotPlayers:    o.snapshotPlayers,
		AllPlayersFinished: o.allPlayersFinished,
		OnComplete:         o.onComplete,
	}
}

// Run выполняет запуск и главный цикл до отмены контекста.
// Ошибка возвращается только из инициализации.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := logger.Get()

	// первичное обнаружение: все GameCreated этого геймастера от genesis
	events, err := o.chain.FilterGameCreated(ctx, o.chain.Gamemaster(), 0)
	if err != nil {
		return err
	}
	for _, ev := range events {
		o.addGame(ev)
	}
	log.Info("исторический скан завершен", "games", len(events))

	current, err := o.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}

	watcher := chain.NewEventWatcher(o.chain, o.chain.Gamemaster(), current, eventPollInterval, o.handleEvent)
	go watcher.Start()
	defer watcher.Stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.tickAll(ctx)
		}
	}
}

// handleEvent обрабатывает live-событие контракта; состояние игры
// перечитывается воркером на ближайшем тике
func (o *Orchestrator) handleEvent(ev chain.GameEvent) {
	switch ev.Kind {
	case chain.EventGameCreated:
		o.addGame(ev)
	default:
		logger.Debug("событие контракта", "kind", ev.Kind, "gameId", ev.GameID)
	}
}

// addGame регистрирует игру и заводит ей воркер
func (o *Orchestrator) addGame(ev chain.GameEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.games[ev.GameID]; exists {
		return
	}

	g := &domain.Game{
		ID:          ev.GameID,
		Gamemaster:  ev.Gamemaster,
		Creator:     ev.Creator,
		StakeAmount: ev.StakeAmount,
		Phase:       domain.PhaseCreated,
		LastUpdated: time.Now(),
	}
	o.games[ev.GameID] = g
	o.workers[ev.GameID] = NewGameWorker(g, o.chain, o.store, o.pipeline, o.hooks())
	o.phases[ev.GameID] = domain.PhaseCreated

	metrics.GamesDiscovered.Inc()
	metrics.RegistrySize.Set(float64(len(o.games)))
	logger.Info("игра зарегистрирована", "gameId", ev.GameID, "creator", ev.Creator.Hex())
}

// tickAll раздает по одному тику каждой игре: GAME_RUNNING первыми,
// затем по возрастанию gameId; в пределах игры тики не накладываются
func (o *Orchestrator) tickAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]uint64, 0, len(o.workers))
	for id := range o.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri := o.phases[ids[i]] == domain.PhaseGameRunning
		rj := o.phases[ids[j]] == domain.PhaseGameRunning
		if ri != rj {
			return ri
		}
		return ids[i] < ids[j]
	})

	now := time.Now()
	var due []uint64
	for _, id := range ids {
		if o.inFlight[id] || now.Before(o.nextTick[id]) {
			continue
		}
		o.inFlight[id] = true
		due = append(due, id)
	}
	workers := make(map[uint64]*GameWorker, len(due))
	for _, id := range due {
		workers[id] = o.workers[id]
	}
	o.mu.Unlock()

	for _, id := range due {
		w := workers[id]
		go func(id uint64, w *GameWorker) {
			err := w.Tick(ctx)

			o.mu.Lock()
			o.inFlight[id] = false
			o.phases[id] = w.Game().Phase
			if err != nil {
				// ошибка тика записывается и ретраится с паузой
				o.nextTick[id] = time.Now().Add(errorTickBackoff)
			}
			o.mu.Unlock()

			if err != nil {
				logger.Error("ошибка тика игры", "gameId", id, "error", err)
			}
		}(id, w)
	}
}

// stakeOf возвращает ставку игры десятичной строкой
func (o *Orchestrator) stakeOf(gameID uint64) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.games[gameID]; ok && g.StakeAmount != nil {
		return g.StakeAmount.String()
	}
	return "0"
}

// PhaseOf возвращает последнюю известную фазу игры
func (o *Orchestrator) PhaseOf(gameID uint64) domain.GamePhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if phase, ok := o.phases[gameID]; ok {
		return phase
	}
	return domain.PhaseComplete
}

// startServer создает сессию и слушатель игры и регистрирует их
func (o *Orchestrator) startServer(gameID uint64, m *gamemap.Map, randomHash common.Hash, players []common.Address) error {
	o.mu.Lock()
	if _, running := o.servers[gameID]; running {
		o.mu.Unlock()
		return nil
	}

	sess := session.New(gameID, m, randomHash, players)
	srv := o.factory(gameID, sess,
		func() domain.GamePhase { return o.PhaseOf(gameID) },
		func() string { return o.stakeOf(gameID) })

	o.sessions[gameID] = sess
	o.servers[gameID] = srv
	metrics.ActiveServers.Set(float64(len(o.servers)))
	o.mu.Unlock()

	sess.Start()
	srv.Start()

	logger.Info("сервер игры запущен", "gameId", gameID, "port", srv.Port(), "players", len(players))
	return nil
}

// stopServerDelayed останавливает сервер игры с задержкой; в момент
// срабатывания проверяется, что активен все тот же сервер
func (o *Orchestrator) stopServerDelayed(gameID uint64, delay time.Duration) {
	o.mu.Lock()
	scheduled, ok := o.servers[gameID]
	if !ok {
		o.mu.Unlock()
		return
	}

	t := time.AfterFunc(delay, func() {
		o.mu.Lock()
		current, ok := o.servers[gameID]
		if !ok || current != scheduled {
			// сервер уже заменен или снят - пропускаем
			o.mu.Unlock()
			return
		}
		delete(o.servers, gameID)
		delete(o.sessions, gameID)
		metrics.ActiveServers.Set(float64(len(o.servers)))
		o.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := scheduled.Shutdown(ctx); err != nil {
			logger.Warn("ошибка остановки сервера игры", "gameId", gameID, "error", err)
		} else {
			logger.Info("сервер игры остановлен", "gameId", gameID)
		}
	})
	o.timers = append(o.timers, t)
	o.mu.Unlock()
}

func (o *Orchestrator) serverActive(gameID uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.servers[gameID]
	return ok
}

func (o *Orchestrator) snapshotPlayers(gameID uint64) ([]store.PlayerScore, bool) {
	o.mu.Lock()
	sess, ok := o.sessions[gameID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.Snapshot(), true
}

// allPlayersFinished: живая сессия отвечает сама; после перезапуска
// демона сессии нет, но сохраненный артефакт scores означает, что
// игра уже доиграна
func (o *Orchestrator) allPlayersFinished(gameID uint64) bool {
	o.mu.Lock()
	sess, ok := o.sessions[gameID]
	o.mu.Unlock()
	if ok {
		return sess.AllFinished()
	}
	return o.store.HasScores(gameID)
}

// onComplete убирает игру из реестра; артефакты на диске остаются
func (o *Orchestrator) onComplete(gameID uint64) {
	o.mu.Lock()
	_, existed := o.games[gameID]
	delete(o.games, gameID)
	delete(o.workers, gameID)
	delete(o.nextTick, gameID)
	o.phases[gameID] = domain.PhaseComplete
	if existed {
		o.completedCount++
		metrics.GamesCompleted.Inc()
	}
	metrics.RegistrySize.Set(float64(len(o.games)))
	_, serverRunning := o.servers[gameID]
	o.mu.Unlock()

	if serverRunning {
		o.stopServerDelayed(gameID, serverShutdownDelay)
	}

	logger.Info("игра завершена и снята с учета", "gameId", gameID)
}

// Stats - сводка для /healthz
type Stats struct {
	Games          int   `json:"games"`
	ActiveServers  int   `json:"activeServers"`
	CompletedCount int64 `json:"completedCount"`
}

// Stats возвращает сводку состояния оркестратора
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Games:          len(o.games),
		ActiveServers:  len(o.servers),
		CompletedCount: o.completedCount,
	}
}

// shutdown - кооперативная остановка по сигналу: снять отложенные
// задачи, сохранить живые результаты, закрыть слушатели
func (o *Orchestrator) shutdown() {
	log := logger.Get()
	log.Info("остановка оркестратора...")

	o.mu.Lock()
	for _, t := range o.timers {
		t.Stop()
	}
	servers := make(map[uint64]GameServer, len(o.servers))
	for id, srv := range o.servers {
		servers[id] = srv
	}
	sessions := make(map[uint64]*session.Session, len(o.sessions))
	for id, sess := range o.sessions {
		sessions[id] = sess
	}
	o.mu.Unlock()

	for id, sess := range sessions {
		if err := o.store.SaveScores(id, sess.Snapshot()); err != nil {
			log.Error("не удалось сохранить результаты при остановке", "gameId", id, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for id, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("ошибка остановки сервера игры", "gameId", id, "error", err)
		}
	}

	log.Info("оркестратор остановлен", "completed", o.completedCount)
}
