package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"scriptgame_gamemaster/internal/domain"
	"scriptgame_gamemaster/internal/gamemap"
	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// длительность игры по настенным часам
const GameDuration = 90 * time.Second

// игровые ошибки; текст уходит клиенту как есть со статусом 400
var (
	ErrInvalidDirection = errors.New("Invalid direction")
	ErrNoMovesRemaining = errors.New("No moves remaining!")
	ErrNoMinesRemaining = errors.New("No mines remaining!")
	ErrTileDepleted     = errors.New("This tile is already depleted!")
	ErrTimerExpired     = errors.New("Time expired! Game over.")
	ErrPlayerNotFound   = errors.New("Player not found")
)

// смещения по направлениям; y растет на юг
var directions = map[string][2]int{
	"north":     {0, -1},
	"south":     {0, 1},
	"east":      {1, 0},
	"west":      {-1, 0},
	"northeast": {1, -1},
	"northwest": {-1, -1},
	"southeast": {1, 1},
	"southwest": {-1, 1},
}

// пороги предупреждений об остатке времени, по одному логу на порог
var warnThresholds = []time.Duration{60 * time.Second, 30 * time.Second, 10 * time.Second, 5 * time.Second}

// Session - in-memory состояние одной запущенной игры: карта,
// игроки, бюджеты ходов/добычи и таймер. Все мутации под одним
// мьютексом сессии, HTTP-обработчики не могут потратить ход дважды.
type Session struct {
	gameID uint64
	m      *gamemap.Map

	mu      sync.Mutex
	players map[string]*domain.Player // ключ - адрес в нижнем регистре

	startedAt time.Time
	endsAt    time.Time
	expired   bool

	timer    *time.Timer
	stopWarn chan struct{}
	started  bool
}

// New создает сессию: каждому игроку назначается детерминированная
// стартовая клетка из random hash, бюджеты 12 ходов и 3 добычи
func New(gameID uint64, m *gamemap.Map, randomHash common.Hash, players []common.Address) *Session {
	s := &Session{
		gameID:   gameID,
		m:        m,
		players:  make(map[string]*domain.Player, len(players)),
		stopWarn: make(chan struct{}),
	}

	for _, addr := range players {
		key := strings.ToLower(addr.Hex())
		s.players[key] = &domain.Player{
			Address:        addr.Hex(),
			Position:       gamemap.StartingCell(randomHash, addr, gameID, m.Size),
			Score:          0,
			MovesRemaining: domain.MaxMoves,
			MinesRemaining: domain.MaxMines,
		}
	}

	return s
}

// Start взводит таймер игры и предупреждения об остатке времени
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.startedAt = time.Now()
	s.endsAt = s.startedAt.Add(GameDuration)

	s.timer = time.AfterFunc(GameDuration, s.expireAll)
	go s.warnLoop(s.endsAt)

	logger.Info("игровая сессия запущена", "gameId", s.gameID, "players", len(s.players), "mapSize", s.m.Size)
}

// Stop снимает таймер и предупреждения (остановка сервера)
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	select {
	case <-s.stopWarn:
	default:
		close(s.stopWarn)
	}
}

// ExpireNow завершает игру немедленно, как если бы таймер истек
func (s *Session) ExpireNow() {
	s.mu.Lock()
	t := s.timer
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	s.expireAll()
}

// expireAll срабатывает по таймеру: все бюджеты обнуляются сразу
func (s *Session) expireAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.expired = true
	for _, p := range s.players {
		p.MovesRemaining = 0
		p.MinesRemaining = 0
	}
	logger.Info("время игры вышло", "gameId", s.gameID)
}

func (s *Session) warnLoop(endsAt time.Time) {
	for _, threshold := range warnThresholds {
		wait := time.Until(endsAt) - threshold
		if wait < 0 {
			continue
		}
		select {
		case <-time.After(wait):
			logger.Warn("осталось мало времени", "gameId", s.gameID, "remaining", threshold)
		case <-s.stopWarn:
			return
		}
	}
}

// GameID возвращает идентификатор игры
func (s *Session) GameID() uint64 {
	return s.gameID
}

// StartedAt возвращает момент старта сессии
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// TimeRemaining возвращает остаток времени игры, не меньше нуля
func (s *Session) TimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeRemainingLocked()
}

func (s *Session) timeRemainingLocked() time.Duration {
	if !s.started || s.expired {
		return 0
	}
	r := time.Until(s.endsAt)
	if r < 0 {
		return 0
	}
	return r
}

func (s *Session) timerExpiredLocked() bool {
	return s.expired || (s.started && time.Now().After(s.endsAt))
}

// PlayerCount возвращает число игроков сессии
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// IsPlayer сообщает, зарегистрирован ли адрес в этой игре
func (s *Session) IsPlayer(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[strings.ToLower(addr)]
	return ok
}

// ViewCell - одна клетка окна обзора
type ViewCell struct {
	Tile        int             `json:"tile"`
	Player      string          `json:"player,omitempty"`
	Coordinates domain.Position `json:"coordinates"`
}

// PlayerView - окно 3x3 вокруг игрока и его статистика
type PlayerView struct {
	Window         [][]ViewCell    `json:"view"`
	Position       domain.Position `json:"position"`
	Tile           int             `json:"tile"`
	Score          int64           `json:"score"`
	MovesRemaining int             `json:"movesRemaining"`
	MinesRemaining int             `json:"minesRemaining"`
}

// View возвращает окно 3x3 с центром на позиции игрока
func (s *Session) View(addr string) (*PlayerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[strings.ToLower(addr)]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return s.viewLocked(p), nil
}

func (s *Session) viewLocked(p *domain.Player) *PlayerView {
	// позиции других игроков для пометки клеток
	occupied := make(map[domain.Position]string, len(s.players))
	for _, other := range s.players {
		occupied[other.Position] = other.Address
	}

	window := make([][]ViewCell, 3)
	for dy := -1; dy <= 1; dy++ {
		row := make([]ViewCell, 3)
		for dx := -1; dx <= 1; dx++ {
			pos := domain.Position{
				X: gamemap.Wrap(p.Position.X+dx, s.m.Size),
				Y: gamemap.Wrap(p.Position.Y+dy, s.m.Size),
			}
			row[dx+1] = ViewCell{
				Tile:        s.m.TileAt(pos),
				Player:      occupied[pos],
				Coordinates: pos,
			}
		}
		window[dy+1] = row
	}

	return &PlayerView{
		Window:         window,
		Position:       p.Position,
		Tile:           s.m.TileAt(p.Position),
		Score:          p.Score,
		MovesRemaining: p.MovesRemaining,
		MinesRemaining: p.MinesRemaining,
	}
}

// Move перемещает игрока в одном из восьми направлений с заворотом
// по тору и списывает ход
func (s *Session) Move(addr, direction string) (*PlayerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[strings.ToLower(addr)]
	if !ok {
		return nil, ErrPlayerNotFound
	}

	delta, ok := directions[strings.ToLower(strings.TrimSpace(direction))]
	if !ok {
		return nil, ErrInvalidDirection
	}

	if s.timerExpiredLocked() {
		return nil, ErrTimerExpired
	}
	if p.MovesRemaining <= 0 {
		return nil, ErrNoMovesRemaining
	}

	p.Position = domain.Position{
		X: gamemap.Wrap(p.Position.X+delta[0], s.m.Size),
		Y: gamemap.Wrap(p.Position.Y+delta[1], s.m.Size),
	}
	p.MovesRemaining--

	return s.viewLocked(p), nil
}

// Mine добывает текущую клетку: очки по типу клетки, клетка
// истощается, списывается одна добыча
func (s *Session) Mine(addr string) (int64, *PlayerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[strings.ToLower(addr)]
	if !ok {
		return 0, nil, ErrPlayerNotFound
	}

	if s.timerExpiredLocked() {
		return 0, nil, ErrTimerExpired
	}
	if p.MinesRemaining <= 0 {
		return 0, nil, ErrNoMinesRemaining
	}

	tile := s.m.TileAt(p.Position)
	if tile == gamemap.LandDepleted {
		return 0, nil, ErrTileDepleted
	}

	points := gamemap.TilePoints[tile]
	p.Score += points
	p.MinesRemaining--
	s.m.SetTile(p.Position, gamemap.LandDepleted)

	return points, s.viewLocked(p), nil
}

// Snapshot возвращает итоговые записи всех игроков для артефакта
// scores и эндпоинта /players
func (s *Session) Snapshot() []store.PlayerScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.PlayerScore, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, store.PlayerScore{
			Address:        p.Address,
			Position:       p.Position,
			Tile:           s.m.TileAt(p.Position),
			Score:          p.Score,
			MovesRemaining: p.MovesRemaining,
			MinesRemaining: p.MinesRemaining,
		})
	}
	return out
}

// AllFinished - условие конца игры: игрок закончил, когда у него
// нет добычи либо нет ходов и текущая клетка истощена. Для игры
// без игроков условие выполняется тривиально.
func (s *Session) AllFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		finished := p.MinesRemaining == 0 ||
			(p.MovesRemaining == 0 && s.m.TileAt(p.Position) == gamemap.LandDepleted)
		if !finished {
			return false
		}
	}
	return true
}
