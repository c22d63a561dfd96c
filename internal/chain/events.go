package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"scriptgame_gamemaster/internal/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// вид события контракта
type EventKind string

const (
	EventGameCreated   EventKind = "GameCreated"
	EventGameOpened    EventKind = "GameOpened"
	EventGameClosed    EventKind = "GameClosed"
	EventHashCommitted EventKind = "HashCommitted"
)

// GameEvent - разобранная запись события контракта
type GameEvent struct {
	Kind        EventKind
	GameID      uint64
	Gamemaster  common.Address // только GameCreated
	Creator     common.Address // только GameCreated
	StakeAmount *big.Int       // только GameCreated
	PlayerCount int            // только GameClosed
	BlockNumber uint64
}

// FilterGameCreated - ограниченный исторический скан GameCreated
// от genesis для первичного обнаружения игр этого геймастера
func (c *Client) FilterGameCreated(ctx context.Context, gamemaster common.Address, fromBlock uint64) ([]GameEvent, error) {
	createdID := c.abi.Events["GameCreated"].ID

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{createdID},
			nil,
			{common.BytesToHash(gamemaster.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("исторический скан GameCreated: %w", err)
	}

	events := make([]GameEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.parseLog(lg)
		if err != nil {
			logger.Warn("пропуск нераспознанного лога", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// parseLog разбирает лог контракта в GameEvent
func (c *Client) parseLog(lg types.Log) (*GameEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("лог без топиков")
	}

	ev := &GameEvent{BlockNumber: lg.BlockNumber}

	switch lg.Topics[0] {
	case c.abi.Events["GameCreated"].ID:
		if len(lg.Topics) < 4 {
			return nil, fmt.Errorf("GameCreated: мало топиков")
		}
		ev.Kind = EventGameCreated
		ev.GameID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		ev.Gamemaster = common.BytesToAddress(lg.Topics[2].Bytes())
		ev.Creator = common.BytesToAddress(lg.Topics[3].Bytes())
		if len(lg.Data) >= 32 {
			ev.StakeAmount = new(big.Int).SetBytes(lg.Data[:32])
		} else {
			ev.StakeAmount = new(big.Int)
		}

	case c.abi.Events["GameOpened"].ID:
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("GameOpened: мало топиков")
		}
		ev.Kind = EventGameOpened
		ev.GameID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()

	case c.abi.Events["GameClosed"].ID:
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("GameClosed: мало топиков")
		}
		ev.Kind = EventGameClosed
		ev.GameID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		if len(lg.Data) >= 32 {
			ev.PlayerCount = int(new(big.Int).SetBytes(lg.Data[:32]).Int64())
		}

	case c.abi.Events["HashCommitted"].ID:
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("HashCommitted: мало топиков")
		}
		ev.Kind = EventHashCommitted
		ev.GameID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()

	default:
		return nil, fmt.Errorf("неизвестный топик %s", lg.Topics[0].Hex())
	}

	return ev, nil
}

// EventWatcher опрашивает логи контракта и доставляет живые события
// GameCreated/GameOpened/GameClosed/HashCommitted оркестратору
type EventWatcher struct {
	client     *Client
	gamemaster common.Address
	interval   time.Duration
	handler    func(GameEvent)

	lastBlock uint64
	stop      chan struct{}
	running   bool
	mu        sync.Mutex
}

// NewEventWatcher создает watcher; fromBlock - последний уже
// обработанный блок (исторический скан покрывает все до него)
func NewEventWatcher(client *Client, gamemaster common.Address, fromBlock uint64, interval time.Duration, handler func(GameEvent)) *EventWatcher {
	return &EventWatcher{
		client:     client,
		gamemaster: gamemaster,
		interval:   interval,
		handler:    handler,
		lastBlock:  fromBlock,
		stop:       make(chan struct{}),
	}
}

// Start запускает watcher в фоновом режиме
func (w *EventWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	log := logger.Get()
	log.Info("запуск event watcher", "contract", w.client.Contract().Hex(), "interval", w.interval)

	// первоначальная проверка
	w.poll()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stop:
			log.Info("остановка event watcher")
			return
		}
	}
}

// Stop останавливает watcher
func (w *EventWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stop)
		w.running = false
	}
}

func (w *EventWatcher) poll() {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := w.client.BlockNumber(ctx)
	if err != nil {
		log.Error("event watcher: ошибка чтения номера блока", "error", err)
		return
	}
	if current <= w.lastBlock {
		return
	}

	c := w.client
	topics := []common.Hash{
		c.abi.Events["GameCreated"].ID,
		c.abi.Events["GameOpened"].ID,
		c.abi.Events["GameClosed"].ID,
		c.abi.Events["HashCommitted"].ID,
	}

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(current),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		log.Error("event watcher: ошибка чтения логов", "error", err, "from", w.lastBlock+1, "to", current)
		return
	}

	for _, lg := range logs {
		ev, err := c.parseLog(lg)
		if err != nil {
			log.Warn("event watcher: пропуск лога", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		// чужие игры не интересны
		if ev.Kind == EventGameCreated && ev.Gamemaster != w.gamemaster {
			continue
		}
		w.handler(*ev)
	}

	w.lastBlock = current
}
