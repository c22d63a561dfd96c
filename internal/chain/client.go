package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"scriptgame_gamemaster/internal/logger"
	"scriptgame_gamemaster/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// окно хранения хэшей блоков на целевой сети и наш консервативный
// порог: при возрасте коммита от MaxCommitAge блоков игра считается
// невосстановимой
const (
	BlockHashRetention = 256
	MaxCommitAge       = 240
)

const (
	receiptTimeout  = 2 * time.Minute
	receiptPollStep = 2 * time.Second
)

// Client - типизированная обертка над RPC для операций геймастера.
// Чтения безопасны для конкурентного вызова; записи сериализуются
// по играм самим state machine, но nonce аккаунта общий, поэтому
// отправка транзакций под мьютексом.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int

	key  *ecdsa.PrivateKey
	from common.Address

	txMu sync.Mutex
}

// NewClient подключается к RPC и готовит ключ геймастера
func NewClient(rpcURL string, contract common.Address, chainID int64, privKeyHex string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к RPC: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("разбор ABI контракта: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("разбор ключа геймастера: %w", err)
	}

	return &Client{
		eth:      eth,
		contract: contract,
		abi:      parsed,
		chainID:  big.NewInt(chainID),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Gamemaster возвращает адрес, которым демон подписывает транзакции
func (c *Client) Gamemaster() common.Address {
	return c.from
}

// Contract возвращает адрес игрового контракта
func (c *Client) Contract() common.Address {
	return c.contract
}

// BlockNumber возвращает номер последнего блока
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("чтение номера блока: %w", err)
	}
	return n, nil
}

// Balance возвращает баланс счета геймастера
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, c.from, nil)
}

// GameInfo - базовое состояние игры в контракте
type GameInfo struct {
	Gamemaster  common.Address
	Creator     common.Address
	StakeAmount *big.Int
	Open        bool
	PlayerCount int
	HasOpened   bool
	HasClosed   bool
}

// CommitRevealState - 8-полевое состояние commit-reveal
type CommitRevealState struct {
	CommittedHash      common.Hash
	CommitBlockNumber  uint64
	RevealValue        common.Hash
	RandomHash         common.Hash
	HasCommitted       bool
	HasRevealed        bool
	HasStoredBlockHash bool
	MapSize            int
}

// PayoutInfo - состояние выплаты
type PayoutInfo struct {
	Winners      []common.Address
	PayoutAmount *big.Int
	HasPaidOut   bool
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("упаковка вызова %s: %w", method, err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("вызов %s: %w", method, err))
	}

	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("распаковка ответа %s: %w", method, err)
	}
	return out, nil
}

// GetGameInfo читает базовое состояние игры
func (c *Client) GetGameInfo(ctx context.Context, gameID uint64) (*GameInfo, error) {
	out, err := c.call(ctx, "getGameInfo", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	return &GameInfo{
		Gamemaster:  out[0].(common.Address),
		Creator:     out[1].(common.Address),
		StakeAmount: out[2].(*big.Int),
		Open:        out[3].(bool),
		PlayerCount: int(out[4].(*big.Int).Int64()),
		HasOpened:   out[5].(bool),
		HasClosed:   out[6].(bool),
	}, nil
}

// GetCommitRevealState читает состояние commit-reveal
func (c *Client) GetCommitRevealState(ctx context.Context, gameID uint64) (*CommitRevealState, error) {
	out, err := c.call(ctx, "getCommitRevealState", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	return &CommitRevealState{
		CommittedHash:      common.Hash(out[0].([32]byte)),
		CommitBlockNumber:  out[1].(*big.Int).Uint64(),
		RevealValue:        common.Hash(out[2].([32]byte)),
		RandomHash:         common.Hash(out[3].([32]byte)),
		HasCommitted:       out[4].(bool),
		HasRevealed:        out[5].(bool),
		HasStoredBlockHash: out[6].(bool),
		MapSize:            int(out[7].(*big.Int).Int64()),
	}, nil
}

// GetPayoutInfo читает состояние выплаты
func (c *Client) GetPayoutInfo(ctx context.Context, gameID uint64) (*PayoutInfo, error) {
	out, err := c.call(ctx, "getPayoutInfo", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	return &PayoutInfo{
		Winners:      out[0].([]common.Address),
		PayoutAmount: out[1].(*big.Int),
		HasPaidOut:   out[2].(bool),
	}, nil
}

// GetPlayers читает список зарегистрированных игроков
func (c *Client) GetPlayers(ctx context.Context, gameID uint64) ([]common.Address, error) {
	out, err := c.call(ctx, "getPlayers", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

// GetCommitBlockHash читает сохраненный хэш блока коммита.
// Возвращает ErrBlockHashUnavailable, когда блок старше окна хранения.
func (c *Client) GetCommitBlockHash(ctx context.Context, gameID uint64) (common.Hash, error) {
	out, err := c.call(ctx, "getCommitBlockHash", new(big.Int).SetUint64(gameID))
	if err != nil {
		return common.Hash{}, err
	}
	h := common.Hash(out[0].([32]byte))
	if h == (common.Hash{}) {
		return common.Hash{}, ErrBlockHashUnavailable
	}
	return h, nil
}

// IsBlockHashAvailable - явная проверка доступности хэша блока
// вместо вызова-в-try/catch
func (c *Client) IsBlockHashAvailable(ctx context.Context, gameID uint64) bool {
	_, err := c.GetCommitBlockHash(ctx, gameID)
	return err == nil
}

// CommitHash публикует keccak256(reveal)
func (c *Client) CommitHash(ctx context.Context, gameID uint64, hash common.Hash) (*types.Receipt, error) {
	return c.transact(ctx, "commitHash", new(big.Int).SetUint64(gameID), [32]byte(hash))
}

// StoreCommitBlockHash фиксирует хэш блока коммита и публикует URL сервера игры
func (c *Client) StoreCommitBlockHash(ctx context.Context, gameID uint64, serverURL string) (*types.Receipt, error) {
	return c.transact(ctx, "storeCommitBlockHash", new(big.Int).SetUint64(gameID), serverURL)
}

// RevealHash раскрывает секрет
func (c *Client) RevealHash(ctx context.Context, gameID uint64, reveal [32]byte) (*types.Receipt, error) {
	return c.transact(ctx, "revealHash", new(big.Int).SetUint64(gameID), reveal)
}

// Payout отправляет выплату победителям
func (c *Client) Payout(ctx context.Context, gameID uint64, winners []common.Address) (*types.Receipt, error) {
	return c.transact(ctx, "payout", new(big.Int).SetUint64(gameID), winners)
}

func (c *Client) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("упаковка %s: %w", method, err)
	}

	signed, err := c.sendSigned(ctx, method, data)
	if err != nil {
		metrics.ChainTxErrors.WithLabelValues(method).Inc()
		return nil, err
	}

	receipt, err := c.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		metrics.ChainTxErrors.WithLabelValues(method).Inc()
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.ChainTxErrors.WithLabelValues(method).Inc()
		return nil, &RevertError{Detail: fmt.Sprintf("%s: статус %d, tx %s", method, receipt.Status, signed.Hash())}
	}

	logger.Debug("транзакция подтверждена", "method", method, "tx", signed.Hash().Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

// sendSigned держит общий nonce аккаунта под мьютексом
func (c *Client) sendSigned(ctx context.Context, method string, data []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, classify(fmt.Errorf("чтение nonce: %w", err))
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("чтение цены газа: %w", err))
	}

	// оценка газа выполняет вызов на узле и отдает причину ревёрта до отправки
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("оценка газа %s: %w", method, err))
	}
	gasLimit += gasLimit / 5

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("подпись %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, classify(fmt.Errorf("отправка %s: %w", method, err))
	}

	logger.Info("транзакция отправлена", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed, nil
}

// waitForReceipt опрашивает квитанцию с общим таймаутом;
// таймаут трактуется как ретраибельный Reverted
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	for {
		receipt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, &RevertError{Detail: fmt.Sprintf("таймаут ожидания квитанции %s", txHash)}
		case <-time.After(receiptPollStep):
		}
	}
}
