package chain

import (
	"errors"
	"fmt"
	"strings"
)

// таксономия ошибок контракта; state machine выбирает политику
// ретраев по конкретной ошибке
var (
	// транзиентные: повторяются с backoff'ом фазы
	ErrBlockNotReady     = errors.New("блок коммита еще не доступен")
	ErrInsufficientFunds = errors.New("недостаточно средств на счете геймастера")

	// ErrBlockHashUnavailable при фиксации хэша блока помечает игру
	// истекшей, при раскрытии - пропуск после одного повтора;
	// ErrNotAuthorized отдельной политики не имеет и повторяется,
	// как прочие ошибки фазы
	ErrBlockHashUnavailable = errors.New("хэш блока коммита вне окна хранения")
	ErrNotAuthorized        = errors.New("операция не разрешена для этого ключа")
)

// RevertError - откат транзакции с деталью; по умолчанию ретраится
type RevertError struct {
	Detail string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("транзакция откатилась: %s", e.Detail)
}

// classify приводит ошибку RPC/ревёрта к таксономии по тексту.
// Узлы отдают причину ревёрта строкой, единых кодов нет.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ErrInsufficientFunds
	case strings.Contains(msg, "block not ready"),
		strings.Contains(msg, "commit block not reached"):
		return ErrBlockNotReady
	case strings.Contains(msg, "block hash unavailable"),
		strings.Contains(msg, "blockhash not available"),
		strings.Contains(msg, "block hash expired"):
		return ErrBlockHashUnavailable
	case strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "only gamemaster"),
		strings.Contains(msg, "unauthorized"):
		return ErrNotAuthorized
	default:
		return &RevertError{Detail: err.Error()}
	}
}
