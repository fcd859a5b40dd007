package game

import (
	"errors"
	"fmt"

	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/model"
)

var (
	// ErrUnknownReference движок сообщил о ссылке, которой нет в модели
	ErrUnknownReference = errors.New("unknown reference")
	// ErrBoundItem предмет принадлежит контейнеру и не размещается отдельно
	ErrBoundItem = errors.New("item is bound to a container")
	// ErrNoPlayer объект игрока еще не создан
	ErrNoPlayer = errors.New("player object is not created")
	// ErrUnknownFormType форму нельзя сопоставить категории индекса
	ErrUnknownFormType = errors.New("unknown form type")
	// ErrUnknownObject сервер прислал пакет об объекте, которого нет в модели
	ErrUnknownObject = errors.New("unknown object")
	// ErrWrongKind пакет не применим к типу объекта
	ErrWrongKind = errors.New("packet does not apply to object kind")
)

// OperationError ошибка блокирующей операции клиента с контекстом объекта
type OperationError struct {
	Op  string
	ID  model.NetworkID
	Ref interest.Ref
	Err error
}

func (e *OperationError) Error() string {
	switch {
	case e.ID != 0:
		return fmt.Sprintf("%s of %#x failed: %v", e.Op, uint64(e.ID), e.Err)
	case e.Ref != 0:
		return fmt.Sprintf("%s of ref %08X failed: %v", e.Op, uint32(e.Ref), e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *OperationError) Unwrap() error { return e.Err }
