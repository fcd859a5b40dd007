package correlation

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Ошибки реестра корреляции
var (
	// ErrExpiredStorage слот уже освобожден ожидающей стороной
	ErrExpiredStorage = errors.New("storage has expired")
	// ErrCorruptStorage тип значения не совпадает с типом слота
	ErrCorruptStorage = errors.New("storage is corrupted")
	// ErrCorrelationTimeout движок не ответил в отведенное время
	ErrCorrelationTimeout = errors.New("correlation timeout")
	// ErrDiscarded слот сброшен до разрешения
	ErrDiscarded = errors.New("result discarded before resolution")
	// ErrKeySpaceExhausted нет свободных ключей
	ErrKeySpaceExhausted = errors.New("correlation key space exhausted")
)

// CorruptStorageError описывает несовпадение типов при разрешении.
type CorruptStorageError struct {
	Key      Key
	Expected reflect.Type
	Got      reflect.Type
}

func (e *CorruptStorageError) Error() string {
	return fmt.Sprintf("key %#08x: storage is corrupted: slot holds %v, resolved with %v", uint32(e.Key), e.Expected, e.Got)
}

func (e *CorruptStorageError) Is(target error) bool {
	return target == ErrCorruptStorage
}

// TimeoutError возвращается Wait по истечении бюджета.
type TimeoutError struct {
	Key     Key
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("key %#08x: no reply within %v", uint32(e.Key), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrCorrelationTimeout
}

// IsTimeout проверяет, является ли ошибка таймаутом корреляции.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCorrelationTimeout)
}

// IsExpired проверяет, истек ли слот.
func IsExpired(err error) bool {
	return errors.Is(err, ErrExpiredStorage)
}
