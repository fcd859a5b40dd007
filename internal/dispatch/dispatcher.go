// Package dispatch маршрутизирует асинхронные результаты команд движка.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/metrics"
	"github.com/annel0/mmo-overlay/internal/model"
)

// ErrUnhandledOpcode таблица команд и таблица обработчиков разошлись
var ErrUnhandledOpcode = errors.New("unhandled opcode")

// UnhandledOpcodeError успешный результат команды без обработчика
type UnhandledOpcodeError struct {
	Opcode engine.Opcode
	Key    correlation.Key
}

func (e *UnhandledOpcodeError) Error() string {
	return fmt.Sprintf("unhandled function %04X (%s), key %08X", uint16(e.Opcode), e.Opcode, uint32(e.Key))
}

func (e *UnhandledOpcodeError) Is(target error) bool {
	return target == ErrUnhandledOpcode
}

// HandlerFunc обработчик успешного результата. h: слот ожидания, если
// команда возвращает значение; иначе нулевой Handle.
type HandlerFunc func(ctx context.Context, h correlation.Handle, res engine.Result) error

// keyMode действие с ключом корреляции до маршрутизации
type keyMode uint8

const (
	keyDiscard keyMode = iota // аренда снимается сразу
	keyPoll                   // слот значения, остается до разрешения
	keySelf                   // обработчик сам опрашивает ключ
)

var keyModes = map[engine.Opcode]keyMode{
	engine.OpForceRespawn:           keyPoll,
	engine.OpRemoveAllItemsEx:       keyPoll,
	engine.OpScanContainer:          keyPoll,
	engine.OpCenterOnCell:           keyPoll,
	engine.OpCenterOnExterior:       keyPoll,
	engine.OpPlaceAtMe:              keyPoll,
	engine.OpPlaceAtMeHealthPercent: keyPoll,
	engine.OpGetCauseOfDeath:        keyPoll,
	engine.OpGetRefCount:            keyPoll,
	engine.OpGetBaseObject:          keyPoll,
	engine.OpCenterOnWorld:          keyPoll,
	engine.OpLoad:                   keyPoll,

	engine.OpIsLimbGone:  keySelf,
	engine.OpGetFirstRef: keySelf,
	engine.OpGetNextRef:  keySelf,
}

// Команды без полезного результата
var silentOps = []engine.Opcode{
	engine.OpEnable, engine.OpDisable, engine.OpMarkForDelete, engine.OpMoveTo,
	engine.OpSetPos, engine.OpSetAngle,
	engine.OpSetActorValue, engine.OpForceActorValue, engine.OpPlayGroup,
	engine.OpSetAlert, engine.OpSetForceSneak, engine.OpKill, engine.OpFireWeapon,
	engine.OpMatchRace, engine.OpSetSex, engine.OpAgeRace, engine.OpSetRestrained,
	engine.OpAddItem, engine.OpRemoveItem, engine.OpEquipItem, engine.OpUnequipItem,
	engine.OpSetRefCount, engine.OpLock, engine.OpUnlock, engine.OpSetOwnership, engine.OpSetName,
	engine.OpDisableControl, engine.OpEnableControl,
	engine.OpDisablePlayerControls, engine.OpEnablePlayerControls,
	engine.OpUIMessage, engine.OpChatMessage, engine.OpSetGlobalValue, engine.OpForceWeather,
}

// DefaultMaxRetries повторы размещения до отказа
const DefaultMaxRetries = 5

// Dispatcher маршрутизирует результаты: разрешает слоты реестра или
// вызывает обработчики, изменяющие сетевую модель.
type Dispatcher struct {
	reg    *correlation.Registry
	bridge engine.Bridge
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[engine.Opcode]HandlerFunc

	retryMu sync.Mutex
	retries map[correlation.Key]int

	// MaxRetries повторов PlaceAtMe на один ключ
	MaxRetries int
	// Fatal вызывается при расхождении таблиц; по умолчанию завершает процесс
	Fatal func(err error)
}

// New создает диспетчер со встроенными разрешениями значений
func New(reg *correlation.Registry, bridge engine.Bridge, logger *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		reg:        reg,
		bridge:     bridge,
		logger:     logger,
		handlers:   make(map[engine.Opcode]HandlerFunc),
		retries:    make(map[correlation.Key]int),
		MaxRetries: DefaultMaxRetries,
	}
	d.Fatal = d.defaultFatal

	for _, op := range silentOps {
		d.handlers[op] = accept
	}

	placed := resolver(func(res engine.Result) interest.Ref { return interest.Ref(uint32(res.Value)) })
	d.handlers[engine.OpPlaceAtMe] = placed
	d.handlers[engine.OpPlaceAtMeHealthPercent] = placed
	d.handlers[engine.OpGetCauseOfDeath] = resolver(func(res engine.Result) int8 { return int8(res.Value) })
	d.handlers[engine.OpGetRefCount] = resolver(func(res engine.Result) uint32 { return uint32(res.Value) })
	d.handlers[engine.OpGetBaseObject] = resolver(func(res engine.Result) model.BaseID { return model.BaseID(uint32(res.Value)) })

	done := resolver(func(engine.Result) bool { return true })
	for _, op := range []engine.Opcode{engine.OpCenterOnCell, engine.OpCenterOnExterior, engine.OpCenterOnWorld, engine.OpForceRespawn, engine.OpLoad} {
		d.handlers[op] = done
	}
	return d
}

func accept(context.Context, correlation.Handle, engine.Result) error { return nil }

// resolver разрешает слот значением, извлеченным из результата
func resolver[T any](conv func(engine.Result) T) HandlerFunc {
	return func(ctx context.Context, h correlation.Handle, res engine.Result) error {
		if res.Key == 0 {
			return nil
		}
		return correlation.Resolve(h, conv(res))
	}
}

// Handle регистрирует обработчик команды, заменяя встроенный
func (d *Dispatcher) Handle(op engine.Opcode, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[op] = fn
}

func (d *Dispatcher) handler(op engine.Opcode) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[op]
	return fn, ok
}

// Dispatch обрабатывает один результат движка
func (d *Dispatcher) Dispatch(ctx context.Context, res engine.Result) error {
	if res.Failed {
		metrics.DispatchResults.WithLabelValues(res.Opcode.String(), "failed").Inc()
		return d.fail(ctx, res)
	}

	fn, ok := d.handler(res.Opcode)
	if !ok {
		metrics.DispatchResults.WithLabelValues(res.Opcode.String(), "unhandled").Inc()
		return &UnhandledOpcodeError{Opcode: res.Opcode, Key: res.Key}
	}
	metrics.DispatchResults.WithLabelValues(res.Opcode.String(), "ok").Inc()

	var h correlation.Handle
	if res.Key != 0 {
		switch keyModes[res.Opcode] {
		case keyPoll:
			h = d.reg.Poll(res.Key, false)
		case keySelf:
		default:
			d.reg.Discard(res.Key)
		}
		d.forgetRetries(res.Key)
	}

	err := fn(ctx, h, res)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, correlation.ErrExpiredStorage):
		d.logger.Debug("%s: ключ %08X уже не ожидается: %v", res.Opcode, uint32(res.Key), err)
		return nil
	default:
		return fmt.Errorf("%s: %w", res.Opcode, err)
	}
}

// fail поглощает отказ; повторяется только размещение
func (d *Dispatcher) fail(ctx context.Context, res engine.Result) error {
	d.logger.Debug("Команда %s отклонена движком (key %08X, args %v)", res.Opcode, uint32(res.Key), res.Args)

	switch res.Opcode {
	case engine.OpPlaceAtMe, engine.OpPlaceAtMeHealthPercent:
		if d.retry(res.Key) {
			params := make([]any, len(res.Args))
			for i, a := range res.Args {
				params[i] = a
			}
			return d.bridge.Issue(ctx, engine.Command{Opcode: res.Opcode, Params: params, Key: res.Key})
		}
		d.logger.Warn("⚠️ %s: исчерпаны повторы для ключа %08X", res.Opcode, uint32(res.Key))
	}

	if res.Key != 0 {
		d.reg.Discard(res.Key)
	}
	return nil
}

func (d *Dispatcher) retry(key correlation.Key) bool {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	d.retries[key]++
	if d.retries[key] > d.MaxRetries {
		delete(d.retries, key)
		return false
	}
	return true
}

func (d *Dispatcher) forgetRetries(key correlation.Key) {
	d.retryMu.Lock()
	delete(d.retries, key)
	d.retryMu.Unlock()
}

// Run читает результаты до закрытия канала или отмены контекста.
// Расхождение таблиц команд прерывает цикл через Fatal.
func (d *Dispatcher) Run(ctx context.Context, results <-chan engine.Result) error {
	d.logger.Info("🚀 Диспетчер результатов запущен")
	defer d.logger.Info("🛑 Диспетчер результатов остановлен")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return nil
			}
			err := d.Dispatch(ctx, res)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrUnhandledOpcode) {
				d.Fatal(err)
				return err
			}
			if errors.Is(err, correlation.ErrCorruptStorage) {
				d.logger.Error("❌ %v", err)
				continue
			}
			d.logger.Warn("⚠️ %v", err)
		}
	}
}

func (d *Dispatcher) defaultFatal(err error) {
	d.logger.Error("❌ %v\n%s", err, debug.Stack())
	os.Exit(1)
}
