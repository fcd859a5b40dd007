// Package game клиент оверлея: проецирует сетевую модель в движок и
// превращает ответы движка в сетевые пакеты.
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-overlay/internal/config"
	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/observability"
	"github.com/annel0/mmo-overlay/internal/reconcile"
	"github.com/annel0/mmo-overlay/internal/transport"
)

// Client состояние клиента поверх одного моста движка
type Client struct {
	factory  *model.Factory
	reg      *correlation.Registry
	index    *interest.Index
	bridge   engine.Bridge
	out      transport.Broadcaster
	recon    *reconcile.Reconciler
	timeouts config.Timeouts
	logger   *logging.Logger
	tracer   trace.Tracer

	races *BaseRaceCache
	ui    uiState
	fire  autoFire

	scansMu sync.Mutex
	scans   map[correlation.Key]*scanContext

	envMu      sync.Mutex
	globals    map[uint32]int32
	weather    uint32
	playerBase model.BaseID
	spawn      func(ctx context.Context) error
	lastSave   string

	quit     chan struct{}
	quitOnce sync.Once

	// RespawnDelay пауза после ForceRespawn перед пересозданием окружения
	RespawnDelay time.Duration

	wg sync.WaitGroup
}

// New создает клиента. Сверщик контейнеров создается здесь же и
// использует клиента как источник блокирующих запросов к сцене.
func New(factory *model.Factory, index *interest.Index, bridge engine.Bridge, out transport.Broadcaster, cfg *config.Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Client{
		factory:      factory,
		reg:          factory.Registry(),
		index:        index,
		bridge:       bridge,
		out:          out,
		timeouts:     cfg.Engine.Timeouts,
		logger:       logger,
		tracer:       observability.Tracer("game"),
		races:        NewBaseRaceCache(),
		ui:           newUIState(),
		fire:         autoFire{loops: make(map[model.NetworkID]context.CancelFunc)},
		scans:        make(map[correlation.Key]*scanContext),
		globals:      make(map[uint32]int32),
		quit:         make(chan struct{}),
		RespawnDelay: time.Second,
	}
	c.recon = reconcile.New(factory, index, scene{c}, out, cfg.Reconcile, logger)
	return c
}

// Reconciler сверщик контейнеров клиента
func (c *Client) Reconciler() *reconcile.Reconciler { return c.recon }

// Factory реестр объектов клиента
func (c *Client) Factory() *model.Factory { return c.factory }

// Index индекс интереса клиента
func (c *Client) Index() *interest.Index { return c.index }

// Quit закрывается, когда игрок закрыл чат клавишей выхода
func (c *Client) Quit() <-chan struct{} { return c.quit }

// Wait дожидается фоновых задач клиента и сверщика
func (c *Client) Wait() {
	c.wg.Wait()
	c.recon.Wait()
}

// Close останавливает автоматическую стрельбу и дожидается фоновых задач
func (c *Client) Close() {
	c.StopAllAutoFire()
	c.Wait()
}

func (c *Client) signalQuit() {
	c.quitOnce.Do(func() {
		c.logger.Info("🛑 Игрок запросил выход")
		close(c.quit)
	})
}

// issue отправляет пачку команд движку
func (c *Client) issue(ctx context.Context, cmds ...engine.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	if err := c.bridge.Issue(ctx, cmds...); err != nil {
		return fmt.Errorf("issue %s: %w", cmds[0].Opcode, err)
	}
	return nil
}

// broadcast отправляет пакет серверу, ошибки только логируются
func (c *Client) broadcast(ctx context.Context, p transport.Packet) {
	if err := c.out.Broadcast(ctx, p); err != nil {
		c.logger.Warn("⚠️ Не удалось отправить %s: %v", p, err)
	}
}

// lease берет аренду поля, изменившегося в модели. 0: аренды нет.
func lease(l *correlation.Lockable) correlation.Key {
	if l == nil {
		return 0
	}
	key, _ := l.TryLock()
	return key
}

// release снимает аренду, если команда не будет отправлена
func (c *Client) release(key correlation.Key) {
	if key != 0 {
		c.reg.Discard(key)
	}
}

// Player объект игрока
func (c *Client) Player() (*model.Object, error) {
	if p, ok := c.factory.Lookup(PlayerReference); ok {
		return p, nil
	}
	return nil, ErrNoPlayer
}

func (c *Client) lookup(op string, ref interest.Ref) (*model.Object, error) {
	if o, ok := c.factory.Lookup(ref); ok {
		return o, nil
	}
	return nil, &OperationError{Op: op, Ref: ref, Err: ErrUnknownReference}
}

// SetPlayerBase запоминает базовую форму игрока для владения
func (c *Client) SetPlayerBase(base model.BaseID) {
	c.envMu.Lock()
	c.playerBase = base
	c.envMu.Unlock()
}

func refParam(o *model.Object) any { return uint32(o.Ref()) }

// scene блокирующие запросы сверщика к движку
type scene struct {
	c *Client
}

func (s scene) ScanCell(ctx context.Context, cell interest.CellID, cat interest.Category) (interest.CellDiff, error) {
	return s.c.scanCell(ctx, cell, cat)
}

func (s scene) BaseOf(ctx context.Context, ref interest.Ref) (model.BaseID, error) {
	return s.c.GetBase(ctx, ref)
}

func (s scene) RefCount(ctx context.Context, ref interest.Ref) (uint32, error) {
	return s.c.GetRefCount(ctx, ref)
}

func (s scene) ContainerSnapshot(ctx context.Context, container *model.Object) ([]inventory.Entry, error) {
	return s.c.ScanContainerSync(ctx, container)
}
