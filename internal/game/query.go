package game

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
)

// await выдает команду с ключом свежего слота и ждет разрешения.
// Ошибка отправки освобождает слот.
func await[T any](ctx context.Context, c *Client, timeout time.Duration, cmds ...engine.Command) (T, error) {
	w := correlation.Create[T](c.reg)
	for i := range cmds {
		cmds[i].Key = w.Key()
	}
	if err := c.issue(ctx, cmds...); err != nil {
		w.Release()
		var zero T
		return zero, err
	}
	return w.Wait(ctx, timeout)
}

// GetBase базовая форма ссылки
func (c *Client) GetBase(ctx context.Context, ref interest.Ref) (model.BaseID, error) {
	base, err := await[model.BaseID](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpGetBaseObject, uint32(ref)))
	if err != nil {
		return 0, &OperationError{Op: "GetBase", Ref: ref, Err: err}
	}
	return base, nil
}

// GetRefCount размер стопки предмета на сцене
func (c *Client) GetRefCount(ctx context.Context, ref interest.Ref) (uint32, error) {
	count, err := await[uint32](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpGetRefCount, uint32(ref)))
	if err != nil {
		return 0, &OperationError{Op: "GetRefCount", Ref: ref, Err: err}
	}
	return count, nil
}

// ScanContainerSync снимок инвентаря контейнера в движке
func (c *Client) ScanContainerSync(ctx context.Context, container *model.Object) ([]inventory.Entry, error) {
	entries, err := await[[]inventory.Entry](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpScanContainer, refParam(container)))
	if err != nil {
		return nil, &OperationError{Op: "ScanContainer", ID: container.ID(), Err: err}
	}
	return entries, nil
}

// RemoveAllItemsEx убирает из контейнера все предметы по одному
func (c *Client) RemoveAllItemsEx(ctx context.Context, container *model.Object) error {
	if _, err := await[bool](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpRemoveAllItemsEx, refParam(container))); err != nil {
		return &OperationError{Op: "RemoveAllItemsEx", ID: container.ID(), Err: err}
	}
	return nil
}

// IsLimbGone маска отделенных конечностей актера
func (c *Client) IsLimbGone(ctx context.Context, ref interest.Ref) (uint16, error) {
	cmds := make([]engine.Command, 0, LimbWeapon+1)
	for limb := LimbTorso; limb <= LimbWeapon; limb++ {
		cmds = append(cmds, engine.Cmd(engine.OpIsLimbGone, uint32(ref), limb))
	}
	limbs, err := await[uint16](ctx, c, c.timeouts.Query, cmds...)
	if err != nil {
		return 0, &OperationError{Op: "IsLimbGone", Ref: ref, Err: err}
	}
	return limbs, nil
}

// GetCauseOfDeath причина смерти актера
func (c *Client) GetCauseOfDeath(ctx context.Context, ref interest.Ref) (int8, error) {
	cause, err := await[int8](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpGetCauseOfDeath, uint32(ref)))
	if err != nil {
		return DeathNone, &OperationError{Op: "GetCauseOfDeath", Ref: ref, Err: err}
	}
	return cause, nil
}

// ForceRespawn возрождает игрока
func (c *Client) ForceRespawn(ctx context.Context) error {
	if _, err := await[bool](ctx, c, c.timeouts.Query, engine.Cmd(engine.OpForceRespawn)); err != nil {
		return &OperationError{Op: "ForceRespawn", Err: err}
	}
	return nil
}

// LoadGame загружает сохранение. Пустое имя повторяет последнее.
func (c *Client) LoadGame(ctx context.Context, savegame string) error {
	c.envMu.Lock()
	if savegame == "" {
		savegame = c.lastSave
	} else {
		savegame = strings.TrimSuffix(savegame, filepath.Ext(savegame))
		c.lastSave = savegame
	}
	c.envMu.Unlock()

	if _, err := await[bool](ctx, c, c.timeouts.Load, engine.Cmd(engine.OpLoad, savegame)); err != nil {
		return &OperationError{Op: "Load " + savegame, Err: err}
	}
	c.logger.Info("✅ Сохранение %s загружено", savegame)
	return nil
}

// CenterOnCell переносит игрока в интерьер. С spawn запоминается как
// точка возрождения; выполняется только первый такой вызов, после
// которого пересоздается окружение.
func (c *Client) CenterOnCell(ctx context.Context, cell string, spawn bool) error {
	return c.center(ctx, "CenterOnCell "+cell, spawn, engine.Cmd(engine.OpCenterOnCell, cell), func(ctx context.Context) error {
		return c.CenterOnCell(ctx, cell, false)
	})
}

// CenterOnExterior переносит игрока в клетку экстерьера
func (c *Client) CenterOnExterior(ctx context.Context, x, y int32, spawn bool) error {
	return c.center(ctx, "CenterOnExterior", spawn, engine.Cmd(engine.OpCenterOnExterior, x, y), func(ctx context.Context) error {
		return c.CenterOnExterior(ctx, x, y, false)
	})
}

// CenterOnWorld переносит игрока в клетку заданного мира
func (c *Client) CenterOnWorld(ctx context.Context, world model.BaseID, x, y int32, spawn bool) error {
	return c.center(ctx, "CenterOnWorld", spawn, engine.Cmd(engine.OpCenterOnWorld, uint32(world), x, y), func(ctx context.Context) error {
		return c.CenterOnWorld(ctx, world, x, y, false)
	})
}

func (c *Client) center(ctx context.Context, op string, spawn bool, cmd engine.Command, again func(ctx context.Context) error) error {
	first := false
	if spawn {
		c.envMu.Lock()
		first = c.spawn == nil
		c.spawn = again
		c.envMu.Unlock()
		if !first {
			return nil
		}
	}

	if _, err := await[bool](ctx, c, c.timeouts.Load, cmd); err != nil {
		return &OperationError{Op: op, Err: err}
	}
	if first {
		return c.LoadEnvironment(ctx)
	}
	return nil
}

// respawn повторяет последний перенос в точку возрождения
func (c *Client) respawn(ctx context.Context) error {
	c.envMu.Lock()
	again := c.spawn
	c.envMu.Unlock()
	if again == nil {
		return nil
	}
	return again(ctx)
}
