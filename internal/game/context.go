package game

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/model"
)

// DelayOrExecute выполняет команду сразу, если объект в контексте игрока.
// Иначе аренда снимается, а команда откладывается до включения объекта.
func (c *Client) DelayOrExecute(ctx context.Context, o *model.Object, fn func(ctx context.Context, key correlation.Key) error, key correlation.Key) error {
	if c.index.IsInContext(o.InContextCell()) {
		return fn(ctx, key)
	}

	c.release(key)
	bg := context.WithoutCancel(ctx)
	o.Enqueue(func(correlation.Key) {
		if err := fn(bg, 0); err != nil {
			c.logger.Warn("⚠️ Отложенная команда %s: %v", o, err)
		}
	})
	c.logger.Trace("Команда для %s отложена до входа в контекст", o)
	return nil
}

// work выполняет отложенные команды объекта
func (c *Client) work(o *model.Object) {
	for _, task := range o.DrainTasks() {
		task(0)
	}
}

// UpdateContext заменяет набор ячеек вокруг игрока. cells[0]: ячейка
// игрока. Объекты покидающих ячеек выключаются, входящих включаются и
// переносятся к игроку; каждая затронутая ячейка обрабатывается один раз.
func (c *Client) UpdateContext(ctx context.Context, cells []interest.CellID) error {
	if len(cells) == 0 {
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "game.update_context")
	defer span.End()

	player, err := c.Player()
	if err != nil {
		return err
	}

	old := player.NetworkCell.Get()
	player.NetworkCell.Set(cells[0])
	player.GameCell.Set(cells[0])
	c.index.Move(PlayerReference, model.KindPlayer, old, cells[0])

	entering, leaving := c.index.ReplaceContext(cells)
	span.SetAttributes(attribute.Int("entering", len(entering)), attribute.Int("leaving", len(leaving)))

	for _, cell := range leaving {
		for _, o := range c.objectsIn(cell) {
			if o.Enabled.Changed(false) {
				if err := c.ToggleEnabled(ctx, o); err != nil {
					return err
				}
			}
		}
	}

	for _, cell := range entering {
		for _, o := range c.objectsIn(cell) {
			if o.Enabled.Changed(true) {
				if err := c.ToggleEnabled(ctx, o); err != nil {
					return err
				}
			}
			if o.GameCell.Changed(cell) {
				if err := c.MoveTo(ctx, o, player, true, 0); err != nil {
					return err
				}
			}
			c.work(o)
		}
	}
	return nil
}

// objectsIn известные модели объекты ячейки, кроме игрока
func (c *Client) objectsIn(cell interest.CellID) []*model.Object {
	refs := c.index.RefsIn([]interest.CellID{cell}, interest.AllObjects)
	out := make([]*model.Object, 0, len(refs))
	for _, ref := range refs {
		if ref == PlayerReference {
			continue
		}
		// статические ссылки сцены в модели не хранятся
		if o, ok := c.factory.Lookup(ref); ok {
			out = append(out, o)
		}
	}
	return out
}

// MoveObject переносит объект в сетевую ячейку. Вход в контекст
// включает объект и переносит его к игроку, выход выключает.
func (c *Client) MoveObject(ctx context.Context, o *model.Object, cell interest.CellID) error {
	old := o.NetworkCell.Get()
	o.NetworkCell.Set(cell)

	if ref := o.Ref(); ref != 0 {
		c.index.Move(ref, o.Kind(), old, cell)
	}
	if o.Ref() == PlayerReference {
		return nil
	}

	if c.index.IsInContext(cell) {
		if o.Enabled.Changed(true) {
			if err := c.ToggleEnabled(ctx, o); err != nil {
				return err
			}
		}
		if o.GameCell.Changed(cell) {
			player, err := c.Player()
			if err != nil {
				return err
			}
			if err := c.MoveTo(ctx, o, player, true, 0); err != nil {
				return err
			}
		}
		c.work(o)
		return nil
	}

	if o.Enabled.Changed(false) {
		return c.ToggleEnabled(ctx, o)
	}
	return nil
}

// LoadEnvironment пересоздает окружение после загрузки или возрождения:
// индекс и кэш рас сбрасываются, глобальные переменные и погода
// применяются заново, все объекты модели размещаются повторно.
func (c *Client) LoadEnvironment(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "game.load_environment")
	defer span.End()

	cells := c.index.Context()
	c.index.Reset()
	c.index.ReplaceContext(cells)
	c.races.Clear()

	c.envMu.Lock()
	globals := make(map[uint32]int32, len(c.globals))
	for k, v := range c.globals {
		globals[k] = v
	}
	weather := c.weather
	c.envMu.Unlock()

	for global, value := range globals {
		if err := c.SetGlobalValue(ctx, global, value); err != nil {
			return err
		}
	}
	if weather != 0 {
		if err := c.SetWeather(ctx, weather); err != nil {
			return err
		}
	}

	objects := c.factory.All()
	span.SetAttributes(attribute.Int("objects", len(objects)))

	for _, o := range objects {
		if o.Ref() != PlayerReference {
			c.factory.Bind(o, 0)
		}

		if o.Item != nil && o.Item.Holder.Get() != 0 {
			continue
		}
		if err := c.newByKind(ctx, o); err != nil {
			return err
		}
	}

	c.logger.Info("✅ Окружение восстановлено: %d объектов", len(objects))
	return nil
}
