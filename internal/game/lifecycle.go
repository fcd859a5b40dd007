package game

import (
	"context"

	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/model"
)

// NewObject проецирует объект модели в движок. Объект без ссылки
// сначала размещается рядом с игроком. Вне контекста объект выключается.
func (c *Client) NewObject(ctx context.Context, o *model.Object) error {
	if o.Ref() == 0 {
		if err := c.place(ctx, o); err != nil {
			return err
		}
	}
	ref := o.Ref()

	if ref != PlayerReference {
		if err := c.SetName(ctx, o); err != nil {
			return err
		}
		if err := c.SetAngle(ctx, o); err != nil {
			return err
		}
	} else {
		o.Enabled.Set(true)
		o.GameCell.Set(o.NetworkCell.Get())
	}

	if err := c.SetLock(ctx, o); err != nil {
		return err
	}
	if o.Owner.Get() != 0 {
		if err := c.SetOwner(ctx, o); err != nil {
			return err
		}
	}

	c.index.Track(ref, o.Kind(), o.NetworkCell.Get())

	if ref != PlayerReference {
		if err := c.project(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// place размещает объект командой PlaceAtMe и связывает полученную ссылку
func (c *Client) place(ctx context.Context, o *model.Object) error {
	condition := 1.0
	if o.Item != nil {
		condition = engine.ToEngineCondition(o.Item.Condition.Get())
	}

	ref, err := await[interest.Ref](ctx, c, c.timeouts.Placement,
		engine.Cmd(engine.OpPlaceAtMeHealthPercent, uint32(PlayerReference), uint32(o.Base.Get()), condition, uint32(1)))
	if err != nil {
		return &OperationError{Op: "PlaceAtMe", ID: o.ID(), Err: err}
	}
	c.factory.Bind(o, ref)
	c.logger.Debug("Объект %s размещен", o)
	return nil
}

// project включает объект в контексте и переносит к игроку, иначе выключает
func (c *Client) project(ctx context.Context, o *model.Object) error {
	player, err := c.Player()
	if err != nil {
		return err
	}

	if c.index.IsInContext(o.NetworkCell.Get()) {
		o.Enabled.Set(true)
		if err := c.MoveTo(ctx, o, player, true, 0); err != nil {
			return err
		}
	} else {
		o.Enabled.Set(false)
		if err := c.ToggleEnabled(ctx, o); err != nil {
			return err
		}
	}
	o.GameCell.Set(player.GameCell.Get())
	c.work(o)
	return nil
}

// NewItem размещает предмет, лежащий на сцене
func (c *Client) NewItem(ctx context.Context, item *model.Object) error {
	if holder := item.Item.Holder.Get(); holder != 0 {
		return &OperationError{Op: "NewItem", ID: item.ID(), Err: ErrBoundItem}
	}
	if err := c.NewObject(ctx, item); err != nil {
		return err
	}
	return c.SetRefCount(ctx, item)
}

// NewContainer размещает контейнер и наполняет его предметами модели
func (c *Client) NewContainer(ctx context.Context, container *model.Object) error {
	if err := c.NewObject(ctx, container); err != nil {
		return err
	}

	for _, id := range container.Container.Items.IDs() {
		item, ok := c.factory.Get(id)
		if !ok || item.Item == nil {
			continue
		}
		if err := c.addItemObject(ctx, container, item); err != nil {
			return err
		}
		if item.Item.Equipped.Get() && container.Actor != nil {
			if err := c.EquipItem(ctx, container, item.Base.Get(), item.Item.Silent.Get(), item.Item.Stick.Get()); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewActor размещает актера: характеристики, раса, пол и состояние
func (c *Client) NewActor(ctx context.Context, actor *model.Object) error {
	if err := c.NewContainer(ctx, actor); err != nil {
		return err
	}

	a := actor.Actor
	for index := range a.BaseValues.Snapshot() {
		if err := c.SetActorBaseValue(ctx, actor, index); err != nil {
			return err
		}
	}
	for index := range a.Values.Snapshot() {
		if err := c.SetActorValue(ctx, actor, index); err != nil {
			return err
		}
	}

	if err := c.SetActorRace(ctx, actor, a.Age.Get()); err != nil {
		return err
	}
	if err := c.SetActorSex(ctx, actor); err != nil {
		return err
	}

	if actor.Ref() == PlayerReference {
		return nil
	}
	if err := c.SetRestrained(ctx, actor, true); err != nil {
		return err
	}
	if a.Dead.Get() {
		return c.KillActor(ctx, actor, 0, DeathNone, 0)
	}
	return c.SetActorState(ctx, actor)
}

// NewPlayer размещает сетевого игрока
func (c *Client) NewPlayer(ctx context.Context, player *model.Object) error {
	return c.NewActor(ctx, player)
}

// RemoveObject убирает объект из движка, модель не меняется
func (c *Client) RemoveObject(ctx context.Context, o *model.Object) error {
	if o.Enabled.Changed(false) {
		if err := c.ToggleEnabled(ctx, o); err != nil {
			return err
		}
	}
	if err := c.issue(ctx, engine.Cmd(engine.OpMarkForDelete, refParam(o))); err != nil {
		return err
	}
	c.index.Untrack(o.Ref())
	return nil
}

// Delete убирает объект из движка и из модели
func (c *Client) Delete(ctx context.Context, o *model.Object) error {
	c.StopAutoFire(o.ID())
	if err := c.RemoveObject(ctx, o); err != nil {
		return err
	}
	c.factory.Destroy(o.ID())
	return nil
}
