package game

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
	"github.com/annel0/mmo-overlay/internal/vec"
)

// Изменения, пришедшие с сервера. Каждое сначала меняет модель; команда
// движку уходит, только если значение действительно изменилось.

// nearDistance ближе этого актер доводится до сетевой позиции анимацией
const nearDistance = 50.0

// HandlePacket применяет пакет сервера к модели и движку
func (c *Client) HandlePacket(ctx context.Context, p transport.Packet) error {
	switch p.Type {
	case transport.PacketObjectNew:
		payload, ok := payloadAs[transport.ObjectPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyObjectNew(ctx, p.ID, payload)
	case transport.PacketChat:
		payload, ok := payloadAs[transport.ChatPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.Chat(ctx, payload.Message)
	case transport.PacketUpdateContext:
		payload, ok := payloadAs[transport.ContextPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.UpdateContext(ctx, payload.Cells)
	case transport.PacketUpdateInterior:
		payload, ok := payloadAs[transport.InteriorPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.CenterOnCell(ctx, payload.Cell, payload.Spawn)
	case transport.PacketUpdateExterior:
		payload, ok := payloadAs[transport.ExteriorPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		if payload.World == 0 {
			return c.CenterOnExterior(ctx, payload.X, payload.Y, payload.Spawn)
		}
		return c.CenterOnWorld(ctx, payload.World, payload.X, payload.Y, payload.Spawn)
	}

	o, ok := c.factory.Get(p.ID)
	if !ok {
		return &OperationError{Op: p.Type.String(), ID: p.ID, Err: ErrUnknownObject}
	}

	switch p.Type {
	case transport.PacketObjectRemove:
		return c.Delete(ctx, o)

	case transport.PacketUpdatePos:
		payload, ok := payloadAs[transport.PosPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyPos(ctx, o, payload.Pos)

	case transport.PacketUpdateAngle:
		payload, ok := payloadAs[transport.AnglePayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyAngle(ctx, o, payload.Axis, payload.Value)

	case transport.PacketUpdateCell:
		payload, ok := payloadAs[transport.CellPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		if err := c.MoveObject(ctx, o, payload.Cell); err != nil {
			return err
		}
		return c.ApplyPos(ctx, o, payload.Pos)

	case transport.PacketUpdateLock:
		payload, ok := payloadAs[transport.LockPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyLock(ctx, o, payload.Level)

	case transport.PacketUpdateContainer:
		payload, ok := payloadAs[transport.ContainerPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		if o.Container == nil {
			return &OperationError{Op: p.Type.String(), ID: p.ID, Err: ErrWrongKind}
		}
		return c.ApplyContainer(ctx, o, payload)

	case transport.PacketUpdateControl:
		// привязки управления сервер только принимает
		return nil
	}

	if o.Actor == nil {
		return &OperationError{Op: p.Type.String(), ID: p.ID, Err: ErrWrongKind}
	}

	switch p.Type {
	case transport.PacketUpdateState:
		payload, ok := payloadAs[transport.StatePayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyActorState(ctx, o, payload)

	case transport.PacketUpdateValue:
		payload, ok := payloadAs[transport.ValuePayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyActorValue(ctx, o, payload.Base, payload.Index, payload.Value)

	case transport.PacketUpdateDead:
		payload, ok := payloadAs[transport.DeadPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyDead(ctx, o, payload.Dead, payload.Limbs, payload.Cause)

	case transport.PacketUpdateFireWeapon:
		payload, ok := payloadAs[transport.FireWeaponPayload](p.Payload)
		if !ok {
			return payloadError(p)
		}
		return c.ApplyFireWeapon(ctx, o, payload.Weapon, payload.Rate)
	}

	return fmt.Errorf("unsupported packet %s", p)
}

// payloadAs полезная нагрузка пакета: значением при локальной сборке,
// указателем после DecodePayload
func payloadAs[T any](v any) (T, bool) {
	switch p := v.(type) {
	case T:
		return p, true
	case *T:
		if p != nil {
			return *p, true
		}
	}
	var zero T
	return zero, false
}

func payloadError(p transport.Packet) error {
	return fmt.Errorf("packet %s: unexpected payload %T", p, p.Payload)
}

// withLease отправляет команду под арендой поля; при ошибке аренда снимается
func (c *Client) withLease(l *correlation.Lockable, fn func(key correlation.Key) error) error {
	key := lease(l)
	if err := fn(key); err != nil {
		c.release(key)
		return err
	}
	return nil
}

// ApplyObjectNew создает объект, описанный сервером, и размещает его
func (c *Client) ApplyObjectNew(ctx context.Context, id model.NetworkID, p transport.ObjectPayload) error {
	if p.ID != 0 {
		id = p.ID
	}
	if _, ok := c.factory.Get(id); ok {
		c.logger.Debug("Объект %#x уже существует", uint64(id))
		return nil
	}

	o := c.factory.Create(id, p.Kind, 0, p.Base)
	o.Name.Set(p.Name)
	o.NetworkCell.Set(p.Cell)
	o.NetworkPos.Set(p.Pos)
	o.Angle.Set(p.Angle)
	if o.Item != nil {
		if p.Count != 0 {
			o.Item.Count.Set(p.Count)
		}
		if p.Condition != 0 {
			o.Item.Condition.Set(p.Condition)
		}
	}
	return c.newByKind(ctx, o)
}

// newByKind размещает объект в движке в соответствии с его типом
func (c *Client) newByKind(ctx context.Context, o *model.Object) error {
	switch o.Kind() {
	case model.KindItem:
		return c.NewItem(ctx, o)
	case model.KindContainer:
		return c.NewContainer(ctx, o)
	case model.KindActor:
		return c.NewActor(ctx, o)
	case model.KindPlayer:
		return c.NewPlayer(ctx, o)
	default:
		return c.NewObject(ctx, o)
	}
}

// ApplyName имя объекта
func (c *Client) ApplyName(ctx context.Context, o *model.Object, name string) error {
	if !o.Name.Changed(name) {
		return nil
	}
	return c.SetName(ctx, o)
}

// ApplyPos сетевая позиция. Включенный актер переносится, только если
// ушел дальше nearDistance; ближе его доводит анимация движения.
func (c *Client) ApplyPos(ctx context.Context, o *model.Object, pos vec.Vec3) error {
	if !o.NetworkPos.Changed(pos) || !o.Enabled.Get() {
		return nil
	}
	if o.Actor != nil && o.GamePos.Get().DistanceTo(pos) <= nearDistance {
		return nil
	}
	return c.SetPos(ctx, o)
}

// ApplyAngle угол по оси. Актеру, целящемуся через прицел, наклон по X
// передается анимациями прицеливания.
func (c *Client) ApplyAngle(ctx context.Context, o *model.Object, axis uint8, value float64) error {
	if !o.Angle.Changed(withAxis(o.Angle.Get(), axis, value)) || !o.Enabled.Get() {
		return nil
	}
	if err := c.SetAngle(ctx, o); err != nil {
		return err
	}
	if axis != AxisX || o.Actor == nil || o.Actor.Weapon.Get() != AnimAimIS {
		return nil
	}
	if err := c.SetActorAnimation(ctx, o, AnimAimISDown, 0); err != nil {
		return err
	}
	return c.SetActorAnimation(ctx, o, AnimAimISUp, 0)
}

// ApplyLock уровень замка
func (c *Client) ApplyLock(ctx context.Context, o *model.Object, level uint32) error {
	l := o.LockLevel.Set(level)
	if l == nil {
		return nil
	}
	return c.withLease(l, func(key correlation.Key) error {
		return c.setLock(ctx, o, key)
	})
}

// ApplyOwner владелец объекта
func (c *Client) ApplyOwner(ctx context.Context, o *model.Object, owner model.BaseID) error {
	l := o.Owner.Set(owner)
	if l == nil {
		return nil
	}
	return c.withLease(l, func(key correlation.Key) error {
		return c.setOwner(ctx, o, key)
	})
}

// ApplyItemCount размер стопки; предметы в контейнерах меняются диффом контейнера
func (c *Client) ApplyItemCount(ctx context.Context, item *model.Object, count uint32) error {
	if item.Item == nil || item.Item.Holder.Get() != 0 {
		return nil
	}
	if !item.Item.Count.Changed(count) {
		return nil
	}
	return c.SetRefCount(ctx, item)
}

// ApplyContainer дифф инвентаря с сервера: модель, затем движок. Предметы,
// подобранные со сцены, удаляются, выброшенные создаются.
func (c *Client) ApplyContainer(ctx context.Context, container *model.Object, p transport.ContainerPayload) error {
	deltas, err := c.recon.ApplyRemote(ctx, container, p.Diff)
	if err != nil {
		return &OperationError{Op: "UpdateContainer", ID: container.ID(), Err: err}
	}

	for _, d := range deltas {
		if err := c.applyDelta(ctx, container, d); err != nil {
			return err
		}
	}

	for _, id := range p.Destroyed {
		item, ok := c.factory.Get(id)
		if !ok {
			c.logger.Debug("Предмет %#x уже удален", uint64(id))
			continue
		}
		if err := c.Delete(ctx, item); err != nil {
			return err
		}
	}
	for _, created := range p.Created {
		created.Kind = model.KindItem
		if err := c.ApplyObjectNew(ctx, created.ID, created); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyDelta(ctx context.Context, container *model.Object, d inventory.ItemDelta) error {
	switch {
	case d.Count > 0:
		if err := c.AddItem(ctx, container, d.Base, uint32(d.Count), d.Condition, d.Silent); err != nil {
			return err
		}
	case d.Count < 0:
		if err := c.RemoveItem(ctx, container, d.Base, uint32(-d.Count), d.Silent); err != nil {
			return err
		}
	}

	if container.Actor == nil {
		return nil
	}
	// по команде на каждый слот
	for n := d.Equipped; n > 0; n-- {
		if err := c.EquipItem(ctx, container, d.Base, d.Silent, d.Stick); err != nil {
			return err
		}
	}
	for n := d.Equipped; n < 0; n++ {
		if err := c.UnequipItem(ctx, container, d.Base, d.Silent, d.Stick); err != nil {
			return err
		}
	}
	return nil
}

// ApplyActorValue характеристика актера
func (c *Client) ApplyActorValue(ctx context.Context, actor *model.Object, base bool, index uint8, value float64) error {
	if base {
		if !actor.Actor.BaseValues.Set(index, value) {
			return nil
		}
		return c.SetActorBaseValue(ctx, actor, index)
	}
	if !actor.Actor.Values.Set(index, value) {
		return nil
	}
	return c.SetActorValue(ctx, actor, index)
}

// ApplyActorState анимационное состояние актера. Анимация оружия
// проигрывается только наготове и не для смены оружия.
func (c *Client) ApplyActorState(ctx context.Context, actor *model.Object, s transport.StatePayload) error {
	a := actor.Actor
	enabled := actor.Enabled.Get()

	a.Idle.Set(s.Idle)
	if !s.Firing {
		c.StopAutoFire(actor.ID())
	}

	if a.MovingXY.Changed(s.MovingXY) && enabled {
		if err := c.SetAngle(ctx, actor); err != nil {
			return err
		}
	}

	if l := a.Alerted.Set(s.Alerted); l != nil && enabled {
		if err := c.withLease(l, func(key correlation.Key) error { return c.SetActorAlerted(ctx, actor, key) }); err != nil {
			return err
		}
	}

	if l := a.Sneaking.Set(s.Sneaking); l != nil && enabled {
		if err := c.withLease(l, func(key correlation.Key) error { return c.SetActorSneaking(ctx, actor, key) }); err != nil {
			return err
		}
	}

	if l := a.Moving.Set(s.Moving); l != nil && enabled {
		if err := c.withLease(l, func(key correlation.Key) error { return c.SetActorAnimation(ctx, actor, s.Moving, key) }); err != nil {
			return err
		}
		if s.Moving == AnimIdle {
			if err := c.SetPos(ctx, actor); err != nil {
				return err
			}
		}
	}

	prev := a.Weapon.Get()
	l := a.Weapon.Set(s.Weapon)
	if l == nil || !enabled || s.Firing || !a.Alerted.Get() || !aimAnimation(s.Weapon, prev) {
		return nil
	}

	if s.Weapon == AnimAim && prev == AnimAimIS {
		if err := c.SetActorAnimation(ctx, actor, AnimAimDown, 0); err != nil {
			return err
		}
		if err := c.SetActorAnimation(ctx, actor, AnimAimUp, 0); err != nil {
			return err
		}
	}
	if err := c.withLease(l, func(key correlation.Key) error { return c.SetActorAnimation(ctx, actor, s.Weapon, key) }); err != nil {
		return err
	}
	if s.Weapon == AnimAimIS {
		if err := c.SetActorAnimation(ctx, actor, AnimAimISDown, 0); err != nil {
			return err
		}
		return c.SetActorAnimation(ctx, actor, AnimAimISUp, 0)
	}
	return nil
}

// aimAnimation анимацию оружия нужно проиграть. Смена оружия движком
// проигрывается сама, выход из прицела только после AimIS.
func aimAnimation(weapon, prev uint8) bool {
	switch weapon {
	case AnimIdle, AnimEquip, AnimUnequip, AnimHolster:
		return false
	case AnimAim:
		return prev == AnimAimIS
	}
	return true
}

// ApplyActorRace раса и возраст; deltaAge от текущей расы к новой
func (c *Client) ApplyActorRace(ctx context.Context, actor *model.Object, race model.BaseID, age, deltaAge int32) error {
	actor.Actor.Race.Set(race)
	actor.Actor.Age.Set(age)
	return c.SetActorRace(ctx, actor, deltaAge)
}

// ApplyActorSex пол актера
func (c *Client) ApplyActorSex(ctx context.Context, actor *model.Object, female bool) error {
	actor.Actor.Female.Set(female)
	return c.SetActorSex(ctx, actor)
}

// ApplyDead смерть или воскрешение. Воскрешенный актер пересоздается
// заново; игрок возрождается движком, после чего окружение строится
// заново и сервер получает подтверждение.
func (c *Client) ApplyDead(ctx context.Context, actor *model.Object, dead bool, limbs uint16, cause int8) error {
	a := actor.Actor
	l := a.Dead.Set(dead)
	if l == nil {
		return nil
	}

	if dead {
		c.StopAutoFire(actor.ID())
		a.Limbs.Set(limbs)
		a.DeathCause.Set(cause)
		return c.withLease(l, func(key correlation.Key) error {
			return c.KillActor(ctx, actor, limbs, cause, key)
		})
	}

	a.Limbs.Set(0)
	a.DeathCause.Set(DeathNone)

	if actor.Ref() != PlayerReference {
		if err := c.RemoveObject(ctx, actor); err != nil {
			return err
		}
		c.factory.Bind(actor, 0)
		return c.NewActor(ctx, actor)
	}

	actor.Enabled.Set(false)
	if err := c.ForceRespawn(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(c.RespawnDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.races.Clear()
	if err := c.respawn(ctx); err != nil {
		return err
	}
	if err := c.LoadEnvironment(ctx); err != nil {
		return err
	}
	actor.Enabled.Set(true)

	c.broadcast(ctx, transport.Ordered(transport.PacketUpdateDead, actor.ID(), transport.DeadPayload{Dead: false, Cause: DeathNone}))
	c.logger.Info("✅ Игрок возрожден")
	return nil
}

// ApplyFireWeapon выстрел актера; rate > 0 запускает автоматический огонь
func (c *Client) ApplyFireWeapon(ctx context.Context, actor *model.Object, weapon model.BaseID, rate float64) error {
	if !actor.Enabled.Get() {
		return nil
	}
	if err := c.FireWeapon(ctx, actor, weapon); err != nil {
		return err
	}
	c.StartAutoFire(ctx, actor, weapon, rate)
	return nil
}

// ApplyGlobalValue глобальная переменная; запоминается для LoadEnvironment
func (c *Client) ApplyGlobalValue(ctx context.Context, global uint32, value int32) error {
	c.envMu.Lock()
	c.globals[global] = value
	c.envMu.Unlock()
	return c.SetGlobalValue(ctx, global, value)
}

// ApplyWeather погода; запоминается для LoadEnvironment
func (c *Client) ApplyWeather(ctx context.Context, weather uint32) error {
	c.envMu.Lock()
	c.weather = weather
	c.envMu.Unlock()
	return c.SetWeather(ctx, weather)
}
