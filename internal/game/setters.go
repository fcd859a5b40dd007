package game

import (
	"context"
	"math"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/vec"
)

// Команды, не ожидающие результата. key: аренда поля, которую снимет
// подтверждение движка; 0 если поле не арендовано.

// SetName задает имя объекта, пустое имя не отправляется
func (c *Client) SetName(ctx context.Context, o *model.Object) error {
	name := o.Name.Get()
	if name == "" {
		return nil
	}
	return c.issue(ctx, engine.Cmd(engine.OpSetName, refParam(o), name))
}

// SetRestrained запрещает актеру собственный ИИ
func (c *Client) SetRestrained(ctx context.Context, actor *model.Object, restrained bool) error {
	return c.issue(ctx, engine.Cmd(engine.OpSetRestrained, refParam(actor), restrained))
}

// ToggleEnabled включает или выключает объект по модели
func (c *Client) ToggleEnabled(ctx context.Context, o *model.Object) error {
	if o.Enabled.Get() {
		return c.issue(ctx, engine.Cmd(engine.OpEnable, refParam(o), true))
	}
	return c.issue(ctx, engine.Cmd(engine.OpDisable, refParam(o), false))
}

// SetPos переносит объект в сетевую позицию по трем осям
func (c *Client) SetPos(ctx context.Context, o *model.Object) error {
	pos := o.NetworkPos.Get()
	if !pos.Valid() {
		return nil
	}
	key := lease(o.GamePos.Set(pos))
	ref := refParam(o)

	// аренда снимается подтверждением последней оси
	err := c.issue(ctx,
		engine.Cmd(engine.OpSetPos, ref, axisNames[AxisX], pos.X),
		engine.Cmd(engine.OpSetPos, ref, axisNames[AxisY], pos.Y),
		engine.Cmd(engine.OpSetPos, ref, axisNames[AxisZ], pos.Z).WithKey(key),
	)
	if err != nil {
		c.release(key)
	}
	return err
}

// SetAngle поворачивает объект. Для актеров, идущих вбок, угол Z
// смещается на 45 градусов.
func (c *Client) SetAngle(ctx context.Context, o *model.Object) error {
	angle := o.Angle.Get()
	z := angle.Z
	if o.Actor != nil {
		switch o.Actor.MovingXY.Get() {
		case 0x01:
			z = adjustZAngle(z, -45.0)
		case 0x02:
			z = adjustZAngle(z, 45.0)
		}
	}
	ref := refParam(o)
	return c.issue(ctx,
		engine.Cmd(engine.OpSetAngle, ref, axisNames[AxisX], angle.X),
		engine.Cmd(engine.OpSetAngle, ref, axisNames[AxisZ], z),
	)
}

// adjustZAngle сдвигает угол и возвращает его в [0, 360)
func adjustZAngle(z, diff float64) float64 {
	z = math.Mod(z+diff, 360.0)
	if z < 0 {
		z += 360.0
	}
	return z
}

// MoveTo перемещает объект к цели. withOffset сохраняет сетевое
// смещение объекта относительно цели.
func (c *Client) MoveTo(ctx context.Context, o, target *model.Object, withOffset bool, key correlation.Key) error {
	params := []any{refParam(o), refParam(target)}
	if withOffset {
		d := o.NetworkPos.Get().Sub(target.NetworkPos.Get())
		params = append(params, d.X, d.Y, d.Z)
	}
	return c.issue(ctx, engine.Command{Opcode: engine.OpMoveTo, Params: params, Key: key})
}

// SetLock применяет уровень замка модели
func (c *Client) SetLock(ctx context.Context, o *model.Object) error {
	return c.setLock(ctx, o, 0)
}

func (c *Client) setLock(ctx context.Context, o *model.Object, key correlation.Key) error {
	level := o.LockLevel.Get()
	// взломанный замок в движке не выставить, ставим невскрываемый
	if level == model.LockBroken {
		level = 255
	}
	return c.DelayOrExecute(ctx, o, func(ctx context.Context, key correlation.Key) error {
		if level == model.LockUnlocked {
			return c.issue(ctx, engine.Command{Opcode: engine.OpUnlock, Params: []any{refParam(o)}, Key: key})
		}
		return c.issue(ctx, engine.Command{Opcode: engine.OpLock, Params: []any{refParam(o), level}, Key: key})
	}, key)
}

// SetOwner применяет владельца модели
func (c *Client) SetOwner(ctx context.Context, o *model.Object) error {
	return c.setOwner(ctx, o, 0)
}

func (c *Client) setOwner(ctx context.Context, o *model.Object, key correlation.Key) error {
	owner := o.Owner.Get()
	c.envMu.Lock()
	if c.playerBase != 0 && owner == c.playerBase {
		owner = PlayerBase
	}
	c.envMu.Unlock()

	return c.DelayOrExecute(ctx, o, func(ctx context.Context, key correlation.Key) error {
		return c.issue(ctx, engine.Command{Opcode: engine.OpSetOwnership, Params: []any{refParam(o), uint32(owner)}, Key: key})
	}, key)
}

// SetActorValue применяет текущее значение характеристики
func (c *Client) SetActorValue(ctx context.Context, actor *model.Object, index uint8) error {
	v, _ := actor.Actor.Values.Get(index)
	return c.issue(ctx, engine.Cmd(engine.OpForceActorValue, refParam(actor), index, v))
}

// SetActorBaseValue применяет базовое значение характеристики
func (c *Client) SetActorBaseValue(ctx context.Context, actor *model.Object, index uint8) error {
	v, _ := actor.Actor.BaseValues.Get(index)
	return c.issue(ctx, engine.Cmd(engine.OpSetActorValue, refParam(actor), index, v))
}

// SetActorAlerted оружие наготове
func (c *Client) SetActorAlerted(ctx context.Context, actor *model.Object, key correlation.Key) error {
	return c.issue(ctx, engine.Command{Opcode: engine.OpSetAlert, Params: []any{refParam(actor), actor.Actor.Alerted.Get()}, Key: key})
}

// SetActorSneaking скрытное передвижение
func (c *Client) SetActorSneaking(ctx context.Context, actor *model.Object, key correlation.Key) error {
	return c.issue(ctx, engine.Command{Opcode: engine.OpSetForceSneak, Params: []any{refParam(actor), actor.Actor.Sneaking.Get()}, Key: key})
}

// SetActorAnimation проигрывает группу анимаций
func (c *Client) SetActorAnimation(ctx context.Context, actor *model.Object, anim uint8, key correlation.Key) error {
	return c.issue(ctx, engine.Command{Opcode: engine.OpPlayGroup, Params: []any{refParam(actor), anim, true}, Key: key})
}

// SetActorState применяет состояние анимаций актера из модели
func (c *Client) SetActorState(ctx context.Context, actor *model.Object) error {
	a := actor.Actor
	if a.Alerted.Get() {
		if err := c.SetActorAlerted(ctx, actor, 0); err != nil {
			return err
		}
	}
	if a.Sneaking.Get() {
		if err := c.SetActorSneaking(ctx, actor, 0); err != nil {
			return err
		}
	}
	if moving := a.Moving.Get(); moving != AnimIdle {
		if err := c.SetActorAnimation(ctx, actor, moving, 0); err != nil {
			return err
		}
	}
	if weapon := a.Weapon.Get(); weapon != AnimIdle {
		return c.SetActorAnimation(ctx, actor, weapon, 0)
	}
	return nil
}

// SetActorRace меняет расу; для одной базовой формы выполняется один раз
func (c *Client) SetActorRace(ctx context.Context, actor *model.Object, deltaAge int32) error {
	race := actor.Actor.Race.Get()
	if race == CreatureRace || race == 0 {
		return nil
	}
	_, err := c.races.Apply(actor.Base.Get(), race, func() error {
		cmds := []engine.Command{engine.Cmd(engine.OpMatchRace, refParam(actor), uint32(race))}
		if deltaAge != 0 {
			cmds = append(cmds, engine.Cmd(engine.OpAgeRace, refParam(actor), deltaAge))
		}
		return c.issue(ctx, cmds...)
	})
	return err
}

// SetActorSex пол актера; существам не применяется
func (c *Client) SetActorSex(ctx context.Context, actor *model.Object) error {
	if actor.Actor.Race.Get() == CreatureRace {
		return nil
	}
	return c.issue(ctx, engine.Cmd(engine.OpSetSex, refParam(actor), actor.Actor.Female.Get()))
}

// pipBoy предметы пип-боя игрока движок держит сам
func pipBoy(o *model.Object, base model.BaseID) bool {
	return (base == PipBoy3000 || base == PipBoyGloves) && o.Ref() == PlayerReference
}

// EquipItem экипирует предмет
func (c *Client) EquipItem(ctx context.Context, actor *model.Object, base model.BaseID, silent, stick bool) error {
	if pipBoy(actor, base) {
		return nil
	}
	return c.issue(ctx, engine.Cmd(engine.OpEquipItem, refParam(actor), uint32(base), stick, silent))
}

// UnequipItem снимает предмет
func (c *Client) UnequipItem(ctx context.Context, actor *model.Object, base model.BaseID, silent, stick bool) error {
	if pipBoy(actor, base) {
		return nil
	}
	return c.issue(ctx, engine.Cmd(engine.OpUnequipItem, refParam(actor), uint32(base), stick, silent))
}

// AddItem добавляет предметы в контейнер; состояние в процентах
func (c *Client) AddItem(ctx context.Context, container *model.Object, base model.BaseID, count uint32, condition float64, silent bool) error {
	if pipBoy(container, base) {
		return nil
	}
	return c.DelayOrExecute(ctx, container, func(ctx context.Context, key correlation.Key) error {
		return c.issue(ctx, engine.Command{
			Opcode: engine.OpAddItem,
			Params: []any{refParam(container), uint32(base), count, engine.ToEngineCondition(condition), silent},
			Key:    key,
		})
	}, 0)
}

// RemoveItem убирает предметы из контейнера
func (c *Client) RemoveItem(ctx context.Context, container *model.Object, base model.BaseID, count uint32, silent bool) error {
	if pipBoy(container, base) {
		return nil
	}
	return c.DelayOrExecute(ctx, container, func(ctx context.Context, key correlation.Key) error {
		return c.issue(ctx, engine.Command{
			Opcode: engine.OpRemoveItem,
			Params: []any{refParam(container), uint32(base), count, silent},
			Key:    key,
		})
	}, 0)
}

func (c *Client) addItemObject(ctx context.Context, container, item *model.Object) error {
	return c.AddItem(ctx, container, item.Base.Get(), item.Item.Count.Get(), item.Item.Condition.Get(), item.Item.Silent.Get())
}

// SetRefCount размер стопки предмета на сцене
func (c *Client) SetRefCount(ctx context.Context, item *model.Object) error {
	return c.issue(ctx, engine.Cmd(engine.OpSetRefCount, refParam(item), item.Item.Count.Get()))
}

// KillActor убивает актера. Каждая отделенная конечность отдельной
// командой; аренда снимается последней.
func (c *Client) KillActor(ctx context.Context, actor *model.Object, limbs uint16, cause int8, key correlation.Key) error {
	ref := refParam(actor)
	if limbs == 0 {
		return c.issue(ctx, engine.Command{Opcode: engine.OpKill, Params: []any{ref, ref, LimbNone, cause}, Key: key})
	}

	var cmds []engine.Command
	for limb := LimbTorso; limb <= LimbWeapon; limb++ {
		if limbs&(1<<limb) != 0 {
			cmds = append(cmds, engine.Cmd(engine.OpKill, ref, ref, int32(limb), cause))
		}
	}
	if len(cmds) == 0 {
		return c.issue(ctx, engine.Command{Opcode: engine.OpKill, Params: []any{ref, ref, LimbNone, cause}, Key: key})
	}
	cmds[len(cmds)-1].Key = key
	return c.issue(ctx, cmds...)
}

// FireWeapon один выстрел
func (c *Client) FireWeapon(ctx context.Context, actor *model.Object, weapon model.BaseID) error {
	return c.issue(ctx, engine.Cmd(engine.OpFireWeapon, refParam(actor), uint32(weapon)))
}

// Chat показывает сообщение в окне чата
func (c *Client) Chat(ctx context.Context, message string) error {
	return c.issue(ctx, engine.Cmd(engine.OpChatMessage, message))
}

// UIMessage всплывающее сообщение интерфейса
func (c *Client) UIMessage(ctx context.Context, message string, emoticon uint8) error {
	return c.issue(ctx, engine.Cmd(engine.OpUIMessage, message, emoticon))
}

// SetGlobalValue глобальная переменная
func (c *Client) SetGlobalValue(ctx context.Context, global uint32, value int32) error {
	return c.issue(ctx, engine.Cmd(engine.OpSetGlobalValue, global, value))
}

// SetWeather погода
func (c *Client) SetWeather(ctx context.Context, weather uint32) error {
	return c.issue(ctx, engine.Cmd(engine.OpForceWeather, weather, 1))
}

// EnablePlayerControls возвращает игроку управление
func (c *Client) EnablePlayerControls(ctx context.Context, controls PlayerControls) error {
	return c.issue(ctx, engine.Cmd(engine.OpEnablePlayerControls, controls.params()...))
}

// DisablePlayerControls отбирает у игрока управление
func (c *Client) DisablePlayerControls(ctx context.Context, controls PlayerControls) error {
	return c.issue(ctx, engine.Cmd(engine.OpDisablePlayerControls, controls.params()...))
}

// withAxis заменяет одну координату
func withAxis(v vec.Vec3, axis uint8, value float64) vec.Vec3 {
	switch axis {
	case AxisX:
		v.X = value
	case AxisY:
		v.Y = value
	case AxisZ:
		v.Z = value
	}
	return v
}
