package game

import (
	"context"
	"unicode/utf8"

	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/dispatch"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
)

// Register подключает обработчики результатов движка к диспетчеру.
//
// Раскладка Args: первым идут параметры команды, как они были выданы.
// GetActorState: [ref, idle, moving, weapon, flags, sneaking], где flags:
// movingxy в младших двух битах и клавиши чата выше.
func (c *Client) Register(d *dispatch.Dispatcher) {
	d.Handle(engine.OpGetPos, c.onGetPos)
	d.Handle(engine.OpGetAngle, c.onGetAngle)
	d.Handle(engine.OpGetParentCell, c.onGetParentCell)
	d.Handle(engine.OpGetActorValue, c.onGetActorValue(false))
	d.Handle(engine.OpGetBaseActorValue, c.onGetActorValue(true))
	d.Handle(engine.OpGetActorState, c.onGetActorState)
	d.Handle(engine.OpGetDead, c.onGetDead)
	d.Handle(engine.OpIsLimbGone, c.onIsLimbGone)
	d.Handle(engine.OpGetLocked, c.onGetLocked)
	d.Handle(engine.OpGetControl, c.onGetControl)
	d.Handle(engine.OpGUIChat, c.onChat)
	d.Handle(engine.OpScanContainer, c.onScanContainer)
	d.Handle(engine.OpRemoveAllItemsEx, c.onRemoveAllItemsEx)
	d.Handle(engine.OpGetFirstRef, c.onNextRef)
	d.Handle(engine.OpGetNextRef, c.onNextRef)
}

// onGetPos позиция по одной оси. Для игрока после оси Z, если хоть одна
// ось изменилась, позиция становится сетевой и уходит серверу.
func (c *Client) onGetPos(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetPos", res.Ref(0))
	if err != nil {
		return err
	}
	axis := uint8(res.Arg(1))
	changed := o.GamePos.Changed(withAxis(o.GamePos.Get(), axis, res.Value))

	if o.Ref() != PlayerReference {
		return nil
	}
	if !c.ui.markPos(changed, axis == AxisZ) {
		return nil
	}

	pos := o.GamePos.Get()
	o.NetworkPos.Set(pos)
	c.broadcast(ctx, transport.Sequenced(transport.PacketUpdatePos, o.ID(), transport.PosPayload{Pos: pos}))
	return nil
}

func (c *Client) onGetAngle(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetAngle", res.Ref(0))
	if err != nil {
		return err
	}
	axis := uint8(res.Arg(1))
	if o.Angle.Changed(withAxis(o.Angle.Get(), axis, res.Value)) {
		c.broadcast(ctx, transport.Sequenced(transport.PacketUpdateAngle, o.ID(), transport.AnglePayload{Axis: axis, Value: res.Value}))
	}
	return nil
}

func (c *Client) onGetParentCell(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetParentCell", res.Ref(0))
	if err != nil {
		return err
	}
	cell := interest.CellID(uint32(res.Value))
	if o.GameCell.Changed(cell) {
		c.broadcast(ctx, transport.Sequenced(transport.PacketUpdateCell, o.ID(), transport.CellPayload{Cell: cell, Pos: o.GamePos.Get()}))
	}
	return nil
}

func (c *Client) onGetActorValue(base bool) dispatch.HandlerFunc {
	return func(ctx context.Context, _ correlation.Handle, res engine.Result) error {
		o, err := c.lookup("GetActorValue", res.Ref(0))
		if err != nil || o.Actor == nil {
			return err
		}
		index := uint8(res.Arg(1))

		values := o.Actor.Values
		if base {
			values = o.Actor.BaseValues
		}
		if values.Set(index, res.Value) {
			c.broadcast(ctx, transport.Ordered(transport.PacketUpdateValue, o.ID(), transport.ValuePayload{Base: base, Index: index, Value: res.Value}))
		}
		return nil
	}
}

func (c *Client) onGetActorState(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetActorState", res.Ref(0))
	if err != nil || o.Actor == nil {
		return err
	}

	idle := res.Uint(1)
	moving := uint8(res.Arg(2))
	weapon := uint8(res.Arg(3))
	flags := uint8(res.Arg(4))
	sneaking := res.Arg(5) != 0

	switch c.ui.chatKeys(flags >> 2) {
	case chatOpened:
		if err := c.DisablePlayerControls(ctx, chatControls); err != nil {
			return err
		}
	case chatClosed:
		if err := c.EnablePlayerControls(ctx, AllControls); err != nil {
			return err
		}
	case chatQuit:
		c.signalQuit()
		return nil
	}

	if moving == animUnknown {
		moving = AnimIdle
	}
	if weapon == animUnknown {
		weapon = AnimIdle
	}

	a := o.Actor
	changed := a.Idle.Changed(idle)
	changed = a.Moving.Changed(moving) || changed
	changed = a.MovingXY.Changed(flags&0x03) || changed
	changed = a.Sneaking.Changed(sneaking) || changed

	if c.ui.stableWeapon(weapon) && a.Weapon.Changed(weapon) {
		changed = true
		switch weapon {
		case AnimEquip:
			a.Alerted.Set(true)
		case AnimUnequip:
			a.Alerted.Set(false)
		}
	}

	if changed {
		c.broadcast(ctx, transport.Ordered(transport.PacketUpdateState, o.ID(), transport.StatePayload{
			Idle:     idle,
			Moving:   moving,
			MovingXY: flags & 0x03,
			Weapon:   a.Weapon.Get(),
			Alerted:  a.Alerted.Get(),
			Sneaking: sneaking,
		}))
	}
	return nil
}

// onGetDead смерть опрашивает конечности и причину в фоне: ответы на эти
// запросы приходят через этот же диспетчер
func (c *Client) onGetDead(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetDead", res.Ref(0))
	if err != nil || o.Actor == nil {
		return err
	}
	dead := res.Bool()
	if !o.Actor.Dead.Changed(dead) {
		return nil
	}

	if !dead {
		c.broadcast(ctx, transport.Ordered(transport.PacketUpdateDead, o.ID(), transport.DeadPayload{Dead: false}))
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reportDeath(ctx, o)
	}()
	return nil
}

func (c *Client) reportDeath(ctx context.Context, o *model.Object) {
	ref := o.Ref()
	limbs, err := c.IsLimbGone(ctx, ref)
	if err != nil {
		c.logger.Warn("⚠️ %v", err)
		return
	}
	cause, err := c.GetCauseOfDeath(ctx, ref)
	if err != nil {
		c.logger.Warn("⚠️ %v", err)
		return
	}

	o.Actor.Limbs.Set(limbs)
	o.Actor.DeathCause.Set(cause)
	c.broadcast(ctx, transport.Ordered(transport.PacketUpdateDead, o.ID(), transport.DeadPayload{Dead: true, Limbs: limbs, Cause: cause}))
}

// onIsLimbGone частичный результат: бит конечности; последняя завершает слот
func (c *Client) onIsLimbGone(_ context.Context, _ correlation.Handle, res engine.Result) error {
	if res.Key == 0 {
		return nil
	}
	limb := uint8(res.Arg(1))
	last := limb == LimbWeapon

	var bit uint16
	if res.Bool() {
		bit = 1 << limb
	}
	return correlation.Update(c.reg.Poll(res.Key, last), func(v uint16) uint16 { return v | bit }, last)
}

// onGetLocked 0: открыт, 1: заперт (уровень не сообщается), 2: взломан
func (c *Client) onGetLocked(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	o, err := c.lookup("GetLocked", res.Ref(0))
	if err != nil {
		return err
	}

	var level uint32
	switch uint32(res.Value) {
	case 0:
		level = model.LockUnlocked
	case 2:
		level = model.LockBroken
	default:
		return nil
	}
	if o.LockLevel.Changed(level) {
		c.broadcast(ctx, transport.Ordered(transport.PacketUpdateLock, o.ID(), transport.LockPayload{Level: level}))
	}
	return nil
}

func (c *Client) onGetControl(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	player, err := c.Player()
	if err != nil {
		return err
	}
	control := uint8(res.Arg(0))
	key := uint8(res.Value)
	if player.Player.Controls.Set(control, key) {
		c.broadcast(ctx, transport.Ordered(transport.PacketUpdateControl, player.ID(), transport.ControlPayload{Control: control, Key: uint32(key)}))
	}
	return nil
}

// onChat сообщение, набранное игроком в окне чата
func (c *Client) onChat(ctx context.Context, _ correlation.Handle, res engine.Result) error {
	msg := truncateChat(res.Text)
	if msg == "" {
		return nil
	}
	var id model.NetworkID
	if player, err := c.Player(); err == nil {
		id = player.ID()
	}
	c.broadcast(ctx, transport.Ordered(transport.PacketChat, id, transport.ChatPayload{Message: msg}))
	return nil
}

// truncateChat обрезает сообщение до MaxChatLength байт по границе символа
func truncateChat(msg string) string {
	if len(msg) <= MaxChatLength {
		return msg
	}
	cut := MaxChatLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// onScanContainer снимок с ключом разрешает синхронный запрос,
// без ключа запускает сверку
func (c *Client) onScanContainer(ctx context.Context, h correlation.Handle, res engine.Result) error {
	o, err := c.lookup("ScanContainer", res.Ref(0))
	if err != nil {
		return err
	}
	entries, err := engine.SnapshotEntries(res.Data)
	if err != nil {
		return &OperationError{Op: "ScanContainer", ID: o.ID(), Err: err}
	}

	if res.Key != 0 {
		return correlation.Resolve(h, entries)
	}
	_, err = c.ScanContainer(ctx, o, entries)
	return err
}

// onRemoveAllItemsEx убирает каждую стопку снимка отдельной командой
func (c *Client) onRemoveAllItemsEx(ctx context.Context, h correlation.Handle, res engine.Result) error {
	o, err := c.lookup("RemoveAllItemsEx", res.Ref(0))
	if err != nil {
		return err
	}
	entries, err := engine.SnapshotEntries(res.Data)
	if err != nil {
		return &OperationError{Op: "RemoveAllItemsEx", ID: o.ID(), Err: err}
	}

	for _, e := range entries {
		if err := c.RemoveItem(ctx, o, e.Base, e.Count, true); err != nil {
			return err
		}
	}
	if res.Key != 0 {
		return correlation.Resolve(h, true)
	}
	return nil
}
