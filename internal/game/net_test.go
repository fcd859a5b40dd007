package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
	"github.com/annel0/mmo-overlay/internal/vec"
)

func TestPayloadAs(t *testing.T) {
	v, ok := payloadAs[transport.PosPayload](transport.PosPayload{Pos: vec.Vec3{X: 1}})
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Pos.X)

	v, ok = payloadAs[transport.PosPayload](&transport.PosPayload{Pos: vec.Vec3{Y: 2}})
	require.True(t, ok)
	assert.Equal(t, 2.0, v.Pos.Y)

	_, ok = payloadAs[transport.PosPayload](transport.LockPayload{})
	assert.False(t, ok)

	var nilPos *transport.PosPayload
	_, ok = payloadAs[transport.PosPayload](nilPos)
	assert.False(t, ok)
}

func TestHandleObjectNewPlacesObject(t *testing.T) {
	f := newFixture(t)
	f.player()

	p := transport.Packet{Type: transport.PacketObjectNew, ID: 0x5000, Payload: &transport.ObjectPayload{
		Kind: model.KindItem,
		Base: 0x600,
		Name: "Nuka-Cola",
		Cell: cellA,
		Pos:  vec.Vec3{X: 5},
	}}
	require.NoError(t, f.c.HandlePacket(context.Background(), p))

	item, ok := f.factory.Get(0x5000)
	require.True(t, ok)
	assert.NotZero(t, item.Ref())
	assert.Equal(t, "Nuka-Cola", item.Name.Get())
	assert.Equal(t, 1, f.bridge.Count(engine.OpSetName))
	assert.Equal(t, 1, f.bridge.Count(engine.OpSetRefCount))

	// повторный пакет не размещает объект второй раз
	require.NoError(t, f.c.HandlePacket(context.Background(), p))
	assert.Equal(t, 1, f.bridge.Count(engine.OpPlaceAtMeHealthPercent))
}

func TestHandleObjectRemoveDeletes(t *testing.T) {
	f := newFixture(t)
	f.player()
	o := f.object(model.KindObject, 0x700, cellA)

	require.NoError(t, f.c.HandlePacket(context.Background(), transport.Packet{Type: transport.PacketObjectRemove, ID: o.ID()}))

	_, ok := f.factory.Get(o.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, f.bridge.Count(engine.OpMarkForDelete))
	assert.Empty(t, f.index.RefsIn([]interest.CellID{cellA}, interest.CategoryObject))
}

func TestHandlePacketUnknownObject(t *testing.T) {
	f := newFixture(t)

	err := f.c.HandlePacket(context.Background(), transport.Ordered(transport.PacketUpdateLock, 0x9999, transport.LockPayload{}))
	assert.ErrorIs(t, err, ErrUnknownObject)
}

func TestHandleActorPacketOnObject(t *testing.T) {
	f := newFixture(t)
	f.player()
	o := f.object(model.KindObject, 0x700, cellA)

	err := f.c.HandlePacket(context.Background(), transport.Ordered(transport.PacketUpdateDead, o.ID(), transport.DeadPayload{Dead: true}))
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestApplyPosActorNearbyIsLeftToAnimation(t *testing.T) {
	f := newFixture(t)
	f.player()
	ctx := context.Background()

	obj := f.object(model.KindObject, 0x700, cellA)
	require.NoError(t, f.c.ApplyPos(ctx, obj, vec.Vec3{X: 10}))
	assert.Equal(t, 3, f.bridge.Count(engine.OpSetPos))

	actor := f.object(model.KindActor, 0x900, cellA)
	require.NoError(t, f.c.ApplyPos(ctx, actor, vec.Vec3{X: 10}))
	assert.Equal(t, 3, f.bridge.Count(engine.OpSetPos))

	require.NoError(t, f.c.ApplyPos(ctx, actor, vec.Vec3{X: 500}))
	assert.Equal(t, 6, f.bridge.Count(engine.OpSetPos))
}

func TestApplyPosDisabledObject(t *testing.T) {
	f := newFixture(t)
	f.player()
	obj := f.object(model.KindObject, 0x700, cellB)
	obj.Enabled.Set(false)

	require.NoError(t, f.c.ApplyPos(context.Background(), obj, vec.Vec3{X: 10}))
	assert.Zero(t, f.bridge.Count(engine.OpSetPos))
	assert.Equal(t, vec.Vec3{X: 10}, obj.NetworkPos.Get())
}

func TestApplyAngleAimingThroughSights(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Weapon.Set(AnimAimIS)

	require.NoError(t, f.c.ApplyAngle(context.Background(), actor, AxisX, 12))

	var groups []any
	for _, cmd := range f.bridge.Commands() {
		if cmd.Opcode == engine.OpPlayGroup {
			groups = append(groups, cmd.Params[1])
		}
	}
	assert.Equal(t, []any{AnimAimISDown, AnimAimISUp}, groups)
	assert.Equal(t, 2, f.bridge.Count(engine.OpSetAngle))
}

func TestApplyLockBrokenBecomesUnpickable(t *testing.T) {
	f := newFixture(t)
	f.player()
	door := f.object(model.KindObject, 0x700, cellA)

	require.NoError(t, f.c.ApplyLock(context.Background(), door, model.LockBroken))

	cmds := f.bridge.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, engine.OpLock, cmds[0].Opcode)
	assert.Equal(t, uint32(255), cmds[0].Params[1])
	assert.NotZero(t, cmds[0].Key)

	// подтверждение движка снимает аренду
	require.Eventually(t, func() bool {
		return !door.LockLevel.Lockable().Locked()
	}, time.Second, 5*time.Millisecond)
}

func TestApplyActorStateWeaponAnimation(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	ctx := context.Background()

	// смена оружия не проигрывается
	require.NoError(t, f.c.ApplyActorState(ctx, actor, transport.StatePayload{Weapon: AnimEquip, Alerted: true}))
	assert.Equal(t, 1, f.bridge.Count(engine.OpSetAlert))
	assert.Zero(t, f.bridge.Count(engine.OpPlayGroup))

	f.bridge.Reset()
	require.NoError(t, f.c.ApplyActorState(ctx, actor, transport.StatePayload{Weapon: AnimAimIS, Alerted: true}))
	var groups []any
	for _, cmd := range f.bridge.Commands() {
		if cmd.Opcode == engine.OpPlayGroup {
			groups = append(groups, cmd.Params[1])
		}
	}
	assert.Equal(t, []any{AnimAimIS, AnimAimISDown, AnimAimISUp}, groups)
}

func TestApplyActorStateIdleSnapsPosition(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Moving.Set(0x10)
	actor.NetworkPos.Set(vec.Vec3{X: 1, Y: 2, Z: 3})

	require.NoError(t, f.c.ApplyActorState(context.Background(), actor, transport.StatePayload{Moving: AnimIdle}))
	assert.Equal(t, 1, f.bridge.Count(engine.OpPlayGroup))
	assert.Equal(t, 3, f.bridge.Count(engine.OpSetPos))
}

func TestApplyDeadKillsWithLimbs(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)

	limbs := uint16(1<<LimbHead1 | 1<<LimbLeftArm1)
	require.NoError(t, f.c.ApplyDead(context.Background(), actor, true, limbs, 2))

	assert.Equal(t, 2, f.bridge.Count(engine.OpKill))
	assert.Equal(t, limbs, actor.Actor.Limbs.Get())

	// повтор не убивает второй раз
	require.NoError(t, f.c.ApplyDead(context.Background(), actor, true, limbs, 2))
	assert.Equal(t, 2, f.bridge.Count(engine.OpKill))
}

func TestApplyDeadRevivesActor(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Dead.Set(true)

	require.NoError(t, f.c.ApplyDead(context.Background(), actor, false, 0, 0))

	assert.Equal(t, 1, f.bridge.Count(engine.OpMarkForDelete))
	assert.Equal(t, 1, f.bridge.Count(engine.OpPlaceAtMeHealthPercent))
	assert.NotEqual(t, interest.Ref(0x900), actor.Ref())
	assert.Zero(t, f.bridge.Count(engine.OpKill))
}

func TestApplyDeadRespawnsPlayer(t *testing.T) {
	f := newFixture(t)
	player := f.player()
	player.Actor.Dead.Set(true)
	ctx := context.Background()

	require.NoError(t, f.c.CenterOnExterior(ctx, 3, -2, true))
	require.NoError(t, f.c.ApplyDead(ctx, player, false, 0, 0))

	assert.Equal(t, 1, f.bridge.Count(engine.OpForceRespawn))
	assert.Equal(t, 2, f.bridge.Count(engine.OpCenterOnExterior))
	assert.True(t, player.Enabled.Get())

	packets := f.rec.For(transport.PacketUpdateDead, player.ID())
	require.Len(t, packets, 1)
	assert.False(t, packets[0].Payload.(transport.DeadPayload).Dead)
}

func TestApplyContainerMirrorsDeltas(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	ctx := context.Background()

	payload := transport.ContainerPayload{Diff: inventory.Diff{Added: []inventory.Entry{
		{ID: 0x7001, Base: 0x50, Count: 3, Condition: 50, Equipped: true},
	}}}
	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateContainer, actor.ID(), &payload)))

	assert.Equal(t, []model.NetworkID{0x7001}, actor.Container.Items.IDs())
	item, ok := f.factory.Get(0x7001)
	require.True(t, ok)
	assert.Equal(t, actor.ID(), item.Item.Holder.Get())

	var add engine.Command
	for _, cmd := range f.bridge.Commands() {
		if cmd.Opcode == engine.OpAddItem {
			add = cmd
		}
	}
	require.Equal(t, engine.OpAddItem, add.Opcode)
	assert.Equal(t, uint32(3), add.Params[2])
	assert.Equal(t, 0.5, add.Params[3])
	assert.Equal(t, 1, f.bridge.Count(engine.OpEquipItem))

	remove := transport.ContainerPayload{Diff: inventory.Diff{Removed: []model.NetworkID{0x7001}}}
	require.NoError(t, f.c.ApplyContainer(ctx, actor, remove))
	assert.Empty(t, actor.Container.Items.IDs())
	assert.Equal(t, 1, f.bridge.Count(engine.OpRemoveItem))
	assert.Equal(t, 1, f.bridge.Count(engine.OpUnequipItem))
}

func TestApplyContainerUnequipsEveryStack(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	ctx := context.Background()

	added := transport.ContainerPayload{Diff: inventory.Diff{Added: []inventory.Entry{
		{ID: 0x7001, Base: 0x10, Count: 1, Condition: 50, Equipped: true},
		{ID: 0x7002, Base: 0x10, Count: 1, Condition: 50, Equipped: true},
	}}}
	require.NoError(t, f.c.ApplyContainer(ctx, actor, added))
	assert.Equal(t, 2, f.bridge.Count(engine.OpEquipItem))

	removed := transport.ContainerPayload{Diff: inventory.Diff{Removed: []model.NetworkID{0x7001, 0x7002}}}
	require.NoError(t, f.c.ApplyContainer(ctx, actor, removed))
	assert.Empty(t, actor.Container.Items.IDs())
	assert.Equal(t, 2, f.bridge.Count(engine.OpUnequipItem))
}

func TestApplyContainerSceneEffects(t *testing.T) {
	f := newFixture(t)
	f.player()
	container := f.object(model.KindContainer, 0x800, cellA)
	onGround := f.object(model.KindItem, 0x801, cellA)

	payload := transport.ContainerPayload{
		Destroyed: []model.NetworkID{onGround.ID()},
		Created:   []transport.ObjectPayload{{ID: 0x7100, Base: 0x60, Cell: cellA, Count: 2}},
	}
	require.NoError(t, f.c.ApplyContainer(context.Background(), container, payload))

	_, ok := f.factory.Get(onGround.ID())
	assert.False(t, ok)
	dropped, ok := f.factory.Get(0x7100)
	require.True(t, ok)
	assert.Equal(t, model.KindItem, dropped.Kind())
	assert.Equal(t, uint32(2), dropped.Item.Count.Get())
	assert.NotZero(t, dropped.Ref())
}

func TestApplyFireWeaponStartsAutoFire(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	ctx := context.Background()

	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateFireWeapon, actor.ID(), transport.FireWeaponPayload{Weapon: 0x4000})))
	assert.Equal(t, 1, f.bridge.Count(engine.OpFireWeapon))
	assert.False(t, f.c.AutoFiring(actor.ID()))

	require.NoError(t, f.c.ApplyFireWeapon(ctx, actor, 0x4000, 5))
	assert.True(t, f.c.AutoFiring(actor.ID()))

	require.NoError(t, f.c.ApplyActorState(ctx, actor, transport.StatePayload{Firing: false}))
	assert.False(t, f.c.AutoFiring(actor.ID()))
}

func TestEnvironmentIsReappliedOnLoad(t *testing.T) {
	f := newFixture(t)
	f.player()
	ctx := context.Background()

	require.NoError(t, f.c.ApplyGlobalValue(ctx, 0x3A, 7))
	require.NoError(t, f.c.ApplyWeather(ctx, 0x1234))
	f.bridge.Reset()

	require.NoError(t, f.c.LoadEnvironment(ctx))
	assert.Equal(t, 1, f.bridge.Count(engine.OpSetGlobalValue))
	assert.Equal(t, 1, f.bridge.Count(engine.OpForceWeather))
}

func TestHandleChatShowsMessage(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.c.HandlePacket(context.Background(), transport.Ordered(transport.PacketChat, 0, transport.ChatPayload{Message: "hi"})))
	cmds := f.bridge.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, engine.OpChatMessage, cmds[0].Opcode)
	assert.Equal(t, "hi", cmds[0].Params[0])
}

func TestHandleContextPacketEnablesNewItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// игрок известен, но контекст еще не приходил
	p := f.factory.Create(1, model.KindPlayer, PlayerReference, PlayerBase)
	p.NetworkCell.Set(cellB)
	f.index.Track(PlayerReference, model.KindPlayer, cellB)

	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateContext, 0, transport.ContextPayload{
		Cells: []interest.CellID{cellA, cellB},
	})))
	assert.True(t, f.index.IsInContext(cellA))
	assert.Contains(t, f.index.RefsIn([]interest.CellID{cellA}, interest.CategoryPlayer), PlayerReference)
	assert.Equal(t, cellA, p.GameCell.Get())

	require.NoError(t, f.c.HandlePacket(ctx, transport.Packet{Type: transport.PacketObjectNew, ID: 0x5100, Payload: &transport.ObjectPayload{
		Kind: model.KindItem,
		Base: 0x600,
		Cell: cellA,
	}}))

	item, ok := f.factory.Get(0x5100)
	require.True(t, ok)
	assert.True(t, item.Enabled.Get())
	assert.Equal(t, 1, f.bridge.Count(engine.OpMoveTo))
	assert.Zero(t, f.bridge.Count(engine.OpDisable))
}

func TestHandleContextPacketWithoutPlayer(t *testing.T) {
	f := newFixture(t)

	err := f.c.HandlePacket(context.Background(), transport.Ordered(transport.PacketUpdateContext, 0, transport.ContextPayload{
		Cells: []interest.CellID{cellA},
	}))
	assert.ErrorIs(t, err, ErrNoPlayer)
	assert.False(t, f.index.IsInContext(cellA))
}

func TestHandleInteriorAndExteriorPackets(t *testing.T) {
	f := newFixture(t)
	f.player()
	ctx := context.Background()

	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateInterior, 0, transport.InteriorPayload{Cell: "GSDocMitchellHouse", Spawn: true})))
	assert.Equal(t, 1, f.bridge.Count(engine.OpCenterOnCell))

	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateExterior, 0, &transport.ExteriorPayload{World: 0x3C, X: 3, Y: -2})))
	assert.Equal(t, 1, f.bridge.Count(engine.OpCenterOnWorld))

	require.NoError(t, f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateExterior, 0, transport.ExteriorPayload{X: 3, Y: -2})))
	assert.Equal(t, 1, f.bridge.Count(engine.OpCenterOnExterior))

	err := f.c.HandlePacket(ctx, transport.Ordered(transport.PacketUpdateInterior, 0, transport.LockPayload{}))
	assert.Error(t, err)
}
