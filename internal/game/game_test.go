package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-overlay/internal/config"
	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/dispatch"
	"github.com/annel0/mmo-overlay/internal/engine"
	"github.com/annel0/mmo-overlay/internal/engine/enginetest"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
	"github.com/annel0/mmo-overlay/internal/transport/transporttest"
	"github.com/annel0/mmo-overlay/internal/vec"
)

const (
	cellA interest.CellID = 0x1000
	cellB interest.CellID = 0x2000
)

// fakeEngine отвечает на команды как движок: эхо для команд без
// результата и значения для запросов
type fakeEngine struct {
	mu      sync.Mutex
	nextRef uint32
	bases   map[uint32]float64
	refs    []float64
	scanPos int
	limbs   map[float64]bool
	cause   float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextRef: 0xFF000800,
		bases:   map[uint32]float64{},
		limbs:   map[float64]bool{},
	}
}

func (e *fakeEngine) respond(cmd engine.Command) (engine.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := toArgs(cmd.Params)
	res := engine.Result{Opcode: cmd.Opcode, Key: cmd.Key, Args: args}

	switch cmd.Opcode {
	case engine.OpPlaceAtMe, engine.OpPlaceAtMeHealthPercent:
		res.Value = float64(e.nextRef)
		e.nextRef++
	case engine.OpGetBaseObject:
		res.Value = e.bases[uint32(args[0])]
	case engine.OpGetFirstRef:
		e.scanPos = 0
		res.Value = e.nextScanRef()
	case engine.OpGetNextRef:
		res.Value = e.nextScanRef()
	case engine.OpIsLimbGone:
		if e.limbs[args[1]] {
			res.Value = 1
		}
	case engine.OpGetCauseOfDeath:
		res.Value = e.cause
	case engine.OpGetRefCount:
		res.Value = 1
	case engine.OpScanContainer, engine.OpRemoveAllItemsEx:
		return res, false
	}
	return res, true
}

func (e *fakeEngine) nextScanRef() float64 {
	if e.scanPos >= len(e.refs) {
		return 0
	}
	ref := e.refs[e.scanPos]
	e.scanPos++
	return ref
}

func toArgs(params []any) []float64 {
	out := make([]float64, 0, len(params))
	for _, p := range params {
		switch v := p.(type) {
		case uint8:
			out = append(out, float64(v))
		case int8:
			out = append(out, float64(v))
		case uint16:
			out = append(out, float64(v))
		case int32:
			out = append(out, float64(v))
		case uint32:
			out = append(out, float64(v))
		case int:
			out = append(out, float64(v))
		case float64:
			out = append(out, v)
		case bool:
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		default:
			out = append(out, 0)
		}
	}
	return out
}

type fixture struct {
	engine  *fakeEngine
	bridge  *enginetest.Bridge
	rec     *transporttest.Recorder
	factory *model.Factory
	index   *interest.Index
	d       *dispatch.Dispatcher
	c       *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.NewNopLogger()
	reg := correlation.NewRegistry(log)

	f := &fixture{
		engine:  newFakeEngine(),
		rec:     transporttest.New(),
		factory: model.NewFactory(reg),
		index:   interest.NewIndex(log),
	}
	f.bridge = enginetest.New(f.engine.respond)

	cfg := config.Default()
	cfg.Engine.Timeouts = config.Timeouts{Query: time.Second, Placement: time.Second, Load: time.Second}
	f.c = New(f.factory, f.index, f.bridge, f.rec, cfg, log)
	f.c.RespawnDelay = 0

	f.d = dispatch.New(reg, f.bridge, log)
	f.d.Fatal = func(error) {}
	f.c.Register(f.d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.d.Run(ctx, f.bridge.Results())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		f.c.Close()
	})
	return f
}

// player создает игрока в ячейке cellA, которая становится контекстом
func (f *fixture) player() *model.Object {
	p := f.factory.Create(1, model.KindPlayer, PlayerReference, PlayerBase)
	p.NetworkCell.Set(cellA)
	p.GameCell.Set(cellA)
	f.index.Track(PlayerReference, model.KindPlayer, cellA)
	f.index.ReplaceContext([]interest.CellID{cellA})
	return p
}

func (f *fixture) object(kind model.Kind, ref interest.Ref, cell interest.CellID) *model.Object {
	o := f.factory.Create(0, kind, ref, 0x500)
	o.NetworkCell.Set(cell)
	o.GameCell.Set(cell)
	f.index.Track(ref, kind, cell)
	return o
}

func (f *fixture) dispatch(t *testing.T, res engine.Result) {
	t.Helper()
	require.NoError(t, f.d.Dispatch(context.Background(), res))
}

func TestGetBaseResolves(t *testing.T) {
	f := newFixture(t)
	f.engine.bases[0x100] = 0x1234

	base, err := f.c.GetBase(context.Background(), 0x100)
	require.NoError(t, err)
	assert.Equal(t, model.BaseID(0x1234), base)
}

func TestGetBaseTimeout(t *testing.T) {
	f := newFixture(t)
	f.bridge.SetResponder(nil)
	f.c.timeouts.Query = 50 * time.Millisecond

	_, err := f.c.GetBase(context.Background(), 0x100)
	require.Error(t, err)

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "GetBase", opErr.Op)
	assert.True(t, correlation.IsTimeout(err))
}

func TestNewObjectPlacesAndTracks(t *testing.T) {
	f := newFixture(t)
	f.player()
	ctx := context.Background()

	near := f.factory.Create(0, model.KindObject, 0, 0x500)
	near.NetworkCell.Set(cellA)
	require.NoError(t, f.c.NewObject(ctx, near))

	ref := near.Ref()
	require.NotZero(t, ref)
	assert.Contains(t, f.index.RefsIn([]interest.CellID{cellA}, interest.CategoryObject), ref)
	assert.True(t, near.Enabled.Get())
	assert.Equal(t, 1, f.bridge.Count(engine.OpMoveTo))
	// отложенная команда замка выполнена после включения
	assert.Equal(t, 1, f.bridge.Count(engine.OpUnlock))

	far := f.factory.Create(0, model.KindObject, 0, 0x501)
	far.NetworkCell.Set(cellB)
	require.NoError(t, f.c.NewObject(ctx, far))

	assert.False(t, far.Enabled.Get())
	assert.Equal(t, 1, f.bridge.Count(engine.OpDisable))
	assert.Contains(t, f.index.RefsIn([]interest.CellID{cellB}, interest.CategoryObject), far.Ref())
}

func TestNewItemRejectsHeldItem(t *testing.T) {
	f := newFixture(t)
	f.player()

	item := f.factory.Create(0, model.KindItem, 0, 0x600)
	item.Item.Holder.Set(42)

	err := f.c.NewItem(context.Background(), item)
	assert.ErrorIs(t, err, ErrBoundItem)
	assert.Zero(t, f.bridge.Count(engine.OpPlaceAtMeHealthPercent))
}

func TestScanCellSwapsBucket(t *testing.T) {
	f := newFixture(t)
	f.player()
	f.index.Track(0x900, interest.CategoryItem, cellA)
	f.engine.refs = []float64{0x901, 0x902}

	diff, err := f.c.ScanCell(context.Background(), FormTypeInventory)
	require.NoError(t, err)

	assert.ElementsMatch(t, []interest.Ref{0x901, 0x902}, diff.Appeared)
	assert.Equal(t, []interest.Ref{0x900}, diff.Disappeared)
	assert.Equal(t, 1, f.bridge.Count(engine.OpGetFirstRef))
	assert.Equal(t, 2, f.bridge.Count(engine.OpGetNextRef))
}

func TestScanCellUnknownFormType(t *testing.T) {
	f := newFixture(t)
	f.player()

	_, err := f.c.ScanCell(context.Background(), FormType(0x01))
	assert.ErrorIs(t, err, ErrUnknownFormType)
}

func TestPlayerPosBroadcastsAfterLastAxis(t *testing.T) {
	f := newFixture(t)
	player := f.player()

	for axis, v := range []float64{10, 20, 30} {
		f.dispatch(t, engine.Result{Opcode: engine.OpGetPos, Args: []float64{float64(PlayerReference), float64(axis)}, Value: v})
	}

	packets := f.rec.OfType(transport.PacketUpdatePos)
	require.Len(t, packets, 1)
	assert.Equal(t, transport.ReliableSequenced, packets[0].Reliability)
	assert.Equal(t, transport.PosPayload{Pos: vec.Vec3{X: 10, Y: 20, Z: 30}}, packets[0].Payload)
	assert.Equal(t, vec.Vec3{X: 10, Y: 20, Z: 30}, player.NetworkPos.Get())

	// та же позиция ничего не отправляет
	f.dispatch(t, engine.Result{Opcode: engine.OpGetPos, Args: []float64{float64(PlayerReference), float64(AxisZ)}, Value: 30})
	assert.Len(t, f.rec.OfType(transport.PacketUpdatePos), 1)
}

func TestUnknownReferenceIsReported(t *testing.T) {
	f := newFixture(t)

	err := f.d.Dispatch(context.Background(), engine.Result{Opcode: engine.OpGetAngle, Args: []float64{0x777, 0}, Value: 1})
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func stateResult(ref interest.Ref, moving, weapon, flags uint8) engine.Result {
	return engine.Result{
		Opcode: engine.OpGetActorState,
		Args:   []float64{float64(ref), 0, float64(moving), float64(weapon), float64(flags), 0},
	}
}

func TestChatKeysToggleControlsAndQuit(t *testing.T) {
	f := newFixture(t)
	f.player()

	f.dispatch(t, stateResult(PlayerReference, AnimIdle, AnimIdle, chatKeyOpen<<2))
	assert.Equal(t, 1, f.bridge.Count(engine.OpDisablePlayerControls))

	f.dispatch(t, stateResult(PlayerReference, AnimIdle, AnimIdle, chatKeySend<<2))
	assert.Equal(t, 1, f.bridge.Count(engine.OpEnablePlayerControls))

	select {
	case <-f.c.Quit():
		t.Fatal("quit before chat close key")
	default:
	}

	f.dispatch(t, stateResult(PlayerReference, AnimIdle, AnimIdle, 0))
	f.dispatch(t, stateResult(PlayerReference, AnimIdle, AnimIdle, chatKeyClose<<2))

	select {
	case <-f.c.Quit():
	case <-time.After(time.Second):
		t.Fatal("quit not signalled")
	}
}

func TestWeaponAnimationNeedsTwoFrames(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)

	f.dispatch(t, stateResult(0x900, AnimIdle, AnimEquip, 0))
	assert.Zero(t, f.rec.Len())

	f.dispatch(t, stateResult(0x900, AnimIdle, AnimEquip, 0))
	packets := f.rec.For(transport.PacketUpdateState, actor.ID())
	require.Len(t, packets, 1)

	state := packets[0].Payload.(transport.StatePayload)
	assert.Equal(t, AnimEquip, state.Weapon)
	assert.True(t, state.Alerted)
	assert.True(t, actor.Actor.Alerted.Get())
}

func TestUnknownAnimationMapsToIdle(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Moving.Set(0x10)

	f.dispatch(t, stateResult(0x900, animUnknown, AnimIdle, 0))
	assert.Equal(t, AnimIdle, actor.Actor.Moving.Get())
}

func TestDeathReportsLimbsAndCause(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	f.engine.limbs[float64(LimbHead1)] = true
	f.engine.limbs[float64(LimbWeapon)] = true
	f.engine.cause = 3

	f.bridge.Push(engine.Result{Opcode: engine.OpGetDead, Args: []float64{0x900}, Value: 1})

	require.Eventually(t, func() bool {
		return len(f.rec.For(transport.PacketUpdateDead, actor.ID())) == 1
	}, time.Second, 10*time.Millisecond)

	dead := f.rec.For(transport.PacketUpdateDead, actor.ID())[0].Payload.(transport.DeadPayload)
	assert.True(t, dead.Dead)
	assert.Equal(t, uint16(1<<LimbHead1|1<<LimbWeapon), dead.Limbs)
	assert.Equal(t, int8(3), dead.Cause)
	assert.Equal(t, int(LimbWeapon)+1, f.bridge.Count(engine.OpIsLimbGone))
}

func TestGetLockedReportsBrokenOnly(t *testing.T) {
	f := newFixture(t)
	f.player()
	door := f.object(model.KindObject, 0x700, cellA)

	f.dispatch(t, engine.Result{Opcode: engine.OpGetLocked, Args: []float64{0x700}, Value: 1})
	assert.Zero(t, f.rec.Len())

	f.dispatch(t, engine.Result{Opcode: engine.OpGetLocked, Args: []float64{0x700}, Value: 2})
	packets := f.rec.For(transport.PacketUpdateLock, door.ID())
	require.Len(t, packets, 1)
	assert.Equal(t, transport.LockPayload{Level: model.LockBroken}, packets[0].Payload)
}

func TestControlChangeBroadcasts(t *testing.T) {
	f := newFixture(t)
	player := f.player()

	f.dispatch(t, engine.Result{Opcode: engine.OpGetControl, Args: []float64{4}, Value: 0x11})
	f.dispatch(t, engine.Result{Opcode: engine.OpGetControl, Args: []float64{4}, Value: 0x11})

	packets := f.rec.For(transport.PacketUpdateControl, player.ID())
	require.Len(t, packets, 1)
	assert.Equal(t, transport.ControlPayload{Control: 4, Key: 0x11}, packets[0].Payload)
}

func TestChatMessageIsTruncated(t *testing.T) {
	f := newFixture(t)
	player := f.player()

	f.dispatch(t, engine.Result{Opcode: engine.OpGUIChat, Text: strings.Repeat("a", 100)})

	packets := f.rec.For(transport.PacketChat, player.ID())
	require.Len(t, packets, 1)
	assert.Len(t, packets[0].Payload.(transport.ChatPayload).Message, MaxChatLength)
}

func TestTruncateChat(t *testing.T) {
	assert.Equal(t, "hello", truncateChat("hello"))

	// 3-байтовые символы: 21 целиком помещается в 64 байта
	msg := truncateChat(strings.Repeat("€", 30))
	assert.True(t, utf8.ValidString(msg))
	assert.Len(t, msg, 63)
}

func TestUpdateContextTogglesObjects(t *testing.T) {
	f := newFixture(t)
	f.player()
	leaving := f.object(model.KindObject, 0x700, cellA)
	entering := f.object(model.KindObject, 0x701, cellB)
	entering.Enabled.Set(false)
	entering.GameCell.Set(0)

	require.NoError(t, f.c.UpdateContext(context.Background(), []interest.CellID{cellB}))

	assert.False(t, leaving.Enabled.Get())
	assert.True(t, entering.Enabled.Get())
	assert.Equal(t, cellB, entering.GameCell.Get())
	assert.Equal(t, 1, f.bridge.Count(engine.OpDisable))
	assert.Equal(t, 1, f.bridge.Count(engine.OpEnable))
	assert.Equal(t, 1, f.bridge.Count(engine.OpMoveTo))
	assert.True(t, f.index.IsInContext(cellB))
	assert.False(t, f.index.IsInContext(cellA))
}

func TestDelayOrExecuteQueuesUntilContext(t *testing.T) {
	f := newFixture(t)
	f.player()
	o := f.object(model.KindObject, 0x701, cellB)
	ctx := context.Background()

	calls := 0
	task := func(context.Context, correlation.Key) error {
		calls++
		return nil
	}

	require.NoError(t, f.c.DelayOrExecute(ctx, o, task, 0))
	assert.Zero(t, calls)

	require.NoError(t, f.c.UpdateContext(ctx, []interest.CellID{cellB}))
	assert.Equal(t, 1, calls)

	require.NoError(t, f.c.DelayOrExecute(ctx, o, task, 0))
	assert.Equal(t, 2, calls)
}

func TestBaseRaceCache(t *testing.T) {
	cache := NewBaseRaceCache()
	calls := 0
	fn := func() error {
		calls++
		return nil
	}

	applied, err := cache.Apply(0x10, 0x20, fn)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, _ = cache.Apply(0x10, 0x20, fn)
	assert.False(t, applied)

	applied, _ = cache.Apply(0x10, 0x21, fn)
	assert.True(t, applied)
	assert.Equal(t, 2, calls)

	cache.Clear()
	assert.Zero(t, cache.Len())
	applied, _ = cache.Apply(0x10, 0x21, fn)
	assert.True(t, applied)
}

func TestBaseRaceCacheRetriesAfterFailure(t *testing.T) {
	cache := NewBaseRaceCache()
	failed := errors.New("bridge closed")

	applied, err := cache.Apply(0x10, 0x20, func() error { return failed })
	assert.True(t, applied)
	assert.ErrorIs(t, err, failed)
	assert.Zero(t, cache.Len())

	applied, err = cache.Apply(0x10, 0x20, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, applied)

	// неудачная смена расы возвращает прежнюю
	_, err = cache.Apply(0x10, 0x21, func() error { return failed })
	assert.ErrorIs(t, err, failed)
	applied, _ = cache.Apply(0x10, 0x20, func() error { return nil })
	assert.False(t, applied)
}

func TestSetActorRaceSkipsCreatures(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Race.Set(CreatureRace)

	require.NoError(t, f.c.SetActorRace(context.Background(), actor, 0))
	assert.Zero(t, f.bridge.Count(engine.OpMatchRace))

	actor.Actor.Race.Set(0x19)
	require.NoError(t, f.c.SetActorRace(context.Background(), actor, 2))
	require.NoError(t, f.c.SetActorRace(context.Background(), actor, 2))
	assert.Equal(t, 1, f.bridge.Count(engine.OpMatchRace))
	assert.Equal(t, 1, f.bridge.Count(engine.OpAgeRace))
}

func TestScanContainerWithoutKeyReconciles(t *testing.T) {
	f := newFixture(t)
	f.player()
	container := f.object(model.KindContainer, 0x800, cellA)
	item := f.factory.Create(0, model.KindItem, 0, 0x50)
	item.Item.Count.Set(2)
	item.Item.Holder.Set(container.ID())
	container.Container.Items.Add(item.ID())

	data := engine.EncodeSnapshot([]engine.SnapshotItem{{Base: 0x50, Count: 2, Equipped: true, Condition: 1}})
	f.dispatch(t, engine.Result{Opcode: engine.OpScanContainer, Args: []float64{0x800}, Data: data})

	packets := f.rec.For(transport.PacketUpdateContainer, container.ID())
	require.Len(t, packets, 1)
	payload := packets[0].Payload.(transport.ContainerPayload)
	assert.Equal(t, []model.NetworkID{item.ID()}, payload.Diff.Removed)
	require.Len(t, payload.Diff.Added, 1)
	assert.True(t, payload.Diff.Added[0].Equipped)
}

func TestLoadGameStripsExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.LoadGame(ctx, "vault.fos"))
	require.NoError(t, f.c.LoadGame(ctx, ""))

	var saves []any
	for _, cmd := range f.bridge.Commands() {
		if cmd.Opcode == engine.OpLoad {
			saves = append(saves, cmd.Params[0])
		}
	}
	assert.Equal(t, []any{"vault", "vault"}, saves)
}

func TestCenterOnCellSpawnRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.player()
	ctx := context.Background()

	require.NoError(t, f.c.CenterOnCell(ctx, "GSDocMitchellHouse", true))
	require.NoError(t, f.c.CenterOnCell(ctx, "GSDocMitchellHouse", true))
	assert.Equal(t, 1, f.bridge.Count(engine.OpCenterOnCell))

	require.NoError(t, f.c.respawn(ctx))
	assert.Equal(t, 2, f.bridge.Count(engine.OpCenterOnCell))
}

func TestAutoFireStopsOnAnimationChange(t *testing.T) {
	f := newFixture(t)
	f.player()
	actor := f.object(model.KindActor, 0x900, cellA)
	actor.Actor.Weapon.Set(AnimAim)

	weapon := f.factory.Create(0, model.KindItem, 0, 0x4000)
	weapon.Item.Equipped.Set(true)
	weapon.Item.Holder.Set(actor.ID())
	actor.Container.Items.Add(weapon.ID())

	f.c.StartAutoFire(context.Background(), actor, 0x4000, 100)
	assert.True(t, f.c.AutoFiring(actor.ID()))

	require.Eventually(t, func() bool {
		return f.bridge.Count(engine.OpFireWeapon) >= 2
	}, time.Second, 5*time.Millisecond)

	actor.Actor.Weapon.Set(AnimIdle)
	require.Eventually(t, func() bool {
		return !f.c.AutoFiring(actor.ID())
	}, time.Second, 5*time.Millisecond)
}
