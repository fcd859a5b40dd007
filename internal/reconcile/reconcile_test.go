package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-overlay/internal/config"
	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/transport"
	"github.com/annel0/mmo-overlay/internal/transport/transporttest"
	"github.com/annel0/mmo-overlay/internal/vec"
)

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name   string
		counts []uint32
		target uint32
		limit  int
		want   []int
	}{
		{"smallest cardinality wins", []uint32{3, 2, 5}, 5, 0, []int{2}},
		{"pair when no single", []uint32{3, 2}, 5, 0, []int{0, 1}},
		{"ties by candidate order", []uint32{2, 3, 1, 4}, 5, 0, []int{0, 1}},
		{"three stacks", []uint32{1, 1, 1, 7}, 3, 0, []int{0, 1, 2}},
		{"no exact sum", []uint32{4, 4}, 3, 0, nil},
		{"zero target", []uint32{1}, 0, 0, nil},
		{"limit truncates", []uint32{1, 1, 5}, 5, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestMatch(tt.counts, tt.target, tt.limit))
		})
	}
}

type fakeScene struct {
	mu        sync.Mutex
	scan      interest.CellDiff
	scanErr   error
	bases     map[interest.Ref]model.BaseID
	counts    map[interest.Ref]uint32
	snapshots map[model.NetworkID][]inventory.Entry
	scans     int
}

func (s *fakeScene) ScanCell(ctx context.Context, cell interest.CellID, cat interest.Category) (interest.CellDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return s.scan, s.scanErr
}

func (s *fakeScene) BaseOf(ctx context.Context, ref interest.Ref) (model.BaseID, error) {
	if b, ok := s.bases[ref]; ok {
		return b, nil
	}
	return 0, errors.New("no base")
}

func (s *fakeScene) RefCount(ctx context.Context, ref interest.Ref) (uint32, error) {
	return s.counts[ref], nil
}

func (s *fakeScene) ContainerSnapshot(ctx context.Context, container *model.Object) ([]inventory.Entry, error) {
	snap, ok := s.snapshots[container.ID()]
	if !ok {
		return nil, &correlation.TimeoutError{Key: 1}
	}
	return snap, nil
}

func (s *fakeScene) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

type fixture struct {
	factory *model.Factory
	index   *interest.Index
	scene   *fakeScene
	rec     *transporttest.Recorder
	r       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.NewNopLogger()
	f := &fixture{
		factory: model.NewFactory(correlation.NewRegistry(log)),
		index:   interest.NewIndex(log),
		scene:   &fakeScene{bases: map[interest.Ref]model.BaseID{}, counts: map[interest.Ref]uint32{}, snapshots: map[model.NetworkID][]inventory.Entry{}},
		rec:     transporttest.New(),
	}
	f.r = New(f.factory, f.index, f.scene, f.rec, config.Default().Reconcile, log)
	return f
}

func (f *fixture) container(ref interest.Ref, cell interest.CellID) *model.Object {
	c := f.factory.Create(0, model.KindContainer, ref, 0x10)
	c.GameCell.Set(cell)
	return c
}

func (f *fixture) give(c *model.Object, base model.BaseID, count uint32, equipped bool) *model.Object {
	item := f.factory.Create(0, model.KindItem, 0, base)
	item.Item.Count.Set(count)
	item.Item.Equipped.Set(equipped)
	c.Container.Items.Add(item.ID())
	return item
}

func payloadOf(t *testing.T, p transport.Packet) transport.ContainerPayload {
	t.Helper()
	cp, ok := p.Payload.(transport.ContainerPayload)
	require.True(t, ok)
	return cp
}

func TestEquipOnlyChangeBroadcastsDirectly(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)
	old := f.give(c, 0x100, 1, false)

	out, err := f.r.Reconcile(context.Background(), c, []inventory.Entry{{Base: 0x100, Count: 1, Condition: 100, Equipped: true}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, out)

	packets := f.rec.For(transport.PacketUpdateContainer, c.ID())
	require.Len(t, packets, 1)
	assert.Equal(t, transport.ReliableOrdered, packets[0].Reliability)
	cp := payloadOf(t, packets[0])
	assert.Equal(t, []model.NetworkID{old.ID()}, cp.Diff.Removed)
	require.Len(t, cp.Diff.Added, 1)
	assert.NotZero(t, cp.Diff.Added[0].ID)

	// модель приведена к снимку
	entries := f.r.Entries(c)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Equipped)
	assert.False(t, c.Lock().Locked())
	assert.Zero(t, f.scene.scanCount())
}

func TestIdenticalSnapshotSendsNothing(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)
	f.give(c, 0x100, 2, false)

	out, err := f.r.Reconcile(context.Background(), c, []inventory.Entry{{Base: 0x100, Count: 2, Condition: 100}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDirect, out)
	assert.Zero(t, f.rec.Len())
}

func TestDropSynthesizesItemsInFrontOfContainer(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)
	c.GamePos.Set(vec.Vec3{X: 10, Y: 20, Z: 5})
	f.give(c, 0x100, 5, false)

	f.scene.scan = interest.CellDiff{Appeared: []interest.Ref{0xB, 0xA}}
	f.scene.bases[0xA] = 0x100
	f.scene.bases[0xB] = 0x200
	f.scene.counts[0xA] = 3
	f.scene.counts[0xB] = 1

	out, err := f.r.Reconcile(context.Background(), c, []inventory.Entry{{Base: 0x100, Count: 2, Condition: 100}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, out)
	f.r.Wait()

	packets := f.rec.For(transport.PacketUpdateContainer, c.ID())
	require.Len(t, packets, 1)
	cp := payloadOf(t, packets[0])
	require.Len(t, cp.Created, 1)
	created := cp.Created[0]
	assert.Equal(t, model.BaseID(0x100), created.Base)
	assert.Equal(t, uint32(3), created.Count)
	assert.Equal(t, 100.0, created.Condition)
	assert.Equal(t, interest.CellID(7), created.Cell)
	assert.True(t, vec.Vec3{X: 10, Y: 120, Z: 75}.Near(created.Pos, 1e-9))

	item, ok := f.factory.Lookup(0xA)
	require.True(t, ok)
	assert.Equal(t, created.ID, item.ID())
	assert.False(t, c.Lock().Locked())
}

func TestPickupDestroysSceneItems(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)

	ground := f.factory.Create(0, model.KindItem, 0xC, 0x300)
	ground.Item.Count.Set(2)
	f.index.Track(0xC, interest.CategoryItem, 7)

	f.scene.scan = interest.CellDiff{Disappeared: []interest.Ref{0xC, 0xD}}

	_, err := f.r.Reconcile(context.Background(), c, []inventory.Entry{{Base: 0x300, Count: 2, Condition: 100}})
	require.NoError(t, err)
	f.r.Wait()

	packets := f.rec.For(transport.PacketUpdateContainer, c.ID())
	require.Len(t, packets, 1)
	cp := payloadOf(t, packets[0])
	assert.Equal(t, []model.NetworkID{ground.ID()}, cp.Destroyed)
	require.Len(t, cp.Diff.Added, 1)

	_, ok := f.factory.Get(ground.ID())
	assert.False(t, ok)
	assert.Len(t, f.r.Entries(c), 1)
}

func TestUnresolvedDeltaIsDropped(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)
	f.give(c, 0x100, 4, false)
	f.scene.scanErr = errors.New("scan timeout")

	_, err := f.r.Reconcile(context.Background(), c, nil)
	require.NoError(t, err)
	f.r.Wait()

	packets := f.rec.For(transport.PacketUpdateContainer, c.ID())
	require.Len(t, packets, 1)
	cp := payloadOf(t, packets[0])
	assert.Len(t, cp.Diff.Removed, 1)
	assert.Empty(t, cp.Created)
	assert.Empty(t, cp.Destroyed)
}

func TestSiblingTransferNetsWithoutSceneScan(t *testing.T) {
	f := newFixture(t)
	a := f.container(0x50, 7)
	b := f.container(0x51, 7)
	other := f.container(0x52, 8)
	f.give(a, 0x100, 3, false)

	f.scene.snapshots[b.ID()] = []inventory.Entry{{Base: 0x100, Count: 3, Condition: 100}}
	f.scene.snapshots[other.ID()] = []inventory.Entry{{Base: 0x100, Count: 3, Condition: 100}}

	_, err := f.r.Reconcile(context.Background(), a, nil)
	require.NoError(t, err)
	f.r.Wait()

	assert.Zero(t, f.scene.scanCount())
	require.Len(t, f.rec.For(transport.PacketUpdateContainer, b.ID()), 1)
	require.Len(t, f.rec.For(transport.PacketUpdateContainer, a.ID()), 1)
	assert.Empty(t, f.rec.For(transport.PacketUpdateContainer, other.ID()))
	assert.Len(t, f.r.Entries(b), 1)
}

func TestLockedContainerIsSkipped(t *testing.T) {
	f := newFixture(t)
	c := f.container(0x50, 7)
	key, ok := c.Lock().TryLock()
	require.True(t, ok)
	defer c.Lock().Unlock(key)

	out, err := f.r.Reconcile(context.Background(), c, []inventory.Entry{{Base: 0x100, Count: 1, Condition: 100}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, f.rec.Len())
}

func TestNetPairNeverFlipsSign(t *testing.T) {
	ours := inventory.ItemDelta{Base: 1, Count: -3}
	theirs := inventory.ItemDelta{Base: 1, Count: 5}
	netPair(&ours, &theirs)
	assert.Equal(t, int32(0), ours.Count)
	assert.Equal(t, int32(2), theirs.Count)

	ours = inventory.ItemDelta{Base: 1, Count: 4}
	theirs = inventory.ItemDelta{Base: 1, Count: -1}
	netPair(&ours, &theirs)
	assert.Equal(t, int32(3), ours.Count)
	assert.Equal(t, int32(0), theirs.Count)

	same := inventory.ItemDelta{Base: 1, Count: 2}
	also := inventory.ItemDelta{Base: 1, Count: 2}
	netPair(&same, &also)
	assert.Equal(t, int32(2), same.Count)
}
