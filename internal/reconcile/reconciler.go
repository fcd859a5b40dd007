// Package reconcile сверяет инвентари контейнеров движка с сетевой моделью
// и объясняет необъясненные изменения соседними контейнерами и сценой.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-overlay/internal/config"
	"github.com/annel0/mmo-overlay/internal/correlation"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/metrics"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/observability"
	"github.com/annel0/mmo-overlay/internal/transport"
)

// Scene блокирующие запросы к движку, нужные для разбора неоднозначных дельт.
type Scene interface {
	// ScanCell сканирует ячейку и возвращает появившиеся и исчезнувшие ссылки категории
	ScanCell(ctx context.Context, cell interest.CellID, cat interest.Category) (interest.CellDiff, error)
	BaseOf(ctx context.Context, ref interest.Ref) (model.BaseID, error)
	RefCount(ctx context.Context, ref interest.Ref) (uint32, error)
	// ContainerSnapshot текущее содержимое контейнера в движке
	ContainerSnapshot(ctx context.Context, container *model.Object) ([]inventory.Entry, error)
}

// Outcome итог синхронной части сверки
type Outcome int

const (
	// OutcomeSkipped контейнер уже сверяется
	OutcomeSkipped Outcome = iota
	// OutcomeDirect дельты объяснены экипировкой, пакет отправлен сразу
	OutcomeDirect
	// OutcomeDeferred запущена фоновая задача разбора
	OutcomeDeferred
)

// Reconciler сверяет контейнеры. Фоновые задачи держат аренду контейнера
// от первого шага до финальной рассылки.
type Reconciler struct {
	factory *model.Factory
	index   *interest.Index
	scene   Scene
	out     transport.Broadcaster
	cfg     config.ReconcileConfig
	logger  *logging.Logger
	tracer  trace.Tracer

	wg sync.WaitGroup
}

// New создает сверщик
func New(factory *model.Factory, index *interest.Index, scene Scene, out transport.Broadcaster, cfg config.ReconcileConfig, logger *logging.Logger) *Reconciler {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 12
	}
	return &Reconciler{
		factory: factory,
		index:   index,
		scene:   scene,
		out:     out,
		cfg:     cfg,
		logger:  logger,
		tracer:  observability.Tracer("reconcile"),
	}
}

// Entries сетевой список предметов контейнера
func (r *Reconciler) Entries(container *model.Object) []inventory.Entry {
	ids := container.Container.Items.IDs()
	out := make([]inventory.Entry, 0, len(ids))
	for _, id := range ids {
		item, ok := r.factory.Get(id)
		if !ok || item.Item == nil {
			continue
		}
		out = append(out, inventory.Entry{
			ID:        id,
			Base:      item.Base.Get(),
			Count:     item.Item.Count.Get(),
			Condition: item.Item.Condition.Get(),
			Equipped:  item.Item.Equipped.Get(),
			Silent:    item.Item.Silent.Get(),
			Stick:     item.Item.Stick.Get(),
		})
	}
	return out
}

// Reconcile сверяет контейнер со снимком движка. Если дельты количества
// объяснены экипировкой, пакет уходит сразу; иначе разбор продолжается в
// фоне под арендой контейнера.
func (r *Reconciler) Reconcile(ctx context.Context, container *model.Object, snapshot []inventory.Entry) (Outcome, error) {
	if container.Container == nil {
		return OutcomeSkipped, errors.New("not a container: " + container.String())
	}

	key, ok := container.Lock().TryLock()
	if !ok {
		r.logger.Debug("Контейнер %s уже сверяется, пропуск", container)
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		return OutcomeSkipped, nil
	}

	ndiff, deltas := r.diff(container, snapshot)
	if len(deltas) == 0 {
		defer container.Lock().Unlock(key)
		metrics.ReconcileRuns.WithLabelValues("direct").Inc()
		if ndiff.Empty() {
			return OutcomeDirect, nil
		}
		return OutcomeDirect, r.broadcast(ctx, container.ID(), transport.ContainerPayload{Diff: ndiff})
	}

	metrics.ReconcileRuns.WithLabelValues("deferred").Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer container.Lock().Unlock(key)
		r.resolve(context.WithoutCancel(ctx), container, ndiff, deltas)
	}()
	return OutcomeDeferred, nil
}

// Wait дожидается завершения фоновых задач
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// diff шаги 1-2: сетевая разница, применение к модели и ненулевые дельты
func (r *Reconciler) diff(container *model.Object, snapshot []inventory.Entry) (inventory.Diff, []inventory.ItemDelta) {
	cur := r.Entries(container)
	d := inventory.Compare(cur, snapshot)
	deltas := inventory.NonZero(inventory.GameDiff(cur, d))
	return r.applyNet(container, d), deltas
}

// applyNet переносит разницу в модель; новым слотам присваиваются сетевые id
func (r *Reconciler) applyNet(container *model.Object, d inventory.Diff) inventory.Diff {
	for _, id := range d.Removed {
		container.Container.Items.Remove(id)
		r.factory.Destroy(id)
	}
	added := make([]inventory.Entry, 0, len(d.Added))
	for _, e := range d.Added {
		item := r.factory.Create(0, model.KindItem, 0, e.Base)
		item.Item.Count.Set(e.Count)
		item.Item.Condition.Set(e.Condition)
		item.Item.Equipped.Set(e.Equipped)
		item.Item.Silent.Set(e.Silent)
		item.Item.Stick.Set(e.Stick)
		item.Item.Holder.Set(container.ID())
		container.Container.Items.Add(item.ID())
		e.ID = item.ID()
		added = append(added, e)
	}
	if len(added) == 0 {
		added = nil
	}
	return inventory.Diff{Removed: d.Removed, Added: added}
}

// ApplyRemote переносит в модель разницу, пришедшую с сервера, и
// возвращает дельты, которые нужно повторить в движке. Новые слоты
// сохраняют сетевые id сервера. Ждет аренду контейнера.
func (r *Reconciler) ApplyRemote(ctx context.Context, container *model.Object, d inventory.Diff) ([]inventory.ItemDelta, error) {
	if container.Container == nil {
		return nil, errors.New("not a container: " + container.String())
	}
	key, err := container.Lock().Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer container.Lock().Unlock(key)

	deltas := inventory.GameDiff(r.Entries(container), d)
	for _, id := range d.Removed {
		container.Container.Items.Remove(id)
		r.factory.Destroy(id)
	}
	for _, e := range d.Added {
		item := r.factory.Create(e.ID, model.KindItem, 0, e.Base)
		item.Item.Count.Set(e.Count)
		item.Item.Condition.Set(e.Condition)
		item.Item.Equipped.Set(e.Equipped)
		item.Item.Silent.Set(e.Silent)
		item.Item.Stick.Set(e.Stick)
		item.Item.Holder.Set(container.ID())
		container.Container.Items.Add(item.ID())
	}
	return deltas, nil
}

func (r *Reconciler) broadcast(ctx context.Context, id model.NetworkID, payload transport.ContainerPayload) error {
	return r.out.Broadcast(ctx, transport.Ordered(transport.PacketUpdateContainer, id, payload))
}

// resolve шаги 4-7
func (r *Reconciler) resolve(ctx context.Context, container *model.Object, ndiff inventory.Diff, deltas []inventory.ItemDelta) {
	ctx, span := r.tracer.Start(ctx, "reconcile.container", trace.WithAttributes(
		attribute.Int64("container.id", int64(container.ID())),
		attribute.Int("deltas", len(deltas)),
	))
	defer span.End()

	cell := container.GameCell.Get()
	deltas = r.netSiblings(ctx, container, cell, deltas)

	payload := transport.ContainerPayload{Diff: ndiff}
	if len(deltas) > 0 {
		scan, err := r.scene.ScanCell(ctx, cell, interest.CategoryItem)
		if err != nil {
			r.logger.Warn("⚠️ Сканирование ячейки %08X для %s: %v", uint32(cell), container, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "scan cell")
		} else {
			deltas = r.matchDrops(ctx, container, cell, scan.Appeared, deltas, &payload)
			deltas = r.matchPickups(scan.Disappeared, deltas, &payload)
		}
	}

	for _, d := range deltas {
		err := &UnresolvedDeltaError{Container: container.ID(), Base: d.Base, Count: d.Count}
		r.logger.Debug("%v", err)
		metrics.ReconcileUnresolved.Inc()
	}
	span.SetAttributes(
		attribute.Int("unresolved", len(deltas)),
		attribute.Int("created", len(payload.Created)),
		attribute.Int("destroyed", len(payload.Destroyed)),
	)

	if err := r.broadcast(ctx, container.ID(), payload); err != nil {
		r.logger.Warn("⚠️ Рассылка инвентаря %s: %v", container, err)
	}
}

// netSiblings взаимозачет с контейнерами той же ячейки. Дельты сближаются к
// нулю только при противоположных знаках и никогда не меняют знак.
func (r *Reconciler) netSiblings(ctx context.Context, container *model.Object, cell interest.CellID, deltas []inventory.ItemDelta) []inventory.ItemDelta {
	if cell == 0 {
		return deltas
	}
	for _, sibling := range r.factory.ByKind(interest.AllContainers) {
		if sibling.ID() == container.ID() || sibling.Container == nil || sibling.GameCell.Get() != cell || sibling.Ref() == 0 {
			continue
		}
		theirs := r.rescan(ctx, sibling)
		for i := range deltas {
			for j := range theirs {
				netPair(&deltas[i], &theirs[j])
			}
		}
	}
	return inventory.NonZero(deltas)
}

// rescan сверяет соседний контейнер синхронно и рассылает его дифф
func (r *Reconciler) rescan(ctx context.Context, sibling *model.Object) []inventory.ItemDelta {
	key, ok := sibling.Lock().TryLock()
	if !ok {
		return nil
	}
	defer sibling.Lock().Unlock(key)

	snapshot, err := r.scene.ContainerSnapshot(ctx, sibling)
	if err != nil {
		if !errors.Is(err, correlation.ErrCorrelationTimeout) {
			r.logger.Warn("⚠️ Снимок соседнего контейнера %s: %v", sibling, err)
		}
		return nil
	}
	ndiff, deltas := r.diff(sibling, snapshot)
	if !ndiff.Empty() {
		if err := r.broadcast(ctx, sibling.ID(), transport.ContainerPayload{Diff: ndiff}); err != nil {
			r.logger.Warn("⚠️ Рассылка инвентаря %s: %v", sibling, err)
		}
	}
	return deltas
}

func netPair(ours, theirs *inventory.ItemDelta) {
	if ours.Base != theirs.Base || ours.Count == 0 || theirs.Count == 0 {
		return
	}
	if (ours.Count > 0) == (theirs.Count > 0) {
		return
	}
	amount := abs32(ours.Count)
	if t := abs32(theirs.Count); t < amount {
		amount = t
	}
	if ours.Count > 0 {
		ours.Count -= amount
		theirs.Count += amount
	} else {
		ours.Count += amount
		theirs.Count -= amount
	}
}

type candidate struct {
	ref   interest.Ref
	count uint32
	item  *model.Object
}

func (r *Reconciler) pick(cands []candidate, target uint32) []candidate {
	sort.Slice(cands, func(i, j int) bool { return cands[i].ref < cands[j].ref })
	if len(cands) > r.cfg.MaxCandidates {
		r.logger.Debug("Кандидатов %d, перебор ограничен %d", len(cands), r.cfg.MaxCandidates)
		cands = cands[:r.cfg.MaxCandidates]
	}
	metrics.ReconcileCandidates.Observe(float64(len(cands)))

	counts := make([]uint32, len(cands))
	for i, c := range cands {
		counts[i] = c.count
	}
	idx := BestMatch(counts, target, r.cfg.MaxCandidates)
	out := make([]candidate, len(idx))
	for i, k := range idx {
		out[i] = cands[k]
	}
	return out
}

// matchDrops отрицательные дельты против появившихся в сцене ссылок
func (r *Reconciler) matchDrops(ctx context.Context, container *model.Object, cell interest.CellID, appeared []interest.Ref, deltas []inventory.ItemDelta, payload *transport.ContainerPayload) []inventory.ItemDelta {
	found := make(map[model.BaseID][]candidate)
	for _, ref := range appeared {
		if _, known := r.factory.Lookup(ref); known {
			continue
		}
		base, err := r.scene.BaseOf(ctx, ref)
		if err != nil {
			r.logger.Debug("Базовая форма %08X: %v", uint32(ref), err)
			continue
		}
		d := findDelta(deltas, base)
		if d == nil || d.Count >= 0 {
			continue
		}
		count, err := r.scene.RefCount(ctx, ref)
		if err != nil {
			r.logger.Debug("Количество %08X: %v", uint32(ref), err)
			continue
		}
		if int64(count)+int64(d.Count) <= 0 {
			found[base] = append(found[base], candidate{ref: ref, count: count})
		}
	}
	if len(found) == 0 {
		return deltas
	}

	pos := container.GamePos.Get().Offset(container.Angle.Get().Z, r.cfg.SpawnOffset)
	pos.Z = container.GamePos.Get().Z + r.cfg.SpawnLiftZ

	for _, base := range sortedBases(found) {
		d := findDelta(deltas, base)
		matched := r.pick(found[base], uint32(-d.Count))
		if len(matched) == 0 {
			r.logger.Debug("Нет набора для выброса %08X (кол-во %d)", uint32(base), -d.Count)
			continue
		}
		r.logger.Debug("Игрок выбросил %08X (кол-во %d, стеков %d)", uint32(base), -d.Count, len(matched))
		for _, c := range matched {
			item := r.factory.Create(0, model.KindItem, c.ref, base)
			item.GamePos.Set(pos)
			item.NetworkPos.Set(pos)
			item.GameCell.Set(cell)
			item.NetworkCell.Set(cell)
			item.Item.Count.Set(c.count)
			item.Item.Condition.Set(d.Condition)
			r.index.Track(c.ref, interest.CategoryItem, cell)

			payload.Created = append(payload.Created, transport.ObjectPayload{
				ID:        item.ID(),
				Kind:      model.KindItem,
				Base:      base,
				Cell:      cell,
				Pos:       pos,
				Count:     c.count,
				Condition: d.Condition,
			})
		}
		d.Count = 0
	}
	return inventory.NonZero(deltas)
}

// matchPickups положительные дельты против исчезнувших сетевых предметов
func (r *Reconciler) matchPickups(disappeared []interest.Ref, deltas []inventory.ItemDelta, payload *transport.ContainerPayload) []inventory.ItemDelta {
	found := make(map[model.BaseID][]candidate)
	for _, ref := range disappeared {
		item, ok := r.factory.Lookup(ref)
		if !ok || item.Item == nil {
			r.logger.Debug("Подбор: неизвестная ссылка %08X", uint32(ref))
			continue
		}
		base := item.Base.Get()
		d := findDelta(deltas, base)
		if d == nil || d.Count <= 0 {
			continue
		}
		count := item.Item.Count.Get()
		if int64(d.Count)-int64(count) >= 0 {
			found[base] = append(found[base], candidate{ref: ref, count: count, item: item})
		}
	}

	for _, base := range sortedBases(found) {
		d := findDelta(deltas, base)
		matched := r.pick(found[base], uint32(d.Count))
		if len(matched) == 0 {
			r.logger.Debug("Нет набора для подбора %08X (кол-во %d)", uint32(base), d.Count)
			continue
		}
		r.logger.Debug("Игрок подобрал %08X (кол-во %d, стеков %d)", uint32(base), d.Count, len(matched))
		for _, c := range matched {
			r.index.Untrack(c.ref)
			r.factory.Destroy(c.item.ID())
			payload.Destroyed = append(payload.Destroyed, c.item.ID())
		}
		d.Count = 0
	}
	return inventory.NonZero(deltas)
}

func findDelta(deltas []inventory.ItemDelta, base model.BaseID) *inventory.ItemDelta {
	for i := range deltas {
		if deltas[i].Base == base {
			return &deltas[i]
		}
	}
	return nil
}

func sortedBases(m map[model.BaseID][]candidate) []model.BaseID {
	out := make([]model.BaseID, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
