package inventory

import (
	"sort"

	"github.com/annel0/mmo-overlay/internal/model"
)

// Entry значение одного слота инвентаря
type Entry struct {
	ID        model.NetworkID `json:"id"`
	Base      model.BaseID    `json:"base"`
	Count     uint32          `json:"count"`
	Condition float64         `json:"condition"` // проценты [0,100]
	Equipped  bool            `json:"equipped"`
	Silent    bool            `json:"silent,omitempty"`
	Stick     bool            `json:"stick,omitempty"`
}

// sameSlot сравнение по значению, а не по экземпляру
func (e Entry) sameSlot(o Entry) bool {
	return e.Base == o.Base && e.Count == o.Count && e.Equipped == o.Equipped && e.Condition == o.Condition
}

// Diff сетевая разница списка: удаленные экземпляры и новые слоты
type Diff struct {
	Removed []model.NetworkID `json:"removed,omitempty"`
	Added   []Entry           `json:"added,omitempty"`
}

// Empty сообщает, что разницы нет
func (d Diff) Empty() bool { return len(d.Removed) == 0 && len(d.Added) == 0 }

// ItemDelta разница по базовому типу для зеркалирования в движке
type ItemDelta struct {
	Base      model.BaseID `json:"base"`
	Count     int32        `json:"count"`
	Condition float64      `json:"condition"`
	Equipped  int32        `json:"equipped"` // знаковое число экипированных слотов
	Silent    bool         `json:"silent,omitempty"`
	Stick     bool         `json:"stick,omitempty"`
}

// Compare вычисляет разницу cur -> target по значениям слотов
func Compare(cur, target []Entry) Diff {
	matched := make([]bool, len(cur))
	var d Diff

	for _, t := range target {
		found := false
		for i, c := range cur {
			if !matched[i] && c.sameSlot(t) {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			d.Added = append(d.Added, t)
		}
	}
	for i, c := range cur {
		if !matched[i] {
			d.Removed = append(d.Removed, c.ID)
		}
	}
	return d
}

// Apply применяет разницу к списку и возвращает новый список
func Apply(cur []Entry, d Diff) []Entry {
	removed := make(map[model.NetworkID]int, len(d.Removed))
	for _, id := range d.Removed {
		removed[id]++
	}

	out := make([]Entry, 0, len(cur)+len(d.Added))
	for _, e := range cur {
		if removed[e.ID] > 0 {
			removed[e.ID]--
			continue
		}
		out = append(out, e)
	}
	return append(out, d.Added...)
}

// GameDiff сворачивает разницу в дельты по базовым типам
func GameDiff(cur []Entry, d Diff) []ItemDelta {
	byID := make(map[model.NetworkID]Entry, len(cur))
	for _, e := range cur {
		byID[e.ID] = e
	}

	type acc struct {
		ItemDelta
		hasAdded   bool
		lastRemove float64
	}
	deltas := make(map[model.BaseID]*acc)
	get := func(base model.BaseID) *acc {
		a, ok := deltas[base]
		if !ok {
			a = &acc{ItemDelta: ItemDelta{Base: base}}
			deltas[base] = a
		}
		return a
	}

	for _, id := range d.Removed {
		e, ok := byID[id]
		if !ok {
			continue
		}
		a := get(e.Base)
		a.Count -= int32(e.Count)
		if e.Equipped {
			a.Equipped--
		}
		a.lastRemove = e.Condition
	}
	for _, e := range d.Added {
		a := get(e.Base)
		a.Count += int32(e.Count)
		if e.Equipped {
			a.Equipped++
		}
		a.Condition = e.Condition
		a.hasAdded = true
		a.Silent = a.Silent || e.Silent
		a.Stick = a.Stick || e.Stick
	}

	out := make([]ItemDelta, 0, len(deltas))
	for _, a := range deltas {
		if !a.hasAdded {
			a.Condition = a.lastRemove
		}
		if a.Count == 0 && a.Equipped == 0 && a.hasAdded && a.Condition == a.lastRemove {
			continue
		}
		out = append(out, a.ItemDelta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// NonZero оставляет только дельты с ненулевым количеством
func NonZero(deltas []ItemDelta) []ItemDelta {
	out := deltas[:0:0]
	for _, d := range deltas {
		if d.Count != 0 {
			out = append(out, d)
		}
	}
	return out
}
