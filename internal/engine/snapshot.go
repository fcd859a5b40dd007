package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
)

// snapshotRecordSize упакованная запись {u32 base, u32 count, u32 equipped, f64 condition}
const snapshotRecordSize = 20

// SnapshotItem запись снимка инвентаря от движка
type SnapshotItem struct {
	Base      model.BaseID
	Count     uint32
	Equipped  bool
	Condition float64 // шкала движка [0,1]
}

// Entry переводит запись в слот инвентаря с состоянием в процентах
func (s SnapshotItem) Entry() inventory.Entry {
	return inventory.Entry{
		Base:      s.Base,
		Count:     s.Count,
		Equipped:  s.Equipped,
		Condition: FromEngineCondition(s.Condition),
	}
}

// DecodeSnapshot разбирает снимок контейнера (little-endian)
func DecodeSnapshot(data []byte) ([]SnapshotItem, error) {
	if len(data)%snapshotRecordSize != 0 {
		return nil, fmt.Errorf("snapshot size %d is not a multiple of %d", len(data), snapshotRecordSize)
	}

	items := make([]SnapshotItem, 0, len(data)/snapshotRecordSize)
	for off := 0; off < len(data); off += snapshotRecordSize {
		rec := data[off : off+snapshotRecordSize]
		items = append(items, SnapshotItem{
			Base:      model.BaseID(binary.LittleEndian.Uint32(rec[0:4])),
			Count:     binary.LittleEndian.Uint32(rec[4:8]),
			Equipped:  binary.LittleEndian.Uint32(rec[8:12]) != 0,
			Condition: math.Float64frombits(binary.LittleEndian.Uint64(rec[12:20])),
		})
	}
	return items, nil
}

// EncodeSnapshot упаковывает снимок в формат движка
func EncodeSnapshot(items []SnapshotItem) []byte {
	out := make([]byte, len(items)*snapshotRecordSize)
	for i, it := range items {
		rec := out[i*snapshotRecordSize : (i+1)*snapshotRecordSize]
		binary.LittleEndian.PutUint32(rec[0:4], uint32(it.Base))
		binary.LittleEndian.PutUint32(rec[4:8], it.Count)
		if it.Equipped {
			binary.LittleEndian.PutUint32(rec[8:12], 1)
		}
		binary.LittleEndian.PutUint64(rec[12:20], math.Float64bits(it.Condition))
	}
	return out
}

// SnapshotEntries разбирает снимок сразу в слоты инвентаря
func SnapshotEntries(data []byte) ([]inventory.Entry, error) {
	items, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	entries := make([]inventory.Entry, len(items))
	for i, it := range items {
		entries[i] = it.Entry()
	}
	return entries, nil
}
