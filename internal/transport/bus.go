package transport

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/annel0/mmo-overlay/internal/eventbus"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/model"
)

// Приоритеты конвертов: последовательные обновления можно отбросить при перегрузке
const (
	prioritySequenced = 3
	priorityOrdered   = 9
)

// BusBroadcaster публикует пакеты в шину событий.
type BusBroadcaster struct {
	bus    eventbus.EventBus
	source string
	seq    uint64
	logger *logging.Logger
}

// NewBusBroadcaster source идентифицирует клиента в конвертах
func NewBusBroadcaster(bus eventbus.EventBus, source string, logger *logging.Logger) *BusBroadcaster {
	return &BusBroadcaster{bus: bus, source: source, logger: logger}
}

func (bb *BusBroadcaster) Broadcast(ctx context.Context, p Packet) error {
	payload, err := EncodePayload(p)
	if err != nil {
		return err
	}

	priority := priorityOrdered
	if p.Reliability == ReliableSequenced {
		priority = prioritySequenced
	}
	ev := eventbus.NewEnvelope(bb.source, p.Type.String(), priority, payload)
	ev.Sequence = atomic.AddUint64(&bb.seq, 1)
	ev.CorrelationID = strconv.FormatUint(uint64(p.ID), 16)
	ev.Metadata = map[string]string{"reliability": p.Reliability.String()}

	if err := bb.bus.Publish(ctx, ev); err != nil {
		bb.logger.Warn("⚠️ Публикация %s не удалась: %v", p, err)
		return err
	}
	countPacket(p)
	bb.logger.Trace("→ %s seq=%d", p, ev.Sequence)
	return nil
}

// PacketFromEnvelope восстанавливает пакет из конверта шины
func PacketFromEnvelope(ev *eventbus.Envelope) (Packet, error) {
	t := ParsePacketType(ev.EventType)
	id, err := strconv.ParseUint(ev.CorrelationID, 16, 64)
	if err != nil && ev.CorrelationID != "" {
		return Packet{}, err
	}
	payload, err := DecodePayload(t, ev.Payload)
	if err != nil {
		return Packet{}, err
	}
	rel := ReliableOrdered
	if ev.Metadata["reliability"] == ReliableSequenced.String() {
		rel = ReliableSequenced
	}
	return Packet{Type: t, ID: model.NetworkID(id), Payload: payload, Reliability: rel}, nil
}
