// Package transport доставляет сетевые пакеты клиента: шина событий, KCP,
// пакетирование частых обновлений.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/mmo-overlay/internal/metrics"
	"github.com/annel0/mmo-overlay/internal/model"
)

// PacketType тип сетевого пакета
type PacketType uint8

const (
	PacketUnknown PacketType = iota
	PacketUpdatePos
	PacketUpdateAngle
	PacketUpdateCell
	PacketUpdateState
	PacketUpdateValue
	PacketUpdateDead
	PacketUpdateContainer
	PacketUpdateLock
	PacketUpdateControl
	PacketUpdateFireWeapon
	PacketChat
	PacketObjectNew
	PacketObjectRemove
	PacketUpdateContext
	PacketUpdateInterior
	PacketUpdateExterior
	packetCount
)

var packetNames = [...]string{
	PacketUnknown:          "Unknown",
	PacketUpdatePos:        "UpdatePos",
	PacketUpdateAngle:      "UpdateAngle",
	PacketUpdateCell:       "UpdateCell",
	PacketUpdateState:      "UpdateState",
	PacketUpdateValue:      "UpdateValue",
	PacketUpdateDead:       "UpdateDead",
	PacketUpdateContainer:  "UpdateContainer",
	PacketUpdateLock:       "UpdateLock",
	PacketUpdateControl:    "UpdateControl",
	PacketUpdateFireWeapon: "UpdateFireWeapon",
	PacketChat:             "Chat",
	PacketObjectNew:        "ObjectNew",
	PacketObjectRemove:     "ObjectRemove",
	PacketUpdateContext:    "UpdateContext",
	PacketUpdateInterior:   "UpdateInterior",
	PacketUpdateExterior:   "UpdateExterior",
}

func (t PacketType) String() string {
	if t < packetCount {
		return packetNames[t]
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// ParsePacketType обратное к String; неизвестные имена дают PacketUnknown
func ParsePacketType(name string) PacketType {
	for i, n := range packetNames {
		if n == name {
			return PacketType(i)
		}
	}
	return PacketUnknown
}

// Reliability класс доставки
type Reliability uint8

const (
	// ReliableOrdered авторитетное состояние: инвентарь, смерть, значения
	ReliableOrdered Reliability = iota
	// ReliableSequenced частые обновления: устаревшие можно пропустить
	ReliableSequenced
)

func (r Reliability) String() string {
	switch r {
	case ReliableOrdered:
		return "ordered"
	case ReliableSequenced:
		return "sequenced"
	}
	return fmt.Sprintf("Reliability(%d)", uint8(r))
}

// Packet сетевой пакет об объекте
type Packet struct {
	Type        PacketType
	ID          model.NetworkID
	Payload     any
	Reliability Reliability
}

// Ordered пакет с упорядоченной доставкой
func Ordered(t PacketType, id model.NetworkID, payload any) Packet {
	return Packet{Type: t, ID: id, Payload: payload, Reliability: ReliableOrdered}
}

// Sequenced пакет с последовательной доставкой
func Sequenced(t PacketType, id model.NetworkID, payload any) Packet {
	return Packet{Type: t, ID: id, Payload: payload, Reliability: ReliableSequenced}
}

func (p Packet) String() string {
	return fmt.Sprintf("%s(%016X, %s)", p.Type, uint64(p.ID), p.Reliability)
}

// Broadcaster отправляет пакет всем участникам сессии
type Broadcaster interface {
	Broadcast(ctx context.Context, p Packet) error
}

// BroadcasterFunc адаптер функции к Broadcaster
type BroadcasterFunc func(ctx context.Context, p Packet) error

func (f BroadcasterFunc) Broadcast(ctx context.Context, p Packet) error { return f(ctx, p) }

// Discard отбрасывает пакеты
var Discard Broadcaster = BroadcasterFunc(func(context.Context, Packet) error { return nil })

// Fanout рассылает пакет по всем получателям, ошибки объединяются
type Fanout []Broadcaster

func (f Fanout) Broadcast(ctx context.Context, p Packet) error {
	var errs []error
	for _, b := range f {
		if err := b.Broadcast(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func countPacket(p Packet) {
	metrics.BroadcastPackets.WithLabelValues(p.Type.String(), p.Reliability.String()).Inc()
}
