package transport

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/inventory"
	"github.com/annel0/mmo-overlay/internal/model"
	"github.com/annel0/mmo-overlay/internal/vec"
)

// PosPayload позиция объекта
type PosPayload struct {
	Pos vec.Vec3 `json:"pos"`
}

// AnglePayload угол по оси (0=X, 1=Y, 2=Z)
type AnglePayload struct {
	Axis  uint8   `json:"axis"`
	Value float64 `json:"value"`
}

// CellPayload смена ячейки
type CellPayload struct {
	Cell interest.CellID `json:"cell"`
	Pos  vec.Vec3        `json:"pos"`
}

// StatePayload анимационное состояние актера
type StatePayload struct {
	Idle     uint32 `json:"idle"`
	Moving   uint8  `json:"moving"`
	MovingXY uint8  `json:"moving_xy"`
	Weapon   uint8  `json:"weapon"`
	Alerted  bool   `json:"alerted"`
	Sneaking bool   `json:"sneaking"`
	Firing   bool   `json:"firing,omitempty"`
}

// ValuePayload значение актера (базовое или текущее)
type ValuePayload struct {
	Base  bool    `json:"base"`
	Index uint8   `json:"index"`
	Value float64 `json:"value"`
}

// DeadPayload смерть или воскрешение актера
type DeadPayload struct {
	Dead  bool   `json:"dead"`
	Limbs uint16 `json:"limbs"`
	Cause int8   `json:"cause"`
}

// ContainerPayload изменение инвентаря: сетевой дифф и последствия сцены
type ContainerPayload struct {
	Diff      inventory.Diff    `json:"diff"`
	Created   []ObjectPayload   `json:"created,omitempty"`
	Destroyed []model.NetworkID `json:"destroyed,omitempty"`
}

// Empty нет ни изменений, ни последствий
func (c ContainerPayload) Empty() bool {
	return c.Diff.Empty() && len(c.Created) == 0 && len(c.Destroyed) == 0
}

// LockPayload уровень замка
type LockPayload struct {
	Level uint32 `json:"level"`
}

// ControlPayload привязка управления игрока
type ControlPayload struct {
	Control uint8  `json:"control"`
	Key     uint32 `json:"key"`
}

// FireWeaponPayload выстрел
type FireWeaponPayload struct {
	Weapon model.BaseID `json:"weapon"`
	// Rate выстрелов в секунду для автоматического оружия, 0: одиночный
	Rate float64 `json:"rate,omitempty"`
}

// ChatPayload сообщение чата
type ChatPayload struct {
	Message string `json:"message"`
}

// ObjectPayload описание созданного объекта
type ObjectPayload struct {
	ID        model.NetworkID `json:"id"`
	Kind      model.Kind      `json:"kind"`
	Base      model.BaseID    `json:"base"`
	Name      string          `json:"name,omitempty"`
	Cell      interest.CellID `json:"cell"`
	Pos       vec.Vec3        `json:"pos"`
	Angle     vec.Vec3        `json:"angle"`
	Count     uint32          `json:"count,omitempty"`
	Condition float64         `json:"condition,omitempty"`
}

// ContextPayload новый контекст игрока; первая ячейка та, где он стоит
type ContextPayload struct {
	Cells []interest.CellID `json:"cells"`
}

// InteriorPayload перенос игрока в интерьер по имени ячейки
type InteriorPayload struct {
	Cell  string `json:"cell"`
	Spawn bool   `json:"spawn,omitempty"`
}

// ExteriorPayload перенос игрока в клетку экстерьера. Нулевой World
// означает текущий мир
type ExteriorPayload struct {
	World model.BaseID `json:"world,omitempty"`
	X     int32        `json:"x"`
	Y     int32        `json:"y"`
	Spawn bool         `json:"spawn,omitempty"`
}

// EncodePayload сериализует полезную нагрузку пакета
func EncodePayload(p Packet) ([]byte, error) {
	if p.Payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type, err)
	}
	return data, nil
}

// DecodePayload восстанавливает полезную нагрузку по типу пакета
func DecodePayload(t PacketType, data []byte) (any, error) {
	var v any
	switch t {
	case PacketUpdatePos:
		v = &PosPayload{}
	case PacketUpdateAngle:
		v = &AnglePayload{}
	case PacketUpdateCell:
		v = &CellPayload{}
	case PacketUpdateState:
		v = &StatePayload{}
	case PacketUpdateValue:
		v = &ValuePayload{}
	case PacketUpdateDead:
		v = &DeadPayload{}
	case PacketUpdateContainer:
		v = &ContainerPayload{}
	case PacketUpdateLock:
		v = &LockPayload{}
	case PacketUpdateControl:
		v = &ControlPayload{}
	case PacketUpdateFireWeapon:
		v = &FireWeaponPayload{}
	case PacketChat:
		v = &ChatPayload{}
	case PacketObjectNew:
		v = &ObjectPayload{}
	case PacketUpdateContext:
		v = &ContextPayload{}
	case PacketUpdateInterior:
		v = &InteriorPayload{}
	case PacketUpdateExterior:
		v = &ExteriorPayload{}
	case PacketObjectRemove:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown packet type %s", t)
	}
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return v, nil
}
