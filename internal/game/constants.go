package game

import (
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/model"
)

// Постоянные идентификаторы движка
const (
	PlayerReference interest.Ref = 0x00000014
	PlayerBase      model.BaseID = 0x00000007

	PipBoy3000   model.BaseID = 0x00015038
	PipBoyGloves model.BaseID = 0x00025B83

	// CreatureRace раса существ: MatchRace и SexChange к ним не применяются
	CreatureRace model.BaseID = 0xFFFFFFFF
)

// MaxChatLength длина сообщения чата, больше не отправляется
const MaxChatLength = 64

// Оси координат и углов
const (
	AxisX uint8 = iota
	AxisY
	AxisZ
)

var axisNames = [...]string{AxisX: "X", AxisY: "Y", AxisZ: "Z"}

// FormType тип формы, по которому движок обходит ссылки ячейки
type FormType uint32

const (
	FormTypeInventory FormType = 0x65
	FormTypeActor     FormType = 0x3E
)

var formCategories = map[FormType]interest.Category{
	FormTypeInventory: interest.CategoryItem,
	FormTypeActor:     interest.CategoryActor,
}

func formTypeOf(cat interest.Category) (FormType, bool) {
	for ft, c := range formCategories {
		if c == cat {
			return ft, true
		}
	}
	return 0, false
}

// Группы анимаций
const (
	AnimIdle      uint8 = 0x00
	AnimEquip     uint8 = 0xA6
	AnimUnequip   uint8 = 0xA7
	AnimHolster   uint8 = 0xAF
	AnimAim       uint8 = 0x8E
	AnimAimUp     uint8 = 0x8F
	AnimAimDown   uint8 = 0x90
	AnimAimIS     uint8 = 0x91
	AnimAimISUp   uint8 = 0x92
	AnimAimISDown uint8 = 0x93

	// animUnknown движок не смог определить группу
	animUnknown uint8 = 0xFF
)

// Части тела в порядке опроса IsLimbGone. LimbWeapon последняя.
const (
	LimbTorso uint8 = iota
	LimbHead1
	LimbHead2
	LimbLeftArm1
	LimbLeftArm2
	LimbRightArm1
	LimbRightArm2
	LimbLeftLeg1
	LimbLeftLeg2
	LimbLeftLeg3
	LimbRightLeg1
	LimbRightLeg2
	LimbRightLeg3
	LimbBrain
	LimbWeapon
)

// LimbNone Kill без отделения конечностей
const LimbNone int32 = -1

// DeathNone причина смерти не задана
const DeathNone int8 = -1

// Клавиши чата в флагах GetActorState (биты после movingxy)
const (
	chatKeyOpen  uint8 = 0x01
	chatKeyClose uint8 = 0x02
	chatKeySend  uint8 = 0x04
)

// PlayerControls набор управлений для Enable/DisablePlayerControls
type PlayerControls struct {
	Movement bool
	PipBoy   bool
	Fighting bool
	POV      bool
	Looking  bool
	Rollover bool
	Sneaking bool
}

// AllControls все управления
var AllControls = PlayerControls{true, true, true, true, true, true, true}

// chatControls блокируются, пока открыт чат
var chatControls = PlayerControls{Movement: true, PipBoy: true, Fighting: true}

func (p PlayerControls) params() []any {
	return []any{p.Movement, p.PipBoy, p.Fighting, p.POV, p.Looking, p.Rollover, p.Sneaking}
}
