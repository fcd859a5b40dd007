package engine

import (
	"fmt"
)

// Opcode команда моста движка
type Opcode uint16

const (
	OpUnknown Opcode = iota

	// размещение и жизненный цикл
	OpPlaceAtMe
	OpPlaceAtMeHealthPercent
	OpEnable
	OpDisable
	OpMarkForDelete
	OpMoveTo
	OpForceRespawn

	// позиция и ячейка
	OpGetPos
	OpSetPos
	OpGetAngle
	OpSetAngle
	OpGetParentCell

	// актеры
	OpGetActorValue
	OpGetBaseActorValue
	OpSetActorValue
	OpForceActorValue
	OpGetActorState
	OpPlayGroup
	OpSetAlert
	OpSetForceSneak
	OpGetDead
	OpIsLimbGone
	OpGetCauseOfDeath
	OpKill
	OpFireWeapon
	OpMatchRace
	OpSetSex
	OpAgeRace
	OpSetRestrained

	// предметы и контейнеры
	OpAddItem
	OpRemoveItem
	OpEquipItem
	OpUnequipItem
	OpRemoveAllItemsEx
	OpScanContainer
	OpGetRefCount
	OpSetRefCount
	OpGetBaseObject
	OpGetLocked
	OpLock
	OpUnlock
	OpSetOwnership
	OpSetName

	// обход сцены
	OpGetFirstRef
	OpGetNextRef

	// игрок и окружение
	OpGetControl
	OpDisableControl
	OpEnableControl
	OpDisablePlayerControls
	OpEnablePlayerControls
	OpUIMessage
	OpGUIChat
	OpChatMessage
	OpSetGlobalValue
	OpForceWeather
	OpLoad
	OpCenterOnCell
	OpCenterOnExterior
	OpCenterOnWorld

	opCount
)

var opcodeNames = [...]string{
	OpUnknown:                "Unknown",
	OpPlaceAtMe:              "PlaceAtMe",
	OpPlaceAtMeHealthPercent: "PlaceAtMeHealthPercent",
	OpEnable:                 "Enable",
	OpDisable:                "Disable",
	OpMarkForDelete:          "MarkForDelete",
	OpMoveTo:                 "MoveTo",
	OpForceRespawn:           "ForceRespawn",
	OpGetPos:                 "GetPos",
	OpSetPos:                 "SetPos",
	OpGetAngle:               "GetAngle",
	OpSetAngle:               "SetAngle",
	OpGetParentCell:          "GetParentCell",
	OpGetActorValue:          "GetActorValue",
	OpGetBaseActorValue:      "GetBaseActorValue",
	OpSetActorValue:          "SetActorValue",
	OpForceActorValue:        "ForceActorValue",
	OpGetActorState:          "GetActorState",
	OpPlayGroup:              "PlayGroup",
	OpSetAlert:               "SetAlert",
	OpSetForceSneak:          "SetForceSneak",
	OpGetDead:                "GetDead",
	OpIsLimbGone:             "IsLimbGone",
	OpGetCauseOfDeath:        "GetCauseofDeath",
	OpKill:                   "Kill",
	OpFireWeapon:             "FireWeapon",
	OpMatchRace:              "MatchRace",
	OpSetSex:                 "SexChange",
	OpAgeRace:                "AgeRace",
	OpSetRestrained:          "SetRestrained",
	OpAddItem:                "AddItem",
	OpRemoveItem:             "RemoveItem",
	OpEquipItem:              "EquipItem",
	OpUnequipItem:            "UnequipItem",
	OpRemoveAllItemsEx:       "RemoveAllItemsEx",
	OpScanContainer:          "ScanContainer",
	OpGetRefCount:            "GetRefCount",
	OpSetRefCount:            "SetRefCount",
	OpGetBaseObject:          "GetBaseObject",
	OpGetLocked:              "GetLocked",
	OpLock:                   "Lock",
	OpUnlock:                 "Unlock",
	OpSetOwnership:           "SetOwnership",
	OpSetName:                "SetName",
	OpGetFirstRef:            "GetFirstRef",
	OpGetNextRef:             "GetNextRef",
	OpGetControl:             "GetControl",
	OpDisableControl:         "DisableControl",
	OpEnableControl:          "EnableControl",
	OpDisablePlayerControls:  "DisablePlayerControls",
	OpEnablePlayerControls:   "EnablePlayerControls",
	OpUIMessage:              "UIMessage",
	OpGUIChat:                "GUIChat",
	OpChatMessage:            "ChatMessage",
	OpSetGlobalValue:         "SetGlobalValue",
	OpForceWeather:           "ForceWeather",
	OpLoad:                   "Load",
	OpCenterOnCell:           "CenterOnCell",
	OpCenterOnExterior:       "CenterOnExterior",
	OpCenterOnWorld:          "CenterOnWorld",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = Opcode(op)
	}
	return m
}()

// String имя команды в таблице движка
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint16(op))
}

// Known сообщает, есть ли команда в таблице
func (op Opcode) Known() bool {
	return op > OpUnknown && op < opCount
}

// ParseOpcode находит команду по имени
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok && op != OpUnknown
}

// MarshalText кодирует команду именем
func (op Opcode) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// UnmarshalText разбирает имя команды. Неизвестные имена не ошибка:
// решение о них принимает диспетчер.
func (op *Opcode) UnmarshalText(text []byte) error {
	if parsed, ok := ParseOpcode(string(text)); ok {
		*op = parsed
		return nil
	}
	*op = OpUnknown
	return nil
}
