package game

import "sync"

// uiState состояние ввода игрока между кадрами GetActorState/GetPos
type uiState struct {
	mu sync.Mutex

	chatOpen  bool
	quitArmed bool
	// две последние анимации оружия; движок иногда на кадр
	// возвращает Aim вместо AimIS
	weapon [2]uint8
	// позиция игрока изменилась по одной из осей в текущем кадре
	posDirty bool
}

func newUIState() uiState {
	return uiState{quitArmed: true, weapon: [2]uint8{AnimIdle, AnimIdle}}
}

// chatAction реакция на клавиши чата
type chatAction uint8

const (
	chatNone chatAction = iota
	chatOpened
	chatClosed
	chatQuit
)

// chatKeys переводит состояние клавиш чата
func (s *uiState) chatKeys(keys uint8) chatAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case keys == 0 && !s.chatOpen:
		s.quitArmed = true
	case keys == chatKeyOpen && !s.chatOpen:
		s.chatOpen = true
		s.quitArmed = false
		return chatOpened
	case keys&(chatKeyClose|chatKeySend) != 0 && s.chatOpen:
		s.chatOpen = false
		return chatClosed
	case keys == chatKeyClose && s.quitArmed:
		return chatQuit
	}
	return chatNone
}

// stableWeapon запоминает кадр и сообщает, совпал ли он с предыдущим
func (s *uiState) stableWeapon(anim uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weapon[0] = s.weapon[1]
	s.weapon[1] = anim
	return s.weapon[0] == s.weapon[1]
}

// markPos накапливает изменение позиции; flush сбрасывает и возвращает его
func (s *uiState) markPos(changed, flush bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posDirty = s.posDirty || changed
	if !flush || !s.posDirty {
		return false
	}
	s.posDirty = false
	return true
}
