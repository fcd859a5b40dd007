package game

import (
	"sync"

	"github.com/annel0/mmo-overlay/internal/model"
)

// BaseRaceCache помнит расу, уже примененную к базовой форме.
// MatchRace меняет форму целиком, поэтому для всех актеров одной базы
// выполняется один раз.
type BaseRaceCache struct {
	mu    sync.Mutex
	races map[model.BaseID]model.BaseID
}

// NewBaseRaceCache создает пустой кэш
func NewBaseRaceCache() *BaseRaceCache {
	return &BaseRaceCache{races: make(map[model.BaseID]model.BaseID)}
}

// Apply выполняет fn, если раса для base еще не применялась.
// Возвращает true, если fn была вызвана. При ошибке fn прежняя запись
// восстанавливается, и следующий вызов повторит попытку.
func (c *BaseRaceCache) Apply(base, race model.BaseID, fn func() error) (bool, error) {
	c.mu.Lock()
	prev, had := c.races[base]
	if had && prev == race {
		c.mu.Unlock()
		return false, nil
	}
	c.races[base] = race
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		// запись могла смениться параллельным вызовом
		if c.races[base] == race {
			if had {
				c.races[base] = prev
			} else {
				delete(c.races, base)
			}
		}
		c.mu.Unlock()
		return true, err
	}
	return true, nil
}

// Clear забывает все примененные расы
func (c *BaseRaceCache) Clear() {
	c.mu.Lock()
	c.races = make(map[model.BaseID]model.BaseID)
	c.mu.Unlock()
}

// Len число запомненных баз
func (c *BaseRaceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.races)
}
